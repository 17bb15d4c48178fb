package iceberg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vadoid/iceberg-explorer/pkg/explorererrors"
	"github.com/Vadoid/iceberg-explorer/pkg/testutil"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name string
		want int
	}{
		{"v1.metadata.json", 1},
		{"v10.metadata.json", 10},
		{"v3.gz.metadata.json", 3},
		{"00012-8f7a1c2e-4b1d-4e8a-9f1e-1b2c3d4e5f60.metadata.json", 12},
		{"7-abc.metadata.json", 7},
		{"vx.metadata.json", -1},
		{"abc-1.metadata.json", -1},
		{"metadata.json", -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseVersion(tt.name))
		})
	}
}

func TestResolvePicksHighestNumericVersion(t *testing.T) {
	lake := testutil.NewLake(t)
	for _, v := range []struct {
		name    string
		current int64
	}{
		{"v1.metadata.json", 1},
		{"v10.metadata.json", 10},
		{"v2.metadata.json", 2},
	} {
		lake.PutJSON(metadataKey(v.name), testutil.Metadata("gs://lake/"+tablePath, v.current,
			testutil.Snapshot{ID: v.current, TimestampMs: 1700000000000}))
	}

	res, err := NewResolver(lake.Store, testutil.TestLogger(t)).Resolve(testutil.TestContext(t), testutil.Bucket, tablePath)
	require.NoError(t, err)

	assert.Equal(t, testutil.URI(metadataKey("v10.metadata.json")), res.MetadataFile)
	require.NotNil(t, res.Metadata.CurrentSnapshotID)
	assert.Equal(t, int64(10), *res.Metadata.CurrentSnapshotID)

	require.Len(t, res.Files, 3)
	for _, f := range res.Files {
		if f.File == res.MetadataFile {
			require.NotNil(t, f.CurrentSnapshotID)
			assert.Equal(t, "10", *f.CurrentSnapshotID)
			require.NotNil(t, f.PreviousMetadataFile)
			assert.Equal(t, "gs://lake/"+tablePath+"/metadata/v1.metadata.json", *f.PreviousMetadataFile)
			assert.Equal(t, 10, f.Version)
			assert.Positive(t, f.TimestampMs)
			continue
		}
		assert.Nil(t, f.CurrentSnapshotID)
		assert.Nil(t, f.PreviousMetadataFile)
	}
}

func TestResolveKeepsSnapshotIDPrecision(t *testing.T) {
	lake := testutil.NewLake(t)
	writeChain(t, lake)

	res, err := NewResolver(lake.Store, nil).Resolve(testutil.TestContext(t), testutil.Bucket, "/"+tablePath+"/")
	require.NoError(t, err)

	require.Len(t, res.Metadata.Snapshots, 3)
	assert.Equal(t, aID, res.Metadata.Snapshots[1].SnapshotID)
	require.NotNil(t, res.Metadata.Snapshots[2].ParentSnapshotID)
	assert.Equal(t, aID, *res.Metadata.Snapshots[2].ParentSnapshotID)
	assert.Equal(t, "4", res.Metadata.Properties["commit.retry.num-retries"])
}

func TestResolveSearchesAlternativePrefixes(t *testing.T) {
	t.Run("no separator before metadata", func(t *testing.T) {
		lake := testutil.NewLake(t)
		lake.PutJSON(tablePath+"metadata/00003-uuid.metadata.json", testutil.Metadata("gs://lake/"+tablePath, 0))

		res, err := NewResolver(lake.Store, nil).Resolve(testutil.TestContext(t), testutil.Bucket, tablePath)
		require.NoError(t, err)
		assert.Equal(t, testutil.URI(tablePath+"metadata/00003-uuid.metadata.json"), res.MetadataFile)
		assert.Nil(t, res.Metadata.CurrentSnapshotID)
		assert.Equal(t, "-1", *res.Files[0].CurrentSnapshotID)
	})

	t.Run("broad search skips the directory check", func(t *testing.T) {
		lake := testutil.NewLake(t)
		lake.PutJSON(tablePath+"/v5.metadata.json", testutil.Metadata("gs://lake/"+tablePath, 0))

		res, err := NewResolver(lake.Store, nil).Resolve(testutil.TestContext(t), testutil.Bucket, tablePath)
		require.NoError(t, err)
		assert.Equal(t, testutil.URI(tablePath+"/v5.metadata.json"), res.MetadataFile)
	})

	t.Run("metadata directory wins over the broad search", func(t *testing.T) {
		lake := testutil.NewLake(t)
		lake.PutJSON(tablePath+"/v9.metadata.json", testutil.Metadata("gs://lake/"+tablePath, 0))
		lake.PutJSON(metadataKey("v2.metadata.json"), testutil.Metadata("gs://lake/"+tablePath, 0))

		res, err := NewResolver(lake.Store, nil).Resolve(testutil.TestContext(t), testutil.Bucket, tablePath)
		require.NoError(t, err)
		assert.Equal(t, testutil.URI(metadataKey("v2.metadata.json")), res.MetadataFile)
		assert.Len(t, res.Files, 1)
	})
}

func TestResolveUnversionedFallsBackToNewest(t *testing.T) {
	lake := testutil.NewLake(t)
	lake.PutJSON(metadataKey("current.metadata.json"), testutil.Metadata("gs://lake/"+tablePath, 0))

	res, err := NewResolver(lake.Store, nil).Resolve(testutil.TestContext(t), testutil.Bucket, tablePath)
	require.NoError(t, err)
	assert.Equal(t, -1, res.Files[0].Version)
	assert.Equal(t, testutil.URI(metadataKey("current.metadata.json")), res.MetadataFile)
}

func TestResolveNotFoundListsNearbyFiles(t *testing.T) {
	lake := testutil.NewLake(t)
	lake.Put(tablePath+"/data/part-0.parquet", []byte("x"))

	_, err := NewResolver(lake.Store, nil).Resolve(testutil.TestContext(t), testutil.Bucket, tablePath)
	require.Error(t, err)
	assert.True(t, explorererrors.IsType(err, explorererrors.ErrorTypeNotFound))

	details := explorererrors.DetailsOf(err)
	assert.Equal(t, []string{tablePath + "/metadata/", tablePath + "/metadata", tablePath + "metadata/"}, details["searched_prefixes"])
	assert.Equal(t, []string{tablePath + "/data/part-0.parquet"}, details["nearby_files"])
	assert.Equal(t, "table path", details["nearby_source"])
}

func TestResolveNotFoundFallsBackToParentListing(t *testing.T) {
	lake := testutil.NewLake(t)
	lake.Put("warehouse/customers/data/part-0.parquet", []byte("x"))

	_, err := NewResolver(lake.Store, nil).Resolve(testutil.TestContext(t), testutil.Bucket, tablePath)
	require.Error(t, err)
	details := explorererrors.DetailsOf(err)
	assert.Equal(t, []string{"warehouse/customers/data/part-0.parquet"}, details["nearby_files"])
	assert.Equal(t, "parent directory", details["nearby_source"])
}

func TestResolveInvalidBodyIsParseError(t *testing.T) {
	lake := testutil.NewLake(t)
	lake.PutJSON(metadataKey("v1.metadata.json"), testutil.Metadata("gs://lake/"+tablePath, 0))
	lake.Put(metadataKey("v2.metadata.json"), []byte(`{"format-version": 2, "snapshots": `))

	_, err := NewResolver(lake.Store, nil).Resolve(testutil.TestContext(t), testutil.Bucket, tablePath)
	require.Error(t, err)
	assert.True(t, explorererrors.IsType(err, explorererrors.ErrorTypeParse))
	assert.Equal(t, testutil.URI(metadataKey("v2.metadata.json")), explorererrors.DetailsOf(err)["file"])
}

func TestResolveWrongShapeIsParseError(t *testing.T) {
	lake := testutil.NewLake(t)
	lake.Put(metadataKey("v1.metadata.json"), []byte(`["not", "metadata"]`))

	_, err := NewResolver(lake.Store, nil).Resolve(testutil.TestContext(t), testutil.Bucket, tablePath)
	require.Error(t, err)
	assert.True(t, explorererrors.IsType(err, explorererrors.ErrorTypeParse))
}
