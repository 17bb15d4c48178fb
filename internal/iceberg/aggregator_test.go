package iceberg

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/Vadoid/iceberg-explorer/pkg/explorererrors"
	jsonpkg "github.com/Vadoid/iceberg-explorer/pkg/json"
	"github.com/Vadoid/iceberg-explorer/pkg/testutil"
)

type AggregatorSuite struct {
	testutil.LakeSuite
	c components
}

func TestAggregatorSuite(t *testing.T) {
	suite.Run(t, new(AggregatorSuite))
}

func (s *AggregatorSuite) SetupTest() {
	s.LakeSuite.SetupTest()
	writeChain(s.T(), s.Lake)
	s.c = newComponents(s.T(), s.Lake)
}

func (s *AggregatorSuite) TestDeltaAgainstParent() {
	analysis, err := s.c.aggregator.Analyze(s.Context(), testutil.Bucket, tablePath)
	s.Require().NoError(err)
	s.Require().Len(analysis.Snapshots, 3)

	root, a, b := analysis.Snapshots[0], analysis.Snapshots[1], analysis.Snapshots[2]

	s.Equal(int64(0), root.Statistics.FileCount)
	s.Equal(SnapshotDelta{}, root.Statistics.Delta)
	s.Nil(root.ParentSnapshotID)

	s.Equal(int64(5), a.Statistics.FileCount)
	s.Equal(int64(500), a.Statistics.RecordCount)
	s.Equal(SnapshotDelta{AddedFiles: 5, AddedRecords: 500, AddedSize: 5000}, a.Statistics.Delta)

	s.Equal(int64(8), b.Statistics.FileCount)
	s.Equal(int64(900), b.Statistics.RecordCount)
	s.Equal(SnapshotDelta{AddedFiles: 3, AddedRecords: 400, AddedSize: 3600}, b.Statistics.Delta)
	s.Require().NotNil(b.ParentSnapshotID)
	s.Equal("9007199254740995", *b.ParentSnapshotID)
}

func (s *AggregatorSuite) TestTimelineFields() {
	analysis, err := s.c.aggregator.Analyze(s.Context(), testutil.Bucket, tablePath)
	s.Require().NoError(err)

	b := analysis.Snapshots[2]
	s.Equal("9007199254740997", b.SnapshotID)
	s.Equal(int64(3), b.SequenceNumber)
	s.Equal("2023-11-14T22:16:40Z", b.Timestamp)
	s.Equal("append", b.Summary["operation"])
	s.Equal(testutil.URI(metadataKey("snap-b.avro")), b.ManifestList)

	s.Equal("9007199254740997", analysis.CurrentSnapshotID)
}

func (s *AggregatorSuite) TestTableDescription() {
	analysis, err := s.c.aggregator.Analyze(s.Context(), testutil.Bucket, tablePath)
	s.Require().NoError(err)

	s.Equal("orders", analysis.TableName)
	s.Equal("gs://lake/warehouse/orders", analysis.Location)
	s.Equal(2, analysis.FormatVersion)
	s.Equal(testutil.URI(metadataKey("v1.metadata.json")), analysis.MetadataFile)
	s.Len(analysis.MetadataFiles, 1)
	s.Require().Len(analysis.MetadataLog, 1)
	s.Equal("2023-07-22T04:26:40Z", analysis.MetadataLog[0].Timestamp)
	s.Equal("parquet", analysis.Properties["write.format.default"])

	s.Require().Len(analysis.Schema, 4)
	s.Equal("long", analysis.Schema[0].Type)
	s.True(analysis.Schema[0].Required)
	s.Require().NotNil(analysis.Schema[0].Doc)
	s.Equal("primary key", *analysis.Schema[0].Doc)
	s.Equal("list<string>", analysis.Schema[1].Type)
	s.Equal("map<string,long>", analysis.Schema[2].Type)
	s.False(analysis.Schema[3].Required)

	s.Equal([]PartitionField{{FieldID: 1000, SourceID: 4, Name: "category", Transform: "identity"}}, analysis.PartitionSpec)
	s.Equal([]SortField{{SourceID: 1, Transform: "identity", Direction: "desc", NullOrder: "nulls-last"}}, analysis.SortOrder)
}

func (s *AggregatorSuite) TestRollupCountsEverySnapshot() {
	analysis, err := s.c.aggregator.Analyze(s.Context(), testutil.Bucket, tablePath)
	s.Require().NoError(err)

	// 0 + 5 + 8 files, not deduplicated across snapshots
	s.Len(analysis.DataFiles, 13)
	s.Equal(TableStatistics{TotalFiles: 13, TotalRecords: 1400, TotalSize: 13600, TotalPartitions: 3}, analysis.Statistics)

	s.Require().Len(analysis.PartitionStats, 3)
	first := analysis.PartitionStats[0]
	s.Equal(StringValue("a"), first.Partition["category"])
	s.Equal(int64(7), first.FileCount)
	s.Equal(int64(700), first.RecordCount)
}

func (s *AggregatorSuite) TestAnalysisJSONKeepsIDsAsStrings() {
	analysis, err := s.c.aggregator.Analyze(s.Context(), testutil.Bucket, tablePath)
	s.Require().NoError(err)

	data, err := jsonpkg.Marshal(analysis)
	s.Require().NoError(err)
	s.Contains(string(data), `"currentSnapshotId":"9007199254740997"`)
	s.Contains(string(data), `"partition":{"category":"a"}`)
}

func (s *AggregatorSuite) TestMissingTableIsNotFound() {
	_, err := s.c.aggregator.Analyze(s.Context(), testutil.Bucket, "warehouse/missing")
	s.Require().Error(err)
	s.True(explorererrors.IsType(err, explorererrors.ErrorTypeNotFound))
}

func (s *AggregatorSuite) TestTableWithoutSnapshotsReportsMinusOne() {
	const emptyPath = "warehouse/empty"
	s.Lake.PutJSON(emptyPath+"/metadata/v1.metadata.json", testutil.Metadata("gs://lake/"+emptyPath, 0))

	analysis, err := s.c.aggregator.Analyze(s.Context(), testutil.Bucket, emptyPath)
	s.Require().NoError(err)
	s.Equal("-1", analysis.CurrentSnapshotID)
	s.Require().Len(analysis.MetadataFiles, 1)
	s.Equal(analysis.CurrentSnapshotID, *analysis.MetadataFiles[0].CurrentSnapshotID)
	s.Empty(analysis.Snapshots)
}

func (s *AggregatorSuite) TestUnreadableManifestListOnlyAffectsItsSnapshot() {
	s.Lake.Put(metadataKey("snap-a.avro"), []byte("corrupt"))

	analysis, err := s.c.aggregator.Analyze(s.Context(), testutil.Bucket, tablePath)
	s.Require().NoError(err)

	a, b := analysis.Snapshots[1], analysis.Snapshots[2]
	s.Equal(int64(0), a.Statistics.FileCount)
	s.Equal(int64(8), b.Statistics.FileCount)
	s.Equal(int64(8), b.Statistics.Delta.AddedFiles)
}

func (s *AggregatorSuite) TestCancelledContextFails() {
	ctx, cancel := context.WithCancel(s.Context())
	cancel()

	analysis, err := s.c.aggregator.Analyze(ctx, testutil.Bucket, tablePath)
	s.Error(err)
	s.Nil(analysis)
}

func (s *AggregatorSuite) TestManifestTreePartitioned() {
	tree, err := s.c.aggregator.ManifestTree(s.Context(), testutil.Bucket, tablePath, nil)
	s.Require().NoError(err)

	s.Require().NotNil(tree.SnapshotID)
	s.Equal("9007199254740997", *tree.SnapshotID)
	s.True(tree.Partitioned)
	s.Require().Len(tree.Manifests, 2)

	m := tree.Manifests[0]
	s.Equal(testutil.URI(metadataKey("m-a.avro")), m.Path)
	s.Equal(int64(4096), m.Length)
	s.Equal(5, m.DataFileCount)
	s.Equal(2, m.TotalPartitionCount)
	s.Require().Len(m.Partitions, 2)
	s.Equal("category=a", m.Partitions[0].Name)
	s.Equal(3, m.Partitions[0].FileCount)
	s.Equal("category=b", m.Partitions[1].Name)
}

func (s *AggregatorSuite) TestManifestTreeForSnapshot() {
	id := aID
	tree, err := s.c.aggregator.ManifestTree(s.Context(), testutil.Bucket, tablePath, &id)
	s.Require().NoError(err)
	s.Len(tree.Manifests, 1)

	missing := int64(42)
	_, err = s.c.aggregator.ManifestTree(s.Context(), testutil.Bucket, tablePath, &missing)
	s.Require().Error(err)
	s.True(explorererrors.IsType(err, explorererrors.ErrorTypeNotFound))
	s.Equal("42", explorererrors.DetailsOf(err)["snapshot_id"])
}

func TestManifestTreeUnpartitioned(t *testing.T) {
	lake := testutil.NewLake(t)
	var files []testutil.DataFile
	for i := 0; i < 12; i++ {
		files = append(files, testutil.DataFile{Status: 1, Path: dataPath("x", i), RecordCount: 1})
	}
	lake.PutManifest(metadataKey("m.avro"), files...)
	lake.PutManifestList(metadataKey("list.avro"), testutil.ManifestFile{Path: testutil.URI(metadataKey("m.avro"))})

	md := testutil.Metadata("gs://lake/"+tablePath, 7, testutil.Snapshot{ID: 7, ManifestList: testutil.URI(metadataKey("list.avro"))})
	md["partition-specs"] = []interface{}{map[string]interface{}{"spec-id": 0, "fields": []interface{}{}}}
	lake.PutJSON(metadataKey("v1.metadata.json"), md)

	c := newComponents(t, lake)
	tree, err := c.aggregator.ManifestTree(testutil.TestContext(t), testutil.Bucket, tablePath, nil)
	require.NoError(t, err)

	assert.False(t, tree.Partitioned)
	require.Len(t, tree.Manifests, 1)
	assert.Equal(t, 12, tree.Manifests[0].DataFileCount)
	assert.Len(t, tree.Manifests[0].DataFiles, 10)
	assert.Empty(t, tree.Manifests[0].Partitions)
}

func TestManifestTreeWithoutCurrentSnapshot(t *testing.T) {
	lake := testutil.NewLake(t)
	lake.PutJSON(metadataKey("v1.metadata.json"), testutil.Metadata("gs://lake/"+tablePath, 0))

	tree, err := newComponents(t, lake).aggregator.ManifestTree(testutil.TestContext(t), testutil.Bucket, tablePath, nil)
	require.NoError(t, err)
	assert.Nil(t, tree.SnapshotID)
	assert.Empty(t, tree.Manifests)
}

func TestLegacyShapes(t *testing.T) {
	var md TableMetadata
	require.NoError(t, jsonpkg.Unmarshal([]byte(`{
		"format-version": 1,
		"schema": {"type": "struct", "fields": [
			{"id": 1, "name": "id", "optional": false, "type": "long"},
			{"id": 2, "name": "note", "optional": true, "type": "string"}
		]},
		"partition-spec": [{"name": "id_bucket", "transform": "bucket[4]", "source-id": 1, "field-id": 1000}]
	}`), &md))

	schema := CurrentSchema(&md)
	require.Len(t, schema, 2)
	assert.True(t, schema[0].Required)
	assert.False(t, schema[1].Required)

	spec := DefaultPartitionSpec(&md)
	require.Len(t, spec, 1)
	assert.Equal(t, "bucket[4]", spec[0].Transform)

	assert.Empty(t, DefaultSortOrder(&md))
}

func TestTypeString(t *testing.T) {
	nested := map[string]interface{}{
		"type":       "list",
		"element-id": 3,
		"element": map[string]interface{}{
			"type": "map", "key-id": 4, "key": "string", "value-id": 5,
			"value": map[string]interface{}{"type": "struct", "fields": []interface{}{}},
		},
	}
	assert.Equal(t, "list<map<string,struct>>", TypeString(nested))
	assert.Equal(t, "decimal(10,2)", TypeString("decimal(10,2)"))
	assert.Equal(t, "string", TypeString(nil))
}

func TestFormatTimestamp(t *testing.T) {
	assert.Equal(t, "0001-01-01T00:00:00Z", FormatTimestamp(0))
	assert.Equal(t, "0001-01-01T00:00:00Z", FormatTimestamp(-5))
	assert.Equal(t, "2023-11-14T22:13:20.5Z", FormatTimestamp(1700000000500))
}
