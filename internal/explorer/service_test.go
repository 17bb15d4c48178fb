package explorer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vadoid/iceberg-explorer/internal/iceberg"
	"github.com/Vadoid/iceberg-explorer/pkg/config"
	"github.com/Vadoid/iceberg-explorer/pkg/explorererrors"
	"github.com/Vadoid/iceberg-explorer/pkg/storage"
	"github.com/Vadoid/iceberg-explorer/pkg/testutil"
)

const (
	tablePath  = "warehouse/orders"
	snapshotID = int64(3051729675574597004)
)

// sharedStore keeps the lake open across operations.
type sharedStore struct {
	storage.Store
}

func (sharedStore) Close() error { return nil }

type fakeProjects struct {
	projects []Project
	err      error
}

func (f fakeProjects) ListProjects(context.Context, storage.Credentials) ([]Project, error) {
	return f.projects, f.err
}

func newService(t *testing.T, lake *testutil.Lake, opts ...Option) *Service {
	t.Helper()
	cfg := config.Default()
	cfg.Iceberg.Workers = 2
	opts = append([]Option{
		WithStoreFactory(func(context.Context, storage.Credentials) (storage.Store, error) {
			return sharedStore{lake.Store}, nil
		}),
		WithProjectSource(fakeProjects{}),
	}, opts...)
	return New(cfg, testutil.TestLogger(t), opts...)
}

func writeTable(lake *testutil.Lake) {
	key := func(name string) string { return testutil.Key(tablePath, "metadata", name) }
	dataFile := func(i int) string {
		return testutil.URI(testutil.Key(tablePath, "data", "category=x", fmt.Sprintf("file-%d.parquet", i)))
	}

	lake.PutManifest(key("m-1.avro"),
		testutil.DataFile{Status: 1, Path: dataFile(0), Partition: map[string]interface{}{"category": "x"}, RecordCount: 10, SizeBytes: 100},
		testutil.DataFile{Status: 1, Path: dataFile(1), Partition: map[string]interface{}{"category": "x"}, RecordCount: 20, SizeBytes: 200},
	)
	lake.PutManifestList(key("snap-1.avro"),
		testutil.ManifestFile{Path: testutil.URI(key("m-1.avro")), Length: 1024, AddedSnapshotID: snapshotID})
	lake.PutJSON(key("v1.metadata.json"), testutil.Metadata("gs://lake/"+tablePath, snapshotID,
		testutil.Snapshot{ID: snapshotID, TimestampMs: 1700000000000, ManifestList: testutil.URI(key("snap-1.avro"))}))
}

func TestAnalyze(t *testing.T) {
	lake := testutil.NewLake(t)
	writeTable(lake)
	svc := newService(t, lake)

	analysis, err := svc.Analyze(testutil.TestContext(t), storage.Credentials{}, testutil.Bucket, "/"+tablePath+"/")
	require.NoError(t, err)
	assert.Equal(t, "orders", analysis.TableName)
	assert.Equal(t, int64(2), analysis.Statistics.TotalFiles)
	assert.Equal(t, int64(30), analysis.Statistics.TotalRecords)
	assert.Equal(t, "3051729675574597004", analysis.CurrentSnapshotID)
}

func TestOperationsValidateInput(t *testing.T) {
	svc := newService(t, testutil.NewLake(t))
	ctx := testutil.TestContext(t)
	creds := storage.Credentials{}

	_, err := svc.Analyze(ctx, creds, "", tablePath)
	assert.True(t, explorererrors.IsType(err, explorererrors.ErrorTypeValidation))

	_, err = svc.Sample(ctx, creds, iceberg.SampleRequest{Bucket: testutil.Bucket})
	assert.True(t, explorererrors.IsType(err, explorererrors.ErrorTypeValidation))

	_, err = svc.Compare(ctx, creds, testutil.Bucket, tablePath, "1", " ")
	assert.True(t, explorererrors.IsType(err, explorererrors.ErrorTypeValidation))

	_, err = svc.ManifestTree(ctx, creds, testutil.Bucket, tablePath, "latest")
	assert.True(t, explorererrors.IsType(err, explorererrors.ErrorTypeValidation))

	_, err = svc.Discover(ctx, creds, " ", "")
	assert.True(t, explorererrors.IsType(err, explorererrors.ErrorTypeValidation))
}

func TestCompareAndManifestTree(t *testing.T) {
	lake := testutil.NewLake(t)
	writeTable(lake)
	svc := newService(t, lake)
	ctx := testutil.TestContext(t)

	diff, err := svc.Compare(ctx, storage.Credentials{}, testutil.Bucket, tablePath, "", "3051729675574597004")
	require.NoError(t, err)
	assert.Len(t, diff.AddedFiles, 2)

	tree, err := svc.ManifestTree(ctx, storage.Credentials{}, testutil.Bucket, tablePath, "3051729675574597004")
	require.NoError(t, err)
	require.Len(t, tree.Manifests, 1)
	assert.Equal(t, 2, tree.Manifests[0].DataFileCount)
}

func TestStoreFactoryErrorsSurface(t *testing.T) {
	denied := explorererrors.New(explorererrors.ErrorTypeAuthentication, "token expired")
	svc := newService(t, testutil.NewLake(t), WithStoreFactory(func(context.Context, storage.Credentials) (storage.Store, error) {
		return nil, denied
	}))

	_, err := svc.Analyze(testutil.TestContext(t), storage.BearerToken("stale", ""), testutil.Bucket, tablePath)
	assert.ErrorIs(t, err, denied)
}

func TestDiscover(t *testing.T) {
	lake := testutil.NewLake(t)
	lake.Put("warehouse/orders/metadata/v1.metadata.json", []byte("{}"))
	lake.Put("warehouse/orders/metadata/v2.metadata.json", []byte("{}"))
	lake.Put("warehouse/events/metadata/00001-abc.metadata.json", []byte("{}"))
	lake.Put("warehouse/events/data/part-0.parquet", []byte("x"))
	lake.Put("stray.metadata.json", []byte("{}"))
	lake.Put("readme.txt", []byte("hi"))
	svc := newService(t, lake)

	found, err := svc.Discover(testutil.TestContext(t), storage.Credentials{}, testutil.Bucket, "my-project")
	require.NoError(t, err)
	require.Equal(t, 2, found.Count)
	assert.Equal(t, TableRef{
		Name:      "events",
		Location:  "gs://lake/warehouse/events",
		Bucket:    "lake",
		Path:      "warehouse/events",
		ProjectID: "my-project",
	}, found.Tables[0])
	assert.Equal(t, "warehouse/orders", found.Tables[1].Path)
}

func TestBrowse(t *testing.T) {
	lake := testutil.NewLake(t)
	lake.Put("warehouse/orders/metadata/v1.metadata.json", []byte("{}"))
	lake.Put("warehouse/Events/metadata/v1.metadata.json", []byte("{}"))
	lake.Put("warehouse/misc/notes.txt", []byte("notes"))
	lake.Put("warehouse/readme.txt", []byte("hello"))
	svc := newService(t, lake)

	result, err := svc.Browse(testutil.TestContext(t), storage.Credentials{}, testutil.Bucket, "/warehouse/", "")
	require.NoError(t, err)

	assert.Equal(t, []string{"Events", "misc", "orders"}, result.Folders)
	require.Len(t, result.Items, 4)

	names := make([]string, 0, len(result.Items))
	types := make([]string, 0, len(result.Items))
	for _, item := range result.Items {
		names = append(names, item.Name)
		types = append(types, item.Type)
	}
	assert.Equal(t, []string{"Events", "orders", "misc", "readme.txt"}, names)
	assert.Equal(t, []string{ItemIcebergTable, ItemIcebergTable, ItemFolder, ItemFile}, types)

	orders := result.Items[1]
	require.NotNil(t, orders.Table)
	assert.Equal(t, "gs://lake/warehouse/orders", orders.Table.Location)
	assert.Len(t, result.Tables, 2)

	file := result.Items[3]
	assert.Equal(t, "warehouse/readme.txt", file.Path)
	require.NotNil(t, file.Size)
	assert.Equal(t, int64(5), *file.Size)
}

func TestBuckets(t *testing.T) {
	svc := newService(t, testutil.NewLake(t))

	buckets, err := svc.Buckets(testutil.TestContext(t), storage.Credentials{}, "")
	require.NoError(t, err)
	assert.Equal(t, []string{testutil.Bucket}, buckets)
}

func TestProjects(t *testing.T) {
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")
	ctx := testutil.TestContext(t)

	t.Run("active first", func(t *testing.T) {
		svc := newService(t, testutil.NewLake(t), WithProjectSource(fakeProjects{projects: []Project{
			{ID: "a", Name: "A", State: "ACTIVE"},
			{ID: "b", Name: "B", State: "DELETE_REQUESTED"},
		}}))
		list, err := svc.Projects(ctx, storage.Credentials{})
		require.NoError(t, err)
		assert.Equal(t, []Project{{ID: "a", Name: "A", State: "ACTIVE"}}, list.Projects)
		assert.Equal(t, 2, list.TotalFound)
		assert.Equal(t, 1, list.ActiveCount)
		assert.Nil(t, list.Errors)
	})

	t.Run("all when none active", func(t *testing.T) {
		svc := newService(t, testutil.NewLake(t), WithProjectSource(fakeProjects{projects: []Project{
			{ID: "b", Name: "B", State: "DELETE_REQUESTED"},
		}}))
		list, err := svc.Projects(ctx, storage.Credentials{})
		require.NoError(t, err)
		assert.Len(t, list.Projects, 1)
		assert.Equal(t, 0, list.ActiveCount)
	})

	t.Run("falls back to configured project", func(t *testing.T) {
		svc := newService(t, testutil.NewLake(t), WithProjectSource(fakeProjects{err: errors.New("api disabled")}))
		svc.cfg.Storage.ProjectID = "configured"
		list, err := svc.Projects(ctx, storage.Credentials{})
		require.NoError(t, err)
		assert.Equal(t, []Project{{ID: "configured", Name: "configured", State: stateUnknown}}, list.Projects)
		assert.Equal(t, []string{"api disabled"}, list.Errors)
	})

	t.Run("credential errors surface", func(t *testing.T) {
		denied := explorererrors.New(explorererrors.ErrorTypePermission, "forbidden")
		svc := newService(t, testutil.NewLake(t), WithProjectSource(fakeProjects{err: denied}))
		_, err := svc.Projects(ctx, storage.Credentials{})
		assert.True(t, explorererrors.IsCredentialError(err))
	})
}

func TestBigQueryRequiresProject(t *testing.T) {
	svc := newService(t, testutil.NewLake(t))
	_, err := svc.SearchIcebergTables(testutil.TestContext(t), storage.Credentials{}, "")
	assert.True(t, explorererrors.IsType(err, explorererrors.ErrorTypeValidation))

	svc.cfg.BigQuery.Enabled = false
	_, err = svc.BigQueryDatasets(testutil.TestContext(t), storage.Credentials{}, "p")
	assert.True(t, explorererrors.IsType(err, explorererrors.ErrorTypeCapability))
}
