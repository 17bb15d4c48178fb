package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	bq "cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vadoid/iceberg-explorer/internal/bigquery"
	"github.com/Vadoid/iceberg-explorer/internal/explorer"
	"github.com/Vadoid/iceberg-explorer/pkg/config"
	"github.com/Vadoid/iceberg-explorer/pkg/explorererrors"
	jsonpkg "github.com/Vadoid/iceberg-explorer/pkg/json"
	"github.com/Vadoid/iceberg-explorer/pkg/storage"
	"github.com/Vadoid/iceberg-explorer/pkg/testutil"
)

const tablePath = "warehouse/orders"

type sharedStore struct {
	storage.Store
}

func (sharedStore) Close() error { return nil }

type oneTableCatalog struct{}

func (oneTableCatalog) ProjectID() string { return "test-project" }

func (oneTableCatalog) Datasets(context.Context) ([]string, error) { return []string{"lake"}, nil }

func (oneTableCatalog) DatasetMetadata(context.Context, string) (*bq.DatasetMetadata, error) {
	return &bq.DatasetMetadata{}, nil
}

func (oneTableCatalog) Tables(context.Context, string) ([]string, error) { return []string{"orders"}, nil }

func (oneTableCatalog) TableMetadata(context.Context, string, string) (*bq.TableMetadata, error) {
	return &bq.TableMetadata{
		Type:         bq.ExternalTable,
		CreationTime: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		ExternalDataConfig: &bq.ExternalDataConfig{
			SourceFormat: "ICEBERG",
			SourceURIs:   []string{"gs://lake/warehouse/orders"},
		},
	}, nil
}

type fixture struct {
	lake    *testutil.Lake
	handler http.Handler
	tokens  []string
}

func newFixture(t *testing.T, storeErr error) *fixture {
	t.Helper()
	f := &fixture{lake: testutil.NewLake(t)}

	cfg := config.Default()
	svc := explorer.New(cfg, testutil.TestLogger(t),
		explorer.WithStoreFactory(func(_ context.Context, creds storage.Credentials) (storage.Store, error) {
			f.tokens = append(f.tokens, creds.Token)
			if storeErr != nil {
				return nil, storeErr
			}
			return sharedStore{f.lake.Store}, nil
		}),
		explorer.WithCatalogFactory(func(context.Context, string, storage.Credentials) (bigquery.Catalog, error) {
			return oneTableCatalog{}, nil
		}),
	)
	f.handler = New(cfg, svc, testutil.TestLogger(t)).Handler()
	return f
}

func (f *fixture) writeTable() {
	key := func(name string) string { return testutil.Key(tablePath, "metadata", name) }
	f.lake.PutManifest(key("m-1.avro"), testutil.DataFile{
		Status:      1,
		Path:        testutil.URI(testutil.Key(tablePath, "data", "category=x", "file-0.parquet")),
		Partition:   map[string]interface{}{"category": "x"},
		RecordCount: 10,
		SizeBytes:   100,
	})
	f.lake.PutManifestList(key("snap-1.avro"), testutil.ManifestFile{Path: testutil.URI(key("m-1.avro")), Length: 512, AddedSnapshotID: 7})
	f.lake.PutJSON(key("v1.metadata.json"), testutil.Metadata("gs://lake/"+tablePath, 7,
		testutil.Snapshot{ID: 7, TimestampMs: 1700000000000, ManifestList: testutil.URI(key("snap-1.avro"))}))
}

func (f *fixture) get(t *testing.T, target string, header http.Header) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var body map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, jsonpkg.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	}
	return rec, body
}

func TestRoot(t *testing.T) {
	f := newFixture(t, nil)
	rec, body := f.get(t, "/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Iceberg Explorer API", body["message"])
	assert.Equal(t, "1.0.0", body["version"])
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestAnalyzeRoute(t *testing.T) {
	f := newFixture(t, nil)
	f.writeTable()

	rec, body := f.get(t, "/api/backend/analyze?bucket=lake&path="+tablePath, http.Header{
		"Authorization":  {"Bearer user-token"},
		requestIDHeader: {"req-42"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "orders", body["tableName"])
	assert.Equal(t, "7", body["currentSnapshotId"])
	assert.Equal(t, "req-42", rec.Header().Get(requestIDHeader))
	assert.Equal(t, []string{"user-token"}, f.tokens)
}

func TestErrorStatuses(t *testing.T) {
	t.Run("missing table is 404 with diagnostics", func(t *testing.T) {
		f := newFixture(t, nil)
		rec, body := f.get(t, "/api/backend/analyze?bucket=lake&path=nowhere/table", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "not_found", body["type"])
		details, ok := body["details"].(map[string]interface{})
		require.True(t, ok, rec.Body.String())
		assert.Contains(t, details, "searched_prefixes")
	})

	t.Run("missing parameter is 400", func(t *testing.T) {
		f := newFixture(t, nil)
		rec, _ := f.get(t, "/api/backend/analyze?path="+tablePath, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec, _ = f.get(t, "/api/backend/sample?bucket=lake&path="+tablePath+"&limit=ten", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejected credentials are 401", func(t *testing.T) {
		f := newFixture(t, explorererrors.New(explorererrors.ErrorTypeAuthentication, "token expired"))
		rec, body := f.get(t, "/api/backend/browse?bucket=lake", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, authFailedDetail, body["detail"])
		assert.Contains(t, body["error"], "token expired")
	})

	t.Run("other failures are 500", func(t *testing.T) {
		f := newFixture(t, explorererrors.New(explorererrors.ErrorTypeConnection, "backend unavailable"))
		rec, _ := f.get(t, "/api/backend/discover?bucket=lake", nil)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestCompareRoute(t *testing.T) {
	f := newFixture(t, nil)
	f.writeTable()

	rec, body := f.get(t, "/api/backend/compare?bucket=lake&path="+tablePath+"&snapshot_id_2=7", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	added, ok := body["addedFiles"].([]interface{})
	require.True(t, ok)
	assert.Len(t, added, 1)

	rec, _ = f.get(t, "/api/backend/compare?bucket=lake&path="+tablePath+"&snapshot_id_1=7&snapshot_id_2=8", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSampleRouteWithoutData(t *testing.T) {
	f := newFixture(t, nil)
	rec, body := f.get(t, "/api/backend/sample?bucket=lake&path="+tablePath, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "No data found", body["message"])
	assert.Equal(t, "0", fmt.Sprint(body["totalRows"]))
}

func TestSearchIcebergRoute(t *testing.T) {
	f := newFixture(t, nil)
	rec, body := f.get(t, "/api/backend/bigquery/search-iceberg?project_id=test-project", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	tables, ok := body["tables"].([]interface{})
	require.True(t, ok)
	require.Len(t, tables, 1)
	table := tables[0].(map[string]interface{})
	assert.Equal(t, "orders", table["table_id"])
	assert.Equal(t, "gs://lake/warehouse/orders", table["location"])
	assert.Equal(t, "test-project.lake.orders", table["full_table_id"])
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	rec, body := f.get(t, "/api/backend/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
}

func TestCORS(t *testing.T) {
	f := newFixture(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/backend/analyze", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	rec, _ = f.get(t, "/", http.Header{"Origin": {"http://evil.example"}})
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCredentialsFromHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/backend/buckets?project_id=p1", nil)
	req.Header.Set("Authorization", "bearer abc")
	creds := credentials(req)
	assert.Equal(t, "abc", creds.Token)
	assert.Equal(t, "p1", creds.ProjectID)

	req.Header.Set("Authorization", "Basic abc")
	assert.Empty(t, credentials(req).Token)
}
