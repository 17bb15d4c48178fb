package iceberg

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vadoid/iceberg-explorer/pkg/explorererrors"
	"github.com/Vadoid/iceberg-explorer/pkg/formats/columnar"
	"github.com/Vadoid/iceberg-explorer/pkg/testutil"
)

// countingReader treats file content as a row count and produces that many rows.
type countingReader struct{}

func (countingReader) Format() columnar.Format { return columnar.Parquet }

func (countingReader) ReadRows(_ context.Context, data []byte, limit int) (*columnar.Rows, error) {
	n, err := strconv.Atoi(string(data))
	if err != nil {
		return nil, err
	}
	if n > limit {
		n = limit
	}
	rows := make([]map[string]interface{}, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, map[string]interface{}{
			"id":         int64(i),
			"created_at": time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		})
	}
	return &columnar.Rows{Columns: []string{"id", "created_at"}, Rows: rows}, nil
}

func countingReaders(columnar.Format) (columnar.RowReader, error) {
	return countingReader{}, nil
}

// putRows writes a data object whose content is its row count.
func putRows(lake *testutil.Lake, path string, rows int) {
	lake.Put(NormalizeRef(path, testutil.Bucket), []byte(strconv.Itoa(rows)))
}

func newSampler(t *testing.T, lake *testutil.Lake, opts ...SamplerOption) *Sampler {
	c := newComponents(t, lake)
	opts = append([]SamplerOption{WithRowReaders(countingReaders)}, opts...)
	return NewSampler(c.resolver, c.walker, testutil.TestLogger(t), opts...)
}

func writeChainData(lake *testutil.Lake, rowsPerFile int) {
	for i := 0; i < 5; i++ {
		category := "a"
		if i >= 3 {
			category = "b"
		}
		putRows(lake, dataPath(category, i), rowsPerFile)
	}
	putRows(lake, dataPath("c", 5), rowsPerFile)
	putRows(lake, dataPath("c", 6), rowsPerFile)
	putRows(lake, dataPath("a", 7), rowsPerFile)
}

func TestSampleCurrentSnapshotFillsLimitAcrossFiles(t *testing.T) {
	lake := testutil.NewLake(t)
	writeChain(t, lake)
	writeChainData(lake, 100)

	result, err := newSampler(t, lake).Sample(testutil.TestContext(t), SampleRequest{
		Bucket: testutil.Bucket, TablePath: tablePath, Limit: 150,
	})
	require.NoError(t, err)

	assert.Equal(t, 150, result.TotalRows)
	assert.Len(t, result.Rows, 150)
	assert.Equal(t, 2, result.FilesRead)
	assert.Nil(t, result.Message)
	assert.Equal(t, []string{FileNameColumn, "id", "created_at"}, result.Columns)

	first := result.Rows[0]
	assert.Equal(t, "orders/data/category=a/file-0.parquet", first[FileNameColumn])
	assert.Equal(t, "2024-01-02 03:04:05", first["created_at"])
	assert.Equal(t, "orders/data/category=a/file-1.parquet", result.Rows[149][FileNameColumn])
}

func TestSampleStopsAfterFileBudget(t *testing.T) {
	lake := testutil.NewLake(t)
	writeChain(t, lake)
	writeChainData(lake, 10)

	result, err := newSampler(t, lake, WithSampleLimits(0, 0, 2)).Sample(testutil.TestContext(t), SampleRequest{
		Bucket: testutil.Bucket, TablePath: tablePath, Limit: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, 20, result.TotalRows)
	assert.Equal(t, 2, result.FilesRead)
}

func TestSampleSkipsUnreadableFiles(t *testing.T) {
	lake := testutil.NewLake(t)
	writeChain(t, lake)
	writeChainData(lake, 10)
	lake.Put(NormalizeRef(dataPath("a", 0), testutil.Bucket), []byte("not a number"))

	result, err := newSampler(t, lake).Sample(testutil.TestContext(t), SampleRequest{
		Bucket: testutil.Bucket, TablePath: tablePath, Limit: 15,
	})
	require.NoError(t, err)
	assert.Equal(t, 15, result.TotalRows)
	assert.Equal(t, 2, result.FilesRead)
	assert.Equal(t, "orders/data/category=a/file-1.parquet", result.Rows[0][FileNameColumn])
}

func TestSampleExplicitTargets(t *testing.T) {
	lake := testutil.NewLake(t)
	writeChain(t, lake)
	writeChainData(lake, 10)
	sampler := newSampler(t, lake)
	ctx := testutil.TestContext(t)

	t.Run("file", func(t *testing.T) {
		result, err := sampler.Sample(ctx, SampleRequest{
			Bucket: testutil.Bucket, TablePath: tablePath, Limit: 5, FilePath: dataPath("c", 6),
		})
		require.NoError(t, err)
		assert.Equal(t, 5, result.TotalRows)
		assert.Equal(t, "orders/data/category=c/file-6.parquet", result.Rows[0][FileNameColumn])
	})

	t.Run("manifest", func(t *testing.T) {
		result, err := sampler.Sample(ctx, SampleRequest{
			Bucket: testutil.Bucket, TablePath: tablePath, Limit: 25, ManifestPath: testutil.URI(metadataKey("m-b.avro")),
		})
		require.NoError(t, err)
		assert.Equal(t, 25, result.TotalRows)
		assert.Equal(t, 3, result.FilesRead)
		assert.Equal(t, "orders/data/category=c/file-5.parquet", result.Rows[0][FileNameColumn])
	})

	t.Run("snapshot", func(t *testing.T) {
		result, err := sampler.Sample(ctx, SampleRequest{
			Bucket: testutil.Bucket, TablePath: tablePath, Limit: 1000, SnapshotID: formatID(aID),
		})
		require.NoError(t, err)
		assert.Equal(t, 50, result.TotalRows)
		assert.Equal(t, 5, result.FilesRead)
	})

	t.Run("empty snapshot does not scan", func(t *testing.T) {
		result, err := sampler.Sample(ctx, SampleRequest{
			Bucket: testutil.Bucket, TablePath: tablePath, SnapshotID: formatID(rootID),
		})
		require.NoError(t, err)
		assert.Equal(t, 0, result.TotalRows)
		require.NotNil(t, result.Message)
		assert.Equal(t, NoDataMessage, *result.Message)
	})

	t.Run("unknown snapshot", func(t *testing.T) {
		_, err := sampler.Sample(ctx, SampleRequest{
			Bucket: testutil.Bucket, TablePath: tablePath, SnapshotID: "999999",
		})
		require.Error(t, err)
		assert.True(t, explorererrors.IsType(err, explorererrors.ErrorTypeNotFound))
	})
}

func TestSampleScansDataDirectoryWithoutMetadata(t *testing.T) {
	lake := testutil.NewLake(t)
	lake.Put(tablePath+"/data/readme.txt", []byte("hello"))
	lake.Put(tablePath+"/data/part-00000.parquet", []byte("7"))

	result, err := newSampler(t, lake).Sample(testutil.TestContext(t), SampleRequest{
		Bucket: testutil.Bucket, TablePath: tablePath,
	})
	require.NoError(t, err)
	assert.Equal(t, 7, result.TotalRows)
	assert.Equal(t, 1, result.FilesRead)
	assert.Equal(t, "orders/data/part-00000.parquet", result.Rows[0][FileNameColumn])
}

func TestSampleNothingFound(t *testing.T) {
	lake := testutil.NewLake(t)

	result, err := newSampler(t, lake).Sample(testutil.TestContext(t), SampleRequest{
		Bucket: testutil.Bucket, TablePath: tablePath, Limit: 10,
	})
	require.NoError(t, err)
	assert.Empty(t, result.Rows)
	assert.Empty(t, result.Columns)
	assert.Equal(t, 0, result.FilesRead)
	require.NotNil(t, result.Message)
	assert.Equal(t, NoDataMessage, *result.Message)
}

func TestSampleLimitDefaults(t *testing.T) {
	lake := testutil.NewLake(t)
	lake.Put(tablePath+"/data/part-00000.parquet", []byte("500"))
	sampler := newSampler(t, lake, WithSampleLimits(20, 50, 0))
	ctx := testutil.TestContext(t)

	result, err := sampler.Sample(ctx, SampleRequest{Bucket: testutil.Bucket, TablePath: tablePath})
	require.NoError(t, err)
	assert.Equal(t, 20, result.TotalRows)

	result, err = sampler.Sample(ctx, SampleRequest{Bucket: testutil.Bucket, TablePath: tablePath, Limit: 400})
	require.NoError(t, err)
	assert.Equal(t, 50, result.TotalRows)
}

func TestDisplayPath(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"warehouse/db/orders/data/part-0.parquet", "orders/data/part-0.parquet"},
		{"data/x/part-0.parquet", "data/x/part-0.parquet"},
		{"a/b/c/d/part-0.parquet", "c/d/part-0.parquet"},
		{"a/part-0.parquet", "a/part-0.parquet"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DisplayPath(tt.key), tt.key)
	}
}
