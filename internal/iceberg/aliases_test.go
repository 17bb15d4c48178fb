package iceberg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vadoid/iceberg-explorer/pkg/formats/container"
	jsonpkg "github.com/Vadoid/iceberg-explorer/pkg/json"
)

func TestLookupFollowsDeclaredOrder(t *testing.T) {
	rec := container.Record{"filePath": "camel", "file_path": "snake", "path": "bare"}

	v, ok := Lookup(rec, FieldFilePath)
	require.True(t, ok)
	assert.Equal(t, "snake", v)
}

func TestLookupSkipsNullAndEmptyPaths(t *testing.T) {
	rec := container.Record{"manifest_path": nil, "manifestPath": "", "path": "m.avro"}

	path, ok := lookupString(rec, FieldManifestPath)
	require.True(t, ok)
	assert.Equal(t, "m.avro", path)

	_, ok = lookupString(container.Record{"manifest_path": ""}, FieldManifestPath)
	assert.False(t, ok)
}

func TestDataFileFromEntry(t *testing.T) {
	t.Run("file_path wins over filePath", func(t *testing.T) {
		f, ok := dataFileFromEntry(container.Record{
			"data_file": map[string]interface{}{
				"file_path": "gs://lake/t/data/a.parquet",
				"filePath":  "gs://lake/t/data/b.parquet",
			},
		})
		require.True(t, ok)
		assert.Equal(t, "gs://lake/t/data/a.parquet", f.FilePath)
	})

	t.Run("entry itself is the data file", func(t *testing.T) {
		f, ok := dataFileFromEntry(container.Record{
			"contentPath": "gs://lake/t/data/c.parquet",
			"numRows":     int64(42),
			"fileSize":    int64(4200),
			"fileFormat":  "AVRO",
		})
		require.True(t, ok)
		assert.Equal(t, int64(42), f.RecordCount)
		assert.Equal(t, int64(4200), f.FileSizeInBytes)
		assert.Equal(t, "AVRO", f.FileFormat)
		assert.Empty(t, f.Partition)
	})

	t.Run("counts fall back to the entry", func(t *testing.T) {
		f, ok := dataFileFromEntry(container.Record{
			"record_count": int64(9),
			"dataFile":     map[string]interface{}{"path": "gs://lake/t/data/d.parquet"},
		})
		require.True(t, ok)
		assert.Equal(t, int64(9), f.RecordCount)
		assert.Equal(t, int64(0), f.FileSizeInBytes)
		assert.Equal(t, "parquet", f.FileFormat)
	})

	t.Run("missing path is skipped", func(t *testing.T) {
		_, ok := dataFileFromEntry(container.Record{"record_count": int64(1)})
		assert.False(t, ok)
	})
}

func TestStatMapAcceptsBothShapes(t *testing.T) {
	avro := container.Record{"column_sizes": []interface{}{
		map[string]interface{}{"key": int32(1), "value": int64(10)},
		map[string]interface{}{"key": int32(2), "value": int64(20)},
	}}
	assert.Equal(t, map[string]int64{"1": 10, "2": 20}, statMap(avro, FieldColumnSizes))

	var raw map[string]interface{}
	require.NoError(t, jsonpkg.Unmarshal([]byte(`{"nullValueCounts":{"1":0,"2":3}}`), &raw))
	assert.Equal(t, map[string]int64{"1": 0, "2": 3}, statMap(raw, FieldNullValueCounts))

	assert.Nil(t, statMap(container.Record{}, FieldValueCounts))
}
