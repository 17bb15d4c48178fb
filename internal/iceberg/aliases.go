package iceberg

import (
	"strconv"
	"strings"

	"github.com/Vadoid/iceberg-explorer/pkg/formats/container"
	jsonpkg "github.com/Vadoid/iceberg-explorer/pkg/json"
)

// Field names a logical field of a manifest list or manifest record.
type Field string

// Logical fields read from container records.
const (
	FieldManifestPath    Field = "manifest_path"
	FieldManifestLength  Field = "manifest_length"
	FieldPartitionSpecID Field = "partition_spec_id"
	FieldAddedSnapshotID Field = "added_snapshot_id"
	FieldStatus          Field = "status"
	FieldDataFile        Field = "data_file"
	FieldFilePath        Field = "file_path"
	FieldFileFormat      Field = "file_format"
	FieldPartition       Field = "partition"
	FieldRecordCount     Field = "record_count"
	FieldFileSize        Field = "file_size_in_bytes"
	FieldColumnSizes     Field = "column_sizes"
	FieldValueCounts     Field = "value_counts"
	FieldNullValueCounts Field = "null_value_counts"
)

// Aliases lists, per logical field, the record keys that may carry it. Order
// is priority: the first key present with a non-null value wins. Writers emit
// snake_case Avro names while pre-normalized inputs use camelCase.
var Aliases = map[Field][]string{
	FieldManifestPath:    {"manifest_path", "manifestPath", "path", "file_path", "filePath"},
	FieldManifestLength:  {"manifest_length", "manifestLength", "length"},
	FieldPartitionSpecID: {"partition_spec_id", "partitionSpecId"},
	FieldAddedSnapshotID: {"added_snapshot_id", "addedSnapshotId", "snapshot_id", "snapshotId"},
	FieldStatus:          {"status"},
	FieldDataFile:        {"data_file", "dataFile"},
	FieldFilePath:        {"file_path", "filePath", "path", "content_path", "contentPath"},
	FieldFileFormat:      {"file_format", "fileFormat", "format"},
	FieldPartition:       {"partition", "partition_data", "partitionData"},
	FieldRecordCount:     {"record_count", "recordCount", "num_rows", "numRows"},
	FieldFileSize:        {"file_size_in_bytes", "fileSizeInBytes", "file_size", "fileSize", "length"},
	FieldColumnSizes:     {"column_sizes", "columnSizes"},
	FieldValueCounts:     {"value_counts", "valueCounts"},
	FieldNullValueCounts: {"null_value_counts", "nullValueCounts"},
}

// Lookup returns the value of field in rec by trying its aliases in order.
func Lookup(rec container.Record, field Field) (interface{}, bool) {
	for _, key := range Aliases[field] {
		if v, ok := rec[key]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// lookupString is Lookup for path-like fields; empty strings count as absent.
func lookupString(rec container.Record, field Field) (string, bool) {
	for _, key := range Aliases[field] {
		v, ok := rec[key]
		if !ok || v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			if b, isBytes := v.([]byte); isBytes {
				s = string(b)
			} else {
				continue
			}
		}
		if s != "" {
			return s, true
		}
	}
	return "", false
}

func lookupInt(rec container.Record, field Field) (int64, bool) {
	v, ok := Lookup(rec, field)
	if !ok {
		return 0, false
	}
	return toInt64(v)
}

func lookupRecord(rec container.Record, field Field) (container.Record, bool) {
	v, ok := Lookup(rec, field)
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]interface{})
	return m, ok
}

func toInt64(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case float32:
		return int64(t), true
	case float64:
		return int64(t), true
	case jsonpkg.Number:
		if i, err := t.Int64(); err == nil {
			return i, true
		}
		if f, err := t.Float64(); err == nil {
			return int64(f), true
		}
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil {
			return i, true
		}
	}
	return 0, false
}

// statMap reads a column statistics map. Avro manifests store these as an
// array of {key, value} records; JSON inputs use an object keyed by column id.
func statMap(rec container.Record, field Field) map[string]int64 {
	v, ok := Lookup(rec, field)
	if !ok {
		return nil
	}

	out := map[string]int64{}
	switch t := v.(type) {
	case map[string]interface{}:
		for k, raw := range t {
			if n, ok := toInt64(raw); ok {
				out[k] = n
			}
		}
	case []interface{}:
		for _, item := range t {
			kv, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			key, okKey := toInt64(kv["key"])
			n, okValue := toInt64(kv["value"])
			if okKey && okValue {
				out[strconv.FormatInt(key, 10)] = n
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
