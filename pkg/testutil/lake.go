package testutil

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/linkedin/goavro/v2"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gocloud.dev/blob"
	"gocloud.dev/blob/memblob"

	jsonpkg "github.com/Vadoid/iceberg-explorer/pkg/json"
	"github.com/Vadoid/iceberg-explorer/pkg/storage"
)

// Bucket is the bucket name every Lake serves.
const Bucket = "lake"

// Lake is an in-memory object store holding Iceberg tables written by the
// helpers below. Objects are served under the "gs" scheme.
type Lake struct {
	t      *testing.T
	bucket *blob.Bucket
	Store  *storage.BlobStore
}

// NewLake creates an empty lake that is closed when the test completes.
func NewLake(t *testing.T) *Lake {
	t.Helper()

	b := memblob.OpenBucket(nil)
	store := storage.NewBlobStoreFromBuckets("gs", map[string]*blob.Bucket{Bucket: b})
	t.Cleanup(func() { _ = store.Close() })
	return &Lake{t: t, bucket: b, Store: store}
}

// Put writes raw bytes at key.
func (l *Lake) Put(key string, data []byte) {
	l.t.Helper()
	require.NoError(l.t, l.bucket.WriteAll(context.Background(), key, data, nil))
}

// PutJSON writes v encoded as JSON at key.
func (l *Lake) PutJSON(key string, v interface{}) {
	l.t.Helper()
	data, err := jsonpkg.Marshal(v)
	require.NoError(l.t, err)
	l.Put(key, data)
}

// URI returns gs://lake/key.
func URI(key string) string {
	return "gs://" + Bucket + "/" + key
}

// ManifestFile is one manifest list entry.
type ManifestFile struct {
	Path            string
	Length          int64
	PartitionSpecID int32
	AddedSnapshotID int64
}

const manifestListSchema = `{
  "type": "record",
  "name": "manifest_file",
  "fields": [
    {"name": "manifest_path", "type": "string"},
    {"name": "manifest_length", "type": "long"},
    {"name": "partition_spec_id", "type": "int"},
    {"name": "added_snapshot_id", "type": ["null", "long"], "default": null}
  ]
}`

// PutManifestList writes an Avro manifest list at key.
func (l *Lake) PutManifestList(key string, manifests ...ManifestFile) {
	l.t.Helper()

	items := make([]interface{}, 0, len(manifests))
	for _, m := range manifests {
		var added interface{}
		if m.AddedSnapshotID != 0 {
			added = goavro.Union("long", m.AddedSnapshotID)
		}
		items = append(items, map[string]interface{}{
			"manifest_path":     m.Path,
			"manifest_length":   m.Length,
			"partition_spec_id": m.PartitionSpecID,
			"added_snapshot_id": added,
		})
	}
	l.Put(key, writeOCF(l.t, manifestListSchema, items))
}

// DataFile is one manifest entry. Status 0 is existing, 1 added, 2 deleted.
// Partition values may be string, int64, time.Time (a date), *big.Rat (a
// decimal(9,2) fixed) or uuid.UUID (a uuid fixed).
type DataFile struct {
	Status      int32
	Path        string
	Format      string
	Partition   map[string]interface{}
	RecordCount int64
	SizeBytes   int64
	ColumnSizes map[int32]int64
}

// PutManifest writes an Avro manifest at key. The partition record schema is
// derived from the first entry.
func (l *Lake) PutManifest(key string, files ...DataFile) {
	l.t.Helper()

	var partitionFields []map[string]interface{}
	var names []string
	types := map[string]string{}
	if len(files) > 0 {
		for name := range files[0].Partition {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			branch, avroType := partitionType(files[0].Partition[name])
			types[name] = branch
			partitionFields = append(partitionFields, map[string]interface{}{
				"name":    name,
				"type":    []interface{}{"null", avroType},
				"default": nil,
			})
		}
	}
	dataFileFields := []interface{}{
		map[string]interface{}{"name": "file_path", "type": "string"},
		map[string]interface{}{"name": "file_format", "type": "string"},
	}
	if len(partitionFields) > 0 {
		dataFileFields = append(dataFileFields, map[string]interface{}{"name": "partition", "type": map[string]interface{}{
			"type":   "record",
			"name":   "r102",
			"fields": partitionFields,
		}})
	}
	dataFileFields = append(dataFileFields,
		map[string]interface{}{"name": "record_count", "type": "long"},
		map[string]interface{}{"name": "file_size_in_bytes", "type": "long"},
		map[string]interface{}{"name": "column_sizes", "type": []interface{}{"null", map[string]interface{}{
			"type": "array",
			"items": map[string]interface{}{
				"type": "record",
				"name": "k117_v118",
				"fields": []interface{}{
					map[string]interface{}{"name": "key", "type": "int"},
					map[string]interface{}{"name": "value", "type": "long"},
				},
			},
		}}, "default": nil},
	)

	schema := map[string]interface{}{
		"type": "record",
		"name": "manifest_entry",
		"fields": []interface{}{
			map[string]interface{}{"name": "status", "type": "int"},
			map[string]interface{}{"name": "snapshot_id", "type": []interface{}{"null", "long"}, "default": nil},
			map[string]interface{}{"name": "data_file", "type": map[string]interface{}{
				"type":   "record",
				"name":   "r2",
				"fields": dataFileFields,
			}},
		},
	}
	schemaJSON, err := jsonpkg.Marshal(schema)
	require.NoError(l.t, err)

	items := make([]interface{}, 0, len(files))
	for _, f := range files {
		partition := map[string]interface{}{}
		for _, name := range names {
			v, ok := f.Partition[name]
			if !ok || v == nil {
				partition[name] = nil
				continue
			}
			if id, ok := v.(uuid.UUID); ok {
				v = id[:]
			}
			partition[name] = goavro.Union(types[name], v)
		}

		var columnSizes interface{}
		if len(f.ColumnSizes) > 0 {
			ids := make([]int, 0, len(f.ColumnSizes))
			for id := range f.ColumnSizes {
				ids = append(ids, int(id))
			}
			sort.Ints(ids)
			kv := make([]interface{}, 0, len(ids))
			for _, id := range ids {
				kv = append(kv, map[string]interface{}{"key": int32(id), "value": f.ColumnSizes[int32(id)]})
			}
			columnSizes = goavro.Union("array", kv)
		}

		format := f.Format
		if format == "" {
			format = "PARQUET"
		}
		dataFile := map[string]interface{}{
			"file_path":          f.Path,
			"file_format":        format,
			"record_count":       f.RecordCount,
			"file_size_in_bytes": f.SizeBytes,
			"column_sizes":       columnSizes,
		}
		if len(names) > 0 {
			dataFile["partition"] = partition
		}
		items = append(items, map[string]interface{}{
			"status":      f.Status,
			"snapshot_id": nil,
			"data_file":   dataFile,
		})
	}
	l.Put(key, writeOCF(l.t, string(schemaJSON), items))
}

func partitionType(v interface{}) (string, interface{}) {
	switch v.(type) {
	case time.Time:
		return "int.date", map[string]interface{}{"type": "int", "logicalType": "date"}
	case int64, int:
		return "long", "long"
	case *big.Rat:
		return "decimal_9_2", map[string]interface{}{
			"type": "fixed", "name": "decimal_9_2", "size": 4,
			"logicalType": "decimal", "precision": 9, "scale": 2,
		}
	case uuid.UUID:
		return "uuid_fixed", map[string]interface{}{"type": "fixed", "name": "uuid_fixed", "size": 16, "logicalType": "uuid"}
	default:
		return "string", "string"
	}
}

func writeOCF(t *testing.T, schema string, items []interface{}) []byte {
	t.Helper()

	codec, err := goavro.NewCodec(schema)
	require.NoError(t, err)

	var buf bytes.Buffer
	w, err := goavro.NewOCFWriter(goavro.OCFConfig{W: &buf, Codec: codec})
	require.NoError(t, err)
	if len(items) > 0 {
		require.NoError(t, w.Append(items))
	}
	return buf.Bytes()
}

// Snapshot describes one entry of a metadata file's snapshot list.
type Snapshot struct {
	ID           int64
	ParentID     int64 // 0 means no parent
	TimestampMs  int64
	ManifestList string
	Summary      map[string]string
}

// Metadata builds a format version 2 metadata document with a fixed schema
// (id long, tags list<string>, attrs map<string,long>, category string), a
// partition spec on category and one sort order. currentID 0 omits the
// current snapshot.
func Metadata(location string, currentID int64, snapshots ...Snapshot) map[string]interface{} {
	snaps := make([]interface{}, 0, len(snapshots))
	for i, s := range snapshots {
		entry := map[string]interface{}{
			"snapshot-id":     s.ID,
			"timestamp-ms":    s.TimestampMs,
			"manifest-list":   s.ManifestList,
			"sequence-number": int64(i + 1),
		}
		if s.ParentID != 0 {
			entry["parent-snapshot-id"] = s.ParentID
		}
		summary := map[string]interface{}{"operation": "append"}
		for k, v := range s.Summary {
			summary[k] = v
		}
		entry["summary"] = summary
		snaps = append(snaps, entry)
	}

	md := map[string]interface{}{
		"format-version":    2,
		"table-uuid":        "9c12d441-03fe-4693-9a96-a0705ddf69c1",
		"location":          location,
		"last-updated-ms":   int64(1700000000000),
		"current-schema-id": 1,
		"schemas": []interface{}{
			map[string]interface{}{"schema-id": 0, "type": "struct", "fields": []interface{}{
				map[string]interface{}{"id": 1, "name": "id", "required": true, "type": "long"},
			}},
			map[string]interface{}{"schema-id": 1, "type": "struct", "fields": []interface{}{
				map[string]interface{}{"id": 1, "name": "id", "required": true, "type": "long", "doc": "primary key"},
				map[string]interface{}{"id": 2, "name": "tags", "required": false, "type": map[string]interface{}{
					"type": "list", "element-id": 5, "element": "string", "element-required": false,
				}},
				map[string]interface{}{"id": 3, "name": "attrs", "required": false, "type": map[string]interface{}{
					"type": "map", "key-id": 6, "key": "string", "value-id": 7, "value": "long", "value-required": false,
				}},
				map[string]interface{}{"id": 4, "name": "category", "required": false, "type": "string"},
			}},
		},
		"default-spec-id": 0,
		"partition-specs": []interface{}{
			map[string]interface{}{"spec-id": 0, "fields": []interface{}{
				map[string]interface{}{"name": "category", "transform": "identity", "source-id": 4, "field-id": 1000},
			}},
		},
		"default-sort-order-id": 1,
		"sort-orders": []interface{}{
			map[string]interface{}{"order-id": 0, "fields": []interface{}{}},
			map[string]interface{}{"order-id": 1, "fields": []interface{}{
				map[string]interface{}{"transform": "identity", "source-id": 1, "direction": "desc", "null-order": "nulls-last"},
			}},
		},
		"properties": map[string]interface{}{"write.format.default": "parquet", "commit.retry.num-retries": 4},
		"snapshots":  snaps,
		"metadata-log": []interface{}{
			map[string]interface{}{"metadata-file": location + "/metadata/v1.metadata.json", "timestamp-ms": int64(1690000000000)},
		},
	}
	if currentID != 0 {
		md["current-snapshot-id"] = currentID
	} else {
		md["current-snapshot-id"] = -1
	}
	return md
}

// LakeSuite is a testify suite with a fresh Lake per test.
type LakeSuite struct {
	suite.Suite
	Lake *Lake
	ctx  context.Context
}

// SetupTest creates the lake and a context for each test.
func (s *LakeSuite) SetupTest() {
	s.Lake = NewLake(s.T())
	s.ctx = TestContext(s.T())
}

// Context returns the test context
func (s *LakeSuite) Context() context.Context {
	return s.ctx
}

// Key joins path segments with "/".
func Key(parts ...interface{}) string {
	var buf bytes.Buffer
	for i, p := range parts {
		if i > 0 {
			buf.WriteByte('/')
		}
		fmt.Fprint(&buf, p)
	}
	return buf.String()
}
