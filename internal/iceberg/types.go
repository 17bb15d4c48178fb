package iceberg

import (
	"strconv"

	jsonpkg "github.com/Vadoid/iceberg-explorer/pkg/json"
)

// TableMetadata is the parsed body of a table's latest metadata file. Only the
// fields the explorer reads are decoded; schemas, specs and sort orders stay
// generic so legacy shapes can be handled during extraction.
type TableMetadata struct {
	FormatVersion      int                      `json:"format-version"`
	TableUUID          string                   `json:"table-uuid"`
	Location           string                   `json:"location"`
	LastUpdatedMs      int64                    `json:"last-updated-ms"`
	CurrentSchemaID    int                      `json:"current-schema-id"`
	Schemas            []map[string]interface{} `json:"schemas"`
	Schema             interface{}              `json:"schema"`
	DefaultSpecID      int                      `json:"default-spec-id"`
	PartitionSpecs     []map[string]interface{} `json:"partition-specs"`
	PartitionSpec      interface{}              `json:"partition-spec"`
	DefaultSortOrderID int                      `json:"default-sort-order-id"`
	SortOrders         []map[string]interface{} `json:"sort-orders"`
	SortOrder          interface{}              `json:"sort-order"`
	CurrentSnapshotID  *int64                   `json:"current-snapshot-id"`
	Snapshots          []SnapshotRef            `json:"snapshots"`
	Properties         StringMap                `json:"properties"`
	PreviousMetadata   *string                  `json:"previous-metadata-file"`
	MetadataLog        []MetadataLogEntry       `json:"metadata-log"`
}

// SnapshotRef is one entry of the metadata snapshot list.
type SnapshotRef struct {
	SnapshotID       int64     `json:"snapshot-id"`
	ParentSnapshotID *int64    `json:"parent-snapshot-id"`
	TimestampMs      int64     `json:"timestamp-ms"`
	ManifestList     string    `json:"manifest-list"`
	Summary          StringMap `json:"summary"`
	SequenceNumber   *int64    `json:"sequence-number"`
	SchemaID         *int      `json:"schema-id"`
}

// MetadataLogEntry is one entry of the metadata-log.
type MetadataLogEntry struct {
	MetadataFile string `json:"metadata-file"`
	TimestampMs  int64  `json:"timestamp-ms"`
}

// Snapshot returns the snapshot with id, if present.
func (m *TableMetadata) Snapshot(id int64) (SnapshotRef, bool) {
	for _, s := range m.Snapshots {
		if s.SnapshotID == id {
			return s, true
		}
	}
	return SnapshotRef{}, false
}

// CurrentSnapshot returns the snapshot named by current-snapshot-id, if any.
func (m *TableMetadata) CurrentSnapshot() (SnapshotRef, bool) {
	if m.CurrentSnapshotID == nil {
		return SnapshotRef{}, false
	}
	return m.Snapshot(*m.CurrentSnapshotID)
}

// previousMetadataFile is previous-metadata-file, else the newest metadata-log entry.
func (m *TableMetadata) previousMetadataFile() *string {
	if m.PreviousMetadata != nil && *m.PreviousMetadata != "" {
		return m.PreviousMetadata
	}
	if n := len(m.MetadataLog); n > 0 && m.MetadataLog[n-1].MetadataFile != "" {
		f := m.MetadataLog[n-1].MetadataFile
		return &f
	}
	return nil
}

// parseMetadata decodes a metadata body. Numbers are decoded straight into
// their integer fields so 64-bit snapshot ids keep full precision.
func parseMetadata(body []byte) (*TableMetadata, error) {
	var md TableMetadata
	if err := jsonpkg.UnmarshalStrict(body, &md); err != nil {
		return nil, err
	}
	if md.CurrentSnapshotID != nil && *md.CurrentSnapshotID == -1 {
		md.CurrentSnapshotID = nil
	}
	for i := range md.Snapshots {
		if p := md.Snapshots[i].ParentSnapshotID; p != nil && *p == -1 {
			md.Snapshots[i].ParentSnapshotID = nil
		}
	}
	if md.FormatVersion == 0 {
		md.FormatVersion = 1
	}
	return &md, nil
}

// StringMap is a string to string JSON object whose scalar values are
// stringified on decode. Writers disagree on whether summary and property
// values are quoted.
type StringMap map[string]string

// UnmarshalJSON implements json.Unmarshaler.
func (m *StringMap) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := jsonpkg.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*m = nil
		return nil
	}
	out := make(StringMap, len(raw))
	for k, v := range raw {
		switch t := v.(type) {
		case nil:
			out[k] = ""
		case string:
			out[k] = t
		case bool:
			out[k] = strconv.FormatBool(t)
		default:
			out[k] = ValueOf(v).String()
		}
	}
	*m = out
	return nil
}

// DataFile is the canonical description of one live data file.
type DataFile struct {
	FilePath        string           `json:"filePath"`
	FileFormat      string           `json:"fileFormat"`
	Partition       map[string]Value `json:"partition"`
	RecordCount     int64            `json:"recordCount"`
	FileSizeInBytes int64            `json:"fileSizeInBytes"`
	ColumnSizes     map[string]int64 `json:"columnSizes,omitempty"`
	ValueCounts     map[string]int64 `json:"valueCounts,omitempty"`
	NullValueCounts map[string]int64 `json:"nullValueCounts,omitempty"`
}

// ManifestRef is one manifest referenced by a manifest list.
type ManifestRef struct {
	Path            string `json:"path"`
	Length          int64  `json:"length"`
	PartitionSpecID int32  `json:"partitionSpecId"`
	AddedSnapshotID *int64 `json:"addedSnapshotId"`
}

// PartitionStat aggregates the files sharing one canonical partition key.
type PartitionStat struct {
	Partition   map[string]Value `json:"partition"`
	FileCount   int64            `json:"fileCount"`
	RecordCount int64            `json:"recordCount"`
	TotalSize   int64            `json:"totalSize"`
}

// MetadataFileRecord is the audit entry of one metadata file found while
// resolving a table.
type MetadataFileRecord struct {
	File                 string  `json:"file"`
	Version              int     `json:"version"`
	TimestampMs          int64   `json:"timestamp"`
	CurrentSnapshotID    *string `json:"currentSnapshotId"`
	PreviousMetadataFile *string `json:"previousMetadataFile"`
}

// Resolution is the result of resolving a table's metadata.
type Resolution struct {
	Metadata     *TableMetadata
	MetadataFile string
	Files        []MetadataFileRecord
}

// FileTotals are the count, record and byte totals of a file list.
type FileTotals struct {
	Files   int64
	Records int64
	Size    int64
}

func totals(files []DataFile) FileTotals {
	t := FileTotals{Files: int64(len(files))}
	for _, f := range files {
		t.Records += f.RecordCount
		t.Size += f.FileSizeInBytes
	}
	return t
}

// currentSnapshotString renders the current snapshot id, "-1" when the table
// has none.
func (m *TableMetadata) currentSnapshotString() string {
	if m.CurrentSnapshotID == nil {
		return "-1"
	}
	return formatID(*m.CurrentSnapshotID)
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
