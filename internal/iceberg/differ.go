package iceberg

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Vadoid/iceberg-explorer/pkg/metrics"
	"github.com/Vadoid/iceberg-explorer/pkg/observability"
)

// SnapshotDiff is the file-level difference between two snapshots.
type SnapshotDiff struct {
	Snapshot1     SnapshotSummary `json:"snapshot1"`
	Snapshot2     SnapshotSummary `json:"snapshot2"`
	AddedFiles    []DataFile      `json:"addedFiles"`
	RemovedFiles  []DataFile      `json:"removedFiles"`
	ModifiedFiles []FileChange    `json:"modifiedFiles"`
	Statistics    DiffStatistics  `json:"statistics"`
	Summary       DiffSummary     `json:"summary"`
}

// SnapshotSummary identifies one side of a diff.
type SnapshotSummary struct {
	SnapshotID   string            `json:"snapshotId"`
	Timestamp    string            `json:"timestamp"`
	Summary      map[string]string `json:"summary"`
	ManifestList string            `json:"manifestList"`
}

// FileChange is a file present on both sides with different size or count.
type FileChange struct {
	FilePath string     `json:"filePath"`
	Before   DataFile   `json:"before"`
	After    DataFile   `json:"after"`
	Changes  FileDeltas `json:"changes"`
}

// FileDeltas are the signed changes of a modified file.
type FileDeltas struct {
	SizeDelta   int64 `json:"sizeDelta"`
	RecordDelta int64 `json:"recordDelta"`
}

// DiffStatistics are the totals of each side and their signed difference.
type DiffStatistics struct {
	Snapshot1 SnapshotTotals `json:"snapshot1"`
	Snapshot2 SnapshotTotals `json:"snapshot2"`
	Delta     SideTotals     `json:"delta"`
}

// SnapshotTotals are the file, record and byte totals of one side.
type SnapshotTotals struct {
	FileCount   int64 `json:"fileCount"`
	RecordCount int64 `json:"recordCount"`
	TotalSize   int64 `json:"totalSize"`
}

// SideTotals are signed file, record and byte differences.
type SideTotals struct {
	Files   int64 `json:"files"`
	Records int64 `json:"records"`
	Size    int64 `json:"size"`
}

// DiffSummary counts the changed files.
type DiffSummary struct {
	AddedCount    int `json:"addedCount"`
	RemovedCount  int `json:"removedCount"`
	ModifiedCount int `json:"modifiedCount"`
}

// Differ compares the file sets of two snapshots.
type Differ struct {
	resolver *Resolver
	walker   *Walker
	logger   *zap.Logger
}

// NewDiffer creates a Differ.
func NewDiffer(resolver *Resolver, walker *Walker, logger *zap.Logger) *Differ {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Differ{resolver: resolver, walker: walker, logger: logger}
}

// Diff compares snapshot fromID to snapshot toID. An empty fromID is the
// start of history, a snapshot without files. Unknown ids are not_found.
// Files are matched by path; the order of the result lists carries no meaning.
func (d *Differ) Diff(ctx context.Context, bucket, tablePath, fromID, toID string) (*SnapshotDiff, error) {
	timer := metrics.NewTimer(metrics.OperationCompare)
	ctx, span := observability.StartSpan(ctx, "iceberg.compare",
		attribute.String("bucket", bucket),
		attribute.String("table_path", tablePath),
		attribute.String("from", fromID),
		attribute.String("to", toID))

	diff, err := d.diff(ctx, bucket, strings.Trim(tablePath, "/"), strings.TrimSpace(fromID), strings.TrimSpace(toID))

	observability.EndSpan(span, err)
	timer.ObserveResult(err)
	return diff, err
}

func (d *Differ) diff(ctx context.Context, bucket, tablePath, fromID, toID string) (*SnapshotDiff, error) {
	res, err := d.resolver.Resolve(ctx, bucket, tablePath)
	if err != nil {
		return nil, err
	}
	md := res.Metadata

	to, ok := findSnapshot(md, toID)
	if !ok {
		return nil, snapshotNotFound(toID)
	}
	from := SnapshotRef{}
	if fromID != "" {
		if from, ok = findSnapshot(md, fromID); !ok {
			return nil, snapshotNotFound(fromID)
		}
	}

	walker := d.walker.ForTable(md)
	before, err := d.files(ctx, walker, bucket, from)
	if err != nil {
		return nil, err
	}
	after, err := d.files(ctx, walker, bucket, to)
	if err != nil {
		return nil, err
	}

	diff := compareFiles(before, after)
	diff.Snapshot1 = snapshotSummary(from)
	diff.Snapshot2 = snapshotSummary(to)

	d.logger.Debug("compared snapshots",
		zap.String("from", diff.Snapshot1.SnapshotID),
		zap.String("to", diff.Snapshot2.SnapshotID),
		zap.Int("added", diff.Summary.AddedCount),
		zap.Int("removed", diff.Summary.RemovedCount),
		zap.Int("modified", diff.Summary.ModifiedCount))
	return diff, nil
}

func (d *Differ) files(ctx context.Context, walker *Walker, bucket string, snap SnapshotRef) ([]DataFile, error) {
	if snap.ManifestList == "" {
		return []DataFile{}, nil
	}
	files, err := walker.Files(ctx, bucket, snap.ManifestList)
	if err != nil {
		return nil, abortError(ctx, err, "snapshot walk failed")
	}
	return files, nil
}

func findSnapshot(md *TableMetadata, id string) (SnapshotRef, bool) {
	for _, s := range md.Snapshots {
		if formatID(s.SnapshotID) == id {
			return s, true
		}
	}
	return SnapshotRef{}, false
}

func snapshotSummary(s SnapshotRef) SnapshotSummary {
	summary := map[string]string(s.Summary)
	if summary == nil {
		summary = map[string]string{}
	}
	return SnapshotSummary{
		SnapshotID:   formatID(s.SnapshotID),
		Timestamp:    FormatTimestamp(s.TimestampMs),
		Summary:      summary,
		ManifestList: s.ManifestList,
	}
}

// pathIndex maps paths to files. A path seen twice keeps its first position
// and its last value.
type pathIndex struct {
	order []string
	files map[string]DataFile
}

func indexByPath(files []DataFile) pathIndex {
	idx := pathIndex{files: make(map[string]DataFile, len(files))}
	for _, f := range files {
		if _, ok := idx.files[f.FilePath]; !ok {
			idx.order = append(idx.order, f.FilePath)
		}
		idx.files[f.FilePath] = f
	}
	return idx
}

// compareFiles builds the diff of two file lists. Statistics are taken over
// the raw lists, duplicates included.
func compareFiles(before, after []DataFile) *SnapshotDiff {
	a, b := indexByPath(before), indexByPath(after)
	diff := &SnapshotDiff{
		AddedFiles:    []DataFile{},
		RemovedFiles:  []DataFile{},
		ModifiedFiles: []FileChange{},
	}

	for _, p := range b.order {
		newer := b.files[p]
		older, ok := a.files[p]
		if !ok {
			diff.AddedFiles = append(diff.AddedFiles, newer)
			continue
		}
		if older.FileSizeInBytes != newer.FileSizeInBytes || older.RecordCount != newer.RecordCount {
			diff.ModifiedFiles = append(diff.ModifiedFiles, FileChange{
				FilePath: p,
				Before:   older,
				After:    newer,
				Changes: FileDeltas{
					SizeDelta:   newer.FileSizeInBytes - older.FileSizeInBytes,
					RecordDelta: newer.RecordCount - older.RecordCount,
				},
			})
		}
	}
	for _, p := range a.order {
		if _, ok := b.files[p]; !ok {
			diff.RemovedFiles = append(diff.RemovedFiles, a.files[p])
		}
	}

	t1, t2 := totals(before), totals(after)
	diff.Statistics = DiffStatistics{
		Snapshot1: SnapshotTotals{FileCount: t1.Files, RecordCount: t1.Records, TotalSize: t1.Size},
		Snapshot2: SnapshotTotals{FileCount: t2.Files, RecordCount: t2.Records, TotalSize: t2.Size},
		Delta:     SideTotals{Files: t2.Files - t1.Files, Records: t2.Records - t1.Records, Size: t2.Size - t1.Size},
	}
	diff.Summary = DiffSummary{
		AddedCount:    len(diff.AddedFiles),
		RemovedCount:  len(diff.RemovedFiles),
		ModifiedCount: len(diff.ModifiedFiles),
	}
	return diff
}
