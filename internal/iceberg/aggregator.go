package iceberg

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Vadoid/iceberg-explorer/pkg/explorererrors"
	"github.com/Vadoid/iceberg-explorer/pkg/metrics"
	"github.com/Vadoid/iceberg-explorer/pkg/observability"
)

const (
	treeUnpartitionedFiles = 10
	treePartitionGroups    = 5
	treeFilesPerGroup      = 5
)

// TableAnalysis is the full view of one table.
type TableAnalysis struct {
	TableName         string               `json:"tableName"`
	Location          string               `json:"location"`
	FormatVersion     int                  `json:"formatVersion"`
	Schema            []SchemaField        `json:"schema"`
	PartitionSpec     []PartitionField     `json:"partitionSpec"`
	SortOrder         []SortField          `json:"sortOrder"`
	Properties        map[string]string    `json:"properties"`
	CurrentSnapshotID string               `json:"currentSnapshotId"`
	Snapshots         []SnapshotInfo       `json:"snapshots"`
	DataFiles         []DataFile           `json:"dataFiles"`
	PartitionStats    []PartitionStat      `json:"partitionStats"`
	Statistics        TableStatistics      `json:"statistics"`
	MetadataFiles     []MetadataFileRecord `json:"metadataFiles"`
	MetadataFile      string               `json:"metadataFile"`
	MetadataLog       []MetadataLogRecord  `json:"metadataLog"`
}

// SnapshotInfo is one snapshot of the timeline with its statistics.
type SnapshotInfo struct {
	SnapshotID       string             `json:"snapshotId"`
	SequenceNumber   int64              `json:"sequenceNumber"`
	Timestamp        string             `json:"timestamp"`
	Summary          map[string]string  `json:"summary"`
	ManifestList     string             `json:"manifestList"`
	ParentSnapshotID *string            `json:"parentSnapshotId"`
	Statistics       SnapshotStatistics `json:"statistics"`
}

// SnapshotStatistics are the totals of one snapshot and its change against
// its parent.
type SnapshotStatistics struct {
	FileCount   int64         `json:"fileCount"`
	RecordCount int64         `json:"recordCount"`
	TotalSize   int64         `json:"totalSize"`
	Delta       SnapshotDelta `json:"delta"`
}

// SnapshotDelta is the signed change of a snapshot against its parent.
type SnapshotDelta struct {
	AddedFiles   int64 `json:"addedFiles"`
	AddedRecords int64 `json:"addedRecords"`
	AddedSize    int64 `json:"addedSize"`
}

// TableStatistics are the grand totals over every snapshot's files.
type TableStatistics struct {
	TotalFiles      int64 `json:"totalFiles"`
	TotalRecords    int64 `json:"totalRecords"`
	TotalSize       int64 `json:"totalSize"`
	TotalPartitions int64 `json:"totalPartitions"`
}

// MetadataLogRecord is one metadata-log entry.
type MetadataLogRecord struct {
	MetadataFile string `json:"metadataFile"`
	Timestamp    string `json:"timestamp"`
}

// Aggregator builds table analyses from resolved metadata and manifest walks.
type Aggregator struct {
	resolver *Resolver
	walker   *Walker
	logger   *zap.Logger
}

// NewAggregator creates an Aggregator.
func NewAggregator(resolver *Resolver, walker *Walker, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{resolver: resolver, walker: walker, logger: logger}
}

// Analyze resolves the table at tablePath and walks every snapshot. Either the
// whole timeline is returned or the call fails.
func (a *Aggregator) Analyze(ctx context.Context, bucket, tablePath string) (*TableAnalysis, error) {
	timer := metrics.NewTimer(metrics.OperationAnalyze)
	ctx, span := observability.StartSpan(ctx, "iceberg.analyze",
		attribute.String("bucket", bucket),
		attribute.String("table_path", tablePath))

	analysis, err := a.analyze(ctx, bucket, strings.Trim(tablePath, "/"))

	observability.EndSpan(span, err)
	elapsed := timer.ObserveResult(err)
	if err == nil {
		a.logger.Info("analyzed table",
			zap.String("bucket", bucket),
			zap.String("table_path", tablePath),
			zap.Int("snapshots", len(analysis.Snapshots)),
			zap.Int64("data_files", analysis.Statistics.TotalFiles),
			zap.Duration("duration", elapsed))
	}
	return analysis, err
}

func (a *Aggregator) analyze(ctx context.Context, bucket, tablePath string) (*TableAnalysis, error) {
	res, err := a.resolver.Resolve(ctx, bucket, tablePath)
	if err != nil {
		return nil, err
	}
	md := res.Metadata

	perSnapshot, err := a.walkSnapshots(ctx, bucket, md)
	if err != nil {
		return nil, err
	}

	snapshots := snapshotTimeline(md.Snapshots, perSnapshot)
	files := concat(perSnapshot)
	stats := PartitionStats(files)
	t := totals(files)

	analysis := &TableAnalysis{
		TableName:      tableName(tablePath),
		Location:       a.resolver.store.Scheme() + "://" + bucket + "/" + tablePath,
		FormatVersion:  md.FormatVersion,
		Schema:         CurrentSchema(md),
		PartitionSpec:  DefaultPartitionSpec(md),
		SortOrder:      DefaultSortOrder(md),
		Properties:     map[string]string(md.Properties),
		Snapshots:      snapshots,
		DataFiles:      files,
		PartitionStats: stats,
		Statistics: TableStatistics{
			TotalFiles:      t.Files,
			TotalRecords:    t.Records,
			TotalSize:       t.Size,
			TotalPartitions: int64(len(stats)),
		},
		CurrentSnapshotID: md.currentSnapshotString(),
		MetadataFiles:     res.Files,
		MetadataFile:      res.MetadataFile,
		MetadataLog:       make([]MetadataLogRecord, 0, len(md.MetadataLog)),
	}
	if analysis.Properties == nil {
		analysis.Properties = map[string]string{}
	}
	for _, entry := range md.MetadataLog {
		analysis.MetadataLog = append(analysis.MetadataLog, MetadataLogRecord{
			MetadataFile: entry.MetadataFile,
			Timestamp:    FormatTimestamp(entry.TimestampMs),
		})
	}
	return analysis, nil
}

// walkSnapshots lists every snapshot's files in parallel. Results keep the
// order of md.Snapshots.
func (a *Aggregator) walkSnapshots(ctx context.Context, bucket string, md *TableMetadata) ([][]DataFile, error) {
	walker := a.walker.ForTable(md)
	results := make([][]DataFile, len(md.Snapshots))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(walker.workers)
	for i, snap := range md.Snapshots {
		i, snap := i, snap
		g.Go(func() error {
			if snap.ManifestList == "" {
				results[i] = []DataFile{}
				return nil
			}
			files, err := walker.Files(gctx, bucket, snap.ManifestList)
			if err != nil {
				return err
			}
			results[i] = files
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, abortError(ctx, err, "snapshot walk failed")
	}
	if err := ctx.Err(); err != nil {
		return nil, abortError(ctx, err, "snapshot walk failed")
	}
	return results, nil
}

// abortError types a failure that aborted a walk. Cancellation wins over the
// error reported by whichever read noticed it first.
func abortError(ctx context.Context, err error, message string) error {
	if ctx.Err() != nil {
		return explorererrors.Wrap(ctx.Err(), explorererrors.ErrorTypeTimeout, message)
	}
	return err
}

// snapshotTimeline computes per-snapshot statistics in file order. A delta is
// taken against the most recently processed snapshot whose id is the parent
// id; without one the delta equals the absolute totals.
func snapshotTimeline(snaps []SnapshotRef, perSnapshot [][]DataFile) []SnapshotInfo {
	processed := make(map[int64]FileTotals, len(snaps))
	out := make([]SnapshotInfo, 0, len(snaps))
	for i, s := range snaps {
		t := totals(perSnapshot[i])
		delta := SnapshotDelta{AddedFiles: t.Files, AddedRecords: t.Records, AddedSize: t.Size}
		if s.ParentSnapshotID != nil && *s.ParentSnapshotID != 0 {
			if prev, ok := processed[*s.ParentSnapshotID]; ok {
				delta = SnapshotDelta{
					AddedFiles:   t.Files - prev.Files,
					AddedRecords: t.Records - prev.Records,
					AddedSize:    t.Size - prev.Size,
				}
			}
		}
		processed[s.SnapshotID] = t

		info := SnapshotInfo{
			SnapshotID:     formatID(s.SnapshotID),
			SequenceNumber: int64(i + 1),
			Timestamp:      FormatTimestamp(s.TimestampMs),
			Summary:        map[string]string(s.Summary),
			ManifestList:   s.ManifestList,
			Statistics: SnapshotStatistics{
				FileCount:   t.Files,
				RecordCount: t.Records,
				TotalSize:   t.Size,
				Delta:       delta,
			},
		}
		if s.SequenceNumber != nil {
			info.SequenceNumber = *s.SequenceNumber
		}
		if info.Summary == nil {
			info.Summary = map[string]string{}
		}
		if s.ParentSnapshotID != nil && *s.ParentSnapshotID != 0 {
			parent := formatID(*s.ParentSnapshotID)
			info.ParentSnapshotID = &parent
		}
		out = append(out, info)
	}
	return out
}

// PartitionStats buckets files by canonical partition key, in order of first
// appearance. Duplicate paths are counted every time they occur.
func PartitionStats(files []DataFile) []PartitionStat {
	index := map[string]int{}
	stats := []PartitionStat{}
	for _, f := range files {
		key := CanonicalPartitionKey(f.Partition)
		i, ok := index[key]
		if !ok {
			partition := f.Partition
			if partition == nil {
				partition = map[string]Value{}
			}
			i = len(stats)
			index[key] = i
			stats = append(stats, PartitionStat{Partition: partition})
		}
		stats[i].FileCount++
		stats[i].RecordCount += f.RecordCount
		stats[i].TotalSize += f.FileSizeInBytes
	}
	return stats
}

// FormatTimestamp renders epoch milliseconds as RFC 3339 UTC. Values <= 0 give
// the zero time.
func FormatTimestamp(ms int64) string {
	if ms <= 0 {
		return time.Time{}.Format(time.RFC3339Nano)
	}
	return formatISO(time.UnixMilli(ms))
}

func tableName(tablePath string) string {
	if i := strings.LastIndexByte(tablePath, '/'); i >= 0 {
		return tablePath[i+1:]
	}
	return tablePath
}

// SnapshotTree is the manifest tree of one snapshot.
type SnapshotTree struct {
	SnapshotID   *string        `json:"snapshotId"`
	ManifestList string         `json:"manifestList"`
	Partitioned  bool           `json:"partitioned"`
	Manifests    []ManifestNode `json:"manifests"`
}

// ManifestNode is one manifest with a bounded preview of its files.
type ManifestNode struct {
	ManifestRef
	DataFileCount       int              `json:"dataFileCount"`
	DataFiles           []FileSummary    `json:"dataFiles,omitempty"`
	Partitions          []PartitionGroup `json:"partitions,omitempty"`
	TotalPartitionCount int              `json:"totalPartitionCount,omitempty"`
}

// PartitionGroup is the files of one manifest sharing a partition.
type PartitionGroup struct {
	Name      string        `json:"name"`
	FileCount int           `json:"fileCount"`
	DataFiles []FileSummary `json:"dataFiles"`
}

// FileSummary is the short form of a data file.
type FileSummary struct {
	Path            string `json:"path"`
	Format          string `json:"format"`
	RecordCount     int64  `json:"recordCount"`
	FileSizeInBytes int64  `json:"fileSizeInBytes"`
}

// ManifestTree lists the manifests of a snapshot, the current one when
// snapshotID is nil. A table without a current snapshot has an empty tree.
func (a *Aggregator) ManifestTree(ctx context.Context, bucket, tablePath string, snapshotID *int64) (*SnapshotTree, error) {
	timer := metrics.NewTimer(metrics.OperationManifestTree)
	ctx, span := observability.StartSpan(ctx, "iceberg.manifest_tree",
		attribute.String("bucket", bucket),
		attribute.String("table_path", tablePath))

	tree, err := a.manifestTree(ctx, bucket, strings.Trim(tablePath, "/"), snapshotID)

	observability.EndSpan(span, err)
	timer.ObserveResult(err)
	return tree, err
}

func (a *Aggregator) manifestTree(ctx context.Context, bucket, tablePath string, snapshotID *int64) (*SnapshotTree, error) {
	res, err := a.resolver.Resolve(ctx, bucket, tablePath)
	if err != nil {
		return nil, err
	}
	md := res.Metadata

	var (
		snap SnapshotRef
		ok   bool
	)
	if snapshotID != nil {
		if snap, ok = md.Snapshot(*snapshotID); !ok {
			return nil, snapshotNotFound(formatID(*snapshotID))
		}
	} else if snap, ok = md.CurrentSnapshot(); !ok {
		return &SnapshotTree{Manifests: []ManifestNode{}}, nil
	}

	id := formatID(snap.SnapshotID)
	tree := &SnapshotTree{
		SnapshotID:   &id,
		ManifestList: snap.ManifestList,
		Partitioned:  len(DefaultPartitionSpec(md)) > 0,
		Manifests:    []ManifestNode{},
	}
	if snap.ManifestList == "" {
		return tree, nil
	}

	refs, err := a.walker.ListManifests(ctx, bucket, snap.ManifestList)
	if err != nil {
		return nil, abortError(ctx, err, "manifest tree walk failed")
	}
	perManifest, err := fanOut(ctx, a.walker.workers, len(refs), func(ctx context.Context, i int) ([]DataFile, error) {
		return a.walker.ReadManifest(ctx, bucket, refs[i].Path)
	})
	if err != nil {
		return nil, abortError(ctx, err, "manifest tree walk failed")
	}

	for i, ref := range refs {
		node := ManifestNode{ManifestRef: ref, DataFileCount: len(perManifest[i])}
		if tree.Partitioned {
			node.Partitions, node.TotalPartitionCount = partitionGroups(perManifest[i])
		} else {
			node.DataFiles = summaries(perManifest[i], treeUnpartitionedFiles)
		}
		tree.Manifests = append(tree.Manifests, node)
	}
	return tree, nil
}

func partitionGroups(files []DataFile) ([]PartitionGroup, int) {
	type group struct {
		name  string
		files []DataFile
	}
	groups := map[string]*group{}
	for _, f := range files {
		key := CanonicalPartitionKey(f.Partition)
		g, ok := groups[key]
		if !ok {
			g = &group{name: PartitionName(f.Partition)}
			groups[key] = g
		}
		g.files = append(g.files, f)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]PartitionGroup, 0, treePartitionGroups)
	for _, k := range keys {
		if len(out) == treePartitionGroups {
			break
		}
		g := groups[k]
		out = append(out, PartitionGroup{
			Name:      g.name,
			FileCount: len(g.files),
			DataFiles: summaries(g.files, treeFilesPerGroup),
		})
	}
	return out, len(groups)
}

// PartitionName renders a partition as "k=v, k=v" with sorted keys, or
// "Unpartitioned" when it is empty.
func PartitionName(partition map[string]Value) string {
	if len(partition) == 0 {
		return "Unpartitioned"
	}
	keys := make([]string, 0, len(partition))
	for k := range partition {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + partition[k].String()
	}
	return strings.Join(parts, ", ")
}

func summaries(files []DataFile, limit int) []FileSummary {
	if len(files) > limit {
		files = files[:limit]
	}
	out := make([]FileSummary, len(files))
	for i, f := range files {
		out[i] = FileSummary{
			Path:            f.FilePath,
			Format:          f.FileFormat,
			RecordCount:     f.RecordCount,
			FileSizeInBytes: f.FileSizeInBytes,
		}
	}
	return out
}

func snapshotNotFound(id string) error {
	return explorererrors.Newf(explorererrors.ErrorTypeNotFound, "snapshot %s not found", id).
		WithDetail("snapshot_id", id)
}
