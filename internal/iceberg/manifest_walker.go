package iceberg

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Vadoid/iceberg-explorer/pkg/explorererrors"
	"github.com/Vadoid/iceberg-explorer/pkg/formats/container"
	"github.com/Vadoid/iceberg-explorer/pkg/metrics"
)

const (
	defaultWorkers = 8

	entryStatusDeleted = 2
)

// walkStrategy turns the bytes of a manifest list into data files. ok is false
// when the strategy cannot handle the input and the next one should be tried.
// err is reserved for failures that must reach the caller.
type walkStrategy interface {
	name() string
	dataFiles(ctx context.Context, bucket string, list []byte) (files []DataFile, ok bool, err error)
}

// Walker resolves manifest lists into the live data files they reference.
type Walker struct {
	store          ObjectStore
	reader         *container.Reader
	logger         *zap.Logger
	workers        int
	useLibrary     bool
	partitionNames map[int]string
}

// WalkerOption configures a Walker.
type WalkerOption func(*Walker)

// WithWorkers bounds how many manifests are read concurrently.
func WithWorkers(n int) WalkerOption {
	return func(w *Walker) {
		if n > 0 {
			w.workers = n
		}
	}
}

// WithLibrary enables the iceberg-go strategy ahead of the manual one.
func WithLibrary(enabled bool) WalkerOption {
	return func(w *Walker) {
		w.useLibrary = enabled
	}
}

// WithContainerReader replaces the default container reader.
func WithContainerReader(r *container.Reader) WalkerOption {
	return func(w *Walker) {
		w.reader = r
	}
}

// NewWalker creates a Walker reading through store.
func NewWalker(store ObjectStore, logger *zap.Logger, opts ...WalkerOption) *Walker {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Walker{
		store:   store,
		logger:  logger,
		workers: defaultWorkers,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.reader == nil {
		w.reader = container.NewReader(logger)
	}
	return w
}

// ForTable returns a copy of w that knows the partition field names of md.
// The iceberg-go strategy reports partition values by field id and needs them.
func (w *Walker) ForTable(md *TableMetadata) *Walker {
	cp := *w
	cp.partitionNames = partitionFieldNames(md)
	return &cp
}

func (w *Walker) strategies() []walkStrategy {
	var out []walkStrategy
	if w.useLibrary {
		out = append(out, libraryStrategy{w: w})
	}
	return append(out, manualStrategy{w: w})
}

// ListDataFiles returns the live data files reachable from a manifest list.
// It never fails: unreadable lists or manifests contribute no files and are
// logged, so an empty result may be incomplete.
func (w *Walker) ListDataFiles(ctx context.Context, bucket, manifestListRef string) []DataFile {
	files, err := w.Files(ctx, bucket, manifestListRef)
	if err != nil {
		w.logger.Warn("manifest list walk aborted",
			zap.String("manifest_list", manifestListRef),
			zap.Error(err))
		return []DataFile{}
	}
	return files
}

// Files is ListDataFiles for callers that must see credential failures and
// cancellation. Any other failure is contained as in ListDataFiles.
func (w *Walker) Files(ctx context.Context, bucket, manifestListRef string) ([]DataFile, error) {
	key := NormalizeRef(manifestListRef, bucket)
	if key == "" {
		return []DataFile{}, nil
	}

	data, err := w.read(ctx, bucket, key, "manifest_list")
	if err != nil || data == nil {
		return []DataFile{}, err
	}

	for _, s := range w.strategies() {
		files, ok, err := s.dataFiles(ctx, bucket, data)
		if err != nil {
			return nil, err
		}
		if ok {
			w.logger.Debug("walked manifest list",
				zap.String("manifest_list", key),
				zap.String("strategy", s.name()),
				zap.Int("data_files", len(files)))
			return files, nil
		}
	}
	return []DataFile{}, nil
}

// ListManifests returns the manifests referenced by a manifest list.
func (w *Walker) ListManifests(ctx context.Context, bucket, manifestListRef string) ([]ManifestRef, error) {
	key := NormalizeRef(manifestListRef, bucket)
	if key == "" {
		return []ManifestRef{}, nil
	}
	data, err := w.read(ctx, bucket, key, "manifest_list")
	if err != nil || data == nil {
		return []ManifestRef{}, err
	}
	return w.manifestRefs(data), nil
}

// ReadManifest returns the live data files of one manifest. Failures other
// than credential errors and cancellation yield no files.
func (w *Walker) ReadManifest(ctx context.Context, bucket, manifestPath string) ([]DataFile, error) {
	key := NormalizeRef(manifestPath, bucket)
	if key == "" {
		return []DataFile{}, nil
	}
	data, err := w.read(ctx, bucket, key, "manifest")
	if err != nil || data == nil {
		return []DataFile{}, err
	}
	return w.manifestDataFiles(data), nil
}

// read fetches an object. Contained failures return nil data and nil error.
func (w *Walker) read(ctx context.Context, bucket, key, kind string) ([]byte, error) {
	data, err := w.store.ReadBytes(ctx, bucket, key)
	if err == nil {
		metrics.ManifestsRead.WithLabelValues(metrics.ResultSuccess).Inc()
		return data, nil
	}

	metrics.ManifestsRead.WithLabelValues(metrics.ResultFailed).Inc()
	if fatal(ctx, err) {
		return nil, err
	}
	w.logger.Warn("failed to read "+strings.ReplaceAll(kind, "_", " "),
		zap.String("manifest", key),
		zap.Error(err))
	return nil, nil
}

// fatal reports whether err must abort a walk instead of being contained.
func fatal(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return explorererrors.IsCredentialError(err)
}

// manifestRefs decodes a manifest list into its manifest entries.
func (w *Walker) manifestRefs(data []byte) []ManifestRef {
	records := unwrapRecords(w.reader.Decode(data), "manifests")
	refs := make([]ManifestRef, 0, len(records))
	for _, rec := range records {
		path, ok := lookupString(rec, FieldManifestPath)
		if !ok {
			continue
		}
		ref := ManifestRef{Path: path}
		ref.Length, _ = lookupInt(rec, FieldManifestLength)
		if id, ok := lookupInt(rec, FieldPartitionSpecID); ok {
			ref.PartitionSpecID = int32(id)
		}
		if id, ok := lookupInt(rec, FieldAddedSnapshotID); ok {
			ref.AddedSnapshotID = &id
		}
		refs = append(refs, ref)
	}
	return refs
}

// manifestDataFiles decodes one manifest into its live data files.
func (w *Walker) manifestDataFiles(data []byte) []DataFile {
	records := unwrapRecords(w.reader.Decode(data), "entries")
	files := make([]DataFile, 0, len(records))
	for _, entry := range records {
		if status, ok := lookupInt(entry, FieldStatus); ok && status == entryStatusDeleted {
			continue
		}
		if f, ok := dataFileFromEntry(entry); ok {
			files = append(files, f)
		}
	}
	return files
}

// unwrapRecords accepts the JSON shape {"<key>": [...]} in place of a bare
// record list.
func unwrapRecords(records []container.Record, key string) []container.Record {
	if len(records) != 1 {
		return records
	}
	items, ok := records[0][key].([]interface{})
	if !ok {
		return records
	}
	out := make([]container.Record, 0, len(items))
	for _, item := range items {
		if rec, ok := item.(map[string]interface{}); ok {
			out = append(out, rec)
		}
	}
	return out
}

// dataFileFromEntry builds a DataFile from a manifest entry. The data file is
// the nested data_file record, or the entry itself when there is none. Counts
// missing on the data file fall back to the entry.
func dataFileFromEntry(entry container.Record) (DataFile, bool) {
	df, ok := lookupRecord(entry, FieldDataFile)
	if !ok {
		df = entry
	}

	path, ok := lookupString(df, FieldFilePath)
	if !ok {
		return DataFile{}, false
	}

	f := DataFile{
		FilePath:        path,
		FileFormat:      "parquet",
		Partition:       map[string]Value{},
		ColumnSizes:     statMap(df, FieldColumnSizes),
		ValueCounts:     statMap(df, FieldValueCounts),
		NullValueCounts: statMap(df, FieldNullValueCounts),
	}
	if format, ok := lookupString(df, FieldFileFormat); ok {
		f.FileFormat = format
	}
	if part, ok := lookupRecord(df, FieldPartition); ok {
		for k, v := range part {
			f.Partition[k] = ValueOf(v).Normalized()
		}
	}

	if n, ok := lookupInt(df, FieldRecordCount); ok {
		f.RecordCount = n
	} else if n, ok := lookupInt(entry, FieldRecordCount); ok {
		f.RecordCount = n
	}
	if n, ok := lookupInt(df, FieldFileSize); ok {
		f.FileSizeInBytes = n
	} else if n, ok := lookupInt(entry, FieldFileSize); ok {
		f.FileSizeInBytes = n
	}
	return f, true
}

// manualStrategy walks container records through the alias table.
type manualStrategy struct {
	w *Walker
}

func (manualStrategy) name() string { return "manual" }

func (s manualStrategy) dataFiles(ctx context.Context, bucket string, list []byte) ([]DataFile, bool, error) {
	refs := s.w.manifestRefs(list)
	results, err := fanOut(ctx, s.w.workers, len(refs), func(ctx context.Context, i int) ([]DataFile, error) {
		return s.w.ReadManifest(ctx, bucket, refs[i].Path)
	})
	if err != nil {
		return nil, false, err
	}
	return concat(results), true, nil
}

// fanOut runs fn for indices [0, n) with at most workers in flight and returns
// the results in index order.
func fanOut(ctx context.Context, workers, n int, fn func(ctx context.Context, i int) ([]DataFile, error)) ([][]DataFile, error) {
	results := make([][]DataFile, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			files, err := fn(gctx, i)
			if err != nil {
				return err
			}
			results[i] = files
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func concat(parts [][]DataFile) []DataFile {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]DataFile, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
