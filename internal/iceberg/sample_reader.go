package iceberg

import (
	"context"
	"encoding/base64"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Vadoid/iceberg-explorer/pkg/explorererrors"
	"github.com/Vadoid/iceberg-explorer/pkg/formats/columnar"
	"github.com/Vadoid/iceberg-explorer/pkg/metrics"
	"github.com/Vadoid/iceberg-explorer/pkg/observability"
)

const (
	// FileNameColumn is the display column added to every sampled row.
	FileNameColumn = "_file_name"

	// NoDataMessage is the message of an empty sample.
	NoDataMessage = "No data found"

	sampleTimeLayout   = "2006-01-02 15:04:05"
	scanListLimit      = 50
	defaultSampleLimit = 100
	defaultMaxSample   = 10000
	defaultSampleFiles = 10
)

// SampleRequest selects what to sample. FilePath wins over ManifestPath,
// which wins over SnapshotID; with none of them the current snapshot is used.
type SampleRequest struct {
	Bucket       string
	TablePath    string
	Limit        int
	SnapshotID   string
	ManifestPath string
	FilePath     string
}

// SampleResult is a bounded row sample.
type SampleResult struct {
	Rows      []map[string]interface{} `json:"rows"`
	Columns   []string                 `json:"columns"`
	TotalRows int                      `json:"totalRows"`
	FilesRead int                      `json:"filesRead"`
	Message   *string                  `json:"message"`
}

// sampleTarget is one data file to try.
type sampleTarget struct {
	key    string
	format columnar.Format
}

// targetStrategy resolves the files to sample. ok false passes the request on
// to the next strategy.
type targetStrategy struct {
	name string
	// fallThrough lets the next strategy run when these targets gave no rows.
	fallThrough bool
	resolve     func(ctx context.Context, req SampleRequest) (targets []sampleTarget, ok bool, err error)
}

// RowReaderFactory returns the row reader for a data file format.
type RowReaderFactory func(format columnar.Format) (columnar.RowReader, error)

// Sampler reads a bounded sample of rows from a table's data files.
type Sampler struct {
	resolver     *Resolver
	walker       *Walker
	logger       *zap.Logger
	readers      RowReaderFactory
	defaultLimit int
	maxLimit     int
	maxFiles     int
}

// SamplerOption configures a Sampler.
type SamplerOption func(*Sampler)

// WithSampleLimits sets the default row limit, the largest accepted limit and
// the most data files opened per sample. Non-positive values keep the default.
func WithSampleLimits(defaultLimit, maxLimit, maxFiles int) SamplerOption {
	return func(s *Sampler) {
		if defaultLimit > 0 {
			s.defaultLimit = defaultLimit
		}
		if maxLimit > 0 {
			s.maxLimit = maxLimit
		}
		if maxFiles > 0 {
			s.maxFiles = maxFiles
		}
	}
}

// WithRowReaders replaces the columnar reader factory.
func WithRowReaders(f RowReaderFactory) SamplerOption {
	return func(s *Sampler) {
		s.readers = f
	}
}

// NewSampler creates a Sampler.
func NewSampler(resolver *Resolver, walker *Walker, logger *zap.Logger, opts ...SamplerOption) *Sampler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sampler{
		resolver:     resolver,
		walker:       walker,
		logger:       logger,
		readers:      columnar.NewRowReader,
		defaultLimit: defaultSampleLimit,
		maxLimit:     defaultMaxSample,
		maxFiles:     defaultSampleFiles,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sample returns up to req.Limit rows. Files are opened in order until the
// limit is reached or the file budget is spent; what was gathered by then is
// returned. An unknown snapshot id is not_found.
func (s *Sampler) Sample(ctx context.Context, req SampleRequest) (*SampleResult, error) {
	timer := metrics.NewTimer(metrics.OperationSample)
	ctx, span := observability.StartSpan(ctx, "iceberg.sample",
		attribute.String("bucket", req.Bucket),
		attribute.String("table_path", req.TablePath),
		attribute.Int("limit", req.Limit))

	req.TablePath = strings.Trim(req.TablePath, "/")
	req.SnapshotID = strings.TrimSpace(req.SnapshotID)
	if req.Limit <= 0 {
		req.Limit = s.defaultLimit
	}
	if req.Limit > s.maxLimit {
		req.Limit = s.maxLimit
	}

	result, err := s.sample(ctx, req)

	observability.EndSpan(span, err)
	timer.ObserveResult(err)
	return result, err
}

func (s *Sampler) sample(ctx context.Context, req SampleRequest) (*SampleResult, error) {
	for _, strategy := range s.strategies() {
		targets, ok, err := strategy.resolve(ctx, req)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		result, err := s.read(ctx, req, targets)
		if err != nil {
			return nil, err
		}
		s.logger.Debug("sampled table",
			zap.String("strategy", strategy.name),
			zap.Int("targets", len(targets)),
			zap.Int("rows", result.TotalRows),
			zap.Int("files_read", result.FilesRead))
		if result.TotalRows > 0 || !strategy.fallThrough {
			return result, nil
		}
	}
	return emptySample(), nil
}

func (s *Sampler) strategies() []targetStrategy {
	return []targetStrategy{
		{name: "file", resolve: s.fileTargets},
		{name: "manifest", resolve: s.manifestTargets},
		{name: "snapshot", resolve: s.snapshotTargets},
		{name: "current_snapshot", resolve: s.currentSnapshotTargets, fallThrough: true},
		{name: "scan", resolve: s.scanTargets},
	}
}

func (s *Sampler) fileTargets(_ context.Context, req SampleRequest) ([]sampleTarget, bool, error) {
	if req.FilePath == "" {
		return nil, false, nil
	}
	key := NormalizeRef(req.FilePath, req.Bucket)
	return []sampleTarget{{key: key, format: formatFromName(key)}}, true, nil
}

func (s *Sampler) manifestTargets(ctx context.Context, req SampleRequest) ([]sampleTarget, bool, error) {
	if req.ManifestPath == "" {
		return nil, false, nil
	}
	files, err := s.walker.ReadManifest(ctx, req.Bucket, req.ManifestPath)
	if err != nil {
		return nil, false, err
	}
	return s.toTargets(req.Bucket, files), true, nil
}

func (s *Sampler) snapshotTargets(ctx context.Context, req SampleRequest) ([]sampleTarget, bool, error) {
	if req.SnapshotID == "" {
		return nil, false, nil
	}
	res, err := s.resolver.Resolve(ctx, req.Bucket, req.TablePath)
	if err != nil {
		return nil, false, err
	}
	snap, ok := findSnapshot(res.Metadata, req.SnapshotID)
	if !ok {
		return nil, false, snapshotNotFound(req.SnapshotID)
	}
	targets, err := s.snapshotFiles(ctx, req.Bucket, snap)
	return targets, err == nil, err
}

func (s *Sampler) currentSnapshotTargets(ctx context.Context, req SampleRequest) ([]sampleTarget, bool, error) {
	res, err := s.resolver.Resolve(ctx, req.Bucket, req.TablePath)
	if err != nil {
		if fatal(ctx, err) {
			return nil, false, err
		}
		s.logger.Debug("no metadata to sample from, scanning data files", zap.Error(err))
		return nil, false, nil
	}
	snap, ok := res.Metadata.CurrentSnapshot()
	if !ok {
		return nil, false, nil
	}
	targets, err := s.snapshotFiles(ctx, req.Bucket, snap)
	return targets, err == nil, err
}

// snapshotFiles reads manifests in list order until it has enough files for
// the open budget.
func (s *Sampler) snapshotFiles(ctx context.Context, bucket string, snap SnapshotRef) ([]sampleTarget, error) {
	if snap.ManifestList == "" {
		return nil, nil
	}
	refs, err := s.walker.ListManifests(ctx, bucket, snap.ManifestList)
	if err != nil {
		return nil, err
	}
	var targets []sampleTarget
	for _, ref := range refs {
		if len(targets) >= s.maxFiles {
			break
		}
		files, err := s.walker.ReadManifest(ctx, bucket, ref.Path)
		if err != nil {
			return nil, err
		}
		targets = append(targets, s.toTargets(bucket, files)...)
	}
	return targets, nil
}

func (s *Sampler) scanTargets(ctx context.Context, req SampleRequest) ([]sampleTarget, bool, error) {
	if req.SnapshotID != "" {
		return nil, false, nil
	}
	for _, prefix := range []string{req.TablePath + "/data/", req.TablePath + "/"} {
		objects, err := s.resolver.store.List(ctx, req.Bucket, prefix, scanListLimit)
		if err != nil {
			if fatal(ctx, err) {
				return nil, false, err
			}
			s.logger.Warn("failed to list data files", zap.String("prefix", prefix), zap.Error(err))
			continue
		}
		for _, obj := range objects {
			if strings.HasSuffix(obj.Name, ".parquet") {
				return []sampleTarget{{key: obj.Name, format: columnar.Parquet}}, true, nil
			}
		}
	}
	return nil, false, nil
}

func (s *Sampler) toTargets(bucket string, files []DataFile) []sampleTarget {
	out := make([]sampleTarget, 0, len(files))
	for _, f := range files {
		out = append(out, sampleTarget{
			key:    NormalizeRef(f.FilePath, bucket),
			format: columnar.ParseFormat(f.FileFormat),
		})
	}
	return out
}

// read opens targets in order. Each file contributes at most the rows still
// missing from the limit.
func (s *Sampler) read(ctx context.Context, req SampleRequest, targets []sampleTarget) (*SampleResult, error) {
	result := emptySample()
	attempts := 0
	for _, t := range targets {
		if len(result.Rows) >= req.Limit || attempts >= s.maxFiles {
			break
		}
		attempts++

		rows, err := s.readFile(ctx, req.Bucket, t, req.Limit-len(result.Rows))
		if err != nil {
			if fatal(ctx, err) {
				return nil, err
			}
			metrics.SampleFilesRead.WithLabelValues(metrics.ResultFailed).Inc()
			s.logger.Warn("failed to sample data file", zap.String("file", t.key), zap.Error(err))
			continue
		}
		if len(rows.Rows) == 0 {
			metrics.SampleFilesRead.WithLabelValues(metrics.ResultSkipped).Inc()
			continue
		}
		metrics.SampleFilesRead.WithLabelValues(metrics.ResultSuccess).Inc()

		display := DisplayPath(t.key)
		for _, row := range rows.Rows {
			out := make(map[string]interface{}, len(row)+1)
			for k, v := range row {
				out[k] = sampleValue(v)
			}
			out[FileNameColumn] = display
			result.Rows = append(result.Rows, out)
		}
		if len(result.Columns) == 0 {
			result.Columns = append([]string{FileNameColumn}, withoutColumn(rows.Columns, FileNameColumn)...)
		}
		result.FilesRead++
	}

	result.TotalRows = len(result.Rows)
	if result.TotalRows > 0 {
		result.Message = nil
	}
	return result, nil
}

func (s *Sampler) readFile(ctx context.Context, bucket string, t sampleTarget, limit int) (*columnar.Rows, error) {
	reader, err := s.readers(t.format)
	if err != nil {
		return nil, err
	}
	data, err := s.resolver.store.ReadBytes(ctx, bucket, t.key)
	if err != nil {
		return nil, err
	}
	rows, err := reader.ReadRows(ctx, data, limit)
	if err != nil {
		return nil, explorererrors.Wrap(err, explorererrors.ErrorTypeData, "failed to decode data file").
			WithDetail("file", t.key)
	}
	return rows, nil
}

func emptySample() *SampleResult {
	msg := NoDataMessage
	return &SampleResult{
		Rows:    []map[string]interface{}{},
		Columns: []string{},
		Message: &msg,
	}
}

// DisplayPath shortens a data file key for display: from the directory above
// "data" onwards, else the last three segments.
func DisplayPath(key string) string {
	parts := strings.Split(key, "/")
	if len(parts) <= 2 {
		return key
	}
	for i, p := range parts {
		if p == "data" {
			if i > 0 {
				return strings.Join(parts[i-1:], "/")
			}
			return key
		}
	}
	return strings.Join(parts[len(parts)-3:], "/")
}

func formatFromName(key string) columnar.Format {
	switch strings.ToLower(path.Ext(key)) {
	case ".avro":
		return columnar.Avro
	case ".orc":
		return columnar.ORC
	default:
		return columnar.Parquet
	}
}

func withoutColumn(columns []string, name string) []string {
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		if c != name {
			out = append(out, c)
		}
	}
	return out
}

// sampleValue converts decoded cells for display.
func sampleValue(v interface{}) interface{} {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(sampleTimeLayout)
	case []byte:
		if utf8.Valid(t) {
			return string(t)
		}
		return base64.StdEncoding.EncodeToString(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = sampleValue(item)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, item := range t {
			out[k] = sampleValue(item)
		}
		return out
	default:
		return v
	}
}
