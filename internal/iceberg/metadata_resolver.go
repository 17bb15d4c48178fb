package iceberg

import (
	"context"
	"path"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Vadoid/iceberg-explorer/pkg/explorererrors"
	"github.com/Vadoid/iceberg-explorer/pkg/observability"
	"github.com/Vadoid/iceberg-explorer/pkg/storage"
)

const (
	metadataSuffix = ".metadata.json"

	// diagnostic listings attached to NotFound errors
	diagnosticListLimit = 20
	diagnosticShowLimit = 10
)

// Resolver locates and parses the latest metadata file of a table.
type Resolver struct {
	store  ObjectStore
	logger *zap.Logger
}

// NewResolver creates a Resolver reading through store.
func NewResolver(store ObjectStore, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{store: store, logger: logger}
}

// searchStep is one listing attempt. dirCheck requires the containing
// directory of a candidate to mention "metadata".
type searchStep struct {
	prefixes []string
	dirCheck bool
}

func searchSteps(tablePath string) []searchStep {
	return []searchStep{
		{prefixes: []string{tablePath + "/metadata/"}, dirCheck: true},
		{prefixes: []string{tablePath + "/metadata", tablePath + "metadata/"}, dirCheck: true},
		{prefixes: []string{tablePath + "/"}, dirCheck: false},
	}
}

// Resolve finds every metadata file of the table at tablePath, parses the one
// with the highest version and returns it with the audit trail of all
// candidates. It fails with a not_found error when no candidate exists and a
// parse error when the selected body is not a metadata document.
func (r *Resolver) Resolve(ctx context.Context, bucket, tablePath string) (*Resolution, error) {
	ctx, span := observability.StartSpan(ctx, "iceberg.resolve_metadata",
		attribute.String("bucket", bucket),
		attribute.String("table_path", tablePath))
	res, err := r.resolve(ctx, bucket, strings.Trim(tablePath, "/"))
	observability.EndSpan(span, err)
	return res, err
}

func (r *Resolver) resolve(ctx context.Context, bucket, tablePath string) (*Resolution, error) {
	var candidates []storage.ObjectInfo
	for _, step := range searchSteps(tablePath) {
		found, err := r.listCandidates(ctx, bucket, step)
		if err != nil {
			return nil, err
		}
		if len(found) > 0 {
			candidates = found
			break
		}
	}
	if len(candidates) == 0 {
		return nil, r.notFound(ctx, bucket, tablePath)
	}

	records := make([]MetadataFileRecord, len(candidates))
	latest := -1
	for i, c := range candidates {
		records[i] = MetadataFileRecord{
			File:        objectURI(r.store, bucket, c.Name),
			Version:     ParseVersion(path.Base(c.Name)),
			TimestampMs: updatedMs(c.Updated),
		}
		if latest < 0 || newer(records[i], c, records[latest], candidates[latest]) {
			latest = i
		}
	}

	chosen := candidates[latest]
	r.logger.Debug("selected metadata file",
		zap.String("file", chosen.Name),
		zap.Int("version", records[latest].Version),
		zap.Int("candidates", len(candidates)))

	body, err := r.store.ReadBytes(ctx, bucket, chosen.Name)
	if err != nil {
		return nil, explorererrors.Wrap(err, explorererrors.TypeOf(err), "failed to read metadata file").
			WithDetail("file", records[latest].File)
	}

	md, err := parseMetadata(body)
	if err != nil {
		return nil, explorererrors.Wrap(err, explorererrors.ErrorTypeParse, "invalid metadata JSON").
			WithDetail("file", records[latest].File)
	}

	current := md.currentSnapshotString()
	records[latest].CurrentSnapshotID = &current
	records[latest].PreviousMetadataFile = md.previousMetadataFile()

	return &Resolution{
		Metadata:     md,
		MetadataFile: records[latest].File,
		Files:        records,
	}, nil
}

// newer reports whether candidate a should be preferred over b: higher
// version first, then the most recent modification time.
func newer(a MetadataFileRecord, ao storage.ObjectInfo, b MetadataFileRecord, bo storage.ObjectInfo) bool {
	if a.Version != b.Version {
		return a.Version > b.Version
	}
	return ao.Updated.After(bo.Updated)
}

func (r *Resolver) listCandidates(ctx context.Context, bucket string, step searchStep) ([]storage.ObjectInfo, error) {
	seen := map[string]bool{}
	var out []storage.ObjectInfo
	for _, prefix := range step.prefixes {
		objects, err := r.store.List(ctx, bucket, prefix, 0)
		if err != nil {
			if explorererrors.IsCredentialError(err) || ctx.Err() != nil {
				return nil, err
			}
			r.logger.Warn("failed to list metadata prefix",
				zap.String("prefix", prefix),
				zap.Error(err))
			continue
		}
		for _, obj := range objects {
			if seen[obj.Name] || !isMetadataFile(obj.Name, step.dirCheck) {
				continue
			}
			seen[obj.Name] = true
			out = append(out, obj)
		}
	}
	return out, nil
}

func isMetadataFile(name string, dirCheck bool) bool {
	if !strings.HasSuffix(name, metadataSuffix) {
		return false
	}
	if !dirCheck {
		return true
	}
	dir := ""
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		dir = name[:i]
	}
	return strings.Contains(strings.ToLower(dir), "metadata")
}

// ParseVersion extracts the version from a metadata file name:
// "v12.metadata.json" and "00012-<uuid>.metadata.json" are both 12. It
// returns -1 when the name follows neither convention.
func ParseVersion(filename string) int {
	if strings.HasPrefix(filename, "v") && strings.Contains(filename, metadataSuffix) {
		token := filename[1:]
		if i := strings.IndexByte(token, '.'); i >= 0 {
			token = token[:i]
		}
		if v, ok := parseDigits(token); ok {
			return v
		}
	}
	if i := strings.IndexByte(filename, '-'); i > 0 {
		if v, ok := parseDigits(filename[:i]); ok {
			return v
		}
	}
	return -1
}

func parseDigits(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return v, true
}

// notFound builds the not_found error with a listing of nearby objects.
func (r *Resolver) notFound(ctx context.Context, bucket, tablePath string) error {
	searched := []string{tablePath + "/metadata/", tablePath + "/metadata", tablePath + "metadata/"}

	var nearby []string
	for _, prefix := range searched {
		nearby = append(nearby, r.names(ctx, bucket, prefix, diagnosticListLimit)...)
	}
	source := "metadata directories"
	if len(nearby) == 0 {
		nearby = r.names(ctx, bucket, tablePath, diagnosticListLimit)
		source = "table path"
	}
	if len(nearby) == 0 {
		if i := strings.LastIndexByte(tablePath, '/'); i > 0 {
			nearby = r.names(ctx, bucket, tablePath[:i]+"/", diagnosticShowLimit)
			source = "parent directory"
		}
	}
	if len(nearby) > diagnosticShowLimit {
		nearby = nearby[:diagnosticShowLimit]
	}

	err := explorererrors.Newf(explorererrors.ErrorTypeNotFound, "no metadata files found at path: %s", tablePath).
		WithDetail("searched_prefixes", searched).
		WithDetail("nearby_files", nearby)
	if len(nearby) > 0 {
		err.WithDetail("nearby_source", source)
	}
	return err
}

func (r *Resolver) names(ctx context.Context, bucket, prefix string, limit int) []string {
	objects, err := r.store.List(ctx, bucket, prefix, limit)
	if err != nil {
		r.logger.Debug("diagnostic listing failed", zap.String("prefix", prefix), zap.Error(err))
		return nil
	}
	names := make([]string, 0, len(objects))
	for _, obj := range objects {
		names = append(names, obj.Name)
	}
	return names
}

func updatedMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
