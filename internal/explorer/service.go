// Package explorer is the request-scoped facade behind the HTTP API and the
// CLI. It opens an object store for the caller's credentials, builds the
// Iceberg core on top of it and runs one operation.
package explorer

import (
	"context"
	"io"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/Vadoid/iceberg-explorer/internal/bigquery"
	"github.com/Vadoid/iceberg-explorer/internal/iceberg"
	"github.com/Vadoid/iceberg-explorer/pkg/config"
	"github.com/Vadoid/iceberg-explorer/pkg/explorererrors"
	"github.com/Vadoid/iceberg-explorer/pkg/logger"
	"github.com/Vadoid/iceberg-explorer/pkg/storage"
)

// StoreFactory opens an object store for one set of credentials. The store
// is closed when the operation completes.
type StoreFactory func(ctx context.Context, creds storage.Credentials) (storage.Store, error)

// CatalogFactory opens a BigQuery catalog of projectID. Catalogs that
// implement io.Closer are closed after use.
type CatalogFactory func(ctx context.Context, projectID string, creds storage.Credentials) (bigquery.Catalog, error)

// Service runs explorer operations.
type Service struct {
	cfg      *config.Config
	logger   *zap.Logger
	stores   StoreFactory
	catalogs CatalogFactory
	projects ProjectSource
}

// Option configures a Service.
type Option func(*Service)

// WithStoreFactory replaces the configured storage backend.
func WithStoreFactory(f StoreFactory) Option {
	return func(s *Service) {
		s.stores = f
	}
}

// WithCatalogFactory replaces the BigQuery client.
func WithCatalogFactory(f CatalogFactory) Option {
	return func(s *Service) {
		s.catalogs = f
	}
}

// WithProjectSource replaces the Resource Manager project listing.
func WithProjectSource(p ProjectSource) Option {
	return func(s *Service) {
		s.projects = p
	}
}

// New creates a Service. A nil cfg uses config.Default().
func New(cfg *config.Config, log *zap.Logger, opts ...Option) *Service {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{cfg: cfg, logger: log}
	s.stores = func(ctx context.Context, creds storage.Credentials) (storage.Store, error) {
		return storage.Open(ctx, cfg.Storage, creds, log)
	}
	s.catalogs = func(ctx context.Context, projectID string, creds storage.Credentials) (bigquery.Catalog, error) {
		return bigquery.NewClientCatalog(ctx, projectID, creds.ClientOptions()...)
	}
	s.projects = NewResourceManagerProjects(cfg.Storage, log)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// core is the Iceberg machinery bound to one store.
type core struct {
	aggregator *iceberg.Aggregator
	differ     *iceberg.Differ
	sampler    *iceberg.Sampler
}

func (s *Service) newCore(store storage.Store, log *zap.Logger) *core {
	ic := s.cfg.Iceberg
	resolver := iceberg.NewResolver(store, log)
	walker := iceberg.NewWalker(store, log,
		iceberg.WithWorkers(ic.GetWorkers()),
		iceberg.WithLibrary(ic.UseLibrary))
	return &core{
		aggregator: iceberg.NewAggregator(resolver, walker, log),
		differ:     iceberg.NewDiffer(resolver, walker, log),
		sampler: iceberg.NewSampler(resolver, walker, log,
			iceberg.WithSampleLimits(ic.DefaultSampleLimit, ic.MaxSampleLimit, ic.MaxSampleFiles)),
	}
}

// withStore opens a store for creds, runs fn and closes the store.
func (s *Service) withStore(ctx context.Context, creds storage.Credentials, fn func(storage.Store) error) error {
	store, err := s.stores(ctx, creds)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			s.logger.Debug("failed to close store", zap.Error(cerr))
		}
	}()
	return fn(store)
}

func (s *Service) withCore(ctx context.Context, creds storage.Credentials, fn func(*core) error) error {
	log := logger.WithContext(ctx, s.logger)
	return s.withStore(ctx, creds, func(store storage.Store) error {
		return fn(s.newCore(store, log))
	})
}

// Analyze returns the full analysis of the table at bucket/tablePath.
func (s *Service) Analyze(ctx context.Context, creds storage.Credentials, bucket, tablePath string) (*iceberg.TableAnalysis, error) {
	if err := requireTable(bucket, tablePath); err != nil {
		return nil, err
	}
	ctx = logger.WithTable(ctx, bucket, tablePath)

	var analysis *iceberg.TableAnalysis
	err := s.withCore(ctx, creds, func(c *core) error {
		var err error
		analysis, err = c.aggregator.Analyze(ctx, bucket, tablePath)
		return err
	})
	return analysis, err
}

// Sample reads a bounded sample of rows.
func (s *Service) Sample(ctx context.Context, creds storage.Credentials, req iceberg.SampleRequest) (*iceberg.SampleResult, error) {
	if err := requireTable(req.Bucket, req.TablePath); err != nil {
		return nil, err
	}
	ctx = logger.WithTable(ctx, req.Bucket, req.TablePath)

	var result *iceberg.SampleResult
	err := s.withCore(ctx, creds, func(c *core) error {
		var err error
		result, err = c.sampler.Sample(ctx, req)
		return err
	})
	return result, err
}

// Compare diffs the data files of two snapshots. An empty fromID compares
// against an empty table.
func (s *Service) Compare(ctx context.Context, creds storage.Credentials, bucket, tablePath, fromID, toID string) (*iceberg.SnapshotDiff, error) {
	if err := requireTable(bucket, tablePath); err != nil {
		return nil, err
	}
	if strings.TrimSpace(toID) == "" {
		return nil, explorererrors.New(explorererrors.ErrorTypeValidation, "snapshot_id_2 is required")
	}
	ctx = logger.WithTable(ctx, bucket, tablePath)

	var diff *iceberg.SnapshotDiff
	err := s.withCore(ctx, creds, func(c *core) error {
		var err error
		diff, err = c.differ.Diff(ctx, bucket, tablePath, strings.TrimSpace(fromID), strings.TrimSpace(toID))
		return err
	})
	return diff, err
}

// ManifestTree returns the manifests of a snapshot, the current one when
// snapshotID is empty.
func (s *Service) ManifestTree(ctx context.Context, creds storage.Credentials, bucket, tablePath, snapshotID string) (*iceberg.SnapshotTree, error) {
	if err := requireTable(bucket, tablePath); err != nil {
		return nil, err
	}
	var id *int64
	if snapshotID = strings.TrimSpace(snapshotID); snapshotID != "" {
		parsed, err := strconv.ParseInt(snapshotID, 10, 64)
		if err != nil {
			return nil, explorererrors.Newf(explorererrors.ErrorTypeValidation, "invalid snapshot_id: %q", snapshotID)
		}
		id = &parsed
	}
	ctx = logger.WithTable(ctx, bucket, tablePath)

	var tree *iceberg.SnapshotTree
	err := s.withCore(ctx, creds, func(c *core) error {
		var err error
		tree, err = c.aggregator.ManifestTree(ctx, bucket, tablePath, id)
		return err
	})
	return tree, err
}

// projectID picks the request project, then the credentials', then the configured one.
func (s *Service) projectID(projectID string, creds storage.Credentials) string {
	switch {
	case projectID != "":
		return projectID
	case creds.ProjectID != "":
		return creds.ProjectID
	default:
		return s.cfg.Storage.ProjectID
	}
}

func requireTable(bucket, tablePath string) error {
	if strings.TrimSpace(bucket) == "" {
		return explorererrors.New(explorererrors.ErrorTypeValidation, "bucket is required")
	}
	if strings.Trim(tablePath, "/ ") == "" {
		return explorererrors.New(explorererrors.ErrorTypeValidation, "path is required")
	}
	return nil
}

func closeQuietly(v interface{}, log *zap.Logger) {
	if c, ok := v.(io.Closer); ok {
		if err := c.Close(); err != nil {
			log.Debug("failed to close client", zap.Error(err))
		}
	}
}
