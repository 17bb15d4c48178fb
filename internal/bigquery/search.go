package bigquery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Vadoid/iceberg-explorer/pkg/explorererrors"
	"github.com/Vadoid/iceberg-explorer/pkg/metrics"
	"github.com/Vadoid/iceberg-explorer/pkg/observability"
)

const (
	icebergFormat bigquery.DataFormat = "ICEBERG"

	defaultSearchWorkers = 4
)

// Dataset is one dataset of a project.
type Dataset struct {
	DatasetID     string            `json:"dataset_id"`
	Project       string            `json:"project"`
	FullDatasetID string            `json:"full_dataset_id"`
	Labels        map[string]string `json:"labels"`
}

// Table is one table of a dataset.
type Table struct {
	TableID     string  `json:"table_id"`
	TableType   string  `json:"table_type"`
	FullTableID string  `json:"full_table_id"`
	Created     *string `json:"created"`
	Expires     *string `json:"expires"`
}

// IcebergTable is an external table whose data is described by Iceberg metadata.
type IcebergTable struct {
	DatasetID   string  `json:"dataset_id"`
	TableID     string  `json:"table_id"`
	FullTableID string  `json:"full_table_id"`
	Location    *string `json:"location"`
	Created     *string `json:"created"`
}

// Service answers the BigQuery routes for one project.
type Service struct {
	catalog Catalog
	logger  *zap.Logger
	workers int
}

// NewService creates a Service over catalog.
func NewService(catalog Catalog, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{catalog: catalog, logger: logger, workers: defaultSearchWorkers}
}

// Datasets lists the project's datasets. Labels come from each dataset's
// metadata; a dataset whose metadata cannot be read is listed without labels.
func (s *Service) Datasets(ctx context.Context) ([]Dataset, error) {
	ids, err := s.catalog.Datasets(ctx)
	if err != nil {
		return nil, err
	}
	project := s.catalog.ProjectID()
	out := make([]Dataset, 0, len(ids))
	for _, id := range ids {
		ds := Dataset{
			DatasetID:     id,
			Project:       project,
			FullDatasetID: project + ":" + id,
			Labels:        map[string]string{},
		}
		md, err := s.catalog.DatasetMetadata(ctx, id)
		if err != nil {
			if fatal(ctx, err) {
				return nil, err
			}
			s.logger.Warn("failed to read dataset metadata", zap.String("dataset", id), zap.Error(err))
		} else {
			if md.FullID != "" {
				ds.FullDatasetID = md.FullID
			}
			for k, v := range md.Labels {
				ds.Labels[k] = v
			}
		}
		out = append(out, ds)
	}
	return out, nil
}

// Tables lists the tables of datasetID.
func (s *Service) Tables(ctx context.Context, datasetID string) ([]Table, error) {
	if datasetID == "" {
		return nil, explorererrors.New(explorererrors.ErrorTypeValidation, "dataset_id is required")
	}
	ids, err := s.catalog.Tables(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	project := s.catalog.ProjectID()
	out := make([]Table, 0, len(ids))
	for _, id := range ids {
		t := Table{TableID: id, FullTableID: fmt.Sprintf("%s:%s.%s", project, datasetID, id)}
		md, err := s.catalog.TableMetadata(ctx, datasetID, id)
		if err != nil {
			if fatal(ctx, err) {
				return nil, err
			}
			s.logger.Warn("failed to read table metadata",
				zap.String("dataset", datasetID), zap.String("table", id), zap.Error(err))
		} else {
			t.TableType = string(md.Type)
			if md.FullID != "" {
				t.FullTableID = md.FullID
			}
			t.Created = isoTime(md.CreationTime)
			t.Expires = isoTime(md.ExpirationTime)
		}
		out = append(out, t)
	}
	return out, nil
}

// SearchIceberg scans every dataset for external tables in Iceberg format.
// Datasets and tables that cannot be inspected are logged and skipped; only a
// failure to list datasets fails the search.
func (s *Service) SearchIceberg(ctx context.Context) ([]IcebergTable, error) {
	timer := metrics.NewTimer(metrics.OperationBigQuery)
	ctx, span := observability.StartSpan(ctx, "bigquery.search_iceberg",
		attribute.String("project_id", s.catalog.ProjectID()))

	found, err := s.searchIceberg(ctx)

	observability.EndSpan(span, err)
	timer.ObserveResult(err)
	return found, err
}

func (s *Service) searchIceberg(ctx context.Context) ([]IcebergTable, error) {
	ids, err := s.catalog.Datasets(ctx)
	if err != nil {
		return nil, explorererrors.Wrap(err, explorererrors.TypeOf(err), "error searching Iceberg tables")
	}

	perDataset := make([][]IcebergTable, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, id := range ids {
		g.Go(func() error {
			tables, err := s.searchDataset(gctx, id)
			if err != nil {
				if fatal(gctx, err) {
					return err
				}
				s.logger.Warn("failed to scan dataset", zap.String("dataset", id), zap.Error(err))
				return nil
			}
			perDataset[i] = tables
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	found := []IcebergTable{}
	for _, tables := range perDataset {
		found = append(found, tables...)
	}
	s.logger.Info("searched Iceberg tables",
		zap.Int("datasets", len(ids)),
		zap.Int("found", len(found)))
	return found, nil
}

func (s *Service) searchDataset(ctx context.Context, datasetID string) ([]IcebergTable, error) {
	ids, err := s.catalog.Tables(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	project := s.catalog.ProjectID()

	var found []IcebergTable
	for _, id := range ids {
		md, err := s.catalog.TableMetadata(ctx, datasetID, id)
		if err != nil {
			if fatal(ctx, err) {
				return nil, err
			}
			s.logger.Warn("failed to inspect table",
				zap.String("dataset", datasetID), zap.String("table", id), zap.Error(err))
			continue
		}
		if !isIceberg(md) {
			continue
		}
		t := IcebergTable{
			DatasetID:   datasetID,
			TableID:     id,
			FullTableID: project + "." + datasetID + "." + id,
			Created:     isoTime(md.CreationTime),
		}
		if uris := md.ExternalDataConfig.SourceURIs; len(uris) > 0 {
			t.Location = &uris[0]
		}
		found = append(found, t)
	}
	return found, nil
}

func isIceberg(md *bigquery.TableMetadata) bool {
	if md == nil || md.Type != bigquery.ExternalTable || md.ExternalDataConfig == nil {
		return false
	}
	return strings.EqualFold(string(md.ExternalDataConfig.SourceFormat), string(icebergFormat))
}

func isoTime(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := t.UTC().Format(time.RFC3339Nano)
	return &s
}

// fatal reports whether err must end the whole request: cancellation or
// credentials the API rejected.
func fatal(ctx context.Context, err error) bool {
	return ctx.Err() != nil || explorererrors.IsCredentialError(err)
}
