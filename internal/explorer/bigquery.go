package explorer

import (
	"context"

	"github.com/Vadoid/iceberg-explorer/internal/bigquery"
	"github.com/Vadoid/iceberg-explorer/pkg/explorererrors"
	"github.com/Vadoid/iceberg-explorer/pkg/logger"
	"github.com/Vadoid/iceberg-explorer/pkg/storage"
)

func (s *Service) withBigQuery(ctx context.Context, creds storage.Credentials, projectID string, fn func(*bigquery.Service) error) error {
	if !s.cfg.BigQuery.Enabled {
		return explorererrors.New(explorererrors.ErrorTypeCapability, "BigQuery support is disabled")
	}
	projectID = s.projectID(projectID, creds)
	if projectID == "" {
		return explorererrors.New(explorererrors.ErrorTypeValidation, "project_id is required")
	}
	catalog, err := s.catalogs(ctx, projectID, creds)
	if err != nil {
		return err
	}
	defer closeQuietly(catalog, s.logger)
	return fn(bigquery.NewService(catalog, logger.WithContext(ctx, s.logger)))
}

// BigQueryDatasets lists the datasets of a project.
func (s *Service) BigQueryDatasets(ctx context.Context, creds storage.Credentials, projectID string) ([]bigquery.Dataset, error) {
	var out []bigquery.Dataset
	err := s.withBigQuery(ctx, creds, projectID, func(bq *bigquery.Service) error {
		var err error
		out, err = bq.Datasets(ctx)
		return err
	})
	return out, err
}

// BigQueryTables lists the tables of a dataset.
func (s *Service) BigQueryTables(ctx context.Context, creds storage.Credentials, projectID, datasetID string) ([]bigquery.Table, error) {
	var out []bigquery.Table
	err := s.withBigQuery(ctx, creds, projectID, func(bq *bigquery.Service) error {
		var err error
		out, err = bq.Tables(ctx, datasetID)
		return err
	})
	return out, err
}

// SearchIcebergTables finds the Iceberg tables registered in a project.
func (s *Service) SearchIcebergTables(ctx context.Context, creds storage.Credentials, projectID string) ([]bigquery.IcebergTable, error) {
	var out []bigquery.IcebergTable
	err := s.withBigQuery(ctx, creds, projectID, func(bq *bigquery.Service) error {
		var err error
		out, err = bq.SearchIceberg(ctx)
		return err
	})
	return out, err
}
