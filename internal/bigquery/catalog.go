// Package bigquery lists BigQuery datasets and tables and finds the tables
// that are backed by Iceberg metadata.
package bigquery

import (
	"context"
	"errors"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/Vadoid/iceberg-explorer/pkg/storage"
)

// Catalog is the part of the BigQuery API the explorer reads.
type Catalog interface {
	ProjectID() string
	Datasets(ctx context.Context) ([]string, error)
	DatasetMetadata(ctx context.Context, datasetID string) (*bigquery.DatasetMetadata, error)
	Tables(ctx context.Context, datasetID string) ([]string, error)
	TableMetadata(ctx context.Context, datasetID, tableID string) (*bigquery.TableMetadata, error)
}

// ClientCatalog implements Catalog with a BigQuery client.
type ClientCatalog struct {
	client *bigquery.Client
}

// NewClientCatalog creates a client for projectID.
func NewClientCatalog(ctx context.Context, projectID string, opts ...option.ClientOption) (*ClientCatalog, error) {
	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, storage.Classify(err, "failed to initialize BigQuery client")
	}
	return &ClientCatalog{client: client}, nil
}

// ProjectID implements Catalog.
func (c *ClientCatalog) ProjectID() string { return c.client.Project() }

// Datasets implements Catalog.
func (c *ClientCatalog) Datasets(ctx context.Context) ([]string, error) {
	var ids []string
	it := c.client.Datasets(ctx)
	for {
		ds, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, storage.Classify(err, "failed to list datasets")
		}
		ids = append(ids, ds.DatasetID)
	}
	return ids, nil
}

// DatasetMetadata implements Catalog.
func (c *ClientCatalog) DatasetMetadata(ctx context.Context, datasetID string) (*bigquery.DatasetMetadata, error) {
	md, err := c.client.Dataset(datasetID).Metadata(ctx)
	if err != nil {
		return nil, storage.Classify(err, "failed to read dataset "+datasetID)
	}
	return md, nil
}

// Tables implements Catalog.
func (c *ClientCatalog) Tables(ctx context.Context, datasetID string) ([]string, error) {
	var ids []string
	it := c.client.Dataset(datasetID).Tables(ctx)
	for {
		t, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, storage.Classify(err, "failed to list tables of "+datasetID)
		}
		ids = append(ids, t.TableID)
	}
	return ids, nil
}

// TableMetadata implements Catalog.
func (c *ClientCatalog) TableMetadata(ctx context.Context, datasetID, tableID string) (*bigquery.TableMetadata, error) {
	md, err := c.client.Dataset(datasetID).Table(tableID).Metadata(ctx)
	if err != nil {
		return nil, storage.Classify(err, "failed to read table "+datasetID+"."+tableID)
	}
	return md, nil
}

// Close releases the client.
func (c *ClientCatalog) Close() error {
	return c.client.Close()
}
