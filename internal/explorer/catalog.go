package explorer

import (
	"context"
	"path"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Vadoid/iceberg-explorer/pkg/explorererrors"
	"github.com/Vadoid/iceberg-explorer/pkg/logger"
	"github.com/Vadoid/iceberg-explorer/pkg/metrics"
	"github.com/Vadoid/iceberg-explorer/pkg/storage"
)

// Item types of a browse listing.
const (
	ItemIcebergTable = "iceberg_table"
	ItemFolder       = "folder"
	ItemFile         = "file"
)

const metadataSuffix = ".metadata.json"

// TableRef locates a table found by Discover or Browse.
type TableRef struct {
	Name      string `json:"name"`
	Location  string `json:"location"`
	Bucket    string `json:"bucket"`
	Path      string `json:"path"`
	ProjectID string `json:"projectId,omitempty"`
}

// Discovery is the result of Discover.
type Discovery struct {
	Tables []TableRef `json:"tables"`
	Count  int        `json:"count"`
}

// BrowseItem is one entry of a browse listing.
type BrowseItem struct {
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	Path        string    `json:"path"`
	Table       *TableRef `json:"table,omitempty"`
	Size        *int64    `json:"size,omitempty"`
	ContentType *string   `json:"contentType,omitempty"`
	TimeCreated *string   `json:"timeCreated,omitempty"`
}

// BrowseResult is one level of a bucket.
type BrowseResult struct {
	Folders []string     `json:"folders"`
	Tables  []TableRef   `json:"tables"`
	Items   []BrowseItem `json:"items"`
}

// Discover lists the whole bucket and reports every table that has at least
// one metadata file.
func (s *Service) Discover(ctx context.Context, creds storage.Credentials, bucket, projectID string) (*Discovery, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, explorererrors.New(explorererrors.ErrorTypeValidation, "bucket is required")
	}
	timer := metrics.NewTimer(metrics.OperationDiscover)

	var out *Discovery
	err := s.withStore(ctx, creds, func(store storage.Store) error {
		objects, err := store.List(ctx, bucket, "", 0)
		if err != nil {
			return err
		}
		out = discoverTables(store, bucket, projectID, objects)
		return nil
	})
	timer.ObserveResult(err)
	if err != nil {
		return nil, err
	}
	logger.WithContext(ctx, s.logger).Info("discovered tables",
		zap.String("bucket", bucket), zap.Int("count", out.Count))
	return out, nil
}

func discoverTables(store storage.Store, bucket, projectID string, objects []storage.ObjectInfo) *Discovery {
	seen := make(map[string]bool)
	tables := []TableRef{}
	for _, obj := range objects {
		if !strings.HasSuffix(obj.Name, metadataSuffix) {
			continue
		}
		i := strings.Index(obj.Name, "/metadata/")
		if i <= 0 {
			continue
		}
		tablePath := obj.Name[:i]
		if seen[tablePath] {
			continue
		}
		seen[tablePath] = true
		tables = append(tables, tableRef(store, bucket, tablePath, projectID))
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].Path < tables[j].Path })
	return &Discovery{Tables: tables, Count: len(tables)}
}

// Browse lists one level under dir. Folders holding a metadata/ directory
// are reported as Iceberg tables and listed first.
func (s *Service) Browse(ctx context.Context, creds storage.Credentials, bucket, dir, projectID string) (*BrowseResult, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, explorererrors.New(explorererrors.ErrorTypeValidation, "bucket is required")
	}
	timer := metrics.NewTimer(metrics.OperationBrowse)
	log := logger.WithContext(ctx, s.logger)

	dir = strings.Trim(dir, "/")
	prefix := ""
	if dir != "" {
		prefix = dir + "/"
	}

	var out *BrowseResult
	err := s.withStore(ctx, creds, func(store storage.Store) error {
		listing, err := store.ListDir(ctx, bucket, prefix)
		if err != nil {
			return err
		}

		out = &BrowseResult{Folders: []string{}, Tables: []TableRef{}, Items: []BrowseItem{}}
		for _, folder := range listing.Prefixes {
			full := strings.TrimSuffix(folder, "/")
			name := path.Base(full)
			out.Folders = append(out.Folders, name)

			item := BrowseItem{Name: name, Type: ItemFolder, Path: full}
			marker, err := store.List(ctx, bucket, folder+"metadata/", 1)
			switch {
			case err != nil && fatalStoreError(ctx, err):
				return err
			case err != nil:
				log.Debug("failed to probe folder", zap.String("folder", folder), zap.Error(err))
			case len(marker) > 0:
				ref := tableRef(store, bucket, full, projectID)
				item.Type = ItemIcebergTable
				item.Table = &ref
				out.Tables = append(out.Tables, ref)
			}
			out.Items = append(out.Items, item)
		}

		for _, obj := range listing.Objects {
			if obj.Name == prefix {
				continue
			}
			name := path.Base(obj.Name)
			if name == "" || strings.HasSuffix(obj.Name, "/") {
				continue
			}
			size := obj.Size
			item := BrowseItem{Name: name, Type: ItemFile, Path: obj.Name, Size: &size}
			if obj.ContentType != "" {
				ct := obj.ContentType
				item.ContentType = &ct
			}
			if !obj.Created.IsZero() {
				created := obj.Created.UTC().Format(time.RFC3339Nano)
				item.TimeCreated = &created
			}
			out.Items = append(out.Items, item)
		}
		return nil
	})
	timer.ObserveResult(err)
	if err != nil {
		return nil, err
	}

	sort.Strings(out.Folders)
	sort.SliceStable(out.Items, func(i, j int) bool {
		a, b := out.Items[i], out.Items[j]
		if itemRank(a.Type) != itemRank(b.Type) {
			return itemRank(a.Type) < itemRank(b.Type)
		}
		return strings.ToLower(a.Name) < strings.ToLower(b.Name)
	})
	return out, nil
}

// Buckets lists the bucket names of a project.
func (s *Service) Buckets(ctx context.Context, creds storage.Credentials, projectID string) ([]string, error) {
	var names []string
	err := s.withStore(ctx, creds, func(store storage.Store) error {
		var err error
		names, err = store.ListBuckets(ctx, s.projectID(projectID, creds))
		return err
	})
	if err != nil {
		return nil, err
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

func tableRef(store storage.Store, bucket, tablePath, projectID string) TableRef {
	return TableRef{
		Name:      path.Base(tablePath),
		Location:  storage.ObjectURI(store, bucket, tablePath),
		Bucket:    bucket,
		Path:      tablePath,
		ProjectID: projectID,
	}
}

func itemRank(t string) int {
	switch t {
	case ItemIcebergTable:
		return 0
	case ItemFolder:
		return 1
	default:
		return 2
	}
}

func fatalStoreError(ctx context.Context, err error) bool {
	return ctx.Err() != nil || explorererrors.IsCredentialError(err)
}

