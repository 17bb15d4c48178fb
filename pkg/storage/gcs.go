package storage

import (
	"context"
	"errors"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/Vadoid/iceberg-explorer/pkg/explorererrors"
)

// GCSStore reads objects from Google Cloud Storage.
type GCSStore struct {
	client *storage.Client
}

// NewGCSStore creates a GCS client authenticated with creds.
func NewGCSStore(ctx context.Context, creds Credentials) (*GCSStore, error) {
	client, err := storage.NewClient(ctx, creds.ClientOptions()...)
	if err != nil {
		return nil, Classify(err, "failed to initialize GCS client")
	}
	return &GCSStore{client: client}, nil
}

// Scheme implements Store.
func (g *GCSStore) Scheme() string { return "gs" }

// List implements Store.
func (g *GCSStore) List(ctx context.Context, bucket, prefix string, limit int) ([]ObjectInfo, error) {
	it := g.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})

	var out []ObjectInfo
	for limit <= 0 || len(out) < limit {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, gcsError(err, "failed to list objects")
		}
		out = append(out, objectInfo(attrs))
	}
	return out, nil
}

// ListDir implements Store.
func (g *GCSStore) ListDir(ctx context.Context, bucket, prefix string) (*Listing, error) {
	it := g.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix, Delimiter: "/"})

	listing := &Listing{}
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, gcsError(err, "failed to list objects")
		}
		if attrs.Prefix != "" {
			listing.Prefixes = append(listing.Prefixes, attrs.Prefix)
			continue
		}
		listing.Objects = append(listing.Objects, objectInfo(attrs))
	}
	return listing, nil
}

// ReadBytes implements Store.
func (g *GCSStore) ReadBytes(ctx context.Context, bucket, key string) ([]byte, error) {
	r, err := g.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, gcsError(err, "failed to open object").WithDetail("object", "gs://"+bucket+"/"+key)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, gcsError(err, "failed to read object").WithDetail("object", "gs://"+bucket+"/"+key)
	}
	return data, nil
}

// ReadText implements Store.
func (g *GCSStore) ReadText(ctx context.Context, bucket, key string) (string, error) {
	data, err := g.ReadBytes(ctx, bucket, key)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ListBuckets implements Store.
func (g *GCSStore) ListBuckets(ctx context.Context, projectID string) ([]string, error) {
	if projectID == "" {
		return nil, explorererrors.New(explorererrors.ErrorTypeValidation, "project id is required to list buckets")
	}
	it := g.client.Buckets(ctx, projectID)

	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, gcsError(err, "failed to list buckets")
		}
		names = append(names, attrs.Name)
	}
	return names, nil
}

// Close implements Store.
func (g *GCSStore) Close() error {
	return g.client.Close()
}

func objectInfo(attrs *storage.ObjectAttrs) ObjectInfo {
	return ObjectInfo{
		Name:        attrs.Name,
		Size:        attrs.Size,
		ContentType: attrs.ContentType,
		Updated:     attrs.Updated,
		Created:     attrs.Created,
	}
}

func gcsError(err error, message string) *explorererrors.Error {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return explorererrors.Wrap(err, explorererrors.ErrorTypeNotFound, message)
	}
	return asError(err, message)
}

// trimSlash is shared by backends whose listings return keys with a leading slash.
func trimSlash(key string) string {
	return strings.TrimPrefix(key, "/")
}
