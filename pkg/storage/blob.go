package storage

import (
	"context"
	"io"
	"strings"
	"sync"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// buckets
	_ "gocloud.dev/blob/memblob"  // mem:// buckets
	"gocloud.dev/gcerrors"

	"github.com/Vadoid/iceberg-explorer/pkg/explorererrors"
)

// BucketOpener opens the gocloud bucket that stands for a bucket name.
type BucketOpener func(ctx context.Context, bucket string) (*blob.Bucket, error)

// URLOpener returns a BucketOpener that substitutes the bucket name into a
// gocloud URL template such as "file:///var/lake/{bucket}" or "mem://".
func URLOpener(template string) BucketOpener {
	return func(ctx context.Context, bucket string) (*blob.Bucket, error) {
		return blob.OpenBucket(ctx, strings.ReplaceAll(template, "{bucket}", bucket))
	}
}

// BlobStore serves any gocloud.dev blob bucket. Opened buckets are cached by
// name for the life of the store.
type BlobStore struct {
	open   BucketOpener
	scheme string

	mu      sync.Mutex
	buckets map[string]*blob.Bucket
}

// NewBlobStore creates a store that opens buckets with open.
func NewBlobStore(open BucketOpener, scheme string) *BlobStore {
	return &BlobStore{open: open, scheme: scheme, buckets: make(map[string]*blob.Bucket)}
}

// NewBlobStoreFromBuckets serves a fixed set of already opened buckets.
func NewBlobStoreFromBuckets(scheme string, buckets map[string]*blob.Bucket) *BlobStore {
	s := NewBlobStore(func(_ context.Context, bucket string) (*blob.Bucket, error) {
		return nil, explorererrors.Newf(explorererrors.ErrorTypeNotFound, "bucket %s does not exist", bucket)
	}, scheme)
	for name, b := range buckets {
		s.buckets[name] = b
	}
	return s
}

func (s *BlobStore) bucket(ctx context.Context, name string) (*blob.Bucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.buckets[name]; ok {
		return b, nil
	}
	b, err := s.open(ctx, name)
	if err != nil {
		return nil, blobError(err, "failed to open bucket").WithDetail("bucket", name)
	}
	s.buckets[name] = b
	return b, nil
}

// Scheme implements Store.
func (s *BlobStore) Scheme() string { return s.scheme }

// List implements Store.
func (s *BlobStore) List(ctx context.Context, bucket, prefix string, limit int) ([]ObjectInfo, error) {
	b, err := s.bucket(ctx, bucket)
	if err != nil {
		return nil, err
	}

	iter := b.List(&blob.ListOptions{Prefix: prefix})
	var out []ObjectInfo
	for limit <= 0 || len(out) < limit {
		item, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, blobError(err, "failed to list objects")
		}
		out = append(out, blobObjectInfo(item))
	}
	return out, nil
}

// ListDir implements Store.
func (s *BlobStore) ListDir(ctx context.Context, bucket, prefix string) (*Listing, error) {
	b, err := s.bucket(ctx, bucket)
	if err != nil {
		return nil, err
	}

	iter := b.List(&blob.ListOptions{Prefix: prefix, Delimiter: "/"})
	listing := &Listing{}
	for {
		item, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, blobError(err, "failed to list objects")
		}
		if item.IsDir {
			listing.Prefixes = append(listing.Prefixes, item.Key)
			continue
		}
		listing.Objects = append(listing.Objects, blobObjectInfo(item))
	}
	return listing, nil
}

// ReadBytes implements Store.
func (s *BlobStore) ReadBytes(ctx context.Context, bucket, key string) ([]byte, error) {
	b, err := s.bucket(ctx, bucket)
	if err != nil {
		return nil, err
	}
	data, err := b.ReadAll(ctx, key)
	if err != nil {
		return nil, blobError(err, "failed to read object").WithDetail("object", s.scheme+"://"+bucket+"/"+key)
	}
	return data, nil
}

// ReadText implements Store.
func (s *BlobStore) ReadText(ctx context.Context, bucket, key string) (string, error) {
	data, err := s.ReadBytes(ctx, bucket, key)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ListBuckets implements Store. Buckets of a URL template cannot be enumerated,
// so only buckets opened so far are reported.
func (s *BlobStore) ListBuckets(_ context.Context, _ string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buckets) == 0 {
		return nil, explorererrors.New(explorererrors.ErrorTypeCapability, "bucket listing is not supported by the blob backend")
	}
	names := make([]string, 0, len(s.buckets))
	for name := range s.buckets {
		names = append(names, name)
	}
	return names, nil
}

// Close implements Store.
func (s *BlobStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for name, b := range s.buckets {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.buckets, name)
	}
	return firstErr
}

func blobObjectInfo(item *blob.ListObject) ObjectInfo {
	return ObjectInfo{
		Name:    trimSlash(item.Key),
		Size:    item.Size,
		Updated: item.ModTime,
		Created: item.ModTime,
	}
}

func blobError(err error, message string) *explorererrors.Error {
	switch gcerrors.Code(err) {
	case gcerrors.NotFound:
		return explorererrors.Wrap(err, explorererrors.ErrorTypeNotFound, message)
	case gcerrors.PermissionDenied:
		return explorererrors.Wrap(err, explorererrors.ErrorTypePermission, message)
	case gcerrors.ResourceExhausted:
		return explorererrors.Wrap(err, explorererrors.ErrorTypeRateLimit, message)
	case gcerrors.DeadlineExceeded, gcerrors.Canceled:
		return explorererrors.Wrap(err, explorererrors.ErrorTypeTimeout, message)
	case gcerrors.Unimplemented:
		return explorererrors.Wrap(err, explorererrors.ErrorTypeCapability, message)
	}
	return asError(err, message)
}
