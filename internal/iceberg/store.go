package iceberg

import (
	"context"
	"strings"

	"github.com/Vadoid/iceberg-explorer/pkg/storage"
)

// ObjectStore is the storage surface the core reads through. storage.Store
// satisfies it.
type ObjectStore interface {
	List(ctx context.Context, bucket, prefix string, limit int) ([]storage.ObjectInfo, error)
	ReadBytes(ctx context.Context, bucket, key string) ([]byte, error)
	ReadText(ctx context.Context, bucket, key string) (string, error)
	Scheme() string
}

// NormalizeRef turns an object reference found in metadata into a key within
// bucket. "gs://bucket/a/b", "s3://bucket/a/b" and "/a/b" all become "a/b".
func NormalizeRef(ref, bucket string) string {
	key := ref
	if i := strings.Index(key, "://"); i >= 0 {
		key = key[i+3:]
		if strings.HasPrefix(key, bucket+"/") {
			key = key[len(bucket)+1:]
		} else if j := strings.IndexByte(key, '/'); j >= 0 {
			key = key[j+1:]
		}
	}
	return strings.TrimLeft(key, "/")
}

func objectURI(store ObjectStore, bucket, key string) string {
	return store.Scheme() + "://" + bucket + "/" + key
}
