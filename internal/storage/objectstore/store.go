package objectstore

import (
	"context"
	"errors"
	"io"
	"time"
)

var ErrNotFound = errors.New("object not found")

// Store abstracts S3-compatible object storage.
type Store interface {
	Stat(ctx context.Context, bucket, key string) (ObjectInfo, error)
	// GetRange opens a reader over bytes [start, end] inclusive. A negative
	// start reads the whole object.
	GetRange(ctx context.Context, bucket, key string, start, end int64) (io.ReadCloser, error)
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
}
