package episodes

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/news-fetcher/podcast-api/internal/platform/objectstore"
	"golang.org/x/sync/singleflight"
)

type Presigner interface {
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

// ImageResolver caches the presigned URL of the default episode image.
// Concurrent refreshes share one presign call. A failed presign yields ""
// and is retried on the next call.
type ImageResolver struct {
	presigner Presigner
	bucket    string
	key       string
	ttl       time.Duration
	logger    *slog.Logger

	group   singleflight.Group
	mu      sync.RWMutex
	url     string
	expires time.Time
	now     func() time.Time
}

func NewImageResolver(presigner Presigner, bucket, key string, ttl time.Duration, logger *slog.Logger) (*ImageResolver, error) {
	if presigner == nil {
		return nil, errors.New("presigner is required")
	}
	if bucket == "" || key == "" {
		return nil, errors.New("bucket and key are required")
	}
	if ttl <= 0 || ttl >= objectstore.MaxPresignExpiry {
		return nil, errors.New("ttl must be shorter than the presign expiry")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ImageResolver{
		presigner: presigner,
		bucket:    bucket,
		key:       key,
		ttl:       ttl,
		logger:    logger.With("component", "default_image"),
		now:       time.Now,
	}, nil
}

func (r *ImageResolver) DefaultImageURL(ctx context.Context) string {
	if url, ok := r.cached(); ok {
		return url
	}

	v, _, _ := r.group.Do(r.key, func() (any, error) {
		if url, ok := r.cached(); ok {
			return url, nil
		}
		presigned, err := r.presigner.PresignGet(context.WithoutCancel(ctx), r.bucket, r.key, objectstore.MaxPresignExpiry)
		if err != nil {
			r.logger.Error("presign default image failed", "bucket", r.bucket, "key", r.key, "error", err)
			return "", nil
		}
		r.mu.Lock()
		r.url = presigned
		r.expires = r.now().Add(r.ttl)
		r.mu.Unlock()
		return presigned, nil
	})
	return v.(string)
}

func (r *ImageResolver) cached() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.url, r.url != "" && r.now().Before(r.expires)
}
