package objectstore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/news-fetcher/podcast-api/internal/platform/env"
)

// MaxPresignExpiry is the longest validity S3 accepts for a presigned URL.
const MaxPresignExpiry = 7 * 24 * time.Hour

type Config struct {
	Endpoint        string
	AccessKey       string
	SecretKey       string
	Region          string
	UseSSL          bool
	Bucket          string
	AudioPrefix     string
	DefaultImageKey string
	Timeout         time.Duration
	DefaultImageTTL time.Duration
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("PODCASTS_S3_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	timeout, err := env.Duration("PODCASTS_BLOB_TIMEOUT", 10*time.Second)
	if err != nil {
		return Config{}, err
	}
	imageTTL, err := env.Duration("PODCASTS_DEFAULT_IMAGE_TTL", 24*time.Hour)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:        env.String("PODCASTS_S3_ENDPOINT", "localhost:9000"),
		AccessKey:       env.String("PODCASTS_S3_ACCESS_KEY", "podcasts"),
		SecretKey:       env.String("PODCASTS_S3_SECRET_KEY", "podcastsminio"),
		Region:          env.String("PODCASTS_S3_REGION", "us-east-1"),
		UseSSL:          useSSL,
		Bucket:          env.String("PODCASTS_S3_BUCKET", "news-fetcher-platform"),
		AudioPrefix:     env.String("PODCASTS_AUDIO_PREFIX", "podcasts/"),
		DefaultImageKey: env.String("PODCASTS_DEFAULT_IMAGE_KEY", "podcasts_image/df_image.png"),
		Timeout:         timeout,
		DefaultImageTTL: imageTTL,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("bucket is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	if c.Timeout <= 0 {
		return errors.New("PODCASTS_BLOB_TIMEOUT must be positive")
	}
	// The cached URL is presigned for MaxPresignExpiry and must be refreshed before it lapses.
	if c.DefaultImageTTL <= 0 || c.DefaultImageTTL >= MaxPresignExpiry {
		return errors.New("PODCASTS_DEFAULT_IMAGE_TTL must be within (0, 168h)")
	}
	return nil
}
