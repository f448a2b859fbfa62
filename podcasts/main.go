package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	apidoc "github.com/news-fetcher/podcast-api/api"
	"github.com/news-fetcher/podcast-api/internal/blobrange"
	"github.com/news-fetcher/podcast-api/internal/ci"
	"github.com/news-fetcher/podcast-api/internal/correlate"
	"github.com/news-fetcher/podcast-api/internal/platform/auditlog"
	"github.com/news-fetcher/podcast-api/internal/platform/env"
	"github.com/news-fetcher/podcast-api/internal/platform/httpserver"
	"github.com/news-fetcher/podcast-api/internal/platform/objectstore"
	"github.com/news-fetcher/podcast-api/internal/platform/postgres"
	repopg "github.com/news-fetcher/podcast-api/internal/repo/postgres"
	"github.com/news-fetcher/podcast-api/internal/service/episodes"
	"github.com/news-fetcher/podcast-api/internal/service/jobs"
	storageobjectstore "github.com/news-fetcher/podcast-api/internal/storage/objectstore"
	"github.com/redis/go-redis/v9"
)

const serviceName = "podcasts"

func main() {
	if env.String("PODCASTS_ENV", "development") == "development" {
		if err := env.LoadDotEnv(".env"); err != nil {
			slog.Error("load .env failed", "error", err)
			os.Exit(2)
		}
	}

	level, err := env.Level("LOG_LEVEL", slog.LevelInfo)
	if err != nil {
		slog.Error("invalid env", "error", err)
		os.Exit(2)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("PODCASTS_HTTP_ADDR", ":8080")
	shutdownTimeout, err := env.Duration("PODCASTS_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()
	if dbCfg.Migrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			logger.Error("database migration failed", "error", err)
			os.Exit(1)
		}
	}

	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid object store config", "error", err)
		os.Exit(2)
	}
	storeClient, err := objectstore.NewMinIOClient(storeCfg)
	if err != nil {
		logger.Error("object store client init failed", "error", err)
		os.Exit(2)
	}
	startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := objectstore.CheckBucket(startupCtx, storeClient, storeCfg); err != nil {
		cancel()
		logger.Error("object store unavailable", "error", err)
		os.Exit(1)
	}
	cancel()
	store, err := storageobjectstore.NewMinioStoreWithClient(storeClient)
	if err != nil {
		logger.Error("object store init failed", "error", err)
		os.Exit(2)
	}

	ciCfg, err := ci.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid ci config", "error", err)
		os.Exit(2)
	}
	if ciCfg.Token == "" {
		logger.Warn("GITHUB_TOKEN is not set; trigger and run status will fail")
	}
	ciClient, err := ci.New(ciCfg)
	if err != nil {
		logger.Error("ci client init failed", "error", err)
		os.Exit(2)
	}

	correlateCfg, err := correlate.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid correlation config", "error", err)
		os.Exit(2)
	}

	readiness := []httpserver.ReadinessCheck{
		{Name: "postgres", Check: postgres.Ping(db, 750*time.Millisecond)},
		{
			Name: "minio",
			Check: func(ctx context.Context) error {
				checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
				defer cancel()
				return objectstore.CheckBucket(checkCtx, storeClient, storeCfg)
			},
		},
	}

	var locker correlate.Locker = correlate.NewMemoryLocker()
	if redisURL := env.String("REDIS_URL", ""); redisURL != "" {
		redisOpts, err := redis.ParseURL(redisURL)
		if err != nil {
			logger.Error("invalid redis url", "error", err)
			os.Exit(2)
		}
		redisClient := redis.NewClient(redisOpts)
		defer func() { _ = redisClient.Close() }()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Error("redis unavailable", "error", err)
			os.Exit(1)
		}
		redisLocker, err := correlate.NewRedisLocker(redisClient, correlateCfg.LockTTL, logger)
		if err != nil {
			logger.Error("redis lock init failed", "error", err)
			os.Exit(2)
		}
		locker = redisLocker
		readiness = append(readiness, httpserver.ReadinessCheck{
			Name: "redis",
			Check: func(ctx context.Context) error {
				checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
				defer cancel()
				return redisClient.Ping(checkCtx).Err()
			},
		})
		logger.Info("redis connected; trigger lock shared across replicas")
	}

	runLabels := repopg.NewRunLabelStore(db)
	correlator, err := correlate.New(ciClient, runLabels, correlateCfg, logger)
	if err != nil {
		logger.Error("correlator init failed", "error", err)
		os.Exit(2)
	}
	jobService, err := jobs.NewService(ciClient, ciClient, runLabels, correlator, locker, auditlog.NewWriter(db), logger)
	if err != nil {
		logger.Error("jobs service init failed", "error", err)
		os.Exit(2)
	}

	images, err := episodes.NewImageResolver(store, storeCfg.Bucket, storeCfg.DefaultImageKey, storeCfg.DefaultImageTTL, logger)
	if err != nil {
		logger.Error("image resolver init failed", "error", err)
		os.Exit(2)
	}
	episodeService, err := episodes.NewService(repopg.NewEpisodeStore(db), images)
	if err != nil {
		logger.Error("episode service init failed", "error", err)
		os.Exit(2)
	}

	audio, err := blobrange.NewReader(store, storeCfg.Bucket, storeCfg.AudioPrefix, storeCfg.Timeout)
	if err != nil {
		logger.Error("audio reader init failed", "error", err)
		os.Exit(2)
	}

	if _, err := apidoc.Load(ctx); err != nil {
		logger.Error("invalid openapi document", "error", err)
		os.Exit(2)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz(serviceName))
	mux.HandleFunc("/readyz", httpserver.ReadyzWithChecks(serviceName, readiness...))
	newPodcastsAPI(logger, episodeService, audio, jobService, apidoc.Document).register(mux)

	cfg := httpserver.Config{
		Service:         serviceName,
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}
	if err := httpserver.Run(ctx, logger, cfg, httpserver.Wrap(logger, serviceName, mux)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
