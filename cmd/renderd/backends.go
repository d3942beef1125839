package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"pyro/internal/config"
	"pyro/internal/pkg/logger"
	"pyro/internal/pkg/shutdown"
	"pyro/internal/ports"
	"pyro/internal/render"
	"pyro/internal/renderer/remote"
	"pyro/internal/renderer/software"
	"pyro/internal/repositories"
	"pyro/internal/storage"
	"pyro/internal/worker/queue"
)

const connectTimeout = 10 * time.Second

func newNative(cfg *config.Config, log *logger.Logger) render.Native {
	switch cfg.RenderBackend {
	case config.BackendRemote:
		log.Info("using remote renderer", "url", cfg.RendererURL)
		return remote.NewHTTPClient(cfg.RendererURL, cfg.RendererTimeout)
	default:
		return software.New(software.Options{SceneCacheSize: cfg.SceneCacheSize, Logger: log})
	}
}

// connectAsync opens Postgres, Redis and frame storage for the job intake.
// Any failure is fatal: the operator asked for async intake.
func connectAsync(cfg *config.Config, log *logger.Logger, mgr *shutdown.Manager) (ports.JobStore, ports.JobQueue, ports.StorageProvider) {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	log.Info("connecting to PostgreSQL")
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.LogFatal("failed to connect to PostgreSQL", err)
	}
	mgr.RegisterSimple("postgres", pool.Close)
	if err := pool.Ping(ctx); err != nil {
		log.LogFatal("failed to ping PostgreSQL", err)
	}
	jobs := repositories.NewJobRepository(pool)
	if err := jobs.EnsureSchema(ctx); err != nil {
		log.LogFatal("failed to prepare render_jobs table", err)
	}
	log.Info("PostgreSQL connected")

	log.Info("connecting to Redis")
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	mgr.Register("redis", func(context.Context) error { return rdb.Close() })
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.LogFatal("failed to ping Redis", err)
	}
	q := queue.NewRedisQueue(rdb, cfg.JobQueueName)
	log.Info("Redis connected", "queue", q.Name())

	sp, err := storage.NewProvider(context.Background(), storage.Options{
		Provider:           cfg.StorageProvider,
		LocalRoot:          cfg.StorageLocalRoot,
		GDriveClientID:     cfg.GDriveClientID,
		GDriveClientSecret: cfg.GDriveClientSecret,
		GDriveRefreshToken: cfg.GDriveRefreshToken,
		GDriveFolderID:     cfg.GDriveFolderID,
	})
	if err != nil {
		log.LogFatal("failed to initialize storage provider", err)
	}
	log.Info("storage provider initialized", "provider", sp.Provider())

	return jobs, q, sp
}
