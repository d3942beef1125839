package main

import (
	"context"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"pyro/internal/config"
	"pyro/internal/httpapi"
	"pyro/internal/httpapi/handlers"
	"pyro/internal/pkg/logger"
	"pyro/internal/pkg/shutdown"
	"pyro/internal/render"
	"pyro/internal/scene"
	"pyro/internal/vfs"
	"pyro/internal/worker"
	"pyro/internal/worker/processor"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		logger.NewDefault().LogFatal("invalid configuration", err)
	}

	log := logger.New(cfg.Logger("renderd"))
	log.Info("starting renderd",
		"backend", cfg.RenderBackend,
		"resource_root", cfg.ResourceRoot,
		"width", cfg.RenderWidth,
		"height", cfg.RenderHeight,
		"async", cfg.AsyncEnabled(),
	)

	// Handlers run last-registered first: HTTP, workers, renderer, Redis, Postgres.
	shutdownMgr := shutdown.NewManager(log, cfg.ShutdownTimeout)
	runCtx, fail := context.WithCancel(context.Background())
	defer fail()
	g, gctx := errgroup.WithContext(shutdownMgr.Context())

	svc := render.NewService(newNative(cfg, log), render.Options{
		QueueCapacity: cfg.QueueCapacity,
		Resolution:    render.Resolution{Width: cfg.RenderWidth, Height: cfg.RenderHeight},
		Validate:      scene.Validate,
		Logger:        log,
	})
	if err := svc.Startup(cfg.ResourceRoot); err != nil {
		log.LogFatal("failed to start renderer", err)
	}

	deps := handlers.Deps{
		Renderer: svc,
		Validate: scene.Validate,
		Log:      log,
	}

	// The remote backend may run without local resources.
	if fs, err := vfs.MountRoot(cfg.ResourceRoot); err != nil {
		log.Warn("scene library disabled", "error", err.Error())
	} else {
		library := scene.NewLibrary(fs, log)
		deps.Scenes = library
		if cfg.SceneHotReload {
			g.Go(func() error {
				if err := library.Watch(gctx); err != nil {
					log.WithError(err).Warn("scene hot reload stopped")
				}
				return nil
			})
		}
	}

	if cfg.AsyncEnabled() {
		deps.Jobs, deps.Queue, deps.SP = connectAsync(cfg, log, shutdownMgr)
	}

	shutdownMgr.Register("renderer", func(ctx context.Context) error {
		svc.Shutdown(ctx)
		return nil
	})

	if cfg.AsyncEnabled() {
		p := processor.New(processor.Deps{
			Store:    deps.Jobs,
			Queue:    deps.Queue,
			Renderer: svc,
			Scenes:   deps.Scenes,
			SP:       deps.SP,
			Backoff:  cfg.WorkerBackoff,
			Log:      log,
		})

		workerCtx, stopWorkers := context.WithCancel(gctx)
		workersDone := make(chan struct{})
		g.Go(func() error {
			defer close(workersDone)
			_ = worker.Run(workerCtx, worker.Deps{
				Queue:       deps.Queue,
				Processor:   p,
				Concurrency: cfg.WorkerConcurrency,
				Log:         log,
			})
			return nil
		})
		shutdownMgr.Register("workers", func(ctx context.Context) error {
			stopWorkers()
			select {
			case <-workersDone:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}

	server := &http.Server{
		Addr: "0.0.0.0:" + cfg.HTTPPort,
		Handler: httpapi.NewRouter(deps, httpapi.Options{
			AllowedOrigins: cfg.CORSOrigins,
			StaticDir:      cfg.StaticDir,
			RequestTimeout: cfg.RequestTimeout,
			RateLimitRPS:   cfg.RateLimitRPS,
			RateLimitBurst: cfg.RateLimitBurst,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	shutdownMgr.Register("http-server", func(ctx context.Context) error {
		log.Info("shutting down HTTP server")
		return server.Shutdown(ctx)
	})

	g.Go(func() error {
		log.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	var failed atomic.Bool
	go func() {
		if err := g.Wait(); err != nil {
			log.WithError(err).Error("renderd component failed")
			failed.Store(true)
			fail()
		}
	}()

	shutdownMgr.WaitWithContext(runCtx)
	if failed.Load() {
		os.Exit(1)
	}
}
