// Package worker drains the async job queue into the render service.
package worker

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"pyro/internal/pkg/errors"
	"pyro/internal/pkg/logger"
	"pyro/internal/ports"
)

const (
	popRetryDelay = time.Second
	idleDelay     = 50 * time.Millisecond
)

// JobProcessor is satisfied by *processor.Processor.
type JobProcessor interface {
	ProcessJob(ctx context.Context, jobID string) error
}

type Deps struct {
	Queue       ports.JobQueue
	Processor   JobProcessor
	Concurrency int
	Log         *logger.Logger
}

// Run starts Concurrency loops that pop job ids and process them until ctx
// ends. The render service still runs one job at a time; extra workers only
// keep its queue fed.
func Run(ctx context.Context, d Deps) error {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	log = log.WithComponent("worker")

	n := d.Concurrency
	if n <= 0 {
		n = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			loop(gctx, d, log.WithFields(map[string]any{"worker": i}))
			return nil
		})
	}
	log.Info("workers started", "count", n)
	_ = g.Wait()
	log.Info("workers stopped")
	return ctx.Err()
}

func loop(ctx context.Context, d Deps, log *logger.Logger) {
	for ctx.Err() == nil {
		jobID, err := d.Queue.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("queue pop error, retrying", "error", err.Error())
			sleep(ctx, popRetryDelay)
			continue
		}
		if jobID == "" {
			sleep(ctx, idleDelay)
			continue
		}

		jobCtx := logger.ContextWithJobID(ctx, jobID)
		jobLog := log.WithJobID(jobID)
		jobLog.Info("processing job")
		start := time.Now()

		err = d.Processor.ProcessJob(jobCtx, jobID)
		switch {
		case err == nil:
			jobLog.Info("job completed", "duration_ms", time.Since(start).Milliseconds())
		case errors.IsResourceUnavailable(err):
			jobLog.Info("job requeued", "duration_ms", time.Since(start).Milliseconds())
		default:
			jobLog.Error("job failed", "error", err.Error(), "code", string(errors.GetCode(err)),
				"duration_ms", time.Since(start).Milliseconds())
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
