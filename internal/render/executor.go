package render

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"pyro/internal/pkg/errors"
	"pyro/internal/pkg/logger"
)

// Validator checks a payload before it reaches the native renderer. A
// rejected payload fails its job with INVALID_PAYLOAD.
type Validator func(payload []byte) error

// ValidateJSON accepts any non-empty, well-formed JSON document.
func ValidateJSON(payload []byte) error {
	if len(payload) == 0 {
		return errors.InvalidPayload("payload is empty", nil)
	}
	if !json.Valid(payload) {
		return errors.InvalidPayload("payload is not valid JSON", nil)
	}
	return nil
}

type counters struct {
	submitted atomic.Int64
	rejected  atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	canceled  atomic.Int64
}

// executor is the only consumer of the queue and the only caller of the
// handle's Configure and RenderSync.
type executor struct {
	queue    *Queue
	handle   *Handle
	validate Validator
	log      *logger.Logger
	stats    *counters
}

// run processes items until the queue is closed and empty or ctx is done.
func (e *executor) run(ctx context.Context) {
	e.log.Info("executor started", "queue_capacity", e.queue.Cap())
	defer e.log.Info("executor stopped")

	for {
		it, err := e.queue.Dequeue(ctx)
		if err != nil {
			return
		}

		switch it := it.(type) {
		case *configureItem:
			e.configure(it)
		case *Job:
			e.execute(it)
		default:
			e.log.Error("unknown queue item", "item_id", it.ItemID())
		}
	}
}

func (e *executor) configure(c *configureItem) {
	err := e.handle.Configure(c.res)
	if err != nil {
		e.log.WithError(err).Warn("resolution change failed", "width", c.res.Width, "height", c.res.Height)
	} else {
		e.log.WithResolution(c.res.Width, c.res.Height).Info("resolution changed")
	}
	c.done <- err
}

func (e *executor) execute(job *Job) {
	log := e.log.WithJobID(job.ID)
	started := time.Now()
	res := Result{Waited: started.Sub(job.SubmittedAt)}

	if err := e.validate(job.Payload); err != nil {
		if !errors.IsInvalidPayload(err) {
			err = errors.InvalidPayload(err.Error(), err)
		}
		res.Err = err
	} else {
		res.Frame, res.Err = e.handle.RenderSync(job.Payload)
	}
	res.Took = time.Since(started)

	job.complete(res)

	if res.Err != nil {
		e.stats.failed.Add(1)
		log.WithError(res.Err).Warn("render failed",
			"code", string(errors.GetCode(res.Err)),
			"duration_ms", res.Took.Milliseconds(),
		)
		return
	}

	e.stats.completed.Add(1)
	log.Info("render completed",
		"width", res.Frame.Width,
		"height", res.Frame.Height,
		"queued_ms", res.Waited.Milliseconds(),
		"duration_ms", res.Took.Milliseconds(),
	)
}
