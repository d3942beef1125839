// Package processor runs one async render job: it resolves the scene,
// renders it through the render service, encodes the frame and stores it.
package processor

import (
	"context"
	"strings"
	"time"

	"pyro/internal/encode"
	"pyro/internal/models"
	"pyro/internal/pkg/errors"
	"pyro/internal/pkg/logger"
	"pyro/internal/ports"
	"pyro/internal/render"
)

// DefaultBackoff is how long a job refused by a busy renderer waits before
// it is pushed back to the queue.
const DefaultBackoff = 2 * time.Second

const requeueTimeout = 5 * time.Second

// Renderer is satisfied by *render.Service.
type Renderer interface {
	Render(ctx context.Context, payload []byte) (render.PixelBuffer, error)
}

// SceneSource is satisfied by *scene.Library.
type SceneSource interface {
	Load(name string) ([]byte, error)
}

type Deps struct {
	Store    ports.JobStore
	Queue    ports.JobQueue
	Renderer Renderer
	// Scenes resolves SceneFile jobs; nil rejects them.
	Scenes  SceneSource
	SP      ports.StorageProvider
	Backoff time.Duration
	Log     *logger.Logger
}

type Processor struct {
	store    ports.JobStore
	queue    ports.JobQueue
	renderer Renderer
	scenes   SceneSource
	out      *output
	backoff  time.Duration
	log      *logger.Logger
}

func New(d Deps) *Processor {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	backoff := d.Backoff
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	return &Processor{
		store:    d.Store,
		queue:    d.Queue,
		renderer: d.Renderer,
		scenes:   d.Scenes,
		out:      &output{sp: d.SP},
		backoff:  backoff,
		log:      log.WithComponent("processor"),
	}
}

// ProcessJob runs jobID to a terminal state, or puts it back on the queue
// when the renderer could not take it. Requeued jobs return a
// RESOURCE_UNAVAILABLE error.
func (p *Processor) ProcessJob(ctx context.Context, jobID string) error {
	log := p.log.FromContext(ctx).WithJobID(jobID)

	job, err := p.store.Get(ctx, jobID)
	if err != nil {
		return errors.Wrap(err, "processor.fetch", "load job")
	}
	if job.Terminal() {
		log.Warn("job already finished, skipping", "status", string(job.Status))
		return nil
	}

	if err := p.store.MarkRunning(ctx, jobID); err != nil {
		return errors.Wrap(err, "processor.status", "mark job running")
	}

	format, err := encode.ParseFormat(job.Format)
	if err != nil {
		return p.failJob(ctx, jobID, err)
	}

	payload, err := p.scenePayload(job)
	if err != nil {
		return p.failJob(ctx, jobID, err)
	}

	log.Debug("rendering", "scene_file", job.SceneFile, "format", string(format))
	frame, err := p.renderer.Render(ctx, payload)
	if err != nil {
		if errors.IsResourceUnavailable(err) || ctx.Err() != nil {
			return p.requeue(ctx, jobID, err)
		}
		return p.failJob(ctx, jobID, err)
	}

	out, err := p.out.store(ctx, jobID, format, frame)
	if err != nil {
		return p.failJob(ctx, jobID, errors.Wrap(err, "processor.output", "store frame"))
	}

	if err := p.store.MarkDone(ctx, jobID, out); err != nil {
		// the record never points at the frame, so drop it
		p.out.discard(ctx, out.ObjectKey, log)
		return p.failJob(ctx, jobID, errors.Wrap(err, "processor.status", "mark job done"))
	}
	log.Info("frame stored", "object_key", out.ObjectKey, "size_bytes", out.SizeBytes)
	return nil
}

func (p *Processor) scenePayload(job *models.Job) ([]byte, error) {
	if len(job.Scene) > 0 {
		return job.Scene, nil
	}
	name := strings.TrimSpace(job.SceneFile)
	if name == "" {
		return nil, errors.InvalidPayload("job has neither scene nor scene_file", nil)
	}
	if p.scenes == nil {
		return nil, errors.ValidationField("scene_file", "scene library is not configured")
	}
	return p.scenes.Load(name)
}

// requeue marks the job QUEUED and pushes it back after the backoff. It
// outlives ctx so a shutdown does not strand the job in RUNNING.
func (p *Processor) requeue(ctx context.Context, jobID string, cause error) error {
	log := p.log.FromContext(ctx).WithJobID(jobID)

	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), requeueTimeout+p.backoff)
	defer cancel()

	if err := p.store.Requeue(bg, jobID); err != nil {
		return errors.Wrap(err, "processor.requeue", "mark job queued")
	}

	if ctx.Err() == nil {
		t := time.NewTimer(p.backoff)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
		}
	}

	if err := p.queue.Push(bg, jobID); err != nil {
		return errors.Wrap(err, "processor.requeue", "push job")
	}
	log.Warn("renderer unavailable, job requeued", "reason", cause.Error(), "backoff_ms", p.backoff.Milliseconds())
	return errors.WrapWithCode(cause, errors.CodeResourceUnavailable, "processor.requeue", "job requeued").
		WithField("job_id", jobID)
}

func (p *Processor) failJob(ctx context.Context, jobID string, cause error) error {
	log := p.log.FromContext(ctx).WithJobID(jobID)

	code := errors.GetCode(cause)
	msg := cause.Error()

	var perr *errors.Error
	if errors.As(cause, &perr) {
		log.Error("job failed", "code", string(perr.Code), "op", perr.Op, "message", perr.Message)
	} else {
		log.Error("job failed", "error", msg)
	}

	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), requeueTimeout)
	defer cancel()
	if err := p.store.MarkFailed(bg, jobID, string(code), msg); err != nil {
		log.Error("mark job failed", "error", err.Error())
	}
	return cause
}
