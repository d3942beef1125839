package render

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"pyro/internal/pkg/errors"
	"pyro/internal/pkg/logger"
)

// DefaultResolution matches the renderer's startup size.
var DefaultResolution = Resolution{Width: 640, Height: 480}

// Options configures a Service. Zero values select defaults.
type Options struct {
	QueueCapacity int
	Resolution    Resolution
	Validate      Validator
	Logger        *logger.Logger
}

// Stats is a point-in-time view of the service.
type Stats struct {
	State         string `json:"state"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
	Submitted     int64  `json:"submitted"`
	Rejected      int64  `json:"rejected"`
	Completed     int64  `json:"completed"`
	Failed        int64  `json:"failed"`
	Canceled      int64  `json:"canceled"`
}

// Service is the entry point for producers. It is safe for concurrent use.
type Service struct {
	handle *Handle
	queue  *Queue
	exec   *executor
	log    *logger.Logger
	stats  counters

	mu      sync.Mutex
	started bool
	stopped bool
	stop    context.CancelFunc
	done    chan struct{}
}

func NewService(native Native, opts Options) *Service {
	if opts.Resolution == (Resolution{}) {
		opts.Resolution = DefaultResolution
	}
	if opts.Validate == nil {
		opts.Validate = ValidateJSON
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewDefault()
	}

	s := &Service{
		handle: NewHandle(native, opts.Resolution),
		queue:  NewQueue(opts.QueueCapacity),
		log:    opts.Logger.WithComponent("render.service"),
		done:   make(chan struct{}),
	}
	s.exec = &executor{
		queue:    s.queue,
		handle:   s.handle,
		validate: opts.Validate,
		log:      opts.Logger.WithComponent("render.executor"),
		stats:    &s.stats,
	}
	return s
}

// Startup initializes the renderer with resourceRoot and starts the executor.
func (s *Service) Startup(resourceRoot string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.ResourceUnavailable("renderer already started")
	}
	if err := s.handle.Init(resourceRoot); err != nil {
		s.log.WithError(err).Error("renderer init failed", "resource_root", resourceRoot)
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.stop = cancel
	s.started = true
	go func() {
		defer close(s.done)
		s.exec.run(ctx)
	}()

	res := s.handle.Resolution()
	s.log.WithResolution(res.Width, res.Height).Info("renderer ready", "resource_root", resourceRoot)
	return nil
}

// Submit queues payload for rendering and returns the job id. done is called
// exactly once, from the executor goroutine, unless Submit fails. done must
// not block.
func (s *Service) Submit(payload []byte, done func(Result)) (string, error) {
	if st := s.handle.State(); st != StateReady {
		s.stats.rejected.Add(1)
		return "", errors.ResourceUnavailable("renderer is " + st.String())
	}

	job := newJob(uuid.NewString(), payload, s.handle.Resolution(), done)
	if err := s.queue.Enqueue(job); err != nil {
		s.stats.rejected.Add(1)
		return "", err
	}
	s.stats.submitted.Add(1)
	return job.ID, nil
}

// Render submits payload and waits for its frame. When ctx ends before the
// job is dequeued the job is canceled.
func (s *Service) Render(ctx context.Context, payload []byte) (PixelBuffer, error) {
	out := make(chan Result, 1)
	id, err := s.Submit(payload, func(r Result) { out <- r })
	if err != nil {
		return PixelBuffer{}, err
	}

	select {
	case r := <-out:
		return r.Frame, r.Err
	case <-ctx.Done():
		if s.Cancel(id) {
			return PixelBuffer{}, errors.Canceled("render.Render").WithField("job_id", id)
		}
		select {
		case r := <-out:
			return r.Frame, r.Err
		default:
		}
		// Still executing; the frame is discarded.
		return PixelBuffer{}, errors.WrapWithCode(ctx.Err(), errors.CodeCanceled, "render.Render", "caller went away").
			WithField("job_id", id)
	}
}

// Cancel removes a job that has not started yet and completes it with
// CANCELED. It reports false once the job is executing or finished.
func (s *Service) Cancel(jobID string) bool {
	it, ok := s.queue.Remove(jobID)
	if !ok {
		return false
	}
	switch it := it.(type) {
	case *Job:
		if it.complete(Result{Err: errors.Canceled("render.Cancel")}) {
			s.stats.canceled.Add(1)
		}
	case *configureItem:
		it.done <- errors.Canceled("render.Cancel")
	}
	s.log.WithJobID(jobID).Info("job canceled")
	return true
}

// Resolution returns the resolution the next dequeued job will render at
// when no change is pending.
func (s *Service) Resolution() Resolution {
	return s.handle.Resolution()
}

// SetResolution queues a resolution change behind every job already
// submitted and waits until the executor applies it. Jobs submitted after it
// returns render at the new size.
func (s *Service) SetResolution(ctx context.Context, width, height int) error {
	res := Resolution{Width: width, Height: height}
	if !res.Valid() {
		return errors.InvalidPayload("width and height must be positive", nil).
			WithFields(map[string]any{"width": width, "height": height, "max": MaxDimension})
	}
	if st := s.handle.State(); st != StateReady {
		return errors.ResourceUnavailable("renderer is " + st.String())
	}

	item := &configureItem{id: uuid.NewString(), res: res, done: make(chan error, 1)}
	if err := s.queue.Enqueue(item); err != nil {
		return err
	}

	select {
	case err := <-item.done:
		return err
	case <-ctx.Done():
		if _, ok := s.queue.Remove(item.id); ok {
			return errors.WrapWithCode(ctx.Err(), errors.CodeCanceled, "render.SetResolution", "resolution change abandoned")
		}
		// Already dequeued: the change is applied regardless.
		return <-item.done
	}
}

// Shutdown stops intake and lets the executor finish queued jobs. Jobs still
// queued when ctx ends fail with RESOURCE_UNAVAILABLE. The native renderer is
// shut down after the executor has stopped.
func (s *Service) Shutdown(ctx context.Context) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	started := s.started
	s.mu.Unlock()

	s.queue.Close()

	if started {
		select {
		case <-s.done:
		case <-ctx.Done():
			left := s.failQueued()
			s.log.Warn("shutdown deadline reached, abandoning queued jobs", "abandoned", left)
			s.stop()
			<-s.done
		}
		s.stop()
	} else {
		s.failQueued()
	}

	if err := s.handle.Shutdown(); err != nil {
		s.log.WithError(err).Error("renderer shutdown failed")
		return
	}
	s.log.Info("renderer shut down")
}

func (s *Service) failQueued() int {
	items := s.queue.Drain()
	for _, it := range items {
		switch it := it.(type) {
		case *Job:
			if it.complete(Result{Err: errors.ResourceUnavailable("renderer is shutting down")}) {
				s.stats.failed.Add(1)
			}
		case *configureItem:
			it.done <- errors.ResourceUnavailable("renderer is shutting down")
		}
	}
	return len(items)
}

func (s *Service) Stats() Stats {
	res := s.handle.Resolution()
	return Stats{
		State:         s.handle.State().String(),
		Width:         res.Width,
		Height:        res.Height,
		QueueDepth:    s.queue.Len(),
		QueueCapacity: s.queue.Cap(),
		Submitted:     s.stats.submitted.Load(),
		Rejected:      s.stats.rejected.Load(),
		Completed:     s.stats.completed.Load(),
		Failed:        s.stats.failed.Load(),
		Canceled:      s.stats.canceled.Load(),
	}
}
