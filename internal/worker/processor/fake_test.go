package processor

import (
	"context"
	"io"
	"sync"

	"pyro/internal/models"
	"pyro/internal/pkg/errors"
	"pyro/internal/pkg/logger"
	"pyro/internal/ports"
	"pyro/internal/render"
)

type memStore struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
	// doneErr makes MarkDone fail.
	doneErr error
}

func newMemStore(jobs ...*models.Job) *memStore {
	s := &memStore{jobs: map[string]*models.Job{}}
	for _, j := range jobs {
		s.jobs[j.ID] = j
	}
	return s
}

func (s *memStore) job(id string) models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

func (s *memStore) Create(_ context.Context, j *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = j
	return nil
}

func (s *memStore) Get(_ context.Context, id string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, errors.NotFound("job", id)
	}
	cp := *j
	return &cp, nil
}

func (s *memStore) List(context.Context, ports.ListJobsFilter) ([]models.Job, error) {
	return nil, nil
}

func (s *memStore) set(id string, fn func(j *models.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return errors.NotFound("job", id)
	}
	fn(j)
	return nil
}

func (s *memStore) MarkRunning(_ context.Context, id string) error {
	return s.set(id, func(j *models.Job) { j.Status = models.JobRunning; j.Attempts++ })
}

func (s *memStore) MarkDone(_ context.Context, id string, out models.JobOutput) error {
	if s.doneErr != nil {
		return s.doneErr
	}
	return s.set(id, func(j *models.Job) { j.Status = models.JobDone; j.Output = &out })
}

func (s *memStore) MarkFailed(_ context.Context, id string, code, text string) error {
	return s.set(id, func(j *models.Job) { j.Status = models.JobFailed; j.ErrorCode = code; j.ErrorText = text })
}

func (s *memStore) Requeue(_ context.Context, id string) error {
	return s.set(id, func(j *models.Job) { j.Status = models.JobQueued })
}

func (s *memStore) Ping(context.Context) error { return nil }

type memQueue struct {
	mu  sync.Mutex
	ids []string
}

func (q *memQueue) Push(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, id)
	return nil
}

func (q *memQueue) Pop(context.Context) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ids) == 0 {
		return "", nil
	}
	id := q.ids[0]
	q.ids = q.ids[1:]
	return id, nil
}

func (q *memQueue) Len(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.ids)), nil
}

func (q *memQueue) Ping(context.Context) error { return nil }

type renderFunc func(ctx context.Context, payload []byte) (render.PixelBuffer, error)

func (f renderFunc) Render(ctx context.Context, payload []byte) (render.PixelBuffer, error) {
	return f(ctx, payload)
}

type sceneMap map[string][]byte

func (m sceneMap) Load(name string) ([]byte, error) {
	b, ok := m[name]
	if !ok {
		return nil, errors.New(errors.CodeSceneNotFound, "scene not found").WithField("fp", name)
	}
	return b, nil
}

func solidFrame(w, h int) render.PixelBuffer {
	pix := make([]byte, w*h*render.BytesPerPixel)
	for i := range pix {
		pix[i] = 0xff
	}
	return render.PixelBuffer{Width: w, Height: h, BytesPerPixel: render.BytesPerPixel, Pix: pix}
}

func quietLogger() *logger.Logger {
	return logger.New(logger.Config{Output: io.Discard})
}
