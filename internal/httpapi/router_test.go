package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pyro/internal/adapters/storage/localfs"
	"pyro/internal/httpapi/handlers"
	"pyro/internal/models"
	"pyro/internal/pkg/errors"
	"pyro/internal/pkg/logger"
	"pyro/internal/ports"
	"pyro/internal/render"
)

type fakeRenderer struct {
	mu       sync.Mutex
	res      render.Resolution
	state    string
	err      error
	payloads [][]byte
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{res: render.Resolution{Width: 4, Height: 2}, state: render.StateReady.String()}
}

func (f *fakeRenderer) Render(ctx context.Context, payload []byte) (render.PixelBuffer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, payload)
	if f.err != nil {
		return render.PixelBuffer{}, f.err
	}
	pix := make([]byte, f.res.FrameSize())
	return render.PixelBuffer{Width: f.res.Width, Height: f.res.Height, BytesPerPixel: render.BytesPerPixel, Pix: pix}, nil
}

func (f *fakeRenderer) Resolution() render.Resolution {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.res
}

func (f *fakeRenderer) SetResolution(_ context.Context, w, h int) error {
	res := render.Resolution{Width: w, Height: h}
	if !res.Valid() {
		return errors.InvalidPayload("invalid resolution", nil)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.res = res
	return nil
}

func (f *fakeRenderer) Stats() render.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return render.Stats{State: f.state, Width: f.res.Width, Height: f.res.Height, QueueCapacity: 4}
}

type sceneMap map[string][]byte

func (m sceneMap) Load(name string) ([]byte, error) {
	if b, ok := m[name]; ok {
		return b, nil
	}
	return nil, errors.New(errors.CodeSceneNotFound, "scene file not found").WithField("fp", name)
}

type memStore struct {
	mu      sync.Mutex
	jobs    map[string]*models.Job
	ping    error
	failErr error
}

func (s *memStore) Create(_ context.Context, j *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *j
	s.jobs[j.ID] = &cp
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

func (s *memStore) List(_ context.Context, f ports.ListJobsFilter) ([]models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Job
	for _, j := range s.jobs {
		if f.Status == "" || j.Status == f.Status {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (s *memStore) MarkRunning(context.Context, string) error                { return nil }
func (s *memStore) MarkDone(context.Context, string, models.JobOutput) error { return nil }
func (s *memStore) Requeue(context.Context, string) error                    { return nil }

func (s *memStore) MarkFailed(_ context.Context, id, code, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	if j, ok := s.jobs[id]; ok {
		j.Status, j.ErrorCode, j.ErrorText = models.JobFailed, code, text
	}
	return nil
}

func (s *memStore) Ping(context.Context) error { return s.ping }

type memQueue struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (q *memQueue) Push(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.ids = append(q.ids, id)
	return nil
}

func (q *memQueue) Pop(context.Context) (string, error) { return "", nil }

func (q *memQueue) Len(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.ids)), nil
}

func (q *memQueue) Ping(context.Context) error { return nil }

type env struct {
	renderer *fakeRenderer
	store    *memStore
	queue    *memQueue
	sp       *localfs.LocalFS
	logs     *bytes.Buffer
	deps     handlers.Deps
	srv      http.Handler
}

func newEnv(t *testing.T, async bool, opt Options) *env {
	t.Helper()
	e := &env{
		renderer: newFakeRenderer(),
		store:    &memStore{jobs: map[string]*models.Job{}},
		queue:    &memQueue{},
		sp:       localfs.New(t.TempDir()),
		logs:     &bytes.Buffer{},
	}
	e.deps = handlers.Deps{
		Renderer: e.renderer,
		Scenes:   sceneMap{"box.json": []byte(`{"id":"box","camera":{}}`)},
		Log:      logger.New(logger.Config{Output: e.logs}),
	}
	if async {
		e.deps.Jobs, e.deps.Queue, e.deps.SP = e.store, e.queue, e.sp
	}
	e.srv = NewRouter(e.deps, opt)
	return e
}

func (e *env) do(method, target string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) (string, map[string]any) {
	t.Helper()
	var env httpkitEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env.Error.Code, env.Error.Details
}

type httpkitEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func TestPostRenderRaw(t *testing.T) {
	e := newEnv(t, false, Options{})

	rec := e.do(http.MethodPost, "/render", []byte(`{"camera":{}}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "4", rec.Header().Get(handlers.HeaderWidth))
	assert.Equal(t, "2", rec.Header().Get(handlers.HeaderHeight))
	assert.Len(t, rec.Body.Bytes(), 4*2*4)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.JSONEq(t, `{"camera":{}}`, string(e.renderer.payloads[0]))
}

func TestPostRenderPNG(t *testing.T) {
	e := newEnv(t, false, Options{})

	rec := e.do(http.MethodPost, "/render?format=png", []byte(`{"camera":{}}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, []byte("\x89PNG"), rec.Body.Bytes()[:4])
}

func TestPostRenderErrors(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		renderErr  error
		wantStatus int
		wantCode   string
	}{
		{"bad format", "/render?format=gif", nil, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"invalid payload", "/render", errors.InvalidPayload("scene has no camera", nil), http.StatusBadRequest, "INVALID_PAYLOAD"},
		{"queue full", "/render", errors.ResourceUnavailable("render queue is full"), http.StatusServiceUnavailable, "RESOURCE_UNAVAILABLE"},
		{"native failure", "/render", errors.NativeFailure(3, nil), http.StatusBadGateway, "NATIVE_FAILURE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, false, Options{})
			e.renderer.err = tt.renderErr

			rec := e.do(http.MethodPost, tt.target, []byte(`{}`))
			assert.Equal(t, tt.wantStatus, rec.Code)
			code, details := errorCode(t, rec)
			assert.Equal(t, tt.wantCode, code)

			switch tt.wantStatus {
			case http.StatusServiceUnavailable:
				assert.Equal(t, "1", rec.Header().Get("Retry-After"))
			case http.StatusBadGateway:
				assert.Equal(t, float64(3), details["native_code"])
			}
		})
	}
}

func TestGetRenderFromLibrary(t *testing.T) {
	e := newEnv(t, false, Options{})

	rec := e.do(http.MethodGet, "/render?fp=box.json", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":"box","camera":{}}`, string(e.renderer.payloads[0]))

	rec = e.do(http.MethodGet, "/render?fp=missing.json", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	code, details := errorCode(t, rec)
	assert.Equal(t, "SCENE_NOT_FOUND", code)
	assert.Equal(t, "missing.json", details["fp"])

	rec = e.do(http.MethodGet, "/render", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRenderSize(t *testing.T) {
	e := newEnv(t, false, Options{})

	rec := e.do(http.MethodGet, "/renderSize", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"width":4,"height":2}`, rec.Body.String())

	rec = e.do(http.MethodPut, "/renderSize", []byte(`{"width":320,"height":240}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, render.Resolution{Width: 320, Height: 240}, e.renderer.Resolution())

	rec = e.do(http.MethodPut, "/renderSize", []byte(`{"width":0,"height":240}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(http.MethodPut, "/renderSize", []byte(`{"w":1}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRenderRateLimited(t *testing.T) {
	e := newEnv(t, false, Options{RateLimitRPS: 1, RateLimitBurst: 1})

	assert.Equal(t, http.StatusOK, e.do(http.MethodPost, "/render", []byte(`{}`)).Code)
	rec := e.do(http.MethodPost, "/render", []byte(`{}`))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/renderSize", nil).Code)
}

func TestJobsDisabledWithoutAsync(t *testing.T) {
	e := newEnv(t, false, Options{})
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/jobs", nil).Code)
}

func TestPostJob(t *testing.T) {
	e := newEnv(t, true, Options{})

	rec := e.do(http.MethodPost, "/jobs", []byte(`{"name":"box","scene":{"camera":{}}}`))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var body struct{ Job models.Job }
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Job.ID)
	assert.Equal(t, models.JobQueued, body.Job.Status)
	assert.Equal(t, "png", body.Job.Format)
	assert.Equal(t, []string{body.Job.ID}, e.queue.ids)

	stored, err := e.store.Get(context.Background(), body.Job.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"camera":{}}`, string(stored.Scene))
}

func TestPostJobValidation(t *testing.T) {
	e := newEnv(t, true, Options{})

	for name, body := range map[string]string{
		"no scene":      `{"name":"x"}`,
		"null scene":    `{"scene":null}`,
		"both":          `{"scene":{},"scene_file":"box.json"}`,
		"bad format":    `{"scene_file":"box.json","format":"gif"}`,
		"unknown field": `{"scene_file":"box.json","priority":1}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := e.do(http.MethodPost, "/jobs", []byte(body))
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
	assert.Empty(t, e.queue.ids)
}

func TestPostJobQueueDown(t *testing.T) {
	e := newEnv(t, true, Options{})
	e.queue.err = errors.Unavailable("redis")

	rec := e.do(http.MethodPost, "/jobs", []byte(`{"scene_file":"box.json","format":"raw"}`))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	jobs, _ := e.store.List(context.Background(), ports.ListJobsFilter{})
	require.Len(t, jobs, 1)
	assert.Equal(t, models.JobFailed, jobs[0].Status)
}

func TestPostJobQueueDownRecordNotUpdated(t *testing.T) {
	e := newEnv(t, true, Options{})
	e.queue.err = errors.Unavailable("redis")
	e.store.failErr = errors.Unavailable("postgres")

	rec := e.do(http.MethodPost, "/jobs", []byte(`{"scene_file":"box.json"}`))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, e.logs.String(), "mark job failed")
	assert.Contains(t, e.logs.String(), "service unavailable: postgres")
}

func TestListAndGetJobs(t *testing.T) {
	e := newEnv(t, true, Options{})
	e.store.jobs["a"] = &models.Job{ID: "a", Status: models.JobDone}
	e.store.jobs["b"] = &models.Job{ID: "b", Status: models.JobQueued}

	rec := e.do(http.MethodGet, "/jobs?status=done", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct{ Jobs []models.Job }
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Jobs, 1)
	assert.Equal(t, "a", list.Jobs[0].ID)

	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/jobs?status=LOST", nil).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/jobs?limit=-1", nil).Code)

	rec = e.do(http.MethodGet, "/jobs/b", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"QUEUED"`)

	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/jobs/zzz", nil).Code)
}

func TestGetJobFrame(t *testing.T) {
	e := newEnv(t, true, Options{})
	frame := []byte("\x89PNG\r\n\x1a\nframe")
	out, err := e.sp.PutObject(context.Background(), ports.PutObjectInput{
		ObjectKey: "frames/a/frame.png", ContentType: "image/png", Reader: bytes.NewReader(frame),
	})
	require.NoError(t, err)

	e.store.jobs["a"] = &models.Job{ID: "a", Status: models.JobDone, Output: &models.JobOutput{
		Provider: "localfs", ObjectKey: out.ObjectKey, ContentType: "image/png", SizeBytes: out.Size, Width: 4, Height: 2,
	}}
	e.store.jobs["b"] = &models.Job{ID: "b", Status: models.JobRunning}

	rec := e.do(http.MethodGet, "/jobs/a/frame", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, frame, rec.Body.Bytes())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "4", rec.Header().Get(handlers.HeaderWidth))
	assert.Equal(t, "a", rec.Header().Get(handlers.HeaderJobID))

	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/jobs/b/frame", nil).Code)
}

// signingStorage hands out links the way the gdrive provider does.
type signingStorage struct {
	*localfs.LocalFS
}

func (s signingStorage) GetSignedURL(_ context.Context, key string, ttl time.Duration) (ports.SignedURLOutput, error) {
	return ports.SignedURLOutput{URL: "https://files.example/" + key, ExpiresAt: time.Now().Add(ttl)}, nil
}

func TestGetJobFrameRedirect(t *testing.T) {
	e := newEnv(t, true, Options{})
	frame := []byte("frame")
	out, err := e.sp.PutObject(context.Background(), ports.PutObjectInput{
		ObjectKey: "frames/a/frame.raw", Reader: bytes.NewReader(frame),
	})
	require.NoError(t, err)
	e.store.jobs["a"] = &models.Job{ID: "a", Status: models.JobDone, Output: &models.JobOutput{ObjectKey: out.ObjectKey}}

	// localfs cannot sign, so the frame is streamed
	rec := e.do(http.MethodGet, "/jobs/a/frame?redirect=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, frame, rec.Body.Bytes())

	e.deps.SP = signingStorage{LocalFS: e.sp}
	srv := NewRouter(e.deps, Options{})
	req := httptest.NewRequest(http.MethodGet, "/jobs/a/frame?redirect=true", nil)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://files.example/frames/a/frame.raw", rec.Header().Get("Location"))
	assert.Equal(t, "a", rec.Header().Get(handlers.HeaderJobID))

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/a/frame", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "without redirect the frame is streamed")
}

func TestHealth(t *testing.T) {
	e := newEnv(t, true, Options{})

	rec := e.do(http.MethodGet, "/health?deep=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "ok", checks["postgres"].(map[string]any)["status"])
	assert.Equal(t, "localfs", checks["storage"].(map[string]any)["provider"])

	e.store.ping = errors.Unavailable("postgres")
	rec = e.do(http.MethodGet, "/health?deep=true", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body["status"])

	e.renderer.state = render.StateShutDown.String()
	rec = e.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStaticFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>pyro</h1>"), 0o644))
	e := newEnv(t, false, Options{StaticDir: dir})

	rec := e.do(http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pyro")
}

func TestCORS(t *testing.T) {
	e := newEnv(t, false, Options{AllowedOrigins: []string{"http://localhost:5173"}})

	req := httptest.NewRequest(http.MethodOptions, "/render", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), handlers.HeaderWidth)
}
