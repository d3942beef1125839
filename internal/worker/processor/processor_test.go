package processor

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pyro/internal/adapters/storage/localfs"
	"pyro/internal/encode"
	"pyro/internal/models"
	"pyro/internal/pkg/errors"
	"pyro/internal/render"
)

type fixture struct {
	store *memStore
	queue *memQueue
	sp    *localfs.LocalFS
	p     *Processor
	seen  [][]byte
}

func newFixture(t *testing.T, r renderFunc, jobs ...*models.Job) *fixture {
	t.Helper()
	f := &fixture{
		store: newMemStore(jobs...),
		queue: &memQueue{},
		sp:    localfs.New(t.TempDir()),
	}
	if r == nil {
		r = func(_ context.Context, payload []byte) (render.PixelBuffer, error) {
			f.seen = append(f.seen, payload)
			return solidFrame(4, 2), nil
		}
	}
	f.p = New(Deps{
		Store:    f.store,
		Queue:    f.queue,
		Renderer: r,
		Scenes:   sceneMap{"box.json": []byte(`{"id":"box","camera":{}}`)},
		SP:       f.sp,
		Backoff:  time.Millisecond,
		Log:      quietLogger(),
	})
	return f
}

func TestProcessJobInlineScene(t *testing.T) {
	job := &models.Job{ID: "j1", Status: models.JobQueued, Format: "png", Scene: json.RawMessage(`{"camera":{}}`)}
	f := newFixture(t, nil, job)

	require.NoError(t, f.p.ProcessJob(context.Background(), "j1"))

	got := f.store.job("j1")
	assert.Equal(t, models.JobDone, got.Status)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.Output)
	assert.Equal(t, "localfs", got.Output.Provider)
	assert.Equal(t, "frames/j1/frame.png", got.Output.ObjectKey)
	assert.Equal(t, "image/png", got.Output.ContentType)
	assert.Equal(t, 4, got.Output.Width)
	assert.Equal(t, 2, got.Output.Height)

	rc, ct, _, err := f.sp.GetObject(context.Background(), got.Output.ObjectKey)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "image/png", ct)
	assert.Equal(t, int64(len(data)), got.Output.SizeBytes)
	assert.Equal(t, []byte("\x89PNG"), data[:4])
}

func TestProcessJobSceneFile(t *testing.T) {
	job := &models.Job{ID: "j2", Status: models.JobQueued, Format: "raw", SceneFile: "box.json"}
	f := newFixture(t, nil, job)

	require.NoError(t, f.p.ProcessJob(context.Background(), "j2"))

	require.Len(t, f.seen, 1)
	assert.JSONEq(t, `{"id":"box","camera":{}}`, string(f.seen[0]))
	got := f.store.job("j2")
	assert.Equal(t, "frames/j2/frame.rgba", got.Output.ObjectKey)
	assert.Equal(t, int64(4*2*4), got.Output.SizeBytes)
}

func TestProcessJobFailures(t *testing.T) {
	nativeFail := func(context.Context, []byte) (render.PixelBuffer, error) {
		return render.PixelBuffer{}, errors.NativeFailure(3, nil)
	}

	tests := []struct {
		name     string
		job      *models.Job
		render   renderFunc
		wantCode errors.Code
	}{
		{
			name:     "missing scene file",
			job:      &models.Job{ID: "f", Status: models.JobQueued, SceneFile: "none.json"},
			wantCode: errors.CodeSceneNotFound,
		},
		{
			name:     "no scene at all",
			job:      &models.Job{ID: "f", Status: models.JobQueued},
			wantCode: errors.CodeInvalidPayload,
		},
		{
			name:     "bad format",
			job:      &models.Job{ID: "f", Status: models.JobQueued, Format: "tiff", Scene: json.RawMessage(`{}`)},
			wantCode: errors.CodeValidation,
		},
		{
			name:     "native failure",
			job:      &models.Job{ID: "f", Status: models.JobQueued, Scene: json.RawMessage(`{}`)},
			render:   nativeFail,
			wantCode: errors.CodeNativeFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.render, tt.job)

			err := f.p.ProcessJob(context.Background(), "f")
			assert.True(t, errors.IsCode(err, tt.wantCode), "got %v", err)

			got := f.store.job("f")
			assert.Equal(t, models.JobFailed, got.Status)
			assert.Equal(t, string(tt.wantCode), got.ErrorCode)
			assert.NotEmpty(t, got.ErrorText)
			assert.Nil(t, got.Output)
		})
	}
}

func TestProcessJobRequeuesWhenRendererBusy(t *testing.T) {
	busy := func(context.Context, []byte) (render.PixelBuffer, error) {
		return render.PixelBuffer{}, errors.ResourceUnavailable("render queue is full")
	}
	job := &models.Job{ID: "busy", Status: models.JobQueued, Scene: json.RawMessage(`{}`)}
	f := newFixture(t, busy, job)

	err := f.p.ProcessJob(context.Background(), "busy")
	assert.True(t, errors.IsResourceUnavailable(err))

	assert.Equal(t, models.JobQueued, f.store.job("busy").Status)
	n, _ := f.queue.Len(context.Background())
	assert.Equal(t, int64(1), n)
}

func TestProcessJobRequeuesOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	canceled := func(context.Context, []byte) (render.PixelBuffer, error) {
		cancel()
		return render.PixelBuffer{}, errors.Canceled("render.Render")
	}
	job := &models.Job{ID: "stop", Status: models.JobQueued, Scene: json.RawMessage(`{}`)}
	f := newFixture(t, canceled, job)

	err := f.p.ProcessJob(ctx, "stop")
	assert.Error(t, err)
	assert.Equal(t, models.JobQueued, f.store.job("stop").Status)
	id, _ := f.queue.Pop(context.Background())
	assert.Equal(t, "stop", id)
}

func TestProcessJobDropsFrameWhenRecordNotUpdated(t *testing.T) {
	job := &models.Job{ID: "j9", Status: models.JobQueued, Format: "png", Scene: json.RawMessage(`{"camera":{}}`)}
	f := newFixture(t, nil, job)
	f.store.doneErr = errors.Unavailable("postgres")

	err := f.p.ProcessJob(context.Background(), "j9")
	require.Error(t, err)

	got := f.store.job("j9")
	assert.Equal(t, models.JobFailed, got.Status, "job must not stay RUNNING")
	assert.Equal(t, string(errors.CodeUnavailable), got.ErrorCode)

	_, _, _, err = f.sp.GetObject(context.Background(), FrameKey("j9", encode.PNG))
	assert.True(t, errors.IsNotFound(err), "stored frame should be deleted")
}

func TestProcessJobSkipsTerminal(t *testing.T) {
	job := &models.Job{ID: "done", Status: models.JobDone}
	f := newFixture(t, nil, job)

	require.NoError(t, f.p.ProcessJob(context.Background(), "done"))
	assert.Empty(t, f.seen)
	assert.Equal(t, 0, f.store.job("done").Attempts)
}

func TestProcessJobUnknown(t *testing.T) {
	f := newFixture(t, nil)
	err := f.p.ProcessJob(context.Background(), "ghost")
	assert.True(t, errors.IsNotFound(err))
}

func TestFrameKey(t *testing.T) {
	assert.Equal(t, "frames/abc/frame.bmp", FrameKey("abc", encode.BMP))
	assert.Equal(t, "frames/abc/frame.rgba", FrameKey("abc", encode.Raw))
}
