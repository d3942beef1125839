package render

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"pyro/internal/pkg/logger"
)

type codedError struct{ code int }

func (e codedError) Error() string   { return fmt.Sprintf("native error %d", e.code) }
func (e codedError) NativeCode() int { return e.code }

type fakeScene struct {
	Name  string `json:"name"`
	Fail  int    `json:"fail"`
	Panic bool   `json:"panic"`
	Short bool   `json:"short"`
}

// fakeNative records render order and flags overlapping calls.
type fakeNative struct {
	// gate, when set, makes every Render wait for a token.
	gate chan struct{}
	// started, when set, receives the scene name as each Render begins.
	started chan string

	active  atomic.Int32
	overlap atomic.Bool

	mu       sync.Mutex
	root     string
	res      Resolution
	rendered []string
	sizes    []Resolution
	shutdown int
	initErr  error
	resErr   error
}

func (f *fakeNative) Init(root string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.root = root
	return f.initErr
}

func (f *fakeNative) SetResolution(w, h int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resErr != nil {
		return f.resErr
	}
	f.res = Resolution{Width: w, Height: h}
	return nil
}

func (f *fakeNative) Render(payload []byte) ([]byte, error) {
	if f.active.Add(1) > 1 {
		f.overlap.Store(true)
	}
	defer f.active.Add(-1)

	var sc fakeScene
	_ = json.Unmarshal(payload, &sc)

	if f.started != nil {
		f.started <- sc.Name
	}
	if f.gate != nil {
		<-f.gate
	}
	time.Sleep(50 * time.Microsecond)

	f.mu.Lock()
	res := f.res
	f.rendered = append(f.rendered, sc.Name)
	f.sizes = append(f.sizes, res)
	f.mu.Unlock()

	switch {
	case sc.Panic:
		panic("boom")
	case sc.Fail != 0:
		return nil, codedError{code: sc.Fail}
	case sc.Short:
		return make([]byte, 3), nil
	}
	return make([]byte, res.FrameSize()), nil
}

func (f *fakeNative) Shutdown() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdown++
	return nil
}

func (f *fakeNative) renderedNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.rendered...)
}

func quietLogger() *logger.Logger {
	return logger.New(logger.Config{Output: io.Discard})
}

func scenePayload(name string) []byte {
	return []byte(fmt.Sprintf(`{"name":%q}`, name))
}
