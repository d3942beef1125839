package render

import (
	"fmt"
	"sync"

	"pyro/internal/pkg/errors"
)

// Native is the renderer the handle drives. Implementations are not required
// to be safe for concurrent use; the handle never calls them concurrently.
// An error may expose a renderer-specific code through a NativeCode() int
// method.
type Native interface {
	Init(resourceRoot string) error
	SetResolution(width, height int) error
	// Render draws the scene payload at the last configured resolution and
	// returns width*height RGBA pixels.
	Render(scene []byte) ([]byte, error)
	Shutdown() error
}

// State of a Handle.
type State int32

const (
	StateUninitialized State = iota
	StateReady
	StateShutDown
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateShutDown:
		return "shut_down"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Handle owns the native renderer and its current resolution.
// Uninitialized -> Ready on Init, Ready -> ShutDown on Shutdown. Configure and
// RenderSync are only legal in Ready.
type Handle struct {
	native Native

	// call serializes every native call.
	call sync.Mutex

	mu    sync.RWMutex
	state State
	res   Resolution
}

// NewHandle wraps native. initial is applied on Init.
func NewHandle(native Native, initial Resolution) *Handle {
	return &Handle{native: native, res: initial}
}

func (h *Handle) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// Resolution returns the resolution the next render will use.
func (h *Handle) Resolution() Resolution {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.res
}

// Init initializes the native renderer with resourceRoot and applies the
// initial resolution.
func (h *Handle) Init(resourceRoot string) error {
	const op = "render.Init"

	h.mu.RLock()
	state, res := h.state, h.res
	h.mu.RUnlock()

	if state != StateUninitialized {
		return errors.ResourceUnavailable("renderer already " + state.String()).WithField("op", op)
	}
	if !res.Valid() {
		return errors.InvalidPayload(fmt.Sprintf("invalid initial resolution %dx%d", res.Width, res.Height), nil)
	}

	if err := h.invoke(func() error { return h.native.Init(resourceRoot) }); err != nil {
		return nativeError(op, err)
	}
	if err := h.invoke(func() error { return h.native.SetResolution(res.Width, res.Height) }); err != nil {
		return nativeError(op, err)
	}

	h.mu.Lock()
	h.state = StateReady
	h.mu.Unlock()
	return nil
}

// Configure changes the resolution. It must not overlap a render.
func (h *Handle) Configure(res Resolution) error {
	const op = "render.Configure"

	if err := h.ready(op); err != nil {
		return err
	}
	if !res.Valid() {
		return errors.InvalidPayload(fmt.Sprintf("invalid resolution %dx%d", res.Width, res.Height), nil).
			WithField("max", MaxDimension)
	}

	if err := h.invoke(func() error { return h.native.SetResolution(res.Width, res.Height) }); err != nil {
		return nativeError(op, err)
	}

	h.mu.Lock()
	h.res = res
	h.mu.Unlock()
	return nil
}

// RenderSync renders scene at the current resolution and blocks until the
// native renderer returns.
func (h *Handle) RenderSync(scene []byte) (PixelBuffer, error) {
	const op = "render.RenderSync"

	if err := h.ready(op); err != nil {
		return PixelBuffer{}, err
	}
	res := h.Resolution()

	var pix []byte
	err := h.invoke(func() error {
		var err error
		pix, err = h.native.Render(scene)
		return err
	})
	if err != nil {
		return PixelBuffer{}, nativeError(op, err)
	}

	if len(pix) != res.FrameSize() {
		return PixelBuffer{}, errors.NativeFailure(-1,
			fmt.Errorf("frame is %d bytes, want %d for %dx%d", len(pix), res.FrameSize(), res.Width, res.Height))
	}

	return PixelBuffer{
		Width:         res.Width,
		Height:        res.Height,
		BytesPerPixel: BytesPerPixel,
		Pix:           pix,
	}, nil
}

// Shutdown releases the native renderer. The handle is unusable afterwards.
// Calling it again is a no-op.
func (h *Handle) Shutdown() error {
	h.mu.Lock()
	prev := h.state
	h.state = StateShutDown
	h.mu.Unlock()

	if prev != StateReady {
		return nil
	}
	if err := h.invoke(h.native.Shutdown); err != nil {
		return nativeError("render.Shutdown", err)
	}
	return nil
}

func (h *Handle) ready(op string) error {
	switch st := h.State(); st {
	case StateReady:
		return nil
	default:
		return errors.ResourceUnavailable("renderer is " + st.String()).WithField("op", op)
	}
}

// invoke runs fn under the call lock and turns a panic into an error.
func (h *Handle) invoke(fn func() error) (err error) {
	h.call.Lock()
	defer h.call.Unlock()
	defer func() {
		if r := recover(); r != nil {
			err = errors.NativeFailure(-1, fmt.Errorf("native renderer panic: %v", r))
		}
	}()
	return fn()
}

// nativeError keeps errors that already carry a render code and turns
// anything else into NATIVE_FAILURE.
func nativeError(op string, err error) error {
	switch errors.GetCode(err) {
	case errors.CodeInvalidPayload, errors.CodeResourceUnavailable, errors.CodeNativeFailure:
		return err
	}

	code := -1
	var coded interface{ NativeCode() int }
	if errors.As(err, &coded) {
		code = coded.NativeCode()
	}
	nf := errors.NativeFailure(code, err)
	nf.Op = op
	return nf
}
