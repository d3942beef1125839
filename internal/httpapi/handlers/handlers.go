// Package handlers implements the renderd HTTP endpoints.
package handlers

import (
	"context"
	"net/http"
	"strconv"

	"pyro/internal/encode"
	"pyro/internal/httpkit"
	"pyro/internal/pkg/logger"
	"pyro/internal/pkg/middleware"
	"pyro/internal/ports"
	"pyro/internal/render"
)

// Frame headers sent with every rendered or stored frame.
const (
	HeaderWidth  = "X-Render-Width"
	HeaderHeight = "X-Render-Height"
	HeaderJobID  = "X-Render-Job-ID"
)

// maxSceneBytes bounds request bodies that carry a scene.
const maxSceneBytes = 16 << 20

// Renderer is satisfied by *render.Service.
type Renderer interface {
	Render(ctx context.Context, payload []byte) (render.PixelBuffer, error)
	Resolution() render.Resolution
	SetResolution(ctx context.Context, width, height int) error
	Stats() render.Stats
}

// SceneLoader is satisfied by *scene.Library.
type SceneLoader interface {
	Load(name string) ([]byte, error)
}

type Deps struct {
	Renderer Renderer
	Scenes   SceneLoader
	// Validate checks async job scenes before they are queued. Defaults to
	// render.ValidateJSON.
	Validate render.Validator

	// Async intake; all three are nil when Postgres and Redis are not
	// configured.
	Jobs  ports.JobStore
	Queue ports.JobQueue
	SP    ports.StorageProvider

	Log *logger.Logger
}

type Handler struct {
	renderer Renderer
	scenes   SceneLoader
	validate render.Validator
	jobs     ports.JobStore
	queue    ports.JobQueue
	sp       ports.StorageProvider
	log      *logger.Logger
}

func New(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	validate := d.Validate
	if validate == nil {
		validate = render.ValidateJSON
	}
	return &Handler{
		renderer: d.Renderer,
		scenes:   d.Scenes,
		validate: validate,
		jobs:     d.Jobs,
		queue:    d.Queue,
		sp:       d.SP,
		log:      log.WithComponent("httpapi"),
	}
}

// Log is the logger handlers report errors with.
func (h *Handler) Log() *logger.Logger { return h.log }

// AsyncEnabled reports whether the job endpoints have their dependencies.
func (h *Handler) AsyncEnabled() bool {
	return h.jobs != nil && h.queue != nil && h.sp != nil
}

// Wrap adapts an error returning handler.
func (h *Handler) Wrap(fn middleware.ErrorHandlerFunc) http.HandlerFunc {
	return middleware.WrapHandler(h.log, fn)
}

func writeFrame(w http.ResponseWriter, f encode.Format, frame render.PixelBuffer) error {
	data, err := encode.Bytes(f, frame)
	if err != nil {
		return err
	}
	setFrameHeaders(w, f.ContentType(), frame.Width, frame.Height, 0)
	httpkit.WriteBytes(w, http.StatusOK, f.ContentType(), data)
	return nil
}

func setFrameHeaders(w http.ResponseWriter, contentType string, width, height int, size int64) {
	hdr := w.Header()
	hdr.Set("Content-Type", contentType)
	hdr.Set(HeaderWidth, strconv.Itoa(width))
	hdr.Set(HeaderHeight, strconv.Itoa(height))
	if size > 0 {
		hdr.Set("Content-Length", strconv.FormatInt(size, 10))
	}
	hdr.Set("Cache-Control", "no-store")
}
