// Package httpapi wires the renderd routes and middleware.
package httpapi

import (
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"

	"pyro/internal/httpapi/handlers"
	"pyro/internal/httpkit"
	"pyro/internal/pkg/middleware"
)

type Options struct {
	AllowedOrigins []string
	// StaticDir is served at / when it exists.
	StaticDir      string
	RequestTimeout time.Duration
	RateLimitRPS   float64
	RateLimitBurst int
}

func NewRouter(d handlers.Deps, opt Options) http.Handler {
	h := handlers.New(d)
	log := h.Log()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(log))
	r.Use(middleware.Recovery(log))
	r.Use(httpkit.CORS(httpkit.CORSOptions{
		AllowedOrigins: opt.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", middleware.RequestIDHeader},
		ExposedHeaders: []string{
			handlers.HeaderWidth, handlers.HeaderHeight, handlers.HeaderJobID,
			middleware.RequestIDHeader, "Retry-After",
		},
		MaxAgeSeconds: 600,
	}))

	r.Get("/health", h.Health)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(opt.RequestTimeout))
		r.Use(middleware.RateLimit(opt.RateLimitRPS, opt.RateLimitBurst))

		r.Post("/render", h.Wrap(h.PostRender))
		r.Get("/render", h.Wrap(h.GetRender))
	})

	r.Get("/renderSize", h.Wrap(h.GetRenderSize))
	r.With(middleware.Timeout(opt.RequestTimeout)).Put("/renderSize", h.Wrap(h.PutRenderSize))

	if h.AsyncEnabled() {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", h.Wrap(h.PostJob))
			r.Get("/", h.Wrap(h.ListJobs))
			r.Get("/{jobId}", h.Wrap(h.GetJob))
			r.Get("/{jobId}/frame", h.Wrap(h.GetJobFrame))
		})
	}

	if opt.StaticDir != "" {
		if st, err := os.Stat(opt.StaticDir); err == nil && st.IsDir() {
			r.Handle("/*", http.FileServer(http.Dir(opt.StaticDir)))
		} else {
			log.Warn("static directory not found, not serving files", "dir", opt.StaticDir)
		}
	}

	return r
}
