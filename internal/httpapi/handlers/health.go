package handlers

import (
	"context"
	"net/http"
	"time"

	"pyro/internal/httpkit"
	"pyro/internal/render"
)

const checkTimeout = 5 * time.Second

// Health reports renderer state and queue stats. With ?deep=true it also
// pings the async dependencies. A renderer that is not ready answers 503.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := h.log.FromContext(ctx)

	stats := h.renderer.Stats()
	health := map[string]any{
		"status":   "ok",
		"service":  "renderd",
		"renderer": stats,
		"async":    h.AsyncEnabled(),
	}

	status := http.StatusOK
	if stats.State != render.StateReady.String() {
		health["status"] = "unavailable"
		status = http.StatusServiceUnavailable
	}

	if r.URL.Query().Get("deep") == "true" && h.AsyncEnabled() {
		checks := h.deepHealthCheck(ctx)
		health["checks"] = checks

		for _, check := range checks {
			if check["status"] != "ok" {
				if status == http.StatusOK {
					health["status"] = "degraded"
				}
				log.Warn("health check degraded", "checks", checks)
				break
			}
		}
	}

	httpkit.WriteJSON(w, status, health)
}

func (h *Handler) deepHealthCheck(ctx context.Context) map[string]map[string]any {
	return map[string]map[string]any{
		"postgres": probe(ctx, h.jobs.Ping),
		"redis":    h.checkRedis(ctx),
		"storage":  {"status": "ok", "provider": h.sp.Provider()},
	}
}

func (h *Handler) checkRedis(ctx context.Context) map[string]any {
	result := probe(ctx, h.queue.Ping)
	if result["status"] == "ok" {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		defer cancel()
		if n, err := h.queue.Len(cctx); err == nil {
			result["queue_depth"] = n
		}
	}
	return result
}

func probe(ctx context.Context, ping func(context.Context) error) map[string]any {
	start := time.Now()
	result := map[string]any{"status": "ok"}

	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	if err := ping(checkCtx); err != nil {
		result["status"] = "error"
		result["error"] = err.Error()
	}
	result["latency_ms"] = time.Since(start).Milliseconds()
	return result
}
