package handlers

import (
	"context"
	"net/http"
	"time"

	"scenegen/internal/httpkit"
)

const checkTimeout = 5 * time.Second

// Health reports liveness; with ?deep=true it also checks the renderer,
// the artifact store and Redis.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	health := map[string]any{
		"status":  "ok",
		"service": "scenegen-api",
		"version": h.version,
	}

	if r.URL.Query().Get("deep") == "true" {
		checks := h.deepHealthCheck(ctx)
		health["checks"] = checks

		for _, check := range checks {
			if check["status"] != "ok" {
				health["status"] = "degraded"
				h.log.FromContext(ctx).Warn("health check degraded", "checks", checks)
				break
			}
		}
	}

	httpkit.WriteJSON(w, http.StatusOK, health)
}

func (h *Handler) deepHealthCheck(ctx context.Context) map[string]map[string]any {
	checks := map[string]map[string]any{
		"renderer": h.checkRenderer(),
		"storage":  h.checkStorage(ctx),
	}
	if h.redis != nil {
		checks["redis"] = h.checkRedis(ctx)
	}
	return checks
}

func (h *Handler) checkRenderer() map[string]any {
	a := h.renderer.Available()
	if !a.OK() {
		return map[string]any{"status": "error", "binary": a.Binary, "error": a.String()}
	}
	return map[string]any{"status": "ok", "path": a.Path}
}

func (h *Handler) checkStorage(ctx context.Context) map[string]any {
	start := time.Now()
	result := map[string]any{
		"status":   "ok",
		"provider": h.store.Provider(),
	}

	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	objs, err := h.store.ListObjects(checkCtx)
	if err != nil {
		result["status"] = "error"
		result["error"] = err.Error()
	} else {
		result["objects"] = len(objs)
	}

	result["latency_ms"] = time.Since(start).Milliseconds()
	return result
}

func (h *Handler) checkRedis(ctx context.Context) map[string]any {
	start := time.Now()
	result := map[string]any{"status": "ok"}

	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	if err := h.redis.Ping(checkCtx); err != nil {
		result["status"] = "error"
		result["error"] = err.Error()
	}

	result["latency_ms"] = time.Since(start).Milliseconds()
	return result
}
