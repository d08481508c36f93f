package handler

import (
	"context"
	"net/http"
	"time"
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// HealthHandler reports whether the server and its dependencies are up.
type HealthHandler struct {
	checks map[string]HealthCheck
}

// NewHealthHandler creates a HealthHandler running checks on every request.
func NewHealthHandler(checks map[string]HealthCheck) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// HandleHealth answers {"status":"healthy"}, or 503 with the failing checks.
//
// HTTP: GET /api/health
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	failed := make(map[string]string)
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unhealthy",
			"checks": failed,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
