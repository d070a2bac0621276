package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// HealthCheck checks one dependency.
type HealthCheck func(ctx context.Context) error

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	checks  map[string]HealthCheck
	pending func() int
	logger  *slog.Logger
}

// NewHealthHandler creates a HealthHandler. pending, if set, reports the
// number of in-flight transactions.
func NewHealthHandler(checks map[string]HealthCheck, pending func() int, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{checks: checks, pending: pending, logger: logger}
}

// HealthCheck runs every dependency check and answers 503 if any fails.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, code := "ok", http.StatusOK
	deps := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			deps[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			h.logger.WarnContext(ctx, "health check failed",
				slog.String("dependency", name),
				slog.String("error", err.Error()),
			)
			continue
		}
		deps[name] = "ok"
	}

	body := map[string]any{
		"status":       status,
		"dependencies": deps,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	}
	if h.pending != nil {
		body["pending_syncs"] = h.pending()
	}
	writeJSON(w, code, body)
}
