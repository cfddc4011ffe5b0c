package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the health-check endpoint, pinging the database and
// cache when they are wired.
type HealthHandler struct {
	db     Pinger
	cache  Pinger
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler. Either pinger may be nil; its
// check is then skipped.
func NewHealthHandler(db, cache Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{db: db, cache: cache, logger: logger}
}

// HealthCheck reports liveness plus per-dependency reachability. Any failing
// dependency turns the response into a 503 so load balancers rotate the
// instance out.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string)
	for name, p := range map[string]Pinger{"postgres": h.db, "redis": h.cache} {
		if p == nil {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			h.logger.Warn("health check failed",
				slog.String("dependency", name), slog.String("error", err.Error()))
			checks[name] = "unreachable"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	body := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	writeJSON(w, status, body)
}
