package handler

import (
	"context"
	"log/slog"
	"net/http"

	"pricewatch/internal/monitor"
	"pricewatch/internal/service"
)

// StatsService is what the stats endpoint needs from the registry.
type StatsService interface {
	GetStats(ctx context.Context) (service.Stats, error)
}

// StatsHandler serves the aggregate statistics endpoint.
type StatsHandler struct {
	registry StatsService
	sched    MonitorControl
	logger   *slog.Logger
}

// NewStatsHandler creates a StatsHandler. sched may be nil when the process
// runs without a monitor.
func NewStatsHandler(registry StatsService, sched MonitorControl, logger *slog.Logger) *StatsHandler {
	return &StatsHandler{
		registry: registry,
		sched:    sched,
		logger:   logHandler(logger, "stats"),
	}
}

type statsResponse struct {
	service.Stats
	Monitor *monitor.Status `json:"monitor,omitempty"`
}

// GetStats returns registry totals and the monitor status.
// GET /api/stats
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.registry.GetStats(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "stats failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}

	resp := statsResponse{Stats: stats}
	if h.sched != nil {
		st := h.sched.Status()
		resp.Monitor = &st
	}
	writeJSON(w, http.StatusOK, resp)
}
