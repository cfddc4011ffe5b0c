package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"pricewatch/internal/domain"
	"pricewatch/internal/monitor"
)

// MonitorControl is what the monitor endpoints need from the scheduler.
type MonitorControl interface {
	Start(ctx context.Context) error
	Stop() error
	Status() monitor.Status
	RunOnce(ctx context.Context) (monitor.CycleSummary, error)
}

// MonitorHandler serves the scheduler control endpoints.
type MonitorHandler struct {
	sched   MonitorControl
	baseCtx context.Context
	logger  *slog.Logger
}

// NewMonitorHandler creates a MonitorHandler. baseCtx is the application
// lifetime context; a monitor started over HTTP must outlive the request
// that started it.
func NewMonitorHandler(sched MonitorControl, baseCtx context.Context, logger *slog.Logger) *MonitorHandler {
	return &MonitorHandler{
		sched:   sched,
		baseCtx: baseCtx,
		logger:  logHandler(logger, "monitor"),
	}
}

// Start begins periodic checking.
// POST /api/monitor/start
func (h *MonitorHandler) Start(w http.ResponseWriter, r *http.Request) {
	err := h.sched.Start(h.baseCtx)
	if errors.Is(err, domain.ErrAlreadyRunning) {
		writeError(w, http.StatusConflict, "monitor is already running")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "monitor start failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to start monitor")
		return
	}
	writeJSON(w, http.StatusOK, h.sched.Status())
}

// Stop halts periodic checking. The in-flight cycle, if any, is cancelled
// cooperatively.
// POST /api/monitor/stop
func (h *MonitorHandler) Stop(w http.ResponseWriter, r *http.Request) {
	err := h.sched.Stop()
	if errors.Is(err, domain.ErrNotRunning) {
		writeError(w, http.StatusConflict, "monitor is not running")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "monitor stop failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to stop monitor")
		return
	}
	writeJSON(w, http.StatusOK, h.sched.Status())
}

// Status reports the scheduler state and last cycle outcome.
// GET /api/monitor/status
func (h *MonitorHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sched.Status())
}

// Check runs one full cycle immediately, regardless of per-family cadence,
// and returns its summary. Runs whether or not the periodic loop is active.
// POST /api/monitor/check
func (h *MonitorHandler) Check(w http.ResponseWriter, r *http.Request) {
	summary, err := h.sched.RunOnce(r.Context())
	if errors.Is(err, domain.ErrCycleRunning) {
		writeError(w, http.StatusConflict, "a check cycle is already in progress")
		return
	}
	if errors.Is(err, domain.ErrLockHeld) {
		writeError(w, http.StatusConflict, "another instance is running a check cycle")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "manual check failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "check cycle failed")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
