package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"pricewatch/internal/domain"
	"pricewatch/internal/service"
)

// RegistryConditionService is what the condition endpoints need from the
// registry.
type RegistryConditionService interface {
	CreateCondition(ctx context.Context, entityID string, kind domain.ConditionKind, threshold float64, currency domain.Currency) (domain.AlertCondition, error)
	DeleteCondition(ctx context.Context, id string) error
	ListConditions(ctx context.Context, entityID string) ([]service.ConditionView, error)
}

// ConditionHandler serves the alert-condition endpoints.
type ConditionHandler struct {
	registry RegistryConditionService
	logger   *slog.Logger
}

// NewConditionHandler creates a ConditionHandler.
func NewConditionHandler(registry RegistryConditionService, logger *slog.Logger) *ConditionHandler {
	return &ConditionHandler{
		registry: registry,
		logger:   logHandler(logger, "condition"),
	}
}

type createConditionRequest struct {
	Kind      string  `json:"kind"`
	Threshold float64 `json:"threshold"`
	Currency  string  `json:"currency"`
}

// CreateCondition attaches an alert condition to an entity.
// POST /api/entities/{id}/conditions
func (h *ConditionHandler) CreateCondition(w http.ResponseWriter, r *http.Request) {
	entityID := r.PathValue("id")
	if entityID == "" {
		writeError(w, http.StatusBadRequest, "missing entity id")
		return
	}

	var req createConditionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	currency := domain.Currency(req.Currency)
	if currency == "" {
		currency = domain.CurrencyUSD
	}

	c, err := h.registry.CreateCondition(r.Context(), entityID,
		domain.ConditionKind(req.Kind), req.Threshold, currency)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "entity not found")
	case errors.Is(err, service.ErrNoBaselinePrice):
		writeError(w, http.StatusConflict, "entity has no observed price yet; percent conditions need a baseline")
	case errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "condition already exists")
	case err != nil:
		// Validation failures (bad kind, non-positive threshold, currency
		// mismatch) land here as client errors.
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeJSON(w, http.StatusCreated, c)
	}
}

// ListConditions returns an entity's conditions with their alert states.
// GET /api/entities/{id}/conditions
func (h *ConditionHandler) ListConditions(w http.ResponseWriter, r *http.Request) {
	entityID := r.PathValue("id")
	if entityID == "" {
		writeError(w, http.StatusBadRequest, "missing entity id")
		return
	}

	views, err := h.registry.ListConditions(r.Context(), entityID)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "entity not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list conditions failed",
			slog.String("entity_id", entityID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list conditions")
		return
	}
	if views == nil {
		views = []service.ConditionView{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"conditions": views})
}

// DeleteCondition removes a condition, re-arming the entity if it had
// triggered.
// DELETE /api/conditions/{id}
func (h *ConditionHandler) DeleteCondition(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing condition id")
		return
	}

	err := h.registry.DeleteCondition(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "condition not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "delete condition failed",
			slog.String("condition_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to delete condition")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
