package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"pricewatch/internal/domain"
	"pricewatch/internal/service"
)

// RegistryEntityService is what the entity endpoints need from the registry.
type RegistryEntityService interface {
	CreateEntity(ctx context.Context, ownerID, locator, title string) (domain.TrackedEntity, error)
	DeleteEntity(ctx context.Context, id string) error
	ListEntities(ctx context.Context, opts domain.ListOpts) ([]service.EntityView, int64, error)
	GetEntityDetail(ctx context.Context, id string, historyLimit int) (service.EntityDetail, error)
}

// EntityHandler serves the tracked-entity endpoints.
type EntityHandler struct {
	registry RegistryEntityService
	logger   *slog.Logger
}

// NewEntityHandler creates an EntityHandler.
func NewEntityHandler(registry RegistryEntityService, logger *slog.Logger) *EntityHandler {
	return &EntityHandler{
		registry: registry,
		logger:   logHandler(logger, "entity"),
	}
}

type createEntityRequest struct {
	OwnerID string `json:"owner_id"`
	Locator string `json:"locator"`
	Title   string `json:"title"`
}

// CreateEntity registers a new locator for tracking.
// POST /api/entities
func (h *EntityHandler) CreateEntity(w http.ResponseWriter, r *http.Request) {
	var req createEntityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Locator == "" {
		writeError(w, http.StatusBadRequest, "locator is required")
		return
	}

	e, err := h.registry.CreateEntity(r.Context(), req.OwnerID, req.Locator, req.Title)
	switch {
	case errors.Is(err, domain.ErrNoAdapter):
		writeError(w, http.StatusUnprocessableEntity, "no source adapter recognizes this locator")
	case errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "locator is already tracked")
	case err != nil:
		h.logger.ErrorContext(r.Context(), "create entity failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create entity")
	default:
		writeJSON(w, http.StatusCreated, e)
	}
}

// listEntitiesResponse wraps the list output with pagination metadata.
type listEntitiesResponse struct {
	Entities []service.EntityView `json:"entities"`
	Total    int64                `json:"total"`
	Limit    int                  `json:"limit"`
	Offset   int                  `json:"offset"`
}

// ListEntities returns tracked entities with pagination.
// GET /api/entities?owner=&family=&limit=50&offset=0
func (h *EntityHandler) ListEntities(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	entities, total, err := h.registry.ListEntities(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list entities failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list entities")
		return
	}
	if entities == nil {
		entities = []service.EntityView{}
	}

	writeJSON(w, http.StatusOK, listEntitiesResponse{
		Entities: entities,
		Total:    total,
		Limit:    opts.Limit,
		Offset:   opts.Offset,
	})
}

// GetEntity returns one entity with its conditions and recent history.
// GET /api/entities/{id}
func (h *EntityHandler) GetEntity(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing entity id")
		return
	}

	detail, err := h.registry.GetEntityDetail(r.Context(), id, 50)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "entity not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "get entity failed",
			slog.String("entity_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get entity")
		return
	}

	writeJSON(w, http.StatusOK, detail)
}

// DeleteEntity stops tracking an entity.
// DELETE /api/entities/{id}
func (h *EntityHandler) DeleteEntity(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing entity id")
		return
	}

	err := h.registry.DeleteEntity(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "entity not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "delete entity failed",
			slog.String("entity_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to delete entity")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
