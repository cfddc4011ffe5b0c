// Package service holds the application services behind the HTTP handlers:
// registry management for tracked entities and their alert conditions.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"pricewatch/internal/domain"
	"pricewatch/internal/source"
)

// ErrNoBaselinePrice is returned when a percent condition is created for an
// entity that has never been checked. Percent baselines are fixed at
// creation time from the last observed price, so there has to be one.
var ErrNoBaselinePrice = errors.New("entity has no observed price to baseline against")

// RegistryService owns the tracked-entity registry: creation with family
// detection, deletion, and alert-condition management. The monitor consumes
// the same stores directly; this service is the write path for users.
type RegistryService struct {
	entities   domain.EntityStore
	conditions domain.ConditionStore
	states     domain.AlertStateStore
	history    domain.HistoryStore
	prices     domain.PriceCache
	resolver   *source.Resolver
	logger     *slog.Logger
}

// NewRegistryService creates a RegistryService. history and prices may be
// nil; the detail views then omit the corresponding data.
func NewRegistryService(
	entities domain.EntityStore,
	conditions domain.ConditionStore,
	states domain.AlertStateStore,
	history domain.HistoryStore,
	prices domain.PriceCache,
	resolver *source.Resolver,
	logger *slog.Logger,
) *RegistryService {
	return &RegistryService{
		entities:   entities,
		conditions: conditions,
		states:     states,
		history:    history,
		prices:     prices,
		resolver:   resolver,
		logger:     logger.With(slog.String("component", "registry")),
	}
}

// CreateEntity registers a new locator for tracking. The source family is
// detected from the locator; an unrecognized one fails with
// domain.ErrNoAdapter before anything is stored.
func (s *RegistryService) CreateEntity(ctx context.Context, ownerID, locator, title string) (domain.TrackedEntity, error) {
	locator = strings.TrimSpace(locator)

	family, err := source.DetectFamily(locator)
	if err != nil {
		return domain.TrackedEntity{}, err
	}
	// The family must also have an adapter registered in this deployment.
	if _, err := s.resolver.Resolve(locator); err != nil {
		return domain.TrackedEntity{}, err
	}

	e := domain.TrackedEntity{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Kind:      family.Kind(),
		Family:    family,
		Locator:   locator,
		Title:     strings.TrimSpace(title),
		CreatedAt: time.Now().UTC(),
	}
	if e.Title == "" && family == domain.FamilyFlight {
		e.Title = source.RouteTitle(locator)
	}
	if err := e.Validate(); err != nil {
		return domain.TrackedEntity{}, err
	}

	if err := s.entities.Create(ctx, e); err != nil {
		return domain.TrackedEntity{}, err
	}

	s.logger.InfoContext(ctx, "entity registered",
		slog.String("entity_id", e.ID),
		slog.String("family", string(e.Family)),
	)
	return e, nil
}

// DeleteEntity removes an entity. Conditions, alert status rows and history
// go with it; a check cycle holding a snapshot of this entity will find the
// rows gone and discard its result.
func (s *RegistryService) DeleteEntity(ctx context.Context, id string) error {
	if err := s.entities.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "entity deleted", slog.String("entity_id", id))
	return nil
}

// GetEntity returns one entity by ID.
func (s *RegistryService) GetEntity(ctx context.Context, id string) (domain.TrackedEntity, error) {
	return s.entities.GetByID(ctx, id)
}

// EntityView decorates an entity with its derived check state and the cached
// latest price.
type EntityView struct {
	domain.TrackedEntity
	CheckState domain.CheckState `json:"check_state"`
}

// ListEntities returns entity views matching opts, plus the total count.
func (s *RegistryService) ListEntities(ctx context.Context, opts domain.ListOpts) ([]EntityView, int64, error) {
	entities, err := s.entities.List(ctx, opts)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.entities.Count(ctx)
	if err != nil {
		return nil, 0, err
	}

	ids := make([]string, 0, len(entities))
	for _, e := range entities {
		ids = append(ids, e.ID)
	}
	cached := s.latestPrices(ctx, ids)

	views := make([]EntityView, 0, len(entities))
	for _, e := range entities {
		triggered, err := s.states.ListTriggered(ctx, e.ID)
		if err != nil {
			return nil, 0, err
		}
		if p, ok := cached[e.ID]; ok {
			e.LastPrice = &p
		}
		views = append(views, EntityView{
			TrackedEntity: e,
			CheckState:    domain.CheckStateOf(e, len(triggered) > 0),
		})
	}
	return views, total, nil
}

// bulkPriceCache is satisfied by caches that can read many entities in one
// round trip.
type bulkPriceCache interface {
	GetPrices(ctx context.Context, entityIDs []string) (map[string]domain.Price, error)
}

// latestPrices reads the freshest observation per entity from the price
// cache. Best-effort: a missing cache, a miss, or a read error all fall back
// to the registry row the caller already holds.
func (s *RegistryService) latestPrices(ctx context.Context, ids []string) map[string]domain.Price {
	if s.prices == nil || len(ids) == 0 {
		return nil
	}

	if bulk, ok := s.prices.(bulkPriceCache); ok {
		out, err := bulk.GetPrices(ctx, ids)
		if err != nil {
			s.logger.Warn("price cache bulk read failed", slog.String("error", err.Error()))
			return nil
		}
		return out
	}

	out := make(map[string]domain.Price, len(ids))
	for _, id := range ids {
		p, _, err := s.prices.GetPrice(ctx, id)
		if err != nil {
			continue
		}
		out[id] = p
	}
	return out
}

// EntityDetail is the full view of one entity: conditions with their states
// and recent price history.
type EntityDetail struct {
	EntityView
	Conditions []ConditionView           `json:"conditions"`
	History    []domain.PriceObservation `json:"history,omitempty"`
}

// ConditionView is a condition together with its current alert state.
type ConditionView struct {
	domain.AlertCondition
	State       domain.AlertState `json:"state"`
	Description string            `json:"description"`
}

// GetEntityDetail assembles the detail view for one entity.
func (s *RegistryService) GetEntityDetail(ctx context.Context, id string, historyLimit int) (EntityDetail, error) {
	e, err := s.entities.GetByID(ctx, id)
	if err != nil {
		return EntityDetail{}, err
	}

	conds, err := s.conditions.ListByEntity(ctx, id)
	if err != nil {
		return EntityDetail{}, err
	}

	var anyTriggered bool
	condViews := make([]ConditionView, 0, len(conds))
	for _, c := range conds {
		st, err := s.states.Get(ctx, id, c.ID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return EntityDetail{}, err
		}
		if st.State == domain.StateTriggered {
			anyTriggered = true
		}
		condViews = append(condViews, ConditionView{
			AlertCondition: c,
			State:          st.State,
			Description:    c.Describe(),
		})
	}

	if s.prices != nil {
		p, ts, err := s.prices.GetPrice(ctx, id)
		if err == nil {
			e.LastPrice = &p
			e.LastChecked = &ts
		} else if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("price cache read failed",
				slog.String("entity_id", id), slog.String("error", err.Error()))
		}
	}

	detail := EntityDetail{
		EntityView: EntityView{
			TrackedEntity: e,
			CheckState:    domain.CheckStateOf(e, anyTriggered),
		},
		Conditions: condViews,
	}

	if s.history != nil && historyLimit > 0 {
		hist, err := s.history.ListByEntity(ctx, id, historyLimit)
		if err != nil {
			return EntityDetail{}, err
		}
		detail.History = hist
	}
	return detail, nil
}

// CreateCondition adds an alert condition to an entity. For percent kinds
// the baseline is captured here, once, from the entity's last observed
// price; later observations never move it.
func (s *RegistryService) CreateCondition(ctx context.Context, entityID string, kind domain.ConditionKind, threshold float64, currency domain.Currency) (domain.AlertCondition, error) {
	e, err := s.entities.GetByID(ctx, entityID)
	if err != nil {
		return domain.AlertCondition{}, err
	}

	c := domain.AlertCondition{
		ID:        uuid.New().String(),
		EntityID:  e.ID,
		Kind:      kind,
		Threshold: threshold,
		Currency:  currency,
		CreatedAt: time.Now().UTC(),
	}

	if kind.IsPercent() {
		if e.LastPrice == nil {
			return domain.AlertCondition{}, ErrNoBaselinePrice
		}
		if e.LastPrice.Currency != currency {
			return domain.AlertCondition{}, fmt.Errorf(
				"registry: condition currency %s does not match observed currency %s",
				currency, e.LastPrice.Currency)
		}
		baseline := *e.LastPrice
		c.Baseline = &baseline
	}

	if err := c.Validate(); err != nil {
		return domain.AlertCondition{}, err
	}
	if err := s.conditions.Create(ctx, c); err != nil {
		return domain.AlertCondition{}, err
	}

	s.logger.InfoContext(ctx, "condition created",
		slog.String("entity_id", e.ID),
		slog.String("condition_id", c.ID),
		slog.String("condition", c.Describe()),
	)
	return c, nil
}

// DeleteCondition removes a condition and its status row. Re-creating the
// condition afterwards re-arms it in the pending state.
func (s *RegistryService) DeleteCondition(ctx context.Context, id string) error {
	return s.conditions.Delete(ctx, id)
}

// ListConditions returns an entity's conditions with their states.
func (s *RegistryService) ListConditions(ctx context.Context, entityID string) ([]ConditionView, error) {
	if _, err := s.entities.GetByID(ctx, entityID); err != nil {
		return nil, err
	}
	conds, err := s.conditions.ListByEntity(ctx, entityID)
	if err != nil {
		return nil, err
	}

	out := make([]ConditionView, 0, len(conds))
	for _, c := range conds {
		st, err := s.states.Get(ctx, entityID, c.ID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		out = append(out, ConditionView{
			AlertCondition: c,
			State:          st.State,
			Description:    c.Describe(),
		})
	}
	return out, nil
}

// Stats summarizes the registry for the stats endpoint.
type Stats struct {
	Entities  int64            `json:"entities"`
	ByFamily  map[string]int64 `json:"by_family"`
	Triggered int64            `json:"triggered"`
}

// GetStats counts entities per family and triggered conditions.
func (s *RegistryService) GetStats(ctx context.Context) (Stats, error) {
	entities, err := s.entities.List(ctx, domain.ListOpts{})
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		Entities: int64(len(entities)),
		ByFamily: make(map[string]int64),
	}
	for _, e := range entities {
		stats.ByFamily[string(e.Family)]++
		triggered, err := s.states.ListTriggered(ctx, e.ID)
		if err != nil {
			return Stats{}, err
		}
		stats.Triggered += int64(len(triggered))
	}
	return stats, nil
}
