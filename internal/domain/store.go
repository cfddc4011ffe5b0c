package domain

import (
	"context"
	"time"
)

// ListOpts filters entity queries.
type ListOpts struct {
	OwnerID  string   // empty = all owners
	Families []Family // empty = all families
	Limit    int
	Offset   int
}

// EntityStore is the registry of tracked entities. Creation and deletion are
// driven by the web API; the monitor only calls List, UpdateObservedPrice and
// UpdateCheckError. The two update methods return ErrNotFound when the entity
// was deleted after the cycle snapshot was taken, which is the tombstone
// signal that tells a worker to discard its result.
type EntityStore interface {
	Create(ctx context.Context, e TrackedEntity) error
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (TrackedEntity, error)
	List(ctx context.Context, opts ListOpts) ([]TrackedEntity, error)
	Count(ctx context.Context) (int64, error)
	UpdateObservedPrice(ctx context.Context, id string, title string, price Price, at time.Time) error
	UpdateCheckError(ctx context.Context, id string, reason string, at time.Time) error
}

// ConditionStore persists alert conditions. Creating a condition also seeds
// its AlertStatus row in StatePending; deleting it removes the status row,
// which is the only way a triggered condition is ever re-armed.
type ConditionStore interface {
	Create(ctx context.Context, c AlertCondition) error
	Delete(ctx context.Context, id string) error
	ListByEntity(ctx context.Context, entityID string) ([]AlertCondition, error)
}

// AlertStateStore is the durable home of per-condition trigger status.
// CompareAndSet performs an atomic per-row transition and distinguishes a
// lost race (ErrStateConflict) from a deleted row (ErrNotFound) so that two
// concurrent workers can never double-fire the same condition.
type AlertStateStore interface {
	Get(ctx context.Context, entityID, conditionID string) (AlertStatus, error)
	ListTriggered(ctx context.Context, entityID string) ([]AlertStatus, error)
	CompareAndSet(ctx context.Context, entityID, conditionID string, expected, next AlertState) error
}

// HistoryStore keeps successful price observations for display and archival.
// The evaluator never reads history; triggering depends only on the latest
// observation.
type HistoryStore interface {
	Append(ctx context.Context, obs PriceObservation) error
	ListByEntity(ctx context.Context, entityID string, limit int) ([]PriceObservation, error)
	ListBefore(ctx context.Context, before time.Time) ([]PriceObservation, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
