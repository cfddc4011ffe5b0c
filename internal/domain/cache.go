package domain

import (
	"context"
	"time"
)

// PriceCache mirrors the latest good observation per entity so the API can
// render current prices without touching Postgres.
type PriceCache interface {
	SetPrice(ctx context.Context, entityID string, price Price, ts time.Time) error
	GetPrice(ctx context.Context, entityID string) (Price, time.Time, error)
}

// CooldownTracker backs off a whole source family after a RateLimited fetch
// so the next cycles stop hammering that upstream until the window expires.
type CooldownTracker interface {
	SetCooldown(ctx context.Context, family Family, d time.Duration) error
	InCooldown(ctx context.Context, family Family) (bool, error)
}

// LockManager provides distributed locking. The scheduler holds a lock for
// the duration of each cycle so that two replicas of the service never run
// overlapping cycles against the same registry.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// EventBus fans trigger events and cycle summaries out to the WebSocket hub
// and any other subscriber.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
