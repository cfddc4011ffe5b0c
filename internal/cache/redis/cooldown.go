package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"pricewatch/internal/domain"
)

// CooldownTracker implements domain.CooldownTracker with a plain expiring
// key per source family. The key's TTL is the cooldown window; existence is
// the whole signal.
type CooldownTracker struct {
	rdb *redis.Client
}

// NewCooldownTracker creates a CooldownTracker backed by the given Client.
func NewCooldownTracker(c *Client) *CooldownTracker {
	return &CooldownTracker{rdb: c.Underlying()}
}

func cooldownKey(f domain.Family) string {
	return "cooldown:" + string(f)
}

// SetCooldown marks the family rate-limited for the duration d.
func (ct *CooldownTracker) SetCooldown(ctx context.Context, f domain.Family, d time.Duration) error {
	if err := ct.rdb.Set(ctx, cooldownKey(f), time.Now().Format(time.RFC3339), d).Err(); err != nil {
		return fmt.Errorf("redis: set cooldown %s: %w", f, err)
	}
	return nil
}

// InCooldown reports whether the family is currently cooling down.
func (ct *CooldownTracker) InCooldown(ctx context.Context, f domain.Family) (bool, error) {
	n, err := ct.rdb.Exists(ctx, cooldownKey(f)).Result()
	if err != nil {
		return false, fmt.Errorf("redis: check cooldown %s: %w", f, err)
	}
	return n > 0, nil
}

// Compile-time interface check.
var _ domain.CooldownTracker = (*CooldownTracker)(nil)
