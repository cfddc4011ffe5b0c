package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"pricewatch/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each entity's
// latest observation lives at "price:{entityID}" with fields "amount",
// "currency" and "ts" (Unix nanoseconds).
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func priceKey(entityID string) string {
	return "price:" + entityID
}

// SetPrice stores the latest observed price for an entity.
func (pc *PriceCache) SetPrice(ctx context.Context, entityID string, price domain.Price, ts time.Time) error {
	fields := map[string]interface{}{
		"amount":   strconv.FormatFloat(price.Amount, 'f', -1, 64),
		"currency": string(price.Currency),
		"ts":       strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, priceKey(entityID), fields).Err(); err != nil {
		return fmt.Errorf("redis: set price %s: %w", entityID, err)
	}
	return nil
}

// GetPrice retrieves the latest observed price for an entity. It returns
// domain.ErrNotFound when nothing has been cached yet.
func (pc *PriceCache) GetPrice(ctx context.Context, entityID string) (domain.Price, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(entityID)).Result()
	if err != nil {
		return domain.Price{}, time.Time{}, fmt.Errorf("redis: get price %s: %w", entityID, err)
	}
	if len(vals) == 0 {
		return domain.Price{}, time.Time{}, domain.ErrNotFound
	}
	return parsePriceFields(entityID, vals)
}

// GetPrices retrieves cached prices for multiple entities in one pipeline.
// Entities with no cached observation are omitted from the result.
func (pc *PriceCache) GetPrices(ctx context.Context, entityIDs []string) (map[string]domain.Price, error) {
	if len(entityIDs) == 0 {
		return map[string]domain.Price{}, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(entityIDs))
	for _, id := range entityIDs {
		cmds[id] = pipe.HGetAll(ctx, priceKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis: get prices pipeline: %w", err)
	}

	out := make(map[string]domain.Price, len(entityIDs))
	for id, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		price, _, err := parsePriceFields(id, vals)
		if err != nil {
			continue
		}
		out[id] = price
	}
	return out, nil
}

func parsePriceFields(entityID string, vals map[string]string) (domain.Price, time.Time, error) {
	amount, err := strconv.ParseFloat(vals["amount"], 64)
	if err != nil {
		return domain.Price{}, time.Time{}, fmt.Errorf("redis: parse amount %s: %w", entityID, err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.Price{}, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", entityID, err)
	}
	price := domain.Price{Amount: amount, Currency: domain.Currency(vals["currency"])}
	return price, time.Unix(0, tsNano), nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
