package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pricewatch/internal/domain"
)

// HistoryStore implements domain.HistoryStore using PostgreSQL.
type HistoryStore struct {
	pool *pgxpool.Pool
}

// NewHistoryStore creates a HistoryStore backed by the given pool.
func NewHistoryStore(pool *pgxpool.Pool) *HistoryStore {
	return &HistoryStore{pool: pool}
}

// Append records one successful observation.
func (s *HistoryStore) Append(ctx context.Context, obs domain.PriceObservation) error {
	const query = `
		INSERT INTO price_history (entity_id, title, amount, currency, observed_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.pool.Exec(ctx, query,
		obs.EntityID, obs.Title, obs.Price.Amount, string(obs.Price.Currency), obs.ObservedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append history for %s: %w", obs.EntityID, err)
	}
	return nil
}

// ListByEntity returns an entity's most recent observations, newest first.
func (s *HistoryStore) ListByEntity(ctx context.Context, entityID string, limit int) ([]domain.PriceObservation, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `
		SELECT entity_id, title, amount, currency, observed_at
		FROM price_history
		WHERE entity_id = $1
		ORDER BY observed_at DESC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list history for %s: %w", entityID, err)
	}
	defer rows.Close()
	return scanObservations(rows)
}

// ListBefore returns every observation older than the cutoff, oldest first.
// The archiver streams these to object storage before pruning.
func (s *HistoryStore) ListBefore(ctx context.Context, before time.Time) ([]domain.PriceObservation, error) {
	const query = `
		SELECT entity_id, title, amount, currency, observed_at
		FROM price_history
		WHERE observed_at < $1
		ORDER BY observed_at`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list history before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()
	return scanObservations(rows)
}

// DeleteBefore prunes observations older than the cutoff and reports how
// many rows were removed.
func (s *HistoryStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM price_history WHERE observed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete history before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func scanObservations(rows pgx.Rows) ([]domain.PriceObservation, error) {
	var out []domain.PriceObservation
	for rows.Next() {
		var obs domain.PriceObservation
		var currency string
		err := rows.Scan(&obs.EntityID, &obs.Title, &obs.Price.Amount, &currency, &obs.ObservedAt)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan observation: %w", err)
		}
		obs.Price.Currency = domain.Currency(currency)
		out = append(out, obs)
	}
	return out, rows.Err()
}
