package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"pricewatch/internal/domain"
)

// ConditionStore implements domain.ConditionStore using PostgreSQL.
type ConditionStore struct {
	pool *pgxpool.Pool
}

// NewConditionStore creates a ConditionStore backed by the given pool.
func NewConditionStore(pool *pgxpool.Pool) *ConditionStore {
	return &ConditionStore{pool: pool}
}

// Create inserts a condition and seeds its pending status row in the same
// transaction, so a condition is never visible without a state to trigger
// from.
func (s *ConditionStore) Create(ctx context.Context, c domain.AlertCondition) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin create condition: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertCond = `
		INSERT INTO alert_conditions (
			id, entity_id, kind, threshold, currency,
			baseline_amount, baseline_currency, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	var baselineAmount *float64
	var baselineCurrency *string
	if c.Baseline != nil {
		baselineAmount = &c.Baseline.Amount
		cur := string(c.Baseline.Currency)
		baselineCurrency = &cur
	}

	_, err = tx.Exec(ctx, insertCond,
		c.ID, c.EntityID, string(c.Kind), c.Threshold, string(c.Currency),
		baselineAmount, baselineCurrency, c.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return domain.ErrAlreadyExists
			case "23503":
				return domain.ErrNotFound
			}
		}
		return fmt.Errorf("postgres: create condition %s: %w", c.ID, err)
	}

	const seedStatus = `
		INSERT INTO alert_status (entity_id, condition_id, state)
		VALUES ($1, $2, $3)`
	if _, err := tx.Exec(ctx, seedStatus, c.EntityID, c.ID, string(domain.StatePending)); err != nil {
		return fmt.Errorf("postgres: seed status for condition %s: %w", c.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit create condition %s: %w", c.ID, err)
	}
	return nil
}

// Delete removes a condition; its status row cascades. Deleting and
// re-creating a condition is the one way to re-arm a triggered alert.
func (s *ConditionStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM alert_conditions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete condition %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListByEntity returns an entity's conditions in creation order.
func (s *ConditionStore) ListByEntity(ctx context.Context, entityID string) ([]domain.AlertCondition, error) {
	const query = `
		SELECT id, entity_id, kind, threshold, currency,
			baseline_amount, baseline_currency, created_at
		FROM alert_conditions
		WHERE entity_id = $1
		ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, entityID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list conditions for %s: %w", entityID, err)
	}
	defer rows.Close()

	var out []domain.AlertCondition
	for rows.Next() {
		c, err := scanCondition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan condition: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCondition(row pgx.Row) (domain.AlertCondition, error) {
	var (
		c                domain.AlertCondition
		kind             string
		currency         string
		baselineAmount   *float64
		baselineCurrency *string
	)
	err := row.Scan(
		&c.ID, &c.EntityID, &kind, &c.Threshold, &currency,
		&baselineAmount, &baselineCurrency, &c.CreatedAt,
	)
	if err != nil {
		return domain.AlertCondition{}, err
	}
	c.Kind = domain.ConditionKind(kind)
	c.Currency = domain.Currency(currency)
	if baselineAmount != nil && baselineCurrency != nil {
		c.Baseline = &domain.Price{
			Amount:   *baselineAmount,
			Currency: domain.Currency(*baselineCurrency),
		}
	}
	return c, nil
}
