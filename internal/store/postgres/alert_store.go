package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pricewatch/internal/domain"
)

// AlertStore implements domain.AlertStateStore using PostgreSQL. The
// compare-and-set transition is a single conditional UPDATE, so the row's
// state can only ever move once from pending to triggered no matter how many
// workers race on it.
type AlertStore struct {
	pool *pgxpool.Pool
}

// NewAlertStore creates an AlertStore backed by the given connection pool.
func NewAlertStore(pool *pgxpool.Pool) *AlertStore {
	return &AlertStore{pool: pool}
}

// Get returns the current status of one condition.
func (s *AlertStore) Get(ctx context.Context, entityID, conditionID string) (domain.AlertStatus, error) {
	const query = `
		SELECT entity_id, condition_id, state, updated_at
		FROM alert_status
		WHERE entity_id = $1 AND condition_id = $2`

	var st domain.AlertStatus
	var state string
	err := s.pool.QueryRow(ctx, query, entityID, conditionID).Scan(
		&st.EntityID, &st.ConditionID, &state, &st.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AlertStatus{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.AlertStatus{}, fmt.Errorf("postgres: get alert status %s/%s: %w", entityID, conditionID, err)
	}
	st.State = domain.AlertState(state)
	return st, nil
}

// ListTriggered returns an entity's triggered condition statuses.
func (s *AlertStore) ListTriggered(ctx context.Context, entityID string) ([]domain.AlertStatus, error) {
	const query = `
		SELECT entity_id, condition_id, state, updated_at
		FROM alert_status
		WHERE entity_id = $1 AND state = $2
		ORDER BY updated_at`

	rows, err := s.pool.Query(ctx, query, entityID, string(domain.StateTriggered))
	if err != nil {
		return nil, fmt.Errorf("postgres: list triggered for %s: %w", entityID, err)
	}
	defer rows.Close()

	var out []domain.AlertStatus
	for rows.Next() {
		var st domain.AlertStatus
		var state string
		if err := rows.Scan(&st.EntityID, &st.ConditionID, &state, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan alert status: %w", err)
		}
		st.State = domain.AlertState(state)
		out = append(out, st)
	}
	return out, rows.Err()
}

// CompareAndSet transitions the row from expected to next atomically. A
// zero-row UPDATE is ambiguous between a lost race and a deleted row, so it
// re-reads to tell domain.ErrStateConflict from domain.ErrNotFound.
func (s *AlertStore) CompareAndSet(ctx context.Context, entityID, conditionID string, expected, next domain.AlertState) error {
	const query = `
		UPDATE alert_status SET
			state = $4,
			updated_at = NOW()
		WHERE entity_id = $1 AND condition_id = $2 AND state = $3`

	tag, err := s.pool.Exec(ctx, query, entityID, conditionID, string(expected), string(next))
	if err != nil {
		return fmt.Errorf("postgres: compare-and-set %s/%s: %w", entityID, conditionID, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	if _, err := s.Get(ctx, entityID, conditionID); err != nil {
		return err // domain.ErrNotFound or a query failure
	}
	return domain.ErrStateConflict
}
