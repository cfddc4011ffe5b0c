package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"pricewatch/internal/domain"
)

// EntityStore implements domain.EntityStore using PostgreSQL.
type EntityStore struct {
	pool *pgxpool.Pool
}

// NewEntityStore creates an EntityStore backed by the given connection pool.
func NewEntityStore(pool *pgxpool.Pool) *EntityStore {
	return &EntityStore{pool: pool}
}

const entityCols = `id, owner_id, kind, family, locator, title,
	last_amount, last_currency, last_checked, last_error, created_at`

// Create inserts a new tracked entity. A duplicate (owner, locator) pair is
// reported as domain.ErrAlreadyExists.
func (s *EntityStore) Create(ctx context.Context, e domain.TrackedEntity) error {
	const query = `
		INSERT INTO tracked_entities (
			id, owner_id, kind, family, locator, title, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, query,
		e.ID, e.OwnerID, string(e.Kind), string(e.Family),
		e.Locator, e.Title, e.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create entity %s: %w", e.ID, err)
	}
	return nil
}

// Delete removes an entity; conditions, status rows and history cascade.
func (s *EntityStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tracked_entities WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete entity %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves an entity by its primary key.
func (s *EntityStore) GetByID(ctx context.Context, id string) (domain.TrackedEntity, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+entityCols+` FROM tracked_entities WHERE id = $1`, id)

	e, err := scanEntity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TrackedEntity{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.TrackedEntity{}, fmt.Errorf("postgres: get entity %s: %w", id, err)
	}
	return e, nil
}

// List retrieves entities matching opts, newest first.
func (s *EntityStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.TrackedEntity, error) {
	query := `SELECT ` + entityCols + ` FROM tracked_entities WHERE 1=1`
	args := []any{}

	if opts.OwnerID != "" {
		args = append(args, opts.OwnerID)
		query += fmt.Sprintf(" AND owner_id = $%d", len(args))
	}
	if len(opts.Families) > 0 {
		families := make([]string, len(opts.Families))
		for i, f := range opts.Families {
			families[i] = string(f)
		}
		args = append(args, families)
		query += fmt.Sprintf(" AND family = ANY($%d)", len(args))
	}
	query += " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list entities: %w", err)
	}
	defer rows.Close()

	var out []domain.TrackedEntity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan entity: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count returns the total number of tracked entities.
func (s *EntityStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tracked_entities`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count entities: %w", err)
	}
	return n, nil
}

// UpdateObservedPrice records a successful check. Zero rows affected means
// the entity was deleted since the caller read it; that is surfaced as
// domain.ErrNotFound so the caller discards its result.
func (s *EntityStore) UpdateObservedPrice(ctx context.Context, id, title string, price domain.Price, at time.Time) error {
	const query = `
		UPDATE tracked_entities SET
			title = $2,
			last_amount = $3,
			last_currency = $4,
			last_checked = $5,
			last_error = ''
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, title, price.Amount, string(price.Currency), at)
	if err != nil {
		return fmt.Errorf("postgres: update entity price %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateCheckError records a failed check without touching the last known
// price. The zero-row tombstone rule applies here as well.
func (s *EntityStore) UpdateCheckError(ctx context.Context, id, reason string, at time.Time) error {
	const query = `
		UPDATE tracked_entities SET
			last_error = $2,
			last_checked = $3
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, reason, at)
	if err != nil {
		return fmt.Errorf("postgres: update entity error %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// scanEntity scans one tracked_entities row.
func scanEntity(row pgx.Row) (domain.TrackedEntity, error) {
	var (
		e        domain.TrackedEntity
		kind     string
		family   string
		amount   *float64
		currency *string
	)
	err := row.Scan(
		&e.ID, &e.OwnerID, &kind, &family, &e.Locator, &e.Title,
		&amount, &currency, &e.LastChecked, &e.LastError, &e.CreatedAt,
	)
	if err != nil {
		return domain.TrackedEntity{}, err
	}
	e.Kind = domain.Kind(kind)
	e.Family = domain.Family(family)
	if amount != nil && currency != nil {
		e.LastPrice = &domain.Price{Amount: *amount, Currency: domain.Currency(*currency)}
	}
	return e, nil
}
