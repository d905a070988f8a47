package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"lms-gateway/internal/domain/entity"
	"lms-gateway/internal/repository"
	"lms-gateway/pkg/ratelimit"
)

// Querier is satisfied by *sql.DB and *circuitbreaker.DBCircuitBreaker.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type LimitOverrideRepo struct{ db Querier }

func NewLimitOverrideRepo(db Querier) *LimitOverrideRepo {
	return &LimitOverrideRepo{db: db}
}

var _ repository.LimitOverrideRepository = (*LimitOverrideRepo)(nil)

func (repo *LimitOverrideRepo) Get(ctx context.Context, key string) (*entity.LimitOverride, error) {
	const query = `
SELECT key, limit_count, window_seconds, updated_at
FROM rate_limit_overrides
WHERE key = $1`
	var o entity.LimitOverride
	err := repo.db.QueryRowContext(ctx, query, key).Scan(&o.Key, &o.Limit, &o.WindowSeconds, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return &o, nil
}

func (repo *LimitOverrideRepo) List(ctx context.Context) ([]*entity.LimitOverride, error) {
	const query = `
SELECT key, limit_count, window_seconds, updated_at
FROM rate_limit_overrides
ORDER BY key ASC`
	rows, err := repo.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]*entity.LimitOverride, 0, 16)
	for rows.Next() {
		var o entity.LimitOverride
		if err := rows.Scan(&o.Key, &o.Limit, &o.WindowSeconds, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("List: %w", err)
		}
		out = append(out, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	return out, nil
}

// Upsert validates o and writes it, refreshing UpdatedAt from the database.
func (repo *LimitOverrideRepo) Upsert(ctx context.Context, o *entity.LimitOverride) error {
	if err := o.Validate(); err != nil {
		return err
	}
	const query = `
INSERT INTO rate_limit_overrides (key, limit_count, window_seconds, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (key) DO UPDATE SET
       limit_count    = EXCLUDED.limit_count,
       window_seconds = EXCLUDED.window_seconds,
       updated_at     = now()
RETURNING updated_at`
	if err := repo.db.QueryRowContext(ctx, query, o.Key, o.Limit, o.WindowSeconds).Scan(&o.UpdatedAt); err != nil {
		return fmt.Errorf("Upsert: %w", err)
	}
	return nil
}

func (repo *LimitOverrideRepo) Delete(ctx context.Context, key string) (bool, error) {
	const query = `DELETE FROM rate_limit_overrides WHERE key = $1`
	res, err := repo.db.ExecContext(ctx, query, key)
	if err != nil {
		return false, fmt.Errorf("Delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("Delete: %w", err)
	}
	return n > 0, nil
}

// ListOverrides implements ratelimit.OverrideSource. A row that no longer
// validates fails the whole load.
func (repo *LimitOverrideRepo) ListOverrides(ctx context.Context) ([]ratelimit.Override, error) {
	rows, err := repo.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ratelimit.Override, 0, len(rows))
	for _, o := range rows {
		ov, err := o.ToOverride()
		if err != nil {
			return nil, fmt.Errorf("ListOverrides: %s: %w", o.Key, err)
		}
		out = append(out, ov)
	}
	return out, nil
}
