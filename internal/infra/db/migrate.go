package db

import (
	"context"
	"database/sql"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS rate_limit_overrides (
    key            TEXT PRIMARY KEY,
    limit_count    INTEGER NOT NULL CHECK (limit_count > 0),
    window_seconds INTEGER NOT NULL CHECK (window_seconds > 0),
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE INDEX IF NOT EXISTS idx_rate_limit_overrides_updated_at ON rate_limit_overrides(updated_at DESC)`,
}

// MigrateUp creates the gateway schema. Every statement is idempotent.
func MigrateUp(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	return nil
}
