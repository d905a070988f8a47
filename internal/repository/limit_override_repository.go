package repository

import (
	"context"

	"lms-gateway/internal/domain/entity"
)

// LimitOverrideRepository persists per-key limits across restarts.
type LimitOverrideRepository interface {
	Get(ctx context.Context, key string) (*entity.LimitOverride, error)
	List(ctx context.Context) ([]*entity.LimitOverride, error)
	Upsert(ctx context.Context, o *entity.LimitOverride) error
	// Delete reports whether a row was removed.
	Delete(ctx context.Context, key string) (bool, error)
}
