// Package limits serves the caller's quota and the admin API for per-key
// overrides and buckets.
package limits

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"lms-gateway/internal/domain/entity"
	"lms-gateway/internal/handler/http/middleware"
	"lms-gateway/internal/handler/http/pathutil"
	"lms-gateway/internal/handler/http/respond"
	"lms-gateway/internal/observability/logging"
	"lms-gateway/internal/repository"
	"lms-gateway/pkg/ratelimit"
)

// Limiter is the part of *ratelimit.Limiter the handlers drive.
type Limiter interface {
	Check(ctx context.Context, key ratelimit.RateLimitKey) (*ratelimit.RateLimitResult, error)
	Reset(ctx context.Context, key ratelimit.RateLimitKey) error
	SetLimit(key ratelimit.RateLimitKey, limit, windowSeconds int) error
	ClearLimit(key ratelimit.RateLimitKey) bool
	LimitFor(key ratelimit.RateLimitKey) ratelimit.LimitConfig
	Defaults() ratelimit.LimitConfig
	Overrides() []ratelimit.Override
}

// Handler serves the quota and admin endpoints. repo may be nil, in which
// case overrides live only in memory.
type Handler struct {
	limiter Limiter
	repo    repository.LimitOverrideRepository
	keyFunc middleware.KeyFunc
	clock   ratelimit.Clock
}

// NewHandler creates a Handler. keyFunc must match the one used by the rate
// limit middleware so a caller sees the bucket it is charged against.
func NewHandler(limiter Limiter, repo repository.LimitOverrideRepository, keyFunc middleware.KeyFunc, clock ratelimit.Clock) *Handler {
	if clock == nil {
		clock = &ratelimit.SystemClock{}
	}
	return &Handler{limiter: limiter, repo: repo, keyFunc: keyFunc, clock: clock}
}

type limitDTO struct {
	Key           string     `json:"key,omitempty"`
	Limit         int        `json:"limit"`
	WindowSeconds int        `json:"window_seconds"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty"`
}

type limitsResponse struct {
	Default   limitDTO   `json:"default"`
	Overrides []limitDTO `json:"overrides"`
	Persisted bool       `json:"persisted"`
}

type bucketDTO struct {
	Key           string    `json:"key"`
	Allowed       bool      `json:"allowed"`
	Limit         int       `json:"limit"`
	Remaining     int       `json:"remaining"`
	WindowSeconds int       `json:"window_seconds"`
	ResetAt       time.Time `json:"reset_at"`
	RetryAfter    int64     `json:"retry_after,omitempty"`
}

type setLimitRequest struct {
	Limit         int `json:"limit"`
	WindowSeconds int `json:"window_seconds"`
}

// Quota handles GET /v1/ratelimit/quota. It reports the caller's bucket
// without taking a token.
func (h *Handler) Quota(w http.ResponseWriter, r *http.Request) {
	key, err := h.keyFunc(r)
	if err != nil {
		respond.SafeError(w, http.StatusBadRequest, errors.New("invalid client address"))
		return
	}
	h.writeBucket(w, r, key)
}

// ListLimits handles GET /v1/admin/ratelimit/limits.
func (h *Handler) ListLimits(w http.ResponseWriter, r *http.Request) {
	def := h.limiter.Defaults()
	resp := limitsResponse{
		Default:   limitDTO{Limit: def.Limit, WindowSeconds: def.WindowSeconds()},
		Overrides: []limitDTO{},
		Persisted: h.repo != nil,
	}

	updated := map[string]time.Time{}
	if h.repo != nil {
		rows, err := h.repo.List(r.Context())
		if err != nil {
			respond.SafeError(w, http.StatusInternalServerError, err)
			return
		}
		for _, row := range rows {
			updated[row.Key] = row.UpdatedAt
		}
	}

	for _, o := range h.limiter.Overrides() {
		dto := limitDTO{Key: o.Key.String(), Limit: o.Config.Limit, WindowSeconds: o.Config.WindowSeconds()}
		if ts, ok := updated[dto.Key]; ok {
			dto.UpdatedAt = &ts
		}
		resp.Overrides = append(resp.Overrides, dto)
	}
	respond.JSON(w, http.StatusOK, resp)
}

// SetLimit handles PUT /v1/admin/ratelimit/limits/{key}. The override is
// written to the repository first so a failed write never leaves an
// unpersisted override active.
func (h *Handler) SetLimit(w http.ResponseWriter, r *http.Request) {
	key, err := pathutil.KeyParam(r, "key")
	if err != nil {
		respond.SafeError(w, http.StatusBadRequest, err)
		return
	}

	var req setLimitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.SafeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}

	o := &entity.LimitOverride{Key: key.String(), Limit: req.Limit, WindowSeconds: req.WindowSeconds}
	if err := o.Validate(); err != nil {
		respond.SafeError(w, http.StatusBadRequest, err)
		return
	}

	if h.repo != nil {
		if err := h.repo.Upsert(r.Context(), o); err != nil {
			respond.SafeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	if err := h.limiter.SetLimit(key, o.Limit, o.WindowSeconds); err != nil {
		respond.SafeError(w, http.StatusBadRequest, err)
		return
	}

	logging.FromContext(r.Context()).Info("rate limit override set",
		slog.String("key", o.Key),
		slog.Int("limit", o.Limit),
		slog.Int("window_seconds", o.WindowSeconds),
		slog.Bool("persisted", h.repo != nil))

	dto := limitDTO{Key: o.Key, Limit: o.Limit, WindowSeconds: o.WindowSeconds}
	if !o.UpdatedAt.IsZero() {
		dto.UpdatedAt = &o.UpdatedAt
	}
	respond.JSON(w, http.StatusOK, dto)
}

// DeleteLimit handles DELETE /v1/admin/ratelimit/limits/{key}. The key
// falls back to the default limit at its next rollover.
func (h *Handler) DeleteLimit(w http.ResponseWriter, r *http.Request) {
	key, err := pathutil.KeyParam(r, "key")
	if err != nil {
		respond.SafeError(w, http.StatusBadRequest, err)
		return
	}

	removed := false
	if h.repo != nil {
		ok, err := h.repo.Delete(r.Context(), key.String())
		if err != nil {
			respond.SafeError(w, http.StatusInternalServerError, err)
			return
		}
		removed = ok
	}
	if h.limiter.ClearLimit(key) {
		removed = true
	}

	if !removed {
		respond.SafeError(w, http.StatusNotFound, errors.New("override not found"))
		return
	}
	logging.FromContext(r.Context()).Info("rate limit override cleared", slog.String("key", key.String()))
	w.WriteHeader(http.StatusNoContent)
}

// GetBucket handles GET /v1/admin/ratelimit/buckets/{key}.
func (h *Handler) GetBucket(w http.ResponseWriter, r *http.Request) {
	key, err := pathutil.KeyParam(r, "key")
	if err != nil {
		respond.SafeError(w, http.StatusBadRequest, err)
		return
	}
	h.writeBucket(w, r, key)
}

// ResetBucket handles DELETE /v1/admin/ratelimit/buckets/{key}.
func (h *Handler) ResetBucket(w http.ResponseWriter, r *http.Request) {
	key, err := pathutil.KeyParam(r, "key")
	if err != nil {
		respond.SafeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.limiter.Reset(r.Context(), key); err != nil {
		respond.SafeError(w, http.StatusServiceUnavailable, err)
		return
	}
	logging.FromContext(r.Context()).Info("rate limit bucket reset", slog.String("key", key.String()))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeBucket(w http.ResponseWriter, r *http.Request, key ratelimit.RateLimitKey) {
	res, err := h.limiter.Check(r.Context(), key)
	if err != nil {
		respond.SafeError(w, http.StatusServiceUnavailable, err)
		return
	}

	middleware.SetRateLimitHeaders(w, res)
	dto := bucketDTO{
		Key:           res.Key,
		Allowed:       res.Allowed,
		Limit:         res.Limit,
		Remaining:     res.Remaining,
		WindowSeconds: h.limiter.LimitFor(key).WindowSeconds(),
		ResetAt:       res.ResetAt.UTC(),
	}
	if res.IsDenied() {
		dto.RetryAfter = res.RetryAfterSeconds(h.clock.Now())
	}
	respond.JSON(w, http.StatusOK, dto)
}
