package ratelimit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "lms-gateway/ratelimit"

// Limiter enforces fixed-window token buckets per key.
//
// Every key gets the default LimitConfig unless an override was registered
// with SetLimit. Overrides never touch a live bucket: they apply when the
// key's bucket is next created or rolled over.
type Limiter struct {
	store        BucketStore
	defaults     LimitConfig
	clock        Clock
	metrics      RateLimitMetrics
	storeTimeout time.Duration

	mu        sync.RWMutex
	overrides map[RateLimitKey]LimitConfig
}

// LimiterOption configures a Limiter.
type LimiterOption func(*Limiter)

// WithClock sets the clock used for window arithmetic.
func WithClock(c Clock) LimiterOption {
	return func(l *Limiter) { l.clock = c }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m RateLimitMetrics) LimiterOption {
	return func(l *Limiter) { l.metrics = m }
}

// WithStoreTimeout bounds every store call. Zero disables the bound.
func WithStoreTimeout(d time.Duration) LimiterOption {
	return func(l *Limiter) { l.storeTimeout = d }
}

// NewLimiter creates a Limiter over store with the given default config.
func NewLimiter(store BucketStore, defaults LimitConfig, opts ...LimiterOption) (*Limiter, error) {
	if store == nil {
		return nil, fmt.Errorf("ratelimit: store is required")
	}
	if err := defaults.Validate(); err != nil {
		return nil, fmt.Errorf("default limit: %w", err)
	}

	l := &Limiter{
		store:     store,
		defaults:  defaults,
		clock:     &SystemClock{},
		metrics:   NewNoOpMetrics(),
		overrides: make(map[RateLimitKey]LimitConfig),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Consume takes one token from key's bucket if one is available.
//
// A denied result is returned with a nil error. A non-nil error means the
// store could not be consulted and matches ErrStoreUnavailable, or the key was
// invalid (ErrInvalidKey).
func (l *Limiter) Consume(ctx context.Context, key RateLimitKey) (*RateLimitResult, error) {
	result, err := l.apply(ctx, "consume", key, true)
	if err != nil {
		return nil, err
	}
	if result.Allowed {
		l.metrics.RecordAllowed(key.Kind())
	} else {
		l.metrics.RecordDenied(key.Kind())
	}
	return result, nil
}

// Check reports what Consume would return without taking a token.
// It still performs lazy creation and rollover.
func (l *Limiter) Check(ctx context.Context, key RateLimitKey) (*RateLimitResult, error) {
	return l.apply(ctx, "check", key, false)
}

// Reset discards key's bucket. The next access starts a full window using the
// limit in effect at that time.
func (l *Limiter) Reset(ctx context.Context, key RateLimitKey) error {
	if key.IsZero() {
		return ErrInvalidKey
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "ratelimit.reset", trace.WithAttributes(
		attribute.String("ratelimit.key_kind", key.Kind()),
	))
	defer span.End()

	start := time.Now()
	storeCtx, cancel := l.storeContext(ctx)
	defer cancel()

	err := l.store.Delete(storeCtx, key.String())
	l.metrics.RecordCheckDuration("reset", time.Since(start))
	if err != nil {
		return l.storeFailure(span, "reset", key, err)
	}
	return nil
}

// SetLimit registers a per-key override. It fails fast on a non-positive
// limit or window and leaves any existing override untouched in that case.
func (l *Limiter) SetLimit(key RateLimitKey, limit, windowSeconds int) error {
	cfg, err := NewLimitConfig(limit, windowSeconds)
	if err != nil {
		return err
	}
	return l.SetLimitConfig(key, cfg)
}

// SetLimitConfig is SetLimit for a prebuilt LimitConfig.
func (l *Limiter) SetLimitConfig(key RateLimitKey, cfg LimitConfig) error {
	if key.IsZero() {
		return ErrInvalidKey
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.overrides[key] = cfg
	return nil
}

// ClearLimit removes key's override so it falls back to the default at its
// next rollover. It reports whether an override existed.
func (l *Limiter) ClearLimit(key RateLimitKey) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.overrides[key]
	delete(l.overrides, key)
	return ok
}

// LimitFor returns the configuration that the next creation or rollover of
// key's bucket would use.
func (l *Limiter) LimitFor(key RateLimitKey) LimitConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if cfg, ok := l.overrides[key]; ok {
		return cfg
	}
	return l.defaults
}

// Defaults returns the default configuration.
func (l *Limiter) Defaults() LimitConfig {
	return l.defaults
}

// Override pairs a key with its LimitConfig.
type Override struct {
	Key    RateLimitKey
	Config LimitConfig
}

// Overrides returns a snapshot of all overrides sorted by key.
func (l *Limiter) Overrides() []Override {
	l.mu.RLock()
	out := make([]Override, 0, len(l.overrides))
	for k, cfg := range l.overrides {
		out = append(out, Override{Key: k, Config: cfg})
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.String() < out[j].Key.String()
	})
	return out
}

// OverrideSource lists persisted overrides.
type OverrideSource interface {
	ListOverrides(ctx context.Context) ([]Override, error)
}

// LoadOverrides registers every override from src. It stops at the first
// invalid entry.
func (l *Limiter) LoadOverrides(ctx context.Context, src OverrideSource) (int, error) {
	overrides, err := src.ListOverrides(ctx)
	if err != nil {
		return 0, fmt.Errorf("list overrides: %w", err)
	}
	for i, o := range overrides {
		if err := l.SetLimitConfig(o.Key, o.Config); err != nil {
			return i, fmt.Errorf("override %q: %w", o.Key.String(), err)
		}
	}
	return len(overrides), nil
}

// ActiveKeys returns the number of buckets held by the store.
func (l *Limiter) ActiveKeys(ctx context.Context) (int, error) {
	storeCtx, cancel := l.storeContext(ctx)
	defer cancel()
	return l.store.KeyCount(storeCtx)
}

func (l *Limiter) apply(ctx context.Context, op string, key RateLimitKey, consume bool) (*RateLimitResult, error) {
	if key.IsZero() {
		return nil, ErrInvalidKey
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "ratelimit."+op, trace.WithAttributes(
		attribute.String("ratelimit.key_kind", key.Kind()),
	))
	defer span.End()

	start := time.Now()
	cfg := l.LimitFor(key)
	now := l.clock.Now()

	storeCtx, cancel := l.storeContext(ctx)
	defer cancel()

	bucket, allowed, err := l.store.Apply(storeCtx, key.String(), cfg, now, consume)
	l.metrics.RecordCheckDuration(op, time.Since(start))
	if err != nil {
		return nil, l.storeFailure(span, op, key, err)
	}

	span.SetAttributes(
		attribute.Bool("ratelimit.allowed", allowed),
		attribute.Int("ratelimit.remaining", bucket.TokensRemaining),
	)
	return newResult(key.String(), bucket, allowed), nil
}

func (l *Limiter) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.storeTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, l.storeTimeout)
}

func (l *Limiter) storeFailure(span trace.Span, op string, key RateLimitKey, err error) error {
	l.metrics.RecordStoreError(op)
	span.RecordError(err)
	span.SetStatus(codes.Error, "store unavailable")
	return &StoreError{Op: op, Key: key.String(), Err: err}
}
