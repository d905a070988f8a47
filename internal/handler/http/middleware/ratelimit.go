package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"lms-gateway/internal/handler/http/respond"
	"lms-gateway/internal/observability/logging"
	"lms-gateway/internal/service/auth"
	"lms-gateway/pkg/ratelimit"

	"golang.org/x/time/rate"
)

// Consumer takes one token for a key. *ratelimit.Limiter implements it.
type Consumer interface {
	Consume(ctx context.Context, key ratelimit.RateLimitKey) (*ratelimit.RateLimitResult, error)
}

// KeyFunc picks the rate limit key for a request.
type KeyFunc func(r *http.Request) (ratelimit.RateLimitKey, error)

// PrincipalOrIPKey limits authenticated callers by user id and everybody
// else by client address.
func PrincipalOrIPKey(ips IPExtractor) KeyFunc {
	return func(r *http.Request) (ratelimit.RateLimitKey, error) {
		if p, ok := auth.PrincipalFromContext(r.Context()); ok {
			return ratelimit.UserKey(p.UserID), nil
		}
		addr, err := ips.ExtractIP(r)
		if err != nil {
			return ratelimit.RateLimitKey{}, err
		}
		return ratelimit.IPKey(addr.String()), nil
	}
}

// PrincipalAndIPKey limits authenticated callers per user and address and
// everybody else by address.
func PrincipalAndIPKey(ips IPExtractor) KeyFunc {
	return func(r *http.Request) (ratelimit.RateLimitKey, error) {
		addr, err := ips.ExtractIP(r)
		if err != nil {
			return ratelimit.RateLimitKey{}, err
		}
		ipKey := ratelimit.IPKey(addr.String())
		if p, ok := auth.PrincipalFromContext(r.Context()); ok {
			return ratelimit.Compose(ratelimit.UserKey(p.UserID), ipKey), nil
		}
		return ipKey, nil
	}
}

// KeyFuncFor returns the KeyFunc for a configured key strategy.
func KeyFuncFor(strategy string, ips IPExtractor) (KeyFunc, error) {
	switch strategy {
	case ratelimit.KeyByPrincipal, "":
		return PrincipalOrIPKey(ips), nil
	case ratelimit.KeyByPrincipalAndIP:
		return PrincipalAndIPKey(ips), nil
	default:
		return nil, fmt.Errorf("unknown rate limit key strategy %q", strategy)
	}
}

// Response headers.
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// RateLimiter admits or rejects requests through a Consumer.
type RateLimiter struct {
	consumer Consumer
	keyFunc  KeyFunc
	policy   ratelimit.FailurePolicy
	clock    ratelimit.Clock
	enabled  bool

	// fail-open warnings at most once per interval
	failOpenLog rate.Sometimes
}

// RateLimiterOption configures a RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithFailurePolicy sets the store failure policy. Default is FailOpen.
func WithFailurePolicy(p ratelimit.FailurePolicy) RateLimiterOption {
	return func(rl *RateLimiter) {
		if p.IsValid() {
			rl.policy = p
		}
	}
}

// WithRateLimitClock sets the clock used for Retry-After.
func WithRateLimitClock(c ratelimit.Clock) RateLimiterOption {
	return func(rl *RateLimiter) { rl.clock = c }
}

// WithEnabled turns limiting off when false.
func WithEnabled(enabled bool) RateLimiterOption {
	return func(rl *RateLimiter) { rl.enabled = enabled }
}

// NewRateLimiter creates the middleware.
func NewRateLimiter(consumer Consumer, keyFunc KeyFunc, opts ...RateLimiterOption) *RateLimiter {
	rl := &RateLimiter{
		consumer:    consumer,
		keyFunc:     keyFunc,
		policy:      ratelimit.FailOpen,
		clock:       &ratelimit.SystemClock{},
		enabled:     true,
		failOpenLog: rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// Middleware consumes a token per request. Every decided request carries the
// X-RateLimit-* headers; a denial is answered with 429 and never reaches next.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.enabled {
			next.ServeHTTP(w, r)
			return
		}

		logger := logging.FromContext(r.Context())

		key, err := rl.keyFunc(r)
		if err != nil {
			rejectUnidentified(w, r, logger, err)
			return
		}

		res, err := rl.consumer.Consume(r.Context(), key)
		if err != nil {
			logger = logger.With(slog.String("key", key.String()))
			if !errors.Is(err, ratelimit.ErrStoreUnavailable) {
				rejectUnidentified(w, r, logger, err)
				return
			}
			rl.handleFailure(w, r, next, logger, "consume", err)
			return
		}

		SetRateLimitHeaders(w, res)
		if res.IsDenied() {
			retryAfter := res.RetryAfterSeconds(rl.clock.Now())
			logger.Warn("rate limit exceeded",
				slog.String("key", res.Key),
				slog.Int("limit", res.Limit),
				slog.Int64("retry_after", retryAfter),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)
			WriteRateLimitError(w, res, retryAfter)
			return
		}

		logger.Debug("rate limit check completed",
			slog.String("key", res.Key),
			slog.Int("remaining", res.Remaining),
			slog.Int("limit", res.Limit),
		)
		next.ServeHTTP(w, r)
	})
}

// rejectUnidentified answers 400 for a request that cannot be mapped to a
// valid key. It never falls through to the failure policy, which only covers
// store outages.
func rejectUnidentified(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	logger.Warn("rate limit key unresolved",
		slog.String("path", r.URL.Path),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("error", respond.SanitizeError(err)),
	)
	respond.JSON(w, http.StatusBadRequest, map[string]any{
		"error":   "client_unidentified",
		"message": "Client address could not be determined",
	})
}

func (rl *RateLimiter) handleFailure(w http.ResponseWriter, r *http.Request, next http.Handler, logger *slog.Logger, op string, err error) {
	if rl.policy == ratelimit.FailClosed {
		logger.Error("rate limiter unavailable, rejecting request",
			slog.String("op", op),
			slog.String("path", r.URL.Path),
			slog.String("error", respond.SanitizeError(err)),
		)
		w.Header().Set(HeaderRetryAfter, "1")
		respond.JSON(w, http.StatusServiceUnavailable, map[string]any{
			"error":       "rate_limiter_unavailable",
			"message":     "Rate limiting is temporarily unavailable",
			"retry_after": 1,
		})
		return
	}

	rl.failOpenLog.Do(func() {
		logger.Warn("rate limiter unavailable, allowing request (fail-open)",
			slog.String("op", op),
			slog.String("path", r.URL.Path),
			slog.String("error", respond.SanitizeError(err)),
		)
	})
	next.ServeHTTP(w, r)
}

// SetRateLimitHeaders writes X-RateLimit-Limit, -Remaining and -Reset (unix
// seconds).
func SetRateLimitHeaders(w http.ResponseWriter, res *ratelimit.RateLimitResult) {
	if res == nil {
		return
	}
	h := w.Header()
	h.Set(HeaderLimit, strconv.Itoa(res.Limit))
	h.Set(HeaderRemaining, strconv.Itoa(res.Remaining))
	h.Set(HeaderReset, strconv.FormatInt(res.ResetAtUnix(), 10))
}

// WriteRateLimitError writes the 429 response:
//
//	{"error":"rate_limit_exceeded","message":"Rate limit exceeded","retry_after":45}
func WriteRateLimitError(w http.ResponseWriter, res *ratelimit.RateLimitResult, retryAfter int64) {
	w.Header().Set(HeaderRetryAfter, strconv.FormatInt(retryAfter, 10))
	respond.JSON(w, http.StatusTooManyRequests, map[string]any{
		"error":       "rate_limit_exceeded",
		"message":     res.Reason,
		"retry_after": retryAfter,
	})
}
