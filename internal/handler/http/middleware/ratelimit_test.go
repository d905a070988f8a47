package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"lms-gateway/internal/service/auth"
	"lms-gateway/pkg/ratelimit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newLimiter(t *testing.T, limit int, window time.Duration) (*ratelimit.Limiter, *ratelimit.ManualClock) {
	t.Helper()
	clock := ratelimit.NewManualClock(testEpoch)
	store, err := ratelimit.NewInMemoryBucketStore(ratelimit.DefaultInMemoryStoreConfig())
	require.NoError(t, err)
	l, err := ratelimit.NewLimiter(store, ratelimit.LimitConfig{Limit: limit, Window: window}, ratelimit.WithClock(clock))
	require.NoError(t, err)
	return l, clock
}

type failingConsumer struct{ err error }

func (f failingConsumer) Consume(context.Context, ratelimit.RateLimitKey) (*ratelimit.RateLimitResult, error) {
	return nil, f.err
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func serve(ctx context.Context, h http.Handler, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/v1/me", nil).WithContext(ctx)
	req.RemoteAddr = remote
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiter_AllowsThenDenies(t *testing.T) {
	l, clock := newLimiter(t, 2, time.Minute)
	h := NewRateLimiter(l, PrincipalOrIPKey(RemoteAddrExtractor{}), WithRateLimitClock(clock)).Middleware(okHandler)

	first := serve(context.Background(), h, "192.168.1.1:1000")
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "2", first.Header().Get(HeaderLimit))
	assert.Equal(t, "1", first.Header().Get(HeaderRemaining))
	assert.Equal(t, strconv.FormatInt(testEpoch.Add(time.Minute).Unix(), 10), first.Header().Get(HeaderReset))

	second := serve(context.Background(), h, "192.168.1.1:1001")
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "0", second.Header().Get(HeaderRemaining))

	clock.Advance(15 * time.Second)
	denied := serve(context.Background(), h, "192.168.1.1:1002")
	require.Equal(t, http.StatusTooManyRequests, denied.Code)
	assert.Equal(t, "0", denied.Header().Get(HeaderRemaining))
	assert.Equal(t, "45", denied.Header().Get(HeaderRetryAfter))

	var body map[string]any
	require.NoError(t, json.Unmarshal(denied.Body.Bytes(), &body))
	assert.Equal(t, "rate_limit_exceeded", body["error"])
	assert.Equal(t, ratelimit.ReasonLimitExceeded, body["message"])
	assert.Equal(t, float64(45), body["retry_after"])
}

func TestRateLimiter_RetryAfterRoundsUp(t *testing.T) {
	l, clock := newLimiter(t, 1, time.Minute)
	h := NewRateLimiter(l, PrincipalOrIPKey(RemoteAddrExtractor{}), WithRateLimitClock(clock)).Middleware(okHandler)

	serve(context.Background(), h, "10.0.0.1:1")
	clock.Advance(59*time.Second + 500*time.Millisecond)

	denied := serve(context.Background(), h, "10.0.0.1:1")
	assert.Equal(t, http.StatusTooManyRequests, denied.Code)
	assert.Equal(t, "1", denied.Header().Get(HeaderRetryAfter))
}

func TestRateLimiter_WindowRollover(t *testing.T) {
	l, clock := newLimiter(t, 1, time.Minute)
	h := NewRateLimiter(l, PrincipalOrIPKey(RemoteAddrExtractor{}), WithRateLimitClock(clock)).Middleware(okHandler)

	assert.Equal(t, http.StatusOK, serve(context.Background(), h, "10.0.0.1:1").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(context.Background(), h, "10.0.0.1:1").Code)

	clock.Advance(time.Minute)
	assert.Equal(t, http.StatusOK, serve(context.Background(), h, "10.0.0.1:1").Code)
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	l, clock := newLimiter(t, 1, time.Minute)
	h := NewRateLimiter(l, PrincipalOrIPKey(RemoteAddrExtractor{}), WithRateLimitClock(clock)).Middleware(okHandler)

	assert.Equal(t, http.StatusOK, serve(context.Background(), h, "10.0.0.1:1").Code)
	assert.Equal(t, http.StatusOK, serve(context.Background(), h, "10.0.0.2:1").Code)

	alice := auth.WithPrincipal(context.Background(), auth.Principal{UserID: "alice", Role: auth.RoleViewer})
	assert.Equal(t, http.StatusOK, serve(alice, h, "10.0.0.1:1").Code, "user key must not share the ip bucket")
	assert.Equal(t, http.StatusTooManyRequests, serve(alice, h, "10.0.0.9:1").Code, "user key follows the user across addresses")
}

func TestRateLimiter_Disabled(t *testing.T) {
	h := NewRateLimiter(failingConsumer{err: errors.New("unused")}, PrincipalOrIPKey(RemoteAddrExtractor{}), WithEnabled(false)).Middleware(okHandler)

	rec := serve(context.Background(), h, "10.0.0.1:1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get(HeaderLimit))
}

func TestRateLimiter_StoreFailure(t *testing.T) {
	storeErr := &ratelimit.StoreError{Op: "consume", Key: "ip:10.0.0.1", Err: errors.New("i/o timeout")}

	tests := []struct {
		name       string
		policy     ratelimit.FailurePolicy
		wantStatus int
		wantRetry  string
	}{
		{name: "fail open serves the request", policy: ratelimit.FailOpen, wantStatus: http.StatusOK},
		{name: "fail closed rejects", policy: ratelimit.FailClosed, wantStatus: http.StatusServiceUnavailable, wantRetry: "1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewRateLimiter(failingConsumer{err: storeErr}, PrincipalOrIPKey(RemoteAddrExtractor{}),
				WithFailurePolicy(tt.policy)).Middleware(okHandler)

			rec := serve(context.Background(), h, "10.0.0.1:1")
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantRetry, rec.Header().Get(HeaderRetryAfter))
			assert.Empty(t, rec.Header().Get(HeaderLimit))
		})
	}
}

func TestRateLimiter_UnresolvableClient(t *testing.T) {
	l, _ := newLimiter(t, 5, time.Minute)

	for _, policy := range []ratelimit.FailurePolicy{ratelimit.FailOpen, ratelimit.FailClosed} {
		t.Run(string(policy), func(t *testing.T) {
			reached := false
			next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { reached = true })
			h := NewRateLimiter(l, PrincipalOrIPKey(RemoteAddrExtractor{}), WithFailurePolicy(policy)).Middleware(next)

			rec := serve(context.Background(), h, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.False(t, reached, "an unidentified client must not bypass the limiter")

			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "client_unidentified", body["error"])
		})
	}
}

func TestRateLimiter_InvalidKeyIsNotAStoreFailure(t *testing.T) {
	reached := false
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { reached = true })
	h := NewRateLimiter(failingConsumer{err: ratelimit.ErrInvalidKey}, PrincipalOrIPKey(RemoteAddrExtractor{}),
		WithFailurePolicy(ratelimit.FailOpen)).Middleware(next)

	rec := serve(context.Background(), h, "10.0.0.1:1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, reached)
}

func TestPrincipalAndIPKey(t *testing.T) {
	keyFunc, err := KeyFuncFor(ratelimit.KeyByPrincipalAndIP, RemoteAddrExtractor{})
	require.NoError(t, err)

	anon := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	anon.RemoteAddr = "10.0.0.1:1"
	key, err := keyFunc(anon)
	require.NoError(t, err)
	assert.Equal(t, ratelimit.IPKey("10.0.0.1"), key)

	ctx := auth.WithPrincipal(context.Background(), auth.Principal{UserID: "u-1", Role: "viewer"})
	authed := anon.WithContext(ctx)
	key, err = keyFunc(authed)
	require.NoError(t, err)
	assert.Equal(t, "user+ip:u-1|10.0.0.1", key.String())

	authed.RemoteAddr = "10.0.0.2:1"
	other, err := keyFunc(authed)
	require.NoError(t, err)
	assert.NotEqual(t, key, other)
}

func TestKeyFuncFor(t *testing.T) {
	for _, strategy := range []string{"", ratelimit.KeyByPrincipal, ratelimit.KeyByPrincipalAndIP} {
		f, err := KeyFuncFor(strategy, RemoteAddrExtractor{})
		require.NoError(t, err, strategy)
		assert.NotNil(t, f)
	}
	_, err := KeyFuncFor("tenant", RemoteAddrExtractor{})
	assert.Error(t, err)
}

func TestWithFailurePolicy_IgnoresUnknown(t *testing.T) {
	rl := NewRateLimiter(nil, nil, WithFailurePolicy("sideways"))
	assert.Equal(t, ratelimit.FailOpen, rl.policy)
}
