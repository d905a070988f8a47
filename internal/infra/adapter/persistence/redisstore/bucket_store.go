package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"lms-gateway/internal/resilience/circuitbreaker"
	"lms-gateway/pkg/ratelimit"
)

// DefaultBucketPrefix namespaces bucket hashes.
const DefaultBucketPrefix = "ratelimit:"

// applyScript performs lookup-or-create, rollover and decrement in one
// server-side step. Time comes from the caller so every gateway process
// agrees with its own clock source instead of Redis's.
//
// KEYS[1] bucket hash
// ARGV[1] now (unix ms), ARGV[2] limit, ARGV[3] window (ms), ARGV[4] consume (1/0)
// Returns {allowed, tokens, reset_at_ms, limit}.
var applyScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local window = tonumber(ARGV[3])
local consume = ARGV[4] == '1'

local state = redis.call('HMGET', KEYS[1], 'tokens', 'reset_at', 'limit')
local tokens = tonumber(state[1])
local reset_at = tonumber(state[2])
local bucket_limit = tonumber(state[3])

if tokens == nil or reset_at == nil or bucket_limit == nil or now >= reset_at then
  tokens = limit
  reset_at = now + window
  bucket_limit = limit
  redis.call('HSET', KEYS[1], 'tokens', tokens, 'reset_at', reset_at, 'limit', bucket_limit)
  redis.call('PEXPIRE', KEYS[1], window)
end

local allowed = 0
if tokens > 0 then
  allowed = 1
  if consume then
    tokens = tokens - 1
    redis.call('HSET', KEYS[1], 'tokens', tokens)
  end
end

return {allowed, tokens, reset_at, bucket_limit}
`)

// BucketStore is a ratelimit.BucketStore on Redis hashes.
type BucketStore struct {
	client  *redis.Client
	prefix  string
	breaker *circuitbreaker.CircuitBreaker
}

// BucketStoreOption configures a BucketStore.
type BucketStoreOption func(*BucketStore)

// WithBucketPrefix overrides DefaultBucketPrefix.
func WithBucketPrefix(prefix string) BucketStoreOption {
	return func(s *BucketStore) { s.prefix = prefix }
}

// WithBucketBreaker routes every call through cb.
func WithBucketBreaker(cb *circuitbreaker.CircuitBreaker) BucketStoreOption {
	return func(s *BucketStore) { s.breaker = cb }
}

// NewBucketStore creates a BucketStore over client.
func NewBucketStore(client *redis.Client, opts ...BucketStoreOption) *BucketStore {
	s := &BucketStore{client: client, prefix: DefaultBucketPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Apply implements ratelimit.BucketStore.
func (s *BucketStore) Apply(ctx context.Context, key string, cfg ratelimit.LimitConfig, now time.Time, consume bool) (ratelimit.Bucket, bool, error) {
	windowMs := cfg.Window.Milliseconds()
	if windowMs < 1 {
		windowMs = 1
	}
	consumeArg := 0
	if consume {
		consumeArg = 1
	}

	res, err := s.do(func() (interface{}, error) {
		return applyScript.Run(ctx, s.client, []string{s.prefix + key},
			now.UnixMilli(), cfg.Limit, windowMs, consumeArg).Slice()
	})
	if err != nil {
		return ratelimit.Bucket{}, false, fmt.Errorf("apply %s: %w", key, err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 4 {
		return ratelimit.Bucket{}, false, fmt.Errorf("apply %s: unexpected reply %v", key, res)
	}
	nums := make([]int64, 4)
	for i, v := range vals {
		n, ok := v.(int64)
		if !ok {
			return ratelimit.Bucket{}, false, fmt.Errorf("apply %s: reply[%d] is %T", key, i, v)
		}
		nums[i] = n
	}

	return ratelimit.Bucket{
		TokensRemaining: int(nums[1]),
		Limit:           int(nums[3]),
		ResetAt:         time.UnixMilli(nums[2]),
	}, nums[0] == 1, nil
}

// Delete implements ratelimit.BucketStore.
func (s *BucketStore) Delete(ctx context.Context, key string) error {
	_, err := s.do(func() (interface{}, error) {
		return nil, s.client.Del(ctx, s.prefix+key).Err()
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// KeyCount implements ratelimit.BucketStore by scanning the prefix. It is
// meant for the periodic active-keys gauge, not the request path.
func (s *BucketStore) KeyCount(ctx context.Context) (int, error) {
	total := 0
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 500).Result()
		if err != nil {
			return 0, fmt.Errorf("scan %s*: %w", s.prefix, err)
		}
		total += len(keys)
		if next == 0 {
			return total, nil
		}
		cursor = next
	}
}

func (s *BucketStore) do(fn func() (interface{}, error)) (interface{}, error) {
	if s.breaker == nil {
		return fn()
	}
	return s.breaker.Execute(fn)
}
