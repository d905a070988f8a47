package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"lms-gateway/internal/resilience/circuitbreaker"
)

// incrScript increments a counter and sets its expiry only when the INCR
// created it.
var incrScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// TTLStore is a tokencache.TTLStore on plain Redis strings.
type TTLStore struct {
	client  *redis.Client
	prefix  string
	breaker *circuitbreaker.CircuitBreaker
}

// TTLStoreOption configures a TTLStore.
type TTLStoreOption func(*TTLStore)

// WithTTLPrefix prepends prefix to every key, for sharing a Redis database.
func WithTTLPrefix(prefix string) TTLStoreOption {
	return func(s *TTLStore) { s.prefix = prefix }
}

// WithTTLBreaker routes every call through cb.
func WithTTLBreaker(cb *circuitbreaker.CircuitBreaker) TTLStoreOption {
	return func(s *TTLStore) { s.breaker = cb }
}

// NewTTLStore creates a TTLStore over client.
func NewTTLStore(client *redis.Client, opts ...TTLStoreOption) *TTLStore {
	s := &TTLStore{client: client}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *TTLStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.do(func() (interface{}, error) {
		if ttl <= 0 {
			return nil, s.client.Del(ctx, s.prefix+key).Err()
		}
		return nil, s.client.Set(ctx, s.prefix+key, value, ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *TTLStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	res, err := s.do(func() (interface{}, error) {
		v, err := s.client.Get(ctx, s.prefix+key).Bytes()
		if errors.Is(err, redis.Nil) {
			return []byte(nil), nil
		}
		return v, err
	})
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	v, _ := res.([]byte)
	if v == nil {
		return nil, false, nil
	}
	return v, true, nil
}

func (s *TTLStore) Delete(ctx context.Context, key string) error {
	_, err := s.do(func() (interface{}, error) {
		return nil, s.client.Del(ctx, s.prefix+key).Err()
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *TTLStore) Exists(ctx context.Context, key string) (bool, error) {
	res, err := s.do(func() (interface{}, error) {
		return s.client.Exists(ctx, s.prefix+key).Result()
	})
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", key, err)
	}
	n, _ := res.(int64)
	return n > 0, nil
}

func (s *TTLStore) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	ttlMs := ttl.Milliseconds()
	if ttlMs < 1 {
		ttlMs = 1
	}
	res, err := s.do(func() (interface{}, error) {
		return incrScript.Run(ctx, s.client, []string{s.prefix + key}, ttlMs).Int64()
	})
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	n, _ := res.(int64)
	return n, nil
}

func (s *TTLStore) do(fn func() (interface{}, error)) (interface{}, error) {
	if s.breaker == nil {
		return fn()
	}
	return s.breaker.Execute(fn)
}
