// Package redisstore implements the rate limiter's bucket store and the token
// cache's TTL store on Redis, for deployments that run more than one gateway
// process.
package redisstore

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"lms-gateway/internal/resilience/retry"
	"lms-gateway/pkg/config"
)

// NewClient builds a client from cfg. It does not connect.
func NewClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
}

// WaitReady pings Redis with backoff until it answers or retries run out.
// Every ping failure is retried unless cfg says otherwise.
func WaitReady(ctx context.Context, client *redis.Client, cfg retry.Config) error {
	if cfg.Retryable == nil {
		cfg.Retryable = func(error) bool { return true }
	}
	err := retry.WithBackoff(ctx, cfg, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	if err != nil {
		return fmt.Errorf("redis %s: %w", client.Options().Addr, err)
	}
	return nil
}
