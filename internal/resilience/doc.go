// Package resilience groups the fault tolerance helpers used around the
// gateway's remote dependencies (Redis and Postgres).
//
//   - circuitbreaker wraps sony/gobreaker so a failing store is cut off quickly
//     and the rate limiter's failure policy can take over
//   - retry provides exponential backoff with jitter for connecting at startup
package resilience
