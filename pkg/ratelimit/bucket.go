package ratelimit

import "time"

// Bucket is the token state of one key for its current window.
//
// Buckets are values. A rollover produces a new Bucket instead of mutating the
// expired one.
type Bucket struct {
	TokensRemaining int
	Limit           int
	ResetAt         time.Time
}

// NewBucket returns a full bucket whose window starts at now.
func NewBucket(cfg LimitConfig, now time.Time) Bucket {
	return Bucket{
		TokensRemaining: cfg.Limit,
		Limit:           cfg.Limit,
		ResetAt:         now.Add(cfg.Window),
	}
}

// Expired reports whether the window has elapsed at now.
func (b Bucket) Expired(now time.Time) bool {
	return !now.Before(b.ResetAt)
}

// Advance applies one access at now: an expired bucket is replaced by a full
// one built from cfg, then a token is taken if consume is set and one is left.
// It returns the resulting bucket and whether a token was (or could be) taken.
func (b Bucket) Advance(cfg LimitConfig, now time.Time, consume bool) (Bucket, bool) {
	if b.Expired(now) {
		b = NewBucket(cfg, now)
	}
	if b.TokensRemaining <= 0 {
		return b, false
	}
	if consume {
		b.TokensRemaining--
	}
	return b, true
}
