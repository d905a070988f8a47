package ratelimit

import (
	"errors"
	"testing"
	"time"
)

func TestBucket_Advance(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	cfg := LimitConfig{Limit: 3, Window: time.Minute}
	live := Bucket{TokensRemaining: 2, Limit: 3, ResetAt: now.Add(30 * time.Second)}
	empty := Bucket{TokensRemaining: 0, Limit: 3, ResetAt: now.Add(30 * time.Second)}
	expired := Bucket{TokensRemaining: 0, Limit: 3, ResetAt: now}

	tests := []struct {
		name       string
		bucket     Bucket
		consume    bool
		wantOK     bool
		wantTokens int
		wantReset  time.Time
	}{
		{"zero bucket is created full", Bucket{}, true, true, 2, now.Add(time.Minute)},
		{"consume takes a token", live, true, true, 1, live.ResetAt},
		{"check leaves tokens", live, false, true, 2, live.ResetAt},
		{"empty bucket denies", empty, true, false, 0, empty.ResetAt},
		{"empty bucket check denies", empty, false, false, 0, empty.ResetAt},
		{"expired bucket rolls over", expired, true, true, 2, now.Add(time.Minute)},
		{"expired bucket check refills", expired, false, true, 3, now.Add(time.Minute)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.bucket.Advance(cfg, now, tt.consume)
			if ok != tt.wantOK {
				t.Errorf("ok = %v, want %v", ok, tt.wantOK)
			}
			if got.TokensRemaining != tt.wantTokens {
				t.Errorf("TokensRemaining = %d, want %d", got.TokensRemaining, tt.wantTokens)
			}
			if !got.ResetAt.Equal(tt.wantReset) {
				t.Errorf("ResetAt = %v, want %v", got.ResetAt, tt.wantReset)
			}
			if got.TokensRemaining > got.Limit {
				t.Errorf("TokensRemaining %d exceeds Limit %d", got.TokensRemaining, got.Limit)
			}
		})
	}
}

func TestBucket_AdvanceDoesNotMutateReceiver(t *testing.T) {
	now := time.Now()
	b := NewBucket(LimitConfig{Limit: 2, Window: time.Minute}, now)

	_, _ = b.Advance(LimitConfig{Limit: 2, Window: time.Minute}, now, true)

	if b.TokensRemaining != 2 {
		t.Errorf("receiver TokensRemaining = %d, want 2", b.TokensRemaining)
	}
}

func TestNewLimitConfig(t *testing.T) {
	tests := []struct {
		name          string
		limit         int
		windowSeconds int
		wantErr       error
	}{
		{"valid", 10, 60, nil},
		{"zero limit", 0, 60, ErrInvalidLimit},
		{"negative limit", -1, 60, ErrInvalidLimit},
		{"zero window", 10, 0, ErrInvalidWindow},
		{"negative window", 10, -5, ErrInvalidWindow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := NewLimitConfig(tt.limit, tt.windowSeconds)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("NewLimitConfig() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewLimitConfig() error = %v", err)
			}
			if cfg.Limit != tt.limit || cfg.WindowSeconds() != tt.windowSeconds {
				t.Errorf("NewLimitConfig() = %v", cfg)
			}
		})
	}
}
