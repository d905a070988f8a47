package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lms-gateway/pkg/ratelimit"
)

func TestLoadRateLimitConfig_Defaults(t *testing.T) {
	cfg, err := LoadRateLimitConfig()
	require.NoError(t, err)

	assert.True(t, cfg.Enabled)
	assert.Equal(t, 10, cfg.DefaultLimit)
	assert.Equal(t, 60*time.Second, cfg.DefaultWindow)
	assert.Equal(t, ratelimit.BackendMemory, cfg.Backend)
	assert.Equal(t, ratelimit.FailOpen, cfg.FailurePolicy)
	assert.Empty(t, cfg.Overrides)
}

func TestLoadRateLimitConfig_FromEnv(t *testing.T) {
	t.Setenv("RATELIMIT_DEFAULT_LIMIT", "100")
	t.Setenv("RATELIMIT_DEFAULT_WINDOW_SECONDS", "30")
	t.Setenv("RATELIMIT_BACKEND", "redis")
	t.Setenv("RATELIMIT_FAILURE_POLICY", "CLOSED")
	t.Setenv("RATELIMIT_OVERRIDES", "user:42=5/30, ip:10.0.0.1=1000/60")
	t.Setenv("RATELIMIT_KEY_STRATEGY", "Principal_IP")

	cfg, err := LoadRateLimitConfig()
	require.NoError(t, err)
	assert.Equal(t, ratelimit.KeyByPrincipalAndIP, cfg.KeyStrategy)

	assert.Equal(t, 100, cfg.DefaultLimit)
	assert.Equal(t, 30*time.Second, cfg.DefaultWindow)
	assert.Equal(t, ratelimit.BackendRedis, cfg.Backend)
	assert.Equal(t, ratelimit.FailClosed, cfg.FailurePolicy)

	want := []ratelimit.KeyLimitConfig{
		{Key: "user:42", Limit: 5, WindowSeconds: 30},
		{Key: "ip:10.0.0.1", Limit: 1000, WindowSeconds: 60},
	}
	if diff := cmp.Diff(want, cfg.Overrides); diff != "" {
		t.Errorf("Overrides mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadRateLimitConfig_FailsFast(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"zero limit", "RATELIMIT_DEFAULT_LIMIT", "0"},
		{"negative limit", "RATELIMIT_DEFAULT_LIMIT", "-5"},
		{"malformed limit", "RATELIMIT_DEFAULT_LIMIT", "ten"},
		{"zero window", "RATELIMIT_DEFAULT_WINDOW_SECONDS", "0"},
		{"bad override", "RATELIMIT_OVERRIDES", "user:1=0/10"},
		{"bad backend", "RATELIMIT_BACKEND", "memcached"},
		{"bad policy", "RATELIMIT_FAILURE_POLICY", "sometimes"},
		{"bad key strategy", "RATELIMIT_KEY_STRATEGY", "tenant"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			cfg, err := LoadRateLimitConfig()
			assert.Error(t, err)
			assert.Nil(t, cfg)
		})
	}
}

func TestParseOverrides(t *testing.T) {
	tests := []struct {
		in      string
		want    []ratelimit.KeyLimitConfig
		wantErr bool
	}{
		{in: "", want: nil},
		{in: "user:1=2/3", want: []ratelimit.KeyLimitConfig{{Key: "user:1", Limit: 2, WindowSeconds: 3}}},
		{in: "ip:2001:db8::1=2/3", want: []ratelimit.KeyLimitConfig{{Key: "ip:2001:db8::1", Limit: 2, WindowSeconds: 3}}},
		{in: "user:1", wantErr: true},
		{in: "user:1=2", wantErr: true},
		{in: "user:1=x/3", wantErr: true},
		{in: "user:1=2/-3", wantErr: true},
		{in: "=2/3", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseOverrides(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseOverrides(%q) mismatch (-want +got):\n%s", tt.in, diff)
			}
		})
	}
}

func TestLoadOverridesFile(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "overrides.yaml")
	require.NoError(t, os.WriteFile(good, []byte(`
overrides:
  - key: "user:42"
    limit: 5
    window_seconds: 30
  - key: "ip:10.0.0.1"
    limit: 1000
    window_seconds: 60
`), 0o600))

	got, err := LoadOverridesFile(good)
	require.NoError(t, err)
	want := []ratelimit.KeyLimitConfig{
		{Key: "user:42", Limit: 5, WindowSeconds: 30},
		{Key: "ip:10.0.0.1", Limit: 1000, WindowSeconds: 60},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("LoadOverridesFile mismatch (-want +got):\n%s", diff)
	}

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("overrides:\n  - key: \"user:1\"\n    limit: 0\n    window_seconds: 10\n"), 0o600))
	_, err = LoadOverridesFile(bad)
	assert.ErrorIs(t, err, ratelimit.ErrInvalidLimit)

	_, err = LoadOverridesFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadRateLimitConfig_OverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overrides.yaml")
	require.NoError(t, os.WriteFile(path, []byte("overrides:\n  - key: \"user:7\"\n    limit: 3\n    window_seconds: 10\n"), 0o600))

	t.Setenv("RATELIMIT_OVERRIDES_FILE", path)
	t.Setenv("RATELIMIT_OVERRIDES", "user:8=4/10")

	cfg, err := LoadRateLimitConfig()
	require.NoError(t, err)
	require.Len(t, cfg.Overrides, 2)
	assert.Equal(t, "user:7", cfg.Overrides[0].Key)
	assert.Equal(t, "user:8", cfg.Overrides[1].Key)
}
