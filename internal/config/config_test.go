package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets every variable Load reads for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CONFIG_FILE", "PORT", "ENV", "DATABASE_URL", "SQLITE_PATH", "REDIS_URL",
		"POLL_TIMEOUT", "MAX_BODY_BYTES", "MAX_HISTORY_LIMIT", "RATE_LIMIT_WHITELIST",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, "./data/relay.db", cfg.SQLitePath)
	assert.Equal(t, 45*time.Second, cfg.PollTimeout)
	assert.Equal(t, int64(64*1024), cfg.MaxBodyBytes)
	assert.Zero(t, cfg.MaxHistoryLimit)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("POLL_TIMEOUT", "2s")
	t.Setenv("MAX_HISTORY_LIMIT", "500")
	t.Setenv("RATE_LIMIT_WHITELIST", "10.0.0.1, 192.168.0.0/16,,")

	cfg := Load()
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, 2*time.Second, cfg.PollTimeout)
	assert.Equal(t, 500, cfg.MaxHistoryLimit)
	assert.Equal(t, []string{"10.0.0.1", "192.168.0.0/16"}, cfg.RateLimitWhitelist)
}

func TestLoadConfigFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "relay.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
port = "7000"
sqlite_path = "/var/lib/relay/relay.db"
max_body_bytes = 1024
max_history_limit = 250
rate_limit_whitelist = ["127.0.0.1"]
`), 0600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "7100")

	cfg := Load()
	assert.Equal(t, "7100", cfg.Port, "environment beats the file")
	assert.Equal(t, "/var/lib/relay/relay.db", cfg.SQLitePath)
	assert.Equal(t, int64(1024), cfg.MaxBodyBytes)
	assert.Equal(t, 250, cfg.MaxHistoryLimit)
	assert.Equal(t, []string{"127.0.0.1"}, cfg.RateLimitWhitelist)
	assert.Equal(t, 45*time.Second, cfg.PollTimeout)
}

func TestLoadPanics(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad duration", map[string]string{"POLL_TIMEOUT": "soon"}},
		{"non-positive timeout", map[string]string{"POLL_TIMEOUT": "0s"}},
		{"bad integer", map[string]string{"MAX_BODY_BYTES": "lots"}},
		{"production without database", map[string]string{"ENV": "production", "REDIS_URL": "redis://localhost"}},
		{"production without redis", map[string]string{"ENV": "production", "DATABASE_URL": "postgres://localhost/relay"}},
		{"missing config file", map[string]string{"CONFIG_FILE": "/nonexistent/relay.toml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			assert.Panics(t, func() { Load() })
		})
	}
}
