package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ankur-anand/kvbulk/pkg/kvstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kvbulk.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	require.NoError(t, cfg.Validate())
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[store]
backend = "bolt"
path = "/var/lib/kvbulk/data.db"
no_sync = true

[pool]
idle_timeout = "30s"
dial_attempts = 5

[bulk]
batch_size = 250
auto_flush = true
parallelism = 8
max_attempts = 3
retry_interval = "200ms"

[server]
http_port = 4100

[server.limiter]
interval = "10ms"
burst = 20

[log]
level = "debug"
format = "json"

[log.sampling]
debug = 10.0
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, kvstore.BackendBolt, cfg.Store.Backend)
	assert.True(t, cfg.Store.NoSync)
	assert.Equal(t, 250, cfg.Bulk.BatchSize)
	assert.True(t, cfg.Bulk.AutoFlush)
	assert.Equal(t, 100, cfg.Bulk.GetBatchSize, "unset keys keep their default")
	assert.Equal(t, "127.0.0.1:4100", cfg.ListenAddr())
	assert.Equal(t, 10.0, cfg.Log.Sampling["debug"])

	popts, err := cfg.PoolOptions()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, popts.IdleTimeout)
	assert.Equal(t, 5, popts.DialAttempts)
	assert.Equal(t, 100*time.Millisecond, popts.DialBackoff)

	eopts, err := cfg.EngineOptions()
	require.NoError(t, err)
	assert.Len(t, eopts, 3)

	bopts := cfg.BulkOptions()
	assert.Equal(t, 250, bopts.BatchSize)
	assert.True(t, bopts.AutoFlush)

	lim, err := BuildLimiter(cfg.Server.Limiter)
	require.NoError(t, err)
	require.NotNil(t, lim)
	assert.Equal(t, 20, lim.Burst())
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
[bulk]
batch_sise = 10
`)
	_, err := Load(path)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.ErrorContains(t, err, "batch_sise")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Store.Backend = "cassandra" }},
		{"http without address", func(c *Config) { c.Store = kvstore.Config{Backend: kvstore.BackendHTTP} }},
		{"bad idle timeout", func(c *Config) { c.Pool.IdleTimeout = "soon" }},
		{"negative backoff", func(c *Config) { c.Pool.DialBackoff = "-1s" }},
		{"bad retry interval", func(c *Config) { c.Bulk.RetryInterval = "1 minute" }},
		{"negative batch size", func(c *Config) { c.Bulk.BatchSize = -1 }},
		{"bad limiter", func(c *Config) { c.Server.Limiter.Interval = "fast" }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad sampling", func(c *Config) { c.Log.Sampling = map[string]float64{"info": 140} }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestBuildLimiter_Disabled(t *testing.T) {
	lim, err := BuildLimiter(Limiter{})
	require.NoError(t, err)
	assert.Nil(t, lim)
}
