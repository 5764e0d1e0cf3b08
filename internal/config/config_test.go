package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 4096, cfg.Scheduler.QueueCapacity)
	require.Equal(t, 8, cfg.Scheduler.Executors)
	require.Equal(t, 4, cfg.Scheduler.BaseConcurrency)
	require.Equal(t, 500*time.Millisecond, cfg.Scheduler.BaseInterval)
	require.InDelta(t, 0.5, cfg.Scheduler.MinBackoff, 1e-9)
	require.InDelta(t, 4.0, cfg.Scheduler.MaxBackoff, 1e-9)
	require.Equal(t, 3, cfg.Scheduler.MaxAttempts)
	require.Equal(t, 250*time.Millisecond, cfg.Scheduler.RetryBaseDelay)
	require.Equal(t, 5*time.Second, cfg.Scheduler.RetryMaxDelay)

	require.Equal(t, 128, cfg.Monitor.WindowSize)
	require.InDelta(t, 0.30, cfg.Monitor.AlertErrorRateThreshold, 1e-9)
	require.Equal(t, 5*time.Second, cfg.Monitor.AlertLatencyThreshold)

	require.Equal(t, "bandit", cfg.Policy.Kind)
	require.InDelta(t, 0.1, cfg.Policy.ExplorationRate, 1e-9)

	require.Equal(t, 16, cfg.Dedup.Bands)
	require.Equal(t, 8, cfg.Dedup.Rows)
	require.Equal(t, 4, cfg.Dedup.ShingleSize)
	require.InDelta(t, 0.85, cfg.Dedup.SimilarityThreshold, 1e-9)

	require.Equal(t, "memory", cfg.Publisher.Provider)
	require.Equal(t, "memory", cfg.Snapshots.Provider)
	require.Equal(t, "memory", cfg.Sink.Provider)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte(`
server:
  port: 9090
scheduler:
  queue_capacity: 64
  base_interval: 250ms
monitor:
  alert_latency_threshold: 2s
policy:
  kind: fixed
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 64, cfg.Scheduler.QueueCapacity)
	require.Equal(t, 250*time.Millisecond, cfg.Scheduler.BaseInterval)
	require.Equal(t, 2*time.Second, cfg.Monitor.AlertLatencyThreshold)
	require.Equal(t, "fixed", cfg.Policy.Kind)
	// Untouched knobs keep their defaults.
	require.Equal(t, 3, cfg.Scheduler.MaxAttempts)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("HARVESTD_SERVER_PORT", "7070")
	t.Setenv("HARVESTD_POLICY_KIND", "fixed")
	t.Setenv("HARVESTD_SCHEDULER_BASE_INTERVAL", "1s")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)
	require.Equal(t, "fixed", cfg.Policy.Kind)
	require.Equal(t, time.Second, cfg.Scheduler.BaseInterval)
}

func TestValidateRejectsBadValues(t *testing.T) {
	base, err := Load("")
	require.NoError(t, err)

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"zero capacity", func(c *Config) { c.Scheduler.QueueCapacity = 0 }},
		{"inverted backoff bounds", func(c *Config) { c.Scheduler.MinBackoff = 2; c.Scheduler.MaxBackoff = 1 }},
		{"zero attempts", func(c *Config) { c.Scheduler.MaxAttempts = 0 }},
		{"negative interval", func(c *Config) { c.Scheduler.BaseInterval = -time.Second }},
		{"inverted retry delays", func(c *Config) { c.Scheduler.RetryMaxDelay = c.Scheduler.RetryBaseDelay / 2 }},
		{"zero window", func(c *Config) { c.Monitor.WindowSize = 0 }},
		{"zero latency threshold", func(c *Config) { c.Monitor.AlertLatencyThreshold = 0 }},
		{"error threshold above one", func(c *Config) { c.Monitor.AlertErrorRateThreshold = 1.5 }},
		{"unknown policy", func(c *Config) { c.Policy.Kind = "oracle" }},
		{"exploration above one", func(c *Config) { c.Policy.ExplorationRate = 1.5 }},
		{"zero bands", func(c *Config) { c.Dedup.Bands = 0 }},
		{"threshold above one", func(c *Config) { c.Dedup.SimilarityThreshold = 1.5 }},
		{"pubsub without project", func(c *Config) { c.Publisher.Provider = "pubsub" }},
		{"postgres without dsn", func(c *Config) { c.Snapshots.Provider = "postgres" }},
		{"zero snapshot sampling", func(c *Config) { c.Snapshots.SampleEvery = 0 }},
		{"gcs without bucket", func(c *Config) { c.Sink.Provider = "gcs" }},
		{"unknown log level", func(c *Config) { c.Logging.Level = "verbose" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
