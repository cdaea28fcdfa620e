package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) lookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	applyDefaults(&cfg)

	assert.Equal(t, 50, cfg.Batch.MaxSize)
	assert.Equal(t, 100*time.Millisecond, cfg.Batch.Interval)
	assert.Equal(t, 60*time.Second, cfg.Wait.Timeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Wait.PollInterval)
	assert.Equal(t, 50, cfg.Batch.MaxLength)
	assert.Equal(t, "openai-community/gpt2", cfg.Backend.Model)
	assert.Equal(t, "echo", cfg.Backend.Provider)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.DrainTimeout)
	assert.Equal(t, 8000, cfg.Metrics.Port)
	require.NoError(t, cfg.Validate())
}

func TestApplyEnv_ServiceVariables(t *testing.T) {
	var cfg Config
	err := applyEnv(&cfg, envMap(map[string]string{
		"MODEL_NAME":     "gpt2-medium",
		"MAX_BATCH_SIZE": "20",
		"BATCH_TIME":     "0.01",
		"TIMEOUT":        "2.5",
		"POLL_INTERVAL":  "50ms",
	}))
	require.NoError(t, err)

	assert.Equal(t, "gpt2-medium", cfg.Backend.Model)
	assert.Equal(t, 20, cfg.Batch.MaxSize)
	assert.Equal(t, 10*time.Millisecond, cfg.Batch.Interval)
	assert.Equal(t, 2500*time.Millisecond, cfg.Wait.Timeout)
	assert.Equal(t, 50*time.Millisecond, cfg.Wait.PollInterval)
}

func TestApplyEnv_BadValues(t *testing.T) {
	var cfg Config
	err := applyEnv(&cfg, envMap(map[string]string{
		"MAX_BATCH_SIZE": "many",
		"BATCH_TIME":     "soon",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAX_BATCH_SIZE")
	assert.Contains(t, err.Error(), "BATCH_TIME")
}

func TestValidate(t *testing.T) {
	base := func() Config {
		var c Config
		applyDefaults(&c)
		return c
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero batch size", func(c *Config) { c.Batch.MaxSize = -1 }},
		{"negative interval", func(c *Config) { c.Batch.Interval = -time.Second }},
		{"unknown store", func(c *Config) { c.Results.Backend = "etcd" }},
		{"redis without url", func(c *Config) { c.Queue.Backend = "redis" }},
		{"openai without key", func(c *Config) { c.Backend.Provider = "openai" }},
		{"unknown provider", func(c *Config) { c.Backend.Provider = "llama" }},
		{"negative ttl", func(c *Config) { c.Results.TTL = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestLoadConfig_YAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yml := `
batch:
  max_size: 8
  interval: 250ms
wait:
  timeout: 5s
results:
  keep_orphans: true
backend:
  provider: echo
  model: tiny
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))
	t.Setenv("MAX_BATCH_SIZE", "16")

	cfg, err := LoadConfig(path, true)
	require.NoError(t, err)

	assert.Equal(t, 16, cfg.Batch.MaxSize, "environment wins over file")
	assert.Equal(t, 250*time.Millisecond, cfg.Batch.Interval)
	assert.Equal(t, 5*time.Second, cfg.Wait.Timeout)
	assert.Equal(t, "tiny", cfg.Backend.Model)
	assert.True(t, cfg.Results.KeepOrphans)
	assert.True(t, cfg.Runtime.Dev)
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"), false)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Batch.MaxSize)
}
