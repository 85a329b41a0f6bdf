package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polywatch/internal/application/coordination"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, "https://data-api.polymarket.com", cfg.API.DataBase)
	assert.Equal(t, "https://gamma-api.polymarket.com", cfg.API.GammaBase)
	assert.False(t, cfg.API.ResolveOutcomes)
	assert.Equal(t, "polywatch.db", cfg.Storage.DSN)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, 30*24*time.Hour, cfg.Lookback())
	assert.Equal(t, 500*time.Millisecond, cfg.RetryWait())
	assert.Empty(t, cfg.Redis.Addr)
	assert.Empty(t, cfg.Metrics.Addr)

	eng := cfg.EngineConfig()
	def := coordination.DefaultConfig()
	assert.Equal(t, def.Weights, eng.Weights)
	assert.Equal(t, def.Risk, eng.Risk)
	assert.Equal(t, def.SimultaneousWindow, eng.SimultaneousWindow)
	assert.Zero(t, eng.BatchBudget)
	assert.NoError(t, eng.Validate())
}

func TestEngineConfig_Overrides(t *testing.T) {
	cfg, err := Parse([]byte(`
detection:
  weights: {market_overlap: 0.2, timing: 0.4, direction: 0.2, size: 0.1, win_rate: 0.1}
  simultaneous_window_seconds: 2.5
  coordination_threshold: 70
  min_matched_pairs: 5
  risk: {low: 30, medium: 50, high: 70, critical: 85}
batch:
  concurrency: 3
  budget_seconds: 10
`))
	require.NoError(t, err)

	eng := cfg.EngineConfig()
	assert.Equal(t, 0.4, eng.Weights.Timing)
	assert.Equal(t, 2500*time.Millisecond, eng.SimultaneousWindow)
	assert.Equal(t, 70.0, eng.CoordinationThreshold)
	assert.Equal(t, 5, eng.MinMatchedPairs)
	assert.Equal(t, 85.0, eng.Risk.Critical)
	assert.Equal(t, 3, eng.Concurrency)
	assert.Equal(t, 10*time.Second, eng.BatchBudget)
	assert.NoError(t, eng.Validate())
}

func TestEngineConfig_InvalidWeightsSurfaceAtValidation(t *testing.T) {
	cfg, err := Parse([]byte("detection:\n  weights: {timing: 0.5}\n"))
	require.NoError(t, err)
	assert.Error(t, cfg.EngineConfig().Validate())
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("POLYWATCH_DSN", ":memory:")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("METRICS_ADDR", ":9102")

	cfg, err := Parse([]byte("log:\n  level: warn\n"))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ":memory:", cfg.Storage.DSN)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, ":9102", cfg.Metrics.Addr)
}

func TestLoad(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "config.Load: read")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("detection: ["), 0o600))
	_, err = Load(bad)
	assert.ErrorContains(t, err, "parse YAML")

	cfg, err := Load("config.yaml")
	require.NoError(t, err)
	assert.NoError(t, cfg.EngineConfig().Validate())
	assert.Equal(t, 30*time.Second, cfg.BatchBudget())
	assert.True(t, cfg.API.ResolveOutcomes)
}
