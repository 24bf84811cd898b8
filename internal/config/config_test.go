package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/QuantaFrame/internal/feature"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 20, cfg.Optimizer.MaxIterations)
	assert.Equal(t, []string{"streaming", "memory"}, cfg.Executor.Preference)
	assert.True(t, cfg.Optimizer.PassEnabled("cse"))
	assert.True(t, cfg.Optimizer.PassEnabled("unknown_pass"))
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero iterations", func(c *Config) { c.Optimizer.MaxIterations = 0 }},
		{"negative threshold", func(c *Config) { c.Optimizer.ParallelThreshold = -1 }},
		{"unknown executor", func(c *Config) { c.Executor.Preference = []string{"gpu"} }},
		{"empty preference", func(c *Config) { c.Executor.Preference = []string{} }},
		{"duplicate executor", func(c *Config) { c.Executor.Preference = []string{"memory", "memory"} }},
		{"zero batch size", func(c *Config) { c.Executor.BatchSize = 0 }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
		{"unknown operator", func(c *Config) { c.Operators = map[string]bool{"teleport": true} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quantaframe.yaml")
	content := `
optimizer:
  cse: false
  max_iterations: 5
operators:
  asof_join: false
executor:
  preference: [memory]
  batch_size: 256
log:
  level: debug
  format: text
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Optimizer.CSE)
	assert.True(t, cfg.Optimizer.PredicatePushdown, "unset fields keep defaults")
	assert.Equal(t, 5, cfg.Optimizer.MaxIterations)
	assert.Equal(t, []string{"memory"}, cfg.Executor.Preference)
	assert.Equal(t, 256, cfg.Executor.BatchSize)
	assert.Equal(t, "debug", cfg.Log.Level)

	set, err := cfg.Features()
	require.NoError(t, err)
	assert.False(t, set.IsEnabled(feature.AsofJoin))
	assert.True(t, set.IsEnabled(feature.CrossJoin))
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("optimizer: [1, 2"), 0o644))
	_, err = Load(path)
	assert.Error(t, err)

	path = filepath.Join(t.TempDir(), "invalid.yaml")
	require.NoError(t, os.WriteFile(path, []byte("executor:\n  batch_size: -3\n"), 0o644))
	_, err = Load(path)
	assert.ErrorContains(t, err, "invalid configuration")
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("QUANTAFRAME_MAX_ITERATIONS", "7")
	t.Setenv("QUANTAFRAME_EXECUTOR_PREFERENCE", "memory, streaming")
	t.Setenv("QUANTAFRAME_STREAMING_MIN_ROWS", "10")
	t.Setenv("QUANTAFRAME_BATCH_SIZE", "oops")
	t.Setenv("QUANTAFRAME_LOG_LEVEL", "error")

	cfg := Default()
	cfg.ApplyEnv()
	assert.Equal(t, 7, cfg.Optimizer.MaxIterations)
	assert.Equal(t, []string{"memory", "streaming"}, cfg.Executor.Preference)
	assert.Equal(t, int64(10), cfg.Executor.StreamingMinRows)
	assert.Equal(t, 1024, cfg.Executor.BatchSize)
	assert.Equal(t, "error", cfg.Log.Level)
}

func TestShouldStream(t *testing.T) {
	e := ExecutorConfig{StreamingMinRows: 100}
	assert.False(t, e.ShouldStream(-1))
	assert.False(t, e.ShouldStream(99))
	assert.True(t, e.ShouldStream(100))
}
