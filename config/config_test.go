package config_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/sage-rtc/config"
)

func TestLoadFromFileAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, config.SaveToFile(&config.Config{}, path))

	cfg, err := config.LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 60*time.Second, cfg.Saga.StepDeadline)
	assert.Equal(t, 500*time.Millisecond, cfg.Dispatch.RetryInterval)
	assert.Equal(t, 30*time.Second, cfg.Dispatch.MaxSkew)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, "/healthz", cfg.Health.Path)
}

func TestLoadFromFilePreservesExplicitValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := &config.Config{
		Environment: "production",
		Saga:        config.SagaConfig{StepDeadline: 10 * time.Second, ICEServers: []string{"stun:example.com"}},
		Dispatch:    config.DispatchConfig{RetryInterval: time.Second, MaxSkew: 5 * time.Second},
	}
	require.NoError(t, config.SaveToFile(cfg, path))

	loaded, err := config.LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "production", loaded.Environment)
	assert.Equal(t, 10*time.Second, loaded.Saga.StepDeadline)
	assert.Equal(t, []string{"stun:example.com"}, loaded.Saga.ICEServers)
	assert.Equal(t, time.Second, loaded.Dispatch.RetryInterval)
}

func TestLoadFromFileMissingFile(t *testing.T) {
	_, err := config.LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSaveToFileJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, config.SaveToFile(&config.Config{Environment: "staging"}, path))

	loaded, err := config.LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "staging", loaded.Environment)
}
