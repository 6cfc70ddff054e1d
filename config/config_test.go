package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 3, cfg.Executor.RetryAttempts)
	assert.Equal(t, 100, cfg.Executor.SnapshotInterval)
	assert.Equal(t, 10000, cfg.Executor.ReplayPageSize)
	assert.Equal(t, 2*time.Minute, cfg.Sweeper.Interval)
	assert.Equal(t, 5*time.Minute, cfg.Sweeper.Staleness)
	assert.Equal(t, 256, cfg.Projector.QueueSize)
	assert.False(t, cfg.NATS.Enabled)
	assert.False(t, cfg.Redis.Enabled)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: debug
executor:
  retry_attempts: 5
sweeper:
  interval: 30s
nats:
  enabled: true
  url: nats://broker:4222
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 5, cfg.Executor.RetryAttempts)
	assert.Equal(t, 30*time.Second, cfg.Sweeper.Interval)
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, "nats://broker:4222", cfg.NATS.URL)
	// untouched keys keep their defaults
	assert.Equal(t, 100, cfg.Executor.SnapshotInterval)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	assert.Error(t, err)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("CHRONICLE_LOG_LEVEL", "warn")
	t.Setenv("CHRONICLE_REDIS_ADDR", "redis:6379")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
}
