package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 10*time.Second, cfg.Locks.Timeout)
	assert.True(t, cfg.Schema.StrictTypeMigration)
	assert.Equal(t, 30, cfg.Schema.RetentionDays)
	assert.Equal(t, 24*time.Hour, cfg.Retention.Interval)
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
database:
  type: postgres
  dsn: host=localhost user=registry dbname=registry
cache:
  ttl: 30s
  maxSize: 50
schema:
  strictTypeMigration: false
  sampleSize: 25
  operationTimeout: 90s
log:
  format: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Database.Type)
	assert.Equal(t, "host=localhost user=registry dbname=registry", cfg.Database.DSN)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL)
	assert.Equal(t, 50, cfg.Cache.MaxSize)
	assert.True(t, cfg.Cache.Enabled)
	assert.False(t, cfg.Schema.StrictTypeMigration)
	assert.Equal(t, 25, cfg.Schema.SampleSize)
	assert.Equal(t, 90*time.Second, cfg.Schema.OperationTimeout)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "locks:\n  timeout: 3s\n")
	t.Setenv("SCHEMAREG_LOCKS_TIMEOUT", "7s")
	t.Setenv("SCHEMAREG_SCHEMA_RETENTIONDAYS", "5")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7*time.Second, cfg.Locks.Timeout)
	assert.Equal(t, 5, cfg.Schema.RetentionDays)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config")

	path := writeFile(t, "database:\n  type: oracle\nlog:\n  level: loud\n")
	_, err = Load(path)
	require.Error(t, err)
	assert.ErrorContains(t, err, "database.type")
	assert.ErrorContains(t, err, "log.level")
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	LogConfig{Level: "warn", Format: "json"}.Logger(&buf).Info("hidden")
	assert.Empty(t, buf.String())

	LogConfig{Level: "debug", Format: "json"}.Logger(&buf).Debug("shown", "k", "v")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"k":"v"`)
}
