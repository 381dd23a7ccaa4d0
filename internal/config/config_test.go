package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldsync/internal/scheduler"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fieldsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
database: data/local.db
media_dir: /var/media
user_id: field-worker-7
log_level: debug
remote:
  database: remote.db
scheduler:
  backoff:
    initial: 2s
    max: 1m
    max_attempts: 5
sync:
  interval: 30s
metrics:
  addr: ""
`)
	dir := filepath.Dir(path)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "data/local.db"), cfg.Database)
	assert.Equal(t, "/var/media", cfg.MediaDir)
	assert.Equal(t, "field-worker-7", cfg.UserID)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, filepath.Join(dir, "remote.db"), cfg.Remote.Database)
	assert.Equal(t, filepath.Join(dir, "blobs"), cfg.Remote.BlobDir, "unset fields keep their default")
	assert.Equal(t, 30*time.Second, cfg.Sync.Interval)
	assert.Empty(t, cfg.Metrics.Addr)
	assert.Equal(t, scheduler.BackoffConfig{Initial: 2 * time.Second, Max: time.Minute, MaxAttempts: 5}, cfg.Backoff())
}

func TestLoad_EmptyFile(t *testing.T) {
	path := writeConfig(t, "")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "fieldsync.db"), cfg.Database)
}

func TestLoad_MemoryDatabaseIsNotResolved(t *testing.T) {
	cfg, err := Load(writeConfig(t, "database: \":memory:\"\n"))
	require.NoError(t, err)
	assert.Equal(t, ":memory:", cfg.Database)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown field", "databse: x.db\n", "field databse not found"},
		{"unknown nested field", "remote:\n  blobdir: x\n", "field blobdir not found"},
		{"bad duration", "sync:\n  interval: soon\n", "failed to parse config"},
		{"bad log level", "log_level: loud\n", "log_level"},
		{"negative backoff", "scheduler:\n  backoff:\n    initial: -1s\n", "must not be negative"},
		{"max below initial", "scheduler:\n  backoff:\n    initial: 1m\n    max: 1s\n", "less than initial"},
		{"zero interval", "sync:\n  interval: 0s\n", "sync.interval"},
		{"empty database", "database: \"\"\n", "database is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
