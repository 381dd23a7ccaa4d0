// Package config loads the fieldsync configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/fieldsync/internal/scheduler"
)

// Config is the full configuration. Zero fields in the file keep their defaults.
type Config struct {
	// Database is the local SQLite database holding mutations and entity snapshots.
	Database string `yaml:"database"`

	// MediaDir is the directory photo filenames are resolved against.
	MediaDir string `yaml:"media_dir"`

	// UserID is recorded on every local edit.
	UserID string `yaml:"user_id"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	Remote    RemoteConfig    `yaml:"remote"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Sync      SyncConfig      `yaml:"sync"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// RemoteConfig locates the remote document store and blob store.
type RemoteConfig struct {
	Database string `yaml:"database"`
	BlobDir  string `yaml:"blob_dir"`
}

// SchedulerConfig configures background work.
type SchedulerConfig struct {
	Backoff BackoffConfig `yaml:"backoff"`
}

// BackoffConfig mirrors scheduler.BackoffConfig.
type BackoffConfig struct {
	Initial     time.Duration `yaml:"initial"`
	Max         time.Duration `yaml:"max"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// SyncConfig configures the daemon.
type SyncConfig struct {
	// Interval is how often the daemon triggers a metadata sync.
	Interval time.Duration `yaml:"interval"`
}

// MetricsConfig configures the metrics endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Database: "fieldsync.db",
		MediaDir: "media",
		UserID:   "local",
		LogLevel: "info",
		Remote: RemoteConfig{
			Database: "remote.db",
			BlobDir:  "blobs",
		},
		Scheduler: SchedulerConfig{
			Backoff: BackoffConfig{
				Initial: scheduler.DefaultBackoff.Initial,
				Max:     scheduler.DefaultBackoff.Max,
			},
		},
		Sync: SyncConfig{
			Interval: time.Minute,
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9464",
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
// Relative paths in the file are resolved against the file's directory.
//
// Unknown fields are rejected so that typos are caught.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.ResolvePaths(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// ResolvePaths makes relative file paths absolute against base.
func (c *Config) ResolvePaths(base string) {
	for _, p := range []*string{&c.Database, &c.MediaDir, &c.Remote.Database, &c.Remote.BlobDir} {
		if *p != "" && *p != ":memory:" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
}

// Validate checks that required fields are present and values are in range.
func (c Config) Validate() error {
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if c.MediaDir == "" {
		return fmt.Errorf("media_dir is required")
	}
	if c.Remote.Database == "" {
		return fmt.Errorf("remote.database is required")
	}
	if c.Remote.BlobDir == "" {
		return fmt.Errorf("remote.blob_dir is required")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error (got %q)", c.LogLevel)
	}

	b := c.Scheduler.Backoff
	if b.Initial < 0 || b.Max < 0 || b.MaxAttempts < 0 {
		return fmt.Errorf("scheduler.backoff values must not be negative")
	}
	if b.Max > 0 && b.Max < b.Initial {
		return fmt.Errorf("scheduler.backoff.max (%s) is less than initial (%s)", b.Max, b.Initial)
	}
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("sync.interval must be positive")
	}
	return nil
}

// Backoff returns the scheduler retry policy.
func (c Config) Backoff() scheduler.BackoffConfig {
	return scheduler.BackoffConfig{
		Initial:     c.Scheduler.Backoff.Initial,
		Max:         c.Scheduler.Backoff.Max,
		MaxAttempts: c.Scheduler.Backoff.MaxAttempts,
	}
}
