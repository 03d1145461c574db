// Package config loads webdb configuration from YAML with environment
// variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jimpick/webdb/internal/logging"
	"github.com/jimpick/webdb/internal/store"
)

// StoreBackend selects the key-value store implementation backing the
// tables and the system metadata.
type StoreBackend = store.Backend

const (
	BackendPebble = store.BackendPebble
	BackendSQLite = store.BackendSQLite
	BackendMemory = store.BackendMemory
)

// Config is the complete webdb configuration.
type Config struct {
	Version  int            `yaml:"version"`
	Paths    PathsConfig    `yaml:"paths"`
	Store    StoreConfig    `yaml:"store"`
	Indexing IndexingConfig `yaml:"indexing"`
	Logging  logging.Config `yaml:"logging"`
	Tables   []TableConfig  `yaml:"tables"`
}

// PathsConfig configures where webdb keeps its state.
type PathsConfig struct {
	// DataDir holds the stores, the lock file, and archive checkouts.
	// Empty means ".webdb" under the directory Load was given.
	DataDir string `yaml:"data_dir"`
}

// StoreConfig configures the key-value backend.
type StoreConfig struct {
	Backend StoreBackend `yaml:"backend"`

	// SQLiteCacheMB is the page cache size for the sqlite backend.
	SQLiteCacheMB int `yaml:"sqlite_cache_mb"`
}

// IndexingConfig tunes the indexing engine.
type IndexingConfig struct {
	// RetryInterval is how long the resilience loop waits between
	// attempts to reach a missing archive (e.g. "30s").
	RetryInterval string `yaml:"retry_interval"`

	// DownloadCooldown is the per-path coalescing window for
	// invalidation-triggered downloads (e.g. "1s").
	DownloadCooldown string `yaml:"download_cooldown"`
}

// TableConfig declares one destination table.
type TableConfig struct {
	// Name is the table identifier, also its directory under the data
	// dir.
	Name string `yaml:"name"`

	// Pattern is the glob claiming archive paths for this table.
	Pattern string `yaml:"pattern"`

	// Schema is an inline CUE schema validating records. Optional.
	Schema string `yaml:"schema"`

	// SchemaFile is a path to a CUE schema file, relative to the config
	// file's directory. Ignored when Schema is set.
	SchemaFile string `yaml:"schema_file"`
}

// NewConfig returns the default configuration.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Store: StoreConfig{
			Backend:       BackendPebble,
			SQLiteCacheMB: 64,
		},
		Indexing: IndexingConfig{
			RetryInterval:    "30s",
			DownloadCooldown: "1s",
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load builds the configuration for dir: defaults, then .webdb.yaml (or
// .webdb.yml), then WEBDB_* environment overrides, then validation.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()

	if cfg.Paths.DataDir == "" {
		cfg.Paths.DataDir = filepath.Join(dir, ".webdb")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{".webdb.yaml", ".webdb.yml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return c.loadYAML(path)
		}
	}
	// No config file is fine, defaults apply.
	return nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	if other.Paths.DataDir != "" {
		c.Paths.DataDir = other.Paths.DataDir
	}
	if other.Store.Backend != "" {
		c.Store.Backend = other.Store.Backend
	}
	if other.Store.SQLiteCacheMB != 0 {
		c.Store.SQLiteCacheMB = other.Store.SQLiteCacheMB
	}
	if other.Indexing.RetryInterval != "" {
		c.Indexing.RetryInterval = other.Indexing.RetryInterval
	}
	if other.Indexing.DownloadCooldown != "" {
		c.Indexing.DownloadCooldown = other.Indexing.DownloadCooldown
	}
	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.FilePath != "" {
		c.Logging.FilePath = other.Logging.FilePath
	}
	if other.Logging.MaxSizeMB != 0 {
		c.Logging.MaxSizeMB = other.Logging.MaxSizeMB
	}
	if other.Logging.MaxFiles != 0 {
		c.Logging.MaxFiles = other.Logging.MaxFiles
	}
	if len(other.Tables) > 0 {
		c.Tables = other.Tables
	}
}

// applyEnvOverrides applies WEBDB_* environment variables, which take
// precedence over any file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("WEBDB_DATA_DIR"); v != "" {
		c.Paths.DataDir = v
	}
	if v := os.Getenv("WEBDB_STORE_BACKEND"); v != "" {
		c.Store.Backend = StoreBackend(strings.ToLower(v))
	}
	if v := os.Getenv("WEBDB_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("WEBDB_RETRY_INTERVAL"); v != "" {
		c.Indexing.RetryInterval = v
	}
}

// Validate checks the final configuration.
func (c *Config) Validate() error {
	if !store.ValidBackend(c.Store.Backend) {
		return fmt.Errorf("store.backend must be 'pebble', 'sqlite', or 'memory', got %s", c.Store.Backend)
	}

	if _, err := time.ParseDuration(c.Indexing.RetryInterval); err != nil {
		return fmt.Errorf("indexing.retry_interval: %w", err)
	}
	if _, err := time.ParseDuration(c.Indexing.DownloadCooldown); err != nil {
		return fmt.Errorf("indexing.download_cooldown: %w", err)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}

	seen := make(map[string]bool, len(c.Tables))
	for i, t := range c.Tables {
		if t.Name == "" {
			return fmt.Errorf("tables[%d]: name is required", i)
		}
		if strings.ContainsAny(t.Name, "/\\") {
			return fmt.Errorf("table %s: name must not contain path separators", t.Name)
		}
		if t.Pattern == "" {
			return fmt.Errorf("table %s: pattern is required", t.Name)
		}
		if seen[t.Name] {
			return fmt.Errorf("table %s: duplicate name", t.Name)
		}
		seen[t.Name] = true
	}
	return nil
}

// RetryInterval returns the parsed resilience loop interval. Validate
// must have passed.
func (c *Config) RetryInterval() time.Duration {
	d, _ := time.ParseDuration(c.Indexing.RetryInterval)
	return d
}

// DownloadCooldown returns the parsed download coalescing window.
// Validate must have passed.
func (c *Config) DownloadCooldown() time.Duration {
	d, _ := time.ParseDuration(c.Indexing.DownloadCooldown)
	return d
}

// SchemaSource returns the table's CUE schema text: the inline schema
// when present, otherwise the contents of SchemaFile resolved against
// baseDir. Empty when the table declares no schema.
func (t TableConfig) SchemaSource(baseDir string) (string, error) {
	if t.Schema != "" {
		return t.Schema, nil
	}
	if t.SchemaFile == "" {
		return "", nil
	}
	path := t.SchemaFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read schema for table %s: %w", t.Name, err)
	}
	return string(data), nil
}

// WriteYAML writes the configuration to path.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
