// Package config resolves runtime settings from defaults, an optional YAML
// file and the environment, in that order of precedence (last wins).
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	MinBatchSize = 1
	MaxBatchSize = 1000
)

// Backends accepted in Config.Backend.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendBolt     = "bolt"
)

// EnvPrefix prefixes every environment variable Load reads.
const EnvPrefix = "LEDGERSYNC_"

type Config struct {
	Backend  string         `yaml:"backend"`
	Path     string         `yaml:"path"`
	Postgres PostgresConfig `yaml:"postgres"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Sync     SyncConfig     `yaml:"sync"`
}

type PostgresConfig struct {
	DSN      string `yaml:"dsn"`
	Schema   string `yaml:"schema"`
	MaxConns int    `yaml:"max_conns"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Addr            string        `yaml:"addr"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

type SyncConfig struct {
	BatchSize int           `yaml:"batch_size"`
	Interval  time.Duration `yaml:"interval"`
}

// Default returns the settings used when nothing overrides them.
func Default() Config {
	return Config{
		Backend:  BackendSQLite,
		Path:     "ledgersync.db",
		Postgres: PostgresConfig{MaxConns: 10},
		Log:      LogConfig{Level: "INFO", Format: "TEXT"},
		Metrics:  MetricsConfig{Addr: ":9464", RefreshInterval: 15 * time.Second},
		Sync:     SyncConfig{BatchSize: 100, Interval: 30 * time.Second},
	}
}

// Load reads path (skipped when empty), then .env and the environment.
// Unknown YAML keys are rejected.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	// A missing .env is normal.
	_ = godotenv.Load()
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	cfg.clamp()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	integer := func(name string, dst *int) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
		return nil
	}
	duration := func(name string, dst *time.Duration) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = d
		return nil
	}

	str("BACKEND", &c.Backend)
	str("DB_PATH", &c.Path)
	str("POSTGRES_DSN", &c.Postgres.DSN)
	str("POSTGRES_SCHEMA", &c.Postgres.Schema)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("METRICS_ADDR", &c.Metrics.Addr)
	return errors.Join(
		integer("POSTGRES_MAX_CONNS", &c.Postgres.MaxConns),
		integer("SYNC_BATCH_SIZE", &c.Sync.BatchSize),
		duration("SYNC_INTERVAL", &c.Sync.Interval),
		duration("METRICS_REFRESH_INTERVAL", &c.Metrics.RefreshInterval),
	)
}

func (c *Config) clamp() {
	switch {
	case c.Sync.BatchSize > MaxBatchSize:
		slog.Warn("sync batch size exceeds limit, clamping", "requested", c.Sync.BatchSize, "limit", MaxBatchSize)
		c.Sync.BatchSize = MaxBatchSize
	case c.Sync.BatchSize < MinBatchSize:
		c.Sync.BatchSize = MinBatchSize
	}
	if c.Postgres.MaxConns < 1 {
		c.Postgres.MaxConns = 1
	}
}

// Validate checks the fields the selected backend needs.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendSQLite, BackendBolt:
		if c.Path == "" {
			return fmt.Errorf("backend %s needs a path", c.Backend)
		}
	case BackendPostgres:
		if c.Postgres.DSN == "" {
			return errors.New("backend postgres needs a dsn")
		}
	default:
		return fmt.Errorf("unknown backend %q (want sqlite, postgres or bolt)", c.Backend)
	}
	switch strings.ToUpper(c.Log.Format) {
	case "TEXT", "JSON":
	default:
		return fmt.Errorf("unknown log format %q (want text or json)", c.Log.Format)
	}
	if c.Sync.Interval <= 0 {
		return errors.New("sync interval must be positive")
	}
	return nil
}
