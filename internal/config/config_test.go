package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledgersync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
backend: bolt
path: /var/lib/ledgersync/wallet.bolt
log:
  level: debug
  format: json
sync:
  batch_size: 250
  interval: 5s
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, BackendBolt, cfg.Backend)
	assert.Equal(t, "/var/lib/ledgersync/wallet.bolt", cfg.Path)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 250, cfg.Sync.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.Sync.Interval)
	assert.Equal(t, ":9464", cfg.Metrics.Addr, "unset keys keep defaults")
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, "backend: sqlite\nbakend: bolt\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bakend")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "backend: bolt\npath: from-file.bolt\n")
	t.Setenv("LEDGERSYNC_BACKEND", "postgres")
	t.Setenv("LEDGERSYNC_POSTGRES_DSN", "postgres://wallet@localhost/wallet")
	t.Setenv("LEDGERSYNC_POSTGRES_MAX_CONNS", "4")
	t.Setenv("LEDGERSYNC_SYNC_INTERVAL", "1m")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendPostgres, cfg.Backend)
	assert.Equal(t, "postgres://wallet@localhost/wallet", cfg.Postgres.DSN)
	assert.Equal(t, 4, cfg.Postgres.MaxConns)
	assert.Equal(t, time.Minute, cfg.Sync.Interval)
	assert.Equal(t, "from-file.bolt", cfg.Path)
}

func TestLoad_BadEnvNumber(t *testing.T) {
	t.Setenv("LEDGERSYNC_SYNC_BATCH_SIZE", "lots")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LEDGERSYNC_SYNC_BATCH_SIZE")
}

func TestLoad_ClampsBatchSize(t *testing.T) {
	tests := []struct {
		name string
		env  string
		want int
	}{
		{"too large", "5000", MaxBatchSize},
		{"zero", "0", MinBatchSize},
		{"negative", "-3", MinBatchSize},
		{"in range", "42", 42},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("LEDGERSYNC_SYNC_BATCH_SIZE", tt.env)
			cfg, err := Load("")
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.Sync.BatchSize)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown backend", func(c *Config) { c.Backend = "mysql" }, "unknown backend"},
		{"postgres without dsn", func(c *Config) { c.Backend = BackendPostgres }, "needs a dsn"},
		{"bolt without path", func(c *Config) { c.Backend, c.Path = BackendBolt, "" }, "needs a path"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log format"},
		{"zero interval", func(c *Config) { c.Sync.Interval = 0 }, "interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.True(t, strings.HasPrefix(out, "{"), out)
	assert.Contains(t, out, `"k":"v"`)
}
