package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Type)
	assert.Equal(t, 30*time.Second, cfg.Store.LockWaitTimeout)
	assert.Equal(t, time.Hour, cfg.Artifacts.TTL)
	assert.Equal(t, 4, cfg.Pipeline.Workers)
	assert.Contains(t, cfg.Validation.Modes, "bus")
}

func TestLoadFileThenEnv(t *testing.T) {
	path := writeConfig(t, `
store:
  type: sqlite
  sqlite_path: /var/lib/crossfile/facts.db
  lock_wait_timeout: 5s
artifacts:
  backend: local
  local_dir: /tmp/artifacts
  ttl: 30m
validation:
  default:
    max_distance_meters: 1000
    max_speed_kmh: 50
pipeline:
  workers: 8
logging:
  format: json
`)
	t.Setenv("PIPELINE_WORKERS", "2")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Store.Type)
	assert.Equal(t, "/var/lib/crossfile/facts.db", cfg.Store.SQLitePath)
	assert.Equal(t, 5*time.Second, cfg.Store.LockWaitTimeout)
	assert.Equal(t, 30*time.Minute, cfg.Artifacts.TTL)
	assert.Equal(t, 1000.0, cfg.Validation.Default.MaxDistanceMeters)
	assert.Equal(t, 2, cfg.Pipeline.Workers)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "debug", cfg.Logging.Level)

	opts := cfg.Store.Options()
	assert.Equal(t, "netex:", opts.KeyPrefix)
	assert.Equal(t, 5*time.Second, opts.LockWaitTimeout)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		env  map[string]string
	}{
		{name: "postgres without dsn", body: "store:\n  type: postgres\n"},
		{name: "unknown backend", body: "store:\n  type: redis\n"},
		{name: "zero workers", body: "pipeline:\n  workers: 0\n"},
		{name: "bad duration env", env: map[string]string{"STORE_FACT_TTL": "forever"}},
		{name: "bad log level", env: map[string]string{"LOG_LEVEL": "loud"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if tt.body != "" {
				path = writeConfig(t, tt.body)
			}
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	assert.Error(t, err)
}
