package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wpfleet/wpfleet/internal/bytesize"
	"github.com/wpfleet/wpfleet/pkg/store"
)

func TestDefaultMasterConfig(t *testing.T) {
	cfg := DefaultMasterConfig()

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, store.DatabaseTypeSQLite, cfg.Database.Type)
	assert.Equal(t, 8080, cfg.API.Port)
	assert.Equal(t, 15*time.Minute, cfg.API.JWT.AccessTokenDuration)
	assert.Equal(t, 7*24*time.Hour, cfg.API.JWT.RefreshTokenDuration)
	// SSE streams need unbounded writes.
	assert.Zero(t, cfg.API.WriteTimeout)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestDefaultAgentConfig(t *testing.T) {
	cfg := DefaultAgentConfig()

	assert.Equal(t, "/var/tmp/wp-backup-work", cfg.TempRoot)
	assert.Equal(t, 5*time.Minute, cfg.HeartbeatInterval)
	assert.Equal(t, []string{"/var/www"}, cfg.Scanner.BasePaths)
	assert.Equal(t, 2, cfg.Scheduler.MaxConcurrentBackups)
	assert.Equal(t, time.Minute, cfg.Scheduler.Tick)
	assert.Equal(t, 2, cfg.Governor.IOPermits)
	assert.Equal(t, 1, cfg.Governor.NetPermits)
	assert.LessOrEqual(t, cfg.Governor.CPUWorkers, 4)
	assert.GreaterOrEqual(t, cfg.Governor.CPUWorkers, 1)
	assert.Equal(t, time.Hour, cfg.Pipeline.DumpTimeout)
	assert.Equal(t, 6*time.Hour, cfg.Pipeline.UploadTimeout)
	assert.Equal(t, 64*bytesize.MiB, cfg.Pipeline.PartSize)
}

func TestLoadMasterFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "master.yaml")
	content := `
logging:
  level: debug
  format: json
  output: stdout
shutdown_timeout: 45s
api:
  port: 9999
database:
  type: sqlite
  sqlite:
    path: /tmp/test.db
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := LoadMaster(path)
	require.NoError(t, err)

	// Level is normalized to uppercase.
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 45*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 9999, cfg.API.Port)
	assert.Equal(t, "/tmp/test.db", cfg.Database.SQLite.Path)
	// Unset fields pick up defaults.
	assert.Equal(t, 10*time.Second, cfg.API.ReadTimeout)
}

func TestLoadMasterMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadMaster(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.API.Port)
}

func TestLoadAgentDecodeHooks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	content := `
master_url: http://master:8080
api_key: wpf_testkey
governor:
  bandwidth_limit: 10MB
pipeline:
  dump_timeout: 30m
  part_size: 128Mi
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := LoadAgent(path)
	require.NoError(t, err)

	assert.Equal(t, "http://master:8080", cfg.MasterURL)
	// "MB" is decimal, "Mi" is binary.
	assert.Equal(t, bytesize.ByteSize(10_000_000), cfg.Governor.BandwidthLimit)
	assert.Equal(t, 128*bytesize.MiB, cfg.Pipeline.PartSize)
	assert.Equal(t, 30*time.Minute, cfg.Pipeline.DumpTimeout)
	// Defaults still apply to unset sections.
	assert.Equal(t, 6*time.Hour, cfg.Pipeline.UploadTimeout)
}

func TestSaveConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")

	cfg := DefaultAgentConfig()
	cfg.MasterURL = "https://backup.example.com"
	cfg.APIKey = "wpf_secret"
	require.NoError(t, SaveConfig(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := LoadAgent(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.MasterURL, loaded.MasterURL)
	assert.Equal(t, cfg.APIKey, loaded.APIKey)
	assert.Equal(t, cfg.Pipeline.PartSize, loaded.Pipeline.PartSize)
}

func TestSealSecretEnvOverride(t *testing.T) {
	t.Setenv(EnvSealSecret, "from-env-32-characters-long-secret!")
	c := SealConfig{Secret: "from-file"}
	assert.Equal(t, "from-env-32-characters-long-secret!", c.GetSealSecret())
}
