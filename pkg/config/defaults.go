package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/wpfleet/wpfleet/internal/bytesize"
	"github.com/wpfleet/wpfleet/pkg/store"
)

// ApplyMasterDefaults fills in missing master configuration values.
// Zero values are replaced; explicit values are preserved.
func ApplyMasterDefaults(cfg *MasterConfig) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	cfg.Database.ApplyDefaults()

	if cfg.Metrics.Enabled && cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}

	applyAPIDefaults(cfg)
}

// applyLoggingDefaults sets logging defaults and normalizes the level.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}

	if cfg.Profiling.Endpoint == "" {
		cfg.Profiling.Endpoint = "http://localhost:4040"
	}
	if len(cfg.Profiling.ProfileTypes) == 0 {
		cfg.Profiling.ProfileTypes = []string{
			"cpu",
			"alloc_objects",
			"alloc_space",
			"inuse_objects",
			"inuse_space",
			"goroutines",
		}
	}
}

// applyAPIDefaults sets API server defaults. WriteTimeout stays zero:
// the SSE stream endpoint needs unbounded response writes.
func applyAPIDefaults(cfg *MasterConfig) {
	if cfg.API.Port == 0 {
		cfg.API.Port = 8080
	}
	if cfg.API.ReadTimeout == 0 {
		cfg.API.ReadTimeout = 10 * time.Second
	}
	if cfg.API.IdleTimeout == 0 {
		cfg.API.IdleTimeout = 60 * time.Second
	}
	if cfg.API.JWT.AccessTokenDuration == 0 {
		cfg.API.JWT.AccessTokenDuration = 15 * time.Minute
	}
	if cfg.API.JWT.RefreshTokenDuration == 0 {
		cfg.API.JWT.RefreshTokenDuration = 7 * 24 * time.Hour
	}
}

// DefaultMasterConfig returns a master config with all defaults applied.
func DefaultMasterConfig() *MasterConfig {
	cfg := &MasterConfig{
		Database: store.Config{
			Type: store.DatabaseTypeSQLite,
		},
	}
	ApplyMasterDefaults(cfg)
	return cfg
}

// ApplyAgentDefaults fills in missing agent configuration values.
func ApplyAgentDefaults(cfg *AgentConfig) {
	applyLoggingDefaults(&cfg.Logging)

	if cfg.DataDir == "" {
		cfg.DataDir = defaultAgentDataDir()
	}
	if cfg.TempRoot == "" {
		cfg.TempRoot = "/var/tmp/wp-backup-work"
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 5 * time.Minute
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9091
	}

	if len(cfg.Scanner.BasePaths) == 0 {
		cfg.Scanner.BasePaths = []string{"/var/www"}
	}
	if cfg.Scanner.Interval == 0 {
		cfg.Scanner.Interval = time.Hour
	}

	if cfg.Scheduler.MaxConcurrentBackups == 0 {
		cfg.Scheduler.MaxConcurrentBackups = 2
	}
	if cfg.Scheduler.Tick == 0 {
		cfg.Scheduler.Tick = time.Minute
	}

	if cfg.Governor.IOPermits == 0 {
		cfg.Governor.IOPermits = 2
	}
	if cfg.Governor.NetPermits == 0 {
		cfg.Governor.NetPermits = 1
	}
	if cfg.Governor.CPUWorkers == 0 {
		cfg.Governor.CPUWorkers = defaultCPUWorkers()
	}

	if cfg.Pipeline.DumpTimeout == 0 {
		cfg.Pipeline.DumpTimeout = time.Hour
	}
	if cfg.Pipeline.UploadTimeout == 0 {
		cfg.Pipeline.UploadTimeout = 6 * time.Hour
	}
	if cfg.Pipeline.ZstdLevel == 0 {
		cfg.Pipeline.ZstdLevel = 3
	}
	if cfg.Pipeline.PartSize == 0 {
		cfg.Pipeline.PartSize = 64 * bytesize.MiB
	}
	if cfg.Pipeline.StaleGrace == 0 {
		cfg.Pipeline.StaleGrace = 24 * time.Hour
	}
}

func defaultCPUWorkers() int {
	workers := runtime.NumCPU()
	if workers > 4 {
		workers = 4
	}
	return workers
}

func defaultAgentDataDir() string {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "wpfleet-agent")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "/var/lib/wpfleet-agent"
	}
	return filepath.Join(home, ".local", "state", "wpfleet-agent")
}

// DefaultAgentConfig returns an agent config with all defaults applied.
// MasterURL and APIKey stay empty until 'wpfleet-agent join' fills them.
func DefaultAgentConfig() *AgentConfig {
	cfg := &AgentConfig{}
	ApplyAgentDefaults(cfg)
	return cfg
}
