package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/wpfleet/wpfleet/internal/bytesize"
)

// AgentConfig is the wpfleet-agent configuration. Written by
// 'wpfleet-agent join' (which fills in MasterURL and APIKey) and read
// by 'wpfleet-agent start'.
type AgentConfig struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// MasterURL is the master's base URL, e.g. "https://backup.example.com"
	MasterURL string `mapstructure:"master_url" validate:"required,url" yaml:"master_url"`

	// APIKey is the node credential obtained during enrollment.
	// WPFLEET_API_KEY overrides.
	APIKey string `mapstructure:"api_key" yaml:"api_key,omitempty"`

	// DataDir holds the agent's local state (badger database)
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`

	// TempRoot is the working directory for backup jobs
	TempRoot string `mapstructure:"temp_root" yaml:"temp_root"`

	// KeepOnFailure retains a job's temp directory after a fatal failure
	KeepOnFailure bool `mapstructure:"keep_on_failure" yaml:"keep_on_failure"`

	// HeartbeatInterval is the beacon reporting period
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`

	// Metrics exposes the agent's Prometheus collectors on a dedicated
	// port when enabled.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	Scanner   ScannerConfig   `mapstructure:"scanner"   yaml:"scanner"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	Governor  GovernorConfig  `mapstructure:"governor"  yaml:"governor"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"  yaml:"pipeline"`
}

// ScannerConfig controls site discovery.
type ScannerConfig struct {
	// BasePaths are the web roots scanned for WordPress installations
	BasePaths []string `mapstructure:"base_paths" yaml:"base_paths"`

	// Interval is the periodic full-rescan period. Filesystem events on
	// the base paths trigger an immediate rescan regardless.
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

// SchedulerConfig controls the backup scheduler.
type SchedulerConfig struct {
	// MaxConcurrentBackups caps simultaneously running jobs on this node
	MaxConcurrentBackups int `mapstructure:"max_concurrent_backups" validate:"omitempty,min=1" yaml:"max_concurrent_backups"`

	// Tick is the schedule evaluation period
	Tick time.Duration `mapstructure:"tick" yaml:"tick"`
}

// GovernorConfig bounds the resources a backup job may consume.
type GovernorConfig struct {
	// IOPermits is the number of concurrent disk-heavy operations
	IOPermits int `mapstructure:"io_permits" validate:"omitempty,min=1" yaml:"io_permits"`

	// NetPermits is the number of concurrent uploads
	NetPermits int `mapstructure:"net_permits" validate:"omitempty,min=1" yaml:"net_permits"`

	// CPUWorkers caps compression threads; zero means min(cores, 4)
	CPUWorkers int `mapstructure:"cpu_workers" yaml:"cpu_workers"`

	// BandwidthLimit is the upload rate cap in bytes/second; zero means
	// unlimited. The master's tiered setting overrides when present.
	BandwidthLimit bytesize.ByteSize `mapstructure:"bandwidth_limit" yaml:"bandwidth_limit,omitempty"`
}

// PipelineConfig controls the backup pipeline stages.
type PipelineConfig struct {
	// DumpTimeout bounds the mysqldump stage
	DumpTimeout time.Duration `mapstructure:"dump_timeout" yaml:"dump_timeout"`

	// UploadTimeout bounds the upload stage
	UploadTimeout time.Duration `mapstructure:"upload_timeout" yaml:"upload_timeout"`

	// ZstdLevel is the compression level passed to zstd
	ZstdLevel int `mapstructure:"zstd_level" validate:"omitempty,min=1,max=19" yaml:"zstd_level"`

	// PartSize is the multipart upload part size
	PartSize bytesize.ByteSize `mapstructure:"part_size" yaml:"part_size"`

	// StaleGrace is how old an orphaned temp directory must be before
	// the startup sweep removes it
	StaleGrace time.Duration `mapstructure:"stale_grace" yaml:"stale_grace"`
}

// LoadAgent loads the agent configuration from file, environment and
// defaults. An empty configPath uses the default location.
func LoadAgent(configPath string) (*AgentConfig, error) {
	v := newViper(configPath, "agent")

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}
	if !found {
		return DefaultAgentConfig(), nil
	}

	var cfg AgentConfig
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyAgentDefaults(&cfg)

	if cfg.MasterURL == "" {
		// A default config is only useful before 'join'; commands that
		// need the master catch this themselves.
		return &cfg, nil
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}
