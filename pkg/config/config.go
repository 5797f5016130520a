// Package config loads and persists the wpfleet master and agent
// configurations. Both read YAML from the XDG config directory, take
// WPFLEET_-prefixed environment overrides, and share the same decode
// hooks for byte sizes and durations.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/wpfleet/wpfleet/internal/bytesize"
	"github.com/wpfleet/wpfleet/pkg/master/api"
	"github.com/wpfleet/wpfleet/pkg/store"
)

// MasterConfig is the wpfleet master configuration.
//
// Configuration sources, highest precedence first:
//  1. CLI flags
//  2. Environment variables (WPFLEET_*)
//  3. Configuration file ($XDG_CONFIG_HOME/wpfleet/master.yaml)
//  4. Defaults
type MasterConfig struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry tracing and Pyroscope profiling
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Database configures the master store (SQLite or PostgreSQL)
	Database store.Config `mapstructure:"database" yaml:"database"`

	// Metrics contains the Prometheus metrics server configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// API contains the REST API server configuration
	API api.APIConfig `mapstructure:"api" yaml:"api"`

	// Seal holds the credential-seal secret used to encrypt storage
	// provider keys at rest. WPFLEET_SEAL_SECRET overrides.
	Seal SealConfig `mapstructure:"seal" yaml:"seal"`

	// Admin contains initial admin user configuration for bootstrap
	Admin AdminConfig `mapstructure:"admin" yaml:"admin"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format: text or json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure controls whether to use a non-TLS connection
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate is the trace sampling rate (0.0 to 1.0)
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	// Enabled controls whether continuous profiling is enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server URL
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes selects which profile types to collect
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
// When Enabled is false no metrics are collected.
type MetricsConfig struct {
	// Enabled controls whether metrics collection and the HTTP server run
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the metrics endpoint
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// SealConfig holds the credential-seal secret.
type SealConfig struct {
	// Secret is the seal passphrase (32+ characters). The
	// WPFLEET_SEAL_SECRET environment variable takes precedence, so
	// production deployments can keep it out of the config file.
	Secret string `mapstructure:"secret" yaml:"secret,omitempty"`
}

// EnvSealSecret overrides SealConfig.Secret when set.
const EnvSealSecret = "WPFLEET_SEAL_SECRET"

// GetSealSecret returns the effective seal secret.
func (c *SealConfig) GetSealSecret() string {
	if env := os.Getenv(EnvSealSecret); env != "" {
		return env
	}
	return c.Secret
}

// AdminConfig contains initial admin user configuration for bootstrap.
// Used by 'wpfleet start' to create the first super_admin when the
// users table is empty.
type AdminConfig struct {
	// Email is the admin user's email address
	Email string `mapstructure:"email" yaml:"email,omitempty"`

	// PasswordHash is the bcrypt hash of the admin password
	PasswordHash string `mapstructure:"password_hash" yaml:"password_hash,omitempty"`
}

// LoadMaster loads the master configuration from file, environment and
// defaults. An empty configPath uses the default location.
func LoadMaster(configPath string) (*MasterConfig, error) {
	v := newViper(configPath, "master")

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}
	if !found {
		return DefaultMasterConfig(), nil
	}

	var cfg MasterConfig
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyMasterDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// MustLoadMaster loads the master configuration with a friendly error
// when no config file exists yet.
func MustLoadMaster(configPath string) (*MasterConfig, error) {
	if configPath == "" {
		configPath = MasterConfigPath()
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("no configuration file found at %s\n\n"+
				"Initialize one first:\n"+
				"  wpfleet config init\n\n"+
				"Or point at an existing file:\n"+
				"  wpfleet <command> --config /path/to/master.yaml",
				configPath)
		}
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}
	return LoadMaster(configPath)
}

// SaveConfig writes a configuration struct as YAML with owner-only
// permissions. Config files can carry secrets (seal passphrase, node
// API key), hence 0600.
func SaveConfig(cfg any, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// newViper builds a viper instance for one of the config files
// (master or agent) with WPFLEET_ env overrides.
func newViper(configPath, name string) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("WPFLEET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(ConfigDir())
		v.SetConfigName(name)
		v.SetConfigType("yaml")
	}
	return v
}

// readConfigFile reads the configuration file if it exists. A missing
// file is not an error; the caller falls back to defaults.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

func validate(cfg any) error {
	return validator.New().Struct(cfg)
}

// configDecodeHooks combines the custom decode hooks: human-readable
// byte sizes and duration strings.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook converts strings and numbers to bytesize.ByteSize,
// so config files can say "1Gi", "500MB" or a plain byte count.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings like "30s" or "6h" to
// time.Duration. Raw integers are taken as nanoseconds.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// ConfigDir returns the wpfleet configuration directory:
// $XDG_CONFIG_HOME/wpfleet, falling back to ~/.config/wpfleet.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "wpfleet")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "wpfleet")
}

// MasterConfigPath returns the default master config file path.
func MasterConfigPath() string {
	return filepath.Join(ConfigDir(), "master.yaml")
}

// AgentConfigPath returns the default agent config file path.
func AgentConfigPath() string {
	return filepath.Join(ConfigDir(), "agent.yaml")
}
