package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete mediastore configuration.
//
// This structure captures all configurable aspects of the storage subsystem:
//   - Logging configuration
//   - Server-wide settings
//   - Storage tier selection and configuration (backend-specific)
//   - Download registry persistence
//   - Quota limits and eviction thresholds
//
// Configuration sources (in order of precedence):
//  1. Environment variables (MEDIASTORE_*)
//  2. Configuration file (YAML)
//  3. Default values (lowest priority)
//
// Backend Configuration Pattern:
// Each backend implementation defines its own option schema. The Config
// struct contains type-specific sections (e.g., storage.local.filesystem,
// storage.remote.s3) and only the section matching the selected type is
// used.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Server contains server-wide settings
	Server ServerConfig `mapstructure:"server"`

	// Storage configures the two tiers and the replication queue
	Storage StorageConfig `mapstructure:"storage"`

	// Downloads configures the download registry
	Downloads DownloadsConfig `mapstructure:"downloads"`

	// Quota configures the storage limit
	Quota QuotaConfig `mapstructure:"quota"`

	// Eviction configures the background eviction loop
	Eviction EvictionConfig `mapstructure:"eviction"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
}

// ServerConfig contains server-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown,
	// including the replication queue drain
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`

	// MetricsEnabled turns on the Prometheus registry
	MetricsEnabled bool `mapstructure:"metrics_enabled"`

	// MetricsListen is the address the /metrics endpoint listens on
	// when metrics are enabled
	MetricsListen string `mapstructure:"metrics_listen"`
}

// BackendConfig specifies one storage backend.
//
// The Type field determines which implementation is used.
// Only the corresponding type-specific configuration section is used.
type BackendConfig struct {
	// Type specifies which backend implementation to use
	// Valid values: filesystem, memory, s3
	Type string `mapstructure:"type" validate:"required,oneof=filesystem memory s3"`

	// Filesystem contains filesystem-specific configuration
	// Only used when Type = "filesystem"
	Filesystem map[string]any `mapstructure:"filesystem"`

	// Memory contains memory-specific configuration
	// Only used when Type = "memory"
	Memory map[string]any `mapstructure:"memory"`

	// S3 contains S3-specific configuration
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3"`
}

// StorageConfig configures the tiered storage gateway.
type StorageConfig struct {
	// Local is the fast tier, authoritative for fresh writes
	Local BackendConfig `mapstructure:"local"`

	// Remote is the durable tier, replication target and read fallback
	Remote BackendConfig `mapstructure:"remote"`

	// Replication tunes the local-to-remote copy queue
	Replication ReplicationConfig `mapstructure:"replication"`
}

// ReplicationConfig tunes the replication queue.
type ReplicationConfig struct {
	// Retries is the number of additional attempts after the first failed
	// remote write before a job is dropped
	Retries uint64 `mapstructure:"retries"`

	// BaseDelay is the initial backoff delay between attempts
	BaseDelay time.Duration `mapstructure:"base_delay" validate:"gte=0"`
}

// DownloadsConfig configures the download registry.
type DownloadsConfig struct {
	// Store specifies how download records are persisted
	Store DownloadStoreConfig `mapstructure:"store"`
}

// DownloadStoreConfig specifies the download record store.
type DownloadStoreConfig struct {
	// Type specifies which store implementation to use
	// Valid values: badger, memory
	Type string `mapstructure:"type" validate:"required,oneof=badger memory"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger"`

	// Memory contains memory-specific configuration
	// Only used when Type = "memory"
	Memory map[string]any `mapstructure:"memory"`
}

// QuotaConfig configures the storage quota.
type QuotaConfig struct {
	// LimitBytes is the cache storage limit. 0 means unlimited.
	LimitBytes int64 `mapstructure:"limit_bytes" validate:"gte=0"`

	// HighWaterPercent is the usage percentage above which eviction is
	// recommended
	HighWaterPercent float64 `mapstructure:"high_water_percent" validate:"gt=0,lte=100"`

	// ProbePath is the path whose device is measured for usage.
	// Defaults to the local tier's filesystem path.
	ProbePath string `mapstructure:"probe_path"`
}

// EvictionConfig configures the background eviction loop.
type EvictionConfig struct {
	// Enabled controls whether background eviction runs
	Enabled bool `mapstructure:"enabled"`

	// Interval is how often the quota is checked
	Interval time.Duration `mapstructure:"interval" validate:"gte=0"`

	// LowWaterPercent is the usage percentage eviction drives down to
	LowWaterPercent float64 `mapstructure:"low_water_percent" validate:"gt=0,lte=100"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (MEDIASTORE_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the MEDIASTORE_ prefix and underscores
	// Example: MEDIASTORE_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("MEDIASTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/mediastore/config.yaml
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		// A missing config file is acceptable - defaults apply
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "mediastore")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "mediastore")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
