package config

import (
	"strings"
	"time"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and
// environment variables to fill in any missing values with sensible
// defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Backend-specific defaults are handled by backend implementations
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyStorageDefaults(&cfg.Storage)
	applyDownloadsDefaults(&cfg.Downloads)
	applyQuotaDefaults(&cfg.Quota, &cfg.Storage)
	applyEvictionDefaults(&cfg.Eviction)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)
}

// applyServerDefaults sets server defaults.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.MetricsListen == "" {
		cfg.MetricsListen = ":9090"
	}
}

// applyStorageDefaults sets storage tier defaults.
//
// The default configuration uses two filesystem backends so a freshly
// installed binary runs without any external services. Production
// deployments set storage.remote.type to s3.
func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Local.Type == "" {
		cfg.Local.Type = "filesystem"
	}
	if cfg.Local.Filesystem == nil {
		cfg.Local.Filesystem = make(map[string]any)
	}
	if _, ok := cfg.Local.Filesystem["path"]; !ok {
		cfg.Local.Filesystem["path"] = "/tmp/mediastore/local"
	}

	if cfg.Remote.Type == "" {
		cfg.Remote.Type = "filesystem"
	}
	if cfg.Remote.Filesystem == nil {
		cfg.Remote.Filesystem = make(map[string]any)
	}
	if _, ok := cfg.Remote.Filesystem["path"]; !ok {
		cfg.Remote.Filesystem["path"] = "/tmp/mediastore/remote"
	}

	if cfg.Replication.Retries == 0 {
		cfg.Replication.Retries = 3
	}
	if cfg.Replication.BaseDelay == 0 {
		cfg.Replication.BaseDelay = 100 * time.Millisecond
	}
}

// applyDownloadsDefaults sets download registry defaults.
func applyDownloadsDefaults(cfg *DownloadsConfig) {
	if cfg.Store.Type == "" {
		cfg.Store.Type = "badger"
	}
	if cfg.Store.Badger == nil {
		cfg.Store.Badger = make(map[string]any)
	}
	if _, ok := cfg.Store.Badger["db_path"]; !ok {
		cfg.Store.Badger["db_path"] = "/tmp/mediastore/downloads"
	}
}

// applyQuotaDefaults sets quota defaults.
func applyQuotaDefaults(cfg *QuotaConfig, storage *StorageConfig) {
	// LimitBytes defaults to 0 (unlimited)

	if cfg.HighWaterPercent == 0 {
		cfg.HighWaterPercent = 90
	}

	// Probe the device holding the local tier unless told otherwise
	if cfg.ProbePath == "" {
		if path, ok := storage.Local.Filesystem["path"].(string); ok {
			cfg.ProbePath = path
		}
	}
}

// applyEvictionDefaults sets eviction loop defaults.
func applyEvictionDefaults(cfg *EvictionConfig) {
	if cfg.Interval == 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.LowWaterPercent == 0 {
		cfg.LowWaterPercent = 75
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{}

	ApplyDefaults(cfg)
	return cfg
}
