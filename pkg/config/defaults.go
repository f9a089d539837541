package config

import (
	"strings"
	"time"
)

// Command port and transfer tuning defaults match what existing clients
// already expect.
const (
	DefaultPort               = 1337
	DefaultTransferBufferSize = 4 * 1024 * 1024
	DefaultResponseDelay      = time.Millisecond
	DefaultOwnerName          = "vita"
	DefaultGroupName          = "vita"
	DefaultMetricsPort        = 9090
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Called after loading configuration from file and environment variables to
// fill in any missing values. Zero values are replaced, explicit values are
// preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyMetricsDefaults(&cfg.Metrics)

	// Add a default mount if none configured so a bare `ftpvita` is usable
	if len(cfg.Mounts) == 0 {
		cfg.Mounts = []MountConfig{
			{
				Name: "ux0:",
				Type: "local",
				Local: map[string]any{
					"path": "/tmp/ftpvita/ux0",
				},
			},
		}
	}

	applyMountDefaults(cfg.Mounts)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)
}

// applyServerDefaults sets server defaults.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.ResponseDelay == 0 {
		cfg.ResponseDelay = DefaultResponseDelay
	}
	if cfg.TransferBufferSize == 0 {
		cfg.TransferBufferSize = DefaultTransferBufferSize
	}
	if cfg.OwnerName == "" {
		cfg.OwnerName = DefaultOwnerName
	}
	if cfg.GroupName == "" {
		cfg.GroupName = DefaultGroupName
	}
}

// applyMetricsDefaults sets metrics defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = DefaultMetricsPort
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// applyMountDefaults normalizes per-mount settings.
func applyMountDefaults(mounts []MountConfig) {
	for i := range mounts {
		if mounts[i].Local == nil {
			mounts[i].Local = make(map[string]any)
		}
		if mounts[i].Badger == nil {
			mounts[i].Badger = make(map[string]any)
		}
		if mounts[i].S3 == nil {
			mounts[i].S3 = make(map[string]any)
		}
	}
}
