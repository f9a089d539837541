package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete FTPVita server configuration.
//
// This structure captures all configurable aspects of the server:
//   - Logging configuration
//   - Server-wide settings (control port, transfer tuning, listing identity)
//   - Metrics endpoint configuration
//   - Mount definitions exported to clients
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (FTPVITA_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
//
// Mount Configuration Pattern:
// Each mount backend defines its own options decoded from the matching
// type-specific section. Only the section matching the selected type is used.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Server contains server-wide settings
	Server ServerConfig `mapstructure:"server"`

	// Metrics configures the optional Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Mounts defines the list of volumes exported to clients
	Mounts []MountConfig `mapstructure:"mounts" validate:"dive"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
}

// ServerConfig contains server-wide settings.
type ServerConfig struct {
	// Port is the control connection listen port
	Port int `mapstructure:"port" validate:"required,gt=0,lte=65535"`

	// AdvertisedIP overrides the IPv4 address placed in PASV replies.
	// When empty the server picks the outbound interface address.
	AdvertisedIP string `mapstructure:"advertised_ip" validate:"omitempty,ipv4"`

	// ResponseDelay is an artificial pause before each command reply
	ResponseDelay time.Duration `mapstructure:"response_delay"`

	// TransferBufferSize is the chunk size for data channel streaming
	TransferBufferSize int `mapstructure:"transfer_buffer_size" validate:"omitempty,gt=0"`

	// BandwidthLimit caps data channel throughput in bytes per second.
	// Zero disables limiting.
	BandwidthLimit int `mapstructure:"bandwidth_limit" validate:"gte=0"`

	// OwnerName and GroupName appear in directory listing lines
	OwnerName string `mapstructure:"owner_name"`
	GroupName string `mapstructure:"group_name"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	// Enabled turns the metrics endpoint on
	Enabled bool `mapstructure:"enabled"`

	// Port is the HTTP listen port for /metrics
	Port int `mapstructure:"port" validate:"omitempty,gt=0,lte=65535"`
}

// MountConfig specifies a single exported volume.
//
// The Type field determines which backend is used. Only the corresponding
// type-specific section is decoded.
type MountConfig struct {
	// Name is the volume name clients see at the root listing.
	// Names are normalized to end with ':' (e.g. "ux0:").
	Name string `mapstructure:"name" validate:"required"`

	// Type specifies which backend implementation to use
	// Valid values: local, memory, badger, s3
	Type string `mapstructure:"type" validate:"required,oneof=local memory badger s3"`

	// Local contains local-filesystem options
	// Only used when Type = "local"
	Local map[string]any `mapstructure:"local"`

	// Badger contains BadgerDB backend options
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger"`

	// S3 contains S3 backend options
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3"`
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns the loaded and validated configuration.
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
	// Environment variables use the FTPVITA_ prefix and underscores
	// Example: FTPVITA_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("FTPVITA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Missing config file is fine, defaults apply
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
		return filepath.Join(xdgConfig, "ftpvita")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "ftpvita")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
