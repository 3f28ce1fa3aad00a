package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/phalaflow/orchestrator/pkg/datastore"
)

// apiKeyEnvVars are the environment variables that may hold the Phala Cloud
// API key, checked in priority order; the first non-empty one wins.
var apiKeyEnvVars = []string{"PHALA_API_KEY", "METAFLOW_PHALA_API_KEY"}

// ConfigurationError reports a configuration problem detected before any
// remote call is attempted.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// Config holds all application configuration
type Config struct {
	// Workload defaults
	Image   string `mapstructure:"image"`
	CPU     int    `mapstructure:"cpu"`
	Memory  int    `mapstructure:"memory"`
	Disk    int    `mapstructure:"disk"`
	Timeout int    `mapstructure:"timeout"`

	// Datastore (code packages and artifacts)
	DatastoreSysroot string `mapstructure:"datastore-sysroot"`
	DatastoreRegion  string `mapstructure:"datastore-region"`

	// Control API
	APIBase string `mapstructure:"api-base"`

	// Local record keeping
	SQLitePath string `mapstructure:"sqlite-path"`
	FSMDBPath  string `mapstructure:"fsm-db-path"`

	// APIKey is resolved from the environment, never from flags or files,
	// so the credential cannot end up in a config file by accident.
	APIKey string
}

// Load reads configuration from environment, config file, and defaults
func Load() (*Config, error) {
	// Set defaults
	viper.SetDefault("image", "python:3.11-slim")
	viper.SetDefault("cpu", 2)
	viper.SetDefault("memory", 2048)
	viper.SetDefault("disk", 20)
	viper.SetDefault("timeout", 3600)
	viper.SetDefault("datastore-sysroot", "")
	viper.SetDefault("datastore-region", "us-east-1")
	viper.SetDefault("api-base", "https://cloud-api.phala.network/api/v1")
	viper.SetDefault("sqlite-path", ".artifacts/launches.db")
	viper.SetDefault("fsm-db-path", ".artifacts/fsm.db")

	// Environment variables (METAFLOW_PHALA_IMAGE, METAFLOW_PHALA_CPU, ...)
	viper.SetEnvPrefix("METAFLOW_PHALA")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Config file (optional)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.phalaflow")

	// Read config file (ignore if not found)
	_ = viper.ReadInConfig()

	// Unmarshal into config struct
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.APIKey = resolveAPIKey()

	return &cfg, nil
}

func resolveAPIKey() string {
	for _, name := range apiKeyEnvVars {
		if val := os.Getenv(name); val != "" {
			return val
		}
	}
	return ""
}

// Validate checks configuration for errors. Failures surface here, before
// any CVM is provisioned or any upload happens.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return &ConfigurationError{
			Reason: fmt.Sprintf("a Phala Cloud API key is required; set one of: %s",
				strings.Join(apiKeyEnvVars, ", ")),
		}
	}
	if c.DatastoreSysroot == "" {
		return &ConfigurationError{
			Reason: "datastore-sysroot is required (artifacts must persist beyond the CVM)",
		}
	}
	if !strings.HasPrefix(c.DatastoreSysroot, "s3://") {
		return &ConfigurationError{
			Reason: fmt.Sprintf("a remote datastore is required, got %q; only s3:// sysroots are supported", c.DatastoreSysroot),
		}
	}
	if _, _, err := datastore.ParseSysroot(c.DatastoreSysroot); err != nil {
		return &ConfigurationError{Reason: err.Error()}
	}
	if c.Image == "" {
		return &ConfigurationError{Reason: "image cannot be empty"}
	}
	if c.CPU < 1 {
		return &ConfigurationError{Reason: "cpu must be at least 1"}
	}
	if c.Memory < 1 {
		return &ConfigurationError{Reason: "memory must be at least 1 MB"}
	}
	if c.Disk < 1 {
		return &ConfigurationError{Reason: "disk must be at least 1 GB"}
	}
	if c.Timeout < 1 {
		return &ConfigurationError{Reason: "timeout must be at least 1 second"}
	}
	if c.SQLitePath == "" {
		return &ConfigurationError{Reason: "sqlite-path cannot be empty"}
	}
	if c.FSMDBPath == "" {
		return &ConfigurationError{Reason: "fsm-db-path cannot be empty"}
	}
	return nil
}
