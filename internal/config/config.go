// Package config handles loading and validating taskwire configuration.
// Supports JSON/YAML config files and TASKWIRE_* environment overrides.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// DeviceEntry pre-declares an allow-listed device and its display name.
type DeviceEntry struct {
	ID   string `mapstructure:"id" json:"id"`
	Name string `mapstructure:"name" json:"name"`
}

// Config contains all runtime settings for the service.
type Config struct {
	BindAddr         string
	OperatorID       string
	MetricsNamespace string
	DatabaseURL      string

	ShutdownTimeout   time.Duration
	DialogIdleTimeout time.Duration

	// Devices, when non-empty, closes the fleet to the listed ids.
	Devices []DeviceEntry

	LogLevel         string
	LogFormat        string
	LogDir           string
	LogRetentionDays int
}

// Load reads the optional config file, applies environment overrides and
// defaults, and validates the result.
func Load(configFile string) (Config, error) {
	v := viper.New()
	v.SetDefault("bind_addr", ":8080")
	v.SetDefault("metrics_namespace", "taskwire")
	v.SetDefault("shutdown_timeout", "15s")
	// 0 preserves the park-forever dialogue behavior.
	v.SetDefault("dialog_idle_timeout", "0s")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("log_retention_days", 7)

	v.SetEnvPrefix("TASKWIRE")
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := Config{
		BindAddr:          v.GetString("bind_addr"),
		OperatorID:        v.GetString("operator_id"),
		MetricsNamespace:  v.GetString("metrics_namespace"),
		DatabaseURL:       v.GetString("database_url"),
		ShutdownTimeout:   v.GetDuration("shutdown_timeout"),
		DialogIdleTimeout: v.GetDuration("dialog_idle_timeout"),
		LogLevel:          v.GetString("log_level"),
		LogFormat:         v.GetString("log_format"),
		LogDir:            v.GetString("log_dir"),
		LogRetentionDays:  v.GetInt("log_retention_days"),
	}
	if err := v.UnmarshalKey("devices", &cfg.Devices); err != nil {
		return Config{}, fmt.Errorf("parse devices: %w", err)
	}

	if cfg.OperatorID == "" {
		return Config{}, fmt.Errorf("operator_id is required")
	}
	seen := make(map[string]struct{}, len(cfg.Devices))
	for _, d := range cfg.Devices {
		if d.ID == "" {
			return Config{}, fmt.Errorf("allow-listed device with empty id")
		}
		if _, dup := seen[d.ID]; dup {
			return Config{}, fmt.Errorf("duplicate allow-listed device id %q", d.ID)
		}
		seen[d.ID] = struct{}{}
	}

	return cfg, nil
}

// AllowedDevices maps allow-listed device ids to display names, or nil for
// open enrollment.
func (c Config) AllowedDevices() map[string]string {
	if len(c.Devices) == 0 {
		return nil
	}
	out := make(map[string]string, len(c.Devices))
	for _, d := range c.Devices {
		out[d.ID] = d.Name
	}
	return out
}
