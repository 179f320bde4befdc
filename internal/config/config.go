// Package config loads fbroker's ambient settings via viper: a YAML
// file plus FBROKER_-prefixed environment overrides. The brokerage
// discovery settings themselves (coordinator address, brokerage
// roots, static worker list) are resolved separately and directly
// from FASTBUILD_*-prefixed environment variables and CLI flags, per
// the original tool's convention of not routing those through a
// config file at all.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds fbroker's ambient (non-discovery) configuration.
type Config struct {
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Worker      WorkerConfig      `mapstructure:"worker"`
	Dashboard   DashboardConfig   `mapstructure:"dashboard"`
	Log         LogConfig         `mapstructure:"log"`
}

// CoordinatorConfig holds coordinator process settings.
type CoordinatorConfig struct {
	Port             int           `mapstructure:"port"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`
}

// WorkerConfig holds worker (brokerage server) process settings.
type WorkerConfig struct {
	PreferHostname bool          `mapstructure:"prefer_hostname"`
	HeartbeatSec   int           `mapstructure:"heartbeat_sec"`
	InfoInterval   time.Duration `mapstructure:"info_interval"`
}

// DashboardConfig holds the optional live status dashboard's settings.
type DashboardConfig struct {
	Enable bool `mapstructure:"enable"`
	Port   int  `mapstructure:"port"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// DefaultConfig returns fbroker's default ambient configuration.
func DefaultConfig() *Config {
	return &Config{
		Coordinator: CoordinatorConfig{
			Port:             31264,
			SweepInterval:    10 * time.Second,
			HeartbeatTimeout: 30 * time.Second,
		},
		Worker: WorkerConfig{
			PreferHostname: false,
			HeartbeatSec:   10,
			InfoInterval:   5 * time.Minute,
		},
		Dashboard: DashboardConfig{
			Enable: false,
			Port:   31265,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads configuration from configPath (or the default search
// path if empty), then FBROKER_-prefixed environment variables, over
// top of DefaultConfig.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, cfg)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("fbroker")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/fbroker")
		v.AddConfigPath("/etc/fbroker")
	}

	v.SetEnvPrefix("FBROKER")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("coordinator.port", cfg.Coordinator.Port)
	v.SetDefault("coordinator.sweep_interval", cfg.Coordinator.SweepInterval)
	v.SetDefault("coordinator.heartbeat_timeout", cfg.Coordinator.HeartbeatTimeout)

	v.SetDefault("worker.prefer_hostname", cfg.Worker.PreferHostname)
	v.SetDefault("worker.heartbeat_sec", cfg.Worker.HeartbeatSec)
	v.SetDefault("worker.info_interval", cfg.Worker.InfoInterval)

	v.SetDefault("dashboard.enable", cfg.Dashboard.Enable)
	v.SetDefault("dashboard.port", cfg.Dashboard.Port)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
}

// WriteExample writes an example config file documenting every
// ambient setting. Discovery settings (FASTBUILD_COORDINATOR,
// FASTBUILD_BROKERAGE_PATH, FASTBUILD_WORKERS) are environment-only
// by design and are called out here rather than templated, since a
// config file value would silently compete with the CLI flag and env
// var precedence the original tool relies on.
func WriteExample(path string) error {
	example := `# fbroker configuration
#
# Discovery (which coordinator/brokerage root/static list to use) is
# NOT configured here. Set one of:
#   FASTBUILD_COORDINATOR=host:port
#   FASTBUILD_BROKERAGE_PATH=/mnt/brokerage;/mnt/fallback-brokerage
#   FASTBUILD_WORKERS=10.0.0.5;10.0.0.6   (client only, bypasses discovery)

coordinator:
  port: 31264
  sweep_interval: 10s
  heartbeat_timeout: 30s

worker:
  prefer_hostname: false
  heartbeat_sec: 10
  info_interval: 5m

dashboard:
  enable: false
  port: 31265

log:
  level: info      # debug, info, warn, error
  format: console  # console, json
  # file: /var/log/fbroker.log
`
	return os.WriteFile(path, []byte(example), 0644)
}
