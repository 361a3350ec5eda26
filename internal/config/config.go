package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Entity categories shared by the information/controle flag matrices, the
// publisher and the command router.
const (
	CategoryZones    = "zones"
	CategorySecteurs = "secteurs"
	CategoryDoors    = "doors"
	CategoryOutputs  = "outputs"
)

// Categories lists every gated category in publication order.
var Categories = []string{CategoryZones, CategorySecteurs, CategoryDoors, CategoryOutputs}

// Config is the root configuration, immutable after Load.
type Config struct {
	SPC      SPCConfig      `mapstructure:"spc"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	Watchdog WatchdogConfig `mapstructure:"watchdog"`
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
}

// SPCConfig describes how to reach and authenticate against the panel.
type SPCConfig struct {
	Host                string `mapstructure:"host"`
	User                string `mapstructure:"user"`
	Pin                 string `mapstructure:"pin"`
	Language            int    `mapstructure:"language"`
	SessionCacheDir     string `mapstructure:"session_cache_dir"`
	MinLoginIntervalSec int    `mapstructure:"min_login_interval_sec"`
}

// MinLoginInterval returns the re-login rate limit as a duration.
func (c SPCConfig) MinLoginInterval() time.Duration {
	return time.Duration(c.MinLoginIntervalSec) * time.Second
}

// MQTTConfig describes the broker connection and publication defaults.
type MQTTConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	User      string `mapstructure:"user"`
	Pass      string `mapstructure:"pass"`
	BaseTopic string `mapstructure:"base_topic"`
	ClientID  string `mapstructure:"client_id"`
	QoS       int    `mapstructure:"qos"`
	Retain    bool   `mapstructure:"retain"`
}

// CategoryFlags is one row of the feature-flag matrix.
type CategoryFlags struct {
	Zones    bool `mapstructure:"zones"`
	Secteurs bool `mapstructure:"secteurs"`
	Doors    bool `mapstructure:"doors"`
	Outputs  bool `mapstructure:"outputs"`
}

// Enabled reports whether the given category is switched on.
func (f CategoryFlags) Enabled(category string) bool {
	switch category {
	case CategoryZones:
		return f.Zones
	case CategorySecteurs:
		return f.Secteurs
	case CategoryDoors:
		return f.Doors
	case CategoryOutputs:
		return f.Outputs
	}
	return false
}

// WatchdogConfig tunes the two scan loops and the flag matrices.
type WatchdogConfig struct {
	RefreshInterval           float64       `mapstructure:"refresh_interval"`
	ControllerRefreshInterval float64       `mapstructure:"controller_refresh_interval"`
	LogChanges                bool          `mapstructure:"log_changes"`
	Information               CategoryFlags `mapstructure:"information"`
	Controle                  CategoryFlags `mapstructure:"controle"`
}

// Refresh returns the fast-scan interval.
func (c WatchdogConfig) Refresh() time.Duration {
	return time.Duration(c.RefreshInterval * float64(time.Second))
}

// ControllerRefresh returns the controller-scan interval.
func (c WatchdogConfig) ControllerRefresh() time.Duration {
	return time.Duration(c.ControllerRefreshInterval * float64(time.Second))
}

// ServerConfig configures the optional debug/status HTTP listener.
// An empty port disables it.
type ServerConfig struct {
	Port string `mapstructure:"port"`
}

// LogConfig selects the log level.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

const minRefreshInterval = 0.2

func setDefaults(v *viper.Viper) {
	v.SetDefault("spc.language", 253)
	v.SetDefault("spc.session_cache_dir", "/var/lib/spc2mqtt")
	v.SetDefault("spc.min_login_interval_sec", 60)

	v.SetDefault("mqtt.host", "127.0.0.1")
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.base_topic", "spc")
	v.SetDefault("mqtt.client_id", "spc42-watchdog")
	v.SetDefault("mqtt.qos", 0)
	v.SetDefault("mqtt.retain", true)

	v.SetDefault("watchdog.refresh_interval", 2)
	v.SetDefault("watchdog.controller_refresh_interval", 60)
	v.SetDefault("watchdog.log_changes", true)
	v.SetDefault("watchdog.information.zones", true)
	v.SetDefault("watchdog.information.secteurs", true)
	v.SetDefault("watchdog.information.doors", false)
	v.SetDefault("watchdog.information.outputs", false)
	v.SetDefault("watchdog.controle.zones", false)
	v.SetDefault("watchdog.controle.secteurs", false)
	v.SetDefault("watchdog.controle.doors", false)
	v.SetDefault("watchdog.controle.outputs", false)

	v.SetDefault("log.level", "info")
}

// Load reads and validates the YAML configuration at path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.SPC.Host = strings.TrimRight(strings.TrimSpace(cfg.SPC.Host), "/")
	cfg.MQTT.BaseTopic = strings.Trim(strings.TrimSpace(cfg.MQTT.BaseTopic), "/")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.SPC.Host == "" {
		return fmt.Errorf("spc.host is required")
	}
	if !strings.HasPrefix(c.SPC.Host, "http://") && !strings.HasPrefix(c.SPC.Host, "https://") {
		return fmt.Errorf("spc.host must start with http:// or https://")
	}
	if c.SPC.SessionCacheDir == "" {
		return fmt.Errorf("spc.session_cache_dir is required")
	}
	if c.SPC.MinLoginIntervalSec < 0 {
		return fmt.Errorf("spc.min_login_interval_sec must not be negative")
	}
	if c.MQTT.BaseTopic == "" {
		return fmt.Errorf("mqtt.base_topic is required")
	}
	if c.MQTT.Port <= 0 || c.MQTT.Port > 65535 {
		return fmt.Errorf("mqtt.port %d is out of range", c.MQTT.Port)
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	if c.Watchdog.RefreshInterval < minRefreshInterval {
		return fmt.Errorf("watchdog.refresh_interval must be at least %.1fs", minRefreshInterval)
	}
	if c.Watchdog.ControllerRefreshInterval <= 0 {
		return fmt.Errorf("watchdog.controller_refresh_interval must be positive")
	}
	return nil
}
