// Package config loads runtime configuration from a YAML file and the
// PILLBOX_* environment, with sane defaults for a four-slot dispenser.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sweeney/pillbox-sensor/internal/core"
)

// Notifications holds the missed-dose evaluator settings.
type Notifications struct {
	Enabled      bool   `mapstructure:"enabled"`
	NightStart   string `mapstructure:"night_start"` // HH:MM, empty disables the quiet window
	NightEnd     string `mapstructure:"night_end"`
	GraceMinutes int    `mapstructure:"grace_minutes"`
}

// Config is the full runtime configuration.
type Config struct {
	HTTPAddr     string `mapstructure:"http_addr"`
	Broker       string `mapstructure:"broker"`
	MQTTEnabled  bool   `mapstructure:"mqtt_enabled"`
	DatabasePath string `mapstructure:"database_path"` // empty disables persistence
	LogLevel     string `mapstructure:"log_level"`

	PollInterval      time.Duration `mapstructure:"poll_interval"`
	FlickerThreshold  time.Duration `mapstructure:"flicker_threshold"`
	HistoryCap        int           `mapstructure:"history_cap"`
	RolloverInterval  time.Duration `mapstructure:"rollover_interval"`
	EvaluatorInterval time.Duration `mapstructure:"evaluator_interval"`

	Notifications Notifications     `mapstructure:"notifications"`
	Slots         []core.SlotConfig `mapstructure:"slots"`
}

// DefaultSlots is the standard four-compartment layout.
var DefaultSlots = []core.SlotConfig{
	{ID: 1, Label: "Morning", TargetTime: "08:00", Pin: 26},
	{ID: 2, Label: "Lunch", TargetTime: "13:00", Pin: 16},
	{ID: 3, Label: "Evening", TargetTime: "18:00", Pin: 20},
	{ID: 4, Label: "Bedtime", TargetTime: "22:00", Pin: 21},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("broker", "tcp://localhost:1883")
	v.SetDefault("mqtt_enabled", true)
	v.SetDefault("database_path", "pillbox.db")
	v.SetDefault("log_level", "info")

	v.SetDefault("poll_interval", 250*time.Millisecond)
	v.SetDefault("flicker_threshold", time.Second)
	v.SetDefault("history_cap", 500)
	v.SetDefault("rollover_interval", 30*time.Second)
	v.SetDefault("evaluator_interval", 60*time.Second)

	v.SetDefault("notifications.enabled", false)
	v.SetDefault("notifications.night_start", "22:00")
	v.SetDefault("notifications.night_end", "06:00")
	v.SetDefault("notifications.grace_minutes", 30)
}

// Load reads configuration from the given file (or the default search path
// when empty) plus PILLBOX_* environment overrides.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("pillbox")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/pillbox-sensor")
	}

	v.SetEnvPrefix("PILLBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// No file is fine; defaults and environment apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if len(cfg.Slots) == 0 {
		cfg.Slots = DefaultSlots
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if c.FlickerThreshold <= 0 {
		return fmt.Errorf("flicker_threshold must be positive")
	}
	if c.HistoryCap <= 0 {
		return fmt.Errorf("history_cap must be positive")
	}
	if c.Notifications.GraceMinutes < 0 {
		return fmt.Errorf("notifications.grace_minutes must not be negative")
	}

	seen := make(map[int]bool, len(c.Slots))
	for _, s := range c.Slots {
		if s.ID <= 0 {
			return fmt.Errorf("slot id %d: must be positive", s.ID)
		}
		if seen[s.ID] {
			return fmt.Errorf("slot id %d: duplicate", s.ID)
		}
		seen[s.ID] = true
		if _, err := time.Parse("15:04", s.TargetTime); err != nil {
			return fmt.Errorf("slot id %d: target_time %q must be HH:MM", s.ID, s.TargetTime)
		}
	}
	return nil
}
