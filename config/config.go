// Package config loads the yaml configuration shared by the daemon, the
// dashboard and the CLI
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/msteffen/machine-chronograph/pkg/chrono"
)

// Config holds the settings read from config.yaml
type Config struct {
	Address  string `yaml:"address"`
	DataDir  string `yaml:"data_dir"`
	Timezone string `yaml:"timezone"`

	WorkdayStartHour int `yaml:"workday_start_hour"`
	WorkdayEndHour   int `yaml:"workday_end_hour"`
	ShiftHours       int `yaml:"shift_hours"`

	TickSeconds            int `yaml:"tick_seconds"`
	TimelineRefreshSeconds int `yaml:"timeline_refresh_seconds"`
	MetricsRefreshSeconds  int `yaml:"metrics_refresh_seconds"`
	ReconnectDelaySeconds  int `yaml:"reconnect_delay_seconds"`
	MaxReconnectAttempts   int `yaml:"max_reconnect_attempts"`

	EventLimit int `yaml:"event_limit"`
}

// DefaultPath is where the CLI looks for a config file if --config isn't set
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".machine-chronograph", "config.yaml")
}

// DefaultConfig returns the configuration used when no file is present
func DefaultConfig() Config {
	dataDir := ".machine-chronograph"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".machine-chronograph")
	}
	return Config{
		Address:                "localhost:8000",
		DataDir:                dataDir,
		Timezone:               "Local",
		WorkdayStartHour:       7,
		WorkdayEndHour:         17,
		ShiftHours:             8,
		TickSeconds:            1,
		TimelineRefreshSeconds: 10,
		MetricsRefreshSeconds:  60,
		ReconnectDelaySeconds:  5,
		MaxReconnectAttempts:   5,
		EventLimit:             1000,
	}
}

// Load reads configuration from the yaml file at 'path'. An empty path or a
// missing file yields the defaults; unset keys keep their default values.
func Load(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that the work day and all intervals make sense
func (c *Config) Validate() error {
	if c.Address == "" {
		return errors.New("address is required")
	}
	if c.WorkdayStartHour < 0 || c.WorkdayEndHour > 24 {
		return fmt.Errorf("workday hours must be within [0, 24], but were [%d, %d]",
			c.WorkdayStartHour, c.WorkdayEndHour)
	}
	if c.WorkdayEndHour <= c.WorkdayStartHour {
		return fmt.Errorf("workday_end_hour (%d) must be after workday_start_hour (%d)",
			c.WorkdayEndHour, c.WorkdayStartHour)
	}
	for name, v := range map[string]int{
		"shift_hours":              c.ShiftHours,
		"tick_seconds":             c.TickSeconds,
		"timeline_refresh_seconds": c.TimelineRefreshSeconds,
		"metrics_refresh_seconds":  c.MetricsRefreshSeconds,
		"reconnect_delay_seconds":  c.ReconnectDelaySeconds,
		"max_reconnect_attempts":   c.MaxReconnectAttempts,
		"event_limit":              c.EventLimit,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, but was %d", name, v)
		}
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location returns the configured time zone
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Workday returns the configured shift boundaries
func (c *Config) Workday() chrono.Workday {
	loc, err := c.Location()
	if err != nil {
		loc = time.Local
	}
	return chrono.Workday{
		StartHour: c.WorkdayStartHour,
		EndHour:   c.WorkdayEndHour,
		Location:  loc,
	}
}

// Shift is the length of a nominal work shift, used as the daily efficiency
// baseline
func (c *Config) Shift() time.Duration {
	return time.Duration(c.ShiftHours) * time.Hour
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// Tick is the live-update interval
func (c *Config) Tick() time.Duration { return seconds(c.TickSeconds) }

// TimelineRefresh is the timeline refetch interval
func (c *Config) TimelineRefresh() time.Duration { return seconds(c.TimelineRefreshSeconds) }

// MetricsRefresh is the metrics refetch interval
func (c *Config) MetricsRefresh() time.Duration { return seconds(c.MetricsRefreshSeconds) }

// ReconnectDelay is the pause between push channel reconnect attempts
func (c *Config) ReconnectDelay() time.Duration { return seconds(c.ReconnectDelaySeconds) }

// DBPath is the sqlite database used by the daemon
func (c *Config) DBPath() string { return filepath.Join(c.DataDir, "db") }

// StatePath is the bbolt database holding the dashboard's active state
func (c *Config) StatePath() string { return filepath.Join(c.DataDir, "dashboard.db") }

// LockPath is the lock file held by a running daemon
func (c *Config) LockPath() string { return filepath.Join(c.DataDir, "machined.lock") }
