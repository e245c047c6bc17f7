package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"taskcycle/internal/task"
)

const configName = "taskcycle/config.yaml"

// Config represents the application configuration
type Config struct {
	Directories  []DirectoryConfig  `yaml:"directories"`
	Storage      StorageConfig      `yaml:"storage"`
	Notification NotificationConfig `yaml:"notification"`
	Alerts       AlertsConfig       `yaml:"alerts"`
	Rollover     RolloverConfig     `yaml:"rollover"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// DirectoryConfig represents a directory of .ics files imported as tasks
type DirectoryConfig struct {
	Directory       string        `yaml:"directory"`
	Template        string        `yaml:"template"`
	Project         string        `yaml:"project,omitempty"`
	RecurringMode   string        `yaml:"recurring_mode,omitempty"`
	AutomaticAlerts []AlertConfig `yaml:"automatic_alerts"`
}

// AlertConfig represents an alert timing configuration
type AlertConfig struct {
	Value int    `yaml:"value"`
	Unit  string `yaml:"unit"`
}

// StorageConfig selects where tasks are kept
type StorageConfig struct {
	Driver      string `yaml:"driver"`
	Path        string `yaml:"path,omitempty"`
	BusyTimeout int    `yaml:"busy_timeout_ms,omitempty"`
}

// NotificationConfig represents notification system configuration
type NotificationConfig struct {
	Backend       string `yaml:"backend"`
	Duration      int    `yaml:"duration"`
	RatePerMinute int    `yaml:"rate_per_minute"`
}

// AlertsConfig controls how often due tasks are checked
type AlertsConfig struct {
	Schedule string `yaml:"schedule"`
}

// RolloverConfig bounds the auto-rollover search
type RolloverConfig struct {
	MaxYears int `yaml:"max_years"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file,omitempty"`
}

// Duration converts AlertConfig to time.Duration
func (a AlertConfig) Duration() (time.Duration, error) {
	switch a.Unit {
	case "seconds", "second", "s":
		return time.Duration(a.Value) * time.Second, nil
	case "minutes", "minute", "m":
		return time.Duration(a.Value) * time.Minute, nil
	case "hours", "hour", "h":
		return time.Duration(a.Value) * time.Hour, nil
	case "days", "day", "d":
		return time.Duration(a.Value) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unsupported time unit: %s", a.Unit)
	}
}

// Offsets converts the automatic alerts of a directory to durations
func (d DirectoryConfig) Offsets() ([]time.Duration, error) {
	offsets := make([]time.Duration, 0, len(d.AutomaticAlerts))
	for _, alert := range d.AutomaticAlerts {
		offset, err := alert.Duration()
		if err != nil {
			return nil, err
		}
		offsets = append(offsets, offset)
	}
	return offsets, nil
}

// expandPath expands ~ and environment variables in paths
func expandPath(path string) (string, error) {
	expanded := os.ExpandEnv(path)
	if len(expanded) > 0 && expanded[0] == '~' {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		expanded = filepath.Join(homeDir, expanded[1:])
	}
	return expanded, nil
}

// ExpandPath expands ~ and environment variables in the directory path
func (d *DirectoryConfig) ExpandPath() error {
	expanded, err := expandPath(d.Directory)
	if err != nil {
		return err
	}
	d.Directory = expanded
	return nil
}

// matches the parser used by the alert manager
var scheduleParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks the configuration and fills in defaults
func (c *Config) Validate() error {
	for i, dir := range c.Directories {
		if dir.Directory == "" {
			return fmt.Errorf("directory %d: directory path cannot be empty", i)
		}
		if err := c.Directories[i].ExpandPath(); err != nil {
			return fmt.Errorf("directory %d: %w", i, err)
		}
		if _, err := os.Stat(c.Directories[i].Directory); os.IsNotExist(err) {
			return fmt.Errorf("directory %d: directory does not exist: %s", i, c.Directories[i].Directory)
		}
		if _, err := task.ParseMode(dir.RecurringMode); err != nil {
			return fmt.Errorf("directory %d: %w", i, err)
		}
		for j, alert := range dir.AutomaticAlerts {
			if alert.Value <= 0 {
				return fmt.Errorf("directory %d, alert %d: value must be positive", i, j)
			}
			if _, err := alert.Duration(); err != nil {
				return fmt.Errorf("directory %d, alert %d: %w", i, j, err)
			}
		}
	}

	switch c.Storage.Driver {
	case "":
		c.Storage.Driver = "sqlite"
	case "sqlite", "memory":
	default:
		return fmt.Errorf("unsupported storage driver: %s", c.Storage.Driver)
	}
	if c.Storage.Path != "" {
		expanded, err := expandPath(c.Storage.Path)
		if err != nil {
			return fmt.Errorf("storage path: %w", err)
		}
		c.Storage.Path = expanded
	}
	if c.Storage.BusyTimeout < 0 {
		return fmt.Errorf("storage busy timeout cannot be negative")
	}

	switch c.Notification.Backend {
	case "":
		c.Notification.Backend = "notify-send"
	case "notify-send", "dbus":
	default:
		return fmt.Errorf("unsupported notification backend: %s", c.Notification.Backend)
	}
	if c.Notification.Duration <= 0 {
		c.Notification.Duration = 5000
	}
	if c.Notification.RatePerMinute <= 0 {
		c.Notification.RatePerMinute = 30
	}

	if c.Alerts.Schedule == "" {
		c.Alerts.Schedule = "@every 1m"
	}
	if _, err := scheduleParser.Parse(c.Alerts.Schedule); err != nil {
		return fmt.Errorf("invalid alert schedule %q: %w", c.Alerts.Schedule, err)
	}

	if c.Rollover.MaxYears <= 0 {
		c.Rollover.MaxYears = task.DefaultRolloverYears
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s", c.Logging.Level)
	}
	if c.Logging.File != "" {
		expanded, err := expandPath(c.Logging.File)
		if err != nil {
			return fmt.Errorf("log file: %w", err)
		}
		c.Logging.File = expanded
	}

	return nil
}

// Load loads configuration from XDG-compliant locations
func Load() (*Config, error) {
	configPath, err := xdg.SearchConfigFile(configName)
	if err != nil {
		configPath, err = xdg.ConfigFile(configName)
		if err != nil {
			return nil, fmt.Errorf("failed to determine config file path: %w", err)
		}
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found at %s", configPath)
		}
	}

	return LoadFromFile(configPath)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Directories: []DirectoryConfig{
			{
				Directory:     "~/.calendars/tasks",
				Template:      "default.tpl",
				RecurringMode: string(task.ModeDueDate),
				AutomaticAlerts: []AlertConfig{
					{Value: 15, Unit: "minutes"},
				},
			},
		},
		Storage: StorageConfig{
			Driver:      "sqlite",
			BusyTimeout: 5000,
		},
		Notification: NotificationConfig{
			Backend:       "notify-send",
			Duration:      5000,
			RatePerMinute: 30,
		},
		Alerts: AlertsConfig{
			Schedule: "@every 1m",
		},
		Rollover: RolloverConfig{
			MaxYears: task.DefaultRolloverYears,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// WriteDefaultConfig writes a default configuration to the XDG config directory
func WriteDefaultConfig() (string, error) {
	configPath, err := xdg.ConfigFile(configName)
	if err != nil {
		return "", fmt.Errorf("failed to determine config file path: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return "", fmt.Errorf("failed to marshal default config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}

	return configPath, nil
}
