package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"taskcycle/internal/task"
)

func TestAlertConfig_Duration(t *testing.T) {
	tests := []struct {
		name    string
		alert   AlertConfig
		want    time.Duration
		wantErr bool
	}{
		{"seconds", AlertConfig{Value: 30, Unit: "seconds"}, 30 * time.Second, false},
		{"minutes short", AlertConfig{Value: 5, Unit: "m"}, 5 * time.Minute, false},
		{"hours", AlertConfig{Value: 2, Unit: "hours"}, 2 * time.Hour, false},
		{"days", AlertConfig{Value: 1, Unit: "day"}, 24 * time.Hour, false},
		{"invalid unit", AlertConfig{Value: 5, Unit: "weeks"}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.alert.Duration()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Duration() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Duration() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDirectoryConfig_Offsets(t *testing.T) {
	dir := DirectoryConfig{AutomaticAlerts: []AlertConfig{{Value: 1, Unit: "h"}, {Value: 10, Unit: "minutes"}}}
	offsets, err := dir.Offsets()
	if err != nil {
		t.Fatalf("Offsets() error = %v", err)
	}
	if len(offsets) != 2 || offsets[0] != time.Hour || offsets[1] != 10*time.Minute {
		t.Errorf("Offsets() = %v", offsets)
	}

	dir.AutomaticAlerts = append(dir.AutomaticAlerts, AlertConfig{Value: 1, Unit: "fortnight"})
	if _, err := dir.Offsets(); err == nil {
		t.Error("expected error for unknown unit")
	}
}

func TestDirectoryConfig_ExpandPath(t *testing.T) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("Failed to get home directory: %v", err)
	}
	t.Setenv("TASKCYCLE_TEST_DIR", "/srv/tasks")

	tests := []struct {
		name     string
		dir      DirectoryConfig
		expected string
	}{
		{"tilde expansion", DirectoryConfig{Directory: "~/.calendars"}, filepath.Join(homeDir, ".calendars")},
		{"environment variable", DirectoryConfig{Directory: "$TASKCYCLE_TEST_DIR/inbox"}, "/srv/tasks/inbox"},
		{"absolute path", DirectoryConfig{Directory: "/tmp/calendars"}, "/tmp/calendars"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.dir.ExpandPath(); err != nil {
				t.Fatalf("ExpandPath() error = %v", err)
			}
			if tt.dir.Directory != tt.expected {
				t.Errorf("ExpandPath() = %v, want %v", tt.dir.Directory, tt.expected)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name: "valid config",
			config: Config{
				Directories: []DirectoryConfig{
					{
						Directory:       tempDir,
						Template:        "default.tpl",
						RecurringMode:   "autoRollover",
						AutomaticAlerts: []AlertConfig{{Value: 5, Unit: "minutes"}},
					},
				},
				Storage:      StorageConfig{Driver: "memory"},
				Notification: NotificationConfig{Backend: "dbus", Duration: 5000},
				Logging:      LoggingConfig{Level: "debug"},
			},
		},
		{
			name:   "no directories",
			config: Config{},
		},
		{
			name:    "empty directory path",
			config:  Config{Directories: []DirectoryConfig{{Directory: ""}}},
			wantErr: true,
		},
		{
			name:    "nonexistent directory",
			config:  Config{Directories: []DirectoryConfig{{Directory: "/nonexistent/path"}}},
			wantErr: true,
		},
		{
			name:    "unknown recurring mode",
			config:  Config{Directories: []DirectoryConfig{{Directory: tempDir, RecurringMode: "sometimes"}}},
			wantErr: true,
		},
		{
			name: "invalid alert value",
			config: Config{Directories: []DirectoryConfig{
				{Directory: tempDir, AutomaticAlerts: []AlertConfig{{Value: -5, Unit: "minutes"}}},
			}},
			wantErr: true,
		},
		{
			name:    "unknown storage driver",
			config:  Config{Storage: StorageConfig{Driver: "postgres"}},
			wantErr: true,
		},
		{
			name:    "unknown backend",
			config:  Config{Notification: NotificationConfig{Backend: "email"}},
			wantErr: true,
		},
		{
			name:    "bad schedule",
			config:  Config{Alerts: AlertsConfig{Schedule: "every minute"}},
			wantErr: true,
		},
		{
			name:    "bad level",
			config:  Config{Logging: LoggingConfig{Level: "loud"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidateDefaults(t *testing.T) {
	var c Config
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if c.Storage.Driver != "sqlite" {
		t.Errorf("storage driver = %q, want sqlite", c.Storage.Driver)
	}
	if c.Notification.Backend != "notify-send" || c.Notification.RatePerMinute != 30 {
		t.Errorf("notification defaults = %+v", c.Notification)
	}
	if c.Alerts.Schedule != "@every 1m" {
		t.Errorf("alert schedule = %q", c.Alerts.Schedule)
	}
	if c.Rollover.MaxYears != task.DefaultRolloverYears {
		t.Errorf("rollover years = %d", c.Rollover.MaxYears)
	}
	if c.Logging.Level != "info" {
		t.Errorf("logging level = %q", c.Logging.Level)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	inbox := filepath.Join(dir, "inbox")
	if err := os.Mkdir(inbox, 0755); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, "config.yaml")
	content := `directories:
  - directory: ` + inbox + `
    template: minimal.tpl
    recurring_mode: completedAt
    automatic_alerts:
      - value: 1
        unit: hours
storage:
  driver: memory
alerts:
  schedule: "*/5 * * * *"
rollover:
  max_years: 3
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if len(cfg.Directories) != 1 || cfg.Directories[0].RecurringMode != "completedAt" {
		t.Errorf("directories = %+v", cfg.Directories)
	}
	if cfg.Storage.Driver != "memory" || cfg.Alerts.Schedule != "*/5 * * * *" || cfg.Rollover.MaxYears != 3 {
		t.Errorf("unexpected config: %+v", cfg)
	}

	if err := os.WriteFile(path, []byte("storage: [unterminated"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromFile(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if len(config.Directories) != 1 {
		t.Errorf("DefaultConfig() should have 1 directory, got %d", len(config.Directories))
	}
	if config.Storage.Driver != "sqlite" {
		t.Errorf("DefaultConfig() storage driver = %v, want sqlite", config.Storage.Driver)
	}
	if config.Notification.Backend != "notify-send" {
		t.Errorf("DefaultConfig() notification backend = %v, want notify-send", config.Notification.Backend)
	}
	if config.Logging.Level != "info" {
		t.Errorf("DefaultConfig() logging level = %v, want info", config.Logging.Level)
	}
}
