package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"

	"formbot/internal/holiday"
)

// Config is the daemon configuration, loaded once at startup.
//
// All durations are Go duration strings (e.g. "500ms", "10s").
type Config struct {
	// FormsFile is the JSON file holding the schedule entries. It is watched
	// for external edits; this is the boundary shared with the capture UI.
	FormsFile string `yaml:"forms_file"`

	Database DatabaseConfig `yaml:"database"`
	Holiday  HolidayConfig  `yaml:"holiday"`
	API      APIConfig      `yaml:"api"`
	Notify   NotifyConfig   `yaml:"notify"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type DatabaseConfig struct {
	Path        string `yaml:"path"`
	BusyTimeout string `yaml:"busy_timeout,omitempty"`
}

type HolidayConfig struct {
	BaseURL string `yaml:"base_url"`
}

type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type NotifyConfig struct {
	Driver     string         `yaml:"driver"` // none | log | telegram
	QueueSize  int            `yaml:"queue_size,omitempty"`
	RatePerSec int            `yaml:"rate_per_sec,omitempty"`
	Telegram   TelegramConfig `yaml:"telegram,omitempty"`
}

type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID int64  `yaml:"chat_id"`
}

type LoggingConfig struct {
	Level   string        `yaml:"level"`
	Console bool          `yaml:"console"`
	File    FileLogConfig `yaml:"file,omitempty"`
}

type FileLogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	return &Config{
		FormsFile: "./forms.json",
		Database:  DatabaseConfig{Path: "./formbot.db", BusyTimeout: "5s"},
		Holiday:   HolidayConfig{BaseURL: holiday.DefaultBaseURL},
		API:       APIConfig{Enabled: true, Addr: "127.0.0.1:8750"},
		Notify:    NotifyConfig{Driver: "log"},
		Logging:   LoggingConfig{Level: "info", Console: true},
	}
}

// Load reads the YAML config at path. A missing file yields Default().
// Unknown keys are rejected so typos fail loudly.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}

	cfg := Default()
	dec := yaml.NewDecoder(strings.NewReader(string(b)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.FormsFile) == "" {
		return errors.New("forms_file is required")
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		return errors.New("database.path is required")
	}
	if _, err := c.BusyTimeout(); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(c.Notify.Driver)) {
	case "", "none", "log":
	case "telegram":
		if strings.TrimSpace(c.Notify.Telegram.Token) == "" {
			return errors.New("notify.telegram.token is required for the telegram driver")
		}
		if c.Notify.Telegram.ChatID == 0 {
			return errors.New("notify.telegram.chat_id is required for the telegram driver")
		}
	default:
		return fmt.Errorf("unknown notify.driver %q", c.Notify.Driver)
	}
	if c.API.Enabled && strings.TrimSpace(c.API.Addr) == "" {
		return errors.New("api.addr is required when api.enabled")
	}
	return nil
}

// BusyTimeout parses database.busy_timeout; empty means zero.
func (c *Config) BusyTimeout() (time.Duration, error) {
	s := strings.TrimSpace(c.Database.BusyTimeout)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("database.busy_timeout: %w", err)
	}
	return d, nil
}
