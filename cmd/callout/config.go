// Package main provides the callout CLI.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/good-yellow-bee/callout/internal/schedule"
)

// Config represents the callout configuration.
type Config struct {
	Zabbix    ZabbixConfig    `yaml:"zabbix"`
	Slack     SlackConfig     `yaml:"slack"`
	Asterisk  AsteriskConfig  `yaml:"asterisk"`
	Directory DirectoryConfig `yaml:"directory"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Tags      TagsConfig      `yaml:"tags"`
	Hours     HoursConfig     `yaml:"hours"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Verbose   bool            `yaml:"-"` // set via CLI flag
}

// ZabbixConfig contains monitoring source settings.
type ZabbixConfig struct {
	URL         string        `yaml:"url"`          // JSON-RPC endpoint, e.g. https://zabbix/api_jsonrpc.php
	Token       string        `yaml:"token"`        // API token
	InsecureTLS bool          `yaml:"insecure_tls"` // skip certificate verification
	Timeout     time.Duration `yaml:"timeout"`      // per-request timeout (default: 30s)
}

// SlackConfig contains chat sink settings.
type SlackConfig struct {
	WebhookURL   string `yaml:"webhook_url"`
	MaxPerMinute int    `yaml:"max_per_minute"` // rate limit (default: 20)
	RateLimit    bool   `yaml:"rate_limit"`     // enable the rate limiter
}

// AsteriskConfig contains voice sink settings.
type AsteriskConfig struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"` // manager port (default: 5038)
	Username    string        `yaml:"username"`
	Secret      string        `yaml:"secret"`
	CallerID    string        `yaml:"caller_id"`
	Trunk       string        `yaml:"trunk"`
	RingTimeout time.Duration `yaml:"ring_timeout"` // default: 30s
}

// DirectoryConfig contains on-call directory store settings.
type DirectoryConfig struct {
	Driver   string `yaml:"driver"` // mysql or postgres
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"` // postgres only
}

// MonitorConfig contains engine settings.
type MonitorConfig struct {
	PollInterval  time.Duration `yaml:"poll_interval"` // default: 60s
	LookbackDays  int           `yaml:"lookback_days"` // default: 2
	FallbackPhone string        `yaml:"fallback_phone"`
	GroupLabel    string        `yaml:"group_label"`
	LedgerPath    string        `yaml:"ledger_path"` // default: callout.db
	PolicyFile    string        `yaml:"policy_file"` // optional; built-in policy when empty
}

// TagsConfig contains the tag keys read off incidents.
type TagsConfig struct {
	NotifyKey     string `yaml:"notify_key"`     // default: notification
	NotifyChannel string `yaml:"notify_channel"` // default: slack
	AssigneeKey   string `yaml:"assignee_key"`   // default: Encargado
}

// HoursConfig contains the business-hours boundaries.
type HoursConfig struct {
	Start     string `yaml:"start"`      // default: 08:00
	End       string `yaml:"end"`        // default: 17:00
	FridayEnd string `yaml:"friday_end"` // default: 14:00
}

// MetricsConfig contains the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"` // default: :9091
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// setDefaults sets default values for missing config fields.
func (c *Config) setDefaults() {
	if c.Zabbix.Timeout <= 0 {
		c.Zabbix.Timeout = 30 * time.Second
	}
	if c.Slack.MaxPerMinute <= 0 {
		c.Slack.MaxPerMinute = 20
	}
	if c.Asterisk.Port == 0 {
		c.Asterisk.Port = 5038
	}
	if c.Asterisk.RingTimeout <= 0 {
		c.Asterisk.RingTimeout = 30 * time.Second
	}
	if c.Monitor.PollInterval <= 0 {
		c.Monitor.PollInterval = 60 * time.Second
	}
	if c.Monitor.LookbackDays <= 0 {
		c.Monitor.LookbackDays = 2
	}
	if c.Monitor.LedgerPath == "" {
		c.Monitor.LedgerPath = "callout.db"
	}
	if c.Tags.NotifyKey == "" {
		c.Tags.NotifyKey = "notification"
	}
	if c.Tags.NotifyChannel == "" {
		c.Tags.NotifyChannel = "slack"
	}
	if c.Tags.AssigneeKey == "" {
		c.Tags.AssigneeKey = "Encargado"
	}
	if c.Hours.Start == "" {
		c.Hours.Start = "08:00"
	}
	if c.Hours.End == "" {
		c.Hours.End = "17:00"
	}
	if c.Hours.FridayEnd == "" {
		c.Hours.FridayEnd = "14:00"
	}
	if c.Metrics.Address == "" {
		c.Metrics.Address = ":9091"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Zabbix.URL == "" {
		return fmt.Errorf("zabbix.url is required")
	}
	if c.Zabbix.Token == "" {
		return fmt.Errorf("zabbix.token is required")
	}
	if c.Slack.WebhookURL == "" {
		return fmt.Errorf("slack.webhook_url is required")
	}
	if c.Asterisk.Host == "" {
		return fmt.Errorf("asterisk.host is required")
	}
	if c.Asterisk.Username == "" || c.Asterisk.Secret == "" {
		return fmt.Errorf("asterisk.username and asterisk.secret are required")
	}
	if c.Asterisk.Trunk == "" {
		return fmt.Errorf("asterisk.trunk is required")
	}
	if c.Directory.Driver == "" {
		return fmt.Errorf("directory.driver is required (mysql or postgres)")
	}
	if c.Monitor.FallbackPhone == "" {
		return fmt.Errorf("monitor.fallback_phone is required")
	}
	if _, err := c.BusinessHours(); err != nil {
		return err
	}
	return nil
}

// BusinessHours parses the configured boundaries into schedule hours.
func (c *Config) BusinessHours() (schedule.Hours, error) {
	start, err := schedule.ParseTimeOfDay(c.Hours.Start)
	if err != nil {
		return schedule.Hours{}, fmt.Errorf("hours.start: %w", err)
	}
	end, err := schedule.ParseTimeOfDay(c.Hours.End)
	if err != nil {
		return schedule.Hours{}, fmt.Errorf("hours.end: %w", err)
	}
	fridayEnd, err := schedule.ParseTimeOfDay(c.Hours.FridayEnd)
	if err != nil {
		return schedule.Hours{}, fmt.Errorf("hours.friday_end: %w", err)
	}

	hours := schedule.Hours{Start: start, End: end, FridayEnd: fridayEnd}
	if err := hours.Validate(); err != nil {
		return schedule.Hours{}, fmt.Errorf("hours: %w", err)
	}
	return hours, nil
}

// Summary returns a loggable one-line view with secrets masked.
func (c *Config) Summary() string {
	return fmt.Sprintf("zabbix=%s token=%s slack=%s pbx=%s:%d directory=%s/%s ledger=%s poll=%s fallback=%s",
		c.Zabbix.URL, mask(c.Zabbix.Token), maskURL(c.Slack.WebhookURL),
		c.Asterisk.Host, c.Asterisk.Port,
		c.Directory.Driver, c.Directory.Database,
		c.Monitor.LedgerPath, c.Monitor.PollInterval, c.Monitor.FallbackPhone)
}

// mask hides all but the first and last characters of a secret.
func mask(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}

// maskURL hides the path of a webhook URL, which carries the secret.
func maskURL(s string) string {
	if i := strings.Index(s, "/services/"); i >= 0 {
		return s[:i] + "/services/****"
	}
	return s
}
