package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Zabbix.URL = "https://zabbix.example.com/api_jsonrpc.php"
	cfg.Zabbix.Token = "abcdef0123456789"
	cfg.Slack.WebhookURL = "https://hooks.slack.com/services/T000/B000/XXXX"
	cfg.Asterisk.Host = "pbx.example.com"
	cfg.Asterisk.Username = "notifier"
	cfg.Asterisk.Secret = "s3cret"
	cfg.Asterisk.Trunk = "trunkims"
	cfg.Directory.Driver = "mysql"
	cfg.Monitor.FallbackPhone = "40009999"
	return cfg
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *Config)
	}{
		{"missing zabbix url", func(cfg *Config) { cfg.Zabbix.URL = "" }},
		{"missing zabbix token", func(cfg *Config) { cfg.Zabbix.Token = "" }},
		{"missing webhook", func(cfg *Config) { cfg.Slack.WebhookURL = "" }},
		{"missing pbx host", func(cfg *Config) { cfg.Asterisk.Host = "" }},
		{"missing pbx credentials", func(cfg *Config) { cfg.Asterisk.Secret = "" }},
		{"missing trunk", func(cfg *Config) { cfg.Asterisk.Trunk = "" }},
		{"missing directory driver", func(cfg *Config) { cfg.Directory.Driver = "" }},
		{"missing fallback phone", func(cfg *Config) { cfg.Monitor.FallbackPhone = "" }},
		{"malformed hours", func(cfg *Config) { cfg.Hours.Start = "8am" }},
		{"inverted hours", func(cfg *Config) { cfg.Hours.Start = "18:00"; cfg.Hours.End = "17:00" }},
	}

	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Monitor.PollInterval != 60*time.Second {
		t.Errorf("expected 60s poll interval, got %v", cfg.Monitor.PollInterval)
	}
	if cfg.Monitor.LookbackDays != 2 {
		t.Errorf("expected 2 lookback days, got %d", cfg.Monitor.LookbackDays)
	}
	if cfg.Asterisk.Port != 5038 {
		t.Errorf("expected manager port 5038, got %d", cfg.Asterisk.Port)
	}
	if cfg.Tags.NotifyKey != "notification" || cfg.Tags.NotifyChannel != "slack" {
		t.Errorf("unexpected tag defaults: %+v", cfg.Tags)
	}
	if cfg.Hours.Start != "08:00" || cfg.Hours.End != "17:00" || cfg.Hours.FridayEnd != "14:00" {
		t.Errorf("unexpected hours defaults: %+v", cfg.Hours)
	}
}

func TestLoadConfigFile(t *testing.T) {
	yaml := `
zabbix:
  url: https://zabbix.example.com/api_jsonrpc.php
  token: abcdef0123456789
slack:
  webhook_url: https://hooks.slack.com/services/T000/B000/XXXX
asterisk:
  host: pbx.example.com
  username: notifier
  secret: s3cret
  trunk: trunkims
directory:
  driver: postgres
  host: db.example.com
  database: oncall
monitor:
  poll_interval: 2m
  fallback_phone: "40009999"
hours:
  friday_end: "15:00"
`
	path := filepath.Join(t.TempDir(), "callout.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Monitor.PollInterval != 2*time.Minute {
		t.Errorf("expected 2m poll interval, got %v", cfg.Monitor.PollInterval)
	}
	if cfg.Directory.Driver != "postgres" {
		t.Errorf("expected postgres driver, got %s", cfg.Directory.Driver)
	}
	if cfg.Hours.FridayEnd != "15:00" {
		t.Errorf("expected overridden friday_end, got %s", cfg.Hours.FridayEnd)
	}
	// Untouched fields keep their defaults.
	if cfg.Hours.Start != "08:00" {
		t.Errorf("expected default start, got %s", cfg.Hours.Start)
	}

	hours, err := cfg.BusinessHours()
	if err != nil {
		t.Fatalf("BusinessHours failed: %v", err)
	}
	if hours.FridayEnd != 15*60 {
		t.Errorf("expected friday end at 900 minutes, got %d", hours.FridayEnd)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestSummaryMasksSecrets(t *testing.T) {
	cfg := validConfig()
	out := cfg.Summary()
	if strings.Contains(out, cfg.Zabbix.Token) {
		t.Error("summary must not leak the API token")
	}
	if strings.Contains(out, "XXXX") {
		t.Error("summary must not leak the webhook path")
	}
	if !strings.Contains(out, "pbx.example.com") {
		t.Error("summary should name the PBX host")
	}
}
