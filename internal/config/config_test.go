// Custodus - Real-Time Threat Detection and Automated Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodus

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tomtom215/custodus/internal/models"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.ListenAddr != ":8427" {
		t.Errorf("ListenAddr = %q, want :8427", cfg.Server.ListenAddr)
	}
	if cfg.Monitor.RateAbuseThreshold != 50 {
		t.Errorf("RateAbuseThreshold = %d, want 50", cfg.Monitor.RateAbuseThreshold)
	}
	if cfg.Monitor.DedupTTL != 60*time.Second {
		t.Errorf("DedupTTL = %v, want 60s", cfg.Monitor.DedupTTL)
	}
	if cfg.Anomaly.Threshold != -3.0 {
		t.Errorf("Anomaly.Threshold = %v, want -3.0", cfg.Anomaly.Threshold)
	}
	if cfg.Notify.Webhook.Enabled {
		t.Error("webhook enabled by default")
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custodus.yaml")
	content := `
logging:
  level: debug
server:
  listen_addr: ":9000"
monitor:
  rate_abuse_threshold: 100
rules:
  - id: block-injection
    name: Block injection sources
    threat_types: [injection_attack]
    threat_levels: [high, critical]
    actions:
      - type: block_ip
        parameters:
          duration_minutes: 60
    cooldown_minutes: 5
    enabled: true
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Server.ListenAddr != ":9000" {
		t.Errorf("ListenAddr = %q, want :9000", cfg.Server.ListenAddr)
	}
	if cfg.Monitor.RateAbuseThreshold != 100 {
		t.Errorf("RateAbuseThreshold = %d, want 100", cfg.Monitor.RateAbuseThreshold)
	}
	if len(cfg.Rules) != 1 {
		t.Fatalf("Rules = %d, want 1", len(cfg.Rules))
	}
	rule := cfg.Rules[0]
	if rule.ID != "block-injection" || !rule.Enabled || rule.CooldownMinutes != 5 {
		t.Errorf("rule = %+v", rule)
	}
	if len(rule.Actions) != 1 || rule.Actions[0].Type != models.ActionBlockIP {
		t.Errorf("rule actions = %+v", rule.Actions)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custodus.yaml")
	if err := os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("CUSTODUS_LOG_LEVEL", "warn")
	t.Setenv("CUSTODUS_WEBHOOK_ENABLED", "true")
	t.Setenv("CUSTODUS_WEBHOOK_URL", "https://alerts.example.com/hook")
	t.Setenv("CUSTODUS_CORS_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Level = %q, want env override warn", cfg.Logging.Level)
	}
	if !cfg.Notify.Webhook.Enabled || cfg.Notify.Webhook.URL != "https://alerts.example.com/hook" {
		t.Errorf("webhook config = %+v", cfg.Notify.Webhook)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "https://b.example.com" {
		t.Errorf("CORSOrigins = %v", cfg.Server.CORSOrigins)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad log level", "logging:\n  level: loud\n"},
		{"zero workers", "ingest:\n  workers: 0\n"},
		{"positive anomaly threshold", "anomaly:\n  threshold: 2.5\n"},
		{
			"invalid rule action",
			"rules:\n  - id: r1\n    name: r1\n    threat_types: [injection_attack]\n    threat_levels: [high]\n    actions:\n      - type: self_destruct\n    enabled: true\n",
		},
		{
			"duplicate rule ids",
			"rules:\n  - id: r1\n    name: a\n    threat_types: [injection_attack]\n    threat_levels: [high]\n    actions:\n      - type: log_event\n    enabled: true\n  - id: r1\n    name: b\n    threat_types: [brute_force]\n    threat_levels: [high]\n    actions:\n      - type: log_event\n    enabled: true\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "custodus.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
				t.Fatal(err)
			}
			t.Setenv(ConfigPathEnvVar, path)

			if _, err := Load(); err == nil {
				t.Error("Load() accepted invalid configuration")
			}
		})
	}
}

func TestEnvTransform(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"CUSTODUS_LOG_LEVEL", "logging.level"},
		{"CUSTODUS_LISTEN_ADDR", "server.listen_addr"},
		{"CUSTODUS_WEBHOOK_URL", "notify.webhook.url"},
		{"CUSTODUS_ANOMALY_THRESHOLD", "anomaly.threshold"},
	}
	for _, tt := range tests {
		if got := envTransform(tt.in); got != tt.want {
			t.Errorf("envTransform(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
