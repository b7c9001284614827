// Custodus - Real-Time Threat Detection and Automated Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodus

// Package config loads layered configuration: built-in defaults, an
// optional YAML file, then CUSTODUS_ environment variables, each layer
// overriding the previous one.
package config

import (
	"fmt"
	"time"

	"github.com/tomtom215/custodus/internal/models"
	"github.com/tomtom215/custodus/internal/validation"
)

// Config is the root configuration.
type Config struct {
	Logging  LoggingConfig  `koanf:"logging"`
	Server   ServerConfig   `koanf:"server"`
	Ingest   IngestConfig   `koanf:"ingest"`
	Monitor  MonitorConfig  `koanf:"monitor"`
	Anomaly  AnomalyConfig  `koanf:"anomaly"`
	Response ResponseConfig `koanf:"response"`
	Notify   NotifyConfig   `koanf:"notify"`

	// Rules are installed at startup. Additional rules can be managed
	// at runtime through the API.
	Rules []models.ResponseRule `koanf:"rules"`
}

// LoggingConfig controls the zerolog setup.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	ListenAddr      string        `koanf:"listen_addr" validate:"required"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitPerMin int           `koanf:"rate_limit_per_min" validate:"gte=0"`
}

// IngestConfig tunes the event bus.
type IngestConfig struct {
	QueueSize int `koanf:"queue_size" validate:"gt=0"`
	Workers   int `koanf:"workers" validate:"gt=0,lte=64"`
}

// MonitorConfig tunes the detection pipeline.
type MonitorConfig struct {
	Retention           time.Duration `koanf:"retention" validate:"gt=0"`
	MaxEventsPerKey     int           `koanf:"max_events_per_key" validate:"gt=0"`
	MaxGlobalEvents     int           `koanf:"max_global_events" validate:"gt=0"`
	DedupTTL            time.Duration `koanf:"dedup_ttl" validate:"gt=0"`
	MaintenanceInterval time.Duration `koanf:"maintenance_interval" validate:"gt=0"`

	RateAbuseWindow     time.Duration `koanf:"rate_abuse_window" validate:"gt=0"`
	RateAbuseThreshold  int64         `koanf:"rate_abuse_threshold" validate:"gt=0"`
	BruteForceWindow    time.Duration `koanf:"brute_force_window" validate:"gt=0"`
	BruteForceThreshold int64         `koanf:"brute_force_threshold" validate:"gt=0"`
	ScanWindow          time.Duration `koanf:"scan_window" validate:"gt=0"`
	ScanThreshold       int           `koanf:"scan_threshold" validate:"gt=0"`
}

// AnomalyConfig tunes the statistical scorer.
type AnomalyConfig struct {
	Enabled            bool    `koanf:"enabled"`
	Threshold          float64 `koanf:"threshold" validate:"lt=0"`
	MinTrainingSamples int     `koanf:"min_training_samples" validate:"gt=0"`
}

// ResponseConfig tunes the incident response engine.
type ResponseConfig struct {
	ActionTimeout     time.Duration `koanf:"action_timeout" validate:"gt=0"`
	BlockDuration     time.Duration `koanf:"block_duration" validate:"gt=0"`
	RateLimitDuration time.Duration `koanf:"rate_limit_duration" validate:"gt=0"`
	SweepInterval     time.Duration `koanf:"sweep_interval" validate:"gt=0"`
	MaxRelatedEvents  int           `koanf:"max_related_events" validate:"gt=0"`
}

// NotifyConfig tunes alert delivery.
type NotifyConfig struct {
	QueueSize      int           `koanf:"queue_size" validate:"gt=0"`
	Workers        int           `koanf:"workers" validate:"gt=0,lte=32"`
	ChannelTimeout time.Duration `koanf:"channel_timeout" validate:"gt=0"`

	Webhook WebhookNotifyConfig `koanf:"webhook"`
}

// WebhookNotifyConfig configures the outbound webhook channel.
type WebhookNotifyConfig struct {
	Enabled       bool              `koanf:"enabled"`
	URL           string            `koanf:"url"`
	Headers       map[string]string `koanf:"headers"`
	RatePerSecond float64           `koanf:"rate_per_second"`
	Timeout       time.Duration     `koanf:"timeout"`
}

// defaultConfig returns the built-in defaults. These run a useful
// standalone instance with no config file at all.
func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Server: ServerConfig{
			ListenAddr:      ":8427",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			CORSOrigins:     []string{},
			RateLimitPerMin: 600,
		},
		Ingest: IngestConfig{
			QueueSize: 4096,
			Workers:   4,
		},
		Monitor: MonitorConfig{
			Retention:           time.Hour,
			MaxEventsPerKey:     500,
			MaxGlobalEvents:     20000,
			DedupTTL:            60 * time.Second,
			MaintenanceInterval: time.Minute,
			RateAbuseWindow:     5 * time.Minute,
			RateAbuseThreshold:  50,
			BruteForceWindow:    15 * time.Minute,
			BruteForceThreshold: 5,
			ScanWindow:          10 * time.Minute,
			ScanThreshold:       30,
		},
		Anomaly: AnomalyConfig{
			Enabled:            true,
			Threshold:          -3.0,
			MinTrainingSamples: 20,
		},
		Response: ResponseConfig{
			ActionTimeout:     10 * time.Second,
			BlockDuration:     time.Hour,
			RateLimitDuration: 15 * time.Minute,
			SweepInterval:     time.Minute,
			MaxRelatedEvents:  25,
		},
		Notify: NotifyConfig{
			QueueSize:      256,
			Workers:        4,
			ChannelTimeout: 10 * time.Second,
			Webhook: WebhookNotifyConfig{
				Enabled:       false,
				RatePerSecond: 5,
				Timeout:       10 * time.Second,
			},
		},
	}
}

// Validate checks the assembled configuration, installed rules
// included.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(c.Rules))
	for i := range c.Rules {
		rule := &c.Rules[i]
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("rule %q: %w", rule.ID, err)
		}
		if _, dup := seen[rule.ID]; dup {
			return fmt.Errorf("rule %q: duplicate rule ID", rule.ID)
		}
		seen[rule.ID] = struct{}{}
	}
	return nil
}
