// Custodus - Real-Time Threat Detection and Automated Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodus

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in order.
// The first file found wins.
var DefaultConfigPaths = []string{
	"custodus.yaml",
	"custodus.yml",
	"/etc/custodus/custodus.yaml",
	"/etc/custodus/custodus.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// EnvPrefix namespaces Custodus environment variables.
const EnvPrefix = "CUSTODUS_"

// Load assembles the configuration in three layers with clear
// precedence: environment > config file > defaults.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envMappings maps CUSTODUS_ variable names (prefix stripped,
// lowercased) to config paths. Multi-word leaf keys cannot be derived
// mechanically from underscores, so the mapping is explicit.
var envMappings = map[string]string{
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	"listen_addr":        "server.listen_addr",
	"cors_origins":       "server.cors_origins",
	"rate_limit_per_min": "server.rate_limit_per_min",

	"ingest_queue_size": "ingest.queue_size",
	"ingest_workers":    "ingest.workers",

	"monitor_retention":             "monitor.retention",
	"monitor_dedup_ttl":             "monitor.dedup_ttl",
	"monitor_rate_abuse_threshold":  "monitor.rate_abuse_threshold",
	"monitor_brute_force_threshold": "monitor.brute_force_threshold",

	"anomaly_enabled":   "anomaly.enabled",
	"anomaly_threshold": "anomaly.threshold",

	"response_action_timeout":      "response.action_timeout",
	"response_block_duration":      "response.block_duration",
	"response_rate_limit_duration": "response.rate_limit_duration",

	"webhook_enabled": "notify.webhook.enabled",
	"webhook_url":     "notify.webhook.url",
}

func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	// Unmapped variables fall through as dotted paths so new simple
	// keys work without a mapping entry.
	return strings.ReplaceAll(key, "_", ".")
}

// sliceConfigPaths are parsed from comma-separated strings when they
// arrive via environment variables.
var sliceConfigPaths = []string{
	"server.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("set %s: %w", path, err)
		}
	}
	return nil
}
