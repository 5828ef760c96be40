// Gridwatch - Industrial Telemetry Console Client
// Copyright 2026 Gridwatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gridwatch-io/client-go

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
	"gridwatch.yaml",
	"gridwatch.yml",
	"/etc/gridwatch/client.yaml",
	"/etc/gridwatch/client.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "GRIDWATCH_CONFIG"

// envPrefix is stripped from environment variables before mapping them to
// config paths.
const envPrefix = "GRIDWATCH_"

// Load builds the configuration from layered sources:
//  1. Defaults: built-in values
//  2. Config file: optional YAML file (if found)
//  3. Environment variables: GRIDWATCH_* (highest priority)
//
// Example: GRIDWATCH_GATEWAY_BASE_URL -> gateway.base_url
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// findConfigFile returns the first config file that exists, or "".
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

// sliceConfigPaths lists config paths parsed as comma-separated slices when
// supplied through environment variables.
var sliceConfigPaths = []string{
	"keycloak.scopes",
}

// processSliceFields converts comma-separated strings to slices for known
// slice fields. Env vars arrive as strings; the config expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
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
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransform maps environment variable names to config paths.
// The first underscore-separated segment is the section; the remainder keeps
// its underscores to match the koanf struct tags.
//
// Examples:
//   - GRIDWATCH_GATEWAY_BASE_URL -> gateway.base_url
//   - GRIDWATCH_KEYCLOAK_CLIENT_ID -> keycloak.client_id
//   - GRIDWATCH_REALTIME_MAX_RECONNECT_ATTEMPTS -> realtime.max_reconnect_attempts
func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	parts := strings.SplitN(key, "_", 2)
	if len(parts) != 2 {
		return key
	}
	switch parts[0] {
	case "gateway", "keycloak", "realtime", "session", "logging":
		return parts[0] + "." + parts[1]
	default:
		// Unknown sections are ignored by Unmarshal.
		return key
	}
}
