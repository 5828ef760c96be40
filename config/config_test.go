// Gridwatch - Industrial Telemetry Console Client
// Copyright 2026 Gridwatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gridwatch-io/client-go

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// setRequiredEnv supplies the fields that have no usable defaults.
func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("GRIDWATCH_GATEWAY_BASE_URL", "https://console.example.com/api")
	t.Setenv("GRIDWATCH_KEYCLOAK_SERVER_URL", "https://id.example.com")
	t.Setenv("GRIDWATCH_KEYCLOAK_REALM", "grid")
	t.Setenv("GRIDWATCH_KEYCLOAK_CLIENT_ID", "console")
	t.Setenv("GRIDWATCH_REALTIME_URL", "wss://console.example.com/ws")
}

func TestLoadFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	setRequiredEnv(t)
	t.Setenv("GRIDWATCH_SESSION_REFRESH_INTERVAL", "10m")
	t.Setenv("GRIDWATCH_REALTIME_MAX_RECONNECT_ATTEMPTS", "7")
	t.Setenv("GRIDWATCH_GATEWAY_CIRCUIT_BREAKER", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Gateway.BaseURL != "https://console.example.com/api" {
		t.Errorf("BaseURL = %q", cfg.Gateway.BaseURL)
	}
	if cfg.Session.RefreshInterval != 10*time.Minute {
		t.Errorf("RefreshInterval = %v, want 10m", cfg.Session.RefreshInterval)
	}
	if cfg.Realtime.MaxReconnectAttempts != 7 {
		t.Errorf("MaxReconnectAttempts = %d, want 7", cfg.Realtime.MaxReconnectAttempts)
	}
	if !cfg.Gateway.CircuitBreaker {
		t.Error("CircuitBreaker = false, want true")
	}

	// Defaults survive where nothing overrides them.
	if cfg.Session.MinValidity != 30*time.Second {
		t.Errorf("MinValidity = %v, want default 30s", cfg.Session.MinValidity)
	}
	if cfg.Realtime.AuthMode != AuthModeQuery {
		t.Errorf("AuthMode = %q, want default %q", cfg.Realtime.AuthMode, AuthModeQuery)
	}
	if cfg.Keycloak.SuperRole != "admin" {
		t.Errorf("SuperRole = %q, want default admin", cfg.Keycloak.SuperRole)
	}
}

func TestLoadMissingRequiredFails(t *testing.T) {
	t.Chdir(t.TempDir())
	// Only some of the required fields.
	t.Setenv("GRIDWATCH_KEYCLOAK_SERVER_URL", "https://id.example.com")

	if _, err := Load(); err == nil {
		t.Fatal("Load() error = nil with missing required fields")
	}
}

func TestLoadFromFile(t *testing.T) {
	t.Chdir(t.TempDir())
	dir := t.TempDir()
	path := filepath.Join(dir, "client.yaml")
	content := `
gateway:
  base_url: https://file.example.com/api
keycloak:
  server_url: https://id.example.com
  realm: grid
  client_id: console
realtime:
  url: wss://file.example.com/ws
  auth_mode: message
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Gateway.BaseURL != "https://file.example.com/api" {
		t.Errorf("BaseURL = %q, want file value", cfg.Gateway.BaseURL)
	}
	if cfg.Realtime.AuthMode != AuthModeMessage {
		t.Errorf("AuthMode = %q, want %q", cfg.Realtime.AuthMode, AuthModeMessage)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Chdir(t.TempDir())
	dir := t.TempDir()
	path := filepath.Join(dir, "client.yaml")
	content := `
gateway:
  base_url: https://file.example.com/api
keycloak:
  server_url: https://id.example.com
  realm: grid
  client_id: console
realtime:
  url: wss://file.example.com/ws
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("GRIDWATCH_GATEWAY_BASE_URL", "https://env.example.com/api")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Gateway.BaseURL != "https://env.example.com/api" {
		t.Errorf("BaseURL = %q, want env value to win", cfg.Gateway.BaseURL)
	}
}

func TestScopesFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	setRequiredEnv(t)
	t.Setenv("GRIDWATCH_KEYCLOAK_SCOPES", "openid, roles ,profile")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := []string{"openid", "roles", "profile"}
	if len(cfg.Keycloak.Scopes) != len(want) {
		t.Fatalf("Scopes = %v, want %v", cfg.Keycloak.Scopes, want)
	}
	for i, s := range want {
		if cfg.Keycloak.Scopes[i] != s {
			t.Errorf("Scopes[%d] = %q, want %q", i, cfg.Keycloak.Scopes[i], s)
		}
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := defaultConfig()
	cfg.Gateway.BaseURL = "https://console.example.com/api"
	cfg.Keycloak.ServerURL = "https://id.example.com"
	cfg.Keycloak.Realm = "grid"
	cfg.Keycloak.ClientID = "console"
	cfg.Realtime.URL = "wss://console.example.com/ws"

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v for complete config", err)
	}

	cfg.Realtime.AuthMode = "carrier-pigeon"
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() accepted unknown auth mode")
	}
	cfg.Realtime.AuthMode = AuthModeQuery

	cfg.Logging.Level = "shouty"
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() accepted unknown log level")
	}
}

func TestEnvTransform(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"GRIDWATCH_GATEWAY_BASE_URL", "gateway.base_url"},
		{"GRIDWATCH_KEYCLOAK_CLIENT_ID", "keycloak.client_id"},
		{"GRIDWATCH_REALTIME_MAX_RECONNECT_ATTEMPTS", "realtime.max_reconnect_attempts"},
		{"GRIDWATCH_SESSION_MIN_VALIDITY", "session.min_validity"},
		{"GRIDWATCH_LOGGING_LEVEL", "logging.level"},
		{"GRIDWATCH_UNRELATED_THING", "unrelated_thing"},
	}
	for _, tt := range tests {
		if got := envTransform(tt.in); got != tt.want {
			t.Errorf("envTransform(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
