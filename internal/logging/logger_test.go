// Gridwatch - Industrial Telemetry Console Client
// Copyright 2026 Gridwatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gridwatch-io/client-go

package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

func captureOutput(t *testing.T, cfg Config) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	cfg.Output = &buf
	Init(cfg)
	t.Cleanup(func() { Init(DefaultConfig()) })
	return &buf
}

func TestInitJSONOutput(t *testing.T) {
	buf := captureOutput(t, Config{Level: "debug", Format: "json"})

	Info().Str("component", "test").Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output not JSON: %v (%q)", err, buf.String())
	}
	if entry["message"] != "hello" {
		t.Errorf("message = %v, want hello", entry["message"])
	}
	if entry["component"] != "test" {
		t.Errorf("component = %v, want test", entry["component"])
	}
	if entry["level"] != "info" {
		t.Errorf("level = %v, want info", entry["level"])
	}
}

func TestLevelFiltering(t *testing.T) {
	buf := captureOutput(t, Config{Level: "warn", Format: "json"})

	Debug().Msg("too quiet")
	Info().Msg("still too quiet")
	Warn().Msg("loud enough")

	out := buf.String()
	if strings.Contains(out, "too quiet") {
		t.Errorf("low-level messages leaked: %q", out)
	}
	if !strings.Contains(out, "loud enough") {
		t.Errorf("warn message missing: %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"disabled", zerolog.Disabled},
		{"nonsense", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestConsoleFormat(t *testing.T) {
	buf := captureOutput(t, Config{Level: "info", Format: "console"})

	Info().Msg("console line")

	if !strings.Contains(buf.String(), "console line") {
		t.Errorf("console output missing message: %q", buf.String())
	}
	if json.Valid(buf.Bytes()) {
		t.Error("console format produced JSON output")
	}
}

func TestSlogAdapter(t *testing.T) {
	buf := captureOutput(t, Config{Level: "debug", Format: "json"})

	slogger := NewSlogLogger()
	slogger.Info("supervisor event", slog.String("service", "channel-layer"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("slog output not JSON: %v (%q)", err, buf.String())
	}
	if entry["message"] != "supervisor event" {
		t.Errorf("message = %v", entry["message"])
	}
	if entry["service"] != "channel-layer" {
		t.Errorf("service = %v, want channel-layer", entry["service"])
	}
}

func TestSlogAdapterGroups(t *testing.T) {
	buf := captureOutput(t, Config{Level: "debug", Format: "json"})

	slogger := NewSlogLogger().WithGroup("supervisor")
	slogger.Warn("failing", slog.Int("failures", 3))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("slog output not JSON: %v (%q)", err, buf.String())
	}
	if _, ok := entry["supervisor.failures"]; !ok {
		t.Errorf("grouped attr missing dot key: %v", entry)
	}
}

func TestSlogAdapterRespectsLevel(t *testing.T) {
	buf := captureOutput(t, Config{Level: "error", Format: "json"})

	handler := NewSlogHandler()
	if handler.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("Enabled(info) = true at error level")
	}
	NewSlogLogger().Info("should not appear")
	if buf.Len() != 0 {
		t.Errorf("info logged at error level: %q", buf.String())
	}
}
