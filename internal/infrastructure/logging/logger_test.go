package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/ClinShaiju/RiceHolisticGarden/internal/infrastructure/config"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	return entry
}

func TestNew_Outputs(t *testing.T) {
	for _, cfg := range []config.LoggingConfig{
		{Level: "info", Format: "json", Output: "stdout"},
		{Level: "debug", Format: "text", Output: "stderr"},
		{},
	} {
		if New(cfg, "1.0.0") == nil {
			t.Fatalf("New(%+v) returned nil", cfg)
		}
	}
	if Default() == nil {
		t.Fatal("Default() returned nil")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestLogger_DefaultFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, config.LoggingConfig{Level: "info", Format: "json"}, "test-version")
	logger.Info("reading forwarded", "identity", "aa:bb:cc:dd:ee:ff")

	entry := decodeLine(t, &buf)
	want := map[string]any{
		"service":  ServiceName,
		"version":  "test-version",
		"msg":      "reading forwarded",
		"identity": "aa:bb:cc:dd:ee:ff",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("%s = %v, want %v", k, entry[k], v)
		}
	}
}

func TestLogger_Component(t *testing.T) {
	var buf bytes.Buffer
	parent := NewWithWriter(&buf, config.LoggingConfig{Format: "json"}, "v")
	child := parent.Component("telemetry")
	if child == parent {
		t.Fatal("Component should return a new logger")
	}

	child.Info("listening")
	if entry := decodeLine(t, &buf); entry["component"] != "telemetry" {
		t.Errorf("component = %v", entry["component"])
	}
}

func TestLogger_RedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, config.LoggingConfig{Format: "json"}, "v")
	logger.Info("staging sketch", "ssid", "garden-net", "pass", "hunter22", "Password", "broker-pw", "token", "aa:bb")

	out := buf.String()
	for _, secret := range []string{"hunter22", "broker-pw"} {
		if strings.Contains(out, secret) {
			t.Errorf("secret %q leaked: %s", secret, out)
		}
	}
	entry := decodeLine(t, &buf)
	if entry["pass"] != Redacted || entry["ssid"] != "garden-net" {
		t.Errorf("entry = %v", entry)
	}
	if entry["token"] != "aa:bb" {
		t.Errorf("datagram token should be kept, got %v", entry["token"])
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, config.LoggingConfig{Level: "warn", Format: "text"}, "v")
	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info entry should be filtered at warn level")
	}
	if !strings.Contains(out, "shown") {
		t.Error("warn entry should be written at warn level")
	}
}
