package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{LevelDebug, "debug"},
		{LevelInfo, "info"},
		{LevelWarn, "warn"},
		{LevelError, "error"},
		{Level(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.level.String(); got != tt.expected {
				t.Errorf("Level.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"ERROR", LevelError},
		{"invalid", LevelInfo},
		{"", LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestValidLevel(t *testing.T) {
	if !ValidLevel("warn") {
		t.Error("warn should be valid")
	}
	if ValidLevel("loud") {
		t.Error("loud should be invalid")
	}
}

func TestDefaultLoggerConfig(t *testing.T) {
	cfg := DefaultLoggerConfig("my-service")

	if cfg.ServiceName != "my-service" {
		t.Errorf("ServiceName = %v, want my-service", cfg.ServiceName)
	}
	if cfg.Level == "" {
		t.Error("Level should have a default")
	}
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LoggerConfig{
		ServiceName: "test-service",
		Level:       "debug",
		Format:      "json",
		Output:      &buf,
	})

	logger.Info("hello", "key", "value", "count", 3)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, buf.String())
	}
	if entry["msg"] != "hello" {
		t.Errorf("msg = %v, want hello", entry["msg"])
	}
	if entry["logger"] != "test-service" {
		t.Errorf("logger = %v, want test-service", entry["logger"])
	}
	if entry["key"] != "value" {
		t.Errorf("key = %v, want value", entry["key"])
	}
	if entry["count"] != float64(3) {
		t.Errorf("count = %v, want 3", entry["count"])
	}
}

func TestNewLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LoggerConfig{ServiceName: "quiet", Level: "warn", Output: &buf})

	logger.Debug("dropped")
	logger.Info("dropped")
	logger.Warn("kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "kept") {
		t.Errorf("line = %q, want the warn entry", lines[0])
	}
}

func TestNewLogger_Text(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LoggerConfig{ServiceName: "console", Format: "text", Output: &buf})

	logger.Info("plain message", "k", "v")

	if !strings.Contains(buf.String(), "plain message") {
		t.Errorf("output = %q, want message", buf.String())
	}
	if !strings.Contains(buf.String(), "INFO") {
		t.Errorf("output = %q, want capital level", buf.String())
	}
}

func TestLogger_With(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewFromCore("observed", core).With("request_id", "abc")

	logger.Error("failed", "step", "Resize")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["request_id"] != "abc" {
		t.Errorf("request_id = %v, want abc", fields["request_id"])
	}
	if fields["step"] != "Resize" {
		t.Errorf("step = %v, want Resize", fields["step"])
	}
	if logger.Name() != "observed" {
		t.Errorf("Name() = %v, want observed", logger.Name())
	}
}

func TestConfigure(t *testing.T) {
	prev := DefaultLoggerConfig("")
	defer Configure(prev.Level, prev.Format)

	Configure("debug", "text")
	cfg := DefaultLoggerConfig("svc")
	if cfg.Level != "debug" || cfg.Format != "text" {
		t.Errorf("DefaultLoggerConfig() = %+v, want debug/text", cfg)
	}

	// Empty values keep the current setting
	Configure("", "")
	cfg = DefaultLoggerConfig("svc")
	if cfg.Level != "debug" {
		t.Errorf("Level = %v, want debug", cfg.Level)
	}
}

func TestNop(t *testing.T) {
	logger := Nop()
	logger.Info("discarded", "key", "value")
}

func BenchmarkLogger_Info(b *testing.B) {
	var buf bytes.Buffer
	logger := NewLogger(LoggerConfig{ServiceName: "benchmark", Output: &buf})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.Info("benchmark message", "iteration", i)
	}
}
