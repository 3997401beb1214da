package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLogLevels(t *testing.T) {
	tmpDir := t.TempDir()
	logFile := filepath.Join(tmpDir, "test.log")

	log := New(Config{
		Level:  "debug",
		Output: logFile,
		Format: "text",
	})

	log.Debug("debug message")
	log.Info("info message")
	log.Warn("warn message")
	log.Error("error message")

	data, err := os.ReadFile(logFile) // nolint:gosec
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}

	content := string(data)
	for _, want := range []string{"debug message", "info message", "warn message", "error message"} {
		if !strings.Contains(content, want) {
			t.Errorf("%q not found in log", want)
		}
	}
}

func TestLogLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, Config{Level: "warn"})

	log.Debug("debug message")
	log.Info("info message")
	log.Warn("warn message")
	log.Error("error message")

	content := buf.String()
	if strings.Contains(content, "debug message") {
		t.Error("Debug message should be filtered out")
	}
	if strings.Contains(content, "info message") {
		t.Error("Info message should be filtered out")
	}
	if !strings.Contains(content, "warn message") {
		t.Error("Warn message not found")
	}
	if !strings.Contains(content, "error message") {
		t.Error("Error message not found")
	}
}

func TestLogWith(t *testing.T) {
	var buf bytes.Buffer
	base := NewWithWriter(&buf, Config{Level: "info"})

	base.With("component", "session", "path", "/var/log/app.log").Info("session watching")

	content := buf.String()
	if !strings.Contains(content, "component=session") {
		t.Errorf("context field missing: %s", content)
	}
	if !strings.Contains(content, "path=/var/log/app.log") {
		t.Errorf("path field missing: %s", content)
	}
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, Config{Level: "info", Format: "json"})

	log.Info("delta delivered", "lines", 3, "subscribers", 2)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to parse JSON log: %v", err)
	}
	if msg, ok := entry["msg"].(string); !ok || msg != "delta delivered" {
		t.Errorf("msg = %v, want delta delivered", entry["msg"])
	}
	if lines, ok := entry["lines"].(float64); !ok || lines != 3 {
		t.Errorf("lines = %v, want 3", entry["lines"])
	}
}

func TestNoop(t *testing.T) {
	log := Noop()
	log.Debug("debug")
	log.Info("info")
	log.Warn("warn")
	log.Error("error")
	log.With("k", "v").Info("still nothing")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level string
		want  string
	}{
		{"debug", "DEBUG"},
		{"info", "INFO"},
		{"warn", "WARN"},
		{"warning", "WARN"},
		{"error", "ERROR"},
		{"unknown", "INFO"},
		{"", "INFO"},
		{"DEBUG", "DEBUG"},
		{"WaRn", "WARN"},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			if got := parseLevel(tt.level).String(); got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.level, got, tt.want)
			}
		})
	}
}

func TestValidLevel(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "warning", "error", "INFO"} {
		if !ValidLevel(level) {
			t.Errorf("ValidLevel(%q) = false, want true", level)
		}
	}
	for _, level := range []string{"", "trace", "fatal"} {
		if ValidLevel(level) {
			t.Errorf("ValidLevel(%q) = true, want false", level)
		}
	}
}

func TestGetWriter(t *testing.T) {
	for _, output := range []string{"stdout", "stderr", "", "STDOUT"} {
		writer, err := getWriter(output)
		if err != nil {
			t.Errorf("getWriter(%q) error = %v", output, err)
		}
		if writer == nil {
			t.Errorf("getWriter(%q) returned nil writer", output)
		}
	}

	if _, err := getWriter(filepath.Join(t.TempDir(), "missing", "dir", "x.log")); err == nil {
		t.Error("getWriter() error = nil for unwritable path")
	}
}

func BenchmarkLogWithFields(b *testing.B) {
	log := Noop()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		log.Info("benchmark message", "path", "/var/log/app.log", "lines", 42, "reset", false)
	}
}
