package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	log := New()
	if log == nil {
		t.Fatal("New() returned nil logger")
	}

	if log.level != INFO {
		t.Errorf("Expected default level INFO, got %v", log.level)
	}
}

func TestNewWithConfig(t *testing.T) {
	buf := bytes.NewBuffer(nil)

	log := NewWithConfig(Config{
		Level:  DEBUG,
		Output: buf,
		Format: "text",
	})

	if log.level != DEBUG {
		t.Errorf("Expected level DEBUG, got %v", log.level)
	}

	log.Info("test message")

	output := buf.String()
	if !strings.Contains(output, "test message") {
		t.Error("Log output doesn't contain message")
	}
	if !strings.Contains(output, "[INFO]") {
		t.Error("Log output doesn't contain level")
	}
}

func TestWithField(t *testing.T) {
	buf := bytes.NewBuffer(nil)
	log := NewWithConfig(Config{Level: INFO, Output: buf})

	log.WithField("component", "coordinator").Info("started")

	output := buf.String()
	if !strings.Contains(output, "component=coordinator") {
		t.Errorf("Log output missing field: %s", output)
	}
}

func TestWithFieldsDoesNotMutateParent(t *testing.T) {
	buf := bytes.NewBuffer(nil)
	log := NewWithConfig(Config{Level: INFO, Output: buf})

	derived := log.WithFields("sessionId", "s-1")
	if len(log.fields) != 0 {
		t.Error("WithFields mutated the parent logger")
	}
	if len(derived.fields) != 1 {
		t.Errorf("Expected 1 field on derived logger, got %d", len(derived.fields))
	}
}

func TestLevelFiltering(t *testing.T) {
	buf := bytes.NewBuffer(nil)
	log := NewWithConfig(Config{Level: WARN, Output: buf})

	log.Debug("dropped")
	log.Info("dropped too")
	log.Warn("kept")

	output := buf.String()
	if strings.Contains(output, "dropped") {
		t.Errorf("Log below level was emitted: %s", output)
	}
	if !strings.Contains(output, "kept") {
		t.Errorf("Log at level was not emitted: %s", output)
	}
}

func TestJSONFormat(t *testing.T) {
	buf := bytes.NewBuffer(nil)
	log := NewWithConfig(Config{Level: INFO, Output: buf, Format: "json"})

	log.WithField("jobId", "extract").Info("job dispatched")

	var entry map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("Output is not valid JSON: %v", err)
	}

	if entry["message"] != "job dispatched" {
		t.Errorf("message = %v, want 'job dispatched'", entry["message"])
	}
	if entry["jobId"] != "extract" {
		t.Errorf("jobId = %v, want 'extract'", entry["jobId"])
	}
	if entry["level"] != "INFO" {
		t.Errorf("level = %v, want INFO", entry["level"])
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":   DEBUG,
		"INFO":    INFO,
		"Warn":    WARN,
		"warning": WARN,
		"error":   ERROR,
		"bogus":   INFO,
		"":        INFO,
	}

	for input, want := range cases {
		if got := ParseLevel(input); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}
