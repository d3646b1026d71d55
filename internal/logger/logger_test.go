package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	cfg := Config{
		Level:  "info",
		Format: "text",
	}
	logger := New(cfg)
	if logger == nil {
		t.Error("Expected logger to not be nil")
	}

	cfg.Format = "json"
	logger = New(cfg)
	if logger == nil {
		t.Error("Expected logger to not be nil")
	}

	// Invalid level should default to info
	cfg.Level = "invalid"
	logger = New(cfg)
	if logger == nil {
		t.Error("Expected logger to not be nil")
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf, Level: "warn", Format: "text"})

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("Expected info record to be filtered, got %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("Expected warn record in output, got %q", out)
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf, Format: "json"})

	logger.WithComponent("drain").Info("hello")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("Failed to decode record: %v", err)
	}
	if rec["component"] != "drain" {
		t.Errorf("Expected component drain, got %v", rec["component"])
	}
}

func TestWithJob(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf, Format: "json"})

	logger.WithJob("job-123", "cards").Info("running")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("Failed to decode record: %v", err)
	}
	if rec["job_id"] != "job-123" || rec["job_type"] != "cards" {
		t.Errorf("Expected job attributes, got %v", rec)
	}
}

func TestWithScope(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf, Format: "json"})

	logger.WithScope("pokemon", "").Info("game only")
	logger.WithScope("pokemon", "base1").Info("with set")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(lines))
	}

	var first, second map[string]any
	_ = json.Unmarshal([]byte(lines[0]), &first)
	_ = json.Unmarshal([]byte(lines[1]), &second)

	if _, ok := first["set_id"]; ok {
		t.Error("Expected no set_id on game scoped logger")
	}
	if second["set_id"] != "base1" {
		t.Errorf("Expected set_id base1, got %v", second["set_id"])
	}
}

func TestDefault(t *testing.T) {
	if Default() == nil {
		t.Error("Expected default logger to not be nil")
	}
	if Discard() == nil {
		t.Error("Expected discard logger to not be nil")
	}
}
