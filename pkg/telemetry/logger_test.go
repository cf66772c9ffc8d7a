package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: "debug", Format: "json", Output: &buf})

	logger.NewComponentLogger("lifecycle").
		WithCommand("up").
		WithProject("p-123").
		WithStage("configured").
		Info("applying infrastructure changes")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	for key, want := range map[string]string{
		"component":  "lifecycle",
		"command":    "up",
		"project_id": "p-123",
		"stage":      "configured",
		"message":    "applying infrastructure changes",
	} {
		if entry[key] != want {
			t.Errorf("field %q = %v, want %q", key, entry[key], want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: "warn", Format: "json", Output: &buf})

	logger.Debug("hidden")
	logger.Info("hidden too")
	logger.Warn("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("levels below warn should be filtered, got %q", out)
	}
	if !strings.Contains(out, "visible") {
		t.Errorf("warn should pass the filter, got %q", out)
	}
}

func TestContextRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: "info", Format: "json", Output: &buf})

	ctx := logger.WithContext(context.Background())
	FromContext(ctx).Info("through context")

	if !strings.Contains(buf.String(), "through context") {
		t.Error("logger from context did not write to the configured output")
	}

	// A bare context still yields a usable logger.
	FromContext(context.Background()).Debug("no panic")
}
