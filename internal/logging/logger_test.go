package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

// TestLoggerEmitsJSON verifies entries are single-line JSON with level,
// message, and context.
func TestLoggerEmitsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelDebug)

	logger.Info("sync cycle finished", map[string]interface{}{"synced": 3})

	line := strings.TrimSpace(buf.String())
	var entry LogEntry
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log output is not valid JSON: %v (%s)", err, line)
	}
	if entry.Level != "INFO" || entry.Message != "sync cycle finished" {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if entry.Context["synced"] != float64(3) {
		t.Errorf("expected context to carry synced=3, got %v", entry.Context)
	}
	if entry.Timestamp == "" {
		t.Error("expected non-empty timestamp")
	}
}

// TestLoggerFiltersBelowMinLevel verifies sub-threshold levels are dropped.
func TestLoggerFiltersBelowMinLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelWarn)

	logger.Debug("noise")
	logger.Info("more noise")
	logger.Warn("kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected exactly one entry above threshold, got %d", len(lines))
	}
}

// TestErrorWithCode verifies the taxonomy code and cause ride along on error
// entries.
func TestErrorWithCode(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelDebug)

	logger.ErrorWithCode("publish failed", "TRANSIENT_NETWORK", errors.New("connection reset"))

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not valid JSON: %v", err)
	}
	if entry.Code != "TRANSIENT_NETWORK" {
		t.Errorf("expected code TRANSIENT_NETWORK, got %q", entry.Code)
	}
	if entry.Error != "connection reset" {
		t.Errorf("expected cause in error field, got %q", entry.Error)
	}
}

// TestMergeContext verifies multiple context maps collapse into one.
func TestMergeContext(t *testing.T) {
	merged := mergeContext(
		map[string]interface{}{"a": 1},
		map[string]interface{}{"b": 2},
	)
	if merged["a"] != 1 || merged["b"] != 2 {
		t.Errorf("expected merged context with both keys, got %v", merged)
	}
	if mergeContext() != nil {
		t.Error("expected nil for empty context")
	}
}
