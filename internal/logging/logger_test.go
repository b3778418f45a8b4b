// Package logging provides unit tests for the structured logger.
package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

// decodeLastEntry parses the final JSON line written to buf.
func decodeLastEntry(t *testing.T, buf *bytes.Buffer) LogEntry {
	t.Helper()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) == 0 || lines[0] == "" {
		t.Fatal("Expected at least one log line")
	}

	var entry LogEntry
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &entry); err != nil {
		t.Fatalf("Failed to decode log line: %v", err)
	}
	return entry
}

// TestLogger_Info verifies info logging with context.
func TestLogger_Info(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelDebug)

	logger.Info("drain pass started", map[string]interface{}{"pending": 3})

	entry := decodeLastEntry(t, &buf)
	if entry.Level != "INFO" {
		t.Errorf("Expected INFO level, got %s", entry.Level)
	}
	if entry.Message != "drain pass started" {
		t.Errorf("Unexpected message: %s", entry.Message)
	}
	if entry.Context["pending"] != float64(3) {
		t.Errorf("Expected pending=3 in context, got %v", entry.Context["pending"])
	}
}

// TestLogger_LevelFiltering verifies messages below the minimum level are dropped.
func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelWarn)

	logger.Debug("noise")
	logger.Info("noise")

	if buf.Len() != 0 {
		t.Errorf("Expected no output below WARN, got %q", buf.String())
	}

	logger.Warn("something odd")
	if buf.Len() == 0 {
		t.Error("Expected WARN to be written")
	}
}

// TestLogger_Error verifies error logging includes the error string.
func TestLogger_Error(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelDebug)

	logger.Error("mutation failed", fmt.Errorf("connection reset"))

	entry := decodeLastEntry(t, &buf)
	if entry.Error != "connection reset" {
		t.Errorf("Expected error field, got %q", entry.Error)
	}
}

// TestLogger_ErrorWithCode verifies error logging with code.
func TestLogger_ErrorWithCode(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelDebug)

	logger.ErrorWithCode("dead-lettered mutation", "STORAGE_ERROR",
		fmt.Errorf("disk full"), map[string]interface{}{"mutation_id": "m1"})

	entry := decodeLastEntry(t, &buf)
	if entry.Code != "STORAGE_ERROR" {
		t.Errorf("Expected code field, got %q", entry.Code)
	}
	if entry.Context["mutation_id"] != "m1" {
		t.Errorf("Expected mutation_id in context, got %v", entry.Context)
	}
}

// TestLogger_MergedContext verifies multiple context maps merge into one.
func TestLogger_MergedContext(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelDebug)

	logger.Info("merged",
		map[string]interface{}{"a": "1"},
		map[string]interface{}{"b": "2"})

	entry := decodeLastEntry(t, &buf)
	if entry.Context["a"] != "1" || entry.Context["b"] != "2" {
		t.Errorf("Expected merged context, got %v", entry.Context)
	}
}
