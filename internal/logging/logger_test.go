package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"workboard/api/internal/config"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New(config.LoggerConfig{Level: "loud", Format: "json", Output: "stdout"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestFileOutputWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workboard.log")
	logger, err := New(config.LoggerConfig{Level: "info", Format: "json", Output: "file", Filename: path, MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	logger.WithComponent("test").WithBoard("ws1", "p1").Infow("board loaded", "tasks", 3)
	logger.Debugw("filtered out")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 log line, got %d: %q", len(lines), raw)
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["msg"] != "board loaded" || entry["component"] != "test" || entry["workspace_id"] != "ws1" || entry["period_id"] != "p1" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestWithErrorAddsField(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := FromZap(zap.New(core))

	logger.WithError(os.ErrNotExist).Warnw("lookup failed")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["error"]; got != os.ErrNotExist.Error() {
		t.Fatalf("expected error field %q, got %v", os.ErrNotExist.Error(), got)
	}
}
