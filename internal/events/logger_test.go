package events

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestEventLoggerEmitsJSONWithBaseAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := NewEventLoggerWithWriter("test-host", 42, &buf)

	logger.LogBatchSent("batch-1", 3, 17)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if entry["msg"] != "batch_sent" {
		t.Fatalf("expected msg batch_sent, got %v", entry["msg"])
	}
	if entry["host"] != "test-host" || entry["pid"] != float64(42) {
		t.Fatalf("missing base attributes: %v", entry)
	}
	if entry["records"] != float64(3) || entry["batch_id"] != "batch-1" {
		t.Fatalf("missing event attributes: %v", entry)
	}
}

func TestQuarantineLogsAtWarn(t *testing.T) {
	var buf bytes.Buffer
	logger := NewEventLoggerWithWriter("h", 1, &buf)

	logger.LogQuarantined("parse error: bad")

	if !strings.Contains(buf.String(), `"level":"WARN"`) {
		t.Fatalf("expected WARN level, got %s", buf.String())
	}
}

func TestGlobalLoggerFallsBackToNoop(t *testing.T) {
	SetGlobalEventLogger(nil)
	logger := GetGlobalEventLogger()
	if logger == nil {
		t.Fatal("expected a usable logger")
	}
	logger.LogQuarantined("must not panic")
}
