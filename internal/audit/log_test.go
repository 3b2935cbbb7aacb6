package audit

import (
	"bytes"
	"encoding/json"
	"testing"

	"orgdir.org/internal/obs"
)

func TestLog(t *testing.T) {
	logger := obs.Logger()
	original := logger.Writer()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	Log(Event{
		Actor:     "admin",
		Action:    "user.lock",
		Target:    "carol",
		RequestID: "req-123",
		Fields:    map[string]any{"reason": "offboarding"},
	})

	line := buf.String()
	if line == "" {
		t.Fatal("expected log output")
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "audit" || entry["action"] != "user.lock" {
		t.Fatalf("entry = %v", entry)
	}
	if entry["actor"] != "admin" || entry["target"] != "carol" {
		t.Fatalf("entry = %v", entry)
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("entry = %v", entry)
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["reason"] != "offboarding" {
		t.Fatalf("fields = %v", entry["fields"])
	}
}

func TestLogIgnoresEmptyAction(t *testing.T) {
	logger := obs.Logger()
	original := logger.Writer()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	Log(Event{Actor: "admin"})
	if buf.Len() != 0 {
		t.Fatalf("output = %q", buf.String())
	}
}
