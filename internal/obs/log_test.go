package obs

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestLogJSONStampsDefaults(t *testing.T) {
	logger := Logger()
	original := logger.Writer()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	LogJSON(map[string]any{"msg": "hello"})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["msg"] != "hello" {
		t.Fatalf("unexpected msg: %v", entry["msg"])
	}
	if entry["ts"] == nil || entry["ts"] == "" {
		t.Fatal("ts not stamped")
	}
	if entry["level"] != "info" {
		t.Fatalf("level = %v", entry["level"])
	}
}

func TestLogJSONKeepsExplicitLevel(t *testing.T) {
	logger := Logger()
	original := logger.Writer()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	LogJSON(map[string]any{"msg": "boom", "level": "error"})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["level"] != "error" {
		t.Fatalf("level = %v", entry["level"])
	}
}
