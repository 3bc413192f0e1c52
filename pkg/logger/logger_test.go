package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestInfoCFWritesComponentAndFields(t *testing.T) {
	var buf bytes.Buffer
	Configure(&buf, "info", true)
	defer Configure(&bytes.Buffer{}, "info", false)

	InfoCF("agent", "Message handled", map[string]interface{}{
		"contact_id": "whatsapp:1",
	})

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line %q: %v", buf.String(), err)
	}
	if entry["component"] != "agent" {
		t.Fatalf("component = %v, want agent", entry["component"])
	}
	if entry["contact_id"] != "whatsapp:1" {
		t.Fatalf("contact_id = %v", entry["contact_id"])
	}
	if entry["message"] != "Message handled" {
		t.Fatalf("message = %v", entry["message"])
	}
}

func TestLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	Configure(&buf, "warn", true)
	defer Configure(&bytes.Buffer{}, "info", false)

	DebugC("agent", "hidden")
	InfoC("agent", "hidden too")
	WarnC("agent", "shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("expected debug/info to be filtered, got %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("expected warn line, got %q", out)
	}
	if GetLevel() != WARN {
		t.Fatalf("GetLevel() = %v, want WARN", GetLevel())
	}
}
