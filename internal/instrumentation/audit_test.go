package instrumentation

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestAuditLogger_Log(t *testing.T) {
	var buf bytes.Buffer
	al := NewAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)), true)
	al.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	al.Log(context.Background(), AuditEvent{
		Name:    AuditModuleActivated,
		Owner:   "42",
		Module:  "analytics",
		Success: true,
	})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if entry["event"] != AuditModuleActivated {
		t.Errorf("event = %v", entry["event"])
	}
	if entry["module"] != "analytics" {
		t.Errorf("module = %v", entry["module"])
	}
	if entry["stream"] != "audit" {
		t.Errorf("stream = %v", entry["stream"])
	}
	if entry["level"] != "INFO" {
		t.Errorf("level = %v", entry["level"])
	}
	if strings.Contains(buf.String(), `"42"`) {
		t.Error("owner id must be hashed in audit output")
	}
}

func TestAuditLogger_FailureIsWarning(t *testing.T) {
	var buf bytes.Buffer
	al := NewAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)), true)

	al.Log(context.Background(), AuditEvent{
		Name:  AuditReauthRequired,
		Owner: "1",
		Error: "refresh token rejected",
	})

	if !strings.Contains(buf.String(), `"level":"WARN"`) {
		t.Errorf("expected WARN level, got %s", buf.String())
	}
	if !strings.Contains(buf.String(), "refresh token rejected") {
		t.Errorf("expected error text, got %s", buf.String())
	}
}

func TestAuditLogger_DisabledAndNil(t *testing.T) {
	var buf bytes.Buffer
	NewAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)), false).
		Log(context.Background(), AuditEvent{Name: AuditConnected, Owner: "1", Success: true})
	if buf.Len() != 0 {
		t.Errorf("disabled audit logger wrote %q", buf.String())
	}

	var al *AuditLogger
	al.Log(context.Background(), AuditEvent{Name: AuditConnected})
}
