package instrumentation

import (
	"context"
	"log/slog"
	"time"

	"github.com/teemow/sitekit/internal/logging"
)

// Audit event names.
const (
	AuditConnected          = "site_connected"
	AuditDisconnected       = "site_disconnected"
	AuditReauthRequired     = "reauth_required"
	AuditModuleActivated    = "module_activated"
	AuditModuleDeactivated  = "module_deactivated"
	AuditModuleSettingsSave = "module_settings_saved"
)

// AuditEvent describes one security-relevant state change.
type AuditEvent struct {
	Name    string
	Owner   string
	Module  string
	Scopes  []string
	Success bool
	Error   string
	TraceID string
	Time    time.Time
}

// LogAttrs returns the attributes written for the event. Owners are
// always hashed.
func (e AuditEvent) LogAttrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String("event", e.Name),
		logging.OwnerHash(e.Owner),
		slog.Bool("success", e.Success),
		slog.Time("time", e.Time),
	}
	if e.Module != "" {
		attrs = append(attrs, logging.Module(e.Module))
	}
	if len(e.Scopes) > 0 {
		attrs = append(attrs, slog.Any("scopes", e.Scopes))
	}
	if e.TraceID != "" {
		attrs = append(attrs, slog.String("trace_id", e.TraceID))
	}
	if e.Error != "" {
		attrs = append(attrs, slog.String("error", e.Error))
	}
	return attrs
}

// AuditLogger writes audit events to a dedicated slog stream.
// A nil *AuditLogger discards events.
type AuditLogger struct {
	logger  *slog.Logger
	enabled bool
	now     func() time.Time
}

// NewAuditLogger creates an enabled AuditLogger. A nil logger falls back to slog.Default().
func NewAuditLogger(logger *slog.Logger, enabled bool) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger:  logger.With(slog.String("stream", "audit")),
		enabled: enabled,
		now:     time.Now,
	}
}

// Log writes one event. Missing timestamps and trace ids are filled in from ctx.
func (al *AuditLogger) Log(ctx context.Context, e AuditEvent) {
	if al == nil || !al.enabled {
		return
	}
	if e.Time.IsZero() {
		e.Time = al.now()
	}
	if e.TraceID == "" {
		e.TraceID = GetTraceID(ctx)
	}

	level := slog.LevelInfo
	if !e.Success {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(ctx, level, "audit", e.LogAttrs()...)
}
