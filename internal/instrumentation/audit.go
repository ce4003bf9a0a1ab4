package instrumentation

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/teemow/inboxfleet/internal/logging"
)

// AuditEventType names an audited event.
type AuditEventType string

const (
	AuditToolInvoked     AuditEventType = "tool_invoked"
	AuditSessionResolved AuditEventType = "session_resolved"
	AuditSessionRejected AuditEventType = "session_rejected"
	AuditTokenRefreshed  AuditEventType = "token_refreshed"
	AuditRefreshFailed   AuditEventType = "token_refresh_failed"
	AuditTenantImported  AuditEventType = "tenant_imported"
	AuditSecondaryKeySet AuditEventType = "secondary_key_updated"
	AuditTenantRevoked   AuditEventType = "tenant_revoked"
	AuditSessionsPurged  AuditEventType = "sessions_purged"
)

// AuditEvent is one audit record.
type AuditEvent struct {
	Type      AuditEventType
	Timestamp time.Time
	TenantID  string
	// Email is hashed before logging unless the logger includes PII.
	Email   string
	Tool    string
	Success bool
	// Reason is the error kind or message for failed events.
	Reason   string
	Duration time.Duration
	Metadata map[string]string
}

// AuditLogger writes audit_event records to a slog.Logger.
// A nil *AuditLogger discards everything.
type AuditLogger struct {
	logger     *slog.Logger
	includePII bool
	enabled    bool
	now        func() time.Time
}

// NewAuditLogger returns an AuditLogger configured by cfg.
func NewAuditLogger(logger *slog.Logger, cfg AuditConfig) *AuditLogger {
	return &AuditLogger{
		logger:     logging.OrDefault(logger),
		includePII: cfg.IncludePII,
		enabled:    cfg.Enabled,
		now:        time.Now,
	}
}

// Log writes event. Failed events and rejections log at warn level.
func (a *AuditLogger) Log(ctx context.Context, event AuditEvent) {
	if a == nil || !a.enabled {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = a.now()
	}

	level := slog.LevelInfo
	if !event.Success || event.Type == AuditSessionRejected || event.Type == AuditRefreshFailed {
		level = slog.LevelWarn
	}

	attrs := []slog.Attr{
		slog.String("event_type", string(event.Type)),
		slog.Time("timestamp", event.Timestamp),
		slog.Bool("success", event.Success),
	}
	if event.TenantID != "" {
		attrs = append(attrs, slog.String(logging.KeyTenantID, event.TenantID))
	}
	if event.Email != "" {
		if a.includePII {
			attrs = append(attrs, slog.String("user", event.Email))
		} else {
			attrs = append(attrs,
				slog.String(logging.KeyUserHash, logging.AnonymizeEmail(event.Email)),
				slog.String("user_domain", logging.ExtractDomain(event.Email)),
			)
		}
	}
	if event.Tool != "" {
		attrs = append(attrs, slog.String(logging.KeyTool, event.Tool))
	}
	if event.Duration > 0 {
		attrs = append(attrs, slog.Duration(logging.KeyDuration, event.Duration))
	}
	if event.Reason != "" {
		attrs = append(attrs, slog.String("reason", event.Reason))
	}
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		attrs = append(attrs, slog.String("trace_id", sc.TraceID().String()))
	}
	for k, v := range event.Metadata {
		attrs = append(attrs, slog.String("meta_"+k, v))
	}

	a.logger.LogAttrs(ctx, level, "audit_event", attrs...)
}

// ToolInvoked audits a completed tool call.
func (a *AuditLogger) ToolInvoked(ctx context.Context, tool, tenantID, email string, d time.Duration, err error) {
	ev := AuditEvent{Type: AuditToolInvoked, TenantID: tenantID, Email: email, Tool: tool, Duration: d, Success: err == nil}
	if err != nil {
		ev.Reason = err.Error()
	}
	a.Log(ctx, ev)
}

// SessionResolved audits a successful session lookup.
func (a *AuditLogger) SessionResolved(ctx context.Context, tenantID, email string) {
	a.Log(ctx, AuditEvent{Type: AuditSessionResolved, TenantID: tenantID, Email: email, Success: true})
}

// SessionRejected audits a session lookup that failed.
func (a *AuditLogger) SessionRejected(ctx context.Context, tenantID, reason string) {
	a.Log(ctx, AuditEvent{Type: AuditSessionRejected, TenantID: tenantID, Reason: reason})
}

// TokenRefreshed audits an OAuth refresh attempt.
func (a *AuditLogger) TokenRefreshed(ctx context.Context, tenantID, email string, err error) {
	if err != nil {
		a.Log(ctx, AuditEvent{Type: AuditRefreshFailed, TenantID: tenantID, Email: email, Reason: err.Error()})
		return
	}
	a.Log(ctx, AuditEvent{Type: AuditTokenRefreshed, TenantID: tenantID, Email: email, Success: true})
}

// SessionsPurged audits a maintenance sweep.
func (a *AuditLogger) SessionsPurged(ctx context.Context, n int64) {
	a.Log(ctx, AuditEvent{
		Type:     AuditSessionsPurged,
		Success:  true,
		Metadata: map[string]string{"count": strconv.FormatInt(n, 10)},
	})
}
