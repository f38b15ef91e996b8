package api

import (
	"log/slog"
	"net/http"
	"time"
)

// AuditEvent identifies the type of state-changing action being logged.
type AuditEvent string

const (
	AuditSessionEstablished AuditEvent = "session_established"
	AuditSessionTornDown    AuditEvent = "session_torn_down"
	AuditCSRCreated         AuditEvent = "csr_created"
	AuditCSRRevoked         AuditEvent = "csr_revoked"
	AuditCSRRenewed         AuditEvent = "csr_renewed"
	AuditCatalogPublished   AuditEvent = "catalog_published"
	AuditExpiryScanned      AuditEvent = "expiry_scanned"
)

// auditLogger wraps slog.Logger for structured audit logging.
type auditLogger struct {
	logger *slog.Logger
}

func newAuditLogger(logger *slog.Logger) *auditLogger {
	return &auditLogger{
		logger: logger.With("component", "audit"),
	}
}

// log writes a structured audit log entry.
func (al *auditLogger) log(event AuditEvent, r *http.Request, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}
	baseAttrs = append(baseAttrs, attrs...)
	al.logger.LogAttrs(r.Context(), slog.LevelInfo, "audit", baseAttrs...)
}

// logSession is a convenience for events scoped to a session.
func (al *auditLogger) logSession(event AuditEvent, r *http.Request, sessionID string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("session_id", sessionID),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, attrs...)
}
