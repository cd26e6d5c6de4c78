package logger

import (
	"time"

	"go.uber.org/zap"
)

// AuditEvent represents an audit log event
type AuditEvent struct {
	EventType string                 `json:"event_type"`
	Actor     string                 `json:"actor"`  // login or session that performed the action
	Action    string                 `json:"action"` // What action was performed
	Status    string                 `json:"status"` // success, failure, denied
	Reason    string                 `json:"reason,omitempty"`
	SessionID string                 `json:"session_id,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// AuditLogger writes security relevant connector events
type AuditLogger struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *zap.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger.With(zap.String("log_type", "audit")),
		now:    time.Now,
	}
}

// Log logs an audit event
func (a *AuditLogger) Log(event *AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = a.now()
	}

	fields := []zap.Field{
		zap.String("event_type", event.EventType),
		zap.String("actor", event.Actor),
		zap.String("action", event.Action),
		zap.String("status", event.Status),
		zap.Time("timestamp", event.Timestamp),
	}
	if event.Reason != "" {
		fields = append(fields, zap.String("reason", event.Reason))
	}
	if event.SessionID != "" {
		fields = append(fields, zap.String("session_id", event.SessionID))
	}
	if len(event.Metadata) > 0 {
		fields = append(fields, zap.Any("metadata", event.Metadata))
	}

	// Log at appropriate level based on status
	switch event.Status {
	case "failure", "error":
		a.logger.Error("Audit event", fields...)
	case "denied":
		a.logger.Warn("Audit event", fields...)
	default:
		a.logger.Info("Audit event", fields...)
	}
}

// LogAuthentication records the outcome of a credential check. Passwords
// are never logged.
func (a *AuditLogger) LogAuthentication(login string, authenticated bool, reason string) {
	status := "success"
	if !authenticated {
		status = "denied"
	}
	a.Log(&AuditEvent{
		EventType: "authentication",
		Actor:     login,
		Action:    "directory_bind",
		Status:    status,
		Reason:    reason,
	})
}

// LogSessionStarted records a control session opening
func (a *AuditLogger) LogSessionStarted(sessionID, backendHost string) {
	a.Log(&AuditEvent{
		EventType: "session",
		Actor:     "connector",
		Action:    "start",
		Status:    "success",
		SessionID: sessionID,
		Metadata:  map[string]interface{}{"backend": backendHost},
	})
}

// LogSessionFailed records a control session that could not be opened
func (a *AuditLogger) LogSessionFailed(sessionID, reason string) {
	a.Log(&AuditEvent{
		EventType: "session",
		Actor:     "connector",
		Action:    "start",
		Status:    "failure",
		Reason:    reason,
		SessionID: sessionID,
	})
}

// LogSessionStopped records an operator stop
func (a *AuditLogger) LogSessionStopped(sessionID string) {
	a.Log(&AuditEvent{
		EventType: "session",
		Actor:     "operator",
		Action:    "stop",
		Status:    "success",
		SessionID: sessionID,
	})
}
