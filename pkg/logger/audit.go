package logger

import (
	"context"
	"log/slog"
	"time"
)

// AuditLogger writes security events on a dedicated "audit" message so they
// can be filtered out of the regular request log.
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

func (al *AuditLogger) emit(level slog.Level, auditType, eventType string, attrs ...slog.Attr) {
	if al == nil || al.logger == nil {
		return
	}
	base := []slog.Attr{
		slog.String("audit_type", auditType),
		slog.String("event_type", eventType),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}
	al.logger.LogAttrs(context.Background(), level, "audit", append(base, attrs...)...)
}

// LogScore records one scored observation
func (al *AuditLogger) LogScore(clientIP, accountID string, success bool, status string, failCount int) {
	attrs := []slog.Attr{
		slog.String("ip_address", clientIP),
		slog.Bool("success", success),
		slog.String("status", status),
		slog.Int("fails_last_window", failCount),
	}
	if accountID != "" {
		attrs = append(attrs, slog.String("account_id", accountID))
	}

	level := slog.LevelInfo
	if status != "ok" {
		level = slog.LevelWarn
	}
	al.emit(level, "score", "observation", attrs...)
}

// LogChainRejection records a scoring submission with a missing or stale chain token
func (al *AuditLogger) LogChainRejection(peerIP string, tokenPresent bool) {
	al.emit(slog.LevelWarn, "chain", "token_rejected",
		slog.String("ip_address", peerIP),
		slog.Bool("token_present", tokenPresent),
	)
}

// LogToggle records an operator enabling or disabling enforcement
func (al *AuditLogger) LogToggle(actorID, ipAddress string, enabled bool) {
	al.emit(slog.LevelWarn, "security", "enforcement_toggled",
		slog.String("user_id", actorID),
		slog.String("ip_address", ipAddress),
		slog.Bool("enabled", enabled),
	)
}

// LogChainRotation records an operator forcing a chain rotation
func (al *AuditLogger) LogChainRotation(actorID, ipAddress string) {
	al.emit(slog.LevelInfo, "chain", "rotated",
		slog.String("user_id", actorID),
		slog.String("ip_address", ipAddress),
	)
}

// LogPolicyChange records policy creation or assignment
func (al *AuditLogger) LogPolicyChange(eventType, actorID string, metadata map[string]string) {
	attrs := []slog.Attr{slog.String("user_id", actorID)}
	for key, val := range metadata {
		attrs = append(attrs, slog.String(key, val))
	}
	al.emit(slog.LevelInfo, "policy", eventType, attrs...)
}

// LogGateDenial records a request rejected by a gate. reason is the internal
// detail and is never sent to the caller.
func (al *AuditLogger) LogGateDenial(gate, clientIP, path, reason string) {
	al.emit(slog.LevelWarn, "gate", "denied",
		slog.String("gate", gate),
		slog.String("ip_address", clientIP),
		slog.String("path", path),
		slog.String("reason", reason),
	)
}

// LogAuthAttempt logs login and registration outcomes
func (al *AuditLogger) LogAuthAttempt(eventType, username, clientIP string, success bool, failureReason string) {
	attrs := []slog.Attr{
		slog.Bool("success", success),
		slog.String("ip_address", clientIP),
	}
	if username != "" {
		attrs = append(attrs, slog.String("username", username))
	}
	if failureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", failureReason))
	}

	level := slog.LevelInfo
	if !success {
		level = slog.LevelWarn
	}
	al.emit(level, "auth", eventType, attrs...)
}
