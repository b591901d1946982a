package logger

import (
	"context"
	"log/slog"
	"time"
)

// AdminAction describes an operator action taken through the admin API or CLI
type AdminAction struct {
	Action    string // e.g. "alert.acknowledge", "lockout.clear"
	ActorID   string
	Target    string
	IPAddress string
	Success   bool
	Metadata  map[string]string
}

// AuditLogger writes operator actions to the structured log
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

// LogAdminAction logs one operator action
func (al *AuditLogger) LogAdminAction(ctx context.Context, action AdminAction) {
	attrs := []slog.Attr{
		slog.String("audit_type", "admin"),
		slog.String("action", action.Action),
		slog.Bool("success", action.Success),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if action.ActorID != "" {
		attrs = append(attrs, slog.String("actor_id", action.ActorID))
	}
	if action.Target != "" {
		attrs = append(attrs, slog.String("target", action.Target))
	}
	if action.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", action.IPAddress))
	}
	for key, val := range action.Metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	if action.Success {
		al.logger.LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
	} else {
		al.logger.LogAttrs(ctx, slog.LevelWarn, "audit", attrs...)
	}
}
