// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent records a security-relevant action.
//
// # Event Types
//
//   - Authentication: "auth.login", "auth.register", "auth.logout"
//   - Tenants: "tenant.provision", "tenant.update", "tenant.delete"
//   - Users: "user.create"
//   - Tasks: "task.delete"
//   - Authorization: "authz.denied"
//
// Example:
//
//	event := AuditEvent{
//	    EventType:    "task.delete",
//	    Timestamp:    time.Now().UTC(),
//	    UserID:       principal.UserID,
//	    TenantID:     principal.TenantID,
//	    ResourceType: "task",
//	    ResourceID:   taskID,
//	    Outcome:      "success",
//	}
type AuditEvent struct {
	EventType string

	// Timestamp is set by the logger when zero.
	Timestamp time.Time

	UserID   string
	TenantID string

	ResourceType string
	ResourceID   string

	// Outcome is "success", "failure" or "denied".
	Outcome string

	Metadata map[string]any
}

// AuditLogger records audit events.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type AuditLogger interface {
	// Log records one event. It should not block on slow sinks.
	Log(ctx context.Context, event AuditEvent) error

	// Flush writes any buffered events. Called during shutdown.
	Flush(ctx context.Context) error
}

// NopAuditLogger discards every event.
type NopAuditLogger struct{}

// Log does nothing.
func (l *NopAuditLogger) Log(_ context.Context, _ AuditEvent) error {
	return nil
}

// Flush does nothing.
func (l *NopAuditLogger) Flush(_ context.Context) error {
	return nil
}

// SlogAuditLogger writes audit events as structured log records under the
// "audit" group.
type SlogAuditLogger struct {
	logger *slog.Logger
}

// NewSlogAuditLogger creates an audit logger writing to logger, or to
// slog.Default() when logger is nil.
func NewSlogAuditLogger(logger *slog.Logger) *SlogAuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAuditLogger{logger: logger}
}

// Log writes the event at Info level, or Warn for denials and failures.
func (l *SlogAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	level := slog.LevelInfo
	if event.Outcome != "success" {
		level = slog.LevelWarn
	}

	attrs := []any{
		slog.String("event_type", event.EventType),
		slog.Time("timestamp", event.Timestamp),
		slog.String("user_id", event.UserID),
		slog.String("tenant_id", event.TenantID),
		slog.String("resource_type", event.ResourceType),
		slog.String("resource_id", event.ResourceID),
		slog.String("outcome", event.Outcome),
	}
	if len(event.Metadata) > 0 {
		attrs = append(attrs, slog.Any("metadata", event.Metadata))
	}
	l.logger.Log(ctx, level, "audit", slog.Group("audit", attrs...))
	return nil
}

// Flush does nothing; slog handlers write synchronously.
func (l *SlogAuditLogger) Flush(_ context.Context) error {
	return nil
}

var (
	_ AuditLogger = (*NopAuditLogger)(nil)
	_ AuditLogger = (*SlogAuditLogger)(nil)
)
