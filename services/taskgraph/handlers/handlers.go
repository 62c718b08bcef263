// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers provides the HTTP and WebSocket handlers of the task
// graph service.
//
// Every handler resolves the caller with middleware.GetPrincipal, delegates
// to the engine or the identity directory, and renders failures through a
// single error mapping so the same error class always produces the same
// status and code.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/AleutianTasks/pkg/extensions"
	"github.com/AleutianAI/AleutianTasks/services/taskgraph/datatypes"
	"github.com/AleutianAI/AleutianTasks/services/taskgraph/engine"
	"github.com/AleutianAI/AleutianTasks/services/taskgraph/fanout"
	"github.com/AleutianAI/AleutianTasks/services/taskgraph/identity"
	"github.com/AleutianAI/AleutianTasks/services/taskgraph/middleware"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
)

// ServiceVersion is reported by /health and the CLI.
const ServiceVersion = "0.3.0"

// Pinger reports whether a backing dependency is usable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures Handlers. Zero values fall back to defaults.
type Options struct {
	Audit     extensions.AuditLogger
	Readiness Pinger
	Version   string
	WebSocket WebSocketConfig

	// Gatherer backs /metrics. Nil means prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
}

// Handlers contains the HTTP handlers for the task graph service.
type Handlers struct {
	engine    *engine.Engine
	directory *identity.Directory
	hub       *fanout.Hub
	audit     extensions.AuditLogger
	readiness Pinger
	version   string
	ws        WebSocketConfig
	upgrader  websocket.Upgrader
	gatherer  prometheus.Gatherer
}

// NewHandlers creates handlers over the engine, directory and hub.
func NewHandlers(eng *engine.Engine, dir *identity.Directory, hub *fanout.Hub, opts Options) *Handlers {
	h := &Handlers{
		engine:    eng,
		directory: dir,
		hub:       hub,
		audit:     opts.Audit,
		readiness: opts.Readiness,
		version:   opts.Version,
		ws:        opts.WebSocket.withDefaults(),
		gatherer:  opts.Gatherer,
	}
	if h.audit == nil {
		h.audit = &extensions.NopAuditLogger{}
	}
	if h.gatherer == nil {
		h.gatherer = prometheus.DefaultGatherer
	}
	if h.version == "" {
		h.version = ServiceVersion
	}
	h.upgrader = newUpgrader(h.ws)
	return h
}

// requestLogger returns a logger tagged with the request id and handler.
func requestLogger(c *gin.Context, handler string) *slog.Logger {
	return slog.With("request_id", middleware.GetRequestID(c), "handler", handler)
}

// requirePrincipal returns the authenticated caller, or writes 401 and
// reports false when the route was mounted without AuthMiddleware.
func requirePrincipal(c *gin.Context) (datatypes.Principal, bool) {
	p, ok := middleware.GetPrincipal(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
			Error: "authentication required",
			Code:  CodeUnauthorized,
		})
	}
	return p, ok
}

// bindJSON decodes the request body into v, writing 400 on failure. An
// empty body is treated as an empty object.
func bindJSON(c *gin.Context, logger *slog.Logger, v any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(v); err != nil {
		writeBindError(c, logger, err)
		return false
	}
	return true
}

// recordAudit writes one audit event for p. Authorization failures are
// recorded as "denied", other failures as "failure". Audit sink errors are
// logged and otherwise ignored.
func (h *Handlers) recordAudit(c *gin.Context, logger *slog.Logger, eventType string, p datatypes.Principal, resourceType, resourceID string, err error) {
	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, datatypes.ErrAccessDenied), errors.Is(err, datatypes.ErrTenantMismatch):
		outcome = "denied"
	default:
		outcome = "failure"
	}
	event := extensions.AuditEvent{
		EventType:    eventType,
		Timestamp:    time.Now().UTC(),
		UserID:       p.UserID,
		TenantID:     p.TenantID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Outcome:      outcome,
		Metadata:     map[string]any{"request_id": middleware.GetRequestID(c)},
	}
	if auditErr := h.audit.Log(c.Request.Context(), event); auditErr != nil {
		logger.Warn("audit log failed", "error", auditErr, "event_type", eventType)
	}
}
