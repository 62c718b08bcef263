// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianTasks/services/taskgraph/fanout"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// WebSocketConfig tunes the event stream connection.
type WebSocketConfig struct {
	// WriteTimeout bounds each frame write. Default: 10s.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// PongTimeout is how long the peer may stay silent. Default: 60s.
	PongTimeout time.Duration `yaml:"pong_timeout"`

	// PingInterval must be shorter than PongTimeout. Default: 9/10 of it.
	PingInterval time.Duration `yaml:"ping_interval"`

	// ReadLimit caps inbound frames; clients are not expected to send
	// anything but control frames. Default: 4KiB.
	ReadLimit int64 `yaml:"read_limit"`

	// AllowedOrigins lists accepted Origin hosts. Empty accepts any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

func (c WebSocketConfig) withDefaults() WebSocketConfig {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 60 * time.Second
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongTimeout {
		c.PingInterval = c.PongTimeout * 9 / 10
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 4096
	}
	return c
}

func newUpgrader(cfg WebSocketConfig) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(cfg.AllowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			return slices.ContainsFunc(cfg.AllowedOrigins, func(o string) bool {
				return strings.EqualFold(o, u.Host)
			})
		},
	}
}

// ConnectedFrame is the first frame written on a new stream.
type ConnectedFrame struct {
	Event    string    `json:"event"`
	TenantID string    `json:"tenantId"`
	At       time.Time `json:"at"`
}

// HandleEventStream handles GET /v1/ws.
//
// Description:
//
//	Upgrades to a WebSocket and streams the events of the caller's tenant
//	as {"event", "data", "at"} frames until either side closes. Events
//	published before the connection, or while the client's buffer is
//	full, are not delivered.
//
// Response:
//
//	101 Switching Protocols
//	403 Forbidden: ACCESS_DENIED (principal has no tenant)
//	503 Service Unavailable: hub closed
func (h *Handlers) HandleEventStream(c *gin.Context) {
	logger := requestLogger(c, "HandleEventStream")
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}
	if p.TenantID == "" {
		c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{
			Error: "event streams are scoped to a tenant",
			Code:  CodeAccessDenied,
		})
		return
	}

	sub, err := h.hub.Subscribe(p.TenantID)
	if err != nil {
		if errors.Is(err, fanout.ErrHubClosed) {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, ErrorResponse{
				Error: "server is shutting down",
				Code:  CodeInternal,
			})
			return
		}
		writeError(c, logger, err)
		return
	}
	defer sub.Close()

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		logger.Warn("Failed to upgrade the websocket", "error", err)
		return
	}
	defer ws.Close()

	logger = logger.With("tenant_id", p.TenantID, "user_id", p.UserID)
	logger.Info("Websocket client connected")

	done := make(chan struct{})
	go h.readPump(ws, done, logger)

	h.writePump(ws, sub, done, logger)
	logger.Info("Websocket client disconnected", "dropped_events", sub.Dropped())
}

// readPump discards inbound messages and keeps the read deadline fresh on
// every pong. It closes done when the peer goes away.
func (h *Handlers) readPump(ws *websocket.Conn, done chan<- struct{}, logger *slog.Logger) {
	defer close(done)

	ws.SetReadLimit(h.ws.ReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(h.ws.PongTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.ws.PongTimeout))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("Websocket read ended", "error", err)
			}
			return
		}
	}
}

// writePump is the only writer on ws.
func (h *Handlers) writePump(ws *websocket.Conn, sub *fanout.Subscription, done <-chan struct{}, logger *slog.Logger) {
	ticker := time.NewTicker(h.ws.PingInterval)
	defer ticker.Stop()

	send := func(v any) error {
		_ = ws.SetWriteDeadline(time.Now().Add(h.ws.WriteTimeout))
		if err := ws.WriteJSON(v); err != nil {
			logger.Warn("Failed to write WebSocket JSON", "error", err)
			return err
		}
		return nil
	}

	hello := ConnectedFrame{Event: "connected", TenantID: sub.TenantID(), At: time.Now().UTC()}
	if err := send(hello); err != nil {
		return
	}

	for {
		select {
		case <-done:
			return
		case ev, ok := <-sub.Events():
			if !ok {
				deadline := time.Now().Add(h.ws.WriteTimeout)
				msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
				_ = ws.WriteControl(websocket.CloseMessage, msg, deadline)
				return
			}
			if err := send(ev); err != nil {
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(h.ws.WriteTimeout)
			if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}
