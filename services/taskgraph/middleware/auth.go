// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides the HTTP middleware of the task graph service.
//
// # Authentication Flow
//
//	Request
//	   │
//	   ▼
//	AuthMiddleware
//	   │
//	   ├─► Extract token from "Authorization: Bearer <token>"
//	   │   (or the "token" query parameter on websocket upgrades)
//	   │
//	   ├─► provider.Validate(ctx, token)
//	   │
//	   └─► Store Principal in context
//	           │
//	           ▼
//	       RateLimit (keyed by principal)
//	           │
//	           ▼
//	       Handler (retrieves via GetPrincipal)
package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/AleutianAI/AleutianTasks/pkg/extensions"
	"github.com/AleutianAI/AleutianTasks/services/taskgraph/datatypes"
	"github.com/gin-gonic/gin"
)

// principalKey is the gin context key for the authenticated Principal.
const principalKey = "taskgraph_principal"

// SetPrincipal stores the authenticated caller in the gin context.
func SetPrincipal(c *gin.Context, p datatypes.Principal) {
	c.Set(principalKey, p)
}

// GetPrincipal returns the authenticated caller and whether one is set.
func GetPrincipal(c *gin.Context) (datatypes.Principal, bool) {
	if v, ok := c.Get(principalKey); ok {
		if p, ok := v.(datatypes.Principal); ok {
			return p, true
		}
	}
	return datatypes.Principal{}, false
}

// AuthMiddleware authenticates requests with provider.
//
// # Description
//
// Rejects the request with 401 UNAUTHORIZED when the token is missing or
// the provider refuses it, and with 503 when the provider itself fails.
// On success the resolved Principal is stored for downstream handlers.
//
// # Thread Safety
//
// The returned middleware can be used concurrently.
func AuthMiddleware(provider extensions.AuthProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := BearerToken(c)
		if token == "" && websocketUpgrade(c.Request) {
			token = c.Query("token")
		}
		if token == "" {
			abortUnauthorized(c, "missing bearer token")
			return
		}

		info, err := provider.Validate(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, extensions.ErrUnauthorized) {
				abortUnauthorized(c, "invalid or expired token")
				return
			}
			slog.Error("auth provider failed", "error", err, "path", c.FullPath())
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "authentication unavailable",
				"code":  "INTERNAL",
			})
			return
		}

		SetPrincipal(c, datatypes.Principal{
			UserID:   info.UserID,
			Role:     datatypes.Role(info.Role),
			TenantID: info.TenantID,
		})
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.Header("WWW-Authenticate", `Bearer realm="taskgraph"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": msg,
		"code":  "UNAUTHORIZED",
	})
}

// BearerToken returns the token of an "Authorization: Bearer <t>"
// header, or "" if the header is missing or uses another scheme. The
// scheme is matched case-insensitively.
func BearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// websocketUpgrade reports whether r asks for a websocket upgrade. Browsers
// cannot set headers on the upgrade request, so the token may arrive as a
// query parameter there and only there.
func websocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
