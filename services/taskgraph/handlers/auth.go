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
	"net/http"

	"github.com/AleutianAI/AleutianTasks/services/taskgraph/datatypes"
	"github.com/AleutianAI/AleutianTasks/services/taskgraph/middleware"
	"github.com/gin-gonic/gin"
)

// MeResponse is the body of GET /v1/auth/me.
type MeResponse struct {
	User   *datatypes.PublicUser `json:"user"`
	Tenant *datatypes.Tenant     `json:"tenant,omitempty"`
}

func principalOf(u datatypes.PublicUser) datatypes.Principal {
	return datatypes.Principal{UserID: u.ID, Role: u.Role, TenantID: u.TenantID}
}

// HandleRegister handles POST /v1/auth/register.
//
// Description:
//
//	Public. Joins an existing tenant when tenantId is given, otherwise
//	creates a personal tenant with the new user as its admin.
//
// Response:
//
//	201 Created: datatypes.AuthResponse
//	400 Bad Request: VALIDATION_ERROR
//	404 Not Found: NOT_FOUND (tenant)
//	409 Conflict: CONFLICT (email taken)
func (h *Handlers) HandleRegister(c *gin.Context) {
	logger := requestLogger(c, "HandleRegister")

	var req datatypes.RegisterRequest
	if !bindJSON(c, logger, &req) {
		return
	}

	resp, err := h.directory.Register(c.Request.Context(), req)
	if err != nil {
		h.recordAudit(c, logger, "auth.register", datatypes.Principal{TenantID: req.TenantID}, "user", "", err)
		writeError(c, logger, err)
		return
	}

	h.recordAudit(c, logger, "auth.register", principalOf(resp.User), "user", resp.User.ID, nil)
	logger.Info("User registered", "user_id", resp.User.ID, "tenant_id", resp.User.TenantID, "role", resp.User.Role)
	c.JSON(http.StatusCreated, resp)
}

// HandleLogin handles POST /v1/auth/login. Unknown emails and wrong
// passwords produce the same 401.
func (h *Handlers) HandleLogin(c *gin.Context) {
	logger := requestLogger(c, "HandleLogin")

	var req datatypes.LoginRequest
	if !bindJSON(c, logger, &req) {
		return
	}

	resp, err := h.directory.Login(c.Request.Context(), req)
	if err != nil {
		h.recordAudit(c, logger, "auth.login", datatypes.Principal{}, "user", "", err)
		writeError(c, logger, err)
		return
	}

	h.recordAudit(c, logger, "auth.login", principalOf(resp.User), "user", resp.User.ID, nil)
	c.JSON(http.StatusOK, resp)
}

// HandleLogout handles POST /v1/auth/logout. The presented token stops
// authenticating immediately.
func (h *Handlers) HandleLogout(c *gin.Context) {
	logger := requestLogger(c, "HandleLogout")
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}

	err := h.directory.Logout(c.Request.Context(), middleware.BearerToken(c))
	h.recordAudit(c, logger, "auth.logout", p, "user", p.UserID, err)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Message: "logged out"})
}

// HandleMe handles GET /v1/auth/me.
func (h *Handlers) HandleMe(c *gin.Context) {
	logger := requestLogger(c, "HandleMe")
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}

	user, tenant, err := h.directory.Me(c.Request.Context(), p)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, MeResponse{User: user, Tenant: tenant})
}

// HandleCreateUser handles POST /v1/users. The new user joins the
// caller's tenant with the requested role. Requires admin.
func (h *Handlers) HandleCreateUser(c *gin.Context) {
	logger := requestLogger(c, "HandleCreateUser")
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}

	var req datatypes.CreateUserRequest
	if !bindJSON(c, logger, &req) {
		return
	}

	user, err := h.directory.CreateUser(c.Request.Context(), p, req)
	if err != nil {
		h.recordAudit(c, logger, "user.create", p, "user", "", err)
		writeError(c, logger, err)
		return
	}

	h.recordAudit(c, logger, "user.create", p, "user", user.ID, nil)
	logger.Info("User created", "user_id", user.ID, "role", user.Role)
	c.JSON(http.StatusCreated, user)
}

// HandleListUsers handles GET /v1/users. Lists the caller's tenant.
func (h *Handlers) HandleListUsers(c *gin.Context) {
	logger := requestLogger(c, "HandleListUsers")
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}

	users, err := h.directory.ListUsers(c.Request.Context(), p)
	if err != nil {
		h.fail(c, logger, p, "user", "", err)
		return
	}
	c.JSON(http.StatusOK, users)
}
