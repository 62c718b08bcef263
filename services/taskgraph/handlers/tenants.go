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
	"github.com/gin-gonic/gin"
)

// HandleProvisionTenant handles POST /v1/tenants.
//
// Description:
//
//	Public. Creates a tenant with its first admin and returns a token for
//	that admin.
//
// Request Body:
//
//	datatypes.ProvisionTenantRequest
//
// Response:
//
//	201 Created: datatypes.AuthResponse
//	400 Bad Request: VALIDATION_ERROR
//	409 Conflict: CONFLICT (domain or email taken)
func (h *Handlers) HandleProvisionTenant(c *gin.Context) {
	logger := requestLogger(c, "HandleProvisionTenant")

	var req datatypes.ProvisionTenantRequest
	if !bindJSON(c, logger, &req) {
		return
	}

	resp, err := h.directory.ProvisionTenant(c.Request.Context(), req)
	if err != nil {
		h.recordAudit(c, logger, "tenant.provision", datatypes.Principal{}, "tenant", "", err)
		writeError(c, logger, err)
		return
	}

	admin := datatypes.Principal{UserID: resp.User.ID, Role: resp.User.Role, TenantID: resp.User.TenantID}
	h.recordAudit(c, logger, "tenant.provision", admin, "tenant", resp.Tenant.ID, nil)
	logger.Info("Tenant provisioned", "tenant_id", resp.Tenant.ID, "domain", resp.Tenant.Domain)
	c.JSON(http.StatusCreated, resp)
}

// HandleListTenants handles GET /v1/tenants. Superadmin only.
func (h *Handlers) HandleListTenants(c *gin.Context) {
	logger := requestLogger(c, "HandleListTenants")
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}

	tenants, err := h.directory.ListTenants(c.Request.Context(), p)
	if err != nil {
		h.fail(c, logger, p, "tenant", "", err)
		return
	}
	c.JSON(http.StatusOK, tenants)
}

// HandleGetTenant handles GET /v1/tenants/:id.
func (h *Handlers) HandleGetTenant(c *gin.Context) {
	logger := requestLogger(c, "HandleGetTenant")
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}

	id := c.Param("id")
	tenant, err := h.directory.GetTenant(c.Request.Context(), p, id)
	if err != nil {
		h.fail(c, logger, p, "tenant", id, err)
		return
	}
	c.JSON(http.StatusOK, tenant)
}

// HandleUpdateTenant handles PUT /v1/tenants/:id. Requires the tenant's
// admin or a superadmin.
func (h *Handlers) HandleUpdateTenant(c *gin.Context) {
	logger := requestLogger(c, "HandleUpdateTenant")
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}

	var req datatypes.UpdateTenantRequest
	if !bindJSON(c, logger, &req) {
		return
	}

	id := c.Param("id")
	tenant, err := h.directory.UpdateTenant(c.Request.Context(), p, id, req)
	h.recordAudit(c, logger, "tenant.update", p, "tenant", id, err)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, tenant)
}

// HandleDeleteTenant handles DELETE /v1/tenants/:id. Superadmin only.
func (h *Handlers) HandleDeleteTenant(c *gin.Context) {
	logger := requestLogger(c, "HandleDeleteTenant")
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}

	id := c.Param("id")
	err := h.directory.DeleteTenant(c.Request.Context(), p, id)
	h.recordAudit(c, logger, "tenant.delete", p, "tenant", id, err)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Message: "tenant deleted"})
}
