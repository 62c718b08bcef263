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

	"github.com/AleutianAI/AleutianTasks/services/taskgraph/datatypes"
	"github.com/gin-gonic/gin"
)

// MessageResponse acknowledges a mutation that returns no resource.
type MessageResponse struct {
	Message string `json:"message"`
}

// fail renders err and, when it is an authorization failure, records it in
// the audit log.
func (h *Handlers) fail(c *gin.Context, logger *slog.Logger, p datatypes.Principal, resourceType, resourceID string, err error) {
	if errors.Is(err, datatypes.ErrAccessDenied) || errors.Is(err, datatypes.ErrTenantMismatch) {
		h.recordAudit(c, logger, "authz.denied", p, resourceType, resourceID, err)
	}
	writeError(c, logger, err)
}

// HandleCreateTask handles POST /v1/tasks.
//
// Description:
//
//	Creates a task in the caller's tenant. Requires manager or admin.
//
// Request Body:
//
//	datatypes.CreateTaskRequest
//
// Response:
//
//	201 Created: datatypes.Task
//	400 Bad Request: VALIDATION_ERROR
//	403 Forbidden: ACCESS_DENIED
func (h *Handlers) HandleCreateTask(c *gin.Context) {
	logger := requestLogger(c, "HandleCreateTask")
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}

	var req datatypes.CreateTaskRequest
	if !bindJSON(c, logger, &req) {
		return
	}

	task, err := h.engine.CreateTask(c.Request.Context(), p, req)
	if err != nil {
		h.fail(c, logger, p, "task", "", err)
		return
	}

	logger.Info("Task created", "task_id", task.ID, "tenant_id", task.TenantID)
	c.JSON(http.StatusCreated, task)
}

// HandleListTasks handles GET /v1/tasks.
func (h *Handlers) HandleListTasks(c *gin.Context) {
	logger := requestLogger(c, "HandleListTasks")
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}

	tasks, err := h.engine.ListTasks(c.Request.Context(), p)
	if err != nil {
		h.fail(c, logger, p, "task", "", err)
		return
	}
	c.JSON(http.StatusOK, tasks)
}

// HandleGetTask handles GET /v1/tasks/:id.
func (h *Handlers) HandleGetTask(c *gin.Context) {
	logger := requestLogger(c, "HandleGetTask")
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}

	id := c.Param("id")
	task, err := h.engine.GetTask(c.Request.Context(), p, id)
	if err != nil {
		h.fail(c, logger, p, "task", id, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// HandleUpdateTask handles PUT /v1/tasks/:id.
//
// Description:
//
//	Applies a partial update. Members may change only the status of tasks
//	assigned to them. A "dependencies" list replaces the dependency set
//	and is rejected with CYCLE_DETECTED if it would close a cycle.
//
// Request Body:
//
//	datatypes.UpdateTaskRequest
//
// Response:
//
//	200 OK: datatypes.Task
//	400 Bad Request: VALIDATION_ERROR or CYCLE_DETECTED
//	403 Forbidden: ACCESS_DENIED or TENANT_MISMATCH
//	404 Not Found: NOT_FOUND
func (h *Handlers) HandleUpdateTask(c *gin.Context) {
	logger := requestLogger(c, "HandleUpdateTask")
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}

	var req datatypes.UpdateTaskRequest
	if !bindJSON(c, logger, &req) {
		return
	}

	id := c.Param("id")
	task, err := h.engine.UpdateTask(c.Request.Context(), p, id, req)
	if err != nil {
		h.fail(c, logger, p, "task", id, err)
		return
	}

	logger.Info("Task updated", "task_id", task.ID, "status", task.Status)
	c.JSON(http.StatusOK, task)
}

// HandleCompleteTask handles POST /v1/tasks/:id/complete.
func (h *Handlers) HandleCompleteTask(c *gin.Context) {
	logger := requestLogger(c, "HandleCompleteTask")
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}

	id := c.Param("id")
	task, err := h.engine.CompleteTask(c.Request.Context(), p, id)
	if err != nil {
		h.fail(c, logger, p, "task", id, err)
		return
	}

	logger.Info("Task completed", "task_id", task.ID)
	c.JSON(http.StatusOK, task)
}

// HandleDeleteTask handles DELETE /v1/tasks/:id. Requires admin. Edges
// touching the task are removed with it.
func (h *Handlers) HandleDeleteTask(c *gin.Context) {
	logger := requestLogger(c, "HandleDeleteTask")
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}

	id := c.Param("id")
	err := h.engine.DeleteTask(c.Request.Context(), p, id)
	h.recordAudit(c, logger, "task.delete", p, "task", id, err)
	if err != nil {
		writeError(c, logger, err)
		return
	}

	logger.Info("Task deleted", "task_id", id)
	c.JSON(http.StatusOK, MessageResponse{Message: "task deleted"})
}
