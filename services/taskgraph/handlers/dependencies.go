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

// HandleAddDependency handles POST /v1/tasks/:id/dependencies.
//
// Description:
//
//	Records that the task named by dependentTaskId depends on :id. The
//	whole tenant graph is checked, so an edge closing a cycle of any
//	length is rejected.
//
// Request Body:
//
//	datatypes.AddDependencyRequest
//
// Response:
//
//	201 Created: datatypes.Dependency
//	400 Bad Request: VALIDATION_ERROR or CYCLE_DETECTED
//	403 Forbidden: ACCESS_DENIED or TENANT_MISMATCH
//	404 Not Found: NOT_FOUND
//	409 Conflict: CONFLICT (edge already exists)
func (h *Handlers) HandleAddDependency(c *gin.Context) {
	logger := requestLogger(c, "HandleAddDependency")
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}

	var req datatypes.AddDependencyRequest
	if !bindJSON(c, logger, &req) {
		return
	}

	id := c.Param("id")
	dep, err := h.engine.AddDependency(c.Request.Context(), p, id, req)
	if err != nil {
		h.fail(c, logger, p, "dependency", id, err)
		return
	}

	logger.Info("Dependency added",
		"dependency_id", dep.ID,
		"task_id", dep.TaskID,
		"dependent_task_id", dep.DependentTaskID)
	c.JSON(http.StatusCreated, dep)
}

// HandleListDependencies handles GET /v1/tasks/:id/dependencies.
func (h *Handlers) HandleListDependencies(c *gin.Context) {
	logger := requestLogger(c, "HandleListDependencies")
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}

	id := c.Param("id")
	deps, err := h.engine.ListDependencies(c.Request.Context(), p, id)
	if err != nil {
		h.fail(c, logger, p, "dependency", id, err)
		return
	}
	c.JSON(http.StatusOK, deps)
}

// HandleRemoveDependency handles DELETE /v1/tasks/:id/dependencies/:depId,
// where :depId is the dependent task's id.
func (h *Handlers) HandleRemoveDependency(c *gin.Context) {
	logger := requestLogger(c, "HandleRemoveDependency")
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}

	id, depID := c.Param("id"), c.Param("depId")
	if err := h.engine.RemoveDependency(c.Request.Context(), p, id, depID); err != nil {
		h.fail(c, logger, p, "dependency", id, err)
		return
	}

	logger.Info("Dependency removed", "task_id", id, "dependent_task_id", depID)
	c.JSON(http.StatusOK, MessageResponse{Message: "dependency removed"})
}

// HandleCheckDependencies handles POST /v1/tasks/:id/check-dependencies.
//
// Description:
//
//	Reports whether making :id depend on every listed task would close a
//	cycle. Nothing is written. A cycle is a normal answer here, not an
//	error.
//
// Response:
//
//	200 OK: datatypes.CheckDependenciesResponse
//	400 Bad Request: VALIDATION_ERROR
//	403 Forbidden: TENANT_MISMATCH
//	404 Not Found: NOT_FOUND
func (h *Handlers) HandleCheckDependencies(c *gin.Context) {
	logger := requestLogger(c, "HandleCheckDependencies")
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}

	var req datatypes.CheckDependenciesRequest
	if !bindJSON(c, logger, &req) {
		return
	}

	id := c.Param("id")
	resp, err := h.engine.CheckDependencies(c.Request.Context(), p, id, req)
	if err != nil {
		h.fail(c, logger, p, "task", id, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
