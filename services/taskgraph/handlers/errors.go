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
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/AleutianAI/AleutianTasks/services/taskgraph/datatypes"
	"github.com/gin-gonic/gin"
)

// Error codes returned in ErrorResponse.Code.
const (
	CodeValidation     = "VALIDATION_ERROR"
	CodeNotFound       = "NOT_FOUND"
	CodeAccessDenied   = "ACCESS_DENIED"
	CodeTenantMismatch = "TENANT_MISMATCH"
	CodeCycleDetected  = "CYCLE_DETECTED"
	CodeConflict       = "CONFLICT"
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeTimeout        = "TIMEOUT"
	CodeInternal       = "INTERNAL"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	// Error is a human-readable message.
	Error string `json:"error"`

	// Code is the machine-readable error class.
	Code string `json:"code"`

	// Fields lists violated input fields for VALIDATION_ERROR.
	Fields map[string]string `json:"fields,omitempty"`

	// Path is the would-be cycle, as task titles, for CYCLE_DETECTED.
	Path []string `json:"path,omitempty"`
}

// classify maps an error onto its HTTP status and response body. Storage
// failures and anything unrecognized are opaque 500s.
func classify(err error) (int, ErrorResponse) {
	var (
		cycle *datatypes.CycleError
		verr  *datatypes.ValidationError
	)
	switch {
	case errors.As(err, &cycle):
		return http.StatusBadRequest, ErrorResponse{Error: "circular dependency detected", Code: CodeCycleDetected, Path: cycle.Path}
	case errors.As(err, &verr):
		return http.StatusBadRequest, ErrorResponse{Error: "validation failed", Code: CodeValidation, Fields: verr.Fields}
	case errors.Is(err, datatypes.ErrValidation):
		return http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: CodeValidation}
	case errors.Is(err, datatypes.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: CodeNotFound}
	case errors.Is(err, datatypes.ErrTenantMismatch):
		return http.StatusForbidden, ErrorResponse{Error: "resource belongs to another tenant", Code: CodeTenantMismatch}
	case errors.Is(err, datatypes.ErrAccessDenied):
		return http.StatusForbidden, ErrorResponse{Error: err.Error(), Code: CodeAccessDenied}
	case errors.Is(err, datatypes.ErrConflict):
		return http.StatusConflict, ErrorResponse{Error: err.Error(), Code: CodeConflict}
	case errors.Is(err, datatypes.ErrUnauthenticated):
		return http.StatusUnauthorized, ErrorResponse{Error: err.Error(), Code: CodeUnauthorized}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, ErrorResponse{Error: "request cancelled or timed out", Code: CodeTimeout}
	}
	return http.StatusInternalServerError, ErrorResponse{Error: "internal error", Code: CodeInternal}
}

// writeError renders err and logs it at a level matching its class.
func writeError(c *gin.Context, logger *slog.Logger, err error) {
	status, body := classify(err)
	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("request failed", "error", err, "status", status)
	case status == http.StatusForbidden || status == http.StatusUnauthorized:
		logger.Warn("request rejected", "error", err, "status", status)
	default:
		logger.Info("request rejected", "error", err, "status", status)
	}
	c.AbortWithStatusJSON(status, body)
}

// writeBindError renders a body that could not be decoded.
func writeBindError(c *gin.Context, logger *slog.Logger, err error) {
	logger.Info("invalid request body", "error", err)
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
		Error:  "invalid request body",
		Code:   CodeValidation,
		Fields: map[string]string{"body": "must be a valid JSON object"},
	})
}
