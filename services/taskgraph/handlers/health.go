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
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ReadyResponse is the body of GET /ready.
type ReadyResponse struct {
	Ready   bool   `json:"ready"`
	StoreOK bool   `json:"storeOk"`
	Error   string `json:"error,omitempty"`
}

// HandleHealth handles GET /health. Always 200 while the process runs.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: h.version,
	})
}

// HandleReady handles GET /ready.
//
// Description:
//
//	Pings the store. Returns 503 with Retry-After while it is unusable so
//	load balancers stop routing here.
//
// Response:
//
//	200 OK: ReadyResponse (Ready=true)
//	503 Service Unavailable: ReadyResponse (Ready=false)
func (h *Handlers) HandleReady(c *gin.Context) {
	resp := ReadyResponse{Ready: true, StoreOK: true}
	if h.readiness != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.readiness.Ping(ctx); err != nil {
			requestLogger(c, "HandleReady").Warn("Readiness check failed", "error", err)
			resp = ReadyResponse{Error: err.Error()}
		}
	}

	if !resp.Ready {
		c.Header("Retry-After", "5")
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// MetricsHandler serves the Prometheus exposition format for the
// configured gatherer.
func (h *Handlers) MetricsHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
}
