// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/AleutianAI/AleutianTasks/services/taskgraph/handlers"
	"github.com/gin-gonic/gin"
)

// Middleware carries the per-route middleware SetupRoutes applies.
type Middleware struct {
	// Auth authenticates the caller. Required.
	Auth gin.HandlerFunc

	// RateLimit is applied after Auth on protected routes and alone on
	// public ones. Optional.
	RateLimit gin.HandlerFunc
}

// SetupRoutes registers every task graph endpoint on router.
//
// Description:
//
//	Probe and metrics endpoints live at the root. Everything else is under
//	/v1. Provisioning, registration and login are public; all other /v1
//	routes require a bearer token.
//
// Public Endpoints:
//
//	GET  /health
//	GET  /ready
//	GET  /metrics
//	POST /v1/tenants
//	POST /v1/auth/register
//	POST /v1/auth/login
//
// Task Endpoints:
//
//	POST   /v1/tasks
//	GET    /v1/tasks
//	GET    /v1/tasks/:id
//	PUT    /v1/tasks/:id
//	DELETE /v1/tasks/:id
//	POST   /v1/tasks/:id/complete
//	POST   /v1/tasks/:id/dependencies
//	GET    /v1/tasks/:id/dependencies
//	DELETE /v1/tasks/:id/dependencies/:depId
//	POST   /v1/tasks/:id/check-dependencies
//
// Tenant And Identity Endpoints:
//
//	GET    /v1/tenants
//	GET    /v1/tenants/:id
//	PUT    /v1/tenants/:id
//	DELETE /v1/tenants/:id
//	GET    /v1/auth/me
//	POST   /v1/auth/logout
//	POST   /v1/users
//	GET    /v1/users
//	GET    /v1/ws
func SetupRoutes(router *gin.Engine, h *handlers.Handlers, mw Middleware) {
	router.GET("/health", h.HandleHealth)
	router.GET("/ready", h.HandleReady)
	router.GET("/metrics", h.MetricsHandler())

	public := []gin.HandlerFunc{}
	protected := []gin.HandlerFunc{mw.Auth}
	if mw.RateLimit != nil {
		public = append(public, mw.RateLimit)
		protected = append(protected, mw.RateLimit)
	}

	v1 := router.Group("/v1")
	{
		open := v1.Group("", public...)
		{
			open.POST("/tenants", h.HandleProvisionTenant)
			open.POST("/auth/register", h.HandleRegister)
			open.POST("/auth/login", h.HandleLogin)
		}

		secured := v1.Group("", protected...)
		{
			tasks := secured.Group("/tasks")
			{
				tasks.POST("", h.HandleCreateTask)
				tasks.GET("", h.HandleListTasks)
				tasks.GET("/:id", h.HandleGetTask)
				tasks.PUT("/:id", h.HandleUpdateTask)
				tasks.DELETE("/:id", h.HandleDeleteTask)
				tasks.POST("/:id/complete", h.HandleCompleteTask)
				tasks.POST("/:id/dependencies", h.HandleAddDependency)
				tasks.GET("/:id/dependencies", h.HandleListDependencies)
				tasks.DELETE("/:id/dependencies/:depId", h.HandleRemoveDependency)
				tasks.POST("/:id/check-dependencies", h.HandleCheckDependencies)
			}

			tenants := secured.Group("/tenants")
			{
				tenants.GET("", h.HandleListTenants)
				tenants.GET("/:id", h.HandleGetTenant)
				tenants.PUT("/:id", h.HandleUpdateTenant)
				tenants.DELETE("/:id", h.HandleDeleteTenant)
			}

			secured.GET("/auth/me", h.HandleMe)
			secured.POST("/auth/logout", h.HandleLogout)

			users := secured.Group("/users")
			{
				users.POST("", h.HandleCreateUser)
				users.GET("", h.HandleListUsers)
			}

			secured.GET("/ws", h.HandleEventStream)
		}
	}
}
