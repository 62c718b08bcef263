// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package taskgraph provides the multi-tenant task dependency graph
// service as a reusable component.
//
// The service keeps per-tenant task graphs acyclic, drives tasks through
// their lifecycle, and streams lifecycle events to the tenant's WebSocket
// subscribers.
//
// # Architecture
//
//	HTTP (gin) ──► middleware ──► handlers ──┬──► engine ──┬──► store (BadgerDB)
//	                                          │             └──► fanout hub ──► /v1/ws
//	                                          └──► identity ─────► store
//
// # Extension Points
//
// Enterprise builds may replace the authentication provider and the audit
// sink through extensions.ServiceOptions. When none are given the built-in
// token directory authenticates and audit events go to slog.
//
// # Usage
//
//	cfg, err := taskgraph.LoadConfig("taskgraph.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc, err := taskgraph.New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run(ctx))
package taskgraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianTasks/pkg/extensions"
	"github.com/AleutianAI/AleutianTasks/pkg/logging"
	"github.com/AleutianAI/AleutianTasks/pkg/telemetry"
	"github.com/AleutianAI/AleutianTasks/services/taskgraph/engine"
	"github.com/AleutianAI/AleutianTasks/services/taskgraph/fanout"
	"github.com/AleutianAI/AleutianTasks/services/taskgraph/handlers"
	"github.com/AleutianAI/AleutianTasks/services/taskgraph/identity"
	"github.com/AleutianAI/AleutianTasks/services/taskgraph/middleware"
	"github.com/AleutianAI/AleutianTasks/services/taskgraph/observability"
	"github.com/AleutianAI/AleutianTasks/services/taskgraph/routes"
	"github.com/AleutianAI/AleutianTasks/services/taskgraph/store"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// Interface
// =============================================================================

// Service is a runnable task graph server.
type Service interface {
	// Run serves HTTP until ctx is cancelled or the listener fails, then
	// shuts down gracefully and releases every resource.
	Run(ctx context.Context) error

	// Router returns the configured Gin engine, for tests.
	Router() *gin.Engine
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service.
//
// # Thread Safety
//
// Read-only after New returns, except for the reloadable settings in
// config, which only the config watcher writes. Run must be called at most
// once.
type service struct {
	config Config
	opts   extensions.ServiceOptions

	logger    *logging.Logger
	registry  *prometheus.Registry
	metrics   *observability.Metrics
	store     *store.Store
	hub       *fanout.Hub
	engine    *engine.Engine
	directory *identity.Directory
	limiter   *middleware.RateLimiter
	router    *gin.Engine

	telemetryShutdown func(context.Context) error
	cleanupOnce       sync.Once
}

// New creates a Service.
//
// # Description
//
// New wires every component:
//  1. Applies defaults and validates cfg
//  2. Configures logging and OpenTelemetry
//  3. Opens the BadgerDB store
//  4. Builds the fanout hub, engine and identity directory
//  5. Creates the bootstrap superadmin if configured
//  6. Sets up the HTTP router
//
// If opts is nil the identity directory authenticates requests and audit
// events are written to slog. A nil AuthProvider or AuditLogger inside
// opts falls back the same way.
//
// # Outputs
//
//   - Service: Ready to Run
//   - error: Non-nil if configuration is invalid or a component fails to
//     start. Anything already opened is released.
func New(cfg Config, opts *extensions.ServiceOptions) (Service, error) {
	cfg, err := Effective(cfg)
	if err != nil {
		return nil, err
	}

	s := &service{config: cfg}
	if opts != nil {
		s.opts = *opts
	}

	if err := s.initLogging(); err != nil {
		return nil, err
	}
	if err := s.initTelemetry(); err != nil {
		s.cleanup()
		return nil, err
	}
	if err := s.initStore(); err != nil {
		s.cleanup()
		return nil, err
	}
	if err := s.initDomain(); err != nil {
		s.cleanup()
		return nil, err
	}
	s.initRouter()

	slog.Info("Task graph service initialized",
		"port", cfg.Port,
		"in_memory", cfg.InMemory,
		"data_dir", cfg.DataDir,
		"trace_exporter", cfg.Telemetry.TraceExporter,
		"metric_exporter", cfg.Telemetry.MetricExporter)
	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until ctx is done or the server
// fails.
//
// # Description
//
// When the config was loaded from a file, changes to its log level and
// rate limits are applied while running.
//
// On cancellation the fanout hub is closed first so WebSocket clients get
// a close frame, then in-flight requests are drained within
// ShutdownTimeout. Cleanup runs on return.
func (s *service) Run(ctx context.Context) error {
	defer s.cleanup()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Starting task graph server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if s.config.ConfigPath != "" {
		g.Go(func() error {
			if err := watchConfig(gctx, s.config.ConfigPath, s.applyReload); err != nil {
				slog.Warn("Config hot reload disabled", "error", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down task graph server")
		s.hub.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})

	err := g.Wait()
	if err == nil {
		slog.Info("Task graph server stopped")
	}
	return err
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

func (s *service) initLogging() error {
	lc, err := s.config.loggingConfig()
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	s.logger = logging.New(lc)
	slog.SetDefault(s.logger.Slog())
	return nil
}

// initTelemetry creates the Prometheus registry shared by the HTTP
// metrics and the OTel meter provider, then installs the OTel globals.
func (s *service) initTelemetry() error {
	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metrics = observability.NewMetrics(s.registry)

	tcfg := s.config.Telemetry
	tcfg.Registerer = s.registry
	shutdown, err := telemetry.Init(context.Background(), tcfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	s.telemetryShutdown = shutdown
	return nil
}

func (s *service) initStore() error {
	scfg := store.DefaultConfig(s.config.DataDir)
	if s.config.InMemory {
		scfg = store.InMemoryConfig()
	}
	scfg.Logger = slog.Default().With("component", "badger")

	st, err := store.Open(scfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	s.store = st
	return nil
}

func (s *service) initDomain() error {
	s.hub = fanout.NewHub(fanout.Config{
		BufferSize: s.config.FanoutBuffer,
		Recorder:   s.metrics,
	})
	s.engine = engine.New(s.store, s.hub, engine.Config{MaxVisited: s.config.MaxVisited})

	dir, err := identity.New(s.store, identity.Config{
		TokenTTL:   s.config.TokenTTL,
		BcryptCost: s.config.BcryptCost,
	})
	if err != nil {
		return fmt.Errorf("failed to create identity directory: %w", err)
	}
	s.directory = dir

	if s.config.Superadmin.Email != "" {
		if err := dir.EnsureSuperadmin(context.Background(), s.config.Superadmin); err != nil {
			return fmt.Errorf("failed to bootstrap superadmin: %w", err)
		}
	}

	if s.opts.AuthProvider == nil {
		s.opts.AuthProvider = dir
	}
	if s.opts.AuditLogger == nil {
		s.opts.AuditLogger = extensions.NewSlogAuditLogger(slog.Default())
	}
	return nil
}

func (s *service) initRouter() {
	gin.SetMode(s.config.GinMode)
	s.router = gin.New()
	s.router.Use(
		gin.Recovery(),
		middleware.RequestID(),
		otelgin.Middleware(defaultServiceName),
		s.metrics.GinMiddleware(),
	)

	h := handlers.NewHandlers(s.engine, s.directory, s.hub, handlers.Options{
		Audit:     s.opts.AuditLogger,
		Readiness: s.store,
		Version:   s.config.Telemetry.ServiceVersion,
		WebSocket: s.config.WebSocket,
		Gatherer:  s.registry,
	})

	s.limiter = middleware.NewRateLimiter(s.config.RateLimit, s.metrics.RecordRateLimited)
	routes.SetupRoutes(s.router, h, routes.Middleware{
		Auth:      middleware.AuthMiddleware(s.opts.AuthProvider),
		RateLimit: s.limiter.Middleware(),
	})
}

// cleanup releases all resources held by the service.
//
// # Description
//
// Called when Run exits or on initialization failure. Safe to call more
// than once.
func (s *service) cleanup() {
	s.cleanupOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if s.hub != nil {
			s.hub.Close()
		}
		if s.opts.AuditLogger != nil {
			if err := s.opts.AuditLogger.Flush(ctx); err != nil {
				slog.Warn("Audit flush error", "error", err)
			}
		}
		if s.store != nil {
			if err := s.store.Close(); err != nil {
				slog.Warn("Store close error", "error", err)
			}
		}
		if s.telemetryShutdown != nil {
			if err := s.telemetryShutdown(ctx); err != nil {
				slog.Warn("Telemetry shutdown error", "error", err)
			}
		}
		if s.logger != nil {
			_ = s.logger.Close()
		}
	})
}
