// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the task graph
// service.
//
// # Description
//
// Metrics include:
//   - HTTP request counters and latency histograms (by route and status)
//   - Event fanout counters (published, delivered, dropped) and the
//     active subscriber gauge
//   - Rate limiter rejections
//
// Engine-level instruments (mutations, cycle rejections, traversal sizes)
// are OpenTelemetry instruments owned by the engine package; with the
// prometheus exporter they land in the same registry.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// Every method is safe to call on a nil *Metrics.
package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const (
	metricsNamespace = "taskgraph"
	httpSubsystem    = "http"
	fanoutSubsystem  = "fanout"
)

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	// HTTPRequestsTotal counts requests.
	// Labels: method, route, status
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTPRequestDuration measures handler latency.
	// Labels: method, route
	HTTPRequestDuration *prometheus.HistogramVec

	// RateLimitedTotal counts requests rejected by the rate limiter.
	RateLimitedTotal prometheus.Counter

	// EventsPublishedTotal counts Publish calls.
	// Labels: event
	EventsPublishedTotal *prometheus.CounterVec

	// EventsDeliveredTotal counts per-subscriber deliveries.
	// Labels: event
	EventsDeliveredTotal *prometheus.CounterVec

	// EventsDroppedTotal counts events lost to full subscriber buffers.
	// Labels: event
	EventsDroppedTotal *prometheus.CounterVec

	// ActiveSubscribers is the number of attached event subscribers.
	ActiveSubscribers prometheus.Gauge
}

// NewMetrics creates and registers the collectors with reg.
//
// # Description
//
// Each service instance owns its registry so tests can create isolated
// instances. Use prometheus.DefaultRegisterer to expose through the
// global handler.
//
// # Limitations
//
//   - Panics if the same collectors are registered twice with one registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: httpSubsystem,
				Name:      "requests_total",
				Help:      "Total HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: httpSubsystem,
				Name:      "request_duration_seconds",
				Help:      "HTTP handler latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"method", "route"},
		),
		RateLimitedTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: httpSubsystem,
				Name:      "rate_limited_total",
				Help:      "Requests rejected by the per-principal rate limiter",
			},
		),
		EventsPublishedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: fanoutSubsystem,
				Name:      "events_published_total",
				Help:      "Events published to tenant channels",
			},
			[]string{"event"},
		),
		EventsDeliveredTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: fanoutSubsystem,
				Name:      "events_delivered_total",
				Help:      "Event deliveries to individual subscribers",
			},
			[]string{"event"},
		),
		EventsDroppedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: fanoutSubsystem,
				Name:      "events_dropped_total",
				Help:      "Events dropped because a subscriber buffer was full",
			},
			[]string{"event"},
		),
		ActiveSubscribers: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: fanoutSubsystem,
				Name:      "active_subscribers",
				Help:      "Currently attached event subscribers",
			},
		),
	}
}

// =============================================================================
// Fanout Recorder
// =============================================================================

// RecordPublish records one Publish call and its delivery count.
func (m *Metrics) RecordPublish(event string, delivered int) {
	if m == nil {
		return
	}
	m.EventsPublishedTotal.WithLabelValues(event).Inc()
	m.EventsDeliveredTotal.WithLabelValues(event).Add(float64(delivered))
}

// RecordDrop records one event dropped for one subscriber.
func (m *Metrics) RecordDrop(event string) {
	if m == nil {
		return
	}
	m.EventsDroppedTotal.WithLabelValues(event).Inc()
}

// SetSubscribers sets the active subscriber gauge.
func (m *Metrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.ActiveSubscribers.Set(float64(n))
}

// RecordRateLimited counts a rejected request.
func (m *Metrics) RecordRateLimited() {
	if m == nil {
		return
	}
	m.RateLimitedTotal.Inc()
}

// =============================================================================
// HTTP Middleware
// =============================================================================

// GinMiddleware records request count and latency per matched route.
// Unmatched paths are reported with route "unmatched" to bound label
// cardinality.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPRequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}
