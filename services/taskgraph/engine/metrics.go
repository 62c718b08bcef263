// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianTasks/services/taskgraph/datatypes"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level tracer and meter for engine operations.
var (
	tracer = otel.Tracer("taskgraph.engine")
	meter  = otel.Meter("taskgraph.engine")
)

var (
	mutationsTotal     metric.Int64Counter
	mutationLatency    metric.Float64Histogram
	cycleRejections    metric.Int64Counter
	traversalVisited   metric.Int64Histogram
	lockWaitLatency    metric.Float64Histogram
	publishedPerCommit metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		mutationsTotal, err = meter.Int64Counter(
			"taskgraph_engine_mutations_total",
			metric.WithDescription("Engine mutations by operation and outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		mutationLatency, err = meter.Float64Histogram(
			"taskgraph_engine_mutation_duration_seconds",
			metric.WithDescription("Duration of engine mutations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cycleRejections, err = meter.Int64Counter(
			"taskgraph_engine_cycle_rejections_total",
			metric.WithDescription("Mutations rejected because they would close a dependency cycle"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		traversalVisited, err = meter.Int64Histogram(
			"taskgraph_engine_traversal_visited",
			metric.WithDescription("Tasks visited per cycle check"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		lockWaitLatency, err = meter.Float64Histogram(
			"taskgraph_engine_lock_wait_seconds",
			metric.WithDescription("Time spent waiting for a tenant lock"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		publishedPerCommit, err = meter.Int64Counter(
			"taskgraph_engine_events_total",
			metric.WithDescription("Events handed to the fanout after commit"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// outcome classifies an engine error for the outcome attribute.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, datatypes.ErrValidation):
		return "validation"
	case errors.Is(err, datatypes.ErrNotFound):
		return "not_found"
	case errors.Is(err, datatypes.ErrTenantMismatch):
		return "tenant_mismatch"
	case errors.Is(err, datatypes.ErrAccessDenied):
		return "access_denied"
	case errors.Is(err, datatypes.ErrCycleDetected):
		return "cycle"
	case errors.Is(err, datatypes.ErrConflict):
		return "conflict"
	}
	return "error"
}

func recordMutation(ctx context.Context, op string, start time.Time, err error) {
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("outcome", outcome(err)),
	)
	mutationsTotal.Add(ctx, 1, attrs)
	mutationLatency.Record(ctx, time.Since(start).Seconds(), attrs)
	if errors.Is(err, datatypes.ErrCycleDetected) {
		cycleRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", op)))
	}
}

func recordTraversal(ctx context.Context, visited int) {
	if initMetrics() != nil {
		return
	}
	traversalVisited.Record(ctx, int64(visited))
}

func recordLockWait(ctx context.Context, d time.Duration) {
	if initMetrics() != nil {
		return
	}
	lockWaitLatency.Record(ctx, d.Seconds())
}

func recordEvent(ctx context.Context, event string) {
	if initMetrics() != nil {
		return
	}
	publishedPerCommit.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}
