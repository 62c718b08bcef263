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
	"slices"

	"github.com/AleutianAI/AleutianTasks/pkg/telemetry"
	"github.com/AleutianAI/AleutianTasks/services/taskgraph/graph"
	"github.com/AleutianAI/AleutianTasks/services/taskgraph/store"
	"go.opentelemetry.io/otel/attribute"
)

// AuditReport describes the stored dependency graph of one tenant.
type AuditReport struct {
	TenantID string `json:"tenantId"`
	Tasks    int    `json:"tasks"`
	Edges    int    `json:"edges"`

	// Cycle is a cycle among the edge records, as task titles.
	Cycle []string `json:"cycle,omitempty"`

	// Drift lists tasks whose inline dependency list and edge records
	// disagree.
	Drift []string `json:"drift,omitempty"`
}

// Healthy reports whether the tenant has neither a cycle nor drift.
func (r AuditReport) Healthy() bool {
	return len(r.Cycle) == 0 && len(r.Drift) == 0
}

// Audit checks every tenant's stored graph.
//
// Description:
//
//	Builds each tenant's graph from its edge records, searches it for a
//	cycle and compares it with the inline dependency lists. Mutations
//	keep both acyclic and in step, so any finding means the data was
//	changed outside the engine (a restore, a manual edit) or a bug.
//	Runs in one read transaction and takes no tenant locks.
//
// Outputs:
//
//	[]AuditReport - One report per tenant, in tenant key order.
//	error - A storage failure.
func (e *Engine) Audit(ctx context.Context) ([]AuditReport, error) {
	ctx, span := tracer.Start(ctx, "engine.audit")
	defer span.End()

	var reports []AuditReport
	err := e.store.View(ctx, func(tx store.Tx) error {
		tenants, err := tx.ListTenants()
		if err != nil {
			return err
		}
		for _, tenant := range tenants {
			report, err := auditTenant(tx, tenant.ID)
			if err != nil {
				return err
			}
			reports = append(reports, report)
		}
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	unhealthy := 0
	for _, r := range reports {
		if !r.Healthy() {
			unhealthy++
			e.logger.Warn("dependency graph audit finding",
				"tenant_id", r.TenantID,
				"cycle", r.Cycle,
				"drift", r.Drift)
		}
	}
	span.SetAttributes(
		attribute.Int("tenants", len(reports)),
		attribute.Int("unhealthy", unhealthy))
	return reports, nil
}

func auditTenant(tx store.Tx, tenantID string) (AuditReport, error) {
	inline, byID, err := tenantGraph(tx, tenantID)
	if err != nil {
		return AuditReport{}, err
	}
	records, err := tx.Edges(tenantID)
	if err != nil {
		return AuditReport{}, err
	}
	edges := make([]graph.Edge, len(records))
	for i, d := range records {
		edges[i] = graph.Edge{From: d.TaskID, To: d.DependentTaskID}
	}
	stored := graph.FromEdges(edges)

	report := AuditReport{
		TenantID: tenantID,
		Tasks:    len(byID),
		Edges:    stored.EdgeCount(),
	}
	if cycle := graph.FindCycle(stored); cycle != nil {
		report.Cycle = titlePath(cycle, byID)
	}

	for id := range byID {
		if !sameSet(inline[id], stored[id]) {
			report.Drift = append(report.Drift, id)
		}
	}
	for id := range stored {
		if _, ok := byID[id]; !ok {
			report.Drift = append(report.Drift, id)
		}
	}
	slices.Sort(report.Drift)
	return report, nil
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	a, b = slices.Sorted(slices.Values(a)), slices.Sorted(slices.Values(b))
	return slices.Equal(a, b)
}
