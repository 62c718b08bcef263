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
	"slices"
	"strings"

	"github.com/AleutianAI/AleutianTasks/pkg/telemetry"
	"github.com/AleutianAI/AleutianTasks/services/taskgraph/datatypes"
	"github.com/AleutianAI/AleutianTasks/services/taskgraph/fanout"
	"github.com/AleutianAI/AleutianTasks/services/taskgraph/graph"
	"github.com/AleutianAI/AleutianTasks/services/taskgraph/policy"
	"github.com/AleutianAI/AleutianTasks/services/taskgraph/store"
	"go.opentelemetry.io/otel/attribute"
)

// AddDependency records that taskID depends on req.DependentTaskID.
//
// Description:
//
//	Both tasks must exist and belong to the principal's tenant, and the
//	principal must be a manager or admin. Duplicate edges are a conflict.
//	The edge is rejected with a *CycleError if the dependent task already
//	reaches taskID. The edge record and the inline dependency list of
//	taskID are written in one transaction under the tenant lock.
//	Publishes dependencyAdded.
//
// Outputs:
//
//	*datatypes.Dependency - The stored edge.
//	error - *ValidationError, NotFound, TenantMismatch, AccessDenied,
//	        Conflict, *CycleError or a storage failure.
func (e *Engine) AddDependency(ctx context.Context, p datatypes.Principal, taskID string, req datatypes.AddDependencyRequest) (*datatypes.Dependency, error) {
	var added *datatypes.Dependency
	err := e.observe(ctx, "add_dependency", p, func(ctx context.Context) error {
		req.DependentTaskID = strings.TrimSpace(req.DependentTaskID)
		if err := datatypes.Validate(&req); err != nil {
			return err
		}
		depID := req.DependentTaskID

		unlock, err := e.lockTenant(ctx, p.TenantID)
		if err != nil {
			return err
		}
		defer unlock()

		err = e.store.Update(ctx, func(tx store.Tx) error {
			task, err := loadTenantTask(tx, p, taskID)
			if err != nil {
				return err
			}
			if _, err := loadTenantTask(tx, p, depID); err != nil {
				return err
			}
			if !policy.IsAllowed(policy.ActionDependencyWrite, p, policy.Resource{TenantID: task.TenantID, AssigneeID: task.Assignee}) {
				return datatypes.AccessDeniedf("only managers and admins can change dependencies")
			}
			if depID == taskID {
				return datatypes.NewValidationError("dependentTaskId", "a task cannot depend on itself")
			}

			_, err = tx.GetEdge(task.TenantID, taskID, depID)
			switch {
			case err == nil:
				return datatypes.Conflictf("task %s already depends on %s", taskID, depID)
			case !errors.Is(err, datatypes.ErrNotFound):
				return err
			}
			if task.DependsOn(depID) {
				return datatypes.Conflictf("task %s already depends on %s", taskID, depID)
			}

			g, byID, err := tenantGraph(tx, task.TenantID)
			if err != nil {
				return err
			}
			res, err := graph.WouldCreateCycle(g, graph.Edge{From: taskID, To: depID}, e.limits)
			recordTraversal(ctx, res.Visited)
			if err != nil {
				if errors.Is(err, graph.ErrTraversalLimit) {
					return datatypes.NewValidationError("dependentTaskId", "dependency graph is too large to validate")
				}
				return datatypes.NewValidationError("dependentTaskId", err.Error())
			}
			if res.HasCycle {
				return &datatypes.CycleError{IDs: res.Path, Path: titlePath(res.Path, byID)}
			}

			now := e.now()
			edge := &datatypes.Dependency{
				ID:              newID(),
				TaskID:          taskID,
				DependentTaskID: depID,
				TenantID:        task.TenantID,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			if err := tx.PutEdge(edge); err != nil {
				return err
			}
			task.Dependencies = append(task.Dependencies, depID)
			task.UpdatedAt = now
			if err := tx.PutTask(task); err != nil {
				return err
			}
			added = edge
			return nil
		})
		if err != nil {
			return err
		}

		copied := *added
		e.publish(ctx, p.TenantID, []pendingEvent{{
			name:    fanout.EventDependencyAdded,
			payload: datatypes.DependencyAddedEvent{Dependency: &copied, AddedBy: p.UserID},
		}})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

// ListDependencies returns the edges out of taskID in stored order, each
// with a summary of the task depended on.
func (e *Engine) ListDependencies(ctx context.Context, p datatypes.Principal, taskID string) ([]datatypes.DependencyView, error) {
	ctx, span := tracer.Start(ctx, "engine.list_dependencies")
	defer span.End()

	views := []datatypes.DependencyView{}
	err := e.store.View(ctx, func(tx store.Tx) error {
		task, err := loadTenantTask(tx, p, taskID)
		if err != nil {
			return err
		}
		if !policy.IsAllowed(policy.ActionDependencyRead, p, policy.Resource{TenantID: task.TenantID}) {
			return datatypes.AccessDeniedf("cannot read dependencies of task %s", taskID)
		}

		edges, err := tx.EdgesFrom(task.TenantID, taskID)
		if err != nil {
			return err
		}
		byDep := make(map[string]*datatypes.Dependency, len(edges))
		for _, edge := range edges {
			byDep[edge.DependentTaskID] = edge
		}

		// Inline order first, then any edge the list does not mention.
		ordered := make([]*datatypes.Dependency, 0, len(edges))
		for _, dep := range task.Dependencies {
			if edge, ok := byDep[dep]; ok {
				ordered = append(ordered, edge)
				delete(byDep, dep)
			}
		}
		for _, edge := range edges {
			if _, ok := byDep[edge.DependentTaskID]; ok {
				ordered = append(ordered, edge)
			}
		}

		for _, edge := range ordered {
			view := datatypes.DependencyView{Dependency: *edge}
			dep, err := tx.GetTask(edge.DependentTaskID)
			switch {
			case err == nil:
				view.DependentTask = &datatypes.TaskSummary{ID: dep.ID, Title: dep.Title, Status: dep.Status}
			case !errors.Is(err, datatypes.ErrNotFound):
				return err
			}
			views = append(views, view)
		}
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("dependency_count", len(views)))
	return views, nil
}

// RemoveDependency deletes the edge from taskID to dependentTaskID and
// drops it from the task's inline list. Publishes dependencyRemoved.
//
// Removing an edge can never create a cycle, so no tenant lock is taken;
// concurrent writers to the same task are serialized by store conflict
// retries.
func (e *Engine) RemoveDependency(ctx context.Context, p datatypes.Principal, taskID, dependentTaskID string) error {
	return e.observe(ctx, "remove_dependency", p, func(ctx context.Context) error {
		err := e.store.Update(ctx, func(tx store.Tx) error {
			task, err := loadTenantTask(tx, p, taskID)
			if err != nil {
				return err
			}
			if !policy.IsAllowed(policy.ActionDependencyWrite, p, policy.Resource{TenantID: task.TenantID, AssigneeID: task.Assignee}) {
				return datatypes.AccessDeniedf("only managers and admins can change dependencies")
			}
			if _, err := tx.GetEdge(task.TenantID, taskID, dependentTaskID); err != nil {
				return err
			}
			if err := tx.DeleteEdge(task.TenantID, taskID, dependentTaskID); err != nil {
				return err
			}
			task.Dependencies = slices.DeleteFunc(task.Dependencies, func(d string) bool { return d == dependentTaskID })
			task.UpdatedAt = e.now()
			return tx.PutTask(task)
		})
		if err != nil {
			return err
		}

		e.publish(ctx, p.TenantID, []pendingEvent{{
			name: fanout.EventDependencyRemoved,
			payload: datatypes.DependencyRemovedEvent{
				TaskID:          taskID,
				DependentTaskID: dependentTaskID,
				RemovedBy:       p.UserID,
			},
		}})
		return nil
	})
}
