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
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianTasks/pkg/telemetry"
	"github.com/AleutianAI/AleutianTasks/services/taskgraph/datatypes"
	"github.com/AleutianAI/AleutianTasks/services/taskgraph/fanout"
	"github.com/AleutianAI/AleutianTasks/services/taskgraph/graph"
	"github.com/AleutianAI/AleutianTasks/services/taskgraph/policy"
	"github.com/AleutianAI/AleutianTasks/services/taskgraph/store"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// observe wraps a mutation in a span and records its outcome.
func (e *Engine) observe(ctx context.Context, op string, p datatypes.Principal, fn func(ctx context.Context) error) error {
	ctx, span := tracer.Start(ctx, "engine."+op, trace.WithAttributes(
		attribute.String("tenant_id", p.TenantID),
		attribute.String("user_id", p.UserID),
	))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	recordMutation(ctx, op, start, err)
	telemetry.RecordError(span, err)
	return err
}

// =============================================================================
// Create
// =============================================================================

// CreateTask creates a pending task in the principal's tenant.
//
// Description:
//
//	Requires manager or admin. Title, due date and assignee are required;
//	the assignee must be a user of the same tenant. Publishes taskCreated.
//
// Outputs:
//
//	*datatypes.Task - The stored task.
//	error - AccessDenied, a *ValidationError listing every bad field, or
//	        a storage failure.
func (e *Engine) CreateTask(ctx context.Context, p datatypes.Principal, req datatypes.CreateTaskRequest) (*datatypes.Task, error) {
	var created *datatypes.Task
	err := e.observe(ctx, "create_task", p, func(ctx context.Context) error {
		if !policy.IsAllowed(policy.ActionTaskCreate, p, policy.Resource{TenantID: p.TenantID}) {
			return datatypes.AccessDeniedf("only managers and admins can create tasks")
		}

		req.Title = strings.TrimSpace(req.Title)
		req.Assignee = strings.TrimSpace(req.Assignee)
		if err := datatypes.Validate(&req); err != nil {
			return err
		}
		due, err := datatypes.ParseDueDate(req.DueDate)
		if err != nil {
			return datatypes.NewValidationError("dueDate", "must be a valid date (YYYY-MM-DD or RFC 3339)")
		}

		now := e.now()
		task := &datatypes.Task{
			ID:           newID(),
			Title:        req.Title,
			Description:  req.Description,
			Status:       datatypes.StatusPending,
			DueDate:      due,
			Assignee:     req.Assignee,
			TenantID:     p.TenantID,
			Dependencies: []string{},
			CreatedAt:    now,
			UpdatedAt:    now,
		}

		err = e.store.Update(ctx, func(tx store.Tx) error {
			if err := tx.GuardTenant(p.TenantID); err != nil {
				return err
			}
			if err := checkAssignee(tx, p.TenantID, task.Assignee); err != nil {
				return err
			}
			return tx.PutTask(task)
		})
		if err != nil {
			return err
		}

		created = task
		e.publish(ctx, p.TenantID, []pendingEvent{{
			name:    fanout.EventTaskCreated,
			payload: datatypes.TaskCreatedEvent{Task: task.Clone(), CreatedBy: p.UserID},
		}})
		return nil
	})
	return created, err
}

// checkAssignee verifies userID names a user of tenantID.
func checkAssignee(tx store.Tx, tenantID, userID string) error {
	u, err := tx.GetUser(userID)
	if errors.Is(err, datatypes.ErrNotFound) || (err == nil && u.TenantID != tenantID) {
		return datatypes.NewValidationError("assignee", "must be a user of this tenant")
	}
	return err
}

// =============================================================================
// Read
// =============================================================================

// GetTask returns one task of the principal's tenant.
func (e *Engine) GetTask(ctx context.Context, p datatypes.Principal, id string) (*datatypes.Task, error) {
	ctx, span := tracer.Start(ctx, "engine.get_task")
	defer span.End()

	var task *datatypes.Task
	err := e.store.View(ctx, func(tx store.Tx) error {
		t, err := loadTenantTask(tx, p, id)
		if err != nil {
			return err
		}
		if !policy.IsAllowed(policy.ActionTaskRead, p, policy.Resource{TenantID: t.TenantID, AssigneeID: t.Assignee}) {
			return datatypes.AccessDeniedf("cannot read task %s", id)
		}
		task = t
		return nil
	})
	telemetry.RecordError(span, err)
	return task, err
}

// ListTasks returns every task of the principal's tenant, oldest first.
func (e *Engine) ListTasks(ctx context.Context, p datatypes.Principal) ([]*datatypes.Task, error) {
	ctx, span := tracer.Start(ctx, "engine.list_tasks")
	defer span.End()

	if !policy.IsAllowed(policy.ActionTaskRead, p, policy.Resource{TenantID: p.TenantID}) {
		return nil, datatypes.AccessDeniedf("cannot list tasks")
	}

	var tasks []*datatypes.Task
	err := e.store.View(ctx, func(tx store.Tx) error {
		var err error
		tasks, err = tx.ListTasks(p.TenantID)
		return err
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	slices.SortFunc(tasks, func(a, b *datatypes.Task) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if tasks == nil {
		tasks = []*datatypes.Task{}
	}
	span.SetAttributes(attribute.Int("task_count", len(tasks)))
	return tasks, nil
}

// =============================================================================
// Update And Complete
// =============================================================================

// UpdateTask applies a partial update.
//
// Description:
//
//	Checks run in order: the task exists, it belongs to the principal's
//	tenant, the principal is a manager, an admin or the assignee, and the
//	patch is well formed. An assignee without a manager role may only
//	change status and description.
//
//	A non-nil Dependencies replaces the whole dependency set. Every id
//	must name a task of the same tenant, none may be the task itself, and
//	the new set must not close a cycle. Edges and the inline list are
//	replaced in the same transaction.
//
//	After commit, taskCompleted is published if the status moved to
//	completed, then taskUpdated.
//
// Outputs:
//
//	*datatypes.Task - The updated task.
//	error - NotFound, TenantMismatch, AccessDenied, *ValidationError,
//	        *CycleError, Conflict or a storage failure.
func (e *Engine) UpdateTask(ctx context.Context, p datatypes.Principal, id string, req datatypes.UpdateTaskRequest) (*datatypes.Task, error) {
	var updated *datatypes.Task
	err := e.observe(ctx, "update_task", p, func(ctx context.Context) error {
		var err error
		updated, err = e.applyUpdate(ctx, p, id, req, false)
		return err
	})
	return updated, err
}

// CompleteTask marks a task completed.
//
// Description:
//
//	Same permission rule as UpdateTask. Besides taskCompleted (on the
//	transition) and taskUpdated, publishes one dependencyCompleted per task
//	that depends on this one, even if the task was already completed.
func (e *Engine) CompleteTask(ctx context.Context, p datatypes.Principal, id string) (*datatypes.Task, error) {
	status := datatypes.StatusCompleted
	var updated *datatypes.Task
	err := e.observe(ctx, "complete_task", p, func(ctx context.Context) error {
		var err error
		updated, err = e.applyUpdate(ctx, p, id, datatypes.UpdateTaskRequest{Status: &status}, true)
		return err
	})
	return updated, err
}

func (e *Engine) applyUpdate(ctx context.Context, p datatypes.Principal, id string, req datatypes.UpdateTaskRequest, complete bool) (*datatypes.Task, error) {
	if req.Dependencies != nil {
		unlock, err := e.lockTenant(ctx, p.TenantID)
		if err != nil {
			return nil, err
		}
		defer unlock()
	}

	action := policy.ActionTaskUpdate
	if complete {
		action = policy.ActionTaskComplete
	}

	var (
		updated *datatypes.Task
		events  []pendingEvent
	)
	err := e.store.Update(ctx, func(tx store.Tx) error {
		events = nil

		task, err := loadTenantTask(tx, p, id)
		if err != nil {
			return err
		}
		res := policy.Resource{TenantID: task.TenantID, AssigneeID: task.Assignee}
		if !policy.IsAllowed(action, p, res) {
			return datatypes.AccessDeniedf("only managers, admins or the assignee can update task %s", id)
		}
		if req.TouchesPlanning() && !policy.IsAllowed(policy.ActionTaskPlan, p, res) {
			return datatypes.AccessDeniedf("only managers and admins can change title, due date, assignee or dependencies")
		}
		if err := req.Validate(); err != nil {
			return err
		}

		wasCompleted := task.Status == datatypes.StatusCompleted

		if req.Title != nil {
			title := strings.TrimSpace(*req.Title)
			if title == "" {
				return datatypes.NewValidationError("title", "is required")
			}
			task.Title = title
		}
		if req.Description != nil {
			task.Description = *req.Description
		}
		if req.Status != nil {
			task.Status = *req.Status
		}
		if req.DueDate != nil {
			due, err := datatypes.ParseDueDate(*req.DueDate)
			if err != nil {
				return datatypes.NewValidationError("dueDate", "must be a valid date (YYYY-MM-DD or RFC 3339)")
			}
			task.DueDate = due
		}
		if req.Assignee != nil {
			assignee := strings.TrimSpace(*req.Assignee)
			if err := checkAssignee(tx, task.TenantID, assignee); err != nil {
				return err
			}
			task.Assignee = assignee
		}
		if req.Dependencies != nil {
			if err := e.replaceDependencies(ctx, tx, task, dedupe(*req.Dependencies)); err != nil {
				return err
			}
		}

		task.UpdatedAt = e.now()
		if err := tx.PutTask(task); err != nil {
			return err
		}

		transitioned := !wasCompleted && task.Status == datatypes.StatusCompleted
		if transitioned || complete {
			incoming, err := tx.EdgesTo(task.TenantID, task.ID)
			if err != nil {
				return err
			}
			dependents := make([]string, 0, len(incoming))
			for _, edge := range incoming {
				dependents = append(dependents, edge.TaskID)
			}

			if transitioned {
				events = append(events, pendingEvent{
					name: fanout.EventTaskCompleted,
					payload: datatypes.TaskCompletedEvent{
						TaskID:         task.ID,
						CompletedBy:    p.UserID,
						DependentTasks: dependents,
					},
				})
			}
			if complete {
				for _, dependent := range dependents {
					events = append(events, pendingEvent{
						name: fanout.EventDependencyCompleted,
						payload: datatypes.DependencyCompletedEvent{
							TaskID:        dependent,
							CompletedTask: task.Clone(),
						},
					})
				}
			}
		}
		events = append(events, pendingEvent{
			name:    fanout.EventTaskUpdated,
			payload: datatypes.TaskUpdatedEvent{Task: task.Clone(), UpdatedBy: p.UserID},
		})

		updated = task
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.publish(ctx, p.TenantID, events)
	return updated, nil
}

// replaceDependencies validates deps as task's new dependency set and
// rewrites the edges and the inline list. The caller holds the tenant lock.
func (e *Engine) replaceDependencies(ctx context.Context, tx store.Tx, task *datatypes.Task, deps []string) error {
	for _, dep := range deps {
		if dep == "" {
			return datatypes.NewValidationError("dependencies", "task ids must not be empty")
		}
		if dep == task.ID {
			return datatypes.NewValidationError("dependencies", "a task cannot depend on itself")
		}
	}
	for _, dep := range deps {
		other, err := tx.GetTask(dep)
		if err != nil {
			return err
		}
		if other.TenantID != task.TenantID {
			return &datatypes.TenantMismatchError{Resource: "task", ID: dep}
		}
	}

	g, byID, err := tenantGraph(tx, task.TenantID)
	if err != nil {
		return err
	}
	byID[task.ID] = task
	if err := e.checkCycles(ctx, g, task.ID, deps, byID, "dependencies"); err != nil {
		return err
	}

	existing, err := tx.EdgesFrom(task.TenantID, task.ID)
	if err != nil {
		return err
	}
	have := make(map[string]struct{}, len(existing))
	for _, edge := range existing {
		if slices.Contains(deps, edge.DependentTaskID) {
			have[edge.DependentTaskID] = struct{}{}
			continue
		}
		if err := tx.DeleteEdge(task.TenantID, task.ID, edge.DependentTaskID); err != nil {
			return err
		}
	}

	now := e.now()
	for _, dep := range deps {
		if _, ok := have[dep]; ok {
			continue
		}
		err := tx.PutEdge(&datatypes.Dependency{
			ID:              newID(),
			TaskID:          task.ID,
			DependentTaskID: dep,
			TenantID:        task.TenantID,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
		if err != nil {
			return err
		}
	}

	task.Dependencies = deps
	return nil
}

// checkCycles runs the graph validator for from's proposed dependency set
// and maps its outcome onto the service error taxonomy. field names the
// request field reported in validation errors.
func (e *Engine) checkCycles(ctx context.Context, g graph.Graph, from string, tos []string, byID map[string]*datatypes.Task, field string) error {
	res, err := graph.WouldCreateCycles(g, from, tos, e.limits)
	recordTraversal(ctx, res.Visited)

	switch {
	case errors.Is(err, graph.ErrSelfDependency):
		return datatypes.NewValidationError(field, "a task cannot depend on itself")
	case errors.Is(err, graph.ErrEmptyID):
		return datatypes.NewValidationError(field, "task ids must not be empty")
	case errors.Is(err, graph.ErrTraversalLimit):
		e.logger.Warn("dependency graph traversal limit exceeded",
			slog.String("task_id", from),
			slog.Int("visited", res.Visited))
		return datatypes.NewValidationError(field, "dependency graph is too large to validate")
	case err != nil:
		return err
	}

	if res.HasCycle {
		return &datatypes.CycleError{IDs: res.Path, Path: titlePath(res.Path, byID)}
	}
	return nil
}

// =============================================================================
// Delete
// =============================================================================

// DeleteTask removes a task. Admin only.
//
// Description:
//
//	Edges from and to the task are deleted, and the task is removed from
//	the inline dependency list of every dependent, in one transaction.
//	Publishes taskDeleted.
func (e *Engine) DeleteTask(ctx context.Context, p datatypes.Principal, id string) error {
	return e.observe(ctx, "delete_task", p, func(ctx context.Context) error {
		unlock, err := e.lockTenant(ctx, p.TenantID)
		if err != nil {
			return err
		}
		defer unlock()

		err = e.store.Update(ctx, func(tx store.Tx) error {
			task, err := loadTenantTask(tx, p, id)
			if err != nil {
				return err
			}
			if !policy.IsAllowed(policy.ActionTaskDelete, p, policy.Resource{TenantID: task.TenantID, AssigneeID: task.Assignee}) {
				return datatypes.AccessDeniedf("only admins can delete tasks")
			}

			incoming, err := tx.EdgesTo(task.TenantID, id)
			if err != nil {
				return err
			}
			now := e.now()
			for _, edge := range incoming {
				dependent, err := tx.GetTask(edge.TaskID)
				if err != nil && !errors.Is(err, datatypes.ErrNotFound) {
					return err
				}
				if dependent != nil {
					dependent.Dependencies = slices.DeleteFunc(dependent.Dependencies, func(d string) bool { return d == id })
					dependent.UpdatedAt = now
					if err := tx.PutTask(dependent); err != nil {
						return err
					}
				}
				if err := tx.DeleteEdge(task.TenantID, edge.TaskID, id); err != nil {
					return err
				}
			}

			outgoing, err := tx.EdgesFrom(task.TenantID, id)
			if err != nil {
				return err
			}
			for _, edge := range outgoing {
				if err := tx.DeleteEdge(task.TenantID, id, edge.DependentTaskID); err != nil {
					return err
				}
			}
			return tx.DeleteTask(task.TenantID, id)
		})
		if err != nil {
			return err
		}

		e.publish(ctx, p.TenantID, []pendingEvent{{
			name:    fanout.EventTaskDeleted,
			payload: datatypes.TaskDeletedEvent{TaskID: id, DeletedBy: p.UserID},
		}})
		return nil
	})
}

// =============================================================================
// Dry Run
// =============================================================================

// CheckDependencies reports whether replacing the task's dependency set
// with ids would close a cycle. It never writes.
func (e *Engine) CheckDependencies(ctx context.Context, p datatypes.Principal, id string, req datatypes.CheckDependenciesRequest) (*datatypes.CheckDependenciesResponse, error) {
	ctx, span := tracer.Start(ctx, "engine.check_dependencies")
	defer span.End()

	if err := datatypes.Validate(&req); err != nil {
		return nil, err
	}

	resp := &datatypes.CheckDependenciesResponse{}
	err := e.store.View(ctx, func(tx store.Tx) error {
		task, err := loadTenantTask(tx, p, id)
		if err != nil {
			return err
		}
		if !policy.IsAllowed(policy.ActionTaskRead, p, policy.Resource{TenantID: task.TenantID}) {
			return datatypes.AccessDeniedf("cannot read task %s", id)
		}

		deps := dedupe(req.Dependencies)
		for _, dep := range deps {
			if dep == id {
				return datatypes.NewValidationError("dependencies", "a task cannot depend on itself")
			}
			other, err := tx.GetTask(dep)
			if err != nil {
				return err
			}
			if other.TenantID != task.TenantID {
				return &datatypes.TenantMismatchError{Resource: "task", ID: dep}
			}
		}

		g, byID, err := tenantGraph(tx, task.TenantID)
		if err != nil {
			return err
		}
		err = e.checkCycles(ctx, g, id, deps, byID, "dependencies")
		var cycle *datatypes.CycleError
		if errors.As(err, &cycle) {
			resp.HasCircular = true
			resp.Path = cycle.Path
			return nil
		}
		return err
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Bool("has_circular", resp.HasCircular))
	return resp, nil
}
