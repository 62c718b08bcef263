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
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianTasks/services/taskgraph/datatypes"
	"github.com/AleutianAI/AleutianTasks/services/taskgraph/fanout"
	"github.com/AleutianAI/AleutianTasks/services/taskgraph/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Fixtures
// =============================================================================

type published struct {
	tenantID string
	name     string
	payload  any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (r *recordingPublisher) Publish(tenantID, event string, payload any) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, published{tenantID: tenantID, name: event, payload: payload})
	return 1
}

func (r *recordingPublisher) named(name string) []published {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []published
	for _, ev := range r.events {
		if ev.name == name {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recordingPublisher) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

func (r *recordingPublisher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type fixture struct {
	eng   *Engine
	st    *store.Store
	pub   *recordingPublisher
	admin datatypes.Principal
	mgr   datatypes.Principal
	alice datatypes.Principal
	bob   datatypes.Principal
	other datatypes.Principal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	// Each call advances the clock by a millisecond so creation order is
	// total and deterministic.
	var tick atomic.Int64
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		return base.Add(time.Duration(tick.Add(1)) * time.Millisecond)
	}

	pub := &recordingPublisher{}
	f := &fixture{
		eng:   New(st, pub, Config{Now: clock}),
		st:    st,
		pub:   pub,
		admin: datatypes.Principal{UserID: "u-admin", Role: datatypes.RoleAdmin, TenantID: "acme"},
		mgr:   datatypes.Principal{UserID: "u-mgr", Role: datatypes.RoleManager, TenantID: "acme"},
		alice: datatypes.Principal{UserID: "u-alice", Role: datatypes.RoleMember, TenantID: "acme"},
		bob:   datatypes.Principal{UserID: "u-bob", Role: datatypes.RoleMember, TenantID: "acme"},
		other: datatypes.Principal{UserID: "u-globex", Role: datatypes.RoleAdmin, TenantID: "globex"},
	}

	require.NoError(t, st.Update(context.Background(), func(tx store.Tx) error {
		for _, tn := range []*datatypes.Tenant{
			{ID: "acme", Name: "Acme", Domain: "acme.test"},
			{ID: "globex", Name: "Globex", Domain: "globex.test"},
		} {
			if err := tx.PutTenant(tn); err != nil {
				return err
			}
		}
		for _, p := range []datatypes.Principal{f.admin, f.mgr, f.alice, f.bob, f.other} {
			u := &datatypes.User{
				ID:       p.UserID,
				Name:     p.UserID,
				Email:    p.UserID + "@example.test",
				Role:     p.Role,
				TenantID: p.TenantID,
			}
			if err := tx.PutUser(u); err != nil {
				return err
			}
		}
		return nil
	}))
	return f
}

func (f *fixture) create(t *testing.T, p datatypes.Principal, title, assignee string) *datatypes.Task {
	t.Helper()
	task, err := f.eng.CreateTask(context.Background(), p, datatypes.CreateTaskRequest{
		Title:    title,
		DueDate:  "2025-04-01",
		Assignee: assignee,
	})
	require.NoError(t, err)
	return task
}

func (f *fixture) depend(t *testing.T, taskID, depID string) {
	t.Helper()
	_, err := f.eng.AddDependency(context.Background(), f.mgr, taskID, datatypes.AddDependencyRequest{DependentTaskID: depID})
	require.NoError(t, err)
}

func (f *fixture) task(t *testing.T, id string) *datatypes.Task {
	t.Helper()
	task, err := f.eng.GetTask(context.Background(), f.admin, id)
	require.NoError(t, err)
	return task
}

func ptr[T any](v T) *T { return &v }

// =============================================================================
// Create / Read
// =============================================================================

func TestCreateTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task, err := f.eng.CreateTask(ctx, f.mgr, datatypes.CreateTaskRequest{
		Title:       "  Design schema  ",
		Description: "tables and indexes",
		DueDate:     "2025-04-01",
		Assignee:    "u-alice",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, task.ID)
	assert.Equal(t, "Design schema", task.Title)
	assert.Equal(t, datatypes.StatusPending, task.Status)
	assert.Equal(t, "acme", task.TenantID)
	assert.Equal(t, time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), task.DueDate)
	assert.NotNil(t, task.Dependencies)
	assert.Empty(t, task.Dependencies)

	created := f.pub.named(fanout.EventTaskCreated)
	require.Len(t, created, 1)
	assert.Equal(t, "acme", created[0].tenantID)
	payload := created[0].payload.(datatypes.TaskCreatedEvent)
	assert.Equal(t, task.ID, payload.Task.ID)
	assert.Equal(t, "u-mgr", payload.CreatedBy)
}

func TestCreateTask_ValidationListsEveryField(t *testing.T) {
	f := newFixture(t)

	_, err := f.eng.CreateTask(context.Background(), f.admin, datatypes.CreateTaskRequest{
		Title:   "   ",
		DueDate: "next tuesday",
	})
	require.ErrorIs(t, err, datatypes.ErrValidation)

	var verr *datatypes.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Fields, "title")
	assert.Contains(t, verr.Fields, "dueDate")
	assert.Contains(t, verr.Fields, "assignee")
	assert.Zero(t, f.pub.count())
}

func TestCreateTask_AssigneeMustBelongToTenant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, assignee := range []string{"u-globex", "nobody"} {
		_, err := f.eng.CreateTask(ctx, f.admin, datatypes.CreateTaskRequest{
			Title: "x", DueDate: "2025-04-01", Assignee: assignee,
		})
		var verr *datatypes.ValidationError
		require.True(t, errors.As(err, &verr), assignee)
		assert.Contains(t, verr.Fields, "assignee")
	}
}

func TestCreateTask_MemberDenied(t *testing.T) {
	f := newFixture(t)

	_, err := f.eng.CreateTask(context.Background(), f.alice, datatypes.CreateTaskRequest{
		Title: "x", DueDate: "2025-04-01", Assignee: "u-alice",
	})
	require.ErrorIs(t, err, datatypes.ErrAccessDenied)
	assert.Zero(t, f.pub.count())
}

func TestCreateTask_DeletedTenant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.st.Update(ctx, func(tx store.Tx) error {
		return tx.DeleteTenant("globex")
	}))

	_, err := f.eng.CreateTask(ctx, f.other, datatypes.CreateTaskRequest{
		Title: "Orphan", DueDate: "2025-04-01", Assignee: f.other.UserID,
	})
	assert.ErrorIs(t, err, datatypes.ErrNotFound)
	assert.Zero(t, f.pub.count())
}

func TestGetTask_CrossTenant(t *testing.T) {
	f := newFixture(t)
	task := f.create(t, f.admin, "Secret", "u-alice")

	_, err := f.eng.GetTask(context.Background(), f.other, task.ID)
	require.ErrorIs(t, err, datatypes.ErrTenantMismatch)
	assert.ErrorIs(t, err, datatypes.ErrAccessDenied)

	_, err = f.eng.GetTask(context.Background(), f.admin, "missing")
	assert.ErrorIs(t, err, datatypes.ErrNotFound)
}

func TestListTasks_OrderedAndScoped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var want []string
	for i := range 5 {
		want = append(want, f.create(t, f.admin, fmt.Sprintf("task %d", i), "u-alice").ID)
	}
	f.create(t, f.other, "globex task", "u-globex")

	first, err := f.eng.ListTasks(ctx, f.alice)
	require.NoError(t, err)
	second, err := f.eng.ListTasks(ctx, f.alice)
	require.NoError(t, err)

	var got []string
	for _, task := range first {
		got = append(got, task.ID)
	}
	assert.Equal(t, want, got)
	assert.Equal(t, first, second)

	empty, err := f.eng.ListTasks(ctx, datatypes.Principal{UserID: "u-x", Role: datatypes.RoleMember, TenantID: "initech"})
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

// =============================================================================
// Update / Complete
// =============================================================================

func TestUpdateTask_AssigneeMayChangeStatusOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, f.mgr, "Write docs", "u-alice")

	updated, err := f.eng.UpdateTask(ctx, f.alice, task.ID, datatypes.UpdateTaskRequest{
		Status:      ptr(datatypes.StatusInProgress),
		Description: ptr("started"),
	})
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusInProgress, updated.Status)
	assert.Equal(t, "started", updated.Description)

	_, err = f.eng.UpdateTask(ctx, f.alice, task.ID, datatypes.UpdateTaskRequest{Title: ptr("renamed")})
	assert.ErrorIs(t, err, datatypes.ErrAccessDenied)

	_, err = f.eng.UpdateTask(ctx, f.bob, task.ID, datatypes.UpdateTaskRequest{Status: ptr(datatypes.StatusCompleted)})
	assert.ErrorIs(t, err, datatypes.ErrAccessDenied)

	assert.Equal(t, "Write docs", f.task(t, task.ID).Title)
}

func TestUpdateTask_InvalidStatus(t *testing.T) {
	f := newFixture(t)
	task := f.create(t, f.mgr, "x", "u-alice")

	_, err := f.eng.UpdateTask(context.Background(), f.mgr, task.ID, datatypes.UpdateTaskRequest{
		Status: ptr(datatypes.TaskStatus("done")),
	})
	var verr *datatypes.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Fields, "status")
}

func TestUpdateTask_CheckOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, f.mgr, "x", "u-alice")

	// A cross-tenant caller learns about the tenant before the bad input.
	_, err := f.eng.UpdateTask(ctx, f.other, task.ID, datatypes.UpdateTaskRequest{Status: ptr(datatypes.TaskStatus("bogus"))})
	assert.ErrorIs(t, err, datatypes.ErrTenantMismatch)

	// A denied caller learns about the denial before the bad input.
	_, err = f.eng.UpdateTask(ctx, f.bob, task.ID, datatypes.UpdateTaskRequest{Status: ptr(datatypes.TaskStatus("bogus"))})
	assert.ErrorIs(t, err, datatypes.ErrAccessDenied)

	_, err = f.eng.UpdateTask(ctx, f.mgr, "missing", datatypes.UpdateTaskRequest{})
	assert.ErrorIs(t, err, datatypes.ErrNotFound)
}

func TestUpdateTask_ReplaceDependencies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, f.mgr, "A", "u-alice")
	b := f.create(t, f.mgr, "B", "u-alice")
	c := f.create(t, f.mgr, "C", "u-alice")

	updated, err := f.eng.UpdateTask(ctx, f.mgr, a.ID, datatypes.UpdateTaskRequest{
		Dependencies: &[]string{b.ID, c.ID, b.ID},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID, c.ID}, updated.Dependencies)

	deps, err := f.eng.ListDependencies(ctx, f.mgr, a.ID)
	require.NoError(t, err)
	require.Len(t, deps, 2)
	assert.Equal(t, b.ID, deps[0].DependentTaskID)
	assert.Equal(t, c.ID, deps[1].DependentTaskID)
	keptID := deps[1].ID

	updated, err = f.eng.UpdateTask(ctx, f.mgr, a.ID, datatypes.UpdateTaskRequest{Dependencies: &[]string{c.ID}})
	require.NoError(t, err)
	assert.Equal(t, []string{c.ID}, updated.Dependencies)

	deps, err = f.eng.ListDependencies(ctx, f.mgr, a.ID)
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, keptID, deps[0].ID, "unchanged edges keep their id")

	// C -> A would close A -> C -> A.
	_, err = f.eng.UpdateTask(ctx, f.mgr, c.ID, datatypes.UpdateTaskRequest{Dependencies: &[]string{a.ID}})
	var cycle *datatypes.CycleError
	require.True(t, errors.As(err, &cycle))
	assert.Equal(t, []string{"C", "A", "C"}, cycle.Path)

	_, err = f.eng.UpdateTask(ctx, f.mgr, a.ID, datatypes.UpdateTaskRequest{Dependencies: &[]string{a.ID}})
	assert.ErrorIs(t, err, datatypes.ErrValidation)

	_, err = f.eng.UpdateTask(ctx, f.mgr, a.ID, datatypes.UpdateTaskRequest{Dependencies: &[]string{"missing"}})
	assert.ErrorIs(t, err, datatypes.ErrNotFound)

	foreign := f.create(t, f.other, "G", "u-globex")
	_, err = f.eng.UpdateTask(ctx, f.mgr, a.ID, datatypes.UpdateTaskRequest{Dependencies: &[]string{foreign.ID}})
	assert.ErrorIs(t, err, datatypes.ErrTenantMismatch)

	updated, err = f.eng.UpdateTask(ctx, f.mgr, a.ID, datatypes.UpdateTaskRequest{Dependencies: &[]string{}})
	require.NoError(t, err)
	assert.Empty(t, updated.Dependencies)
	deps, err = f.eng.ListDependencies(ctx, f.mgr, a.ID)
	require.NoError(t, err)
	assert.Empty(t, deps)
}

func TestCompleteTask_Events(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := f.create(t, f.mgr, "Base", "u-alice")
	d1 := f.create(t, f.mgr, "D1", "u-bob")
	d2 := f.create(t, f.mgr, "D2", "u-bob")
	f.depend(t, d1.ID, base.ID)
	f.depend(t, d2.ID, base.ID)
	f.pub.reset()

	done, err := f.eng.CompleteTask(ctx, f.alice, base.ID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusCompleted, done.Status)

	completed := f.pub.named(fanout.EventTaskCompleted)
	require.Len(t, completed, 1)
	payload := completed[0].payload.(datatypes.TaskCompletedEvent)
	assert.Equal(t, base.ID, payload.TaskID)
	assert.Equal(t, "u-alice", payload.CompletedBy)
	assert.ElementsMatch(t, []string{d1.ID, d2.ID}, payload.DependentTasks)

	depDone := f.pub.named(fanout.EventDependencyCompleted)
	require.Len(t, depDone, 2)
	var notified []string
	for _, ev := range depDone {
		p := ev.payload.(datatypes.DependencyCompletedEvent)
		assert.Equal(t, base.ID, p.CompletedTask.ID)
		notified = append(notified, p.TaskID)
	}
	assert.ElementsMatch(t, []string{d1.ID, d2.ID}, notified)
	assert.Len(t, f.pub.named(fanout.EventTaskUpdated), 1)

	// Completing again is not a transition but still notifies dependents.
	f.pub.reset()
	_, err = f.eng.CompleteTask(ctx, f.mgr, base.ID)
	require.NoError(t, err)
	assert.Empty(t, f.pub.named(fanout.EventTaskCompleted))
	assert.Len(t, f.pub.named(fanout.EventDependencyCompleted), 2)
}

func TestUpdateTask_StatusCompletedPublishesTaskCompletedOnly(t *testing.T) {
	f := newFixture(t)
	base := f.create(t, f.mgr, "Base", "u-alice")
	dep := f.create(t, f.mgr, "Dep", "u-alice")
	f.depend(t, dep.ID, base.ID)
	f.pub.reset()

	_, err := f.eng.UpdateTask(context.Background(), f.alice, base.ID, datatypes.UpdateTaskRequest{
		Status: ptr(datatypes.StatusCompleted),
	})
	require.NoError(t, err)
	assert.Len(t, f.pub.named(fanout.EventTaskCompleted), 1)
	assert.Empty(t, f.pub.named(fanout.EventDependencyCompleted))
}

func TestCompleteTask_Denied(t *testing.T) {
	f := newFixture(t)
	task := f.create(t, f.mgr, "x", "u-alice")

	_, err := f.eng.CompleteTask(context.Background(), f.bob, task.ID)
	require.ErrorIs(t, err, datatypes.ErrAccessDenied)
	assert.Equal(t, datatypes.StatusPending, f.task(t, task.ID).Status)
}

// =============================================================================
// Delete
// =============================================================================

func TestDeleteTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, f.mgr, "A", "u-alice")
	b := f.create(t, f.mgr, "B", "u-alice")
	c := f.create(t, f.mgr, "C", "u-alice")
	f.depend(t, a.ID, b.ID)
	f.depend(t, b.ID, c.ID)

	require.ErrorIs(t, f.eng.DeleteTask(ctx, f.mgr, b.ID), datatypes.ErrAccessDenied)
	require.ErrorIs(t, f.eng.DeleteTask(ctx, f.other, b.ID), datatypes.ErrTenantMismatch)

	f.pub.reset()
	require.NoError(t, f.eng.DeleteTask(ctx, f.admin, b.ID))

	_, err := f.eng.GetTask(ctx, f.admin, b.ID)
	assert.ErrorIs(t, err, datatypes.ErrNotFound)
	assert.Empty(t, f.task(t, a.ID).Dependencies)

	deps, err := f.eng.ListDependencies(ctx, f.admin, a.ID)
	require.NoError(t, err)
	assert.Empty(t, deps)

	require.NoError(t, f.st.View(ctx, func(tx store.Tx) error {
		edges, err := tx.Edges("acme")
		require.NoError(t, err)
		assert.Empty(t, edges)
		return nil
	}))

	deleted := f.pub.named(fanout.EventTaskDeleted)
	require.Len(t, deleted, 1)
	assert.Equal(t, b.ID, deleted[0].payload.(datatypes.TaskDeletedEvent).TaskID)
	assert.Equal(t, 1, f.pub.count())

	assert.ErrorIs(t, f.eng.DeleteTask(ctx, f.admin, b.ID), datatypes.ErrNotFound)
}

// =============================================================================
// Dependencies
// =============================================================================

func TestAddDependency_CycleReportsTitles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, f.mgr, "A", "u-alice")
	b := f.create(t, f.mgr, "B", "u-alice")
	c := f.create(t, f.mgr, "C", "u-alice")
	f.depend(t, a.ID, b.ID)
	f.depend(t, b.ID, c.ID)
	f.pub.reset()

	_, err := f.eng.AddDependency(ctx, f.mgr, c.ID, datatypes.AddDependencyRequest{DependentTaskID: a.ID})
	require.ErrorIs(t, err, datatypes.ErrCycleDetected)

	var cycle *datatypes.CycleError
	require.True(t, errors.As(err, &cycle))
	assert.Equal(t, []string{"C", "A", "B", "C"}, cycle.Path)
	assert.Equal(t, []string{c.ID, a.ID, b.ID, c.ID}, cycle.IDs)
	assert.Empty(t, f.task(t, c.ID).Dependencies)
	assert.Zero(t, f.pub.count())
}

func TestAddDependency_ReversePair(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, f.mgr, "A", "u-alice")
	b := f.create(t, f.mgr, "B", "u-alice")
	f.depend(t, a.ID, b.ID)

	_, err := f.eng.AddDependency(context.Background(), f.mgr, b.ID, datatypes.AddDependencyRequest{DependentTaskID: a.ID})
	var cycle *datatypes.CycleError
	require.True(t, errors.As(err, &cycle))
	assert.Equal(t, []string{"B", "A", "B"}, cycle.Path)
}

func TestAddDependency_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, f.mgr, "A", "u-alice")
	b := f.create(t, f.mgr, "B", "u-alice")
	foreign := f.create(t, f.other, "G", "u-globex")
	f.depend(t, a.ID, b.ID)

	tests := []struct {
		name string
		p    datatypes.Principal
		task string
		dep  string
		want error
	}{
		{"self", f.mgr, a.ID, a.ID, datatypes.ErrValidation},
		{"blank", f.mgr, a.ID, "  ", datatypes.ErrValidation},
		{"duplicate", f.mgr, a.ID, b.ID, datatypes.ErrConflict},
		{"missing task", f.mgr, "missing", b.ID, datatypes.ErrNotFound},
		{"missing dependency", f.mgr, a.ID, "missing", datatypes.ErrNotFound},
		{"foreign dependency", f.mgr, a.ID, foreign.ID, datatypes.ErrTenantMismatch},
		{"foreign caller", f.other, a.ID, b.ID, datatypes.ErrTenantMismatch},
		{"member", f.alice, b.ID, a.ID, datatypes.ErrAccessDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.eng.AddDependency(ctx, tt.p, tt.task, datatypes.AddDependencyRequest{DependentTaskID: tt.dep})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestAddDependency_ConcurrentCycleHalves(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, f.mgr, "A", "u-alice")
	b := f.create(t, f.mgr, "B", "u-alice")

	var (
		wg      sync.WaitGroup
		success atomic.Int32
		cycles  atomic.Int32
	)
	for _, pair := range [][2]string{{a.ID, b.ID}, {b.ID, a.ID}} {
		wg.Add(1)
		go func(from, to string) {
			defer wg.Done()
			_, err := f.eng.AddDependency(ctx, f.mgr, from, datatypes.AddDependencyRequest{DependentTaskID: to})
			switch {
			case err == nil:
				success.Add(1)
			case errors.Is(err, datatypes.ErrCycleDetected):
				cycles.Add(1)
			}
		}(pair[0], pair[1])
	}
	wg.Wait()

	assert.Equal(t, int32(1), success.Load())
	assert.Equal(t, int32(1), cycles.Load())
	assert.Equal(t, 0, f.eng.locks.size())
}

func TestUpdateTask_ConcurrentWithAddDependency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for round := range 20 {
		a := f.create(t, f.mgr, fmt.Sprintf("A%d", round), "u-alice")
		b := f.create(t, f.mgr, fmt.Sprintf("B%d", round), "u-alice")

		var (
			wg      sync.WaitGroup
			success atomic.Int32
			cycles  atomic.Int32
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := f.eng.UpdateTask(ctx, f.mgr, a.ID, datatypes.UpdateTaskRequest{Dependencies: &[]string{b.ID}})
			switch {
			case err == nil:
				success.Add(1)
			case errors.Is(err, datatypes.ErrCycleDetected):
				cycles.Add(1)
			}
		}()
		go func() {
			defer wg.Done()
			_, err := f.eng.AddDependency(ctx, f.mgr, b.ID, datatypes.AddDependencyRequest{DependentTaskID: a.ID})
			switch {
			case err == nil:
				success.Add(1)
			case errors.Is(err, datatypes.ErrCycleDetected):
				cycles.Add(1)
			}
		}()
		wg.Wait()

		require.Equal(t, int32(1), success.Load(), "round %d", round)
		require.Equal(t, int32(1), cycles.Load(), "round %d", round)
	}
	assert.Equal(t, 0, f.eng.locks.size())
}

func TestListDependencies_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, f.mgr, "A", "u-alice")
	var want []string
	for _, title := range []string{"D", "B", "C"} {
		dep := f.create(t, f.mgr, title, "u-alice")
		f.depend(t, a.ID, dep.ID)
		want = append(want, dep.ID)
	}

	first, err := f.eng.ListDependencies(ctx, f.alice, a.ID)
	require.NoError(t, err)
	second, err := f.eng.ListDependencies(ctx, f.alice, a.ID)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	got := make([]string, len(first))
	for i, d := range first {
		got[i] = d.DependentTaskID
	}
	assert.Equal(t, want, got, "insertion order")
}

func TestListDependencies_Summaries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, f.mgr, "A", "u-alice")
	b := f.create(t, f.mgr, "B", "u-alice")
	f.depend(t, a.ID, b.ID)

	deps, err := f.eng.ListDependencies(ctx, f.alice, a.ID)
	require.NoError(t, err)
	require.Len(t, deps, 1)
	require.NotNil(t, deps[0].DependentTask)
	assert.Equal(t, "B", deps[0].DependentTask.Title)
	assert.Equal(t, datatypes.StatusPending, deps[0].DependentTask.Status)

	_, err = f.eng.ListDependencies(ctx, f.other, a.ID)
	assert.ErrorIs(t, err, datatypes.ErrTenantMismatch)
}

func TestRemoveDependency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, f.mgr, "A", "u-alice")
	b := f.create(t, f.mgr, "B", "u-alice")
	f.depend(t, a.ID, b.ID)

	require.ErrorIs(t, f.eng.RemoveDependency(ctx, f.alice, a.ID, b.ID), datatypes.ErrAccessDenied)

	f.pub.reset()
	require.NoError(t, f.eng.RemoveDependency(ctx, f.mgr, a.ID, b.ID))
	assert.Empty(t, f.task(t, a.ID).Dependencies)

	removed := f.pub.named(fanout.EventDependencyRemoved)
	require.Len(t, removed, 1)
	assert.Equal(t, datatypes.DependencyRemovedEvent{TaskID: a.ID, DependentTaskID: b.ID, RemovedBy: "u-mgr"}, removed[0].payload)

	assert.ErrorIs(t, f.eng.RemoveDependency(ctx, f.mgr, a.ID, b.ID), datatypes.ErrNotFound)

	// The reverse edge is now allowed.
	f.depend(t, b.ID, a.ID)
}

func TestCheckDependencies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, f.mgr, "A", "u-alice")
	b := f.create(t, f.mgr, "B", "u-alice")
	c := f.create(t, f.mgr, "C", "u-alice")
	f.depend(t, a.ID, b.ID)
	f.depend(t, b.ID, c.ID)
	f.pub.reset()

	resp, err := f.eng.CheckDependencies(ctx, f.alice, c.ID, datatypes.CheckDependenciesRequest{Dependencies: []string{a.ID}})
	require.NoError(t, err)
	assert.True(t, resp.HasCircular)
	assert.Equal(t, []string{"C", "A", "B", "C"}, resp.Path)

	resp, err = f.eng.CheckDependencies(ctx, f.alice, a.ID, datatypes.CheckDependenciesRequest{Dependencies: []string{c.ID}})
	require.NoError(t, err)
	assert.False(t, resp.HasCircular)
	assert.Empty(t, resp.Path)

	_, err = f.eng.CheckDependencies(ctx, f.alice, a.ID, datatypes.CheckDependenciesRequest{Dependencies: []string{"missing"}})
	assert.ErrorIs(t, err, datatypes.ErrNotFound)

	_, err = f.eng.CheckDependencies(ctx, f.alice, a.ID, datatypes.CheckDependenciesRequest{Dependencies: []string{a.ID}})
	assert.ErrorIs(t, err, datatypes.ErrValidation)

	// Dry runs never write or publish.
	assert.Equal(t, []string{b.ID}, f.task(t, a.ID).Dependencies)
	assert.Zero(t, f.pub.count())
}

// TestScenario_ProjectPlan walks a small project from creation to
// completion of its first milestone.
func TestScenario_ProjectPlan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	design := f.create(t, f.admin, "Design", "u-alice")
	build := f.create(t, f.mgr, "Build", "u-bob")
	ship := f.create(t, f.mgr, "Ship", "u-bob")

	_, err := f.eng.UpdateTask(ctx, f.mgr, ship.ID, datatypes.UpdateTaskRequest{Dependencies: &[]string{build.ID}})
	require.NoError(t, err)
	f.depend(t, build.ID, design.ID)

	resp, err := f.eng.CheckDependencies(ctx, f.mgr, design.ID, datatypes.CheckDependenciesRequest{Dependencies: []string{ship.ID}})
	require.NoError(t, err)
	assert.Equal(t, []string{"Design", "Ship", "Build", "Design"}, resp.Path)

	_, err = f.eng.UpdateTask(ctx, f.alice, design.ID, datatypes.UpdateTaskRequest{Status: ptr(datatypes.StatusInProgress)})
	require.NoError(t, err)

	f.pub.reset()
	_, err = f.eng.CompleteTask(ctx, f.alice, design.ID)
	require.NoError(t, err)

	notified := f.pub.named(fanout.EventDependencyCompleted)
	require.Len(t, notified, 1)
	assert.Equal(t, build.ID, notified[0].payload.(datatypes.DependencyCompletedEvent).TaskID)

	tasks, err := f.eng.ListTasks(ctx, f.bob)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.Equal(t, datatypes.StatusCompleted, tasks[0].Status)
	assert.Equal(t, []string{design.ID}, tasks[1].Dependencies)
	assert.Equal(t, []string{build.ID}, tasks[2].Dependencies)
}

// =============================================================================
// Audit
// =============================================================================

func TestAudit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, f.mgr, "A", "u-alice")
	b := f.create(t, f.mgr, "B", "u-alice")
	c := f.create(t, f.mgr, "C", "u-alice")
	f.depend(t, a.ID, b.ID)
	f.depend(t, b.ID, c.ID)

	reports, err := f.eng.Audit(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	byTenant := map[string]AuditReport{}
	for _, r := range reports {
		byTenant[r.TenantID] = r
	}
	acme := byTenant["acme"]
	assert.True(t, acme.Healthy())
	assert.Equal(t, 3, acme.Tasks)
	assert.Equal(t, 2, acme.Edges)
	assert.True(t, byTenant["globex"].Healthy())

	// An edge record written behind the engine's back closes C -> A -> B -> C
	// and is missing from C's inline list.
	require.NoError(t, f.st.Update(ctx, func(tx store.Tx) error {
		return tx.PutEdge(&datatypes.Dependency{ID: "rogue", TaskID: c.ID, DependentTaskID: a.ID, TenantID: "acme"})
	}))

	reports, err = f.eng.Audit(ctx)
	require.NoError(t, err)
	for _, r := range reports {
		if r.TenantID != "acme" {
			continue
		}
		assert.False(t, r.Healthy())
		assert.Equal(t, 3, r.Edges)
		require.Len(t, r.Cycle, 4)
		assert.Equal(t, r.Cycle[0], r.Cycle[3])
		assert.ElementsMatch(t, []string{"A", "B", "C"}, r.Cycle[:3])
		assert.Equal(t, []string{c.ID}, r.Drift)
	}
}
