// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine implements the task lifecycle and the dependency registry.
//
// Every mutation follows the same path: load the records, check the access
// policy, validate the input, run the graph validator for edge changes,
// write all affected records in one store transaction, and only then hand
// events to the publisher. A failed mutation publishes nothing.
//
// # Concurrency
//
// Operations that read a tenant's graph and then change it (adding an
// edge, replacing a dependency set, deleting a task) hold that tenant's
// lock across read, validate and write, so two concurrent changes that
// would only form a cycle together cannot both succeed. Reads never lock.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianTasks/services/taskgraph/datatypes"
	"github.com/AleutianAI/AleutianTasks/services/taskgraph/graph"
	"github.com/AleutianAI/AleutianTasks/services/taskgraph/store"
	"github.com/google/uuid"
)

// Store is the transactional record store the engine runs on.
type Store interface {
	View(ctx context.Context, fn func(tx store.Tx) error) error
	Update(ctx context.Context, fn func(tx store.Tx) error) error
}

// Publisher receives lifecycle events after their mutation has committed.
// Publish must not block.
type Publisher interface {
	Publish(tenantID, event string, payload any) int
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, string, any) int { return 0 }

// Config configures an Engine.
type Config struct {
	// MaxVisited caps tasks visited by one cycle check. Zero means
	// graph.DefaultMaxVisited.
	MaxVisited int

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Engine is the task lifecycle manager and dependency registry.
//
// # Thread Safety
//
// Safe for concurrent use.
type Engine struct {
	store  Store
	pub    Publisher
	locks  *TenantLocks
	limits graph.Limits
	logger *slog.Logger
	now    func() time.Time
}

// New creates an engine over st publishing to pub. A nil pub discards events.
func New(st Store, pub Publisher, cfg Config) *Engine {
	if pub == nil {
		pub = nopPublisher{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		store:  st,
		pub:    pub,
		locks:  NewTenantLocks(),
		limits: graph.Limits{MaxVisited: cfg.MaxVisited},
		logger: logger.With(slog.String("component", "engine")),
		now:    func() time.Time { return now().UTC() },
	}
}

// =============================================================================
// Shared Helpers
// =============================================================================

// pendingEvent is an event queued during a transaction and published after
// it commits.
type pendingEvent struct {
	name    string
	payload any
}

func (e *Engine) publish(ctx context.Context, tenantID string, events []pendingEvent) {
	for _, ev := range events {
		n := e.pub.Publish(tenantID, ev.name, ev.payload)
		recordEvent(ctx, ev.name)
		e.logger.Debug("event published",
			slog.String("tenant_id", tenantID),
			slog.String("event", ev.name),
			slog.Int("delivered", n))
	}
}

func (e *Engine) lockTenant(ctx context.Context, tenantID string) (func(), error) {
	start := time.Now()
	unlock, err := e.locks.Lock(ctx, tenantID)
	recordLockWait(ctx, time.Since(start))
	return unlock, err
}

func newID() string {
	return uuid.NewString()
}

// loadTenantTask fetches a task and checks it belongs to the principal's
// tenant. A task owned elsewhere is a TenantMismatchError.
func loadTenantTask(tx store.Tx, p datatypes.Principal, id string) (*datatypes.Task, error) {
	task, err := tx.GetTask(id)
	if err != nil {
		return nil, err
	}
	if task.TenantID != p.TenantID {
		return nil, &datatypes.TenantMismatchError{Resource: "task", ID: id}
	}
	return task, nil
}

// tenantGraph loads the tenant's tasks and builds the adjacency from the
// inline dependency lists, which carry the stored edge order.
func tenantGraph(tx store.Tx, tenantID string) (graph.Graph, map[string]*datatypes.Task, error) {
	tasks, err := tx.ListTasks(tenantID)
	if err != nil {
		return nil, nil, err
	}
	g := make(graph.Graph, len(tasks))
	byID := make(map[string]*datatypes.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
		g.Replace(t.ID, t.Dependencies)
	}
	return g, byID, nil
}

// titlePath resolves a cycle of ids to task titles, falling back to the id
// for any task without a title.
func titlePath(ids []string, byID map[string]*datatypes.Task) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id
		if t, ok := byID[id]; ok && t.Title != "" {
			out[i] = t.Title
		}
	}
	return out
}

// dedupe returns ids with duplicates removed, keeping first occurrences.
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
