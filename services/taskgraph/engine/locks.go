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
	"sync"
)

// TenantLocks is a keyed mutex with one lock per tenant.
//
// Entries are reference counted and removed when the last holder or waiter
// releases, so the map only holds tenants with a mutation in flight.
//
// # Thread Safety
//
// Safe for concurrent use.
type TenantLocks struct {
	mu    sync.Mutex
	locks map[string]*tenantLock
}

type tenantLock struct {
	// ch is a one-slot semaphore so waiters can give up on ctx.
	ch   chan struct{}
	refs int
}

// NewTenantLocks creates an empty lock table.
func NewTenantLocks() *TenantLocks {
	return &TenantLocks{locks: make(map[string]*tenantLock)}
}

// Lock blocks until tenantID's lock is held or ctx is done. On success the
// returned function releases the lock and must be called exactly once.
func (l *TenantLocks) Lock(ctx context.Context, tenantID string) (func(), error) {
	l.mu.Lock()
	tl, ok := l.locks[tenantID]
	if !ok {
		tl = &tenantLock{ch: make(chan struct{}, 1)}
		l.locks[tenantID] = tl
	}
	tl.refs++
	l.mu.Unlock()

	select {
	case tl.ch <- struct{}{}:
		return func() {
			<-tl.ch
			l.release(tenantID, tl)
		}, nil
	case <-ctx.Done():
		l.release(tenantID, tl)
		return nil, ctx.Err()
	}
}

func (l *TenantLocks) release(tenantID string, tl *tenantLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tl.refs--
	if tl.refs == 0 {
		delete(l.locks, tenantID)
	}
}

// size returns the number of live entries.
func (l *TenantLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
