// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/AleutianAI/AleutianTasks/services/taskgraph/datatypes"
	"github.com/dgraph-io/badger/v4"
)

// Tx is a typed view of one store transaction.
//
// Lookups of absent records return an error matching datatypes.ErrNotFound.
// Write methods on a read-only Tx fail with a *datatypes.StorageError.
// Scans return records in key order.
type Tx interface {
	// Tenants

	GetTenant(id string) (*datatypes.Tenant, error)
	TenantIDByDomain(domain string) (string, error)
	// PutTenant upserts a tenant and its domain index. A domain already
	// owned by another tenant fails with ErrConflict.
	PutTenant(t *datatypes.Tenant) error
	ListTenants() ([]*datatypes.Tenant, error)
	// DeleteTenant removes the tenant with all of its users, tasks and edges.
	DeleteTenant(id string) error
	// GuardTenant fails with ErrNotFound if the tenant does not exist.
	// Otherwise a DeleteTenant running concurrently with this transaction
	// conflicts with it, whichever commits first, so records added under
	// the tenant here cannot outlive it.
	GuardTenant(id string) error

	// Users and sessions

	GetUser(id string) (*datatypes.User, error)
	UserIDByEmail(email string) (string, error)
	// PutUser upserts a user and its email index. An email already owned
	// by another user fails with ErrConflict.
	PutUser(u *datatypes.User) error
	ListUsers(tenantID string) ([]*datatypes.User, error)
	PutSession(tokenHash string, s *datatypes.Session, ttl time.Duration) error
	GetSession(tokenHash string) (*datatypes.Session, error)
	DeleteSession(tokenHash string) error

	// Tasks

	// GetTask finds a task by id in any tenant.
	GetTask(id string) (*datatypes.Task, error)
	PutTask(t *datatypes.Task) error
	// DeleteTask removes the task record only. Edges are the caller's job.
	DeleteTask(tenantID, id string) error
	ListTasks(tenantID string) ([]*datatypes.Task, error)

	// Dependency edges

	GetEdge(tenantID, taskID, dependentTaskID string) (*datatypes.Dependency, error)
	PutEdge(d *datatypes.Dependency) error
	DeleteEdge(tenantID, taskID, dependentTaskID string) error
	// EdgesFrom returns edges whose TaskID is taskID.
	EdgesFrom(tenantID, taskID string) ([]*datatypes.Dependency, error)
	// EdgesTo returns edges whose DependentTaskID is dependentTaskID.
	EdgesTo(tenantID, dependentTaskID string) ([]*datatypes.Dependency, error)
	// Edges returns every edge of the tenant.
	Edges(tenantID string) ([]*datatypes.Dependency, error)
}

type badgerTx struct {
	txn *badger.Txn
}

// =============================================================================
// Codec helpers
// =============================================================================

func (t *badgerTx) get(op string, key []byte, out any) error {
	item, err := t.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return datatypes.ErrNotFound
	}
	if err != nil {
		return &datatypes.StorageError{Op: op, Err: err}
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
	if err != nil {
		return &datatypes.StorageError{Op: op, Err: err}
	}
	return nil
}

func (t *badgerTx) getString(op string, key []byte) (string, error) {
	item, err := t.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", datatypes.ErrNotFound
	}
	if err != nil {
		return "", &datatypes.StorageError{Op: op, Err: err}
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return "", &datatypes.StorageError{Op: op, Err: err}
	}
	return string(val), nil
}

func (t *badgerTx) put(op string, key []byte, v any) error {
	val, err := json.Marshal(v)
	if err != nil {
		return &datatypes.StorageError{Op: op, Err: err}
	}
	if err := t.txn.Set(key, val); err != nil {
		return &datatypes.StorageError{Op: op, Err: err}
	}
	return nil
}

func (t *badgerTx) set(op string, key []byte, val string) error {
	if err := t.txn.Set(key, []byte(val)); err != nil {
		return &datatypes.StorageError{Op: op, Err: err}
	}
	return nil
}

func (t *badgerTx) del(op string, key []byte) error {
	if err := t.txn.Delete(key); err != nil {
		return &datatypes.StorageError{Op: op, Err: err}
	}
	return nil
}

// scan calls fn with the key and value of every item under prefix.
func (t *badgerTx) scan(op string, prefix []byte, fn func(key, val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := t.txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)
		val, err := item.ValueCopy(nil)
		if err != nil {
			return &datatypes.StorageError{Op: op, Err: err}
		}
		if err := fn(key, val); err != nil {
			return err
		}
	}
	return nil
}

// keysUnder lists the keys under prefix without reading values.
func (t *badgerTx) keysUnder(prefix []byte) [][]byte {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	it := t.txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys
}

func scanJSON[T any](t *badgerTx, op string, prefix []byte) ([]*T, error) {
	var out []*T
	err := t.scan(op, prefix, func(_, val []byte) error {
		v := new(T)
		if err := json.Unmarshal(val, v); err != nil {
			return &datatypes.StorageError{Op: op, Err: err}
		}
		out = append(out, v)
		return nil
	})
	return out, err
}

// =============================================================================
// Tenants
// =============================================================================

func (t *badgerTx) GetTenant(id string) (*datatypes.Tenant, error) {
	var tenant datatypes.Tenant
	if err := t.get("get tenant", tenantKey(id), &tenant); err != nil {
		if errors.Is(err, datatypes.ErrNotFound) {
			return nil, datatypes.NotFoundf("tenant %s", id)
		}
		return nil, err
	}
	return &tenant, nil
}

func (t *badgerTx) TenantIDByDomain(domain string) (string, error) {
	id, err := t.getString("get tenant domain", tenantDomainKey(domain))
	if errors.Is(err, datatypes.ErrNotFound) {
		return "", datatypes.NotFoundf("tenant domain %s", domain)
	}
	return id, err
}

func (t *badgerTx) PutTenant(tenant *datatypes.Tenant) error {
	owner, err := t.TenantIDByDomain(tenant.Domain)
	switch {
	case err == nil && owner != tenant.ID:
		return datatypes.Conflictf("domain %s is already registered", tenant.Domain)
	case err != nil && !errors.Is(err, datatypes.ErrNotFound):
		return err
	}

	prev, err := t.GetTenant(tenant.ID)
	if err == nil && prev.Domain != tenant.Domain {
		if err := t.del("put tenant", tenantDomainKey(prev.Domain)); err != nil {
			return err
		}
	} else if err != nil && !errors.Is(err, datatypes.ErrNotFound) {
		return err
	}

	if err := t.set("put tenant", tenantDomainKey(tenant.Domain), tenant.ID); err != nil {
		return err
	}
	return t.put("put tenant", tenantKey(tenant.ID), tenant)
}

func (t *badgerTx) ListTenants() ([]*datatypes.Tenant, error) {
	return scanJSON[datatypes.Tenant](t, "list tenants", []byte(prefixTenant))
}

func (t *badgerTx) GuardTenant(id string) error {
	if _, err := t.GetTenant(id); err != nil {
		return err
	}
	return t.set("guard tenant", tenantGuardKey(id), id)
}

func (t *badgerTx) DeleteTenant(id string) error {
	tenant, err := t.GetTenant(id)
	if err != nil {
		return err
	}
	// Read the guard so a GuardTenant that commits first forces a retry
	// that sees its records.
	if _, err := t.getString("delete tenant", tenantGuardKey(id)); err != nil && !errors.Is(err, datatypes.ErrNotFound) {
		return err
	}

	tasks, err := t.ListTasks(id)
	if err != nil {
		return err
	}
	for _, task := range tasks {
		if err := t.del("delete tenant", taskIDKey(task.ID)); err != nil {
			return err
		}
	}

	users, err := t.ListUsers(id)
	if err != nil {
		return err
	}
	for _, u := range users {
		if err := t.del("delete tenant", userKey(u.ID)); err != nil {
			return err
		}
		if err := t.del("delete tenant", userEmailKey(u.Email)); err != nil {
			return err
		}
	}

	for _, prefix := range [][]byte{
		taskPrefix(id), edgeTenantPrefix(id), edgeRevTenantPrefix(id), userTenantPrefix(id),
	} {
		for _, key := range t.keysUnder(prefix) {
			if err := t.del("delete tenant", key); err != nil {
				return err
			}
		}
	}

	if err := t.del("delete tenant", tenantDomainKey(tenant.Domain)); err != nil {
		return err
	}
	if err := t.del("delete tenant", tenantGuardKey(id)); err != nil {
		return err
	}
	return t.del("delete tenant", tenantKey(id))
}

// =============================================================================
// Users And Sessions
// =============================================================================

func (t *badgerTx) GetUser(id string) (*datatypes.User, error) {
	var u datatypes.User
	if err := t.get("get user", userKey(id), &u); err != nil {
		if errors.Is(err, datatypes.ErrNotFound) {
			return nil, datatypes.NotFoundf("user %s", id)
		}
		return nil, err
	}
	return &u, nil
}

func (t *badgerTx) UserIDByEmail(email string) (string, error) {
	id, err := t.getString("get user email", userEmailKey(email))
	if errors.Is(err, datatypes.ErrNotFound) {
		return "", datatypes.NotFoundf("user with email %s", email)
	}
	return id, err
}

func (t *badgerTx) PutUser(u *datatypes.User) error {
	owner, err := t.UserIDByEmail(u.Email)
	switch {
	case err == nil && owner != u.ID:
		return datatypes.Conflictf("email %s is already registered", u.Email)
	case err != nil && !errors.Is(err, datatypes.ErrNotFound):
		return err
	}

	if err := t.set("put user", userEmailKey(u.Email), u.ID); err != nil {
		return err
	}
	if err := t.set("put user", userTenantKey(u.TenantID, u.ID), ""); err != nil {
		return err
	}
	return t.put("put user", userKey(u.ID), u)
}

func (t *badgerTx) ListUsers(tenantID string) ([]*datatypes.User, error) {
	prefix := userTenantPrefix(tenantID)
	var users []*datatypes.User
	for _, key := range t.keysUnder(prefix) {
		u, err := t.GetUser(string(key[len(prefix):]))
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

func (t *badgerTx) PutSession(tokenHash string, s *datatypes.Session, ttl time.Duration) error {
	val, err := json.Marshal(s)
	if err != nil {
		return &datatypes.StorageError{Op: "put session", Err: err}
	}
	e := badger.NewEntry(sessionKey(tokenHash), val).WithTTL(ttl)
	if err := t.txn.SetEntry(e); err != nil {
		return &datatypes.StorageError{Op: "put session", Err: err}
	}
	return nil
}

func (t *badgerTx) GetSession(tokenHash string) (*datatypes.Session, error) {
	var s datatypes.Session
	if err := t.get("get session", sessionKey(tokenHash), &s); err != nil {
		if errors.Is(err, datatypes.ErrNotFound) {
			return nil, datatypes.NotFoundf("session")
		}
		return nil, err
	}
	return &s, nil
}

func (t *badgerTx) DeleteSession(tokenHash string) error {
	return t.del("delete session", sessionKey(tokenHash))
}

// =============================================================================
// Tasks
// =============================================================================

func (t *badgerTx) GetTask(id string) (*datatypes.Task, error) {
	tenantID, err := t.getString("get task", taskIDKey(id))
	if errors.Is(err, datatypes.ErrNotFound) {
		return nil, datatypes.NotFoundf("task %s", id)
	}
	if err != nil {
		return nil, err
	}

	var task datatypes.Task
	if err := t.get("get task", taskKey(tenantID, id), &task); err != nil {
		if errors.Is(err, datatypes.ErrNotFound) {
			return nil, datatypes.NotFoundf("task %s", id)
		}
		return nil, err
	}
	return &task, nil
}

func (t *badgerTx) PutTask(task *datatypes.Task) error {
	if err := t.set("put task", taskIDKey(task.ID), task.TenantID); err != nil {
		return err
	}
	return t.put("put task", taskKey(task.TenantID, task.ID), task)
}

func (t *badgerTx) DeleteTask(tenantID, id string) error {
	if err := t.del("delete task", taskIDKey(id)); err != nil {
		return err
	}
	return t.del("delete task", taskKey(tenantID, id))
}

func (t *badgerTx) ListTasks(tenantID string) ([]*datatypes.Task, error) {
	return scanJSON[datatypes.Task](t, "list tasks", taskPrefix(tenantID))
}

// =============================================================================
// Dependency Edges
// =============================================================================

func (t *badgerTx) GetEdge(tenantID, taskID, dependentTaskID string) (*datatypes.Dependency, error) {
	var d datatypes.Dependency
	if err := t.get("get edge", edgeKey(tenantID, taskID, dependentTaskID), &d); err != nil {
		if errors.Is(err, datatypes.ErrNotFound) {
			return nil, datatypes.NotFoundf("dependency %s -> %s", taskID, dependentTaskID)
		}
		return nil, err
	}
	return &d, nil
}

func (t *badgerTx) PutEdge(d *datatypes.Dependency) error {
	if err := t.put("put edge", edgeRevKey(d.TenantID, d.DependentTaskID, d.TaskID), d); err != nil {
		return err
	}
	return t.put("put edge", edgeKey(d.TenantID, d.TaskID, d.DependentTaskID), d)
}

func (t *badgerTx) DeleteEdge(tenantID, taskID, dependentTaskID string) error {
	if err := t.del("delete edge", edgeRevKey(tenantID, dependentTaskID, taskID)); err != nil {
		return err
	}
	return t.del("delete edge", edgeKey(tenantID, taskID, dependentTaskID))
}

func (t *badgerTx) EdgesFrom(tenantID, taskID string) ([]*datatypes.Dependency, error) {
	return scanJSON[datatypes.Dependency](t, "list edges", edgeFromPrefix(tenantID, taskID))
}

func (t *badgerTx) EdgesTo(tenantID, dependentTaskID string) ([]*datatypes.Dependency, error) {
	return scanJSON[datatypes.Dependency](t, "list edges", edgeToPrefix(tenantID, dependentTaskID))
}

func (t *badgerTx) Edges(tenantID string) ([]*datatypes.Dependency, error) {
	return scanJSON[datatypes.Dependency](t, "list edges", edgeTenantPrefix(tenantID))
}
