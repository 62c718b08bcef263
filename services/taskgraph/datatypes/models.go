// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides the records, request types and error taxonomy
// shared by every layer of the task graph service.
//
// Records (Tenant, User, Task, Dependency) are stored as JSON in the record
// store and returned as-is over HTTP, so the JSON tags are the wire format.
package datatypes

import (
	"slices"
	"strings"
	"time"
)

// =============================================================================
// Roles
// =============================================================================

// Role is a principal's authorization tier.
type Role string

const (
	RoleMember     Role = "member"
	RoleManager    Role = "manager"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "superadmin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleMember, RoleManager, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// AtLeast reports whether r ranks at or above other.
func (r Role) AtLeast(other Role) bool {
	return r.rank() >= other.rank()
}

func (r Role) rank() int {
	switch r {
	case RoleMember:
		return 1
	case RoleManager:
		return 2
	case RoleAdmin:
		return 3
	case RoleSuperAdmin:
		return 4
	}
	return 0
}

// =============================================================================
// Task Status
// =============================================================================

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusInProgress TaskStatus = "in-progress"
	StatusCompleted  TaskStatus = "completed"
)

// Valid reports whether s is one of the three task states.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// =============================================================================
// Records
// =============================================================================

// Tenant is the isolation boundary. Every task and dependency edge belongs
// to exactly one tenant.
type Tenant struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Domain      string    `json:"domain"`
	AdminUserID string    `json:"adminUserId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// User is a principal registered under a tenant.
//
// PasswordHash is persisted by the store but never serialized to clients;
// handlers always return users through PublicUser.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash []byte    `json:"passwordHash"`
	Role         Role      `json:"role"`
	TenantID     string    `json:"tenantId"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// PublicUser is the client-facing view of a User.
type PublicUser struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Role     Role   `json:"role"`
	TenantID string `json:"tenantId"`
}

// Public strips credential material from the user.
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:       u.ID,
		Name:     u.Name,
		Email:    u.Email,
		Role:     u.Role,
		TenantID: u.TenantID,
	}
}

// Principal returns the authorization identity of the user.
func (u *User) Principal() Principal {
	return Principal{UserID: u.ID, Role: u.Role, TenantID: u.TenantID}
}

// NormalizeEmail lower-cases and trims an email so uniqueness is
// case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Task is the core mutable entity.
//
// Dependencies is the ordered set of task ids this task depends on. It is
// the inline view of the Dependency edges whose TaskID is this task; the
// engine writes both in the same store transaction.
type Task struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	Status       TaskStatus `json:"status"`
	DueDate      time.Time  `json:"dueDate"`
	Assignee     string     `json:"assignee"`
	TenantID     string     `json:"tenantId"`
	Dependencies []string   `json:"dependencies"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// DependsOn reports whether id is in the task's dependency set.
func (t *Task) DependsOn(id string) bool {
	return slices.Contains(t.Dependencies, id)
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	c := *t
	c.Dependencies = slices.Clone(t.Dependencies)
	return &c
}

// Dependency is a directed edge: TaskID depends on DependentTaskID, so
// DependentTaskID must complete before TaskID is unblocked.
type Dependency struct {
	ID              string    `json:"id"`
	TaskID          string    `json:"taskId"`
	DependentTaskID string    `json:"dependentTaskId"`
	TenantID        string    `json:"tenantId"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// DependencyView is an edge with the dependent task's title and status
// resolved for display.
type DependencyView struct {
	Dependency
	DependentTask *TaskSummary `json:"dependentTask,omitempty"`
}

// TaskSummary is the subset of a task shown alongside an edge.
type TaskSummary struct {
	ID     string     `json:"id"`
	Title  string     `json:"title"`
	Status TaskStatus `json:"status"`
}

// Session maps a hashed bearer token to a user.
type Session struct {
	UserID    string    `json:"userId"`
	TenantID  string    `json:"tenantId"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// =============================================================================
// Principal
// =============================================================================

// Principal is the authenticated caller of an operation.
type Principal struct {
	UserID   string `json:"userId"`
	Role     Role   `json:"role"`
	TenantID string `json:"tenantId"`
}
