// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Sentinel errors for the task graph service.
//
// Every error returned by the engine and the directory matches exactly one
// of these with errors.Is, except TenantMismatch which also matches
// ErrAccessDenied. Handlers map them to HTTP status codes.
var (
	// ErrValidation indicates malformed or missing input fields.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound indicates a referenced tenant, user, task or edge is absent.
	ErrNotFound = errors.New("not found")

	// ErrAccessDenied indicates a role or ownership rule was violated.
	ErrAccessDenied = errors.New("access denied")

	// ErrTenantMismatch indicates a reference to a record owned by another tenant.
	ErrTenantMismatch = errors.New("resource belongs to a different tenant")

	// ErrCycleDetected indicates a proposed edge would close a dependency cycle.
	ErrCycleDetected = errors.New("circular dependency detected")

	// ErrConflict indicates a duplicate record or a concurrent-write conflict.
	ErrConflict = errors.New("conflict")

	// ErrStorage indicates the record store failed. Not user-correctable.
	ErrStorage = errors.New("storage failure")

	// ErrUnauthenticated indicates missing, invalid or expired credentials.
	ErrUnauthenticated = errors.New("unauthenticated")
)

// =============================================================================
// ValidationError
// =============================================================================

// ValidationError lists every violated input field with a reason.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: reason}}
}

// Add records another violated field.
func (e *ValidationError) Add(field, reason string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = reason
}

// Empty reports whether no field has been recorded.
func (e *ValidationError) Empty() bool {
	return len(e.Fields) == 0
}

// OrNil returns nil when no field was recorded, so callers can collect
// violations and return the result directly.
func (e *ValidationError) OrNil() error {
	if e == nil || e.Empty() {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	keys := slices.Sorted(maps.Keys(e.Fields))
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// =============================================================================
// CycleError
// =============================================================================

// CycleError carries the dependency cycle a mutation would have closed.
//
// IDs is the cycle as task ids, starting and ending at the same task.
// Path is the same cycle with ids resolved to titles where available.
type CycleError struct {
	IDs  []string
	Path []string
}

func (e *CycleError) Error() string {
	path := e.Path
	if len(path) == 0 {
		path = e.IDs
	}
	return fmt.Sprintf("circular dependency detected: %s", strings.Join(path, " -> "))
}

func (e *CycleError) Is(target error) bool {
	return target == ErrCycleDetected
}

// =============================================================================
// TenantMismatchError
// =============================================================================

// TenantMismatchError is returned when a request scoped to one tenant
// references a record owned by another. It matches both ErrTenantMismatch
// and ErrAccessDenied.
type TenantMismatchError struct {
	Resource string
	ID       string
}

func (e *TenantMismatchError) Error() string {
	return fmt.Sprintf("%s %s belongs to a different tenant", e.Resource, e.ID)
}

func (e *TenantMismatchError) Is(target error) bool {
	return target == ErrTenantMismatch || target == ErrAccessDenied
}

// =============================================================================
// StorageError
// =============================================================================

// StorageError wraps a record store failure. The underlying error is kept
// for logging; clients only ever see the opaque message.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// NotFoundf wraps ErrNotFound with a description of what was missing.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}

// AccessDeniedf wraps ErrAccessDenied with the rule that was violated.
func AccessDeniedf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrAccessDenied)
}

// Conflictf wraps ErrConflict with a description of the conflict.
func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrConflict)
}
