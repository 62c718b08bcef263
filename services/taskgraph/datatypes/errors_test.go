// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinelMatching(t *testing.T) {
	storageErr := &StorageError{Op: "get", Err: errors.New("disk gone")}
	mismatch := &TenantMismatchError{Resource: "task", ID: "t-9"}

	tests := []struct {
		name string
		err  error
		is   []error
		not  []error
	}{
		{"validation", NewValidationError("title", "is required"), []error{ErrValidation}, []error{ErrNotFound}},
		{"cycle", &CycleError{IDs: []string{"a", "b", "a"}}, []error{ErrCycleDetected}, []error{ErrValidation}},
		{"tenant mismatch", mismatch, []error{ErrTenantMismatch, ErrAccessDenied}, []error{ErrNotFound}},
		{"storage", storageErr, []error{ErrStorage}, []error{ErrConflict}},
		{"wrapped storage", fmt.Errorf("engine: %w", storageErr), []error{ErrStorage}, nil},
		{"not found", NotFoundf("task %s", "x"), []error{ErrNotFound}, []error{ErrAccessDenied}},
		{"access denied", AccessDeniedf("members cannot delete"), []error{ErrAccessDenied}, []error{ErrTenantMismatch}},
		{"conflict", Conflictf("edge exists"), []error{ErrConflict}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, target := range tt.is {
				assert.ErrorIs(t, tt.err, target)
			}
			for _, target := range tt.not {
				assert.NotErrorIs(t, tt.err, target)
			}
		})
	}

	assert.Equal(t, "disk gone", errors.Unwrap(storageErr).Error())
}

func TestValidationError(t *testing.T) {
	var nilErr *ValidationError
	assert.NoError(t, nilErr.OrNil())

	verr := &ValidationError{}
	assert.True(t, verr.Empty())
	assert.NoError(t, verr.OrNil())

	verr.Add("title", "is required")
	verr.Add("assignee", "is required")
	assert.False(t, verr.Empty())
	assert.EqualError(t, verr.OrNil(), "validation failed: assignee: is required; title: is required")
}

func TestCycleError_Message(t *testing.T) {
	assert.EqualError(t, &CycleError{IDs: []string{"a", "b", "a"}}, "circular dependency detected: a -> b -> a")
	assert.EqualError(t,
		&CycleError{IDs: []string{"a", "b", "a"}, Path: []string{"Design", "Build", "Design"}},
		"circular dependency detected: Design -> Build -> Design")
}
