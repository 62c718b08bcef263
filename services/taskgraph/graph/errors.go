// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import "errors"

// Sentinel errors for graph validation.
var (
	// ErrSelfDependency is returned for an edge whose endpoints are the same
	// task. It is checked before any traversal.
	ErrSelfDependency = errors.New("a task cannot depend on itself")

	// ErrEmptyID is returned when an edge endpoint is blank.
	ErrEmptyID = errors.New("task id must not be empty")

	// ErrTraversalLimit is returned when a traversal visits more tasks than
	// Limits.MaxVisited allows.
	ErrTraversalLimit = errors.New("dependency graph traversal limit exceeded")
)
