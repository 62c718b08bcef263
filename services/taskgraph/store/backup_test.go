// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianTasks/services/taskgraph/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_BackupRestore(t *testing.T) {
	ctx := context.Background()
	src := openTestStore(t)
	now := time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)
	putTask(t, src, &datatypes.Task{ID: "a", TenantID: "t1", Title: "A", Status: datatypes.StatusPending, CreatedAt: now, UpdatedAt: now})
	putTask(t, src, &datatypes.Task{ID: "b", TenantID: "t1", Title: "B", Status: datatypes.StatusPending, CreatedAt: now, UpdatedAt: now})

	var snapshot bytes.Buffer
	version, err := src.Backup(ctx, &snapshot)
	require.NoError(t, err)
	assert.NotZero(t, version)
	assert.NotZero(t, snapshot.Len())

	dst := openTestStore(t)
	empty, err := dst.Empty(ctx)
	require.NoError(t, err)
	assert.True(t, empty)

	require.NoError(t, dst.Restore(ctx, &snapshot))

	empty, err = dst.Empty(ctx)
	require.NoError(t, err)
	assert.False(t, empty)

	var tasks []*datatypes.Task
	require.NoError(t, dst.View(ctx, func(tx Tx) error {
		var err error
		tasks, err = tx.ListTasks("t1")
		return err
	}))
	require.Len(t, tasks, 2)
	titles := []string{tasks[0].Title, tasks[1].Title}
	assert.ElementsMatch(t, []string{"A", "B"}, titles)
}

func TestStore_BackupCancelled(t *testing.T) {
	s := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Backup(ctx, &bytes.Buffer{})
	assert.Error(t, err)
	assert.Error(t, s.Restore(ctx, &bytes.Buffer{}))
}
