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
	"context"
	"fmt"
	"io"

	"github.com/dgraph-io/badger/v4"
)

// maxPendingRestoreWrites bounds the batches Badger keeps in flight while
// loading a snapshot.
const maxPendingRestoreWrites = 256

// Backup streams a full snapshot of every live record to w and returns the
// commit version it covers.
func (s *Store) Backup(ctx context.Context, w io.Writer) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("context cancelled: %w", err)
	}
	version, err := s.db.Backup(w, 0)
	if err != nil {
		return 0, fmt.Errorf("backup: %w", err)
	}
	s.logger.Info("Store backup written", "version", version)
	return version, nil
}

// Restore loads a snapshot written by Backup. Records in the snapshot
// overwrite records with the same key; nothing else is removed, so
// restores are normally made into an empty store.
func (s *Store) Restore(ctx context.Context, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	if err := s.db.Load(r, maxPendingRestoreWrites); err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	s.logger.Info("Store restored from snapshot")
	return nil
}

// Empty reports whether the store holds no records.
func (s *Store) Empty(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("context cancelled: %w", err)
	}
	empty := true
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		it.Rewind()
		empty = !it.Valid()
		return nil
	})
	return empty, err
}
