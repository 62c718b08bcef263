// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store is the record store of the task graph service, backed by
// BadgerDB.
//
// Tenants, users, sessions, tasks and dependency edges are stored as JSON
// values under prefixed keys. Every read goes through View and every write
// through Update, each of which hands the caller a Tx bound to one Badger
// transaction, so a mutation that touches several records (an edge and the
// inline dependency list of its task, for example) commits atomically.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/AleutianAI/AleutianTasks/services/taskgraph/datatypes"
	"github.com/dgraph-io/badger/v4"
)

// Config holds configuration for the record store.
type Config struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is true.
	Path string

	// InMemory keeps all data in RAM. Used by tests and throwaway instances.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives BadgerDB's internal log lines. Nil disables them.
	Logger *slog.Logger

	// GCInterval is how often value log garbage collection runs.
	// Zero disables it.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum garbage ratio that triggers a rewrite.
	GCDiscardRatio float64

	// ConflictRetries is how many times Update re-runs a transaction that
	// lost an optimistic concurrency race before reporting ErrConflict.
	ConflictRetries int
}

// DefaultConfig returns production defaults for a store at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:            path,
		SyncWrites:      true,
		GCInterval:      5 * time.Minute,
		GCDiscardRatio:  0.5,
		ConflictRetries: 3,
	}
}

// InMemoryConfig returns a configuration for tests: no disk I/O, no GC.
func InMemoryConfig() Config {
	return Config{
		InMemory:        true,
		ConflictRetries: 3,
	}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store is the Badger-backed record store.
//
// # Thread Safety
//
// Safe for concurrent use. Each View or Update call runs in its own
// transaction; a Tx must not escape the callback.
type Store struct {
	db      *badger.DB
	gc      *gcRunner
	retries int
	logger  *slog.Logger
}

// Open opens the record store.
//
// Description:
//
//	Opens BadgerDB at cfg.Path, or in memory if cfg.InMemory is set, and
//	starts value log GC when configured for a persistent database.
//
// Outputs:
//
//	*Store - The opened store. Caller must call Close.
//	error - Non-nil if the path is missing or Badger fails to open.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create data directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, retries: cfg.ConflictRetries, logger: logger}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gc = newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, logger)
		s.gc.start()
	}
	return s, nil
}

// OpenInMemory opens an empty in-memory store.
func OpenInMemory() (*Store, error) {
	return Open(InMemoryConfig())
}

// Close stops GC and closes the database.
func (s *Store) Close() error {
	if s.gc != nil {
		s.gc.stop()
	}
	return s.db.Close()
}

// Ping reports whether the store can serve reads.
func (s *Store) Ping(ctx context.Context) error {
	if s.db.IsClosed() {
		return &datatypes.StorageError{Op: "ping", Err: errors.New("database closed")}
	}
	return s.View(ctx, func(Tx) error { return nil })
}

// View runs fn in a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	txn := s.db.NewTransaction(false)
	defer txn.Discard()
	return fn(&badgerTx{txn: txn})
}

// Update runs fn in a read-write transaction and commits if fn returns nil.
//
// Description:
//
//	Badger detects write conflicts optimistically at commit. A transaction
//	that loses a race is re-run up to ConflictRetries times, so fn must
//	not have side effects outside the transaction. If every attempt
//	conflicts the result matches datatypes.ErrConflict.
//
// Outputs:
//
//	error - fn's error unchanged, ErrConflict, or a *StorageError.
func (s *Store) Update(ctx context.Context, fn func(tx Tx) error) error {
	attempts := s.retries + 1
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context cancelled: %w", err)
		}
		err := s.update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		if attempt >= attempts {
			return datatypes.Conflictf("concurrent modification, retry the request")
		}
		s.logger.Debug("store transaction conflict, retrying", slog.Int("attempt", attempt))
	}
}

func (s *Store) update(fn func(tx Tx) error) error {
	txn := s.db.NewTransaction(true)
	defer txn.Discard()

	if err := fn(&badgerTx{txn: txn}); err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		if errors.Is(err, badger.ErrConflict) {
			return err
		}
		return &datatypes.StorageError{Op: "commit", Err: err}
	}
	return nil
}

// =============================================================================
// Value Log GC
// =============================================================================

type gcRunner struct {
	db       *badger.DB
	interval time.Duration
	ratio    float64
	stopCh   chan struct{}
	doneCh   chan struct{}
	logger   *slog.Logger
}

func newGCRunner(db *badger.DB, interval time.Duration, ratio float64, logger *slog.Logger) *gcRunner {
	if ratio <= 0 || ratio >= 1 {
		ratio = 0.5
	}
	return &gcRunner{
		db:       db,
		interval: interval,
		ratio:    ratio,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		logger:   logger,
	}
}

func (r *gcRunner) start() {
	go r.run()
}

func (r *gcRunner) stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *gcRunner) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			// ErrNoRewrite means there was nothing worth collecting.
			err := r.db.RunValueLogGC(r.ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				r.logger.Warn("badger value log GC error", slog.String("error", err.Error()))
			}
		}
	}
}
