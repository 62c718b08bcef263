// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package backup copies store snapshots to and from a local file or a
// Google Cloud Storage object.
//
// Badger holds an exclusive lock on its directory, so backups and restores
// run against a stopped server's data directory:
//
//	taskgraph backup  --to gs://ops-backups/taskgraph/2025-06-01.bak
//	taskgraph restore --from ./taskgraph.bak
package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianTasks/services/taskgraph/store"
)

// ErrNotEmpty is returned by Restore when the destination store already
// holds records.
var ErrNotEmpty = errors.New("backup: destination store is not empty")

// Writer receives a snapshot. Nothing is visible at the target until
// Commit succeeds.
type Writer interface {
	io.Writer

	// Commit publishes the snapshot.
	Commit() error

	// Abort discards everything written so far.
	Abort()
}

// Target is a place a snapshot can be written to and read back from.
type Target interface {
	NewWriter(ctx context.Context) (Writer, error)
	NewReader(ctx context.Context) (io.ReadCloser, error)
	String() string
}

// Result describes a completed backup.
type Result struct {
	Target   string
	Version  uint64
	Bytes    int64
	Duration time.Duration
}

// Options configures ParseTarget.
type Options struct {
	// GCSCredentialsFile is a service account key for gs:// targets.
	// Empty uses Application Default Credentials.
	GCSCredentialsFile string
}

// ParseTarget returns a GCS target for "gs://bucket/object" and a file
// target for anything else.
func ParseTarget(ctx context.Context, location string, opts Options) (Target, error) {
	if location == "" {
		return nil, errors.New("backup: location is required")
	}
	rest, ok := strings.CutPrefix(location, "gs://")
	if !ok {
		return &FileTarget{Path: location}, nil
	}
	bucket, object, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return nil, fmt.Errorf("backup: %q is not of the form gs://bucket/object", location)
	}
	return NewGCSTarget(ctx, bucket, object, opts.GCSCredentialsFile)
}

// Save writes a snapshot of st to target.
func Save(ctx context.Context, st *store.Store, target Target) (Result, error) {
	start := time.Now()
	w, err := target.NewWriter(ctx)
	if err != nil {
		return Result{}, err
	}
	cw := &countingWriter{w: w}
	version, err := st.Backup(ctx, cw)
	if err != nil {
		w.Abort()
		return Result{}, err
	}
	if err := w.Commit(); err != nil {
		return Result{}, fmt.Errorf("commit backup to %s: %w", target, err)
	}

	res := Result{Target: target.String(), Version: version, Bytes: cw.n, Duration: time.Since(start)}
	slog.Info("Backup complete",
		"target", res.Target,
		"version", res.Version,
		"bytes", res.Bytes,
		"duration_ms", res.Duration.Milliseconds())
	return res, nil
}

// Restore loads the snapshot at target into st, which must be empty.
func Restore(ctx context.Context, st *store.Store, target Target) error {
	empty, err := st.Empty(ctx)
	if err != nil {
		return err
	}
	if !empty {
		return ErrNotEmpty
	}

	r, err := target.NewReader(ctx)
	if err != nil {
		return err
	}
	defer r.Close()
	if err := st.Restore(ctx, r); err != nil {
		return fmt.Errorf("restore from %s: %w", target, err)
	}
	slog.Info("Restore complete", "target", target.String())
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
