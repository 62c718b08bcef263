// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FileTarget is a snapshot on the local filesystem.
type FileTarget struct {
	Path string
}

// NewWriter writes to a temporary file beside Path that Commit renames
// into place.
func (f *FileTarget) NewWriter(_ context.Context) (Writer, error) {
	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create backup directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.Path)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create backup file: %w", err)
	}
	return &fileWriter{File: tmp, dest: f.Path}, nil
}

// NewReader opens Path.
func (f *FileTarget) NewReader(_ context.Context) (io.ReadCloser, error) {
	r, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("open backup file: %w", err)
	}
	return r, nil
}

func (f *FileTarget) String() string {
	return f.Path
}

type fileWriter struct {
	*os.File
	dest string
}

func (w *fileWriter) Commit() error {
	if err := w.Sync(); err != nil {
		w.Abort()
		return err
	}
	if err := w.Close(); err != nil {
		_ = os.Remove(w.Name())
		return err
	}
	if err := os.Rename(w.Name(), w.dest); err != nil {
		_ = os.Remove(w.Name())
		return err
	}
	return nil
}

func (w *fileWriter) Abort() {
	_ = w.Close()
	_ = os.Remove(w.Name())
}
