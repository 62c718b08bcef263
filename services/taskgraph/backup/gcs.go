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

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSTarget is a snapshot stored as one Cloud Storage object.
type GCSTarget struct {
	client *storage.Client
	Bucket string
	Object string
}

// NewGCSTarget creates a client for bucket/object. credentialsFile is a
// service account key; empty uses Application Default Credentials.
func NewGCSTarget(ctx context.Context, bucket, object, credentialsFile string) (*GCSTarget, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		if _, err := os.Stat(credentialsFile); err != nil {
			return nil, fmt.Errorf("service account key not found at path: %s: %w", credentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &GCSTarget{client: client, Bucket: bucket, Object: object}, nil
}

// NewWriter streams the snapshot into the object. The upload is finalized
// by Commit and cancelled by Abort.
func (g *GCSTarget) NewWriter(ctx context.Context) (Writer, error) {
	ctx, cancel := context.WithCancel(ctx)
	w := g.client.Bucket(g.Bucket).Object(g.Object).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	w.CacheControl = "no-cache, no-store, must-revalidate"
	return &gcsWriter{Writer: w, cancel: cancel}, nil
}

// NewReader downloads the object.
func (g *GCSTarget) NewReader(ctx context.Context) (io.ReadCloser, error) {
	r, err := g.client.Bucket(g.Bucket).Object(g.Object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read gs://%s/%s: %w", g.Bucket, g.Object, err)
	}
	return r, nil
}

// Close releases the storage client.
func (g *GCSTarget) Close() error {
	return g.client.Close()
}

func (g *GCSTarget) String() string {
	return "gs://" + g.Bucket + "/" + g.Object
}

type gcsWriter struct {
	*storage.Writer
	cancel context.CancelFunc
}

func (w *gcsWriter) Commit() error {
	defer w.cancel()
	return w.Close()
}

// Abort cancels the upload context; a cancelled upload never creates the
// object.
func (w *gcsWriter) Abort() {
	w.cancel()
	_ = w.Close()
}
