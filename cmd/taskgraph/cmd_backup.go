// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/AleutianAI/AleutianTasks/pkg/ux"
	"github.com/AleutianAI/AleutianTasks/services/taskgraph"
	"github.com/AleutianAI/AleutianTasks/services/taskgraph/backup"
	"github.com/AleutianAI/AleutianTasks/services/taskgraph/store"
	"github.com/spf13/cobra"
)

func newBackupCmd(flags *serveFlags) *cobra.Command {
	var to string
	var opts backup.Options

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write a snapshot of a stopped server's data directory",
		Long: `Writes a snapshot of every tenant, user, session, task and dependency
to a local file or a gs://bucket/object URL. The server must be stopped:
BadgerDB allows one process per data directory.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := openDataDir(cmd, *flags)
			if err != nil {
				return err
			}
			defer st.Close()

			target, err := backup.ParseTarget(cmd.Context(), to, opts)
			if err != nil {
				return err
			}
			defer closeTarget(target)

			res, err := backup.Save(cmd.Context(), st, target)
			if err != nil {
				return err
			}
			p := ux.NewPrinter(cmd.OutOrStdout())
			p.Success("backup written to " + res.Target)
			p.KeyValue("version", res.Version)
			p.KeyValue("bytes", res.Bytes)
			p.KeyValue("duration", res.Duration.Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "destination file path or gs://bucket/object")
	cmd.Flags().StringVar(&opts.GCSCredentialsFile, "gcs-credentials", "", "service account key for gs:// targets")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newRestoreCmd(flags *serveFlags) *cobra.Command {
	var from string
	var opts backup.Options

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Load a snapshot into an empty data directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := openDataDir(cmd, *flags)
			if err != nil {
				return err
			}
			defer st.Close()

			target, err := backup.ParseTarget(cmd.Context(), from, opts)
			if err != nil {
				return err
			}
			defer closeTarget(target)

			if err := backup.Restore(cmd.Context(), st, target); err != nil {
				return err
			}
			ux.NewPrinter(cmd.OutOrStdout()).Success("restored from " + target.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "source file path or gs://bucket/object")
	cmd.Flags().StringVar(&opts.GCSCredentialsFile, "gcs-credentials", "", "service account key for gs:// targets")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

// openDataDir opens the configured persistent store without value log GC.
func openDataDir(cmd *cobra.Command, flags serveFlags) (*store.Store, error) {
	cfg, err := resolveConfig(cmd, flags)
	if err != nil {
		return nil, err
	}
	cfg, err = taskgraph.Effective(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.InMemory {
		return nil, errors.New("in-memory configurations have no data directory to open")
	}
	scfg := store.DefaultConfig(cfg.DataDir)
	scfg.GCInterval = 0
	st, err := store.Open(scfg)
	if err != nil {
		return nil, fmt.Errorf("open data directory %s (is the server still running?): %w", cfg.DataDir, err)
	}
	return st, nil
}

func closeTarget(t backup.Target) {
	if c, ok := t.(io.Closer); ok {
		_ = c.Close()
	}
}
