// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command taskgraph runs the multi-tenant task dependency graph server.
//
// Configuration comes from an optional YAML file, then TASKGRAPH_*
// environment variables, then command-line flags.
//
// # Environment Variables
//
//   - TASKGRAPH_PORT: HTTP server port (default: 12230)
//   - TASKGRAPH_DATA_DIR: BadgerDB directory (default: ./data/taskgraph)
//   - TASKGRAPH_IN_MEMORY: Keep all data in memory (default: false)
//   - TASKGRAPH_LOG_LEVEL: debug, info, warn or error (default: info)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (optional)
//
// # Usage
//
//	# Build
//	go build -o taskgraph ./cmd/taskgraph
//
//	# Run
//	./taskgraph serve --config taskgraph.yaml
//
//	# Check a config file without starting
//	./taskgraph config check --config taskgraph.yaml
//
//	# Probe a running server
//	./taskgraph status --url http://localhost:12230
//
//	# Snapshot a stopped server's data directory
//	./taskgraph backup --to gs://ops-backups/taskgraph.bak
package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/AleutianTasks/services/taskgraph"
	"github.com/AleutianAI/AleutianTasks/services/taskgraph/handlers"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type serveFlags struct {
	configPath string
	port       int
	inMemory   bool
}

func newRootCmd() *cobra.Command {
	var flags serveFlags

	rootCmd := &cobra.Command{
		Use:          "taskgraph",
		Short:        "Multi-tenant task dependency graph server",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to a YAML config file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd, flags)
			if err != nil {
				return err
			}
			svc, err := taskgraph.New(cfg, nil)
			if err != nil {
				return fmt.Errorf("failed to create service: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return svc.Run(ctx)
		},
	}
	serveCmd.Flags().IntVarP(&flags.port, "port", "p", 0, "HTTP port (overrides config and environment)")
	serveCmd.Flags().BoolVar(&flags.inMemory, "in-memory", false, "keep all data in memory")

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the effective configuration and print it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd, flags)
			if err != nil {
				return err
			}
			effective, err := taskgraph.Effective(cfg)
			if err != nil {
				return err
			}
			return printConfig(cmd.OutOrStdout(), effective)
		},
	}
	configCmd.AddCommand(checkCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the server version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "taskgraph %s\n", handlers.ServiceVersion)
		},
	}

	rootCmd.AddCommand(serveCmd, configCmd, versionCmd,
		newStatusCmd(), newBackupCmd(&flags), newRestoreCmd(&flags), newAuditCmd(&flags))
	return rootCmd
}

// resolveConfig loads the file and environment, then applies any flags the
// user set explicitly.
func resolveConfig(cmd *cobra.Command, flags serveFlags) (taskgraph.Config, error) {
	cfg, err := taskgraph.LoadConfig(flags.configPath)
	if err != nil {
		return taskgraph.Config{}, err
	}
	if f := cmd.Flags().Lookup("port"); f != nil && f.Changed {
		cfg.Port = flags.port
	}
	if f := cmd.Flags().Lookup("in-memory"); f != nil && f.Changed {
		cfg.InMemory = flags.inMemory
	}
	return cfg, nil
}

func printConfig(w io.Writer, cfg taskgraph.Config) error {
	if cfg.Superadmin.Password != "" {
		cfg.Superadmin.Password = "********"
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}
