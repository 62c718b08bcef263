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
	"strings"

	"github.com/AleutianAI/AleutianTasks/pkg/ux"
	"github.com/AleutianAI/AleutianTasks/services/taskgraph/engine"
	"github.com/spf13/cobra"
)

// errAuditFindings makes `taskgraph audit` exit non-zero when any tenant's
// graph has a cycle or drift.
var errAuditFindings = errors.New("dependency graph audit found problems")

func newAuditCmd(flags *serveFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Check a stopped server's dependency graphs for cycles and drift",
		Long: `Rebuilds every tenant's dependency graph from its edge records, searches
it for cycles and compares it with the dependency list stored on each task.
Run it after a restore or a manual data change. The server must be stopped.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := openDataDir(cmd, *flags)
			if err != nil {
				return err
			}
			defer st.Close()

			reports, err := engine.New(st, nil, engine.Config{}).Audit(cmd.Context())
			if err != nil {
				return err
			}
			return printAudit(ux.NewPrinter(cmd.OutOrStdout()), reports)
		},
	}
}

func printAudit(p *ux.Printer, reports []engine.AuditReport) error {
	p.Title("Dependency graph audit")
	if len(reports) == 0 {
		p.Success("no tenants")
		return nil
	}

	failed := 0
	for _, r := range reports {
		summary := fmt.Sprintf("tenant %s: %d tasks, %d edges", r.TenantID, r.Tasks, r.Edges)
		if r.Healthy() {
			p.Success(summary)
			continue
		}
		failed++
		p.Error(summary)
		if len(r.Cycle) > 0 {
			p.KeyValue("cycle", strings.Join(r.Cycle, " -> "))
		}
		if len(r.Drift) > 0 {
			p.KeyValue("drift", strings.Join(r.Drift, ","))
		}
	}
	if failed > 0 {
		return errAuditFindings
	}
	return nil
}
