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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianTasks/pkg/ux"
	"github.com/AleutianAI/AleutianTasks/services/taskgraph/handlers"
	"github.com/spf13/cobra"
)

// errNotReady makes `taskgraph status` exit non-zero for scripts and
// container health checks.
var errNotReady = errors.New("server is not ready")

func newStatusCmd() *cobra.Command {
	var baseURL string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check the health and readiness of a running server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return runStatus(ctx, ux.NewPrinter(cmd.OutOrStdout()), strings.TrimRight(baseURL, "/"))
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", "http://localhost:12230", "server base URL")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "overall request timeout")
	return cmd
}

func runStatus(ctx context.Context, p *ux.Printer, baseURL string) error {
	p.Title("Task graph server " + baseURL)

	var health handlers.HealthResponse
	if _, err := getJSON(ctx, baseURL+"/health", &health); err != nil {
		p.Error("unreachable: " + err.Error())
		return errNotReady
	}
	p.Success("process is " + health.Status)
	p.KeyValue("version", health.Version)

	var ready handlers.ReadyResponse
	code, err := getJSON(ctx, baseURL+"/ready", &ready)
	if err != nil {
		p.Error("readiness check failed: " + err.Error())
		return errNotReady
	}
	if code != http.StatusOK || !ready.Ready {
		p.Warning("not ready: " + ready.Error)
		return errNotReady
	}
	p.Success("ready to serve requests")
	return nil
}

// getJSON decodes the body of both success and 503 responses, since the
// readiness probe explains itself in its body.
func getJSON(ctx context.Context, url string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return resp.StatusCode, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, nil
}
