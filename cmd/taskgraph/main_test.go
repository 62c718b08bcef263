// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/AleutianAI/AleutianTasks/services/taskgraph/handlers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "taskgraph "+handlers.ServiceVersion+"\n", out)
}

func TestConfigCheck_PrintsEffectiveConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskgraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 9100
in_memory: true
superadmin:
  email: root@example.com
  password: topsecret
`), 0o600))

	out, err := run(t, "config", "check", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "port: 9100")
	assert.Contains(t, out, "gin_mode: release")
	assert.Contains(t, out, "********")
	assert.NotContains(t, out, "topsecret")
}

func TestConfigCheck_RejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gin_mode: turbo\n"), 0o600))

	_, err := run(t, "config", "check", "--config", path)
	assert.Error(t, err)
}

func TestServe_RejectsMissingConfigFile(t *testing.T) {
	_, err := run(t, "serve", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
