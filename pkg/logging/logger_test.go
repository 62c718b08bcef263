// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.level.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{" warning ", LevelWarn, false},
		{"error", LevelError, false},
		{"loud", LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew_ForcedFormats(t *testing.T) {
	var jsonBuf, textBuf bytes.Buffer

	New(Config{Format: FormatJSON, Output: &jsonBuf, Service: "taskgraph"}).Slog().Info("hello", "k", 1)
	New(Config{Format: FormatText, Output: &textBuf}).Slog().Info("hello", "k", 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(jsonBuf.Bytes(), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, "taskgraph", rec["service"])

	assert.Contains(t, textBuf.String(), "msg=hello")
	assert.Contains(t, textBuf.String(), "k=1")
}

func TestNew_AutoFormatNonTerminalIsJSON(t *testing.T) {
	var buf bytes.Buffer
	New(Config{Output: &buf}).Slog().Info("auto")

	assert.True(t, json.Valid(bytes.TrimSpace(buf.Bytes())))
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelWarn, Format: FormatText, Output: &buf}).Slog()

	l.Debug("debug")
	l.Info("info")
	l.Warn("warn")
	l.Error("error")

	out := buf.String()
	assert.NotContains(t, out, "msg=debug")
	assert.NotContains(t, out, "msg=info")
	assert.Contains(t, out, "msg=warn")
	assert.Contains(t, out, "msg=error")
}

func TestLogger_SetLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelError, Format: FormatText, Output: &buf})
	child := logger.With("component", "engine")

	child.Slog().Info("before")
	logger.SetLevel(LevelDebug)
	child.Slog().Debug("after")

	out := buf.String()
	assert.NotContains(t, out, "msg=before")
	assert.Contains(t, out, "msg=after")
	assert.Contains(t, out, "component=engine")
}

func TestNew_QuietWithoutFile(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Quiet: true, Output: &buf})
	l.Slog().Error("dropped")

	assert.Empty(t, buf.String())
	assert.NoError(t, l.Close())
}

func TestNew_WithLogDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")
	var buf bytes.Buffer

	l := New(Config{LogDir: dir, Service: "svc", Format: FormatText, Output: &buf})
	l.With("request_id", "r1").Slog().Info("to both")
	require.NoError(t, l.Close())
	assert.NoError(t, l.Close(), "second close is a no-op")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "svc_"))

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &rec))
	assert.Equal(t, "to both", rec["msg"])
	assert.Equal(t, "r1", rec["request_id"])
	assert.Equal(t, "svc", rec["service"])

	assert.Contains(t, buf.String(), "msg=\"to both\"")
}

func TestMultiHandler_WithGroup(t *testing.T) {
	var a, b bytes.Buffer
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewJSONHandler(&a, nil),
		slog.NewJSONHandler(&b, &slog.HandlerOptions{Level: slog.LevelError}),
	}}
	l := slog.New(h.WithGroup("req").WithAttrs([]slog.Attr{slog.String("id", "x")}))

	assert.True(t, h.Enabled(context.Background(), slog.LevelInfo))
	l.Info("only a")

	assert.Contains(t, a.String(), `"req":{"id":"x"}`)
	assert.Empty(t, b.String())
}

func TestLogger_ConcurrentUse(t *testing.T) {
	var mu sync.Mutex
	var buf bytes.Buffer
	w := writerFunc(func(p []byte) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		return buf.Write(p)
	})
	l := New(Config{Format: FormatJSON, Output: w})

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.With("worker", i).Slog().Info("tick")
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 20, strings.Count(buf.String(), "\n"))
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "logs"), expandPath("~/logs"))
	assert.Equal(t, "/var/log", expandPath("/var/log"))
	assert.Equal(t, "", expandPath(""))
}
