// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package taskgraph

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/AleutianAI/AleutianTasks/pkg/logging"
	"github.com/fsnotify/fsnotify"
)

// reloadDebounce collapses the burst of events an editor produces for one
// save into a single reload.
var reloadDebounce = 250 * time.Millisecond

// watchConfig re-reads path after it changes and passes the validated
// result to apply. It blocks until ctx is done.
//
// # Description
//
// The parent directory is watched rather than the file itself, because
// many editors and config management tools replace a file by renaming a
// temporary one over it, which drops a watch on the original inode.
// A file that fails to load or validate is logged and ignored; the
// previous settings stay in effect.
//
// # Outputs
//
//   - error: Non-nil only if the watcher could not be created.
func watchConfig(ctx context.Context, path string, apply func(Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer watcher.Close()

	path = filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	slog.Info("Watching config file for changes", "path", path)

	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			cfg, err := LoadConfig(path)
			if err == nil {
				cfg, err = Effective(cfg)
			}
			if err != nil {
				slog.Warn("Ignoring invalid config change", "path", path, "error", err)
				continue
			}
			apply(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Config watcher error", "error", err)
		}
	}
}

// applyReload adopts the runtime-tunable settings of cfg. It is only
// called from the watcher goroutine.
func (s *service) applyReload(cfg Config) {
	if level, err := logging.ParseLevel(cfg.Logging.Level); err == nil && cfg.Logging.Level != s.config.Logging.Level {
		s.logger.SetLevel(level)
	}
	if cfg.RateLimit != s.config.RateLimit {
		s.limiter.SetLimits(cfg.RateLimit)
	}
	s.config.Logging.Level = cfg.Logging.Level
	s.config.RateLimit = cfg.RateLimit

	slog.Info("Configuration reloaded",
		"log_level", cfg.Logging.Level,
		"rate_limit_rps", cfg.RateLimit.RequestsPerSecond,
		"rate_limit_burst", cfg.RateLimit.Burst)
}
