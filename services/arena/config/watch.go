// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long Watch waits for a burst of writes to settle.
const DefaultDebounce = 100 * time.Millisecond

// ReloadFunc receives every successfully reloaded configuration.
type ReloadFunc func(Config)

// Watch reloads path whenever it changes and passes valid results to fn.
//
// Description:
//
//	The parent directory is watched rather than the file, because editors
//	usually save by writing a temp file and renaming it over the original.
//	Events are debounced. A file that fails to load or validate is logged
//	and skipped; the previous configuration stays in effect.
//
// Inputs:
//   - ctx: Watching stops when ctx is done.
//   - path: The config file.
//   - fn: Called from the watcher goroutine, one reload at a time.
//   - logger: Nil uses slog.Default().
//
// Outputs:
//   - error: Non-nil if the watcher could not be started. Otherwise
//     Watch blocks until ctx is done and returns nil.
func Watch(ctx context.Context, path string, fn ReloadFunc, logger *slog.Logger) error {
	return watch(ctx, path, fn, logger, DefaultDebounce)
}

func watch(ctx context.Context, path string, fn ReloadFunc, logger *slog.Logger, debounce time.Duration) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "config_watcher"))

	abs, err := filepath.Abs(ExpandHome(path))
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	logger.Info("watching config", slog.String("path", abs))

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", slog.String("error", err.Error()))

		case <-timer.C:
			cfg, err := Load(abs)
			if err != nil {
				logger.Warn("config reload rejected", slog.String("error", err.Error()))
				continue
			}
			logger.Info("config reloaded", slog.String("path", abs))
			fn(cfg)
		}
	}
}
