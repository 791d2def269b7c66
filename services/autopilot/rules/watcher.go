// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rules

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/AleutianAI/autopilot/services/autopilot/datatypes"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// OverrideFile is the shape of a fleet-wide override document.
//
//	overrides:
//	  - rule_id: weekend_launch
//	    enabled: false
//	  - rule_id: max_increase
//	    params:
//	      max_percent: 40
type OverrideFile struct {
	Overrides []datatypes.RuleOverride `yaml:"overrides"`
}

// OverrideWatcher serves fleet-wide rule overrides from a YAML file and
// reloads them when the file changes.
//
// # Description
//
// The parent directory is watched rather than the file so that editors that
// save by rename are picked up. A reload that fails to parse keeps the
// previous overrides. A missing file means no overrides.
//
// # Thread Safety
//
// Safe for concurrent use. Overrides never blocks on a reload.
type OverrideWatcher struct {
	path    string
	watcher *fsnotify.Watcher
	logger  *slog.Logger
	current atomic.Pointer[[]datatypes.RuleOverride]

	done     chan struct{}
	stopOnce sync.Once
	mu       sync.Mutex
	watching bool
}

var _ OverrideSource = (*OverrideWatcher)(nil)

// NewOverrideWatcher loads path and prepares a watcher. Call Start to begin
// watching for changes.
//
// # Outputs
//
//   - *OverrideWatcher: Serving the overrides currently in the file.
//   - error: Non-nil if the file exists but is invalid, or fsnotify fails.
func NewOverrideWatcher(path string, logger *slog.Logger) (*OverrideWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w := &OverrideWatcher{
		path:   filepath.Clean(path),
		logger: logger.With(slog.String("component", "rule_override_watcher")),
		done:   make(chan struct{}),
	}
	empty := []datatypes.RuleOverride{}
	w.current.Store(&empty)
	if err := w.Reload(); err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	w.watcher = watcher
	return w, nil
}

// Overrides implements OverrideSource.
func (w *OverrideWatcher) Overrides() []datatypes.RuleOverride {
	cur := *w.current.Load()
	out := make([]datatypes.RuleOverride, len(cur))
	for i, o := range cur {
		out[i] = o.Clone()
	}
	return out
}

// Reload re-reads the override file.
func (w *OverrideWatcher) Reload() error {
	data, err := os.ReadFile(w.path)
	if errors.Is(err, fs.ErrNotExist) {
		empty := []datatypes.RuleOverride{}
		w.current.Store(&empty)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read rule overrides: %w", err)
	}
	var file OverrideFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse rule overrides %s: %w", w.path, err)
	}
	for i, o := range file.Overrides {
		if o.RuleID == "" {
			return fmt.Errorf("parse rule overrides %s: entry %d has no rule_id", w.path, i)
		}
	}
	if file.Overrides == nil {
		file.Overrides = []datatypes.RuleOverride{}
	}
	w.current.Store(&file.Overrides)
	w.logger.Info("rule overrides loaded",
		slog.String("path", w.path),
		slog.Int("count", len(file.Overrides)))
	return nil
}

// Start begins watching. It returns immediately; watching stops when ctx is
// cancelled or Stop is called.
func (w *OverrideWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return nil
	}
	w.watching = true
	w.mu.Unlock()

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	go w.processEvents(ctx)
	return nil
}

// Stop stops watching. Safe to call more than once.
func (w *OverrideWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
	})
}

func (w *OverrideWatcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := w.Reload(); err != nil {
				w.logger.Error("rule override reload failed, keeping previous overrides",
					slog.String("error", err.Error()))
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("rule override watcher error", slog.String("error", err.Error()))
		}
	}
}
