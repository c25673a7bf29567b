// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const filterReloadDebounce = 500 * time.Millisecond

// FilterWatcher monitors the resolved filter file for changes and triggers
// a re-parse with debouncing, so an editor's write burst produces one reload.
type FilterWatcher struct {
	path     string
	onChange func(*FilterConfig)
	logger   *zap.Logger

	watcher *fsnotify.Watcher
	mu      sync.Mutex
	stopCh  chan struct{}
}

// NewFilterWatcher creates a watcher for the filter file at path.
// onChange is called with each successfully re-parsed filter config.
func NewFilterWatcher(path string, onChange func(*FilterConfig), logger *zap.Logger) *FilterWatcher {
	return &FilterWatcher{
		path:     path,
		onChange: onChange,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start begins watching the filter file's directory for changes.
func (w *FilterWatcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = fsw

	// Watch the directory, not the file: editors replace files on save and
	// a watch on the old inode would go dead.
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		return err
	}

	go w.loop(ctx)
	w.logger.Info("filter watcher started", zap.String("path", w.path))
	return nil
}

// Stop shuts down the watcher.
func (w *FilterWatcher) Stop() {
	close(w.stopCh)
	if w.watcher != nil {
		w.watcher.Close()
	}
}

func (w *FilterWatcher) loop(ctx context.Context) {
	var debounceTimer *time.Timer

	base := filepath.Base(w.path)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			w.logger.Debug("filter file changed", zap.String("file", event.Name))

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(filterReloadDebounce, w.reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("filter watcher error", zap.Error(err))

		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case <-w.stopCh:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return
		}
	}
}

func (w *FilterWatcher) reload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	fc, err := ParseFilterFile(w.path)
	if err != nil {
		w.logger.Error("filter reload failed, keeping previous lists", zap.Error(err))
		return
	}
	w.logger.Info("filter lists reloaded",
		zap.Int("allowlist", len(fc.Allowlist)),
		zap.Int("denylist", len(fc.Denylist)),
	)
	w.onChange(fc)
}
