// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// =============================================================================
// CONFIG WATCHER
// =============================================================================

// Watcher reloads the configuration when the file changes on disk. Invalid
// edits are logged and skipped; the previous configuration stays in effect.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onReload func(*Config)
	log      zerolog.Logger

	mu      sync.Mutex
	pending time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// NewWatcher creates a watcher for the given config file. onReload receives
// each successfully reloaded configuration.
func NewWatcher(path string, onReload func(*Config), log zerolog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		path:     path,
		watcher:  fsw,
		debounce: 200 * time.Millisecond,
		onReload: onReload,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Watch starts watching for changes. Watching the parent directory rather
// than the file itself survives atomic rename-replace saves.
func (w *Watcher) Watch() error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	go w.processEvents()
	go w.processPending()
	return nil
}

// Close stops watching and releases resources.
func (w *Watcher) Close() error {
	w.cancel()
	return w.watcher.Close()
}

// processEvents records change events for the config file.
func (w *Watcher) processEvents() {
	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.mu.Lock()
			w.pending = time.Now()
			w.mu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("config watcher error")
		}
	}
}

// processPending reloads once changes settle for the debounce window, so an
// editor writing in several bursts triggers a single reload.
func (w *Watcher) processPending() {
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return

		case <-ticker.C:
			w.mu.Lock()
			settled := !w.pending.IsZero() && time.Since(w.pending) >= w.debounce
			if settled {
				w.pending = time.Time{}
			}
			w.mu.Unlock()

			if settled {
				w.reload()
			}
		}
	}
}

// reload re-parses the file and hands the result to the callback.
func (w *Watcher) reload() {
	cfg, err := LoadFrom(w.path)
	if err != nil {
		w.log.Warn().Err(err).Msg("config change ignored")
		return
	}
	w.log.Info().Str("path", w.path).Msg("configuration reloaded")
	w.onReload(cfg)
}
