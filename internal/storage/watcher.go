// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// =============================================================================
// DIRECTORY WATCHER
// =============================================================================

// DefaultDebounce is how long the directory must be quiet before a change
// notification fires.
const DefaultDebounce = 500 * time.Millisecond

// DocumentWatcher reports changes to the store directory that did not go
// through the DocumentStore itself, such as documents edited in an editor
// or copied in by hand.
type DocumentWatcher struct {
	store    *DocumentStore
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *zap.Logger
	onChange func()

	mu         sync.Mutex
	dirty      bool
	lastChange time.Time

	done chan struct{}
	wg   sync.WaitGroup
}

// NewDocumentWatcher creates a watcher for store. onChange runs on the
// watcher goroutine once per debounced burst of external changes.
func NewDocumentWatcher(store *DocumentStore, debounce time.Duration, logger *zap.Logger, onChange func()) (*DocumentWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	store.retainTouches(2 * debounce)
	return &DocumentWatcher{
		store:    store,
		watcher:  w,
		debounce: debounce,
		logger:   logger,
		onChange: onChange,
		done:     make(chan struct{}),
	}, nil
}

// Watch starts watching until ctx is cancelled or Close is called.
func (dw *DocumentWatcher) Watch(ctx context.Context) error {
	if err := dw.watcher.Add(dw.store.Dir); err != nil {
		return err
	}

	dw.wg.Add(2)
	go dw.processEvents(ctx)
	go dw.processPending(ctx)
	return nil
}

// Close stops the watcher and waits for its goroutines.
func (dw *DocumentWatcher) Close() error {
	select {
	case <-dw.done:
	default:
		close(dw.done)
	}
	err := dw.watcher.Close()
	dw.wg.Wait()
	return err
}

func (dw *DocumentWatcher) processEvents(ctx context.Context) {
	defer dw.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-dw.done:
			return

		case event, ok := <-dw.watcher.Events:
			if !ok {
				return
			}
			name := filepath.Base(event.Name)
			if !isDocumentFile(name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if dw.store.touchedSince(name, time.Now().Add(-2*dw.debounce)) {
				continue
			}
			dw.mu.Lock()
			dw.dirty = true
			dw.lastChange = time.Now()
			dw.mu.Unlock()

		case err, ok := <-dw.watcher.Errors:
			if !ok {
				return
			}
			dw.logger.Warn("WATCH_ERROR", zap.Error(err))
		}
	}
}

func (dw *DocumentWatcher) processPending(ctx context.Context) {
	defer dw.wg.Done()

	tick := dw.debounce / 5
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-dw.done:
			return
		case <-ticker.C:
			dw.mu.Lock()
			fire := dw.dirty && time.Since(dw.lastChange) >= dw.debounce
			if fire {
				dw.dirty = false
			}
			dw.mu.Unlock()

			if fire && dw.onChange != nil {
				dw.logger.Debug("DOCUMENTS_CHANGED_EXTERNALLY", zap.String("dir", dw.store.Dir))
				dw.onChange()
			}
		}
	}
}
