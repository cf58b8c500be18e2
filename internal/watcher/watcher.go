// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package watcher watches configuration files (currently the
// command-policy overrides file) and fires a debounced callback when
// they change, tolerating atomic-rename rewrites.
package watcher

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileWatcher watches individual files by watching their parent
// directories, so a rename-into-place rewrite still fires.
type FileWatcher struct {
	mu        sync.Mutex
	fsw       *fsnotify.Watcher
	debouncer *Debouncer

	// watched maps absolute file path -> callback.
	watched map[string]func()
	// dirRefs counts watched files per directory.
	dirRefs map[string]int

	done chan struct{}
}

// NewFileWatcher creates a watcher with the given debounce delay.
func NewFileWatcher(debounce time.Duration) (*FileWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: create: %w", err)
	}
	w := &FileWatcher{
		fsw:       fsw,
		debouncer: NewDebouncer(debounce),
		watched:   make(map[string]func()),
		dirRefs:   make(map[string]int),
		done:      make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Watch registers fn for changes to path. Watching the same path again
// replaces the callback.
func (w *FileWatcher) Watch(path string, fn func()) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("watcher: resolve %s: %w", path, err)
	}
	dir := filepath.Dir(abs)

	w.mu.Lock()
	defer w.mu.Unlock()

	_, existed := w.watched[abs]
	w.watched[abs] = fn
	if existed {
		return nil
	}
	if w.dirRefs[dir] == 0 {
		if err := w.fsw.Add(dir); err != nil {
			delete(w.watched, abs)
			return fmt.Errorf("watcher: watch %s: %w", dir, err)
		}
	}
	w.dirRefs[dir]++
	return nil
}

// Unwatch removes a path.
func (w *FileWatcher) Unwatch(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}
	dir := filepath.Dir(abs)

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.watched[abs]; !ok {
		return
	}
	delete(w.watched, abs)
	w.dirRefs[dir]--
	if w.dirRefs[dir] <= 0 {
		delete(w.dirRefs, dir)
		w.fsw.Remove(dir)
	}
}

func (w *FileWatcher) loop() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil {
				continue
			}
			w.mu.Lock()
			fn, ok := w.watched[abs]
			w.mu.Unlock()
			if !ok {
				continue
			}
			w.debouncer.Debounce(abs, fn)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("[watcher] %v", err)

		case <-w.done:
			return
		}
	}
}

// Close stops the watcher and cancels pending callbacks.
func (w *FileWatcher) Close() {
	close(w.done)
	w.debouncer.Stop()
	w.fsw.Close()
}
