// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package toollink watches Codex's on-disk rollout directory and links
// a freshly spawned session to the native Codex session UUID that
// Codex itself assigns once it starts writing its JSONL transcript.
package toollink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// MatchTimeout bounds how long Await waits for a matching rollout file
// before giving up.
const MatchTimeout = 6 * time.Second

var rolloutFilePattern = regexp.MustCompile(`^rollout-.*-([0-9a-fA-F-]{36})\.jsonl$`)

type sessionMetaLine struct {
	Type    string `json:"type"`
	Payload struct {
		Cwd string `json:"cwd"`
	} `json:"payload"`
}

// Linker watches ~/.codex/sessions for new rollout files and resolves
// them to the (cwd, spawnedAt) of a pending Create call.
type Linker struct {
	root string

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
	closed  chan struct{}

	pending map[string][]pendingMatch // cwd -> waiters
}

type pendingMatch struct {
	spawnedAt time.Time
	result    chan matchResult
}

type matchResult struct {
	toolSessionID string
	err           error
}

// NewLinker creates a Linker rooted at dir (typically ~/.codex/sessions).
func NewLinker(dir string) (*Linker, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("toollink: create watcher: %w", err)
	}

	l := &Linker{
		root:    dir,
		watcher: watcher,
		closed:  make(chan struct{}),
		pending: make(map[string][]pendingMatch),
	}

	if err := l.watchTree(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	l.wg.Add(1)
	go l.run()

	return l, nil
}

// watchTree adds dir and every existing subdirectory to the watcher.
// fsnotify is not recursive, so new subdirectories are picked up as
// they're created via run's handling of fsnotify.Create events.
func (l *Linker) watchTree(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("toollink: ensure root %s: %w", dir, err)
	}
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			l.watcher.Add(path)
		}
		return nil
	})
}

// Await registers interest in a (cwd, spawnedAt) pair and blocks until a
// matching rollout file appears or MatchTimeout elapses.
func (l *Linker) Await(ctx context.Context, cwd string, spawnedAt time.Time) (string, error) {
	resultCh := make(chan matchResult, 1)

	l.mu.Lock()
	l.pending[cwd] = append(l.pending[cwd], pendingMatch{spawnedAt: spawnedAt, result: resultCh})
	l.mu.Unlock()

	// A matching file may have been written just before we registered.
	go l.scanExisting(cwd, spawnedAt, resultCh)

	ctx, cancel := context.WithTimeout(ctx, MatchTimeout)
	defer cancel()

	select {
	case res := <-resultCh:
		return res.toolSessionID, res.err
	case <-ctx.Done():
		l.removePending(cwd, resultCh)
		return "", fmt.Errorf("toollink: no rollout match for %s within %s", cwd, MatchTimeout)
	}
}

func (l *Linker) removePending(cwd string, ch chan matchResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	waiters := l.pending[cwd]
	for i, w := range waiters {
		if w.result == ch {
			l.pending[cwd] = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
}

func (l *Linker) scanExisting(cwd string, spawnedAt time.Time, resultCh chan matchResult) {
	filepath.WalkDir(l.root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		l.tryMatch(path, cwd, spawnedAt, resultCh)
		return nil
	})
}

func (l *Linker) run() {
	defer l.wg.Done()
	for {
		select {
		case <-l.closed:
			return
		case ev, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			l.handleEvent(ev)
		case _, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (l *Linker) handleEvent(ev fsnotify.Event) {
	info, err := os.Stat(ev.Name)
	if err == nil && info.IsDir() && ev.Has(fsnotify.Create) {
		l.watchTree(ev.Name)
		return
	}
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}

	l.mu.Lock()
	waiters := make(map[string][]pendingMatch, len(l.pending))
	for cwd, ws := range l.pending {
		waiters[cwd] = append([]pendingMatch{}, ws...)
	}
	l.mu.Unlock()

	for cwd, ws := range waiters {
		for _, w := range ws {
			l.tryMatch(ev.Name, cwd, w.spawnedAt, w.result)
		}
	}
}

// tryMatch checks whether path is a rollout file whose session_meta cwd
// and mtime satisfy a pending waiter, delivering a result and removing
// the waiter on success.
func (l *Linker) tryMatch(path, cwd string, spawnedAt time.Time, resultCh chan matchResult) {
	name := filepath.Base(path)
	m := rolloutFilePattern.FindStringSubmatch(name)
	if m == nil {
		return
	}

	info, err := os.Stat(path)
	if err != nil || info.ModTime().Before(spawnedAt) {
		return
	}

	meta, err := readFirstSessionMeta(path)
	if err != nil || meta.Payload.Cwd != cwd {
		return
	}

	l.removePending(cwd, resultCh)
	select {
	case resultCh <- matchResult{toolSessionID: m[1]}:
	default:
	}
}

func readFirstSessionMeta(path string) (*sessionMetaLine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	if !scanner.Scan() {
		return nil, fmt.Errorf("toollink: empty rollout file %s", path)
	}
	line := strings.TrimSpace(scanner.Text())

	var meta sessionMetaLine
	if err := json.Unmarshal([]byte(line), &meta); err != nil {
		return nil, err
	}
	if meta.Type != "session_meta" {
		return nil, fmt.Errorf("toollink: first line of %s is not session_meta", path)
	}
	return &meta, nil
}

// Close stops the watcher.
func (l *Linker) Close() error {
	select {
	case <-l.closed:
		return nil
	default:
		close(l.closed)
	}
	err := l.watcher.Close()
	l.wg.Wait()
	return err
}
