// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package watcher

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDebouncerCoalesces(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	var fired atomic.Int32
	for i := 0; i < 5; i++ {
		d.Debounce("key", func() { fired.Add(1) })
	}
	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(1), fired.Load())
}

func TestDebouncerStopCancels(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	var fired atomic.Int32
	d.Debounce("key", func() { fired.Add(1) })
	d.Stop()
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(0), fired.Load())
}

func TestFileWatcherFiresOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overrides.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))

	w, err := NewFileWatcher(10 * time.Millisecond)
	require.NoError(t, err)
	defer w.Close()

	var fired atomic.Int32
	require.NoError(t, w.Watch(path, func() { fired.Add(1) }))

	require.NoError(t, os.WriteFile(path, []byte(`{"a":1}`), 0o644))
	require.Eventually(t, func() bool { return fired.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestFileWatcherSurvivesAtomicRename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overrides.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))

	w, err := NewFileWatcher(10 * time.Millisecond)
	require.NoError(t, err)
	defer w.Close()

	var fired atomic.Int32
	require.NoError(t, w.Watch(path, func() { fired.Add(1) }))

	// Editor-style save: write a temp file, rename into place.
	tmp := filepath.Join(dir, ".overrides.json.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte(`{"b":2}`), 0o644))
	require.NoError(t, os.Rename(tmp, path))

	require.Eventually(t, func() bool { return fired.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestFileWatcherUnwatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overrides.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))

	w, err := NewFileWatcher(10 * time.Millisecond)
	require.NoError(t, err)
	defer w.Close()

	var fired atomic.Int32
	require.NoError(t, w.Watch(path, func() { fired.Add(1) }))
	w.Unwatch(path)

	require.NoError(t, os.WriteFile(path, []byte(`{"c":3}`), 0o644))
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, int32(0), fired.Load())
}
