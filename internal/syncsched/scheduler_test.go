// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package syncsched

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/orchd/orchd/internal/orchestration"
	"github.com/stretchr/testify/require"
)

type fakeSyncer struct {
	mu    sync.Mutex
	calls map[string]int
}

func newFakeSyncer() *fakeSyncer {
	return &fakeSyncer{calls: make(map[string]int)}
}

func (f *fakeSyncer) Sync(ctx context.Context, orchestrationID string, opts orchestration.SyncOptions) (*orchestration.SyncResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[orchestrationID]++
	return &orchestration.SyncResult{}, nil
}

func (f *fakeSyncer) count(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func TestIntervalTicksCallSync(t *testing.T) {
	syncer := newFakeSyncer()
	s := NewScheduler(syncer)
	defer s.Shutdown()

	s.Start("orch-1", 10*time.Millisecond)
	require.True(t, s.Running("orch-1"))

	require.Eventually(t, func() bool {
		return syncer.count("orch-1") >= 3
	}, time.Second, 5*time.Millisecond)
}

func TestStopHaltsTicks(t *testing.T) {
	syncer := newFakeSyncer()
	s := NewScheduler(syncer)
	defer s.Shutdown()

	s.Start("orch-1", 10*time.Millisecond)
	require.Eventually(t, func() bool { return syncer.count("orch-1") >= 1 }, time.Second, 5*time.Millisecond)

	s.Stop("orch-1")
	require.False(t, s.Running("orch-1"))
	settled := syncer.count("orch-1")
	time.Sleep(50 * time.Millisecond)
	require.LessOrEqual(t, syncer.count("orch-1"), settled+1, "at most one in-flight tick after stop")

	// Stopping again is a no-op.
	s.Stop("orch-1")
}

func TestRestartReplacesTimer(t *testing.T) {
	syncer := newFakeSyncer()
	s := NewScheduler(syncer)
	defer s.Shutdown()

	s.Start("orch-1", time.Hour)
	s.Start("orch-1", 10*time.Millisecond)
	require.Eventually(t, func() bool { return syncer.count("orch-1") >= 1 }, time.Second, 5*time.Millisecond)
}

func TestApplyFollowsPolicy(t *testing.T) {
	syncer := newFakeSyncer()
	s := NewScheduler(syncer)
	defer s.Shutdown()

	s.Apply("orch-1", orchestration.SyncPolicy{Mode: orchestration.SyncModeInterval, IntervalMs: 10})
	require.True(t, s.Running("orch-1"))

	s.Apply("orch-1", orchestration.SyncPolicy{Mode: orchestration.SyncModeManual})
	require.False(t, s.Running("orch-1"))

	s.Apply("orch-2", orchestration.SyncPolicy{Mode: orchestration.SyncModeInterval, IntervalMs: 0})
	require.False(t, s.Running("orch-2"))
}

func TestShutdownStopsEverything(t *testing.T) {
	syncer := newFakeSyncer()
	s := NewScheduler(syncer)

	s.Start("orch-1", 10*time.Millisecond)
	s.Start("orch-2", 10*time.Millisecond)
	s.Shutdown()
	require.False(t, s.Running("orch-1"))
	require.False(t, s.Running("orch-2"))
}
