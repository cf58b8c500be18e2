// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package syncsched drives interval-mode digest syncing: one timer per
// orchestration, each tick funneled into the engine's Sync. Manual
// syncs go straight to the engine and never touch this package.
package syncsched

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/orchd/orchd/internal/orchestration"
)

// Syncer is the slice of the orchestration engine the scheduler calls.
type Syncer interface {
	Sync(ctx context.Context, orchestrationID string, opts orchestration.SyncOptions) (*orchestration.SyncResult, error)
}

// Scheduler owns the per-orchestration interval timers.
type Scheduler struct {
	mu      sync.Mutex
	syncer  Syncer
	tickers map[string]chan struct{} // orchestrationID -> stop channel
	wg      sync.WaitGroup
}

// NewScheduler creates an empty scheduler.
func NewScheduler(syncer Syncer) *Scheduler {
	return &Scheduler{
		syncer:  syncer,
		tickers: make(map[string]chan struct{}),
	}
}

// Start begins (or restarts) interval syncing for an orchestration.
// An interval of zero or less stops any existing timer and starts
// nothing.
func (s *Scheduler) Start(orchestrationID string, interval time.Duration) {
	s.Stop(orchestrationID)
	if interval <= 0 {
		return
	}

	stop := make(chan struct{})
	s.mu.Lock()
	s.tickers[orchestrationID] = stop
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(orchestrationID, interval, stop)
}

func (s *Scheduler) run(orchestrationID string, interval time.Duration, stop chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			_, err := s.syncer.Sync(ctx, orchestrationID, orchestration.SyncOptions{Trigger: "interval"})
			cancel()
			if err != nil {
				log.Printf("[syncsched] %s: %v", orchestrationID, err)
			}
		case <-stop:
			return
		}
	}
}

// Stop cancels interval syncing for one orchestration. Safe to call
// when none is running.
func (s *Scheduler) Stop(orchestrationID string) {
	s.mu.Lock()
	stop, ok := s.tickers[orchestrationID]
	if ok {
		delete(s.tickers, orchestrationID)
	}
	s.mu.Unlock()
	if ok {
		close(stop)
	}
}

// Running reports whether an interval timer exists for the id.
func (s *Scheduler) Running(orchestrationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tickers[orchestrationID]
	return ok
}

// Shutdown stops every timer and waits for in-flight ticks to finish.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	for id, stop := range s.tickers {
		close(stop)
		delete(s.tickers, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Apply reconciles the scheduler with an orchestration's sync policy:
// interval mode starts a timer, anything else stops it.
func (s *Scheduler) Apply(orchestrationID string, policy orchestration.SyncPolicy) {
	if policy.Mode == orchestration.SyncModeInterval && policy.IntervalMs > 0 {
		s.Start(orchestrationID, time.Duration(policy.IntervalMs)*time.Millisecond)
		return
	}
	s.Stop(orchestrationID)
}
