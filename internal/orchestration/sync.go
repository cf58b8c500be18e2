// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package orchestration

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/orchd/orchd/internal/digest"
)

const (
	SyncReasonUnchanged   = "unchanged"
	SyncReasonCollectOnly = "collect_only"
	SyncReasonMinGap      = "min_gap"
)

// progressFileName is the per-worktree checklist file workers are asked
// to maintain; its checkbox counts feed the digest.
const progressFileName = "PROGRESS.md"

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\x07]*(\x07|\x1b\\)`)

// SyncOptions selects how one digest pass behaves.
type SyncOptions struct {
	Force                 bool
	DeliverToOrchestrator *bool // nil: follow the sync policy
	Trigger               string
}

// Sync snapshots every worker, builds the digest, and delivers it to
// the orchestrator when the hash moved (or force is set), respecting
// the minimum delivery gap. Snapshots and the last hash are persisted
// even when delivery is skipped.
func (m *Manager) Sync(ctx context.Context, orchestrationID string, opts SyncOptions) (*SyncResult, error) {
	o, err := m.Get(orchestrationID)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	trigger := opts.Trigger
	if trigger == "" {
		trigger = SyncModeManual
	}

	counts := map[string]int{}
	if m.router != nil {
		if c, err := m.router.Counts(); err == nil {
			counts = c
		}
	}

	// Snapshot collection touches the DB and each worktree's progress
	// file; do the workers concurrently, results slotted by index so
	// digest ordering stays stable.
	now := time.Now()
	workers := make([]digest.WorkerState, len(o.Workers))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, w := range o.Workers {
		i, w := i, w
		g.Go(func() error {
			ws := digest.WorkerState{
				SessionID: w.SessionID,
				Name:      w.Name,
				Branch:    w.Branch,
				Attention: counts[w.SessionID],
			}
			if st, err := m.sessions.Status(w.SessionID); err == nil {
				ws.Running = st.Running
			}
			if m.store != nil {
				if tail, ts, err := m.store.LastOutputTail(w.SessionID, previewTailBytes); err == nil && len(tail) > 0 {
					ws.Preview = previewText(tail)
					ws.PreviewTs = ts
				}
				if ev, err := m.store.LastEventMatching(w.SessionID, digest.RelevantExactKinds(), digest.RelevantKindPrefixes()); err == nil && ev != nil {
					ws.LastEventID = ev.ID
					ws.LastEventKind = ev.Kind
					ws.LastEventTs = ev.Timestamp
				}
			}
			if w.WorktreePath != "" {
				fillProgress(&ws, w.WorktreePath)
			}
			workers[i] = ws
			return nil
		})
	}
	g.Wait()

	attentionTotal := 0
	for _, ws := range workers {
		attentionTotal += ws.Attention
	}

	res := digest.Build(digest.Input{
		OrchestrationID: o.ID,
		Name:            o.Name,
		Trigger:         trigger,
		GeneratedAt:     now,
		Workers:         workers,
		Previous:        o.Sync.Snapshots,
		AttentionTotal:  attentionTotal,
	})

	deliver := o.Sync.Policy.DeliverToOrchestrator
	if opts.DeliverToOrchestrator != nil {
		deliver = *opts.DeliverToOrchestrator
	}

	out := &SyncResult{Hash: res.Hash, Changes: res.Changes, Text: res.Text}
	switch {
	case !deliver:
		out.Reason = SyncReasonCollectOnly
	case !opts.Force && res.Hash == o.Sync.LastDigestHash:
		out.Reason = SyncReasonUnchanged
	case withinDeliveryGap(o, now):
		out.Reason = SyncReasonMinGap
	default:
		out.Sent = true
	}

	o.Sync.Snapshots = res.Snapshots
	o.Sync.LastDigestAt = now
	o.Sync.LastDigestHash = res.Hash
	if out.Sent {
		o.Sync.LastDeliveryAt = now
	}
	m.persist(o)

	if out.Sent {
		if err := m.sessions.Write(o.OrchestratorSessionID, []byte(res.Text+"\r")); err != nil {
			log.Printf("[orchestration] %s digest delivery: %v", o.ID, err)
		}
	}
	return out, nil
}

func withinDeliveryGap(o *Orchestration, now time.Time) bool {
	gap := time.Duration(o.Sync.Policy.MinDeliveryGapMs) * time.Millisecond
	return gap > 0 && !o.Sync.LastDeliveryAt.IsZero() && now.Sub(o.Sync.LastDeliveryAt) < gap
}

// previewText flattens raw PTY bytes into a single readable tail line.
func previewText(tail []byte) string {
	s := ansiEscape.ReplaceAllString(string(tail), "")
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return ' '
		case r < 0x20 || r == 0x7f:
			return -1
		}
		return r
	}, s)
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 220 {
		s = s[len(s)-220:]
	}
	return s
}

// fillProgress reads the worker's checklist file, if present.
func fillProgress(ws *digest.WorkerState, worktreePath string) {
	path := filepath.Join(worktreePath, progressFileName)
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	ws.ProgressRelPath = progressFileName
	ws.ProgressUpdatedAt = info.ModTime()
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(strings.ToLower(line))
		switch {
		case strings.HasPrefix(trimmed, "- [x]"), strings.HasPrefix(trimmed, "* [x]"):
			ws.ChecklistDone++
			ws.ChecklistTotal++
		case strings.HasPrefix(trimmed, "- [ ]"), strings.HasPrefix(trimmed, "* [ ]"):
			ws.ChecklistTotal++
		}
	}
}
