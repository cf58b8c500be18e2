// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package digest computes the periodic worker-state summaries delivered
// to an orchestration's orchestrator session. It is a pure function of
// worker state plus the previous snapshot map: no timers, no I/O.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"
)

const previewMaxChars = 220

// relevantExactKinds are the only exact event kinds that feed a
// snapshot's lastEvent fields. Generic runtime events must not churn
// the digest.
var relevantExactKinds = map[string]bool{
	"claude.permission":       true,
	"codex.approval":          true,
	"codex.native.user_input": true,
	"inbox.respond":           true,
	"inbox.dismiss":           true,
	"inbox.timeout":           true,
	"session.exit":            true,
}

var relevantKindPrefixes = []string{
	"codex.native.approval.",
	"orchestration.question.",
}

// RelevantExactKinds returns the exact-match kind whitelist, for
// callers that query the event log directly.
func RelevantExactKinds() []string {
	out := make([]string, 0, len(relevantExactKinds))
	for k := range relevantExactKinds {
		out = append(out, k)
	}
	return out
}

// RelevantKindPrefixes returns the prefix-match kind whitelist.
func RelevantKindPrefixes() []string {
	return append([]string(nil), relevantKindPrefixes...)
}

// RelevantEventKind reports whether an event kind participates in
// digest snapshots.
func RelevantEventKind(kind string) bool {
	if relevantExactKinds[kind] {
		return true
	}
	for _, p := range relevantKindPrefixes {
		if strings.HasPrefix(kind, p) {
			return true
		}
	}
	return false
}

// WorkerState is the observed state of one worker at snapshot time.
// LastEvent fields must already be filtered through RelevantEventKind
// by the caller.
type WorkerState struct {
	SessionID string
	Name      string

	Running   bool
	Attention int
	Branch    string

	Preview   string
	PreviewTs time.Time

	ProgressRelPath   string
	ProgressUpdatedAt time.Time
	ChecklistDone     int
	ChecklistTotal    int

	LastEventID   int64
	LastEventKind string
	LastEventTs   time.Time
}

// WorkerSnapshot is the change-tracking record kept per worker between
// digests.
type WorkerSnapshot struct {
	StateHash string `json:"stateHash"` // 16-hex sha256 prefix
	Running   bool   `json:"running"`
	Attention int    `json:"attention"`
	Branch    string `json:"branch,omitempty"`

	Preview   string    `json:"preview,omitempty"`
	PreviewTs time.Time `json:"previewTs,omitempty"`

	ProgressRelPath   string    `json:"progressRelPath,omitempty"`
	ProgressUpdatedAt time.Time `json:"progressUpdatedAt,omitempty"`
	ChecklistDone     int       `json:"checklistDone"`
	ChecklistTotal    int       `json:"checklistTotal"`

	LastEventID   int64     `json:"lastEventId,omitempty"`
	LastEventKind string    `json:"lastEventKind,omitempty"`
	LastEventTs   time.Time `json:"lastEventTs,omitempty"`

	ChangedAt time.Time `json:"changedAt"`
}

// Snapshot derives a WorkerSnapshot from state. ChangedAt inherits from
// prev iff the state hash is unchanged; otherwise it is now.
func Snapshot(w WorkerState, prev *WorkerSnapshot, now time.Time) WorkerSnapshot {
	snap := WorkerSnapshot{
		Running:           w.Running,
		Attention:         w.Attention,
		Branch:            w.Branch,
		Preview:           truncate(w.Preview, previewMaxChars),
		PreviewTs:         w.PreviewTs,
		ProgressRelPath:   w.ProgressRelPath,
		ProgressUpdatedAt: w.ProgressUpdatedAt,
		ChecklistDone:     w.ChecklistDone,
		ChecklistTotal:    w.ChecklistTotal,
		LastEventID:       w.LastEventID,
		LastEventKind:     w.LastEventKind,
		LastEventTs:       w.LastEventTs,
		ChangedAt:         now,
	}
	snap.StateHash = stateHash(snap)
	if prev != nil && prev.StateHash == snap.StateHash {
		snap.ChangedAt = prev.ChangedAt
	}
	return snap
}

// stateHash is a deterministic sha256 prefix over the canonical field
// tuple, in the documented order.
func stateHash(s WorkerSnapshot) string {
	running := "0"
	if s.Running {
		running = "1"
	}
	tuple := strings.Join([]string{
		running,
		fmt.Sprintf("%d", s.Attention),
		s.Branch,
		s.Preview,
		s.ProgressRelPath,
		millisString(s.ProgressUpdatedAt),
		fmt.Sprintf("%d", s.ChecklistDone),
		fmt.Sprintf("%d", s.ChecklistTotal),
		fmt.Sprintf("%d", s.LastEventID),
		s.LastEventKind,
		millisString(s.LastEventTs),
		millisString(s.PreviewTs),
	}, "|")
	sum := sha256.Sum256([]byte(tuple))
	return hex.EncodeToString(sum[:])[:16]
}

func millisString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return fmt.Sprintf("%d", t.UnixMilli())
}

// Input is everything Build needs for one digest pass.
type Input struct {
	OrchestrationID string
	Name            string
	Trigger         string // interval | manual | forced
	GeneratedAt     time.Time

	Workers  []WorkerState
	Previous map[string]WorkerSnapshot // sessionId -> last snapshot

	AttentionTotal int
}

// Result is one computed digest.
type Result struct {
	Text      string
	Hash      string // 20-hex sha256 prefix over sessionId|stateHash lines
	Changes   int
	Snapshots map[string]WorkerSnapshot
}

// Build computes the digest for the given workers against the previous
// snapshot map.
func Build(in Input) Result {
	snaps := make(map[string]WorkerSnapshot, len(in.Workers))
	var hashLines []string
	var changeBullets []string
	running := 0

	for i, w := range in.Workers {
		var prev *WorkerSnapshot
		if p, ok := in.Previous[w.SessionID]; ok {
			prev = &p
		}
		snap := Snapshot(w, prev, in.GeneratedAt)
		snaps[w.SessionID] = snap
		hashLines = append(hashLines, w.SessionID+"|"+snap.StateHash)
		if w.Running {
			running++
		}
		if prev != nil && prev.StateHash != snap.StateHash {
			if bits := changeBits(*prev, snap); len(bits) > 0 {
				changeBullets = append(changeBullets,
					fmt.Sprintf("- #%d %s (%s): %s", i+1, w.Name, shortID(w.SessionID), strings.Join(bits, " · ")))
			}
		}
	}

	sum := sha256.Sum256([]byte(strings.Join(hashLines, "\n")))
	hash := hex.EncodeToString(sum[:])[:20]

	var b strings.Builder
	fmt.Fprintf(&b, "ORCHESTRATION SYNC (%s)\n", in.Trigger)
	fmt.Fprintf(&b, "id: %s\n", in.OrchestrationID)
	fmt.Fprintf(&b, "name: %s\n", in.Name)
	fmt.Fprintf(&b, "generatedAt: %s\n", in.GeneratedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "workers: %d/%d running\n", running, len(in.Workers))
	fmt.Fprintf(&b, "attentionTotal: %d\n", in.AttentionTotal)
	fmt.Fprintf(&b, "digestHash: %s\n", hash[:16])
	fmt.Fprintf(&b, "changes: %d\n", len(changeBullets))

	b.WriteString("\nChanges since last digest:\n")
	if len(changeBullets) == 0 {
		b.WriteString("- none\n")
	} else {
		for _, bullet := range changeBullets {
			b.WriteString(bullet + "\n")
		}
	}

	b.WriteString("\nWorker states:\n")
	for i, w := range in.Workers {
		snap := snaps[w.SessionID]
		b.WriteString(workerLine(i, w.Name, w.SessionID, snap))
	}

	b.WriteString("\nTreat this as read-only status context. Do not interrupt workers unless asked.\n")

	return Result{
		Text:      b.String(),
		Hash:      hash,
		Changes:   len(changeBullets),
		Snapshots: snaps,
	}
}

func workerLine(idx int, name, sessionID string, s WorkerSnapshot) string {
	state := "stopped"
	if s.Running {
		state = "running"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "- #%d %s (%s) · %s · attention:%d\n", idx+1, name, shortID(sessionID), state, s.Attention)

	var bits []string
	if s.Branch != "" {
		bits = append(bits, "branch:"+s.Branch)
	}
	if s.ChecklistTotal > 0 || s.ChecklistDone > 0 {
		bits = append(bits, fmt.Sprintf("checklist:%d/%d", s.ChecklistDone, s.ChecklistTotal))
	}
	if s.ProgressRelPath != "" {
		bits = append(bits, "progress:"+s.ProgressRelPath)
	}
	if s.LastEventKind != "" {
		bits = append(bits, fmt.Sprintf("%s#%d", s.LastEventKind, s.LastEventID))
	}
	if len(bits) > 0 {
		fmt.Fprintf(&b, "  · %s\n", strings.Join(bits, " · "))
	}
	if s.Preview != "" {
		fmt.Fprintf(&b, "  last: %s\n", s.Preview)
	}
	return b.String()
}

// changeBits renders what moved between two snapshots as short bullet
// fragments.
func changeBits(prev, cur WorkerSnapshot) []string {
	var bits []string
	if prev.Running != cur.Running {
		if cur.Running {
			bits = append(bits, "started")
		} else {
			bits = append(bits, "stopped")
		}
	}
	if prev.Attention != cur.Attention {
		bits = append(bits, fmt.Sprintf("attention %d→%d", prev.Attention, cur.Attention))
	}
	if prev.ChecklistDone != cur.ChecklistDone || prev.ChecklistTotal != cur.ChecklistTotal {
		bits = append(bits, fmt.Sprintf("checklist %d/%d→%d/%d",
			prev.ChecklistDone, prev.ChecklistTotal, cur.ChecklistDone, cur.ChecklistTotal))
	}
	if prev.Branch != cur.Branch && cur.Branch != "" {
		bits = append(bits, "branch "+cur.Branch)
	}
	if prev.ProgressRelPath != cur.ProgressRelPath && cur.ProgressRelPath != "" {
		bits = append(bits, "progress "+cur.ProgressRelPath)
	}
	if prev.LastEventID != cur.LastEventID && cur.LastEventKind != "" {
		bits = append(bits, fmt.Sprintf("%s#%d", cur.LastEventKind, cur.LastEventID))
	}
	if prev.Preview != cur.Preview {
		bits = append(bits, previewDelta(prev.Preview, cur.Preview))
	}
	return bits
}

// previewDelta summarizes how much the preview text moved, so the
// orchestrator sees activity volume without the full text repeating in
// every bullet.
func previewDelta(prev, cur string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(prev, cur, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	added, removed := 0, 0
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += len(d.Text)
		case diffmatchpatch.DiffDelete:
			removed += len(d.Text)
		}
	}
	return fmt.Sprintf("output +%d/-%d", added, removed)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
