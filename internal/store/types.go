// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package store

import "time"

// Session is the persisted row backing internal/session's in-memory
// supervisor state.
type Session struct {
	ID            string
	Tool          string
	ProfileID     string
	ToolSessionID string
	Cwd           string
	WorkspaceKey  string
	WorkspaceRoot string
	TreePath      string
	Label         string
	PinnedSlot    int // 0 means unset
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ExitCode      *int
	ExitSignal    string
}

// Event is one append-only row in the durable event log, distinct
// from (but fed by) the live events.EventBus.
type Event struct {
	ID        int64
	SessionID string
	Timestamp time.Time
	Kind      string
	Data      string // JSON
}

// OutputChunk is one captured slice of a session's raw PTY output.
type OutputChunk struct {
	ID        int64
	SessionID string
	Timestamp time.Time
	Data      []byte
}

// WorkspacePreset remembers the last profile/overrides used for a
// given (path, tool) pair so re-opening a workspace reuses it.
type WorkspacePreset struct {
	Path      string
	Tool      string
	ProfileID string
	Overrides string // JSON
	UpdatedAt time.Time
}

// AttentionItem is one coalesced question/permission record awaiting
// a response. At most one open item exists per signature; repeated
// creates touch the existing open row instead of inserting.
type AttentionItem struct {
	ID        int64
	SessionID string
	Kind      string
	Severity  string // info | warn | danger
	Status    string // open | sent | resolved | dismissed
	Title     string
	Body      string
	Signature string
	Options   string // JSON array of {id,label,send}
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AttentionAction is one action taken against an AttentionItem
// (respond/dismiss/timeout).
type AttentionAction struct {
	ID          int64
	AttentionID int64
	Action      string
	OptionID    string
	Actor       string
	Timestamp   time.Time
}

// IdempotencyRecord remembers the result of a previously executed
// idempotency-keyed command so a retry returns the same result instead
// of re-running it.
type IdempotencyRecord struct {
	Key       string
	Result    string // JSON
	CreatedAt time.Time
}

// OrchestrationRow is the persisted half of an orchestration; the
// mutable in-memory half (startup/sync/automation state) round-trips
// through the State JSON blob.
type OrchestrationRow struct {
	ID                    string
	Name                  string
	ProjectPath           string
	Status                string
	DispatchMode          string
	OrchestratorSessionID string
	State                 string // JSON
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// PairingCode backs §4.11 pairing-code exchange.
type PairingCode struct {
	Code        string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Attempts    int
	MaxAttempts int
	ConsumedAt  *time.Time
}

// AuthToken is a long-lived credential exchanged for a consumed PairingCode.
type AuthToken struct {
	Token      string
	CreatedAt  time.Time
	LastUsedAt *time.Time
}

// CommandPreset is a saved command-gate payload, keyed by name.
type CommandPreset struct {
	Name      string
	CommandID string
	Payload   string // JSON
	CreatedAt time.Time
}

func unixMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
