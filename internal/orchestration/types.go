// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package orchestration composes one orchestrator session and N worker
// sessions into a supervised unit: worktree provisioning, startup
// dispatch state machine, directive-driven runtime dispatch, digest
// syncing, question automation, and locked cleanup.
package orchestration

import (
	"context"
	"sync"
	"time"

	"github.com/orchd/orchd/internal/digest"
	"github.com/orchd/orchd/internal/directive"
	"github.com/orchd/orchd/internal/session"
	"github.com/orchd/orchd/internal/worktree"
)

const (
	StatusActive  = "active"
	StatusCleaned = "cleaned"

	DispatchModeAuto              = "auto"
	DispatchModeOrchestratorFirst = "orchestrator-first"

	StartupWaitingFirstDispatch = "waiting-first-dispatch"
	StartupRunning              = "running"

	QuestionModeInline       = "inline"
	QuestionModeOrchestrator = "orchestrator"

	SyncModeManual   = "manual"
	SyncModeInterval = "interval"
)

// Sessions is the slice of the session supervisor the engine drives.
// Satisfied by *session.Manager; faked in tests.
type Sessions interface {
	Create(opts session.CreateOptions) (string, error)
	Write(id string, data []byte) error
	Interrupt(id string) error
	Kill(id string) error
	Forget(id string)
	OnOutput(id string, fn session.OutputFunc) (session.Unsubscribe, error)
	Status(id string) (session.Status, error)
}

// WorkspaceResolver derives (workspaceKey, workspaceRoot) from a
// project path, normally by asking git for the toplevel and git dir.
type WorkspaceResolver func(ctx context.Context, projectPath string) (key, root string, err error)

// WorktreeFactory opens a worktree manager rooted at repoDir.
type WorktreeFactory func(repoDir string) (worktree.Manager, error)

// SpawnProfile is the resolved launch recipe for one tool profile.
type SpawnProfile struct {
	Tool           string
	Command        []string
	Env            map[string]string
	ExtraArgs      []string
	ClaudeAuthMode string
}

// ProfileResolver maps a (tool, profileId) pair to a SpawnProfile.
type ProfileResolver func(tool, profileID string) (SpawnProfile, error)

// OrchestratorSpec configures the coordinator session of a new
// orchestration.
type OrchestratorSpec struct {
	Tool      string `json:"tool"`
	ProfileID string `json:"profileId"`
	Prompt    string `json:"prompt"`
}

// WorkerSpec configures one worker session.
type WorkerSpec struct {
	Name       string `json:"name"`
	Tool       string `json:"tool,omitempty"`
	ProfileID  string `json:"profileId,omitempty"`
	TaskPrompt string `json:"taskPrompt"`
}

// CreateRequest is the input to Manager.Create.
type CreateRequest struct {
	Name         string           `json:"name"`
	ProjectPath  string           `json:"projectPath"`
	Orchestrator OrchestratorSpec `json:"orchestrator"`
	Workers      []WorkerSpec     `json:"workers"`

	AutoWorktrees              *bool  `json:"autoWorktrees,omitempty"`              // default true
	DispatchMode               string `json:"dispatchMode,omitempty"`               // default auto
	AutoDispatchInitialPrompts *bool  `json:"autoDispatchInitialPrompts,omitempty"` // default true
}

// Worker is one live worker of an orchestration. The orchestration
// holds only the session id; session state is resolved through the
// supervisor.
type Worker struct {
	Name         string `json:"name"`
	Slug         string `json:"slug"`
	SessionID    string `json:"sessionId"`
	Tool         string `json:"tool"`
	ProfileID    string `json:"profileId"`
	Branch       string `json:"branch,omitempty"`
	WorktreePath string `json:"worktreePath,omitempty"`
	TaskPrompt   string `json:"taskPrompt"`

	InitialDispatched bool `json:"initialDispatched"`

	// pendingBootstrap is the startup packet written before the first
	// runtime dispatch that asks for it; consumed once.
	pendingBootstrap string
}

// StartupState is the first-dispatch state machine.
type StartupState struct {
	State                string   `json:"state"`
	PendingSessionIDs    []string `json:"pendingSessionIds"`
	DispatchedSessionIDs []string `json:"dispatchedSessionIds"`
}

// SyncPolicy governs digest generation and delivery.
type SyncPolicy struct {
	Mode                  string `json:"mode"` // manual | interval
	IntervalMs            int    `json:"intervalMs"`
	DeliverToOrchestrator bool   `json:"deliverToOrchestrator"`
	MinDeliveryGapMs      int    `json:"minDeliveryGapMs"`
}

// SyncState is the digest bookkeeping between runs.
type SyncState struct {
	Policy         SyncPolicy                        `json:"policy"`
	LastDigestAt   time.Time                         `json:"lastDigestAt,omitempty"`
	LastDigestHash string                            `json:"lastDigestHash,omitempty"`
	LastDeliveryAt time.Time                         `json:"lastDeliveryAt,omitempty"`
	Snapshots      map[string]digest.WorkerSnapshot  `json:"snapshots,omitempty"`
}

// AutomationPolicy governs question/steering routing.
type AutomationPolicy struct {
	QuestionMode      string `json:"questionMode"` // inline | orchestrator
	SteeringMode      string `json:"steeringMode"` // off | passive_review
	YoloMode          bool   `json:"yoloMode"`
	QuestionTimeoutMs int    `json:"questionTimeoutMs"`
	ReviewIntervalMs  int    `json:"reviewIntervalMs"`
}

// AutomationState is the live automation counters plus policy.
type AutomationState struct {
	Policy                AutomationPolicy `json:"policy"`
	PendingQuestionCount  int              `json:"pendingQuestionCount"`
	QuestionDispatchCount int              `json:"questionDispatchCount"`
}

// Orchestration is one live coordinator+workers unit.
type Orchestration struct {
	// mu is the per-orchestration lock: cleanup holds it for its whole
	// duration and contenders fail fast with orchestration_locked.
	mu sync.Mutex

	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ProjectPath string    `json:"projectPath"`
	CreatedAt   time.Time `json:"createdAt"`

	Status       string `json:"status"`
	DispatchMode string `json:"dispatchMode"`

	WorkspaceKey  string `json:"workspaceKey,omitempty"`
	WorkspaceRoot string `json:"workspaceRoot,omitempty"`

	OrchestratorSessionID string    `json:"orchestratorSessionId"`
	Workers               []*Worker `json:"workers"`

	Startup    StartupState    `json:"startup"`
	Sync       SyncState       `json:"sync"`
	Automation AutomationState `json:"automation"`

	parser           *directive.Parser
	unsubscribe      session.Unsubscribe
	worktrees        worktree.Manager
	pendingQuestions map[int64]*time.Timer
}

// DispatchRequest is one runtime dispatch to resolved targets.
type DispatchRequest struct {
	Target                    string `json:"target"`
	Text                      string `json:"text"`
	Interrupt                 bool   `json:"interrupt,omitempty"`
	ForceInterrupt            bool   `json:"forceInterrupt,omitempty"`
	IncludeBootstrapIfPresent bool   `json:"includeBootstrapIfPresent,omitempty"`
	Source                    string `json:"source,omitempty"`
}

// DispatchFailure names a target session that could not be written.
type DispatchFailure struct {
	SessionID string `json:"sid"`
	Reason    string `json:"reason"`
}

// DispatchResult reports the outcome of one Dispatch.
type DispatchResult struct {
	Sent               []string          `json:"sent"`
	Failed             []DispatchFailure `json:"failed"`
	InjectedBootstrap  bool              `json:"injectedBootstrap"`
	InterruptRequested bool              `json:"interruptRequested"`
}

// CleanupRequest selects how much of an orchestration to tear down.
type CleanupRequest struct {
	StopSessions    bool `json:"stopSessions"`
	DeleteSessions  bool `json:"deleteSessions,omitempty"`
	RemoveWorktrees bool `json:"removeWorktrees,omitempty"`
}

// CleanupSummary reports what Cleanup actually did.
type CleanupSummary struct {
	Sessions struct {
		Closed  int `json:"closed"`
		Deleted int `json:"deleted"`
	} `json:"sessions"`
	Worktrees struct {
		Removed int `json:"removed"`
	} `json:"worktrees"`
}

// SyncResult reports the outcome of one digest sync.
type SyncResult struct {
	Sent    bool   `json:"sent"`
	Reason  string `json:"reason,omitempty"` // unchanged | collect_only | min_gap
	Hash    string `json:"hash"`
	Changes int    `json:"changes"`
	Text    string `json:"text,omitempty"`
}

const (
	dispatchInterruptWait = 80 * time.Millisecond
	cleanupKillWait       = 300 * time.Millisecond
	previewTailBytes      = 2048
)
