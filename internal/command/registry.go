// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package command

// Mode decides where a validated command payload is executed.
type Mode string

const (
	ModeWorkerDispatch    Mode = "worker.dispatch"
	ModeWorkerSendTask    Mode = "worker.send_task"
	ModeOrchestratorInput Mode = "orchestrator.input"
	ModeSystemSync        Mode = "system.sync"
	ModeSystemReview      Mode = "system.review"
)

// Tier is a command's risk tier.
type Tier string

const (
	TierLow    Tier = "low"
	TierMedium Tier = "medium"
	TierHigh   Tier = "high"
)

// Spec describes one named command: its execution mode, risk tier, and
// the schema envelope its payload must satisfy.
type Spec struct {
	ID               string
	Title            string
	Mode             Mode
	Tier             Tier
	Envelope         map[string]any
	RequiredNonEmpty []string
	RequiredAnyOf    []string

	// RequiresAuthorizedScope adds the policyAuthorizedScope requirement
	// on top of the high-tier fields (security repro work only).
	RequiresAuthorizedScope bool
}

// policyProperties are accepted in every envelope; whether they are
// *required* is the policy evaluator's call, per tier.
func policyProperties() map[string]any {
	return map[string]any{
		"force":                 map[string]any{"type": "boolean"},
		"policyAck":             map[string]any{"type": "boolean"},
		"policyOverride":        map[string]any{"type": "boolean"},
		"policyReason":          map[string]any{"type": "string"},
		"policyApprovedBy":      map[string]any{"type": "string"},
		"policyAuthorizedScope": map[string]any{"type": "string"},
		"rollbackPlan":          map[string]any{"type": "string"},
	}
}

func workerEnvelope() map[string]any {
	props := policyProperties()
	for k, v := range map[string]any{
		"target":         map[string]any{"type": "string", "minLength": 1},
		"task":           map[string]any{"type": "string", "maxLength": 24000},
		"text":           map[string]any{"type": "string", "maxLength": 24000},
		"objective":      map[string]any{"type": "string", "maxLength": 24000},
		"rawPrompt":      map[string]any{"type": "string", "maxLength": 24000},
		"scope":          map[string]any{"type": "string"},
		"verify":         map[string]any{"type": "string"},
		"notYourJob":     map[string]any{"type": "string"},
		"doneWhen":       map[string]any{"type": "string"},
		"priority":       map[string]any{"type": "string", "enum": []any{"low", "normal", "high", "urgent"}},
		"extra":          map[string]any{"type": "string"},
		"notes":          map[string]any{"type": "string"},
		"interrupt":      map[string]any{"type": "boolean"},
		"forceInterrupt": map[string]any{"type": "boolean"},
	} {
		props[k] = v
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
}

func orchestratorEnvelope() map[string]any {
	props := policyProperties()
	for k, v := range map[string]any{
		"text":  map[string]any{"type": "string", "maxLength": 24000},
		"task":  map[string]any{"type": "string", "maxLength": 24000},
		"notes": map[string]any{"type": "string"},
	} {
		props[k] = v
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
}

func syncEnvelope() map[string]any {
	props := policyProperties()
	props["deliverToOrchestrator"] = map[string]any{"type": "boolean"}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
}

func reviewEnvelope() map[string]any {
	props := policyProperties()
	props["notes"] = map[string]any{"type": "string"}
	props["focus"] = map[string]any{"type": "string"}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
}

// taskAnyOf is the standard "something to say" requirement for worker
// prompt commands.
var taskAnyOf = []string{"task", "text", "objective", "rawPrompt"}

// Registry is the closed set of named commands the gate executes.
// Order here is presentation order for list endpoints.
var Registry = []Spec{
	// Worker send-task: task delivery that first injects the worker's
	// staged brief when one is still pending.
	{ID: "coord-task", Title: "Coordinate a task to a worker", Mode: ModeWorkerSendTask, Tier: TierLow, Envelope: workerEnvelope(), RequiredAnyOf: taskAnyOf},
	{ID: "kickoff-task", Title: "Kick off a worker's first task", Mode: ModeWorkerSendTask, Tier: TierLow, Envelope: workerEnvelope(), RequiredAnyOf: taskAnyOf},
	{ID: "reassign-task", Title: "Reassign a task between workers", Mode: ModeWorkerSendTask, Tier: TierMedium, Envelope: workerEnvelope(), RequiredAnyOf: taskAnyOf},
	{ID: "onboard-worker", Title: "Brief a late-joining worker", Mode: ModeWorkerSendTask, Tier: TierLow, Envelope: workerEnvelope(), RequiredAnyOf: taskAnyOf},

	{ID: "diag-evidence", Title: "Collect diagnostic evidence", Mode: ModeWorkerDispatch, Tier: TierLow, Envelope: workerEnvelope(), RequiredAnyOf: taskAnyOf},
	{ID: "scope-lock", Title: "Lock a worker to an explicit scope", Mode: ModeWorkerDispatch, Tier: TierLow, Envelope: workerEnvelope(), RequiredNonEmpty: []string{"scope"}},
	{ID: "verify-completion", Title: "Verify a worker's claimed completion", Mode: ModeWorkerDispatch, Tier: TierLow, Envelope: workerEnvelope(), RequiredAnyOf: taskAnyOf},
	{ID: "repro-bug", Title: "Reproduce a reported bug", Mode: ModeWorkerDispatch, Tier: TierLow, Envelope: workerEnvelope(), RequiredAnyOf: taskAnyOf},
	{ID: "test-run", Title: "Run the test suite and report", Mode: ModeWorkerDispatch, Tier: TierLow, Envelope: workerEnvelope()},
	{ID: "lint-fix", Title: "Fix lint findings in scope", Mode: ModeWorkerDispatch, Tier: TierLow, Envelope: workerEnvelope()},
	{ID: "build-check", Title: "Verify the tree still builds", Mode: ModeWorkerDispatch, Tier: TierLow, Envelope: workerEnvelope()},
	{ID: "triage-failures", Title: "Triage failing tests", Mode: ModeWorkerDispatch, Tier: TierLow, Envelope: workerEnvelope()},
	{ID: "flake-hunt", Title: "Hunt a flaky test", Mode: ModeWorkerDispatch, Tier: TierLow, Envelope: workerEnvelope(), RequiredAnyOf: taskAnyOf},
	{ID: "perf-profile", Title: "Profile a performance concern", Mode: ModeWorkerDispatch, Tier: TierLow, Envelope: workerEnvelope(), RequiredAnyOf: taskAnyOf},
	{ID: "dep-audit", Title: "Audit dependency changes", Mode: ModeWorkerDispatch, Tier: TierLow, Envelope: workerEnvelope()},
	{ID: "doc-sync", Title: "Sync docs with code changes", Mode: ModeWorkerDispatch, Tier: TierLow, Envelope: workerEnvelope()},
	{ID: "refactor-scope", Title: "Refactor within a declared scope", Mode: ModeWorkerDispatch, Tier: TierMedium, Envelope: workerEnvelope(), RequiredNonEmpty: []string{"scope"}},
	{ID: "cleanup-branch", Title: "Clean up a worker's branch history", Mode: ModeWorkerDispatch, Tier: TierMedium, Envelope: workerEnvelope()},
	{ID: "merge-prep", Title: "Prepare a branch for merge", Mode: ModeWorkerDispatch, Tier: TierMedium, Envelope: workerEnvelope()},
	{ID: "progress-report", Title: "Request a structured progress report", Mode: ModeWorkerDispatch, Tier: TierLow, Envelope: workerEnvelope()},
	{ID: "checklist-update", Title: "Request a checklist refresh", Mode: ModeWorkerDispatch, Tier: TierLow, Envelope: workerEnvelope()},
	{ID: "handoff-notes", Title: "Request handoff notes", Mode: ModeWorkerDispatch, Tier: TierLow, Envelope: workerEnvelope()},
	{ID: "review-selfcheck", Title: "Ask a worker to self-review its diff", Mode: ModeWorkerDispatch, Tier: TierLow, Envelope: workerEnvelope()},
	{ID: "stop-work", Title: "Tell a worker to stop and await direction", Mode: ModeWorkerDispatch, Tier: TierMedium, Envelope: workerEnvelope()},
	{ID: "abandon-approach", Title: "Abandon the current approach", Mode: ModeWorkerDispatch, Tier: TierMedium, Envelope: workerEnvelope(), RequiredAnyOf: taskAnyOf},

	// Security / destructive families: high tier.
	{ID: "security-vuln-repro", Title: "Reproduce a security vulnerability", Mode: ModeWorkerDispatch, Tier: TierHigh, Envelope: workerEnvelope(), RequiredAnyOf: taskAnyOf, RequiresAuthorizedScope: true},
	{ID: "security-patch-verify", Title: "Verify a security patch", Mode: ModeWorkerDispatch, Tier: TierHigh, Envelope: workerEnvelope(), RequiredAnyOf: taskAnyOf},
	{ID: "force-push-recovery", Title: "Recover a branch via force push", Mode: ModeWorkerDispatch, Tier: TierHigh, Envelope: workerEnvelope(), RequiredAnyOf: taskAnyOf},
	{ID: "data-migration", Title: "Run a data migration", Mode: ModeWorkerDispatch, Tier: TierHigh, Envelope: workerEnvelope(), RequiredAnyOf: taskAnyOf},
	{ID: "rollback-release", Title: "Roll back a release", Mode: ModeWorkerDispatch, Tier: TierHigh, Envelope: workerEnvelope(), RequiredAnyOf: taskAnyOf},
	{ID: "secrets-rotate", Title: "Rotate credentials", Mode: ModeWorkerDispatch, Tier: TierHigh, Envelope: workerEnvelope(), RequiredAnyOf: taskAnyOf},

	// Orchestrator input: context for the coordinator itself.
	{ID: "orch-note", Title: "Append a note to the orchestrator", Mode: ModeOrchestratorInput, Tier: TierLow, Envelope: orchestratorEnvelope(), RequiredAnyOf: []string{"text", "task", "notes"}},
	{ID: "orch-replan", Title: "Ask the orchestrator to replan", Mode: ModeOrchestratorInput, Tier: TierMedium, Envelope: orchestratorEnvelope(), RequiredAnyOf: []string{"text", "task", "notes"}},
	{ID: "orch-priority", Title: "Change the orchestrator's priorities", Mode: ModeOrchestratorInput, Tier: TierMedium, Envelope: orchestratorEnvelope(), RequiredAnyOf: []string{"text", "task", "notes"}},
	{ID: "orch-broadcast-summary", Title: "Ask the orchestrator to summarize for all workers", Mode: ModeOrchestratorInput, Tier: TierLow, Envelope: orchestratorEnvelope()},
	{ID: "status-question", Title: "Ask the orchestrator a status question", Mode: ModeOrchestratorInput, Tier: TierLow, Envelope: orchestratorEnvelope(), RequiredAnyOf: []string{"text", "task", "notes"}},

	// System: digest sync and periodic review.
	{ID: "sync-status", Title: "Run a digest sync now", Mode: ModeSystemSync, Tier: TierLow, Envelope: syncEnvelope()},
	{ID: "sync-force", Title: "Force digest delivery even if unchanged", Mode: ModeSystemSync, Tier: TierLow, Envelope: syncEnvelope()},
	{ID: "review-hard", Title: "Run a hard periodic review", Mode: ModeSystemReview, Tier: TierMedium, Envelope: reviewEnvelope()},
	{ID: "review-soft", Title: "Run a soft periodic review", Mode: ModeSystemReview, Tier: TierLow, Envelope: reviewEnvelope()},
	{ID: "review-periodic", Title: "Run the standing periodic review", Mode: ModeSystemReview, Tier: TierLow, Envelope: reviewEnvelope()},
}

// Lookup finds a command spec by id.
func Lookup(id string) (*Spec, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	for i := range Registry {
		if Registry[i].ID == id {
			return &Registry[i], true
		}
	}
	return nil, false
}
