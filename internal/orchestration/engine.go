// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package orchestration

import (
	"context"
	"encoding/json"
	"log"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orchd/orchd/internal/apperr"
	"github.com/orchd/orchd/internal/attention"
	"github.com/orchd/orchd/internal/config"
	"github.com/orchd/orchd/internal/digest"
	"github.com/orchd/orchd/internal/directive"
	"github.com/orchd/orchd/internal/events"
	"github.com/orchd/orchd/internal/executil"
	"github.com/orchd/orchd/internal/session"
	"github.com/orchd/orchd/internal/store"
	"github.com/orchd/orchd/internal/worktree"
)

// Deps wires the engine to its collaborators.
type Deps struct {
	Sessions  Sessions
	Store     *store.Store
	Router    *attention.Router
	Bus       events.EventBus
	Workspace WorkspaceResolver
	Worktrees WorktreeFactory
	Profiles  ProfileResolver

	AutomationDefaults AutomationPolicy
	SyncDefaults       SyncPolicy
	DirectiveDedupe    time.Duration
}

// Manager is the orchestration registry and engine.
type Manager struct {
	mu             sync.Mutex
	orchestrations map[string]*Orchestration

	sessions  Sessions
	store     *store.Store
	router    *attention.Router
	bus       events.EventBus
	workspace WorkspaceResolver
	worktrees WorktreeFactory
	profiles  ProfileResolver

	automationDefaults AutomationPolicy
	syncDefaults       SyncPolicy
	directiveDedupe    time.Duration
	expander           *config.TemplateExpander
}

// NewManager creates the engine and registers its attention observer.
func NewManager(deps Deps) *Manager {
	if deps.Workspace == nil {
		deps.Workspace = GitWorkspaceResolver
	}
	if deps.SyncDefaults.MinDeliveryGapMs <= 0 {
		deps.SyncDefaults.MinDeliveryGapMs = 2000
	}
	if deps.SyncDefaults.Mode == "" {
		deps.SyncDefaults.Mode = SyncModeManual
	}
	if deps.AutomationDefaults.QuestionMode == "" {
		deps.AutomationDefaults.QuestionMode = QuestionModeInline
	}
	if deps.AutomationDefaults.QuestionTimeoutMs <= 0 {
		deps.AutomationDefaults.QuestionTimeoutMs = 120000
	}
	m := &Manager{
		orchestrations:     make(map[string]*Orchestration),
		sessions:           deps.Sessions,
		store:              deps.Store,
		router:             deps.Router,
		bus:                deps.Bus,
		workspace:          deps.Workspace,
		worktrees:          deps.Worktrees,
		profiles:           deps.Profiles,
		automationDefaults: deps.AutomationDefaults,
		syncDefaults:       deps.SyncDefaults,
		directiveDedupe:    deps.DirectiveDedupe,
		expander:           config.NewTemplateExpander(),
	}
	if m.router != nil {
		m.router.OnCreated(m.onAttentionCreated)
	}
	return m
}

// GitWorkspaceResolver derives the workspace key and root from git:
// the absolute git dir keys the workspace, the toplevel is its root.
func GitWorkspaceResolver(ctx context.Context, projectPath string) (string, string, error) {
	res, err := executil.Run(ctx, []string{"git", "-C", projectPath, "rev-parse", "--show-toplevel", "--absolute-git-dir"}, executil.Options{})
	if err != nil {
		return "", "", apperr.Wrap(apperr.CodeNotAGitRepo, err).WithDetail("projectPath", projectPath)
	}
	lines := strings.Split(strings.TrimSpace(string(res.Stdout)), "\n")
	if len(lines) < 2 {
		return "", "", apperr.New(apperr.CodeBadGitDir, "unexpected rev-parse output")
	}
	root := strings.TrimSpace(lines[0])
	gitDir := strings.TrimSpace(lines[1])
	return gitDir, root, nil
}

// Create provisions worktrees, spawns the orchestrator and worker
// sessions, runs the startup state machine, and wires directive
// parsing on the orchestrator's output.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Orchestration, error) {
	if strings.TrimSpace(req.ProjectPath) == "" {
		return nil, apperr.New(apperr.CodeMissingProjectPath, "projectPath is required")
	}
	if len(req.Workers) == 0 {
		return nil, apperr.New(apperr.CodeBadInput, "at least one worker is required")
	}
	dispatchMode := req.DispatchMode
	if dispatchMode == "" {
		dispatchMode = DispatchModeAuto
	}
	if dispatchMode != DispatchModeAuto && dispatchMode != DispatchModeOrchestratorFirst {
		return nil, apperr.New(apperr.CodeBadInput, "unknown dispatchMode "+dispatchMode)
	}
	autoWorktrees := req.AutoWorktrees == nil || *req.AutoWorktrees
	autoDispatch := req.AutoDispatchInitialPrompts == nil || *req.AutoDispatchInitialPrompts

	workspaceKey, workspaceRoot, err := m.workspace(ctx, req.ProjectPath)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	o := &Orchestration{
		ID:            uuid.New().String(),
		Name:          req.Name,
		ProjectPath:   req.ProjectPath,
		CreatedAt:     now,
		Status:        StatusActive,
		DispatchMode:  dispatchMode,
		WorkspaceKey:  workspaceKey,
		WorkspaceRoot: workspaceRoot,
		Sync: SyncState{
			Policy:    m.syncDefaults,
			Snapshots: make(map[string]digest.WorkerSnapshot),
		},
		Automation:       AutomationState{Policy: m.automationDefaults},
		pendingQuestions: make(map[int64]*time.Timer),
	}

	// Track everything provisioned so a failed create unwinds cleanly.
	var spawned []string
	var provisioned []string
	rollback := func() {
		for _, sid := range spawned {
			m.sessions.Forget(sid)
			if m.store != nil {
				m.store.DeleteSession(sid)
			}
		}
		if o.worktrees != nil {
			for _, path := range provisioned {
				if err := o.worktrees.Cleanup(context.Background(), path); err != nil {
					log.Printf("[orchestration] rollback worktree %s: %v", path, err)
				}
			}
		}
	}

	if autoWorktrees {
		wtm, err := m.worktrees(workspaceRoot)
		if err != nil {
			return nil, err
		}
		o.worktrees = wtm
	}

	objective := NormalizeObjective(req.Orchestrator.Prompt)

	for _, spec := range req.Workers {
		w := &Worker{
			Name:       spec.Name,
			Slug:       Slugify(spec.Name),
			Tool:       spec.Tool,
			ProfileID:  spec.ProfileID,
			TaskPrompt: AugmentTaskPrompt(spec.TaskPrompt, objective),
		}
		if w.Tool == "" {
			w.Tool = req.Orchestrator.Tool
		}
		if w.ProfileID == "" {
			w.ProfileID = req.Orchestrator.ProfileID
		}
		if autoWorktrees {
			info, err := o.worktrees.Provision(ctx, o.ID, w.Name)
			if err != nil {
				rollback()
				return nil, err
			}
			w.Branch = info.Branch
			w.WorktreePath = info.Path
			provisioned = append(provisioned, info.Path)
		}
		o.Workers = append(o.Workers, w)
	}

	// Orchestrator session first: workers reference it in events.
	orchSID, err := m.spawn(req.Orchestrator.Tool, req.Orchestrator.ProfileID, req.ProjectPath, o, "", "")
	if err != nil {
		rollback()
		return nil, err
	}
	spawned = append(spawned, orchSID)
	o.OrchestratorSessionID = orchSID

	for _, w := range o.Workers {
		cwd := req.ProjectPath
		if w.WorktreePath != "" {
			cwd = w.WorktreePath
		}
		sid, err := m.spawn(w.Tool, w.ProfileID, cwd, o, w.Name, w.Branch)
		if err != nil {
			rollback()
			return nil, err
		}
		spawned = append(spawned, sid)
		w.SessionID = sid
	}

	// Startup state machine.
	if dispatchMode == DispatchModeAuto && autoDispatch {
		for _, w := range o.Workers {
			m.writeSession(w.SessionID, workerTaskPacket(w))
			w.InitialDispatched = true
			o.Startup.DispatchedSessionIDs = append(o.Startup.DispatchedSessionIDs, w.SessionID)
		}
		o.Startup.State = StartupRunning
	} else {
		for _, w := range o.Workers {
			w.pendingBootstrap = workerTaskPacket(w)
			m.writeSession(w.SessionID, workerWaitBootstrap(w))
			o.Startup.PendingSessionIDs = append(o.Startup.PendingSessionIDs, w.SessionID)
		}
		o.Startup.State = StartupWaitingFirstDispatch
	}

	// Brief the orchestrator: roster + marker contract, then the
	// caller's prompt, then the quickstart when workers are parked.
	intro := orchestratorSystemPrompt(o)
	if strings.TrimSpace(req.Orchestrator.Prompt) != "" {
		intro += "\n" + req.Orchestrator.Prompt + "\n"
	}
	if o.Startup.State == StartupWaitingFirstDispatch {
		intro += "\n" + orchestratorQuickstart(o)
	}
	m.writeSession(orchSID, intro)

	// Parse directives out of the orchestrator's output stream.
	o.parser = directive.NewParser(m.directiveDedupe)
	unsub, err := m.sessions.OnOutput(orchSID, func(id string, data []byte) {
		m.consumeOrchestratorOutput(o, string(data))
	})
	if err != nil {
		rollback()
		return nil, err
	}
	o.unsubscribe = unsub

	if m.store != nil {
		if err := m.store.CreateOrchestration(store.OrchestrationRow{
			ID: o.ID, Name: o.Name, ProjectPath: o.ProjectPath,
			Status: o.Status, DispatchMode: o.DispatchMode,
			OrchestratorSessionID: orchSID, State: o.stateJSON(),
			CreatedAt: now, UpdatedAt: now,
		}); err != nil {
			rollback()
			return nil, err
		}
	}

	m.mu.Lock()
	m.orchestrations[o.ID] = o
	m.mu.Unlock()
	return o, nil
}

// spawn creates one session and its store row. Profile values may
// carry {{.Worktree.Root}}-style placeholders; they are expanded
// against the session's worktree before launch.
func (m *Manager) spawn(tool, profileID, cwd string, o *Orchestration, workerName, branch string) (string, error) {
	profile, err := m.profiles(tool, profileID)
	if err != nil {
		return "", err
	}
	if err := m.expandProfile(&profile, o, cwd, workerName, branch); err != nil {
		return "", err
	}
	sid, err := m.sessions.Create(session.CreateOptions{
		Tool:           profile.Tool,
		ProfileID:      profileID,
		Command:        profile.Command,
		Cwd:            cwd,
		Env:            profile.Env,
		ExtraArgs:      profile.ExtraArgs,
		ClaudeAuthMode: profile.ClaudeAuthMode,
	})
	if err != nil {
		return "", err
	}
	if m.store != nil {
		now := time.Now()
		label := workerName
		if label == "" {
			label = "orchestrator"
		}
		if err := m.store.CreateSession(store.Session{
			ID: sid, Tool: profile.Tool, ProfileID: profileID, Cwd: cwd,
			WorkspaceKey: o.WorkspaceKey, WorkspaceRoot: o.WorkspaceRoot,
			TreePath: cwd, Label: label, CreatedAt: now, UpdatedAt: now,
		}); err != nil {
			m.sessions.Forget(sid)
			return "", err
		}
	}
	return sid, nil
}

// expandProfile substitutes template placeholders in a profile's
// command, args, and env against the session's worktree and project
// identity.
func (m *Manager) expandProfile(profile *SpawnProfile, o *Orchestration, cwd, workerName, branch string) error {
	name := workerName
	if name == "" {
		name = "orchestrator"
	}
	tctx := &config.TemplateContext{
		Worktree: config.WorktreeTemplateData{Root: cwd, Name: name, Branch: branch},
		Project:  config.ProjectTemplateData{Name: filepath.Base(o.WorkspaceRoot)},
	}

	expandAll := func(values []string) ([]string, error) {
		out := make([]string, len(values))
		for i, v := range values {
			expanded, err := m.expander.Expand(v, tctx)
			if err != nil {
				return nil, err
			}
			out[i] = expanded
		}
		return out, nil
	}

	var err error
	if profile.Command, err = expandAll(profile.Command); err != nil {
		return apperr.Wrap(apperr.CodeBadInput, err)
	}
	if profile.ExtraArgs, err = expandAll(profile.ExtraArgs); err != nil {
		return apperr.Wrap(apperr.CodeBadInput, err)
	}
	if len(profile.Env) > 0 {
		env := make(map[string]string, len(profile.Env))
		for k, v := range profile.Env {
			expanded, err := m.expander.Expand(v, tctx)
			if err != nil {
				return apperr.Wrap(apperr.CodeBadInput, err)
			}
			env[k] = expanded
		}
		profile.Env = env
	}
	return nil
}

// writeSession writes text plus the submit CR, swallowing errors per
// background-path semantics.
func (m *Manager) writeSession(sid, text string) {
	if err := m.sessions.Write(sid, []byte(text+"\r")); err != nil {
		log.Printf("[orchestration] write %s: %v", sid, err)
	}
}

// consumeOrchestratorOutput feeds one output chunk through the
// directive parser and executes what it yields, in buffer order.
func (m *Manager) consumeOrchestratorOutput(o *Orchestration, chunk string) {
	result := o.parser.Feed(chunk, time.Now())
	for _, d := range result.Dispatches {
		req := DispatchRequest{
			Target:                    d.Target,
			Text:                      d.Text,
			Interrupt:                 d.Interrupt,
			ForceInterrupt:            d.ForceInterrupt,
			IncludeBootstrapIfPresent: d.IncludeBootstrapIfPresent,
			Source:                    string(d.Source),
		}
		if _, err := m.Dispatch(context.Background(), o.ID, req); err != nil {
			log.Printf("[orchestration] %s directive dispatch: %v", o.ID, err)
		}
	}
	for _, qa := range result.QuestionAnswers {
		m.handleQuestionAnswer(o, qa)
	}
}

// Get returns the live orchestration by id.
func (m *Manager) Get(id string) (*Orchestration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orchestrations[id]
	if !ok {
		return nil, apperr.New(apperr.CodeUnknownSession, id)
	}
	return o, nil
}

// List returns every live orchestration.
func (m *Manager) List() []*Orchestration {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Orchestration, 0, len(m.orchestrations))
	for _, o := range m.orchestrations {
		out = append(out, o)
	}
	return out
}

// Dispatch resolves targets and delivers text to each, honoring
// interrupt and bootstrap options, then records the
// orchestration.dispatch event.
func (m *Manager) Dispatch(ctx context.Context, orchestrationID string, req DispatchRequest) (*DispatchResult, error) {
	o, err := m.Get(orchestrationID)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.Status != StatusActive {
		return nil, apperr.New(apperr.CodeBadInput, "orchestration is "+o.Status)
	}

	targets, err := resolveTargets(o, req.Target)
	if err != nil {
		return nil, err
	}
	text := req.Text
	if len(text) > 24000 {
		text = text[:24000]
	}

	res := &DispatchResult{Sent: []string{}, Failed: []DispatchFailure{}}
	for _, w := range targets {
		status, err := m.sessions.Status(w.SessionID)
		if err != nil {
			res.Failed = append(res.Failed, DispatchFailure{SessionID: w.SessionID, Reason: errReason(err)})
			continue
		}

		if req.Interrupt || (req.ForceInterrupt && status.Running) {
			if err := m.sessions.Interrupt(w.SessionID); err == nil {
				res.InterruptRequested = true
				time.Sleep(dispatchInterruptWait)
			}
		}

		if req.IncludeBootstrapIfPresent && w.pendingBootstrap != "" {
			if err := m.sessions.Write(w.SessionID, []byte(w.pendingBootstrap+"\r")); err != nil {
				res.Failed = append(res.Failed, DispatchFailure{SessionID: w.SessionID, Reason: errReason(err)})
				continue
			}
			w.pendingBootstrap = ""
			res.InjectedBootstrap = true
		}

		if err := m.sessions.Write(w.SessionID, []byte(text+"\r")); err != nil {
			res.Failed = append(res.Failed, DispatchFailure{SessionID: w.SessionID, Reason: errReason(err)})
			continue
		}
		res.Sent = append(res.Sent, w.SessionID)
		w.InitialDispatched = true
		m.markDispatchedLocked(o, w.SessionID)
	}

	// The writes above complete before the event is appended.
	m.recordDispatchEvent(o, req, res)
	m.persist(o)
	return res, nil
}

func (m *Manager) markDispatchedLocked(o *Orchestration, sid string) {
	for i, pending := range o.Startup.PendingSessionIDs {
		if pending == sid {
			o.Startup.PendingSessionIDs = append(o.Startup.PendingSessionIDs[:i], o.Startup.PendingSessionIDs[i+1:]...)
			o.Startup.DispatchedSessionIDs = append(o.Startup.DispatchedSessionIDs, sid)
			break
		}
	}
	if o.Startup.State == StartupWaitingFirstDispatch {
		o.Startup.State = StartupRunning
	}
}

func (m *Manager) recordDispatchEvent(o *Orchestration, req DispatchRequest, res *DispatchResult) {
	payload := map[string]interface{}{
		"target": req.Target,
		"source": req.Source,
		"sent":   res.Sent,
		"failed": res.Failed,
	}
	if m.store != nil {
		data, _ := json.Marshal(payload)
		if _, err := m.store.AppendEvent(o.OrchestratorSessionID, events.KindOrchestrationDispatch, string(data), time.Now()); err != nil {
			log.Printf("[orchestration] record dispatch event: %v", err)
		}
	}
	if m.bus != nil {
		m.bus.Publish(context.Background(), events.Event{
			Kind:      events.KindOrchestrationDispatch,
			SessionID: o.OrchestratorSessionID,
			Payload:   payload,
		})
	}
}

// ListWorktrees returns the repository's worktrees annotated with
// dirtiness and ahead/behind counts, for the orchestration detail
// view. Fails with bad_input when the orchestration was created with
// autoWorktrees=false.
func (m *Manager) ListWorktrees(ctx context.Context, orchestrationID string) ([]worktree.WorktreeInfo, error) {
	o, err := m.Get(orchestrationID)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	wt := o.worktrees
	o.mu.Unlock()
	if wt == nil {
		return nil, apperr.New(apperr.CodeBadInput, "orchestration has no managed worktrees")
	}
	return wt.List(ctx)
}

// WriteOrchestrator delivers text to the orchestrator session.
func (m *Manager) WriteOrchestrator(orchestrationID, text string) error {
	o, err := m.Get(orchestrationID)
	if err != nil {
		return err
	}
	return m.sessions.Write(o.OrchestratorSessionID, []byte(text+"\r"))
}

// Cleanup tears an orchestration down under its lock. A concurrent
// cleanup fails fast with orchestration_locked.
func (m *Manager) Cleanup(ctx context.Context, orchestrationID string, req CleanupRequest) (*CleanupSummary, error) {
	o, err := m.Get(orchestrationID)
	if err != nil {
		return nil, err
	}

	if !o.mu.TryLock() {
		return nil, apperr.New(apperr.CodeOrchestrationLocked, orchestrationID)
	}
	defer o.mu.Unlock()

	summary := &CleanupSummary{}
	if o.Status == StatusCleaned {
		return summary, nil
	}

	if o.unsubscribe != nil {
		o.unsubscribe()
		o.unsubscribe = nil
	}
	for id, timer := range o.pendingQuestions {
		timer.Stop()
		delete(o.pendingQuestions, id)
	}
	o.Automation.PendingQuestionCount = 0

	sids := []string{o.OrchestratorSessionID}
	for _, w := range o.Workers {
		sids = append(sids, w.SessionID)
	}

	if req.StopSessions {
		var interrupted []string
		for _, sid := range sids {
			if st, err := m.sessions.Status(sid); err == nil && st.Running {
				m.sessions.Interrupt(sid)
				interrupted = append(interrupted, sid)
			}
		}
		if len(interrupted) > 0 {
			time.Sleep(cleanupKillWait)
		}
		for _, sid := range interrupted {
			if st, err := m.sessions.Status(sid); err == nil && st.Running {
				m.sessions.Kill(sid)
			}
			summary.Sessions.Closed++
		}
	}

	if req.DeleteSessions {
		for _, sid := range sids {
			m.sessions.Forget(sid)
			if m.store != nil {
				if err := m.store.DeleteSession(sid); err != nil {
					log.Printf("[orchestration] delete session %s: %v", sid, err)
					continue
				}
			}
			summary.Sessions.Deleted++
		}
	}

	if req.RemoveWorktrees && o.worktrees != nil {
		for _, w := range o.Workers {
			if w.WorktreePath == "" {
				continue
			}
			if err := o.worktrees.Cleanup(ctx, w.WorktreePath); err != nil {
				log.Printf("[orchestration] remove worktree %s: %v", w.WorktreePath, err)
				continue
			}
			summary.Worktrees.Removed++
		}
	}

	o.Status = StatusCleaned
	m.persist(o)
	return summary, nil
}

// SetAutomationPolicy replaces the automation policy.
func (m *Manager) SetAutomationPolicy(orchestrationID string, policy AutomationPolicy) error {
	o, err := m.Get(orchestrationID)
	if err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if policy.QuestionTimeoutMs <= 0 {
		policy.QuestionTimeoutMs = m.automationDefaults.QuestionTimeoutMs
	}
	o.Automation.Policy = policy
	m.persist(o)
	return nil
}

// SetSyncPolicy replaces the digest sync policy.
func (m *Manager) SetSyncPolicy(orchestrationID string, policy SyncPolicy) error {
	o, err := m.Get(orchestrationID)
	if err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if policy.MinDeliveryGapMs <= 0 {
		policy.MinDeliveryGapMs = m.syncDefaults.MinDeliveryGapMs
	}
	o.Sync.Policy = policy
	m.persist(o)
	return nil
}

// Dispose drops every orchestration's subscriptions and timers, for
// shutdown. Sessions are torn down by the session supervisor.
func (m *Manager) Dispose() {
	m.mu.Lock()
	all := make([]*Orchestration, 0, len(m.orchestrations))
	for _, o := range m.orchestrations {
		all = append(all, o)
	}
	m.mu.Unlock()

	for _, o := range all {
		o.mu.Lock()
		if o.unsubscribe != nil {
			o.unsubscribe()
			o.unsubscribe = nil
		}
		for id, timer := range o.pendingQuestions {
			timer.Stop()
			delete(o.pendingQuestions, id)
		}
		o.mu.Unlock()
	}
}

// resolveTargets maps a target expression onto worker structs. The
// caller must hold o.mu.
func resolveTargets(o *Orchestration, target string) ([]*Worker, error) {
	t := strings.TrimSpace(target)
	lower := strings.ToLower(t)

	if lower == "" || lower == "all" {
		if len(o.Workers) == 0 {
			return nil, noTargets(o)
		}
		return o.Workers, nil
	}

	if sid, ok := strings.CutPrefix(t, "session:"); ok {
		for _, w := range o.Workers {
			if w.SessionID == strings.TrimSpace(sid) {
				return []*Worker{w}, nil
			}
		}
		return nil, noTargets(o)
	}

	name := t
	if n, ok := strings.CutPrefix(lower, "worker:"); ok {
		name = n
	}
	nameLower := strings.ToLower(strings.TrimSpace(name))
	for _, w := range o.Workers {
		if strings.ToLower(w.Name) == nameLower || w.Slug == Slugify(nameLower) {
			return []*Worker{w}, nil
		}
	}

	if idx, err := strconv.Atoi(t); err == nil {
		if idx >= 1 && idx <= len(o.Workers) {
			return []*Worker{o.Workers[idx-1]}, nil
		}
		return nil, noTargets(o)
	}

	return nil, noTargets(o)
}

func noTargets(o *Orchestration) error {
	names := make([]string, 0, len(o.Workers))
	for _, w := range o.Workers {
		names = append(names, w.Name)
	}
	return apperr.New(apperr.CodeNoTargets, "no matching targets").WithDetail("availableTargets", names)
}

func errReason(err error) string {
	if ce, ok := apperr.As(err); ok {
		return ce.Code
	}
	return err.Error()
}

// persist writes the orchestration's status and state blob. The caller
// must hold o.mu.
func (m *Manager) persist(o *Orchestration) {
	if m.store == nil {
		return
	}
	if err := m.store.UpdateOrchestrationState(o.ID, o.Status, o.stateJSON(), time.Now().UnixMilli()); err != nil {
		log.Printf("[orchestration] persist %s: %v", o.ID, err)
	}
}

// stateJSON is the persisted mutable half of an orchestration.
func (o *Orchestration) stateJSON() string {
	blob := map[string]any{
		"workspaceKey":  o.WorkspaceKey,
		"workspaceRoot": o.WorkspaceRoot,
		"workers":       o.Workers,
		"startup":       o.Startup,
		"sync":          o.Sync,
		"automation":    o.Automation,
	}
	data, err := json.Marshal(blob)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// Slugify lowercases a worker name and collapses each run of characters
// outside [a-z0-9], dashes included, into a single dash. The worktree
// layer's directory-name slugify keeps existing dashes, so the two can
// differ on names with dashes; Slugify's output passes through it
// unchanged.
func Slugify(s string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "worker"
	}
	return out
}
