// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package orchestration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/require"

	"github.com/orchd/orchd/internal/apperr"
	"github.com/orchd/orchd/internal/attention"
	"github.com/orchd/orchd/internal/events"
	"github.com/orchd/orchd/internal/session"
	"github.com/orchd/orchd/internal/store"
	"github.com/orchd/orchd/internal/worktree"
)

// fakeSessions is an in-memory stand-in for the PTY supervisor.
type fakeSessions struct {
	mu        sync.Mutex
	nextID    int
	created   map[string]session.CreateOptions
	writes    map[string][]string
	running   map[string]bool
	interrupts map[string]int
	outputFns map[string][]session.OutputFunc
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		created:    make(map[string]session.CreateOptions),
		writes:     make(map[string][]string),
		running:    make(map[string]bool),
		interrupts: make(map[string]int),
		outputFns:  make(map[string][]session.OutputFunc),
	}
}

func (f *fakeSessions) Create(opts session.CreateOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("sess-%d", f.nextID)
	f.created[id] = opts
	f.running[id] = true
	return id, nil
}

func (f *fakeSessions) Write(id string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes[id] = append(f.writes[id], string(data))
	return nil
}

func (f *fakeSessions) Interrupt(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interrupts[id]++
	return nil
}

func (f *fakeSessions) Kill(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[id] = false
	return nil
}

func (f *fakeSessions) Forget(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.running, id)
}

func (f *fakeSessions) OnOutput(id string, fn session.OutputFunc) (session.Unsubscribe, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outputFns[id] = append(f.outputFns[id], fn)
	return func() {}, nil
}

func (f *fakeSessions) Status(id string) (session.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	running, ok := f.running[id]
	if !ok {
		return session.Status{}, apperr.New(apperr.CodeUnknownSession, id)
	}
	return session.Status{ID: id, Running: running}, nil
}

func (f *fakeSessions) emitOutput(id, chunk string) {
	f.mu.Lock()
	fns := append([]session.OutputFunc(nil), f.outputFns[id]...)
	f.mu.Unlock()
	for _, fn := range fns {
		fn(id, []byte(chunk))
	}
}

func (f *fakeSessions) transcript(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.writes[id], "")
}

func (f *fakeSessions) setRunning(id string, running bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[id] = running
}

// fakeWorktrees provisions fake paths under a temp dir.
type fakeWorktrees struct {
	mu      sync.Mutex
	baseDir string
	removed []string
}

func (f *fakeWorktrees) Provision(ctx context.Context, orchestrationID, slug string) (*worktree.WorktreeInfo, error) {
	path := filepath.Join(f.baseDir, Slugify(slug))
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, err
	}
	return &worktree.WorktreeInfo{
		Path:   path,
		Branch: fmt.Sprintf("orch/%s/%s", orchestrationID, Slugify(slug)),
	}, nil
}

func (f *fakeWorktrees) Cleanup(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, path)
	return os.RemoveAll(path)
}

func (f *fakeWorktrees) List(ctx context.Context) ([]worktree.WorktreeInfo, error) { return nil, nil }
func (f *fakeWorktrees) GetByPath(path string) (worktree.WorktreeInfo, bool) {
	return worktree.WorktreeInfo{}, false
}

type testHarness struct {
	manager  *Manager
	sessions *fakeSessions
	store    *store.Store
	router   *attention.Router
	wt       *fakeWorktrees
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	st, err := store.Open(t.TempDir(), "test.db")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	sessions := newFakeSessions()
	router := attention.NewRouter(st, sessions, nil)
	wt := &fakeWorktrees{baseDir: t.TempDir()}

	m := NewManager(Deps{
		Sessions: sessions,
		Store:    st,
		Router:   router,
		Workspace: func(ctx context.Context, projectPath string) (string, string, error) {
			return projectPath + "/.git", projectPath, nil
		},
		Worktrees: func(repoDir string) (worktree.Manager, error) { return wt, nil },
		Profiles: func(tool, profileID string) (SpawnProfile, error) {
			return SpawnProfile{Tool: tool, Command: []string{"/bin/cat"}}, nil
		},
		SyncDefaults:    SyncPolicy{Mode: SyncModeManual, DeliverToOrchestrator: true, MinDeliveryGapMs: 1},
		DirectiveDedupe: 50 * time.Millisecond,
	})
	t.Cleanup(m.Dispose)
	return &testHarness{manager: m, sessions: sessions, store: st, router: router, wt: wt}
}

func baseRequest() CreateRequest {
	return CreateRequest{
		Name:        "fix-login",
		ProjectPath: "/repo",
		Orchestrator: OrchestratorSpec{
			Tool: "codex", ProfileID: "default",
			Prompt: "You are coordinating a team. Goal: repair the login flow end to end.",
		},
		Workers: []WorkerSpec{
			{Name: "Worker A", TaskPrompt: "Fix the session cookie handling."},
			{Name: "Worker B", TaskPrompt: "Add regression tests."},
		},
	}
}

func TestCreateAutoModeDispatchesImmediately(t *testing.T) {
	h := newHarness(t)
	o, err := h.manager.Create(context.Background(), baseRequest())
	require.NoError(t, err)

	require.Equal(t, StartupRunning, o.Startup.State)
	require.Empty(t, o.Startup.PendingSessionIDs)
	require.Len(t, o.Startup.DispatchedSessionIDs, 2)

	for _, w := range o.Workers {
		tr := h.sessions.transcript(w.SessionID)
		require.Contains(t, tr, "TASK BRIEF for "+w.Name)
		require.Contains(t, tr, "OBJECTIVE CONTEXT (must be satisfied):")
		require.Contains(t, tr, "repair the login flow end to end")
		require.True(t, w.InitialDispatched)
		require.NotEmpty(t, w.Branch)
		require.NotEmpty(t, w.WorktreePath)
	}

	orchTr := h.sessions.transcript(o.OrchestratorSessionID)
	require.Contains(t, orchTr, "ORCHESTRATOR BRIEFING")
	require.Contains(t, orchTr, "FYP_DISPATCH_JSON")
	require.Contains(t, orchTr, o.Workers[0].SessionID)
	require.NotContains(t, orchTr, "ORCHESTRATOR QUICKSTART")
}

func TestCreateOrchestratorFirstParksWorkers(t *testing.T) {
	h := newHarness(t)
	req := baseRequest()
	req.DispatchMode = DispatchModeOrchestratorFirst
	no := false
	req.AutoDispatchInitialPrompts = &no

	o, err := h.manager.Create(context.Background(), req)
	require.NoError(t, err)

	require.Equal(t, StartupWaitingFirstDispatch, o.Startup.State)
	require.Len(t, o.Startup.PendingSessionIDs, 2)

	for _, w := range o.Workers {
		tr := h.sessions.transcript(w.SessionID)
		require.Contains(t, tr, "WAIT MODE")
		require.NotContains(t, tr, "TASK BRIEF")
	}
	require.Contains(t, h.sessions.transcript(o.OrchestratorSessionID), "ORCHESTRATOR QUICKSTART")
}

func TestCreateValidation(t *testing.T) {
	h := newHarness(t)

	req := baseRequest()
	req.ProjectPath = ""
	_, err := h.manager.Create(context.Background(), req)
	require.True(t, apperr.Is(err, apperr.CodeMissingProjectPath))

	req = baseRequest()
	req.Workers = nil
	_, err = h.manager.Create(context.Background(), req)
	require.True(t, apperr.Is(err, apperr.CodeBadInput))

	req = baseRequest()
	req.DispatchMode = "nope"
	_, err = h.manager.Create(context.Background(), req)
	require.True(t, apperr.Is(err, apperr.CodeBadInput))
}

func TestDirectiveDrivenDispatch(t *testing.T) {
	h := newHarness(t)
	req := baseRequest()
	req.DispatchMode = DispatchModeOrchestratorFirst
	no := false
	req.AutoDispatchInitialPrompts = &no
	o, err := h.manager.Create(context.Background(), req)
	require.NoError(t, err)

	for k := 1; k <= 3; k++ {
		chunk := fmt.Sprintf("thinking...\nFYP_DISPATCH_JSON: {\"target\":\"worker:Worker A\",\"task\":\"PING-%d\"}\n", k)
		h.sessions.emitOutput(o.OrchestratorSessionID, chunk)
	}

	workerTr := h.sessions.transcript(o.Workers[0].SessionID)
	require.Contains(t, workerTr, "PING-1")
	require.Contains(t, workerTr, "PING-2")
	require.Contains(t, workerTr, "PING-3")

	require.Equal(t, StartupRunning, o.Startup.State)

	evs, err := h.store.SessionEvents(o.OrchestratorSessionID, 0, 0)
	require.NoError(t, err)
	dispatches := 0
	for _, e := range evs {
		if e.Kind == events.KindOrchestrationDispatch {
			dispatches++
			require.NotContains(t, e.Data, `"reason"`)
		}
	}
	require.GreaterOrEqual(t, dispatches, 3, "event log: %s", spew.Sdump(evs))
}

func TestDispatchBootstrapInjection(t *testing.T) {
	h := newHarness(t)
	req := baseRequest()
	req.DispatchMode = DispatchModeOrchestratorFirst
	no := false
	req.AutoDispatchInitialPrompts = &no
	o, err := h.manager.Create(context.Background(), req)
	require.NoError(t, err)

	w := o.Workers[0]
	res, err := h.manager.Dispatch(context.Background(), o.ID, DispatchRequest{
		Target: "worker:worker-a", Text: "start with the cookie bug", IncludeBootstrapIfPresent: true,
	})
	require.NoError(t, err)
	require.True(t, res.InjectedBootstrap)
	require.Equal(t, []string{w.SessionID}, res.Sent)

	tr := h.sessions.transcript(w.SessionID)
	require.Contains(t, tr, "TASK BRIEF for Worker A")
	require.Contains(t, tr, "start with the cookie bug")
	require.Less(t, strings.Index(tr, "TASK BRIEF"), strings.Index(tr, "start with the cookie bug"))

	res, err = h.manager.Dispatch(context.Background(), o.ID, DispatchRequest{
		Target: "1", Text: "now the tests", Interrupt: true, IncludeBootstrapIfPresent: true,
	})
	require.NoError(t, err)
	require.False(t, res.InjectedBootstrap, "bootstrap is consumed once")
	require.True(t, res.InterruptRequested)
	require.Equal(t, 1, h.sessions.interrupts[w.SessionID])
}

func TestDispatchTargetResolution(t *testing.T) {
	h := newHarness(t)
	o, err := h.manager.Create(context.Background(), baseRequest())
	require.NoError(t, err)

	res, err := h.manager.Dispatch(context.Background(), o.ID, DispatchRequest{Target: "all", Text: "status?"})
	require.NoError(t, err)
	require.Len(t, res.Sent, 2)

	res, err = h.manager.Dispatch(context.Background(), o.ID, DispatchRequest{
		Target: "session:" + o.Workers[1].SessionID, Text: "just you",
	})
	require.NoError(t, err)
	require.Equal(t, []string{o.Workers[1].SessionID}, res.Sent)

	res, err = h.manager.Dispatch(context.Background(), o.ID, DispatchRequest{Target: "2", Text: "by index"})
	require.NoError(t, err)
	require.Equal(t, []string{o.Workers[1].SessionID}, res.Sent)

	res, err = h.manager.Dispatch(context.Background(), o.ID, DispatchRequest{Target: "Worker B", Text: "bare name"})
	require.NoError(t, err)
	require.Equal(t, []string{o.Workers[1].SessionID}, res.Sent)

	_, err = h.manager.Dispatch(context.Background(), o.ID, DispatchRequest{Target: "worker:nobody", Text: "hi"})
	coded, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.CodeNoTargets, coded.Code)
	require.ElementsMatch(t, []string{"Worker A", "Worker B"}, coded.Detail["availableTargets"])
}

func TestCleanupLockContention(t *testing.T) {
	h := newHarness(t)
	o, err := h.manager.Create(context.Background(), baseRequest())
	require.NoError(t, err)

	// Simulate an in-flight cleanup holding the orchestration lock.
	o.mu.Lock()
	_, err = h.manager.Cleanup(context.Background(), o.ID, CleanupRequest{StopSessions: true})
	coded, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.CodeOrchestrationLocked, coded.Code)
	o.mu.Unlock()

	summary, err := h.manager.Cleanup(context.Background(), o.ID, CleanupRequest{
		StopSessions: true, RemoveWorktrees: true,
	})
	require.NoError(t, err)
	require.Equal(t, 3, summary.Sessions.Closed)
	require.Equal(t, 2, summary.Worktrees.Removed)
	require.Equal(t, StatusCleaned, o.Status)

	// Cleaned orchestrations refuse dispatch.
	_, err = h.manager.Dispatch(context.Background(), o.ID, DispatchRequest{Target: "all", Text: "hi"})
	require.True(t, apperr.Is(err, apperr.CodeBadInput))
}

func TestSyncHashSkipAndChecklistChange(t *testing.T) {
	h := newHarness(t)
	o, err := h.manager.Create(context.Background(), baseRequest())
	require.NoError(t, err)

	first, err := h.manager.Sync(context.Background(), o.ID, SyncOptions{Force: true})
	require.NoError(t, err)
	require.True(t, first.Sent)
	require.Contains(t, h.sessions.transcript(o.OrchestratorSessionID), "ORCHESTRATION SYNC")

	time.Sleep(5 * time.Millisecond)
	second, err := h.manager.Sync(context.Background(), o.ID, SyncOptions{})
	require.NoError(t, err)
	require.False(t, second.Sent)
	require.Equal(t, SyncReasonUnchanged, second.Reason)
	require.Equal(t, first.Hash, second.Hash)

	// A checklist appears in worker A's worktree: the digest moves.
	progress := filepath.Join(o.Workers[0].WorktreePath, "PROGRESS.md")
	require.NoError(t, os.WriteFile(progress, []byte("- [x] cookie fix\n- [x] tests\n- [ ] docs\n- [ ] cleanup\n"), 0o644))

	time.Sleep(5 * time.Millisecond)
	third, err := h.manager.Sync(context.Background(), o.ID, SyncOptions{})
	require.NoError(t, err)
	require.True(t, third.Sent)
	require.NotEqual(t, first.Hash, third.Hash)
	require.Contains(t, third.Text, "checklist 0/0→2/4")
}

func TestSyncCollectOnly(t *testing.T) {
	h := newHarness(t)
	o, err := h.manager.Create(context.Background(), baseRequest())
	require.NoError(t, err)

	deliver := false
	res, err := h.manager.Sync(context.Background(), o.ID, SyncOptions{Force: true, DeliverToOrchestrator: &deliver})
	require.NoError(t, err)
	require.False(t, res.Sent)
	require.Equal(t, SyncReasonCollectOnly, res.Reason)
	require.NotContains(t, h.sessions.transcript(o.OrchestratorSessionID), "ORCHESTRATION SYNC")
}

func TestAutomationQuestionRouting(t *testing.T) {
	h := newHarness(t)
	o, err := h.manager.Create(context.Background(), baseRequest())
	require.NoError(t, err)

	require.NoError(t, h.manager.SetAutomationPolicy(o.ID, AutomationPolicy{
		QuestionMode: QuestionModeOrchestrator, QuestionTimeoutMs: 60000,
	}))

	worker := o.Workers[0]
	res, err := h.router.Create(attention.CreateRequest{
		SessionID: worker.SessionID,
		Kind:      "claude.permission",
		Title:     "Allow network access?",
		Signature: "perm:" + worker.SessionID + ":curl",
		Options: []attention.Option{
			{ID: "y", Label: "Allow", Send: "y\r"},
			{ID: "n", Label: "Deny", Send: "n\r"},
		},
	})
	require.NoError(t, err)
	require.True(t, res.OK)

	orchTr := h.sessions.transcript(o.OrchestratorSessionID)
	require.Contains(t, orchTr, "AUTOMATION QUESTION BATCH")
	require.Contains(t, orchTr, fmt.Sprintf("attentionId:%d", res.ID))
	require.Equal(t, 1, o.Automation.PendingQuestionCount)

	item, err := h.router.Get(res.ID)
	require.NoError(t, err)
	require.Equal(t, store.AttentionStatusSent, item.Status)

	// Orchestrator answers via directive.
	chunk := fmt.Sprintf("FYP_ANSWER_QUESTION_JSON: {\"attentionId\":%d,\"optionId\":\"y\"}\n", res.ID)
	h.sessions.emitOutput(o.OrchestratorSessionID, chunk)

	require.Equal(t, 0, o.Automation.PendingQuestionCount)
	require.Equal(t, 1, o.Automation.QuestionDispatchCount)
	require.Contains(t, h.sessions.transcript(worker.SessionID), "y\r")

	item, err = h.router.Get(res.ID)
	require.NoError(t, err)
	require.Equal(t, store.AttentionStatusResolved, item.Status)

	// A stale duplicate answer is dropped silently.
	h.sessions.emitOutput(o.OrchestratorSessionID,
		fmt.Sprintf("FYP_ANSWER_QUESTION_JSON: {\"attentionId\":%d,\"optionId\":\"n\",\"source\":\"retry\"}\n", res.ID))
	require.Equal(t, 1, o.Automation.QuestionDispatchCount)
}

func TestAutomationQuestionTimeout(t *testing.T) {
	h := newHarness(t)
	o, err := h.manager.Create(context.Background(), baseRequest())
	require.NoError(t, err)

	require.NoError(t, h.manager.SetAutomationPolicy(o.ID, AutomationPolicy{
		QuestionMode: QuestionModeOrchestrator, QuestionTimeoutMs: 20,
	}))

	res, err := h.router.Create(attention.CreateRequest{
		SessionID: o.Workers[0].SessionID,
		Kind:      "claude.permission",
		Title:     "Proceed?",
		Signature: "perm:timeout",
		Options:   []attention.Option{{ID: "y", Label: "Yes", Send: "y\r"}},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		item, err := h.router.Get(res.ID)
		return err == nil && item.Status == store.AttentionStatusDismissed
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, 0, o.Automation.PendingQuestionCount)
}

func TestYoloModeAutoAnswers(t *testing.T) {
	h := newHarness(t)
	o, err := h.manager.Create(context.Background(), baseRequest())
	require.NoError(t, err)

	require.NoError(t, h.manager.SetAutomationPolicy(o.ID, AutomationPolicy{
		QuestionMode: QuestionModeOrchestrator, YoloMode: true, QuestionTimeoutMs: 60000,
	}))

	res, err := h.router.Create(attention.CreateRequest{
		SessionID: o.Workers[0].SessionID,
		Kind:      "claude.permission",
		Title:     "Allow?",
		Signature: "perm:yolo",
		Options:   []attention.Option{{ID: "y", Label: "Yes", Send: "y\r"}},
	})
	require.NoError(t, err)

	item, err := h.router.Get(res.ID)
	require.NoError(t, err)
	require.Equal(t, store.AttentionStatusResolved, item.Status)
	require.Contains(t, h.sessions.transcript(o.Workers[0].SessionID), "y\r")
}

func TestProfileTemplateExpansion(t *testing.T) {
	st, err := store.Open(t.TempDir(), "test.db")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	sessions := newFakeSessions()
	wt := &fakeWorktrees{baseDir: t.TempDir()}

	m := NewManager(Deps{
		Sessions: sessions,
		Store:    st,
		Router:   attention.NewRouter(st, sessions, nil),
		Workspace: func(ctx context.Context, projectPath string) (string, string, error) {
			return projectPath + "/.git", projectPath, nil
		},
		Worktrees: func(repoDir string) (worktree.Manager, error) { return wt, nil },
		Profiles: func(tool, profileID string) (SpawnProfile, error) {
			return SpawnProfile{
				Tool:      tool,
				Command:   []string{"/bin/tool", "--bin", "{{.Worktree.Root}}/bin"},
				ExtraArgs: []string{"--label", "{{.Worktree.Name}}"},
				Env: map[string]string{
					"WORKER_BRANCH": "{{.Worktree.Branch}}",
					"PROJECT":       "{{.Project.Name}}",
				},
			}, nil
		},
	})
	t.Cleanup(m.Dispose)

	o, err := m.Create(context.Background(), baseRequest())
	require.NoError(t, err)

	w := o.Workers[0]
	opts := sessions.created[w.SessionID]
	require.Equal(t, []string{"/bin/tool", "--bin", w.WorktreePath + "/bin"}, opts.Command)
	require.Equal(t, []string{"--label", "Worker A"}, opts.ExtraArgs)
	require.Equal(t, w.Branch, opts.Env["WORKER_BRANCH"])
	require.Equal(t, "repo", opts.Env["PROJECT"])

	// The orchestrator runs in the project root under its own name.
	orchOpts := sessions.created[o.OrchestratorSessionID]
	require.Equal(t, []string{"/bin/tool", "--bin", "/repo/bin"}, orchOpts.Command)
	require.Equal(t, []string{"--label", "orchestrator"}, orchOpts.ExtraArgs)
	require.Empty(t, orchOpts.Env["WORKER_BRANCH"])
}

func TestSlugify(t *testing.T) {
	require.Equal(t, "worker-a", Slugify("Worker A"))
	require.Equal(t, "api-v2-fix", Slugify("API v2 / fix!"))
	require.Equal(t, "worker", Slugify("***"))
}
