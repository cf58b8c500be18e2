// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package e2e drives the assembled server through its HTTP surface:
// real store, real session supervisor (PTY children running /bin/cat),
// real engine — only git worktrees and auth are left out.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchd/orchd/internal/api"
	"github.com/orchd/orchd/internal/attention"
	"github.com/orchd/orchd/internal/command"
	"github.com/orchd/orchd/internal/events"
	"github.com/orchd/orchd/internal/orchestration"
	"github.com/orchd/orchd/internal/session"
	"github.com/orchd/orchd/internal/store"
	"github.com/orchd/orchd/internal/syncsched"
	"github.com/orchd/orchd/internal/worktree"
)

type testEnv struct {
	store    *store.Store
	sessions *session.Manager
	router   *attention.Router
	engine   *orchestration.Manager
	deps     api.Dependencies
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.Open(t.TempDir(), "e2e.db")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	bus := events.NewMemoryEventBus(events.MemoryBusConfig{HistoryMaxEvents: 1000})
	t.Cleanup(func() { bus.Close() })

	sessions := session.NewManager(bus)
	t.Cleanup(sessions.Dispose)

	router := attention.NewRouter(st, sessions, bus)

	profiles := func(tool, profileID string) (orchestration.SpawnProfile, error) {
		// cat echoes PTY input back out, which is all these tests need
		// to observe delivery. SIGINT is ignored so interrupt-style
		// dispatches don't kill the observer mid-test.
		return orchestration.SpawnProfile{
			Tool:    tool,
			Command: []string{"/bin/sh", "-c", "trap '' INT; exec cat"},
		}, nil
	}

	engine := orchestration.NewManager(orchestration.Deps{
		Sessions: sessions,
		Store:    st,
		Router:   router,
		Bus:      bus,
		Workspace: func(ctx context.Context, projectPath string) (string, string, error) {
			return projectPath + "/.git", projectPath, nil
		},
		Worktrees: func(repoDir string) (worktree.Manager, error) {
			t.Fatalf("worktrees must not be provisioned in e2e (autoWorktrees=false)")
			return nil, nil
		},
		Profiles: profiles,
		SyncDefaults: orchestration.SyncPolicy{
			Mode: orchestration.SyncModeManual, DeliverToOrchestrator: true, MinDeliveryGapMs: 1,
		},
		DirectiveDedupe: 50 * time.Millisecond,
	})
	t.Cleanup(engine.Dispose)

	scheduler := syncsched.NewScheduler(engine)
	t.Cleanup(scheduler.Shutdown)

	gate := command.NewGate(st, &gateRunner{engine: engine})

	deps := api.Dependencies{
		Sessions:  sessions,
		Store:     st,
		Engine:    engine,
		Router:    router,
		Gate:      gate,
		Scheduler: scheduler,
		EventBus:  bus,
		Profiles:  profiles,
		Version:   "test",
	}
	return &testEnv{store: st, sessions: sessions, router: router, engine: engine, deps: deps}
}

// gateRunner mirrors the app wiring of the command gate onto the
// engine.
type gateRunner struct {
	engine *orchestration.Manager
}

func (r *gateRunner) DispatchToWorkers(ctx context.Context, orchestrationID string, req command.WorkerDispatch) (map[string]any, error) {
	res, err := r.engine.Dispatch(ctx, orchestrationID, orchestration.DispatchRequest{
		Target: req.Target, Text: req.Text,
		Interrupt: req.Interrupt, ForceInterrupt: req.ForceInterrupt,
		IncludeBootstrapIfPresent: req.IncludeBootstrap, Source: "command",
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"sent": res.Sent, "failed": res.Failed,
		"count":              map[string]any{"sent": len(res.Sent), "failed": len(res.Failed)},
		"injectedBootstrap":  res.InjectedBootstrap,
		"interruptRequested": res.InterruptRequested,
	}, nil
}

func (r *gateRunner) WriteOrchestrator(orchestrationID, text string) error {
	return r.engine.WriteOrchestrator(orchestrationID, text)
}

func (r *gateRunner) SyncNow(ctx context.Context, orchestrationID string, deliver bool) (map[string]any, error) {
	res, err := r.engine.Sync(ctx, orchestrationID, orchestration.SyncOptions{
		Force: true, DeliverToOrchestrator: &deliver, Trigger: "manual",
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"sent": res.Sent, "reason": res.Reason,
		"digest": map[string]any{"hash": res.Hash, "changes": res.Changes},
	}, nil
}

func postJSON(t *testing.T, url string, body any, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, &decoded), "body: %s", data)
	}
	return resp, decoded
}

func createOrchestration(t *testing.T, serverURL string, dispatchMode string, autoDispatch bool) map[string]any {
	t.Helper()
	noWorktrees := false
	req := orchestration.CreateRequest{
		Name:        "e2e",
		ProjectPath: t.TempDir(),
		Orchestrator: orchestration.OrchestratorSpec{
			Tool: "opencode", ProfileID: "default",
			Prompt: "Goal: exercise the orchestration engine end to end.",
		},
		Workers: []orchestration.WorkerSpec{
			{Name: "Worker A", TaskPrompt: "Handle part one."},
			{Name: "Worker B", TaskPrompt: "Handle part two."},
		},
		AutoWorktrees:              &noWorktrees,
		DispatchMode:               dispatchMode,
		AutoDispatchInitialPrompts: &autoDispatch,
	}
	resp, body := postJSON(t, serverURL+"/api/v1/orchestrations", req, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	data, _ := body["data"].(map[string]any)
	require.NotNil(t, data)
	return data
}

func workerSessionIDs(t *testing.T, orch map[string]any) []string {
	t.Helper()
	var ids []string
	workers, _ := orch["workers"].([]any)
	for _, w := range workers {
		wm, _ := w.(map[string]any)
		ids = append(ids, wm["sessionId"].(string))
	}
	return ids
}

// transcript reads the persisted output rows for a session. The PTY
// children are /bin/cat with echo, so delivered input shows up here.
func (e *testEnv) transcript(t *testing.T, sessionID string) string {
	t.Helper()
	chunks, err := e.store.SessionOutput(sessionID, 0)
	require.NoError(t, err)
	var b strings.Builder
	for _, c := range chunks {
		b.Write(c.Data)
	}
	return b.String()
}

// captureOutput wires transcript persistence the way the app's bridge
// does, for the sessions of one orchestration.
func (e *testEnv) captureOutput(t *testing.T, orch map[string]any) {
	t.Helper()
	sids := append(workerSessionIDs(t, orch), orch["orchestratorSessionId"].(string))
	for _, sid := range sids {
		sid := sid
		_, err := e.sessions.OnOutput(sid, func(id string, data []byte) {
			e.store.AppendOutput(id, data, time.Now())
		})
		require.NoError(t, err)
	}
}

func TestServerStartup(t *testing.T) {
	env := newTestEnv(t)
	server := api.NewServer(api.ServerConfig{Host: "127.0.0.1", Port: 0}, env.deps)
	require.NotNil(t, server)
	require.NotNil(t, server.Router())
}

// E2E-1: orchestrator-first startup plus directive-driven dispatches.
func TestOrchestratorFirstDispatchFlow(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(api.NewRouter(env.deps))
	defer server.Close()

	orch := createOrchestration(t, server.URL, "orchestrator-first", false)
	env.captureOutput(t, orch)
	orchID := orch["id"].(string)
	orchSID := orch["orchestratorSessionId"].(string)
	workers := workerSessionIDs(t, orch)

	startup, _ := orch["startup"].(map[string]any)
	require.Equal(t, "waiting-first-dispatch", startup["state"])

	// Three dispatches to Worker A via the API.
	for k := 1; k <= 3; k++ {
		resp, body := postJSON(t, server.URL+"/api/v1/orchestrations/"+orchID+"/dispatch",
			map[string]any{"target": "worker:Worker A", "text": fmt.Sprintf("PING-%d", k)}, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		data, _ := body["data"].(map[string]any)
		failed, _ := data["failed"].([]any)
		assert.Empty(t, failed)
	}

	require.Eventually(t, func() bool {
		tr := env.transcript(t, workers[0])
		return strings.Contains(tr, "PING-1") && strings.Contains(tr, "PING-2") && strings.Contains(tr, "PING-3")
	}, 5*time.Second, 50*time.Millisecond)

	o, err := env.engine.Get(orchID)
	require.NoError(t, err)
	require.Equal(t, "running", o.Startup.State)

	evs, err := env.store.SessionEvents(orchSID, 0, 0)
	require.NoError(t, err)
	dispatches := 0
	for _, e := range evs {
		if e.Kind == "orchestration.dispatch" {
			dispatches++
		}
	}
	require.GreaterOrEqual(t, dispatches, 3)
}

// E2E-2: send-task bootstrap semantics through the command gate.
func TestSendTaskBootstrap(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(api.NewRouter(env.deps))
	defer server.Close()

	orch := createOrchestration(t, server.URL, "orchestrator-first", false)
	env.captureOutput(t, orch)
	orchID := orch["id"].(string)
	workers := workerSessionIDs(t, orch)

	resp, body := postJSON(t, server.URL+"/api/v1/commands/execute", map[string]any{
		"orchestrationId": orchID,
		"commandId":       "coord-task",
		"payload":         map[string]any{"target": "worker:Worker A", "task": "first directive"},
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, _ := body["data"].(map[string]any)
	require.Equal(t, true, data["injectedBootstrap"])
	count, _ := data["count"].(map[string]any)
	require.Equal(t, float64(1), count["sent"])

	resp, body = postJSON(t, server.URL+"/api/v1/commands/execute", map[string]any{
		"orchestrationId": orchID,
		"commandId":       "coord-task",
		"payload":         map[string]any{"target": "worker:Worker A", "task": "second directive", "interrupt": true},
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, _ = body["data"].(map[string]any)
	require.Equal(t, false, data["injectedBootstrap"])
	require.Equal(t, true, data["interruptRequested"])

	require.Eventually(t, func() bool {
		tr := env.transcript(t, workers[0])
		return strings.Contains(tr, "first directive") && strings.Contains(tr, "second directive")
	}, 5*time.Second, 50*time.Millisecond)
}

// E2E-3: digest hash skip and change detection.
func TestDigestSyncFlow(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(api.NewRouter(env.deps))
	defer server.Close()

	orch := createOrchestration(t, server.URL, "auto", true)
	orchID := orch["id"].(string)

	resp, body := postJSON(t, server.URL+"/api/v1/orchestrations/"+orchID+"/sync",
		map[string]any{"force": true}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, _ := body["data"].(map[string]any)
	require.Equal(t, true, data["sent"])
	digest, _ := data["digest"].(map[string]any)
	hash1 := digest["hash"].(string)
	require.Len(t, hash1, 20)

	time.Sleep(10 * time.Millisecond)
	resp, body = postJSON(t, server.URL+"/api/v1/orchestrations/"+orchID+"/sync",
		map[string]any{}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, _ = body["data"].(map[string]any)
	require.Equal(t, false, data["sent"])
	require.Contains(t, []any{"unchanged", "collect_only"}, data["reason"])

	// Kill a worker: running flips, the hash must move.
	workers := workerSessionIDs(t, orch)
	require.NoError(t, env.sessions.Kill(workers[0]))
	require.Eventually(t, func() bool {
		st, err := env.sessions.Status(workers[0])
		return err == nil && !st.Running
	}, 5*time.Second, 20*time.Millisecond)

	time.Sleep(10 * time.Millisecond)
	resp, body = postJSON(t, server.URL+"/api/v1/orchestrations/"+orchID+"/sync",
		map[string]any{}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, _ = body["data"].(map[string]any)
	digest, _ = data["digest"].(map[string]any)
	require.NotEqual(t, hash1, digest["hash"])
}

// E2E-4: automation routing of a worker question to the orchestrator.
func TestAutomationRouting(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(api.NewRouter(env.deps))
	defer server.Close()

	orch := createOrchestration(t, server.URL, "auto", true)
	env.captureOutput(t, orch)
	orchID := orch["id"].(string)
	orchSID := orch["orchestratorSessionId"].(string)
	workers := workerSessionIDs(t, orch)

	// PATCH the automation policy.
	patchBody, _ := json.Marshal(map[string]any{"questionMode": "orchestrator", "questionTimeoutMs": 60000})
	req, _ := http.NewRequest(http.MethodPatch, server.URL+"/api/v1/orchestrations/"+orchID+"/automation", bytes.NewReader(patchBody))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// A worker permission request arrives.
	resp2, body := postJSON(t, server.URL+"/api/v1/inbox", map[string]any{
		"sessionId": workers[0],
		"kind":      "claude.permission",
		"title":     "Allow network access?",
		"signature": "perm:" + workers[0] + ":curl",
		"options": []map[string]any{
			{"id": "y", "label": "Allow", "send": "y"},
			{"id": "n", "label": "Deny", "send": "n"},
		},
	}, nil)
	require.Equal(t, http.StatusCreated, resp2.StatusCode)
	data, _ := body["data"].(map[string]any)
	attentionID := int64(data["id"].(float64))

	require.Eventually(t, func() bool {
		tr := env.transcript(t, orchSID)
		return strings.Contains(tr, "AUTOMATION QUESTION BATCH") &&
			strings.Contains(tr, fmt.Sprintf("attentionId:%d", attentionID))
	}, 5*time.Second, 50*time.Millisecond)

	o, err := env.engine.Get(orchID)
	require.NoError(t, err)
	require.Equal(t, 1, o.Automation.PendingQuestionCount)

	// A human answers through the inbox.
	resp3, _ := postJSON(t, server.URL+fmt.Sprintf("/api/v1/inbox/%d/respond", attentionID),
		map[string]any{"optionId": "y"}, nil)
	require.Equal(t, http.StatusOK, resp3.StatusCode)

	require.Eventually(t, func() bool {
		o, err := env.engine.Get(orchID)
		return err == nil && o.Automation.PendingQuestionCount == 0 && o.Automation.QuestionDispatchCount >= 1
	}, 5*time.Second, 50*time.Millisecond)
}

// E2E-5 and invariant 9: the high-risk policy gate.
func TestCommandPolicyGate(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(api.NewRouter(env.deps))
	defer server.Close()

	orch := createOrchestration(t, server.URL, "auto", true)
	orchID := orch["id"].(string)

	// Missing policy fields: blocked with tier high.
	resp, body := postJSON(t, server.URL+"/api/v1/commands/execute", map[string]any{
		"orchestrationId": orchID,
		"commandId":       "security-vuln-repro",
		"payload":         map[string]any{"task": "reproduce the CVE"},
	}, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	errInfo, _ := body["error"].(map[string]any)
	require.Equal(t, "command_policy_blocked", errInfo["code"])
	details, _ := errInfo["details"].(map[string]any)
	require.Equal(t, "high", details["tier"])
	require.NotEmpty(t, details["unmet"])

	// policyOverride without the env opt-in is still blocked.
	resp, _ = postJSON(t, server.URL+"/api/v1/commands/execute", map[string]any{
		"orchestrationId": orchID,
		"commandId":       "security-vuln-repro",
		"payload":         map[string]any{"task": "reproduce the CVE", "policyOverride": true},
	}, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	// All fields present: accepted.
	resp, body = postJSON(t, server.URL+"/api/v1/commands/execute", map[string]any{
		"orchestrationId": orchID,
		"commandId":       "security-vuln-repro",
		"payload": map[string]any{
			"task":                  "reproduce the CVE",
			"policyAck":             true,
			"policyReason":          "confirm repro before patching",
			"policyApprovedBy":      "sec-lead",
			"rollbackPlan":          "discard the worktree branch",
			"policyAuthorizedScope": "staging-only",
		},
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, _ := body["data"].(map[string]any)
	policy, _ := data["policy"].(map[string]any)
	require.Equal(t, "high", policy["tier"])
}

// E2E-6 and invariant 8: idempotency replay surviving a restart.
func TestIdempotencyAcrossRestart(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(api.NewRouter(env.deps))
	defer server.Close()

	orch := createOrchestration(t, server.URL, "auto", true)
	orchID := orch["id"].(string)

	execute := func(srvURL string) (int, map[string]any) {
		resp, body := postJSON(t, srvURL+"/api/v1/commands/execute", map[string]any{
			"orchestrationId": orchID,
			"commandId":       "diag-evidence",
			"payload":         map[string]any{"task": "collect logs"},
		}, map[string]string{"Idempotency-Key": "k1"})
		data, _ := body["data"].(map[string]any)
		return resp.StatusCode, data
	}

	status, data := execute(server.URL)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, false, data["replayed"])

	// A fresh gate over the same store stands in for a restart.
	restartDeps := env.deps
	restartDeps.Gate = command.NewGate(env.store, &gateRunner{engine: env.engine})
	server2 := httptest.NewServer(api.NewRouter(restartDeps))
	defer server2.Close()

	status, data = execute(server2.URL)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, true, data["replayed"])
}

// Invariant 11: session delete safety.
func TestSessionDeleteSafety(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(api.NewRouter(env.deps))
	defer server.Close()

	resp, body := postJSON(t, server.URL+"/api/v1/sessions", map[string]any{
		"tool": "opencode", "profileId": "default", "cwd": t.TempDir(),
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	data, _ := body["data"].(map[string]any)
	sid := data["id"].(string)

	// Running: refused.
	req, _ := http.NewRequest(http.MethodDelete, server.URL+"/api/v1/sessions/"+sid, nil)
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp2.Body.Close()
	require.Equal(t, http.StatusConflict, resp2.StatusCode)

	// Stop it, then delete.
	require.NoError(t, env.sessions.Kill(sid))
	require.Eventually(t, func() bool {
		st, err := env.sessions.Status(sid)
		return err == nil && !st.Running
	}, 5*time.Second, 20*time.Millisecond)

	req, _ = http.NewRequest(http.MethodDelete, server.URL+"/api/v1/sessions/"+sid, nil)
	resp3, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp3.Body.Close()
	require.Equal(t, http.StatusOK, resp3.StatusCode)

	// Gone from the list.
	resp4, err := http.Get(server.URL + "/api/v1/sessions")
	require.NoError(t, err)
	listBody, _ := io.ReadAll(resp4.Body)
	resp4.Body.Close()
	require.NotContains(t, string(listBody), sid)
}

// Invariant 10: concurrent cleanups — one wins, one 409s.
func TestCleanupLockOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(api.NewRouter(env.deps))
	defer server.Close()

	orch := createOrchestration(t, server.URL, "auto", true)
	orchID := orch["id"].(string)

	type result struct{ status int }
	results := make(chan result, 2)
	for i := 0; i < 2; i++ {
		go func() {
			resp, _ := postJSON(t, server.URL+"/api/v1/orchestrations/"+orchID+"/cleanup",
				map[string]any{"stopSessions": true}, nil)
			results <- result{status: resp.StatusCode}
		}()
	}

	statuses := []int{(<-results).status, (<-results).status}
	require.ElementsMatch(t, []int{http.StatusOK, http.StatusConflict}, statuses)
}
