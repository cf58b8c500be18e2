// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"testing"
	"time"

	"github.com/orchd/orchd/internal/apperr"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir, "test.db")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesSchema(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ListSessions()
	require.NoError(t, err)
}

func TestSessionCRUD(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	sess := Session{
		ID: "sess-1", Tool: "codex", ProfileID: "default", Cwd: "/repo",
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreateSession(sess))

	err := s.CreateSession(sess)
	coded, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.CodeSessionAlreadyExists, coded.Code)

	got, err := s.GetSession("sess-1")
	require.NoError(t, err)
	require.Equal(t, "codex", got.Tool)

	label := "renamed"
	require.NoError(t, s.UpdateSessionMeta("sess-1", nil, nil, &label, now.UnixMilli()))
	got, err = s.GetSession("sess-1")
	require.NoError(t, err)
	require.Equal(t, "renamed", got.Label)

	code := 0
	require.NoError(t, s.MarkSessionExited("sess-1", &code, "", now.UnixMilli()))
	got, err = s.GetSession("sess-1")
	require.NoError(t, err)
	require.NotNil(t, got.ExitCode)
	require.Equal(t, 0, *got.ExitCode)

	_, err = s.AppendEvent("sess-1", "session.created", `{}`, now)
	require.NoError(t, err)
	require.NoError(t, s.AppendOutput("sess-1", []byte("hello"), now))

	require.NoError(t, s.DeleteSession("sess-1"))
	_, err = s.GetSession("sess-1")
	coded, ok = apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.CodeUnknownSession, coded.Code)

	events, err := s.SessionEvents("sess-1", 0, 0)
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestEventsAndOutputOrdering(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	require.NoError(t, s.CreateSession(Session{ID: "sess-1", Tool: "claude", ProfileID: "p", Cwd: "/x", CreatedAt: now, UpdatedAt: now}))

	id1, err := s.AppendEvent("sess-1", "input", `{"n":1}`, now)
	require.NoError(t, err)
	_, err = s.AppendEvent("sess-1", "input", `{"n":2}`, now)
	require.NoError(t, err)

	events, err := s.SessionEvents("sess-1", id1, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, `{"n":2}`, events[0].Data)

	require.NoError(t, s.AppendOutput("sess-1", []byte("chunk1"), now))
	require.NoError(t, s.AppendOutput("sess-1", []byte("chunk2"), now))
	chunks, err := s.SessionOutput("sess-1", 0)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	require.Equal(t, []byte("chunk1"), chunks[0].Data)
}

func TestAttentionCoalescing(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	id, err := s.CreateAttentionItem(AttentionItem{
		SessionID: "sess-1", Kind: "claude.permission", Severity: "warn",
		Status: AttentionStatusOpen, Title: "Allow network access?",
		Signature: "sig-a", Options: `[{"id":"allow","label":"Allow","send":"y\r"}]`,
		CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)
	require.Greater(t, id, int64(0))

	found, err := s.FindOpenBySignature("sig-a")
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, id, found.ID)

	missing, err := s.FindOpenBySignature("sig-b")
	require.NoError(t, err)
	require.Nil(t, missing)

	later := now.Add(time.Second)
	require.NoError(t, s.TouchAttentionItem(id, "Allow network access? (again)", "retry", `[]`, later))
	found, err = s.GetAttentionItem(id)
	require.NoError(t, err)
	require.Equal(t, "Allow network access? (again)", found.Title)
	require.Equal(t, AttentionStatusOpen, found.Status)

	require.NoError(t, s.UpdateAttentionStatus(id, AttentionStatusResolved, "respond", "allow", "user", later))
	open, err := s.FindOpenBySignature("sig-a")
	require.NoError(t, err)
	require.Nil(t, open)

	got, err := s.GetAttentionItem(id)
	require.NoError(t, err)
	require.Equal(t, AttentionStatusResolved, got.Status)

	actions, err := s.AttentionActions(id)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	require.Equal(t, "respond", actions[0].Action)

	counts, err := s.OpenAttentionCounts()
	require.NoError(t, err)
	require.Empty(t, counts)

	_, err = s.GetAttentionItem(9999)
	coded, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.CodeUnknownAttentionItem, coded.Code)
}

func TestWorkspacePresetUpsert(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	p := WorkspacePreset{Path: "/repo", Tool: "codex", ProfileID: "default", Overrides: `{}`, UpdatedAt: now}
	require.NoError(t, s.UpsertWorkspacePreset(p))

	got, err := s.GetWorkspacePreset("/repo", "codex")
	require.NoError(t, err)
	require.Equal(t, "default", got.ProfileID)

	p.ProfileID = "other"
	require.NoError(t, s.UpsertWorkspacePreset(p))
	got, err = s.GetWorkspacePreset("/repo", "codex")
	require.NoError(t, err)
	require.Equal(t, "other", got.ProfileID)

	none, err := s.GetWorkspacePreset("/repo", "claude")
	require.NoError(t, err)
	require.Nil(t, none)
}

func TestIdempotencyIsWriteOnce(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	require.NoError(t, s.PutIdempotencyResult("key-1", `{"ok":true}`, now))
	require.NoError(t, s.PutIdempotencyResult("key-1", `{"ok":false}`, now))

	result, ok, err := s.GetIdempotencyResult("key-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `{"ok":true}`, result)

	_, ok, err = s.GetIdempotencyResult("missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestOrchestrationCRUD(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	o := OrchestrationRow{
		ID: "orch-1", Name: "fix the bug", ProjectPath: "/repo",
		Status: "pending", DispatchMode: "auto", State: `{}`,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreateOrchestration(o))

	err := s.CreateOrchestration(o)
	coded, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.CodeDuplicate, coded.Code)

	require.NoError(t, s.SetOrchestratorSession("orch-1", "sess-1", now.UnixMilli()))
	got, err := s.GetOrchestration("orch-1")
	require.NoError(t, err)
	require.Equal(t, "sess-1", got.OrchestratorSessionID)

	require.NoError(t, s.UpdateOrchestrationState("orch-1", "running", `{"phase":"dispatch"}`, now.UnixMilli()))
	got, err = s.GetOrchestration("orch-1")
	require.NoError(t, err)
	require.Equal(t, "running", got.Status)

	list, err := s.ListOrchestrations()
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, s.DeleteOrchestration("orch-1"))
	_, err = s.GetOrchestration("orch-1")
	require.Error(t, err)
}

func TestPairingCodeLifecycle(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	p := PairingCode{Code: "123456", CreatedAt: now, ExpiresAt: now.Add(5 * time.Minute), MaxAttempts: 5}
	require.NoError(t, s.CreatePairingCode(p))

	got, err := s.GetPairingCode("123456")
	require.NoError(t, err)
	require.Equal(t, 0, got.Attempts)

	attempts, err := s.IncrementPairingAttempts("123456")
	require.NoError(t, err)
	require.Equal(t, 1, attempts)

	require.NoError(t, s.ConsumePairingCode("123456", now))
	err = s.ConsumePairingCode("123456", now)
	coded, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.CodeDuplicate, coded.Code)

	_, err = s.GetPairingCode("does-not-exist")
	coded, ok = apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.CodeInvalidCode, coded.Code)
}

func TestAuthTokenLifecycle(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	require.NoError(t, s.CreateAuthToken(AuthToken{Token: "tok-1", CreatedAt: now}))

	got, err := s.GetAuthToken("tok-1")
	require.NoError(t, err)
	require.Nil(t, got.LastUsedAt)

	require.NoError(t, s.TouchAuthToken("tok-1", now))
	got, err = s.GetAuthToken("tok-1")
	require.NoError(t, err)
	require.NotNil(t, got.LastUsedAt)

	require.NoError(t, s.RevokeAuthToken("tok-1"))
	_, err = s.GetAuthToken("tok-1")
	coded, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.CodeUnauthorized, coded.Code)
}

func TestCommandPresetUpsert(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	require.NoError(t, s.UpsertCommandPreset(CommandPreset{Name: "lint", CommandID: "run_lint", Payload: `{}`, CreatedAt: now}))

	got, err := s.GetCommandPreset("lint")
	require.NoError(t, err)
	require.Equal(t, "run_lint", got.CommandID)

	none, err := s.GetCommandPreset("missing")
	require.NoError(t, err)
	require.Nil(t, none)
}
