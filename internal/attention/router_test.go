// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package attention

import (
	"sync"
	"testing"

	"github.com/orchd/orchd/internal/apperr"
	"github.com/orchd/orchd/internal/store"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu     sync.Mutex
	writes map[string][]string
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{writes: make(map[string][]string)}
}

func (w *fakeWriter) Write(id string, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes[id] = append(w.writes[id], string(data))
	return nil
}

func newTestRouter(t *testing.T) (*Router, *fakeWriter) {
	t.Helper()
	st, err := store.Open(t.TempDir(), "test.db")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	w := newFakeWriter()
	return NewRouter(st, w, nil), w
}

func permissionRequest(sessionID, sig string) CreateRequest {
	return CreateRequest{
		SessionID: sessionID,
		Kind:      "claude.permission",
		Severity:  "warn",
		Title:     "Allow network access?",
		Body:      "claude wants to run curl",
		Signature: sig,
		Options: []Option{
			{ID: "y", Label: "Allow", Send: "y\r"},
			{ID: "n", Label: "Deny", Send: "n\r"},
		},
	}
}

func TestCreateAndDuplicateTouch(t *testing.T) {
	r, _ := newTestRouter(t)

	res, err := r.Create(permissionRequest("sess-1", "sig-a"))
	require.NoError(t, err)
	require.True(t, res.OK)

	dup := permissionRequest("sess-1", "sig-a")
	dup.Title = "Allow network access? (retry)"
	res2, err := r.Create(dup)
	require.NoError(t, err)
	require.False(t, res2.OK)
	require.Equal(t, "duplicate", res2.Reason)
	require.Equal(t, res.ID, res2.ExistingID)

	item, err := r.Get(res.ID)
	require.NoError(t, err)
	require.Equal(t, "Allow network access? (retry)", item.Title)
	require.Equal(t, store.AttentionStatusOpen, item.Status)

	items, err := r.List(store.AttentionFilter{SessionID: "sess-1"})
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestRespondWritesOptionAndResolves(t *testing.T) {
	r, w := newTestRouter(t)

	res, err := r.Create(permissionRequest("sess-1", "sig-a"))
	require.NoError(t, err)

	item, err := r.Respond(res.ID, "y", "user")
	require.NoError(t, err)
	require.Equal(t, store.AttentionStatusResolved, item.Status)
	require.Equal(t, []string{"y\r"}, w.writes["sess-1"])

	// Responding again is a stale answer.
	_, err = r.Respond(res.ID, "y", "user")
	coded, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.CodeDuplicate, coded.Code)

	// A new create with the same signature is allowed once resolved.
	res2, err := r.Create(permissionRequest("sess-1", "sig-a"))
	require.NoError(t, err)
	require.True(t, res2.OK)
	require.NotEqual(t, res.ID, res2.ID)
}

func TestRespondUnknownOption(t *testing.T) {
	r, _ := newTestRouter(t)
	res, err := r.Create(permissionRequest("sess-1", "sig-a"))
	require.NoError(t, err)

	_, err = r.Respond(res.ID, "maybe", "user")
	coded, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.CodeBadInput, coded.Code)
}

func TestDismissAndTimeout(t *testing.T) {
	r, w := newTestRouter(t)

	res, err := r.Create(permissionRequest("sess-1", "sig-a"))
	require.NoError(t, err)
	require.NoError(t, r.Dismiss(res.ID, "user"))
	item, err := r.Get(res.ID)
	require.NoError(t, err)
	require.Equal(t, store.AttentionStatusDismissed, item.Status)
	require.Empty(t, w.writes["sess-1"], "dismiss never writes to the PTY")

	res2, err := r.Create(permissionRequest("sess-1", "sig-b"))
	require.NoError(t, err)
	require.NoError(t, r.Timeout(res2.ID))
	item, err = r.Get(res2.ID)
	require.NoError(t, err)
	require.Equal(t, store.AttentionStatusDismissed, item.Status)

	// Timing out an already-resolved item is a no-op.
	res3, err := r.Create(permissionRequest("sess-1", "sig-c"))
	require.NoError(t, err)
	_, err = r.Respond(res3.ID, "n", "user")
	require.NoError(t, err)
	require.NoError(t, r.Timeout(res3.ID))
	item, err = r.Get(res3.ID)
	require.NoError(t, err)
	require.Equal(t, store.AttentionStatusResolved, item.Status)
}

func TestMarkSentKeepsItemAnswerable(t *testing.T) {
	r, w := newTestRouter(t)
	res, err := r.Create(permissionRequest("sess-1", "sig-a"))
	require.NoError(t, err)

	require.NoError(t, r.MarkSent(res.ID))
	item, err := r.Get(res.ID)
	require.NoError(t, err)
	require.Equal(t, store.AttentionStatusSent, item.Status)

	// Sent items still dedupe new creates with the same signature.
	res2, err := r.Create(permissionRequest("sess-1", "sig-a"))
	require.NoError(t, err)
	require.False(t, res2.OK)

	// And they remain answerable.
	_, err = r.Respond(res.ID, "y", "orchestrator")
	require.NoError(t, err)
	require.Equal(t, []string{"y\r"}, w.writes["sess-1"])
}

func TestCountsAndCreatedObserver(t *testing.T) {
	r, _ := newTestRouter(t)

	var observed []int64
	r.OnCreated(func(item store.AttentionItem) {
		observed = append(observed, item.ID)
	})

	res1, err := r.Create(permissionRequest("sess-1", "sig-a"))
	require.NoError(t, err)
	_, err = r.Create(permissionRequest("sess-2", "sig-b"))
	require.NoError(t, err)

	// Touch does not re-observe.
	_, err = r.Create(permissionRequest("sess-1", "sig-a"))
	require.NoError(t, err)
	require.Len(t, observed, 2)
	require.Equal(t, res1.ID, observed[0])

	counts, err := r.Counts()
	require.NoError(t, err)
	require.Equal(t, 1, counts["sess-1"])
	require.Equal(t, 1, counts["sess-2"])
}
