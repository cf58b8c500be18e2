// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orchd/orchd/internal/apperr"
	"github.com/orchd/orchd/internal/events"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	bus := events.NewMemoryEventBus(events.MemoryBusConfig{})
	t.Cleanup(func() { bus.Close() })
	return NewManager(bus)
}

func TestCreateRejectsDuplicateID(t *testing.T) {
	m := newTestManager(t)
	id, err := m.Create(CreateOptions{ID: "sess-1", Tool: ToolOpenCode, Command: []string{"cat"}, Cwd: t.TempDir()})
	require.NoError(t, err)
	defer m.Forget(id)

	_, err = m.Create(CreateOptions{ID: "sess-1", Tool: ToolOpenCode, Command: []string{"cat"}, Cwd: t.TempDir()})
	coded, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.CodeSessionAlreadyExists, coded.Code)
}

func TestWriteAndOutputRoundTrip(t *testing.T) {
	m := newTestManager(t)
	id, err := m.Create(CreateOptions{Tool: ToolOpenCode, Command: []string{"cat"}, Cwd: t.TempDir()})
	require.NoError(t, err)
	defer m.Forget(id)

	received := make(chan []byte, 4)
	_, err = m.OnOutput(id, func(_ string, data []byte) {
		received <- data
	})
	require.NoError(t, err)

	require.NoError(t, m.Write(id, []byte("hello\n")))

	select {
	case data := <-received:
		require.Contains(t, string(data), "hello")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for output")
	}
}

func TestExitFiresExactlyOnce(t *testing.T) {
	m := newTestManager(t)
	id, err := m.Create(CreateOptions{Tool: ToolOpenCode, Command: []string{"sh", "-c", "exit 3"}, Cwd: t.TempDir()})
	require.NoError(t, err)

	count := 0
	statusCh := make(chan Status, 1)
	_, err = m.OnExit(id, func(_ string, st Status) {
		count++
		statusCh <- st
	})
	require.NoError(t, err)

	select {
	case st := <-statusCh:
		require.False(t, st.Running)
		require.Equal(t, 1, count)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for exit")
	}
}

func TestUnknownSessionErrors(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Status("does-not-exist")
	coded, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.CodeUnknownSession, coded.Code)
}

func TestCodexWritePacesCarriageReturn(t *testing.T) {
	m := newTestManager(t)
	id, err := m.Create(CreateOptions{Tool: ToolCodex, Command: []string{"cat"}, Cwd: t.TempDir()})
	require.NoError(t, err)
	defer m.Forget(id)

	received := make(chan []byte, 8)
	_, err = m.OnOutput(id, func(_ string, data []byte) {
		received <- data
	})
	require.NoError(t, err)

	require.NoError(t, m.Write(id, []byte("task\r\n")))

	var all []byte
	deadline := time.After(2 * time.Second)
	for len(all) < 6 {
		select {
		case data := <-received:
			all = append(all, data...)
		case <-deadline:
			t.Fatalf("timed out, got %q", all)
		}
	}
	require.Contains(t, string(all), "task")
}

func TestDisposeKillsAllSessions(t *testing.T) {
	m := newTestManager(t)
	id, err := m.Create(CreateOptions{Tool: ToolOpenCode, Command: []string{"sleep", "30"}, Cwd: t.TempDir()})
	require.NoError(t, err)

	exited := make(chan struct{}, 1)
	_, err = m.OnExit(id, func(_ string, _ Status) { close(exited) })
	require.NoError(t, err)

	m.Dispose()

	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for disposed session to exit")
	}
}
