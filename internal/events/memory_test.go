// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus() *MemoryEventBus {
	return NewMemoryEventBus(MemoryBusConfig{HistoryMaxEvents: 1000, HistoryMaxAge: time.Hour})
}

func TestMemoryEventBusPublishSync(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	var received Event
	_, err := bus.Subscribe("session.created", func(ctx context.Context, e Event) error {
		received = e
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), Event{Kind: KindSessionCreated, SessionID: "s1"}))
	assert.Equal(t, "s1", received.SessionID)
	assert.Equal(t, KindSessionCreated, received.Kind)
	assert.NotEmpty(t, received.ID)
}

func TestMemoryEventBusSubscribeAsync(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	var mu sync.Mutex
	var count int
	_, err := bus.SubscribeAsync("orchestration.question.", func(ctx context.Context, e Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	}, 10)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), Event{Kind: "orchestration.question.worker-1"}))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	}, time.Second, 5*time.Millisecond)
}

func TestMemoryEventBusUnsubscribe(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	var calls int
	id, err := bus.Subscribe("input", func(ctx context.Context, e Event) error {
		calls++
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Unsubscribe(id))
	require.NoError(t, bus.Publish(context.Background(), Event{Kind: KindInput}))
	assert.Equal(t, 0, calls)

	assert.ErrorIs(t, bus.Unsubscribe(id), ErrSubscriptionNotFound)
}

func TestMemoryEventBusHistoryFilter(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	ctx := context.Background()
	_ = bus.Publish(ctx, Event{Kind: KindSessionCreated, SessionID: "s1"})
	_ = bus.Publish(ctx, Event{Kind: KindSessionExit, SessionID: "s1"})
	_ = bus.Publish(ctx, Event{Kind: KindSessionCreated, SessionID: "s2"})

	hist, err := bus.History(EventFilter{SessionID: "s1"})
	require.NoError(t, err)
	assert.Len(t, hist, 2)

	hist, err = bus.History(EventFilter{Kinds: []string{KindSessionCreated}})
	require.NoError(t, err)
	assert.Len(t, hist, 2)
}

func TestMemoryEventBusClosedRejectsPublish(t *testing.T) {
	bus := newTestBus()
	require.NoError(t, bus.Close())
	assert.ErrorIs(t, bus.Publish(context.Background(), Event{Kind: KindInput}), ErrBusClosed)
}

func TestMemoryEventBusHandlerPanicDoesNotCrashBus(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	_, err := bus.Subscribe("stop", func(ctx context.Context, e Event) error {
		panic("boom")
	})
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		_ = bus.Publish(context.Background(), Event{Kind: KindStop})
	})
}
