// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/orchd/orchd/internal/apperr"
	"github.com/stretchr/testify/require"
)

// chanTransport is an in-memory transport for exercising the client's
// dispatch machinery without a real subprocess.
type chanTransport struct {
	mu     sync.Mutex
	in     chan []byte
	out    [][]byte
	closed chan struct{}
}

func newChanTransport() *chanTransport {
	return &chanTransport{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (t *chanTransport) WriteMessage(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	t.out = append(t.out, cp)
	return nil
}

func (t *chanTransport) ReadMessage() ([]byte, error) {
	select {
	case data := <-t.in:
		return data, nil
	case <-t.closed:
		return nil, context.Canceled
	}
}

func (t *chanTransport) Close() error {
	select {
	case <-t.closed:
	default:
		close(t.closed)
	}
	return nil
}

func (t *chanTransport) written() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]byte(nil), t.out...)
}

// attach wires a ready transport into the client and starts its read
// loop, standing in for a completed start().
func attach(c *Client, tr transport) {
	c.mu.Lock()
	c.tr = tr
	c.ready = true
	c.gen++
	gen := c.gen
	c.mu.Unlock()
	go c.readLoop(tr, gen)
}

func TestCallRoundTrip(t *testing.T) {
	tr := newChanTransport()
	c := NewClient(Config{Command: []string{"unused"}}, nil, nil)
	attach(c, tr)
	defer c.Stop()

	done := make(chan struct{})
	var result json.RawMessage
	var callErr error
	go func() {
		result, callErr = c.Call(context.Background(), "thread/start", map[string]any{"cwd": "/repo"})
		close(done)
	}()

	// Wait for the request frame, then answer it.
	var req Frame
	require.Eventually(t, func() bool {
		frames := tr.written()
		if len(frames) == 0 {
			return false
		}
		require.NoError(t, json.Unmarshal(frames[0], &req))
		return req.ID != nil
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, "thread/start", req.Method)

	resp, _ := json.Marshal(Frame{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`{"threadId":"t-1"}`)})
	tr.in <- resp

	<-done
	require.NoError(t, callErr)
	require.JSONEq(t, `{"threadId":"t-1"}`, string(result))
}

func TestCallTimeoutSurfacesMethod(t *testing.T) {
	tr := newChanTransport()
	c := NewClient(Config{Command: []string{"unused"}, CallTimeout: 30 * time.Millisecond}, nil, nil)
	attach(c, tr)
	defer c.Stop()

	_, err := c.Call(context.Background(), "thread/resume", nil)
	coded, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, "codex_app_server_timeout:thread/resume", coded.Code)
}

func TestServerRequestDispatch(t *testing.T) {
	tr := newChanTransport()
	reqCh := make(chan ServerRequest, 1)
	c := NewClient(Config{Command: []string{"unused"}}, func(req ServerRequest) {
		reqCh <- req
	}, nil)
	attach(c, tr)
	defer c.Stop()

	id := int64(42)
	frame, _ := json.Marshal(Frame{JSONRPC: "2.0", ID: &id, Method: "execApproval", Params: json.RawMessage(`{"command":"rm -rf"}`)})
	tr.in <- frame

	select {
	case req := <-reqCh:
		require.Equal(t, int64(42), req.ID)
		require.Equal(t, "execApproval", req.Method)
		require.NoError(t, c.Respond(req.ID, map[string]any{"decision": "approved"}))
	case <-time.After(time.Second):
		t.Fatal("server request not dispatched")
	}

	require.Eventually(t, func() bool {
		for _, data := range tr.written() {
			var f Frame
			if json.Unmarshal(data, &f) == nil && f.ID != nil && *f.ID == 42 && f.Result != nil {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestNotificationDispatch(t *testing.T) {
	tr := newChanTransport()
	noteCh := make(chan Notification, 1)
	c := NewClient(Config{Command: []string{"unused"}}, nil, func(n Notification) {
		noteCh <- n
	})
	attach(c, tr)
	defer c.Stop()

	frame, _ := json.Marshal(Frame{JSONRPC: "2.0", Method: "thread/event", Params: json.RawMessage(`{"kind":"delta"}`)})
	tr.in <- frame

	select {
	case n := <-noteCh:
		require.Equal(t, "thread/event", n.Method)
	case <-time.After(time.Second):
		t.Fatal("notification not dispatched")
	}
}

func TestNonJSONLinesAreDiscarded(t *testing.T) {
	tr := newChanTransport()
	noteCh := make(chan Notification, 1)
	c := NewClient(Config{Command: []string{"unused"}}, nil, func(n Notification) {
		noteCh <- n
	})
	attach(c, tr)
	defer c.Stop()

	tr.in <- []byte("warning: something scrolled by")
	frame, _ := json.Marshal(Frame{JSONRPC: "2.0", Method: "ok"})
	tr.in <- frame

	select {
	case n := <-noteCh:
		require.Equal(t, "ok", n.Method)
	case <-time.After(time.Second):
		t.Fatal("valid frame after junk was not dispatched")
	}
}

func TestStopRejectsPending(t *testing.T) {
	tr := newChanTransport()
	c := NewClient(Config{Command: []string{"unused"}}, nil, nil)
	attach(c, tr)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), "thread/start", nil)
		errCh <- err
	}()

	require.Eventually(t, func() bool { return len(tr.written()) > 0 }, time.Second, 5*time.Millisecond)
	c.Stop()

	err := <-errCh
	coded, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.CodeAppServerStopped, coded.Code)

	// Terminal: further calls fail immediately.
	_, err = c.Call(context.Background(), "anything", nil)
	coded, ok = apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.CodeAppServerStopped, coded.Code)
}

func TestCallBeforeStartNotReady(t *testing.T) {
	c := NewClient(Config{Command: []string{"unused"}}, nil, nil)
	_, err := c.Call(context.Background(), "thread/start", nil)
	coded, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.CodeAppServerNotReady, coded.Code)
}

func TestBackoffDelayBounds(t *testing.T) {
	for attempt := 0; attempt < 30; attempt++ {
		d := backoffDelay(attempt)
		require.GreaterOrEqual(t, d, 250*time.Millisecond)
		require.LessOrEqual(t, d, 6*time.Second)
	}
	// Exponent is clamped, so very large attempts saturate at the cap region.
	require.LessOrEqual(t, backoffDelay(100), 6*time.Second)
}

func TestStdioTransportSkipsOverlongLines(t *testing.T) {
	long := strings.Repeat("x", 300)
	input := long + "\n" + `{"jsonrpc":"2.0","method":"ok"}` + "\n"
	tr := newStdioTransport(strings.NewReader(input), &strings.Builder{}, 128)

	msg, err := tr.ReadMessage()
	require.NoError(t, err)
	require.JSONEq(t, `{"jsonrpc":"2.0","method":"ok"}`, string(msg))
}
