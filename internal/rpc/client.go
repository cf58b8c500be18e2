// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/orchd/orchd/internal/apperr"
)

const wsAdvertPrefix = "listening on: "

// Client supervises one app-server subprocess: spawn, initialize
// handshake, pending-call table, and restart with exponential backoff.
// All methods are safe for concurrent use.
type Client struct {
	cfg            Config
	onRequest      RequestHandler
	onNotification NotificationHandler

	mu             sync.Mutex
	cmd            *exec.Cmd
	tr             transport
	ready          bool
	stopped        bool
	attempt        int
	gen            int
	nextID         int64
	pending        map[int64]*pendingCall
	reconnectTimer *time.Timer
}

type pendingCall struct {
	method string
	ch     chan callResult
	timer  *time.Timer
}

type callResult struct {
	result json.RawMessage
	err    error
}

// NewClient creates a client; nothing is spawned until EnsureStarted.
// Handlers may be nil, in which case server requests are answered with
// a method-not-found error and notifications are dropped.
func NewClient(cfg Config, onRequest RequestHandler, onNotification NotificationHandler) *Client {
	return &Client{
		cfg:            cfg.withDefaults(),
		onRequest:      onRequest,
		onNotification: onNotification,
		pending:        make(map[int64]*pendingCall),
	}
}

// EnsureStarted spawns the subprocess if it is not already running and
// completes the initialize handshake. Safe to call repeatedly.
func (c *Client) EnsureStarted(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return apperr.New(apperr.CodeAppServerStopped, "client stopped")
	}
	if c.ready {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.start(ctx)
}

func (c *Client) start(ctx context.Context) error {
	if len(c.cfg.Command) == 0 {
		return apperr.New(apperr.CodeBadInput, "app-server command is empty")
	}

	cmd := exec.Command(c.cfg.Command[0], c.cfg.Command[1:]...)
	cmd.Dir = c.cfg.Dir
	cmd.Env = c.cfg.Env

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("rpc: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("rpc: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("rpc: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return apperr.Wrap(apperr.CodeAppServerStartTimeout, err)
	}

	wsURLCh := make(chan string, 1)
	go scanStderr(stderr, wsURLCh)

	var tr transport
	if c.cfg.UseWebSocket {
		select {
		case rawURL := <-wsURLCh:
			tr, err = dialWS(rawURL, c.cfg.WSDialTimeout)
			if err != nil {
				cmd.Process.Kill()
				return apperr.Wrap(apperr.CodeAppServerWSTimeout, err)
			}
		case <-time.After(c.cfg.WSDialTimeout):
			cmd.Process.Kill()
			return apperr.New(apperr.CodeAppServerWSTimeout, "no ws url advertised on stderr")
		case <-ctx.Done():
			cmd.Process.Kill()
			return ctx.Err()
		}
	} else {
		tr = newStdioTransport(stdout, stdin, c.cfg.MaxMessageBytes)
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		tr.Close()
		cmd.Process.Kill()
		return apperr.New(apperr.CodeAppServerStopped, "client stopped")
	}
	c.cmd = cmd
	c.tr = tr
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	go c.readLoop(tr, gen)
	go c.waitLoop(cmd, gen)

	initCtx, cancel := context.WithTimeout(ctx, c.cfg.StartTimeout)
	defer cancel()
	params := initializeParams{
		ClientInfo:   clientInfo{Name: "orchd", Version: "1"},
		Capabilities: map[string]any{"experimentalApi": true},
	}
	if _, err := c.call(initCtx, "initialize", params, tr); err != nil {
		c.disconnect(gen, fmt.Sprintf("initialize failed: %v", err))
		return apperr.Wrap(apperr.CodeAppServerStartTimeout, err)
	}
	if err := c.notify("initialized", nil, tr); err != nil {
		c.disconnect(gen, fmt.Sprintf("initialized notify failed: %v", err))
		return apperr.Wrap(apperr.CodeAppServerStartTimeout, err)
	}

	c.mu.Lock()
	c.ready = true
	c.attempt = 0
	c.mu.Unlock()
	return nil
}

func scanStderr(r interface{ Read([]byte) (int, error) }, wsURLCh chan<- string) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 256*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if idx := strings.Index(line, wsAdvertPrefix); idx >= 0 {
			u := strings.TrimSpace(line[idx+len(wsAdvertPrefix):])
			if strings.HasPrefix(u, "ws://") || strings.HasPrefix(u, "wss://") {
				select {
				case wsURLCh <- u:
				default:
				}
			}
		}
	}
}

// Call issues a JSON-RPC request and waits for the matching response,
// the per-call timeout, or ctx cancellation.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil, apperr.New(apperr.CodeAppServerStopped, method)
	}
	if !c.ready || c.tr == nil {
		c.mu.Unlock()
		return nil, apperr.New(apperr.CodeAppServerNotReady, method)
	}
	tr := c.tr
	c.mu.Unlock()
	return c.call(ctx, method, params, tr)
}

func (c *Client) call(ctx context.Context, method string, params any, tr transport) (json.RawMessage, error) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	pc := &pendingCall{method: method, ch: make(chan callResult, 1)}
	pc.timer = time.AfterFunc(c.cfg.CallTimeout, func() {
		c.reject(id, apperr.New("codex_app_server_timeout:"+method, "call timed out"))
	})
	c.pending[id] = pc
	c.mu.Unlock()

	frame := Frame{JSONRPC: "2.0", ID: &id, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			c.dropPending(id)
			return nil, fmt.Errorf("rpc: marshal %s params: %w", method, err)
		}
		frame.Params = raw
	}
	data, err := json.Marshal(frame)
	if err != nil {
		c.dropPending(id)
		return nil, fmt.Errorf("rpc: marshal %s: %w", method, err)
	}
	if err := tr.WriteMessage(data); err != nil {
		c.dropPending(id)
		return nil, fmt.Errorf("rpc: write %s: %w", method, err)
	}

	select {
	case res := <-pc.ch:
		return res.result, res.err
	case <-ctx.Done():
		c.dropPending(id)
		return nil, ctx.Err()
	}
}

// Notify sends a JSON-RPC notification (no response expected).
func (c *Client) Notify(method string, params any) error {
	c.mu.Lock()
	tr := c.tr
	ready := c.ready
	c.mu.Unlock()
	if !ready || tr == nil {
		return apperr.New(apperr.CodeAppServerNotReady, method)
	}
	return c.notify(method, params, tr)
}

func (c *Client) notify(method string, params any, tr transport) error {
	frame := Frame{JSONRPC: "2.0", Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("rpc: marshal %s params: %w", method, err)
		}
		frame.Params = raw
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("rpc: marshal %s: %w", method, err)
	}
	return tr.WriteMessage(data)
}

// Respond answers a server→client request by id.
func (c *Client) Respond(id int64, result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("rpc: marshal response %d: %w", id, err)
	}
	return c.writeFrame(Frame{JSONRPC: "2.0", ID: &id, Result: raw})
}

// RespondError answers a server→client request with an error.
func (c *Client) RespondError(id int64, code int, message string) error {
	return c.writeFrame(Frame{JSONRPC: "2.0", ID: &id, Error: &FrameError{Code: code, Message: message}})
}

func (c *Client) writeFrame(f Frame) error {
	c.mu.Lock()
	tr := c.tr
	c.mu.Unlock()
	if tr == nil {
		return apperr.New(apperr.CodeAppServerNotReady, "no transport")
	}
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("rpc: marshal frame: %w", err)
	}
	return tr.WriteMessage(data)
}

// Stop is terminal: pending calls are rejected with
// codex_app_server_stopped, the subprocess is killed, and no reconnect
// is attempted.
func (c *Client) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.ready = false
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	tr := c.tr
	cmd := c.cmd
	c.tr = nil
	c.cmd = nil
	pending := c.pending
	c.pending = make(map[int64]*pendingCall)
	c.mu.Unlock()

	for _, pc := range pending {
		pc.timer.Stop()
		pc.ch <- callResult{err: apperr.New(apperr.CodeAppServerStopped, pc.method)}
	}
	if tr != nil {
		tr.Close()
	}
	if cmd != nil && cmd.Process != nil {
		cmd.Process.Kill()
	}
}

func (c *Client) readLoop(tr transport, gen int) {
	for {
		data, err := tr.ReadMessage()
		if err != nil {
			c.disconnect(gen, fmt.Sprintf("read: %v", err))
			return
		}
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			// non-JSON stdout noise; discard
			continue
		}
		c.dispatch(frame)
	}
}

func (c *Client) dispatch(frame Frame) {
	switch {
	case frame.ID != nil && frame.Method == "":
		// response
		c.mu.Lock()
		pc, ok := c.pending[*frame.ID]
		if ok {
			delete(c.pending, *frame.ID)
		}
		c.mu.Unlock()
		if !ok {
			return
		}
		pc.timer.Stop()
		if frame.Error != nil {
			pc.ch <- callResult{err: fmt.Errorf("rpc: %s: %d %s", pc.method, frame.Error.Code, frame.Error.Message)}
			return
		}
		pc.ch <- callResult{result: frame.Result}

	case frame.ID != nil:
		// server→client request
		if c.onRequest == nil {
			c.RespondError(*frame.ID, -32601, "method not found: "+frame.Method)
			return
		}
		c.onRequest(ServerRequest{ID: *frame.ID, Method: frame.Method, Params: frame.Params})

	case frame.Method != "":
		if c.onNotification != nil {
			c.onNotification(Notification{Method: frame.Method, Params: frame.Params})
		}
	}
}

func (c *Client) waitLoop(cmd *exec.Cmd, gen int) {
	_ = cmd.Wait()
	code := -1
	sig := ""
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
		if ws, ok := cmd.ProcessState.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			sig = ws.Signal().String()
		}
	}
	c.disconnectCode(gen, fmt.Sprintf("codex_app_server_exit:%d:%s", code, sig))
}

// disconnect tears down the generation's transport, rejects pending
// calls with codex_app_server_disconnected:<reason>, and schedules a
// reconnect unless the client is stopped.
func (c *Client) disconnect(gen int, reason string) {
	c.disconnectCode(gen, "codex_app_server_disconnected:"+reason)
}

// disconnectCode is disconnect with the full rejection code supplied
// (process exits carry codex_app_server_exit:<code>:<sig> instead).
func (c *Client) disconnectCode(gen int, code string) {
	c.mu.Lock()
	if gen != c.gen || c.stopped {
		c.mu.Unlock()
		return
	}
	c.gen++ // invalidate the other loop on this generation
	c.ready = false
	tr := c.tr
	cmd := c.cmd
	c.tr = nil
	c.cmd = nil
	pending := c.pending
	c.pending = make(map[int64]*pendingCall)
	attempt := c.attempt
	c.attempt++
	c.mu.Unlock()

	for _, pc := range pending {
		pc.timer.Stop()
		pc.ch <- callResult{err: apperr.New(code, pc.method)}
	}
	if tr != nil {
		tr.Close()
	}
	if cmd != nil && cmd.Process != nil {
		cmd.Process.Kill()
	}

	delay := backoffDelay(attempt)
	log.Printf("[rpc] app-server disconnected (%s), reconnecting in %s", code, delay)

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		stopped := c.stopped
		c.mu.Unlock()
		if stopped {
			return
		}
		if err := c.start(context.Background()); err != nil {
			log.Printf("[rpc] app-server restart failed: %v", err)
		}
	})
	c.mu.Unlock()
}

func (c *Client) reject(id int64, err error) {
	c.mu.Lock()
	pc, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if ok {
		pc.ch <- callResult{err: err}
	}
}

func (c *Client) dropPending(id int64) {
	c.mu.Lock()
	pc, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if ok {
		pc.timer.Stop()
	}
}

// backoffDelay is min(6000, floor(250*1.7^min(9,attempt) + jitter)) ms,
// with jitter in [0, 140).
func backoffDelay(attempt int) time.Duration {
	if attempt > 9 {
		attempt = 9
	}
	ms := 250 * math.Pow(1.7, float64(attempt))
	ms += float64(rand.Intn(140))
	if ms > 6000 {
		ms = 6000
	}
	return time.Duration(math.Floor(ms)) * time.Millisecond
}
