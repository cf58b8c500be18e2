// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/creack/pty"
	"github.com/google/uuid"

	"github.com/orchd/orchd/internal/apperr"
	"github.com/orchd/orchd/internal/events"
)

// Manager supervises a set of PTY-backed sessions keyed by id.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*session
	bus      events.EventBus
}

// NewManager creates an empty session manager.
func NewManager(bus events.EventBus) *Manager {
	return &Manager{
		sessions: make(map[string]*session),
		bus:      bus,
	}
}

// Create spawns a PTY for opts and registers it under opts.ID (or a
// freshly generated id). Fails with CodeSessionAlreadyExists if the id
// is already taken.
func (m *Manager) Create(opts CreateOptions) (string, error) {
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}

	m.mu.Lock()
	if _, exists := m.sessions[id]; exists {
		m.mu.Unlock()
		return "", apperr.New(apperr.CodeSessionAlreadyExists, id)
	}
	m.mu.Unlock()

	if len(opts.Command) == 0 {
		return "", apperr.New(apperr.CodeBadInput, "profile has no command")
	}

	env := mergeEnv(opts)

	cmd := exec.Command(opts.Command[0], append(opts.Command[1:], opts.ExtraArgs...)...)
	cmd.Dir = opts.Cwd
	cmd.Env = env

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: ptyCols, Rows: ptyRows})
	if err != nil {
		return "", apperr.Wrap(apperr.CodeBadInput, fmt.Errorf("spawn %s: %w", opts.Tool, err))
	}

	sess := &session{
		id:              id,
		tool:            opts.Tool,
		profileID:       opts.ProfileID,
		cwd:             opts.Cwd,
		cmd:             cmd,
		ptmx:            ptmx,
		running:         true,
		outputListeners: make(map[int]OutputFunc),
		exitListeners:   make(map[int]ExitFunc),
	}
	if opts.Tool == ToolCodex {
		sess.codexQueue = newCodexWriteQueue(sess.rawWrite)
	}

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()

	go m.readLoop(sess)
	go m.waitLoop(sess)

	m.publish(events.KindSessionCreated, id, map[string]interface{}{
		"tool":      opts.Tool,
		"profileId": opts.ProfileID,
		"cwd":       opts.Cwd,
	})

	return id, nil
}

// mergeEnv computes process env ∪ profile env ∪ {TERM}, then applies
// per-tool scrubbing.
func mergeEnv(opts CreateOptions) []string {
	merged := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := splitEnv(kv); ok {
			merged[k] = v
		}
	}
	for k, v := range opts.Env {
		merged[k] = v
	}
	merged["TERM"] = ptyTerm

	switch opts.Tool {
	case ToolCodex:
		for _, k := range codexScrubbedEnv {
			delete(merged, k)
		}
	case ToolClaude:
		if opts.ClaudeAuthMode == "subscription" {
			delete(merged, "ANTHROPIC_API_KEY")
		}
	}

	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	return out
}

func splitEnv(kv string) (key, val string, ok bool) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:], true
		}
	}
	return "", "", false
}

func (m *Manager) get(id string) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, apperr.New(apperr.CodeUnknownSession, id)
	}
	return s, nil
}

// Write sends data to the session's PTY. For codex, writes are
// serialized through a per-session pacing queue; other tools pass
// through directly. Errors are swallowed per session semantics.
func (m *Manager) Write(id string, data []byte) error {
	s, err := m.get(id)
	if err != nil {
		return err
	}
	if s.codexQueue != nil {
		s.codexQueue.enqueue(data)
		return nil
	}
	s.rawWrite(data)
	return nil
}

// Resize sets the PTY window size.
func (m *Manager) Resize(id string, cols, rows int) error {
	s, err := m.get(id)
	if err != nil {
		return err
	}
	s.resize(cols, rows)
	return nil
}

// OnOutput registers a listener invoked on every raw PTY output chunk.
func (m *Manager) OnOutput(id string, fn OutputFunc) (Unsubscribe, error) {
	s, err := m.get(id)
	if err != nil {
		return nil, err
	}
	return s.addOutputListener(fn), nil
}

// OnExit registers a listener invoked exactly once when the session's
// process terminates.
func (m *Manager) OnExit(id string, fn ExitFunc) (Unsubscribe, error) {
	s, err := m.get(id)
	if err != nil {
		return nil, err
	}
	return s.addExitListener(fn), nil
}

// Interrupt writes Ctrl-C and follows up with SIGINT if the process is
// still alive after a short grace period.
func (m *Manager) Interrupt(id string) error {
	s, err := m.get(id)
	if err != nil {
		return err
	}
	s.interrupt()
	m.publish(events.KindInterrupt, id, nil)
	return nil
}

// Stop is an alias for Interrupt.
func (m *Manager) Stop(id string) error {
	if err := m.Interrupt(id); err != nil {
		return err
	}
	m.publish(events.KindStop, id, nil)
	return nil
}

// Kill sends SIGKILL to the session's process, if any. Non-fatal on error.
func (m *Manager) Kill(id string) error {
	s, err := m.get(id)
	if err != nil {
		return err
	}
	s.kill()
	m.publish(events.KindKill, id, nil)
	return nil
}

// Forget clears listeners, kills the PTY, and removes the session from
// the manager. Used by delete flows.
func (m *Manager) Forget(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	s.mu.Lock()
	clear(s.outputListeners)
	clear(s.exitListeners)
	s.mu.Unlock()
	s.close()
}

// Dispose kills every session and clears the manager.
func (m *Manager) Dispose() {
	m.mu.Lock()
	all := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = make(map[string]*session)
	m.mu.Unlock()

	for _, s := range all {
		s.close()
	}
}

// Status returns the live status of a session.
func (m *Manager) Status(id string) (Status, error) {
	s, err := m.get(id)
	if err != nil {
		return Status{}, err
	}
	return s.status(), nil
}

// List returns the status of every supervised session.
func (m *Manager) List() []Status {
	m.mu.Lock()
	all := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()

	out := make([]Status, 0, len(all))
	for _, s := range all {
		out = append(out, s.status())
	}
	return out
}

func (m *Manager) readLoop(s *session) {
	buf := make([]byte, 32*1024)
	r := bufio.NewReaderSize(s.ptmx, len(buf))
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.emitOutput(chunk)
		}
		if err != nil {
			return
		}
	}
}

func (m *Manager) waitLoop(s *session) {
	s.cmd.Wait()

	s.mu.Lock()
	s.running = false
	exitCode := s.cmd.ProcessState.ExitCode()
	s.exitCode = &exitCode
	if ws, ok := s.cmd.ProcessState.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		s.signal = ws.Signal().String()
	}
	s.mu.Unlock()

	s.emitExit()

	st := s.status()
	m.publish(events.KindSessionExit, s.id, map[string]interface{}{
		"running":  st.Running,
		"pid":      st.Pid,
		"exitCode": st.ExitCode,
		"signal":   st.Signal,
	})
}

func (m *Manager) publish(kind, sessionID string, payload map[string]interface{}) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(context.Background(), events.Event{
		Kind:      kind,
		SessionID: sessionID,
		Payload:   payload,
	})
}
