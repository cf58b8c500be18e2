// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// session holds the live PTY state for one supervised process.
type session struct {
	mu sync.Mutex

	id        string
	tool      string
	profileID string
	cwd       string

	cmd  *exec.Cmd
	ptmx *os.File

	running  bool
	exitCode *int
	signal   string

	outputListeners map[int]OutputFunc
	exitListeners   map[int]ExitFunc
	nextListenerID  int
	exitFired       bool

	codexQueue *codexWriteQueue // nil for non-codex tools
}

func (s *session) status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		ID:        s.id,
		Tool:      s.tool,
		ProfileID: s.profileID,
		Cwd:       s.cwd,
		Running:   s.running,
		ExitCode:  s.exitCode,
		Signal:    s.signal,
	}
	if s.running && s.cmd != nil && s.cmd.Process != nil {
		st.Pid = s.cmd.Process.Pid
	}
	return st
}

func (s *session) pid() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.cmd == nil || s.cmd.Process == nil {
		return 0, false
	}
	return s.cmd.Process.Pid, true
}

func (s *session) addOutputListener(fn OutputFunc) Unsubscribe {
	s.mu.Lock()
	id := s.nextListenerID
	s.nextListenerID++
	s.outputListeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.outputListeners, id)
		s.mu.Unlock()
	}
}

func (s *session) addExitListener(fn ExitFunc) Unsubscribe {
	s.mu.Lock()
	id := s.nextListenerID
	s.nextListenerID++
	s.exitListeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.exitListeners, id)
		s.mu.Unlock()
	}
}

func (s *session) emitOutput(data []byte) {
	s.mu.Lock()
	listeners := make([]OutputFunc, 0, len(s.outputListeners))
	for _, fn := range s.outputListeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(s.id, data)
	}
}

// emitExit fires every registered exit listener exactly once with the
// final status.
func (s *session) emitExit() {
	s.mu.Lock()
	if s.exitFired {
		s.mu.Unlock()
		return
	}
	s.exitFired = true
	st := s.status()
	listeners := make([]ExitFunc, 0, len(s.exitListeners))
	for _, fn := range s.exitListeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(s.id, st)
	}
}

func (s *session) resize(cols, rows int) error {
	s.mu.Lock()
	ptmx := s.ptmx
	s.mu.Unlock()
	if ptmx == nil {
		return nil
	}
	return pty.Setsize(ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

// rawWrite writes directly to the PTY, bypassing any tool-specific pacing.
func (s *session) rawWrite(data []byte) error {
	s.mu.Lock()
	ptmx := s.ptmx
	s.mu.Unlock()
	if ptmx == nil {
		return nil
	}
	_, err := ptmx.Write(data)
	return err
}

// interrupt writes Ctrl-C, then schedules a SIGINT after a short delay if
// the process is still running. Errors are intentionally swallowed.
func (s *session) interrupt() {
	s.rawWrite([]byte{0x03})
	time.AfterFunc(interruptSigintDelay, func() {
		if pid, ok := s.pid(); ok {
			syscall.Kill(pid, syscall.SIGINT)
		}
	})
}

func (s *session) kill() {
	if pid, ok := s.pid(); ok {
		syscall.Kill(pid, syscall.SIGKILL)
	}
}

func (s *session) close() {
	s.mu.Lock()
	ptmx := s.ptmx
	s.mu.Unlock()
	if ptmx != nil {
		ptmx.Close()
	}
	s.kill()
}
