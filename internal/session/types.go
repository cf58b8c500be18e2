// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package session supervises the PTY-backed lifecycle of a single
// coding-assistant process (codex, claude, opencode): spawn, write,
// resize, interrupt, kill, and exit propagation.
package session

import "time"

// Tool identifies which coding-assistant CLI a session wraps.
const (
	ToolCodex    = "codex"
	ToolClaude   = "claude"
	ToolOpenCode = "opencode"
)

// CreateOptions describes a session to spawn.
type CreateOptions struct {
	ID             string // optional; generated if empty
	Tool           string
	ProfileID      string
	Command        []string
	Cwd            string
	ExtraArgs      []string
	Env            map[string]string
	ClaudeAuthMode string // api | subscription, only consulted for ToolClaude
}

// Status is the exported, JSON-friendly live state of a session.
type Status struct {
	ID        string `json:"id"`
	Tool      string `json:"tool"`
	ProfileID string `json:"profileId"`
	Cwd       string `json:"cwd"`
	Running   bool   `json:"running"`
	Pid       int    `json:"pid,omitempty"`
	ExitCode  *int   `json:"exitCode,omitempty"`
	Signal    string `json:"signal,omitempty"`
}

// OutputFunc receives a raw PTY output chunk.
type OutputFunc func(id string, data []byte)

// ExitFunc is invoked exactly once with the terminal status.
type ExitFunc func(id string, status Status)

// Unsubscribe removes a previously registered listener.
type Unsubscribe func()

const (
	ptyCols = 100
	ptyRows = 30
	ptyTerm = "xterm-256color"
)

// codexScrubbedEnv are removed from a codex session's merged environment
// before spawn so a child can never inherit an orchestrator's own
// thread/session identity.
var codexScrubbedEnv = []string{"CODEX_THREAD_ID", "CODEX_SESSION_ID", "CODEX_CI"}

const interruptSigintDelay = 80 * time.Millisecond
