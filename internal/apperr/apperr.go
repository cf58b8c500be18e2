// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package apperr implements the error-kind taxonomy shared by every
// component: a stable string code plus optional structured detail,
// rather than a distinct Go type per failure.
package apperr

import "fmt"

// Known error codes. These are the stable strings surfaced to callers;
// new codes should be added here rather than invented ad hoc at call
// sites so the taxonomy stays enumerable.
const (
	// Input
	CodeBadInput             = "bad_input"
	CodeBadBranch            = "bad_branch"
	CodeInvalidCommandPayload = "invalid_command_payload"
	CodeMissingProjectPath    = "missing_projectPath"
	CodeNoTargets             = "no_targets"
	CodeTerminalModeDisabled  = "terminal_mode_disabled"

	// Resource
	CodeSessionAlreadyExists  = "session_already_exists"
	CodeUnknownSession        = "unknown_session"
	CodeUnknownAttentionItem  = "unknown_attention_item"
	CodeSessionRunning        = "session_running"
	CodeOrchestrationLocked   = "orchestration_locked"
	CodeDuplicate             = "duplicate"

	// External
	CodeNotAGitRepo           = "not_a_git_repo"
	CodeBadGitDir             = "bad_git_dir"
	CodeBranchCheckedOut      = "branch_checked_out"
	CodePathExists            = "path_exists"
	CodeCreateFailed          = "create_failed"
	CodeWorktreeListFailed    = "worktree_list_failed"
	CodeAppServerStartTimeout = "codex_app_server_start_timeout"
	CodeAppServerWSTimeout    = "codex_app_server_ws_timeout"
	CodeAppServerNotReady     = "codex_app_server_not_ready"
	CodeAppServerStopped      = "codex_app_server_stopped"

	// Policy
	CodePolicyBlocked = "command_policy_blocked"

	// Auth
	CodeUnauthorized = "unauthorized"
	CodeExpired      = "expired"
	CodeLocked       = "locked"
	CodeInvalidCode  = "invalid_code"
)

// Error is a coded application error. The Code is the stable string
// used for client-facing responses and log correlation; Detail carries
// any structured payload a specific code needs (e.g. policy tier and
// the list of unmet requirements).
type Error struct {
	Code   string
	Msg    string
	Detail map[string]any
	err    error
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return e.Code + ": " + e.Msg
	}
	if e.err != nil {
		return e.Code + ": " + e.err.Error()
	}
	return e.Code
}

func (e *Error) Unwrap() error { return e.err }

// New creates a coded error with a message.
func New(code, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// Newf creates a coded error with a formatted message.
func Newf(code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap wraps an underlying error with a code.
func Wrap(code string, err error) *Error {
	return &Error{Code: code, err: err}
}

// WithDetail attaches structured detail to a coded error and returns it.
func (e *Error) WithDetail(key string, val any) *Error {
	if e.Detail == nil {
		e.Detail = make(map[string]any)
	}
	e.Detail[key] = val
	return e
}

// As extracts a coded *Error from err, if present anywhere in its chain.
func As(err error) (*Error, bool) {
	for err != nil {
		if ce, ok := err.(*Error); ok {
			return ce, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

// Is reports whether err is a coded error with the given code.
func Is(err error, code string) bool {
	ce, ok := As(err)
	return ok && ce.Code == code
}
