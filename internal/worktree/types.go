// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package worktree provisions and tears down the git worktrees that
// back each orchestration worker — one worktree per worker, created
// on a dedicated branch and removed when the orchestration is cleaned
// up.
package worktree

import (
	"context"
	"path/filepath"
)

// WorktreeInfo describes one git worktree.
type WorktreeInfo struct {
	Path     string
	Commit   string
	Branch   string
	Detached bool
	IsBare   bool
	Dirty    bool
	Ahead    int
	Behind   int
}

// Name returns the directory name of the worktree.
func (w *WorktreeInfo) Name() string {
	return filepath.Base(w.Path)
}

// GitExecutor enumerates a repository's worktrees, satisfied by
// RealGitExecutor in production and faked in tests. Provision checks
// the listing for branch collisions before running `worktree add`.
type GitExecutor interface {
	WorktreeList(ctx context.Context, dir string) ([]WorktreeInfo, error)
}

// Manager provisions and removes orchestration-scoped worktrees.
type Manager interface {
	// Provision creates a new worktree for orchestrationID/slug on
	// branch orch/<orchestrationID>/<slug>, rooted under the
	// configured create directory.
	Provision(ctx context.Context, orchestrationID, slug string) (*WorktreeInfo, error)
	// Cleanup unlocks (best-effort) and force-removes the worktree at path.
	Cleanup(ctx context.Context, path string) error
	// List returns every worktree of the repository, annotated with
	// dirtiness and ahead/behind counts against the default branch.
	List(ctx context.Context) ([]WorktreeInfo, error)
	GetByPath(path string) (WorktreeInfo, bool)
}
