// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/orchd/orchd/internal/apperr"
	"github.com/orchd/orchd/internal/events"
)

// WorktreeManager provisions git worktrees for orchestration workers
// under a single repository. All provisioning and cleanup is
// serialized by mu so two concurrent orchestrations never race on the
// same `git worktree add`/`remove` state.
type WorktreeManager struct {
	mu        sync.Mutex
	git       GitExecutor
	bus       events.EventBus
	repoDir   string
	createDir string

	worktrees map[string]WorktreeInfo // path -> info, refreshed on demand
}

// NewManager creates a WorktreeManager rooted at repoDir, provisioning
// worktrees under createDir (relative paths are resolved against repoDir).
func NewManager(git GitExecutor, bus events.EventBus, repoDir, createDir string) (*WorktreeManager, error) {
	if _, err := os.Stat(filepath.Join(repoDir, ".git")); err != nil {
		return nil, apperr.Wrap(apperr.CodeNotAGitRepo, err).WithDetail("repoDir", repoDir)
	}
	if createDir == "" {
		createDir = ".worktrees"
	}
	if !filepath.IsAbs(createDir) {
		createDir = filepath.Join(repoDir, createDir)
	}
	if err := os.MkdirAll(createDir, 0o755); err != nil {
		return nil, apperr.Wrap(apperr.CodeBadGitDir, err)
	}

	m := &WorktreeManager{
		git:       git,
		bus:       bus,
		repoDir:   repoDir,
		createDir: createDir,
		worktrees: make(map[string]WorktreeInfo),
	}
	return m, nil
}

var nonSlugChar = regexp.MustCompile(`[^a-z0-9-]+`)

func slugify(s string) string {
	s = strings.ToLower(s)
	s = nonSlugChar.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if s == "" {
		s = "worker"
	}
	return s
}

// Provision creates a worktree at <createDir>/<slug(slug)> on branch
// orch/<orchestrationID>/<slug>. If the path already exists it fails
// with CodePathExists; if the branch is already checked out elsewhere
// it fails with CodeBranchCheckedOut.
func (m *WorktreeManager) Provision(ctx context.Context, orchestrationID, slug string) (*WorktreeInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dirName := slugify(slug)
	path := filepath.Join(m.createDir, dirName)
	branch := fmt.Sprintf("orch/%s/%s", orchestrationID, dirName)

	if _, err := os.Stat(path); err == nil {
		return nil, apperr.New(apperr.CodePathExists, path)
	}

	existing, err := m.git.WorktreeList(ctx, m.repoDir)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeWorktreeListFailed, err)
	}
	for _, wt := range existing {
		if wt.Branch == branch {
			return nil, apperr.New(apperr.CodeBranchCheckedOut, branch).WithDetail("path", wt.Path)
		}
	}

	if _, err := RunCommand(ctx, "-C", m.repoDir, "worktree", "add", "-b", branch, path); err != nil {
		return nil, apperr.Wrap(apperr.CodeCreateFailed, err).WithDetail("branch", branch)
	}

	info := WorktreeInfo{Path: path, Branch: branch}
	m.worktrees[path] = info

	if m.bus != nil {
		m.bus.Publish(ctx, events.Event{
			Kind: events.KindSessionGit,
			Payload: map[string]interface{}{
				"orchestrationId": orchestrationID,
				"path":            path,
				"branch":          branch,
				"action":          "provisioned",
			},
		})
	}

	return &info, nil
}

// Cleanup unlocks (best-effort, ignoring failure — the worktree may
// never have been locked) and force-removes the worktree at path.
func (m *WorktreeManager) Cleanup(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, _ = RunCommand(ctx, "-C", m.repoDir, "worktree", "unlock", path)

	if _, err := RunCommand(ctx, "-C", m.repoDir, "worktree", "remove", "--force", path); err != nil {
		return apperr.Wrap(apperr.CodeCreateFailed, err).WithDetail("path", path)
	}

	delete(m.worktrees, path)

	if m.bus != nil {
		m.bus.Publish(ctx, events.Event{
			Kind:    events.KindSessionGit,
			Payload: map[string]interface{}{"path": path, "action": "removed"},
		})
	}
	return nil
}

// List returns every worktree git currently knows about for this repo.
func (m *WorktreeManager) List(ctx context.Context) ([]WorktreeInfo, error) {
	infos, err := m.git.WorktreeList(ctx, m.repoDir)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeWorktreeListFailed, err)
	}

	defaultBranch := GetDefaultBranch(ctx, m.repoDir)
	for i := range infos {
		infos[i].Dirty = IsDirty(ctx, infos[i].Path)
		infos[i].Ahead, infos[i].Behind = GetAheadBehind(ctx, infos[i].Path, defaultBranch)
	}
	return infos, nil
}

// GetByPath returns the last-known info for path without touching git.
func (m *WorktreeManager) GetByPath(path string) (WorktreeInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.worktrees[path]
	return info, ok
}
