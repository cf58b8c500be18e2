// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package worktree

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/orchd/orchd/internal/executil"
)

// worktreeOpTimeout bounds `git worktree add/remove/unlock`, which may
// touch many files on a large checkout. Read-only queries use the
// executil default.
const worktreeOpTimeout = 12 * time.Second

// RealGitExecutor shells out to the git binary.
type RealGitExecutor struct{}

// NewRealGitExecutor creates a git executor.
func NewRealGitExecutor() *RealGitExecutor {
	return &RealGitExecutor{}
}

// WorktreeList enumerates the repository's worktrees via
// `git worktree list --porcelain` (the porcelain format survives paths
// with spaces).
func (e *RealGitExecutor) WorktreeList(ctx context.Context, dir string) ([]WorktreeInfo, error) {
	out, err := gitQuery(ctx, dir, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	return parseWorktreeList(out), nil
}

// parseWorktreeList walks porcelain output line by line. Each block is
//
//	worktree <path>
//	HEAD <commit>
//	branch refs/heads/<name> | detached | bare
//
// separated by a blank line; a new "worktree" line also closes the
// previous block, so truncated output still yields what was seen.
func parseWorktreeList(output string) []WorktreeInfo {
	var result []WorktreeInfo
	var cur *WorktreeInfo

	flush := func() {
		if cur != nil && cur.Path != "" {
			result = append(result, *cur)
		}
		cur = nil
	}

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "worktree "):
			flush()
			cur = &WorktreeInfo{Path: strings.TrimPrefix(line, "worktree ")}
		case cur == nil:
			// attribute line with no open block
		case strings.HasPrefix(line, "HEAD "):
			cur.Commit = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			cur.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		case line == "bare":
			cur.IsBare = true
		case line == "detached":
			cur.Detached = true
		}
	}
	flush()
	return result
}

// RunCommand runs one git invocation with the worktree-operation
// timeout, returning stderr as the error text on failure. Used for the
// mutating `worktree add/unlock/remove` calls.
func RunCommand(ctx context.Context, args ...string) (string, error) {
	res, err := executil.Run(ctx, append([]string{"git"}, args...), executil.Options{
		Timeout: worktreeOpTimeout,
	})
	if err != nil {
		if res != nil && len(res.Stderr) > 0 {
			return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), strings.TrimSpace(string(res.Stderr)))
		}
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return string(res.Stdout), nil
}

// gitQuery runs a read-only git command under the executil default
// timeout.
func gitQuery(ctx context.Context, dir string, args ...string) (string, error) {
	argv := []string{"git"}
	if dir != "" {
		argv = append(argv, "-C", dir)
	}
	argv = append(argv, args...)
	res, err := executil.Run(ctx, argv, executil.Options{})
	if err != nil {
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return string(res.Stdout), nil
}

// IsDirty reports whether the worktree has uncommitted changes.
func IsDirty(ctx context.Context, worktreePath string) bool {
	out, err := gitQuery(ctx, worktreePath, "status", "--porcelain")
	if err != nil {
		return false
	}
	return strings.TrimSpace(out) != ""
}

// GetAheadBehind counts commits unique to the worktree's HEAD versus
// the default branch. Returns (0, 0) on any error.
func GetAheadBehind(ctx context.Context, worktreePath, defaultBranch string) (ahead, behind int) {
	out, err := gitQuery(ctx, worktreePath, "rev-list", "--left-right", "--count", defaultBranch+"...HEAD")
	if err != nil {
		return 0, 0
	}
	// "behind\tahead": left side is the default branch.
	parts := strings.Fields(strings.TrimSpace(out))
	if len(parts) != 2 {
		return 0, 0
	}
	behind, _ = strconv.Atoi(parts[0])
	ahead, _ = strconv.Atoi(parts[1])
	return ahead, behind
}

// GetDefaultBranch resolves the branch worker branches are compared
// against: origin/HEAD's target when it exists locally, else main,
// else master.
func GetDefaultBranch(ctx context.Context, repoDir string) string {
	if out, err := gitQuery(ctx, repoDir, "symbolic-ref", "refs/remotes/origin/HEAD"); err == nil {
		ref := strings.TrimSpace(out)
		if idx := strings.LastIndexByte(ref, '/'); idx >= 0 {
			candidate := ref[idx+1:]
			if _, err := gitQuery(ctx, repoDir, "rev-parse", "--verify", candidate); err == nil {
				return candidate
			}
			// stale origin/HEAD; fall through
		}
	}

	for _, candidate := range []string{"main", "master"} {
		if _, err := gitQuery(ctx, repoDir, "rev-parse", "--verify", candidate); err == nil {
			return candidate
		}
	}
	return "main"
}
