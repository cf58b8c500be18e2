// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func envValue(env []string, key string) (string, bool) {
	for _, kv := range env {
		if v, ok := strings.CutPrefix(kv, key+"="); ok {
			return v, true
		}
	}
	return "", false
}

func TestMergeEnvScrubsCodexIdentity(t *testing.T) {
	t.Setenv("CODEX_THREAD_ID", "parent-thread")
	t.Setenv("CODEX_SESSION_ID", "parent-session")
	t.Setenv("CODEX_CI", "1")

	env := mergeEnv(CreateOptions{Tool: ToolCodex})

	for _, key := range []string{"CODEX_THREAD_ID", "CODEX_SESSION_ID", "CODEX_CI"} {
		_, present := envValue(env, key)
		require.False(t, present, "%s must not propagate into a codex child", key)
	}

	term, ok := envValue(env, "TERM")
	require.True(t, ok)
	require.Equal(t, "xterm-256color", term)
}

func TestMergeEnvClaudeAuthModes(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	env := mergeEnv(CreateOptions{Tool: ToolClaude, ClaudeAuthMode: "subscription"})
	_, present := envValue(env, "ANTHROPIC_API_KEY")
	require.False(t, present, "subscription mode strips the API key")

	env = mergeEnv(CreateOptions{Tool: ToolClaude, ClaudeAuthMode: "api"})
	v, present := envValue(env, "ANTHROPIC_API_KEY")
	require.True(t, present, "api mode keeps the API key")
	require.Equal(t, "sk-test", v)
}

func TestMergeEnvProfileOverrides(t *testing.T) {
	t.Setenv("ORCHD_TEST_VAR", "from-process")
	env := mergeEnv(CreateOptions{
		Tool: ToolOpenCode,
		Env:  map[string]string{"ORCHD_TEST_VAR": "from-profile", "EXTRA": "1"},
	})

	v, _ := envValue(env, "ORCHD_TEST_VAR")
	require.Equal(t, "from-profile", v, "profile env wins over process env")
	v, _ = envValue(env, "EXTRA")
	require.Equal(t, "1", v)
}
