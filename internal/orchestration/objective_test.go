// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package orchestration

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeObjectiveGoalLine(t *testing.T) {
	require.Equal(t, "ship the beta",
		NormalizeObjective("Goal: ship the beta"))
	require.Equal(t, "ship the beta",
		NormalizeObjective("You are coordinating a team. Goal: ship the beta"))
	require.Equal(t, "repair the parser",
		NormalizeObjective("Some preamble.\nobjective: repair the parser\nMore text."))
}

func TestNormalizeObjectiveFallsBackToFirstSentence(t *testing.T) {
	require.Equal(t, "Refactor the session layer.",
		NormalizeObjective("Refactor the session layer. Then add tests."))
}

func TestNormalizeObjectiveRejectsPlaceholders(t *testing.T) {
	// A goal line carrying a template placeholder falls through to the
	// sentence fallback, which is rejected for the same reason.
	require.Equal(t, "", NormalizeObjective("Goal: <prompt>"))
}

func TestNormalizeObjectiveCaps(t *testing.T) {
	long := "Goal: " + strings.Repeat("x", 5000)
	require.Len(t, NormalizeObjective(long), 2000)
	require.Equal(t, "", NormalizeObjective(""))
}

func TestAugmentTaskPrompt(t *testing.T) {
	objective := "repair the login flow end to end"
	out := AugmentTaskPrompt("Fix cookies.", objective)
	require.Contains(t, out, "OBJECTIVE CONTEXT (must be satisfied):")
	require.Contains(t, out, objective)

	// Already-present objectives are not duplicated.
	same := AugmentTaskPrompt(out, objective)
	require.Equal(t, out, same)

	require.Equal(t, "unchanged", AugmentTaskPrompt("unchanged", ""))
}
