// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package orchestration

import (
	"regexp"
	"strings"
)

const (
	objectiveMaxChars     = 2000
	objectiveOverlapChars = 160
)

// objectivePattern matches "goal:" / "objective:" lines, optionally
// behind the standard coordination preamble.
var objectivePattern = regexp.MustCompile(`(?i)^(?:you are coordinating(?: a team)?\.\s*)?(?:goal|objective)\s*:\s*(.+)$`)

var sentenceEnd = regexp.MustCompile(`[.!?](\s|$)`)

// NormalizeObjective extracts a concise objective from the orchestrator
// prompt: the first goal/objective line, else the first sentence.
// Candidates containing a <prompt> placeholder are rejected.
func NormalizeObjective(prompt string) string {
	trimmed := strings.TrimSpace(prompt)
	if trimmed == "" {
		return ""
	}

	// Whole-prompt match first, then line by line.
	if m := objectivePattern.FindStringSubmatch(trimmed); m != nil {
		if obj := cleanObjective(m[1]); obj != "" {
			return obj
		}
	}
	for _, line := range strings.Split(trimmed, "\n") {
		if m := objectivePattern.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			if obj := cleanObjective(m[1]); obj != "" {
				return obj
			}
		}
	}

	// Fall back to the first sentence.
	first := trimmed
	if loc := sentenceEnd.FindStringIndex(trimmed); loc != nil {
		first = trimmed[:loc[0]+1]
	}
	return cleanObjective(first)
}

func cleanObjective(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || strings.Contains(strings.ToLower(s), "<prompt>") {
		return ""
	}
	if len(s) > objectiveMaxChars {
		s = s[:objectiveMaxChars]
	}
	return s
}

// AugmentTaskPrompt appends the objective context to a worker task
// prompt unless the prompt already carries the objective's leading
// chars.
func AugmentTaskPrompt(taskPrompt, objective string) string {
	if objective == "" {
		return taskPrompt
	}
	probe := objective
	if len(probe) > objectiveOverlapChars {
		probe = probe[:objectiveOverlapChars]
	}
	if strings.Contains(taskPrompt, probe) {
		return taskPrompt
	}
	return taskPrompt + "\n\nOBJECTIVE CONTEXT (must be satisfied):\n" + objective
}
