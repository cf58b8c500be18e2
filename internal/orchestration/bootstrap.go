// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package orchestration

import (
	"fmt"
	"strings"
)

// orchestratorSystemPrompt enumerates the worker roster and the
// directive marker contract the orchestrator uses to command workers.
func orchestratorSystemPrompt(o *Orchestration) string {
	var b strings.Builder
	b.WriteString("ORCHESTRATOR BRIEFING (internal)\n")
	fmt.Fprintf(&b, "orchestration: %s (%s)\n", o.Name, o.ID)
	b.WriteString("You coordinate the workers below. You never edit code yourself.\n\n")

	b.WriteString("Workers:\n")
	for i, w := range o.Workers {
		fmt.Fprintf(&b, "- #%d %s → session:%s", i+1, w.Name, w.SessionID)
		if w.Branch != "" {
			fmt.Fprintf(&b, " (branch %s)", w.Branch)
		}
		b.WriteString("\n")
	}

	b.WriteString(`
To command a worker, emit exactly one directive per line:
FYP_SEND_TASK_JSON: {"target":"worker:<name>","task":"<text>","initialize":true}
FYP_DISPATCH_JSON: {"target":"worker:<name>|session:<sid>|all","task":"<text>","interrupt":false}
FYP_ANSWER_QUESTION_JSON: {"attentionId":<int>,"optionId":"<id>"}

Targets also accept a 1-based worker index. Set "interrupt":true only
when the worker must abandon its current turn.
`)
	return b.String()
}

// orchestratorQuickstart is written to the orchestrator in
// orchestrator-first mode, when workers start parked in wait mode.
func orchestratorQuickstart(o *Orchestration) string {
	var b strings.Builder
	b.WriteString("ORCHESTRATOR QUICKSTART\n")
	b.WriteString("All workers are parked in WAIT MODE with their task briefs staged.\n")
	b.WriteString("Release each worker when ready:\n")
	for _, w := range o.Workers {
		fmt.Fprintf(&b, `FYP_SEND_TASK_JSON: {"target":"worker:%s","task":"<your instructions>","initialize":true}`+"\n", w.Name)
	}
	b.WriteString("Use \"initialize\":true on the first dispatch so the staged brief is delivered ahead of your instructions.\n")
	return b.String()
}

// workerWaitBootstrap parks a worker until its first dispatch arrives.
func workerWaitBootstrap(w *Worker) string {
	return fmt.Sprintf(`WAIT MODE
You are worker %q in a coordinated session. Do not start work yet.
Your task brief will arrive from the orchestrator. Acknowledge with
"ready" and wait.
`, w.Name)
}

// workerTaskPacket is the worker's initial brief.
func workerTaskPacket(w *Worker) string {
	var b strings.Builder
	fmt.Fprintf(&b, "TASK BRIEF for %s\n", w.Name)
	if w.Branch != "" {
		fmt.Fprintf(&b, "branch: %s\n", w.Branch)
	}
	b.WriteString("\n")
	b.WriteString(w.TaskPrompt)
	b.WriteString("\n")
	return b.String()
}
