// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package orchestration

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/orchd/orchd/internal/apperr"
	"github.com/orchd/orchd/internal/attention"
	"github.com/orchd/orchd/internal/directive"
	"github.com/orchd/orchd/internal/store"
)

// onAttentionCreated routes a new worker question to the orchestrator
// when the owning orchestration's policy asks for it.
func (m *Manager) onAttentionCreated(item store.AttentionItem) {
	o, w := m.findWorkerBySession(item.SessionID)
	if o == nil || w == nil {
		return
	}

	o.mu.Lock()
	policy := o.Automation.Policy
	if o.Status != StatusActive {
		o.mu.Unlock()
		return
	}

	if policy.YoloMode {
		o.mu.Unlock()
		m.autoAnswer(o, item)
		return
	}
	if policy.QuestionMode != QuestionModeOrchestrator {
		o.mu.Unlock()
		return
	}

	timeout := time.Duration(policy.QuestionTimeoutMs) * time.Millisecond
	o.pendingQuestions[item.ID] = time.AfterFunc(timeout, func() {
		m.timeoutQuestion(o, item.ID)
	})
	o.Automation.PendingQuestionCount = len(o.pendingQuestions)
	batch := questionBatchMessage(o, w, item)
	m.persist(o)
	o.mu.Unlock()

	m.writeSession(o.OrchestratorSessionID, batch)
	if err := m.router.MarkSent(item.ID); err != nil {
		log.Printf("[orchestration] mark attention %d sent: %v", item.ID, err)
	}
}

// autoAnswer picks the first option under yolo mode.
func (m *Manager) autoAnswer(o *Orchestration, item store.AttentionItem) {
	var options []attention.Option
	if err := json.Unmarshal([]byte(item.Options), &options); err != nil || len(options) == 0 {
		return
	}
	if _, err := m.router.Respond(item.ID, options[0].ID, "automation"); err != nil {
		log.Printf("[orchestration] yolo answer %d: %v", item.ID, err)
	}
}

// handleQuestionAnswer applies an orchestrator-authored answer parsed
// from its output. Answers referencing already-settled items are
// dropped silently.
func (m *Manager) handleQuestionAnswer(o *Orchestration, qa directive.QuestionAnswer) {
	id := int64(qa.AttentionID)
	_, err := m.router.Respond(id, qa.OptionID, "orchestrator")
	if err != nil {
		if apperr.Is(err, apperr.CodeDuplicate) || apperr.Is(err, apperr.CodeUnknownAttentionItem) {
			return
		}
		log.Printf("[orchestration] %s answer %d: %v", o.ID, id, err)
		return
	}

	o.mu.Lock()
	if timer, ok := o.pendingQuestions[id]; ok {
		timer.Stop()
		delete(o.pendingQuestions, id)
	}
	o.Automation.PendingQuestionCount = len(o.pendingQuestions)
	o.Automation.QuestionDispatchCount++
	m.persist(o)
	o.mu.Unlock()
}

// timeoutQuestion expires an unanswered routed question.
func (m *Manager) timeoutQuestion(o *Orchestration, id int64) {
	o.mu.Lock()
	if _, ok := o.pendingQuestions[id]; !ok {
		o.mu.Unlock()
		return
	}
	delete(o.pendingQuestions, id)
	o.Automation.PendingQuestionCount = len(o.pendingQuestions)
	m.persist(o)
	o.mu.Unlock()

	if err := m.router.Timeout(id); err != nil {
		log.Printf("[orchestration] timeout attention %d: %v", id, err)
	}
}

// RespondPending applies a human answer through the same bookkeeping
// the orchestrator path uses, so pending counts stay accurate no
// matter who answers first.
func (m *Manager) RespondPending(attentionID int64, optionID, actor string) error {
	_, err := m.router.Respond(attentionID, optionID, actor)
	if err != nil {
		return err
	}
	m.mu.Lock()
	all := make([]*Orchestration, 0, len(m.orchestrations))
	for _, o := range m.orchestrations {
		all = append(all, o)
	}
	m.mu.Unlock()

	for _, o := range all {
		o.mu.Lock()
		if timer, ok := o.pendingQuestions[attentionID]; ok {
			timer.Stop()
			delete(o.pendingQuestions, attentionID)
			o.Automation.PendingQuestionCount = len(o.pendingQuestions)
			o.Automation.QuestionDispatchCount++
			m.persist(o)
		}
		o.mu.Unlock()
	}
	return nil
}

// findWorkerBySession locates the orchestration and worker owning a
// session id.
func (m *Manager) findWorkerBySession(sid string) (*Orchestration, *Worker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orchestrations {
		for _, w := range o.Workers {
			if w.SessionID == sid {
				return o, w
			}
		}
	}
	return nil, nil
}

// questionBatchMessage renders the pending question for the
// orchestrator, with the answer contract inline. The caller holds o.mu.
func questionBatchMessage(o *Orchestration, w *Worker, item store.AttentionItem) string {
	var b strings.Builder
	b.WriteString("AUTOMATION QUESTION BATCH\n")
	fmt.Fprintf(&b, "pending: %d\n", o.Automation.PendingQuestionCount)
	b.WriteString("Answer each with FYP_ANSWER_QUESTION_JSON: {\"attentionId\":<id>,\"optionId\":\"<id>\"}\n\n")

	fmt.Fprintf(&b, "- attentionId:%d [%s] %s\n", item.ID, w.Name, item.Title)
	if strings.TrimSpace(item.Body) != "" {
		fmt.Fprintf(&b, "  %s\n", item.Body)
	}
	var options []attention.Option
	if err := json.Unmarshal([]byte(item.Options), &options); err == nil && len(options) > 0 {
		parts := make([]string, 0, len(options))
		for _, opt := range options {
			parts = append(parts, opt.ID+"="+opt.Label)
		}
		fmt.Fprintf(&b, "  options: %s\n", strings.Join(parts, ", "))
	}
	return b.String()
}
