// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package attention is the inbox router: deduplicated question and
// permission records per session, with respond/dismiss/timeout
// lifecycle and fan-out to the orchestration automation layer.
package attention

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/orchd/orchd/internal/apperr"
	"github.com/orchd/orchd/internal/events"
	"github.com/orchd/orchd/internal/store"
)

// Option is one selectable answer on an attention item. Send is the
// raw text written into the session's PTY when the option is chosen.
type Option struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Send  string `json:"send"`
}

// SessionWriter is the slice of the session supervisor the router
// needs: delivering an option's send text into a session.
type SessionWriter interface {
	Write(id string, data []byte) error
}

// CreatedFunc observes every newly created (not touched) open item.
// The orchestration automation layer registers one to route worker
// questions to the orchestrator.
type CreatedFunc func(item store.AttentionItem)

// CreateRequest describes a new inbox item.
type CreateRequest struct {
	SessionID string   `json:"sessionId"`
	Kind      string   `json:"kind"`
	Severity  string   `json:"severity,omitempty"` // info | warn | danger; defaults to info
	Title     string   `json:"title"`
	Body      string   `json:"body,omitempty"`
	Signature string   `json:"signature"`
	Options   []Option `json:"options,omitempty"`
}

// CreateResult reports either the new item's id or the open duplicate
// that absorbed the create.
type CreateResult struct {
	OK         bool  `json:"ok"`
	ID         int64 `json:"id,omitempty"`
	Reason     string `json:"reason,omitempty"`
	ExistingID int64 `json:"existingId,omitempty"`
}

// Router owns inbox items. All mutations are serialized by mu so the
// signature-dedupe check and the insert are atomic with respect to
// concurrent creates.
type Router struct {
	mu      sync.Mutex
	store   *store.Store
	writer  SessionWriter
	bus     events.EventBus
	created []CreatedFunc
}

// NewRouter creates a Router over the given store and session writer.
func NewRouter(st *store.Store, writer SessionWriter, bus events.EventBus) *Router {
	return &Router{store: st, writer: writer, bus: bus}
}

// OnCreated registers an observer for newly created open items.
func (r *Router) OnCreated(fn CreatedFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, fn)
}

// Create inserts a new open item, or touches the existing open item
// with the same signature. At most one open item per signature exists
// at any time.
func (r *Router) Create(req CreateRequest) (CreateResult, error) {
	if req.SessionID == "" || req.Signature == "" {
		return CreateResult{}, apperr.New(apperr.CodeBadInput, "sessionId and signature are required")
	}
	severity := req.Severity
	if severity == "" {
		severity = "info"
	}
	optionsJSON, err := json.Marshal(req.Options)
	if err != nil {
		return CreateResult{}, apperr.Wrap(apperr.CodeBadInput, err)
	}

	r.mu.Lock()
	now := time.Now()
	existing, err := r.store.FindOpenBySignature(req.Signature)
	if err != nil {
		r.mu.Unlock()
		return CreateResult{}, err
	}
	if existing != nil {
		err := r.store.TouchAttentionItem(existing.ID, req.Title, req.Body, string(optionsJSON), now)
		r.mu.Unlock()
		if err != nil {
			return CreateResult{}, err
		}
		return CreateResult{OK: false, Reason: "duplicate", ExistingID: existing.ID}, nil
	}

	item := store.AttentionItem{
		SessionID: req.SessionID,
		Kind:      req.Kind,
		Severity:  severity,
		Status:    store.AttentionStatusOpen,
		Title:     req.Title,
		Body:      req.Body,
		Signature: req.Signature,
		Options:   string(optionsJSON),
		CreatedAt: now,
		UpdatedAt: now,
	}
	id, err := r.store.CreateAttentionItem(item)
	if err != nil {
		r.mu.Unlock()
		return CreateResult{}, err
	}
	item.ID = id
	observers := append([]CreatedFunc(nil), r.created...)
	r.mu.Unlock()

	// Observers run outside the router lock: they typically call back
	// into MarkSent or Respond.
	for _, fn := range observers {
		fn(item)
	}
	return CreateResult{OK: true, ID: id}, nil
}

// Get fetches one item.
func (r *Router) Get(id int64) (*store.AttentionItem, error) {
	return r.store.GetAttentionItem(id)
}

// List returns items matching filter, newest updatedAt first.
func (r *Router) List(filter store.AttentionFilter) ([]store.AttentionItem, error) {
	return r.store.ListAttentionItems(filter)
}

// Counts returns open-item counts per session for badge rendering.
func (r *Router) Counts() (map[string]int, error) {
	return r.store.OpenAttentionCounts()
}

// MarkSent transitions an open item to sent after its question batch
// has been delivered to the orchestrator. The item stays answerable.
func (r *Router) MarkSent(id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, err := r.store.GetAttentionItem(id)
	if err != nil {
		return err
	}
	if item.Status != store.AttentionStatusOpen {
		return nil
	}
	return r.store.UpdateAttentionStatus(id, store.AttentionStatusSent, "sent", "", "", time.Now())
}

// Respond selects an option on an item: its send text is written into
// the owning session's PTY, the item is resolved, and the action is
// recorded. Items already resolved or dismissed are reported as
// duplicates so stale orchestrator answers are dropped quietly by the
// caller.
func (r *Router) Respond(id int64, optionID string, actor string) (*store.AttentionItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, err := r.store.GetAttentionItem(id)
	if err != nil {
		return nil, err
	}
	if item.Status != store.AttentionStatusOpen && item.Status != store.AttentionStatusSent {
		return nil, apperr.New(apperr.CodeDuplicate, "attention item already "+item.Status)
	}

	var options []Option
	if err := json.Unmarshal([]byte(item.Options), &options); err != nil {
		return nil, apperr.Wrap(apperr.CodeBadInput, err)
	}
	var chosen *Option
	for i := range options {
		if options[i].ID == optionID {
			chosen = &options[i]
			break
		}
	}
	if chosen == nil {
		return nil, apperr.New(apperr.CodeBadInput, "unknown option "+optionID)
	}

	if chosen.Send != "" && r.writer != nil {
		if err := r.writer.Write(item.SessionID, []byte(chosen.Send)); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	if err := r.store.UpdateAttentionStatus(id, store.AttentionStatusResolved, "respond", optionID, actor, now); err != nil {
		return nil, err
	}
	item.Status = store.AttentionStatusResolved
	item.UpdatedAt = now

	r.publish(events.KindInboxRespond, item.SessionID, map[string]interface{}{
		"attentionId": id,
		"optionId":    optionID,
		"actor":       actor,
	})
	return item, nil
}

// Dismiss marks an item dismissed without sending anything.
func (r *Router) Dismiss(id int64, actor string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, err := r.store.GetAttentionItem(id)
	if err != nil {
		return err
	}
	if item.Status == store.AttentionStatusResolved || item.Status == store.AttentionStatusDismissed {
		return apperr.New(apperr.CodeDuplicate, "attention item already "+item.Status)
	}
	if err := r.store.UpdateAttentionStatus(id, store.AttentionStatusDismissed, "dismiss", "", actor, time.Now()); err != nil {
		return err
	}
	r.publish(events.KindInboxDismiss, item.SessionID, map[string]interface{}{"attentionId": id, "actor": actor})
	return nil
}

// Timeout expires an unanswered routed question: the item is dismissed
// and an inbox.timeout event records why.
func (r *Router) Timeout(id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, err := r.store.GetAttentionItem(id)
	if err != nil {
		return err
	}
	if item.Status == store.AttentionStatusResolved || item.Status == store.AttentionStatusDismissed {
		return nil
	}
	if err := r.store.UpdateAttentionStatus(id, store.AttentionStatusDismissed, "timeout", "", "", time.Now()); err != nil {
		return err
	}
	r.publish(events.KindInboxTimeout, item.SessionID, map[string]interface{}{"attentionId": id})
	return nil
}

func (r *Router) publish(kind, sessionID string, payload map[string]interface{}) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(context.Background(), events.Event{
		Kind:      kind,
		SessionID: sessionID,
		Payload:   payload,
	})
}

// ItemRef renders an item id the way directive payloads carry it.
func ItemRef(id int64) string { return strconv.FormatInt(id, 10) }
