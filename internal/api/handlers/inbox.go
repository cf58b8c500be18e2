// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/orchd/orchd/internal/apperr"
	"github.com/orchd/orchd/internal/attention"
	"github.com/orchd/orchd/internal/orchestration"
	"github.com/orchd/orchd/internal/store"
)

// InboxHandler serves the attention/inbox routes.
type InboxHandler struct {
	router *attention.Router
	engine *orchestration.Manager
}

// NewInboxHandler creates an inbox handler.
func NewInboxHandler(router *attention.Router, engine *orchestration.Manager) *InboxHandler {
	return &InboxHandler{router: router, engine: engine}
}

// List returns attention items, filtered by session/status.
func (h *InboxHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.AttentionFilter{
		SessionID: q.Get("sessionId"),
		Status:    q.Get("status"),
		Limit:     100,
	}
	if s := q.Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	items, err := h.router.List(filter)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, items)
}

// Counts returns open counts per session for badges.
func (h *InboxHandler) Counts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.router.Counts()
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, counts)
}

type respondRequest struct {
	OptionID string `json:"optionId"`
}

// Respond answers an item with one of its options. Routed through the
// engine so a pending orchestrator question is also settled.
func (h *InboxHandler) Respond(w http.ResponseWriter, r *http.Request) {
	id, err := attentionID(r)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	var req respondRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteAppError(w, err)
		return
	}
	if req.OptionID == "" {
		WriteAppError(w, apperr.New(apperr.CodeBadInput, "optionId is required"))
		return
	}
	if h.engine != nil {
		if err := h.engine.RespondPending(id, req.OptionID, "user"); err != nil {
			WriteAppError(w, err)
			return
		}
	} else if _, err := h.router.Respond(id, req.OptionID, "user"); err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Dismiss marks an item dismissed.
func (h *InboxHandler) Dismiss(w http.ResponseWriter, r *http.Request) {
	id, err := attentionID(r)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	if err := h.router.Dismiss(id, "user"); err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Create lets integration tooling inject an attention item, the
// same path tool adapters use internally.
func (h *InboxHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req attention.CreateRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteAppError(w, err)
		return
	}
	res, err := h.router.Create(req)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	status := http.StatusCreated
	if !res.OK {
		status = http.StatusOK
	}
	WriteJSON(w, status, res)
}

func attentionID(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.New(apperr.CodeBadInput, "attention id must be a positive integer")
	}
	return id, nil
}
