// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/orchd/orchd/internal/orchestration"
	"github.com/orchd/orchd/internal/syncsched"
)

// OrchestrationHandler serves orchestration lifecycle routes.
type OrchestrationHandler struct {
	engine    *orchestration.Manager
	scheduler *syncsched.Scheduler
}

// NewOrchestrationHandler creates an orchestration handler.
func NewOrchestrationHandler(engine *orchestration.Manager, scheduler *syncsched.Scheduler) *OrchestrationHandler {
	return &OrchestrationHandler{engine: engine, scheduler: scheduler}
}

// Create provisions and starts a new orchestration.
func (h *OrchestrationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req orchestration.CreateRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteAppError(w, err)
		return
	}
	o, err := h.engine.Create(r.Context(), req)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	if h.scheduler != nil {
		h.scheduler.Apply(o.ID, o.Sync.Policy)
	}
	WriteJSON(w, http.StatusCreated, o)
}

// List returns every live orchestration.
func (h *OrchestrationHandler) List(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.engine.List())
}

// Get returns one orchestration.
func (h *OrchestrationHandler) Get(w http.ResponseWriter, r *http.Request) {
	o, err := h.engine.Get(mux.Vars(r)["id"])
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, o)
}

// Worktrees lists the orchestration's repository worktrees with
// dirtiness and ahead/behind annotations.
func (h *OrchestrationHandler) Worktrees(w http.ResponseWriter, r *http.Request) {
	infos, err := h.engine.ListWorktrees(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, infos)
}

// Dispatch delivers text to one or more workers.
func (h *OrchestrationHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	var req orchestration.DispatchRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteAppError(w, err)
		return
	}
	if req.Source == "" {
		req.Source = "api"
	}
	res, err := h.engine.Dispatch(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

type syncRequest struct {
	Force                 bool  `json:"force,omitempty"`
	DeliverToOrchestrator *bool `json:"deliverToOrchestrator,omitempty"`
}

// Sync runs a manual digest pass.
func (h *OrchestrationHandler) Sync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteAppError(w, err)
		return
	}
	res, err := h.engine.Sync(r.Context(), mux.Vars(r)["id"], orchestration.SyncOptions{
		Force:                 req.Force,
		DeliverToOrchestrator: req.DeliverToOrchestrator,
		Trigger:               "manual",
	})
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"sent":   res.Sent,
		"reason": res.Reason,
		"digest": map[string]interface{}{"hash": res.Hash, "changes": res.Changes},
	})
}

// Cleanup tears the orchestration down under its lock.
func (h *OrchestrationHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	var req orchestration.CleanupRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteAppError(w, err)
		return
	}
	id := mux.Vars(r)["id"]
	summary, err := h.engine.Cleanup(r.Context(), id, req)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	if h.scheduler != nil {
		h.scheduler.Stop(id)
	}
	WriteJSON(w, http.StatusOK, summary)
}

// PatchAutomation replaces the automation policy.
func (h *OrchestrationHandler) PatchAutomation(w http.ResponseWriter, r *http.Request) {
	var policy orchestration.AutomationPolicy
	if err := DecodeJSON(r, &policy); err != nil {
		WriteAppError(w, err)
		return
	}
	id := mux.Vars(r)["id"]
	if err := h.engine.SetAutomationPolicy(id, policy); err != nil {
		WriteAppError(w, err)
		return
	}
	o, err := h.engine.Get(id)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, o.Automation)
}

// PatchSyncPolicy replaces the digest sync policy and reconciles the
// interval timer.
func (h *OrchestrationHandler) PatchSyncPolicy(w http.ResponseWriter, r *http.Request) {
	var policy orchestration.SyncPolicy
	if err := DecodeJSON(r, &policy); err != nil {
		WriteAppError(w, err)
		return
	}
	id := mux.Vars(r)["id"]
	if err := h.engine.SetSyncPolicy(id, policy); err != nil {
		WriteAppError(w, err)
		return
	}
	if h.scheduler != nil {
		h.scheduler.Apply(id, policy)
	}
	o, err := h.engine.Get(id)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, o.Sync.Policy)
}
