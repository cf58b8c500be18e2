// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"

	"github.com/orchd/orchd/internal/apperr"
	"github.com/orchd/orchd/internal/command"
)

// CommandHandler serves the command execution gate.
type CommandHandler struct {
	gate *command.Gate
}

// NewCommandHandler creates a command handler.
func NewCommandHandler(gate *command.Gate) *CommandHandler {
	return &CommandHandler{gate: gate}
}

type commandView struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Mode  string `json:"mode"`
	Tier  string `json:"tier"`
}

// List enumerates the registered commands.
func (h *CommandHandler) List(w http.ResponseWriter, r *http.Request) {
	out := make([]commandView, 0, len(command.Registry))
	for _, spec := range command.Registry {
		out = append(out, commandView{
			ID: spec.ID, Title: spec.Title,
			Mode: string(spec.Mode), Tier: string(spec.Tier),
		})
	}
	WriteJSON(w, http.StatusOK, out)
}

type executeRequest struct {
	OrchestrationID string         `json:"orchestrationId"`
	CommandID       string         `json:"commandId"`
	Payload         map[string]any `json:"payload,omitempty"`
}

// Execute validates, policy-checks, and runs a named command. The
// idempotency-key header makes the call replayable.
func (h *CommandHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteAppError(w, err)
		return
	}
	if req.OrchestrationID == "" || req.CommandID == "" {
		WriteAppError(w, apperr.New(apperr.CodeBadInput, "orchestrationId and commandId are required"))
		return
	}

	key := r.Header.Get("Idempotency-Key")
	resp, err := h.gate.Execute(r.Context(), req.OrchestrationID, req.CommandID, req.Payload, key)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}
