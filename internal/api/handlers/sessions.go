// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/orchd/orchd/internal/apperr"
	"github.com/orchd/orchd/internal/orchestration"
	"github.com/orchd/orchd/internal/session"
	"github.com/orchd/orchd/internal/store"
)

// SessionHandler serves the session CRUD and control routes.
type SessionHandler struct {
	sessions *session.Manager
	store    *store.Store
	profiles orchestration.ProfileResolver
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(sessions *session.Manager, st *store.Store, profiles orchestration.ProfileResolver) *SessionHandler {
	return &SessionHandler{sessions: sessions, store: st, profiles: profiles}
}

type sessionView struct {
	store.Session
	Running bool `json:"running"`
	Pid     int  `json:"pid,omitempty"`
}

// List returns every session row joined with live status.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	rows, err := h.store.ListSessions()
	if err != nil {
		WriteAppError(w, err)
		return
	}
	views := make([]sessionView, 0, len(rows))
	for _, row := range rows {
		v := sessionView{Session: row}
		if st, err := h.sessions.Status(row.ID); err == nil {
			v.Running = st.Running
			v.Pid = st.Pid
		}
		views = append(views, v)
	}
	WriteJSON(w, http.StatusOK, views)
}

type createSessionRequest struct {
	ID        string            `json:"id,omitempty"`
	Tool      string            `json:"tool"`
	ProfileID string            `json:"profileId"`
	Cwd       string            `json:"cwd,omitempty"`
	ExtraArgs []string          `json:"extraArgs,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Label     string            `json:"label,omitempty"`
}

// Create spawns a new standalone session.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteAppError(w, err)
		return
	}
	profile, err := h.profiles(req.Tool, req.ProfileID)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	cwd := req.Cwd
	if cwd == "" {
		cwd = "."
	}

	id, err := h.sessions.Create(session.CreateOptions{
		ID:             req.ID,
		Tool:           profile.Tool,
		ProfileID:      req.ProfileID,
		Command:        profile.Command,
		Cwd:            cwd,
		ExtraArgs:      append(append([]string(nil), profile.ExtraArgs...), req.ExtraArgs...),
		Env:            mergeEnvMaps(profile.Env, req.Env),
		ClaudeAuthMode: profile.ClaudeAuthMode,
	})
	if err != nil {
		WriteAppError(w, err)
		return
	}

	now := time.Now()
	if err := h.store.CreateSession(store.Session{
		ID: id, Tool: profile.Tool, ProfileID: req.ProfileID, Cwd: cwd,
		Label: req.Label, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		h.sessions.Forget(id)
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// Get returns one session with live status.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	row, err := h.store.GetSession(id)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	v := sessionView{Session: *row}
	if st, err := h.sessions.Status(id); err == nil {
		v.Running = st.Running
		v.Pid = st.Pid
	}
	WriteJSON(w, http.StatusOK, v)
}

// Delete removes a session and its rows. Refused while the process is
// still running unless ?force=1.
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := h.store.GetSession(id); err != nil {
		WriteAppError(w, err)
		return
	}

	force := r.URL.Query().Get("force") == "1" || r.URL.Query().Get("force") == "true"
	if st, err := h.sessions.Status(id); err == nil && st.Running && !force {
		WriteAppError(w, apperr.New(apperr.CodeSessionRunning, id))
		return
	}

	h.sessions.Forget(id)
	if err := h.store.DeleteSession(id); err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

type writeRequest struct {
	Data string `json:"data"`
}

// Write sends raw input to the session's PTY.
func (h *SessionHandler) Write(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req writeRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteAppError(w, err)
		return
	}
	if err := h.sessions.Write(id, []byte(req.Data)); err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Interrupt sends Ctrl-C plus a delayed SIGINT.
func (h *SessionHandler) Interrupt(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Interrupt(mux.Vars(r)["id"]); err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Kill SIGKILLs the session process.
func (h *SessionHandler) Kill(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Kill(mux.Vars(r)["id"]); err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type resizeRequest struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

// Resize sets the PTY window size.
func (h *SessionHandler) Resize(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req resizeRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteAppError(w, err)
		return
	}
	if err := h.sessions.Resize(id, req.Cols, req.Rows); err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Events returns the durable event log for a session.
func (h *SessionHandler) Events(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	afterID := int64(0)
	if s := r.URL.Query().Get("after"); s != "" {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			afterID = n
		}
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			limit = n
		}
	}
	evs, err := h.store.SessionEvents(id, afterID, limit)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, evs)
}

// Output returns the recorded transcript chunks.
func (h *SessionHandler) Output(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	afterID := int64(0)
	if s := r.URL.Query().Get("after"); s != "" {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			afterID = n
		}
	}
	chunks, err := h.store.SessionOutput(id, afterID)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	type chunkView struct {
		ID   int64  `json:"id"`
		Ts   int64  `json:"ts"`
		Data string `json:"data"`
	}
	out := make([]chunkView, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, chunkView{ID: c.ID, Ts: c.Timestamp.UnixMilli(), Data: string(c.Data)})
	}
	WriteJSON(w, http.StatusOK, out)
}

func mergeEnvMaps(base, extra map[string]string) map[string]string {
	if len(base) == 0 && len(extra) == 0 {
		return nil
	}
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
