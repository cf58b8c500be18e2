// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/orchd/orchd/internal/events"
	"github.com/orchd/orchd/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// EventHandler serves the live event stream and history.
type EventHandler struct {
	bus      events.EventBus
	sessions *session.Manager
}

// NewEventHandler creates an event handler.
func NewEventHandler(bus events.EventBus, sessions *session.Manager) *EventHandler {
	return &EventHandler{bus: bus, sessions: sessions}
}

// History returns recent events from the in-memory ring.
func (h *EventHandler) History(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := events.EventFilter{SessionID: q.Get("sessionId")}
	if kinds := q["kind"]; len(kinds) > 0 {
		filter.Kinds = kinds
	}
	if s := q.Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	evs, err := h.bus.History(filter)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, evs)
}

// WebSocket streams matching events to the client until it disconnects.
// Disconnects cancel only this subscription; sessions keep running.
func (h *EventHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		pattern = "*"
	}

	var writeMu sync.Mutex
	subID, err := h.bus.SubscribeAsync(pattern, func(ctx context.Context, event events.Event) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(event)
	}, 256)
	if err != nil {
		return
	}
	defer h.bus.Unsubscribe(subID)

	// Reader loop doubles as disconnect detection; pings keep idle
	// proxies from dropping the stream.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			writeMu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// wsInput is one client→server frame on the session socket.
type wsInput struct {
	Type string `json:"type"` // input | resize | interrupt
	Data string `json:"data,omitempty"`
	Cols int    `json:"cols,omitempty"`
	Rows int    `json:"rows,omitempty"`
}

// SessionStream bridges one session's PTY over a WebSocket: raw output
// frames flow out, input/resize/interrupt frames flow in.
func (h *EventHandler) SessionStream(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := h.sessions.Status(id); err != nil {
		WriteAppError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	unsubOut, err := h.sessions.OnOutput(id, func(_ string, data []byte) {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.WriteMessage(websocket.BinaryMessage, data)
	})
	if err != nil {
		return
	}
	defer unsubOut()

	unsubExit, err := h.sessions.OnExit(id, func(_ string, status session.Status) {
		payload, _ := json.Marshal(map[string]interface{}{
			"type":     "exit",
			"exitCode": status.ExitCode,
			"signal":   status.Signal,
		})
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.WriteMessage(websocket.TextMessage, payload)
	})
	if err != nil {
		return
	}
	defer unsubExit()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType == websocket.BinaryMessage {
			h.sessions.Write(id, data)
			continue
		}
		var in wsInput
		if err := json.Unmarshal(data, &in); err != nil {
			continue
		}
		switch in.Type {
		case "input":
			h.sessions.Write(id, []byte(in.Data))
		case "resize":
			h.sessions.Resize(id, in.Cols, in.Rows)
		case "interrupt":
			h.sessions.Interrupt(id)
		}
	}
}
