// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package api is the thin external surface: HTTP/WS routing and TLS,
// delegating every request to the core components.
package api

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/net/netutil"

	"github.com/orchd/orchd/internal/api/handlers"
	"github.com/orchd/orchd/internal/api/middleware"
	"github.com/orchd/orchd/internal/attention"
	"github.com/orchd/orchd/internal/auth"
	"github.com/orchd/orchd/internal/command"
	"github.com/orchd/orchd/internal/events"
	"github.com/orchd/orchd/internal/orchestration"
	"github.com/orchd/orchd/internal/session"
	"github.com/orchd/orchd/internal/store"
	"github.com/orchd/orchd/internal/syncsched"
)

// maxConns bounds concurrently open client connections.
const maxConns = 512

// ServerConfig holds bind and TLS configuration.
type ServerConfig struct {
	Host         string
	Port         int
	TLSCert      string
	TLSKey       string
	TLSTailscale bool
}

// Dependencies holds the core components the handlers delegate to.
type Dependencies struct {
	Sessions      *session.Manager
	Store         *store.Store
	Engine        *orchestration.Manager
	Router        *attention.Router
	Gate          *command.Gate
	Auth          *auth.Manager
	Scheduler     *syncsched.Scheduler
	EventBus      events.EventBus
	Profiles      orchestration.ProfileResolver
	Version       string
}

// NewRouter builds the route table.
func NewRouter(deps Dependencies) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)
	r.Use(middleware.CORS)
	if deps.Auth != nil {
		r.Use(middleware.Auth(deps.Auth))
	}

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		handlers.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": deps.Version})
	}).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()

	sessionHandler := handlers.NewSessionHandler(deps.Sessions, deps.Store, deps.Profiles)
	api.HandleFunc("/sessions", sessionHandler.List).Methods("GET")
	api.HandleFunc("/sessions", sessionHandler.Create).Methods("POST")
	api.HandleFunc("/sessions/{id}", sessionHandler.Get).Methods("GET")
	api.HandleFunc("/sessions/{id}", sessionHandler.Delete).Methods("DELETE")
	api.HandleFunc("/sessions/{id}/write", sessionHandler.Write).Methods("POST")
	api.HandleFunc("/sessions/{id}/interrupt", sessionHandler.Interrupt).Methods("POST")
	api.HandleFunc("/sessions/{id}/kill", sessionHandler.Kill).Methods("POST")
	api.HandleFunc("/sessions/{id}/resize", sessionHandler.Resize).Methods("POST")
	api.HandleFunc("/sessions/{id}/events", sessionHandler.Events).Methods("GET")
	api.HandleFunc("/sessions/{id}/output", sessionHandler.Output).Methods("GET")

	eventHandler := handlers.NewEventHandler(deps.EventBus, deps.Sessions)
	api.HandleFunc("/sessions/{id}/stream", eventHandler.SessionStream).Methods("GET")
	api.HandleFunc("/events", eventHandler.History).Methods("GET")
	api.HandleFunc("/events/ws", eventHandler.WebSocket).Methods("GET")

	orchHandler := handlers.NewOrchestrationHandler(deps.Engine, deps.Scheduler)
	api.HandleFunc("/orchestrations", orchHandler.List).Methods("GET")
	api.HandleFunc("/orchestrations", orchHandler.Create).Methods("POST")
	api.HandleFunc("/orchestrations/{id}", orchHandler.Get).Methods("GET")
	api.HandleFunc("/orchestrations/{id}/worktrees", orchHandler.Worktrees).Methods("GET")
	api.HandleFunc("/orchestrations/{id}/dispatch", orchHandler.Dispatch).Methods("POST")
	api.HandleFunc("/orchestrations/{id}/sync", orchHandler.Sync).Methods("POST")
	api.HandleFunc("/orchestrations/{id}/cleanup", orchHandler.Cleanup).Methods("POST")
	api.HandleFunc("/orchestrations/{id}/automation", orchHandler.PatchAutomation).Methods("PATCH")
	api.HandleFunc("/orchestrations/{id}/sync-policy", orchHandler.PatchSyncPolicy).Methods("PATCH")

	inboxHandler := handlers.NewInboxHandler(deps.Router, deps.Engine)
	api.HandleFunc("/inbox", inboxHandler.List).Methods("GET")
	api.HandleFunc("/inbox", inboxHandler.Create).Methods("POST")
	api.HandleFunc("/inbox/counts", inboxHandler.Counts).Methods("GET")
	api.HandleFunc("/inbox/{id}/respond", inboxHandler.Respond).Methods("POST")
	api.HandleFunc("/inbox/{id}/dismiss", inboxHandler.Dismiss).Methods("POST")

	commandHandler := handlers.NewCommandHandler(deps.Gate)
	api.HandleFunc("/commands", commandHandler.List).Methods("GET")
	api.HandleFunc("/commands/execute", commandHandler.Execute).Methods("POST")

	if deps.Auth != nil {
		authHandler := handlers.NewAuthHandler(deps.Auth)
		api.HandleFunc("/auth/pairing", authHandler.Pairing).Methods("POST")
		api.HandleFunc("/auth/exchange", authHandler.Exchange).Methods("POST")
		api.HandleFunc("/auth/revoke", authHandler.Revoke).Methods("POST")
	}

	return r
}

// Server is the API HTTP server.
type Server struct {
	router *mux.Router
	cfg    ServerConfig
	server *http.Server
}

// NewServer creates the API server.
func NewServer(cfg ServerConfig, deps Dependencies) *Server {
	return &Server{router: NewRouter(deps), cfg: cfg}
}

// Router returns the underlying router, for tests.
func (s *Server) Router() *mux.Router { return s.router }

// ListenAndServe binds and serves until Shutdown. A port bind failure
// is returned to the caller; it is one of the two fatal startup
// conditions.
func (s *Server) ListenAndServe() error {
	addr := s.cfg.Host + ":" + strconv.Itoa(s.cfg.Port)
	s.server = &http.Server{Addr: addr, Handler: s.router}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("api: bind %s: %w", addr, err)
	}
	// Each WS stream holds a connection open; cap the total so a
	// misbehaving client can't exhaust file descriptors.
	ln = netutil.LimitListener(ln, maxConns)

	tlsConfig, enabled, err := buildTLSConfig(s.cfg)
	if err != nil {
		ln.Close()
		return err
	}
	if enabled {
		s.server.TLSConfig = tlsConfig
		log.Printf("API server listening on https://%s", addr)
		return s.server.ServeTLS(ln, "", "")
	}

	log.Printf("API server listening on http://%s", addr)
	return s.server.Serve(ln)
}

// Shutdown drains in-flight requests and closes the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	shutdownCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}
	return s.server.Shutdown(shutdownCtx)
}
