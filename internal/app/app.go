// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app is the composition root: it builds the store, session
// supervisor, orchestration engine, attention router, command gate,
// auth, scheduler, and API server in dependency order, and tears them
// down in reverse on shutdown.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/orchd/orchd/internal/api"
	"github.com/orchd/orchd/internal/apperr"
	"github.com/orchd/orchd/internal/attention"
	"github.com/orchd/orchd/internal/auth"
	"github.com/orchd/orchd/internal/command"
	"github.com/orchd/orchd/internal/config"
	"github.com/orchd/orchd/internal/events"
	"github.com/orchd/orchd/internal/orchestration"
	"github.com/orchd/orchd/internal/session"
	"github.com/orchd/orchd/internal/store"
	"github.com/orchd/orchd/internal/syncsched"
	"github.com/orchd/orchd/internal/toollink"
	"github.com/orchd/orchd/internal/watcher"
	"github.com/orchd/orchd/internal/worktree"
)

// ClaudeAuthModeEnv overrides the default Claude env sanitization mode
// (api | subscription).
const ClaudeAuthModeEnv = "FYP_CLAUDE_AUTH_MODE"

// App is the main application container.
type App struct {
	mu sync.RWMutex

	configPath string
	version    string
	config     *config.Config

	store     *store.Store
	eventBus  events.EventBus
	sessions  *session.Manager
	router    *attention.Router
	engine    *orchestration.Manager
	gate      *command.Gate
	auth      *auth.Manager
	scheduler *syncsched.Scheduler
	linker    *toollink.Linker
	watcher   *watcher.FileWatcher
	apiServer *api.Server

	pidFile string

	done     chan struct{}
	stopOnce sync.Once
}

// Options holds startup options.
type Options struct {
	ConfigPath string
	Host       string
	Port       int
	Debug      bool
	Version    string
}

// New loads configuration and creates an App. Components are built in
// Initialize.
func New(opts Options) (*App, error) {
	app := &App{
		configPath: opts.ConfigPath,
		version:    opts.Version,
		done:       make(chan struct{}),
	}

	loader := config.NewLoader()
	cfg, err := loader.LoadWithDefaults(context.Background(), opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if opts.Host != "" {
		cfg.Server.Host = opts.Host
	}
	if opts.Port > 0 {
		cfg.Server.Port = opts.Port
	}
	app.config = cfg
	return app, nil
}

// Initialize builds every component in dependency order. A store that
// cannot be opened is fatal.
func (app *App) Initialize(ctx context.Context) error {
	cfg := app.config

	dataDir := cfg.Store.DataDir
	if dataDir == "" {
		dataDir = filepath.Join(filepath.Dir(app.configPath), ".orchd")
	}
	dbFile := cfg.Store.DBFile
	if dbFile == "" {
		dbFile = "orchd.db"
	}

	st, err := store.Open(dataDir, dbFile)
	if err != nil {
		return err
	}
	app.store = st
	app.pidFile = filepath.Join(dataDir, "server.pid")

	maxAge, _ := config.ParseDuration(cfg.Events.History.MaxAge)
	app.eventBus = events.NewMemoryEventBus(events.MemoryBusConfig{
		HistoryMaxEvents: cfg.Events.History.MaxEvents,
		HistoryMaxAge:    maxAge,
	})

	app.sessions = session.NewManager(app.eventBus)
	app.router = attention.NewRouter(st, app.sessions, app.eventBus)

	pairingTTL, _ := config.ParseDuration(cfg.Auth.PairingTTL)
	app.auth = auth.NewManager(st, auth.Config{
		PairingTTL:  pairingTTL,
		MaxAttempts: cfg.Auth.PairingMaxAttempts,
	})

	app.engine = orchestration.NewManager(orchestration.Deps{
		Sessions: app.sessions,
		Store:    st,
		Router:   app.router,
		Bus:      app.eventBus,
		Worktrees: func(repoDir string) (worktree.Manager, error) {
			return worktree.NewManager(worktree.NewRealGitExecutor(), app.eventBus, repoDir, cfg.Worktree.CreateDir)
		},
		Profiles: app.resolveProfile,
		AutomationDefaults: orchestration.AutomationPolicy{
			QuestionMode:      cfg.Automation.QuestionMode,
			SteeringMode:      cfg.Automation.SteeringMode,
			YoloMode:          cfg.Automation.YoloMode,
			QuestionTimeoutMs: cfg.Automation.QuestionTimeoutMs,
			ReviewIntervalMs:  cfg.Automation.ReviewIntervalMs,
		},
		SyncDefaults: orchestration.SyncPolicy{
			Mode:                  orchestration.SyncModeManual,
			DeliverToOrchestrator: true,
			MinDeliveryGapMs:      2000,
		},
	})
	app.scheduler = syncsched.NewScheduler(app.engine)
	app.gate = command.NewGate(st, &engineRunner{engine: app.engine})

	// Persist bus events and attach transcript capture as sessions come
	// and go.
	app.subscribeBridge()

	// Codex rollout-log linker, best-effort: missing ~/.codex just
	// means no tool-session linking.
	if home, err := os.UserHomeDir(); err == nil {
		sessionsDir := filepath.Join(home, ".codex", "sessions")
		if linker, err := toollink.NewLinker(sessionsDir); err == nil {
			app.linker = linker
		} else {
			log.Printf("Warning: codex session linker disabled: %v", err)
		}
	}

	// Command tier overrides hot reload.
	if cfg.Watch.Dir != "" {
		debounce, _ := config.ParseDuration(cfg.Watch.Debounce)
		if fw, err := watcher.NewFileWatcher(debounce); err == nil {
			app.watcher = fw
			overridesPath := filepath.Join(cfg.Watch.Dir, "command-tiers.json")
			reload := func() {
				overrides, err := command.LoadTierOverrides(overridesPath)
				if err != nil {
					log.Printf("Warning: command tier overrides: %v", err)
					return
				}
				applied := command.ApplyTierOverrides(overrides)
				log.Printf("Applied %d command tier overrides", applied)
			}
			if _, err := os.Stat(overridesPath); err == nil {
				reload()
			}
			if err := fw.Watch(overridesPath, reload); err != nil {
				log.Printf("Warning: watch %s: %v", overridesPath, err)
			}
		} else {
			log.Printf("Warning: file watcher disabled: %v", err)
		}
	}

	app.apiServer = api.NewServer(
		api.ServerConfig{
			Host:         cfg.Server.Host,
			Port:         cfg.Server.Port,
			TLSCert:      cfg.Server.TLSCert,
			TLSKey:       cfg.Server.TLSKey,
			TLSTailscale: cfg.Server.TLSTailscale,
		},
		api.Dependencies{
			Sessions:  app.sessions,
			Store:     st,
			Engine:    app.engine,
			Router:    app.router,
			Gate:      app.gate,
			Auth:      app.auth,
			Scheduler: app.scheduler,
			EventBus:  app.eventBus,
			Profiles:  app.resolveProfile,
			Version:   app.version,
		},
	)

	return nil
}

// resolveProfile maps (tool, profileId) onto a launch recipe from the
// config's profiles table, falling back to invoking the tool binary
// directly.
func (app *App) resolveProfile(tool, profileID string) (orchestration.SpawnProfile, error) {
	claudeAuthMode := os.Getenv(ClaudeAuthModeEnv)

	if p, ok := app.config.Profiles[profileID]; ok {
		resolvedTool := p.Tool
		if resolvedTool == "" {
			resolvedTool = tool
		}
		mode := p.ClaudeAuthMode
		if mode == "" {
			mode = claudeAuthMode
		}
		cmd := p.Command
		if len(cmd) == 0 {
			cmd = []string{resolvedTool}
		}
		return orchestration.SpawnProfile{
			Tool:           resolvedTool,
			Command:        cmd,
			Env:            p.Env,
			ExtraArgs:      p.ExtraArgs,
			ClaudeAuthMode: mode,
		}, nil
	}

	switch tool {
	case session.ToolCodex, session.ToolClaude, session.ToolOpenCode:
		return orchestration.SpawnProfile{
			Tool:           tool,
			Command:        []string{tool},
			ClaudeAuthMode: claudeAuthMode,
		}, nil
	}
	return orchestration.SpawnProfile{}, apperr.New(apperr.CodeBadInput, "unknown tool "+tool)
}

// subscribeBridge persists bus events into the durable log and hooks
// per-session side effects: transcript capture, exit bookkeeping, and
// codex tool-session linking.
func (app *App) subscribeBridge() {
	app.eventBus.SubscribeAsync("*", func(ctx context.Context, e events.Event) error {
		if e.SessionID == "" {
			return nil
		}
		// The engine appends its dispatch events itself, to guarantee
		// write-before-event ordering.
		if e.Kind != events.KindOrchestrationDispatch {
			data, _ := json.Marshal(e.Payload)
			if _, err := app.store.AppendEvent(e.SessionID, e.Kind, string(data), e.Timestamp); err != nil {
				log.Printf("Warning: persist event %s: %v", e.Kind, err)
			}
		}

		switch e.Kind {
		case events.KindSessionCreated:
			app.onSessionCreated(e)
		case events.KindSessionExit:
			app.onSessionExit(e)
		}
		return nil
	}, 1024)
}

func (app *App) onSessionCreated(e events.Event) {
	sid := e.SessionID

	// Capture the transcript.
	if _, err := app.sessions.OnOutput(sid, func(id string, data []byte) {
		if err := app.store.AppendOutput(id, data, time.Now()); err != nil {
			log.Printf("Warning: persist output for %s: %v", id, err)
		}
	}); err != nil {
		log.Printf("Warning: attach output capture for %s: %v", sid, err)
	}

	// Link codex sessions to their rollout logs.
	tool, _ := e.Payload["tool"].(string)
	cwd, _ := e.Payload["cwd"].(string)
	if tool == session.ToolCodex && app.linker != nil {
		spawnedAt := e.Timestamp
		if spawnedAt.IsZero() {
			spawnedAt = time.Now()
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 6*time.Second)
			defer cancel()
			toolSessionID, err := app.linker.Await(ctx, cwd, spawnedAt)
			if err != nil {
				return
			}
			now := time.Now().UnixMilli()
			if err := app.store.UpdateSessionMeta(sid, &toolSessionID, nil, nil, now); err != nil {
				log.Printf("Warning: record tool link for %s: %v", sid, err)
				return
			}
			app.eventBus.Publish(context.Background(), events.Event{
				Kind:      events.KindSessionToolLink,
				SessionID: sid,
				Payload:   map[string]interface{}{"toolSessionId": toolSessionID},
			})
		}()
	}
}

func (app *App) onSessionExit(e events.Event) {
	var exitCode *int
	if v, ok := e.Payload["exitCode"].(float64); ok {
		code := int(v)
		exitCode = &code
	} else if v, ok := e.Payload["exitCode"].(*int); ok {
		exitCode = v
	} else if v, ok := e.Payload["exitCode"].(int); ok {
		exitCode = &v
	}
	signalName, _ := e.Payload["signal"].(string)
	if err := app.store.MarkSessionExited(e.SessionID, exitCode, signalName, time.Now().UnixMilli()); err != nil {
		log.Printf("Warning: record exit for %s: %v", e.SessionID, err)
	}
}

// Start writes the pid file and begins serving.
func (app *App) Start(ctx context.Context) error {
	if err := app.writePidFile(); err != nil {
		log.Printf("Warning: write pid file: %v", err)
	}

	go func() {
		if err := app.apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Port bind failure is fatal.
			log.Printf("API server error: %v", err)
			app.Stop()
		}
	}()
	return nil
}

// Run initializes, starts, and blocks until a shutdown signal.
func (app *App) Run(ctx context.Context) error {
	if err := app.Initialize(ctx); err != nil {
		return err
	}
	if err := app.Start(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, shutting down...", sig)
	case <-ctx.Done():
		log.Printf("Context cancelled, shutting down...")
	case <-app.done:
		log.Printf("Shutdown requested...")
	}

	return app.Shutdown(context.Background())
}

// Shutdown tears everything down in reverse dependency order.
func (app *App) Shutdown(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if app.apiServer != nil {
		if err := app.apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error shutting down API server: %v", err)
		}
	}
	if app.scheduler != nil {
		app.scheduler.Shutdown()
	}
	if app.watcher != nil {
		app.watcher.Close()
	}
	if app.engine != nil {
		app.engine.Dispose()
	}
	if app.linker != nil {
		app.linker.Close()
	}
	if app.sessions != nil {
		app.sessions.Dispose()
	}
	if app.eventBus != nil {
		app.eventBus.Close()
	}
	if app.store != nil {
		app.store.Close()
	}
	app.removePidFile()

	log.Println("Shutdown complete")
	return nil
}

// Stop signals Run to shut down. Safe to call multiple times.
func (app *App) Stop() {
	app.stopOnce.Do(func() {
		close(app.done)
	})
}

// pidFileContents is the JSON written to server.pid.
type pidFileContents struct {
	Pid       int       `json:"pid"`
	Port      int       `json:"port"`
	Bind      string    `json:"bind"`
	StartedAt time.Time `json:"startedAt"`
}

// writePidFile records the process identity with an atomic
// rename-into-place write.
func (app *App) writePidFile() error {
	data, err := json.Marshal(pidFileContents{
		Pid:       os.Getpid(),
		Port:      app.config.Server.Port,
		Bind:      app.config.Server.Host,
		StartedAt: time.Now(),
	})
	if err != nil {
		return err
	}
	tmp := app.pidFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, app.pidFile)
}

func (app *App) removePidFile() {
	if app.pidFile != "" {
		os.Remove(app.pidFile)
	}
}

// engineRunner adapts the orchestration engine to the command gate's
// Runner interface.
type engineRunner struct {
	engine *orchestration.Manager
}

func (r *engineRunner) DispatchToWorkers(ctx context.Context, orchestrationID string, req command.WorkerDispatch) (map[string]any, error) {
	res, err := r.engine.Dispatch(ctx, orchestrationID, orchestration.DispatchRequest{
		Target:                    req.Target,
		Text:                      req.Text,
		Interrupt:                 req.Interrupt,
		ForceInterrupt:            req.ForceInterrupt,
		IncludeBootstrapIfPresent: req.IncludeBootstrap,
		Source:                    "command",
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"sent":               res.Sent,
		"failed":             res.Failed,
		"count":              map[string]any{"sent": len(res.Sent), "failed": len(res.Failed)},
		"injectedBootstrap":  res.InjectedBootstrap,
		"interruptRequested": res.InterruptRequested,
	}, nil
}

func (r *engineRunner) WriteOrchestrator(orchestrationID, text string) error {
	return r.engine.WriteOrchestrator(orchestrationID, text)
}

func (r *engineRunner) SyncNow(ctx context.Context, orchestrationID string, deliverToOrchestrator bool) (map[string]any, error) {
	res, err := r.engine.Sync(ctx, orchestrationID, orchestration.SyncOptions{
		Force:                 true,
		DeliverToOrchestrator: &deliverToOrchestrator,
		Trigger:               "manual",
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"sent":   res.Sent,
		"reason": res.Reason,
		"digest": map[string]any{"hash": res.Hash, "changes": res.Changes},
	}, nil
}
