// app.go
package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"cadpilot/internal/agent"
	"cadpilot/internal/checkpoint"
	"cadpilot/internal/claude"
	"cadpilot/internal/compiler"
	"cadpilot/internal/config"
	"cadpilot/internal/database"
	"cadpilot/internal/eventhub"
	"cadpilot/internal/git"
	"cadpilot/internal/tools"
)

const defaultSystemPrompt = "You are a parametric CAD assistant working on OpenSCAD projects. " +
	"Use the provided capabilities to inspect, edit, compile and preview the design files. " +
	"Prefer small, verifiable edits and compile after meaningful changes."

// App contains the core application state and managers.
type App struct {
	ctx    context.Context
	mu     sync.RWMutex
	config *config.Config

	dbManager    *database.Database
	eventHub     *eventhub.EventHub
	journal      *checkpoint.Journal
	scadCompiler *compiler.Compiler
	agentRuntime *claude.Runtime

	// per-project state, rebuilt by OpenProject
	projectPath  string
	registry     *agent.Registry
	orchestrator *agent.Orchestrator
	watcher      *git.ProjectWatcher

	// per-turn state
	turnScope  *checkpoint.Scope
	turnCancel context.CancelFunc
}

// NewApp creates a new App application struct.
func NewApp() *App {
	return &App{}
}

// startup is called when the app starts (Wails callback).
func (a *App) startup(ctx context.Context) {
	a.startupCommon(ctx)
}

// Startup is the exported version for the standalone server.
func (a *App) Startup(ctx context.Context) {
	a.startupCommon(ctx)
}

func (a *App) startupCommon(ctx context.Context) {
	a.ctx = ctx

	cfg, err := config.Load()
	if err != nil {
		runtime.LogError(ctx, "Failed to load config: "+err.Error())
		return
	}
	a.config = cfg

	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		runtime.LogError(ctx, "Failed to open database: "+err.Error())
	} else {
		a.dbManager = db
	}

	a.eventHub = eventhub.New(ctx)
	a.journal = checkpoint.NewJournal(cfg.Settings.MaxCheckpoints)
	a.scadCompiler = compiler.New(cfg.Settings.CompilerPath,
		time.Duration(cfg.Settings.CompileTimeoutMs)*time.Millisecond)
	a.agentRuntime = claude.NewRuntime(cfg.Settings.AgentBinaryPath)

	runtime.LogInfo(ctx, "cadpilot started successfully")
}

// shutdown is called when the app is shutting down (Wails callback).
func (a *App) shutdown(ctx context.Context) {
	a.shutdownCommon(ctx)
}

// Shutdown is the exported version for the standalone server.
func (a *App) Shutdown(ctx context.Context) {
	a.shutdownCommon(ctx)
}

func (a *App) shutdownCommon(ctx context.Context) {
	a.mu.Lock()
	if a.turnCancel != nil {
		a.turnCancel()
	}
	watcher := a.watcher
	a.mu.Unlock()

	if watcher != nil {
		watcher.Close()
	}
	if a.dbManager != nil {
		a.dbManager.Close()
	}

	runtime.LogInfo(ctx, "cadpilot shutdown complete")
}

// SetEventHubBroadcaster installs the event transport (WebSocket mode).
func (a *App) SetEventHubBroadcaster(broadcaster eventhub.Broadcaster) {
	if a.eventHub != nil {
		a.eventHub.SetBroadcaster(broadcaster)
	}
}

// currentScope is the Snapshotter provider handed to the capability set;
// it returns nil between turns so tool-free paths never open checkpoints.
func (a *App) currentScope() tools.Snapshotter {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.turnScope == nil {
		return nil
	}
	return a.turnScope
}

// checkpointDescription derives a journal entry title from the user
// message, truncating on a rune boundary.
func checkpointDescription(text string) string {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\n", " "))
	const max = 80
	runes := []rune(text)
	if len(runes) > max {
		return string(runes[:max]) + "..."
	}
	return text
}

// Greet returns a greeting for the given name (keep for testing).
func (a *App) Greet(name string) string {
	return fmt.Sprintf("Hello %s, Welcome to cadpilot!", name)
}
