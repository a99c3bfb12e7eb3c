// bindings.go
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"cadpilot/internal/agent"
	"cadpilot/internal/checkpoint"
	"cadpilot/internal/compiler"
	"cadpilot/internal/config"
	"cadpilot/internal/database"
	"cadpilot/internal/eventhub"
	"cadpilot/internal/git"
	"cadpilot/internal/tools"
)

// ===== Projects =====

// OpenProject makes path the active design project: it rebuilds the
// per-project agent state and starts watching the directory.
func (a *App) OpenProject(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("open project: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("project path is not a directory: %s", path)
	}

	registry := agent.NewRegistry()
	tools.RegisterBuiltins(registry, tools.Deps{
		ProjectRoot: path,
		Scope:       a.currentScope,
		Compiler:    a.scadCompiler,
		Images:      a, // forwards to the active orchestrator
	})

	maxTurns := a.config.Settings.AgentMaxTurns
	if maxTurns <= 0 {
		maxTurns = 30
	}
	orchestrator := agent.NewOrchestrator(a.agentRuntime, registry, agent.Options{
		SystemPrompt:     defaultSystemPrompt,
		MaxTurns:         maxTurns,
		WorkingDirectory: path,
	})

	watcher, err := git.NewProjectWatcher(path, a.eventHub)
	if err == nil {
		if startErr := watcher.Start(); startErr != nil {
			watcher.Close()
			watcher = nil
		}
	} else {
		watcher = nil
	}

	a.mu.Lock()
	oldWatcher := a.watcher
	a.projectPath = path
	a.registry = registry
	a.orchestrator = orchestrator
	a.watcher = watcher
	a.mu.Unlock()

	if oldWatcher != nil {
		oldWatcher.Close()
	}

	if a.dbManager != nil {
		if err := a.dbManager.UpsertProject(path, filepath.Base(path)); err != nil {
			return fmt.Errorf("record project: %w", err)
		}
	}
	return nil
}

// CurrentProject returns the active project path, "" when none is open.
func (a *App) CurrentProject() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.projectPath
}

// ListProjects returns the known projects, most recently opened first.
func (a *App) ListProjects() ([]database.Project, error) {
	if a.dbManager == nil {
		return nil, fmt.Errorf("database unavailable")
	}
	return a.dbManager.ListProjects()
}

// DeleteProject forgets a project and its saved conversations.
func (a *App) DeleteProject(path string) error {
	if a.dbManager == nil {
		return fmt.Errorf("database unavailable")
	}
	return a.dbManager.DeleteProject(path)
}

// ===== Agent conversation =====

// TakePendingImages forwards to the active orchestrator so the
// image-retrieval capability can consume the current turn's attachments.
func (a *App) TakePendingImages() []agent.ImageAttachment {
	a.mu.RLock()
	orchestrator := a.orchestrator
	a.mu.RUnlock()

	if orchestrator == nil {
		return nil
	}
	return orchestrator.TakePendingImages()
}

// SendAgentMessage starts one conversational turn. imagesJSON is an
// optional JSON array of image attachments ("" or "[]" for none). Turn
// progress is delivered through agent:* events; the call returns as soon
// as the turn is accepted.
func (a *App) SendAgentMessage(text string, imagesJSON string) error {
	a.mu.Lock()
	orchestrator := a.orchestrator
	projectPath := a.projectPath
	if orchestrator == nil {
		a.mu.Unlock()
		return fmt.Errorf("no project open")
	}
	if a.turnScope != nil {
		a.mu.Unlock()
		a.eventHub.EmitAgentError("a turn is already in progress")
		return fmt.Errorf("a turn is already in progress")
	}

	var images []agent.ImageAttachment
	if imagesJSON != "" && imagesJSON != "[]" {
		if err := json.Unmarshal([]byte(imagesJSON), &images); err != nil {
			a.mu.Unlock()
			return fmt.Errorf("parse images: %w", err)
		}
	}

	scope := checkpoint.NewScope(a.journal, projectPath, checkpointDescription(text))
	ctx, cancel := context.WithCancel(a.ctx)
	a.turnScope = scope
	a.turnCancel = cancel
	a.mu.Unlock()

	finish := func() {
		scope.Finalize()
		a.mu.Lock()
		a.turnScope = nil
		a.turnCancel = nil
		a.mu.Unlock()
		cancel()
		a.eventHub.EmitCheckpointChanged(projectPath)
	}

	cb := a.eventHub.Callbacks()
	wrapped := agent.Callbacks{
		OnToken:          cb.OnToken,
		OnToolCallStart:  cb.OnToolCallStart,
		OnToolCallResult: cb.OnToolCallResult,
		OnEnd: func() {
			finish()
			cb.OnEnd()
		},
		OnError: func(message string) {
			finish()
			cb.OnError(message)
		},
	}

	go orchestrator.SendMessage(ctx, text, images, wrapped)
	return nil
}

// StopAgentTurn cancels the in-flight turn, if any.
func (a *App) StopAgentTurn() {
	a.mu.RLock()
	cancel := a.turnCancel
	a.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
}

// GetConversation returns the active conversation transcript.
func (a *App) GetConversation() []agent.Message {
	a.mu.RLock()
	orchestrator := a.orchestrator
	a.mu.RUnlock()

	if orchestrator == nil {
		return nil
	}
	return orchestrator.History()
}

// ===== Checkpoints =====

// ListCheckpoints returns the active project's undo checkpoints, oldest
// first.
func (a *App) ListCheckpoints() []checkpoint.Checkpoint {
	a.mu.RLock()
	projectPath := a.projectPath
	a.mu.RUnlock()

	if projectPath == "" {
		return nil
	}
	return a.journal.List(projectPath)
}

// UndoCheckpoint restores the files recorded in a checkpoint. The
// checkpoint is consumed whether or not every file restored cleanly.
func (a *App) UndoCheckpoint(checkpointID string) checkpoint.UndoResult {
	result := a.journal.Undo(checkpointID)

	a.mu.RLock()
	projectPath := a.projectPath
	a.mu.RUnlock()
	if projectPath != "" {
		a.eventHub.EmitCheckpointChanged(projectPath)
	}
	return result
}

// ===== Compiler =====

// CompileModel compiles a .scad file from the active project and emits a
// compile:finished event with the outcome.
func (a *App) CompileModel(path string) (*compiler.Result, error) {
	source, full, err := a.readProjectFile(path)
	if err != nil {
		return nil, err
	}

	result, err := a.scadCompiler.Compile(a.ctx, source)
	if err != nil {
		return nil, err
	}

	a.eventHub.EmitCompileFinished(eventhub.CompileFinishedEvent{
		Path:        full,
		Success:     result.Success,
		Diagnostics: result.Diagnostics,
		DurationMs:  result.DurationMs,
	})
	return result, nil
}

// RenderPreviewImage renders a .scad file to a PNG and returns it
// base64-encoded for the viewer.
func (a *App) RenderPreviewImage(path string, width, height int) (string, error) {
	source, _, err := a.readProjectFile(path)
	if err != nil {
		return "", err
	}

	result, err := a.scadCompiler.RenderPreview(a.ctx, source, width, height)
	if err != nil {
		return "", err
	}
	if !result.Success {
		return "", fmt.Errorf("render failed: %s", result.Diagnostics)
	}
	return base64.StdEncoding.EncodeToString(result.Artifact), nil
}

func (a *App) readProjectFile(path string) (source, fullPath string, err error) {
	a.mu.RLock()
	projectPath := a.projectPath
	a.mu.RUnlock()

	if projectPath == "" {
		return "", "", fmt.Errorf("no project open")
	}

	fullPath = path
	if !filepath.IsAbs(fullPath) {
		fullPath = filepath.Join(projectPath, path)
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		return "", "", fmt.Errorf("read %s: %w", fullPath, err)
	}
	return string(data), fullPath, nil
}

// ===== Saved conversations =====

// SaveConversation persists the active transcript under the given title.
// A new id is allocated when id is "".
func (a *App) SaveConversation(id, title string) (string, error) {
	if a.dbManager == nil {
		return "", fmt.Errorf("database unavailable")
	}

	a.mu.RLock()
	orchestrator := a.orchestrator
	projectPath := a.projectPath
	a.mu.RUnlock()

	if orchestrator == nil {
		return "", fmt.Errorf("no project open")
	}
	if id == "" {
		id = uuid.New().String()
	}

	if err := a.dbManager.SaveConversation(id, projectPath, title, orchestrator.History()); err != nil {
		return "", err
	}
	return id, nil
}

// ListConversations returns the active project's saved conversations.
func (a *App) ListConversations() ([]database.Conversation, error) {
	if a.dbManager == nil {
		return nil, fmt.Errorf("database unavailable")
	}

	a.mu.RLock()
	projectPath := a.projectPath
	a.mu.RUnlock()
	return a.dbManager.ListConversations(projectPath)
}

// LoadConversation returns one saved transcript including its messages.
func (a *App) LoadConversation(id string) (*database.Conversation, error) {
	if a.dbManager == nil {
		return nil, fmt.Errorf("database unavailable")
	}
	return a.dbManager.LoadConversation(id)
}

// DeleteConversation removes a saved transcript.
func (a *App) DeleteConversation(id string) error {
	if a.dbManager == nil {
		return fmt.Errorf("database unavailable")
	}
	return a.dbManager.DeleteConversation(id)
}

// ===== Settings =====

// GetSettings returns the user settings.
func (a *App) GetSettings() config.Settings {
	return a.config.Settings
}

// UpdateSettings replaces the user settings from a JSON object and
// persists them. Runtime components pick the new values up on next use
// where possible; compiler and journal limits apply after restart.
func (a *App) UpdateSettings(settingsJSON string) error {
	var settings config.Settings
	if err := json.Unmarshal([]byte(settingsJSON), &settings); err != nil {
		return fmt.Errorf("parse settings: %w", err)
	}

	a.config.Settings = settings
	return a.config.SaveSettings()
}

// ===== Version control =====

// GitStatus returns the working tree status of the active project.
func (a *App) GitStatus() (*git.RepoStatus, error) {
	repo, err := a.openRepo()
	if err != nil {
		return nil, err
	}
	return repo.Status()
}

// GitDiff returns the project diff; cached selects staged changes.
func (a *App) GitDiff(cached bool) (string, error) {
	repo, err := a.openRepo()
	if err != nil {
		return "", err
	}
	return repo.Diff(cached)
}

// CommitVersion commits every pending change as a named design version.
func (a *App) CommitVersion(message string) (string, error) {
	repo, err := a.openRepo()
	if err != nil {
		return "", err
	}
	return repo.CommitAll(message, "cadpilot", "cadpilot@localhost")
}

func (a *App) openRepo() (*git.Repo, error) {
	a.mu.RLock()
	projectPath := a.projectPath
	a.mu.RUnlock()

	if projectPath == "" {
		return nil, fmt.Errorf("no project open")
	}
	return git.Open(projectPath)
}
