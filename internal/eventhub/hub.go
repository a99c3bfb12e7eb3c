// internal/eventhub/hub.go
package eventhub

import (
	"context"

	"cadpilot/internal/agent"
)

// Broadcaster delivers events to whichever UI transport is active
// (Wails runtime events or the headless WebSocket server).
type Broadcaster interface {
	BroadcastEvent(eventType string, payload interface{})
}

// EventHub is the single fan-out point between the backend and the
// presentation layer.
type EventHub struct {
	ctx         context.Context
	broadcaster Broadcaster
}

// New creates an EventHub.
func New(ctx context.Context) *EventHub {
	return &EventHub{ctx: ctx}
}

// SetBroadcaster installs the active transport.
func (h *EventHub) SetBroadcaster(b Broadcaster) {
	h.broadcaster = b
}

func (h *EventHub) emit(eventName string, payload interface{}) {
	if h.broadcaster != nil {
		h.broadcaster.BroadcastEvent(eventName, payload)
	}
}

// Emit sends an arbitrary event.
func (h *EventHub) Emit(eventName string, payload interface{}) {
	h.emit(eventName, payload)
}

// ===== Agent turn events: the five normalized callbacks =====

func (h *EventHub) EmitAgentToken(text string) {
	h.emit("agent:token", map[string]interface{}{"text": text})
}

func (h *EventHub) EmitAgentToolCallStart(call agent.ToolCallEvent) {
	h.emit("agent:tool-call", call)
}

func (h *EventHub) EmitAgentToolCallResult(result agent.ToolResultEvent) {
	h.emit("agent:tool-result", result)
}

func (h *EventHub) EmitAgentEnd() {
	h.emit("agent:end", nil)
}

func (h *EventHub) EmitAgentError(message string) {
	h.emit("agent:error", map[string]interface{}{"message": message})
}

// Callbacks bundles the hub's agent emitters in the shape the
// orchestrator consumes.
func (h *EventHub) Callbacks() agent.Callbacks {
	return agent.Callbacks{
		OnToken:          h.EmitAgentToken,
		OnToolCallStart:  h.EmitAgentToolCallStart,
		OnToolCallResult: h.EmitAgentToolCallResult,
		OnEnd:            h.EmitAgentEnd,
		OnError:          h.EmitAgentError,
	}
}

// ===== Compiler events =====

type CompileFinishedEvent struct {
	Path        string `json:"path"`
	Success     bool   `json:"success"`
	Diagnostics string `json:"diagnostics"`
	DurationMs  int64  `json:"duration_ms"`
}

func (h *EventHub) EmitCompileFinished(event CompileFinishedEvent) {
	h.emit("compile:finished", event)
}

// ===== Checkpoint events =====

type CheckpointChangedEvent struct {
	ProjectKey string `json:"project_key"`
}

func (h *EventHub) EmitCheckpointChanged(projectKey string) {
	h.emit("checkpoint:changed", CheckpointChangedEvent{ProjectKey: projectKey})
}

// ===== Project file events =====

type FileChangedEvent struct {
	ProjectPath string `json:"project_path"`
	Path        string `json:"path"`
	Kind        string `json:"kind"` // "create", "modify", "delete", "rename"
}

func (h *EventHub) EmitFileChanged(event FileChangedEvent) {
	h.emit("file:changed", event)
}

// ===== Version control events =====

type GitChangedEvent struct {
	Path   string            `json:"path"`
	Branch string            `json:"branch"`
	Status map[string]string `json:"status"` // path -> porcelain status
}

func (h *EventHub) EmitGitChanged(event GitChangedEvent) {
	h.emit("git:changed", event)
}
