// internal/agent/registry.go
package agent

import (
	"context"
	"encoding/json"
	"sync"
)

// ToolOutput is what a capability handler hands back to the runtime.
type ToolOutput struct {
	Content   string `json:"content"`
	IsError   bool   `json:"is_error"`
	ImageData string `json:"image_data,omitempty"`
}

// ToolHandler executes one capability invocation.
type ToolHandler func(ctx context.Context, input map[string]interface{}) ToolOutput

// ToolDefinition is a named, schema-described action exposed to the agent.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
	Handler     ToolHandler     `json:"-"`
}

// Bundle wraps the full set of registered capabilities for one turn.
type Bundle struct {
	Name  string           `json:"name"`
	Tools []ToolDefinition `json:"tools"`
}

// Registry maps capability names to definitions. It is pure bookkeeping
// over handler references; handlers are free to have side effects, the
// registry itself has none. Owned by the orchestrator, not process-wide.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]ToolDefinition
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]ToolDefinition),
	}
}

// Register adds a capability, overwriting any existing entry of the same name.
func (r *Registry) Register(def ToolDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.Name]; !exists {
		r.order = append(r.order, def.Name)
	}
	r.tools[def.Name] = def
}

// Unregister removes a capability and reports whether it existed.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; !exists {
		return false
	}
	delete(r.tools, name)

	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// List returns the registered capability names in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Get returns a capability definition by name.
func (r *Registry) Get(name string) (ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.tools[name]
	return def, ok
}

// BuildBundle constructs a fresh capability bundle from the current
// registrations. Returns nil when the registry is empty: a request either
// carries a populated bundle or none at all, never an empty one. The bundle
// is rebuilt on every turn, so registration changes take effect on the next
// call.
func (r *Registry) BuildBundle() *Bundle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.tools) == 0 {
		return nil
	}

	bundle := &Bundle{Name: "cadpilot"}
	for _, name := range r.order {
		bundle.Tools = append(bundle.Tools, r.tools[name])
	}
	return bundle
}
