// internal/agent/orchestrator.go
package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Runtime is the external agent runtime at its interface boundary: it
// accepts one turn request and returns that turn's event stream.
type Runtime interface {
	StartTurn(ctx context.Context, req TurnRequest) (EventStream, error)
}

// TurnRequest is the outbound request for one conversational turn.
type TurnRequest struct {
	Prompt           string  `json:"prompt"`
	SystemPrompt     string  `json:"system_prompt,omitempty"`
	MaxTurns         int     `json:"max_turns,omitempty"`
	WorkingDirectory string  `json:"working_directory,omitempty"`
	Bundle           *Bundle `json:"bundle,omitempty"`
}

// Options configures an Orchestrator.
type Options struct {
	SystemPrompt     string
	MaxTurns         int
	WorkingDirectory string
}

// Orchestrator composes the registry, the translator and the runtime, and
// is the only component with end-to-end visibility of one turn. It drives
// at most one turn at a time: an overlapping SendMessage is rejected
// synchronously through OnError.
type Orchestrator struct {
	mu       sync.Mutex
	runtime  Runtime
	registry *Registry
	opts     Options

	history       []Message
	pendingImages []ImageAttachment
	busy          bool

	// translator for the single in-flight turn, nil between turns
	currentTranslator *Translator
}

// NewOrchestrator creates an orchestrator over the given runtime and an
// explicitly injected registry.
func NewOrchestrator(runtime Runtime, registry *Registry, opts Options) *Orchestrator {
	return &Orchestrator{
		runtime:  runtime,
		registry: registry,
		opts:     opts,
	}
}

// Registry returns the capability registry owned by this conversation.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// History returns a copy of the conversation so far.
func (o *Orchestrator) History() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]Message, len(o.history))
	copy(out, o.history)
	return out
}

// TakePendingImages returns the current turn's image attachments and
// clears the pending set. Called by the image-retrieval capability;
// attachments never outlive their turn.
func (o *Orchestrator) TakePendingImages() []ImageAttachment {
	o.mu.Lock()
	defer o.mu.Unlock()

	images := o.pendingImages
	o.pendingImages = nil
	return images
}

// SendMessage runs one turn: appends the user message, builds the request,
// streams the runtime's response through a translator, and appends the
// resulting assistant message. It blocks until the turn terminates.
// Exactly one of cb.OnEnd / cb.OnError fires.
func (o *Orchestrator) SendMessage(ctx context.Context, text string, images []ImageAttachment, cb Callbacks) {
	if strings.TrimSpace(text) == "" {
		if cb.OnError != nil {
			cb.OnError("cannot send an empty message")
		}
		return
	}

	o.mu.Lock()
	if o.busy {
		o.mu.Unlock()
		if cb.OnError != nil {
			cb.OnError("a turn is already in progress")
		}
		return
	}
	o.busy = true

	o.history = append(o.history, Message{
		Role:    RoleUser,
		Content: text,
		Images:  images,
	})
	o.pendingImages = images

	req := TurnRequest{
		Prompt:           o.buildPrompt(text, len(images) > 0),
		SystemPrompt:     o.opts.SystemPrompt,
		MaxTurns:         o.opts.MaxTurns,
		WorkingDirectory: o.opts.WorkingDirectory,
		Bundle:           o.registry.BuildBundle(),
	}
	o.mu.Unlock()

	var translator *Translator
	translator = NewTranslator(Callbacks{
		OnToken: cb.OnToken,
		OnToolCallStart: func(call ToolCallEvent) {
			if cb.OnToolCallStart != nil {
				cb.OnToolCallStart(call)
			}
			o.runCapability(ctx, call, translator)
		},
		OnToolCallResult: cb.OnToolCallResult,
		OnEnd: func() {
			o.finishTurn(false)
			if cb.OnEnd != nil {
				cb.OnEnd()
			}
		},
		OnError: func(message string) {
			o.finishTurn(true)
			if cb.OnError != nil {
				cb.OnError(message)
			}
		},
	})

	o.mu.Lock()
	o.currentTranslator = translator
	o.mu.Unlock()

	stream, err := o.runtime.StartTurn(ctx, req)
	if err != nil {
		translator.Fail(err.Error())
		return
	}

	translator.Run(ctx, stream)
}

// runCapability executes the registered handler for an announced call and
// feeds its output back as that call's result, synchronously with the
// stream: the runtime's next event is not consumed until the handler
// returns. Calls naming no registered capability are left for the runtime
// to answer itself.
func (o *Orchestrator) runCapability(ctx context.Context, call ToolCallEvent, t *Translator) {
	def, ok := o.registry.Get(call.Name)
	if !ok || def.Handler == nil {
		return
	}

	out := def.Handler(ctx, call.Input)
	t.DeliverResult(ToolResultEvent{
		ToolUseID: call.ID,
		Content:   out.Content,
		IsError:   out.IsError,
		ImageData: out.ImageData,
	})
}

// finishTurn releases the turn: on success the assistant message (with its
// tool calls and merged results) is appended; on failure no partial
// assistant message is kept dangling. Pending images are cleared on both
// exit paths.
func (o *Orchestrator) finishTurn(failed bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !failed && o.currentTranslator != nil {
		t := o.currentTranslator
		if t.AssistantText() != "" || len(t.ToolCalls()) > 0 {
			o.history = append(o.history, Message{
				Role:        RoleAssistant,
				Content:     t.AssistantText(),
				ToolCalls:   t.ToolCalls(),
				ToolResults: t.ToolResults(),
			})
		}
	}

	o.currentTranslator = nil
	o.pendingImages = nil
	o.busy = false
}

// buildPrompt assembles the outbound prompt: the latest user message,
// preceded by the serialized earlier conversation when there is one, plus
// a retrieval note when the message carries image attachments (the agent
// fetches them via the dedicated capability instead of inline data).
func (o *Orchestrator) buildPrompt(latest string, hasImages bool) string {
	var b strings.Builder

	// history already contains the just-appended user message; everything
	// before it is the preamble
	if len(o.history) > 1 {
		b.WriteString("Previous conversation:\n")
		for _, msg := range o.history[:len(o.history)-1] {
			fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
		}
		b.WriteString("\n")
	}

	b.WriteString(latest)

	if hasImages {
		b.WriteString("\n\nNote: the user attached one or more images. Retrieve them with the get_user_images capability instead of asking for them inline.")
	}

	return b.String()
}
