// internal/agent/translator.go
package agent

import (
	"context"
	"encoding/json"
	"io"
	"strings"
)

// EventStream is one turn's worth of raw events from the agent runtime.
// Next returns io.EOF on normal end-of-stream; any other error means the
// stream failed.
type EventStream interface {
	Next(ctx context.Context) (json.RawMessage, error)
}

// errRuntimeUnavailable is the fallback surfaced when a stream failure
// carries no message of its own.
const errRuntimeUnavailable = "agent runtime unavailable"

// imagePlaceholder stands in for result content when a tool returned only
// an image and no text.
const imagePlaceholder = "[image output]"

// Translator consumes the agent runtime's heterogeneous event stream and
// emits a normalized callback sequence: the same logical tool call may
// arrive both as an incremental content-block-start and inside a finalized
// assistant message, and results arrive under two different type labels
// with different field names. The translator collapses all of that into
// exactly-once callbacks, in arrival order.
type Translator struct {
	cb        Callbacks
	announced map[string]bool // tool-call ids already fired, per turn
	answered  map[string]bool // tool-call ids whose result is delivered

	text    strings.Builder
	calls   []ToolCallEvent
	results []ToolResultEvent
}

// NewTranslator creates a translator for a single turn.
func NewTranslator(cb Callbacks) *Translator {
	return &Translator{
		cb:        cb,
		announced: make(map[string]bool),
		answered:  make(map[string]bool),
	}
}

// Run drives the stream to completion. Exactly one of OnEnd / OnError
// fires: OnEnd after a normal end-of-stream, OnError if iteration failed.
// No retries are attempted here.
func (t *Translator) Run(ctx context.Context, stream EventStream) {
	for {
		raw, err := stream.Next(ctx)
		if err == io.EOF {
			t.fireEnd()
			return
		}
		if err != nil {
			t.fireError(err.Error())
			return
		}
		t.handleEvent(raw)
	}
}

// Fail short-circuits a turn that never produced a stream (e.g. the
// runtime could not be launched).
func (t *Translator) Fail(message string) {
	t.fireError(message)
}

// AssistantText returns the concatenation of all emitted text fragments.
func (t *Translator) AssistantText() string {
	return t.text.String()
}

// ToolCalls returns the deduplicated calls announced this turn.
func (t *Translator) ToolCalls() []ToolCallEvent {
	return t.calls
}

// ToolResults returns the normalized results observed this turn.
func (t *Translator) ToolResults() []ToolResultEvent {
	return t.results
}

func (t *Translator) fireEnd() {
	if t.cb.OnEnd != nil {
		t.cb.OnEnd()
	}
}

func (t *Translator) fireError(message string) {
	if message == "" {
		message = errRuntimeUnavailable
	}
	if t.cb.OnError != nil {
		t.cb.OnError(message)
	}
}

// rawEvent is the discriminated envelope shared by every stream event.
// Only the fields for the recognized variants are declared; everything
// else is ignored for forward compatibility.
type rawEvent struct {
	Type string `json:"type"`

	// content_block_delta
	Delta *struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta,omitempty"`

	// content_block_start
	ContentBlock *contentBlock `json:"content_block,omitempty"`

	// assistant (finalized message)
	Message *struct {
		Content []contentBlock `json:"content"`
	} `json:"message,omitempty"`

	// tool_result spelling
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`

	// tool_output spelling
	ID     string          `json:"id,omitempty"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  bool            `json:"error,omitempty"`
}

// contentBlock is one element of a structured content array.
type contentBlock struct {
	Type  string                 `json:"type"`
	Text  string                 `json:"text,omitempty"`
	ID    string                 `json:"id,omitempty"`
	Name  string                 `json:"name,omitempty"`
	Input map[string]interface{} `json:"input,omitempty"`

	Source *struct {
		Data      string `json:"data"`
		MediaType string `json:"media_type"`
	} `json:"source,omitempty"`
}

// handleEvent dispatches one raw event. Unrecognized types are skipped,
// not errors: the runtime grows new event shapes faster than we do.
func (t *Translator) handleEvent(raw json.RawMessage) {
	var ev rawEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return
	}

	switch ev.Type {
	case "content_block_delta":
		if ev.Delta != nil && ev.Delta.Text != "" {
			t.emitToken(ev.Delta.Text)
		}

	case "content_block_start":
		if ev.ContentBlock != nil && ev.ContentBlock.Type == "tool_use" {
			t.announceToolCall(ToolCallEvent{
				ID:    ev.ContentBlock.ID,
				Name:  ev.ContentBlock.Name,
				Input: ev.ContentBlock.Input,
			})
		}

	case "assistant":
		if ev.Message != nil {
			t.handleAssistantMessage(ev.Message.Content)
		}

	case "tool_result":
		t.emitToolResult(t.normalizeResult(ev.ToolUseID, ev.Content, ev.IsError))

	case "tool_output":
		t.emitToolResult(t.normalizeResult(ev.ID, ev.Output, ev.Error))

	case "system", "result":
		// init metadata and terminal summaries carry nothing we surface

	default:
		// unknown event type: ignore
	}
}

// handleAssistantMessage walks a finalized message's content array. Text
// blocks become tokens; tool_use blocks are announced unless the
// incremental shape already did.
func (t *Translator) handleAssistantMessage(blocks []contentBlock) {
	for _, block := range blocks {
		switch block.Type {
		case "text":
			if block.Text != "" {
				t.emitToken(block.Text)
			}
		case "tool_use":
			t.announceToolCall(ToolCallEvent{
				ID:    block.ID,
				Name:  block.Name,
				Input: block.Input,
			})
		}
	}
}

func (t *Translator) emitToken(text string) {
	t.text.WriteString(text)
	if t.cb.OnToken != nil {
		t.cb.OnToken(text)
	}
}

// announceToolCall fires OnToolCallStart exactly once per id, whichever
// wire shape arrives first; the later duplicate is absorbed.
func (t *Translator) announceToolCall(call ToolCallEvent) {
	if call.ID == "" || t.announced[call.ID] {
		return
	}
	t.announced[call.ID] = true
	t.calls = append(t.calls, call)
	if t.cb.OnToolCallStart != nil {
		t.cb.OnToolCallStart(call)
	}
}

// DeliverResult records a locally executed capability's output as that
// call's result. A later stream echo for the same id is absorbed.
func (t *Translator) DeliverResult(result ToolResultEvent) {
	t.emitToolResult(result)
}

// emitToolResult fires OnToolCallResult at most once per call id; results
// without an id pass through unfiltered.
func (t *Translator) emitToolResult(result ToolResultEvent) {
	if result.ToolUseID != "" {
		if t.answered[result.ToolUseID] {
			return
		}
		t.answered[result.ToolUseID] = true
	}
	t.results = append(t.results, result)
	if t.cb.OnToolCallResult != nil {
		t.cb.OnToolCallResult(result)
	}
}

// normalizeResult folds both result spellings into one ToolResultEvent.
// Raw content is either a plain string or a structured block array: text
// blocks are newline-joined, and at most one image block's data is kept.
func (t *Translator) normalizeResult(id string, content json.RawMessage, isError bool) ToolResultEvent {
	result := ToolResultEvent{
		ToolUseID: id,
		IsError:   isError,
	}

	if len(content) == 0 {
		return result
	}

	var plain string
	if err := json.Unmarshal(content, &plain); err == nil {
		result.Content = plain
		return result
	}

	var blocks []contentBlock
	if err := json.Unmarshal(content, &blocks); err != nil {
		// neither shape we know; keep the raw bytes readable
		result.Content = string(content)
		return result
	}

	var texts []string
	for _, block := range blocks {
		switch block.Type {
		case "text":
			texts = append(texts, block.Text)
		case "image":
			if result.ImageData == "" && block.Source != nil {
				result.ImageData = block.Source.Data
			}
		}
	}

	result.Content = strings.Join(texts, "\n")
	if result.Content == "" && result.ImageData != "" {
		result.Content = imagePlaceholder
	}
	return result
}
