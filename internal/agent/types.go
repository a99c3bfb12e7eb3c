// internal/agent/types.go
package agent

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single entry in a conversation. Messages are append-only;
// the only mutation after append is merging tool results into the message
// that carries their originating calls.
type Message struct {
	Role        string            `json:"role"`
	Content     string            `json:"content"`
	Images      []ImageAttachment `json:"images,omitempty"`
	ToolCalls   []ToolCallEvent   `json:"tool_calls,omitempty"`
	ToolResults []ToolResultEvent `json:"tool_results,omitempty"`
}

// ImageAttachment is an image carried by a user message. Attachments live
// for a single turn: once a capability reads the pending set, it is cleared.
type ImageAttachment struct {
	ID        string `json:"id"`
	Data      string `json:"data"` // base64
	MediaType string `json:"media_type"`
}

// ToolCallEvent describes one tool invocation announced by the agent
// runtime. Identity is ID: the same id seen through different wire shapes
// is the same logical call.
type ToolCallEvent struct {
	ID    string                 `json:"id"`
	Name  string                 `json:"name"`
	Input map[string]interface{} `json:"input"`
}

// ToolResultEvent is the normalized outcome of one tool call.
type ToolResultEvent struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error"`
	ImageData string `json:"image_data,omitempty"` // base64, at most one per result
}

// Callbacks are the normalized outputs pushed toward the presentation
// layer for one streaming turn. Exactly one of OnEnd / OnError fires per
// turn; all other callbacks fire in stream order before it.
type Callbacks struct {
	OnToken          func(text string)
	OnToolCallStart  func(call ToolCallEvent)
	OnToolCallResult func(result ToolResultEvent)
	OnEnd            func()
	OnError          func(message string)
}
