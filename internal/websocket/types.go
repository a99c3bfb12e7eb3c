// internal/websocket/types.go
package websocket

// Message kinds on the wire.
const (
	KindRPCRequest  = "rpc_request"
	KindRPCResponse = "rpc_response"
	KindEvent       = "event"
)

// RPCRequest is a method invocation sent by the frontend.
type RPCRequest struct {
	ID     string        `json:"id"`     // correlates the response
	Method string        `json:"method"` // bound method name, e.g. "SendAgentMessage"
	Params []interface{} `json:"params"`
}

// RPCResponse is the reply to an RPCRequest.
type RPCResponse struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// WSEvent is a server-initiated push: the agent:* turn callbacks,
// compile:finished, checkpoint:changed, file:changed and git:changed.
type WSEvent struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// WSMessage is the envelope for everything on the wire.
type WSMessage struct {
	Kind string `json:"kind"`

	Request  *RPCRequest  `json:"request,omitempty"`
	Response *RPCResponse `json:"response,omitempty"`
	Event    *WSEvent     `json:"event,omitempty"`
}
