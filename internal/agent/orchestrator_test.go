// internal/agent/orchestrator_test.go
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
)

// fakeRuntime hands out a scripted stream and records the requests it saw.
type fakeRuntime struct {
	mu       sync.Mutex
	requests []TurnRequest
	stream   *fakeStream
	err      error
	started  chan struct{} // closed when StartTurn is entered, if set
	release  chan struct{} // StartTurn blocks on this, if set
}

func (f *fakeRuntime) StartTurn(ctx context.Context, req TurnRequest) (EventStream, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.started != nil {
		close(f.started)
		f.started = nil
	}
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.stream, nil
}

func textStream(fragments ...string) *fakeStream {
	var events []string
	for _, fr := range fragments {
		events = append(events, `{"type":"content_block_delta","delta":{"type":"text_delta","text":"`+fr+`"}}`)
	}
	return &fakeStream{events: events}
}

func TestOrchestrator_EmptyMessageRejected(t *testing.T) {
	rt := &fakeRuntime{stream: textStream("hi")}
	o := NewOrchestrator(rt, NewRegistry(), Options{})

	rec := &recorder{}
	o.SendMessage(context.Background(), "   ", nil, rec.callbacks())

	if len(rec.errors) != 1 {
		t.Fatalf("expected synchronous rejection, got %v", rec.errors)
	}
	if len(rt.requests) != 0 {
		t.Errorf("expected no runtime activity for an empty message")
	}
	if len(o.History()) != 0 {
		t.Errorf("expected no history entry for a rejected message")
	}
}

func TestOrchestrator_PromptAssembly(t *testing.T) {
	rt := &fakeRuntime{stream: textStream("fine")}
	o := NewOrchestrator(rt, NewRegistry(), Options{WorkingDirectory: "/work"})

	rec := &recorder{}
	o.SendMessage(context.Background(), "make a cube", nil, rec.callbacks())

	rt.stream = textStream("done")
	o.SendMessage(context.Background(), "now round the edges", nil, rec.callbacks())

	if len(rt.requests) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(rt.requests))
	}

	first := rt.requests[0]
	if first.Prompt != "make a cube" {
		t.Errorf("first prompt must be the bare user message, got %q", first.Prompt)
	}
	if first.Bundle != nil {
		t.Errorf("expected no bundle with an empty registry")
	}

	second := rt.requests[1]
	wantPreamble := "Previous conversation:\nuser: make a cube\nassistant: fine\n\nnow round the edges"
	if second.Prompt != wantPreamble {
		t.Errorf("second prompt missing preamble:\nwant %q\ngot  %q", wantPreamble, second.Prompt)
	}
}

func TestOrchestrator_ImageNoteAndPendingLifetime(t *testing.T) {
	rt := &fakeRuntime{stream: textStream("looking")}
	o := NewOrchestrator(rt, NewRegistry(), Options{})

	images := []ImageAttachment{{ID: "img1", Data: "aW1n", MediaType: "image/png"}}

	// the image-retrieval capability consumes the pending set mid-turn
	var consumed []ImageAttachment
	rec := &recorder{}
	cb := rec.callbacks()
	cb.OnToken = func(text string) {
		consumed = o.TakePendingImages()
	}

	o.SendMessage(context.Background(), "what is in this image?", images, cb)

	req := rt.requests[0]
	if !strings.Contains(req.Prompt, "get_user_images") {
		t.Errorf("expected image retrieval note in prompt, got %q", req.Prompt)
	}
	if len(consumed) != 1 || consumed[0].ID != "img1" {
		t.Errorf("expected capability to receive the pending image, got %v", consumed)
	}
	if got := o.TakePendingImages(); len(got) != 0 {
		t.Errorf("pending images must be cleared at turn end, got %v", got)
	}
}

func TestOrchestrator_PendingImagesClearedOnError(t *testing.T) {
	rt := &fakeRuntime{err: errors.New("runtime gone")}
	o := NewOrchestrator(rt, NewRegistry(), Options{})

	rec := &recorder{}
	o.SendMessage(context.Background(), "hello", []ImageAttachment{{ID: "x"}}, rec.callbacks())

	if len(rec.errors) != 1 || rec.errors[0] != "runtime gone" {
		t.Fatalf("expected runtime failure surfaced, got %v", rec.errors)
	}
	if got := o.TakePendingImages(); len(got) != 0 {
		t.Errorf("pending images must be cleared on the error path, got %v", got)
	}
}

func TestOrchestrator_BundleAttachedWhenRegistered(t *testing.T) {
	rt := &fakeRuntime{stream: textStream("ok")}
	reg := NewRegistry()
	reg.Register(testDef("write_file"))
	o := NewOrchestrator(rt, reg, Options{})

	rec := &recorder{}
	o.SendMessage(context.Background(), "save it", nil, rec.callbacks())

	if rt.requests[0].Bundle == nil || len(rt.requests[0].Bundle.Tools) != 1 {
		t.Errorf("expected a one-tool bundle, got %+v", rt.requests[0].Bundle)
	}
}

func TestOrchestrator_ConcurrentTurnRejected(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	rt := &fakeRuntime{stream: textStream("slow"), started: started, release: release}
	o := NewOrchestrator(rt, NewRegistry(), Options{})

	firstDone := make(chan struct{})
	rec1 := &recorder{}
	go func() {
		o.SendMessage(context.Background(), "first", nil, rec1.callbacks())
		close(firstDone)
	}()

	<-started

	rec2 := &recorder{}
	o.SendMessage(context.Background(), "second", nil, rec2.callbacks())
	if len(rec2.errors) != 1 {
		t.Fatalf("expected overlapping turn rejected via OnError, got %v", rec2.errors)
	}

	close(release)
	<-firstDone
	if rec1.ends != 1 {
		t.Errorf("first turn should still complete normally, ends=%d", rec1.ends)
	}

	// the rejected turn must not have polluted history
	for _, msg := range o.History() {
		if msg.Content == "second" {
			t.Errorf("rejected turn leaked into history")
		}
	}
}

func TestOrchestrator_DispatchesRegisteredCapability(t *testing.T) {
	invoked := false
	reg := NewRegistry()
	reg.Register(ToolDefinition{
		Name:        "write_file",
		InputSchema: json.RawMessage(`{"type":"object"}`),
		Handler: func(ctx context.Context, input map[string]interface{}) ToolOutput {
			invoked = true
			if input["path"] != "a.scad" {
				t.Errorf("handler received wrong input: %v", input)
			}
			return ToolOutput{Content: "wrote it"}
		},
	})

	// the runtime announces the call and later echoes a result for it
	rt := &fakeRuntime{stream: &fakeStream{events: []string{
		`{"type":"content_block_start","content_block":{"type":"tool_use","id":"t1","name":"write_file","input":{"path":"a.scad"}}}`,
		`{"type":"tool_result","tool_use_id":"t1","content":"ok","is_error":false}`,
	}}}
	o := NewOrchestrator(rt, reg, Options{})

	rec := &recorder{}
	o.SendMessage(context.Background(), "write the file", nil, rec.callbacks())

	if !invoked {
		t.Fatal("registered handler was not invoked during the turn")
	}
	if len(rec.results) != 1 {
		t.Fatalf("expected exactly one result for t1, got %+v", rec.results)
	}
	if rec.results[0].Content != "wrote it" {
		t.Errorf("expected the handler's output as the result, got %q", rec.results[0].Content)
	}

	assistant := o.History()[1]
	if len(assistant.ToolResults) != 1 || assistant.ToolResults[0].Content != "wrote it" {
		t.Errorf("expected the local result merged into history, got %+v", assistant.ToolResults)
	}
}

func TestOrchestrator_UnregisteredCallAnsweredByRuntime(t *testing.T) {
	reg := NewRegistry()
	reg.Register(testDef("write_file"))

	rt := &fakeRuntime{stream: &fakeStream{events: []string{
		`{"type":"content_block_start","content_block":{"type":"tool_use","id":"t1","name":"web_search","input":{}}}`,
		`{"type":"tool_result","tool_use_id":"t1","content":"search hits","is_error":false}`,
	}}}
	o := NewOrchestrator(rt, reg, Options{})

	rec := &recorder{}
	o.SendMessage(context.Background(), "look it up", nil, rec.callbacks())

	if len(rec.results) != 1 || rec.results[0].Content != "search hits" {
		t.Errorf("expected the runtime's own result to pass through, got %+v", rec.results)
	}
}

func TestOrchestrator_HistoryMergesToolResults(t *testing.T) {
	rt := &fakeRuntime{stream: &fakeStream{events: []string{
		`{"type":"content_block_delta","delta":{"type":"text_delta","text":"writing"}}`,
		`{"type":"content_block_start","content_block":{"type":"tool_use","id":"t1","name":"write_file","input":{"path":"a.scad"}}}`,
		`{"type":"tool_result","tool_use_id":"t1","content":"ok","is_error":false}`,
	}}}
	o := NewOrchestrator(rt, NewRegistry(), Options{})

	rec := &recorder{}
	o.SendMessage(context.Background(), "write the file", nil, rec.callbacks())

	history := o.History()
	if len(history) != 2 {
		t.Fatalf("expected user + assistant messages, got %d", len(history))
	}
	assistant := history[1]
	if assistant.Role != RoleAssistant || assistant.Content != "writing" {
		t.Errorf("unexpected assistant message: %+v", assistant)
	}
	if len(assistant.ToolCalls) != 1 || assistant.ToolCalls[0].ID != "t1" {
		t.Errorf("expected merged tool call, got %+v", assistant.ToolCalls)
	}
	if len(assistant.ToolResults) != 1 || assistant.ToolResults[0].ToolUseID != "t1" {
		t.Errorf("expected merged tool result, got %+v", assistant.ToolResults)
	}
}

func TestOrchestrator_NoDanglingAssistantOnError(t *testing.T) {
	rt := &fakeRuntime{stream: &fakeStream{
		events: []string{`{"type":"content_block_delta","delta":{"type":"text_delta","text":"partial"}}`},
		err:    errors.New("stream died"),
	}}
	o := NewOrchestrator(rt, NewRegistry(), Options{})

	rec := &recorder{}
	o.SendMessage(context.Background(), "hello", nil, rec.callbacks())

	history := o.History()
	if len(history) != 1 || history[0].Role != RoleUser {
		t.Errorf("expected only the user message after a failed turn, got %+v", history)
	}

	// and the orchestrator is usable again
	rt.stream = textStream("recovered")
	rt.err = nil
	rec2 := &recorder{}
	o.SendMessage(context.Background(), "try again", nil, rec2.callbacks())
	if rec2.ends != 1 {
		t.Errorf("expected orchestrator to accept a new turn after failure")
	}
}
