// internal/tools/builtin_test.go
package tools

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"cadpilot/internal/agent"
	"cadpilot/internal/checkpoint"
)

type fakeImages struct {
	images []agent.ImageAttachment
}

func (f *fakeImages) TakePendingImages() []agent.ImageAttachment {
	out := f.images
	f.images = nil
	return out
}

func setup(t *testing.T) (*agent.Registry, *Deps, *checkpoint.Journal, string) {
	t.Helper()
	root := t.TempDir()
	journal := checkpoint.NewJournal(0)
	scope := checkpoint.NewScope(journal, root, "test turn")

	deps := &Deps{
		ProjectRoot: root,
		Scope:       func() Snapshotter { return scope },
		Images:      &fakeImages{},
	}
	reg := agent.NewRegistry()
	RegisterBuiltins(reg, *deps)
	return reg, deps, journal, root
}

func call(t *testing.T, reg *agent.Registry, name string, input map[string]interface{}) agent.ToolOutput {
	t.Helper()
	def, ok := reg.Get(name)
	if !ok {
		t.Fatalf("capability %s not registered", name)
	}
	return def.Handler(context.Background(), input)
}

func TestBuiltins_Registered(t *testing.T) {
	reg, _, _, _ := setup(t)

	want := []string{"read_file", "write_file", "edit_file", "list_dir", "compile_model", "render_preview", "get_user_images"}
	got := reg.List()
	if len(got) != len(want) {
		t.Fatalf("expected %d capabilities, got %v", len(want), got)
	}
}

func TestWriteFile_SnapshotsBeforeWriting(t *testing.T) {
	reg, _, journal, root := setup(t)

	path := filepath.Join(root, "part.scad")
	if err := os.WriteFile(path, []byte("cube(1);"), 0644); err != nil {
		t.Fatal(err)
	}

	out := call(t, reg, "write_file", map[string]interface{}{
		"path":    "part.scad",
		"content": "cube(2);",
	})
	if out.IsError {
		t.Fatalf("write_file failed: %s", out.Content)
	}

	// the pre-edit content must be recoverable through the journal
	listed := journal.List(root)
	if len(listed) != 0 {
		t.Fatalf("checkpoint should not be listed before finalize")
	}

	data, _ := os.ReadFile(path)
	if string(data) != "cube(2);" {
		t.Errorf("expected new content on disk, got %q", string(data))
	}
}

func TestWriteFile_UndoRestoresOriginal(t *testing.T) {
	reg, deps, journal, root := setup(t)

	path := filepath.Join(root, "a.scad")
	if err := os.WriteFile(path, []byte("X"), 0644); err != nil {
		t.Fatal(err)
	}

	call(t, reg, "write_file", map[string]interface{}{"path": "a.scad", "content": "Y"})
	call(t, reg, "edit_file", map[string]interface{}{"path": "a.scad", "old_text": "Y", "new_text": "Z"})

	scope := deps.Scope().(*checkpoint.Scope)
	scope.Finalize()

	result := journal.Undo(scope.CheckpointID())
	if len(result.Restored) != 1 {
		t.Fatalf("expected 1 restored file (first-touch), got %v", result.Restored)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "X" {
		t.Errorf("expected original content 'X' after undo, got %q", string(data))
	}
}

func TestReadFile_Traversal(t *testing.T) {
	reg, _, _, _ := setup(t)

	out := call(t, reg, "read_file", map[string]interface{}{"path": "../etc/passwd"})
	if !out.IsError {
		t.Error("expected traversal to be rejected")
	}
}

func TestEditFile_TextNotFound(t *testing.T) {
	reg, _, _, root := setup(t)

	path := filepath.Join(root, "b.scad")
	if err := os.WriteFile(path, []byte("sphere(1);"), 0644); err != nil {
		t.Fatal(err)
	}

	out := call(t, reg, "edit_file", map[string]interface{}{
		"path": "b.scad", "old_text": "cube", "new_text": "cylinder",
	})
	if !out.IsError {
		t.Error("expected edit of missing text to fail")
	}
}

func TestListDir(t *testing.T) {
	reg, _, _, root := setup(t)

	os.WriteFile(filepath.Join(root, "main.scad"), []byte(""), 0644)
	os.MkdirAll(filepath.Join(root, "lib"), 0755)

	out := call(t, reg, "list_dir", map[string]interface{}{})
	if out.IsError {
		t.Fatalf("list_dir failed: %s", out.Content)
	}
	if out.Content == "" {
		t.Error("expected directory listing")
	}
}

// scriptedStream replays canned runtime events for a full-turn test.
type scriptedStream struct {
	events []string
	pos    int
}

func (s *scriptedStream) Next(ctx context.Context) (json.RawMessage, error) {
	if s.pos >= len(s.events) {
		return nil, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return json.RawMessage(ev), nil
}

type scriptedRuntime struct {
	stream *scriptedStream
}

func (r *scriptedRuntime) StartTurn(ctx context.Context, req agent.TurnRequest) (agent.EventStream, error) {
	return r.stream, nil
}

// TestTurn_WriteFileSnapshotsThroughJournal drives a complete turn: the
// runtime announces a write_file call, the orchestrator dispatches the
// built-in handler, and the pre-edit content lands in the journal so undo
// can restore it.
func TestTurn_WriteFileSnapshotsThroughJournal(t *testing.T) {
	reg, deps, journal, root := setup(t)

	path := filepath.Join(root, "bracket.scad")
	if err := os.WriteFile(path, []byte("cube(1);"), 0644); err != nil {
		t.Fatal(err)
	}

	rt := &scriptedRuntime{stream: &scriptedStream{events: []string{
		`{"type":"content_block_delta","delta":{"type":"text_delta","text":"editing"}}`,
		`{"type":"content_block_start","content_block":{"type":"tool_use","id":"t1","name":"write_file","input":{"path":"bracket.scad","content":"cube(2);"}}}`,
	}}}
	o := agent.NewOrchestrator(rt, reg, agent.Options{WorkingDirectory: root})

	var results []agent.ToolResultEvent
	ended := false
	o.SendMessage(context.Background(), "make it bigger", nil, agent.Callbacks{
		OnToolCallResult: func(res agent.ToolResultEvent) { results = append(results, res) },
		OnEnd:            func() { ended = true },
		OnError:          func(msg string) { t.Fatalf("turn failed: %s", msg) },
	})

	if !ended {
		t.Fatal("turn did not end")
	}
	if len(results) != 1 || results[0].IsError {
		t.Fatalf("expected one successful write result, got %+v", results)
	}
	if data, _ := os.ReadFile(path); string(data) != "cube(2);" {
		t.Fatalf("expected new content on disk, got %q", string(data))
	}

	scope := deps.Scope().(*checkpoint.Scope)
	scope.Finalize()

	listed := journal.List(root)
	if len(listed) != 1 {
		t.Fatalf("expected one finalized checkpoint after the turn, got %d", len(listed))
	}

	undo := journal.Undo(scope.CheckpointID())
	if len(undo.Restored) != 1 {
		t.Fatalf("expected undo to restore the file, got %+v", undo)
	}
	if data, _ := os.ReadFile(path); string(data) != "cube(1);" {
		t.Errorf("expected pre-edit content after undo, got %q", string(data))
	}
}

func TestGetUserImages_ConsumesPendingSet(t *testing.T) {
	reg, deps, _, _ := setup(t)

	src := deps.Images.(*fakeImages)
	src.images = []agent.ImageAttachment{{ID: "i1", Data: "ZGF0YQ==", MediaType: "image/png"}}

	out := call(t, reg, "get_user_images", nil)
	if out.IsError {
		t.Fatalf("get_user_images failed: %s", out.Content)
	}
	if out.ImageData != "ZGF0YQ==" {
		t.Errorf("expected image data returned, got %q", out.ImageData)
	}

	// second call sees a cleared set
	again := call(t, reg, "get_user_images", nil)
	if again.ImageData != "" {
		t.Error("expected pending set to be cleared after first retrieval")
	}
}
