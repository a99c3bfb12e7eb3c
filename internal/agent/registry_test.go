// internal/agent/registry_test.go
package agent

import (
	"context"
	"encoding/json"
	"testing"
)

func testDef(name string) ToolDefinition {
	return ToolDefinition{
		Name:        name,
		Description: "test tool",
		InputSchema: json.RawMessage(`{"type":"object"}`),
		Handler: func(ctx context.Context, input map[string]interface{}) ToolOutput {
			return ToolOutput{Content: "ok"}
		},
	}
}

func TestRegistry_RegisterOverwrites(t *testing.T) {
	reg := NewRegistry()
	reg.Register(testDef("compile_model"))

	replacement := testDef("compile_model")
	replacement.Description = "replaced"
	reg.Register(replacement)

	if got := reg.List(); len(got) != 1 {
		t.Fatalf("expected 1 entry after overwrite, got %d", len(got))
	}
	def, ok := reg.Get("compile_model")
	if !ok || def.Description != "replaced" {
		t.Errorf("expected overwritten definition, got %+v", def)
	}
}

func TestRegistry_Unregister(t *testing.T) {
	reg := NewRegistry()
	reg.Register(testDef("write_file"))

	if !reg.Unregister("write_file") {
		t.Error("expected Unregister to report an existing entry")
	}
	if reg.Unregister("write_file") {
		t.Error("expected Unregister to report a missing entry")
	}
	if len(reg.List()) != 0 {
		t.Errorf("expected empty registry, got %v", reg.List())
	}
}

func TestRegistry_BundleEmptyIsNil(t *testing.T) {
	reg := NewRegistry()
	if bundle := reg.BuildBundle(); bundle != nil {
		t.Errorf("expected nil bundle for empty registry, got %+v", bundle)
	}
}

func TestRegistry_BundleRebuiltFresh(t *testing.T) {
	reg := NewRegistry()
	reg.Register(testDef("read_file"))

	first := reg.BuildBundle()
	if first == nil || len(first.Tools) != 1 {
		t.Fatalf("expected bundle with 1 tool, got %+v", first)
	}

	reg.Register(testDef("write_file"))
	second := reg.BuildBundle()
	if len(second.Tools) != 2 {
		t.Errorf("expected registration to take effect on next bundle, got %d tools", len(second.Tools))
	}
	if len(first.Tools) != 1 {
		t.Errorf("earlier bundle must not be mutated, got %d tools", len(first.Tools))
	}
}

func TestRegistry_ListOrder(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"c", "a", "b"} {
		reg.Register(testDef(name))
	}

	got := reg.List()
	want := []string{"c", "a", "b"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected registration order %v, got %v", want, got)
		}
	}
}
