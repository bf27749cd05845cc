package tools

import (
	"context"
	"encoding/json"
	"testing"
)

type stubTool struct {
	name string
	desc string
}

func (s *stubTool) Name() string                { return s.name }
func (s *stubTool) Description() string         { return s.desc }
func (s *stubTool) Parameters() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (s *stubTool) Execute(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
	return json.RawMessage(`"ok"`), nil
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register(&stubTool{name: "buscar_reglas", desc: "busca"})

	tool, ok := r.Get("buscar_reglas")
	if !ok {
		t.Fatal("expected tool to be found")
	}
	if tool.Name() != "buscar_reglas" {
		t.Errorf("Name() = %q, want %q", tool.Name(), "buscar_reglas")
	}
	if _, ok := r.Get("nonexistent"); ok {
		t.Fatal("expected ok=false for missing tool")
	}
}

func TestRegistry_ToToolDefsSorted(t *testing.T) {
	t.Parallel()

	r := NewRegistry(
		&stubTool{name: "probar_patron", desc: "desc b"},
		&stubTool{name: "buscar_reglas", desc: "desc a"},
	)
	if r.Len() != 2 {
		t.Fatalf("Len = %d, want 2", r.Len())
	}

	defs := r.ToToolDefs()
	if len(defs) != 2 {
		t.Fatalf("len(defs) = %d, want 2", len(defs))
	}
	if defs[0].Name != "buscar_reglas" || defs[1].Name != "probar_patron" {
		t.Errorf("order = %q, %q", defs[0].Name, defs[1].Name)
	}
	if defs[0].Description != "desc a" || len(defs[0].InputSchema) == 0 {
		t.Errorf("def = %+v", defs[0])
	}
}

func TestRegistry_RegisterOverwrites(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register(&stubTool{name: "dup", desc: "first"})
	r.Register(&stubTool{name: "dup", desc: "second"})

	tool, _ := r.Get("dup")
	if tool.Description() != "second" {
		t.Errorf("Description() = %q, want %q (should be overwritten)", tool.Description(), "second")
	}
	if defs := r.ToToolDefs(); len(defs) != 1 {
		t.Errorf("len(defs) = %d, want 1 after overwrite", len(defs))
	}
}
