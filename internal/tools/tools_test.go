package tools

import (
	"context"
	"reflect"
	"strings"
	"testing"
)

type stubTool struct {
	name string
}

func (s stubTool) Name() string                { return s.name }
func (s stubTool) Description() string         { return "stub " + s.name }
func (s stubTool) InputSchema() map[string]any { return map[string]any{"type": "object"} }
func (s stubTool) Validate(map[string]any) error {
	return nil
}
func (s stubTool) Execute(context.Context, map[string]any) (*Result, error) {
	return &Result{Output: "ok", Success: true}, nil
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(stubTool{name: "web_search"})

	if got := r.Get("web_search"); got == nil {
		t.Fatal("registered tool not found")
	}
	if got := r.Get("nope"); got != nil {
		t.Errorf("Get(nope) = %v, want nil", got)
	}
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	r := NewRegistry()
	r.Register(stubTool{name: "web_search"})

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	r.Register(stubTool{name: "web_search"})
}

func TestRegistry_CallLimits(t *testing.T) {
	r := NewRegistry()
	r.Register(stubTool{name: "web_search"})
	r.RegisterWithLimit(stubTool{name: "market_news"}, 5)
	r.RegisterWithLimit(stubTool{name: "stock_quote"}, 0)

	if got := r.CallLimit("web_search"); got != DefaultCallLimit {
		t.Errorf("web_search limit = %d, want default %d", got, DefaultCallLimit)
	}
	if got := r.CallLimit("market_news"); got != 5 {
		t.Errorf("market_news limit = %d, want 5", got)
	}
	if got := r.CallLimit("stock_quote"); got != DefaultCallLimit {
		t.Errorf("non-positive limit = %d, want default fallback", got)
	}
	if got := r.CallLimit("unregistered"); got != DefaultCallLimit {
		t.Errorf("unknown tool limit = %d, want default", got)
	}
}

func TestRegistry_ListSorted(t *testing.T) {
	r := NewRegistry()
	r.Register(stubTool{name: "web_search"})
	r.Register(stubTool{name: "market_news"})
	r.Register(stubTool{name: "stock_quote"})

	want := []string{"market_news", "stock_quote", "web_search"}
	if got := r.List(); !reflect.DeepEqual(got, want) {
		t.Errorf("List() = %v, want %v", got, want)
	}
}

func TestToLLMDefinitions(t *testing.T) {
	r := NewRegistry()
	r.Register(stubTool{name: "web_search"})
	r.Register(stubTool{name: "market_news"})

	defs := ToLLMDefinitions(r)
	if len(defs) != 2 {
		t.Fatalf("got %d definitions, want 2", len(defs))
	}
	if defs[0].Name != "market_news" || defs[1].Name != "web_search" {
		t.Errorf("definitions out of order: %v, %v", defs[0].Name, defs[1].Name)
	}
	if defs[0].InputSchema["type"] != "object" {
		t.Errorf("schema not propagated: %v", defs[0].InputSchema)
	}
}

func TestTruncateOutput(t *testing.T) {
	long := strings.Repeat("x", 100)
	got := TruncateOutput(long, 50)
	if len(got) > 50 {
		t.Errorf("truncated length = %d, want <= 50", len(got))
	}
	if !strings.Contains(got, "truncated") {
		t.Errorf("missing truncation notice: %q", got)
	}
	if short := TruncateOutput("abc", 50); short != "abc" {
		t.Errorf("short string modified: %q", short)
	}
}
