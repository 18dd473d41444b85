package websearch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/quantlab/quantagent/internal/cache"
	"github.com/quantlab/quantagent/internal/fetcher"
)

type fakeSearch struct {
	payload []byte
	err     error
}

func (f *fakeSearch) Name() string { return "web_search" }

func (f *fakeSearch) Validate(params map[string]any) error {
	if q, _ := params["query"].(string); q == "" {
		return fetcher.ErrInvalidParameters
	}
	return nil
}

func (f *fakeSearch) Invoke(ctx context.Context, params map[string]any) fetcher.Result {
	if f.err != nil {
		return fetcher.Failure(f.err)
	}
	return fetcher.Success(f.payload)
}

func (f *fakeSearch) Empty() []byte { return []byte("[]") }

func newTool(client fetcher.Client) *Tool {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cached := fetcher.NewCached(client, cache.NewMemory(cache.DefaultMaxBytes), time.Minute, logger)
	return NewTool(cached)
}

func TestExecute(t *testing.T) {
	tool := newTool(&fakeSearch{payload: []byte(`[{"title":"hit"}]`)})

	res, err := tool.Execute(context.Background(), map[string]any{"query": "fed rates"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Error("expected success")
	}
	if res.Output != `[{"title":"hit"}]` {
		t.Errorf("output = %q", res.Output)
	}
}

func TestExecute_ProviderFailureDegradesToEmpty(t *testing.T) {
	tool := newTool(&fakeSearch{err: errors.New("upstream down")})

	res, err := tool.Execute(context.Background(), map[string]any{"query": "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Output != "[]" {
		t.Errorf("output = %q, want empty list", res.Output)
	}
}

func TestValidate_Delegates(t *testing.T) {
	tool := newTool(&fakeSearch{})
	if err := tool.Validate(map[string]any{}); !errors.Is(err, fetcher.ErrInvalidParameters) {
		t.Errorf("error = %v, want ErrInvalidParameters", err)
	}
	if err := tool.Validate(map[string]any{"query": "ok"}); err != nil {
		t.Errorf("valid params rejected: %v", err)
	}
}

func TestInputSchema(t *testing.T) {
	tool := newTool(&fakeSearch{})
	schema := tool.InputSchema()
	if schema["type"] != "object" {
		t.Errorf("schema type = %v", schema["type"])
	}
	required, _ := schema["required"].([]string)
	if len(required) != 1 || required[0] != "query" {
		t.Errorf("required = %v", required)
	}
}
