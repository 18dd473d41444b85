// Package websearch exposes cached Brave web search as a model tool.
package websearch

import (
	"context"

	"github.com/quantlab/quantagent/internal/fetcher"
	"github.com/quantlab/quantagent/internal/tools"
)

// Tool answers general web queries through the cached search fetcher.
type Tool struct {
	fetcher *fetcher.Cached
}

// NewTool wraps a cached web search fetcher.
func NewTool(f *fetcher.Cached) *Tool {
	return &Tool{fetcher: f}
}

func (t *Tool) Name() string { return "web_search" }

func (t *Tool) Description() string {
	return "Search the web for recent information. Returns a list of results with title, url, and description."
}

func (t *Tool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string", "description": "The search query"},
			"count": map[string]any{"type": "integer", "minimum": 1, "maximum": 20,
				"description": "Number of results to return. Defaults to 10"},
			"freshness": map[string]any{"type": "string", "enum": []string{"pd", "pw", "pm"},
				"description": "Recency window: past day, past week, or past month. Defaults to pw"},
		},
		"required": []string{"query"},
	}
}

func (t *Tool) Validate(params map[string]any) error {
	return t.fetcher.Validate(params)
}

func (t *Tool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	payload := t.fetcher.Fetch(ctx, params)
	return &tools.Result{
		Output:  tools.TruncateOutput(string(payload), tools.MaxOutputBytes),
		Success: true,
	}, nil
}
