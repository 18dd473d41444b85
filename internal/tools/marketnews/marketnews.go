// Package marketnews exposes cached Yahoo Finance headlines as a model tool.
package marketnews

import (
	"context"

	"github.com/quantlab/quantagent/internal/fetcher"
	"github.com/quantlab/quantagent/internal/tools"
)

// Tool returns recent market news for a ticker or topic.
type Tool struct {
	fetcher *fetcher.Cached
}

// NewTool wraps a cached market news fetcher.
func NewTool(f *fetcher.Cached) *Tool {
	return &Tool{fetcher: f}
}

func (t *Tool) Name() string { return "market_news" }

func (t *Tool) Description() string {
	return "Fetch recent market news headlines for a ticker symbol or financial topic. Returns id, title, publisher, link, and published_at per item."
}

func (t *Tool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string",
				"description": "Ticker symbol or topic, e.g. AAPL or \"oil prices\""},
			"count": map[string]any{"type": "integer", "minimum": 1, "maximum": 20,
				"description": "Number of headlines to return. Defaults to 8"},
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
