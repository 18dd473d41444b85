// Package quote exposes cached stock price snapshots as a model tool.
package quote

import (
	"context"

	"github.com/quantlab/quantagent/internal/fetcher"
	"github.com/quantlab/quantagent/internal/tools"
)

// Tool returns the latest price snapshot for one symbol.
type Tool struct {
	fetcher *fetcher.Cached
}

// NewTool wraps a cached quote fetcher.
func NewTool(f *fetcher.Cached) *Tool {
	return &Tool{fetcher: f}
}

func (t *Tool) Name() string { return "stock_quote" }

func (t *Tool) Description() string {
	return "Get the latest price for a stock symbol. Returns symbol, price, currency, change, change_percent, and market_time."
}

func (t *Tool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"symbol": map[string]any{"type": "string", "description": "Ticker symbol, e.g. NVDA"},
		},
		"required": []string{"symbol"},
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
