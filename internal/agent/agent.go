// Package agent defines the core agent interface and domain types.
package agent

import "context"

// Agent processes user questions through the model and executes tools
// within per-request call budgets.
type Agent interface {
	// Process sends a user message to the model and returns the response.
	Process(ctx context.Context, input *Input) (*Response, error)
}

// Input represents a user request entering the agent.
type Input struct {
	UserID         string
	Message        string
	CorrelationID  string
	ConversationID string // empty = ephemeral, no history carried across requests
}

// DefaultMaxIterations bounds the tool-use loop per request.
const DefaultMaxIterations = 8

// Response is the agent's output after model processing.
type Response struct {
	Message    string
	TokensUsed int
	ToolCalls  []ToolCallRecord // ledger of tool activity during this request
}

// ToolCallRecord is one entry in the per-request call ledger. Seq orders
// entries across the whole request, not per tool.
type ToolCallRecord struct {
	Seq            int
	Tool           string
	Params         map[string]any
	Success        bool
	BudgetExceeded bool // request was refused, no execution happened
}
