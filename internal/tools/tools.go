// Package tools defines the tool interface and registry exposed to the
// model. Each tool carries a per-request call budget the orchestrator
// enforces before execution.
package tools

import (
	"context"
	"sort"
	"sync"

	"github.com/quantlab/quantagent/internal/llm"
)

// DefaultCallLimit is the per-request invocation ceiling applied to any
// tool without an explicit limit.
const DefaultCallLimit = 2

// Tool is the interface all tools implement.
type Tool interface {
	// Name returns the tool's unique identifier (e.g. "web_search").
	Name() string

	// Description returns a human-readable description sent to the model.
	Description() string

	// InputSchema returns a JSON Schema object describing the tool's
	// parameters, sent to the model for function calling.
	InputSchema() map[string]any

	// Validate checks that params are well-formed. The orchestrator calls
	// this before Execute so malformed requests fail fast.
	Validate(params map[string]any) error

	// Execute runs the tool with the given parameters.
	Execute(ctx context.Context, params map[string]any) (*Result, error)
}

// Result is the outcome of a tool execution.
type Result struct {
	Output   string         `json:"output"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Success  bool           `json:"success"`
}

// MaxOutputBytes caps tool output handed back to the model.
const MaxOutputBytes = 1 << 20 // 1 MB

// TruncateOutput caps a string at maxBytes, appending a truncation notice if cut.
func TruncateOutput(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	const suffix = "\n... [output truncated]"
	if maxBytes <= len(suffix) {
		return s[:maxBytes]
	}
	return s[:maxBytes-len(suffix)] + suffix
}

// Registry holds available tools keyed by name, together with each tool's
// per-request call limit. Thread-safe for concurrent reads; writes should
// only happen at startup.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	limits map[string]int
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:  make(map[string]Tool),
		limits: make(map[string]int),
	}
}

// Register adds a tool with the default call limit. Panics on duplicate
// names (startup config error, not runtime).
func (r *Registry) Register(t Tool) {
	r.RegisterWithLimit(t, DefaultCallLimit)
}

// RegisterWithLimit adds a tool with an explicit per-request call limit.
// A non-positive limit falls back to DefaultCallLimit.
func (r *Registry) RegisterWithLimit(t Tool, limit int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		panic("duplicate tool registration: " + t.Name())
	}
	if limit <= 0 {
		limit = DefaultCallLimit
	}
	r.tools[t.Name()] = t
	r.limits[t.Name()] = limit
}

// Get returns the tool by name, or nil if not found.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// CallLimit returns the per-request invocation ceiling for the named tool.
// Unknown names report the default limit.
func (r *Registry) CallLimit(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if limit, ok := r.limits[name]; ok {
		return limit
	}
	return DefaultCallLimit
}

// List returns all registered tool names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns all registered tools in name order.
func (r *Registry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name() < result[j].Name() })
	return result
}

// ToLLMDefinitions converts all registered tools into model tool definitions.
func ToLLMDefinitions(reg *Registry) []llm.ToolDefinition {
	all := reg.All()
	defs := make([]llm.ToolDefinition, len(all))
	for i, t := range all {
		defs[i] = llm.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		}
	}
	return defs
}
