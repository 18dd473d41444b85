package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/quantlab/quantagent/internal/llm"
	"github.com/quantlab/quantagent/internal/observability"
	"github.com/quantlab/quantagent/internal/tools"
)

// DefaultSystemPrompt frames the assistant for financial questions.
const DefaultSystemPrompt = "You are a helpful quantitative trading assistant."

// Message shown when the model cannot produce a final answer after its
// tool budget is spent.
const exhaustedFallback = "I could not finish answering within the allowed number of tool calls. Please narrow the question and try again."

// Orchestrator is the default Agent implementation. It runs a bounded
// tool-use loop: the model plans, requested tools execute sequentially
// under per-tool call budgets, and results feed back until the model
// produces a final text answer or the iteration ceiling forces one.
type Orchestrator struct {
	provider      llm.Provider
	systemPrompt  string
	logger        *slog.Logger
	toolRegistry  *tools.Registry                 // nil = no tools available
	metrics       *observability.MetricsCollector // nil = metrics disabled
	tracer        *observability.TracerSetup      // nil = tracing disabled
	memory        *ConversationMemory             // nil = ephemeral conversations
	maxIterations int                             // 0 = DefaultMaxIterations
}

// NewOrchestrator creates an agent backed by the given model provider.
// An empty systemPrompt falls back to DefaultSystemPrompt.
func NewOrchestrator(provider llm.Provider, systemPrompt string, logger *slog.Logger) *Orchestrator {
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	return &Orchestrator{
		provider:     provider,
		systemPrompt: systemPrompt,
		logger:       logger,
	}
}

// WithTools attaches a tool registry.
func (o *Orchestrator) WithTools(registry *tools.Registry) *Orchestrator {
	o.toolRegistry = registry
	return o
}

// WithMetrics attaches request and tool accounting.
func (o *Orchestrator) WithMetrics(m *observability.MetricsCollector) *Orchestrator {
	o.metrics = m
	return o
}

// WithTracer attaches distributed tracing.
func (o *Orchestrator) WithTracer(t *observability.TracerSetup) *Orchestrator {
	o.tracer = t
	return o
}

// WithMemory attaches conversation history keyed by conversation ID.
func (o *Orchestrator) WithMemory(m *ConversationMemory) *Orchestrator {
	o.memory = m
	return o
}

// WithMaxIterations sets the tool-use loop ceiling.
func (o *Orchestrator) WithMaxIterations(n int) *Orchestrator {
	o.maxIterations = n
	return o
}

// Process runs one request through the bounded tool-use loop. The call
// ledger and per-tool budgets reset on every call, so concurrent requests
// never share budget state.
func (o *Orchestrator) Process(ctx context.Context, input *Input) (*Response, error) {
	if o.tracer != nil {
		var span trace.Span
		ctx, span = o.tracer.Tracer().Start(ctx, "agent.process",
			trace.WithAttributes(
				attribute.String("user_id", input.UserID),
				attribute.String("correlation_id", input.CorrelationID),
			))
		defer span.End()
	}

	o.logger.DebugContext(ctx, "processing input",
		slog.String("user_id", input.UserID),
		slog.String("correlation_id", input.CorrelationID),
		slog.String("conversation_id", input.ConversationID),
	)

	var history []llm.Message
	if o.memory != nil && input.ConversationID != "" {
		history = o.memory.Load(input.ConversationID)
	}
	historyStart := len(history)
	history = append(history, llm.UserText(input.Message))

	var toolDefs []llm.ToolDefinition
	if o.toolRegistry != nil {
		toolDefs = tools.ToLLMDefinitions(o.toolRegistry)
	}

	maxIter := o.maxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}

	run := &runState{calls: make(map[string]int)}

	for iter := 0; iter < maxIter; iter++ {
		llmResp, err := o.complete(ctx, &llm.Request{
			SystemPrompt: o.systemPrompt,
			Messages:     history,
			Tools:        toolDefs,
		})
		if err != nil {
			if span := trace.SpanFromContext(ctx); span.IsRecording() {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return nil, fmt.Errorf("llm request failed: %w", err)
		}
		run.tokens += llmResp.Usage.InputTokens + llmResp.Usage.OutputTokens

		history = append(history, llm.Message{
			Role:    llm.RoleAssistant,
			Content: llmResp.Content,
		})

		if !llmResp.HasToolUse() {
			o.save(input.ConversationID, history, historyStart)
			return &Response{
				Message:    llmResp.Text(),
				TokensUsed: run.tokens,
				ToolCalls:  run.ledger,
			}, nil
		}

		o.logger.InfoContext(ctx, "executing tool calls",
			slog.Int("iteration", iter+1),
			slog.Int("tool_calls", len(llmResp.ToolUseBlocks())),
			slog.String("correlation_id", input.CorrelationID),
		)

		resultBlocks := o.executeToolCalls(ctx, input, run, llmResp.ToolUseBlocks())
		history = append(history, llm.Message{
			Role:    llm.RoleUser,
			Content: resultBlocks,
		})
	}

	// Iteration ceiling reached: force a final answer with tools disabled
	// so the model must synthesize from what it already gathered.
	o.logger.WarnContext(ctx, "max tool-use iterations reached",
		slog.Int("max_iterations", maxIter),
		slog.String("correlation_id", input.CorrelationID),
	)

	finalResp, err := o.complete(ctx, &llm.Request{
		SystemPrompt: o.systemPrompt,
		Messages:     history,
		Tools:        nil,
	})
	if err != nil {
		o.logger.ErrorContext(ctx, "forced final answer failed",
			slog.String("error", err.Error()),
			slog.String("correlation_id", input.CorrelationID),
		)
		o.save(input.ConversationID, history, historyStart)
		return &Response{
			Message:    exhaustedFallback,
			TokensUsed: run.tokens,
			ToolCalls:  run.ledger,
		}, nil
	}
	run.tokens += finalResp.Usage.InputTokens + finalResp.Usage.OutputTokens

	message := finalResp.Text()
	if message == "" {
		message = exhaustedFallback
	}
	history = append(history, llm.Message{Role: llm.RoleAssistant, Content: finalResp.Content})
	o.save(input.ConversationID, history, historyStart)

	return &Response{
		Message:    message,
		TokensUsed: run.tokens,
		ToolCalls:  run.ledger,
	}, nil
}

// runState is the per-request call ledger. Never shared across requests.
type runState struct {
	calls  map[string]int // invocations so far, keyed by tool name
	ledger []ToolCallRecord
	seq    int
	tokens int
}

// complete wraps one provider round trip with metrics.
func (o *Orchestrator) complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	start := time.Now()
	resp, err := o.provider.Complete(ctx, req)
	if o.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		o.metrics.LLMRequestsTotal.WithLabelValues(o.provider.Name(), "", status).Inc()
		o.metrics.LLMRequestDuration.WithLabelValues(o.provider.Name(), "").Observe(time.Since(start).Seconds())
		if err == nil {
			o.metrics.LLMTokensUsed.WithLabelValues(o.provider.Name(), "", "input").Add(float64(resp.Usage.InputTokens))
			o.metrics.LLMTokensUsed.WithLabelValues(o.provider.Name(), "", "output").Add(float64(resp.Usage.OutputTokens))
		}
	}
	return resp, err
}

// executeToolCalls runs each requested tool sequentially, enforcing the
// per-tool budget before execution. A refused call produces a synthetic
// error result so the model learns the budget is spent and can answer
// from the results it already has.
func (o *Orchestrator) executeToolCalls(ctx context.Context, input *Input, run *runState, blocks []llm.ContentBlock) []llm.ContentBlock {
	resultBlocks := make([]llm.ContentBlock, 0, len(blocks))

	for _, block := range blocks {
		run.seq++
		record := ToolCallRecord{Seq: run.seq, Tool: block.Name, Params: block.Input}

		limit := tools.DefaultCallLimit
		if o.toolRegistry != nil {
			limit = o.toolRegistry.CallLimit(block.Name)
		}
		if run.calls[block.Name] >= limit {
			o.logger.WarnContext(ctx, "tool call budget exceeded",
				slog.String("tool", block.Name),
				slog.Int("limit", limit),
				slog.String("correlation_id", input.CorrelationID),
			)
			if o.metrics != nil {
				o.metrics.BudgetExceededTotal.WithLabelValues(block.Name).Inc()
			}
			record.BudgetExceeded = true
			run.ledger = append(run.ledger, record)
			resultBlocks = append(resultBlocks, llm.ToolResultBlock(
				block.ID,
				fmt.Sprintf("Call budget exceeded: %s may be used at most %d time(s) per request. Answer with the information already gathered.", block.Name, limit),
				true,
			))
			continue
		}
		run.calls[block.Name]++

		output, ok := o.executeTool(ctx, block.Name, block.Input)
		record.Success = ok
		run.ledger = append(run.ledger, record)
		resultBlocks = append(resultBlocks, llm.ToolResultBlock(block.ID, output, !ok))
	}

	return resultBlocks
}

// executeTool validates and runs one tool. Failures come back as error
// text for the model rather than aborting the request.
func (o *Orchestrator) executeTool(ctx context.Context, name string, params map[string]any) (string, bool) {
	if o.toolRegistry == nil {
		return "Error: no tools configured", false
	}
	tool := o.toolRegistry.Get(name)
	if tool == nil {
		return fmt.Sprintf("Error: unknown tool %s", name), false
	}

	if err := tool.Validate(params); err != nil {
		return fmt.Sprintf("Error: invalid parameters for %s: %s", name, err), false
	}

	start := time.Now()
	result, err := tool.Execute(ctx, params)
	if o.metrics != nil {
		status := "success"
		if err != nil || (result != nil && !result.Success) {
			status = "error"
		}
		o.metrics.ToolInvocationsTotal.WithLabelValues(name, status).Inc()
		o.metrics.ToolInvocationDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		o.logger.ErrorContext(ctx, "tool execution failed",
			slog.String("tool", name),
			slog.String("error", err.Error()),
		)
		return fmt.Sprintf("Error: %s", err), false
	}

	return tools.TruncateOutput(result.Output, tools.MaxOutputBytes), result.Success
}

// save appends this request's new messages to conversation memory.
func (o *Orchestrator) save(conversationID string, history []llm.Message, start int) {
	if o.memory == nil || conversationID == "" {
		return
	}
	o.memory.Append(conversationID, history[start:])
}
