package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/openagentd/agentd/pkg/llm"
	"github.com/openagentd/agentd/pkg/memory"
	"github.com/openagentd/agentd/pkg/models"
	"github.com/openagentd/agentd/pkg/tools"
)

// DefaultMaxIterations bounds one loop invocation.
const DefaultMaxIterations = 30

// Outcome classifies how a loop invocation ended.
type Outcome int

const (
	// OutcomeMessage: the assistant answered with text and no tool call.
	OutcomeMessage Outcome = iota
	// OutcomePause: a sentinel function was called; the run waits for the
	// next user message.
	OutcomePause
	// OutcomeError: the iteration limit was hit.
	OutcomeError
)

// LoopResult is the terminal state of one loop invocation.
type LoopResult struct {
	Outcome Outcome
	Content string
}

// Loop runs one plan/act iteration cycle: ask the LLM, dispatch the single
// retained tool call, record the result, repeat. Events are emitted through
// the sink in causal order while the loop runs.
type Loop struct {
	Memory         *memory.Memory
	LLM            llm.Asker
	Invoker        *tools.Invoker // nil when the loop runs without tools
	Sink           EventSink
	MaxIterations  int
	ResponseFormat string
	Overrides      models.LLMOverrides
}

// Run appends the user request to memory and drives the loop to a terminal
// outcome. Tool failures are recorded as tool messages so the LLM can
// recover; only LLM and persistence failures propagate as errors.
func (l *Loop) Run(ctx context.Context, request string) (*LoopResult, error) {
	maxIter := l.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}

	if err := l.Memory.Append(models.Message{Role: models.RoleUser, Content: request}); err != nil {
		return nil, err
	}

	for iteration := 1; iteration <= maxIter; iteration++ {
		assistant, err := l.ask(ctx)
		if err != nil {
			return nil, err
		}

		if err := l.Memory.Append(assistant); err != nil {
			return nil, err
		}

		// No tool call: this is the terminal answer for this invocation.
		if len(assistant.ToolCalls) == 0 {
			if err := l.Sink.Emit(ctx, models.MessageEvent{
				Role:    models.RoleAssistant,
				Content: assistant.Content,
			}); err != nil {
				return nil, err
			}
			return &LoopResult{Outcome: OutcomeMessage, Content: assistant.Content}, nil
		}

		tc := assistant.ToolCalls[0]
		paused, err := l.dispatch(ctx, tc)
		if err != nil {
			return nil, err
		}
		if paused != nil {
			return paused, nil
		}
		// The tool message is the next input; ask again without a new user turn.
	}

	if err := l.Sink.Emit(ctx, models.ErrorEvent{Error: "iteration limit"}); err != nil {
		return nil, err
	}
	return &LoopResult{Outcome: OutcomeError, Content: "iteration limit"}, nil
}

// ask calls the LLM with the prompt view of memory and normalizes the reply:
// absent content becomes "", and at most one tool call is retained.
func (l *Loop) ask(ctx context.Context) (models.Message, error) {
	req := &llm.Request{
		Messages:       l.Memory.WithLatestSystem(),
		ResponseFormat: l.ResponseFormat,
		Overrides:      l.Overrides,
	}
	if l.Invoker != nil {
		req.Tools = l.Invoker.Registry().Schemas()
	}

	reply, err := l.LLM.Ask(ctx, req)
	if err != nil {
		return models.Message{}, fmt.Errorf("llm ask: %w", err)
	}

	msg := models.Message{Role: models.RoleAssistant, Content: reply.Content}
	switch {
	case len(reply.ToolCalls) == 0:
	case l.Invoker == nil:
		// The request offered no tools; nothing can serve the call, so the
		// reply is kept as plain text.
		slog.Warn("LLM returned a tool call on a no-tools request, dropping",
			"function", reply.ToolCalls[0].Function)
	default:
		if len(reply.ToolCalls) > 1 {
			slog.Warn("LLM returned multiple tool calls, keeping the first",
				"count", len(reply.ToolCalls), "kept", reply.ToolCalls[0].Function)
		}
		msg.ToolCalls = reply.ToolCalls[:1]
	}
	return msg, nil
}

// dispatch invokes one tool call, emits tool_calling/tool_called around it,
// and records the serialized result as a tool message. It returns a non-nil
// LoopResult when the call was a sentinel (pause).
func (l *Loop) dispatch(ctx context.Context, tc models.ToolCall) (*LoopResult, error) {
	args := parseArguments(tc.Arguments)

	tool, resolveErr := l.Invoker.Registry().Resolve(tc.Function)
	toolName := tc.Function
	if resolveErr == nil {
		toolName = tool.Name()
	}

	if err := l.Sink.Emit(ctx, models.ToolCallingEvent{
		Tool:      toolName,
		Function:  tc.Function,
		Arguments: args,
	}); err != nil {
		return nil, err
	}

	result, invokeErr := l.Invoker.Invoke(ctx, tc.Function, args)
	if invokeErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Tool failures stay inside the loop: the error body becomes the
		// tool message so the LLM can recover.
		result = &models.ToolResult{Success: false, Message: invokeErr.Error()}
	}
	serialized := models.Stringify(result)

	if err := l.Sink.Emit(ctx, models.ToolCalledEvent{
		Tool:      toolName,
		Function:  tc.Function,
		Arguments: args,
		Result:    serialized,
	}); err != nil {
		return nil, err
	}

	if err := l.Memory.Append(models.Message{
		Role:       models.RoleTool,
		Content:    serialized,
		ToolCallID: tc.ID,
	}); err != nil {
		return nil, err
	}

	if tools.IsSentinel(tc.Function) {
		if result.Message != "" {
			if err := l.Sink.Emit(ctx, models.MessageEvent{
				Role:    models.RoleAssistant,
				Content: result.Message,
			}); err != nil {
				return nil, err
			}
		}
		if err := l.Sink.Emit(ctx, models.PauseEvent{Reason: tc.Function}); err != nil {
			return nil, err
		}
		return &LoopResult{Outcome: OutcomePause, Content: result.Message}, nil
	}
	return nil, nil
}

// parseArguments decodes the LLM's JSON-string arguments tolerantly; on
// failure the raw string is preserved so the tool can report a useful error.
func parseArguments(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err == nil {
		return args
	}
	if err := json.Unmarshal([]byte(RepairJSON(raw)), &args); err == nil {
		return args
	}
	return map[string]any{"_raw": raw}
}
