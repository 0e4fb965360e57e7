package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openagentd/agentd/pkg/llm"
	"github.com/openagentd/agentd/pkg/memory"
	"github.com/openagentd/agentd/pkg/models"
	"github.com/openagentd/agentd/pkg/tools"
)

// scriptedAsker replays canned assistant messages in order.
type scriptedAsker struct {
	replies []*llm.AssistantMessage
	err     error
	calls   int
	// requests records the message views of each ask for inspection.
	requests []*llm.Request
}

func (s *scriptedAsker) Ask(_ context.Context, req *llm.Request) (*llm.AssistantMessage, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	if s.calls >= len(s.replies) {
		return &llm.AssistantMessage{Content: "out of script"}, nil
	}
	reply := s.replies[s.calls]
	s.calls++
	return reply, nil
}

// recordingSink collects emitted events in order.
type recordingSink struct {
	events []models.AgentEvent
}

func (r *recordingSink) Emit(_ context.Context, ev models.AgentEvent) error {
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingSink) types() []models.EventType {
	out := make([]models.EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.EventType())
	}
	return out
}

// fakeTool returns canned results keyed by function name.
type fakeTool struct {
	name    string
	fns     []string
	results map[string]*models.ToolResult
	errs    map[string]error
	calls   []string
}

func (f *fakeTool) Name() string { return f.name }

func (f *fakeTool) Functions() []models.FunctionSchema {
	out := make([]models.FunctionSchema, 0, len(f.fns))
	for _, fn := range f.fns {
		out = append(out, models.FunctionSchema{Name: fn, Description: fn})
	}
	return out
}

func (f *fakeTool) Invoke(_ context.Context, function string, _ map[string]any) (*models.ToolResult, error) {
	f.calls = append(f.calls, function)
	if err := f.errs[function]; err != nil {
		return nil, err
	}
	if r := f.results[function]; r != nil {
		return r, nil
	}
	return &models.ToolResult{Success: true, Message: "ok"}, nil
}

func testInvoker(t *testing.T, ts ...tools.Tool) *tools.Invoker {
	t.Helper()
	registry, err := tools.NewRegistry(ts...)
	require.NoError(t, err)
	return tools.NewInvoker(registry, tools.WithRetryInterval(time.Millisecond))
}

func toolCall(fn, args string) models.ToolCall {
	return models.ToolCall{ID: "tc-" + fn, Function: fn, Arguments: args}
}

func TestLoopTextAnswerTerminates(t *testing.T) {
	asker := &scriptedAsker{replies: []*llm.AssistantMessage{{Content: "the answer"}}}
	sink := &recordingSink{}
	loop := &Loop{Memory: memory.New(), LLM: asker, Sink: sink, Invoker: testInvoker(t)}

	result, err := loop.Run(context.Background(), "question")
	require.NoError(t, err)
	assert.Equal(t, OutcomeMessage, result.Outcome)
	assert.Equal(t, "the answer", result.Content)
	assert.Equal(t, []models.EventType{models.EventMessage}, sink.types())

	// Memory carries user turn then assistant turn.
	msgs := loop.Memory.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)
}

func TestLoopDispatchesToolThenAnswers(t *testing.T) {
	tool := &fakeTool{
		name:    "shell",
		fns:     []string{"shell_exec"},
		results: map[string]*models.ToolResult{"shell_exec": {Success: true, Message: "done", Data: "output"}},
	}
	asker := &scriptedAsker{replies: []*llm.AssistantMessage{
		{ToolCalls: []models.ToolCall{toolCall("shell_exec", `{"command":"ls"}`)}},
		{Content: "files listed"},
	}}
	sink := &recordingSink{}
	loop := &Loop{Memory: memory.New(), LLM: asker, Sink: sink, Invoker: testInvoker(t, tool)}

	result, err := loop.Run(context.Background(), "list files")
	require.NoError(t, err)
	assert.Equal(t, OutcomeMessage, result.Outcome)
	assert.Equal(t, []models.EventType{
		models.EventToolCalling,
		models.EventToolCalled,
		models.EventMessage,
	}, sink.types())
	assert.Equal(t, []string{"shell_exec"}, tool.calls)

	// The tool message carries the serialized result, keyed to the call id.
	msgs := loop.Memory.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, models.RoleTool, msgs[2].Role)
	assert.Equal(t, "tc-shell_exec", msgs[2].ToolCallID)
	assert.Contains(t, msgs[2].Content, `"success":true`)
}

func TestLoopKeepsOnlyFirstToolCall(t *testing.T) {
	tool := &fakeTool{name: "shell", fns: []string{"shell_exec", "shell_view"}}
	asker := &scriptedAsker{replies: []*llm.AssistantMessage{
		{ToolCalls: []models.ToolCall{
			toolCall("shell_exec", `{}`),
			toolCall("shell_view", `{}`),
		}},
		{Content: "done"},
	}}
	loop := &Loop{Memory: memory.New(), LLM: asker, Sink: &recordingSink{}, Invoker: testInvoker(t, tool)}

	_, err := loop.Run(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, []string{"shell_exec"}, tool.calls)
}

func TestLoopSentinelPauses(t *testing.T) {
	asker := &scriptedAsker{replies: []*llm.AssistantMessage{
		{ToolCalls: []models.ToolCall{toolCall(tools.FuncRequestClarification, `{"text":"which env?"}`)}},
	}}
	sink := &recordingSink{}
	loop := &Loop{
		Memory:  memory.New(),
		LLM:     asker,
		Sink:    sink,
		Invoker: testInvoker(t, tools.NewMessageTool()),
	}

	result, err := loop.Run(context.Background(), "deploy")
	require.NoError(t, err)
	assert.Equal(t, OutcomePause, result.Outcome)

	eventTypes := sink.types()
	require.NotEmpty(t, eventTypes)
	assert.Equal(t, models.EventPause, eventTypes[len(eventTypes)-1], "pause is the loop's final event")
}

func TestLoopWithoutToolsDropsToolCalls(t *testing.T) {
	asker := &scriptedAsker{replies: []*llm.AssistantMessage{{
		Content:   "answering in text",
		ToolCalls: []models.ToolCall{toolCall("shell_exec", `{}`)},
	}}}
	sink := &recordingSink{}
	loop := &Loop{Memory: memory.New(), LLM: asker, Sink: sink}

	result, err := loop.Run(context.Background(), "question")
	require.NoError(t, err)
	assert.Equal(t, OutcomeMessage, result.Outcome)
	assert.Equal(t, "answering in text", result.Content)
	assert.Equal(t, []models.EventType{models.EventMessage}, sink.types())

	// The dropped call never reaches memory either.
	msgs := loop.Memory.Messages()
	require.Len(t, msgs, 2)
	assert.Empty(t, msgs[1].ToolCalls)
}

func TestLoopToolErrorStaysInsideLoop(t *testing.T) {
	tool := &fakeTool{
		name: "shell",
		fns:  []string{"shell_exec"},
		errs: map[string]error{"shell_exec": errors.New("gateway unreachable")},
	}
	asker := &scriptedAsker{replies: []*llm.AssistantMessage{
		{ToolCalls: []models.ToolCall{toolCall("shell_exec", `{}`)}},
		{Content: "could not run the command"},
	}}
	loop := &Loop{Memory: memory.New(), LLM: asker, Sink: &recordingSink{}, Invoker: testInvoker(t, tool)}

	result, err := loop.Run(context.Background(), "try")
	require.NoError(t, err, "tool failure must not abort the loop")
	assert.Equal(t, OutcomeMessage, result.Outcome)

	msgs := loop.Memory.Messages()
	require.Len(t, msgs, 4)
	assert.Contains(t, msgs[2].Content, "gateway unreachable")
	assert.Contains(t, msgs[2].Content, `"success":false`)
}

func TestLoopIterationLimit(t *testing.T) {
	tool := &fakeTool{name: "shell", fns: []string{"shell_exec"}}
	reply := &llm.AssistantMessage{ToolCalls: []models.ToolCall{toolCall("shell_exec", `{}`)}}
	asker := &scriptedAsker{replies: []*llm.AssistantMessage{reply, reply, reply}}
	sink := &recordingSink{}
	loop := &Loop{
		Memory:        memory.New(),
		LLM:           asker,
		Sink:          sink,
		Invoker:       testInvoker(t, tool),
		MaxIterations: 3,
	}

	result, err := loop.Run(context.Background(), "loop forever")
	require.NoError(t, err)
	assert.Equal(t, OutcomeError, result.Outcome)

	eventTypes := sink.types()
	assert.Equal(t, models.EventError, eventTypes[len(eventTypes)-1])
	assert.Len(t, tool.calls, 3)
}

func TestLoopLLMErrorPropagates(t *testing.T) {
	asker := &scriptedAsker{err: errors.New("provider down")}
	loop := &Loop{Memory: memory.New(), LLM: asker, Sink: &recordingSink{}, Invoker: testInvoker(t)}

	_, err := loop.Run(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider down")
}

func TestParseArguments(t *testing.T) {
	assert.Equal(t, map[string]any{}, parseArguments(""))
	assert.Equal(t, map[string]any{"a": "b"}, parseArguments(`{"a":"b"}`))
	// Repairable input parses after the repair pass.
	assert.Equal(t, map[string]any{"a": true}, parseArguments(`{"a": True,}`))
	// Hopeless input is preserved raw.
	assert.Equal(t, map[string]any{"_raw": "not json at all"}, parseArguments("not json at all"))
}
