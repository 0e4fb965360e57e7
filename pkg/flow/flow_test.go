package flow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openagentd/agentd/pkg/agent"
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
}

func (s *scriptedAsker) Ask(_ context.Context, _ *llm.Request) (*llm.AssistantMessage, error) {
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

func planReply(steps ...string) *llm.AssistantMessage {
	content := `{"goal": "the goal", "steps": [`
	for i, s := range steps {
		if i > 0 {
			content += ","
		}
		content += `{"id": "` + s + `", "description": "` + s + `"}`
	}
	content += `]}`
	return &llm.AssistantMessage{Content: content}
}

// newTestFlow wires a flow with independent planner and executor askers so
// each side's script stays readable.
func newTestFlow(t *testing.T, plannerAsker, execAsker llm.Asker, sink agent.EventSink) *PlanActFlow {
	t.Helper()
	a := agent.NewAgent("user-1", models.LLMOverrides{}, memory.DefaultCompressPolicy())
	registry, err := tools.NewRegistry(tools.NewMessageTool())
	require.NoError(t, err)
	invoker := tools.NewInvoker(registry, tools.WithRetryInterval(time.Millisecond))

	f, err := Build(TypePlanAct, Deps{
		Agent:        a,
		Planner:      agent.NewPlanner(a, plannerAsker, sink),
		Executor:     agent.NewExecutor(a, execAsker, invoker, sink),
		Sink:         sink,
		MemoryBudget: 1 << 20,
	})
	require.NoError(t, err)
	return f
}

func TestFlowTwoStepHappyPath(t *testing.T) {
	plannerAsker := &scriptedAsker{replies: []*llm.AssistantMessage{
		planReply("s1", "s2"),
		planReply("s2"), // revision after s1: keep going with s2
	}}
	execAsker := &scriptedAsker{replies: []*llm.AssistantMessage{
		{Content: "did s1"},
		{Content: "did s2"},
		{Content: "final report"},
	}}
	sink := &recordingSink{}
	f := newTestFlow(t, plannerAsker, execAsker, sink)

	require.NoError(t, f.HandleMessage(context.Background(), "do two things"))

	assert.Equal(t, []models.EventType{
		models.EventPlanCreated,
		models.EventStepStarted,
		models.EventMessage,
		models.EventStepCompleted,
		models.EventPlanUpdated,
		models.EventStepStarted,
		models.EventMessage,
		models.EventStepCompleted,
		models.EventReport,
		models.EventPlanCompleted,
		models.EventDone,
	}, sink.types())

	assert.Equal(t, StateIdle, f.State())
	assert.Nil(t, f.Plan(), "a completed run clears the plan")

	completed, ok := sink.events[9].(models.PlanCompletedEvent)
	require.True(t, ok)
	assert.Equal(t, models.StatusCompleted, completed.Plan.Status)
	for _, step := range completed.Plan.Steps {
		assert.Equal(t, models.StatusCompleted, step.Status)
	}
	assert.Equal(t, 2, plannerAsker.calls)
	assert.Equal(t, 3, execAsker.calls)
}

func TestFlowSingleStepSkipsRevision(t *testing.T) {
	plannerAsker := &scriptedAsker{replies: []*llm.AssistantMessage{planReply("s1")}}
	execAsker := &scriptedAsker{replies: []*llm.AssistantMessage{
		{Content: "did it"},
		{Content: "report"},
	}}
	sink := &recordingSink{}
	f := newTestFlow(t, plannerAsker, execAsker, sink)

	require.NoError(t, f.HandleMessage(context.Background(), "one thing"))

	assert.Equal(t, []models.EventType{
		models.EventPlanCreated,
		models.EventStepStarted,
		models.EventMessage,
		models.EventStepCompleted,
		models.EventReport,
		models.EventPlanCompleted,
		models.EventDone,
	}, sink.types())
	assert.Equal(t, 1, plannerAsker.calls, "no revision between the last step and reporting")
}

func TestFlowPauseRetainsPlan(t *testing.T) {
	plannerAsker := &scriptedAsker{replies: []*llm.AssistantMessage{planReply("s1")}}
	execAsker := &scriptedAsker{replies: []*llm.AssistantMessage{
		{ToolCalls: []models.ToolCall{{
			ID:        "tc-1",
			Function:  tools.FuncRequestClarification,
			Arguments: `{"text": "which environment?"}`,
		}}},
	}}
	sink := &recordingSink{}
	f := newTestFlow(t, plannerAsker, execAsker, sink)

	require.NoError(t, f.HandleMessage(context.Background(), "deploy"))

	assert.Equal(t, []models.EventType{
		models.EventPlanCreated,
		models.EventStepStarted,
		models.EventToolCalling,
		models.EventToolCalled,
		models.EventMessage,
		models.EventPause,
		models.EventDone,
	}, sink.types())

	// The plan survives the pause so the next message resumes it.
	require.NotNil(t, f.Plan())
	assert.Equal(t, models.StatusPaused, f.Plan().Steps[0].Status)
	assert.Equal(t, StateIdle, f.State())
}

func TestFlowResumeAfterPause(t *testing.T) {
	plannerAsker := &scriptedAsker{replies: []*llm.AssistantMessage{
		planReply("s1"),
		planReply("s1"), // revision folds the user's answer back in
	}}
	execAsker := &scriptedAsker{replies: []*llm.AssistantMessage{
		{ToolCalls: []models.ToolCall{{
			ID:        "tc-1",
			Function:  tools.FuncRequestClarification,
			Arguments: `{"text": "which environment?"}`,
		}}},
		{Content: "deployed to staging"},
		{Content: "report"},
	}}
	sink := &recordingSink{}
	f := newTestFlow(t, plannerAsker, execAsker, sink)

	require.NoError(t, f.HandleMessage(context.Background(), "deploy"))
	require.NotNil(t, f.Plan())

	sink.events = nil
	require.NoError(t, f.HandleMessage(context.Background(), "staging"))

	assert.Equal(t, []models.EventType{
		models.EventUserInput,
		models.EventPlanUpdated,
		models.EventStepStarted,
		models.EventMessage,
		models.EventStepCompleted,
		models.EventReport,
		models.EventPlanCompleted,
		models.EventDone,
	}, sink.types())
	assert.Nil(t, f.Plan())
}

func TestFlowPlannerGivesUp(t *testing.T) {
	bad := &llm.AssistantMessage{Content: "not a plan"}
	plannerAsker := &scriptedAsker{replies: []*llm.AssistantMessage{bad, bad, bad}}
	sink := &recordingSink{}
	f := newTestFlow(t, plannerAsker, &scriptedAsker{}, sink)

	err := f.HandleMessage(context.Background(), "request")
	require.Error(t, err)

	assert.Equal(t, []models.EventType{
		models.EventError,
		models.EventDone,
	}, sink.types())
	assert.Equal(t, StateIdle, f.State())
	assert.Nil(t, f.Plan())
}

func TestFlowExecutorFailureEndsRun(t *testing.T) {
	plannerAsker := &scriptedAsker{replies: []*llm.AssistantMessage{planReply("s1")}}
	execAsker := &scriptedAsker{err: errors.New("provider down")}
	sink := &recordingSink{}
	f := newTestFlow(t, plannerAsker, execAsker, sink)

	err := f.HandleMessage(context.Background(), "request")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider down")

	assert.Equal(t, []models.EventType{
		models.EventPlanCreated,
		models.EventStepStarted,
		models.EventStepFailed,
		models.EventError,
		models.EventPlanCompleted,
		models.EventDone,
	}, sink.types())
	assert.Nil(t, f.Plan())
}

func TestFlowInterruptSkipsDone(t *testing.T) {
	plannerAsker := &scriptedAsker{replies: []*llm.AssistantMessage{planReply("s1")}}
	execAsker := &scriptedAsker{err: context.Canceled}
	sink := &recordingSink{}
	f := newTestFlow(t, plannerAsker, execAsker, sink)

	err := f.HandleMessage(context.Background(), "request")
	require.ErrorIs(t, err, context.Canceled)

	// No done event: the interrupting message's drive owns it.
	eventTypes := sink.types()
	assert.NotContains(t, eventTypes, models.EventDone)
	assert.NotContains(t, eventTypes, models.EventError)

	f.Rollback()
	assert.Equal(t, StateIdle, f.State())
}

func TestFlowRollbackUndoesTrailingTurns(t *testing.T) {
	a := agent.NewAgent("user-1", models.LLMOverrides{}, memory.DefaultCompressPolicy())
	require.NoError(t, a.PlannerMemory.AppendMany(
		models.Message{Role: models.RoleSystem, Content: "sys"},
		models.Message{Role: models.RoleUser, Content: "interrupted request"},
	))
	f := New(a, nil, nil, nil, 1<<20)

	f.Rollback()
	msgs := a.PlannerMemory.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, models.RoleSystem, msgs[0].Role)
	assert.Equal(t, StateIdle, f.State())
}

func TestRegistry(t *testing.T) {
	assert.True(t, Known(TypePlanAct))
	assert.False(t, Known("tree_of_thought"))
	assert.Equal(t, []string{TypePlanAct}, Types())

	_, err := Build("tree_of_thought", Deps{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown flow type")
}
