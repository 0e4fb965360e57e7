package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openagentd/agentd/pkg/events"
	"github.com/openagentd/agentd/pkg/llm"
	"github.com/openagentd/agentd/pkg/memory"
	"github.com/openagentd/agentd/pkg/models"
	"github.com/openagentd/agentd/pkg/sandbox"
	"github.com/openagentd/agentd/pkg/store"
	"github.com/openagentd/agentd/pkg/tools"
)

const onePlanStep = `{"goal": "g", "steps": [{"id": "s1", "description": "only step"}]}`

// funcAsker routes each LLM call, by index, through fn.
type funcAsker struct {
	fn func(ctx context.Context, call int) (*llm.AssistantMessage, error)

	mu    sync.Mutex
	calls int
}

func (f *funcAsker) Ask(ctx context.Context, _ *llm.Request) (*llm.AssistantMessage, error) {
	f.mu.Lock()
	call := f.calls
	f.calls++
	f.mu.Unlock()
	return f.fn(ctx, call)
}

func scripted(replies ...string) *funcAsker {
	return &funcAsker{fn: func(_ context.Context, call int) (*llm.AssistantMessage, error) {
		if call >= len(replies) {
			return &llm.AssistantMessage{Content: "out of script"}, nil
		}
		return &llm.AssistantMessage{Content: replies[call]}, nil
	}}
}

func newTestService(t *testing.T, st store.Store, asker llm.Asker) (*AgentService, *events.Hub) {
	t.Helper()
	hub := events.NewHub(st.Conversations())
	svc, err := New(Options{
		Store:        st,
		Hub:          hub,
		LLM:          asker,
		Sandbox:      sandbox.NewClient("http://sandbox.invalid", time.Second),
		MemoryBudget: 32768,
		Policy:       memory.DefaultCompressPolicy(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return svc, hub
}

func waitForStatus(t *testing.T, svc *AgentService, agentID string, want models.AgentStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		rec, err := svc.GetAgent(context.Background(), agentID)
		return err == nil && rec.Status == want
	}, 5*time.Second, 10*time.Millisecond, "agent never reached status %s", want)
}

func TestCreateAgentPersistsRecords(t *testing.T) {
	st := store.NewMemoryStore()
	svc, _ := newTestService(t, st, scripted())
	ctx := context.Background()

	record, err := svc.CreateAgent(ctx, "user-1", "", models.LLMOverrides{})
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusCreated, record.Status)
	assert.Equal(t, "plan_act", record.FlowType, "empty flow type defaults")

	// Both the context and the conversation header are durable.
	got, err := st.Contexts().Get(ctx, record.AgentID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.Agent.UserID)
	h, err := st.Conversations().GetHistory(ctx, record.AgentID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", h.UserID)
}

func TestCreateAgentUnknownFlow(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemoryStore(), scripted())
	_, err := svc.CreateAgent(context.Background(), "user-1", "no_such_flow", models.LLMOverrides{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown flow type")
}

func TestSendMessageUnknownAgent(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemoryStore(), scripted())
	err := svc.SendMessage(context.Background(), "nope", "hello")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSendMessageDrivesToCompletion(t *testing.T) {
	st := store.NewMemoryStore()
	svc, _ := newTestService(t, st, scripted(onePlanStep, "did it", "report"))
	ctx := context.Background()

	record, err := svc.CreateAgent(ctx, "user-1", "", models.LLMOverrides{})
	require.NoError(t, err)
	require.NoError(t, svc.SendMessage(ctx, record.AgentID, "do the thing"))
	waitForStatus(t, svc, record.AgentID, models.AgentStatusCompleted)

	// The run's events landed in order, terminated by done.
	evs, err := svc.History(ctx, record.AgentID, 1)
	require.NoError(t, err)
	types := make([]models.EventType, 0, len(evs))
	for _, ev := range evs {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []models.EventType{
		models.EventPlanCreated,
		models.EventStepStarted,
		models.EventMessage,
		models.EventStepCompleted,
		models.EventReport,
		models.EventPlanCompleted,
		models.EventDone,
	}, types)

	// The memory snapshot was persisted with the terminal status.
	got, err := st.Contexts().Get(ctx, record.AgentID)
	require.NoError(t, err)
	assert.Equal(t, "do the thing", got.LastMessage)
	assert.NotEmpty(t, got.PlannerMemory)
	assert.NotEmpty(t, got.ExecutionMemory)
}

func TestSendMessagePausesOnClarification(t *testing.T) {
	asker := &funcAsker{fn: func(_ context.Context, call int) (*llm.AssistantMessage, error) {
		if call == 0 {
			return &llm.AssistantMessage{Content: onePlanStep}, nil
		}
		return &llm.AssistantMessage{ToolCalls: []models.ToolCall{{
			ID:        "tc-1",
			Function:  tools.FuncRequestClarification,
			Arguments: `{"text": "which one?"}`,
		}}}, nil
	}}
	svc, _ := newTestService(t, store.NewMemoryStore(), asker)
	ctx := context.Background()

	record, err := svc.CreateAgent(ctx, "user-1", "", models.LLMOverrides{})
	require.NoError(t, err)
	require.NoError(t, svc.SendMessage(ctx, record.AgentID, "deploy"))
	waitForStatus(t, svc, record.AgentID, models.AgentStatusPaused)
}

func TestSendMessageInterruptsInflightRun(t *testing.T) {
	started := make(chan struct{})
	var startedOnce sync.Once
	asker := &funcAsker{fn: func(ctx context.Context, call int) (*llm.AssistantMessage, error) {
		switch call {
		case 0: // first message: plan
			return &llm.AssistantMessage{Content: onePlanStep}, nil
		case 1: // first step: hang until interrupted
			startedOnce.Do(func() { close(started) })
			<-ctx.Done()
			return nil, ctx.Err()
		case 2: // second message: plan revision
			return &llm.AssistantMessage{Content: onePlanStep}, nil
		case 3:
			return &llm.AssistantMessage{Content: "did it"}, nil
		default:
			return &llm.AssistantMessage{Content: "report"}, nil
		}
	}}
	svc, _ := newTestService(t, store.NewMemoryStore(), asker)
	ctx := context.Background()

	record, err := svc.CreateAgent(ctx, "user-1", "", models.LLMOverrides{})
	require.NoError(t, err)
	require.NoError(t, svc.SendMessage(ctx, record.AgentID, "first"))

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("first run never reached the executor")
	}

	// The second message cancels the stuck run, rolls back, and replans.
	require.NoError(t, svc.SendMessage(ctx, record.AgentID, "actually do this instead"))
	waitForStatus(t, svc, record.AgentID, models.AgentStatusCompleted)

	// The interrupted run must not have emitted done; only the second run's
	// terminal done is in the log.
	evs, err := svc.History(ctx, record.AgentID, 1)
	require.NoError(t, err)
	var dones int
	for _, ev := range evs {
		if ev.Type == models.EventDone {
			dones++
		}
	}
	assert.Equal(t, 1, dones)
}

func TestRuntimeRestoresAfterRestart(t *testing.T) {
	st := store.NewMemoryStore()
	first, _ := newTestService(t, st, scripted())
	ctx := context.Background()

	record, err := first.CreateAgent(ctx, "user-1", "", models.LLMOverrides{})
	require.NoError(t, err)

	// A new service instance over the same store has no live runtime and
	// must rebuild it from the persisted context.
	second, _ := newTestService(t, st, scripted(onePlanStep, "did it", "report"))
	require.NoError(t, second.SendMessage(ctx, record.AgentID, "resume me"))
	waitForStatus(t, second, record.AgentID, models.AgentStatusCompleted)
}

func TestDeleteAgentRemovesEverything(t *testing.T) {
	st := store.NewMemoryStore()
	svc, _ := newTestService(t, st, scripted(onePlanStep, "did it", "report"))
	ctx := context.Background()

	record, err := svc.CreateAgent(ctx, "user-1", "", models.LLMOverrides{})
	require.NoError(t, err)
	require.NoError(t, svc.SendMessage(ctx, record.AgentID, "work"))
	waitForStatus(t, svc, record.AgentID, models.AgentStatusCompleted)

	require.NoError(t, svc.DeleteAgent(ctx, record.AgentID))

	_, err = svc.GetAgent(ctx, record.AgentID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.Conversations().GetHistory(ctx, record.AgentID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, svc.DeleteAgent(ctx, record.AgentID), store.ErrNotFound)
}

func TestOpenStream(t *testing.T) {
	svc, hub := newTestService(t, store.NewMemoryStore(), scripted())
	ctx := context.Background()

	_, err := svc.OpenStream(ctx, "nope", 1)
	assert.ErrorIs(t, err, store.ErrNotFound)

	record, err := svc.CreateAgent(ctx, "user-1", "", models.LLMOverrides{})
	require.NoError(t, err)
	_, err = hub.Broadcast(ctx, record.AgentID, models.DoneEvent{})
	require.NoError(t, err)

	stream, err := svc.OpenStream(ctx, record.AgentID, 1)
	require.NoError(t, err)
	defer stream.Close()
	ev, err := stream.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.EventDone, ev.Type)
	_, err = stream.Next(ctx)
	assert.ErrorIs(t, err, events.ErrStreamDone)
}

func TestShutdownRejectsNewWork(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemoryStore(), scripted())
	ctx := context.Background()

	record, err := svc.CreateAgent(ctx, "user-1", "", models.LLMOverrides{})
	require.NoError(t, err)

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Shutdown(shutdownCtx))

	_, err = svc.CreateAgent(ctx, "user-2", "", models.LLMOverrides{})
	assert.ErrorIs(t, err, ErrShuttingDown)
	assert.ErrorIs(t, svc.SendMessage(ctx, record.AgentID, "hi"), ErrShuttingDown)
}
