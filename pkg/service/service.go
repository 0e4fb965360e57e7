// Package service glues the core together: it owns the live agents, their
// flows, the in-flight run registry and the persistence/broadcast wiring
// behind the HTTP surface.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openagentd/agentd/pkg/agent"
	"github.com/openagentd/agentd/pkg/events"
	"github.com/openagentd/agentd/pkg/flow"
	"github.com/openagentd/agentd/pkg/llm"
	"github.com/openagentd/agentd/pkg/memory"
	"github.com/openagentd/agentd/pkg/models"
	"github.com/openagentd/agentd/pkg/sandbox"
	"github.com/openagentd/agentd/pkg/store"
	"github.com/openagentd/agentd/pkg/tools"
)

// ErrShuttingDown is returned for new work arriving during shutdown.
var ErrShuttingDown = errors.New("service shutting down")

// Options wires the service's dependencies.
type Options struct {
	Store   store.Store
	Hub     *events.Hub
	LLM     llm.Asker
	Sandbox *sandbox.Client

	// SearchEndpoint enables the search tool when non-empty.
	SearchEndpoint string
	SearchAPIKey   string

	MaxIterations int
	MemoryBudget  int
	Policy        memory.CompressPolicy
}

// AgentService is the application core behind the HTTP API. One instance per
// process; it is the single writer for every agent it hosts.
type AgentService struct {
	store   store.Store
	hub     *events.Hub
	llm     llm.Asker
	sandbox *sandbox.Client
	invoker *tools.Invoker

	maxIterations int
	memoryBudget  int
	policy        memory.CompressPolicy

	mu       sync.Mutex
	runtimes map[string]*runtime
	runs     map[string]*run
	closed   bool
	wg       sync.WaitGroup
}

// runtime is the live in-memory state for one agent: the agent, its flow and
// the broadcast sink. Guarded by the service mutex for lookup; the flow
// itself is driven by at most one run goroutine at a time.
type runtime struct {
	agent *agent.Agent
	flow  *flow.PlanActFlow

	// driveMu serializes drives for this agent.
	driveMu sync.Mutex
}

// run tracks one in-flight message drive.
type run struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates the service and its shared tool registry.
func New(opts Options) (*AgentService, error) {
	toolset := []tools.Tool{
		tools.NewShellTool(opts.Sandbox),
		tools.NewFileTool(opts.Sandbox),
		tools.NewBrowserTool(opts.Sandbox),
		tools.NewMessageTool(),
	}
	if opts.SearchEndpoint != "" {
		toolset = append(toolset, tools.NewSearchTool(opts.SearchEndpoint, opts.SearchAPIKey))
	}
	registry, err := tools.NewRegistry(toolset...)
	if err != nil {
		return nil, fmt.Errorf("build tool registry: %w", err)
	}

	maxIterations := opts.MaxIterations
	if maxIterations <= 0 {
		maxIterations = agent.DefaultMaxIterations
	}
	memoryBudget := opts.MemoryBudget
	if memoryBudget <= 0 {
		memoryBudget = opts.Policy.MaxTotalTokens
	}

	return &AgentService{
		store:         opts.Store,
		hub:           opts.Hub,
		llm:           opts.LLM,
		sandbox:       opts.Sandbox,
		invoker:       tools.NewInvoker(registry),
		maxIterations: maxIterations,
		memoryBudget:  memoryBudget,
		policy:        opts.Policy,
		runtimes:      make(map[string]*runtime),
		runs:          make(map[string]*run),
	}, nil
}

// sink returns the event sink for one agent, broadcasting through the hub.
func (s *AgentService) sink(agentID string) agent.EventSink {
	return agent.EventSinkFunc(func(ctx context.Context, ev models.AgentEvent) error {
		_, err := s.hub.Broadcast(ctx, agentID, ev)
		return err
	})
}

// buildRuntime assembles planner, executor and flow around a live agent.
func (s *AgentService) buildRuntime(a *agent.Agent, flowType string) (*runtime, error) {
	sink := s.sink(a.ID)
	planner := agent.NewPlanner(a, s.llm, sink)
	executor := agent.NewExecutor(a, s.llm, s.invoker, sink)
	executor.MaxIterations = s.maxIterations

	f, err := flow.Build(flowType, flow.Deps{
		Agent:        a,
		Planner:      planner,
		Executor:     executor,
		Sink:         sink,
		MemoryBudget: s.memoryBudget,
	})
	if err != nil {
		return nil, err
	}
	return &runtime{agent: a, flow: f}, nil
}

// CreateAgent creates a fresh agent bound to a flow type and persists its
// context and conversation header.
func (s *AgentService) CreateAgent(ctx context.Context, userID, flowType string, overrides models.LLMOverrides) (*models.AgentContext, error) {
	if flowType == "" {
		flowType = flow.TypePlanAct
	}
	if !flow.Known(flowType) {
		return nil, fmt.Errorf("unknown flow type %q", flowType)
	}

	a := agent.NewAgent(userID, overrides, s.policy)
	rt, err := s.buildRuntime(a, flowType)
	if err != nil {
		return nil, err
	}

	record := &models.AgentContext{
		FlowType: flowType,
		Status:   models.AgentStatusCreated,
	}
	a.Snapshot(record)
	if err := s.store.Contexts().Save(ctx, record); err != nil {
		return nil, fmt.Errorf("persist agent context: %w", err)
	}
	if err := s.store.Conversations().SaveHistory(ctx, &models.ConversationHistory{
		AgentID:  a.ID,
		UserID:   userID,
		FlowType: flowType,
	}); err != nil {
		return nil, fmt.Errorf("persist conversation header: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrShuttingDown
	}
	s.runtimes[a.ID] = rt
	s.mu.Unlock()

	slog.Info("Agent created", "agent_id", a.ID, "user_id", userID, "flow_type", flowType)
	return record, nil
}

// GetAgent returns the persisted agent context. The store is authoritative;
// live state is only an acceleration.
func (s *AgentService) GetAgent(ctx context.Context, agentID string) (*models.AgentContext, error) {
	return s.store.Contexts().Get(ctx, agentID)
}

// ListAgents returns the persisted contexts for a user.
func (s *AgentService) ListAgents(ctx context.Context, userID string) ([]*models.AgentContext, error) {
	return s.store.Contexts().ListByUser(ctx, userID)
}

// Flows returns the registered flow types.
func (s *AgentService) Flows() []string { return flow.Types() }

// runtimeFor returns the live runtime for an agent, restoring it from the
// persisted context when the process has none (e.g. after a restart).
func (s *AgentService) runtimeFor(ctx context.Context, agentID string) (*runtime, error) {
	s.mu.Lock()
	if rt, ok := s.runtimes[agentID]; ok {
		s.mu.Unlock()
		return rt, nil
	}
	s.mu.Unlock()

	record, err := s.store.Contexts().Get(ctx, agentID)
	if err != nil {
		return nil, err
	}
	a := agent.RestoreFrom(record, s.policy)
	rt, err := s.buildRuntime(a, record.FlowType)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.runtimes[agentID]; ok {
		return existing, nil
	}
	s.runtimes[agentID] = rt
	return rt, nil
}

// SendMessage accepts a user message for an agent and drives the flow in the
// background. A message arriving mid-run interrupts: the in-flight run is
// cancelled at its next suspension point, both memories roll back one
// message, and planning restarts with the new message.
func (s *AgentService) SendMessage(ctx context.Context, agentID, message string) error {
	rt, err := s.runtimeFor(ctx, agentID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrShuttingDown
	}
	inflight := s.runs[agentID]
	s.mu.Unlock()

	if inflight != nil {
		slog.Info("Interrupting in-flight run", "agent_id", agentID)
		inflight.cancel()
		<-inflight.done
	}

	// Runs outlive the HTTP request that started them.
	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return ErrShuttingDown
	}
	s.runs[agentID] = r
	s.wg.Add(1)
	s.mu.Unlock()

	now := time.Now()
	status := models.AgentStatusRunning
	if _, err := s.store.Contexts().Update(ctx, agentID, store.ContextUpdate{
		Status:        &status,
		LastMessage:   &message,
		LastMessageAt: &now,
	}); err != nil {
		s.finishRun(agentID, r)
		cancel()
		return fmt.Errorf("mark agent running: %w", err)
	}

	go s.drive(runCtx, rt, agentID, message, r)
	return nil
}

// drive executes one message end to end and records the terminal status.
func (s *AgentService) drive(ctx context.Context, rt *runtime, agentID, message string, r *run) {
	defer s.finishRun(agentID, r)

	rt.driveMu.Lock()
	defer rt.driveMu.Unlock()

	if ctx.Err() != nil {
		return
	}

	err := rt.flow.HandleMessage(ctx, message)
	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		// Interrupted: roll back the half-applied message so the next
		// drive replans from a consistent memory.
		rt.flow.Rollback()
		return
	}

	status := models.AgentStatusCompleted
	switch {
	case err != nil:
		status = models.AgentStatusFailed
	case rt.flow.Plan() != nil:
		// The flow kept its plan: it paused waiting for the user.
		status = models.AgentStatusPaused
	}

	var record models.AgentContext
	rt.agent.Snapshot(&record)

	// Persist the terminal status and memory snapshots with a fresh
	// context; the run context may already be cancelled.
	saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, uerr := s.store.Contexts().Update(saveCtx, agentID, store.ContextUpdate{
		Status:          &status,
		PlannerMemory:   record.PlannerMemory,
		ExecutionMemory: record.ExecutionMemory,
	}); uerr != nil {
		slog.Error("Failed to persist run outcome", "agent_id", agentID, "status", status, "error", uerr)
	}
	slog.Info("Run finished", "agent_id", agentID, "status", status)
}

func (s *AgentService) finishRun(agentID string, r *run) {
	s.mu.Lock()
	if s.runs[agentID] == r {
		delete(s.runs, agentID)
	}
	s.mu.Unlock()
	close(r.done)
	s.wg.Done()
}

// OpenStream opens a replay-then-live event stream for the agent.
func (s *AgentService) OpenStream(ctx context.Context, agentID string, from int64) (*events.Stream, error) {
	if _, err := s.store.Conversations().GetHistory(ctx, agentID); err != nil {
		return nil, err
	}
	return s.hub.OpenStream(ctx, agentID, from)
}

// History returns the persisted events for an agent from a sequence.
func (s *AgentService) History(ctx context.Context, agentID string, from int64) ([]*models.ConversationEvent, error) {
	return s.store.Conversations().EventsFrom(ctx, agentID, from)
}

// DeleteAgent cancels any in-flight run, disconnects subscribers and removes
// every trace of the agent.
func (s *AgentService) DeleteAgent(ctx context.Context, agentID string) error {
	if _, err := s.store.Contexts().Get(ctx, agentID); err != nil {
		return err
	}

	s.mu.Lock()
	r := s.runs[agentID]
	delete(s.runtimes, agentID)
	s.mu.Unlock()
	if r != nil {
		r.cancel()
		<-r.done
	}

	s.hub.Remove(agentID)
	if err := s.store.Conversations().DeleteHistory(ctx, agentID); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if err := s.store.Contexts().Delete(ctx, agentID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("delete context: %w", err)
	}
	slog.Info("Agent deleted", "agent_id", agentID)
	return nil
}

// Shutdown stops accepting work, cancels in-flight runs and waits for them
// to unwind, bounded by the context.
func (s *AgentService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for _, r := range s.runs {
		r.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
