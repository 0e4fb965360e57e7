// Package agent implements the plan/act execution core: the base
// ask-dispatch-record loop, the planner that turns LLM free text into a
// structured plan, and the executor that works through plan steps with tools.
package agent

import (
	"context"

	"github.com/google/uuid"

	"github.com/openagentd/agentd/pkg/memory"
	"github.com/openagentd/agentd/pkg/models"
)

// EventSink receives events as the loop produces them, in causal order.
// The flow controller wires this to the per-agent broadcaster.
type EventSink interface {
	Emit(ctx context.Context, ev models.AgentEvent) error
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, ev models.AgentEvent) error

// Emit implements EventSink.
func (f EventSinkFunc) Emit(ctx context.Context, ev models.AgentEvent) error {
	return f(ctx, ev)
}

// Agent is the addressable unit of one conversation. It owns two independent
// memories: the planner's and the executor's.
type Agent struct {
	ID              string
	UserID          string
	LLM             models.LLMOverrides
	Environment     string
	PlannerMemory   *memory.Memory
	ExecutionMemory *memory.Memory
}

// NewAgent creates an agent with fresh memories under the given policy.
func NewAgent(userID string, overrides models.LLMOverrides, policy memory.CompressPolicy) *Agent {
	return &Agent{
		ID:              uuid.New().String(),
		UserID:          userID,
		LLM:             overrides,
		PlannerMemory:   memory.New(memory.WithPolicy(policy)),
		ExecutionMemory: memory.New(memory.WithPolicy(policy)),
	}
}

// Info returns the agent's stable identity record.
func (a *Agent) Info() models.AgentInfo {
	return models.AgentInfo{
		ID:          a.ID,
		UserID:      a.UserID,
		LLM:         a.LLM,
		Environment: a.Environment,
	}
}

// Snapshot copies the agent's state into a context record for persistence.
// Repositories observe value copies only.
func (a *Agent) Snapshot(ctx *models.AgentContext) {
	ctx.AgentID = a.ID
	ctx.Agent = a.Info()
	ctx.PlannerMemory = a.PlannerMemory.Snapshot()
	ctx.ExecutionMemory = a.ExecutionMemory.Snapshot()
}

// RestoreFrom loads agent state from a persisted context record.
func RestoreFrom(c *models.AgentContext, policy memory.CompressPolicy) *Agent {
	a := &Agent{
		ID:              c.AgentID,
		UserID:          c.Agent.UserID,
		LLM:             c.Agent.LLM,
		Environment:     c.Agent.Environment,
		PlannerMemory:   memory.New(memory.WithPolicy(policy)),
		ExecutionMemory: memory.New(memory.WithPolicy(policy)),
	}
	a.PlannerMemory.Restore(c.PlannerMemory)
	a.ExecutionMemory.Restore(c.ExecutionMemory)
	return a
}
