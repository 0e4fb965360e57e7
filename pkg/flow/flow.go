// Package flow implements the per-agent state machine that orders planning,
// execution, updating and reporting for one agent. The flow is single
// threaded per agent: one HandleMessage drive at a time, no intra-agent
// parallelism.
package flow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/openagentd/agentd/pkg/agent"
	"github.com/openagentd/agentd/pkg/models"
)

// State is the flow controller's state.
type State string

const (
	StateIdle      State = "IDLE"
	StatePlanning  State = "PLANNING"
	StateExecuting State = "EXECUTING"
	StateUpdating  State = "UPDATING"
	StateReporting State = "REPORTING"
	StateCompleted State = "COMPLETED"
)

// summarizeThresholdShare is the fraction of the execution memory token
// budget above which the executor summarizes between steps.
const summarizeThresholdShare = 2

// PlanActFlow is the single-level plan/act flow: plan the request, execute
// steps one at a time, revise between steps, report at the end.
type PlanActFlow struct {
	agent    *agent.Agent
	planner  *agent.Planner
	executor *agent.Executor
	sink     agent.EventSink

	state State
	plan  *models.Plan

	// memoryBudget is the execution memory token budget, used to decide
	// when to summarize between steps.
	memoryBudget int
}

// New creates a plan/act flow for one agent.
func New(a *agent.Agent, planner *agent.Planner, executor *agent.Executor, sink agent.EventSink, memoryBudget int) *PlanActFlow {
	return &PlanActFlow{
		agent:        a,
		planner:      planner,
		executor:     executor,
		sink:         sink,
		state:        StateIdle,
		memoryBudget: memoryBudget,
	}
}

// Type returns the registered flow type tag.
func (f *PlanActFlow) Type() string { return TypePlanAct }

// State returns the current state.
func (f *PlanActFlow) State() State { return f.state }

// Plan returns the current plan, nil before the first message.
func (f *PlanActFlow) Plan() *models.Plan { return f.plan }

// Rollback undoes the trailing message of each memory. Called by the service
// after cancelling an in-flight run, before restarting planning.
func (f *PlanActFlow) Rollback() {
	f.agent.PlannerMemory.Rollback()
	f.agent.ExecutionMemory.Rollback()
	f.state = StateIdle
}

// HandleMessage drives the state machine for one user message to a terminal
// state. Every terminal path — success, failure, pause — ends with a done
// event; only context cancellation (an interrupt is underway, a new drive
// will follow) skips it.
func (f *PlanActFlow) HandleMessage(ctx context.Context, message string) error {
	resumed := f.plan != nil
	if resumed {
		if err := f.sink.Emit(ctx, models.UserInputEvent{Content: message, Timestamp: time.Now()}); err != nil {
			return err
		}
	}

	err := f.drive(ctx, message, resumed)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// Interrupted: the next drive owns the done event.
			return err
		}
		slog.Error("Flow drive failed", "agent_id", f.agent.ID, "state", f.state, "error", err)
		if emitErr := f.sink.Emit(ctx, models.ErrorEvent{Error: err.Error()}); emitErr != nil {
			return emitErr
		}
		f.state = StateCompleted
	}

	if f.state == StateCompleted {
		if f.plan != nil {
			if f.plan.Status != models.StatusFailed {
				f.plan.Status = models.StatusCompleted
			}
			if emitErr := f.sink.Emit(ctx, models.PlanCompletedEvent{Plan: f.plan}); emitErr != nil {
				return emitErr
			}
		}
		f.plan = nil
	}

	if emitErr := f.sink.Emit(ctx, models.DoneEvent{}); emitErr != nil {
		return emitErr
	}
	f.state = StateIdle
	return err
}

// drive runs the transitions until COMPLETED or a pause.
func (f *PlanActFlow) drive(ctx context.Context, message string, resumed bool) error {
	f.state = StatePlanning

	if !resumed {
		plan, err := f.planner.CreatePlan(ctx, message)
		if err != nil {
			return err
		}
		if plan == nil {
			f.plan = nil
			f.state = StateCompleted
			return errors.New("planner produced no parseable plan")
		}
		f.plan = plan
	} else {
		ok, err := f.planner.UpdatePlan(ctx, f.plan, message)
		if err != nil {
			return err
		}
		if !ok {
			f.state = StateCompleted
			return nil
		}
	}

	f.state = StateExecuting
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		switch f.state {
		case StateExecuting:
			step := f.plan.NextStep()
			if step == nil {
				f.state = StateReporting
				continue
			}
			result, err := f.executor.ExecuteStep(ctx, f.plan, step, "")
			if err != nil {
				return err
			}
			if result.Outcome == agent.OutcomePause {
				// Waiting for the user; the run for this message is over.
				return nil
			}
			if f.plan.NextStep() == nil {
				f.state = StateReporting
			} else {
				f.state = StateUpdating
			}

		case StateUpdating:
			if f.executor.Memory.EstimatedTokens() > f.memoryBudget/summarizeThresholdShare {
				if err := f.executor.SummarizeSteps(ctx); err != nil {
					return err
				}
			}
			ok, err := f.planner.UpdatePlan(ctx, f.plan, "")
			if err != nil {
				return err
			}
			if !ok || f.plan.Completed() {
				f.state = StateCompleted
				return nil
			}
			f.state = StateExecuting

		case StateReporting:
			if _, err := f.executor.ReportResult(ctx); err != nil {
				return err
			}
			f.state = StateCompleted
			return nil

		default:
			return nil
		}
	}
}
