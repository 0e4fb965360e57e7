package agent

import (
	"context"
	"time"

	"github.com/openagentd/agentd/pkg/llm"
	"github.com/openagentd/agentd/pkg/memory"
	"github.com/openagentd/agentd/pkg/models"
	"github.com/openagentd/agentd/pkg/tools"
)

// Executor runs plan steps with the full tool set and keeps execution memory
// bounded across many steps by summarizing between them.
type Executor struct {
	Memory        *memory.Memory
	LLM           llm.Asker
	Invoker       *tools.Invoker
	Sink          EventSink
	MaxIterations int
	Overrides     models.LLMOverrides

	// Now is swappable for tests; defaults to time.Now.
	Now func() time.Time
}

// NewExecutor creates an executor over the agent's execution memory.
func NewExecutor(a *Agent, asker llm.Asker, invoker *tools.Invoker, sink EventSink) *Executor {
	return &Executor{
		Memory:        a.ExecutionMemory,
		LLM:           asker,
		Invoker:       invoker,
		Sink:          sink,
		MaxIterations: DefaultMaxIterations,
		Overrides:     a.LLM,
		Now:           time.Now,
	}
}

// ensureSystemPrompt seeds the execution memory with the system prompt
// materialized from the tool catalogue and the current timestamp.
func (e *Executor) ensureSystemPrompt() error {
	if _, ok := e.Memory.LatestSystem(); ok {
		return nil
	}
	return e.Memory.Append(models.Message{
		Role:    models.RoleSystem,
		Content: executorSystemPrompt(e.Invoker.Registry().Schemas(), e.Now()),
	})
}

// ExecuteStep runs one plan step through the loop: marks it running, emits
// step_started, and mirrors the loop's terminal event onto the step.
func (e *Executor) ExecuteStep(ctx context.Context, plan *models.Plan, step *models.Step, message string) (*LoopResult, error) {
	if err := e.ensureSystemPrompt(); err != nil {
		return nil, err
	}

	step.Status = models.StatusRunning
	if err := e.Sink.Emit(ctx, models.StepStartedEvent{PlanID: plan.ID, Step: step}); err != nil {
		return nil, err
	}

	loop := &Loop{
		Memory:        e.Memory,
		LLM:           e.LLM,
		Invoker:       e.Invoker,
		Sink:          e.Sink,
		MaxIterations: e.MaxIterations,
		Overrides:     e.Overrides,
	}
	result, err := loop.Run(ctx, stepPrompt(plan, step, message))
	if err != nil {
		// LLM or persistence failure: the step failed and the error
		// propagates so the flow can emit its error event.
		step.Status = models.StatusFailed
		step.Error = err.Error()
		if emitErr := e.Sink.Emit(ctx, models.StepFailedEvent{PlanID: plan.ID, Step: step}); emitErr != nil {
			return nil, emitErr
		}
		return nil, err
	}

	switch result.Outcome {
	case OutcomeMessage:
		step.Result = result.Content
		step.Status = models.StatusCompleted
		if err := e.Sink.Emit(ctx, models.StepCompletedEvent{PlanID: plan.ID, Step: step}); err != nil {
			return nil, err
		}
	case OutcomeError:
		step.Error = result.Content
		step.Status = models.StatusFailed
		if err := e.Sink.Emit(ctx, models.StepFailedEvent{PlanID: plan.ID, Step: step}); err != nil {
			return nil, err
		}
	case OutcomePause:
		// The loop already emitted pause; the step stays paused for the
		// next user message.
		step.Status = models.StatusPaused
	}
	return result, nil
}

// SummarizeSteps asks the LLM (no tools) for a summary of previous work,
// then clears execution memory and reseeds it with the system prompt plus a
// synthetic previous-steps record. This bounds memory across many steps.
func (e *Executor) SummarizeSteps(ctx context.Context) error {
	if e.Memory.Len() == 0 {
		return nil
	}

	reply, err := e.LLM.Ask(ctx, &llm.Request{
		Messages:  append(e.Memory.WithLatestSystem(), models.Message{Role: models.RoleUser, Content: summarizePrompt}),
		Overrides: e.Overrides,
	})
	if err != nil {
		return err
	}

	e.Memory.Clear()
	return e.Memory.AppendMany(
		models.Message{
			Role:    models.RoleSystem,
			Content: executorSystemPrompt(e.Invoker.Registry().Schemas(), e.Now()),
		},
		models.Message{
			Role:    models.RoleSystem,
			Content: "previous steps: " + reply.Content,
		},
	)
}

// ReportResult asks the LLM for the final report and emits it.
func (e *Executor) ReportResult(ctx context.Context) (string, error) {
	reply, err := e.LLM.Ask(ctx, &llm.Request{
		Messages:  append(e.Memory.WithLatestSystem(), models.Message{Role: models.RoleUser, Content: reportPrompt}),
		Overrides: e.Overrides,
	})
	if err != nil {
		return "", err
	}
	if err := e.Sink.Emit(ctx, models.ReportEvent{Content: reply.Content}); err != nil {
		return "", err
	}
	return reply.Content, nil
}
