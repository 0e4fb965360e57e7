package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/openagentd/agentd/pkg/llm"
	"github.com/openagentd/agentd/pkg/memory"
	"github.com/openagentd/agentd/pkg/models"
)

// plannerMaxIterations bounds the planner's parse-retry loop. The planner
// runs without tools, so each iteration is one LLM call.
const plannerMaxIterations = 3

// planParse is the JSON schema the planner expects from the LLM.
type planParse struct {
	Message string `json:"message"`
	Goal    string `json:"goal"`
	Title   string `json:"title"`
	Steps   []struct {
		ID          string `json:"id"`
		Description string `json:"description"`
		SubFlowStep *int   `json:"sub_flow_step,omitempty"`
		SubFlowType string `json:"sub_flow_type,omitempty"`
	} `json:"steps"`
}

// Planner produces and revises plans from LLM free text via a tolerant JSON
// repair pass. It runs the base loop with no tools and a small iteration cap.
type Planner struct {
	Memory    *memory.Memory
	LLM       llm.Asker
	Sink      EventSink
	Overrides models.LLMOverrides
}

// NewPlanner creates a planner over the agent's planner memory. The fixed
// system prompt is seeded on first use.
func NewPlanner(a *Agent, asker llm.Asker, sink EventSink) *Planner {
	return &Planner{
		Memory:    a.PlannerMemory,
		LLM:       asker,
		Sink:      sink,
		Overrides: a.LLM,
	}
}

// CreatePlan asks the LLM for a fresh plan for the request and emits
// plan_created. A nil plan with a nil error means the planner gave up
// parsing within its iteration budget (an error event was emitted).
func (p *Planner) CreatePlan(ctx context.Context, request string) (*models.Plan, error) {
	parsed, err := p.invoke(ctx, request)
	if err != nil {
		return nil, err
	}
	if parsed == nil {
		return nil, nil
	}

	plan := &models.Plan{
		ID:     uuid.New().String(),
		Title:  parsed.Title,
		Goal:   parsed.Goal,
		Status: models.StatusRunning,
		Steps:  parsed.steps(),
	}
	if plan.Goal == "" {
		plan.Goal = request
	}
	if err := p.Sink.Emit(ctx, models.PlanCreatedEvent{Plan: plan}); err != nil {
		return nil, err
	}
	return plan, nil
}

// UpdatePlan revises the plan after a step concluded: steps before the first
// non-terminal step are kept verbatim, everything after is replaced by the
// newly parsed steps. An empty new step list emits pause (plan exhausted).
// The returned bool is false when the plan is exhausted.
func (p *Planner) UpdatePlan(ctx context.Context, plan *models.Plan, message string) (bool, error) {
	parsed, err := p.invoke(ctx, updatePlanPrompt(plan, message))
	if err != nil {
		return false, err
	}
	if parsed == nil {
		// Unparseable planner output after retries: treat as exhausted
		// rather than looping forever.
		if err := p.Sink.Emit(ctx, models.PauseEvent{Reason: "plan update unparseable"}); err != nil {
			return false, err
		}
		return false, nil
	}

	newSteps := parsed.steps()
	if len(newSteps) == 0 {
		if err := p.Sink.Emit(ctx, models.PauseEvent{Reason: "plan exhausted"}); err != nil {
			return false, err
		}
		return false, nil
	}

	plan.ApplyUpdate(newSteps)
	if err := p.Sink.Emit(ctx, models.PlanUpdatedEvent{Plan: plan}); err != nil {
		return false, err
	}
	return true, nil
}

// invoke runs the no-tools loop and post-processes the assistant text into a
// plan parse. On parse failure the raw message is fed back into the loop,
// bounded by the iteration cap.
func (p *Planner) invoke(ctx context.Context, input string) (*planParse, error) {
	if _, ok := p.Memory.LatestSystem(); !ok {
		if err := p.Memory.Append(models.Message{
			Role:    models.RoleSystem,
			Content: plannerSystemPrompt,
		}); err != nil {
			return nil, err
		}
	}

	loop := &Loop{
		Memory:         p.Memory,
		LLM:            p.LLM,
		Sink:           dropMessages{p.Sink},
		MaxIterations:  1,
		ResponseFormat: llm.ResponseFormatJSON,
		Overrides:      p.Overrides,
	}

	for attempt := 1; attempt <= plannerMaxIterations; attempt++ {
		result, err := loop.Run(ctx, input)
		if err != nil {
			return nil, err
		}

		parsed := parsePlan(result.Content)
		if parsed != nil {
			return parsed, nil
		}

		slog.Warn("Planner output did not parse as a plan, re-invoking",
			"attempt", attempt, "content_len", len(result.Content))
		input = result.Content
	}
	return nil, nil
}

// parsePlan runs the tolerant JSON pass. A parse only counts when it yields
// an object with a list at "steps".
func parsePlan(content string) *planParse {
	var parsed planParse
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		if err := json.Unmarshal([]byte(RepairJSON(content)), &parsed); err != nil {
			return nil
		}
	}
	if parsed.Steps == nil {
		return nil
	}
	return &parsed
}

// steps converts parsed steps into pending plan steps, assigning ids where
// the LLM omitted them. Duplicate ids are de-duplicated by suffixing the
// position so step ids stay unique within a plan.
func (pp *planParse) steps() []*models.Step {
	out := make([]*models.Step, 0, len(pp.Steps))
	seen := make(map[string]bool, len(pp.Steps))
	for i, s := range pp.Steps {
		id := s.ID
		if id == "" {
			id = uuid.New().String()[:8]
		}
		if seen[id] {
			id = fmt.Sprintf("%s-%d", id, i+1)
		}
		seen[id] = true
		out = append(out, &models.Step{
			ID:          id,
			Description: s.Description,
			Status:      models.StatusPending,
			SubFlowStep: s.SubFlowStep,
			SubFlowType: s.SubFlowType,
		})
	}
	return out
}

// dropMessages suppresses intermediate message events from the planner's
// inner loop: the planner's raw JSON answer is not a user-facing message.
// Everything else (errors) passes through.
type dropMessages struct {
	inner EventSink
}

func (d dropMessages) Emit(ctx context.Context, ev models.AgentEvent) error {
	if ev.EventType() == models.EventMessage {
		return nil
	}
	return d.inner.Emit(ctx, ev)
}
