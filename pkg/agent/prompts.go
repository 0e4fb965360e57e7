package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/openagentd/agentd/pkg/models"
)

// plannerSystemPrompt instructs the planner to answer with the plan schema.
const plannerSystemPrompt = `You are a task planner. Given the user's request and any prior progress, produce or revise a step-by-step plan.

Respond with a single JSON object and nothing else:
{
  "message": "short note to the user",
  "title": "short plan title",
  "goal": "restatement of the user's goal",
  "steps": [
    {"id": "1", "description": "what to do in this step"}
  ]
}

Rules:
- Keep steps concrete and independently executable.
- When revising a plan, return only the remaining steps; finished work must not reappear.
- If nothing remains to be done, return an empty steps list.`

// executorSystemPrompt materializes the executor's system message from the
// tool catalogue and the current time.
func executorSystemPrompt(schemas []models.FunctionSchema, now time.Time) string {
	var b strings.Builder
	b.WriteString("You are an execution agent. You complete one plan step at a time using the tools available to you.\n\n")
	fmt.Fprintf(&b, "Current time: %s\n\n", now.Format(time.RFC3339))
	b.WriteString("Available functions:\n")
	for _, fn := range schemas {
		fmt.Fprintf(&b, "- %s: %s\n", fn.Name, fn.Description)
	}
	b.WriteString(`
Rules:
- Call at most one function per turn and wait for its result.
- When a step is finished, reply with a plain text summary of what was done and what was produced.
- Call ` + "`message_request_user_clarification`" + ` when you cannot proceed without user input.
- Call ` + "`message_done`" + ` when the user's overall goal is already satisfied.`)
	return b.String()
}

// stepPrompt formats the step-scoped user prompt for execute_step.
func stepPrompt(plan *models.Plan, step *models.Step, message string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are executing step %s of the goal: %s\n", step.ID, plan.Goal)
	fmt.Fprintf(&b, "Step description: %s\n", step.Description)
	if message != "" {
		fmt.Fprintf(&b, "User message: %s\n", message)
	}
	b.WriteString("Complete this step now.")
	return b.String()
}

// updatePlanPrompt formats the planner input after a step concluded.
func updatePlanPrompt(plan *models.Plan, message string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n\nProgress so far:\n", plan.Goal)
	for _, s := range plan.Steps {
		switch s.Status {
		case models.StatusCompleted:
			fmt.Fprintf(&b, "- [done] %s: %s\n", s.ID, s.Description)
		case models.StatusFailed:
			fmt.Fprintf(&b, "- [failed] %s: %s (%s)\n", s.ID, s.Description, s.Error)
		default:
			fmt.Fprintf(&b, "- [pending] %s: %s\n", s.ID, s.Description)
		}
	}
	if message != "" {
		fmt.Fprintf(&b, "\nNew user message: %s\n", message)
	}
	b.WriteString("\nRevise the remaining steps. Return an empty steps list if the goal is met.")
	return b.String()
}

// summarizePrompt asks for a compact record of previous work.
const summarizePrompt = "Summarize the work completed so far: what was attempted, what succeeded, key results and file paths. Be concise; this summary replaces the detailed transcript."

// reportPrompt asks for the final user-facing report.
const reportPrompt = "Produce the final report for the user: what was done, the results, and anything the user should know. Reply with the report text only."
