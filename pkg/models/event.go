package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType is the variant tag of an AgentEvent.
type EventType string

const (
	EventPlanCreated   EventType = "plan_created"
	EventPlanUpdated   EventType = "plan_updated"
	EventStepStarted   EventType = "step_started"
	EventStepCompleted EventType = "step_completed"
	EventStepFailed    EventType = "step_failed"
	EventPlanCompleted EventType = "plan_completed"
	EventToolCalling   EventType = "tool_calling"
	EventToolCalled    EventType = "tool_called"
	EventMessage       EventType = "message"
	EventReport        EventType = "report"
	EventError         EventType = "error"
	EventPause         EventType = "pause"
	EventUserInput     EventType = "user_input"
	EventDone          EventType = "done"
)

// AgentEvent is the tagged union of everything an agent run can emit.
// Each variant is a value type suitable for JSON serialization; persistence
// stores the tag plus the serialized variant and parsing reads the tag first.
type AgentEvent interface {
	EventType() EventType
}

// PlanCreatedEvent carries the initial plan produced for a user request.
type PlanCreatedEvent struct {
	Plan *Plan `json:"plan"`
}

func (PlanCreatedEvent) EventType() EventType { return EventPlanCreated }

// PlanUpdatedEvent carries the revised plan after a step concluded.
type PlanUpdatedEvent struct {
	Plan *Plan `json:"plan"`
}

func (PlanUpdatedEvent) EventType() EventType { return EventPlanUpdated }

// StepStartedEvent marks a step transitioning to running.
type StepStartedEvent struct {
	PlanID string `json:"plan_id"`
	Step   *Step  `json:"step"`
}

func (StepStartedEvent) EventType() EventType { return EventStepStarted }

// StepCompletedEvent marks a step reaching completed, with its result text.
type StepCompletedEvent struct {
	PlanID string `json:"plan_id"`
	Step   *Step  `json:"step"`
}

func (StepCompletedEvent) EventType() EventType { return EventStepCompleted }

// StepFailedEvent marks a step reaching failed, with its error text.
type StepFailedEvent struct {
	PlanID string `json:"plan_id"`
	Step   *Step  `json:"step"`
}

func (StepFailedEvent) EventType() EventType { return EventStepFailed }

// PlanCompletedEvent marks the whole plan reaching a terminal status.
type PlanCompletedEvent struct {
	Plan *Plan `json:"plan"`
}

func (PlanCompletedEvent) EventType() EventType { return EventPlanCompleted }

// ToolCallingEvent is emitted just before a tool function is invoked.
type ToolCallingEvent struct {
	Tool      string         `json:"tool"`
	Function  string         `json:"function"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

func (ToolCallingEvent) EventType() EventType { return EventToolCalling }

// ToolCalledEvent is emitted after a tool function returned, carrying the
// serialized ToolResult.
type ToolCalledEvent struct {
	Tool      string         `json:"tool"`
	Function  string         `json:"function"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Result    string         `json:"result"`
}

func (ToolCalledEvent) EventType() EventType { return EventToolCalled }

// MessageEvent carries an assistant text message with no tool call.
type MessageEvent struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

func (MessageEvent) EventType() EventType { return EventMessage }

// ReportEvent carries the final report for a user request.
type ReportEvent struct {
	Content string `json:"content"`
}

func (ReportEvent) EventType() EventType { return EventReport }

// ErrorEvent carries a failure that made continuation meaningless.
type ErrorEvent struct {
	Error string `json:"error"`
}

func (ErrorEvent) EventType() EventType { return EventError }

// PauseEvent signals the run is waiting for the next user message.
type PauseEvent struct {
	Reason string `json:"reason,omitempty"`
}

func (PauseEvent) EventType() EventType { return EventPause }

// UserInputEvent records a user message that arrived mid-run or while paused.
type UserInputEvent struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

func (UserInputEvent) EventType() EventType { return EventUserInput }

// DoneEvent is always the last event emitted for a given user message.
type DoneEvent struct{}

func (DoneEvent) EventType() EventType { return EventDone }

// DecodeEvent parses a persisted (tag, payload) pair back into its variant.
func DecodeEvent(tag EventType, payload []byte) (AgentEvent, error) {
	var (
		ev  AgentEvent
		err error
	)
	switch tag {
	case EventPlanCreated:
		var v PlanCreatedEvent
		err, ev = json.Unmarshal(payload, &v), v
	case EventPlanUpdated:
		var v PlanUpdatedEvent
		err, ev = json.Unmarshal(payload, &v), v
	case EventStepStarted:
		var v StepStartedEvent
		err, ev = json.Unmarshal(payload, &v), v
	case EventStepCompleted:
		var v StepCompletedEvent
		err, ev = json.Unmarshal(payload, &v), v
	case EventStepFailed:
		var v StepFailedEvent
		err, ev = json.Unmarshal(payload, &v), v
	case EventPlanCompleted:
		var v PlanCompletedEvent
		err, ev = json.Unmarshal(payload, &v), v
	case EventToolCalling:
		var v ToolCallingEvent
		err, ev = json.Unmarshal(payload, &v), v
	case EventToolCalled:
		var v ToolCalledEvent
		err, ev = json.Unmarshal(payload, &v), v
	case EventMessage:
		var v MessageEvent
		err, ev = json.Unmarshal(payload, &v), v
	case EventReport:
		var v ReportEvent
		err, ev = json.Unmarshal(payload, &v), v
	case EventError:
		var v ErrorEvent
		err, ev = json.Unmarshal(payload, &v), v
	case EventPause:
		var v PauseEvent
		err, ev = json.Unmarshal(payload, &v), v
	case EventUserInput:
		var v UserInputEvent
		err, ev = json.Unmarshal(payload, &v), v
	case EventDone:
		var v DoneEvent
		err, ev = json.Unmarshal(payload, &v), v
	default:
		return nil, fmt.Errorf("unknown event type %q", tag)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", tag, err)
	}
	return ev, nil
}

// ConversationEvent is the persisted form of an AgentEvent. Sequence is
// per-agent, monotonically increasing, contiguous from 1.
type ConversationEvent struct {
	ID        string          `json:"id"`
	AgentID   string          `json:"agent_id"`
	Sequence  int64           `json:"sequence"`
	Type      EventType       `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// ConversationHistory is the header record for an agent's conversation.
type ConversationHistory struct {
	AgentID   string    `json:"agent_id"`
	UserID    string    `json:"user_id"`
	FlowType  string    `json:"flow_type"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
