package models

import "time"

// AgentStatus is the lifecycle status of an agent context.
type AgentStatus string

const (
	AgentStatusCreated   AgentStatus = "created"
	AgentStatusRunning   AgentStatus = "running"
	AgentStatusPaused    AgentStatus = "paused"
	AgentStatusCompleted AgentStatus = "completed"
	AgentStatusFailed    AgentStatus = "failed"
	AgentStatusDeleted   AgentStatus = "deleted"
)

// LLMOverrides are per-agent LLM configuration overrides.
// Nil/empty fields fall back to the service defaults.
type LLMOverrides struct {
	Model       string   `json:"model,omitempty"`
	Temperature *float32 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
}

// AgentInfo is the stable identity of an agent: created once per
// conversation, destroyed on explicit delete, never shared.
type AgentInfo struct {
	ID          string       `json:"id"`
	UserID      string       `json:"user_id"`
	LLM         LLMOverrides `json:"llm,omitempty"`
	Environment string       `json:"environment,omitempty"`
}

// AgentContext is the persisted snapshot of an agent: identity, flow binding,
// status, last message, and value copies of both memories. Repositories hold
// no references into live state — they observe these copies only.
type AgentContext struct {
	AgentID         string         `json:"agent_id"`
	Agent           AgentInfo      `json:"agent"`
	FlowType        string         `json:"flow_type"`
	SandboxID       string         `json:"sandbox_id,omitempty"`
	Status          AgentStatus    `json:"status"`
	LastMessage     string         `json:"last_message,omitempty"`
	LastMessageAt   time.Time      `json:"last_message_at,omitempty"`
	PlannerMemory   []Message      `json:"planner_memory,omitempty"`
	ExecutionMemory []Message      `json:"execution_memory,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// ToolResult is the uniform result shape returned by every tool and sandbox
// gateway operation.
type ToolResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// FunctionSchema describes one callable tool function: a stable name, a
// human description, and JSON-schema parameter descriptors.
type FunctionSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}
