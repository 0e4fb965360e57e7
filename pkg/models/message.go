package models

import (
	"encoding/json"
	"fmt"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a pending tool invocation attached to an assistant message.
// Arguments is the raw JSON string exactly as the LLM produced it.
type ToolCall struct {
	ID        string `json:"id"`
	Function  string `json:"function"`
	Arguments string `json:"arguments"`
}

// Message is one entry in an agent's conversation memory.
// Content is always present — callers normalize absent content to "".
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`   // assistant messages only
	ToolCallID string     `json:"tool_call_id,omitempty"` // tool messages only
}

// Validate checks structural validity. A message without a role is the only
// rejected shape; everything else is normalized instead of refused.
func (m *Message) Validate() error {
	switch m.Role {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return nil
	case "":
		return fmt.Errorf("message is missing a role")
	default:
		return fmt.Errorf("unknown message role %q", m.Role)
	}
}

// Stringify renders an arbitrary payload as message content.
// Strings pass through, nil becomes the empty string, and everything else is
// JSON-serialized (falling back to fmt formatting for unmarshalable values).
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
