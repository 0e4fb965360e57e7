// Package llm defines the abstract "ask" contract the agent core consumes
// and its OpenAI-compatible adapter. Providers are external collaborators:
// the core only ever sees messages in, one assistant message out.
package llm

import (
	"context"

	"github.com/openagentd/agentd/pkg/models"
)

// ResponseFormatJSON hints the provider to return a JSON object body.
const ResponseFormatJSON = "json_object"

// AssistantMessage is the provider's reply: content (possibly empty, never
// absent) and zero or more tool-call descriptors.
type AssistantMessage struct {
	Content   string
	ToolCalls []models.ToolCall
}

// Request is one ask: the prompt view of memory, the callable tool schemas,
// an optional response-format hint, and per-agent overrides.
type Request struct {
	Messages       []models.Message
	Tools          []models.FunctionSchema
	ResponseFormat string
	Overrides      models.LLMOverrides
}

// Asker is the single primitive the core uses to reach an LLM.
type Asker interface {
	Ask(ctx context.Context, req *Request) (*AssistantMessage, error)
}
