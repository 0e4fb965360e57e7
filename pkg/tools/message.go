package tools

import (
	"context"
	"fmt"

	"github.com/openagentd/agentd/pkg/models"
)

// MessageTool carries user-facing messages out of the loop. It has no side
// effects; two of its functions are sentinels that pause the run.
type MessageTool struct{}

// NewMessageTool creates the message tool.
func NewMessageTool() *MessageTool {
	return &MessageTool{}
}

func (t *MessageTool) Name() string { return "message" }

type notifyArgs struct {
	Text string `json:"text" jsonschema:"required,description=Message to show the user"`
}

type clarificationArgs struct {
	Text string `json:"text" jsonschema:"required,description=Question for the user; the run pauses until they reply"`
}

type doneArgs struct {
	Text string `json:"text,omitempty" jsonschema:"description=Optional closing message for the user"`
}

func (t *MessageTool) Functions() []models.FunctionSchema {
	return []models.FunctionSchema{
		{Name: "message_notify_user", Description: "Send a progress message to the user without pausing.", Parameters: schemaFor[notifyArgs]()},
		{Name: FuncRequestClarification, Description: "Ask the user a clarifying question and pause until they answer.", Parameters: schemaFor[clarificationArgs]()},
		{Name: FuncDone, Description: "Declare the current task finished and pause.", Parameters: schemaFor[doneArgs]()},
	}
}

func (t *MessageTool) Invoke(_ context.Context, function string, args map[string]any) (*models.ToolResult, error) {
	text, _ := args["text"].(string)
	switch function {
	case "message_notify_user", FuncRequestClarification, FuncDone:
		return &models.ToolResult{Success: true, Message: text}, nil
	default:
		return nil, fmt.Errorf("%w: message has no function %q", ErrToolNotFound, function)
	}
}
