package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/openagentd/agentd/pkg/models"
	"github.com/openagentd/agentd/pkg/sandbox"
)

// ShellTool exposes the sandbox shell to the LLM.
type ShellTool struct {
	sb *sandbox.Client
}

// NewShellTool creates the shell tool over a sandbox client.
func NewShellTool(sb *sandbox.Client) *ShellTool {
	return &ShellTool{sb: sb}
}

func (t *ShellTool) Name() string { return "shell" }

type shellExecArgs struct {
	Session string `json:"session" jsonschema:"required,description=Shell session name; reuse a name to keep state between commands"`
	ExecDir string `json:"exec_dir" jsonschema:"required,description=Absolute working directory for the command"`
	Command string `json:"command" jsonschema:"required,description=Shell command to execute"`
}

type shellSessionArgs struct {
	Session string `json:"session" jsonschema:"required,description=Shell session name"`
}

type shellWaitArgs struct {
	Session string `json:"session" jsonschema:"required,description=Shell session name"`
	Seconds int    `json:"seconds,omitempty" jsonschema:"description=Maximum seconds to wait"`
}

type shellWriteArgs struct {
	Session    string `json:"session" jsonschema:"required,description=Shell session name"`
	Input      string `json:"input" jsonschema:"required,description=Text to write to the running process"`
	PressEnter bool   `json:"press_enter,omitempty" jsonschema:"description=Whether to press enter after writing"`
}

func (t *ShellTool) Functions() []models.FunctionSchema {
	return []models.FunctionSchema{
		{Name: "shell_exec", Description: "Execute a command in a sandbox shell session.", Parameters: schemaFor[shellExecArgs]()},
		{Name: "shell_view", Description: "View the output of a shell session.", Parameters: schemaFor[shellSessionArgs]()},
		{Name: "shell_wait", Description: "Wait for the running process in a shell session to finish.", Parameters: schemaFor[shellWaitArgs]()},
		{Name: "shell_write_to_process", Description: "Write input to the running process in a shell session.", Parameters: schemaFor[shellWriteArgs]()},
		{Name: "shell_kill_process", Description: "Terminate the running process in a shell session.", Parameters: schemaFor[shellSessionArgs]()},
	}
}

func (t *ShellTool) Invoke(ctx context.Context, function string, args map[string]any) (*models.ToolResult, error) {
	switch function {
	case "shell_exec":
		a, err := decodeArgs[shellExecArgs](args)
		if err != nil {
			return nil, err
		}
		return t.sb.ExecCommand(ctx, a.Session, a.ExecDir, a.Command)
	case "shell_view":
		a, err := decodeArgs[shellSessionArgs](args)
		if err != nil {
			return nil, err
		}
		return t.sb.ViewShell(ctx, a.Session)
	case "shell_wait":
		a, err := decodeArgs[shellWaitArgs](args)
		if err != nil {
			return nil, err
		}
		seconds := a.Seconds
		if seconds <= 0 {
			seconds = int((30 * time.Second).Seconds())
		}
		return t.sb.WaitForProcess(ctx, a.Session, seconds)
	case "shell_write_to_process":
		a, err := decodeArgs[shellWriteArgs](args)
		if err != nil {
			return nil, err
		}
		return t.sb.WriteToProcess(ctx, a.Session, a.Input, a.PressEnter)
	case "shell_kill_process":
		a, err := decodeArgs[shellSessionArgs](args)
		if err != nil {
			return nil, err
		}
		return t.sb.KillProcess(ctx, a.Session)
	default:
		return nil, fmt.Errorf("%w: shell has no function %q", ErrToolNotFound, function)
	}
}
