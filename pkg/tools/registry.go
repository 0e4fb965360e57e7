// Package tools provides the tool catalog and the retrying invoker the agent
// loop dispatches through. A tool exposes a stable name and a set of named
// functions; the invoker resolves function names, retries transport failures,
// and bounds result sizes before they reach memory or the event stream.
package tools

import (
	"context"
	"fmt"
	"sort"

	"github.com/openagentd/agentd/pkg/models"
)

// Tool is a named capability the LLM can call through a tool-call descriptor.
type Tool interface {
	// Name returns the stable tool name (e.g. "shell", "file").
	Name() string
	// Functions lists the callable functions with their parameter schemas.
	Functions() []models.FunctionSchema
	// Invoke runs one function. A logically-failed operation is reported as
	// ToolResult{Success: false}, not as an error; errors mean the call
	// itself could not be carried out and are eligible for retry.
	Invoke(ctx context.Context, function string, args map[string]any) (*models.ToolResult, error)
}

// Sentinel function names. When either is called the agent loop enters the
// pause state after emitting the tool result.
const (
	FuncRequestClarification = "message_request_user_clarification"
	FuncDone                 = "message_done"
)

// IsSentinel reports whether a function name pauses the loop.
func IsSentinel(function string) bool {
	return function == FuncRequestClarification || function == FuncDone
}

// ErrToolNotFound is wrapped by Resolve for unknown function names.
var ErrToolNotFound = fmt.Errorf("tool not found")

// Registry indexes tools by function name. It is populated at startup and
// read-only afterwards, so lookups need no locking.
type Registry struct {
	tools      []Tool
	byFunction map[string]Tool
}

// NewRegistry creates a registry over the given tools.
// Duplicate function names across tools are a configuration error.
func NewRegistry(ts ...Tool) (*Registry, error) {
	r := &Registry{byFunction: make(map[string]Tool)}
	for _, t := range ts {
		if err := r.register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) register(t Tool) error {
	for _, fn := range t.Functions() {
		if prev, exists := r.byFunction[fn.Name]; exists {
			return fmt.Errorf("function %q registered by both %q and %q", fn.Name, prev.Name(), t.Name())
		}
		r.byFunction[fn.Name] = t
	}
	r.tools = append(r.tools, t)
	return nil
}

// Resolve maps a function name to its owning tool.
func (r *Registry) Resolve(function string) (Tool, error) {
	t, ok := r.byFunction[function]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrToolNotFound, function)
	}
	return t, nil
}

// Tools returns the registered tools in registration order.
func (r *Registry) Tools() []Tool {
	return r.tools
}

// Schemas returns every function schema across all tools, sorted by name for
// a stable prompt and wire order.
func (r *Registry) Schemas() []models.FunctionSchema {
	out := make([]models.FunctionSchema, 0, len(r.byFunction))
	for _, t := range r.tools {
		out = append(out, t.Functions()...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
