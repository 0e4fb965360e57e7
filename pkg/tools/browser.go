package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openagentd/agentd/pkg/models"
	"github.com/openagentd/agentd/pkg/sandbox"
)

// browserMCPServer is the MCP server name the sandbox exposes its browser
// automation under.
const browserMCPServer = "browser"

// BrowserTool drives the sandbox browser through the gateway's MCP proxy.
// Each function maps onto one JSON-RPC tools/call against the browser server.
type BrowserTool struct {
	sb    *sandbox.Client
	rpcID int
}

// NewBrowserTool creates the browser tool over a sandbox client.
func NewBrowserTool(sb *sandbox.Client) *BrowserTool {
	return &BrowserTool{sb: sb}
}

func (t *BrowserTool) Name() string { return "browser" }

type browserNavigateArgs struct {
	URL string `json:"url" jsonschema:"required,description=URL to open"`
}

type browserViewArgs struct {
	FullPage bool `json:"full_page,omitempty" jsonschema:"description=Capture the full page instead of the viewport"`
}

type browserClickArgs struct {
	Selector string `json:"selector" jsonschema:"required,description=CSS selector of the element to click"`
}

type browserInputArgs struct {
	Selector string `json:"selector" jsonschema:"required,description=CSS selector of the input element"`
	Text     string `json:"text" jsonschema:"required,description=Text to type"`
	Submit   bool   `json:"submit,omitempty" jsonschema:"description=Press enter after typing"`
}

func (t *BrowserTool) Functions() []models.FunctionSchema {
	return []models.FunctionSchema{
		{Name: "browser_navigate", Description: "Open a URL in the sandbox browser.", Parameters: schemaFor[browserNavigateArgs]()},
		{Name: "browser_view", Description: "View the current page content as text.", Parameters: schemaFor[browserViewArgs]()},
		{Name: "browser_click", Description: "Click an element on the current page.", Parameters: schemaFor[browserClickArgs]()},
		{Name: "browser_input", Description: "Type into an input on the current page.", Parameters: schemaFor[browserInputArgs]()},
	}
}

func (t *BrowserTool) Invoke(ctx context.Context, function string, args map[string]any) (*models.ToolResult, error) {
	var rpcTool string
	switch function {
	case "browser_navigate":
		rpcTool = "navigate"
	case "browser_view":
		rpcTool = "view"
	case "browser_click":
		rpcTool = "click"
	case "browser_input":
		rpcTool = "input"
	default:
		return nil, fmt.Errorf("%w: browser has no function %q", ErrToolNotFound, function)
	}

	t.rpcID++
	rpc, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      t.rpcID,
		"method":  "tools/call",
		"params": map[string]any{
			"name":      rpcTool,
			"arguments": args,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode browser rpc: %w", err)
	}
	return t.sb.MCPProxy(ctx, browserMCPServer, rpc)
}
