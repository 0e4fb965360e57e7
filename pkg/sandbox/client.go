// Package sandbox is the HTTP client for the external sandbox gateway — the
// shell/filesystem/browser runtime the agents act through. The gateway is an
// external collaborator; this package only speaks its fixed contract and
// returns the uniform ToolResult for every operation.
package sandbox

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/openagentd/agentd/pkg/models"
)

// ensureStatusAttempts bounds how many times EnsureStatus polls the gateway
// before giving up.
const ensureStatusAttempts = 5

// Client talks to one sandbox instance.
type Client struct {
	baseURL string
	hc      *http.Client
}

// NewClient creates a sandbox client for the given gateway base URL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		hc:      &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the gateway base URL (used by pass-through handlers).
func (c *Client) BaseURL() string { return c.baseURL }

// call POSTs a JSON request to a gateway endpoint and decodes the uniform
// ToolResult response. Transport and decode failures are returned as errors;
// gateway-level failures come back as ToolResult{Success: false}.
func (c *Client) call(ctx context.Context, path string, req any) (*models.ToolResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal sandbox request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build sandbox request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sandbox %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read sandbox response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("sandbox %s: status %d: %s", path, resp.StatusCode, data)
	}

	var result models.ToolResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode sandbox response: %w", err)
	}
	return &result, nil
}

// --- Shell operations ---

// ExecCommand starts cmd in the named shell session rooted at cwd.
func (c *Client) ExecCommand(ctx context.Context, session, cwd, cmd string) (*models.ToolResult, error) {
	return c.call(ctx, "/api/v1/shell/exec", map[string]string{
		"session": session, "exec_dir": cwd, "command": cmd,
	})
}

// ViewShell returns the visible content of a shell session.
func (c *Client) ViewShell(ctx context.Context, session string) (*models.ToolResult, error) {
	return c.call(ctx, "/api/v1/shell/view", map[string]string{"session": session})
}

// WaitForProcess blocks until the session's foreground process exits or the
// wait budget elapses.
func (c *Client) WaitForProcess(ctx context.Context, session string, seconds int) (*models.ToolResult, error) {
	return c.call(ctx, "/api/v1/shell/wait", map[string]any{"session": session, "seconds": seconds})
}

// WriteToProcess writes input to the session's foreground process.
func (c *Client) WriteToProcess(ctx context.Context, session, input string, pressEnter bool) (*models.ToolResult, error) {
	return c.call(ctx, "/api/v1/shell/write", map[string]any{
		"session": session, "input": input, "press_enter": pressEnter,
	})
}

// KillProcess terminates the session's foreground process.
func (c *Client) KillProcess(ctx context.Context, session string) (*models.ToolResult, error) {
	return c.call(ctx, "/api/v1/shell/kill", map[string]string{"session": session})
}

// --- File operations ---

// FileRead reads a file, optionally a line range.
func (c *Client) FileRead(ctx context.Context, path string, startLine, endLine *int) (*models.ToolResult, error) {
	return c.call(ctx, "/api/v1/file/read", map[string]any{
		"file": path, "start_line": startLine, "end_line": endLine,
	})
}

// FileWrite writes content to a file, optionally appending.
func (c *Client) FileWrite(ctx context.Context, path, content string, appendMode bool) (*models.ToolResult, error) {
	return c.call(ctx, "/api/v1/file/write", map[string]any{
		"file": path, "content": content, "append": appendMode,
	})
}

// FileReplace replaces old with new in a file.
func (c *Client) FileReplace(ctx context.Context, path, oldStr, newStr string) (*models.ToolResult, error) {
	return c.call(ctx, "/api/v1/file/replace", map[string]string{
		"file": path, "old_str": oldStr, "new_str": newStr,
	})
}

// FileSearch searches file contents by regex.
func (c *Client) FileSearch(ctx context.Context, path, regex string) (*models.ToolResult, error) {
	return c.call(ctx, "/api/v1/file/search", map[string]string{"file": path, "regex": regex})
}

// FileFind finds files under a path matching a glob.
func (c *Client) FileFind(ctx context.Context, path, glob string) (*models.ToolResult, error) {
	return c.call(ctx, "/api/v1/file/find", map[string]string{"path": path, "glob": glob})
}

// FileExists reports whether a path exists.
func (c *Client) FileExists(ctx context.Context, path string) (*models.ToolResult, error) {
	return c.call(ctx, "/api/v1/file/exists", map[string]string{"path": path})
}

// FileDelete removes a file.
func (c *Client) FileDelete(ctx context.Context, path string) (*models.ToolResult, error) {
	return c.call(ctx, "/api/v1/file/delete", map[string]string{"path": path})
}

// FileList lists a directory.
func (c *Client) FileList(ctx context.Context, path string) (*models.ToolResult, error) {
	return c.call(ctx, "/api/v1/file/list", map[string]string{"path": path})
}

// FileUpload writes raw bytes to a path inside the sandbox.
func (c *Client) FileUpload(ctx context.Context, path string, data []byte) (*models.ToolResult, error) {
	return c.call(ctx, "/api/v1/file/upload", map[string]string{
		"path": path, "content_b64": base64.StdEncoding.EncodeToString(data),
	})
}

// FileDownload reads raw bytes from a path inside the sandbox.
func (c *Client) FileDownload(ctx context.Context, path string) ([]byte, error) {
	result, err := c.call(ctx, "/api/v1/file/download", map[string]string{"path": path})
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, fmt.Errorf("sandbox download failed: %s", result.Message)
	}
	encoded, ok := result.Data.(string)
	if !ok {
		return nil, fmt.Errorf("sandbox download: unexpected data type %T", result.Data)
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("sandbox download: decode content: %w", err)
	}
	return data, nil
}

// --- Status operations ---

// GetStatus returns the sandbox runtime status.
func (c *Client) GetStatus(ctx context.Context) (*models.ToolResult, error) {
	return c.call(ctx, "/api/v1/status", map[string]string{})
}

// EnsureStatus polls the gateway until it reports ready, up to
// ensureStatusAttempts attempts with a fixed interval between polls.
func (c *Client) EnsureStatus(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	var lastErr error
	for attempt := 1; attempt <= ensureStatusAttempts; attempt++ {
		result, err := c.GetStatus(ctx)
		if err == nil && result.Success {
			return nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("sandbox not ready: %s", result.Message)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return fmt.Errorf("sandbox status check failed after %d attempts: %w", ensureStatusAttempts, lastErr)
}

// --- MCP sub-protocol ---

// MCPInstall installs an MCP server in the sandbox.
func (c *Client) MCPInstall(ctx context.Context, name string, spec map[string]any) (*models.ToolResult, error) {
	return c.call(ctx, "/api/v1/mcp/install", map[string]any{"name": name, "spec": spec})
}

// MCPUninstall removes an MCP server.
func (c *Client) MCPUninstall(ctx context.Context, name string) (*models.ToolResult, error) {
	return c.call(ctx, "/api/v1/mcp/uninstall", map[string]string{"name": name})
}

// MCPList lists installed MCP servers.
func (c *Client) MCPList(ctx context.Context) (*models.ToolResult, error) {
	return c.call(ctx, "/api/v1/mcp/list", map[string]string{})
}

// MCPHealth reports MCP server health.
func (c *Client) MCPHealth(ctx context.Context, name string) (*models.ToolResult, error) {
	return c.call(ctx, "/api/v1/mcp/health", map[string]string{"name": name})
}

// MCPProxy forwards a raw JSON-RPC request to a named MCP server and returns
// the gateway's uniform result wrapping the JSON-RPC response.
func (c *Client) MCPProxy(ctx context.Context, server string, rpc json.RawMessage) (*models.ToolResult, error) {
	return c.call(ctx, "/api/v1/mcp/proxy", map[string]any{"server": server, "request": rpc})
}

// MCPCapabilities returns the advertised capabilities of a server.
func (c *Client) MCPCapabilities(ctx context.Context, name string) (*models.ToolResult, error) {
	return c.call(ctx, "/api/v1/mcp/capabilities", map[string]string{"name": name})
}

// MCPShutdownAll stops every MCP server in the sandbox.
func (c *Client) MCPShutdownAll(ctx context.Context) (*models.ToolResult, error) {
	return c.call(ctx, "/api/v1/mcp/shutdown-all", map[string]string{})
}

// --- Embedded view URLs ---

// GetCDPURL returns the Chrome DevTools Protocol endpoint for the sandbox browser.
func (c *Client) GetCDPURL(ctx context.Context) (*models.ToolResult, error) {
	return c.call(ctx, "/api/v1/browser/cdp-url", map[string]string{})
}

// GetVNCURL returns the VNC view URL.
func (c *Client) GetVNCURL(ctx context.Context) (*models.ToolResult, error) {
	return c.call(ctx, "/api/v1/vnc-url", map[string]string{})
}

// GetCodeServerURL returns the embedded IDE URL.
func (c *Client) GetCodeServerURL(ctx context.Context) (*models.ToolResult, error) {
	return c.call(ctx, "/api/v1/code-server-url", map[string]string{})
}
