package service

import (
	"context"

	"github.com/openagentd/agentd/pkg/models"
)

// Sandbox pass-throughs: thin proxies that let API clients reach the agent's
// sandbox gateway directly. Each verifies the agent exists before delegating.

// ShellRequest is a direct shell command against an agent's sandbox.
type ShellRequest struct {
	Session string `json:"session"`
	Cwd     string `json:"cwd,omitempty"`
	Command string `json:"command"`
}

// ExecShell runs a command in the agent's sandbox.
func (s *AgentService) ExecShell(ctx context.Context, agentID string, req ShellRequest) (*models.ToolResult, error) {
	if _, err := s.store.Contexts().Get(ctx, agentID); err != nil {
		return nil, err
	}
	return s.sandbox.ExecCommand(ctx, req.Session, req.Cwd, req.Command)
}

// FileRequest addresses one file in the agent's sandbox. Content is used by
// writes only.
type FileRequest struct {
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
	Append  bool   `json:"append,omitempty"`
}

// WriteFile writes a file in the agent's sandbox.
func (s *AgentService) WriteFile(ctx context.Context, agentID string, req FileRequest) (*models.ToolResult, error) {
	if _, err := s.store.Contexts().Get(ctx, agentID); err != nil {
		return nil, err
	}
	return s.sandbox.FileWrite(ctx, req.Path, req.Content, req.Append)
}

// ListFiles lists a directory in the agent's sandbox.
func (s *AgentService) ListFiles(ctx context.Context, agentID, path string) (*models.ToolResult, error) {
	if _, err := s.store.Contexts().Get(ctx, agentID); err != nil {
		return nil, err
	}
	return s.sandbox.FileList(ctx, path)
}

// DownloadFile fetches raw file bytes from the agent's sandbox.
func (s *AgentService) DownloadFile(ctx context.Context, agentID, path string) ([]byte, error) {
	if _, err := s.store.Contexts().Get(ctx, agentID); err != nil {
		return nil, err
	}
	return s.sandbox.FileDownload(ctx, path)
}
