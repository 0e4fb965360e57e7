package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/openagentd/agentd/pkg/models"
)

// SearchTool queries an external web-search API. The endpoint is expected to
// accept GET ?q=<query>&limit=<n> and return a JSON array of results.
// It is only registered when a search endpoint is configured.
type SearchTool struct {
	endpoint string
	apiKey   string
	hc       *http.Client
}

// NewSearchTool creates the search tool for the given endpoint. The API key
// may be empty for unauthenticated endpoints.
func NewSearchTool(endpoint, apiKey string) *SearchTool {
	return &SearchTool{
		endpoint: endpoint,
		apiKey:   apiKey,
		hc:       &http.Client{Timeout: 30 * time.Second},
	}
}

func (t *SearchTool) Name() string { return "search" }

type searchArgs struct {
	Query string `json:"query" jsonschema:"required,description=Search query"`
	Limit int    `json:"limit,omitempty" jsonschema:"description=Maximum number of results,default=5"`
}

func (t *SearchTool) Functions() []models.FunctionSchema {
	return []models.FunctionSchema{
		{Name: "search_web", Description: "Search the web and return result titles, URLs and snippets.", Parameters: schemaFor[searchArgs]()},
	}
}

func (t *SearchTool) Invoke(ctx context.Context, function string, args map[string]any) (*models.ToolResult, error) {
	if function != "search_web" {
		return nil, fmt.Errorf("%w: search has no function %q", ErrToolNotFound, function)
	}
	a, err := decodeArgs[searchArgs](args)
	if err != nil {
		return nil, err
	}
	if a.Limit <= 0 {
		a.Limit = 5
	}

	q := url.Values{}
	q.Set("q", a.Query)
	q.Set("limit", fmt.Sprintf("%d", a.Limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &models.ToolResult{
			Success: false,
			Message: fmt.Sprintf("search returned status %d", resp.StatusCode),
		}, nil
	}

	var results any
	if err := json.Unmarshal(body, &results); err != nil {
		// Non-JSON body still has value as raw text.
		results = string(body)
	}
	return &models.ToolResult{Success: true, Data: results}, nil
}
