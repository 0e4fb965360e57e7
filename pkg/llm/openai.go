package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/openagentd/agentd/pkg/models"
)

// OpenAIAsker implements Asker against any OpenAI-compatible chat completion
// API. Transient failures are retried with linear backoff; the assistant
// message is normalized before it is returned (absent content becomes "").
type OpenAIAsker struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	maxRetries  int
	retryDelay  time.Duration
}

// OpenAIConfig configures the adapter.
type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// NewOpenAIAsker creates an adapter for the configured endpoint.
func NewOpenAIAsker(cfg OpenAIConfig) *OpenAIAsker {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &OpenAIAsker{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		maxRetries:  3,
		retryDelay:  time.Second,
	}
}

// Ask sends one chat completion request and returns the normalized assistant
// message.
func (a *OpenAIAsker) Ask(ctx context.Context, req *Request) (*AssistantMessage, error) {
	ccr := openai.ChatCompletionRequest{
		Model:       a.model,
		Temperature: a.temperature,
		MaxTokens:   a.maxTokens,
		Messages:    toOpenAIMessages(req.Messages),
	}
	if req.Overrides.Model != "" {
		ccr.Model = req.Overrides.Model
	}
	if req.Overrides.Temperature != nil {
		ccr.Temperature = *req.Overrides.Temperature
	}
	if req.Overrides.MaxTokens != nil {
		ccr.MaxTokens = *req.Overrides.MaxTokens
	}
	for _, fn := range req.Tools {
		ccr.Tools = append(ccr.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        fn.Name,
				Description: fn.Description,
				Parameters:  fn.Parameters,
			},
		})
	}
	if req.ResponseFormat == ResponseFormatJSON {
		ccr.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	var lastErr error
	for attempt := 1; attempt <= a.maxRetries; attempt++ {
		resp, err := a.client.CreateChatCompletion(ctx, ccr)
		if err == nil {
			if len(resp.Choices) == 0 {
				return nil, fmt.Errorf("llm returned no choices")
			}
			return fromOpenAIMessage(resp.Choices[0].Message), nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, fmt.Errorf("llm ask: %w", lastErr)
		}
		if attempt < a.maxRetries {
			slog.Warn("LLM call failed, retrying",
				"model", ccr.Model, "attempt", attempt, "error", err)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("llm ask: %w", ctx.Err())
			case <-time.After(a.retryDelay * time.Duration(attempt)):
			}
		}
	}
	return nil, fmt.Errorf("llm ask after %d attempts: %w", a.maxRetries, lastErr)
}

// toOpenAIMessages converts conversation messages to the wire format.
func toOpenAIMessages(msgs []models.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		cm := openai.ChatCompletionMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			cm.ToolCalls = append(cm.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Function,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, cm)
	}
	return out
}

// fromOpenAIMessage normalizes the provider reply.
func fromOpenAIMessage(m openai.ChatCompletionMessage) *AssistantMessage {
	am := &AssistantMessage{Content: m.Content}
	for _, tc := range m.ToolCalls {
		am.ToolCalls = append(am.ToolCalls, models.ToolCall{
			ID:        tc.ID,
			Function:  tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return am
}
