package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/openagentd/agentd/pkg/models"
)

// Invoker dispatches tool calls with retry and result-size limiting.
//
// Retries apply only to errors raised by the call itself (transport faults,
// panicking adapters); a successful call that returns a logically-failed
// ToolResult is never retried — idempotency is the tool's responsibility.
type Invoker struct {
	registry      *Registry
	maxRetries    int
	retryInterval time.Duration
	limiter       *SizeLimiter
}

// InvokerOption configures an Invoker.
type InvokerOption func(*Invoker)

// WithMaxRetries overrides the retry budget (default 3).
func WithMaxRetries(n int) InvokerOption {
	return func(i *Invoker) { i.maxRetries = n }
}

// WithRetryInterval overrides the base backoff interval (default 1s).
// Actual delay is retryInterval * attempt (linear backoff).
func WithRetryInterval(d time.Duration) InvokerOption {
	return func(i *Invoker) { i.retryInterval = d }
}

// WithSizeLimiter overrides the result size limiter.
func WithSizeLimiter(l *SizeLimiter) InvokerOption {
	return func(i *Invoker) { i.limiter = l }
}

// NewInvoker creates an invoker over a registry.
func NewInvoker(registry *Registry, opts ...InvokerOption) *Invoker {
	inv := &Invoker{
		registry:      registry,
		maxRetries:    3,
		retryInterval: time.Second,
		limiter:       NewSizeLimiter(DefaultMaxFieldBytes, DefaultMaxTotalBytes),
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Registry exposes the underlying registry (for schema listing).
func (i *Invoker) Registry() *Registry { return i.registry }

// Invoke resolves and runs one tool function. Unknown names surface as
// ErrToolNotFound; call errors are retried with linear backoff and, once the
// budget is spent, returned to the caller. Results are size-limited before
// they are returned.
func (i *Invoker) Invoke(ctx context.Context, function string, args map[string]any) (*models.ToolResult, error) {
	tool, err := i.registry.Resolve(function)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= i.maxRetries; attempt++ {
		result, err := tool.Invoke(ctx, function, args)
		if err == nil {
			return i.limiter.LimitResult(result), nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, fmt.Errorf("invoke %s: %w", function, lastErr)
		}
		if attempt < i.maxRetries {
			slog.Warn("Tool invocation failed, retrying",
				"tool", tool.Name(), "function", function,
				"attempt", attempt, "max_retries", i.maxRetries, "error", err)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("invoke %s: %w", function, ctx.Err())
			case <-time.After(i.retryInterval * time.Duration(attempt)):
			}
		}
	}
	return nil, fmt.Errorf("invoke %s after %d attempts: %w", function, i.maxRetries, lastErr)
}
