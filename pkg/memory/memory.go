// Package memory implements the ordered per-role message log that backs an
// agent's conversation, with token-aware compression to bound LLM input size
// across long runs.
package memory

import (
	"fmt"

	"github.com/openagentd/agentd/pkg/models"
)

// Memory is an ordered sequence of conversation messages.
//
// Memory is accessed WITHOUT a lock. This is safe because all reads and
// writes happen on the single task that owns the agent's run (the flow
// controller is single-threaded per agent). If memory is ever shared across
// goroutines, callers must add their own synchronization.
type Memory struct {
	msgs         []models.Message
	policy       CompressPolicy
	autoOptimize bool
}

// Option configures a Memory.
type Option func(*Memory)

// WithPolicy sets the compression policy.
func WithPolicy(p CompressPolicy) Option {
	return func(m *Memory) { m.policy = p }
}

// WithAutoOptimize enables compression checks on every append.
func WithAutoOptimize(on bool) Option {
	return func(m *Memory) { m.autoOptimize = on }
}

// New creates an empty Memory. Auto-optimize is on by default.
func New(opts ...Option) *Memory {
	m := &Memory{
		policy:       DefaultCompressPolicy(),
		autoOptimize: true,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Append normalizes and appends one message. The only failure is a
// structurally invalid payload (missing role); absent content is normalized
// to the empty string rather than rejected.
func (m *Memory) Append(msg models.Message) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	m.msgs = append(m.msgs, msg)
	if m.autoOptimize && EstimateTotalTokens(m.msgs) > m.policy.MaxTotalTokens {
		m.msgs = Compress(m.msgs, m.policy)
	}
	return nil
}

// AppendMany appends messages atomically from the caller's perspective:
// either all are appended or none.
func (m *Memory) AppendMany(msgs ...models.Message) error {
	for i := range msgs {
		if err := msgs[i].Validate(); err != nil {
			return fmt.Errorf("append message %d: %w", i, err)
		}
	}
	m.msgs = append(m.msgs, msgs...)
	if m.autoOptimize && EstimateTotalTokens(m.msgs) > m.policy.MaxTotalTokens {
		m.msgs = Compress(m.msgs, m.policy)
	}
	return nil
}

// Len returns the number of messages.
func (m *Memory) Len() int { return len(m.msgs) }

// Messages returns a copy of all messages in causal order.
func (m *Memory) Messages() []models.Message {
	out := make([]models.Message, len(m.msgs))
	copy(out, m.msgs)
	return out
}

// LatestSystem returns the most recent system message, if any.
func (m *Memory) LatestSystem() (models.Message, bool) {
	for i := len(m.msgs) - 1; i >= 0; i-- {
		if m.msgs[i].Role == models.RoleSystem {
			return m.msgs[i], true
		}
	}
	return models.Message{}, false
}

// NonSystem returns all non-system messages in order.
func (m *Memory) NonSystem() []models.Message {
	out := make([]models.Message, 0, len(m.msgs))
	for _, msg := range m.msgs {
		if msg.Role != models.RoleSystem {
			out = append(out, msg)
		}
	}
	return out
}

// WithLatestSystem returns the prompt view used for LLM calls: the latest
// system message (if any) followed by every non-system message in order.
func (m *Memory) WithLatestSystem() []models.Message {
	out := make([]models.Message, 0, len(m.msgs))
	if sys, ok := m.LatestSystem(); ok {
		out = append(out, sys)
	}
	return append(out, m.NonSystem()...)
}

// Rollback removes the trailing message if it is a dangling tool message
// (no assistant turn after it) or a user turn still awaiting a response.
// Anything else is left untouched; at most one message is removed per call.
// Returns true if a message was removed.
func (m *Memory) Rollback() bool {
	if len(m.msgs) == 0 {
		return false
	}
	last := m.msgs[len(m.msgs)-1]
	if last.Role == models.RoleTool || last.Role == models.RoleUser {
		m.msgs = m.msgs[:len(m.msgs)-1]
		return true
	}
	return false
}

// Clear removes all messages.
func (m *Memory) Clear() {
	m.msgs = nil
}

// EstimatedTokens returns the current estimated token total.
func (m *Memory) EstimatedTokens() int {
	return EstimateTotalTokens(m.msgs)
}

// Snapshot returns a value copy of the message log for persistence.
func (m *Memory) Snapshot() []models.Message {
	return m.Messages()
}

// Restore replaces the message log with a value copy of msgs.
func (m *Memory) Restore(msgs []models.Message) {
	m.msgs = make([]models.Message, len(msgs))
	copy(m.msgs, msgs)
}
