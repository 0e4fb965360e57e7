// Package store defines the repository interfaces the core depends on and
// provides two interchangeable backends: an in-memory map store for tests
// and a PostgreSQL store for durability. Both uphold the same invariant: a
// given agent's event sequences form a contiguous 1..N range.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/openagentd/agentd/pkg/models"
)

// Sentinel errors shared by all backends.
var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is a unique-constraint collision on (agent_id, sequence);
	// appenders retry on it.
	ErrConflict = errors.New("sequence conflict")
)

// appendMaxAttempts bounds the conflict-retry loop in AppendEvent.
const appendMaxAttempts = 5

// ConversationRepository is the durable append-only event log per agent.
type ConversationRepository interface {
	// SaveHistory upserts the conversation header record.
	SaveHistory(ctx context.Context, h *models.ConversationHistory) error
	// GetHistory returns the header record or ErrNotFound.
	GetHistory(ctx context.Context, agentID string) (*models.ConversationHistory, error)
	// AppendEvent assigns the next per-agent sequence and persists the
	// event. Concurrent appenders that collide on the same sequence are
	// retried internally with backoff.
	AppendEvent(ctx context.Context, agentID string, typ models.EventType, payload json.RawMessage) (*models.ConversationEvent, error)
	// EventsFrom returns events with sequence >= from, ordered by sequence.
	EventsFrom(ctx context.Context, agentID string, from int64) ([]*models.ConversationEvent, error)
	// LatestSequence returns the highest assigned sequence (0 when empty).
	LatestSequence(ctx context.Context, agentID string) (int64, error)
	// LatestEvent returns the most recent event or ErrNotFound.
	LatestEvent(ctx context.Context, agentID string) (*models.ConversationEvent, error)
	// DeleteHistory removes the header and cascades to all events.
	DeleteHistory(ctx context.Context, agentID string) error
	// ListHistories returns header summaries for a user, newest first.
	ListHistories(ctx context.Context, userID string, limit, offset int) ([]*models.ConversationHistory, error)
}

// ContextUpdate is a partial update to an agent context. Nil fields are left
// unchanged; updated_at is refreshed on every mutation.
type ContextUpdate struct {
	Status          *models.AgentStatus
	SandboxID       *string
	LastMessage     *string
	LastMessageAt   *time.Time
	PlannerMemory   []models.Message
	ExecutionMemory []models.Message
	Metadata        map[string]any
}

// AgentContextRepository stores agent context snapshots with indices on user
// id and status.
type AgentContextRepository interface {
	Save(ctx context.Context, c *models.AgentContext) error
	Get(ctx context.Context, agentID string) (*models.AgentContext, error)
	// Update applies the patch; status changes re-key the status index
	// atomically with the record update.
	Update(ctx context.Context, agentID string, patch ContextUpdate) (*models.AgentContext, error)
	Delete(ctx context.Context, agentID string) error
	ListByUser(ctx context.Context, userID string) ([]*models.AgentContext, error)
	ListByStatus(ctx context.Context, status models.AgentStatus) ([]*models.AgentContext, error)
}

// Store bundles both repositories behind one backend.
type Store interface {
	Conversations() ConversationRepository
	Contexts() AgentContextRepository
	Close() error
}
