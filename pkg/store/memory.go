package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openagentd/agentd/pkg/models"
)

// MemoryStore is the in-memory backend: a map-of-maps guarded by one mutex
// per concern, with a striped per-agent append lock so sequence assignment
// for one agent never contends with another's.
type MemoryStore struct {
	conversations *memoryConversations
	contexts      *memoryContexts
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: &memoryConversations{
			histories:  make(map[string]*models.ConversationHistory),
			events:     make(map[string][]*models.ConversationEvent),
			agentLocks: make(map[string]*sync.Mutex),
		},
		contexts: &memoryContexts{
			records:  make(map[string]*models.AgentContext),
			byUser:   make(map[string]map[string]bool),
			byStatus: make(map[models.AgentStatus]map[string]bool),
		},
	}
}

func (s *MemoryStore) Conversations() ConversationRepository { return s.conversations }
func (s *MemoryStore) Contexts() AgentContextRepository      { return s.contexts }
func (s *MemoryStore) Close() error                          { return nil }

// --- conversations ---

type memoryConversations struct {
	mu         sync.RWMutex
	histories  map[string]*models.ConversationHistory
	events     map[string][]*models.ConversationEvent
	agentLocks map[string]*sync.Mutex
}

// lockFor returns the per-agent append mutex, creating it on first use.
func (r *memoryConversations) lockFor(agentID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.agentLocks[agentID]; ok {
		return l
	}
	l := &sync.Mutex{}
	r.agentLocks[agentID] = l
	return l
}

func (r *memoryConversations) SaveHistory(_ context.Context, h *models.ConversationHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *h
	if existing, ok := r.histories[h.AgentID]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	cp.UpdatedAt = time.Now()
	r.histories[h.AgentID] = &cp
	return nil
}

func (r *memoryConversations) GetHistory(_ context.Context, agentID string) (*models.ConversationHistory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.histories[agentID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *h
	return &cp, nil
}

func (r *memoryConversations) AppendEvent(_ context.Context, agentID string, typ models.EventType, payload json.RawMessage) (*models.ConversationEvent, error) {
	// Per-agent serialization: appends for different agents proceed in
	// parallel, appends for one agent assign contiguous sequences.
	l := r.lockFor(agentID)
	l.Lock()
	defer l.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	seq := int64(len(r.events[agentID])) + 1
	ev := &models.ConversationEvent{
		ID:        uuid.New().String(),
		AgentID:   agentID,
		Sequence:  seq,
		Type:      typ,
		Payload:   append(json.RawMessage(nil), payload...),
		CreatedAt: time.Now(),
	}
	r.events[agentID] = append(r.events[agentID], ev)
	cp := *ev
	return &cp, nil
}

func (r *memoryConversations) EventsFrom(_ context.Context, agentID string, from int64) ([]*models.ConversationEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := r.events[agentID]
	out := make([]*models.ConversationEvent, 0, len(all))
	for _, ev := range all {
		if ev.Sequence >= from {
			cp := *ev
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memoryConversations) LatestSequence(_ context.Context, agentID string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.events[agentID])), nil
}

func (r *memoryConversations) LatestEvent(_ context.Context, agentID string) (*models.ConversationEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := r.events[agentID]
	if len(all) == 0 {
		return nil, ErrNotFound
	}
	cp := *all[len(all)-1]
	return &cp, nil
}

func (r *memoryConversations) DeleteHistory(_ context.Context, agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.histories, agentID)
	delete(r.events, agentID)
	return nil
}

func (r *memoryConversations) ListHistories(_ context.Context, userID string, limit, offset int) ([]*models.ConversationHistory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.ConversationHistory, 0)
	for _, h := range r.histories {
		if h.UserID == userID {
			cp := *h
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// --- contexts ---

type memoryContexts struct {
	mu       sync.RWMutex
	records  map[string]*models.AgentContext
	byUser   map[string]map[string]bool
	byStatus map[models.AgentStatus]map[string]bool
}

func (r *memoryContexts) Save(_ context.Context, c *models.AgentContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := copyContext(c)
	now := time.Now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now

	if old, ok := r.records[cp.AgentID]; ok {
		r.unindex(old)
	}
	r.records[cp.AgentID] = cp
	r.index(cp)
	return nil
}

func (r *memoryContexts) Get(_ context.Context, agentID string) (*models.AgentContext, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.records[agentID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyContext(c), nil
}

func (r *memoryContexts) Update(_ context.Context, agentID string, patch ContextUpdate) (*models.AgentContext, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.records[agentID]
	if !ok {
		return nil, ErrNotFound
	}

	// Status changes re-key the status index atomically with the record
	// update: both happen under the same lock.
	if patch.Status != nil && *patch.Status != c.Status {
		r.unindex(c)
		c.Status = *patch.Status
		r.index(c)
	}
	if patch.SandboxID != nil {
		c.SandboxID = *patch.SandboxID
	}
	if patch.LastMessage != nil {
		c.LastMessage = *patch.LastMessage
	}
	if patch.LastMessageAt != nil {
		c.LastMessageAt = *patch.LastMessageAt
	}
	if patch.PlannerMemory != nil {
		c.PlannerMemory = append([]models.Message(nil), patch.PlannerMemory...)
	}
	if patch.ExecutionMemory != nil {
		c.ExecutionMemory = append([]models.Message(nil), patch.ExecutionMemory...)
	}
	if patch.Metadata != nil {
		if c.Metadata == nil {
			c.Metadata = make(map[string]any, len(patch.Metadata))
		}
		for k, v := range patch.Metadata {
			c.Metadata[k] = v
		}
	}
	c.UpdatedAt = time.Now()
	return copyContext(c), nil
}

func (r *memoryContexts) Delete(_ context.Context, agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.records[agentID]
	if !ok {
		return ErrNotFound
	}
	r.unindex(c)
	delete(r.records, agentID)
	return nil
}

func (r *memoryContexts) ListByUser(_ context.Context, userID string) ([]*models.AgentContext, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(r.byUser[userID]), nil
}

func (r *memoryContexts) ListByStatus(_ context.Context, status models.AgentStatus) ([]*models.AgentContext, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(r.byStatus[status]), nil
}

func (r *memoryContexts) collect(ids map[string]bool) []*models.AgentContext {
	out := make([]*models.AgentContext, 0, len(ids))
	for id := range ids {
		if c, ok := r.records[id]; ok {
			out = append(out, copyContext(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *memoryContexts) index(c *models.AgentContext) {
	if r.byUser[c.Agent.UserID] == nil {
		r.byUser[c.Agent.UserID] = make(map[string]bool)
	}
	r.byUser[c.Agent.UserID][c.AgentID] = true
	if r.byStatus[c.Status] == nil {
		r.byStatus[c.Status] = make(map[string]bool)
	}
	r.byStatus[c.Status][c.AgentID] = true
}

func (r *memoryContexts) unindex(c *models.AgentContext) {
	delete(r.byUser[c.Agent.UserID], c.AgentID)
	delete(r.byStatus[c.Status], c.AgentID)
}

// copyContext deep-copies the slices and map so callers never share state
// with the store.
func copyContext(c *models.AgentContext) *models.AgentContext {
	cp := *c
	cp.PlannerMemory = append([]models.Message(nil), c.PlannerMemory...)
	cp.ExecutionMemory = append([]models.Message(nil), c.ExecutionMemory...)
	if c.Metadata != nil {
		cp.Metadata = make(map[string]any, len(c.Metadata))
		for k, v := range c.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
