package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/openagentd/agentd/pkg/models"
	"github.com/openagentd/agentd/pkg/store"
)

const (
	// DefaultIdleCutoff is how long a broadcaster or subscriber may stay
	// inactive before the sweeper reclaims it.
	DefaultIdleCutoff = 30 * time.Minute
	// DefaultSweepInterval is how often the sweeper runs.
	DefaultSweepInterval = 5 * time.Minute
)

// Hub lazily creates one broadcaster per agent and reclaims idle ones in the
// background.
type Hub struct {
	repo store.ConversationRepository

	ringCap       int
	queueCap      int
	idleCutoff    time.Duration
	sweepInterval time.Duration

	mu           sync.RWMutex
	broadcasters map[string]*Broadcaster
}

// HubOption customizes hub construction.
type HubOption func(*Hub)

// WithRingCapacity overrides the per-agent ring size.
func WithRingCapacity(n int) HubOption {
	return func(h *Hub) { h.ringCap = n }
}

// WithQueueCapacity overrides the per-subscriber queue bound.
func WithQueueCapacity(n int) HubOption {
	return func(h *Hub) { h.queueCap = n }
}

// WithIdleCutoff overrides the idle reclamation cutoff.
func WithIdleCutoff(d time.Duration) HubOption {
	return func(h *Hub) { h.idleCutoff = d }
}

// WithSweepInterval overrides the sweeper cadence.
func WithSweepInterval(d time.Duration) HubOption {
	return func(h *Hub) { h.sweepInterval = d }
}

// NewHub creates a hub over the conversation repository.
func NewHub(repo store.ConversationRepository, opts ...HubOption) *Hub {
	h := &Hub{
		repo:          repo,
		ringCap:       DefaultRingCapacity,
		queueCap:      DefaultQueueCapacity,
		idleCutoff:    DefaultIdleCutoff,
		sweepInterval: DefaultSweepInterval,
		broadcasters:  make(map[string]*Broadcaster),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Broadcaster returns the agent's broadcaster, creating it on first use. A
// new broadcaster seeds its terminal-state marker from the latest persisted
// event so streams attaching to a finished conversation short-circuit.
func (h *Hub) Broadcaster(ctx context.Context, agentID string) (*Broadcaster, error) {
	h.mu.RLock()
	b, ok := h.broadcasters[agentID]
	h.mu.RUnlock()
	if ok {
		return b, nil
	}

	var lastType models.EventType
	latest, err := h.repo.LatestEvent(ctx, agentID)
	switch {
	case err == nil:
		lastType = latest.Type
	case errors.Is(err, store.ErrNotFound):
		// Fresh conversation.
	default:
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if b, ok := h.broadcasters[agentID]; ok {
		return b, nil
	}
	b = NewBroadcaster(agentID, h.repo, h.ringCap, h.queueCap, lastType)
	h.broadcasters[agentID] = b
	return b, nil
}

// Broadcast persists and fans out one event for the agent.
func (h *Hub) Broadcast(ctx context.Context, agentID string, event models.AgentEvent) (int64, error) {
	b, err := h.Broadcaster(ctx, agentID)
	if err != nil {
		return 0, err
	}
	return b.Broadcast(ctx, event)
}

// Remove drops the agent's broadcaster and disconnects its subscribers.
// Called when the agent is deleted.
func (h *Hub) Remove(agentID string) {
	h.mu.Lock()
	b, ok := h.broadcasters[agentID]
	if ok {
		delete(h.broadcasters, agentID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string]*Subscriber)
	b.mu.Unlock()
	for _, sub := range subs {
		sub.close()
	}
}

// Run sweeps idle broadcasters and subscribers until the context is
// cancelled. Intended to run as a background goroutine for the process
// lifetime.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sweep()
		}
	}
}

func (h *Hub) sweep() {
	cutoff := time.Now().Add(-h.idleCutoff)

	h.mu.RLock()
	snapshot := make(map[string]*Broadcaster, len(h.broadcasters))
	for id, b := range h.broadcasters {
		snapshot[id] = b
	}
	h.mu.RUnlock()

	for agentID, b := range snapshot {
		if dropped := b.sweepSubscribers(cutoff); dropped > 0 {
			slog.Info("Swept idle event subscribers", "agent_id", agentID, "count", dropped)
		}
		if b.idle(cutoff) {
			h.mu.Lock()
			if h.broadcasters[agentID] == b {
				delete(h.broadcasters, agentID)
				slog.Debug("Reclaimed idle broadcaster", "agent_id", agentID)
			}
			h.mu.Unlock()
		}
	}
}
