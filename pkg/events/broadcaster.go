// Package events provides the per-agent event hub: a broadcaster that
// persists events, assigns sequences and fans out to live subscribers, and a
// stream service that replays history before switching to live delivery.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/openagentd/agentd/pkg/models"
	"github.com/openagentd/agentd/pkg/store"
)

const (
	// DefaultRingCapacity is the number of recent events kept in memory per
	// agent.
	DefaultRingCapacity = 1000
	// DefaultQueueCapacity bounds each subscriber's delivery queue. A full
	// queue disconnects the subscriber rather than blocking the producer.
	DefaultQueueCapacity = 100
)

// Subscriber receives live events for one agent over a bounded channel.
type Subscriber struct {
	ID string

	ch        chan *models.ConversationEvent
	closeOnce sync.Once

	// lastActivity is unix nanos of the most recent delivery or keep-alive
	// touch, read by the idle sweeper.
	lastActivity atomic.Int64
}

func newSubscriber(queueCap int) *Subscriber {
	s := &Subscriber{
		ID: uuid.New().String(),
		ch: make(chan *models.ConversationEvent, queueCap),
	}
	s.Touch()
	return s
}

// Events returns the delivery channel. It is closed when the subscriber is
// dropped.
func (s *Subscriber) Events() <-chan *models.ConversationEvent { return s.ch }

// Touch refreshes the last-activity timestamp.
func (s *Subscriber) Touch() { s.lastActivity.Store(time.Now().UnixNano()) }

// LastActivity returns the time of the most recent delivery or touch.
func (s *Subscriber) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

func (s *Subscriber) close() {
	s.closeOnce.Do(func() { close(s.ch) })
}

// Broadcaster is the per-agent event hub and the single writer for that
// agent's sequence. It owns a ring of the last ringCap events and the set of
// active subscribers.
type Broadcaster struct {
	agentID  string
	repo     store.ConversationRepository
	ringCap  int
	queueCap int

	mu           sync.Mutex
	ring         []*models.ConversationEvent
	subs         map[string]*Subscriber
	lastType     models.EventType
	lastActivity time.Time
}

// NewBroadcaster creates a broadcaster for one agent. lastType seeds the
// terminal-state check for streams attaching to a finished conversation.
func NewBroadcaster(agentID string, repo store.ConversationRepository, ringCap, queueCap int, lastType models.EventType) *Broadcaster {
	if ringCap <= 0 {
		ringCap = DefaultRingCapacity
	}
	if queueCap <= 0 {
		queueCap = DefaultQueueCapacity
	}
	return &Broadcaster{
		agentID:      agentID,
		repo:         repo,
		ringCap:      ringCap,
		queueCap:     queueCap,
		subs:         make(map[string]*Subscriber),
		lastType:     lastType,
		lastActivity: time.Now(),
	}
}

// Broadcast persists the event, assigns its sequence, appends it to the ring
// and fans it out to live subscribers. The whole operation runs under the
// per-agent lock so sequences stay contiguous even with concurrent
// producers. A persistence failure propagates and nothing is delivered.
func (b *Broadcaster) Broadcast(ctx context.Context, event models.AgentEvent) (int64, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("marshal %s event: %w", event.EventType(), err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ev, err := b.repo.AppendEvent(ctx, b.agentID, event.EventType(), payload)
	if err != nil {
		return 0, err
	}

	b.ring = append(b.ring, ev)
	if len(b.ring) > b.ringCap {
		b.ring = b.ring[len(b.ring)-b.ringCap:]
	}
	b.lastType = ev.Type
	b.lastActivity = time.Now()

	// Non-blocking fan-out: a subscriber that cannot keep up is dropped,
	// never waited for.
	for id, sub := range b.subs {
		select {
		case sub.ch <- ev:
			sub.Touch()
		default:
			slog.Warn("Dropping slow event subscriber",
				"agent_id", b.agentID, "subscriber_id", id, "sequence", ev.Sequence)
			delete(b.subs, id)
			sub.close()
		}
	}
	return ev.Sequence, nil
}

// Subscribe registers a fresh subscriber. Its queue receives events published
// after registration.
func (b *Broadcaster) Subscribe() *Subscriber {
	sub := newSubscriber(b.queueCap)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[sub.ID] = sub
	b.lastActivity = time.Now()
	return sub
}

// Unsubscribe drops and closes a subscriber. Unknown ids are a no-op.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if ok {
		sub.close()
	}
}

// LastEventType returns the type of the most recently broadcast event, or ""
// when the conversation has no events.
func (b *Broadcaster) LastEventType() models.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastType
}

// SubscriberCount returns the number of active subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Buffered returns ring-buffered events with sequence >= from, and whether
// the ring still covers that range.
func (b *Broadcaster) Buffered(from int64) ([]*models.ConversationEvent, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.ring) == 0 {
		return nil, false
	}
	if b.ring[0].Sequence > 1 && from < b.ring[0].Sequence {
		// The requested range starts before the ring's oldest element.
		return nil, false
	}
	out := make([]*models.ConversationEvent, 0, len(b.ring))
	for _, ev := range b.ring {
		if ev.Sequence >= from {
			out = append(out, ev)
		}
	}
	return out, true
}

// idle reports whether the broadcaster has no subscribers and has been
// inactive since the cutoff.
func (b *Broadcaster) idle(cutoff time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs) == 0 && b.lastActivity.Before(cutoff)
}

// sweepSubscribers drops subscribers whose last activity predates the
// cutoff. Returns the number dropped.
func (b *Broadcaster) sweepSubscribers(cutoff time.Time) int {
	b.mu.Lock()
	var dropped []*Subscriber
	for id, sub := range b.subs {
		if sub.LastActivity().Before(cutoff) {
			delete(b.subs, id)
			dropped = append(dropped, sub)
		}
	}
	b.mu.Unlock()
	for _, sub := range dropped {
		sub.close()
	}
	return len(dropped)
}
