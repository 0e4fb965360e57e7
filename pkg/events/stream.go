package events

import (
	"context"
	"errors"
	"time"

	"github.com/openagentd/agentd/pkg/models"
)

// KeepAliveInterval is how long the live phase waits on the queue before
// surfacing a keep-alive tick to the consumer.
const KeepAliveInterval = 30 * time.Second

// Sentinel results from Stream.Next.
var (
	// ErrStreamDone means the stream delivered its final event.
	ErrStreamDone = errors.New("event stream done")
	// ErrSubscriberDropped means the broadcaster disconnected this
	// subscriber, usually because it fell behind.
	ErrSubscriberDropped = errors.New("event subscriber dropped")
)

// Stream yields one agent's events in sequence order: a replay of persisted
// history first, then live delivery.
//
// Delivery is at-least-once across the replay/live boundary: the subscriber
// registers before the replay scan, so an event published during replay can
// arrive through both paths. Next suppresses the duplicates it can see (by
// sequence), consumers still deduplicate by sequence across reconnects.
type Stream struct {
	agentID string
	hub     *Hub

	replay    []*models.ConversationEvent
	replayIdx int
	lastSeq   int64

	// sub is nil for replay-only streams (conversation already finished).
	sub       *Subscriber
	b         *Broadcaster
	keepAlive time.Duration
	done      bool
}

// OpenStream opens an event stream for the agent starting at sequence from.
// If the conversation's last event is done, the stream replays history and
// terminates without going live.
func (h *Hub) OpenStream(ctx context.Context, agentID string, from int64) (*Stream, error) {
	if from < 1 {
		from = 1
	}
	b, err := h.Broadcaster(ctx, agentID)
	if err != nil {
		return nil, err
	}

	s := &Stream{
		agentID:   agentID,
		hub:       h,
		b:         b,
		keepAlive: KeepAliveInterval,
	}

	live := b.LastEventType() != models.EventDone
	if live {
		// Register before the replay scan so no event falls between the
		// phases.
		s.sub = b.Subscribe()
	}

	// The ring usually covers the requested range; fall back to a
	// persistence scan when the range starts before its oldest element.
	if buffered, ok := b.Buffered(from); ok {
		s.replay = buffered
		return s, nil
	}
	replay, err := h.repo.EventsFrom(ctx, agentID, from)
	if err != nil {
		if s.sub != nil {
			b.Unsubscribe(s.sub.ID)
		}
		return nil, err
	}
	s.replay = replay
	return s, nil
}

// Next blocks for the next event. A (nil, nil) return is a keep-alive tick:
// the live queue was quiet for the keep-alive interval and the subscriber's
// activity timestamp was refreshed. After the final event Next returns
// ErrStreamDone.
func (s *Stream) Next(ctx context.Context) (*models.ConversationEvent, error) {
	if s.done {
		return nil, ErrStreamDone
	}

	for s.replayIdx < len(s.replay) {
		ev := s.replay[s.replayIdx]
		s.replayIdx++
		s.lastSeq = ev.Sequence
		return ev, nil
	}

	if s.sub == nil {
		// Replay-only stream exhausted.
		s.finish()
		return nil, ErrStreamDone
	}

	timer := time.NewTimer(s.keepAlive)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			s.finish()
			return nil, ctx.Err()
		case <-timer.C:
			s.sub.Touch()
			return nil, nil
		case ev, ok := <-s.sub.ch:
			if !ok {
				s.sub = nil
				s.finish()
				return nil, ErrSubscriberDropped
			}
			if ev.Sequence <= s.lastSeq {
				// Already delivered during replay.
				continue
			}
			s.lastSeq = ev.Sequence
			if ev.Type == models.EventDone {
				s.finish()
			}
			return ev, nil
		}
	}
}

// Close unregisters the subscriber. Safe to call multiple times.
func (s *Stream) Close() { s.finish() }

func (s *Stream) finish() {
	s.done = true
	if s.sub != nil {
		s.b.Unsubscribe(s.sub.ID)
		s.sub = nil
	}
}
