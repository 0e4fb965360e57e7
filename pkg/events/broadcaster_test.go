package events

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openagentd/agentd/pkg/models"
	"github.com/openagentd/agentd/pkg/store"
)

func newTestBroadcaster(t *testing.T, agentID string, ringCap, queueCap int) (*Broadcaster, store.ConversationRepository) {
	t.Helper()
	repo := store.NewMemoryStore().Conversations()
	require.NoError(t, repo.SaveHistory(context.Background(), &models.ConversationHistory{
		AgentID:  agentID,
		UserID:   "user-1",
		FlowType: "plan_act",
	}))
	return NewBroadcaster(agentID, repo, ringCap, queueCap, ""), repo
}

func TestBroadcastAssignsContiguousSequences(t *testing.T) {
	b, repo := newTestBroadcaster(t, "a1", 10, 10)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		seq, err := b.Broadcast(ctx, models.MessageEvent{Role: models.RoleAssistant, Content: fmt.Sprintf("m%d", i)})
		require.NoError(t, err)
		assert.Equal(t, int64(i), seq)
	}

	persisted, err := repo.EventsFrom(ctx, "a1", 1)
	require.NoError(t, err)
	require.Len(t, persisted, 5)
	for i, ev := range persisted {
		assert.Equal(t, int64(i+1), ev.Sequence)
	}
}

func TestBroadcastConcurrentProducers(t *testing.T) {
	b, repo := newTestBroadcaster(t, "a1", 2000, 10)
	ctx := context.Background()

	const producers, perProducer = 8, 25
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				_, err := b.Broadcast(ctx, models.MessageEvent{Role: models.RoleAssistant, Content: "x"})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	persisted, err := repo.EventsFrom(ctx, "a1", 1)
	require.NoError(t, err)
	require.Len(t, persisted, producers*perProducer)
	for i, ev := range persisted {
		assert.Equal(t, int64(i+1), ev.Sequence, "sequences must stay contiguous under concurrency")
	}
}

func TestBroadcastDeliversToSubscribers(t *testing.T) {
	b, _ := newTestBroadcaster(t, "a1", 10, 10)
	ctx := context.Background()

	sub := b.Subscribe()
	_, err := b.Broadcast(ctx, models.ReportEvent{Content: "final"})
	require.NoError(t, err)

	ev := <-sub.Events()
	assert.Equal(t, models.EventReport, ev.Type)
	assert.Equal(t, int64(1), ev.Sequence)
}

func TestBroadcastDropsSlowSubscriber(t *testing.T) {
	b, _ := newTestBroadcaster(t, "a1", 100, 2)
	ctx := context.Background()

	slow := b.Subscribe()
	// Fill the queue plus one: the third publish finds it full.
	for i := 0; i < 3; i++ {
		_, err := b.Broadcast(ctx, models.MessageEvent{Role: models.RoleAssistant, Content: "x"})
		require.NoError(t, err)
	}

	assert.Equal(t, 0, b.SubscriberCount())
	// The channel is closed after the two buffered events drain.
	<-slow.Events()
	<-slow.Events()
	_, open := <-slow.Events()
	assert.False(t, open)
}

func TestBroadcastSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	b, _ := newTestBroadcaster(t, "a1", 100, 1)
	ctx := context.Background()

	_ = b.Subscribe() // never drained
	healthy := b.Subscribe()

	_, err := b.Broadcast(ctx, models.MessageEvent{Role: models.RoleAssistant, Content: "one"})
	require.NoError(t, err)
	_, err = b.Broadcast(ctx, models.MessageEvent{Role: models.RoleAssistant, Content: "two"})
	require.NoError(t, err)

	// healthy has queue cap 1: it got "one", was dropped on "two".
	ev := <-healthy.Events()
	assert.Equal(t, int64(1), ev.Sequence)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestRingEviction(t *testing.T) {
	b, _ := newTestBroadcaster(t, "a1", 3, 10)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := b.Broadcast(ctx, models.MessageEvent{Role: models.RoleAssistant, Content: "x"})
		require.NoError(t, err)
	}

	buffered, ok := b.Buffered(3)
	require.True(t, ok)
	require.Len(t, buffered, 3)
	assert.Equal(t, int64(3), buffered[0].Sequence)
	assert.Equal(t, int64(5), buffered[2].Sequence)

	// Sequence 1 was evicted: the ring no longer covers that range.
	_, ok = b.Buffered(1)
	assert.False(t, ok)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b, _ := newTestBroadcaster(t, "a1", 10, 10)
	sub := b.Subscribe()
	b.Unsubscribe(sub.ID)
	_, open := <-sub.Events()
	assert.False(t, open)
	assert.Equal(t, 0, b.SubscriberCount())

	// Unknown ids are a no-op.
	b.Unsubscribe("missing")
}

func TestLastEventType(t *testing.T) {
	b, _ := newTestBroadcaster(t, "a1", 10, 10)
	assert.Equal(t, models.EventType(""), b.LastEventType())

	_, err := b.Broadcast(context.Background(), models.DoneEvent{})
	require.NoError(t, err)
	assert.Equal(t, models.EventDone, b.LastEventType())
}
