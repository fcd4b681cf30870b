// ABOUTME: Tests for the fanout dispatcher: stream fanout, user pings, assistant lanes
// ABOUTME: Covers registry cleanup, stop-flag drops, FIFO delivery, and failure isolation

package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/parley/internal/event"
)

// fakeParticipants is an in-memory ParticipantSource.
type fakeParticipants struct {
	mu             sync.Mutex
	assistants     []uuid.UUID
	users          []string
	assistantCalls int
	candidateSets  [][]string
	err            error
}

func (f *fakeParticipants) ListOnlineAssistantParticipants(_ context.Context, _ uuid.UUID) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assistantCalls++
	if f.err != nil {
		return nil, f.err
	}
	return append([]uuid.UUID(nil), f.assistants...), nil
}

func (f *fakeParticipants) ListActiveUserParticipants(_ context.Context, _ uuid.UUID, candidates []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidateSets = append(f.candidateSets, append([]string(nil), candidates...))
	if f.err != nil {
		return nil, f.err
	}
	return lo.Filter(f.users, func(u string, _ int) bool {
		return lo.Contains(candidates, u)
	}), nil
}

// fakeForwarder records forwarded events and can fail selected event IDs.
type fakeForwarder struct {
	mu        sync.Mutex
	forwarded []uuid.UUID // event IDs in delivery order
	failIDs   map[uuid.UUID]bool
}

func (f *fakeForwarder) ForwardEvent(_ context.Context, _ uuid.UUID, ev event.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forwarded = append(f.forwarded, ev.ID)
	if f.failIDs[ev.ID] {
		return errors.New("assistant service unavailable")
	}
	return nil
}

func (f *fakeForwarder) deliveries() []uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uuid.UUID(nil), f.forwarded...)
}

func newTestDispatcher(t *testing.T, store ParticipantSource, fwd Forwarder) (*Dispatcher, *Supervisor) {
	t.Helper()
	sup := NewSupervisor(nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = sup.Shutdown(ctx)
	})
	if store == nil {
		store = &fakeParticipants{}
	}
	if fwd == nil {
		fwd = &fakeForwarder{}
	}
	return New(store, fwd, sup, nil), sup
}

func TestDispatch_AllConversationStreamsReceiveEventInOrder(t *testing.T) {
	d, _ := newTestDispatcher(t, nil, nil)
	convID := uuid.New()

	sub1 := d.SubscribeConversation(convID)
	defer sub1.Close()
	sub2 := d.SubscribeConversation(convID)
	defer sub2.Close()

	ev1 := event.New(convID, event.KindMessageCreated, map[string]any{"n": 1})
	ev2 := event.New(convID, event.KindMessageCreated, map[string]any{"n": 2})
	d.Dispatch(t.Context(), ev1, event.Audience{event.AudienceUser})
	d.Dispatch(t.Context(), ev2, event.Audience{event.AudienceUser})

	for _, sub := range []*ConversationSubscription{sub1, sub2} {
		got1, ok := sub.Next(t.Context(), time.Second)
		require.True(t, ok)
		got2, ok := sub.Next(t.Context(), time.Second)
		require.True(t, ok)
		assert.Equal(t, ev1.ID, got1.ID)
		assert.Equal(t, ev2.ID, got2.ID)
	}
}

func TestDispatch_OtherConversationsAreIsolated(t *testing.T) {
	d, _ := newTestDispatcher(t, nil, nil)

	subA := d.SubscribeConversation(uuid.New())
	defer subA.Close()

	convB := uuid.New()
	d.Dispatch(t.Context(), event.New(convB, event.KindMessageCreated, nil), event.Audience{event.AudienceUser})

	_, ok := subA.Next(t.Context(), 100*time.Millisecond)
	assert.False(t, ok, "stream for another conversation must not receive the event")
}

func TestDispatch_EmptyAudienceIsNoOp(t *testing.T) {
	store := &fakeParticipants{}
	d, _ := newTestDispatcher(t, store, nil)
	convID := uuid.New()

	sub := d.SubscribeConversation(convID)
	defer sub.Close()

	d.Dispatch(t.Context(), event.New(convID, event.KindMessageCreated, nil), event.Audience{})

	_, ok := sub.Next(t.Context(), 100*time.Millisecond)
	assert.False(t, ok)
	store.mu.Lock()
	assert.Zero(t, store.assistantCalls)
	store.mu.Unlock()
}

func TestDispatch_LastUnsubscribeRemovesRegistryEntry(t *testing.T) {
	d, _ := newTestDispatcher(t, nil, nil)
	convID := uuid.New()

	sub1 := d.SubscribeConversation(convID)
	sub2 := d.SubscribeConversation(convID)

	ev1 := event.New(convID, event.KindMessageCreated, nil)
	d.Dispatch(t.Context(), ev1, event.Audience{event.AudienceUser})

	for _, sub := range []*ConversationSubscription{sub1, sub2} {
		got, ok := sub.Next(t.Context(), time.Second)
		require.True(t, ok)
		assert.Equal(t, ev1.ID, got.ID)
	}

	sub1.Close()
	assert.True(t, d.conversations.HasKey(convID.String()), "entry must survive while one stream remains")
	sub2.Close()
	assert.False(t, d.conversations.HasKey(convID.String()), "entry must be removed with the last stream")

	// Dispatching into the now-empty conversation neither errors nor
	// resurrects the entry.
	d.Dispatch(t.Context(), event.New(convID, event.KindMessageCreated, nil), event.Audience{event.AudienceUser})
	assert.False(t, d.conversations.HasKey(convID.String()))
}

func TestDispatch_StopFlagDropsEvents(t *testing.T) {
	store := &fakeParticipants{assistants: []uuid.UUID{uuid.New()}}
	d, sup := newTestDispatcher(t, store, nil)
	convID := uuid.New()

	sub := d.SubscribeConversation(convID)
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sup.Shutdown(ctx))

	d.Dispatch(t.Context(), event.New(convID, event.KindMessageCreated, nil), event.AllAudience)

	_, ok := sub.Next(t.Context(), 100*time.Millisecond)
	assert.False(t, ok, "no pushes after the stop flag is set")
	store.mu.Lock()
	assert.Zero(t, store.assistantCalls, "no assistant resolution after the stop flag is set")
	store.mu.Unlock()
}

func TestDispatch_UserStreamsReceiveOnePingPerDispatch(t *testing.T) {
	store := &fakeParticipants{users: []string{"alice", "bob"}}
	d, _ := newTestDispatcher(t, store, nil)
	convID := uuid.New()

	aliceSub := d.SubscribeUser("alice")
	defer aliceSub.Close()
	bobSub := d.SubscribeUser("bob")
	defer bobSub.Close()

	d.Dispatch(t.Context(), event.New(convID, event.KindMessageCreated, nil), event.Audience{event.AudienceUser})

	for _, sub := range []*UserSubscription{aliceSub, bobSub} {
		ping, ok := sub.Next(t.Context(), time.Second)
		require.True(t, ok)
		assert.Equal(t, convID, ping)

		_, ok = sub.Next(t.Context(), 100*time.Millisecond)
		assert.False(t, ok, "exactly one ping per dispatch")
	}
}

func TestDispatch_UserPingSkipsNonParticipants(t *testing.T) {
	store := &fakeParticipants{users: []string{"alice"}}
	d, _ := newTestDispatcher(t, store, nil)
	convID := uuid.New()

	aliceSub := d.SubscribeUser("alice")
	defer aliceSub.Close()
	carolSub := d.SubscribeUser("carol") // not a participant
	defer carolSub.Close()

	d.Dispatch(t.Context(), event.New(convID, event.KindMessageDeleted, nil), event.Audience{event.AudienceUser})

	_, ok := aliceSub.Next(t.Context(), time.Second)
	require.True(t, ok)

	_, ok = carolSub.Next(t.Context(), 100*time.Millisecond)
	assert.False(t, ok)

	// The store query only saw users with open streams.
	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.candidateSets) == 1
	}, time.Second, 10*time.Millisecond)
	store.mu.Lock()
	assert.ElementsMatch(t, []string{"alice", "carol"}, store.candidateSets[0])
	store.mu.Unlock()
}

func TestDispatch_NonListAffectingKindSkipsUserPing(t *testing.T) {
	store := &fakeParticipants{users: []string{"alice"}}
	d, _ := newTestDispatcher(t, store, nil)

	aliceSub := d.SubscribeUser("alice")
	defer aliceSub.Close()

	d.Dispatch(t.Context(),
		event.New(uuid.New(), event.KindConversationStateUpdated, nil),
		event.Audience{event.AudienceUser})

	_, ok := aliceSub.Next(t.Context(), 150*time.Millisecond)
	assert.False(t, ok, "state changes must not ping user streams")
}

func TestDispatch_AssistantLaneCreatedOnceAndFIFO(t *testing.T) {
	assistantID := uuid.New()
	store := &fakeParticipants{assistants: []uuid.UUID{assistantID}}
	fwd := &fakeForwarder{}
	d, _ := newTestDispatcher(t, store, fwd)
	convID := uuid.New()

	ev1 := event.New(convID, event.KindMessageCreated, nil)
	ev2 := event.New(convID, event.KindMessageCreated, nil)
	d.Dispatch(t.Context(), ev1, event.Audience{event.AudienceAssistant})
	d.Dispatch(t.Context(), ev2, event.Audience{event.AudienceAssistant})

	require.Eventually(t, func() bool {
		return len(fwd.deliveries()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, []uuid.UUID{ev1.ID, ev2.ID}, fwd.deliveries(), "per-assistant delivery is FIFO")

	d.lanesMu.Lock()
	assert.Len(t, d.lanes, 1, "one lane per assistant")
	d.lanesMu.Unlock()
}

func TestDispatch_ForwardFailureDoesNotStopDelivery(t *testing.T) {
	assistantID := uuid.New()
	store := &fakeParticipants{assistants: []uuid.UUID{assistantID}}
	convID := uuid.New()

	ev1 := event.New(convID, event.KindMessageCreated, nil)
	ev2 := event.New(convID, event.KindMessageCreated, nil)
	fwd := &fakeForwarder{failIDs: map[uuid.UUID]bool{ev1.ID: true}}
	d, _ := newTestDispatcher(t, store, fwd)

	d.Dispatch(t.Context(), ev1, event.Audience{event.AudienceAssistant})
	d.Dispatch(t.Context(), ev2, event.Audience{event.AudienceAssistant})

	require.Eventually(t, func() bool {
		return len(fwd.deliveries()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []uuid.UUID{ev1.ID, ev2.ID}, fwd.deliveries())
}

func TestDispatch_ConcurrentDispatchesSpawnSingleForwarder(t *testing.T) {
	assistantID := uuid.New()
	store := &fakeParticipants{assistants: []uuid.UUID{assistantID}}
	fwd := &fakeForwarder{}
	d, _ := newTestDispatcher(t, store, fwd)
	convID := uuid.New()

	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			d.Dispatch(context.Background(), event.New(convID, event.KindMessageCreated, nil),
				event.Audience{event.AudienceAssistant})
		})
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return len(fwd.deliveries()) == 10
	}, 2*time.Second, 10*time.Millisecond)

	d.lanesMu.Lock()
	assert.Len(t, d.lanes, 1)
	d.lanesMu.Unlock()
}

func TestDispatch_StoreErrorIsSwallowed(t *testing.T) {
	store := &fakeParticipants{err: errors.New("database closed")}
	d, _ := newTestDispatcher(t, store, nil)

	// Must not panic or propagate.
	d.Dispatch(t.Context(), event.New(uuid.New(), event.KindMessageCreated, nil), event.AllAudience)
}

func TestShutdown_CancelsIdleForwarders(t *testing.T) {
	assistants := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	store := &fakeParticipants{assistants: assistants}
	fwd := &fakeForwarder{}
	sup := NewSupervisor(nil)
	d := New(store, fwd, sup, nil)

	// Create three lanes; their forwarders end up blocked on empty queues.
	d.Dispatch(t.Context(), event.New(uuid.New(), event.KindMessageCreated, nil),
		event.Audience{event.AudienceAssistant})
	require.Eventually(t, func() bool {
		return len(fwd.deliveries()) == 3
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sup.Shutdown(ctx), "shutdown must settle within the grace period")
}
