// ABOUTME: Stream subscription handles handed to SSE session handlers
// ABOUTME: Each handle owns its queue's lifetime: create on subscribe, remove on close

package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/2389/parley/internal/event"
)

// ConversationSubscription is a live conversation-scoped stream registration.
// The owning handler is the queue's only reader and must call Close when the
// connection ends, whichever way it ends.
type ConversationSubscription struct {
	conversationID uuid.UUID
	subID          string
	queue          *queue[event.Event]
	registry       *registry[event.Event]
}

// SubscribeConversation registers a stream for full events on a conversation.
func (d *Dispatcher) SubscribeConversation(conversationID uuid.UUID) *ConversationSubscription {
	q, subID := d.conversations.Subscribe(conversationID.String())
	return &ConversationSubscription{
		conversationID: conversationID,
		subID:          subID,
		queue:          q,
		registry:       d.conversations,
	}
}

// Next waits up to timeout for the next event. ok is false on timeout or ctx
// cancellation; the caller re-loops after checking its exit conditions.
func (s *ConversationSubscription) Next(ctx context.Context, timeout time.Duration) (event.Event, bool) {
	return s.queue.WaitTimeout(ctx, timeout)
}

// Close removes the subscription from the registry.
func (s *ConversationSubscription) Close() {
	s.registry.Unsubscribe(s.conversationID.String(), s.subID)
}

// UserSubscription is a live user-scoped stream registration. It receives
// conversation-ID pings, not full events: the client is expected to re-fetch
// its conversation list on each ping.
type UserSubscription struct {
	userID   string
	subID    string
	queue    *queue[uuid.UUID]
	registry *registry[uuid.UUID]
}

// SubscribeUser registers a stream for conversation-list pings for a user.
func (d *Dispatcher) SubscribeUser(userID string) *UserSubscription {
	q, subID := d.users.Subscribe(userID)
	return &UserSubscription{
		userID:   userID,
		subID:    subID,
		queue:    q,
		registry: d.users,
	}
}

// Next waits up to timeout for the next ping.
func (s *UserSubscription) Next(ctx context.Context, timeout time.Duration) (uuid.UUID, bool) {
	return s.queue.WaitTimeout(ctx, timeout)
}

// Close removes the subscription from the registry.
func (s *UserSubscription) Close() {
	s.registry.Unsubscribe(s.userID, s.subID)
}
