// ABOUTME: Fanout dispatcher routing domain events to stream queues and assistants
// ABOUTME: Single producer entry point; owns both registries and assistant delivery lanes

package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/parley/internal/event"
)

// ParticipantSource is the slice of the data-access collaborator the
// dispatcher needs: resolving which assistants and users should receive a
// conversation's events.
type ParticipantSource interface {
	// ListOnlineAssistantParticipants returns the ids of assistants whose
	// service is online and who are active participants of the conversation.
	ListOnlineAssistantParticipants(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error)

	// ListActiveUserParticipants returns the user ids that are active
	// participants of the conversation, filtered to the candidate set.
	ListActiveUserParticipants(ctx context.Context, conversationID uuid.UUID, candidates []string) ([]string, error)
}

// Forwarder delivers one event to one assistant's external service.
type Forwarder interface {
	ForwardEvent(ctx context.Context, assistantID uuid.UUID, ev event.Event) error
}

// assistantLane is one assistant's delivery queue. Created on first dispatch
// targeting the assistant and kept for the life of the process; the paired
// forwarder goroutine is the queue's only reader.
type assistantLane struct {
	queue *queue[event.Event]
}

// Dispatcher fans domain events out to live streams and assistant services.
// It is the only component that mutates the registries, and publishing never
// returns an error to the caller: the caller's transactional work already
// committed, so fanout failures are logged and swallowed.
type Dispatcher struct {
	store      ParticipantSource
	forwarder  Forwarder
	supervisor *Supervisor

	conversations *registry[event.Event] // conversation id -> full event streams
	users         *registry[uuid.UUID]   // user id -> conversation ping streams

	lanesMu sync.Mutex
	lanes   map[uuid.UUID]*assistantLane

	logger *slog.Logger
}

// New creates a dispatcher. Pass nil logger for the default.
func New(store ParticipantSource, forwarder Forwarder, supervisor *Supervisor, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "dispatcher")
	return &Dispatcher{
		store:         store,
		forwarder:     forwarder,
		supervisor:    supervisor,
		conversations: newRegistry[event.Event](logger.With("registry", "conversation")),
		users:         newRegistry[uuid.UUID](logger.With("registry", "user")),
		lanes:         make(map[uuid.UUID]*assistantLane),
		logger:        logger,
	}
}

// Dispatch publishes an event to the given audience. Best-effort and
// fire-and-forget: failures are logged, never returned. Once shutdown has
// begun the event is dropped with a warning; this is the documented loss
// window bounded by the shutdown grace period.
func (d *Dispatcher) Dispatch(ctx context.Context, ev event.Event, audience event.Audience) {
	if d.supervisor.Stopping() {
		d.logger.Warn("ignoring event due to stop signal",
			"conversation_id", ev.ConversationID,
			"event", ev.Kind,
			"event_id", ev.ID)
		return
	}

	d.logger.Debug("received event to notify",
		"conversation_id", ev.ConversationID,
		"event", ev.Kind,
		"event_id", ev.ID,
		"audience", audience)

	if audience.Includes(event.AudienceUser) {
		d.fanOutToConversationStreams(ev)

		if ev.Kind.AffectsConversationList() {
			conversationID := ev.ConversationID
			d.supervisor.Go("notify_user_list_changed", func(ctx context.Context) {
				d.notifyUserListChanged(ctx, conversationID)
			})
		}
	}

	if audience.Includes(event.AudienceAssistant) {
		d.fanOutToAssistants(ctx, ev)
	}
}

// fanOutToConversationStreams pushes the event onto every stream queue
// registered for its conversation. Push never blocks, so a stalled stream
// cannot hold up the dispatcher.
func (d *Dispatcher) fanOutToConversationStreams(ev event.Event) {
	targets := d.conversations.Snapshot(ev.ConversationID.String())
	for _, q := range targets {
		q.Push(ev)
	}
	if len(targets) > 0 {
		d.logger.Debug("enqueued event for streams",
			"conversation_id", ev.ConversationID,
			"event", ev.Kind,
			"event_id", ev.ID,
			"streams", len(targets))
	}
}

// notifyUserListChanged pushes a refresh ping to every user-scoped stream of
// users who actively participate in the conversation. Users with no open
// stream are filtered out before the store query so the query stays small.
func (d *Dispatcher) notifyUserListChanged(ctx context.Context, conversationID uuid.UUID) {
	listening := d.users.Keys()
	if len(listening) == 0 {
		return
	}

	userIDs, err := d.store.ListActiveUserParticipants(ctx, conversationID, listening)
	if err != nil {
		d.logger.Error("resolving user participants for ping",
			"conversation_id", conversationID,
			"error", err)
		return
	}

	for _, userID := range userIDs {
		for _, q := range d.users.Snapshot(userID) {
			q.Push(conversationID)
		}
		d.logger.Debug("enqueued ping for user stream",
			"user_id", userID,
			"conversation_id", conversationID)
	}
}

// fanOutToAssistants resolves the online assistant participants of the
// conversation and pushes the event onto each one's delivery lane, creating
// the lane and its forwarder on first use.
func (d *Dispatcher) fanOutToAssistants(ctx context.Context, ev event.Event) {
	assistantIDs, err := d.store.ListOnlineAssistantParticipants(ctx, ev.ConversationID)
	if err != nil {
		d.logger.Error("resolving assistant participants",
			"conversation_id", ev.ConversationID,
			"event_id", ev.ID,
			"error", err)
		return
	}

	for _, assistantID := range assistantIDs {
		lane := d.laneFor(assistantID)
		lane.queue.Push(ev)
		d.logger.Debug("enqueued event for assistant",
			"conversation_id", ev.ConversationID,
			"event", ev.Kind,
			"event_id", ev.ID,
			"assistant_id", assistantID)
	}
}

// laneFor returns the assistant's delivery lane, creating the queue and
// spawning its forwarder under the lock on first use. The double-checked
// create guarantees at most one forwarder per assistant even under
// concurrent dispatches targeting a newly-seen assistant.
func (d *Dispatcher) laneFor(assistantID uuid.UUID) *assistantLane {
	d.lanesMu.Lock()
	defer d.lanesMu.Unlock()

	if lane, ok := d.lanes[assistantID]; ok {
		return lane
	}

	lane := &assistantLane{queue: newQueue[event.Event]()}
	d.lanes[assistantID] = lane
	d.supervisor.Go("forward_events_to_"+assistantID.String(), func(ctx context.Context) {
		d.forwardEvents(ctx, assistantID, lane.queue)
	})
	return lane
}

// forwardEvents drains one assistant's lane strictly in order. It runs until
// the supervisor cancels it; a failed forward is logged and dropped, and the
// loop moves on to the next queued event.
func (d *Dispatcher) forwardEvents(ctx context.Context, assistantID uuid.UUID, q *queue[event.Event]) {
	logger := d.logger.With("assistant_id", assistantID)
	for {
		ev, ok := q.Wait(ctx)
		if !ok {
			return
		}

		evLogger := logger
		if ev.CorrelationID != "" {
			evLogger = logger.With("correlation_id", ev.CorrelationID)
		}

		start := time.Now()
		err := d.forwarder.ForwardEvent(ctx, assistantID, ev)
		elapsed := time.Since(start)

		if err != nil {
			evLogger.Error("forwarding event to assistant",
				"conversation_id", ev.ConversationID,
				"event_id", ev.ID,
				"duration", elapsed,
				"error", err)
			continue
		}

		evLogger.Debug("forwarded event to assistant",
			"conversation_id", ev.ConversationID,
			"event_id", ev.ID,
			"duration", elapsed,
			"time_since_event", time.Since(ev.Timestamp))
	}
}
