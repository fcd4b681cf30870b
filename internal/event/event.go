// ABOUTME: Conversation event value type with kind, payload, and correlation token
// ABOUTME: Provides the open Kind set and the list-affecting classification

package event

import (
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Kind categorizes a conversation event. The set is open: assistant services
// may introduce kinds this service has never seen, so Kind is a string rather
// than a closed enum.
type Kind string

const (
	KindMessageCreated           Kind = "message.created"
	KindMessageDeleted           Kind = "message.deleted"
	KindConversationUpdated      Kind = "conversation.updated"
	KindParticipantCreated       Kind = "participant.created"
	KindParticipantUpdated       Kind = "participant.updated"
	KindConversationStateUpdated Kind = "conversation.state.updated"
	KindAssistantStateCreated    Kind = "assistant.state.created"
	KindAssistantStateUpdated    Kind = "assistant.state.updated"
	KindAssistantStateFocus      Kind = "assistant.state.focus"
)

// listAffectingKinds are the kinds that change what a user's conversation
// list looks like, and therefore trigger a user-stream ping.
var listAffectingKinds = []Kind{
	KindMessageCreated,
	KindMessageDeleted,
	KindConversationUpdated,
	KindParticipantCreated,
	KindParticipantUpdated,
}

// AffectsConversationList reports whether events of this kind should fan out
// a refresh ping to user-scoped streams in addition to conversation streams.
func (k Kind) AffectsConversationList() bool {
	return lo.Contains(listAffectingKinds, k)
}

// Event is a single conversation event. Immutable once constructed.
type Event struct {
	ID             uuid.UUID      `json:"id"`
	ConversationID uuid.UUID      `json:"conversation_id"`
	Kind           Kind           `json:"event"`
	Timestamp      time.Time      `json:"timestamp"`
	CorrelationID  string         `json:"correlation_id"`
	Data           map[string]any `json:"data"`
}

// New constructs an event for the given conversation. The timestamp is taken
// at construction time and the ID is a fresh UUID.
func New(conversationID uuid.UUID, kind Kind, data map[string]any) Event {
	if data == nil {
		data = map[string]any{}
	}
	return Event{
		ID:             uuid.New(),
		ConversationID: conversationID,
		Kind:           kind,
		Timestamp:      time.Now().UTC(),
		Data:           data,
	}
}

// WithCorrelationID returns a copy of the event carrying the given tracing
// token. The receiver is unchanged.
func (e Event) WithCorrelationID(id string) Event {
	e.CorrelationID = id
	return e
}

// AudienceMember identifies a class of event recipients.
type AudienceMember string

const (
	AudienceUser      AudienceMember = "user"
	AudienceAssistant AudienceMember = "assistant"
)

// Audience is the set of recipient classes a dispatch should reach. An empty
// audience makes the dispatch a no-op.
type Audience []AudienceMember

// AllAudience targets both live user streams and assistant services.
var AllAudience = Audience{AudienceUser, AudienceAssistant}

// Includes reports whether the audience contains the given member.
func (a Audience) Includes(m AudienceMember) bool {
	return lo.Contains(a, m)
}
