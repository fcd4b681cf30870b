// ABOUTME: Store interface and data types for parley persistence
// ABOUTME: Conversations, messages, participants, and assistant registrations

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Conversation is a multi-participant message thread.
type Conversation struct {
	ID        uuid.UUID
	Title     string
	OwnerID   string // user id of the creator
	Metadata  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MessageType constants for conversation messages.
const (
	MessageTypeChat   = "chat"
	MessageTypeNote   = "note"
	MessageTypeNotice = "notice"
	MessageTypeLog    = "log"
)

// Message is a single message within a conversation.
type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	Sender         string // user id or assistant id
	SenderRole     string // "user" or "assistant"
	Type           string // chat, note, notice, log
	ContentType    string // e.g. "text/plain", "text/markdown"
	Content        string
	CreatedAt      time.Time
}

// UserParticipant links a user to a conversation.
type UserParticipant struct {
	ConversationID uuid.UUID
	UserID         string
	Name           string
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AssistantParticipant links an assistant to a conversation. Status carries
// the assistant's self-reported state ("thinking", etc.) for display.
type AssistantParticipant struct {
	ConversationID uuid.UUID
	AssistantID    uuid.UUID
	Name           string
	Active         bool
	Status         *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AssistantRegistration records an assistant service's callback URL and its
// online window. A registration counts as online until OnlineExpiresAt; the
// maintenance loop flips Online off once the window lapses.
type AssistantRegistration struct {
	AssistantID     uuid.UUID
	Name            string
	ServiceURL      string
	Online          bool
	OnlineExpiresAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Store defines the persistence operations used by the route layer and the
// fanout subsystem.
type Store interface {
	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id uuid.UUID) (*Conversation, error)
	UpdateConversation(ctx context.Context, conv *Conversation) error
	ListConversationsByUser(ctx context.Context, userID string) ([]*Conversation, error)

	// Messages
	CreateMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, conversationID, messageID uuid.UUID) (*Message, error)
	ListMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]*Message, error)
	DeleteMessage(ctx context.Context, conversationID, messageID uuid.UUID) error

	// Participants
	UpsertUserParticipant(ctx context.Context, p *UserParticipant) error
	UpsertAssistantParticipant(ctx context.Context, p *AssistantParticipant) error
	ListUserParticipants(ctx context.Context, conversationID uuid.UUID, includeInactive bool) ([]*UserParticipant, error)
	ListAssistantParticipants(ctx context.Context, conversationID uuid.UUID, includeInactive bool) ([]*AssistantParticipant, error)
	IsUserParticipant(ctx context.Context, conversationID uuid.UUID, userID string) (bool, error)
	IsAssistantParticipant(ctx context.Context, conversationID, assistantID uuid.UUID) (bool, error)

	// Assistant registrations
	UpsertAssistantRegistration(ctx context.Context, reg *AssistantRegistration) error
	GetAssistantRegistration(ctx context.Context, assistantID uuid.UUID) (*AssistantRegistration, error)
	ExpireAssistantRegistrations(ctx context.Context, now time.Time) (int, error)

	// Fanout queries (see internal/dispatch.ParticipantSource)
	ListOnlineAssistantParticipants(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error)
	ListActiveUserParticipants(ctx context.Context, conversationID uuid.UUID, candidates []string) ([]string, error)

	// Close releases any resources held by the store
	Close() error
}
