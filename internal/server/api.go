// ABOUTME: Request/response types and JSON helpers for the parley API
// ABOUTME: Shared parsing, validation, and access-check plumbing

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/2389/parley/internal/store"
)

// CreateConversationRequest is the JSON body for POST /conversations.
type CreateConversationRequest struct {
	Title    string         `json:"title" validate:"required,max=255"`
	Metadata map[string]any `json:"metadata"`
}

// UpdateConversationRequest is the JSON body for PATCH /conversations/{id}.
type UpdateConversationRequest struct {
	Title    *string        `json:"title" validate:"omitempty,max=255"`
	Metadata map[string]any `json:"metadata"`
}

// ConversationResponse is the JSON shape of a conversation.
type ConversationResponse struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	OwnerID   string         `json:"owner_id"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt string         `json:"created_at"`
	UpdatedAt string         `json:"updated_at"`
}

// ListConversationsResponse is the JSON response for GET /conversations.
type ListConversationsResponse struct {
	Conversations []ConversationResponse `json:"conversations"`
}

// CreateMessageRequest is the JSON body for POST /conversations/{id}/messages.
type CreateMessageRequest struct {
	Content     string `json:"content" validate:"required"`
	ContentType string `json:"content_type" validate:"omitempty,max=127"`
	Type        string `json:"type" validate:"omitempty,oneof=chat note notice log"`
}

// MessageResponse is the JSON shape of a message.
type MessageResponse struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Sender         string `json:"sender"`
	SenderRole     string `json:"sender_role"`
	Type           string `json:"type"`
	ContentType    string `json:"content_type"`
	Content        string `json:"content"`
	CreatedAt      string `json:"created_at"`
}

// ListMessagesResponse is the JSON response for GET /conversations/{id}/messages.
type ListMessagesResponse struct {
	Messages []MessageResponse `json:"messages"`
}

// PutParticipantRequest is the JSON body for participant upserts.
type PutParticipantRequest struct {
	Role   string  `json:"role" validate:"omitempty,oneof=user assistant"`
	Name   string  `json:"name" validate:"omitempty,max=255"`
	Active *bool   `json:"active"`
	Status *string `json:"status" validate:"omitempty,max=255"`
}

// ParticipantResponse is the JSON shape of a participant.
type ParticipantResponse struct {
	ID     string  `json:"id"`
	Role   string  `json:"role"`
	Name   string  `json:"name"`
	Active bool    `json:"active"`
	Status *string `json:"status,omitempty"`
}

// ListParticipantsResponse is the JSON response for GET /conversations/{id}/participants.
type ListParticipantsResponse struct {
	Participants []ParticipantResponse `json:"participants"`
}

// PutAssistantStateRequest is the JSON body for PUT /assistants/{id}/states/{state_id}.
type PutAssistantStateRequest struct {
	ConversationID string         `json:"conversation_id" validate:"required,uuid"`
	Data           map[string]any `json:"data"`
}

// AssistantRegistrationRequest is the JSON body for the assistant heartbeat.
type AssistantRegistrationRequest struct {
	Name string `json:"name" validate:"required,max=255"`
	URL  string `json:"url" validate:"required,url"`
}

// AssistantRegistrationResponse is the JSON response for the assistant heartbeat.
type AssistantRegistrationResponse struct {
	AssistantID     string `json:"assistant_id"`
	Name            string `json:"name"`
	URL             string `json:"url"`
	Online          bool   `json:"online"`
	OnlineExpiresAt string `json:"online_expires_at"`
}

// decodeBody decodes and validates a JSON request body.
func (s *Server) decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.New("invalid JSON body")
	}
	if err := s.validate.Struct(dst); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	return nil
}

// sendJSON writes a JSON response with the given status.
func (s *Server) sendJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("encoding response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// sendStoreError maps store errors onto HTTP statuses.
func (s *Server) sendStoreError(w http.ResponseWriter, err error, what string) {
	if errors.Is(err, store.ErrNotFound) {
		s.sendJSONError(w, http.StatusNotFound, what+" not found")
		return
	}
	s.logger.Error("store error", "what", what, "error", err)
	s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
}

// conversationID extracts and parses the {id} path segment.
func conversationID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(r.PathValue("id"))
}

// checkConversationAccess verifies the principal is an active participant in
// the conversation. Returns false after writing the error response.
func (s *Server) checkConversationAccess(w http.ResponseWriter, r *http.Request, convID uuid.UUID) bool {
	p, ok := principalFrom(r.Context())
	if !ok {
		s.sendJSONError(w, http.StatusUnauthorized, "missing principal")
		return false
	}

	var member bool
	var err error
	if p.IsUser() {
		member, err = s.store.IsUserParticipant(r.Context(), convID, p.UserID)
	} else {
		member, err = s.store.IsAssistantParticipant(r.Context(), convID, p.AssistantID)
	}
	if err != nil {
		s.sendStoreError(w, err, "participant")
		return false
	}
	if !member {
		s.sendJSONError(w, http.StatusForbidden, "not a participant in this conversation")
		return false
	}
	return true
}

func conversationToResponse(c *store.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:        c.ID.String(),
		Title:     c.Title,
		OwnerID:   c.OwnerID,
		Metadata:  c.Metadata,
		CreatedAt: c.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: c.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func messageToResponse(m *store.Message) MessageResponse {
	return MessageResponse{
		ID:             m.ID.String(),
		ConversationID: m.ConversationID.String(),
		Sender:         m.Sender,
		SenderRole:     m.SenderRole,
		Type:           m.Type,
		ContentType:    m.ContentType,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func participantsToResponse(users []*store.UserParticipant, assistants []*store.AssistantParticipant) []ParticipantResponse {
	out := lo.Map(users, func(p *store.UserParticipant, _ int) ParticipantResponse {
		return ParticipantResponse{
			ID:     p.UserID,
			Role:   "user",
			Name:   p.Name,
			Active: p.Active,
		}
	})
	return append(out, lo.Map(assistants, func(p *store.AssistantParticipant, _ int) ParticipantResponse {
		return ParticipantResponse{
			ID:     p.AssistantID.String(),
			Role:   "assistant",
			Name:   p.Name,
			Active: p.Active,
			Status: p.Status,
		}
	})...)
}
