// ABOUTME: REST handlers for conversations, messages, and participants
// ABOUTME: Store work first, then fire-and-forget event dispatch

package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/2389/parley/internal/event"
	"github.com/2389/parley/internal/store"
)

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req CreateConversationRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, _ := principalFrom(r.Context())
	now := time.Now().UTC()
	conv := &store.Conversation{
		ID:        uuid.New(),
		Title:     req.Title,
		OwnerID:   p.UserID,
		Metadata:  req.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.CreateConversation(r.Context(), conv); err != nil {
		s.sendStoreError(w, err, "conversation")
		return
	}

	// The creator joins their own conversation immediately.
	owner := &store.UserParticipant{
		ConversationID: conv.ID,
		UserID:         p.UserID,
		Name:           p.UserID,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.UpsertUserParticipant(r.Context(), owner); err != nil {
		s.sendStoreError(w, err, "participant")
		return
	}

	s.dispatcher.Dispatch(r.Context(),
		event.New(conv.ID, event.KindParticipantCreated, map[string]any{
			"participant_id": p.UserID,
			"role":           "user",
		}),
		event.AllAudience)

	s.sendJSON(w, http.StatusCreated, conversationToResponse(conv))
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	conversations, err := s.store.ListConversationsByUser(r.Context(), p.UserID)
	if err != nil {
		s.sendStoreError(w, err, "conversations")
		return
	}

	resp := ListConversationsResponse{
		Conversations: lo.Map(conversations, func(c *store.Conversation, _ int) ConversationResponse {
			return conversationToResponse(c)
		}),
	}
	s.sendJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	convID, err := conversationID(r)
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	if !s.checkConversationAccess(w, r, convID) {
		return
	}

	conv, err := s.store.GetConversation(r.Context(), convID)
	if err != nil {
		s.sendStoreError(w, err, "conversation")
		return
	}
	s.sendJSON(w, http.StatusOK, conversationToResponse(conv))
}

func (s *Server) handleUpdateConversation(w http.ResponseWriter, r *http.Request) {
	convID, err := conversationID(r)
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	if !s.checkConversationAccess(w, r, convID) {
		return
	}

	var req UpdateConversationRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := s.store.GetConversation(r.Context(), convID)
	if err != nil {
		s.sendStoreError(w, err, "conversation")
		return
	}

	if req.Title != nil {
		conv.Title = *req.Title
	}
	if req.Metadata != nil {
		conv.Metadata = req.Metadata
	}
	conv.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateConversation(r.Context(), conv); err != nil {
		s.sendStoreError(w, err, "conversation")
		return
	}

	s.dispatcher.Dispatch(r.Context(),
		event.New(convID, event.KindConversationUpdated, map[string]any{
			"title": conv.Title,
		}),
		event.AllAudience)

	s.sendJSON(w, http.StatusOK, conversationToResponse(conv))
}

func (s *Server) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	convID, err := conversationID(r)
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	if !s.checkConversationAccess(w, r, convID) {
		return
	}

	var req CreateMessageRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, _ := principalFrom(r.Context())
	sender, role := p.UserID, "user"
	if !p.IsUser() {
		sender, role = p.AssistantID.String(), "assistant"
	}

	msg := &store.Message{
		ID:             uuid.New(),
		ConversationID: convID,
		Sender:         sender,
		SenderRole:     role,
		Type:           lo.CoalesceOrEmpty(req.Type, store.MessageTypeChat),
		ContentType:    lo.CoalesceOrEmpty(req.ContentType, "text/plain"),
		Content:        req.Content,
		CreatedAt:      time.Now().UTC(),
	}

	if err := s.store.CreateMessage(r.Context(), msg); err != nil {
		s.sendStoreError(w, err, "message")
		return
	}

	resp := messageToResponse(msg)
	s.dispatcher.Dispatch(r.Context(),
		event.New(convID, event.KindMessageCreated, map[string]any{
			"message": resp,
		}),
		event.AllAudience)

	s.sendJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	convID, err := conversationID(r)
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	if !s.checkConversationAccess(w, r, convID) {
		return
	}

	messages, err := s.store.ListMessages(r.Context(), convID, parseLimit(r))
	if err != nil {
		s.sendStoreError(w, err, "messages")
		return
	}

	resp := ListMessagesResponse{
		Messages: lo.Map(messages, func(m *store.Message, _ int) MessageResponse {
			return messageToResponse(m)
		}),
	}
	s.sendJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	convID, err := conversationID(r)
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	msgID, err := uuid.Parse(r.PathValue("mid"))
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid message id")
		return
	}
	if !s.checkConversationAccess(w, r, convID) {
		return
	}

	msg, err := s.store.GetMessage(r.Context(), convID, msgID)
	if err != nil {
		s.sendStoreError(w, err, "message")
		return
	}
	s.sendJSON(w, http.StatusOK, messageToResponse(msg))
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	convID, err := conversationID(r)
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	msgID, err := uuid.Parse(r.PathValue("mid"))
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid message id")
		return
	}
	if !s.checkConversationAccess(w, r, convID) {
		return
	}

	if err := s.store.DeleteMessage(r.Context(), convID, msgID); err != nil {
		s.sendStoreError(w, err, "message")
		return
	}

	s.dispatcher.Dispatch(r.Context(),
		event.New(convID, event.KindMessageDeleted, map[string]any{
			"message_id": msgID.String(),
		}),
		event.AllAudience)

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListParticipants(w http.ResponseWriter, r *http.Request) {
	convID, err := conversationID(r)
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	if !s.checkConversationAccess(w, r, convID) {
		return
	}

	includeInactive := r.URL.Query().Get("include_inactive") == "true"
	users, err := s.store.ListUserParticipants(r.Context(), convID, includeInactive)
	if err != nil {
		s.sendStoreError(w, err, "participants")
		return
	}
	assistants, err := s.store.ListAssistantParticipants(r.Context(), convID, includeInactive)
	if err != nil {
		s.sendStoreError(w, err, "participants")
		return
	}

	s.sendJSON(w, http.StatusOK, ListParticipantsResponse{
		Participants: participantsToResponse(users, assistants),
	})
}

// handlePutParticipant upserts a user or assistant participant. Assistants may
// only update their own entry; users may manage any participant.
func (s *Server) handlePutParticipant(w http.ResponseWriter, r *http.Request) {
	convID, err := conversationID(r)
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	participantID := r.PathValue("pid")

	var req PutParticipantRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, _ := principalFrom(r.Context())
	if !p.IsUser() && participantID != p.AssistantID.String() {
		s.sendJSONError(w, http.StatusForbidden, "assistants may only update their own participation")
		return
	}

	// The conversation must exist before anyone can join it.
	if _, err := s.store.GetConversation(r.Context(), convID); err != nil {
		s.sendStoreError(w, err, "conversation")
		return
	}

	role := req.Role
	if role == "" {
		if _, err := uuid.Parse(participantID); err == nil && !p.IsUser() {
			role = "assistant"
		} else {
			role = "user"
		}
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	kind, err := s.upsertParticipant(r, convID, participantID, role, req, active)
	if err != nil {
		s.sendStoreError(w, err, "participant")
		return
	}

	s.dispatcher.Dispatch(r.Context(),
		event.New(convID, kind, map[string]any{
			"participant_id": participantID,
			"role":           role,
			"active":         active,
		}),
		event.AllAudience)

	s.sendJSON(w, http.StatusOK, ParticipantResponse{
		ID:     participantID,
		Role:   role,
		Name:   lo.CoalesceOrEmpty(req.Name, participantID),
		Active: active,
		Status: req.Status,
	})
}

// upsertParticipant writes the participant row and reports whether this was a
// new participation or an update of an existing one.
func (s *Server) upsertParticipant(r *http.Request, convID uuid.UUID, participantID, role string, req PutParticipantRequest, active bool) (event.Kind, error) {
	now := time.Now().UTC()

	if role == "assistant" {
		assistantID, err := uuid.Parse(participantID)
		if err != nil {
			return "", store.ErrNotFound
		}

		existing, err := s.store.ListAssistantParticipants(r.Context(), convID, true)
		if err != nil {
			return "", err
		}
		known := lo.ContainsBy(existing, func(p *store.AssistantParticipant) bool {
			return p.AssistantID == assistantID
		})

		err = s.store.UpsertAssistantParticipant(r.Context(), &store.AssistantParticipant{
			ConversationID: convID,
			AssistantID:    assistantID,
			Name:           lo.CoalesceOrEmpty(req.Name, participantID),
			Active:         active,
			Status:         req.Status,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
		if err != nil {
			return "", err
		}
		if known {
			return event.KindParticipantUpdated, nil
		}
		return event.KindParticipantCreated, nil
	}

	existing, err := s.store.ListUserParticipants(r.Context(), convID, true)
	if err != nil {
		return "", err
	}
	known := lo.ContainsBy(existing, func(p *store.UserParticipant) bool {
		return p.UserID == participantID
	})

	err = s.store.UpsertUserParticipant(r.Context(), &store.UserParticipant{
		ConversationID: convID,
		UserID:         participantID,
		Name:           lo.CoalesceOrEmpty(req.Name, participantID),
		Active:         active,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return "", err
	}
	if known {
		return event.KindParticipantUpdated, nil
	}
	return event.KindParticipantCreated, nil
}

func parseLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}
