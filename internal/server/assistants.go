// ABOUTME: REST handlers for assistant state updates and service heartbeats
// ABOUTME: Heartbeats keep an assistant's registration online for one TTL window

package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/2389/parley/internal/event"
	"github.com/2389/parley/internal/store"
)

// handlePutAssistantState records a state change for an assistant within a
// conversation and pings the conversation's user streams. Assistant state is
// read back from the assistant service on demand, so only the notification
// crosses this API.
func (s *Server) handlePutAssistantState(w http.ResponseWriter, r *http.Request) {
	assistantID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid assistant id")
		return
	}

	p, _ := principalFrom(r.Context())
	if p.AssistantID != assistantID {
		s.sendJSONError(w, http.StatusForbidden, "assistants may only update their own state")
		return
	}

	var req PutAssistantStateRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	convID, err := uuid.Parse(req.ConversationID)
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	member, err := s.store.IsAssistantParticipant(r.Context(), convID, assistantID)
	if err != nil {
		s.sendStoreError(w, err, "participant")
		return
	}
	if !member {
		s.sendJSONError(w, http.StatusForbidden, "not a participant in this conversation")
		return
	}

	s.dispatcher.Dispatch(r.Context(),
		event.New(convID, event.KindAssistantStateUpdated, map[string]any{
			"assistant_id": assistantID.String(),
			"state_id":     r.PathValue("state_id"),
			"data":         req.Data,
		}),
		event.Audience{event.AudienceUser})

	w.WriteHeader(http.StatusNoContent)
}

// handleAssistantRegistration is the assistant service heartbeat. Each call
// marks the registration online until the configured TTL lapses; assistants
// re-register on an interval shorter than the TTL to stay online.
func (s *Server) handleAssistantRegistration(w http.ResponseWriter, r *http.Request) {
	assistantID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid assistant id")
		return
	}

	p, _ := principalFrom(r.Context())
	if p.AssistantID != assistantID {
		s.sendJSONError(w, http.StatusForbidden, "assistants may only register themselves")
		return
	}

	var req AssistantRegistrationRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now().UTC()
	expiresAt := now.Add(s.cfg.Assistants.OnlineTTL)
	reg := &store.AssistantRegistration{
		AssistantID:     assistantID,
		Name:            req.Name,
		ServiceURL:      req.URL,
		Online:          true,
		OnlineExpiresAt: &expiresAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.store.UpsertAssistantRegistration(r.Context(), reg); err != nil {
		s.sendStoreError(w, err, "registration")
		return
	}

	s.sendJSON(w, http.StatusOK, AssistantRegistrationResponse{
		AssistantID:     assistantID.String(),
		Name:            reg.Name,
		URL:             reg.ServiceURL,
		Online:          true,
		OnlineExpiresAt: expiresAt.Format(time.RFC3339),
	})
}
