// ABOUTME: Server-sent event stream handlers for conversations and users
// ABOUTME: Poll loops that interleave queue waits with disconnect checks

package server

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/2389/parley/internal/event"
)

// sseRetryMillis is the reconnect delay hint sent with every frame.
const sseRetryMillis = 1000

// ssePayload is the data field of a conversation event frame.
type ssePayload struct {
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// handleConversationEvents streams conversation events to a participant.
// The loop wakes at least once per poll interval so client disconnects and
// server shutdown are noticed even when the conversation is quiet.
func (s *Server) handleConversationEvents(w http.ResponseWriter, r *http.Request) {
	convID, err := conversationID(r)
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	if !s.checkConversationAccess(w, r, convID) {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.logger.Error("streaming not supported")
		s.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sub := s.dispatcher.SubscribeConversation(convID)
	defer sub.Close()

	setStreamHeaders(w)
	flusher.Flush()

	s.logger.Debug("conversation stream opened", "conversation_id", convID)
	defer s.logger.Debug("conversation stream closed", "conversation_id", convID)

	for {
		if s.supervisor.Stopping() {
			return
		}
		select {
		case <-r.Context().Done():
			return
		default:
		}

		ev, ok := sub.Next(r.Context(), s.cfg.Streams.PollInterval)
		if !ok {
			continue
		}

		data, err := json.Marshal(ssePayload{
			Timestamp: ev.Timestamp.UTC().Format(time.RFC3339Nano),
			Data:      ev.Data,
		})
		if err != nil {
			s.logger.Error("encoding stream event", "error", err, "event_id", ev.ID)
			continue
		}

		if err := writeSSEFrame(w, ev.ID.String(), string(ev.Kind), data); err != nil {
			s.logger.Debug("writing stream frame", "error", err, "event_id", ev.ID)
			continue
		}
		flusher.Flush()
	}
}

// handleUserEvents streams conversation-list change pings to a user. The
// payload only names the conversation that changed; clients refetch the list.
func (s *Server) handleUserEvents(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.logger.Error("streaming not supported")
		s.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sub := s.dispatcher.SubscribeUser(p.UserID)
	defer sub.Close()

	setStreamHeaders(w)
	flusher.Flush()

	s.logger.Debug("user stream opened", "user_id", p.UserID)
	defer s.logger.Debug("user stream closed", "user_id", p.UserID)

	for {
		if s.supervisor.Stopping() {
			return
		}
		select {
		case <-r.Context().Done():
			return
		default:
		}

		convID, ok := sub.Next(r.Context(), s.cfg.Streams.PollInterval)
		if !ok {
			continue
		}

		data, err := json.Marshal(map[string]string{"conversation_id": convID.String()})
		if err != nil {
			s.logger.Error("encoding stream ping", "error", err)
			continue
		}

		// Every ping carries the same label; clients discriminate by stream,
		// not by event name.
		id := uuid.New()
		if err := writeSSEFrame(w, hex.EncodeToString(id[:]), string(event.KindMessageCreated), data); err != nil {
			s.logger.Debug("writing stream ping", "error", err, "user_id", p.UserID)
			continue
		}
		flusher.Flush()
	}
}

func setStreamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

func writeSSEFrame(w http.ResponseWriter, id, label string, data []byte) error {
	_, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\nretry: %d\n\n", id, label, data, sseRetryMillis)
	return err
}
