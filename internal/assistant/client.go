// ABOUTME: HTTP client for delivering events to assistant services
// ABOUTME: Resolves the callback URL from the assistant's registration

package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/parley/internal/event"
	"github.com/2389/parley/internal/store"
)

// RegistrationSource looks up where an assistant wants its events delivered.
type RegistrationSource interface {
	GetAssistantRegistration(ctx context.Context, assistantID uuid.UUID) (*store.AssistantRegistration, error)
}

// Client delivers conversation events to assistant services over HTTP.
// It implements the dispatch.Forwarder interface.
type Client struct {
	store      RegistrationSource
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Client with the given per-request timeout.
func NewClient(source RegistrationSource, timeout time.Duration) *Client {
	return &Client{
		store:      source,
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default().With("component", "assistant-client"),
	}
}

// ForwardEvent POSTs the event to the assistant's registered callback URL.
// The assistant must have a known registration; events for unregistered
// assistants fail rather than being silently dropped.
func (c *Client) ForwardEvent(ctx context.Context, assistantID uuid.UUID, ev event.Event) error {
	reg, err := c.store.GetAssistantRegistration(ctx, assistantID)
	if err != nil {
		return fmt.Errorf("resolving assistant registration: %w", err)
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	url := strings.TrimSuffix(reg.ServiceURL, "/") + "/events"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if ev.CorrelationID != "" {
		req.Header.Set("X-Correlation-ID", ev.CorrelationID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("delivering event to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("assistant service returned status %d", resp.StatusCode)
	}

	c.logger.Debug("forwarded event",
		"assistant_id", assistantID,
		"event_id", ev.ID,
		"kind", ev.Kind)
	return nil
}
