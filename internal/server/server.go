// ABOUTME: HTTP server construction and lifecycle for parley
// ABOUTME: Route registration, startup, and graceful shutdown ordering

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/2389/parley/internal/config"
	"github.com/2389/parley/internal/dispatch"
	"github.com/2389/parley/internal/store"
)

// Server wires the route layer to the store and the event dispatcher.
type Server struct {
	cfg        *config.Config
	store      store.Store
	dispatcher *dispatch.Dispatcher
	supervisor *dispatch.Supervisor
	httpServer *http.Server
	validate   *validator.Validate
	logger     *slog.Logger
}

// New creates a Server with routes registered but not yet listening.
func New(cfg *config.Config, st store.Store, dispatcher *dispatch.Dispatcher, supervisor *dispatch.Supervisor, logger *slog.Logger) *Server {
	s := &Server{
		cfg:        cfg,
		store:      st,
		dispatcher: dispatcher,
		supervisor: supervisor,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		logger:     logger.With("component", "server"),
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("POST /conversations", s.requireUser(s.handleCreateConversation))
	mux.HandleFunc("GET /conversations", s.requireUser(s.handleListConversations))
	mux.HandleFunc("GET /conversations/{id}", s.requirePrincipal(s.handleGetConversation))
	mux.HandleFunc("PATCH /conversations/{id}", s.requireUser(s.handleUpdateConversation))

	mux.HandleFunc("POST /conversations/{id}/messages", s.requirePrincipal(s.handleCreateMessage))
	mux.HandleFunc("GET /conversations/{id}/messages", s.requirePrincipal(s.handleListMessages))
	mux.HandleFunc("GET /conversations/{id}/messages/{mid}", s.requirePrincipal(s.handleGetMessage))
	mux.HandleFunc("DELETE /conversations/{id}/messages/{mid}", s.requirePrincipal(s.handleDeleteMessage))

	mux.HandleFunc("GET /conversations/{id}/participants", s.requirePrincipal(s.handleListParticipants))
	mux.HandleFunc("PUT /conversations/{id}/participants/{pid}", s.requirePrincipal(s.handlePutParticipant))
	mux.HandleFunc("PATCH /conversations/{id}/participants/{pid}", s.requirePrincipal(s.handlePutParticipant))

	mux.HandleFunc("PUT /assistants/{id}/states/{state_id}", s.requireAssistant(s.handlePutAssistantState))
	mux.HandleFunc("POST /assistants/{id}/registration", s.requireAssistant(s.handleAssistantRegistration))

	mux.HandleFunc("GET /conversations/{id}/events", s.requirePrincipal(s.handleConversationEvents))
	mux.HandleFunc("GET /events", s.requireUser(s.handleUserEvents))
}

// Run starts the HTTP server and blocks until the context is cancelled or the
// server fails. Shutdown stops in order: stop flag first so stream loops
// unwind, then the HTTP drain, then the supervisor wait, then the store.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP server listening", "addr", s.cfg.Server.HTTPAddr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	serverErr := s.waitForShutdownSignal(ctx, errCh)
	shutdownErr := s.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// waitForShutdownSignal waits for context cancellation or server error.
func (s *Server) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		s.logger.Error("server error", "error", err)
		return err
	}
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Shutdown.GracePeriod)
	defer cancel()
	return s.Shutdown(ctx)
}

// Shutdown stops the HTTP server, the dispatch supervisor, and the store.
// The stop flag is raised before the HTTP drain: stream handlers exit on it
// within one poll interval, so open streams do not pin the drain until the
// deadline. The supervisor wait gets its own grace budget rather than
// whatever the HTTP drain left of ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	s.supervisor.SignalStop()

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Shutdown.GracePeriod)
	defer cancel()
	if err := s.supervisor.Shutdown(waitCtx); err != nil {
		errs = append(errs, fmt.Errorf("supervisor shutdown: %w", err))
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// Handler returns the configured HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
