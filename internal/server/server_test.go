// ABOUTME: Test harness and lifecycle tests for the HTTP route layer
// ABOUTME: Backs handlers with a real SQLite store and a recording forwarder

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/parley/internal/config"
	"github.com/2389/parley/internal/dispatch"
	"github.com/2389/parley/internal/event"
	"github.com/2389/parley/internal/store"
)

// recordingForwarder captures events handed to assistant delivery.
type recordingForwarder struct {
	mu     sync.Mutex
	events []event.Event
}

func (f *recordingForwarder) ForwardEvent(_ context.Context, _ uuid.UUID, ev event.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *recordingForwarder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

type testServer struct {
	*Server
	store     *store.SQLiteStore
	forwarder *recordingForwarder
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.DiscardHandler)
	supervisor := dispatch.NewSupervisor(logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		supervisor.Shutdown(ctx)
	})

	forwarder := &recordingForwarder{}
	dispatcher := dispatch.New(st, forwarder, supervisor, logger)

	cfg := &config.Config{
		Server:   config.ServerConfig{HTTPAddr: "127.0.0.1:0"},
		Database: config.DatabaseConfig{Path: ":memory:"},
		Streams:  config.StreamsConfig{PollInterval: 25 * time.Millisecond},
		Assistants: config.AssistantsConfig{
			ForwardTimeout:      time.Second,
			OnlineCheckInterval: time.Second,
			OnlineTTL:           20 * time.Second,
		},
		Shutdown: config.ShutdownConfig{GracePeriod: 2 * time.Second},
	}

	return &testServer{
		Server:    New(cfg, st, dispatcher, supervisor, logger),
		store:     st,
		forwarder: forwarder,
	}
}

// do runs a request through the mux with the given identity headers.
func (ts *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	return rec
}

func asUser(userID string) map[string]string {
	return map[string]string{HeaderUserID: userID}
}

func asAssistant(id uuid.UUID) map[string]string {
	return map[string]string{HeaderAssistantID: id.String()}
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(dst))
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	decodeInto(t, rec, &body)
	assert.Equal(t, "ok", body["status"])
}

func TestMissingIdentityHeader(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/conversations", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMalformedAssistantHeader(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/conversations/"+uuid.NewString(), nil,
		map[string]string{HeaderAssistantID: "not-a-uuid"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUserOnlyRouteRejectsAssistant(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/conversations", nil, asAssistant(uuid.New()))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestShutdownIsGraceful(t *testing.T) {
	ts := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, ts.Shutdown(ctx))
}

// freePort reserves a listener address and releases it for the server to bind.
func freePort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestRun_ShutdownWithOpenStream(t *testing.T) {
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	logger := slog.New(slog.DiscardHandler)
	supervisor := dispatch.NewSupervisor(logger)
	dispatcher := dispatch.New(st, &recordingForwarder{}, supervisor, logger)

	addr := freePort(t)
	cfg := &config.Config{
		Server:   config.ServerConfig{HTTPAddr: addr},
		Streams:  config.StreamsConfig{PollInterval: 25 * time.Millisecond},
		Shutdown: config.ShutdownConfig{GracePeriod: 2 * time.Second},
	}
	srv := New(cfg, st, dispatcher, supervisor, logger)

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	runErr := make(chan error, 1)
	go func() { runErr <- srv.Run(runCtx) }()

	ctx := context.Background()
	now := time.Now().UTC()
	conv := &store.Conversation{ID: uuid.New(), Title: "standup", OwnerID: "alice", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, st.CreateConversation(ctx, conv))
	require.NoError(t, st.UpsertUserParticipant(ctx, &store.UserParticipant{
		ConversationID: conv.ID, UserID: "alice", Name: "alice", Active: true,
		CreatedAt: now, UpdatedAt: now,
	}))

	base := "http://" + addr
	client := &http.Client{}
	require.Eventually(t, func() bool {
		resp, err := client.Get(base + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond, "server never came up")

	req, err := http.NewRequest(http.MethodGet, base+"/conversations/"+conv.ID.String()+"/events", nil)
	require.NoError(t, err)
	req.Header.Set(HeaderUserID, "alice")
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// An open stream must not pin the drain: the stop flag closes it within
	// one poll interval and Run returns clean well inside the grace period.
	start := time.Now()
	cancelRun()

	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.Less(t, time.Since(start), time.Second)

	_, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
}
