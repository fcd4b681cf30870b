// ABOUTME: Principal resolution middleware for the parley API
// ABOUTME: Maps identity headers onto the request context

package server

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// Identity headers. An upstream proxy is trusted to have authenticated the
// caller before these reach us.
const (
	HeaderUserID      = "X-Parley-User-ID"
	HeaderAssistantID = "X-Parley-Assistant-ID"
)

type principalKey struct{}

// Principal identifies the caller of a request. Exactly one of UserID or
// AssistantID is set.
type Principal struct {
	UserID      string
	AssistantID uuid.UUID
}

// IsUser reports whether the principal is a user.
func (p Principal) IsUser() bool {
	return p.UserID != ""
}

func principalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// resolvePrincipal reads the identity headers. Returns false when neither
// header is present or the assistant ID is malformed.
func resolvePrincipal(r *http.Request) (Principal, bool) {
	if userID := r.Header.Get(HeaderUserID); userID != "" {
		return Principal{UserID: userID}, true
	}
	if raw := r.Header.Get(HeaderAssistantID); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return Principal{}, false
		}
		return Principal{AssistantID: id}, true
	}
	return Principal{}, false
}

// requirePrincipal admits users and assistants.
func (s *Server) requirePrincipal(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := resolvePrincipal(r)
		if !ok {
			s.sendJSONError(w, http.StatusUnauthorized, "missing or invalid identity header")
			return
		}
		next(w, r.WithContext(withPrincipal(r.Context(), p)))
	}
}

// requireUser admits only user principals.
func (s *Server) requireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := resolvePrincipal(r)
		if !ok || !p.IsUser() {
			s.sendJSONError(w, http.StatusUnauthorized, "user identity required")
			return
		}
		next(w, r.WithContext(withPrincipal(r.Context(), p)))
	}
}

// requireAssistant admits only assistant principals.
func (s *Server) requireAssistant(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := resolvePrincipal(r)
		if !ok || p.IsUser() {
			s.sendJSONError(w, http.StatusUnauthorized, "assistant identity required")
			return
		}
		next(w, r.WithContext(withPrincipal(r.Context(), p)))
	}
}
