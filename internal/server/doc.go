// ABOUTME: Package doc for the HTTP route layer
// ABOUTME: REST handlers, SSE streams, and server lifecycle

// Package server exposes the parley REST API and the two server-sent event
// streams. Handlers do their transactional store work first, then hand the
// resulting event to the dispatcher; delivery happens out of band so a slow
// subscriber never delays an API response.
//
// Principal resolution is header-based: callers present X-Parley-User-ID or
// X-Parley-Assistant-ID and an upstream proxy is trusted to have
// authenticated them. Token verification is explicitly out of scope here.
package server
