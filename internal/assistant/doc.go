// ABOUTME: Package doc for the assistant integration layer
// ABOUTME: Event forwarding to assistant services and registration upkeep

// Package assistant talks to external assistant services. The Client pushes
// conversation events to an assistant's registered callback URL, and the
// StatusChecker periodically flips stale registrations offline so the fanout
// layer stops targeting assistants that went quiet.
package assistant
