// ABOUTME: Package event defines the immutable domain event model for parley.
// ABOUTME: Events carry a kind, payload, and correlation token through the fanout fabric.

// Package event defines the value types that flow through the real-time
// distribution subsystem: the conversation Event itself, the open set of
// event kinds, and the Audience that tells the dispatcher which recipient
// classes an event should be routed to.
//
// Events are constructed once, by the route layer after its transactional
// work commits, and are never mutated afterwards. The Audience is a property
// of a dispatch request, not of the event.
package event
