// ABOUTME: Package dispatch is the in-process fanout fabric for conversation events.
// ABOUTME: Registries, the dispatcher, per-assistant forwarders, and the lifecycle supervisor.

// Package dispatch implements the real-time event distribution subsystem.
//
// Producers (the REST handlers) call Dispatcher.Dispatch after their
// transactional work commits. The dispatcher fans the event out to:
//
//   - every live conversation-scoped stream subscribed to the event's
//     conversation (full events),
//   - every live user-scoped stream of users who participate in the
//     conversation (a conversation-ID ping only), and
//   - one durable in-memory queue per assistant participating in the
//     conversation, drained strictly in order by a dedicated forwarder
//     goroutine per assistant.
//
// The dispatcher owns the registries exclusively. Stream handlers register
// and remove their own queues but never touch anyone else's. All background
// work (user-ping fanouts, forwarders, maintenance loops) is tracked by the
// Supervisor, which is the only component allowed to cancel tasks, and does
// so exactly once, at shutdown.
package dispatch
