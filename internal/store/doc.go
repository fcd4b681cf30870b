// ABOUTME: Package store is the relational persistence layer for parley.
// ABOUTME: Defines the Store interface and its SQLite implementation.

// Package store persists conversations, messages, participants, and
// assistant service registrations. The fanout subsystem treats it as an
// external collaborator: the dispatcher only asks it which assistants and
// users should receive a conversation's events, and the route layer uses the
// CRUD operations for its transactional work before dispatching.
package store
