// ABOUTME: Stream subscriber registry mapping a key to its set of live queues
// ABOUTME: Guards registration state with a mutex and removes empty keys eagerly

package dispatch

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// registry tracks which stream subscriptions are listening on which key.
// Two instances exist: conversation-scoped (key: conversation UUID string,
// payload: full events) and user-scoped (key: user ID, payload: conversation
// UUID pings).
//
// Invariant: a key exists in subs iff at least one queue is registered for
// it. Unsubscribe deletes the key's entry when the set empties, re-checking
// under the lock so a racing Subscribe is never clobbered. The lock guards
// only the registration maps; pushing into a queue never needs it.
type registry[T any] struct {
	mu     sync.Mutex
	subs   map[string]map[string]*queue[T] // key -> subID -> queue
	logger *slog.Logger
}

func newRegistry[T any](logger *slog.Logger) *registry[T] {
	return &registry[T]{
		subs:   make(map[string]map[string]*queue[T]),
		logger: logger,
	}
}

// Subscribe registers a fresh queue under the key and returns it with its
// subscription ID for later removal.
func (r *registry[T]) Subscribe(key string) (*queue[T], string) {
	subID := uuid.New().String()
	q := newQueue[T]()

	r.mu.Lock()
	if _, ok := r.subs[key]; !ok {
		r.subs[key] = make(map[string]*queue[T])
	}
	r.subs[key][subID] = q
	r.mu.Unlock()

	r.logger.Debug("subscriber added", "key", key, "sub_id", subID)
	return q, subID
}

// Unsubscribe removes a subscription. When the key's set becomes empty the
// key itself is deleted, so repeated connect/disconnect cycles do not grow
// the map.
func (r *registry[T]) Unsubscribe(key, subID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.subs[key]
	if !ok {
		return
	}
	delete(set, subID)
	if len(set) == 0 {
		delete(r.subs, key)
	}

	r.logger.Debug("subscriber removed", "key", key, "sub_id", subID)
}

// Snapshot returns the queues currently registered under the key. The copy
// is taken under the lock; pushes happen after release so a slow Push can
// never stall registration.
func (r *registry[T]) Snapshot(key string) []*queue[T] {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.subs[key]
	if !ok {
		return nil
	}
	return lo.Values(set)
}

// Keys returns the keys that currently have at least one subscriber.
func (r *registry[T]) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo.Keys(r.subs)
}

// HasKey reports whether any subscription exists for the key.
func (r *registry[T]) HasKey(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.subs[key]
	return ok
}
