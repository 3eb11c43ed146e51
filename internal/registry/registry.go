// Package registry tracks one receiver session per connected central,
// keyed by connection id. A real peripheral can be connected to more than
// one central at a time even though each individual connection carries at
// most one transfer (spec.md's multiplexing non-goal is scoped to a single
// connection, not the whole peripheral); this registry is what lets a
// single process host all of them.
//
// TTL expiry is a backstop, not the primary teardown path: a connection's
// entry is removed explicitly when its transport reports disconnect.
// Grounded on the teacher's cache-backed SessionManager (server.Session),
// generalized from one fixed struct to a type parameter so it can hold
// either a receiver.Session or a sender.Session.
package registry

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// DefaultTTL is how long an entry survives without being refreshed by Get
// before the backstop GC reaps it.
const DefaultTTL = 5 * time.Minute

// DefaultCleanupInterval is how often the backstop GC sweeps for expired
// entries.
const DefaultCleanupInterval = 10 * time.Minute

// Registry is a TTL-backed map from connection id to session handle.
type Registry[T any] struct {
	store *cache.Cache
}

// New creates an empty Registry with the default TTL and cleanup interval.
func New[T any]() *Registry[T] {
	return &Registry[T]{store: cache.New(DefaultTTL, DefaultCleanupInterval)}
}

// Put registers a session under connID, refreshing its TTL.
func (r *Registry[T]) Put(connID string, session T) {
	r.store.Set(connID, session, cache.DefaultExpiration)
}

// Get looks up the session for connID, refreshing its TTL on a hit.
func (r *Registry[T]) Get(connID string) (T, bool) {
	var zero T
	val, found := r.store.Get(connID)
	if !found {
		return zero, false
	}
	session, ok := val.(T)
	if !ok {
		return zero, false
	}
	r.store.Set(connID, session, cache.DefaultExpiration)
	return session, true
}

// Remove deletes the entry for connID, e.g. on transport disconnect.
func (r *Registry[T]) Remove(connID string) {
	r.store.Delete(connID)
}

// Len reports the number of live entries, including ones not yet reaped by
// the backstop GC.
func (r *Registry[T]) Len() int {
	return r.store.ItemCount()
}
