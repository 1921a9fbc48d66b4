// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"sync"
)

// Registry maps connection ids to sessions. The server owns one registry;
// its lifecycle is bound to socket connect and disconnect.
type Registry struct {
	coordinator *Coordinator

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry backed by coordinator.
func NewRegistry(coordinator *Coordinator) *Registry {
	return &Registry{
		coordinator: coordinator,
		sessions:    make(map[string]*Session),
	}
}

// Coordinator returns the coordinator sessions are opened with.
func (r *Registry) Coordinator() *Coordinator {
	return r.coordinator
}

// Open creates and registers the session for id. An existing session with
// the same id is closed first.
func (r *Registry) Open(ctx context.Context, id string, emitter Emitter) *Session {
	s := r.coordinator.Open(ctx, id, emitter)

	r.mu.Lock()
	old := r.sessions[id]
	r.sessions[id] = s
	r.mu.Unlock()

	if old != nil {
		r.coordinator.Close(old)
	}
	return s
}

// Lookup returns the session for id.
func (r *Registry) Lookup(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Close terminates and removes the session for id. It reports whether a
// session was registered.
func (r *Registry) Close(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if ok {
		r.coordinator.Close(s)
	}
	return ok
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Each calls fn for a snapshot of the open sessions, outside the lock.
func (r *Registry) Each(fn func(*Session)) {
	r.mu.RLock()
	snapshot := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		snapshot = append(snapshot, s)
	}
	r.mu.RUnlock()

	for _, s := range snapshot {
		fn(s)
	}
}

// CloseAll terminates every session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range all {
		r.coordinator.Close(s)
	}
}
