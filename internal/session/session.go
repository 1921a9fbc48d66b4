// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"sync"
	"time"

	"github.com/jeranaias/ipa/internal/gateway"
)

// Emitter delivers one event to the session's client. Implementations must
// not block for long; the socket writer queues frames.
type Emitter interface {
	Emit(event, id string, payload any) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(event, id string, payload any) error

// Emit implements Emitter.
func (f EmitterFunc) Emit(event, id string, payload any) error {
	return f(event, id, payload)
}

// =============================================================================
// SESSION
// =============================================================================

// Session is the server-side state of one client connection.
type Session struct {
	// ID is the connection identifier.
	ID string

	// CreatedAt is when the connection opened.
	CreatedAt time.Time

	emitter Emitter

	mu      sync.Mutex
	state   State
	pending bool
	chat    gateway.Chat
	initErr error

	// emitMu serializes emission and guards closed, so no event is
	// written after Close returns.
	emitMu sync.Mutex
	closed bool

	inflight sync.WaitGroup
}

func newSession(id string, emitter Emitter, now time.Time) *Session {
	return &Session{
		ID:        id,
		CreatedAt: now,
		emitter:   emitter,
		state:     StateIdle,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pending reports whether a turn is in flight.
func (s *Session) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// InitErr returns the *SessionInitError if the chat could not be created.
func (s *Session) InitErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initErr
}

// Wait blocks until the in-flight turn, if any, has finished.
func (s *Session) Wait() {
	s.inflight.Wait()
}

// emit sends one event unless the session is closed. It reports whether
// the event was handed to the emitter.
func (s *Session) emit(event, id string, payload any) (bool, error) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.closed {
		return false, nil
	}
	return true, s.emitter.Emit(event, id, payload)
}

func (s *Session) markClosed() {
	s.emitMu.Lock()
	s.closed = true
	s.emitMu.Unlock()
}
