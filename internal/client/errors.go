// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import (
	"errors"
	"fmt"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// Sentinel errors returned by Manager operations.
var (
	// ErrNotConnected is returned when a request is made outside CONNECTED.
	ErrNotConnected = errors.New("not connected to server")

	// ErrSessionUnavailable is returned when the transport is up but the
	// server could not create a chat session.
	ErrSessionUnavailable = errors.New("chat session not available")

	// ErrTurnPending is returned while a turn is awaiting its reply.
	ErrTurnPending = errors.New("a request is already in progress")

	// ErrAlreadyConnected is returned by Connect on a live manager.
	ErrAlreadyConnected = errors.New("already connected")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("connection manager closed")

	// ErrHandshakeTimeout is returned when connection_established does not
	// arrive in time.
	ErrHandshakeTimeout = errors.New("handshake timed out")
)

// HandshakeError reports a server that answered the connection with an
// error event instead of connection_established. The transport stays up.
type HandshakeError struct {
	Message string
	Details string
}

func (e *HandshakeError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("handshake failed: %s: %s", e.Message, e.Details)
	}
	return "handshake failed: " + e.Message
}

// Is makes errors.Is(err, ErrSessionUnavailable) true for handshake
// failures.
func (e *HandshakeError) Is(target error) bool {
	return target == ErrSessionUnavailable
}

// TransportError is a connection-level failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
