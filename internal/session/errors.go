// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import "errors"

var (
	// ErrSessionBusy rejects a turn submitted while another is in flight.
	ErrSessionBusy = errors.New("a request is already in progress")

	// ErrSessionTerminated rejects work on a closed session.
	ErrSessionTerminated = errors.New("session terminated")

	// ErrSessionUnusable rejects turns on a session whose chat could not be
	// created. The wrapped chain includes the *SessionInitError.
	ErrSessionUnusable = errors.New("chat session unavailable")
)

// SessionInitError records why a session's model chat could not be created.
type SessionInitError struct {
	Err error
}

// Error implements the error interface.
func (e *SessionInitError) Error() string {
	return "failed to create chat session: " + e.Err.Error()
}

// Unwrap returns the gateway error.
func (e *SessionInitError) Unwrap() error {
	return e.Err
}
