// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session coordinates one model conversation per client connection.
//
// A Coordinator turns each accepted user turn into an ordered sequence of
// events: exactly one ai_response (or one error), then at most one document
// event produced by the reply's side effect. Every Session follows
//
//	IDLE -> PROCESSING -> DISPATCHING -> IDLE
//	PROCESSING -> IDLE            (model failure, error event)
//	any -> TERMINATED             (Close, terminal)
//
// # Key Types
//
//   - Coordinator: runs turns and direct document operations
//   - Session: per-connection state, chat handle and event sink
//   - Registry: connection id to Session map owned by the server
//   - Emitter: where a session's events go (the socket writer)
//
// # Invariants
//
// At most one turn is in flight per session; a second SubmitTurn while one
// is pending fails with ErrSessionBusy and is never queued. The pending flag
// is always released when the turn ends, whichever way it ends. Nothing is
// emitted to a session after it is closed, and a reply arriving after close
// is dropped together with its side effect.
package session
