// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"errors"
	"fmt"
)

// =============================================================================
// ERRORS
// =============================================================================

// Error kinds reported by DocumentStore. Match them with errors.Is.
var (
	// ErrNotFound means no document exists under the normalized name.
	ErrNotFound = errors.New("article not found")

	// ErrInvalidName means the name is empty or cannot be stored safely.
	ErrInvalidName = errors.New("invalid article name")

	// ErrWrite covers any failure persisting a document.
	ErrWrite = errors.New("failed to save article")

	// ErrRead covers any failure reading or listing documents.
	ErrRead = errors.New("failed to read article")
)

// DocumentError describes a failed store operation.
type DocumentError struct {
	Op   string // "put", "get", "delete", "list", "stats"
	Name string // normalized name, empty for list/stats
	Kind error  // one of the Err* kinds above
	Err  error  // underlying cause, may be nil
}

// Error implements the error interface.
func (e *DocumentError) Error() string {
	msg := e.Kind.Error()
	if e.Name != "" {
		msg = fmt.Sprintf("%s %q", msg, e.Name)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return e.Op + ": " + msg
}

// Is reports whether target is the error kind.
func (e *DocumentError) Is(target error) bool {
	return target == e.Kind
}

// Unwrap returns the underlying cause.
func (e *DocumentError) Unwrap() error {
	return e.Err
}

func opError(op, name string, kind, err error) error {
	return &DocumentError{Op: op, Name: name, Kind: kind, Err: err}
}
