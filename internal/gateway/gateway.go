// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrMissingCredential means the backend needs an API key that was not
	// configured.
	ErrMissingCredential = errors.New("model API key not configured")

	// ErrTimeout means the model did not answer within the deadline.
	ErrTimeout = errors.New("model request timed out")

	// ErrUnavailable covers transport and backend failures.
	ErrUnavailable = errors.New("model unavailable")

	// ErrUnknownProvider is returned by New for an unrecognized provider.
	ErrUnknownProvider = errors.New("unknown model provider")

	// ErrModelNotFound means the backend does not serve the configured model.
	ErrModelNotFound = errors.New("model not found")
)

// =============================================================================
// TYPES
// =============================================================================

// Attachment is an inline binary file sent with a turn, usually an image.
type Attachment struct {
	Data     []byte
	MimeType string
}

// Turn is one user request.
type Turn struct {
	Text       string
	Attachment *Attachment
}

// Chat is an opaque per-session conversation handle. Send is not required
// to be safe for concurrent use; callers send at most one turn at a time.
type Chat interface {
	// Send delivers the next turn and returns the raw reply text.
	Send(ctx context.Context, turn Turn) (string, error)
}

// Gateway creates chats.
type Gateway interface {
	// NewChat allocates a fresh conversation.
	NewChat(ctx context.Context) (Chat, error)

	// Name identifies the backend and model, for logs and health output.
	Name() string
}

// Prober is implemented by gateways that can check their backend before
// the first session opens. The server logs a failed probe and keeps
// serving articles.
type Prober interface {
	Probe(ctx context.Context) error
}

// =============================================================================
// FACTORY
// =============================================================================

// Provider names accepted by New.
const (
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
)

// Options selects and configures a backend.
type Options struct {
	Provider  string
	APIKey    string
	Model     string
	OllamaURL string
	Timeout   time.Duration
}

// New builds the gateway named by opts.Provider.
func New(ctx context.Context, opts Options) (Gateway, error) {
	switch opts.Provider {
	case ProviderGemini, "":
		return NewGemini(ctx, opts.APIKey, opts.Model)
	case ProviderOllama:
		return NewOllama(opts.OllamaURL, opts.Model, opts.Timeout), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, opts.Provider)
	}
}

// classify maps a backend error onto the package sentinels.
func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnavailable) || errors.Is(err, ErrMissingCredential) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
