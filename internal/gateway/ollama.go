// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/ipa/internal/ollama"
)

// =============================================================================
// OLLAMA GATEWAY
// =============================================================================

// Ollama creates chats against a local Ollama server.
type Ollama struct {
	client *ollama.Client
}

// NewOllama builds an Ollama gateway. Empty arguments fall back to the
// ollama package defaults.
func NewOllama(baseURL, model string, timeout time.Duration) *Ollama {
	return &Ollama{
		client: ollama.NewClientWithConfig(&ollama.ClientConfig{
			BaseURL:      baseURL,
			DefaultModel: model,
			Timeout:      timeout,
		}),
	}
}

// Name implements Gateway.
func (o *Ollama) Name() string {
	return ProviderOllama + "/" + o.client.Model()
}

// Probe implements Prober. It checks that the server is reachable and has
// pulled the configured model. A bare name matches its ":latest" tag.
func (o *Ollama) Probe(ctx context.Context) error {
	models, err := o.client.ListModels(ctx)
	if err != nil {
		return classifyOllama(ctx, err)
	}
	want := o.client.Model()
	for _, m := range models {
		if m.Name == want || strings.TrimSuffix(m.Name, ":latest") == want {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrModelNotFound, want)
}

// NewChat implements Gateway. It fails when the server is not reachable.
func (o *Ollama) NewChat(ctx context.Context) (Chat, error) {
	if err := o.client.CheckRunning(ctx); err != nil {
		return nil, classifyOllama(ctx, err)
	}
	return &ollamaChat{
		client:  o.client,
		schema:  replySchemaJSON(),
		history: []ollama.Message{ollama.NewSystemMessage(SystemInstruction)},
	}, nil
}

// ollamaChat keeps the conversation client side since Ollama is stateless.
type ollamaChat struct {
	client *ollama.Client
	schema any

	mu      sync.Mutex
	history []ollama.Message
}

// Send implements Chat.
func (c *ollamaChat) Send(ctx context.Context, turn Turn) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var images []string
	if turn.Attachment != nil && len(turn.Attachment.Data) > 0 {
		images = append(images, base64.StdEncoding.EncodeToString(turn.Attachment.Data))
	}
	user := ollama.NewUserMessage(turn.Text, images...)

	messages := make([]ollama.Message, 0, len(c.history)+1)
	messages = append(messages, c.history...)
	messages = append(messages, user)

	resp, err := c.client.Chat(ctx, ollama.ChatRequest{
		Messages: messages,
		Format:   c.schema,
	})
	if err != nil {
		return "", classifyOllama(ctx, err)
	}

	// Images are dropped from history to keep later requests small
	user.Images = nil
	c.history = append(c.history, user, ollama.NewAssistantMessage(resp.Message.Content))
	return resp.Message.Content, nil
}

func classifyOllama(ctx context.Context, err error) error {
	if errors.Is(err, ollama.ErrTimeout) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return classify(ctx, fmt.Errorf("ollama: %w", err))
}
