// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// =============================================================================
// GEMINI GATEWAY
// =============================================================================

// Gemini creates chats against the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
	config *genai.GenerateContentConfig
}

// NewGemini builds a Gemini gateway. An empty apiKey is not an error here:
// the gateway is returned and every NewChat fails with ErrMissingCredential,
// so the server can still serve documents without a model.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if model == "" {
		model = DefaultGeminiModel
	}
	g := &Gemini{
		model: model,
		config: &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(SystemInstruction, genai.RoleUser),
			ResponseMIMEType:  "application/json",
			ResponseSchema:    toGenaiSchema(replySchema()),
		},
	}
	if apiKey == "" {
		return g, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	g.client = client
	return g, nil
}

// Name implements Gateway.
func (g *Gemini) Name() string {
	return ProviderGemini + "/" + g.model
}

// Configured reports whether an API key was supplied.
func (g *Gemini) Configured() bool {
	return g.client != nil
}

// Probe implements Prober.
func (g *Gemini) Probe(ctx context.Context) error {
	if !g.Configured() {
		return ErrMissingCredential
	}
	return nil
}

// NewChat implements Gateway.
func (g *Gemini) NewChat(ctx context.Context) (Chat, error) {
	if g.client == nil {
		return nil, ErrMissingCredential
	}
	chat, err := g.client.Chats.Create(ctx, g.model, g.config, nil)
	if err != nil {
		return nil, classify(ctx, err)
	}
	return &geminiChat{chat: chat}, nil
}

type geminiChat struct {
	chat *genai.Chat
}

// Send implements Chat.
func (c *geminiChat) Send(ctx context.Context, turn Turn) (string, error) {
	parts := make([]genai.Part, 0, 2)
	if turn.Text != "" {
		parts = append(parts, *genai.NewPartFromText(turn.Text))
	}
	if turn.Attachment != nil && len(turn.Attachment.Data) > 0 {
		parts = append(parts, *genai.NewPartFromBytes(turn.Attachment.Data, turn.Attachment.MimeType))
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("%w: empty turn", ErrUnavailable)
	}

	resp, err := c.chat.SendMessage(ctx, parts...)
	if err != nil {
		return "", classify(ctx, err)
	}
	return resp.Text(), nil
}

// =============================================================================
// SCHEMA CONVERSION
// =============================================================================

func toGenaiSchema(s *jsonSchema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        genaiType(s.Type),
		Description: s.Description,
		Enum:        s.Enum,
		Required:    s.Required,
		Items:       toGenaiSchema(s.Items),
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = toGenaiSchema(prop)
		}
	}
	return out
}

func genaiType(t string) genai.Type {
	switch t {
	case "object":
		return genai.TypeObject
	case "array":
		return genai.TypeArray
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	default:
		return genai.TypeString
	}
}
