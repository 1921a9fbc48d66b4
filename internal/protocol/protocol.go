// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package protocol defines the event channel spoken between IPA clients and
// the server.
//
// Every WebSocket text frame carries one Envelope:
//
//	{"event": "send_message", "id": "c0ffee...", "data": {"message": "hi"}}
//
// The id is a client-chosen correlation token. The server copies it onto
// every event it emits in response to that request, so clients can match
// answers to questions without relying on arrival order.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// EVENT NAMES
// =============================================================================

// Client to server.
const (
	EventSendMessage   = "send_message"
	EventGetArticles   = "get_articles"
	EventGetArticle    = "get_article"
	EventDeleteArticle = "delete_article"
	EventSaveArticle   = "save_article"
)

// Server to client.
const (
	EventConnectionEstablished = "connection_established"
	EventAIResponse            = "ai_response"
	EventArticlesList          = "articles_list"
	EventArticleSaved          = "article_saved"
	EventArticleContent        = "article_content"
	EventArticleDeleted        = "article_deleted"
	EventError                 = "error"
)

// =============================================================================
// ENVELOPE
// =============================================================================

// ErrMalformed is returned by Decode for frames that are not envelopes.
var ErrMalformed = errors.New("malformed envelope")

// Envelope is one frame on the channel.
type Envelope struct {
	Event string          `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode marshals payload into an envelope frame. A nil payload produces an
// envelope without data.
func Encode(event, id string, payload any) ([]byte, error) {
	env := Envelope{Event: event, ID: id}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", event, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// Decode parses a frame into an envelope.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("%w: missing event name", ErrMalformed)
	}
	return env, nil
}

// Bind decodes the envelope data into v. Missing data leaves v untouched.
func (e Envelope) Bind(v any) error {
	if len(e.Data) == 0 || string(e.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: %s data: %v", ErrMalformed, e.Event, err)
	}
	return nil
}

// =============================================================================
// CLIENT PAYLOADS
// =============================================================================

// ImageFile is an inline image; Data is base64 encoded.
type ImageFile struct {
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
}

// SendMessage is the send_message payload.
type SendMessage struct {
	Message   string     `json:"message"`
	ImageFile *ImageFile `json:"imageFile,omitempty"`
}

// ArticleRef names one article (get_article, delete_article).
type ArticleRef struct {
	Filename string `json:"filename"`
}

// SaveArticle is the save_article payload.
type SaveArticle struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

// =============================================================================
// SERVER PAYLOADS
// =============================================================================

// ConnectionEstablished is the handshake sent once a session is ready.
type ConnectionEstablished struct {
	Message   string    `json:"message"`
	SessionID string    `json:"sessionId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AIResponse carries one model reply.
type AIResponse struct {
	ID           string    `json:"id"`
	Text         string    `json:"text"`
	Sender       string    `json:"sender"`
	Timestamp    time.Time `json:"timestamp"`
	Action       string    `json:"action,omitempty"`
	Filename     string    `json:"filename,omitempty"`
	Content      string    `json:"content,omitempty"`
	URL          string    `json:"url,omitempty"`
	Location     string    `json:"location,omitempty"`
	PlotData     any       `json:"plotData,omitempty"`
	SchematicSVG string    `json:"schematicSvg,omitempty"`
}

// SenderBot is the AIResponse.Sender value.
const SenderBot = "bot"

// ArticlesList lists stored article names.
type ArticlesList struct {
	Articles  []string  `json:"articles"`
	Timestamp time.Time `json:"timestamp"`
}

// ArticleSaved confirms a write.
type ArticleSaved struct {
	Filename  string    `json:"filename"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ArticleContent carries one article body.
type ArticleContent struct {
	Filename  string    `json:"filename"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ArticleDeleted reports the outcome of a delete.
type ArticleDeleted struct {
	Filename  string    `json:"filename"`
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Error is a client-visible failure.
type Error struct {
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// FOLLOW-UP RULE
// =============================================================================

// Actions that trigger a document side effect after the reply.
const (
	actionCreateArticle = "CREATE_ARTICLE"
	actionUpdateArticle = "UPDATE_ARTICLE"
	actionDeleteArticle = "DELETE_ARTICLE"
	actionListArticles  = "LIST_ARTICLES"
)

// ExpectsFollowUp reports whether the server sends a document event
// (article_saved, article_deleted, articles_list or error) after r for the
// same request.
func ExpectsFollowUp(r AIResponse) bool {
	switch r.Action {
	case actionCreateArticle, actionUpdateArticle:
		return r.Filename != "" && r.Content != ""
	case actionDeleteArticle:
		return r.Filename != ""
	case actionListArticles:
		return true
	}
	return false
}
