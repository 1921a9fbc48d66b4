// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jeranaias/ipa/internal/gateway"
	"github.com/jeranaias/ipa/internal/protocol"
	"github.com/jeranaias/ipa/internal/reply"
	"github.com/jeranaias/ipa/internal/util"
)

// DocumentStore is the subset of storage.DocumentStore the coordinator uses.
type DocumentStore interface {
	Put(name, content string) (string, error)
	Get(name string) (string, error)
	Delete(name string) error
	List() ([]string, error)
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds coordinator timeouts.
type Config struct {
	// ModelTimeout bounds one model call (default: 25s).
	ModelTimeout time.Duration

	// InitTimeout bounds chat creation on connect (default: 10s).
	InitTimeout time.Duration
}

// DefaultConfig returns the default coordinator configuration.
func DefaultConfig() Config {
	return Config{
		ModelTimeout: 25 * time.Second,
		InitTimeout:  10 * time.Second,
	}
}

// TransitionHook observes every state change.
type TransitionHook func(sessionID string, from, to State)

// Client-visible messages.
const (
	msgConnected        = "Connected to IPA Server"
	msgInitFailed       = "Failed to create chat session"
	msgProcessFailed    = "Failed to process message"
	msgSaved            = "Article saved successfully"
	msgSaveFailed       = "Failed to save article"
	msgDeleted          = "Article deleted successfully"
	msgDeleteFailed     = "Failed to delete article"
	msgNotFound         = "Article not found"
	msgGetFailed        = "Failed to get article"
	msgListFailed       = "Failed to list articles"
	msgBusy             = "A request is already in progress"
	msgSessionUnusable  = "Chat session not available"
	msgSessionNotActive = "Chat session not found"
)

// =============================================================================
// COORDINATOR
// =============================================================================

// Coordinator runs turns against the model gateway and applies reply side
// effects to the document store. It is safe for concurrent use across
// sessions.
type Coordinator struct {
	gateway gateway.Gateway
	store   DocumentStore
	logger  *zap.Logger
	config  Config

	onTransition TransitionHook
	now          func() time.Time
}

// NewCoordinator creates a coordinator. Zero config fields take defaults.
func NewCoordinator(gw gateway.Gateway, store DocumentStore, logger *zap.Logger, cfg Config) *Coordinator {
	defaults := DefaultConfig()
	if cfg.ModelTimeout <= 0 {
		cfg.ModelTimeout = defaults.ModelTimeout
	}
	if cfg.InitTimeout <= 0 {
		cfg.InitTimeout = defaults.InitTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		gateway: gw,
		store:   store,
		logger:  logger,
		config:  cfg,
		now:     time.Now,
	}
}

// WithTransitionHook installs a hook called after every state change.
// The hook runs outside session locks.
func (c *Coordinator) WithTransitionHook(hook TransitionHook) *Coordinator {
	c.onTransition = hook
	return c
}

// Gateway returns the model gateway.
func (c *Coordinator) Gateway() gateway.Gateway {
	return c.gateway
}

func (c *Coordinator) notify(id string, from, to State) {
	if c.onTransition != nil && from != to {
		c.onTransition(id, from, to)
	}
}

// transition moves s to the given state unless it is terminated.
func (c *Coordinator) transition(s *Session, to State) bool {
	s.mu.Lock()
	from := s.state
	if from == StateTerminated {
		s.mu.Unlock()
		return false
	}
	s.state = to
	s.mu.Unlock()
	c.notify(s.ID, from, to)
	return true
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Open creates the session for a new connection and emits its handshake:
// connection_established on success, or an error event when the model chat
// cannot be created. In the latter case the session stays open for
// document operations and rejects turns with ErrSessionUnusable.
func (c *Coordinator) Open(ctx context.Context, id string, emitter Emitter) *Session {
	s := newSession(id, emitter, c.now())

	initCtx, cancel := context.WithTimeout(ctx, c.config.InitTimeout)
	chat, err := c.gateway.NewChat(initCtx)
	cancel()

	if err != nil {
		s.initErr = &SessionInitError{Err: err}
		c.logger.Error("SESSION_INIT_FAILED", zap.String("session", id), zap.Error(err))
		c.emit(s, protocol.EventError, "", protocol.Error{Message: msgInitFailed, Details: err.Error()})
		return s
	}

	s.chat = chat
	c.logger.Info("SESSION_OPEN", zap.String("session", id), zap.String("model", c.gateway.Name()))
	c.emit(s, protocol.EventConnectionEstablished, "", protocol.ConnectionEstablished{
		Message:   msgConnected,
		SessionID: id,
		Timestamp: c.now(),
	})
	return s
}

// Close terminates s. It is idempotent. After Close returns nothing more is
// emitted to the session; an in-flight model call is left to finish and its
// result is discarded.
func (c *Coordinator) Close(s *Session) {
	s.mu.Lock()
	from := s.state
	if from == StateTerminated {
		s.mu.Unlock()
		return
	}
	s.state = StateTerminated
	inflight := s.pending
	s.chat = nil
	s.mu.Unlock()

	s.markClosed()
	c.notify(s.ID, from, StateTerminated)
	c.logger.Info("SESSION_CLOSE",
		zap.String("session", s.ID),
		zap.Bool("inflight", inflight),
		zap.Duration("age", c.now().Sub(s.CreatedAt)),
	)
}

// =============================================================================
// TURNS
// =============================================================================

// SubmitTurn admits a turn for s. Admission is synchronous: the session
// must be open, usable and idle. On success the turn runs in the
// background and the returned channel is closed once every event of the
// turn has been emitted and the session is idle again.
func (c *Coordinator) SubmitTurn(ctx context.Context, s *Session, turn gateway.Turn, id string) (<-chan struct{}, error) {
	s.mu.Lock()
	switch {
	case s.state == StateTerminated:
		s.mu.Unlock()
		return nil, ErrSessionTerminated
	case s.initErr != nil:
		err := s.initErr
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", ErrSessionUnusable, err)
	case s.pending:
		s.mu.Unlock()
		c.logger.Warn("TURN_REJECTED_BUSY", zap.String("session", s.ID), zap.String("request", id))
		return nil, ErrSessionBusy
	}
	s.pending = true
	from := s.state
	s.state = StateProcessing
	chat := s.chat
	s.inflight.Add(1)
	s.mu.Unlock()

	c.notify(s.ID, from, StateProcessing)
	c.logger.Info("TURN_ACCEPTED",
		zap.String("session", s.ID),
		zap.String("request", id),
		zap.Int("length", len(turn.Text)),
		zap.Bool("attachment", turn.Attachment != nil),
		zap.String("preview", util.TruncateRunes(turn.Text, 60)),
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer s.inflight.Done()
		defer c.release(s)
		c.process(ctx, s, chat, turn, id)
	}()
	return done, nil
}

// RejectionMessage maps a SubmitTurn admission error to the client message.
func RejectionMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSessionBusy):
		return msgBusy
	case errors.Is(err, ErrSessionUnusable):
		return msgSessionUnusable
	default:
		return msgSessionNotActive
	}
}

// release clears pending and returns s to IDLE unless it was terminated.
func (c *Coordinator) release(s *Session) {
	s.mu.Lock()
	s.pending = false
	from := s.state
	if from != StateTerminated {
		s.state = StateIdle
	}
	to := s.state
	s.mu.Unlock()
	c.notify(s.ID, from, to)
}

func (c *Coordinator) process(ctx context.Context, s *Session, chat gateway.Chat, turn gateway.Turn, id string) {
	// The model call outlives the connection; Close discards its result.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.ModelTimeout)
	defer cancel()

	start := c.now()
	raw, err := chat.Send(callCtx, turn)
	elapsed := c.now().Sub(start)

	if s.State() == StateTerminated {
		c.logger.Info("LATE_REPLY_DISCARDED", zap.String("session", s.ID), zap.String("request", id), zap.Duration("elapsed", elapsed))
		return
	}

	if err != nil {
		c.logger.Warn("MODEL_ERROR", zap.String("session", s.ID), zap.String("request", id), zap.Duration("elapsed", elapsed), zap.Error(err))
		if strings.TrimSpace(raw) == "" {
			c.emit(s, protocol.EventError, id, protocol.Error{Message: msgProcessFailed, Details: err.Error()})
			return
		}
	}

	r, err := reply.Interpret(raw)
	if err != nil {
		c.logger.Warn("MODEL_EMPTY_REPLY", zap.String("session", s.ID), zap.String("request", id))
		c.emit(s, protocol.EventError, id, protocol.Error{Message: msgProcessFailed, Details: err.Error()})
		return
	}
	if r.Degraded {
		c.logger.Warn("MODEL_REPLY_DEGRADED", zap.String("session", s.ID), zap.String("request", id), zap.String("raw", util.TruncateRunes(raw, 120)))
	}

	if !c.transition(s, StateDispatching) {
		return
	}
	c.logger.Info("MODEL_REPLY",
		zap.String("session", s.ID),
		zap.String("request", id),
		zap.String("kind", string(r.Kind)),
		zap.Duration("elapsed", elapsed),
	)

	c.emit(s, protocol.EventAIResponse, id, c.aiResponse(r))
	c.dispatch(s, id, r)
}

func (c *Coordinator) aiResponse(r reply.StructuredReply) protocol.AIResponse {
	resp := protocol.AIResponse{
		ID:           uuid.NewString(),
		Text:         r.Text,
		Sender:       protocol.SenderBot,
		Timestamp:    c.now(),
		Action:       r.Action,
		Filename:     r.DocName,
		Content:      r.DocContent,
		URL:          r.URL,
		Location:     r.Location,
		SchematicSVG: r.Schematic,
	}
	if r.Plot != nil {
		resp.PlotData = r.Plot
	}
	return resp
}

// dispatch performs the single side effect a reply implies.
func (c *Coordinator) dispatch(s *Session, id string, r reply.StructuredReply) {
	if s.State() == StateTerminated {
		return
	}
	switch r.Kind {
	case reply.KindCreateDoc, reply.KindUpdateDoc:
		if !r.HasDocument() {
			c.logger.Debug("DOCUMENT_MUTATION_INCOMPLETE", zap.String("session", s.ID), zap.String("request", id))
			return
		}
		c.saveDocument(s, id, r.DocName, r.DocContent)
	case reply.KindDeleteDoc:
		if r.DocName == "" {
			return
		}
		c.deleteDocument(s, id, r.DocName)
	case reply.KindListDocs:
		c.listDocuments(s, id)
	}
}

func (c *Coordinator) emit(s *Session, event, id string, payload any) {
	sent, err := s.emit(event, id, payload)
	if err != nil {
		c.logger.Warn("EMIT_FAILED", zap.String("session", s.ID), zap.String("event", event), zap.Error(err))
		return
	}
	if !sent {
		c.logger.Debug("EMIT_DROPPED_CLOSED", zap.String("session", s.ID), zap.String("event", event))
	}
}
