// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jeranaias/ipa/internal/protocol"
)

// DefaultHandshakeTimeout bounds dial plus connection_established.
const DefaultHandshakeTimeout = 10 * time.Second

// =============================================================================
// HANDLER TYPES
// =============================================================================

// Handlers receive the correlation id of the request that caused the
// event, or "" for unsolicited events such as watcher broadcasts.
type (
	MessageHandler    func(id string, r protocol.AIResponse)
	ErrorHandler      func(id string, e protocol.Error)
	ConnectionHandler func(s State)
	DocumentsHandler  func(id string, names []string)
	SavedHandler      func(id string, s protocol.ArticleSaved)
	DeletedHandler    func(id string, d protocol.ArticleDeleted)
	ContentHandler    func(id string, c protocol.ArticleContent)
)

// Attachment is an inline file sent with a turn.
type Attachment struct {
	Data     []byte
	MimeType string
}

// Options configures a Manager.
type Options struct {
	Transport        Transport
	Policy           ReconnectPolicy
	HandshakeTimeout time.Duration
	Logger           *zap.Logger
}

// =============================================================================
// MANAGER
// =============================================================================

// Manager owns the single event channel of a client process: connection
// lifecycle, reconnection, request sending and subscriber dispatch.
//
// Handlers run in registration order on one dispatch goroutine. A handler
// may call any Manager method except Close.
type Manager struct {
	transport        Transport
	policy           ReconnectPolicy
	handshakeTimeout time.Duration
	logger           *zap.Logger
	view             *View

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     State
	addr      string
	conn      Conn
	handshake chan error
	closed    bool

	subsMu       sync.RWMutex
	onMessage    []MessageHandler
	onError      []ErrorHandler
	onConnection []ConnectionHandler
	onDocuments  []DocumentsHandler
	onSaved      []SavedHandler
	onDeleted    []DeletedHandler
	onContent    []ContentHandler

	queueMu      sync.Mutex
	queue        []func()
	wake         chan struct{}
	stop         chan struct{}
	dispatchDone chan struct{}

	wg sync.WaitGroup
}

// NewManager creates a disconnected manager and starts its dispatcher.
// Call Close to release it.
func NewManager(opts Options) *Manager {
	if opts.Transport == nil {
		opts.Transport = NewWebsocketTransport()
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		transport:        opts.Transport,
		policy:           opts.Policy,
		handshakeTimeout: opts.HandshakeTimeout,
		logger:           opts.Logger,
		view:             NewView(),
		ctx:              ctx,
		cancel:           cancel,
		wake:             make(chan struct{}, 1),
		stop:             make(chan struct{}),
		dispatchDone:     make(chan struct{}),
	}
	go m.dispatch()
	return m
}

// State returns the connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// View returns the live view model.
func (m *Manager) View() *View {
	return m.view
}

// Snapshot copies the view model.
func (m *Manager) Snapshot() ViewSnapshot {
	return m.view.Snapshot()
}

// =============================================================================
// SUBSCRIPTIONS
// =============================================================================

func (m *Manager) OnMessage(h MessageHandler) {
	m.subsMu.Lock()
	m.onMessage = append(m.onMessage, h)
	m.subsMu.Unlock()
}

func (m *Manager) OnError(h ErrorHandler) {
	m.subsMu.Lock()
	m.onError = append(m.onError, h)
	m.subsMu.Unlock()
}

func (m *Manager) OnConnectionChange(h ConnectionHandler) {
	m.subsMu.Lock()
	m.onConnection = append(m.onConnection, h)
	m.subsMu.Unlock()
}

func (m *Manager) OnDocumentsList(h DocumentsHandler) {
	m.subsMu.Lock()
	m.onDocuments = append(m.onDocuments, h)
	m.subsMu.Unlock()
}

func (m *Manager) OnDocumentSaved(h SavedHandler) {
	m.subsMu.Lock()
	m.onSaved = append(m.onSaved, h)
	m.subsMu.Unlock()
}

func (m *Manager) OnDocumentDeleted(h DeletedHandler) {
	m.subsMu.Lock()
	m.onDeleted = append(m.onDeleted, h)
	m.subsMu.Unlock()
}

func (m *Manager) OnDocumentContent(h ContentHandler) {
	m.subsMu.Lock()
	m.onContent = append(m.onContent, h)
	m.subsMu.Unlock()
}

// =============================================================================
// DISPATCH
// =============================================================================

// enqueue never blocks, so it is safe under m.mu.
func (m *Manager) enqueue(fn func()) {
	m.queueMu.Lock()
	m.queue = append(m.queue, fn)
	m.queueMu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) drain() {
	for {
		m.queueMu.Lock()
		batch := m.queue
		m.queue = nil
		m.queueMu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, fn := range batch {
			fn()
		}
	}
}

func (m *Manager) dispatch() {
	defer close(m.dispatchDone)
	for {
		select {
		case <-m.wake:
			m.drain()
		case <-m.stop:
			m.drain()
			return
		}
	}
}

// setStateLocked records s and notifies subscribers. Caller holds m.mu.
func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.logger.Debug("CONNECTION_STATE", zap.Stringer("from", m.state), zap.Stringer("to", s))
	m.state = s
	m.view.setState(s)

	m.subsMu.RLock()
	handlers := append([]ConnectionHandler(nil), m.onConnection...)
	m.subsMu.RUnlock()
	m.enqueue(func() {
		for _, h := range handlers {
			h(s)
		}
	})
}

// =============================================================================
// CONNECTION LIFECYCLE
// =============================================================================

// Connect dials addr and waits for the server's session handshake. A
// *HandshakeError means the transport is up and document requests work but
// turns are refused. Connect does not retry; reconnection only follows a
// drop of an established connection.
func (m *Manager) Connect(ctx context.Context, addr string) error {
	m.mu.Lock()
	switch {
	case m.closed:
		m.mu.Unlock()
		return ErrClosed
	case m.state == StateConnecting || m.state == StateConnected || m.state == StateReconnecting:
		m.mu.Unlock()
		return ErrAlreadyConnected
	}
	m.addr = addr
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	err := m.establish(ctx, addr)
	var hsErr *HandshakeError
	if err == nil || errors.As(err, &hsErr) {
		return err
	}

	m.view.setError(err.Error())
	m.mu.Lock()
	if !m.closed {
		m.setStateLocked(StateDisconnected)
	}
	m.mu.Unlock()
	return err
}

// establish dials, starts the read loop and waits for the handshake. On
// success or *HandshakeError the state is CONNECTED.
func (m *Manager) establish(ctx context.Context, addr string) error {
	hsCtx, cancel := context.WithTimeout(ctx, m.handshakeTimeout)
	defer cancel()

	conn, err := m.transport.Dial(hsCtx, addr)
	if err != nil {
		return &TransportError{Op: "dial", Err: err}
	}

	hs := make(chan error, 1)
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	m.conn = conn
	m.handshake = hs
	m.wg.Add(1)
	m.mu.Unlock()

	go m.readLoop(conn)

	select {
	case err := <-hs:
		return err
	case <-hsCtx.Done():
	}

	m.mu.Lock()
	if m.handshake != hs {
		// Resolved while the deadline fired.
		m.mu.Unlock()
		return <-hs
	}
	m.handshake = nil
	m.conn = nil
	m.mu.Unlock()
	conn.Close()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return ErrHandshakeTimeout
}

// resolveHandshake settles a pending handshake on conn.
func (m *Manager) resolveHandshake(conn Conn, sessionID string, err error) {
	m.mu.Lock()
	if m.conn != conn || m.handshake == nil {
		m.mu.Unlock()
		return
	}
	hs := m.handshake
	m.handshake = nil
	addr := m.addr
	m.view.handshake(err == nil, sessionID)
	m.setStateLocked(StateConnected)
	m.mu.Unlock()

	if err == nil {
		m.logger.Info("CLIENT_CONNECTED", zap.String("addr", addr), zap.String("session", sessionID))
	} else {
		m.logger.Warn("CLIENT_SESSION_UNAVAILABLE", zap.String("addr", addr), zap.Error(err))
	}
	hs <- err
}

func (m *Manager) readLoop(conn Conn) {
	defer m.wg.Done()
	for {
		frame, err := conn.ReadMessage()
		if err != nil {
			m.handleDrop(conn, err)
			return
		}
		env, err := protocol.Decode(frame)
		if err != nil {
			m.logger.Warn("CLIENT_BAD_FRAME", zap.Error(err))
			continue
		}
		m.handleEnvelope(conn, env)
	}
}

// handleDrop reacts to a dead transport. An established connection moves
// to RECONNECTING; a connection still in its handshake fails that
// handshake instead.
func (m *Manager) handleDrop(conn Conn, cause error) {
	conn.Close()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != conn {
		return
	}
	m.conn = nil
	if m.closed {
		return
	}
	if hs := m.handshake; hs != nil {
		m.handshake = nil
		hs <- &TransportError{Op: "handshake", Err: cause}
		return
	}

	m.logger.Warn("CLIENT_DISCONNECTED", zap.String("addr", m.addr), zap.Error(cause))
	m.view.setError((&TransportError{Op: "read", Err: cause}).Error())
	if m.policy.MaxAttempts <= 0 {
		m.setStateLocked(StateFailed)
		return
	}
	m.setStateLocked(StateReconnecting)
	m.wg.Add(1)
	go m.reconnect(m.addr)
}

func (m *Manager) reconnect(addr string) {
	defer m.wg.Done()

	for attempt := 1; ; attempt++ {
		delay, ok := m.policy.Delay(attempt)
		if !ok {
			m.logger.Error("RECONNECT_FAILED", zap.String("addr", addr), zap.Int("attempts", attempt-1))
			m.mu.Lock()
			if !m.closed {
				m.setStateLocked(StateFailed)
			}
			m.mu.Unlock()
			return
		}

		timer := time.NewTimer(delay)
		select {
		case <-m.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		m.logger.Info("RECONNECT_ATTEMPT", zap.String("addr", addr), zap.Int("attempt", attempt), zap.Duration("delay", delay))
		err := m.establish(m.ctx, addr)
		var hsErr *HandshakeError
		if err == nil || errors.As(err, &hsErr) {
			return
		}
		if m.ctx.Err() != nil {
			return
		}
		m.view.setError(err.Error())
		m.logger.Warn("RECONNECT_ATTEMPT_FAILED", zap.Int("attempt", attempt), zap.Error(err))
	}
}

// Close disconnects deliberately: no reconnection follows. It waits for
// the read and reconnect goroutines and drains pending handler calls.
// Close must not be called from a handler.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	conn := m.conn
	m.conn = nil
	hs := m.handshake
	m.handshake = nil
	m.cancel()
	m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	if hs != nil {
		hs <- ErrClosed
	}
	if conn != nil {
		conn.Close()
	}
	m.wg.Wait()

	close(m.stop)
	<-m.dispatchDone
	m.logger.Debug("CLIENT_CLOSED")
	return nil
}

// =============================================================================
// INBOUND EVENTS
// =============================================================================

// handleEnvelope queues each event's view change together with its
// handlers, so a handler sees the view as of its own event and never a
// later one. Connection state and the handshake apply immediately.
func (m *Manager) handleEnvelope(conn Conn, env protocol.Envelope) {
	id := env.ID
	switch env.Event {
	case protocol.EventConnectionEstablished:
		var ce protocol.ConnectionEstablished
		if err := env.Bind(&ce); err != nil {
			m.logger.Warn("CLIENT_BAD_PAYLOAD", zap.String("event", env.Event), zap.Error(err))
		}
		m.resolveHandshake(conn, ce.SessionID, nil)

	case protocol.EventAIResponse:
		var r protocol.AIResponse
		if !m.bind(env, &r) {
			return
		}
		m.subsMu.RLock()
		handlers := append([]MessageHandler(nil), m.onMessage...)
		m.subsMu.RUnlock()
		m.enqueue(func() {
			m.view.aiResponse(id, r)
			for _, h := range handlers {
				h(id, r)
			}
		})

	case protocol.EventError:
		var e protocol.Error
		if !m.bind(env, &e) {
			return
		}
		m.resolveHandshake(conn, "", &HandshakeError{Message: e.Message, Details: e.Details})
		m.subsMu.RLock()
		handlers := append([]ErrorHandler(nil), m.onError...)
		m.subsMu.RUnlock()
		m.enqueue(func() {
			m.view.errorEvent(id, e)
			for _, h := range handlers {
				h(id, e)
			}
		})

	case protocol.EventArticlesList:
		var l protocol.ArticlesList
		if !m.bind(env, &l) {
			return
		}
		m.subsMu.RLock()
		handlers := append([]DocumentsHandler(nil), m.onDocuments...)
		m.subsMu.RUnlock()
		m.enqueue(func() {
			m.view.documents(id, l.Articles)
			for _, h := range handlers {
				h(id, l.Articles)
			}
		})

	case protocol.EventArticleSaved:
		var s protocol.ArticleSaved
		if !m.bind(env, &s) {
			return
		}
		m.subsMu.RLock()
		handlers := append([]SavedHandler(nil), m.onSaved...)
		m.subsMu.RUnlock()
		m.enqueue(func() {
			m.view.documentSaved(id, s.Filename)
			for _, h := range handlers {
				h(id, s)
			}
		})

	case protocol.EventArticleDeleted:
		var d protocol.ArticleDeleted
		if !m.bind(env, &d) {
			return
		}
		m.subsMu.RLock()
		handlers := append([]DeletedHandler(nil), m.onDeleted...)
		m.subsMu.RUnlock()
		m.enqueue(func() {
			m.view.documentDeleted(id, d)
			for _, h := range handlers {
				h(id, d)
			}
		})

	case protocol.EventArticleContent:
		var c protocol.ArticleContent
		if !m.bind(env, &c) {
			return
		}
		m.subsMu.RLock()
		handlers := append([]ContentHandler(nil), m.onContent...)
		m.subsMu.RUnlock()
		m.enqueue(func() {
			m.view.documentContent(c.Filename)
			for _, h := range handlers {
				h(id, c)
			}
		})

	default:
		m.logger.Debug("CLIENT_UNKNOWN_EVENT", zap.String("event", env.Event))
	}
}

func (m *Manager) bind(env protocol.Envelope, v any) bool {
	if err := env.Bind(v); err != nil {
		m.logger.Warn("CLIENT_BAD_PAYLOAD", zap.String("event", env.Event), zap.Error(err))
		return false
	}
	return true
}

// =============================================================================
// OUTBOUND REQUESTS
// =============================================================================

// liveConn returns the connection when requests may be sent.
func (m *Manager) liveConn() (Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if m.state != StateConnected || m.conn == nil {
		return nil, ErrNotConnected
	}
	return m.conn, nil
}

func (m *Manager) write(conn Conn, event, id string, payload any) error {
	frame, err := protocol.Encode(event, id, payload)
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(frame); err != nil {
		// The read loop observes the close and starts reconnection.
		conn.Close()
		return &TransportError{Op: "write", Err: err}
	}
	return nil
}

// SendTurn sends one user turn and returns its correlation id. Nothing is
// buffered: outside CONNECTED it fails with ErrNotConnected, and while a
// turn is pending with ErrTurnPending.
func (m *Manager) SendTurn(text string, attachment *Attachment) (string, error) {
	conn, err := m.liveConn()
	if err != nil {
		return "", err
	}
	if !m.view.SessionReady() {
		return "", ErrSessionUnavailable
	}

	id := uuid.NewString()
	if !m.view.beginTurn(id, text) {
		return "", ErrTurnPending
	}

	msg := protocol.SendMessage{Message: text}
	if attachment != nil {
		msg.ImageFile = &protocol.ImageFile{
			Data:     base64.StdEncoding.EncodeToString(attachment.Data),
			MimeType: attachment.MimeType,
		}
	}
	if err := m.write(conn, protocol.EventSendMessage, id, msg); err != nil {
		m.view.abortTurn(id)
		return "", err
	}
	m.logger.Debug("TURN_SENT", zap.String("request", id), zap.Bool("attachment", attachment != nil))
	return id, nil
}

func (m *Manager) request(event string, payload any) (string, error) {
	conn, err := m.liveConn()
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	if err := m.write(conn, event, id, payload); err != nil {
		return "", err
	}
	return id, nil
}

// RequestDocuments asks for articles_list.
func (m *Manager) RequestDocuments() (string, error) {
	return m.request(protocol.EventGetArticles, nil)
}

// RequestDocument asks for article_content of name.
func (m *Manager) RequestDocument(name string) (string, error) {
	return m.request(protocol.EventGetArticle, protocol.ArticleRef{Filename: name})
}

// DeleteDocument asks the server to delete name.
func (m *Manager) DeleteDocument(name string) (string, error) {
	return m.request(protocol.EventDeleteArticle, protocol.ArticleRef{Filename: name})
}

// SaveDocument asks the server to write name.
func (m *Manager) SaveDocument(name, content string) (string, error) {
	return m.request(protocol.EventSaveArticle, protocol.SaveArticle{Filename: name, Content: content})
}
