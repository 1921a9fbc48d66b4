// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jeranaias/ipa/internal/gateway"
	"github.com/jeranaias/ipa/internal/protocol"
	"github.com/jeranaias/ipa/internal/session"
)

// ============================================================================
// SOCKET CONSTANTS
// ============================================================================

const (
	// writeWait bounds one frame write.
	writeWait = 10 * time.Second

	// pongWait is how long the reader waits for any frame, pongs included.
	pongWait = 60 * time.Second

	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBuffer is the per-socket outbound queue length.
	sendBuffer = 64
)

var (
	errSocketClosed   = errors.New("socket closed")
	errSendBufferFull = errors.New("socket send buffer full")
)

// Client-visible socket errors.
const (
	msgInvalidFormat    = "Invalid message format"
	msgMessageRequired  = "Message is required"
	msgFilenameRequired = "Filename is required"
	msgContentRequired  = "Filename and content are required"
	msgInvalidImage     = "Invalid image data"
	msgUnknownEvent     = "Unknown event"
	msgRateLimited      = "Too many requests"
)

// ============================================================================
// SOCKET CONNECTION
// ============================================================================

// socketConn owns one upgraded connection: a reader on the handler
// goroutine and a writer draining send. It implements session.Emitter.
type socketConn struct {
	id      string
	conn    *websocket.Conn
	logger  *zap.Logger
	limiter *rate.Limiter

	send       chan []byte
	done       chan struct{}
	writerDone chan struct{}
	closeOnce  sync.Once
}

func newSocketConn(id string, conn *websocket.Conn, logger *zap.Logger, eventsPerSecond int) *socketConn {
	limit := rate.Inf
	burst := 0
	if eventsPerSecond > 0 {
		limit = rate.Limit(eventsPerSecond)
		burst = eventsPerSecond * 2
	}
	return &socketConn{
		id:         id,
		conn:       conn,
		logger:     logger,
		limiter:    rate.NewLimiter(limit, burst),
		send:       make(chan []byte, sendBuffer),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
}

// Emit queues one event. It never blocks: a full queue closes the socket
// so no event is silently dropped from the middle of a sequence.
func (c *socketConn) Emit(event, id string, payload any) error {
	frame, err := protocol.Encode(event, id, payload)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return errSocketClosed
	default:
	}

	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return errSocketClosed
	default:
		c.logger.Warn("SOCKET_SEND_BUFFER_FULL", zap.String("conn", c.id), zap.String("event", event))
		c.close()
		return errSendBufferFull
	}
}

func (c *socketConn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// writePump drains send until the socket closes, pinging on idle.
func (c *socketConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		close(c.writerDone)
	}()

	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug("SOCKET_WRITE_FAILED", zap.String("conn", c.id), zap.Error(err))
				c.close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		}
	}
}

// readPump reads frames until the peer goes away or the socket closes.
func (c *socketConn) readPump(maxBytes int64, handle func([]byte)) {
	defer c.close()

	c.conn.SetReadLimit(maxBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("SOCKET_READ_FAILED", zap.String("conn", c.id), zap.Error(err))
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		if !c.limiter.Allow() {
			// Echo the request id so the sender can settle it; an
			// undecodable frame gets "".
			env, _ := protocol.Decode(frame)
			c.logger.Warn("SOCKET_RATE_LIMITED", zap.String("conn", c.id), zap.String("event", env.Event))
			c.Emit(protocol.EventError, env.ID, protocol.Error{Message: msgRateLimited})
			continue
		}
		handle(frame)
	}
}

// ============================================================================
// SOCKET HANDLER
// ============================================================================

// handleSocket handles GET /ws: upgrade, open a session, dispatch events
// until disconnect, then close the session.
func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("SOCKET_UPGRADE_FAILED", zap.String("ip", GetClientIP(r)), zap.Error(err))
		return
	}

	c := newSocketConn(uuid.NewString(), conn, s.logger.Named("socket"), s.cfg.SocketEventsPerSecond)
	if !s.track(c) {
		conn.Close()
		return
	}
	defer s.untrack(c)

	go c.writePump()

	s.logger.Info("CLIENT_CONNECTED", zap.String("conn", c.id), zap.String("ip", GetClientIP(r)))
	ctx := r.Context()
	sess := s.registry.Open(ctx, c.id, c)

	c.readPump(s.cfg.MaxMessageBytes, func(frame []byte) {
		s.dispatch(ctx, c, sess, frame)
	})

	s.registry.Close(c.id)
	c.close()
	<-c.writerDone
	s.logger.Info("CLIENT_DISCONNECTED", zap.String("conn", c.id))
}

func (s *Server) track(c *socketConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sockets == nil {
		return false
	}
	s.sockets[c] = struct{}{}
	s.active.Add(1)
	return true
}

func (s *Server) untrack(c *socketConn) {
	s.mu.Lock()
	delete(s.sockets, c)
	s.mu.Unlock()
	s.active.Done()
}

// dispatch routes one inbound envelope to the coordinator.
func (s *Server) dispatch(ctx context.Context, c *socketConn, sess *session.Session, frame []byte) {
	env, err := protocol.Decode(frame)
	if err != nil {
		c.Emit(protocol.EventError, "", protocol.Error{Message: msgInvalidFormat, Details: err.Error()})
		return
	}
	reject := func(message, details string) {
		c.Emit(protocol.EventError, env.ID, protocol.Error{Message: message, Details: details})
	}

	var opErr error
	switch env.Event {
	case protocol.EventSendMessage:
		var msg protocol.SendMessage
		if err := env.Bind(&msg); err != nil {
			reject(msgInvalidFormat, err.Error())
			return
		}
		turn, err := decodeTurn(msg)
		if err != nil {
			reject(msgInvalidImage, err.Error())
			return
		}
		if strings.TrimSpace(turn.Text) == "" && turn.Attachment == nil {
			reject(msgMessageRequired, "")
			return
		}
		if _, err := s.coordinator.SubmitTurn(ctx, sess, turn, env.ID); err != nil {
			s.turns.RecordRejected()
			reject(session.RejectionMessage(err), err.Error())
		}
		return

	case protocol.EventGetArticles:
		opErr = s.coordinator.ListDocuments(sess, env.ID)

	case protocol.EventGetArticle, protocol.EventDeleteArticle:
		var ref protocol.ArticleRef
		if err := env.Bind(&ref); err != nil {
			reject(msgInvalidFormat, err.Error())
			return
		}
		if strings.TrimSpace(ref.Filename) == "" {
			reject(msgFilenameRequired, "")
			return
		}
		if env.Event == protocol.EventGetArticle {
			opErr = s.coordinator.ReadDocument(sess, env.ID, ref.Filename)
		} else {
			opErr = s.coordinator.DeleteDocument(sess, env.ID, ref.Filename)
		}

	case protocol.EventSaveArticle:
		var save protocol.SaveArticle
		if err := env.Bind(&save); err != nil {
			reject(msgInvalidFormat, err.Error())
			return
		}
		if strings.TrimSpace(save.Filename) == "" || save.Content == "" {
			reject(msgContentRequired, "")
			return
		}
		opErr = s.coordinator.SaveDocument(sess, env.ID, save.Filename, save.Content)

	default:
		reject(msgUnknownEvent, env.Event)
		return
	}

	if opErr != nil {
		s.logger.Debug("SOCKET_OP_REJECTED", zap.String("conn", c.id), zap.String("event", env.Event), zap.Error(opErr))
	}
}

// decodeTurn converts the wire payload into a gateway turn. Image data is
// standard base64, optionally as a data URL.
func decodeTurn(msg protocol.SendMessage) (gateway.Turn, error) {
	turn := gateway.Turn{Text: msg.Message}
	if msg.ImageFile == nil || msg.ImageFile.Data == "" {
		return turn, nil
	}

	data := msg.ImageFile.Data
	mimeType := msg.ImageFile.MimeType
	if strings.HasPrefix(data, "data:") {
		header, body, ok := strings.Cut(data, ",")
		if !ok {
			return turn, fmt.Errorf("malformed data URL")
		}
		if mimeType == "" {
			mimeType = strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")
		}
		data = body
	}
	if mimeType == "" {
		return turn, fmt.Errorf("missing image mime type")
	}

	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return turn, fmt.Errorf("decode image: %w", err)
	}
	turn.Attachment = &gateway.Attachment{Data: raw, MimeType: mimeType}
	return turn, nil
}

// checkOrigin admits non-browser clients, same-host pages and CORS origins.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if s.cors.isOriginAllowed(origin) {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}
