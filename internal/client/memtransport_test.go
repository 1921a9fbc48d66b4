// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/ipa/internal/protocol"
)

// =============================================================================
// IN-MEMORY TRANSPORT
// =============================================================================

var errPipeClosed = errors.New("pipe closed")

// pipeConn is the client end of an in-memory connection.
type pipeConn struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newPipeConn() *pipeConn {
	return &pipeConn{
		in:     make(chan []byte, 64),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (p *pipeConn) ReadMessage() ([]byte, error) {
	// Queued frames are delivered before the close is observed.
	select {
	case f := <-p.in:
		return f, nil
	default:
	}
	select {
	case f := <-p.in:
		return f, nil
	case <-p.closed:
		return nil, io.EOF
	}
}

func (p *pipeConn) WriteMessage(frame []byte) error {
	select {
	case <-p.closed:
		return errPipeClosed
	default:
	}
	select {
	case p.out <- frame:
		return nil
	case <-p.closed:
		return errPipeClosed
	}
}

func (p *pipeConn) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

// peer is the server end seen by a test.
type peer struct {
	t    *testing.T
	conn *pipeConn
}

func (p *peer) send(event, id string, payload any) {
	p.t.Helper()
	frame, err := protocol.Encode(event, id, payload)
	require.NoError(p.t, err)
	select {
	case p.conn.in <- frame:
	case <-time.After(time.Second):
		p.t.Fatal("peer send blocked")
	}
}

func (p *peer) greet() {
	p.send(protocol.EventConnectionEstablished, "", protocol.ConnectionEstablished{
		Message:   "Connected to IPA Server",
		SessionID: "sess-1",
		Timestamp: time.Now(),
	})
}

func (p *peer) recv() protocol.Envelope {
	p.t.Helper()
	select {
	case frame := <-p.conn.out:
		env, err := protocol.Decode(frame)
		require.NoError(p.t, err)
		return env
	case <-time.After(2 * time.Second):
		p.t.Fatal("no frame from client")
		return protocol.Envelope{}
	}
}

func (p *peer) assertSilent(d time.Duration) {
	p.t.Helper()
	select {
	case frame := <-p.conn.out:
		p.t.Fatalf("unexpected frame %s", frame)
	case <-time.After(d):
	}
}

func (p *peer) drop() {
	p.conn.Close()
}

func (p *peer) isClosed() bool {
	select {
	case <-p.conn.closed:
		return true
	default:
		return false
	}
}

// memTransport hands out pipes. Each Dial produces a peer on peers.
type memTransport struct {
	t *testing.T

	mu      sync.Mutex
	fail    int
	failErr error
	block   chan struct{}
	dials   int
	noGreet bool
	onGreet func(*peer)

	peers chan *peer
}

func newMemTransport(t *testing.T) *memTransport {
	return &memTransport{t: t, peers: make(chan *peer, 16), failErr: errors.New("connection refused")}
}

// failNext makes the next n dials fail.
func (m *memTransport) failNext(n int) {
	m.mu.Lock()
	m.fail = n
	m.mu.Unlock()
}

// blockDials holds every later dial until the returned func is called.
func (m *memTransport) blockDials() func() {
	ch := make(chan struct{})
	m.mu.Lock()
	m.block = ch
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		m.block = nil
		m.mu.Unlock()
		close(ch)
	}
}

func (m *memTransport) dialCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dials
}

func (m *memTransport) Dial(ctx context.Context, addr string) (Conn, error) {
	m.mu.Lock()
	m.dials++
	block := m.block
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	if m.fail > 0 {
		m.fail--
		err := m.failErr
		m.mu.Unlock()
		return nil, err
	}
	greet, custom := !m.noGreet, m.onGreet
	m.mu.Unlock()

	p := &peer{t: m.t, conn: newPipeConn()}
	switch {
	case custom != nil:
		custom(p)
	case greet:
		p.greet()
	}
	m.peers <- p
	return p.conn, nil
}

func (m *memTransport) nextPeer() *peer {
	m.t.Helper()
	select {
	case p := <-m.peers:
		return p
	case <-time.After(2 * time.Second):
		m.t.Fatal("no dial")
		return nil
	}
}
