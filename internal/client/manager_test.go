// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/jeranaias/ipa/internal/protocol"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		// Started by an init in the genai dependency chain of the server.
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

// =============================================================================
// TEST HELPERS
// =============================================================================

const testAddr = "http://ipa.test:3001"

func fastPolicy(attempts int) ReconnectPolicy {
	return ReconnectPolicy{MaxAttempts: attempts, BaseDelay: 5 * time.Millisecond, MaxDelay: 20 * time.Millisecond, Multiplier: 2}
}

func newTestManager(t *testing.T, tr *memTransport, policy ReconnectPolicy) *Manager {
	t.Helper()
	m := NewManager(Options{
		Transport:        tr,
		Policy:           policy,
		HandshakeTimeout: time.Second,
		Logger:           zaptest.NewLogger(t),
	})
	t.Cleanup(func() { m.Close() })
	return m
}

// stateLog collects connection changes in dispatch order.
type stateLog struct {
	mu     sync.Mutex
	states []State
	ch     chan State
}

func watchStates(m *Manager) *stateLog {
	l := &stateLog{ch: make(chan State, 32)}
	m.OnConnectionChange(func(s State) {
		l.mu.Lock()
		l.states = append(l.states, s)
		l.mu.Unlock()
		l.ch <- s
	})
	return l
}

func (l *stateLog) await(t *testing.T, want State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-l.ch:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("state %s never reached", want)
		}
	}
}

func connected(t *testing.T, tr *memTransport, policy ReconnectPolicy) (*Manager, *peer) {
	t.Helper()
	m := newTestManager(t, tr, policy)
	require.NoError(t, m.Connect(context.Background(), testAddr))
	return m, tr.nextPeer()
}

// =============================================================================
// POLICY AND STATE
// =============================================================================

func TestReconnectPolicy_Delay(t *testing.T) {
	p := DefaultReconnectPolicy()
	var got []time.Duration
	for attempt := 1; ; attempt++ {
		d, ok := p.Delay(attempt)
		if !ok {
			break
		}
		got = append(got, d)
	}
	want := []time.Duration{3 * time.Second, 6 * time.Second, 12 * time.Second, 24 * time.Second, 30 * time.Second}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("delays mismatch (-want +got):\n%s", diff)
	}
}

func TestReconnectPolicy_Edges(t *testing.T) {
	tests := []struct {
		name    string
		policy  ReconnectPolicy
		attempt int
		delay   time.Duration
		ok      bool
	}{
		{"disabled", ReconnectPolicy{}, 1, 0, false},
		{"attempt zero", DefaultReconnectPolicy(), 0, 0, false},
		{"flat multiplier", ReconnectPolicy{MaxAttempts: 3, BaseDelay: time.Second, Multiplier: 0.5}, 3, time.Second, true},
		{"uncapped", ReconnectPolicy{MaxAttempts: 4, BaseDelay: time.Second, Multiplier: 3}, 3, 9 * time.Second, true},
		{"past max", ReconnectPolicy{MaxAttempts: 2, BaseDelay: time.Second, Multiplier: 2}, 3, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok := tt.policy.Delay(tt.attempt)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.delay, d)
		})
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "CONNECTED", StateConnected.String())
	assert.Equal(t, "RECONNECTING", StateReconnecting.String())
	assert.Equal(t, "UNKNOWN", State(99).String())
}

func TestSocketURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
		err  bool
	}{
		{"http://localhost:3001", "ws://localhost:3001/ws", false},
		{"https://ipa.example.com/", "wss://ipa.example.com/ws", false},
		{"ws://10.0.0.2:3001/ws", "ws://10.0.0.2:3001/ws", false},
		{"ftp://x", "", true},
		{"http://", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := SocketURL(tt.in)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// =============================================================================
// CONNECT
// =============================================================================

func TestConnect_WaitsForHandshake(t *testing.T) {
	tr := newMemTransport(t)
	tr.noGreet = true
	m := newTestManager(t, tr, fastPolicy(0))

	result := make(chan error, 1)
	go func() { result <- m.Connect(context.Background(), testAddr) }()

	p := tr.nextPeer()
	select {
	case err := <-result:
		t.Fatalf("Connect returned before handshake: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, StateConnecting, m.State())

	p.greet()
	require.NoError(t, <-result)
	snap := m.Snapshot()
	assert.Equal(t, StateConnected, snap.State)
	assert.True(t, snap.Connected)
	assert.True(t, snap.SessionReady)
	assert.Equal(t, "sess-1", snap.SessionID)
}

func TestConnect_HandshakeErrorKeepsTransport(t *testing.T) {
	tr := newMemTransport(t)
	tr.onGreet = func(p *peer) {
		p.send(protocol.EventError, "", protocol.Error{Message: "Failed to create chat session", Details: "missing GEMINI_API_KEY"})
	}
	m := newTestManager(t, tr, fastPolicy(0))

	err := m.Connect(context.Background(), testAddr)
	var hsErr *HandshakeError
	require.True(t, errors.As(err, &hsErr))
	assert.Equal(t, "Failed to create chat session", hsErr.Message)
	assert.ErrorIs(t, err, ErrSessionUnavailable)

	assert.Equal(t, StateConnected, m.State())
	assert.False(t, m.Snapshot().SessionReady)

	_, err = m.SendTurn("hello", nil)
	assert.ErrorIs(t, err, ErrSessionUnavailable)

	p := tr.nextPeer()
	id, err := m.RequestDocuments()
	require.NoError(t, err)
	env := p.recv()
	assert.Equal(t, protocol.EventGetArticles, env.Event)
	assert.Equal(t, id, env.ID)
}

func TestConnect_HandshakeTimeout(t *testing.T) {
	tr := newMemTransport(t)
	tr.noGreet = true
	m := NewManager(Options{Transport: tr, HandshakeTimeout: 50 * time.Millisecond, Logger: zaptest.NewLogger(t)})
	defer m.Close()

	err := m.Connect(context.Background(), testAddr)
	assert.ErrorIs(t, err, ErrHandshakeTimeout)
	assert.Equal(t, StateDisconnected, m.State())
	assert.True(t, tr.nextPeer().isClosed())
}

func TestConnect_DialFailure(t *testing.T) {
	tr := newMemTransport(t)
	tr.failNext(1)
	m := newTestManager(t, tr, fastPolicy(3))

	err := m.Connect(context.Background(), testAddr)
	var tErr *TransportError
	require.True(t, errors.As(err, &tErr))
	assert.Equal(t, "dial", tErr.Op)
	assert.Equal(t, StateDisconnected, m.State())
	assert.NotEmpty(t, m.Snapshot().LastError)

	// Initial failures are not retried automatically.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, tr.dialCount())
}

func TestConnect_Twice(t *testing.T) {
	tr := newMemTransport(t)
	m, _ := connected(t, tr, fastPolicy(0))
	assert.ErrorIs(t, m.Connect(context.Background(), testAddr), ErrAlreadyConnected)
}

// =============================================================================
// TURNS
// =============================================================================

func TestSendTurn_NotConnected(t *testing.T) {
	m := newTestManager(t, newMemTransport(t), fastPolicy(0))
	_, err := m.SendTurn("hi", nil)
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = m.RequestDocuments()
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSendTurn_PendingUntilReply(t *testing.T) {
	tr := newMemTransport(t)
	m, p := connected(t, tr, fastPolicy(0))

	replies := make(chan string, 1)
	m.OnMessage(func(id string, r protocol.AIResponse) { replies <- id + ":" + r.Text })

	id, err := m.SendTurn("what is arc welding?", nil)
	require.NoError(t, err)
	assert.True(t, m.Snapshot().Pending)

	env := p.recv()
	assert.Equal(t, protocol.EventSendMessage, env.Event)
	assert.Equal(t, id, env.ID)
	var msg protocol.SendMessage
	require.NoError(t, env.Bind(&msg))
	assert.Equal(t, "what is arc welding?", msg.Message)
	assert.Nil(t, msg.ImageFile)

	_, err = m.SendTurn("again", nil)
	assert.ErrorIs(t, err, ErrTurnPending)

	p.send(protocol.EventAIResponse, id, protocol.AIResponse{ID: "r", Text: "A fusion process.", Sender: "bot"})
	select {
	case got := <-replies:
		assert.Equal(t, id+":A fusion process.", got)
	case <-time.After(2 * time.Second):
		t.Fatal("no reply dispatched")
	}

	snap := m.Snapshot()
	assert.False(t, snap.Pending)
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, RoleUser, snap.Messages[0].Role)
	assert.Equal(t, RoleBot, snap.Messages[1].Role)
	assert.Equal(t, id, snap.Messages[1].RequestID)
}

func TestSendTurn_FollowUpOrdering(t *testing.T) {
	tr := newMemTransport(t)
	m, p := connected(t, tr, fastPolicy(0))

	var mu sync.Mutex
	var order []string
	var pendingAtReply bool
	done := make(chan struct{})
	m.OnMessage(func(id string, r protocol.AIResponse) {
		mu.Lock()
		order = append(order, "ai_response")
		pendingAtReply = m.View().Pending()
		mu.Unlock()
	})
	m.OnDocumentSaved(func(id string, s protocol.ArticleSaved) {
		mu.Lock()
		order = append(order, "article_saved:"+s.Filename)
		mu.Unlock()
		close(done)
	})

	id, err := m.SendTurn("create an article called weld_safety.md about arc welding ppe", nil)
	require.NoError(t, err)
	p.recv()

	p.send(protocol.EventAIResponse, id, protocol.AIResponse{
		Text: "Saved.", Action: "CREATE_ARTICLE", Filename: "weld_safety.md", Content: "# Weld Safety",
	})
	p.send(protocol.EventArticleSaved, id, protocol.ArticleSaved{Filename: "weld_safety.md", Message: "Article saved successfully"})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("article_saved not dispatched")
	}
	mu.Lock()
	assert.Equal(t, []string{"ai_response", "article_saved:weld_safety.md"}, order)
	assert.True(t, pendingAtReply, "turn must stay pending until its follow-up")
	mu.Unlock()

	snap := m.Snapshot()
	assert.False(t, snap.Pending)
	assert.Equal(t, []string{"weld_safety.md"}, snap.KnownDocuments)
}

func TestSendTurn_ErrorClearsPending(t *testing.T) {
	tr := newMemTransport(t)
	m, p := connected(t, tr, fastPolicy(0))

	errs := make(chan protocol.Error, 1)
	m.OnError(func(id string, e protocol.Error) { errs <- e })

	id, err := m.SendTurn("hi", nil)
	require.NoError(t, err)
	p.recv()

	// An unrelated error does not settle the turn.
	p.send(protocol.EventError, "other", protocol.Error{Message: "Article not found"})
	<-errs
	assert.True(t, m.View().Pending())

	p.send(protocol.EventError, id, protocol.Error{Message: "Failed to process message", Details: "timed out"})
	<-errs
	snap := m.Snapshot()
	assert.False(t, snap.Pending)
	assert.Equal(t, "Failed to process message", snap.LastError)
}

func TestSendTurn_Attachment(t *testing.T) {
	tr := newMemTransport(t)
	m, p := connected(t, tr, fastPolicy(0))

	_, err := m.SendTurn("what is this?", &Attachment{Data: []byte("png-bytes"), MimeType: "image/png"})
	require.NoError(t, err)

	var msg protocol.SendMessage
	require.NoError(t, p.recv().Bind(&msg))
	require.NotNil(t, msg.ImageFile)
	assert.Equal(t, "image/png", msg.ImageFile.MimeType)
	raw, err := base64.StdEncoding.DecodeString(msg.ImageFile.Data)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), raw)
}

func TestSendTurn_WriteFailureReleasesTurn(t *testing.T) {
	tr := newMemTransport(t)
	m, p := connected(t, tr, fastPolicy(0))

	p.drop()
	// The read loop may not have noticed yet; either outcome releases the turn.
	_, err := m.SendTurn("hi", nil)
	require.Error(t, err)
	assert.False(t, m.View().Pending())
}

// =============================================================================
// SUBSCRIPTIONS AND DOCUMENTS
// =============================================================================

func TestSubscribers_RegistrationOrder(t *testing.T) {
	tr := newMemTransport(t)
	m, p := connected(t, tr, fastPolicy(0))

	var mu sync.Mutex
	var calls []string
	done := make(chan struct{})
	for _, name := range []string{"first", "second", "third"} {
		name := name
		m.OnDocumentsList(func(id string, names []string) {
			mu.Lock()
			calls = append(calls, name)
			n := len(calls)
			mu.Unlock()
			if n == 3 {
				close(done)
			}
		})
	}

	p.send(protocol.EventArticlesList, "", protocol.ArticlesList{Articles: []string{"a.md"}})
	<-done
	assert.Equal(t, []string{"first", "second", "third"}, calls)
}

func TestDocumentRequests_CarryCorrelationIDs(t *testing.T) {
	tr := newMemTransport(t)
	m, p := connected(t, tr, fastPolicy(0))

	type sent struct{ event, id string }
	var want []sent

	id, err := m.RequestDocuments()
	require.NoError(t, err)
	want = append(want, sent{protocol.EventGetArticles, id})
	id, err = m.RequestDocument("notes.md")
	require.NoError(t, err)
	want = append(want, sent{protocol.EventGetArticle, id})
	id, err = m.DeleteDocument("old")
	require.NoError(t, err)
	want = append(want, sent{protocol.EventDeleteArticle, id})
	id, err = m.SaveDocument("new", "# New")
	require.NoError(t, err)
	want = append(want, sent{protocol.EventSaveArticle, id})

	seen := map[string]bool{}
	for _, w := range want {
		env := p.recv()
		assert.Equal(t, w.event, env.Event)
		assert.Equal(t, w.id, env.ID)
		assert.False(t, seen[env.ID], "ids must be unique")
		seen[env.ID] = true
	}
}

func TestView_KnownDocumentsFollowEvents(t *testing.T) {
	tr := newMemTransport(t)
	m, p := connected(t, tr, fastPolicy(0))

	done := make(chan struct{})
	m.OnDocumentContent(func(id string, c protocol.ArticleContent) { close(done) })

	p.send(protocol.EventArticlesList, "", protocol.ArticlesList{Articles: []string{"a.md", "b.md"}})
	p.send(protocol.EventArticleDeleted, "", protocol.ArticleDeleted{Filename: "a.md", Success: true})
	p.send(protocol.EventArticleDeleted, "", protocol.ArticleDeleted{Filename: "b.md", Success: false})
	p.send(protocol.EventArticleSaved, "", protocol.ArticleSaved{Filename: "c.md"})
	p.send(protocol.EventArticleContent, "", protocol.ArticleContent{Filename: "d.md", Content: "x"})
	<-done

	assert.Equal(t, []string{"b.md", "c.md", "d.md"}, m.Snapshot().KnownDocuments)
}

func TestManager_IgnoresGarbageFrames(t *testing.T) {
	tr := newMemTransport(t)
	m, p := connected(t, tr, fastPolicy(0))

	done := make(chan struct{})
	m.OnDocumentsList(func(string, []string) { close(done) })

	p.conn.in <- []byte("not json")
	p.conn.in <- []byte(`{"event":"ai_response","data":"oops"}`)
	p.send("future_event", "", nil)
	p.send(protocol.EventArticlesList, "", protocol.ArticlesList{})
	<-done
	assert.Equal(t, StateConnected, m.State())
}

// =============================================================================
// RECONNECTION
// =============================================================================

func TestReconnect_RejectedSendsAreNotRetried(t *testing.T) {
	tr := newMemTransport(t)
	m := newTestManager(t, tr, fastPolicy(3))
	states := watchStates(m)
	require.NoError(t, m.Connect(context.Background(), testAddr))
	first := tr.nextPeer()
	states.await(t, StateConnected)

	_, err := m.SendTurn("in flight", nil)
	require.NoError(t, err)
	first.recv()
	require.True(t, m.View().Pending())

	release := tr.blockDials()
	first.drop()
	states.await(t, StateReconnecting)

	snap := m.Snapshot()
	assert.False(t, snap.Pending, "a drop clears the pending turn")
	assert.False(t, snap.Connected)

	_, err = m.SendTurn("during the gap", nil)
	assert.ErrorIs(t, err, ErrNotConnected)

	release()
	second := tr.nextPeer()
	states.await(t, StateConnected)
	assert.True(t, m.Snapshot().SessionReady)

	second.assertSilent(50 * time.Millisecond)
}

func TestReconnect_ExhaustedFails(t *testing.T) {
	tr := newMemTransport(t)
	m := newTestManager(t, tr, fastPolicy(2))
	states := watchStates(m)
	require.NoError(t, m.Connect(context.Background(), testAddr))
	p := tr.nextPeer()

	tr.failNext(10)
	p.drop()
	states.await(t, StateFailed)
	assert.Equal(t, 3, tr.dialCount())

	// FAILED is terminal until a manual Connect.
	tr.failNext(0)
	require.NoError(t, m.Connect(context.Background(), testAddr))
	assert.Equal(t, StateConnected, m.State())
}

func TestReconnect_DisabledGoesStraightToFailed(t *testing.T) {
	tr := newMemTransport(t)
	m := newTestManager(t, tr, fastPolicy(0))
	states := watchStates(m)
	require.NoError(t, m.Connect(context.Background(), testAddr))

	tr.nextPeer().drop()
	states.await(t, StateFailed)
	assert.Equal(t, 1, tr.dialCount())
}

func TestClose_NoReconnect(t *testing.T) {
	tr := newMemTransport(t)
	m := NewManager(Options{Transport: tr, Policy: fastPolicy(5), Logger: zaptest.NewLogger(t)})
	states := watchStates(m)
	require.NoError(t, m.Connect(context.Background(), testAddr))
	p := tr.nextPeer()

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.True(t, p.isClosed())
	assert.Equal(t, StateDisconnected, m.State())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, tr.dialCount())

	states.mu.Lock()
	assert.Equal(t, []State{StateConnecting, StateConnected, StateDisconnected}, states.states)
	states.mu.Unlock()

	_, err := m.SendTurn("hi", nil)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, m.Connect(context.Background(), testAddr), ErrClosed)
}

func TestClose_DuringReconnectWait(t *testing.T) {
	tr := newMemTransport(t)
	m := NewManager(Options{
		Transport: tr,
		Policy:    ReconnectPolicy{MaxAttempts: 3, BaseDelay: time.Hour},
		Logger:    zaptest.NewLogger(t),
	})
	states := watchStates(m)
	require.NoError(t, m.Connect(context.Background(), testAddr))

	tr.nextPeer().drop()
	states.await(t, StateReconnecting)

	closed := make(chan struct{})
	go func() {
		m.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on the reconnect loop")
	}
	assert.Equal(t, StateDisconnected, m.State())
}
