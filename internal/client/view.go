// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import (
	"sort"
	"sync"
	"time"

	"github.com/jeranaias/ipa/internal/protocol"
)

// =============================================================================
// VIEW MODEL
// =============================================================================

// Role identifies who produced a Message.
type Role string

const (
	RoleUser  Role = "user"
	RoleBot   Role = "bot"
	RoleError Role = "error"
)

// Message is one entry of the conversation log.
type Message struct {
	// RequestID is the correlation id of the turn it belongs to.
	RequestID string
	Role      Role
	Text      string
	Timestamp time.Time

	// Reply is set for bot messages.
	Reply *protocol.AIResponse
}

// ViewSnapshot is a point-in-time copy of a View.
type ViewSnapshot struct {
	Connected      bool
	State          State
	LastError      string
	Messages       []Message
	KnownDocuments []string
	Pending        bool
	SessionReady   bool
	SessionID      string
}

// View is the client-side model of the connection. It changes only by
// applying events, including the local "turn sent" event. Messages are
// kept in receive order.
type View struct {
	mu sync.RWMutex

	state        State
	lastError    string
	messages     []Message
	known        map[string]struct{}
	sessionReady bool
	sessionID    string

	// The pending turn clears on its last event: the ai_response, or the
	// follow-up document event when the reply implies one.
	pendingID     string
	awaitFollowUp bool
	now           func() time.Time
}

// NewView returns an empty, disconnected view.
func NewView() *View {
	return &View{
		known: make(map[string]struct{}),
		now:   time.Now,
	}
}

// Snapshot copies the current view.
func (v *View) Snapshot() ViewSnapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()

	docs := make([]string, 0, len(v.known))
	for name := range v.known {
		docs = append(docs, name)
	}
	sort.Strings(docs)

	return ViewSnapshot{
		Connected:      v.state == StateConnected,
		State:          v.state,
		LastError:      v.lastError,
		Messages:       append([]Message(nil), v.messages...),
		KnownDocuments: docs,
		Pending:        v.pendingID != "",
		SessionReady:   v.sessionReady,
		SessionID:      v.sessionID,
	}
}

// Pending reports whether input should be disabled.
func (v *View) Pending() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.pendingID != ""
}

// SessionReady reports whether the server acknowledged a usable session.
func (v *View) SessionReady() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.sessionReady
}

// State returns the connection state.
func (v *View) State() State {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state
}

// =============================================================================
// EVENT APPLICATION
// =============================================================================

func (v *View) clearPendingLocked() {
	v.pendingID = ""
	v.awaitFollowUp = false
}

// setState applies a connection change. Leaving CONNECTED drops the
// pending turn and the session.
func (v *View) setState(s State) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state = s
	if s != StateConnected {
		v.clearPendingLocked()
		v.sessionReady = false
		v.sessionID = ""
	}
}

func (v *View) setError(msg string) {
	v.mu.Lock()
	v.lastError = msg
	v.mu.Unlock()
}

func (v *View) handshake(ready bool, sessionID string) {
	v.mu.Lock()
	v.sessionReady = ready
	v.sessionID = sessionID
	if ready {
		v.lastError = ""
	}
	v.mu.Unlock()
}

// beginTurn records the local "turn sent" event. It fails when a turn is
// already pending; check and set are one step.
func (v *View) beginTurn(id, text string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.pendingID != "" {
		return false
	}
	v.pendingID = id
	v.awaitFollowUp = false
	v.messages = append(v.messages, Message{RequestID: id, Role: RoleUser, Text: text, Timestamp: v.now()})
	return true
}

// abortTurn undoes beginTurn after a failed write.
func (v *View) abortTurn(id string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.pendingID == id {
		v.clearPendingLocked()
	}
}

func (v *View) aiResponse(id string, r protocol.AIResponse) {
	v.mu.Lock()
	defer v.mu.Unlock()
	reply := r
	v.messages = append(v.messages, Message{RequestID: id, Role: RoleBot, Text: r.Text, Timestamp: v.now(), Reply: &reply})
	if id == "" || id != v.pendingID {
		return
	}
	if protocol.ExpectsFollowUp(r) {
		v.awaitFollowUp = true
		return
	}
	v.clearPendingLocked()
}

// followUpLocked settles a pending turn waiting on its document event.
func (v *View) followUpLocked(id string) {
	if id != "" && id == v.pendingID && v.awaitFollowUp {
		v.clearPendingLocked()
	}
}

func (v *View) errorEvent(id string, e protocol.Error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	text := e.Message
	if e.Details != "" {
		text += ": " + e.Details
	}
	v.messages = append(v.messages, Message{RequestID: id, Role: RoleError, Text: text, Timestamp: v.now()})
	v.lastError = e.Message
	if id != "" && id == v.pendingID {
		v.clearPendingLocked()
	}
}

func (v *View) documents(id string, names []string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.known = make(map[string]struct{}, len(names))
	for _, n := range names {
		v.known[n] = struct{}{}
	}
	v.followUpLocked(id)
}

func (v *View) documentSaved(id, name string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if name != "" {
		v.known[name] = struct{}{}
	}
	v.followUpLocked(id)
}

func (v *View) documentDeleted(id string, d protocol.ArticleDeleted) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if d.Success {
		delete(v.known, d.Filename)
	}
	v.followUpLocked(id)
}

func (v *View) documentContent(name string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if name != "" {
		v.known[name] = struct{}{}
	}
}
