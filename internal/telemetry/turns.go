// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"sync"
	"time"

	"github.com/jeranaias/ipa/internal/session"
)

// =============================================================================
// TURN TRACKER
// =============================================================================

// TurnTracker aggregates turn outcomes across all sessions.
type TurnTracker struct {
	mu       sync.Mutex
	started  time.Time
	inflight map[string]time.Time
	stats    TurnStats
	total    time.Duration
	timed    int

	now func() time.Time
}

// TurnStats is a point-in-time summary.
type TurnStats struct {
	// Accepted counts turns admitted to PROCESSING.
	Accepted int `json:"accepted"`

	// Replied counts turns that reached DISPATCHING.
	Replied int `json:"replied"`

	// Failed counts turns that returned to IDLE without a reply.
	Failed int `json:"failed"`

	// Abandoned counts turns whose session closed while processing.
	Abandoned int `json:"abandoned"`

	// Rejected counts turns refused at admission.
	Rejected int `json:"rejected"`

	InFlight     int   `json:"inFlight"`
	AvgLatencyMs int64 `json:"avgLatencyMs"`
	MaxLatencyMs int64 `json:"maxLatencyMs"`

	Since time.Time `json:"since"`
}

// NewTurnTracker creates an empty tracker.
func NewTurnTracker() *TurnTracker {
	return newTurnTracker(time.Now)
}

func newTurnTracker(now func() time.Time) *TurnTracker {
	return &TurnTracker{
		started:  now(),
		inflight: make(map[string]time.Time),
		now:      now,
	}
}

// Observe records one state transition. Its signature matches
// session.TransitionHook.
func (t *TurnTracker) Observe(sessionID string, from, to session.State) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if to == session.StateProcessing {
		t.stats.Accepted++
		t.inflight[sessionID] = t.now()
		return
	}
	if from != session.StateProcessing {
		return
	}

	start, ok := t.inflight[sessionID]
	delete(t.inflight, sessionID)

	switch to {
	case session.StateDispatching:
		t.stats.Replied++
		if ok {
			t.recordLatency(t.now().Sub(start))
		}
	case session.StateIdle:
		t.stats.Failed++
		if ok {
			t.recordLatency(t.now().Sub(start))
		}
	case session.StateTerminated:
		t.stats.Abandoned++
	}
}

func (t *TurnTracker) recordLatency(d time.Duration) {
	t.total += d
	t.timed++
	if ms := d.Milliseconds(); ms > t.stats.MaxLatencyMs {
		t.stats.MaxLatencyMs = ms
	}
}

// RecordRejected counts a turn refused at admission.
func (t *TurnTracker) RecordRejected() {
	t.mu.Lock()
	t.stats.Rejected++
	t.mu.Unlock()
}

// Snapshot returns the current totals.
func (t *TurnTracker) Snapshot() TurnStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.stats
	s.InFlight = len(t.inflight)
	s.Since = t.started
	if t.timed > 0 {
		s.AvgLatencyMs = (t.total / time.Duration(t.timed)).Milliseconds()
	}
	return s
}
