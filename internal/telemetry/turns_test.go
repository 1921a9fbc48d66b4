// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/jeranaias/ipa/internal/session"
)

// fakeClock advances by step on every call.
type fakeClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.t
	c.t = c.t.Add(c.step)
	return now
}

func TestTurnTracker_Outcomes(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0), step: 100 * time.Millisecond}
	tracker := newTurnTracker(clock.Now)

	// Replied
	tracker.Observe("a", session.StateIdle, session.StateProcessing)
	tracker.Observe("a", session.StateProcessing, session.StateDispatching)
	tracker.Observe("a", session.StateDispatching, session.StateIdle)

	// Failed
	tracker.Observe("b", session.StateIdle, session.StateProcessing)
	tracker.Observe("b", session.StateProcessing, session.StateIdle)

	// Abandoned
	tracker.Observe("c", session.StateIdle, session.StateProcessing)
	tracker.Observe("c", session.StateProcessing, session.StateTerminated)

	// Still running
	tracker.Observe("d", session.StateIdle, session.StateProcessing)

	tracker.RecordRejected()

	got := tracker.Snapshot()
	want := TurnStats{
		Accepted:     4,
		Replied:      1,
		Failed:       1,
		Abandoned:    1,
		Rejected:     1,
		InFlight:     1,
		AvgLatencyMs: 100,
		MaxLatencyMs: 100,
	}
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(TurnStats{}, "Since")); diff != "" {
		t.Errorf("Snapshot() mismatch (-want +got):\n%s", diff)
	}
}

func TestTurnTracker_IgnoresUnrelatedTransitions(t *testing.T) {
	tracker := NewTurnTracker()
	tracker.Observe("a", session.StateIdle, session.StateTerminated)
	tracker.Observe("a", session.StateDispatching, session.StateIdle)

	got := tracker.Snapshot()
	if got.Accepted != 0 || got.Abandoned != 0 || got.InFlight != 0 {
		t.Errorf("unexpected stats: %+v", got)
	}
}

func TestTurnTracker_Concurrent(t *testing.T) {
	tracker := NewTurnTracker()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			sid := string(rune('a' + id%26))
			tracker.Observe(sid, session.StateIdle, session.StateProcessing)
			tracker.Observe(sid, session.StateProcessing, session.StateIdle)
			_ = tracker.Snapshot()
		}(i)
	}
	wg.Wait()

	if got := tracker.Snapshot().Accepted; got != 50 {
		t.Errorf("Accepted = %d, want 50", got)
	}
}
