// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import (
	"math"
	"time"

	"github.com/jeranaias/ipa/internal/config"
)

// =============================================================================
// RECONNECT POLICY
// =============================================================================

// ReconnectPolicy bounds automatic reconnection after a dropped transport.
type ReconnectPolicy struct {
	// MaxAttempts is the number of attempts before giving up. Zero or less
	// disables reconnection.
	MaxAttempts int

	// BaseDelay is the wait before the first attempt.
	BaseDelay time.Duration

	// MaxDelay caps the wait between attempts. Zero means no cap.
	MaxDelay time.Duration

	// Multiplier grows the delay per attempt. Values below 1 mean 1.
	Multiplier float64
}

// DefaultReconnectPolicy returns 5 attempts starting at 3s, doubling up
// to 30s.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		MaxAttempts: 5,
		BaseDelay:   3 * time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2,
	}
}

// PolicyFromConfig builds a policy from the client configuration.
func PolicyFromConfig(cfg *config.Config) ReconnectPolicy {
	p := DefaultReconnectPolicy()
	p.MaxAttempts = cfg.Client.ReconnectAttempts
	p.BaseDelay = cfg.ReconnectDelay()
	p.MaxDelay = cfg.MaxReconnectDelay()
	return p
}

// Delay returns the wait before attempt (1-based) and false once the
// attempts are exhausted.
func (p ReconnectPolicy) Delay(attempt int) (time.Duration, bool) {
	if attempt < 1 || attempt > p.MaxAttempts {
		return 0, false
	}

	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	delay := float64(p.BaseDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay, true
	}
	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64), true
	}
	return time.Duration(delay), true
}
