// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package gatewaytest provides a scripted gateway.Gateway for tests.
package gatewaytest

import (
	"context"
	"errors"
	"sync"

	"github.com/jeranaias/ipa/internal/gateway"
)

// ErrScriptExhausted is returned by Send when no step is left.
var ErrScriptExhausted = errors.New("gatewaytest: no scripted reply left")

// Step is one scripted model answer.
type Step struct {
	Reply string
	Err   error

	// Gate, when set, blocks Send until it is closed or the context ends.
	Gate <-chan struct{}
}

// Scripted replays Steps in order across all chats it creates.
type Scripted struct {
	mu      sync.Mutex
	steps   []Step
	chatErr error
	chats   int
	turns   []gateway.Turn

	// Calls receives every turn as Send starts. Buffered; sends never block.
	Calls chan gateway.Turn
}

// New returns a gateway that answers with steps in order.
func New(steps ...Step) *Scripted {
	return &Scripted{
		steps: steps,
		Calls: make(chan gateway.Turn, 64),
	}
}

// Replies is shorthand for New with reply-only steps.
func Replies(replies ...string) *Scripted {
	steps := make([]Step, len(replies))
	for i, r := range replies {
		steps[i] = Step{Reply: r}
	}
	return New(steps...)
}

// Push appends steps.
func (s *Scripted) Push(steps ...Step) {
	s.mu.Lock()
	s.steps = append(s.steps, steps...)
	s.mu.Unlock()
}

// FailNewChat makes every later NewChat return err.
func (s *Scripted) FailNewChat(err error) {
	s.mu.Lock()
	s.chatErr = err
	s.mu.Unlock()
}

// Turns returns every turn sent so far.
func (s *Scripted) Turns() []gateway.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]gateway.Turn(nil), s.turns...)
}

// ChatCount returns how many chats were created.
func (s *Scripted) ChatCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chats
}

// Name implements gateway.Gateway.
func (s *Scripted) Name() string { return "scripted" }

// NewChat implements gateway.Gateway.
func (s *Scripted) NewChat(ctx context.Context) (gateway.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chatErr != nil {
		return nil, s.chatErr
	}
	s.chats++
	return &scriptedChat{parent: s}, nil
}

type scriptedChat struct {
	parent *Scripted
}

func (c *scriptedChat) Send(ctx context.Context, turn gateway.Turn) (string, error) {
	s := c.parent
	s.mu.Lock()
	s.turns = append(s.turns, turn)
	if len(s.steps) == 0 {
		s.mu.Unlock()
		return "", ErrScriptExhausted
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	s.mu.Unlock()

	select {
	case s.Calls <- turn:
	default:
	}

	if step.Gate != nil {
		select {
		case <-step.Gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return step.Reply, step.Err
}
