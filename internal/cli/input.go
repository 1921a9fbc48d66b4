// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"os"
	"path/filepath"

	"github.com/peterh/liner"

	"github.com/jeranaias/ipa/internal/config"
)

// LineReader supplies console input lines.
type LineReader interface {
	// Prompt reads one line. It returns io.EOF or liner.ErrPromptAborted
	// when the user ends the session.
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
	Close() error
}

// LinerInput provides line editing and persistent history.
// USABILITY: Supports arrow keys for history navigation and line editing.
type LinerInput struct {
	line        *liner.State
	historyFile string
}

// NewLinerInput opens the terminal for line editing and loads history from
// the config directory.
func NewLinerInput() *LinerInput {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	in := &LinerInput{line: line}
	if dir, err := config.ConfigDir(); err == nil {
		in.historyFile = filepath.Join(dir, "console_history")
		if f, err := os.Open(in.historyFile); err == nil {
			line.ReadHistory(f)
			f.Close()
		}
	}
	return in
}

// Prompt reads one line.
func (in *LinerInput) Prompt(prompt string) (string, error) {
	return in.line.Prompt(prompt)
}

// AppendHistory records a non-empty line.
func (in *LinerInput) AppendHistory(item string) {
	if item != "" {
		in.line.AppendHistory(item)
	}
}

// Close saves history with owner-only permissions and restores the
// terminal.
func (in *LinerInput) Close() error {
	if in.historyFile != "" {
		if err := os.MkdirAll(filepath.Dir(in.historyFile), 0700); err == nil {
			if f, err := os.OpenFile(in.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
				in.line.WriteHistory(f)
				f.Close()
			}
		}
	}
	return in.line.Close()
}
