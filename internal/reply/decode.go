// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package reply

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrDecode matches every *DecodeError.
	ErrDecode = errors.New("reply decode failed")

	// ErrEmptyReply means the model returned no usable text at all.
	ErrEmptyReply = errors.New("empty model reply")
)

// DecodeError explains why raw text is not a valid structured reply.
type DecodeError struct {
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode reply: %s: %v", e.Reason, e.Err)
	}
	return "decode reply: " + e.Reason
}

// Is makes errors.Is(err, ErrDecode) true.
func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

// Unwrap returns the underlying cause.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// =============================================================================
// DECODING
// =============================================================================

// wireReply is the JSON object the model is instructed to produce.
type wireReply struct {
	Action       string    `json:"action"`
	ResponseText string    `json:"responseText"`
	Filename     string    `json:"filename"`
	Content      string    `json:"content"`
	URL          string    `json:"url"`
	Location     string    `json:"location"`
	PlotData     *PlotSpec `json:"plotData"`
	SchematicSVG string    `json:"schematicSvg"`
}

// Decode parses raw model output. It never panics; any input that is not a
// JSON object with a known action and non-empty responseText yields a
// *DecodeError.
func Decode(raw string) (StructuredReply, error) {
	body := stripCodeFence(strings.TrimSpace(raw))
	if body == "" {
		return StructuredReply{}, &DecodeError{Reason: "empty input"}
	}

	var w wireReply
	if err := json.Unmarshal([]byte(body), &w); err != nil {
		return StructuredReply{}, &DecodeError{Reason: "not a JSON object", Err: err}
	}

	action := strings.ToUpper(strings.TrimSpace(w.Action))
	if action == "" {
		action = ActionChat
	}
	kind, ok := KindOf(action)
	if !ok {
		return StructuredReply{}, &DecodeError{Reason: fmt.Sprintf("unknown action %q", w.Action)}
	}

	action = canonicalAction(kind, action)

	text := strings.TrimSpace(w.ResponseText)
	if text == "" {
		return StructuredReply{}, &DecodeError{Reason: "missing responseText"}
	}

	r := StructuredReply{
		Kind:       kind,
		Action:     action,
		Text:       text,
		DocName:    strings.TrimSpace(w.Filename),
		DocContent: w.Content,
		URL:        strings.TrimSpace(w.URL),
		Location:   strings.TrimSpace(w.Location),
		Schematic:  w.SchematicSVG,
	}
	if w.PlotData != nil && len(w.PlotData.Data.Labels) > 0 {
		r.Plot = w.PlotData
	}
	if kind == KindSetVoiceMode {
		enabled := action != ActionDisableTTS
		r.VoiceEnabled = &enabled
	}
	return r, nil
}

// Interpret decodes raw and falls back to a plain chat reply carrying the
// trimmed raw text when decoding fails. It only errors with ErrEmptyReply.
func Interpret(raw string) (StructuredReply, error) {
	r, err := Decode(raw)
	if err == nil {
		return r, nil
	}
	text := strings.TrimSpace(raw)
	if text == "" {
		return StructuredReply{}, ErrEmptyReply
	}
	return StructuredReply{
		Kind:     KindChat,
		Action:   ActionChat,
		Text:     text,
		Degraded: true,
	}, nil
}

// stripCodeFence removes a surrounding markdown code fence such as
// ```json ... ``` that some models add despite JSON mode.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(s, "```"), "```")
	if nl := strings.IndexByte(inner, '\n'); nl >= 0 {
		// Drop the info string ("json") on the opening line
		if !strings.ContainsAny(inner[:nl], "{[") {
			inner = inner[nl+1:]
		}
	}
	return strings.TrimSpace(inner)
}
