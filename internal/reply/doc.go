// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package reply decodes raw model output into a typed StructuredReply.
//
// The model is asked to answer with a JSON object carrying an action tag
// and a response text. Decode validates that shape strictly; Interpret adds
// the fallback used by the session layer, where any non-empty text that is
// not a valid reply is delivered as a plain chat message.
//
//	r, err := reply.Interpret(raw)
//	if errors.Is(err, reply.ErrEmptyReply) {
//	    // nothing usable came back
//	}
//	if r.HasDocument() {
//	    // CREATE_DOC / UPDATE_DOC with both name and content
//	}
package reply
