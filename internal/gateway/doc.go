// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package gateway abstracts the language model behind a per-session chat
// handle.
//
// A Gateway creates one Chat per connected client. The Chat keeps its own
// conversation history, so callers only ever send the next Turn and get
// back the raw reply text. Decoding that text is the job of package reply.
//
// Two backends are provided:
//   - Gemini: Google Gemini through google.golang.org/genai, JSON mode with
//     a response schema
//   - Ollama: a local Ollama server, JSON format with the schema described
//     in the system prompt
//
// Tests use gatewaytest.Scripted instead.
package gateway
