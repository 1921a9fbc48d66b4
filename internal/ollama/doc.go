// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for a local Ollama server.
//
// IPA uses it as an alternative model backend: the chat endpoint is called
// non-streaming with JSON output enforced, and images are attached as
// base64 strings on the user message.
//
// # Usage
//
//	client := ollama.NewClientWithConfig(&ollama.ClientConfig{
//	    BaseURL:      "http://127.0.0.1:11434",
//	    DefaultModel: "llama3.2-vision",
//	})
//	resp, err := client.Chat(ctx, ollama.ChatRequest{
//	    Messages: []ollama.Message{ollama.NewUserMessage("Hello")},
//	    Format:   "json",
//	})
package ollama
