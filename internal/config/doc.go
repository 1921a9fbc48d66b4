// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for
// the IPA server and console.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, and validation.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - ServerConfig: listener, CORS and rate limit settings
//   - ModelConfig: Gemini or Ollama gateway selection
//   - StoreConfig: article directory and watcher
//   - ClientConfig: console reconnection and timeouts
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (PORT, GEMINI_API_KEY, IPA_*)
//   - $IPA_CONFIG when set
//   - ~/.ipa/config.toml
//   - ~/.ipa/config.json
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	srv := server.New(cfg, ...)
package config
