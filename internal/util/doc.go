// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by the IPA server and console.
//
// # Key Functions
//
// File Operations:
//   - AtomicWriteFile: crash-safe file writing with fsync and rename
//
// Text:
//   - TruncateRunes: UTF-8 safe truncation with ellipsis
//   - PadRight: display-width aware padding for terminal tables
//   - CountLines: line count matching the document statistics format
//
// # Usage
//
//	// Persist a document without ever exposing a partial file
//	err := util.AtomicWriteFile(path, []byte(content), 0644)
//
//	// Shorten a preview for a log line
//	preview := util.TruncateRunes(message, 60)
package util
