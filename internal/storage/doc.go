// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides the directory-backed markdown document store.
//
// Each document is one "<name>.md" file inside a single directory. There is
// no index file: the directory listing is the source of truth, so documents
// edited or removed by hand show up on the next List or Stats call.
//
// # Naming
//
// Every operation accepts a raw name and normalizes it first (see
// NormalizeName). Normalization trims whitespace, applies Unicode NFC and
// appends the canonical ".md" extension, so "weld safety" and
// "weld safety.md" address the same document.
//
// # Concurrency
//
// DocumentStore is safe for concurrent use. Each normalized name is its own
// lock domain: operations on the same name are linearizable, operations on
// different names proceed in parallel.
//
// # Usage
//
//	store, err := storage.NewDocumentStore("./databases")
//	name, err := store.Put("weld_safety", "# Weld Safety\n...")
//	content, err := store.Get(name)
//	names, err := store.List()
package storage
