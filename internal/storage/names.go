// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Extension is the canonical document extension.
const Extension = ".md"

// MaxNameLength bounds a normalized name in bytes. Most filesystems cap a
// single path component at 255 bytes.
const MaxNameLength = 255

// NormalizeName maps a raw document name to its canonical form.
//
// The result is NFC-normalized, trimmed, and ends in exactly one ".md"
// (an existing extension in any letter case is lower-cased instead of
// doubled). Names that would escape the store directory, start with a dot,
// or contain control characters are rejected with ErrInvalidName.
//
// NormalizeName is idempotent: NormalizeName(NormalizeName(n)) == NormalizeName(n).
func NormalizeName(raw string) (string, error) {
	name := strings.TrimSpace(norm.NFC.String(raw))
	if name == "" {
		return "", opError("normalize", "", ErrInvalidName, fmt.Errorf("empty name"))
	}

	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", opError("normalize", raw, ErrInvalidName, fmt.Errorf("path separators not allowed"))
	}
	if strings.HasPrefix(name, ".") {
		return "", opError("normalize", raw, ErrInvalidName, fmt.Errorf("hidden names not allowed"))
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return "", opError("normalize", raw, ErrInvalidName, fmt.Errorf("control characters not allowed"))
		}
	}

	if ext := filepath.Ext(name); strings.EqualFold(ext, Extension) {
		name = strings.TrimSuffix(name, ext)
		name = strings.TrimSpace(name)
		if name == "" {
			return "", opError("normalize", raw, ErrInvalidName, fmt.Errorf("empty name"))
		}
	}
	name += Extension

	if len(name) > MaxNameLength {
		return "", opError("normalize", raw, ErrInvalidName, fmt.Errorf("name longer than %d bytes", MaxNameLength))
	}
	return name, nil
}
