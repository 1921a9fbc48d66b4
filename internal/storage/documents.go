// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/ipa/internal/util"
)

// =============================================================================
// TYPES
// =============================================================================

// DocumentStat describes one stored document.
type DocumentStat struct {
	Name       string    `json:"filename"`
	Bytes      int64     `json:"size"`
	LineCount  int       `json:"lines"`
	ModifiedAt time.Time `json:"modified"`
}

// Stats summarizes the store. Documents are ordered most recently
// modified first.
type Stats struct {
	Count      int            `json:"totalArticles"`
	TotalBytes int64          `json:"totalSize"`
	Documents  []DocumentStat `json:"articles"`
}

// =============================================================================
// DOCUMENT STORE
// =============================================================================

// DocumentStore persists markdown documents as files in one directory.
type DocumentStore struct {
	// Dir is the directory holding the documents.
	Dir string

	locks *keyedMutex

	// touched records names this store wrote or removed recently so the
	// watcher can tell our own changes apart from external edits. Nothing
	// is recorded while retain is zero, that is, with no watcher attached.
	touchedMu sync.Mutex
	touched   map[string]time.Time
	retain    time.Duration
}

// NewDocumentStore creates a store rooted at dir, creating it if needed.
func NewDocumentStore(dir string) (*DocumentStore, error) {
	if dir == "" {
		return nil, opError("open", "", ErrWrite, errors.New("empty store directory"))
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, opError("open", "", ErrWrite, err)
	}
	return &DocumentStore{
		Dir:     dir,
		locks:   newKeyedMutex(),
		touched: make(map[string]time.Time),
	}, nil
}

func (s *DocumentStore) path(name string) string {
	return filepath.Join(s.Dir, name)
}

// retainTouches starts recording own changes for at least d.
func (s *DocumentStore) retainTouches(d time.Duration) {
	s.touchedMu.Lock()
	if d > s.retain {
		s.retain = d
	}
	s.touchedMu.Unlock()
}

func (s *DocumentStore) touch(name string) {
	s.touchedMu.Lock()
	defer s.touchedMu.Unlock()
	if s.retain <= 0 {
		return
	}
	now := time.Now()
	s.pruneLocked(now.Add(-s.retain))
	s.touched[name] = now
}

func (s *DocumentStore) pruneLocked(before time.Time) {
	for n, at := range s.touched {
		if at.Before(before) {
			delete(s.touched, n)
		}
	}
}

// touchedSince reports whether name was changed through this store after t.
// Entries older than t are pruned.
func (s *DocumentStore) touchedSince(name string, t time.Time) bool {
	s.touchedMu.Lock()
	defer s.touchedMu.Unlock()
	s.pruneLocked(t)
	_, ok := s.touched[name]
	return ok
}

// =============================================================================
// OPERATIONS
// =============================================================================

// Put creates or overwrites a document and returns its normalized name.
// The write is atomic: concurrent readers see the old or the new content.
func (s *DocumentStore) Put(name, content string) (string, error) {
	normalized, err := NormalizeName(name)
	if err != nil {
		return "", err
	}

	unlock := s.locks.Lock(normalized)
	defer unlock()

	s.touch(normalized)
	if err := util.AtomicWriteFile(s.path(normalized), []byte(content), 0644); err != nil {
		return "", opError("put", normalized, ErrWrite, err)
	}
	return normalized, nil
}

// Get returns the content of a document.
func (s *DocumentStore) Get(name string) (string, error) {
	normalized, err := NormalizeName(name)
	if err != nil {
		return "", err
	}

	unlock := s.locks.Lock(normalized)
	defer unlock()

	data, err := os.ReadFile(s.path(normalized))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", opError("get", normalized, ErrNotFound, nil)
		}
		return "", opError("get", normalized, ErrRead, err)
	}
	return string(data), nil
}

// Delete removes a document. Deleting a missing document reports
// ErrNotFound, so a second delete of the same name fails.
func (s *DocumentStore) Delete(name string) error {
	normalized, err := NormalizeName(name)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(normalized)
	defer unlock()

	s.touch(normalized)
	if err := os.Remove(s.path(normalized)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return opError("delete", normalized, ErrNotFound, nil)
		}
		return opError("delete", normalized, ErrWrite, err)
	}
	return nil
}

// List returns the names of all documents in lexicographic order.
func (s *DocumentStore) List() ([]string, error) {
	entries, err := s.entries()
	if err != nil {
		return nil, opError("list", "", ErrRead, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Stats returns per-document statistics sorted by modification time,
// newest first. Ties are broken by name. Documents removed between the
// listing and the read are skipped.
func (s *DocumentStore) Stats() (Stats, error) {
	entries, err := s.entries()
	if err != nil {
		return Stats{}, opError("stats", "", ErrRead, err)
	}

	stats := Stats{Documents: make([]DocumentStat, 0, len(entries))}
	for _, e := range entries {
		stat, err := s.stat(e.Name())
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return Stats{}, err
		}
		stats.Documents = append(stats.Documents, stat)
		stats.TotalBytes += stat.Bytes
	}
	stats.Count = len(stats.Documents)

	sort.Slice(stats.Documents, func(i, j int) bool {
		a, b := stats.Documents[i], stats.Documents[j]
		if !a.ModifiedAt.Equal(b.ModifiedAt) {
			return a.ModifiedAt.After(b.ModifiedAt)
		}
		return a.Name < b.Name
	})
	return stats, nil
}

func (s *DocumentStore) stat(name string) (DocumentStat, error) {
	unlock := s.locks.Lock(name)
	defer unlock()

	path := s.path(name)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DocumentStat{}, opError("stats", name, ErrNotFound, nil)
		}
		return DocumentStat{}, opError("stats", name, ErrRead, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DocumentStat{}, opError("stats", name, ErrNotFound, nil)
		}
		return DocumentStat{}, opError("stats", name, ErrRead, err)
	}
	return DocumentStat{
		Name:       name,
		Bytes:      info.Size(),
		LineCount:  util.CountLines(string(data)),
		ModifiedAt: info.ModTime(),
	}, nil
}

// entries returns the regular ".md" files in the store directory.
func (s *DocumentStore) entries() ([]os.DirEntry, error) {
	all, err := os.ReadDir(s.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	docs := make([]os.DirEntry, 0, len(all))
	for _, e := range all {
		if !e.Type().IsRegular() || !isDocumentFile(e.Name()) {
			continue
		}
		docs = append(docs, e)
	}
	return docs, nil
}

func isDocumentFile(name string) bool {
	return strings.HasSuffix(name, Extension) &&
		!strings.HasPrefix(name, util.TempPrefix) &&
		!strings.HasPrefix(name, ".")
}
