// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *DocumentStore {
	t.Helper()
	store, err := NewDocumentStore(t.TempDir())
	require.NoError(t, err)
	return store
}

// =============================================================================
// NAME NORMALIZATION
// =============================================================================

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"notes", "notes.md"},
		{"notes.md", "notes.md"},
		{"notes.MD", "notes.md"},
		{"  weld safety  ", "weld safety.md"},
		{"weld_safety.md", "weld_safety.md"},
		{"archive.tar", "archive.tar.md"},
		{"café", "café.md"}, // decomposed é becomes NFC
	}
	for _, tt := range tests {
		got, err := NormalizeName(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestNormalizeName_Idempotent(t *testing.T) {
	for _, in := range []string{"a", "a.md", "A.Md", " x y ", "résumé", "v1.2"} {
		once, err := NormalizeName(in)
		require.NoError(t, err)
		twice, err := NormalizeName(once)
		require.NoError(t, err)
		assert.Equal(t, once, twice, in)
	}
}

func TestNormalizeName_Rejects(t *testing.T) {
	for _, in := range []string{"", "   ", "../etc/passwd", "a/b", `a\b`, ".hidden", "..", ".md", "bad\x00name", "tab\tname"} {
		_, err := NormalizeName(in)
		assert.ErrorIs(t, err, ErrInvalidName, "%q", in)
	}
}

// =============================================================================
// PUT / GET / DELETE
// =============================================================================

func TestPutGet_RoundTrip(t *testing.T) {
	store := newTestStore(t)

	name, err := store.Put("weld_safety", "# Weld Safety\n")
	require.NoError(t, err)
	assert.Equal(t, "weld_safety.md", name)

	// Both the raw and the normalized name address the same document
	for _, n := range []string{"weld_safety", "weld_safety.md"} {
		content, err := store.Get(n)
		require.NoError(t, err)
		assert.Equal(t, "# Weld Safety\n", content)
	}

	_, err = os.Stat(filepath.Join(store.Dir, "weld_safety.md"))
	assert.NoError(t, err)
}

func TestPut_Idempotent(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Put("a", "same")
	require.NoError(t, err)
	_, err = store.Put("a.md", "same")
	require.NoError(t, err)

	names, err := store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"a.md"}, names)

	content, err := store.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "same", content)
}

func TestPut_LastWriteWins(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Put("doc", "one")
	require.NoError(t, err)
	_, err = store.Put("doc", "two")
	require.NoError(t, err)

	content, err := store.Get("doc")
	require.NoError(t, err)
	assert.Equal(t, "two", content)
}

func TestPut_EmptyContent(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Put("empty", "")
	require.NoError(t, err)

	content, err := store.Get("empty")
	require.NoError(t, err)
	assert.Equal(t, "", content)
}

func TestGet_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	var docErr *DocumentError
	require.True(t, errors.As(err, &docErr))
	assert.Equal(t, "missing.md", docErr.Name)
}

func TestDelete_ThenGetAndSecondDelete(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Put("x", "content")
	require.NoError(t, err)

	require.NoError(t, store.Delete("x"))

	_, err = store.Get("x")
	assert.ErrorIs(t, err, ErrNotFound)

	err = store.Delete("x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPut_WriteFailure(t *testing.T) {
	store := newTestStore(t)

	// A directory occupying the target name makes the rename fail
	require.NoError(t, os.Mkdir(filepath.Join(store.Dir, "blocked.md"), 0755))

	_, err := store.Put("blocked", "content")
	assert.ErrorIs(t, err, ErrWrite)
}

// =============================================================================
// LIST / STATS
// =============================================================================

func TestList_SortedAndFiltered(t *testing.T) {
	store := newTestStore(t)

	for _, n := range []string{"zeta", "alpha", "Mid"} {
		_, err := store.Put(n, n)
		require.NoError(t, err)
	}
	// Non-documents and temp files are ignored
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir, "notes.txt"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir, ".tmp-123.md"), []byte("x"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(store.Dir, "dir.md"), 0755))

	names, err := store.List()
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"Mid.md", "alpha.md", "zeta.md"}, names); diff != "" {
		t.Errorf("List() mismatch (-want +got):\n%s", diff)
	}
}

func TestList_PicksUpExternalFiles(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, os.WriteFile(filepath.Join(store.Dir, "manual.md"), []byte("hand written"), 0644))

	names, err := store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"manual.md"}, names)
}

func TestList_Empty(t *testing.T) {
	store := newTestStore(t)

	names, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestStats(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Put("old", "a\nb\nc")
	require.NoError(t, err)
	_, err = store.Put("new", "hello")
	require.NoError(t, err)

	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(store.Dir, "old.md"), past, past))

	stats, err := store.Stats()
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Count)
	assert.Equal(t, int64(len("a\nb\nc")+len("hello")), stats.TotalBytes)
	require.Len(t, stats.Documents, 2)
	assert.Equal(t, "new.md", stats.Documents[0].Name)
	assert.Equal(t, 1, stats.Documents[0].LineCount)
	assert.Equal(t, "old.md", stats.Documents[1].Name)
	assert.Equal(t, 3, stats.Documents[1].LineCount)
	assert.Equal(t, int64(5), stats.Documents[1].Bytes)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestConcurrentPuts_SameName(t *testing.T) {
	store := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Put("shared", fmt.Sprintf("writer-%02d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	content, err := store.Get("shared")
	require.NoError(t, err)
	// Whole content from exactly one writer, never a mix
	assert.Regexp(t, `^writer-\d\d$`, content)
	assert.Equal(t, 0, store.locks.size())
}

func TestConcurrentPuts_DistinctNames(t *testing.T) {
	store := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Put(fmt.Sprintf("doc-%02d", i), "x")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	names, err := store.List()
	require.NoError(t, err)
	assert.Len(t, names, 20)
}

func TestTouched_OnlyRecordedWithWatcher(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Put("a", "x")
	require.NoError(t, err)
	require.NoError(t, store.Delete("a"))
	assert.Empty(t, store.touched)

	store.retainTouches(time.Minute)
	store.touched["old.md"] = time.Now().Add(-2 * time.Minute)
	_, err = store.Put("b", "x")
	require.NoError(t, err)

	assert.Contains(t, store.touched, "b.md")
	assert.NotContains(t, store.touched, "old.md")
}
