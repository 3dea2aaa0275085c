// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package watch

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/codegraph/services/codegraph/ingest"
)

type batch struct {
	updated []string
	removed []string
}

type recordingSink struct {
	mu      sync.Mutex
	batches []batch
}

func (s *recordingSink) ApplyChanges(_ context.Context, updated, removed []string) (*ingest.BuildResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, batch{updated: slices.Clone(updated), removed: slices.Clone(removed)})
	return &ingest.BuildResult{}, nil
}

// seen returns every updated and removed path across all batches.
func (s *recordingSink) seen() (updated, removed []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.batches {
		updated = append(updated, b.updated...)
		removed = append(removed, b.removed...)
	}
	return updated, removed
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func pyOnly(path string) bool {
	return strings.HasSuffix(path, ".py")
}

func startWatcher(t *testing.T, root string, sink Sink, opts ...Option) *Watcher {
	t.Helper()
	base := []Option{WithLogger(quietLogger()), WithDebounce(20 * time.Millisecond), WithRateLimit(100, 1)}
	w, err := New(root, sink, append(base, opts...)...)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)
	return w
}

func TestCoalesce(t *testing.T) {
	now := time.Now()
	got := Coalesce([]Change{
		{Path: "a.py", Op: OpCreate, Time: now},
		{Path: "b.py", Op: OpWrite, Time: now},
		{Path: "a.py", Op: OpWrite, Time: now},
		{Path: "b.py", Op: OpRemove, Time: now},
	})

	require.Len(t, got, 2)
	assert.Equal(t, "a.py", got[0].Path)
	assert.Equal(t, OpWrite, got[0].Op)
	assert.Equal(t, "b.py", got[1].Path)
	assert.Equal(t, OpRemove, got[1].Op)
}

func TestOpString(t *testing.T) {
	assert.Equal(t, "create", OpCreate.String())
	assert.Equal(t, "rename", OpRename.String())
	assert.Equal(t, "unknown", Op(99).String())
}

func TestWatcher_ShouldIgnore(t *testing.T) {
	root := t.TempDir()
	w, err := New(root, &recordingSink{}, WithLogger(quietLogger()))
	require.NoError(t, err)
	t.Cleanup(w.Stop)

	assert.True(t, w.shouldIgnore(filepath.Join(root, ".git", "HEAD")))
	assert.True(t, w.shouldIgnore(filepath.Join(root, "pkg", "node_modules", "x.py")))
	assert.True(t, w.shouldIgnore(filepath.Join(root, "a.py.swp")))
	assert.False(t, w.shouldIgnore(filepath.Join(root, "pkg", "a.py")))
	assert.False(t, w.shouldIgnore(root))
}

func TestNew_NilSink(t *testing.T) {
	_, err := New(t.TempDir(), nil)
	require.Error(t, err)
}

func TestWatcher_DispatchesWrites(t *testing.T) {
	root := t.TempDir()
	sink := &recordingSink{}
	startWatcher(t, root, sink, WithFilter(pyOnly))

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.py"), []byte("x = 1\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("hi"), 0o644))

	assert.Eventually(t, func() bool {
		updated, _ := sink.seen()
		return slices.Contains(updated, "a.py")
	}, 5*time.Second, 10*time.Millisecond)

	updated, _ := sink.seen()
	assert.NotContains(t, updated, "notes.txt")
}

func TestWatcher_DispatchesRemovals(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "gone.py")
	require.NoError(t, os.WriteFile(path, []byte("x = 1\n"), 0o644))

	sink := &recordingSink{}
	startWatcher(t, root, sink, WithFilter(pyOnly))
	require.NoError(t, os.Remove(path))

	assert.Eventually(t, func() bool {
		_, removed := sink.seen()
		return slices.Contains(removed, "gone.py")
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWatcher_NewDirectory(t *testing.T) {
	root := t.TempDir()
	sink := &recordingSink{}
	startWatcher(t, root, sink, WithFilter(pyOnly))

	dir := filepath.Join(root, "pkg", "sub")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "m.py"), []byte("x = 1\n"), 0o644))

	assert.Eventually(t, func() bool {
		updated, _ := sink.seen()
		return slices.Contains(updated, "pkg/sub/m.py")
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWatcher_BatchHandlerAndStop(t *testing.T) {
	root := t.TempDir()
	sink := &recordingSink{}
	dispatched := make(chan struct{})
	var once sync.Once
	w := startWatcher(t, root, sink, WithBatchHandler(func(updated, removed []string, result *ingest.BuildResult, err error) {
		assert.NoError(t, err)
		assert.NotNil(t, result)
		once.Do(func() { close(dispatched) })
	}))
	assert.True(t, w.IsWatching())

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("package a\n"), 0o644))
	select {
	case <-dispatched:
	case <-time.After(5 * time.Second):
		t.Fatal("no batch dispatched")
	}

	w.Stop()
	assert.False(t, w.IsWatching())
	assert.Zero(t, w.Dropped())
}
