// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/codegraph/services/codegraph/graph"
)

// fakeExtractor serves canned facts and errors and tracks concurrency.
type fakeExtractor struct {
	mu      sync.Mutex
	facts   map[string]*graph.FileFacts
	errs    map[string]error
	delay   time.Duration
	active  atomic.Int32
	maxSeen atomic.Int32
	calls   atomic.Int32
	onCall  func(path string)
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{facts: map[string]*graph.FileFacts{}, errs: map[string]error{}}
}

func (f *fakeExtractor) set(path string, facts *graph.FileFacts) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.facts[path] = facts
	delete(f.errs, path)
}

func (f *fakeExtractor) fail(path string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[path] = err
}

func (f *fakeExtractor) Extract(ctx context.Context, path string) (*graph.FileFacts, error) {
	f.calls.Add(1)
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	if f.onCall != nil {
		f.onCall(path)
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[path]; ok {
		return nil, err
	}
	if facts, ok := f.facts[path]; ok {
		return facts, nil
	}
	return &graph.FileFacts{Path: path}, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCoordinator(t *testing.T, ex Extractor, opts ...CoordinatorOption) *Coordinator {
	t.Helper()
	store := graph.NewStore(graph.WithLogger(quietLogger()))
	opts = append([]CoordinatorOption{WithLogger(quietLogger())}, opts...)
	c := NewCoordinator(store, ex, opts...)
	t.Cleanup(c.Close)
	return c
}

func moduleFacts(path string, importsPath string) *graph.FileFacts {
	facts := &graph.FileFacts{
		Path: path,
		Nodes: []graph.Node{{
			Kind:          graph.NodeKindFunction,
			QualifiedName: path + "::run",
			Function:      &graph.FunctionAttrs{File: path},
		}},
	}
	if importsPath != "" {
		facts.Edges = append(facts.Edges, graph.EdgeFact{
			Source: graph.NodeRef{Kind: graph.NodeKindFile, QualifiedName: path},
			Target: graph.NodeRef{Kind: graph.NodeKindFile, QualifiedName: importsPath},
			Kind:   graph.EdgeKindImports,
		})
	}
	return facts
}

func TestCoordinator_BuildAll(t *testing.T) {
	ex := newFakeExtractor()
	ex.set("a.py", moduleFacts("a.py", "b.py"))
	ex.set("b.py", moduleFacts("b.py", "c.py"))
	ex.set("c.py", moduleFacts("c.py", ""))
	c := newTestCoordinator(t, ex, WithWorkers(2))

	result, err := c.BuildAll(context.Background(), []string{"a.py", "b.py", "c.py", "a.py"})
	require.NoError(t, err)
	assert.True(t, result.Success())
	assert.Equal(t, 3, result.Stats.FilesTotal)
	assert.Equal(t, 3, result.Stats.FilesProcessed)
	assert.Equal(t, 0, result.Stats.FilesFailed)
	assert.Equal(t, int32(3), ex.calls.Load())

	view := c.Store().Snapshot()
	assert.Equal(t, []string{"a.py", "b.py", "c.py"}, view.Files())
	assert.Equal(t, 0, view.Stats().Placeholders)
	assert.Equal(t, 6, view.Stats().Nodes)
	assert.Equal(t, 2, view.Stats().Edges)
	assert.Equal(t, view.Version(), result.Version)
}

func TestCoordinator_ErrorIsolation(t *testing.T) {
	ex := newFakeExtractor()
	ex.set("good.py", moduleFacts("good.py", ""))
	ex.set("bad.py", moduleFacts("bad.py", ""))
	c := newTestCoordinator(t, ex)
	ctx := context.Background()

	_, err := c.BuildAll(ctx, []string{"good.py", "bad.py"})
	require.NoError(t, err)

	// bad.py now fails to parse; its previous facts must survive.
	ex.fail("bad.py", errors.New("syntax error"))
	ex.set("new.py", moduleFacts("new.py", ""))

	result, err := c.BuildAll(ctx, []string{"good.py", "bad.py", "new.py"})
	require.NoError(t, err)
	assert.False(t, result.Success())
	assert.Equal(t, 2, result.Stats.FilesProcessed)
	assert.Equal(t, 1, result.Stats.FilesFailed)
	require.Len(t, result.FileErrors, 1)
	assert.Equal(t, "bad.py", result.FileErrors[0].FilePath)
	assert.True(t, errors.Is(result.FileErrors[0], graph.ErrExtractionFailed))

	view := c.Store().Snapshot()
	assert.True(t, view.HasFile("bad.py"))
	assert.True(t, view.HasNode(graph.MakeNodeID(graph.NodeKindFunction, "bad.py::run")))
	assert.True(t, view.HasFile("new.py"))

	_, err = c.UpdateFile(ctx, "bad.py")
	var fileErr FileError
	require.True(t, errors.As(err, &fileErr))
	assert.Equal(t, "bad.py", fileErr.FilePath)
	assert.True(t, c.Store().Snapshot().HasFile("bad.py"))
}

func TestCoordinator_BoundedParallelism(t *testing.T) {
	ex := newFakeExtractor()
	ex.delay = 5 * time.Millisecond
	paths := make([]string, 20)
	for i := range paths {
		paths[i] = fmt.Sprintf("f%02d.py", i)
	}
	c := newTestCoordinator(t, ex, WithWorkers(3), WithQueueSize(2))

	result, err := c.BuildAll(context.Background(), paths)
	require.NoError(t, err)
	assert.Equal(t, 20, result.Stats.FilesProcessed)
	assert.LessOrEqual(t, ex.maxSeen.Load(), int32(3))
	assert.Len(t, c.Store().Snapshot().Files(), 20)
}

func TestCoordinator_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ex := newFakeExtractor()
	var once sync.Once
	ex.onCall = func(string) { once.Do(cancel) }
	paths := make([]string, 50)
	for i := range paths {
		paths[i] = fmt.Sprintf("f%02d.py", i)
	}
	c := newTestCoordinator(t, ex, WithWorkers(1))

	result, err := c.BuildAll(ctx, paths)
	require.Error(t, err)
	assert.True(t, errors.Is(err, graph.ErrCancelled))
	require.NotNil(t, result)
	assert.True(t, result.Incomplete)
	assert.Less(t, result.Stats.FilesProcessed, 50)
	assert.Equal(t, 50, result.Stats.FilesProcessed+result.Stats.FilesSkipped+result.Stats.FilesFailed)
}

func TestCoordinator_ConflictsAreReportedNotFatal(t *testing.T) {
	table := graph.Node{Kind: graph.NodeKindTable, QualifiedName: "users", Table: &graph.TableAttrs{}}
	ex := newFakeExtractor()
	ex.set("one.sql", &graph.FileFacts{Nodes: []graph.Node{table}})
	ex.set("two.sql", &graph.FileFacts{Nodes: []graph.Node{table}})
	c := newTestCoordinator(t, ex, WithWorkers(1))

	result, err := c.BuildAll(context.Background(), []string{"one.sql", "two.sql"})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Stats.FilesProcessed)
	assert.Equal(t, 1, result.Stats.Conflicts)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, string(graph.MakeNodeID(graph.NodeKindTable, "users")), result.Conflicts[0].ID)
}

func TestCoordinator_PanicRecovery(t *testing.T) {
	ex := ExtractorFunc(func(ctx context.Context, path string) (*graph.FileFacts, error) {
		if path == "boom.py" {
			panic("parser exploded")
		}
		return &graph.FileFacts{Path: path}, nil
	})
	c := newTestCoordinator(t, ex)

	result, err := c.BuildAll(context.Background(), []string{"ok.py", "boom.py"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Stats.FilesProcessed)
	require.Len(t, result.FileErrors, 1)
	assert.True(t, errors.Is(result.FileErrors[0], graph.ErrExtractionFailed))
}

func TestCoordinator_ApplyChanges(t *testing.T) {
	ex := newFakeExtractor()
	ex.set("a.py", moduleFacts("a.py", "b.py"))
	ex.set("b.py", moduleFacts("b.py", ""))
	c := newTestCoordinator(t, ex)
	ctx := context.Background()

	_, err := c.BuildAll(ctx, []string{"a.py", "b.py"})
	require.NoError(t, err)

	ex.set("a.py", moduleFacts("a.py", ""))
	result, err := c.ApplyChanges(ctx, []string{"a.py"}, []string{"b.py", "never.py"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Stats.FilesRemoved)
	assert.Equal(t, 1, result.Stats.FilesProcessed)

	view := c.Store().Snapshot()
	assert.Equal(t, []string{"a.py"}, view.Files())
	assert.False(t, view.HasNode(graph.MakeNodeID(graph.NodeKindFile, "b.py")))
}

func TestCoordinator_RemoveFileAndClose(t *testing.T) {
	ex := newFakeExtractor()
	c := newTestCoordinator(t, ex)
	ctx := context.Background()

	_, err := c.UpdateFile(ctx, "a.py")
	require.NoError(t, err)
	_, err = c.RemoveFile(ctx, "a.py")
	require.NoError(t, err)
	_, err = c.RemoveFile(ctx, "a.py")
	assert.True(t, errors.Is(err, graph.ErrNotFound))

	c.Close()
	_, err = c.UpdateFile(ctx, "a.py")
	assert.True(t, errors.Is(err, ErrClosed))
}
