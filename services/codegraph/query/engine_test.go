// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package query

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/codegraph/services/codegraph/graph"
)

func TestEngine_CacheKeyedByVersion(t *testing.T) {
	ctx := context.Background()
	f := newFixture().fn("a.py", "main", "helper").call("a.py", "main", "helper")
	store := f.store(t)
	engine := newTestEngine()

	v1 := store.Snapshot()
	first, err := engine.FindDependencies(ctx, v1, "main")
	require.NoError(t, err)
	second, err := engine.FindDependencies(ctx, v1, "main")
	require.NoError(t, err)
	assert.Same(t, first, second)

	f.fn("a.py", "extra").call("a.py", "main", "extra")
	_, err = store.ApplyFileUpdate(ctx, "a.py", f.file("a.py"))
	require.NoError(t, err)
	v2 := store.Snapshot()
	require.NotEqual(t, v1.Version(), v2.Version())

	third, err := engine.FindDependencies(ctx, v2, "main")
	require.NoError(t, err)
	assert.Len(t, third.Dependencies, 2)

	// The old view still answers from its own point in time.
	again, err := engine.FindDependencies(ctx, v1, "main")
	require.NoError(t, err)
	assert.Len(t, again.Dependencies, 1)
}

func TestEngine_CacheDisabled(t *testing.T) {
	view := newFixture().fn("a.py", "main").view(t)
	engine := newTestEngine(WithCacheSize(0))

	first, err := engine.FindDependencies(context.Background(), view, "main")
	require.NoError(t, err)
	second, err := engine.FindDependencies(context.Background(), view, "main")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, first, second)
}

func TestEngine_SnapshotIsolation(t *testing.T) {
	ctx := context.Background()
	f := newFixture().imports("a.py", "b.py").imports("b.py", "c.py").fn("c.py", "leaf")
	store := f.store(t)
	engine := newTestEngine(WithCacheSize(0))

	view := store.Snapshot()
	before, err := engine.CalculateImpactRadius(ctx, view, []string{"c.py"}, 5)
	require.NoError(t, err)

	_, err = store.RemoveFile(ctx, "a.py")
	require.NoError(t, err)
	_, err = store.ApplyFileUpdate(ctx, "d.py", &graph.FileFacts{Edges: []graph.EdgeFact{{
		Source: graph.NodeRef{Kind: graph.NodeKindFile, QualifiedName: "d.py"},
		Target: graph.NodeRef{Kind: graph.NodeKindFile, QualifiedName: "c.py"},
		Kind:   graph.EdgeKindImports,
	}}})
	require.NoError(t, err)

	after, err := engine.CalculateImpactRadius(ctx, view, []string{"c.py"}, 5)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	latest, err := engine.CalculateImpactRadius(ctx, store.Snapshot(), []string{"c.py"}, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.py", "d.py"}, latest.DirectlyAffected)
	assert.Empty(t, latest.IndirectlyAffected)
}

func TestEngine_ConcurrentQueries(t *testing.T) {
	view := callFixture().view(t)
	engine := newTestEngine()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := engine.TraceCallChain(context.Background(), view, "main", "d", 5)
			assert.NoError(t, err)
			assert.Len(t, result.Paths, 3)
		}()
	}
	wg.Wait()
}

func TestEngine_JoinedCallerHonorsOwnContext(t *testing.T) {
	view := importRing(t, 5000)
	engine := newTestEngine()
	opts := CycleOptions{}

	type outcome struct {
		result *CycleResult
		err    error
	}

	first := newGatedContext()
	firstDone := make(chan outcome, 1)
	go func() {
		result, err := engine.DetectCircularDependencies(first, view, opts)
		firstDone <- outcome{result, err}
	}()
	<-first.entered

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	secondDone := make(chan outcome, 1)
	go func() {
		result, err := engine.DetectCircularDependencies(ctx, view, opts)
		secondDone <- outcome{result, err}
	}()

	select {
	case got := <-secondDone:
		assert.Nil(t, got.result)
		assert.True(t, errors.Is(got.err, graph.ErrCancelled), "got %v", got.err)
	case <-time.After(5 * time.Second):
		close(first.release)
		t.Fatal("second caller waited for the shared computation past its deadline")
	}

	select {
	case <-firstDone:
		t.Fatal("first caller finished while its traversal was held")
	default:
	}

	close(first.release)
	got := <-firstDone
	require.NoError(t, got.err)
	require.Len(t, got.result.Cycles, 1)
	assert.Equal(t, 5000, got.result.Cycles[0].Size)
}
