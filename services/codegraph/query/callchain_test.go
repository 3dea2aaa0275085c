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
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/codegraph/services/codegraph/graph"
)

// callFixture: main -> {b, a, d}, a -> c, b -> c, c -> d.
func callFixture() *fixture {
	return newFixture().
		fn("m.py", "main", "a", "b", "c", "d").
		call("m.py", "main", "b").
		call("m.py", "main", "a").
		call("m.py", "main", "d").
		call("m.py", "a", "c").
		call("m.py", "b", "c").
		call("m.py", "c", "d")
}

func pathNames(result *CallChainResult) [][]string {
	out := make([][]string, len(result.Paths))
	for i, p := range result.Paths {
		out[i] = p.Nodes
	}
	return out
}

func TestTraceCallChain_ShortestFirstThenLexicographic(t *testing.T) {
	view := callFixture().view(t)

	result, err := newTestEngine().TraceCallChain(context.Background(), view, "main", "d", 5)
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"m.py::main", "m.py::d"},
		{"m.py::main", "m.py::a", "m.py::c", "m.py::d"},
		{"m.py::main", "m.py::b", "m.py::c", "m.py::d"},
	}, pathNames(result))
	assert.Equal(t, 1, result.Paths[0].Length)
	assert.Equal(t, 3, result.Paths[1].Length)
	assert.False(t, result.Truncated)
}

func TestTraceCallChain_DepthLimit(t *testing.T) {
	view := callFixture().view(t)

	result, err := newTestEngine().TraceCallChain(context.Background(), view, "main", "d", 2)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"m.py::main", "m.py::d"}}, pathNames(result))

	zero, err := newTestEngine().TraceCallChain(context.Background(), view, "main", "d", 0)
	require.NoError(t, err)
	assert.Empty(t, zero.Paths)
}

func TestTraceCallChain_Cap(t *testing.T) {
	view := callFixture().view(t)

	result, err := newTestEngine(WithCallChainCap(2)).TraceCallChain(context.Background(), view, "main", "d", 5)
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"m.py::main", "m.py::d"},
		{"m.py::main", "m.py::a", "m.py::c", "m.py::d"},
	}, pathNames(result))
	assert.True(t, result.Truncated)
}

func TestTraceCallChain_SameEndpointWithoutSelfLoop(t *testing.T) {
	view := callFixture().view(t)

	result, err := newTestEngine().TraceCallChain(context.Background(), view, "main", "main", 3)
	require.NoError(t, err)
	assert.NotNil(t, result.Paths)
	assert.Empty(t, result.Paths)
}

func TestTraceCallChain_SameEndpointThroughLoops(t *testing.T) {
	view := newFixture().
		fn("r.py", "main", "helper").
		call("r.py", "main", "main").
		call("r.py", "main", "helper").
		call("r.py", "helper", "main").
		view(t)

	result, err := newTestEngine().TraceCallChain(context.Background(), view, "main", "main", 3)
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"r.py::main", "r.py::main"},
		{"r.py::main", "r.py::helper", "r.py::main"},
	}, pathNames(result))
}

func TestTraceCallChain_Unreachable(t *testing.T) {
	view := callFixture().view(t)

	result, err := newTestEngine().TraceCallChain(context.Background(), view, "d", "main", 10)
	require.NoError(t, err)
	assert.Empty(t, result.Paths)
}

func TestTraceCallChain_PathsAreSimple(t *testing.T) {
	// x <-> y cycle on the way to z must not produce repeated nodes.
	view := newFixture().
		fn("s.py", "x", "y", "z").
		call("s.py", "x", "y").
		call("s.py", "y", "x").
		call("s.py", "y", "z").
		view(t)

	result, err := newTestEngine().TraceCallChain(context.Background(), view, "x", "z", 10)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"s.py::x", "s.py::y", "s.py::z"}}, pathNames(result))
}

func TestTraceCallChain_Errors(t *testing.T) {
	view := callFixture().view(t)
	engine := newTestEngine()
	ctx := context.Background()

	_, err := engine.TraceCallChain(ctx, view, "main", "d", -1)
	assert.True(t, errors.Is(err, graph.ErrInvalidArgument))

	_, err = engine.TraceCallChain(ctx, view, "", "d", 3)
	assert.True(t, errors.Is(err, graph.ErrInvalidArgument))

	_, err = engine.TraceCallChain(ctx, view, "main", "missing", 3)
	assert.True(t, errors.Is(err, graph.ErrNotFound))
}

func TestTraceCallChain_CancelledMidTraversal(t *testing.T) {
	f := newFixture().fn("hub.py", "sink", "start")
	for i := 0; i < 1000; i++ {
		name := fmt.Sprintf("caller%04d", i)
		f.fn("hub.py", name).call("hub.py", name, "sink")
	}
	view := f.view(t)
	ctx := cancelAfterChecks(3)

	result, err := newTestEngine().TraceCallChain(ctx, view, "start", "sink", 10)
	assert.Nil(t, result)
	assert.True(t, errors.Is(err, graph.ErrCancelled), "got %v", err)
	assert.Greater(t, ctx.calls.Load(), int64(3))
}
