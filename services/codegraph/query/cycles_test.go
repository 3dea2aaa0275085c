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

func TestDetectCircularDependencies_ImportCycle(t *testing.T) {
	view := newFixture().
		imports("a.py", "b.py").
		imports("b.py", "c.py").
		imports("c.py", "a.py").
		imports("c.py", "d.py").
		view(t)

	result, err := newTestEngine().DetectCircularDependencies(context.Background(), view, CycleOptions{})
	require.NoError(t, err)
	require.Len(t, result.Cycles, 1)
	assert.Equal(t, 1, result.ImportCycles)
	assert.Equal(t, 0, result.CallCycles)

	cycle := result.Cycles[0]
	assert.Equal(t, ScopeImports, cycle.Scope)
	assert.Equal(t, []string{"a.py", "b.py", "c.py"}, cycle.Members)
	assert.Equal(t, 3, cycle.Size)
	assert.False(t, cycle.SelfLoop)
	assert.Nil(t, cycle.Elementary)
}

func TestDetectCircularDependencies_Acyclic(t *testing.T) {
	view := newFixture().
		imports("a.py", "b.py").
		imports("b.py", "c.py").
		imports("a.py", "c.py").
		fn("c.py", "f", "g").
		call("c.py", "f", "g").
		view(t)

	result, err := newTestEngine().DetectCircularDependencies(context.Background(), view, CycleOptions{})
	require.NoError(t, err)
	assert.NotNil(t, result.Cycles)
	assert.Empty(t, result.Cycles)
}

func TestDetectCircularDependencies_CallsAndSelfLoops(t *testing.T) {
	view := newFixture().
		fn("r.py", "recurse", "ping", "pong", "solo").
		call("r.py", "recurse", "recurse").
		call("r.py", "ping", "pong").
		call("r.py", "pong", "ping").
		call("r.py", "solo", "ping").
		view(t)

	result, err := newTestEngine().DetectCircularDependencies(context.Background(), view, CycleOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, result.ImportCycles)
	require.Equal(t, 2, result.CallCycles)

	assert.Equal(t, []string{"r.py::ping", "r.py::pong"}, result.Cycles[0].Members)
	assert.Equal(t, ScopeCalls, result.Cycles[0].Scope)
	assert.Equal(t, []string{"r.py::recurse"}, result.Cycles[1].Members)
	assert.True(t, result.Cycles[1].SelfLoop)
}

func TestDetectCircularDependencies_Enumerate(t *testing.T) {
	view := newFixture().
		imports("x.py", "y.py").
		imports("y.py", "x.py").
		imports("y.py", "z.py").
		imports("z.py", "x.py").
		view(t)
	engine := newTestEngine()

	result, err := engine.DetectCircularDependencies(context.Background(), view, CycleOptions{Enumerate: true})
	require.NoError(t, err)
	require.Len(t, result.Cycles, 1)
	assert.Equal(t, [][]string{
		{"x.py", "y.py"},
		{"x.py", "y.py", "z.py"},
	}, result.Cycles[0].Elementary)
	assert.False(t, result.Cycles[0].Truncated)

	capped, err := engine.DetectCircularDependencies(context.Background(), view, CycleOptions{Enumerate: true, MaxCyclesPerComponent: 1})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"x.py", "y.py"}}, capped.Cycles[0].Elementary)
	assert.True(t, capped.Cycles[0].Truncated)

	short, err := engine.DetectCircularDependencies(context.Background(), view, CycleOptions{Enumerate: true, MaxCycleLength: 2})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"x.py", "y.py"}}, short.Cycles[0].Elementary)
	assert.True(t, short.Cycles[0].Truncated)
}

func TestDetectCircularDependencies_DeepChainDoesNotOverflow(t *testing.T) {
	f := newFixture()
	const n = 5000
	for i := 0; i < n; i++ {
		f.imports(fmt.Sprintf("m%05d.py", i), fmt.Sprintf("m%05d.py", (i+1)%n))
	}
	view := f.view(t)

	result, err := newTestEngine().DetectCircularDependencies(context.Background(), view, CycleOptions{})
	require.NoError(t, err)
	require.Len(t, result.Cycles, 1)
	assert.Equal(t, n, result.Cycles[0].Size)
}

func TestDetectCircularDependencies_Errors(t *testing.T) {
	view := newFixture().imports("a.py", "a.py").view(t)
	engine := newTestEngine()

	_, err := engine.DetectCircularDependencies(cancelledContext(), view, CycleOptions{})
	assert.True(t, errors.Is(err, graph.ErrCancelled))

	_, err = engine.DetectCircularDependencies(context.Background(), view, CycleOptions{MaxCycleLength: -1})
	assert.True(t, errors.Is(err, graph.ErrInvalidArgument))
}

func TestDetectCircularDependencies_CancelledMidTraversal(t *testing.T) {
	view := importRing(t, 5000)
	ctx := cancelAfterChecks(3)

	result, err := newTestEngine().DetectCircularDependencies(ctx, view, CycleOptions{Enumerate: true})
	assert.Nil(t, result)
	assert.True(t, errors.Is(err, graph.ErrCancelled), "got %v", err)
	assert.Greater(t, ctx.calls.Load(), int64(3))
}
