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

func chainFixture() *fixture {
	return newFixture().
		imports("a.py", "b.py").
		imports("b.py", "c.py").
		fn("c.py", "leaf")
}

func TestCalculateImpactRadius_Chain(t *testing.T) {
	view := chainFixture().view(t)

	result, err := newTestEngine().CalculateImpactRadius(context.Background(), view, []string{"c.py"}, 2)
	require.NoError(t, err)
	assert.Equal(t, map[int][]string{1: {"b.py"}, 2: {"a.py"}}, result.ByDepth)
	assert.Equal(t, 2, result.AffectedCount)
	assert.Equal(t, []string{"b.py"}, result.DirectlyAffected)
	assert.Equal(t, []string{"a.py"}, result.IndirectlyAffected)
	assert.Equal(t, []string{"c.py"}, result.ChangedFiles)
	assert.Equal(t, RiskLow, result.Risk)
}

func TestCalculateImpactRadius_MultiSourceMinimumDepth(t *testing.T) {
	// a imports b and c; b imports c. Changing b and c puts a at depth 1.
	view := newFixture().
		imports("a.py", "b.py").
		imports("a.py", "c.py").
		imports("b.py", "c.py").
		fn("c.py", "leaf").
		view(t)

	result, err := newTestEngine().CalculateImpactRadius(context.Background(), view, []string{"c.py", "b.py"}, 3)
	require.NoError(t, err)
	assert.Equal(t, map[int][]string{1: {"a.py"}}, result.ByDepth)
	assert.Equal(t, 1, result.AffectedCount)
}

func TestCalculateImpactRadius_Monotonic(t *testing.T) {
	f := newFixture()
	for i := 0; i < 6; i++ {
		f.imports(fmt.Sprintf("f%d.py", i+1), fmt.Sprintf("f%d.py", i))
	}
	view := f.view(t)
	engine := newTestEngine()

	var previous map[string]bool
	for depth := 0; depth <= 7; depth++ {
		result, err := engine.CalculateImpactRadius(context.Background(), view, []string{"f0.py"}, depth)
		require.NoError(t, err)
		current := map[string]bool{}
		for _, files := range result.ByDepth {
			for _, f := range files {
				current[f] = true
			}
		}
		assert.Equal(t, min(depth, 6), result.AffectedCount)
		for f := range previous {
			assert.True(t, current[f], "depth %d lost %s", depth, f)
		}
		previous = current
	}
}

func TestCalculateImpactRadius_Risk(t *testing.T) {
	f := newFixture().fn("core.py", "x")
	for i := 0; i < 6; i++ {
		f.imports(fmt.Sprintf("user%d.py", i), "core.py")
	}
	view := f.view(t)

	result, err := newTestEngine().CalculateImpactRadius(context.Background(), view, []string{"core.py"}, 1)
	require.NoError(t, err)
	assert.Equal(t, 6, result.AffectedCount)
	assert.Equal(t, RiskMedium, result.Risk)

	strict := newTestEngine(WithRiskThresholds(RiskThresholds{Low: 2, Medium: 4}))
	result, err = strict.CalculateImpactRadius(context.Background(), view, []string{"core.py"}, 1)
	require.NoError(t, err)
	assert.Equal(t, RiskHigh, result.Risk)
}

func TestRiskThresholds_Classify(t *testing.T) {
	th := DefaultRiskThresholds()
	assert.Equal(t, RiskLow, th.Classify(0))
	assert.Equal(t, RiskLow, th.Classify(4))
	assert.Equal(t, RiskMedium, th.Classify(5))
	assert.Equal(t, RiskMedium, th.Classify(19))
	assert.Equal(t, RiskHigh, th.Classify(20))

	assert.Error(t, RiskThresholds{Low: 5, Medium: 5}.Validate())
	assert.Error(t, RiskThresholds{Low: 0, Medium: 5}.Validate())
	assert.NoError(t, th.Validate())
}

func TestCalculateImpactRadius_PlaceholderFile(t *testing.T) {
	view := newFixture().imports("a.py", "external.py").view(t)

	result, err := newTestEngine().CalculateImpactRadius(context.Background(), view, []string{"external.py"}, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.py"}, result.DirectlyAffected)
}

func TestCalculateImpactRadius_Errors(t *testing.T) {
	view := chainFixture().view(t)
	engine := newTestEngine()
	ctx := context.Background()

	_, err := engine.CalculateImpactRadius(ctx, view, nil, 2)
	assert.True(t, errors.Is(err, graph.ErrInvalidArgument))

	_, err = engine.CalculateImpactRadius(ctx, view, []string{"c.py"}, -1)
	assert.True(t, errors.Is(err, graph.ErrInvalidArgument))

	_, err = engine.CalculateImpactRadius(ctx, view, []string{""}, 1)
	assert.True(t, errors.Is(err, graph.ErrInvalidArgument))

	_, err = engine.CalculateImpactRadius(ctx, view, []string{"missing.py"}, 1)
	assert.True(t, errors.Is(err, graph.ErrNotFound))

	_, err = engine.CalculateImpactRadius(ctx, view, []string{"c.py::leaf"}, 1)
	assert.True(t, errors.Is(err, graph.ErrInvalidArgument))
}
