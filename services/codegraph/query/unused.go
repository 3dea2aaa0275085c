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
	"fmt"
	"slices"
	"strings"

	"github.com/AleutianAI/codegraph/services/codegraph/graph"
)

// UnusedSymbol is a function or class not reachable from any entry point.
type UnusedSymbol struct {
	ID   graph.NodeID   `json:"id"`
	Name string         `json:"name"`
	Kind graph.NodeKind `json:"kind"`
	File string         `json:"file"`
}

// UnusedResult is the answer to FindUnusedCode.
type UnusedResult struct {
	// EntryPoints are the resolved entry point IDs, sorted.
	EntryPoints []graph.NodeID `json:"entry_points"`

	// Unused lists unreachable functions and classes sorted by name.
	Unused []UnusedSymbol `json:"unused"`

	// Reachable is the number of nodes visited from the entry points.
	Reachable int `json:"reachable"`

	// Warnings describes entry points that could not be resolved.
	Warnings []string `json:"warnings,omitempty"`
}

// FindUnusedCode returns the functions and classes unreachable from the
// entry points over Calls and Imports edges.
//
// Description:
//
//	BFS from every resolvable entry point. Entry points that do not
//	resolve (or resolve ambiguously) become warnings and are left out of
//	the seed set. Placeholders are never reported as unused.
//
// Outputs:
//
//	*UnusedResult - Unused symbols and warnings.
//	error - graph.ErrInvalidArgument for an empty entry point list or an
//	        empty entry point name; graph.ErrCancelled.
func (e *Engine) FindUnusedCode(ctx context.Context, view *graph.GraphView, entryPoints []string) (*UnusedResult, error) {
	if len(entryPoints) == 0 {
		return nil, fmt.Errorf("%w: no entry points", graph.ErrInvalidArgument)
	}
	for _, ep := range entryPoints {
		if strings.TrimSpace(ep) == "" {
			return nil, fmt.Errorf("%w: empty entry point", graph.ErrInvalidArgument)
		}
	}
	sorted := slices.Clone(entryPoints)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	return run(ctx, e, view, "unused", strings.Join(sorted, "\x00"), func(ctx context.Context) (*UnusedResult, error) {
		return findUnused(ctx, view, sorted)
	})
}

func findUnused(ctx context.Context, view *graph.GraphView, entryPoints []string) (*UnusedResult, error) {
	result := &UnusedResult{EntryPoints: []graph.NodeID{}, Unused: []UnusedSymbol{}}
	visited := make(map[graph.NodeID]bool)
	var queue []graph.NodeID

	for _, ep := range entryPoints {
		node, err := view.ResolveName(ep)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("entry point %q: %v", ep, err))
			continue
		}
		if visited[node.ID] {
			continue
		}
		visited[node.ID] = true
		queue = append(queue, node.ID)
		result.EntryPoints = append(result.EntryPoints, node.ID)
	}
	slices.Sort(result.EntryPoints)

	step := stepper{ctx: ctx}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, kind := range []graph.EdgeKind{graph.EdgeKindImports, graph.EdgeKindCalls} {
			for _, next := range view.Successors(id, kind) {
				if err := step.step(); err != nil {
					return nil, err
				}
				if !visited[next] {
					visited[next] = true
					queue = append(queue, next)
				}
			}
		}
	}
	result.Reachable = len(visited)

	for _, kind := range []graph.NodeKind{graph.NodeKindFunction, graph.NodeKindClass} {
		for _, n := range view.NodesOfKind(kind) {
			if visited[n.ID] {
				continue
			}
			result.Unused = append(result.Unused, UnusedSymbol{
				ID:   n.ID,
				Name: n.QualifiedName,
				Kind: n.Kind,
				File: n.Owner,
			})
		}
	}
	slices.SortFunc(result.Unused, func(a, b UnusedSymbol) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(string(a.ID), string(b.ID))
	})
	return result, nil
}
