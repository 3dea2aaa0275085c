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
	"cmp"
	"context"
	"slices"
	"strings"

	"github.com/AleutianAI/codegraph/services/codegraph/graph"
)

// dependencyKinds are the edge kinds followed by one-hop dependency queries.
var dependencyKinds = []graph.EdgeKind{graph.EdgeKindImports, graph.EdgeKindCalls, graph.EdgeKindInherits}

// Dependency is one neighbor of the queried entity.
type Dependency struct {
	// ID is the neighbor's node ID.
	ID graph.NodeID `json:"id"`

	// Name is the neighbor's qualified name.
	Name string `json:"name"`

	// Kind is the neighbor's kind. Placeholders report NodeKindUnresolved
	// with the kind the edge expected in ExpectedKind.
	Kind         graph.NodeKind `json:"kind"`
	ExpectedKind graph.NodeKind `json:"expected_kind,omitempty"`

	// EdgeKind is the relation connecting the two.
	EdgeKind graph.EdgeKind `json:"edge_kind"`

	// CallCount is set for Calls edges.
	CallCount int `json:"call_count,omitempty"`
}

// DependencyResult is the answer to FindDependencies and FindDependents.
type DependencyResult struct {
	Entity       graph.NodeID `json:"entity"`
	Dependencies []Dependency `json:"dependencies"`
}

// FindDependencies returns the one-hop outgoing Imports, Calls, and
// Inherits neighbors of entity, ordered by (edge kind, name).
//
// Outputs:
//
//	*DependencyResult - Possibly empty list of dependencies.
//	error - graph.ErrNotFound if entity does not resolve,
//	        graph.ErrInvalidArgument if it is empty or ambiguous.
func (e *Engine) FindDependencies(ctx context.Context, view *graph.GraphView, entity string) (*DependencyResult, error) {
	return run(ctx, e, view, "dependencies", entity, func(ctx context.Context) (*DependencyResult, error) {
		return oneHop(view, entity, true)
	})
}

// FindDependents returns the one-hop incoming Imports, Calls, and
// Inherits neighbors of entity, ordered by (edge kind, name).
func (e *Engine) FindDependents(ctx context.Context, view *graph.GraphView, entity string) (*DependencyResult, error) {
	return run(ctx, e, view, "dependents", entity, func(ctx context.Context) (*DependencyResult, error) {
		return oneHop(view, entity, false)
	})
}

func oneHop(view *graph.GraphView, entity string, outgoing bool) (*DependencyResult, error) {
	node, err := view.ResolveName(entity)
	if err != nil {
		return nil, err
	}

	var edges []graph.Edge
	if outgoing {
		edges = view.OutgoingEdges(node.ID, dependencyKinds...)
	} else {
		edges = view.IncomingEdges(node.ID, dependencyKinds...)
	}

	result := &DependencyResult{Entity: node.ID, Dependencies: make([]Dependency, 0, len(edges))}
	for _, edge := range edges {
		otherID := edge.Target
		if !outgoing {
			otherID = edge.Source
		}
		other, err := view.GetNode(otherID)
		if err != nil {
			// Edges never dangle in a published view.
			continue
		}
		result.Dependencies = append(result.Dependencies, Dependency{
			ID:           other.ID,
			Name:         other.QualifiedName,
			Kind:         other.Kind,
			ExpectedKind: other.ExpectedKind,
			EdgeKind:     edge.Kind,
			CallCount:    edge.CallCount,
		})
	}
	slices.SortFunc(result.Dependencies, func(a, b Dependency) int {
		return cmp.Or(
			cmp.Compare(a.EdgeKind, b.EdgeKind),
			strings.Compare(a.Name, b.Name),
			strings.Compare(string(a.ID), string(b.ID)),
		)
	})
	return result, nil
}
