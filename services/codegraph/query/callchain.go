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

// CallPath is one simple path over Calls edges.
type CallPath struct {
	// Nodes are the qualified names along the path, from first to last.
	Nodes []string `json:"nodes"`

	// IDs are the node IDs along the path.
	IDs []graph.NodeID `json:"ids"`

	// Length is the number of edges.
	Length int `json:"length"`
}

// CallChainResult is the answer to TraceCallChain.
type CallChainResult struct {
	From     graph.NodeID `json:"from"`
	To       graph.NodeID `json:"to"`
	MaxDepth int          `json:"max_depth"`
	Paths    []CallPath   `json:"paths"`

	// Truncated is true when the path cap was reached. More paths may exist.
	Truncated bool `json:"truncated"`
}

// TraceCallChain enumerates simple call paths from one function to another.
//
// Description:
//
//	Iterative deepening DFS over Calls edges. Paths are returned shortest
//	first; paths of equal length are ordered by their sequence of
//	qualified names. Intermediate nodes never repeat. A path from a node
//	back to itself exists only through a self-loop or a cycle.
//
//	Branches that cannot reach the target within the remaining depth are
//	pruned using distances from a reverse BFS, so each deepening round
//	only walks nodes that lie on some path of that length.
//
// Inputs:
//
//	from, to - Entity names, resolved with GraphView.ResolveName.
//	maxDepth - Maximum path length in edges. Values above
//	           MaxTraversalDepth are clamped.
//
// Outputs:
//
//	*CallChainResult - Up to CallChainCap paths. Empty when to is
//	                   unreachable within maxDepth.
//	error - graph.ErrNotFound, graph.ErrInvalidArgument, or graph.ErrCancelled.
func (e *Engine) TraceCallChain(ctx context.Context, view *graph.GraphView, from, to string, maxDepth int) (*CallChainResult, error) {
	depth, err := validateDepth(maxDepth)
	if err != nil {
		return nil, err
	}
	args := fmt.Sprintf("%s|%s|%d", from, to, depth)
	return run(ctx, e, view, "callchain", args, func(ctx context.Context) (*CallChainResult, error) {
		src, err := view.ResolveName(from)
		if err != nil {
			return nil, err
		}
		dst, err := view.ResolveName(to)
		if err != nil {
			return nil, err
		}
		t := &chainTracer{
			view:  view,
			to:    dst.ID,
			cap:   e.opts.CallChainCap,
			step:  stepper{ctx: ctx},
			names: make(map[graph.NodeID]string),
		}
		result, err := t.trace(src.ID, depth)
		if err != nil {
			return nil, err
		}
		callChainPaths.Observe(float64(len(result.Paths)))
		return result, nil
	})
}

type chainTracer struct {
	view *graph.GraphView
	to   graph.NodeID
	cap  int
	step stepper

	// dist is the minimum number of Calls edges from a node to the target.
	dist  map[graph.NodeID]int
	names map[graph.NodeID]string

	path    []graph.NodeID
	visited map[graph.NodeID]bool
	found   []CallPath
}

func (t *chainTracer) trace(from graph.NodeID, maxDepth int) (*CallChainResult, error) {
	result := &CallChainResult{From: from, To: t.to, MaxDepth: maxDepth, Paths: []CallPath{}}
	if err := t.distances(maxDepth); err != nil {
		return nil, err
	}

	// The shortest path through from leaves along an edge, so when from
	// equals the target its distance of zero is not a path.
	lower := 1
	if from != t.to {
		d, ok := t.dist[from]
		if !ok {
			return result, nil
		}
		lower = d
	}

	t.visited = map[graph.NodeID]bool{from: true}
	for depth := lower; depth <= maxDepth && len(t.found) < t.cap; depth++ {
		t.path = append(t.path[:0], from)
		if err := t.walk(from, depth); err != nil {
			return nil, err
		}
	}
	result.Paths = t.found
	result.Truncated = len(t.found) >= t.cap
	return result, nil
}

// distances fills dist by BFS over reverse Calls edges from the target.
func (t *chainTracer) distances(maxDepth int) error {
	t.dist = map[graph.NodeID]int{t.to: 0}
	frontier := []graph.NodeID{t.to}
	for d := 1; d <= maxDepth && len(frontier) > 0; d++ {
		var next []graph.NodeID
		for _, id := range frontier {
			for _, pred := range t.view.Predecessors(id, graph.EdgeKindCalls) {
				if err := t.step.step(); err != nil {
					return err
				}
				if _, seen := t.dist[pred]; seen {
					continue
				}
				t.dist[pred] = d
				next = append(next, pred)
			}
		}
		frontier = next
	}
	return nil
}

// walk extends the current path to exactly remaining more edges ending at
// the target. Successors are visited in qualified-name order, so paths of
// one length are produced in lexicographic order and enumeration can stop
// at the cap.
func (t *chainTracer) walk(node graph.NodeID, remaining int) error {
	for _, next := range t.successors(node) {
		if len(t.found) >= t.cap {
			return nil
		}
		if err := t.step.step(); err != nil {
			return err
		}
		if next == t.to {
			if remaining == 1 {
				t.emit(next)
			}
			continue
		}
		if t.visited[next] || remaining == 1 {
			continue
		}
		if d, ok := t.dist[next]; !ok || d > remaining-1 {
			continue
		}
		t.visited[next] = true
		t.path = append(t.path, next)
		err := t.walk(next, remaining-1)
		t.path = t.path[:len(t.path)-1]
		delete(t.visited, next)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *chainTracer) emit(last graph.NodeID) {
	ids := append(slices.Clone(t.path), last)
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = t.name(id)
	}
	t.found = append(t.found, CallPath{Nodes: names, IDs: ids, Length: len(ids) - 1})
}

func (t *chainTracer) successors(id graph.NodeID) []graph.NodeID {
	succ := slices.Clone(t.view.Successors(id, graph.EdgeKindCalls))
	slices.SortFunc(succ, func(a, b graph.NodeID) int {
		if c := strings.Compare(t.name(a), t.name(b)); c != 0 {
			return c
		}
		return strings.Compare(string(a), string(b))
	})
	return succ
}

func (t *chainTracer) name(id graph.NodeID) string {
	if n, ok := t.names[id]; ok {
		return n
	}
	name := string(id)
	if node, err := t.view.GetNode(id); err == nil {
		name = node.QualifiedName
	}
	t.names[id] = name
	return name
}
