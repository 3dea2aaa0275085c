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
	"fmt"
	"slices"
	"strings"

	"github.com/AleutianAI/codegraph/services/codegraph/graph"
)

// CycleScope names the subgraph a cycle was found in.
type CycleScope string

const (
	// ScopeImports is the Imports subgraph over File nodes.
	ScopeImports CycleScope = "imports"

	// ScopeCalls is the Calls subgraph over Function nodes.
	ScopeCalls CycleScope = "calls"
)

// CycleOptions controls DetectCircularDependencies.
type CycleOptions struct {
	// Enumerate lists elementary cycles inside each component. Off by
	// default: the number of elementary cycles is exponential in the
	// worst case.
	Enumerate bool `json:"enumerate"`

	// MaxCyclesPerComponent bounds enumeration per component.
	// Zero uses the engine default.
	MaxCyclesPerComponent int `json:"max_cycles_per_component,omitempty"`

	// MaxCycleLength bounds the length of an enumerated cycle.
	// Zero uses the engine default.
	MaxCycleLength int `json:"max_cycle_length,omitempty"`
}

// Cycle is a strongly connected component of size greater than one, or a
// single node with a self-loop.
type Cycle struct {
	Scope CycleScope `json:"scope"`

	// Members are the qualified names in the component, sorted.
	Members []string `json:"members"`

	// IDs are the member node IDs, in the same order as Members.
	IDs []graph.NodeID `json:"ids"`

	Size     int  `json:"size"`
	SelfLoop bool `json:"self_loop,omitempty"`

	// Elementary lists cycles as name sequences without repeating the
	// first node. Only set when enumeration was requested.
	Elementary [][]string `json:"elementary,omitempty"`

	// Truncated is true when enumeration stopped at a bound.
	Truncated bool `json:"truncated,omitempty"`
}

// CycleResult is the answer to DetectCircularDependencies.
type CycleResult struct {
	// Cycles lists import cycles first, then call cycles. Within a scope,
	// larger components come first; ties are ordered by first member.
	Cycles []Cycle `json:"cycles"`

	ImportCycles int `json:"import_cycles"`
	CallCycles   int `json:"call_cycles"`
}

// DetectCircularDependencies reports cyclic components in the Imports
// subgraph over File nodes and in the Calls subgraph over Function nodes.
//
// Description:
//
//	Uses Tarjan's strongly connected components algorithm with an
//	explicit call stack, so deep graphs cannot overflow the goroutine
//	stack. Components are reported by membership. Elementary cycles are
//	listed only when opts.Enumerate is set, bounded per component by
//	MaxCyclesPerComponent and MaxCycleLength.
//
//	Time complexity: O(V + E) without enumeration.
//
// Outputs:
//
//	*CycleResult - Empty Cycles for an acyclic graph.
//	error - graph.ErrCancelled if ctx is cancelled during traversal.
func (e *Engine) DetectCircularDependencies(ctx context.Context, view *graph.GraphView, opts CycleOptions) (*CycleResult, error) {
	if opts.MaxCyclesPerComponent < 0 || opts.MaxCycleLength < 0 {
		return nil, fmt.Errorf("%w: negative cycle enumeration bound", graph.ErrInvalidArgument)
	}
	if opts.MaxCyclesPerComponent == 0 {
		opts.MaxCyclesPerComponent = e.opts.MaxCyclesPerComponent
	}
	if opts.MaxCycleLength == 0 {
		opts.MaxCycleLength = e.opts.MaxCycleLength
	}
	args := fmt.Sprintf("%t|%d|%d", opts.Enumerate, opts.MaxCyclesPerComponent, opts.MaxCycleLength)

	return run(ctx, e, view, "cycles", args, func(ctx context.Context) (*CycleResult, error) {
		result := &CycleResult{Cycles: []Cycle{}}
		step := &stepper{ctx: ctx}

		imports, err := findCycles(view, step, ScopeImports, graph.EdgeKindImports, graph.NodeKindFile, opts)
		if err != nil {
			return nil, err
		}
		calls, err := findCycles(view, step, ScopeCalls, graph.EdgeKindCalls, graph.NodeKindFunction, opts)
		if err != nil {
			return nil, err
		}

		result.ImportCycles = len(imports)
		result.CallCycles = len(calls)
		result.Cycles = append(result.Cycles, imports...)
		result.Cycles = append(result.Cycles, calls...)
		cyclesFound.WithLabelValues(string(ScopeImports)).Add(float64(len(imports)))
		cyclesFound.WithLabelValues(string(ScopeCalls)).Add(float64(len(calls)))
		return result, nil
	})
}

// sccGraph is the subgraph of one edge kind restricted to one node kind.
type sccGraph struct {
	view     *graph.GraphView
	edgeKind graph.EdgeKind
	nodeKind graph.NodeKind
}

func (g sccGraph) includes(id graph.NodeID) bool {
	n, err := g.view.GetNode(id)
	return err == nil && n.EffectiveKind() == g.nodeKind
}

// successors returns the in-subgraph successors of id in ID order.
func (g sccGraph) successors(id graph.NodeID) []graph.NodeID {
	all := g.view.Successors(id, g.edgeKind)
	out := make([]graph.NodeID, 0, len(all))
	for _, s := range all {
		if g.includes(s) {
			out = append(out, s)
		}
	}
	return out
}

func (g sccGraph) selfLoop(id graph.NodeID) bool {
	_, ok := g.view.Edge(graph.EdgeKey{Source: id, Target: id, Kind: g.edgeKind})
	return ok
}

func findCycles(view *graph.GraphView, step *stepper, scope CycleScope, edgeKind graph.EdgeKind, nodeKind graph.NodeKind, opts CycleOptions) ([]Cycle, error) {
	g := sccGraph{view: view, edgeKind: edgeKind, nodeKind: nodeKind}

	var roots []graph.NodeID
	for _, n := range view.Nodes() {
		if n.EffectiveKind() == nodeKind {
			roots = append(roots, n.ID)
		}
	}

	sccs, err := tarjan(g, roots, step)
	if err != nil {
		return nil, err
	}

	var cycles []Cycle
	for _, scc := range sccs {
		selfLoop := len(scc) == 1 && g.selfLoop(scc[0])
		if len(scc) < 2 && !selfLoop {
			continue
		}
		c := Cycle{Scope: scope, Size: len(scc), SelfLoop: selfLoop}
		c.IDs, c.Members = namedMembers(view, scc)
		if opts.Enumerate {
			c.Elementary, c.Truncated, err = enumerateCycles(g, c.IDs, step, opts)
			if err != nil {
				return nil, err
			}
		}
		cycles = append(cycles, c)
	}
	slices.SortFunc(cycles, func(a, b Cycle) int {
		return cmp.Or(cmp.Compare(b.Size, a.Size), strings.Compare(a.Members[0], b.Members[0]))
	})
	return cycles, nil
}

// namedMembers sorts component members by qualified name.
func namedMembers(view *graph.GraphView, scc []graph.NodeID) ([]graph.NodeID, []string) {
	type member struct {
		id   graph.NodeID
		name string
	}
	members := make([]member, len(scc))
	for i, id := range scc {
		members[i] = member{id: id, name: string(id)}
		if n, err := view.GetNode(id); err == nil {
			members[i].name = n.QualifiedName
		}
	}
	slices.SortFunc(members, func(a, b member) int {
		return cmp.Or(strings.Compare(a.name, b.name), strings.Compare(string(a.id), string(b.id)))
	})
	ids := make([]graph.NodeID, len(members))
	names := make([]string, len(members))
	for i, m := range members {
		ids[i], names[i] = m.id, m.name
	}
	return ids, names
}

// tarjan returns the strongly connected components of g reachable from
// roots, in the order Tarjan's algorithm completes them.
func tarjan(g sccGraph, roots []graph.NodeID, step *stepper) ([][]graph.NodeID, error) {
	index := 0
	nodeIndex := make(map[graph.NodeID]int)
	lowLink := make(map[graph.NodeID]int)
	onStack := make(map[graph.NodeID]bool)
	var sccStack []graph.NodeID
	var sccs [][]graph.NodeID

	// callFrame replaces one recursive strongconnect call.
	type callFrame struct {
		node  graph.NodeID
		succ  []graph.NodeID
		next  int
		child graph.NodeID
	}

	for _, root := range roots {
		if _, seen := nodeIndex[root]; seen {
			continue
		}
		stack := []callFrame{{node: root}}
		nodeIndex[root], lowLink[root] = index, index
		index++
		sccStack = append(sccStack, root)
		onStack[root] = true
		stack[0].succ = g.successors(root)

		for len(stack) > 0 {
			if err := step.step(); err != nil {
				return nil, err
			}
			frame := &stack[len(stack)-1]

			if frame.child != "" {
				lowLink[frame.node] = min(lowLink[frame.node], lowLink[frame.child])
				frame.child = ""
			}

			if frame.next < len(frame.succ) {
				w := frame.succ[frame.next]
				frame.next++
				if _, seen := nodeIndex[w]; !seen {
					frame.child = w
					nodeIndex[w], lowLink[w] = index, index
					index++
					sccStack = append(sccStack, w)
					onStack[w] = true
					stack = append(stack, callFrame{node: w, succ: g.successors(w)})
				} else if onStack[w] {
					lowLink[frame.node] = min(lowLink[frame.node], nodeIndex[w])
				}
				continue
			}

			// All successors done: pop a component if this is its root.
			v := frame.node
			if lowLink[v] == nodeIndex[v] {
				var scc []graph.NodeID
				for {
					w := sccStack[len(sccStack)-1]
					sccStack = sccStack[:len(sccStack)-1]
					onStack[w] = false
					scc = append(scc, w)
					if w == v {
						break
					}
				}
				sccs = append(sccs, scc)
			}
			stack = stack[:len(stack)-1]
		}
	}
	return sccs, nil
}

// enumerateCycles lists elementary cycles inside one component with a
// bounded DFS. Each cycle is reported once, starting from its member that
// sorts first; members are visited in sorted order, so output is
// deterministic.
func enumerateCycles(g sccGraph, members []graph.NodeID, step *stepper, opts CycleOptions) ([][]string, bool, error) {
	rank := make(map[graph.NodeID]int, len(members))
	for i, id := range members {
		rank[id] = i
	}
	names := make(map[graph.NodeID]string, len(members))
	for _, id := range members {
		names[id] = string(id)
		if n, err := g.view.GetNode(id); err == nil {
			names[id] = n.QualifiedName
		}
	}

	var cycles [][]string
	truncated := false
	var path []graph.NodeID
	onPath := make(map[graph.NodeID]bool)

	var dfs func(start, node graph.NodeID) error
	dfs = func(start, node graph.NodeID) error {
		for _, next := range g.successors(node) {
			if err := step.step(); err != nil {
				return err
			}
			r, inComponent := rank[next]
			if !inComponent || r < rank[start] {
				continue
			}
			if next == start {
				if len(cycles) >= opts.MaxCyclesPerComponent {
					truncated = true
					return nil
				}
				cycle := make([]string, len(path))
				for i, id := range path {
					cycle[i] = names[id]
				}
				cycles = append(cycles, cycle)
				continue
			}
			if onPath[next] {
				continue
			}
			if len(path) >= opts.MaxCycleLength {
				truncated = true
				continue
			}
			onPath[next] = true
			path = append(path, next)
			err := dfs(start, next)
			path = path[:len(path)-1]
			onPath[next] = false
			if err != nil {
				return err
			}
			if truncated && len(cycles) >= opts.MaxCyclesPerComponent {
				return nil
			}
		}
		return nil
	}

	for _, start := range members {
		path = append(path[:0], start)
		onPath[start] = true
		err := dfs(start, start)
		onPath[start] = false
		if err != nil {
			return nil, false, err
		}
		if truncated && len(cycles) >= opts.MaxCyclesPerComponent {
			break
		}
	}
	return cycles, truncated, nil
}
