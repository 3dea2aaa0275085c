// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"fmt"
	"slices"
	"strings"
)

// GraphView is an immutable point-in-time view of a Store.
//
// Description:
//
//	Every query and traversal runs against a GraphView. The view shares
//	unchanged table shards with other versions but is never modified, so
//	it stays consistent no matter how many updates land afterwards.
//
//	Nodes and slices returned by a view are shared with the store and
//	MUST NOT be mutated by callers.
//
// Thread Safety: Safe for concurrent use.
type GraphView struct {
	storeID string
	version uint64
	st      *state
}

// ViewStats summarizes a view.
type ViewStats struct {
	StoreID      string `json:"store_id"`
	Version      uint64 `json:"version"`
	Nodes        int    `json:"nodes"`
	Edges        int    `json:"edges"`
	Placeholders int    `json:"placeholders"`
	Files        int    `json:"files"`
}

// StoreID returns the ID of the store that produced this view.
func (v *GraphView) StoreID() string {
	return v.storeID
}

// Version returns the store version this view captures. Versions
// increase by one per published mutation.
func (v *GraphView) Version() uint64 {
	return v.version
}

// Stats returns node, edge, placeholder, and file counts.
func (v *GraphView) Stats() ViewStats {
	return ViewStats{
		StoreID:      v.storeID,
		Version:      v.version,
		Nodes:        v.st.nodes.len(),
		Edges:        v.st.edges.len(),
		Placeholders: v.st.placeholders,
		Files:        v.st.files.len(),
	}
}

// GetNode returns the node with the given ID.
//
// Outputs:
//
//	*Node - The node (real or placeholder). Must not be mutated.
//	error - ErrNotFound if no such node exists.
func (v *GraphView) GetNode(id NodeID) (*Node, error) {
	n, ok := v.st.nodes.get(id)
	if !ok {
		return nil, fmt.Errorf("%w: node %s", ErrNotFound, id)
	}
	return n, nil
}

// HasNode reports whether a node with the given ID exists.
func (v *GraphView) HasNode(id NodeID) bool {
	_, ok := v.st.nodes.get(id)
	return ok
}

// Edge returns the edge with the given key.
func (v *GraphView) Edge(k EdgeKey) (*Edge, bool) {
	return v.st.edges.get(k)
}

// OutgoingEdges returns the edges leaving id, restricted to kinds (all
// kinds when none are given), ordered by kind then target ID.
//
// Cost is O(degree). Unknown IDs yield an empty result.
func (v *GraphView) OutgoingEdges(id NodeID, kinds ...EdgeKind) []Edge {
	var out []Edge
	for _, kind := range normalizeKinds(kinds) {
		for _, target := range indexGet(&v.st.adj, adjKey{node: id, kind: kind, dir: dirOut}) {
			if e, ok := v.st.edges.get(EdgeKey{Source: id, Target: target, Kind: kind}); ok {
				out = append(out, *e)
			}
		}
	}
	return out
}

// IncomingEdges returns the edges entering id, restricted to kinds (all
// kinds when none are given), ordered by kind then source ID.
func (v *GraphView) IncomingEdges(id NodeID, kinds ...EdgeKind) []Edge {
	var out []Edge
	for _, kind := range normalizeKinds(kinds) {
		for _, source := range indexGet(&v.st.adj, adjKey{node: id, kind: kind, dir: dirIn}) {
			if e, ok := v.st.edges.get(EdgeKey{Source: source, Target: id, Kind: kind}); ok {
				out = append(out, *e)
			}
		}
	}
	return out
}

// Successors returns the sorted IDs reachable from id over one edge of
// the given kind. The slice is shared and must not be modified.
func (v *GraphView) Successors(id NodeID, kind EdgeKind) []NodeID {
	return indexGet(&v.st.adj, adjKey{node: id, kind: kind, dir: dirOut})
}

// Predecessors returns the sorted IDs with an edge of the given kind
// into id. The slice is shared and must not be modified.
func (v *GraphView) Predecessors(id NodeID, kind EdgeKind) []NodeID {
	return indexGet(&v.st.adj, adjKey{node: id, kind: kind, dir: dirIn})
}

// ResolveName maps a user-supplied name to a node.
//
// Description:
//
//	Tries, in order: an exact NodeID, a qualified name, then a short
//	name. Within a step, real nodes win over placeholders.
//
// Outputs:
//
//	*Node - The resolved node.
//	error - ErrInvalidArgument for an empty or ambiguous name,
//	        ErrNotFound when nothing matches.
func (v *GraphView) ResolveName(name string) (*Node, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: empty entity name", ErrInvalidArgument)
	}
	if n, ok := v.st.nodes.get(NodeID(name)); ok {
		return n, nil
	}
	if n, err := v.pick(name, indexGet(&v.st.qualified, nameKey(name))); n != nil || err != nil {
		return n, err
	}
	if n, err := v.pick(name, indexGet(&v.st.short, nameKey(name))); n != nil || err != nil {
		return n, err
	}
	return nil, fmt.Errorf("%w: entity %q", ErrNotFound, name)
}

func (v *GraphView) pick(name string, ids []NodeID) (*Node, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var real, all []*Node
	for _, id := range ids {
		n, ok := v.st.nodes.get(id)
		if !ok {
			continue
		}
		all = append(all, n)
		if !n.IsPlaceholder() {
			real = append(real, n)
		}
	}
	candidates := real
	if len(candidates) == 0 {
		candidates = all
	}
	switch len(candidates) {
	case 0:
		return nil, nil
	case 1:
		return candidates[0], nil
	}
	names := make([]string, len(candidates))
	for i, n := range candidates {
		names[i] = string(n.ID)
	}
	return nil, fmt.Errorf("%w: %q is ambiguous: %s", ErrInvalidArgument, name, strings.Join(names, ", "))
}

// Nodes returns every node sorted by ID.
func (v *GraphView) Nodes() []*Node {
	out := make([]*Node, 0, v.st.nodes.len())
	v.st.nodes.each(func(_ NodeID, n *Node) bool {
		out = append(out, n)
		return true
	})
	slices.SortFunc(out, func(a, b *Node) int { return strings.Compare(string(a.ID), string(b.ID)) })
	return out
}

// NodesOfKind returns every node of the given kind sorted by ID.
// Placeholders are only returned for NodeKindUnresolved.
func (v *GraphView) NodesOfKind(kind NodeKind) []*Node {
	var out []*Node
	v.st.nodes.each(func(_ NodeID, n *Node) bool {
		if n.Kind == kind {
			out = append(out, n)
		}
		return true
	})
	slices.SortFunc(out, func(a, b *Node) int { return strings.Compare(string(a.ID), string(b.ID)) })
	return out
}

// Edges returns every edge sorted by key.
func (v *GraphView) Edges() []*Edge {
	out := make([]*Edge, 0, v.st.edges.len())
	v.st.edges.each(func(_ EdgeKey, e *Edge) bool {
		out = append(out, e)
		return true
	})
	slices.SortFunc(out, func(a, b *Edge) int { return a.Key().Compare(b.Key()) })
	return out
}

// Files returns the paths of all ingested files, sorted.
func (v *GraphView) Files() []string {
	out := make([]string, 0, v.st.files.len())
	v.st.files.each(func(p pathKey, _ *provenance) bool {
		out = append(out, string(p))
		return true
	})
	slices.Sort(out)
	return out
}

// HasFile reports whether path has been ingested.
func (v *GraphView) HasFile(path string) bool {
	_, ok := v.st.files.get(pathKey(path))
	return ok
}

// FileProvenance returns the node IDs and edge keys owned by path.
//
// Outputs:
//
//	nodes, edges - Sorted; shared and must not be modified.
//	error - ErrNotFound if path has not been ingested.
func (v *GraphView) FileProvenance(path string) ([]NodeID, []EdgeKey, error) {
	prov, ok := v.st.files.get(pathKey(path))
	if !ok {
		return nil, nil, fmt.Errorf("%w: file %s", ErrNotFound, path)
	}
	return prov.Nodes, prov.Edges, nil
}

// normalizeKinds returns kinds sorted and deduplicated, dropping invalid
// values. An empty input means every kind.
func normalizeKinds(kinds []EdgeKind) []EdgeKind {
	if len(kinds) == 0 {
		return AllEdgeKinds
	}
	out := make([]EdgeKind, 0, len(kinds))
	for _, k := range kinds {
		if k.Valid() {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
