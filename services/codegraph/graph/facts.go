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

type normalizedEdge struct {
	source NodeRef
	target NodeRef
	edge   *Edge
}

// normalizedFacts is FileFacts after validation, ID assignment, and
// aggregation of repeated edges. Nodes are sorted by ID, edges by key.
type normalizedFacts struct {
	nodes []*Node
	edges []normalizedEdge
}

// normalizeFacts validates facts and converts them into stored form.
//
// Duplicate node definitions keep the last one. Repeated edges with the
// same (source, target, kind) aggregate: call counts sum, operations OR.
func normalizeFacts(path string, facts *FileFacts) (*normalizedFacts, error) {
	nodes := make(map[NodeID]*Node, len(facts.Nodes)+1)
	for i := range facts.Nodes {
		n, err := normalizeNode(path, &facts.Nodes[i])
		if err != nil {
			return nil, err
		}
		nodes[n.ID] = n
	}

	fileID := MakeNodeID(NodeKindFile, path)
	if _, ok := nodes[fileID]; !ok {
		nodes[fileID] = &Node{
			ID:            fileID,
			Kind:          NodeKindFile,
			QualifiedName: path,
			Name:          ShortName(NodeKindFile, path),
			Owner:         path,
			File:          &FileAttrs{},
		}
	}

	edges := make(map[EdgeKey]*normalizedEdge, len(facts.Edges))
	for i := range facts.Edges {
		ef := &facts.Edges[i]
		if err := validateEdgeFact(ef); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		k := EdgeKey{Source: ef.Source.ID(), Target: ef.Target.ID(), Kind: ef.Kind}
		count := 0
		if ef.Kind == EdgeKindCalls {
			count = max(ef.CallCount, 1)
		}
		var ops TableOps
		if ef.Kind == EdgeKindModifies {
			ops = ef.Operations
		}
		if existing, ok := edges[k]; ok {
			existing.edge.CallCount += count
			existing.edge.Operations |= ops
			continue
		}
		edges[k] = &normalizedEdge{
			source: ef.Source,
			target: ef.Target,
			edge: &Edge{
				Source:     k.Source,
				Target:     k.Target,
				Kind:       k.Kind,
				CallCount:  count,
				Operations: ops,
				Owner:      path,
			},
		}
	}

	out := &normalizedFacts{
		nodes: make([]*Node, 0, len(nodes)),
		edges: make([]normalizedEdge, 0, len(edges)),
	}
	for _, n := range nodes {
		out.nodes = append(out.nodes, n)
	}
	for _, e := range edges {
		out.edges = append(out.edges, *e)
	}
	slices.SortFunc(out.nodes, func(a, b *Node) int { return strings.Compare(string(a.ID), string(b.ID)) })
	slices.SortFunc(out.edges, func(a, b normalizedEdge) int { return a.edge.Key().Compare(b.edge.Key()) })
	return out, nil
}

func normalizeNode(path string, f *Node) (*Node, error) {
	if !f.Kind.definable() {
		return nil, fmt.Errorf("%w: %s: node %q has kind %s", ErrInvalidArgument, path, f.QualifiedName, f.Kind)
	}
	if f.QualifiedName == "" {
		return nil, fmt.Errorf("%w: %s: node of kind %s has empty qualified name", ErrInvalidArgument, path, f.Kind)
	}
	if f.Kind == NodeKindFile && f.QualifiedName != path {
		return nil, fmt.Errorf("%w: %s: file node for other path %q", ErrInvalidArgument, path, f.QualifiedName)
	}
	pk, err := f.payloadKind()
	if err != nil {
		return nil, err
	}
	if pk != NodeKindUnknown && pk != f.Kind {
		return nil, fmt.Errorf("%w: %s: node %q of kind %s carries %s payload", ErrInvalidArgument, path, f.QualifiedName, f.Kind, pk)
	}

	n := &Node{
		ID:            MakeNodeID(f.Kind, f.QualifiedName),
		Kind:          f.Kind,
		QualifiedName: f.QualifiedName,
		Name:          f.Name,
		Owner:         path,
	}
	if n.Name == "" {
		n.Name = ShortName(f.Kind, f.QualifiedName)
	}
	// Payloads are copied so later caller mutation cannot reach the store.
	switch {
	case f.File != nil:
		attrs := *f.File
		n.File = &attrs
	case f.Function != nil:
		attrs := *f.Function
		n.Function = &attrs
	case f.Class != nil:
		attrs := *f.Class
		n.Class = &attrs
	case f.Variable != nil:
		attrs := *f.Variable
		n.Variable = &attrs
	case f.Table != nil:
		attrs := *f.Table
		attrs.Columns = slices.Clone(f.Table.Columns)
		n.Table = &attrs
	}
	return n, nil
}

func validateEdgeFact(ef *EdgeFact) error {
	if !ef.Kind.Valid() {
		return fmt.Errorf("%w: edge kind %d", ErrInvalidArgument, ef.Kind)
	}
	for _, ref := range []NodeRef{ef.Source, ef.Target} {
		if !ref.Kind.definable() || ref.QualifiedName == "" {
			return fmt.Errorf("%w: edge %s endpoint %s:%q", ErrInvalidArgument, ef.Kind, ref.Kind, ref.QualifiedName)
		}
	}
	if ef.CallCount < 0 {
		return fmt.Errorf("%w: negative call count on %s edge", ErrInvalidArgument, ef.Kind)
	}
	return nil
}
