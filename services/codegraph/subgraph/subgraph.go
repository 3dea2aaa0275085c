// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package subgraph extracts bounded neighborhoods of a graph view for
// context injection.
package subgraph

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/codegraph/services/codegraph/graph"
)

// MaxSubgraphNodes is the ceiling applied to every max_nodes argument.
const MaxSubgraphNodes = 10000

// contextCheckInterval is how often the BFS polls for cancellation.
const contextCheckInterval = 64

var tracer = otel.Tracer("codegraph.subgraph")

// Subgraph is a bounded neighborhood of the seed entities.
type Subgraph struct {
	// Seeds are the resolved seed IDs in caller order, duplicates removed.
	Seeds []graph.NodeID `json:"seeds"`

	// Nodes are in visit order. They are shared with the view and must
	// not be mutated.
	Nodes []*graph.Node `json:"nodes"`

	// Edges are the edges with both endpoints in Nodes, sorted by key.
	Edges []graph.Edge `json:"edges"`

	// Depth maps each node to the BFS depth it was visited at.
	Depth map[graph.NodeID]int `json:"depth"`

	MaxDepth int `json:"max_depth"`
	MaxNodes int `json:"max_nodes"`

	// Truncated is true when the node cap stopped expansion.
	Truncated bool `json:"truncated"`

	// Warnings describes seeds that did not resolve.
	Warnings []string `json:"warnings,omitempty"`
}

// Options configures an Extractor.
type Options struct {
	// HardMaxNodes clamps every request's max_nodes.
	// Default: MaxSubgraphNodes
	HardMaxNodes int

	// Logger receives debug output.
	// Default: slog.Default()
	Logger *slog.Logger
}

// Option is a functional option for configuring Extractor.
type Option func(*Options)

// WithHardMaxNodes lowers the node ceiling. Values outside
// 1..MaxSubgraphNodes are ignored.
func WithHardMaxNodes(n int) Option {
	return func(o *Options) {
		if n > 0 && n <= MaxSubgraphNodes {
			o.HardMaxNodes = n
		}
	}
}

// WithLogger sets the extractor logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// Extractor builds subgraphs. It holds no per-request state and is safe
// for concurrent use.
type Extractor struct {
	opts Options
}

// NewExtractor creates an Extractor.
func NewExtractor(opts ...Option) *Extractor {
	options := Options{HardMaxNodes: MaxSubgraphNodes, Logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	return &Extractor{opts: options}
}

type queued struct {
	id    graph.NodeID
	depth int
}

// ExtractRelevant returns the neighborhood of seeds up to maxDepth hops
// over edges of any kind in either direction, capped at maxNodes nodes.
//
// Description:
//
//	Multi-source FIFO BFS. Seeds are enqueued first at depth 0 in caller
//	order, so every resolvable seed is included whenever there are no
//	more seeds than maxNodes. Neighbors are enqueued in edge order
//	(outgoing then incoming, each by kind then ID). The cap is a hard
//	stop: once maxNodes nodes are collected nothing else is added.
//	Identical inputs on identical views give identical output.
//
// Inputs:
//
//	seeds - Entity names resolved with GraphView.ResolveName.
//	maxDepth - Hops from the nearest seed. Must be >= 0.
//	maxNodes - Node cap. Must be > 0; clamped to the hard ceiling.
//
// Outputs:
//
//	*Subgraph - Nodes, induced edges, and seed warnings.
//	error - graph.ErrInvalidArgument for malformed input,
//	        graph.ErrNotFound if no seed resolves, graph.ErrCancelled.
func (x *Extractor) ExtractRelevant(ctx context.Context, view *graph.GraphView, seeds []string, maxDepth, maxNodes int) (*Subgraph, error) {
	if view == nil {
		return nil, fmt.Errorf("%w: nil graph view", graph.ErrInvalidArgument)
	}
	if len(seeds) == 0 {
		return nil, fmt.Errorf("%w: no seed entities", graph.ErrInvalidArgument)
	}
	if maxDepth < 0 {
		return nil, fmt.Errorf("%w: negative depth %d", graph.ErrInvalidArgument, maxDepth)
	}
	if maxNodes <= 0 {
		return nil, fmt.Errorf("%w: max_nodes must be positive, got %d", graph.ErrInvalidArgument, maxNodes)
	}
	for _, s := range seeds {
		if strings.TrimSpace(s) == "" {
			return nil, fmt.Errorf("%w: empty seed entity", graph.ErrInvalidArgument)
		}
	}
	if err := graph.CheckContext(ctx); err != nil {
		return nil, err
	}
	maxNodes = min(maxNodes, x.opts.HardMaxNodes)

	ctx, span := tracer.Start(ctx, "subgraph.ExtractRelevant")
	defer span.End()
	span.SetAttributes(
		attribute.Int("subgraph.seeds", len(seeds)),
		attribute.Int("subgraph.max_depth", maxDepth),
		attribute.Int("subgraph.max_nodes", maxNodes),
	)

	sg := &Subgraph{
		Nodes:    []*graph.Node{},
		Edges:    []graph.Edge{},
		Depth:    map[graph.NodeID]int{},
		MaxDepth: maxDepth,
		MaxNodes: maxNodes,
	}

	var queue []queued
	seen := make(map[graph.NodeID]bool)
	for _, s := range seeds {
		node, err := view.ResolveName(s)
		if err != nil {
			sg.Warnings = append(sg.Warnings, fmt.Sprintf("seed %q: %v", s, err))
			continue
		}
		if seen[node.ID] {
			continue
		}
		seen[node.ID] = true
		sg.Seeds = append(sg.Seeds, node.ID)
		queue = append(queue, queued{id: node.ID})
	}
	if len(sg.Seeds) == 0 {
		err := fmt.Errorf("%w: none of %d seed entities resolved", graph.ErrNotFound, len(seeds))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	steps := 0
	for head := 0; head < len(queue); head++ {
		steps++
		if steps%contextCheckInterval == 0 {
			if err := graph.CheckContext(ctx); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}
		}
		if len(sg.Nodes) >= maxNodes {
			sg.Truncated = true
			break
		}
		item := queue[head]
		node, err := view.GetNode(item.id)
		if err != nil {
			continue
		}
		sg.Nodes = append(sg.Nodes, node)
		sg.Depth[item.id] = item.depth

		if item.depth >= maxDepth {
			continue
		}
		for _, next := range neighbors(view, item.id) {
			if seen[next] {
				continue
			}
			seen[next] = true
			queue = append(queue, queued{id: next, depth: item.depth + 1})
		}
	}

	for _, n := range sg.Nodes {
		for _, e := range view.OutgoingEdges(n.ID) {
			if _, ok := sg.Depth[e.Target]; ok {
				sg.Edges = append(sg.Edges, e)
			}
		}
	}
	slices.SortFunc(sg.Edges, func(a, b graph.Edge) int { return a.Key().Compare(b.Key()) })

	span.SetAttributes(
		attribute.Int("subgraph.nodes", len(sg.Nodes)),
		attribute.Int("subgraph.edges", len(sg.Edges)),
		attribute.Bool("subgraph.truncated", sg.Truncated),
	)
	span.SetStatus(codes.Ok, "")
	x.opts.Logger.Debug("extracted subgraph",
		slog.Int("seeds", len(sg.Seeds)),
		slog.Int("nodes", len(sg.Nodes)),
		slog.Int("edges", len(sg.Edges)),
		slog.Bool("truncated", sg.Truncated),
	)
	return sg, nil
}

// neighbors returns the endpoints adjacent to id: outgoing targets, then
// incoming sources, each ordered by edge kind then ID.
func neighbors(view *graph.GraphView, id graph.NodeID) []graph.NodeID {
	var out []graph.NodeID
	for _, kind := range graph.AllEdgeKinds {
		out = append(out, view.Successors(id, kind)...)
	}
	for _, kind := range graph.AllEdgeKinds {
		out = append(out, view.Predecessors(id, kind)...)
	}
	return out
}
