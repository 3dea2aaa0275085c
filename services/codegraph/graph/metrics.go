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
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("codegraph.graph")
	meter  = otel.Meter("codegraph.graph")
)

var (
	mutationLatency metric.Float64Histogram
	mutationTotal   metric.Int64Counter
	graphNodes      metric.Int64Gauge
	graphEdges      metric.Int64Gauge

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		mutationLatency, err = meter.Float64Histogram(
			"codegraph_store_mutation_duration_seconds",
			metric.WithDescription("Duration of graph store mutations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		mutationTotal, err = meter.Int64Counter(
			"codegraph_store_mutations_total",
			metric.WithDescription("Total number of graph store mutations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		graphNodes, err = meter.Int64Gauge(
			"codegraph_store_nodes",
			metric.WithDescription("Nodes in the latest published view"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		graphEdges, err = meter.Int64Gauge(
			"codegraph_store_edges",
			metric.WithDescription("Edges in the latest published view"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordMutationMetrics(ctx context.Context, op string, duration time.Duration, delta BuildDelta, view *GraphView) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("op", op),
		attribute.Bool("changed", delta.Changed()),
	)
	mutationLatency.Record(ctx, duration.Seconds(), attrs)
	mutationTotal.Add(ctx, 1, attrs)
	graphNodes.Record(ctx, int64(view.st.nodes.len()))
	graphEdges.Record(ctx, int64(view.st.edges.len()))
}

func startMutationSpan(ctx context.Context, name, path string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attribute.String("graph.file_path", path)),
	)
}

func setMutationSpanResult(span trace.Span, delta BuildDelta, conflicts int) {
	span.SetAttributes(
		attribute.Int("graph.nodes_added", delta.NodesAdded),
		attribute.Int("graph.nodes_removed", delta.NodesRemoved),
		attribute.Int("graph.edges_added", delta.EdgesAdded),
		attribute.Int("graph.edges_removed", delta.EdgesRemoved),
		attribute.Int("graph.conflicts", conflicts),
	)
}
