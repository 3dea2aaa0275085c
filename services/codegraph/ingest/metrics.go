// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ingest

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
	tracer = otel.Tracer("codegraph.ingest")
	meter  = otel.Meter("codegraph.ingest")
)

var (
	buildLatency metric.Float64Histogram
	buildTotal   metric.Int64Counter
	filesFailed  metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		buildLatency, err = meter.Float64Histogram(
			"codegraph_ingest_duration_seconds",
			metric.WithDescription("Duration of ingestion runs"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		buildTotal, err = meter.Int64Counter(
			"codegraph_ingest_runs_total",
			metric.WithDescription("Total number of ingestion runs"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		filesFailed, err = meter.Int64Counter(
			"codegraph_ingest_files_failed_total",
			metric.WithDescription("Files that failed extraction or application"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordBuildMetrics(ctx context.Context, duration time.Duration, result *BuildResult) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.Bool("success", result.Success()),
		attribute.Bool("incomplete", result.Incomplete),
	)
	buildLatency.Record(ctx, duration.Seconds(), attrs)
	buildTotal.Add(ctx, 1, attrs)
	if result.Stats.FilesFailed > 0 {
		filesFailed.Add(ctx, int64(result.Stats.FilesFailed))
	}
}

func startBuildSpan(ctx context.Context, updated, removed int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Coordinator.ApplyChanges",
		trace.WithAttributes(
			attribute.Int("ingest.files_updated", updated),
			attribute.Int("ingest.files_removed", removed),
		),
	)
}

func setBuildSpanResult(span trace.Span, result *BuildResult) {
	span.SetAttributes(
		attribute.Int("ingest.files_processed", result.Stats.FilesProcessed),
		attribute.Int("ingest.files_failed", result.Stats.FilesFailed),
		attribute.Int("ingest.nodes_added", result.Stats.Delta.NodesAdded),
		attribute.Int("ingest.edges_added", result.Stats.Delta.EdgesAdded),
		attribute.Bool("ingest.incomplete", result.Incomplete),
	)
}
