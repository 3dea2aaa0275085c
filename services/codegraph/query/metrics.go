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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "codegraph_query_duration_seconds",
		Help:    "Query duration by operation",
		Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 1, 10},
	}, []string{"op"})

	queryCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codegraph_query_cache_total",
		Help: "Query cache lookups by operation and result",
	}, []string{"op", "result"})

	callChainPaths = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "codegraph_callchain_paths",
		Help:    "Paths returned per call chain query",
		Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
	})

	cyclesFound = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codegraph_cycles_found_total",
		Help: "Cyclic components found by scope",
	}, []string{"scope"})
)
