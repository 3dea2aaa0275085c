// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package codegraph

import (
	"github.com/AleutianAI/codegraph/services/codegraph/graph"
	"github.com/AleutianAI/codegraph/services/codegraph/ingest"
)

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is a human-readable message.
	Error string `json:"error"`

	// Code is a machine-readable error code.
	Code string `json:"code"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ReadyResponse is returned by GET /ready.
type ReadyResponse struct {
	Ready bool             `json:"ready"`
	Stats graph.ViewStats `json:"stats"`
}

// BuildResponse is returned by POST /build.
type BuildResponse struct {
	Root   string             `json:"root"`
	Result *ingest.BuildResult `json:"result"`

	// FileErrors are the per-file failures, "path: error".
	FileErrors []string `json:"file_errors,omitempty"`
}

// FileRequest names one file relative to the repository root.
type FileRequest struct {
	Path string `json:"path" binding:"required,relpath"`
}

// FileResponse reports the net change from a file update or removal.
type FileResponse struct {
	Path  string           `json:"path"`
	Delta graph.BuildDelta `json:"delta"`

	// Conflicts lists ownership transfers the update caused.
	Conflicts []graph.Conflict `json:"conflicts,omitempty"`
}

// NodeRequest holds the query parameters of GET /node.
type NodeRequest struct {
	Name string `form:"name" binding:"required"`
}

// EntityRequest holds the query parameters of GET /dependencies and
// GET /dependents.
type EntityRequest struct {
	Entity string `form:"entity" binding:"required"`
}

// CallChainRequest is the body of POST /callchain. Omitted depths and
// caps take the handler defaults; negative values are rejected.
type CallChainRequest struct {
	From     string `json:"from" binding:"required"`
	To       string `json:"to" binding:"required"`
	MaxDepth *int   `json:"max_depth"`
}

// ImpactRequest is the body of POST /impact.
type ImpactRequest struct {
	Files    []string `json:"files" binding:"required,min=1,dive,required"`
	MaxDepth *int     `json:"max_depth"`
}

// CyclesRequest is the body of POST /cycles. An empty body is allowed.
type CyclesRequest struct {
	Enumerate             bool `json:"enumerate"`
	MaxCyclesPerComponent int  `json:"max_cycles_per_component"`
	MaxCycleLength        int  `json:"max_cycle_length"`
}

// UnusedRequest is the body of POST /unused.
type UnusedRequest struct {
	EntryPoints []string `json:"entry_points" binding:"required,min=1"`
}

// SubgraphRequest is the body of POST /subgraph.
type SubgraphRequest struct {
	Seeds    []string `json:"seeds" binding:"required,min=1"`
	MaxDepth *int     `json:"max_depth"`
	MaxNodes *int     `json:"max_nodes"`
}

// SnapshotRequest is the body of POST /snapshot/save and /snapshot/load.
type SnapshotRequest struct {
	Name string `json:"name" binding:"required,excludesall=/"`
}
