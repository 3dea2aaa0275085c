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

// RiskLevel classifies the size of an impact radius.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// RiskThresholds maps affected-file counts to risk levels: a count below
// Low is low risk, below Medium is medium, anything else is high.
type RiskThresholds struct {
	Low    int `json:"low" yaml:"low"`
	Medium int `json:"medium" yaml:"medium"`
}

// DefaultRiskThresholds returns {Low: 5, Medium: 20}.
func DefaultRiskThresholds() RiskThresholds {
	return RiskThresholds{Low: 5, Medium: 20}
}

// Validate checks that both thresholds are positive and ordered.
func (t RiskThresholds) Validate() error {
	if t.Low <= 0 || t.Medium <= t.Low {
		return fmt.Errorf("%w: risk thresholds low=%d medium=%d", graph.ErrInvalidArgument, t.Low, t.Medium)
	}
	return nil
}

// Classify returns the risk level for count affected files.
func (t RiskThresholds) Classify(count int) RiskLevel {
	switch {
	case count < t.Low:
		return RiskLow
	case count < t.Medium:
		return RiskMedium
	default:
		return RiskHigh
	}
}

// ImpactResult is the answer to CalculateImpactRadius.
type ImpactResult struct {
	// ChangedFiles are the resolved source file paths, sorted.
	ChangedFiles []string `json:"changed_files"`
	MaxDepth     int      `json:"max_depth"`

	// ByDepth maps each depth 1..MaxDepth that has files to the sorted
	// paths first reached at that depth.
	ByDepth map[int][]string `json:"by_depth"`

	// DirectlyAffected are the depth-1 files.
	DirectlyAffected []string `json:"directly_affected"`

	// IndirectlyAffected are the files at depth 2 or more, sorted.
	IndirectlyAffected []string `json:"indirectly_affected"`

	// AffectedCount is the number of distinct affected files.
	AffectedCount int       `json:"affected_count"`
	Risk          RiskLevel `json:"risk"`
}

// CalculateImpactRadius finds the files that transitively import any of
// the changed files.
//
// Description:
//
//	Multi-source BFS over reverse Imports edges starting from every
//	changed file at once. Each file is reported at the minimum depth at
//	which any source reaches it. Changed files are never reported as
//	affected by themselves.
//
// Inputs:
//
//	files - Changed file paths. Each must name a file node, which may be
//	        a placeholder for a file that is imported but not ingested.
//	maxDepth - Maximum depth. Values above MaxTraversalDepth are clamped.
//
// Outputs:
//
//	*ImpactResult - Affected files grouped by depth with a risk level.
//	error - graph.ErrInvalidArgument for an empty list, empty path, or
//	        negative depth; graph.ErrNotFound for an unknown file.
func (e *Engine) CalculateImpactRadius(ctx context.Context, view *graph.GraphView, files []string, maxDepth int) (*ImpactResult, error) {
	depth, err := validateDepth(maxDepth)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no changed files", graph.ErrInvalidArgument)
	}
	for _, f := range files {
		if strings.TrimSpace(f) == "" {
			return nil, fmt.Errorf("%w: empty file path", graph.ErrInvalidArgument)
		}
	}
	sorted := slices.Clone(files)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	args := fmt.Sprintf("%s|%d", strings.Join(sorted, "\x00"), depth)

	return run(ctx, e, view, "impact", args, func(ctx context.Context) (*ImpactResult, error) {
		return impactRadius(ctx, view, sorted, depth, e.opts.Risk)
	})
}

func impactRadius(ctx context.Context, view *graph.GraphView, files []string, maxDepth int, risk RiskThresholds) (*ImpactResult, error) {
	result := &ImpactResult{
		MaxDepth:           maxDepth,
		ByDepth:            map[int][]string{},
		DirectlyAffected:   []string{},
		IndirectlyAffected: []string{},
	}

	visited := make(map[graph.NodeID]bool, len(files))
	frontier := make([]graph.NodeID, 0, len(files))
	for _, f := range files {
		node, err := resolveFile(view, f)
		if err != nil {
			return nil, err
		}
		if visited[node.ID] {
			continue
		}
		visited[node.ID] = true
		frontier = append(frontier, node.ID)
		result.ChangedFiles = append(result.ChangedFiles, node.QualifiedName)
	}
	slices.Sort(result.ChangedFiles)

	step := stepper{ctx: ctx}
	for d := 1; d <= maxDepth && len(frontier) > 0; d++ {
		var next []graph.NodeID
		var level []string
		for _, id := range frontier {
			for _, importer := range view.Predecessors(id, graph.EdgeKindImports) {
				if err := step.step(); err != nil {
					return nil, err
				}
				if visited[importer] {
					continue
				}
				visited[importer] = true
				node, err := view.GetNode(importer)
				if err != nil || node.EffectiveKind() != graph.NodeKindFile {
					continue
				}
				next = append(next, importer)
				level = append(level, node.QualifiedName)
			}
		}
		if len(level) > 0 {
			slices.Sort(level)
			result.ByDepth[d] = level
			result.AffectedCount += len(level)
			if d == 1 {
				result.DirectlyAffected = level
			} else {
				result.IndirectlyAffected = append(result.IndirectlyAffected, level...)
			}
		}
		frontier = next
	}
	slices.Sort(result.IndirectlyAffected)
	result.Risk = risk.Classify(result.AffectedCount)
	return result, nil
}

// resolveFile maps a path or file entity name to a file node.
func resolveFile(view *graph.GraphView, path string) (*graph.Node, error) {
	if node, err := view.GetNode(graph.MakeNodeID(graph.NodeKindFile, path)); err == nil {
		return node, nil
	}
	node, err := view.ResolveName(path)
	if err != nil {
		return nil, err
	}
	if node.EffectiveKind() != graph.NodeKindFile {
		return nil, fmt.Errorf("%w: %q is a %s, not a file", graph.ErrInvalidArgument, path, node.EffectiveKind())
	}
	return node, nil
}
