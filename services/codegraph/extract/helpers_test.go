// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extract

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/codegraph/services/codegraph/graph"
)

// writeTree creates files under a temp dir and returns its path.
func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		abs := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
		require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	}
	return root
}

func newTestRegistry(root string, opts ...RegistryOption) *Registry {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRegistry(root, append([]RegistryOption{WithLogger(logger)}, opts...)...)
}

func extractFile(t *testing.T, reg *Registry, path string) *graph.FileFacts {
	t.Helper()
	facts, err := reg.Extract(context.Background(), path)
	require.NoError(t, err)
	return facts
}

func hasEdge(facts *graph.FileFacts, source, target graph.NodeRef, kind graph.EdgeKind) bool {
	for _, e := range facts.Edges {
		if e.Source == source && e.Target == target && e.Kind == kind {
			return true
		}
	}
	return false
}

func findEdge(facts *graph.FileFacts, source, target graph.NodeRef, kind graph.EdgeKind) (graph.EdgeFact, bool) {
	for _, e := range facts.Edges {
		if e.Source == source && e.Target == target && e.Kind == kind {
			return e, true
		}
	}
	return graph.EdgeFact{}, false
}

// names returns the sorted qualified names of the nodes of kind.
func names(facts *graph.FileFacts, kind graph.NodeKind) []string {
	var out []string
	for _, n := range facts.Nodes {
		if n.Kind == kind {
			out = append(out, n.QualifiedName)
		}
	}
	slices.Sort(out)
	return out
}

func findNode(facts *graph.FileFacts, kind graph.NodeKind, qn string) *graph.Node {
	for i := range facts.Nodes {
		if facts.Nodes[i].Kind == kind && facts.Nodes[i].QualifiedName == qn {
			return &facts.Nodes[i]
		}
	}
	return nil
}

// edgesFrom returns every edge target of kind from source.
func edgesFrom(facts *graph.FileFacts, source graph.NodeRef, kind graph.EdgeKind) []graph.NodeRef {
	var out []graph.NodeRef
	for _, e := range facts.Edges {
		if e.Source == source && e.Kind == kind {
			out = append(out, e.Target)
		}
	}
	return out
}
