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
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func populatedStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s := newTestStore()
	_, err := s.ApplyFileUpdate(ctx, "app/a.py", &FileFacts{
		Nodes: []Node{
			{
				Kind:          NodeKindFile,
				QualifiedName: "app/a.py",
				File:          &FileAttrs{Language: "python", LinesOfCode: 42, LastModified: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)},
			},
			fn("app/a.py", "main"),
			{Kind: NodeKindClass, QualifiedName: "app/a.py::Service", Class: &ClassAttrs{File: "app/a.py", LineStart: 3, LineEnd: 9}},
			{Kind: NodeKindVariable, QualifiedName: "app/a.py::CONFIG", Variable: &VariableAttrs{File: "app/a.py", Line: 1}},
		},
		Edges: []EdgeFact{
			imports("app/a.py", "app/b.py"),
			call("app/a.py", "main", "app/b.py", "helper"),
			{Source: fnRef("app/a.py", "main"), Target: NodeRef{Kind: NodeKindTable, QualifiedName: "orders"}, Kind: EdgeKindModifies, Operations: TableOpUpdate},
			{
				Source: NodeRef{Kind: NodeKindClass, QualifiedName: "app/a.py::Service"},
				Target: NodeRef{Kind: NodeKindClass, QualifiedName: "app/base.py::Base"},
				Kind:   EdgeKindInherits,
			},
		},
	})
	require.NoError(t, err)
	_, err = s.ApplyFileUpdate(ctx, "app/b.py", &FileFacts{Nodes: []Node{fn("app/b.py", "helper")}})
	require.NoError(t, err)
	_, err = s.ApplyFileUpdate(ctx, "schema.sql", &FileFacts{
		Nodes: []Node{{Kind: NodeKindTable, QualifiedName: "orders", Table: &TableAttrs{File: "schema.sql", Line: 1, Columns: []string{"id", "total"}}}},
	})
	require.NoError(t, err)
	return s
}

func TestStore_ExportImportRoundTrip(t *testing.T) {
	src := populatedStore(t)
	data, err := src.ExportSnapshot()
	require.NoError(t, err)

	dst := newTestStore()
	require.NoError(t, dst.ImportSnapshot(context.Background(), data))

	again, err := dst.ExportSnapshot()
	require.NoError(t, err)
	assert.Equal(t, string(data), string(again))

	srcView, dstView := src.Snapshot(), dst.Snapshot()
	srcStats, dstStats := srcView.Stats(), dstView.Stats()
	assert.Equal(t, srcStats.Nodes, dstStats.Nodes)
	assert.Equal(t, srcStats.Edges, dstStats.Edges)
	assert.Equal(t, srcStats.Placeholders, dstStats.Placeholders)
	assert.Equal(t, srcStats.Files, dstStats.Files)

	for _, n := range srcView.Nodes() {
		got, err := dstView.GetNode(n.ID)
		require.NoError(t, err)
		assert.True(t, n.Equal(got), "node %s differs", n.ID)
		assert.Equal(t, srcView.OutgoingEdges(n.ID), dstView.OutgoingEdges(n.ID))
		assert.Equal(t, srcView.IncomingEdges(n.ID), dstView.IncomingEdges(n.ID))
	}

	resolved, err := dstView.ResolveName("helper")
	require.NoError(t, err)
	assert.Equal(t, MakeNodeID(NodeKindFunction, "app/b.py::helper"), resolved.ID)

	// The imported store keeps accepting incremental updates.
	_, err = dst.RemoveFile(context.Background(), "app/b.py")
	require.NoError(t, err)
	helper, err := dst.GetNode(resolved.ID)
	require.NoError(t, err)
	assert.True(t, helper.IsPlaceholder())
}

func TestStore_ImportSnapshot_Rejects(t *testing.T) {
	data, err := populatedStore(t).ExportSnapshot()
	require.NoError(t, err)

	mutate := func(fn func(doc map[string]any)) []byte {
		var doc map[string]any
		require.NoError(t, json.Unmarshal(data, &doc))
		fn(doc)
		out, err := json.Marshal(doc)
		require.NoError(t, err)
		return out
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"not json", []byte("{")},
		{"wrong version", mutate(func(doc map[string]any) { doc["format_version"] = 99 })},
		{"dangling edge", mutate(func(doc map[string]any) {
			nodes := doc["nodes"].([]any)
			doc["nodes"] = nodes[1:]
		})},
		{"missing provenance", mutate(func(doc map[string]any) {
			files := doc["files"].([]any)
			doc["files"] = files[1:]
		})},
		{"bad id", mutate(func(doc map[string]any) {
			nodes := doc["nodes"].([]any)
			nodes[0].(map[string]any)["id"] = "function:bogus"
		})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore()
			before := s.Snapshot()
			err := s.ImportSnapshot(context.Background(), tt.data)
			assert.True(t, errors.Is(err, ErrInvalidArgument), "got %v", err)
			assert.Same(t, before, s.Snapshot())
		})
	}
}
