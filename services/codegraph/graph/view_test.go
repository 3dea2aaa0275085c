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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildResolveFixture(t *testing.T) *GraphView {
	t.Helper()
	ctx := context.Background()
	s := newTestStore()
	_, err := s.ApplyFileUpdate(ctx, "pkg/a.py", &FileFacts{
		Nodes: []Node{fn("pkg/a.py", "main"), fn("pkg/a.py", "run"), fn("pkg/a.py", "Worker.run")},
		Edges: []EdgeFact{call("pkg/a.py", "main", "pkg/c.py", "ghost")},
	})
	require.NoError(t, err)
	_, err = s.ApplyFileUpdate(ctx, "pkg/b.py", &FileFacts{
		Nodes: []Node{fn("pkg/b.py", "unique")},
	})
	require.NoError(t, err)
	return s.Snapshot()
}

func TestGraphView_ResolveName(t *testing.T) {
	view := buildResolveFixture(t)

	tests := []struct {
		name    string
		input   string
		want    NodeID
		wantErr error
	}{
		{"exact id", "function:pkg/a.py::main", "function:pkg/a.py::main", nil},
		{"qualified name", "pkg/b.py::unique", "function:pkg/b.py::unique", nil},
		{"file path", "pkg/a.py", "file:pkg/a.py", nil},
		{"short name", "unique", "function:pkg/b.py::unique", nil},
		{"file base name", "b.py", "file:pkg/b.py", nil},
		{"placeholder by short name", "ghost", "function:pkg/c.py::ghost", nil},
		{"ambiguous short name", "run", "", ErrInvalidArgument},
		{"empty", "  ", "", ErrInvalidArgument},
		{"missing", "nothing", "", ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := view.ResolveName(tt.input)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, n.ID)
		})
	}
}

func TestGraphView_EdgeOrdering(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	_, err := s.ApplyFileUpdate(ctx, "a.py", &FileFacts{
		Nodes: []Node{fn("a.py", "main")},
		Edges: []EdgeFact{
			call("a.py", "main", "z.py", "z"),
			call("a.py", "main", "b.py", "b"),
			imports("a.py", "m.py"),
			{Source: fnRef("a.py", "main"), Target: NodeRef{Kind: NodeKindTable, QualifiedName: "users"}, Kind: EdgeKindReads},
			{Source: fnRef("a.py", "main"), Target: NodeRef{Kind: NodeKindTable, QualifiedName: "users"}, Kind: EdgeKindModifies, Operations: TableOpInsert},
			{Source: fnRef("a.py", "main"), Target: NodeRef{Kind: NodeKindTable, QualifiedName: "users"}, Kind: EdgeKindModifies, Operations: TableOpDelete},
		},
	})
	require.NoError(t, err)
	view := s.Snapshot()
	main := MakeNodeID(NodeKindFunction, "a.py::main")

	out := view.OutgoingEdges(main)
	require.Len(t, out, 4)
	assert.Equal(t, EdgeKindCalls, out[0].Kind)
	assert.Equal(t, MakeNodeID(NodeKindFunction, "b.py::b"), out[0].Target)
	assert.Equal(t, MakeNodeID(NodeKindFunction, "z.py::z"), out[1].Target)
	assert.Equal(t, EdgeKindModifies, out[2].Kind)
	assert.Equal(t, TableOpInsert|TableOpDelete, out[2].Operations)
	assert.Equal(t, "insert|delete", out[2].Operations.String())
	assert.Equal(t, EdgeKindReads, out[3].Kind)

	// Duplicate and invalid kinds are ignored.
	calls := view.OutgoingEdges(main, EdgeKindCalls, EdgeKindCalls, EdgeKindUnknown)
	assert.Len(t, calls, 2)

	fileOut := view.OutgoingEdges(MakeNodeID(NodeKindFile, "a.py"), EdgeKindImports)
	require.Len(t, fileOut, 1)
	assert.Equal(t, MakeNodeID(NodeKindFile, "m.py"), fileOut[0].Target)

	assert.Equal(t, []string{"a.py"}, view.Files())
	assert.True(t, view.HasFile("a.py"))
	assert.Len(t, view.NodesOfKind(NodeKindUnresolved), 4)
}

func TestShortName(t *testing.T) {
	assert.Equal(t, "a.py", ShortName(NodeKindFile, "pkg/a.py"))
	assert.Equal(t, "run", ShortName(NodeKindFunction, "pkg/a.py::Worker.run"))
	assert.Equal(t, "Worker", ShortName(NodeKindClass, "pkg/a.py::Worker"))
	assert.Equal(t, "users", ShortName(NodeKindTable, "users"))
	assert.Equal(t, "CONFIG", ShortName(NodeKindVariable, "pkg/a.py::CONFIG"))
}

func TestCOWMap_CopiesAreIsolated(t *testing.T) {
	var m cowMap[NodeID, int]
	for i := 0; i < 1000; i++ {
		m.set(1, NodeID(rune('a'+i%26))+NodeID(string(rune(i))), i)
	}
	snapshot := m
	size := m.len()

	m.set(2, "a", -1)
	m.del(2, NodeID("b")+NodeID(string(rune(1))))

	_, ok := snapshot.get("a")
	assert.False(t, ok)
	assert.Equal(t, size, snapshot.len())
	v, ok := m.get("a")
	assert.True(t, ok)
	assert.Equal(t, -1, v)
	assert.Equal(t, size, m.len())
}

func TestIndex_SortedAndCopyOnWrite(t *testing.T) {
	var m cowMap[nameKey, *idSet]
	indexAdd(&m, 1, "k", "c")
	indexAdd(&m, 1, "k", "a")
	indexAdd(&m, 1, "k", "b")
	indexAdd(&m, 1, "k", "a")
	assert.Equal(t, []NodeID{"a", "b", "c"}, indexGet(&m, "k"))

	snapshot := m
	indexRemove(&m, 2, "k", "b")
	indexAdd(&m, 2, "k", "d")
	assert.Equal(t, []NodeID{"a", "b", "c"}, indexGet(&snapshot, "k"))
	assert.Equal(t, []NodeID{"a", "c", "d"}, indexGet(&m, "k"))

	indexRemove(&m, 3, "k", "a")
	indexRemove(&m, 3, "k", "c")
	indexRemove(&m, 3, "k", "d")
	assert.Nil(t, indexGet(&m, "k"))
	assert.Equal(t, 0, m.len())
}
