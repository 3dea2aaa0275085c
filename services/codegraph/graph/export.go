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
	"fmt"
	"log/slog"
	"slices"
	"strings"
)

// SnapshotFormatVersion is the version of the export document layout.
const SnapshotFormatVersion = 1

type snapshotDocument struct {
	FormatVersion int          `json:"format_version"`
	Nodes         []*Node      `json:"nodes"`
	Edges         []*Edge      `json:"edges"`
	Files         []fileRecord `json:"files"`
}

type fileRecord struct {
	Path  string    `json:"path"`
	Nodes []NodeID  `json:"nodes"`
	Edges []EdgeKey `json:"edges"`
}

// Export serializes the view's nodes, edges, and provenance.
//
// The output is deterministic: nodes are sorted by ID, edges by key, and
// files by path, so equal views export to equal bytes.
func (v *GraphView) Export() ([]byte, error) {
	doc := snapshotDocument{
		FormatVersion: SnapshotFormatVersion,
		Nodes:         v.Nodes(),
		Edges:         v.Edges(),
	}
	for _, path := range v.Files() {
		prov, _ := v.st.files.get(pathKey(path))
		doc.Files = append(doc.Files, fileRecord{Path: path, Nodes: prov.Nodes, Edges: prov.Edges})
	}
	data, err := json.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return data, nil
}

// ExportSnapshot serializes the latest view. See GraphView.Export.
func (s *Store) ExportSnapshot() ([]byte, error) {
	return s.Snapshot().Export()
}

// ImportSnapshot replaces the store contents with an exported snapshot.
//
// Description:
//
//	Decodes and validates the document (IDs match kinds and names, no
//	dangling edges, every owned fact listed by exactly its owner), then
//	publishes it as a new version. On any error the store is unchanged.
//
// Inputs:
//
//	ctx - Checked for cancellation before the swap.
//	data - Bytes produced by ExportSnapshot.
//
// Outputs:
//
//	error - ErrInvalidArgument for malformed or inconsistent input.
//
// Thread Safety: Safe for concurrent use; serialized with other mutations.
func (s *Store) ImportSnapshot(ctx context.Context, data []byte) error {
	var doc snapshotDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: decode snapshot: %w", ErrInvalidArgument, err)
	}
	if doc.FormatVersion != SnapshotFormatVersion {
		return fmt.Errorf("%w: snapshot format version %d, want %d", ErrInvalidArgument, doc.FormatVersion, SnapshotFormatVersion)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	tx := &txn{
		gen:         s.gen,
		beforeNodes: make(map[NodeID]*Node),
		beforeEdges: make(map[EdgeKey]*Edge),
	}
	if err := tx.load(&doc); err != nil {
		return err
	}
	if err := CheckContext(ctx); err != nil {
		return err
	}
	view := s.commit(tx, true)

	s.logger.Info("imported graph snapshot",
		slog.Int("nodes", view.st.nodes.len()),
		slog.Int("edges", view.st.edges.len()),
		slog.Int("files", view.st.files.len()),
	)
	return nil
}

// load fills an empty transaction from a decoded document.
func (tx *txn) load(doc *snapshotDocument) error {
	ownedNodes := 0
	for _, n := range doc.Nodes {
		if n == nil {
			return fmt.Errorf("%w: null node in snapshot", ErrInvalidArgument)
		}
		if err := validateImportedNode(n); err != nil {
			return err
		}
		if _, dup := tx.st.nodes.get(n.ID); dup {
			return fmt.Errorf("%w: duplicate node %s", ErrInvalidArgument, n.ID)
		}
		if !n.IsPlaceholder() {
			ownedNodes++
		}
		tx.putNode(n)
	}

	for _, e := range doc.Edges {
		if e == nil {
			return fmt.Errorf("%w: null edge in snapshot", ErrInvalidArgument)
		}
		k := e.Key()
		if !e.Kind.Valid() || e.Owner == "" {
			return fmt.Errorf("%w: malformed edge %s", ErrInvalidArgument, k)
		}
		if !tx.has(e.Source) || !tx.has(e.Target) {
			return fmt.Errorf("%w: dangling edge %s", ErrInvalidArgument, k)
		}
		if _, dup := tx.st.edges.get(k); dup {
			return fmt.Errorf("%w: duplicate edge %s", ErrInvalidArgument, k)
		}
		tx.putEdge(e)
	}

	listedNodes, listedEdges := 0, 0
	for _, rec := range doc.Files {
		if rec.Path == "" {
			return fmt.Errorf("%w: file record with empty path", ErrInvalidArgument)
		}
		if _, dup := tx.st.files.get(pathKey(rec.Path)); dup {
			return fmt.Errorf("%w: duplicate file record %s", ErrInvalidArgument, rec.Path)
		}
		for _, id := range rec.Nodes {
			n, ok := tx.st.nodes.get(id)
			if !ok || n.Owner != rec.Path {
				return fmt.Errorf("%w: file %s lists node %s it does not own", ErrInvalidArgument, rec.Path, id)
			}
		}
		for _, k := range rec.Edges {
			e, ok := tx.st.edges.get(k)
			if !ok || e.Owner != rec.Path {
				return fmt.Errorf("%w: file %s lists edge %s it does not own", ErrInvalidArgument, rec.Path, k)
			}
		}
		prov := &provenance{Nodes: slices.Clone(rec.Nodes), Edges: slices.Clone(rec.Edges)}
		slices.SortFunc(prov.Nodes, func(a, b NodeID) int { return strings.Compare(string(a), string(b)) })
		slices.SortFunc(prov.Edges, func(a, b EdgeKey) int { return a.Compare(b) })
		prov.Nodes = slices.Compact(prov.Nodes)
		prov.Edges = slices.Compact(prov.Edges)
		listedNodes += len(prov.Nodes)
		listedEdges += len(prov.Edges)
		tx.st.files.set(tx.gen, pathKey(rec.Path), prov)
	}
	if listedNodes != ownedNodes || listedEdges != tx.st.edges.len() {
		return fmt.Errorf("%w: provenance lists %d/%d nodes and %d/%d edges",
			ErrInvalidArgument, listedNodes, ownedNodes, listedEdges, tx.st.edges.len())
	}

	for _, n := range doc.Nodes {
		if n.IsPlaceholder() && !tx.st.hasEdges(n.ID) {
			return fmt.Errorf("%w: placeholder %s has no edges", ErrInvalidArgument, n.ID)
		}
	}
	return nil
}

func (tx *txn) has(id NodeID) bool {
	_, ok := tx.st.nodes.get(id)
	return ok
}

func validateImportedNode(n *Node) error {
	kind := n.Kind
	if n.IsPlaceholder() {
		if n.Owner != "" || !n.ExpectedKind.definable() {
			return fmt.Errorf("%w: malformed placeholder %s", ErrInvalidArgument, n.ID)
		}
		kind = n.ExpectedKind
	} else if !kind.definable() || n.Owner == "" || n.ExpectedKind != NodeKindUnknown {
		return fmt.Errorf("%w: malformed node %s", ErrInvalidArgument, n.ID)
	}
	if n.ID != MakeNodeID(kind, n.QualifiedName) {
		return fmt.Errorf("%w: node ID %s does not match %s %q", ErrInvalidArgument, n.ID, kind, n.QualifiedName)
	}
	return nil
}
