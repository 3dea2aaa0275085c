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
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// provenance lists the facts a file currently owns. Both slices are sorted.
type provenance struct {
	Nodes []NodeID
	Edges []EdgeKey
}

func (p *provenance) equal(o *provenance) bool {
	if p == nil || o == nil {
		return p == o
	}
	return slices.Equal(p.Nodes, o.Nodes) && slices.Equal(p.Edges, o.Edges)
}

// state is one version of the store's tables. Copying it by value is
// cheap and yields an independent copy-on-write handle.
type state struct {
	nodes     cowMap[NodeID, *Node]
	edges     cowMap[EdgeKey, *Edge]
	adj       cowMap[adjKey, *idSet]
	files     cowMap[pathKey, *provenance]
	qualified cowMap[nameKey, *idSet]
	short     cowMap[nameKey, *idSet]

	placeholders int
}

func (st *state) hasEdges(id NodeID) bool {
	for _, kind := range AllEdgeKinds {
		if len(indexGet(&st.adj, adjKey{node: id, kind: kind, dir: dirOut})) > 0 ||
			len(indexGet(&st.adj, adjKey{node: id, kind: kind, dir: dirIn})) > 0 {
			return true
		}
	}
	return false
}

// StoreOptions configures a Store.
type StoreOptions struct {
	// Logger receives conflict warnings and debug output.
	// Default: slog.Default()
	Logger *slog.Logger
}

// StoreOption is a functional option for configuring Store.
type StoreOption func(*StoreOptions)

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(o *StoreOptions) {
		o.Logger = logger
	}
}

// Store is the authoritative knowledge graph.
//
// Description:
//
//	Holds nodes, edges, adjacency indexes, and the per-file provenance
//	index. Every mutation runs as a transaction over a private
//	copy-on-write copy of the tables and is published atomically as a
//	new GraphView.
//
// Thread Safety:
//
//	Mutations are serialized by an internal mutex. Snapshot is lock-free
//	and may be called from any goroutine at any time.
type Store struct {
	id     string
	logger *slog.Logger

	mu      sync.Mutex
	gen     uint64
	current atomic.Pointer[GraphView]
}

// NewStore creates an empty store.
//
// Example:
//
//	store := graph.NewStore(graph.WithLogger(logger))
//	delta, err := store.ApplyFileUpdate(ctx, "a.py", facts)
func NewStore(opts ...StoreOption) *Store {
	options := StoreOptions{Logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	s := &Store{
		id:     uuid.NewString(),
		logger: options.Logger,
	}
	s.current.Store(&GraphView{storeID: s.id, st: &state{}})
	return s
}

// ID returns the store's unique identifier.
func (s *Store) ID() string {
	return s.id
}

// Snapshot returns the latest published immutable view.
//
// Thread Safety: Safe for concurrent use; never blocks on writers.
func (s *Store) Snapshot() *GraphView {
	return s.current.Load()
}

// GetNode looks up a node in the latest view.
func (s *Store) GetNode(id NodeID) (*Node, error) {
	return s.Snapshot().GetNode(id)
}

// OutgoingEdges returns edges leaving id in the latest view.
func (s *Store) OutgoingEdges(id NodeID, kinds ...EdgeKind) []Edge {
	return s.Snapshot().OutgoingEdges(id, kinds...)
}

// IncomingEdges returns edges entering id in the latest view.
func (s *Store) IncomingEdges(id NodeID, kinds ...EdgeKind) []Edge {
	return s.Snapshot().IncomingEdges(id, kinds...)
}

// ApplyFileUpdate atomically replaces a file's facts.
//
// Description:
//
//	Retracts every node and edge previously owned by path, inserts the
//	new facts, creates placeholders for unresolved edge endpoints, drops
//	placeholders left without edges, and publishes a new view. Readers
//	see either the old facts or the new ones, never a mix.
//
// Inputs:
//
//	ctx - Used for tracing and an up-front cancellation check.
//	path - The file whose facts are replaced. Must not be empty.
//	facts - The file's new facts. facts.Path must be empty or equal path.
//
// Outputs:
//
//	BuildDelta - Net change. Applying identical facts twice yields a zero delta
//	             the second time and does not publish a new version.
//	error - ErrInvalidArgument for malformed facts (store unchanged),
//	        ErrCancelled if ctx is done (store unchanged), or a
//	        *ConflictError if ownership was transferred from another file.
//	        A ConflictError is returned together with the applied delta.
//
// Thread Safety: Safe for concurrent use; mutations are serialized.
func (s *Store) ApplyFileUpdate(ctx context.Context, path string, facts *FileFacts) (BuildDelta, error) {
	if path == "" {
		return BuildDelta{}, fmt.Errorf("%w: empty file path", ErrInvalidArgument)
	}
	if facts == nil {
		return BuildDelta{}, fmt.Errorf("%w: nil facts for %s", ErrInvalidArgument, path)
	}
	if facts.Path != "" && facts.Path != path {
		return BuildDelta{}, fmt.Errorf("%w: facts for %s applied to %s", ErrInvalidArgument, facts.Path, path)
	}
	if err := CheckContext(ctx); err != nil {
		return BuildDelta{}, err
	}

	norm, err := normalizeFacts(path, facts)
	if err != nil {
		return BuildDelta{}, err
	}

	ctx, span := startMutationSpan(ctx, "Store.ApplyFileUpdate", path)
	defer span.End()
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := s.begin()
	oldProv, _ := tx.st.files.get(pathKey(path))
	tx.retract(path)
	tx.insert(path, norm)
	delta := tx.finish()
	newProv, _ := tx.st.files.get(pathKey(path))
	view := s.commit(tx, delta.Changed() || len(tx.conflicts) > 0 || !oldProv.equal(newProv))

	recordMutationMetrics(ctx, "apply", time.Since(start), delta, view)
	setMutationSpanResult(span, delta, len(tx.conflicts))

	if len(tx.conflicts) > 0 {
		s.logger.Warn("ownership conflict during file update",
			slog.String("path", path),
			slog.Int("conflicts", len(tx.conflicts)),
		)
		return delta, &ConflictError{Path: path, Conflicts: tx.conflicts}
	}

	s.logger.Debug("applied file update",
		slog.String("path", path),
		slog.Int("nodes_added", delta.NodesAdded),
		slog.Int("nodes_removed", delta.NodesRemoved),
		slog.Int("edges_added", delta.EdgesAdded),
		slog.Int("edges_removed", delta.EdgesRemoved),
	)
	return delta, nil
}

// RemoveFile retracts every fact owned by path.
//
// Nodes that other files still reference are demoted to placeholders.
//
// Outputs:
//
//	BuildDelta - Net change.
//	error - ErrNotFound if the file has never been ingested, ErrInvalidArgument
//	        for an empty path, ErrCancelled if ctx is done.
//
// Thread Safety: Safe for concurrent use; mutations are serialized.
func (s *Store) RemoveFile(ctx context.Context, path string) (BuildDelta, error) {
	if path == "" {
		return BuildDelta{}, fmt.Errorf("%w: empty file path", ErrInvalidArgument)
	}
	if err := CheckContext(ctx); err != nil {
		return BuildDelta{}, err
	}

	ctx, span := startMutationSpan(ctx, "Store.RemoveFile", path)
	defer span.End()
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := s.begin()
	if _, ok := tx.st.files.get(pathKey(path)); !ok {
		return BuildDelta{}, fmt.Errorf("%w: file %s", ErrNotFound, path)
	}
	tx.retract(path)
	delta := tx.finish()
	view := s.commit(tx, true)

	recordMutationMetrics(ctx, "remove", time.Since(start), delta, view)
	setMutationSpanResult(span, delta, 0)

	s.logger.Debug("removed file",
		slog.String("path", path),
		slog.Int("nodes_removed", delta.NodesRemoved),
		slog.Int("edges_removed", delta.EdgesRemoved),
	)
	return delta, nil
}

// begin starts a transaction over a private copy of the current state.
// Caller must hold s.mu.
func (s *Store) begin() *txn {
	s.gen++
	return &txn{
		st:          *s.current.Load().st,
		gen:         s.gen,
		beforeNodes: make(map[NodeID]*Node),
		beforeEdges: make(map[EdgeKey]*Edge),
	}
}

// commit publishes the transaction's state as a new view when publish is
// true and returns the view that is current afterwards. Caller must hold s.mu.
func (s *Store) commit(tx *txn, publish bool) *GraphView {
	cur := s.current.Load()
	if !publish {
		return cur
	}
	st := tx.st
	view := &GraphView{storeID: s.id, version: cur.version + 1, st: &st}
	s.current.Store(view)
	return view
}

// txn is a single store mutation in progress.
type txn struct {
	st  state
	gen uint64

	// before* hold the first-seen value of every touched key (nil when
	// the key did not exist) so the net delta can be computed at the end.
	beforeNodes map[NodeID]*Node
	beforeEdges map[EdgeKey]*Edge

	conflicts []Conflict
}

func (tx *txn) noteNode(id NodeID) {
	if _, ok := tx.beforeNodes[id]; !ok {
		n, _ := tx.st.nodes.get(id)
		tx.beforeNodes[id] = n
	}
}

func (tx *txn) noteEdge(k EdgeKey) {
	if _, ok := tx.beforeEdges[k]; !ok {
		e, _ := tx.st.edges.get(k)
		tx.beforeEdges[k] = e
	}
}

func (tx *txn) indexNames(n *Node) {
	indexAdd(&tx.st.qualified, tx.gen, nameKey(n.QualifiedName), n.ID)
	indexAdd(&tx.st.short, tx.gen, nameKey(n.Name), n.ID)
}

func (tx *txn) unindexNames(n *Node) {
	indexRemove(&tx.st.qualified, tx.gen, nameKey(n.QualifiedName), n.ID)
	indexRemove(&tx.st.short, tx.gen, nameKey(n.Name), n.ID)
}

func (tx *txn) putNode(n *Node) {
	tx.noteNode(n.ID)
	old, _ := tx.st.nodes.get(n.ID)
	if old != nil {
		if old.IsPlaceholder() {
			tx.st.placeholders--
		}
		if old.QualifiedName != n.QualifiedName || old.Name != n.Name {
			tx.unindexNames(old)
			tx.indexNames(n)
		}
	} else {
		tx.indexNames(n)
	}
	if n.IsPlaceholder() {
		tx.st.placeholders++
	}
	tx.st.nodes.set(tx.gen, n.ID, n)
}

func (tx *txn) deleteNode(id NodeID) {
	tx.noteNode(id)
	old, _ := tx.st.nodes.get(id)
	if old == nil {
		return
	}
	if old.IsPlaceholder() {
		tx.st.placeholders--
	}
	tx.unindexNames(old)
	tx.st.nodes.del(tx.gen, id)
}

// ensureNode creates a placeholder for ref unless a node with its ID exists.
func (tx *txn) ensureNode(ref NodeRef) {
	id := ref.ID()
	if _, ok := tx.st.nodes.get(id); ok {
		return
	}
	tx.putNode(placeholderFor(id, ref.Kind, ref.QualifiedName))
}

func (tx *txn) putEdge(e *Edge) {
	k := e.Key()
	tx.noteEdge(k)
	if _, ok := tx.st.edges.get(k); !ok {
		indexAdd(&tx.st.adj, tx.gen, adjKey{node: e.Source, kind: e.Kind, dir: dirOut}, e.Target)
		indexAdd(&tx.st.adj, tx.gen, adjKey{node: e.Target, kind: e.Kind, dir: dirIn}, e.Source)
	}
	tx.st.edges.set(tx.gen, k, e)
}

func (tx *txn) deleteEdge(k EdgeKey) {
	tx.noteEdge(k)
	if !tx.st.edges.del(tx.gen, k) {
		return
	}
	indexRemove(&tx.st.adj, tx.gen, adjKey{node: k.Source, kind: k.Kind, dir: dirOut}, k.Target)
	indexRemove(&tx.st.adj, tx.gen, adjKey{node: k.Target, kind: k.Kind, dir: dirIn}, k.Source)
	// Endpoints may now be unreferenced placeholders.
	tx.noteNode(k.Source)
	tx.noteNode(k.Target)
}

// retract demotes every node and removes every edge owned by path.
func (tx *txn) retract(path string) {
	prov, ok := tx.st.files.get(pathKey(path))
	if !ok {
		return
	}
	for _, k := range prov.Edges {
		if e, ok := tx.st.edges.get(k); ok && e.Owner == path {
			tx.deleteEdge(k)
		}
	}
	for _, id := range prov.Nodes {
		if n, ok := tx.st.nodes.get(id); ok && n.Owner == path {
			tx.putNode(placeholderFor(id, n.Kind, n.QualifiedName))
		}
	}
	tx.st.files.del(tx.gen, pathKey(path))
}

// insert adds normalized facts owned by path and records its provenance.
func (tx *txn) insert(path string, norm *normalizedFacts) {
	prov := &provenance{
		Nodes: make([]NodeID, 0, len(norm.nodes)),
		Edges: make([]EdgeKey, 0, len(norm.edges)),
	}
	for _, n := range norm.nodes {
		if cur, ok := tx.st.nodes.get(n.ID); ok && cur.Owner != "" && cur.Owner != path {
			tx.conflicts = append(tx.conflicts, Conflict{ID: string(n.ID), PreviousOwner: cur.Owner, NewOwner: path})
			tx.disownNode(cur.Owner, n.ID)
		}
		tx.putNode(n)
		prov.Nodes = append(prov.Nodes, n.ID)
	}
	for _, ef := range norm.edges {
		tx.ensureNode(ef.source)
		tx.ensureNode(ef.target)
		e := ef.edge
		k := e.Key()
		if cur, ok := tx.st.edges.get(k); ok && cur.Owner != path {
			tx.conflicts = append(tx.conflicts, Conflict{ID: k.String(), IsEdge: true, PreviousOwner: cur.Owner, NewOwner: path})
			tx.disownEdge(cur.Owner, k)
		}
		tx.putEdge(e)
		prov.Edges = append(prov.Edges, k)
	}
	tx.st.files.set(tx.gen, pathKey(path), prov)
}

func (tx *txn) disownNode(owner string, id NodeID) {
	prov, ok := tx.st.files.get(pathKey(owner))
	if !ok {
		return
	}
	next := &provenance{
		Nodes: slices.DeleteFunc(slices.Clone(prov.Nodes), func(x NodeID) bool { return x == id }),
		Edges: prov.Edges,
	}
	tx.st.files.set(tx.gen, pathKey(owner), next)
}

func (tx *txn) disownEdge(owner string, k EdgeKey) {
	prov, ok := tx.st.files.get(pathKey(owner))
	if !ok {
		return
	}
	next := &provenance{
		Nodes: prov.Nodes,
		Edges: slices.DeleteFunc(slices.Clone(prov.Edges), func(x EdgeKey) bool { return x == k }),
	}
	tx.st.files.set(tx.gen, pathKey(owner), next)
}

// finish removes placeholders left without edges and computes the net delta.
func (tx *txn) finish() BuildDelta {
	for id := range tx.beforeNodes {
		if n, ok := tx.st.nodes.get(id); ok && n.IsPlaceholder() && !tx.st.hasEdges(id) {
			tx.deleteNode(id)
		}
	}

	var d BuildDelta
	for id, before := range tx.beforeNodes {
		after, _ := tx.st.nodes.get(id)
		switch {
		case before == nil && after != nil:
			d.NodesAdded++
		case before != nil && after == nil:
			d.NodesRemoved++
		case before == nil && after == nil:
		case before.IsPlaceholder() && !after.IsPlaceholder():
			d.Promoted++
		case !before.IsPlaceholder() && after.IsPlaceholder():
			d.Demoted++
		case !before.Equal(after):
			d.NodesUpdated++
		}
	}
	for k, before := range tx.beforeEdges {
		after, _ := tx.st.edges.get(k)
		switch {
		case before == nil && after != nil:
			d.EdgesAdded++
		case before != nil && after == nil:
			d.EdgesRemoved++
		case before == nil && after == nil:
		case !before.Equal(after):
			d.EdgesUpdated++
		}
	}
	return d
}

func placeholderFor(id NodeID, expected NodeKind, qualifiedName string) *Node {
	return &Node{
		ID:            id,
		Kind:          NodeKindUnresolved,
		QualifiedName: qualifiedName,
		Name:          ShortName(expected, qualifiedName),
		ExpectedKind:  expected,
	}
}
