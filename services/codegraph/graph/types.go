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
	"fmt"
	"path"
	"strings"
	"time"
)

// NodeKind identifies the variant of a Node.
type NodeKind int

const (
	// NodeKindUnknown is the zero value and is never stored.
	NodeKindUnknown NodeKind = iota

	// NodeKindFile is a source file.
	NodeKindFile

	// NodeKindFunction is a function or method.
	NodeKindFunction

	// NodeKindClass is a class, struct, or named type.
	NodeKindClass

	// NodeKindVariable is a module or package level variable.
	NodeKindVariable

	// NodeKindTable is a database table. Tables are globally qualified.
	NodeKindTable

	// NodeKindUnresolved is a placeholder for a node that is referenced
	// by an edge but not currently defined by any ingested file.
	NodeKindUnresolved
)

var nodeKindNames = map[NodeKind]string{
	NodeKindUnknown:    "unknown",
	NodeKindFile:       "file",
	NodeKindFunction:   "function",
	NodeKindClass:      "class",
	NodeKindVariable:   "variable",
	NodeKindTable:      "table",
	NodeKindUnresolved: "unresolved",
}

// String returns the string representation of the NodeKind.
func (k NodeKind) String() string {
	if name, ok := nodeKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseNodeKind converts a kind name back to a NodeKind.
func ParseNodeKind(s string) (NodeKind, error) {
	for k, name := range nodeKindNames {
		if name == s && k != NodeKindUnknown {
			return k, nil
		}
	}
	return NodeKindUnknown, fmt.Errorf("%w: unknown node kind %q", ErrInvalidArgument, s)
}

// MarshalText implements encoding.TextMarshaler.
func (k NodeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *NodeKind) UnmarshalText(text []byte) error {
	parsed, err := ParseNodeKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// definable reports whether a file may define a node of this kind.
func (k NodeKind) definable() bool {
	return k >= NodeKindFile && k <= NodeKindTable
}

// EdgeKind identifies the relationship an Edge expresses.
//
// The numeric order is the canonical sort order for edges.
type EdgeKind int

const (
	// EdgeKindUnknown is the zero value and is never stored.
	EdgeKindUnknown EdgeKind = iota

	// EdgeKindImports indicates a file imports another file or module.
	EdgeKindImports

	// EdgeKindCalls indicates a function calls another function.
	EdgeKindCalls

	// EdgeKindInherits indicates a class inherits from another class.
	EdgeKindInherits

	// EdgeKindModifies indicates code writes to a table.
	EdgeKindModifies

	// EdgeKindReads indicates code reads from a table.
	EdgeKindReads

	// NumEdgeKinds is one past the last valid EdgeKind.
	NumEdgeKinds
)

var edgeKindNames = map[EdgeKind]string{
	EdgeKindUnknown:  "unknown",
	EdgeKindImports:  "imports",
	EdgeKindCalls:    "calls",
	EdgeKindInherits: "inherits",
	EdgeKindModifies: "modifies",
	EdgeKindReads:    "reads",
}

// AllEdgeKinds lists every valid edge kind in canonical order.
var AllEdgeKinds = []EdgeKind{EdgeKindImports, EdgeKindCalls, EdgeKindInherits, EdgeKindModifies, EdgeKindReads}

// String returns the string representation of the EdgeKind.
func (k EdgeKind) String() string {
	if name, ok := edgeKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseEdgeKind converts a kind name back to an EdgeKind.
func ParseEdgeKind(s string) (EdgeKind, error) {
	for k, name := range edgeKindNames {
		if name == s && k != EdgeKindUnknown {
			return k, nil
		}
	}
	return EdgeKindUnknown, fmt.Errorf("%w: unknown edge kind %q", ErrInvalidArgument, s)
}

// MarshalText implements encoding.TextMarshaler.
func (k EdgeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *EdgeKind) UnmarshalText(text []byte) error {
	parsed, err := ParseEdgeKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Valid reports whether k is a storable edge kind.
func (k EdgeKind) Valid() bool {
	return k > EdgeKindUnknown && k < NumEdgeKinds
}

// TableOps is a bit set of write operations carried by Modifies edges.
type TableOps uint8

const (
	// TableOpInsert marks an INSERT.
	TableOpInsert TableOps = 1 << iota

	// TableOpUpdate marks an UPDATE.
	TableOpUpdate

	// TableOpDelete marks a DELETE.
	TableOpDelete
)

// String returns the operations joined with "|", e.g. "insert|delete".
func (o TableOps) String() string {
	var parts []string
	if o&TableOpInsert != 0 {
		parts = append(parts, "insert")
	}
	if o&TableOpUpdate != 0 {
		parts = append(parts, "update")
	}
	if o&TableOpDelete != 0 {
		parts = append(parts, "delete")
	}
	return strings.Join(parts, "|")
}

// NodeID is the stable identifier of a node: "<kind>:<qualified name>".
//
// Placeholders share the ID of the kind they are expected to become, so
// ingesting the defining file promotes the placeholder in place.
type NodeID string

// MakeNodeID derives the NodeID for a kind and qualified name.
func MakeNodeID(kind NodeKind, qualifiedName string) NodeID {
	return NodeID(kind.String() + ":" + qualifiedName)
}

// String returns the ID as a plain string.
func (id NodeID) String() string {
	return string(id)
}

// ShortName returns the unqualified display name for a qualified name.
//
// Files use their base name. Symbols drop the "<file>::" prefix and, for
// functions and classes, any enclosing "Type." prefix.
func ShortName(kind NodeKind, qualifiedName string) string {
	if kind == NodeKindFile {
		return path.Base(qualifiedName)
	}
	name := qualifiedName
	if i := strings.LastIndex(name, "::"); i >= 0 {
		name = name[i+2:]
	}
	if kind == NodeKindFunction || kind == NodeKindClass {
		if i := strings.LastIndex(name, "."); i >= 0 && i < len(name)-1 {
			name = name[i+1:]
		}
	}
	return name
}

// FileAttrs are the attributes of a File node.
type FileAttrs struct {
	Language     string    `json:"language,omitempty"`
	LinesOfCode  int       `json:"lines_of_code"`
	LastModified time.Time `json:"last_modified,omitempty"`
}

// FunctionAttrs are the attributes of a Function node.
type FunctionAttrs struct {
	File      string `json:"file"`
	Signature string `json:"signature,omitempty"`
	LineStart int    `json:"line_start"`
	LineEnd   int    `json:"line_end"`

	// Receiver is the enclosing class or type for methods.
	Receiver string `json:"receiver,omitempty"`
}

// ClassAttrs are the attributes of a Class node.
type ClassAttrs struct {
	File      string `json:"file"`
	LineStart int    `json:"line_start"`
	LineEnd   int    `json:"line_end"`
}

// VariableAttrs are the attributes of a Variable node.
type VariableAttrs struct {
	File string `json:"file"`
	Line int    `json:"line"`
}

// TableAttrs are the attributes of a Table node.
type TableAttrs struct {
	File    string   `json:"file,omitempty"`
	Line    int      `json:"line,omitempty"`
	Columns []string `json:"columns,omitempty"`
}

// Node is a vertex in the knowledge graph.
//
// Node is a tagged union: Kind selects which payload pointer is set. At
// most one payload is non-nil. Placeholders (NodeKindUnresolved) carry
// no payload and record the kind they were referenced as in ExpectedKind.
//
// Nodes never hold edge lists; adjacency is derived from the store's
// indexes. Nodes are immutable once stored.
type Node struct {
	ID            NodeID   `json:"id"`
	Kind          NodeKind `json:"kind"`
	QualifiedName string   `json:"qualified_name"`
	Name          string   `json:"name"`

	// Owner is the path of the file whose current facts define this node.
	// Empty for placeholders.
	Owner string `json:"owner,omitempty"`

	// ExpectedKind is set only on placeholders.
	ExpectedKind NodeKind `json:"expected_kind,omitempty"`

	File     *FileAttrs     `json:"file,omitempty"`
	Function *FunctionAttrs `json:"function,omitempty"`
	Class    *ClassAttrs    `json:"class,omitempty"`
	Variable *VariableAttrs `json:"variable,omitempty"`
	Table    *TableAttrs    `json:"table,omitempty"`
}

// IsPlaceholder reports whether the node is an unresolved placeholder.
func (n *Node) IsPlaceholder() bool {
	return n.Kind == NodeKindUnresolved
}

// EffectiveKind returns Kind, or ExpectedKind for placeholders.
func (n *Node) EffectiveKind() NodeKind {
	if n.IsPlaceholder() {
		return n.ExpectedKind
	}
	return n.Kind
}

// Equal reports whether two nodes carry identical data.
func (n *Node) Equal(o *Node) bool {
	if n == nil || o == nil {
		return n == o
	}
	if n.ID != o.ID || n.Kind != o.Kind || n.QualifiedName != o.QualifiedName ||
		n.Name != o.Name || n.Owner != o.Owner || n.ExpectedKind != o.ExpectedKind {
		return false
	}
	return fileAttrsEqual(n.File, o.File) &&
		ptrEqual(n.Function, o.Function) &&
		ptrEqual(n.Class, o.Class) &&
		ptrEqual(n.Variable, o.Variable) &&
		tableAttrsEqual(n.Table, o.Table)
}

func ptrEqual[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func fileAttrsEqual(a, b *FileAttrs) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Language == b.Language && a.LinesOfCode == b.LinesOfCode && a.LastModified.Equal(b.LastModified)
}

func tableAttrsEqual(a, b *TableAttrs) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.File != b.File || a.Line != b.Line || len(a.Columns) != len(b.Columns) {
		return false
	}
	for i := range a.Columns {
		if a.Columns[i] != b.Columns[i] {
			return false
		}
	}
	return true
}

// payloadKind returns the kind implied by the non-nil payload, or
// NodeKindUnknown if none is set. More than one payload is an error.
func (n *Node) payloadKind() (NodeKind, error) {
	kind := NodeKindUnknown
	set := func(k NodeKind) error {
		if kind != NodeKindUnknown {
			return fmt.Errorf("%w: node %s has more than one payload", ErrInvalidArgument, n.QualifiedName)
		}
		kind = k
		return nil
	}
	if n.File != nil {
		if err := set(NodeKindFile); err != nil {
			return 0, err
		}
	}
	if n.Function != nil {
		if err := set(NodeKindFunction); err != nil {
			return 0, err
		}
	}
	if n.Class != nil {
		if err := set(NodeKindClass); err != nil {
			return 0, err
		}
	}
	if n.Variable != nil {
		if err := set(NodeKindVariable); err != nil {
			return 0, err
		}
	}
	if n.Table != nil {
		if err := set(NodeKindTable); err != nil {
			return 0, err
		}
	}
	return kind, nil
}

// EdgeKey is the identity of an edge.
type EdgeKey struct {
	Source NodeID   `json:"source"`
	Target NodeID   `json:"target"`
	Kind   EdgeKind `json:"kind"`
}

// String renders the key as "source -[kind]-> target".
func (k EdgeKey) String() string {
	return fmt.Sprintf("%s -[%s]-> %s", k.Source, k.Kind, k.Target)
}

// Compare orders keys by source, target, then kind.
func (k EdgeKey) Compare(o EdgeKey) int {
	if c := strings.Compare(string(k.Source), string(o.Source)); c != 0 {
		return c
	}
	if c := strings.Compare(string(k.Target), string(o.Target)); c != 0 {
		return c
	}
	return int(k.Kind) - int(o.Kind)
}

// Edge is a directed, typed relation between two nodes.
//
// Repeated occurrences of the same (Source, Target, Kind) within one
// file aggregate into a single Edge: CallCount sums and Operations
// are OR-ed. Edges are immutable once stored.
type Edge struct {
	Source NodeID   `json:"source"`
	Target NodeID   `json:"target"`
	Kind   EdgeKind `json:"kind"`

	// CallCount is the number of call sites for Calls edges within the
	// owning file's current version.
	CallCount int `json:"call_count,omitempty"`

	// Operations is the write operation set for Modifies edges.
	Operations TableOps `json:"operations,omitempty"`

	// Owner is the path of the file that contributes this edge.
	Owner string `json:"owner"`
}

// Key returns the identity of the edge.
func (e *Edge) Key() EdgeKey {
	return EdgeKey{Source: e.Source, Target: e.Target, Kind: e.Kind}
}

// Equal reports whether two edges carry identical data.
func (e *Edge) Equal(o *Edge) bool {
	if e == nil || o == nil {
		return e == o
	}
	return *e == *o
}

// NodeRef names a node by kind and qualified name without requiring it
// to exist. Edge facts use refs so unresolved targets can become placeholders.
type NodeRef struct {
	Kind          NodeKind `json:"kind"`
	QualifiedName string   `json:"qualified_name"`
}

// ID returns the NodeID the ref resolves to.
func (r NodeRef) ID() NodeID {
	return MakeNodeID(r.Kind, r.QualifiedName)
}

// EdgeFact is a single edge occurrence reported by a fact extractor.
type EdgeFact struct {
	Source NodeRef  `json:"source"`
	Target NodeRef  `json:"target"`
	Kind   EdgeKind `json:"kind"`

	// CallCount is the number of occurrences this fact stands for.
	// Zero is treated as one for Calls edges.
	CallCount int `json:"call_count,omitempty"`

	Operations TableOps `json:"operations,omitempty"`
}

// FileFacts is everything a fact extractor derived from one file's
// current content.
//
// Nodes need Kind, QualifiedName, and optionally Name and a payload. ID
// and Owner are assigned by the store. A File node for Path is added
// automatically when absent.
type FileFacts struct {
	Path  string     `json:"path"`
	Nodes []Node     `json:"nodes"`
	Edges []EdgeFact `json:"edges"`
}

// Conflict records a node or edge whose ownership moved from one file to another.
type Conflict struct {
	// ID is the node ID or edge key that changed owner.
	ID string `json:"id"`

	// IsEdge is true when ID names an edge.
	IsEdge bool `json:"is_edge,omitempty"`

	// PreviousOwner is the file that owned the fact before the update.
	PreviousOwner string `json:"previous_owner"`

	// NewOwner is the file that owns it now.
	NewOwner string `json:"new_owner"`
}

// BuildDelta is the net change produced by one store mutation.
//
// A fact that was retracted and re-inserted unchanged counts as neither
// added nor removed.
type BuildDelta struct {
	NodesAdded   int `json:"nodes_added"`
	NodesRemoved int `json:"nodes_removed"`
	NodesUpdated int `json:"nodes_updated"`
	EdgesAdded   int `json:"edges_added"`
	EdgesRemoved int `json:"edges_removed"`
	EdgesUpdated int `json:"edges_updated"`

	// Promoted counts placeholders that became real nodes.
	Promoted int `json:"promoted"`

	// Demoted counts real nodes that became placeholders.
	Demoted int `json:"demoted"`
}

// Changed reports whether the delta records any change.
func (d BuildDelta) Changed() bool {
	return d != BuildDelta{}
}

// Add accumulates another delta into d.
func (d *BuildDelta) Add(o BuildDelta) {
	d.NodesAdded += o.NodesAdded
	d.NodesRemoved += o.NodesRemoved
	d.NodesUpdated += o.NodesUpdated
	d.EdgesAdded += o.EdgesAdded
	d.EdgesRemoved += o.EdgesRemoved
	d.EdgesUpdated += o.EdgesUpdated
	d.Promoted += o.Promoted
	d.Demoted += o.Demoted
}
