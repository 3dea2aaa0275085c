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
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/AleutianAI/codegraph/services/codegraph/graph"
)

// ExternalPrefix qualifies symbols that live outside the ingested tree.
const ExternalPrefix = "external::"

// maxTreeDepth bounds iterative AST walks.
const maxTreeDepth = 500

var whitespaceRe = regexp.MustCompile(`\s+`)

// factsBuilder accumulates the facts of one file.
type factsBuilder struct {
	path  string
	facts *graph.FileFacts
}

func newFactsBuilder(path string) *factsBuilder {
	return &factsBuilder{path: path, facts: &graph.FileFacts{Path: path}}
}

func (b *factsBuilder) qualify(name string) string {
	return b.path + "::" + name
}

func (b *factsBuilder) function(name, signature string, node *sitter.Node, receiver string) graph.NodeRef {
	qn := b.qualify(name)
	b.facts.Nodes = append(b.facts.Nodes, graph.Node{
		Kind:          graph.NodeKindFunction,
		QualifiedName: qn,
		Function: &graph.FunctionAttrs{
			File:      b.path,
			Signature: signature,
			LineStart: startLine(node),
			LineEnd:   endLine(node),
			Receiver:  receiver,
		},
	})
	return funcRef(qn)
}

func (b *factsBuilder) class(name string, node *sitter.Node) graph.NodeRef {
	qn := b.qualify(name)
	b.facts.Nodes = append(b.facts.Nodes, graph.Node{
		Kind:          graph.NodeKindClass,
		QualifiedName: qn,
		Class:         &graph.ClassAttrs{File: b.path, LineStart: startLine(node), LineEnd: endLine(node)},
	})
	return classRef(qn)
}

func (b *factsBuilder) variable(name string, node *sitter.Node) {
	b.facts.Nodes = append(b.facts.Nodes, graph.Node{
		Kind:          graph.NodeKindVariable,
		QualifiedName: b.qualify(name),
		Variable:      &graph.VariableAttrs{File: b.path, Line: startLine(node)},
	})
}

func (b *factsBuilder) table(name string, line int, columns []string) {
	b.facts.Nodes = append(b.facts.Nodes, graph.Node{
		Kind:          graph.NodeKindTable,
		QualifiedName: name,
		Table:         &graph.TableAttrs{File: b.path, Line: line, Columns: columns},
	})
}

func (b *factsBuilder) edge(source, target graph.NodeRef, kind graph.EdgeKind) {
	b.facts.Edges = append(b.facts.Edges, graph.EdgeFact{Source: source, Target: target, Kind: kind})
}

// sqlRefs adds Modifies and Reads edges for the SQL found in text.
func (b *factsBuilder) sqlRefs(source graph.NodeRef, text string) {
	for _, ref := range scanSQL(text) {
		if ref.ops != 0 {
			b.facts.Edges = append(b.facts.Edges, graph.EdgeFact{
				Source: source, Target: tableRef(ref.table), Kind: graph.EdgeKindModifies, Operations: ref.ops,
			})
		}
		if ref.reads {
			b.edge(source, tableRef(ref.table), graph.EdgeKindReads)
		}
	}
}

func fileRef(path string) graph.NodeRef {
	return graph.NodeRef{Kind: graph.NodeKindFile, QualifiedName: path}
}

func funcRef(qn string) graph.NodeRef {
	return graph.NodeRef{Kind: graph.NodeKindFunction, QualifiedName: qn}
}

func classRef(qn string) graph.NodeRef {
	return graph.NodeRef{Kind: graph.NodeKindClass, QualifiedName: qn}
}

func tableRef(name string) graph.NodeRef {
	return graph.NodeRef{Kind: graph.NodeKindTable, QualifiedName: name}
}

func externalFunc(name string) graph.NodeRef {
	return funcRef(ExternalPrefix + name)
}

func externalClass(name string) graph.NodeRef {
	return classRef(ExternalPrefix + name)
}

func nodeText(node *sitter.Node, content []byte) string {
	if node == nil {
		return ""
	}
	return string(content[node.StartByte():node.EndByte()])
}

func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

func startLine(node *sitter.Node) int {
	if node == nil {
		return 0
	}
	return int(node.StartPoint().Row) + 1
}

func endLine(node *sitter.Node) int {
	if node == nil {
		return 0
	}
	return int(node.EndPoint().Row) + 1
}

// walk visits node and its descendants in source order, stopping at
// maxTreeDepth. visit returns false to skip a node's children.
func walk(node *sitter.Node, visit func(n *sitter.Node) bool) {
	type entry struct {
		node  *sitter.Node
		depth int
	}
	stack := []entry{{node: node}}
	for len(stack) > 0 {
		e := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if e.node == nil || e.depth > maxTreeDepth {
			continue
		}
		if !visit(e.node) {
			continue
		}
		for i := int(e.node.ChildCount()) - 1; i >= 0; i-- {
			stack = append(stack, entry{node: e.node.Child(i), depth: e.depth + 1})
		}
	}
}
