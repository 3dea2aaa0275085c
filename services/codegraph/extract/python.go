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
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/AleutianAI/codegraph/services/codegraph/graph"
)

// ErrSyntax is returned when the parser reports syntax errors.
var ErrSyntax = errors.New("syntax error")

// Python tree-sitter node types.
const (
	pyNodeImportStatement     = "import_statement"
	pyNodeImportFromStatement = "import_from_statement"
	pyNodeDottedName          = "dotted_name"
	pyNodeAliasedImport       = "aliased_import"
	pyNodeRelativeImport      = "relative_import"
	pyNodeImportPrefix        = "import_prefix"
	pyNodeWildcardImport      = "wildcard_import"
	pyNodeFunctionDefinition  = "function_definition"
	pyNodeClassDefinition     = "class_definition"
	pyNodeDecoratedDefinition = "decorated_definition"
	pyNodeExpressionStatement = "expression_statement"
	pyNodeAssignment          = "assignment"
	pyNodeCall                = "call"
	pyNodeAttribute           = "attribute"
	pyNodeIdentifier          = "identifier"
	pyNodeString              = "string"
	pyNodeKeywordArgument     = "keyword_argument"
)

// pythonBuiltins are never recorded as call targets.
var pythonBuiltins = map[string]bool{
	"print": true, "len": true, "range": true, "str": true, "int": true, "float": true,
	"bool": true, "list": true, "dict": true, "set": true, "tuple": true, "bytes": true,
	"isinstance": true, "issubclass": true, "super": true, "open": true, "enumerate": true,
	"zip": true, "map": true, "filter": true, "sorted": true, "reversed": true, "min": true,
	"max": true, "sum": true, "any": true, "all": true, "abs": true, "getattr": true,
	"setattr": true, "hasattr": true, "repr": true, "type": true, "object": true, "iter": true,
	"next": true, "id": true, "hash": true, "format": true, "round": true, "vars": true,
	"dir": true, "callable": true, "staticmethod": true, "classmethod": true, "property": true,
	"Exception": true, "ValueError": true, "TypeError": true, "KeyError": true,
	"RuntimeError": true, "NotImplementedError": true, "AttributeError": true,
}

// pyBinding is what an imported name refers to: a module file, or a
// symbol inside one.
type pyBinding struct {
	module string
	symbol string
}

// PythonExtractor extracts facts from Python source with tree-sitter.
type PythonExtractor struct {
	root string
}

// NewPythonExtractor creates a PythonExtractor. root is used to decide
// whether an import names a module file or a package.
func NewPythonExtractor(root string) *PythonExtractor {
	return &PythonExtractor{root: root}
}

// Language returns "python".
func (x *PythonExtractor) Language() string { return "python" }

// Extensions returns []string{".py"}.
func (x *PythonExtractor) Extensions() []string { return []string{".py"} }

// pyFile holds the per-file state of one extraction.
type pyFile struct {
	x        *PythonExtractor
	b        *factsBuilder
	content  []byte
	funcs    map[string]bool
	classes  map[string]map[string]bool
	bindings map[string]pyBinding
}

// Extract parses src and returns its functions, classes, methods,
// module-level variables, imports, calls, inheritance, and SQL table
// references.
func (x *PythonExtractor) Extract(ctx context.Context, src Source) (*graph.FileFacts, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())
	tree, err := parser.ParseCtx(ctx, nil, src.Content)
	if err != nil {
		if ctxErr := graph.CheckContext(ctx); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return nil, fmt.Errorf("tree-sitter returned nil root node")
	}
	if root.HasError() {
		return nil, fmt.Errorf("%w in %s", ErrSyntax, src.Path)
	}

	f := &pyFile{
		x:        x,
		b:        newFactsBuilder(src.Path),
		content:  src.Content,
		funcs:    make(map[string]bool),
		classes:  make(map[string]map[string]bool),
		bindings: make(map[string]pyBinding),
	}
	f.collect(root)
	f.emit(root)
	return f.b.facts, nil
}

// definition unwraps a decorated definition.
func definition(node *sitter.Node) *sitter.Node {
	if node.Type() == pyNodeDecoratedDefinition {
		return node.ChildByFieldName("definition")
	}
	return node
}

// collect records module-level names so calls can be resolved locally.
func (f *pyFile) collect(root *sitter.Node) {
	for i := 0; i < int(root.ChildCount()); i++ {
		def := definition(root.Child(i))
		if def == nil {
			continue
		}
		switch def.Type() {
		case pyNodeFunctionDefinition:
			f.funcs[nodeText(def.ChildByFieldName("name"), f.content)] = true
		case pyNodeClassDefinition:
			methods := make(map[string]bool)
			f.eachMethod(def, func(m *sitter.Node) {
				methods[nodeText(m.ChildByFieldName("name"), f.content)] = true
			})
			f.classes[nodeText(def.ChildByFieldName("name"), f.content)] = methods
		}
	}
}

func (f *pyFile) eachMethod(class *sitter.Node, fn func(*sitter.Node)) {
	body := class.ChildByFieldName("body")
	if body == nil {
		return
	}
	for i := 0; i < int(body.ChildCount()); i++ {
		def := definition(body.Child(i))
		if def != nil && def.Type() == pyNodeFunctionDefinition {
			fn(def)
		}
	}
}

func (f *pyFile) emit(root *sitter.Node) {
	file := fileRef(f.b.path)
	for i := 0; i < int(root.ChildCount()); i++ {
		child := root.Child(i)
		def := definition(child)
		if def == nil {
			continue
		}
		switch def.Type() {
		case pyNodeImportStatement:
			f.importStatement(def)
		case pyNodeImportFromStatement:
			f.importFrom(def)
		case pyNodeFunctionDefinition:
			name := nodeText(def.ChildByFieldName("name"), f.content)
			ref := f.b.function(name, f.signature(def, name), def, "")
			f.body(ref, "", def.ChildByFieldName("body"))
		case pyNodeClassDefinition:
			f.class(def)
		case pyNodeExpressionStatement:
			f.assignment(def)
			f.body(file, "", def)
		default:
			f.body(file, "", def)
		}
	}
}

func (f *pyFile) signature(def *sitter.Node, name string) string {
	sig := "def " + name + nodeText(def.ChildByFieldName("parameters"), f.content)
	if ret := def.ChildByFieldName("return_type"); ret != nil {
		sig += " -> " + nodeText(ret, f.content)
	}
	return collapseWhitespace(sig)
}

func (f *pyFile) class(def *sitter.Node) {
	name := nodeText(def.ChildByFieldName("name"), f.content)
	ref := f.b.class(name, def)

	if bases := def.ChildByFieldName("superclasses"); bases != nil {
		for i := 0; i < int(bases.NamedChildCount()); i++ {
			base := bases.NamedChild(i)
			if base.Type() == pyNodeKeywordArgument {
				continue
			}
			if target, ok := f.resolveClass(nodeText(base, f.content)); ok {
				f.b.edge(ref, target, graph.EdgeKindInherits)
			}
		}
	}

	f.eachMethod(def, func(m *sitter.Node) {
		method := nodeText(m.ChildByFieldName("name"), f.content)
		mref := f.b.function(name+"."+method, f.signature(m, method), m, name)
		f.body(mref, name, m.ChildByFieldName("body"))
	})
}

func (f *pyFile) resolveClass(name string) (graph.NodeRef, bool) {
	if name == "object" {
		return graph.NodeRef{}, false
	}
	if _, ok := f.classes[name]; ok {
		return classRef(f.b.qualify(name)), true
	}
	if b, ok := f.bindings[name]; ok && b.symbol != "" {
		return classRef(b.module + "::" + b.symbol), true
	}
	if i := strings.LastIndex(name, "."); i > 0 {
		if b, ok := f.bindings[name[:i]]; ok && b.symbol == "" {
			return classRef(b.module + "::" + name[i+1:]), true
		}
	}
	return externalClass(name), true
}

// assignment records module-level variables assigned by name.
func (f *pyFile) assignment(stmt *sitter.Node) {
	if stmt.NamedChildCount() == 0 {
		return
	}
	assign := stmt.NamedChild(0)
	if assign.Type() != pyNodeAssignment {
		return
	}
	left := assign.ChildByFieldName("left")
	if left != nil && left.Type() == pyNodeIdentifier {
		f.b.variable(nodeText(left, f.content), assign)
	}
}

// body emits Calls and SQL edges from source for everything under node.
func (f *pyFile) body(source graph.NodeRef, class string, node *sitter.Node) {
	if node == nil {
		return
	}
	walk(node, func(n *sitter.Node) bool {
		switch n.Type() {
		case pyNodeCall:
			if target, ok := f.resolveCall(class, n.ChildByFieldName("function")); ok {
				f.b.edge(source, target, graph.EdgeKindCalls)
			}
		case pyNodeString:
			f.b.sqlRefs(source, nodeText(n, f.content))
			return false
		case pyNodeClassDefinition:
			// Nested classes are not modeled.
			return false
		}
		return true
	})
}

func (f *pyFile) resolveCall(class string, fn *sitter.Node) (graph.NodeRef, bool) {
	if fn == nil {
		return graph.NodeRef{}, false
	}
	switch fn.Type() {
	case pyNodeIdentifier:
		name := nodeText(fn, f.content)
		switch {
		case f.funcs[name]:
			return funcRef(f.b.qualify(name)), true
		case f.classes[name] != nil:
			if f.classes[name]["__init__"] {
				return funcRef(f.b.qualify(name + ".__init__")), true
			}
			return graph.NodeRef{}, false
		case pythonBuiltins[name]:
			return graph.NodeRef{}, false
		}
		if b, ok := f.bindings[name]; ok {
			// Imported modules and CapWords classes are not functions.
			if b.symbol == "" || isCapitalized(b.symbol) {
				return graph.NodeRef{}, false
			}
			return funcRef(b.module + "::" + b.symbol), true
		}
		return externalFunc(name), true

	case pyNodeAttribute:
		object := nodeText(fn.ChildByFieldName("object"), f.content)
		attr := nodeText(fn.ChildByFieldName("attribute"), f.content)
		if (object == "self" || object == "cls") && class != "" {
			if f.classes[class][attr] {
				return funcRef(f.b.qualify(class + "." + attr)), true
			}
			return graph.NodeRef{}, false
		}
		if methods, ok := f.classes[object]; ok {
			if methods[attr] {
				return funcRef(f.b.qualify(object + "." + attr)), true
			}
			return graph.NodeRef{}, false
		}
		if b, ok := f.bindings[object]; ok {
			if b.symbol == "" {
				return funcRef(b.module + "::" + attr), true
			}
			return funcRef(b.module + "::" + b.symbol + "." + attr), true
		}
	}
	return graph.NodeRef{}, false
}

// importStatement handles "import a.b" and "import a.b as c".
func (f *pyFile) importStatement(stmt *sitter.Node) {
	for i := 0; i < int(stmt.NamedChildCount()); i++ {
		child := stmt.NamedChild(i)
		var dotted, alias string
		switch child.Type() {
		case pyNodeDottedName:
			dotted = nodeText(child, f.content)
			alias = dotted
		case pyNodeAliasedImport:
			dotted = nodeText(child.ChildByFieldName("name"), f.content)
			alias = nodeText(child.ChildByFieldName("alias"), f.content)
		default:
			continue
		}
		module := f.x.moduleFile(f.b.path, dotted, 0)
		f.b.edge(fileRef(f.b.path), fileRef(module), graph.EdgeKindImports)
		f.bindings[alias] = pyBinding{module: module}
	}
}

// importFrom handles "from m import x", relative forms, and wildcards.
func (f *pyFile) importFrom(stmt *sitter.Node) {
	moduleNode := stmt.ChildByFieldName("module_name")
	if moduleNode == nil {
		return
	}
	level := 0
	dotted := ""
	switch moduleNode.Type() {
	case pyNodeDottedName:
		dotted = nodeText(moduleNode, f.content)
	case pyNodeRelativeImport:
		for i := 0; i < int(moduleNode.NamedChildCount()); i++ {
			part := moduleNode.NamedChild(i)
			switch part.Type() {
			case pyNodeImportPrefix:
				level = strings.Count(nodeText(part, f.content), ".")
			case pyNodeDottedName:
				dotted = nodeText(part, f.content)
			}
		}
	}

	file := fileRef(f.b.path)
	var module string
	if dotted != "" {
		module = f.x.moduleFile(f.b.path, dotted, level)
		f.b.edge(file, fileRef(module), graph.EdgeKindImports)
	}

	for i := 0; i < int(stmt.NamedChildCount()); i++ {
		child := stmt.NamedChild(i)
		if child.StartByte() == moduleNode.StartByte() {
			continue
		}
		var name, alias string
		switch child.Type() {
		case pyNodeDottedName:
			name = nodeText(child, f.content)
			alias = name
		case pyNodeAliasedImport:
			name = nodeText(child.ChildByFieldName("name"), f.content)
			alias = nodeText(child.ChildByFieldName("alias"), f.content)
		default:
			continue
		}

		sub := name
		if dotted != "" {
			sub = dotted + "." + name
		}
		// "from pkg import mod" imports a submodule when one exists.
		if dotted == "" || f.x.isModule(f.b.path, sub, level) {
			subFile := f.x.moduleFile(f.b.path, sub, level)
			f.b.edge(file, fileRef(subFile), graph.EdgeKindImports)
			f.bindings[alias] = pyBinding{module: subFile}
			continue
		}
		f.bindings[alias] = pyBinding{module: module, symbol: name}
	}
}

// moduleFile maps a dotted module name to a slash-separated file path
// relative to the root. level is the number of leading dots of a
// relative import. Packages resolve to their __init__.py when no module
// file exists.
func (x *PythonExtractor) moduleFile(from, dotted string, level int) string {
	base := x.moduleBase(from, dotted, level)
	if x.exists(base+".py") || !x.exists(path.Join(base, "__init__.py")) {
		return base + ".py"
	}
	return path.Join(base, "__init__.py")
}

func (x *PythonExtractor) isModule(from, dotted string, level int) bool {
	base := x.moduleBase(from, dotted, level)
	return x.exists(base+".py") || x.exists(path.Join(base, "__init__.py"))
}

func (x *PythonExtractor) moduleBase(from, dotted string, level int) string {
	rel := strings.ReplaceAll(dotted, ".", "/")
	if level == 0 {
		return rel
	}
	dir := path.Dir(from)
	for i := 1; i < level; i++ {
		dir = path.Dir(dir)
	}
	return path.Clean(path.Join(dir, rel))
}

func (x *PythonExtractor) exists(rel string) bool {
	info, err := os.Stat(filepath.Join(x.root, filepath.FromSlash(rel)))
	return err == nil && !info.IsDir()
}

func isCapitalized(name string) bool {
	return name != "" && name[0] >= 'A' && name[0] <= 'Z'
}
