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
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"golang.org/x/mod/modfile"

	"github.com/AleutianAI/codegraph/services/codegraph/graph"
)

// Go tree-sitter node types.
const (
	goNodeImportDeclaration   = "import_declaration"
	goNodeImportSpec          = "import_spec"
	goNodeImportSpecList      = "import_spec_list"
	goNodeFunctionDeclaration = "function_declaration"
	goNodeMethodDeclaration   = "method_declaration"
	goNodeTypeDeclaration     = "type_declaration"
	goNodeTypeSpec            = "type_spec"
	goNodeStructType          = "struct_type"
	goNodeFieldDeclList       = "field_declaration_list"
	goNodeFieldDeclaration    = "field_declaration"
	goNodeVarDeclaration      = "var_declaration"
	goNodeVarSpec             = "var_spec"
	goNodeVarSpecList         = "var_spec_list"
	goNodeCallExpression      = "call_expression"
	goNodeSelectorExpression  = "selector_expression"
	goNodeIdentifier          = "identifier"
	goNodeInterpretedString   = "interpreted_string_literal"
	goNodeRawString           = "raw_string_literal"
)

// packageIndexCacheSize bounds the number of cached package indexes.
const packageIndexCacheSize = 256

var goBuiltins = map[string]bool{
	"append": true, "cap": true, "clear": true, "close": true, "complex": true,
	"copy": true, "delete": true, "imag": true, "len": true, "make": true,
	"max": true, "min": true, "new": true, "panic": true, "print": true,
	"println": true, "real": true, "recover": true,
}

var majorVersionRe = regexp.MustCompile(`^v[0-9]+$`)

// goPackageIndex maps the top-level names of one package directory to
// the file that declares them.
type goPackageIndex struct {
	fingerprint string
	funcs       map[string]string
	types       map[string]string
	methods     map[string]string
	files       []string
}

// goImport is one import of the file being extracted.
type goImport struct {
	path     string
	internal bool
	dir      string
}

// GoExtractor extracts facts from Go source with tree-sitter.
//
// Calls and embeddings that cross files of the same package, or reach
// packages of the same module, are resolved through a per-directory
// index of top-level declarations. The index is rebuilt when any file
// in the directory changes size or modification time.
//
// Thread Safety: Safe for concurrent use.
type GoExtractor struct {
	root       string
	modulePath func() string
	indexes    *lru.Cache[string, *goPackageIndex]
}

// NewGoExtractor creates a GoExtractor. The module path is read from
// root/go.mod on first use; without one, every import is external.
func NewGoExtractor(root string) *GoExtractor {
	cache, err := lru.New[string, *goPackageIndex](packageIndexCacheSize)
	if err != nil {
		panic(fmt.Sprintf("extract: creating package index cache: %v", err))
	}
	x := &GoExtractor{root: root, indexes: cache}
	x.modulePath = sync.OnceValue(func() string {
		data, err := os.ReadFile(filepath.Join(root, "go.mod"))
		if err != nil {
			return ""
		}
		return modfile.ModulePath(data)
	})
	return x
}

// Language returns "go".
func (x *GoExtractor) Language() string { return "go" }

// Extensions returns []string{".go"}.
func (x *GoExtractor) Extensions() []string { return []string{".go"} }

// goFile holds the per-file state of one extraction.
type goFile struct {
	ctx     context.Context
	x       *GoExtractor
	b       *factsBuilder
	content []byte
	local   *goPackageIndex
	imports map[string]goImport
	pkgs    map[string]*goPackageIndex
}

// pkg returns the index of an imported package directory, loading it at
// most once per file.
func (f *goFile) pkg(dir string) *goPackageIndex {
	if idx, ok := f.pkgs[dir]; ok {
		return idx
	}
	idx := f.x.packageIndex(f.ctx, dir)
	f.pkgs[dir] = idx
	return idx
}

// Extract parses src and returns its functions, methods, types,
// package-level variables, imports, calls, struct embeddings, and SQL
// table references.
func (x *GoExtractor) Extract(ctx context.Context, src Source) (*graph.FileFacts, error) {
	root, closeTree, err := parseGo(ctx, src.Content)
	if err != nil {
		return nil, err
	}
	defer closeTree()
	if root.HasError() {
		return nil, fmt.Errorf("%w in %s", ErrSyntax, src.Path)
	}

	f := &goFile{
		ctx:     ctx,
		x:       x,
		b:       newFactsBuilder(src.Path),
		content: src.Content,
		imports: make(map[string]goImport),
		pkgs:    make(map[string]*goPackageIndex),
	}
	f.local = x.packageIndex(ctx, path.Dir(src.Path))
	// The file being extracted wins over a stale index entry.
	indexDeclarations(f.local, src.Path, root, src.Content)

	for i := 0; i < int(root.ChildCount()); i++ {
		if child := root.Child(i); child.Type() == goNodeImportDeclaration {
			f.importDeclaration(child)
		}
	}
	for i := 0; i < int(root.ChildCount()); i++ {
		child := root.Child(i)
		switch child.Type() {
		case goNodeImportDeclaration:
		case goNodeFunctionDeclaration:
			name := nodeText(child.ChildByFieldName("name"), f.content)
			ref := f.b.function(name, f.signature(child, "", name), child, "")
			f.body(ref, "", "", child.ChildByFieldName("body"))
		case goNodeMethodDeclaration:
			f.method(child)
		case goNodeTypeDeclaration:
			f.typeDeclaration(child)
		case goNodeVarDeclaration:
			f.varDeclaration(child)
			f.body(fileRef(f.b.path), "", "", child)
		default:
			f.body(fileRef(f.b.path), "", "", child)
		}
	}
	return f.b.facts, nil
}

func parseGo(ctx context.Context, content []byte) (*sitter.Node, func(), error) {
	parser := sitter.NewParser()
	parser.SetLanguage(golang.GetLanguage())
	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		if ctxErr := graph.CheckContext(ctx); ctxErr != nil {
			return nil, nil, ctxErr
		}
		return nil, nil, fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	root := tree.RootNode()
	if root == nil {
		tree.Close()
		return nil, nil, fmt.Errorf("tree-sitter returned nil root node")
	}
	return root, tree.Close, nil
}

func (f *goFile) signature(decl *sitter.Node, receiver, name string) string {
	var sb strings.Builder
	sb.WriteString("func ")
	if receiver != "" {
		sb.WriteString(receiver)
		sb.WriteString(" ")
	}
	sb.WriteString(name)
	sb.WriteString(nodeText(decl.ChildByFieldName("parameters"), f.content))
	if result := decl.ChildByFieldName("result"); result != nil {
		sb.WriteString(" ")
		sb.WriteString(nodeText(result, f.content))
	}
	return collapseWhitespace(sb.String())
}

func (f *goFile) method(decl *sitter.Node) {
	recvNode := decl.ChildByFieldName("receiver")
	recvType, recvName := receiverOf(recvNode, f.content)
	name := nodeText(decl.ChildByFieldName("name"), f.content)
	if recvType == "" {
		return
	}
	sig := f.signature(decl, nodeText(recvNode, f.content), name)
	ref := f.b.function(recvType+"."+name, sig, decl, recvType)
	f.body(ref, recvType, recvName, decl.ChildByFieldName("body"))
}

// receiverOf returns the base type name and variable name of a method
// receiver such as "(s *Store[K])".
func receiverOf(params *sitter.Node, content []byte) (typeName, varName string) {
	if params == nil || params.NamedChildCount() == 0 {
		return "", ""
	}
	decl := params.NamedChild(0)
	varName = nodeText(decl.ChildByFieldName("name"), content)
	typeName = nodeText(decl.ChildByFieldName("type"), content)
	typeName = strings.TrimLeft(typeName, "*")
	if i := strings.IndexByte(typeName, '['); i >= 0 {
		typeName = typeName[:i]
	}
	return strings.TrimSpace(typeName), varName
}

func (f *goFile) typeDeclaration(decl *sitter.Node) {
	for i := 0; i < int(decl.NamedChildCount()); i++ {
		spec := decl.NamedChild(i)
		if spec.Type() != goNodeTypeSpec {
			continue
		}
		name := nodeText(spec.ChildByFieldName("name"), f.content)
		ref := f.b.class(name, spec)
		typ := spec.ChildByFieldName("type")
		if typ == nil || typ.Type() != goNodeStructType {
			continue
		}
		for j := 0; j < int(typ.NamedChildCount()); j++ {
			list := typ.NamedChild(j)
			if list.Type() != goNodeFieldDeclList {
				continue
			}
			for k := 0; k < int(list.NamedChildCount()); k++ {
				field := list.NamedChild(k)
				if field.Type() != goNodeFieldDeclaration || field.ChildByFieldName("name") != nil {
					continue
				}
				if target, ok := f.resolveEmbedded(field.ChildByFieldName("type")); ok {
					f.b.edge(ref, target, graph.EdgeKindInherits)
				}
			}
		}
	}
}

// resolveEmbedded maps an embedded field type to the class it names.
func (f *goFile) resolveEmbedded(typ *sitter.Node) (graph.NodeRef, bool) {
	if typ == nil {
		return graph.NodeRef{}, false
	}
	text := strings.TrimLeft(nodeText(typ, f.content), "*")
	if i := strings.IndexByte(text, '['); i >= 0 {
		text = text[:i]
	}
	pkg, name, qualified := strings.Cut(text, ".")
	if !qualified {
		if file, ok := f.local.types[text]; ok {
			return classRef(file + "::" + text), true
		}
		return graph.NodeRef{}, false
	}
	imp, ok := f.imports[pkg]
	if !ok {
		return graph.NodeRef{}, false
	}
	if imp.internal {
		if idx := f.pkg(imp.dir); idx != nil {
			if file, ok := idx.types[name]; ok {
				return classRef(file + "::" + name), true
			}
		}
	}
	return externalClass(imp.path + "." + name), true
}

func (f *goFile) varDeclaration(decl *sitter.Node) {
	for _, spec := range specs(decl, goNodeVarSpec, goNodeVarSpecList) {
		for i := 0; i < int(spec.NamedChildCount()); i++ {
			if child := spec.NamedChild(i); child.Type() == goNodeIdentifier {
				name := nodeText(child, f.content)
				if name != "_" {
					f.b.variable(name, spec)
				}
			}
		}
	}
}

// specs returns the specs of a declaration, flattening a parenthesized
// list.
func specs(decl *sitter.Node, specType, listType string) []*sitter.Node {
	var out []*sitter.Node
	for i := 0; i < int(decl.NamedChildCount()); i++ {
		child := decl.NamedChild(i)
		switch child.Type() {
		case specType:
			out = append(out, child)
		case listType:
			for j := 0; j < int(child.NamedChildCount()); j++ {
				if spec := child.NamedChild(j); spec.Type() == specType {
					out = append(out, spec)
				}
			}
		}
	}
	return out
}

func (f *goFile) importDeclaration(decl *sitter.Node) {
	file := fileRef(f.b.path)
	module := f.x.modulePath()
	for _, spec := range specs(decl, goNodeImportSpec, goNodeImportSpecList) {
		importPath, err := strconv.Unquote(nodeText(spec.ChildByFieldName("path"), f.content))
		if err != nil || importPath == "" {
			continue
		}
		imp := goImport{path: importPath}
		if module != "" && (importPath == module || strings.HasPrefix(importPath, module+"/")) {
			imp.internal = true
			imp.dir = strings.TrimPrefix(strings.TrimPrefix(importPath, module), "/")
			if imp.dir == "" {
				imp.dir = "."
			}
		}

		linked := false
		if imp.internal {
			if idx := f.pkg(imp.dir); idx != nil {
				for _, target := range idx.files {
					if !strings.HasSuffix(target, "_test.go") {
						f.b.edge(file, fileRef(target), graph.EdgeKindImports)
						linked = true
					}
				}
			}
		}
		if !linked {
			f.b.edge(file, fileRef(importPath), graph.EdgeKindImports)
		}

		alias := nodeText(spec.ChildByFieldName("name"), f.content)
		if alias == "" {
			alias = packageName(importPath)
		}
		if alias != "_" && alias != "." {
			f.imports[alias] = imp
		}
	}
}

// packageName guesses the package name of an import path from its last
// element, skipping major version suffixes.
func packageName(importPath string) string {
	parts := strings.Split(importPath, "/")
	name := parts[len(parts)-1]
	if majorVersionRe.MatchString(name) && len(parts) > 1 {
		name = parts[len(parts)-2]
	}
	if i := strings.IndexByte(name, '.'); i > 0 {
		name = name[:i]
	}
	name = strings.TrimPrefix(name, "go-")
	return strings.ReplaceAll(name, "-", "_")
}

// body emits Calls and SQL edges from source for everything under node.
func (f *goFile) body(source graph.NodeRef, recvType, recvName string, node *sitter.Node) {
	if node == nil {
		return
	}
	walk(node, func(n *sitter.Node) bool {
		switch n.Type() {
		case goNodeCallExpression:
			if target, ok := f.resolveCall(recvType, recvName, n.ChildByFieldName("function")); ok {
				f.b.edge(source, target, graph.EdgeKindCalls)
			}
		case goNodeInterpretedString, goNodeRawString:
			f.b.sqlRefs(source, nodeText(n, f.content))
			return false
		}
		return true
	})
}

func (f *goFile) resolveCall(recvType, recvName string, fn *sitter.Node) (graph.NodeRef, bool) {
	if fn == nil {
		return graph.NodeRef{}, false
	}
	switch fn.Type() {
	case goNodeIdentifier:
		name := nodeText(fn, f.content)
		if goBuiltins[name] {
			return graph.NodeRef{}, false
		}
		if file, ok := f.local.funcs[name]; ok {
			return funcRef(file + "::" + name), true
		}
		// Conversions and calls through local func values are not modeled.
		return graph.NodeRef{}, false

	case goNodeSelectorExpression:
		operand := fn.ChildByFieldName("operand")
		field := nodeText(fn.ChildByFieldName("field"), f.content)
		if operand == nil || operand.Type() != goNodeIdentifier {
			return graph.NodeRef{}, false
		}
		name := nodeText(operand, f.content)
		if name == recvName && recvType != "" {
			if file, ok := f.local.methods[recvType+"."+field]; ok {
				return funcRef(file + "::" + recvType + "." + field), true
			}
			return graph.NodeRef{}, false
		}
		imp, ok := f.imports[name]
		if !ok {
			return graph.NodeRef{}, false
		}
		if imp.internal {
			if idx := f.pkg(imp.dir); idx != nil {
				if file, ok := idx.funcs[field]; ok {
					return funcRef(file + "::" + field), true
				}
			}
			return graph.NodeRef{}, false
		}
		return externalFunc(imp.path + "." + field), true
	}
	return graph.NodeRef{}, false
}

// packageIndex returns the declaration index of dir (relative to the
// root), rebuilding it when the directory's files have changed. The
// returned index is a private copy.
func (x *GoExtractor) packageIndex(ctx context.Context, dir string) *goPackageIndex {
	entries, err := os.ReadDir(filepath.Join(x.root, filepath.FromSlash(dir)))
	if err != nil {
		return emptyIndex()
	}
	var names []string
	var fp strings.Builder
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".go") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		names = append(names, e.Name())
		fmt.Fprintf(&fp, "%s:%d:%d;", e.Name(), info.Size(), info.ModTime().UnixNano())
	}

	if cached, ok := x.indexes.Get(dir); ok && cached.fingerprint == fp.String() {
		return cached.clone()
	}

	idx := emptyIndex()
	idx.fingerprint = fp.String()
	slices.Sort(names)
	for _, name := range names {
		if graph.CheckContext(ctx) != nil {
			return idx
		}
		rel := path.Join(dir, name)
		content, err := os.ReadFile(filepath.Join(x.root, filepath.FromSlash(rel)))
		if err != nil {
			continue
		}
		root, closeTree, err := parseGo(ctx, content)
		if err != nil {
			continue
		}
		indexDeclarations(idx, rel, root, content)
		closeTree()
	}

	x.indexes.Add(dir, idx)
	return idx.clone()
}

func emptyIndex() *goPackageIndex {
	return &goPackageIndex{
		funcs:   make(map[string]string),
		types:   make(map[string]string),
		methods: make(map[string]string),
	}
}

func (idx *goPackageIndex) clone() *goPackageIndex {
	out := &goPackageIndex{
		fingerprint: idx.fingerprint,
		funcs:       make(map[string]string, len(idx.funcs)),
		types:       make(map[string]string, len(idx.types)),
		methods:     make(map[string]string, len(idx.methods)),
		files:       slices.Clone(idx.files),
	}
	for k, v := range idx.funcs {
		out.funcs[k] = v
	}
	for k, v := range idx.types {
		out.types[k] = v
	}
	for k, v := range idx.methods {
		out.methods[k] = v
	}
	return out
}

// indexDeclarations records the top-level declarations of one file.
func indexDeclarations(idx *goPackageIndex, rel string, root *sitter.Node, content []byte) {
	if !slices.Contains(idx.files, rel) {
		idx.files = append(idx.files, rel)
	}
	for i := 0; i < int(root.ChildCount()); i++ {
		child := root.Child(i)
		switch child.Type() {
		case goNodeFunctionDeclaration:
			idx.funcs[nodeText(child.ChildByFieldName("name"), content)] = rel
		case goNodeMethodDeclaration:
			recvType, _ := receiverOf(child.ChildByFieldName("receiver"), content)
			if recvType != "" {
				idx.methods[recvType+"."+nodeText(child.ChildByFieldName("name"), content)] = rel
			}
		case goNodeTypeDeclaration:
			for j := 0; j < int(child.NamedChildCount()); j++ {
				if spec := child.NamedChild(j); spec.Type() == goNodeTypeSpec {
					idx.types[nodeText(spec.ChildByFieldName("name"), content)] = rel
				}
			}
		}
	}
}
