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
	"io"
	"log/slog"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore() *Store {
	return NewStore(WithLogger(quietLogger()))
}

func fn(path, name string) Node {
	return Node{
		Kind:          NodeKindFunction,
		QualifiedName: path + "::" + name,
		Function:      &FunctionAttrs{File: path, LineStart: 1, LineEnd: 2},
	}
}

func fnRef(path, name string) NodeRef {
	return NodeRef{Kind: NodeKindFunction, QualifiedName: path + "::" + name}
}

func fileRef(path string) NodeRef {
	return NodeRef{Kind: NodeKindFile, QualifiedName: path}
}

func call(fromPath, from, toPath, to string) EdgeFact {
	return EdgeFact{Source: fnRef(fromPath, from), Target: fnRef(toPath, to), Kind: EdgeKindCalls}
}

func imports(from, to string) EdgeFact {
	return EdgeFact{Source: fileRef(from), Target: fileRef(to), Kind: EdgeKindImports}
}
