// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package query

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/codegraph/services/codegraph/graph"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(opts ...EngineOption) *Engine {
	return NewEngine(append([]EngineOption{WithLogger(quietLogger())}, opts...)...)
}

// fixture accumulates facts per file and applies them in path order.
type fixture struct {
	files map[string]*graph.FileFacts
}

func newFixture() *fixture {
	return &fixture{files: map[string]*graph.FileFacts{}}
}

func (f *fixture) file(path string) *graph.FileFacts {
	facts, ok := f.files[path]
	if !ok {
		facts = &graph.FileFacts{Path: path}
		f.files[path] = facts
	}
	return facts
}

func (f *fixture) fn(path string, names ...string) *fixture {
	facts := f.file(path)
	for _, name := range names {
		facts.Nodes = append(facts.Nodes, graph.Node{
			Kind:          graph.NodeKindFunction,
			QualifiedName: path + "::" + name,
			Function:      &graph.FunctionAttrs{File: path},
		})
	}
	return f
}

func (f *fixture) class(path, name string) *fixture {
	facts := f.file(path)
	facts.Nodes = append(facts.Nodes, graph.Node{
		Kind:          graph.NodeKindClass,
		QualifiedName: path + "::" + name,
		Class:         &graph.ClassAttrs{File: path},
	})
	return f
}

func (f *fixture) call(path, from, to string) *fixture {
	facts := f.file(path)
	facts.Edges = append(facts.Edges, graph.EdgeFact{
		Source: graph.NodeRef{Kind: graph.NodeKindFunction, QualifiedName: path + "::" + from},
		Target: graph.NodeRef{Kind: graph.NodeKindFunction, QualifiedName: path + "::" + to},
		Kind:   graph.EdgeKindCalls,
	})
	return f
}

func (f *fixture) imports(from, to string) *fixture {
	facts := f.file(from)
	facts.Edges = append(facts.Edges, graph.EdgeFact{
		Source: graph.NodeRef{Kind: graph.NodeKindFile, QualifiedName: from},
		Target: graph.NodeRef{Kind: graph.NodeKindFile, QualifiedName: to},
		Kind:   graph.EdgeKindImports,
	})
	return f
}

func (f *fixture) store(t *testing.T) *graph.Store {
	t.Helper()
	s := graph.NewStore(graph.WithLogger(quietLogger()))
	paths := make([]string, 0, len(f.files))
	for p := range f.files {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	for _, p := range paths {
		_, err := s.ApplyFileUpdate(context.Background(), p, f.files[p])
		var conflict *graph.ConflictError
		if !errors.As(err, &conflict) {
			require.NoError(t, err)
		}
	}
	return s
}

func (f *fixture) view(t *testing.T) *graph.GraphView {
	return f.store(t).Snapshot()
}

func cancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// checkLimitContext reports context.Canceled once Err has been called
// more than limit times, closing Done at the same moment. It cancels a
// traversal part-way through at a deterministic point.
type checkLimitContext struct {
	context.Context
	limit int64
	calls atomic.Int64
	done  chan struct{}
	once  sync.Once
}

func cancelAfterChecks(limit int64) *checkLimitContext {
	return &checkLimitContext{Context: context.Background(), limit: limit, done: make(chan struct{})}
}

func (c *checkLimitContext) Done() <-chan struct{} { return c.done }

func (c *checkLimitContext) Err() error {
	if c.calls.Add(1) <= c.limit {
		return nil
	}
	c.once.Do(func() { close(c.done) })
	return context.Canceled
}

// gatedContext never cancels, but its second Err call blocks until
// release is closed, holding a traversal in flight.
type gatedContext struct {
	context.Context
	calls   atomic.Int64
	entered chan struct{}
	release chan struct{}
}

func newGatedContext() *gatedContext {
	return &gatedContext{Context: context.Background(), entered: make(chan struct{}), release: make(chan struct{})}
}

func (c *gatedContext) Err() error {
	if c.calls.Add(1) == 2 {
		close(c.entered)
		<-c.release
	}
	return nil
}

// importRing is n files importing each other in a single cycle.
func importRing(t *testing.T, n int) *graph.GraphView {
	t.Helper()
	f := newFixture()
	for i := 0; i < n; i++ {
		f.imports(fmt.Sprintf("m%05d.py", i), fmt.Sprintf("m%05d.py", (i+1)%n))
	}
	return f.view(t)
}
