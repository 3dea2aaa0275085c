// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/codegraph/services/codegraph/graph"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenDB(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenDB_InMemory(t *testing.T) {
	db := openTestDB(t)
	assert.True(t, db.InMemory())
	assert.Empty(t, db.Path())

	ctx := context.Background()
	require.NoError(t, db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set([]byte("key"), []byte("value"))
	}))
	require.NoError(t, db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		val, err := getValue(txn, []byte("key"))
		require.NoError(t, err)
		assert.Equal(t, []byte("value"), val)
		return nil
	}))
}

func TestOpenDB_Persistent(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Path = dir
	cfg.GCInterval = time.Hour

	db, err := OpenDB(cfg)
	require.NoError(t, err)
	require.NoError(t, db.WithTxn(context.Background(), func(txn *badger.Txn) error {
		return txn.Set([]byte("persistent-key"), []byte("persistent-value"))
	}))
	require.NoError(t, db.Close())

	db2, err := OpenDB(cfg)
	require.NoError(t, err)
	defer db2.Close()
	assert.Equal(t, dir, db2.Path())

	require.NoError(t, db2.WithReadTxn(context.Background(), func(txn *badger.Txn) error {
		val, err := getValue(txn, []byte("persistent-key"))
		require.NoError(t, err)
		assert.Equal(t, []byte("persistent-value"), val)
		return nil
	}))
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	require.Error(t, err)
}

func TestNewGCRunner_Validation(t *testing.T) {
	db := openTestDB(t)

	_, err := NewGCRunner(nil, time.Second, 0.5, nil)
	assert.Error(t, err)
	_, err = NewGCRunner(db.DB, 0, 0.5, nil)
	assert.Error(t, err)
	_, err = NewGCRunner(db.DB, time.Second, 1.5, nil)
	assert.Error(t, err)

	runner, err := NewGCRunner(db.DB, time.Hour, 0.5, quietLogger())
	require.NoError(t, err)
	runner.Start()
	runner.Stop()
	runner.Stop()
}

func TestWithTxn_Cancelled(t *testing.T) {
	db := openTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := db.WithTxn(ctx, func(*badger.Txn) error { return nil })
	assert.True(t, errors.Is(err, graph.ErrCancelled))
	err = db.WithReadTxn(ctx, func(*badger.Txn) error { return nil })
	assert.True(t, errors.Is(err, graph.ErrCancelled))
}

func populatedStore(t *testing.T) *graph.Store {
	t.Helper()
	store := graph.NewStore(graph.WithLogger(quietLogger()))
	_, err := store.ApplyFileUpdate(context.Background(), "a.py", &graph.FileFacts{
		Path: "a.py",
		Nodes: []graph.Node{{
			Kind:          graph.NodeKindFunction,
			QualifiedName: "a.py::main",
			Function:      &graph.FunctionAttrs{File: "a.py"},
		}},
		Edges: []graph.EdgeFact{{
			Source: graph.NodeRef{Kind: graph.NodeKindFunction, QualifiedName: "a.py::main"},
			Target: graph.NodeRef{Kind: graph.NodeKindFunction, QualifiedName: "b.py::helper"},
			Kind:   graph.EdgeKindCalls,
		}},
	})
	require.NoError(t, err)
	return store
}

func TestSnapshotStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	snaps := NewSnapshotStore(openTestDB(t), quietLogger())
	src := populatedStore(t)

	meta, err := snaps.Save(ctx, "main", src)
	require.NoError(t, err)
	assert.Equal(t, "main", meta.Name)
	assert.Equal(t, src.Snapshot().Version(), meta.Version)
	assert.Positive(t, meta.Bytes)

	dst := graph.NewStore(graph.WithLogger(quietLogger()))
	loaded, err := snaps.Load(ctx, "main", dst)
	require.NoError(t, err)
	assert.Equal(t, meta.Version, loaded.Version)

	want, err := src.Snapshot().Export()
	require.NoError(t, err)
	got, err := dst.Snapshot().Export()
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(got))
}

func TestSnapshotStore_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	snaps := NewSnapshotStore(openTestDB(t), quietLogger())
	store := populatedStore(t)

	_, err := snaps.Save(ctx, "zeta", store)
	require.NoError(t, err)
	_, err = snaps.Save(ctx, "alpha", store)
	require.NoError(t, err)

	list, err := snaps.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].Name)
	assert.Equal(t, "zeta", list[1].Name)
	assert.Equal(t, 3, list[0].Stats.Nodes)

	require.NoError(t, snaps.Delete(ctx, "alpha"))
	list, err = snaps.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	err = snaps.Delete(ctx, "alpha")
	assert.True(t, errors.Is(err, graph.ErrNotFound))
}

func TestSnapshotStore_Errors(t *testing.T) {
	ctx := context.Background()
	snaps := NewSnapshotStore(openTestDB(t), quietLogger())
	store := graph.NewStore(graph.WithLogger(quietLogger()))

	_, err := snaps.Load(ctx, "missing", store)
	assert.True(t, errors.Is(err, graph.ErrNotFound))

	for _, name := range []string{"", "a/b"} {
		_, err := snaps.Save(ctx, name, store)
		assert.True(t, errors.Is(err, graph.ErrInvalidArgument), name)
	}
}
