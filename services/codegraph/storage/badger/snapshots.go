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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/codegraph/services/codegraph/graph"
)

const snapshotPrefix = "snapshot/"

// SnapshotMeta describes a saved snapshot.
type SnapshotMeta struct {
	Name    string          `json:"name"`
	Version uint64          `json:"version"`
	SavedAt time.Time       `json:"saved_at"`
	Bytes   int             `json:"bytes"`
	Stats   graph.ViewStats `json:"stats"`
}

// SnapshotStore saves and restores named graph snapshots.
//
// Each snapshot is two keys: snapshot/<name>/data holds the export
// document and snapshot/<name>/meta holds a SnapshotMeta. Both are
// written in one transaction.
//
// Thread Safety: Safe for concurrent use.
type SnapshotStore struct {
	db     *DB
	logger *slog.Logger
}

// NewSnapshotStore creates a SnapshotStore over db.
func NewSnapshotStore(db *DB, logger *slog.Logger) *SnapshotStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotStore{db: db, logger: logger}
}

func dataKey(name string) []byte { return []byte(snapshotPrefix + name + "/data") }
func metaKey(name string) []byte { return []byte(snapshotPrefix + name + "/meta") }

func validateName(name string) error {
	if name == "" || strings.ContainsAny(name, "/\x00") {
		return fmt.Errorf("%w: snapshot name %q", graph.ErrInvalidArgument, name)
	}
	return nil
}

// Save exports the current view of store under name, replacing any
// snapshot with the same name.
func (s *SnapshotStore) Save(ctx context.Context, name string, store *graph.Store) (*SnapshotMeta, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	view := store.Snapshot()
	data, err := view.Export()
	if err != nil {
		return nil, fmt.Errorf("export snapshot: %w", err)
	}
	meta := &SnapshotMeta{
		Name:    name,
		Version: view.Version(),
		SavedAt: time.Now().UTC(),
		Bytes:   len(data),
		Stats:   view.Stats(),
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot meta: %w", err)
	}

	err = s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := txn.Set(dataKey(name), data); err != nil {
			return err
		}
		return txn.Set(metaKey(name), metaBytes)
	})
	if err != nil {
		return nil, fmt.Errorf("save snapshot %s: %w", name, err)
	}

	s.logger.Info("snapshot saved",
		slog.String("name", name),
		slog.Uint64("version", meta.Version),
		slog.Int("bytes", meta.Bytes),
		slog.Int("nodes", meta.Stats.Nodes),
	)
	return meta, nil
}

// Load replaces the contents of store with the named snapshot.
//
// Outputs:
//
//	error - graph.ErrNotFound if no snapshot has that name; import
//	        errors from graph.Store.ImportSnapshot otherwise.
func (s *SnapshotStore) Load(ctx context.Context, name string, store *graph.Store) (*SnapshotMeta, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	var data []byte
	var meta SnapshotMeta
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		var err error
		if data, err = getValue(txn, dataKey(name)); err != nil {
			return err
		}
		raw, err := getValue(txn, metaKey(name))
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, &meta)
	})
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", name, err)
	}

	if err := store.ImportSnapshot(ctx, data); err != nil {
		return nil, err
	}
	s.logger.Info("snapshot loaded", slog.String("name", name), slog.Uint64("saved_version", meta.Version))
	return &meta, nil
}

// List returns the metadata of every snapshot, sorted by name.
func (s *SnapshotStore) List(ctx context.Context) ([]SnapshotMeta, error) {
	var out []SnapshotMeta
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(snapshotPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			if !strings.HasSuffix(string(item.Key()), "/meta") {
				continue
			}
			var meta SnapshotMeta
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &meta)
			})
			if err != nil {
				return fmt.Errorf("decode %s: %w", item.Key(), err)
			}
			out = append(out, meta)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b SnapshotMeta) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

// Delete removes the named snapshot.
//
// Outputs:
//
//	error - graph.ErrNotFound if no snapshot has that name.
func (s *SnapshotStore) Delete(ctx context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(metaKey(name)); err != nil {
			return translate(err)
		}
		if err := txn.Delete(dataKey(name)); err != nil {
			return err
		}
		return txn.Delete(metaKey(name))
	})
	if err != nil {
		return fmt.Errorf("delete snapshot %s: %w", name, err)
	}
	return nil
}

func getValue(txn *badger.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if err != nil {
		return nil, translate(err)
	}
	return item.ValueCopy(nil)
}

func translate(err error) error {
	if errors.Is(err, badger.ErrKeyNotFound) {
		return graph.ErrNotFound
	}
	return err
}
