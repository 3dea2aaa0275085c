// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph provides the codebase knowledge graph store.
//
// The graph is a directed multigraph whose nodes are files, functions,
// classes, variables, and tables, and whose edges are typed relations
// (imports, calls, inherits, modifies, reads). Every node and edge is
// owned by exactly one file; the store keeps a per-file provenance
// index so re-ingesting a file retracts and replaces exactly that
// file's contributions.
//
// # Thread Safety
//
// Store serializes all mutations behind a single writer lock. Readers
// never touch the live tables: Snapshot returns an immutable GraphView
// that shares unchanged shards with its predecessors. A GraphView is
// safe for concurrent use and is never affected by later mutations.
//
// # Lifecycle
//
//  1. Create with NewStore()
//  2. Populate with ApplyFileUpdate() (usually via the ingest coordinator)
//  3. Take Snapshot() views and query them
//  4. Optionally persist with ExportSnapshot() / ImportSnapshot()
package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for graph operations.
var (
	// ErrNotFound is returned when an entity or file is not in the graph.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument is returned for malformed input such as an empty
	// name, a negative depth, or inconsistent facts.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrConflict is returned when a file defines a node or edge that is
	// currently owned by a different file. The update is still applied;
	// ownership moves to the new file.
	ErrConflict = errors.New("ownership conflict")

	// ErrExtractionFailed is returned by fact extractors when a file
	// cannot be turned into facts. The file's prior facts are left untouched.
	ErrExtractionFailed = errors.New("extraction failed")

	// ErrCancelled is returned when a traversal or build is cancelled
	// through its context.
	ErrCancelled = errors.New("cancelled")
)

// ConflictError reports the ownership transfers performed by one update.
//
// It is returned together with a valid BuildDelta: the update was
// applied, the conflicts are informational.
type ConflictError struct {
	// Path is the file whose update caused the transfers.
	Path string

	// Conflicts lists each transferred node or edge.
	Conflicts []Conflict
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	owners := make([]string, 0, len(e.Conflicts))
	seen := make(map[string]bool)
	for _, c := range e.Conflicts {
		if !seen[c.PreviousOwner] {
			seen[c.PreviousOwner] = true
			owners = append(owners, c.PreviousOwner)
		}
	}
	return fmt.Sprintf("%s: file %s took ownership of %d fact(s) from %s",
		ErrConflict, e.Path, len(e.Conflicts), strings.Join(owners, ", "))
}

// Unwrap returns ErrConflict for errors.Is support.
func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// CheckContext returns an ErrCancelled-wrapped error if ctx is done.
//
// Traversals call this once per step so cancellation surfaces as an
// error rather than a truncated result.
func CheckContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return nil
}
