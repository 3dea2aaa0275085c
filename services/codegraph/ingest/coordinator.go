// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ingest drives fact extraction and applies the results to the
// graph store.
//
// Extraction runs on a bounded worker pool. Application is serialized
// through a single applier goroutine that owns the store's mutation
// entry point, so workers never interleave partial updates.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/codegraph/services/codegraph/graph"
)

// ErrClosed is returned when the coordinator has been closed.
var ErrClosed = errors.New("coordinator closed")

// Extractor turns one file into facts.
//
// Implementations must be safe for concurrent use. Failures should wrap
// graph.ErrExtractionFailed.
type Extractor interface {
	Extract(ctx context.Context, path string) (*graph.FileFacts, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, path string) (*graph.FileFacts, error)

// Extract calls f.
func (f ExtractorFunc) Extract(ctx context.Context, path string) (*graph.FileFacts, error) {
	return f(ctx, path)
}

// CoordinatorOptions configures a Coordinator.
type CoordinatorOptions struct {
	// Workers is the maximum number of concurrent extractions.
	// Default: runtime.NumCPU()
	Workers int

	// QueueSize bounds the extracted-but-not-applied results held in memory.
	// Default: 64
	QueueSize int

	// Logger receives build progress and per-file failures.
	// Default: slog.Default()
	Logger *slog.Logger
}

// DefaultCoordinatorOptions returns sensible defaults.
func DefaultCoordinatorOptions() CoordinatorOptions {
	return CoordinatorOptions{
		Workers:   runtime.NumCPU(),
		QueueSize: 64,
		Logger:    slog.Default(),
	}
}

// CoordinatorOption is a functional option for configuring Coordinator.
type CoordinatorOption func(*CoordinatorOptions)

// WithWorkers sets the extraction worker count. Values below 1 are ignored.
func WithWorkers(n int) CoordinatorOption {
	return func(o *CoordinatorOptions) {
		if n > 0 {
			o.Workers = n
		}
	}
}

// WithQueueSize sets the result queue size. Values below 1 are ignored.
func WithQueueSize(n int) CoordinatorOption {
	return func(o *CoordinatorOptions) {
		if n > 0 {
			o.QueueSize = n
		}
	}
}

// WithLogger sets the coordinator logger.
func WithLogger(logger *slog.Logger) CoordinatorOption {
	return func(o *CoordinatorOptions) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// mutation is a request handed to the applier goroutine. A nil facts
// field requests removal.
type mutation struct {
	ctx   context.Context
	path  string
	facts *graph.FileFacts
	reply chan mutationResult
}

type mutationResult struct {
	delta graph.BuildDelta
	err   error
}

// Coordinator schedules extraction and serializes store mutations.
//
// Description:
//
//	Owns the single writer path into a graph.Store. BuildAll,
//	ApplyChanges, UpdateFile, and RemoveFile all hand their mutations to
//	one applier goroutine, while extraction fans out over a bounded pool.
//
// Thread Safety:
//
//	Safe for concurrent use. Close must be called to stop the applier.
type Coordinator struct {
	store     *graph.Store
	extractor Extractor
	opts      CoordinatorOptions
	logger    *slog.Logger

	mutations chan mutation
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// NewCoordinator creates a coordinator and starts its applier.
//
// Example:
//
//	coord := ingest.NewCoordinator(store, extract.NewRegistry(root), ingest.WithWorkers(8))
//	defer coord.Close()
//	result, err := coord.BuildAll(ctx, paths)
func NewCoordinator(store *graph.Store, extractor Extractor, opts ...CoordinatorOption) *Coordinator {
	options := DefaultCoordinatorOptions()
	for _, opt := range opts {
		opt(&options)
	}
	c := &Coordinator{
		store:     store,
		extractor: extractor,
		opts:      options,
		logger:    options.Logger,
		mutations: make(chan mutation, options.QueueSize),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	go c.applyLoop()
	return c
}

// Store returns the store this coordinator writes to.
func (c *Coordinator) Store() *graph.Store {
	return c.store
}

// Close stops the applier. Pending mutations fail with ErrClosed.
// Safe to call multiple times.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		<-c.stopped
	})
}

func (c *Coordinator) applyLoop() {
	defer close(c.stopped)
	for {
		select {
		case m := <-c.mutations:
			c.applyOne(m)
		case <-c.done:
			for {
				select {
				case m := <-c.mutations:
					m.reply <- mutationResult{err: ErrClosed}
				default:
					return
				}
			}
		}
	}
}

func (c *Coordinator) applyOne(m mutation) {
	var res mutationResult
	if m.facts == nil {
		res.delta, res.err = c.store.RemoveFile(m.ctx, m.path)
	} else {
		res.delta, res.err = c.store.ApplyFileUpdate(m.ctx, m.path, m.facts)
	}
	m.reply <- res
}

// submit hands a mutation to the applier and waits for its result.
func (c *Coordinator) submit(ctx context.Context, path string, facts *graph.FileFacts) (graph.BuildDelta, error) {
	m := mutation{ctx: ctx, path: path, facts: facts, reply: make(chan mutationResult, 1)}
	select {
	case c.mutations <- m:
	case <-ctx.Done():
		return graph.BuildDelta{}, graph.CheckContext(ctx)
	case <-c.done:
		return graph.BuildDelta{}, ErrClosed
	}
	select {
	case res := <-m.reply:
		return res.delta, res.err
	case <-c.stopped:
		select {
		case res := <-m.reply:
			return res.delta, res.err
		default:
			return graph.BuildDelta{}, ErrClosed
		}
	}
}

// UpdateFile re-extracts one file and applies its facts.
//
// Description:
//
//	Used for incremental and watch-driven updates. If extraction fails
//	the file's prior facts stay in the graph.
//
// Outputs:
//
//	graph.BuildDelta - Net change applied.
//	error - FileError wrapping graph.ErrExtractionFailed when extraction
//	        fails, *graph.ConflictError (with a valid delta) on ownership
//	        transfer, ErrClosed, or a graph.ErrCancelled wrap.
func (c *Coordinator) UpdateFile(ctx context.Context, path string) (graph.BuildDelta, error) {
	facts, err := c.extract(ctx, path)
	if err != nil {
		return graph.BuildDelta{}, FileError{FilePath: path, Err: err}
	}
	return c.submit(ctx, path, facts)
}

// RemoveFile retracts one file's facts.
//
// Outputs:
//
//	error - graph.ErrNotFound if the file was never ingested.
func (c *Coordinator) RemoveFile(ctx context.Context, path string) (graph.BuildDelta, error) {
	return c.submit(ctx, path, nil)
}

// ApplyFacts applies already-extracted facts through the applier.
func (c *Coordinator) ApplyFacts(ctx context.Context, path string, facts *graph.FileFacts) (graph.BuildDelta, error) {
	if facts == nil {
		return graph.BuildDelta{}, fmt.Errorf("%w: nil facts for %s", graph.ErrInvalidArgument, path)
	}
	return c.submit(ctx, path, facts)
}

// BuildAll extracts and applies every path.
//
// Description:
//
//	Runs extraction with at most Workers concurrent tasks and applies
//	each result through the applier as soon as it is ready. Failed files
//	are recorded and skipped. Order of application does not affect the
//	final graph.
//
// Inputs:
//
//	ctx - Cancellation stops scheduling new extractions and applying
//	      further results. Files already applied stay applied.
//	paths - Files to ingest. Duplicates are ignored.
//
// Outputs:
//
//	*BuildResult - Always non-nil.
//	error - graph.ErrCancelled wrap if ctx was cancelled; nil otherwise,
//	        even when individual files failed.
func (c *Coordinator) BuildAll(ctx context.Context, paths []string) (*BuildResult, error) {
	return c.ApplyChanges(ctx, paths, nil)
}

// ApplyChanges removes the removed paths, then extracts and applies the
// updated ones. Removal of a path that was never ingested is ignored.
//
// See BuildAll for the semantics of the updated set.
func (c *Coordinator) ApplyChanges(ctx context.Context, updated, removed []string) (*BuildResult, error) {
	start := time.Now()
	updated = dedupe(updated)
	removed = dedupe(removed)

	ctx, span := startBuildSpan(ctx, len(updated), len(removed))
	defer span.End()

	result := &BuildResult{}
	result.Stats.FilesTotal = len(updated) + len(removed)

	for _, path := range removed {
		if ctx.Err() != nil {
			result.Incomplete = true
			result.Stats.FilesSkipped++
			continue
		}
		delta, err := c.submit(ctx, path, nil)
		switch {
		case err == nil:
			result.Stats.FilesRemoved++
			result.Stats.Delta.Add(delta)
		case errors.Is(err, graph.ErrNotFound):
		case errors.Is(err, graph.ErrCancelled):
			result.Incomplete = true
			result.Stats.FilesSkipped++
		default:
			result.FileErrors = append(result.FileErrors, FileError{FilePath: path, Err: err})
			result.Stats.FilesFailed++
		}
	}

	c.extractAndApply(ctx, updated, result)

	slices.SortFunc(result.FileErrors, func(a, b FileError) int { return strings.Compare(a.FilePath, b.FilePath) })
	result.Stats.Conflicts = len(result.Conflicts)
	elapsed := time.Since(start)
	result.Stats.DurationMilli = elapsed.Milliseconds()
	result.Stats.DurationMicro = elapsed.Microseconds()
	result.Version = c.store.Snapshot().Version()

	recordBuildMetrics(ctx, elapsed, result)
	setBuildSpanResult(span, result)

	c.logger.Info("ingestion finished",
		slog.Int("files_total", result.Stats.FilesTotal),
		slog.Int("files_processed", result.Stats.FilesProcessed),
		slog.Int("files_failed", result.Stats.FilesFailed),
		slog.Int("files_removed", result.Stats.FilesRemoved),
		slog.Int("conflicts", result.Stats.Conflicts),
		slog.Bool("incomplete", result.Incomplete),
		slog.Int64("duration_ms", result.Stats.DurationMilli),
	)

	if result.Incomplete {
		if err := graph.CheckContext(ctx); err != nil {
			return result, err
		}
		return result, fmt.Errorf("%w: ingestion interrupted", graph.ErrCancelled)
	}
	return result, nil
}

type extracted struct {
	path  string
	facts *graph.FileFacts
	err   error
}

// extractAndApply fans extraction out over the worker pool and applies
// results in completion order. The results channel is bounded, so slow
// application back-pressures the workers.
func (c *Coordinator) extractAndApply(ctx context.Context, paths []string, result *BuildResult) {
	if len(paths) == 0 {
		return
	}
	results := make(chan extracted, c.opts.QueueSize)

	go func() {
		var g errgroup.Group
		g.SetLimit(c.opts.Workers)
		for _, path := range paths {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				facts, err := c.extract(ctx, path)
				results <- extracted{path: path, facts: facts, err: err}
				return nil
			})
		}
		_ = g.Wait()
		close(results)
	}()

	seen := 0
	for r := range results {
		seen++
		if r.err != nil {
			if ctx.Err() != nil {
				result.Incomplete = true
				result.Stats.FilesSkipped++
				continue
			}
			c.logger.Warn("extraction failed", slog.String("path", r.path), slog.String("error", r.err.Error()))
			result.FileErrors = append(result.FileErrors, FileError{FilePath: r.path, Err: r.err})
			result.Stats.FilesFailed++
			continue
		}
		if ctx.Err() != nil {
			result.Incomplete = true
			result.Stats.FilesSkipped++
			continue
		}

		delta, err := c.submit(ctx, r.path, r.facts)
		var conflictErr *graph.ConflictError
		switch {
		case err == nil:
		case errors.As(err, &conflictErr):
			result.Conflicts = append(result.Conflicts, conflictErr.Conflicts...)
		case errors.Is(err, graph.ErrCancelled):
			result.Incomplete = true
			result.Stats.FilesSkipped++
			continue
		default:
			result.FileErrors = append(result.FileErrors, FileError{FilePath: r.path, Err: err})
			result.Stats.FilesFailed++
			continue
		}
		result.Stats.FilesProcessed++
		result.Stats.Delta.Add(delta)
	}

	// Paths never scheduled because of cancellation.
	if unscheduled := len(paths) - seen; unscheduled > 0 {
		result.Incomplete = true
		result.Stats.FilesSkipped += unscheduled
	}
}

// extract calls the extractor, converting panics into errors.
func (c *Coordinator) extract(ctx context.Context, path string) (facts *graph.FileFacts, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("extractor panic", slog.String("path", path), slog.Any("panic", r))
			facts = nil
			err = fmt.Errorf("%w: panic: %v", graph.ErrExtractionFailed, r)
		}
	}()
	if err := graph.CheckContext(ctx); err != nil {
		return nil, err
	}
	facts, err = c.extractor.Extract(ctx, path)
	if err != nil {
		if !errors.Is(err, graph.ErrExtractionFailed) && !errors.Is(err, graph.ErrCancelled) {
			err = fmt.Errorf("%w: %w", graph.ErrExtractionFailed, err)
		}
		return nil, err
	}
	if facts == nil {
		return nil, fmt.Errorf("%w: extractor returned no facts", graph.ErrExtractionFailed)
	}
	return facts, nil
}

func dedupe(paths []string) []string {
	if len(paths) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
