// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watch keeps a code graph current by feeding debounced file
// system changes to the ingestion coordinator.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/codegraph/services/codegraph/ingest"
)

// Op is the kind of file system change.
type Op int

const (
	// OpCreate indicates a file was created.
	OpCreate Op = iota

	// OpWrite indicates a file was modified.
	OpWrite

	// OpRemove indicates a file was deleted.
	OpRemove

	// OpRename indicates a file was renamed away from Path.
	OpRename
)

// String returns the string representation of the operation.
func (op Op) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpWrite:
		return "write"
	case OpRemove:
		return "remove"
	case OpRename:
		return "rename"
	default:
		return "unknown"
	}
}

// Change is one observed file change.
type Change struct {
	// Path is relative to the watched root, slash separated.
	Path string

	// Op is the type of change.
	Op Op

	// Time is when the change was detected.
	Time time.Time
}

// Sink receives coalesced batches. *ingest.Coordinator implements it.
type Sink interface {
	ApplyChanges(ctx context.Context, updated, removed []string) (*ingest.BuildResult, error)
}

// BatchHandler is told about every dispatched batch.
type BatchHandler func(updated, removed []string, result *ingest.BuildResult, err error)

// Options configures a Watcher.
type Options struct {
	// DebounceWindow is how long to wait for more changes before dispatching.
	// Default: 100ms
	DebounceWindow time.Duration

	// IgnorePatterns are names or globs matched against each path
	// element.
	// Default: [".git", "node_modules", "vendor", ".idea", "__pycache__", ".venv", "*.swp", "*.tmp", "*~"]
	IgnorePatterns []string

	// BufferSize is the size of the change channel. Changes beyond it
	// are dropped and counted.
	// Default: 1000
	BufferSize int

	// Filter selects the files worth dispatching, e.g. Registry.Supports.
	// Default: every file
	Filter func(path string) bool

	// Rate and Burst pace batch dispatch.
	// Default: 10 batches/s, burst 1
	Rate  rate.Limit
	Burst int

	// OnBatch is called after each dispatch.
	OnBatch BatchHandler

	// Logger receives watcher diagnostics.
	// Default: slog.Default()
	Logger *slog.Logger
}

// Option is a functional option for configuring Watcher.
type Option func(*Options)

// WithDebounce sets the debounce window.
func WithDebounce(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.DebounceWindow = d
		}
	}
}

// WithIgnorePatterns replaces the ignore patterns.
func WithIgnorePatterns(patterns ...string) Option {
	return func(o *Options) {
		o.IgnorePatterns = patterns
	}
}

// WithFilter sets the file filter.
func WithFilter(filter func(path string) bool) Option {
	return func(o *Options) {
		o.Filter = filter
	}
}

// WithRateLimit sets the batch dispatch rate.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(o *Options) {
		if r > 0 {
			o.Rate = r
		}
		if burst > 0 {
			o.Burst = burst
		}
	}
}

// WithBatchHandler sets the per-batch callback.
func WithBatchHandler(h BatchHandler) Option {
	return func(o *Options) {
		o.OnBatch = h
	}
}

// WithLogger sets the watcher logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow: 100 * time.Millisecond,
		IgnorePatterns: []string{".git", "node_modules", "vendor", ".idea", "__pycache__", ".venv", "*.swp", "*.tmp", "*~"},
		BufferSize:     1000,
		Rate:           10,
		Burst:          1,
		Logger:         slog.Default(),
	}
}

// Watcher watches a directory tree and dispatches debounced batches of
// changes to a Sink.
//
// Changes are collected until the debounce window passes without new
// ones, coalesced per path with the latest operation winning, and handed
// to the sink no faster than the configured rate. Batches are dispatched
// from a single goroutine, so they never overlap.
//
// Thread Safety: Safe for concurrent use.
type Watcher struct {
	root    string
	sink    Sink
	opts    Options
	logger  *slog.Logger
	limiter *rate.Limiter
	fsw     *fsnotify.Watcher

	changes  chan Change
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu       sync.RWMutex
	watching bool
	dropped  int
}

// New creates a Watcher for root. Call Start to begin watching.
//
// Example:
//
//	w, err := watch.New(root, coord, watch.WithFilter(reg.Supports))
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//	if err := w.Start(ctx); err != nil {
//	    return err
//	}
func New(root string, sink Sink, opts ...Option) (*Watcher, error) {
	if sink == nil {
		return nil, errors.New("watch: sink must not be nil")
	}
	options := DefaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		root:    abs,
		sink:    sink,
		opts:    options,
		logger:  options.Logger.With(slog.String("component", "watch")),
		limiter: rate.NewLimiter(options.Rate, options.Burst),
		fsw:     fsw,
		changes: make(chan Change, options.BufferSize),
		done:    make(chan struct{}),
	}, nil
}

// Start registers the tree with the OS watcher and begins processing.
// Calling Start on a running watcher is a no-op.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return nil
	}
	w.watching = true
	w.mu.Unlock()

	if err := w.addRecursive(w.root); err != nil {
		w.Stop()
		return err
	}

	w.wg.Add(2)
	go w.processEvents(ctx)
	go w.debounceLoop(ctx)
	w.logger.Info("watching", slog.String("root", w.root))
	return nil
}

// Stop stops watching and waits for an in-flight batch to finish.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.fsw.Close()
		w.wg.Wait()

		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
	})
}

// IsWatching reports whether the watcher is active.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.watching
}

// Dropped returns the number of changes lost to a full buffer.
func (w *Watcher) Dropped() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.dropped
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if path != w.root && w.shouldIgnore(path) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

// shouldIgnore reports whether any element of path below the root
// matches an ignore pattern.
func (w *Watcher) shouldIgnore(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." {
		return false
	}
	for _, elem := range strings.Split(filepath.ToSlash(rel), "/") {
		for _, pattern := range w.opts.IgnorePatterns {
			if elem == pattern {
				return true
			}
			if matched, _ := filepath.Match(pattern, elem); matched {
				return true
			}
		}
	}
	return false
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if w.shouldIgnore(event.Name) {
				continue
			}

			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					// Files created before the watch lands are picked up by the walk.
					if err := w.addRecursive(event.Name); err != nil {
						w.logger.Warn("watching new directory failed",
							slog.String("path", event.Name), slog.String("error", err.Error()))
					}
					w.enqueueTree(event.Name)
					continue
				}
			}
			w.enqueue(event.Name, convertOp(event.Op))

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", slog.String("error", err.Error()))
		}
	}
}

// enqueueTree reports every file under a newly created directory.
func (w *Watcher) enqueueTree(dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != dir && w.shouldIgnore(path) {
				return filepath.SkipDir
			}
			return nil
		}
		w.enqueue(path, OpCreate)
		return nil
	})
}

func (w *Watcher) enqueue(abs string, op Op) {
	rel, err := filepath.Rel(w.root, abs)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)
	if w.opts.Filter != nil && !w.opts.Filter(rel) {
		return
	}
	select {
	case w.changes <- Change{Path: rel, Op: op, Time: time.Now()}:
	default:
		w.mu.Lock()
		w.dropped++
		w.mu.Unlock()
		w.logger.Warn("change buffer full, dropping change", slog.String("path", rel))
	}
}

func convertOp(op fsnotify.Op) Op {
	switch {
	case op.Has(fsnotify.Remove):
		return OpRemove
	case op.Has(fsnotify.Rename):
		return OpRename
	case op.Has(fsnotify.Create):
		return OpCreate
	default:
		return OpWrite
	}
}

func (w *Watcher) debounceLoop(ctx context.Context) {
	defer w.wg.Done()
	var batch []Change
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func(dispatchCtx context.Context) {
		if len(batch) > 0 {
			w.dispatch(dispatchCtx, batch)
			batch = batch[:0]
		}
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			// Pending changes still land, unpaced.
			flush(context.WithoutCancel(ctx))
			return
		case change := <-w.changes:
			batch = append(batch, change)
			if timer == nil {
				timer = time.NewTimer(w.opts.DebounceWindow)
				timerC = timer.C
			} else {
				timer.Reset(w.opts.DebounceWindow)
			}
		case <-timerC:
			if err := w.limiter.Wait(ctx); err != nil {
				return
			}
			flush(ctx)
		}
	}
}

// dispatch hands one batch to the sink. A created or written file that
// no longer exists by dispatch time is treated as removed.
func (w *Watcher) dispatch(ctx context.Context, batch []Change) {
	var updated, removed []string
	for _, c := range Coalesce(batch) {
		switch c.Op {
		case OpRemove, OpRename:
			removed = append(removed, c.Path)
		default:
			if _, err := os.Stat(filepath.Join(w.root, filepath.FromSlash(c.Path))); err != nil {
				removed = append(removed, c.Path)
				continue
			}
			updated = append(updated, c.Path)
		}
	}
	if len(updated) == 0 && len(removed) == 0 {
		return
	}

	result, err := w.sink.ApplyChanges(ctx, updated, removed)
	attrs := []any{slog.Int("updated", len(updated)), slog.Int("removed", len(removed))}
	if result != nil {
		attrs = append(attrs, slog.Int("failed", result.Stats.FilesFailed), slog.Uint64("version", result.Version))
	}
	if err != nil {
		w.logger.Warn("applying changes failed", append(attrs, slog.String("error", err.Error()))...)
	} else {
		w.logger.Debug("applied changes", attrs...)
	}
	if w.opts.OnBatch != nil {
		w.opts.OnBatch(updated, removed, result, err)
	}
}

// Coalesce keeps the latest change per path, in order of first
// appearance.
func Coalesce(changes []Change) []Change {
	seen := make(map[string]int, len(changes))
	result := make([]Change, 0, len(changes))
	for _, change := range changes {
		if idx, exists := seen[change.Path]; exists {
			result[idx] = change
			continue
		}
		seen[change.Path] = len(result)
		result = append(result, change)
	}
	return result
}
