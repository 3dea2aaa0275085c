// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package codegraph is the codebase knowledge graph service.
//
// It wires the graph store, the ingestion coordinator, the language
// extractors, the query engine, and the subgraph extractor behind one
// facade, and exposes them over HTTP under /v1/codegraph.
package codegraph

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/AleutianAI/codegraph/services/codegraph/config"
	"github.com/AleutianAI/codegraph/services/codegraph/extract"
	"github.com/AleutianAI/codegraph/services/codegraph/graph"
	"github.com/AleutianAI/codegraph/services/codegraph/ingest"
	"github.com/AleutianAI/codegraph/services/codegraph/query"
	"github.com/AleutianAI/codegraph/services/codegraph/storage/badger"
	"github.com/AleutianAI/codegraph/services/codegraph/subgraph"
	"github.com/AleutianAI/codegraph/services/codegraph/watch"
)

// ServiceVersion is the codegraph service version.
const ServiceVersion = "0.1.0"

// Service owns one graph over one repository root.
//
// Thread Safety:
//
//	Service is safe for concurrent use. Mutations are serialized by the
//	coordinator; queries run against snapshots and never block them.
type Service struct {
	cfg       config.Config
	logger    *slog.Logger
	root      string
	store     *graph.Store
	registry  *extract.Registry
	coord     *ingest.Coordinator
	engine    *query.Engine
	subgraphs *subgraph.Extractor
	snapshots *badger.SnapshotStore

	ready     atomic.Bool
	building  atomic.Bool
	closed    atomic.Bool
	lastBuild atomic.Pointer[ingest.BuildResult]

	watchMu sync.Mutex
	watcher *watch.Watcher
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSnapshotStore enables snapshot save and load.
func WithSnapshotStore(store *badger.SnapshotStore) ServiceOption {
	return func(s *Service) {
		s.snapshots = store
	}
}

// WithExtractor replaces the language registry used for ingestion. The
// registry must be rooted at the configured ingest root.
func WithExtractor(registry *extract.Registry) ServiceOption {
	return func(s *Service) {
		if registry != nil {
			s.registry = registry
		}
	}
}

// NewService builds a Service from cfg.
//
// Outputs:
//
//	*Service - Ready to build. Call Close when done.
//	error - config.ErrInvalidConfig if cfg does not validate, or the
//	        error resolving the ingest root.
func NewService(cfg config.Config, opts ...ServiceOption) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	root, err := filepath.Abs(cfg.Ingest.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve ingest root: %w", err)
	}

	s := &Service{cfg: cfg, logger: slog.Default(), root: root}
	for _, opt := range opts {
		opt(s)
	}

	s.store = graph.NewStore(graph.WithLogger(s.logger))
	if s.registry == nil {
		s.registry = extract.NewRegistry(root,
			extract.WithMaxFileSize(cfg.Ingest.MaxFileSize),
			extract.WithLogger(s.logger),
		)
	}
	s.coord = ingest.NewCoordinator(s.store, s.registry,
		ingest.WithWorkers(cfg.Ingest.Workers),
		ingest.WithQueueSize(cfg.Ingest.QueueSize),
		ingest.WithLogger(s.logger),
	)
	s.engine = query.NewEngine(
		query.WithRiskThresholds(query.RiskThresholds{Low: cfg.Query.RiskLow, Medium: cfg.Query.RiskMedium}),
		query.WithCacheSize(cfg.Query.CacheSize),
		query.WithCallChainCap(cfg.Query.CallChainCap),
		query.WithCycleEnumerationLimits(cfg.Query.MaxCyclesPerComponent, cfg.Query.MaxCycleLength),
		query.WithLogger(s.logger),
	)
	s.subgraphs = subgraph.NewExtractor(
		subgraph.WithHardMaxNodes(cfg.Subgraph.MaxNodes),
		subgraph.WithLogger(s.logger),
	)
	return s, nil
}

// Root returns the absolute repository root.
func (s *Service) Root() string {
	return s.root
}

// Store returns the underlying graph store.
func (s *Service) Store() *graph.Store {
	return s.store
}

// Ready reports whether a build or snapshot load has completed.
func (s *Service) Ready() bool {
	return s.ready.Load()
}

// LastBuild returns the most recent full build result, or nil.
func (s *Service) LastBuild() *ingest.BuildResult {
	return s.lastBuild.Load()
}

// Build discovers every supported file under the root and ingests it.
//
// Outputs:
//
//	*ingest.BuildResult - Per-file failures are reported here.
//	error - ErrBuildInProgress if another build is running,
//	        graph.ErrCancelled if ctx ends.
func (s *Service) Build(ctx context.Context) (*ingest.BuildResult, error) {
	if s.closed.Load() {
		return nil, ErrServiceClosed
	}
	if !s.building.CompareAndSwap(false, true) {
		return nil, ErrBuildInProgress
	}
	defer s.building.Store(false)

	paths, err := s.registry.Discover(ctx, s.cfg.Ingest.Excludes...)
	if err != nil {
		return nil, fmt.Errorf("discover files: %w", err)
	}
	s.logger.Info("building graph", slog.String("root", s.root), slog.Int("files", len(paths)))

	result, err := s.coord.BuildAll(ctx, paths)
	if result != nil {
		s.lastBuild.Store(result)
	}
	if err != nil {
		return result, err
	}
	s.ready.Store(true)
	return result, nil
}

// UpdateFile re-extracts one file and replaces its facts.
func (s *Service) UpdateFile(ctx context.Context, path string) (graph.BuildDelta, error) {
	if s.closed.Load() {
		return graph.BuildDelta{}, ErrServiceClosed
	}
	return s.coord.UpdateFile(ctx, path)
}

// RemoveFile retracts one file's facts.
func (s *Service) RemoveFile(ctx context.Context, path string) (graph.BuildDelta, error) {
	if s.closed.Load() {
		return graph.BuildDelta{}, ErrServiceClosed
	}
	return s.coord.RemoveFile(ctx, path)
}

// Snapshot returns the current graph view.
func (s *Service) Snapshot() *graph.GraphView {
	return s.store.Snapshot()
}

// Stats returns counts for the current view.
func (s *Service) Stats() graph.ViewStats {
	return s.store.Snapshot().Stats()
}

// view returns the current graph view once a build or snapshot load
// has completed.
func (s *Service) view() (*graph.GraphView, error) {
	if !s.ready.Load() {
		return nil, ErrNotReady
	}
	return s.store.Snapshot(), nil
}

// Node resolves name and returns the node.
func (s *Service) Node(name string) (*graph.Node, error) {
	view, err := s.view()
	if err != nil {
		return nil, err
	}
	return view.ResolveName(name)
}

// Dependencies returns the one-hop dependencies of entity.
func (s *Service) Dependencies(ctx context.Context, entity string) (*query.DependencyResult, error) {
	view, err := s.view()
	if err != nil {
		return nil, err
	}
	return s.engine.FindDependencies(ctx, view, entity)
}

// Dependents returns the one-hop dependents of entity.
func (s *Service) Dependents(ctx context.Context, entity string) (*query.DependencyResult, error) {
	view, err := s.view()
	if err != nil {
		return nil, err
	}
	return s.engine.FindDependents(ctx, view, entity)
}

// CallChain traces call paths between two functions.
func (s *Service) CallChain(ctx context.Context, from, to string, maxDepth int) (*query.CallChainResult, error) {
	view, err := s.view()
	if err != nil {
		return nil, err
	}
	return s.engine.TraceCallChain(ctx, view, from, to, maxDepth)
}

// Impact computes the files affected by changes to files.
func (s *Service) Impact(ctx context.Context, files []string, maxDepth int) (*query.ImpactResult, error) {
	view, err := s.view()
	if err != nil {
		return nil, err
	}
	return s.engine.CalculateImpactRadius(ctx, view, files, maxDepth)
}

// Cycles reports import and call cycles.
func (s *Service) Cycles(ctx context.Context, opts query.CycleOptions) (*query.CycleResult, error) {
	view, err := s.view()
	if err != nil {
		return nil, err
	}
	return s.engine.DetectCircularDependencies(ctx, view, opts)
}

// Unused lists code unreachable from entryPoints.
func (s *Service) Unused(ctx context.Context, entryPoints []string) (*query.UnusedResult, error) {
	view, err := s.view()
	if err != nil {
		return nil, err
	}
	return s.engine.FindUnusedCode(ctx, view, entryPoints)
}

// Subgraph extracts the bounded neighborhood of seeds.
func (s *Service) Subgraph(ctx context.Context, seeds []string, maxDepth, maxNodes int) (*subgraph.Subgraph, error) {
	view, err := s.view()
	if err != nil {
		return nil, err
	}
	return s.subgraphs.ExtractRelevant(ctx, view, seeds, maxDepth, maxNodes)
}

// SaveSnapshot persists the current graph under name.
func (s *Service) SaveSnapshot(ctx context.Context, name string) (*badger.SnapshotMeta, error) {
	if s.snapshots == nil {
		return nil, ErrStorageDisabled
	}
	return s.snapshots.Save(ctx, name, s.store)
}

// LoadSnapshot replaces the graph with the snapshot saved under name.
func (s *Service) LoadSnapshot(ctx context.Context, name string) (*badger.SnapshotMeta, error) {
	if s.snapshots == nil {
		return nil, ErrStorageDisabled
	}
	meta, err := s.snapshots.Load(ctx, name, s.store)
	if err != nil {
		return nil, err
	}
	s.ready.Store(true)
	return meta, nil
}

// ListSnapshots returns the saved snapshots.
func (s *Service) ListSnapshots(ctx context.Context) ([]badger.SnapshotMeta, error) {
	if s.snapshots == nil {
		return nil, ErrStorageDisabled
	}
	return s.snapshots.List(ctx)
}

// StartWatching feeds file changes under the root into the coordinator
// until ctx ends or Close is called. Calling it twice is a no-op.
func (s *Service) StartWatching(ctx context.Context) error {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if s.watcher != nil {
		return nil
	}

	w, err := watch.New(s.root, s.coord,
		watch.WithDebounce(s.cfg.Watch.Debounce),
		watch.WithRateLimit(rate.Limit(s.cfg.Watch.RatePerSecond), 1),
		watch.WithIgnorePatterns(append([]string{".*", "*.swp", "*.tmp", "*~"}, extract.DefaultSkipDirs...)...),
		watch.WithFilter(s.registry.Supports),
		watch.WithBatchHandler(func(updated, removed []string, _ *ingest.BuildResult, err error) {
			if err != nil {
				s.logger.Warn("watch batch failed",
					slog.Int("updated", len(updated)),
					slog.Int("removed", len(removed)),
					slog.String("error", err.Error()))
			}
		}),
		watch.WithLogger(s.logger),
	)
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	s.watcher = w
	return nil
}

// Close stops the watcher and the coordinator. Safe to call more than once.
func (s *Service) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.watchMu.Lock()
	if s.watcher != nil {
		s.watcher.Stop()
		s.watcher = nil
	}
	s.watchMu.Unlock()
	s.coord.Close()
}
