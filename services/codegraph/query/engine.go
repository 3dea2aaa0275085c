// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package query answers graph-theoretic questions over a graph.GraphView.
//
// Every operation takes an immutable view, so queries never block
// ingestion and never observe a half-applied update. Entity arguments are
// resolved with GraphView.ResolveName; an unresolvable entity is an
// error (graph.ErrNotFound), never an empty result.
//
// # Thread Safety
//
// Engine is safe for concurrent use. Results may be served from a shared
// cache and MUST NOT be mutated by callers.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/codegraph/services/codegraph/graph"
)

// Query limits.
const (
	// DefaultCallChainCap is the default maximum number of call paths returned.
	DefaultCallChainCap = 10

	// MaxTraversalDepth is the largest depth any traversal accepts.
	// Larger requests are clamped.
	MaxTraversalDepth = 100

	// DefaultCacheSize is the default number of cached query results.
	DefaultCacheSize = 512

	// DefaultMaxCyclesPerComponent bounds elementary cycles listed per SCC.
	DefaultMaxCyclesPerComponent = 100

	// DefaultMaxCycleLength bounds the length of an enumerated cycle.
	DefaultMaxCycleLength = 20

	// contextCheckInterval is how often traversals poll for cancellation.
	contextCheckInterval = 64
)

var tracer = otel.Tracer("codegraph.query")

// EngineOptions configures an Engine.
type EngineOptions struct {
	// Risk classifies impact results.
	// Default: RiskThresholds{Low: 5, Medium: 20}
	Risk RiskThresholds

	// CacheSize is the number of results kept in the LRU. Zero disables caching.
	// Default: 512
	CacheSize int

	// CallChainCap is the maximum number of paths TraceCallChain returns.
	// Default: 10
	CallChainCap int

	// MaxCyclesPerComponent bounds opt-in cycle enumeration per SCC.
	// Default: 100
	MaxCyclesPerComponent int

	// MaxCycleLength bounds the length of an enumerated cycle.
	// Default: 20
	MaxCycleLength int

	// Logger receives debug output.
	// Default: slog.Default()
	Logger *slog.Logger
}

// DefaultEngineOptions returns sensible defaults.
func DefaultEngineOptions() EngineOptions {
	return EngineOptions{
		Risk:                  DefaultRiskThresholds(),
		CacheSize:             DefaultCacheSize,
		CallChainCap:          DefaultCallChainCap,
		MaxCyclesPerComponent: DefaultMaxCyclesPerComponent,
		MaxCycleLength:        DefaultMaxCycleLength,
		Logger:                slog.Default(),
	}
}

// EngineOption is a functional option for configuring Engine.
type EngineOption func(*EngineOptions)

// WithRiskThresholds sets the impact risk thresholds. Invalid thresholds
// (non-positive, or Medium not above Low) are ignored.
func WithRiskThresholds(t RiskThresholds) EngineOption {
	return func(o *EngineOptions) {
		if t.Validate() == nil {
			o.Risk = t
		}
	}
}

// WithCacheSize sets the result cache size. Zero disables caching;
// negative values are ignored.
func WithCacheSize(n int) EngineOption {
	return func(o *EngineOptions) {
		if n >= 0 {
			o.CacheSize = n
		}
	}
}

// WithCallChainCap sets the maximum number of call paths returned.
func WithCallChainCap(n int) EngineOption {
	return func(o *EngineOptions) {
		if n > 0 {
			o.CallChainCap = n
		}
	}
}

// WithCycleEnumerationLimits sets the bounds used when cycle enumeration
// is requested.
func WithCycleEnumerationLimits(maxPerComponent, maxLength int) EngineOption {
	return func(o *EngineOptions) {
		if maxPerComponent > 0 {
			o.MaxCyclesPerComponent = maxPerComponent
		}
		if maxLength > 0 {
			o.MaxCycleLength = maxLength
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(o *EngineOptions) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// Engine runs queries against graph views.
//
// Description:
//
//	Stateless apart from a result cache keyed by (store ID, view
//	version, operation, arguments). Because views are immutable, a
//	cached result for a version never goes stale; a newer version simply
//	misses. Concurrent identical queries are collapsed with singleflight.
//
// Thread Safety: Safe for concurrent use.
type Engine struct {
	opts   EngineOptions
	logger *slog.Logger
	cache  *lru.Cache[string, any]
	flight singleflight.Group
}

// NewEngine creates a query engine.
//
// Example:
//
//	engine := query.NewEngine(query.WithCallChainCap(5))
//	deps, err := engine.FindDependencies(ctx, store.Snapshot(), "main")
func NewEngine(opts ...EngineOption) *Engine {
	options := DefaultEngineOptions()
	for _, opt := range opts {
		opt(&options)
	}
	e := &Engine{opts: options, logger: options.Logger}
	if options.CacheSize > 0 {
		// lru.New only fails for non-positive sizes.
		e.cache, _ = lru.New[string, any](options.CacheSize)
	}
	return e
}

// Options returns the engine configuration.
func (e *Engine) Options() EngineOptions {
	return e.opts
}

// Purge drops every cached result.
func (e *Engine) Purge() {
	if e.cache != nil {
		e.cache.Purge()
	}
}

// run executes compute for op, serving it from the cache when possible.
//
// Errors are never cached. Every caller, including one that joined an
// in-flight computation, returns as soon as its own ctx ends. A caller
// that joins a computation cancelled by another caller recomputes with
// its own context.
func run[T any](ctx context.Context, e *Engine, view *graph.GraphView, op, args string, compute func(context.Context) (T, error)) (T, error) {
	var zero T
	if view == nil {
		return zero, fmt.Errorf("%w: nil graph view", graph.ErrInvalidArgument)
	}
	if err := graph.CheckContext(ctx); err != nil {
		return zero, err
	}

	ctx, span := tracer.Start(ctx, "query."+op, trace.WithAttributes(
		attribute.String("query.op", op),
		attribute.Int64("graph.version", int64(view.Version())),
	))
	defer span.End()
	start := time.Now()

	key := fmt.Sprintf("%s|%d|%s|%s", view.StoreID(), view.Version(), op, args)
	if e.cache != nil {
		if v, ok := e.cache.Get(key); ok {
			queryCacheTotal.WithLabelValues(op, "hit").Inc()
			span.SetAttributes(attribute.Bool("query.cache_hit", true))
			queryDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
			return v.(T), nil
		}
		queryCacheTotal.WithLabelValues(op, "miss").Inc()
	}

	ch := e.flight.DoChan(key, func() (any, error) {
		res, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if e.cache != nil {
			e.cache.Add(key, res)
		}
		return res, nil
	})
	var v any
	var err error
	select {
	case res := <-ch:
		v, err = res.Val, res.Err
	case <-ctx.Done():
		err = graph.CheckContext(ctx)
	}
	if err != nil && errors.Is(err, graph.ErrCancelled) && ctx.Err() == nil {
		v, err = compute(ctx)
	}
	queryDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Debug("query failed", slog.String("op", op), slog.String("error", err.Error()))
		return zero, err
	}
	span.SetStatus(codes.Ok, "")
	return v.(T), nil
}

// validateDepth rejects negative depths and clamps large ones.
func validateDepth(depth int) (int, error) {
	if depth < 0 {
		return 0, fmt.Errorf("%w: negative depth %d", graph.ErrInvalidArgument, depth)
	}
	return min(depth, MaxTraversalDepth), nil
}

// stepper polls ctx every contextCheckInterval calls.
type stepper struct {
	ctx   context.Context
	steps int
}

func (s *stepper) step() error {
	s.steps++
	if s.steps%contextCheckInterval == 0 {
		return graph.CheckContext(s.ctx)
	}
	return nil
}
