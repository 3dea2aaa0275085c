// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extract turns source files into graph facts.
//
// A Registry dispatches by file extension to a LanguageExtractor. Python
// and Go are parsed with tree-sitter; SQL DDL files define tables; string
// literals in code are scanned for SQL that reads or writes tables.
//
// # Thread Safety
//
// Registry and the built-in extractors are safe for concurrent use. Each
// extraction creates its own tree-sitter parser.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/codegraph/services/codegraph/graph"
)

// DefaultMaxFileSize is the largest file the registry will read (10MB).
const DefaultMaxFileSize = 10 * 1024 * 1024

var (
	// ErrUnsupported is returned for files with no registered extractor.
	ErrUnsupported = errors.New("unsupported file type")

	// ErrFileTooLarge is returned when a file exceeds the size limit.
	ErrFileTooLarge = errors.New("file exceeds maximum size limit")

	// ErrInvalidContent is returned for content that is not valid UTF-8.
	ErrInvalidContent = errors.New("invalid content")
)

var tracer = otel.Tracer("codegraph.extract")

// Source is one file handed to a LanguageExtractor.
type Source struct {
	// Path is relative to the registry root, slash separated.
	Path string

	// Content is the file's bytes.
	Content []byte
}

// LanguageExtractor produces facts for the files of one language.
type LanguageExtractor interface {
	// Language returns the canonical language name, e.g. "python".
	Language() string

	// Extensions returns the handled extensions including the dot.
	Extensions() []string

	// Extract returns the facts for src. The File node is added by the
	// registry and need not be emitted.
	Extract(ctx context.Context, src Source) (*graph.FileFacts, error)
}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	// MaxFileSize is the largest file read, in bytes.
	// Default: 10MB
	MaxFileSize int64

	// Logger receives per-file debug output.
	// Default: slog.Default()
	Logger *slog.Logger
}

// RegistryOption is a functional option for configuring Registry.
type RegistryOption func(*RegistryOptions)

// WithMaxFileSize sets the file size limit.
func WithMaxFileSize(bytes int64) RegistryOption {
	return func(o *RegistryOptions) {
		if bytes > 0 {
			o.MaxFileSize = bytes
		}
	}
}

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(o *RegistryOptions) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// Registry reads files under a root directory and dispatches them to the
// extractor registered for their extension.
type Registry struct {
	root  string
	opts  RegistryOptions
	byExt map[string]LanguageExtractor
}

// NewRegistry creates a registry rooted at root with the Python, Go, and
// SQL extractors registered.
//
// Example:
//
//	reg := extract.NewRegistry("/src/project")
//	facts, err := reg.Extract(ctx, "pkg/app.py")
func NewRegistry(root string, opts ...RegistryOption) *Registry {
	options := RegistryOptions{MaxFileSize: DefaultMaxFileSize, Logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	r := &Registry{root: root, opts: options, byExt: make(map[string]LanguageExtractor)}
	r.Register(NewPythonExtractor(root))
	r.Register(NewGoExtractor(root))
	r.Register(NewSQLExtractor())
	return r
}

// Register adds or replaces the extractor for each of its extensions.
func (r *Registry) Register(ex LanguageExtractor) {
	for _, ext := range ex.Extensions() {
		r.byExt[strings.ToLower(ext)] = ex
	}
}

// Root returns the directory paths are resolved against.
func (r *Registry) Root() string {
	return r.root
}

// Supports reports whether path has a registered extractor.
func (r *Registry) Supports(path string) bool {
	_, ok := r.byExt[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Extensions returns every registered extension, sorted.
func (r *Registry) Extensions() []string {
	out := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		out = append(out, ext)
	}
	slices.Sort(out)
	return out
}

// Extract reads path (relative to the root) and returns its facts.
//
// Description:
//
//	Reads and validates the file, runs the language extractor, and
//	fills in the File node with language, non-blank line count, and
//	modification time.
//
// Outputs:
//
//	*graph.FileFacts - Facts keyed by the slash-separated relative path.
//	error - Wraps graph.ErrExtractionFailed (and ErrUnsupported,
//	        ErrFileTooLarge, or ErrInvalidContent where applicable), or
//	        graph.ErrCancelled.
func (r *Registry) Extract(ctx context.Context, path string) (*graph.FileFacts, error) {
	rel := filepath.ToSlash(filepath.Clean(path))
	ex, ok := r.byExt[strings.ToLower(filepath.Ext(rel))]
	if !ok {
		return nil, fmt.Errorf("%w: %w: %s", graph.ErrExtractionFailed, ErrUnsupported, rel)
	}

	ctx, span := tracer.Start(ctx, "extract.Registry.Extract")
	defer span.End()
	span.SetAttributes(attribute.String("file.path", rel), attribute.String("file.language", ex.Language()))
	start := time.Now()

	facts, err := r.extract(ctx, ex, rel)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("facts.nodes", len(facts.Nodes)),
		attribute.Int("facts.edges", len(facts.Edges)),
	)
	r.opts.Logger.Debug("extracted file",
		slog.String("path", rel),
		slog.String("language", ex.Language()),
		slog.Int("nodes", len(facts.Nodes)),
		slog.Int("edges", len(facts.Edges)),
		slog.Duration("duration", time.Since(start)),
	)
	return facts, nil
}

func (r *Registry) extract(ctx context.Context, ex LanguageExtractor, rel string) (*graph.FileFacts, error) {
	if err := graph.CheckContext(ctx); err != nil {
		return nil, err
	}
	abs := filepath.Join(r.root, filepath.FromSlash(rel))
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", graph.ErrExtractionFailed, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", graph.ErrExtractionFailed, rel)
	}
	if info.Size() > r.opts.MaxFileSize {
		return nil, fmt.Errorf("%w: %w: %s is %d bytes, limit %d",
			graph.ErrExtractionFailed, ErrFileTooLarge, rel, info.Size(), r.opts.MaxFileSize)
	}
	content, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", graph.ErrExtractionFailed, err)
	}
	if !utf8.Valid(content) {
		return nil, fmt.Errorf("%w: %w: %s is not valid UTF-8", graph.ErrExtractionFailed, ErrInvalidContent, rel)
	}

	facts, err := ex.Extract(ctx, Source{Path: rel, Content: content})
	if err != nil {
		if errors.Is(err, graph.ErrCancelled) || errors.Is(err, graph.ErrExtractionFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %w", graph.ErrExtractionFailed, rel, err)
	}
	if err := graph.CheckContext(ctx); err != nil {
		return nil, err
	}

	facts.Path = rel
	facts.Nodes = append(facts.Nodes, graph.Node{
		Kind:          graph.NodeKindFile,
		QualifiedName: rel,
		File: &graph.FileAttrs{
			Language:     ex.Language(),
			LinesOfCode:  countLines(content),
			LastModified: info.ModTime().UTC(),
		},
	})
	return facts, nil
}

// countLines returns the number of non-blank lines.
func countLines(content []byte) int {
	n := 0
	for line := range strings.SplitSeq(string(content), "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n
}
