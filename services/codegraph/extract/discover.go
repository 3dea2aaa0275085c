// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extract

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/AleutianAI/codegraph/services/codegraph/graph"
)

// DefaultSkipDirs are never descended into.
var DefaultSkipDirs = []string{
	".git", ".hg", ".svn", "node_modules", "vendor", "__pycache__",
	".venv", "venv", ".tox", ".mypy_cache", ".pytest_cache",
}

// DiscoverOptions configures Discover.
type DiscoverOptions struct {
	// Extensions limits results to these extensions (with the dot).
	// Default: .go, .py, .sql
	Extensions []string

	// Ignore holds extra gitignore-style patterns applied after the
	// root .gitignore.
	Ignore []string

	// SkipDirs replaces DefaultSkipDirs when non-nil. Hidden directories
	// are always skipped.
	SkipDirs []string
}

// Discover walks root and returns the supported source files as sorted,
// slash-separated paths relative to root.
//
// Description:
//
//	Honors the root .gitignore and opts.Ignore, skips hidden and
//	well-known dependency directories, and skips symlinks. Unreadable
//	entries are skipped rather than failing the walk.
//
// Outputs:
//
//	[]string - Relative paths, sorted.
//	error - graph.ErrCancelled if ctx ends, or the error from reading root.
func Discover(ctx context.Context, root string, opts DiscoverOptions) ([]string, error) {
	if _, err := os.Stat(root); err != nil {
		return nil, err
	}

	exts := opts.Extensions
	if len(exts) == 0 {
		exts = []string{".go", ".py", ".sql"}
	}
	extSet := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		extSet[strings.ToLower(ext)] = struct{}{}
	}
	skip := opts.SkipDirs
	if skip == nil {
		skip = DefaultSkipDirs
	}
	skipSet := make(map[string]struct{}, len(skip))
	for _, d := range skip {
		skipSet[d] = struct{}{}
	}
	gi := loadIgnore(root, opts.Ignore)

	var out []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if err := graph.CheckContext(ctx); err != nil {
			return err
		}
		if p == root {
			return nil
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		name := d.Name()

		if d.IsDir() {
			if _, ok := skipSet[name]; ok || strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			if gi != nil && gi.MatchesPath(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") || d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if _, ok := extSet[strings.ToLower(filepath.Ext(name))]; !ok {
			return nil
		}
		if gi != nil && gi.MatchesPath(rel) {
			return nil
		}
		out = append(out, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(out)
	return out, nil
}

// Discover walks the registry root for files it can extract.
func (r *Registry) Discover(ctx context.Context, ignorePatterns ...string) ([]string, error) {
	return Discover(ctx, r.root, DiscoverOptions{Extensions: r.Extensions(), Ignore: ignorePatterns})
}

// loadIgnore compiles the root .gitignore plus extra patterns. It returns
// nil when there is nothing to apply.
func loadIgnore(root string, extra []string) *ignore.GitIgnore {
	var lines []string
	if data, err := os.ReadFile(filepath.Join(root, ".gitignore")); err == nil {
		lines = strings.Split(string(data), "\n")
	}
	lines = append(lines, extra...)
	if len(lines) == 0 {
		return nil
	}
	return ignore.CompileIgnoreLines(lines...)
}
