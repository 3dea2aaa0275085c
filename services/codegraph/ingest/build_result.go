// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ingest

import (
	"fmt"

	"github.com/AleutianAI/codegraph/services/codegraph/graph"
)

// FileError represents a failure to ingest a single file.
type FileError struct {
	// FilePath is the path of the file that failed.
	FilePath string `json:"file_path"`

	// Err is the underlying error. Extraction failures wrap
	// graph.ErrExtractionFailed.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e FileError) Error() string {
	return fmt.Sprintf("file %s: %v", e.FilePath, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e FileError) Unwrap() error {
	return e.Err
}

// BuildStats contains statistics about an ingestion run.
type BuildStats struct {
	// FilesTotal is the number of distinct paths submitted.
	FilesTotal int `json:"files_total"`

	// FilesProcessed is the number of files whose facts were applied.
	FilesProcessed int `json:"files_processed"`

	// FilesFailed is the number of files skipped because extraction or
	// application failed. Their prior facts are untouched.
	FilesFailed int `json:"files_failed"`

	// FilesRemoved is the number of files retracted.
	FilesRemoved int `json:"files_removed"`

	// FilesSkipped is the number of files not applied because the run
	// was cancelled.
	FilesSkipped int `json:"files_skipped"`

	// Conflicts is the number of ownership transfers between files.
	Conflicts int `json:"conflicts"`

	// Delta is the summed net change across all applied files.
	Delta graph.BuildDelta `json:"delta"`

	// DurationMilli is the total run time in milliseconds.
	// NOTE: For fast runs (< 1ms), this rounds to 0. Use DurationMicro for precision.
	DurationMilli int64 `json:"duration_ms"`

	// DurationMicro is the total run time in microseconds.
	DurationMicro int64 `json:"duration_us"`
}

// BuildResult contains the outcome of an ingestion run.
//
// Runs are resilient: individual file failures never abort the batch.
// They are listed in FileErrors and the rest of the batch is applied.
type BuildResult struct {
	Stats BuildStats `json:"stats"`

	// FileErrors lists files that failed, sorted by path.
	FileErrors []FileError `json:"-"`

	// Conflicts lists ownership transfers reported by the store.
	Conflicts []graph.Conflict `json:"conflicts,omitempty"`

	// Incomplete is true if the run was cancelled before every file was applied.
	Incomplete bool `json:"incomplete"`

	// Version is the store version after the run.
	Version uint64 `json:"version"`
}

// HasErrors returns true if any file failed.
func (r *BuildResult) HasErrors() bool {
	return len(r.FileErrors) > 0
}

// Success returns true if the run completed without file errors.
func (r *BuildResult) Success() bool {
	return !r.Incomplete && !r.HasErrors()
}
