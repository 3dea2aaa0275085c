// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/codegraph/pkg/ux"
)

var (
	buildSave string
	buildJSON bool
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the graph from source and report statistics",
	Long: `Discover every supported file under the root, extract its facts, and
ingest them. Files that fail to parse are reported and skipped.

Examples:
  codegraph build --root .
  codegraph build --root . --save base
  codegraph build --json`,
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().StringVar(&buildSave, "save", "", "Save the built graph as a named snapshot")
	buildCmd.Flags().BoolVar(&buildJSON, "json", false, "Print the build result as JSON")
}

func runBuild(cmd *cobra.Command, _ []string) error {
	rt, err := newApp(cmd, buildSave != "")
	if err != nil {
		return err
	}
	defer rt.Close()

	result, err := rt.svc.Build(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if buildJSON {
		if err := printJSON(out, result); err != nil {
			return err
		}
	} else {
		stats := rt.svc.Stats()
		pr := newPrinter(out)
		pr.Field("Root", rt.svc.Root())
		pr.Field("Files", fmt.Sprintf("%d processed, %d failed", result.Stats.FilesProcessed, result.Stats.FilesFailed))
		pr.Field("Graph", fmt.Sprintf("%d nodes (%d unresolved), %d edges", stats.Nodes, stats.Placeholders, stats.Edges))
		pr.Field("Conflicts", fmt.Sprintf("%d", result.Stats.Conflicts))
		pr.Field("Duration", fmt.Sprintf("%dms", result.Stats.DurationMilli))
		for _, fe := range result.FileErrors {
			pr.FileStatus(fe.FilePath, ux.IconError, fe.Err.Error())
		}
	}

	if buildSave != "" {
		meta, err := rt.svc.SaveSnapshot(cmd.Context(), buildSave)
		if err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}
		if !buildJSON {
			newPrinter(out).Success(fmt.Sprintf("Saved snapshot %q (%d bytes)", meta.Name, meta.Bytes))
		}
	}
	return nil
}
