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
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/codegraph/services/codegraph/graph"
	"github.com/AleutianAI/codegraph/services/codegraph/storage/badger"
)

var (
	exportOut      string
	exportSnapshot string
	importName     string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the graph as a JSON snapshot document",
	Long: `Build the graph (or load --snapshot) and write its export document to
--out, or to stdout when --out is omitted. The document can be restored with
"codegraph import".`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Store a JSON snapshot document as a named snapshot",
	Long: `Validate an export document and save it in the snapshot store under
--name, so "serve --snapshot" and "query --snapshot" can load it.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Output file (default stdout)")
	exportCmd.Flags().StringVar(&exportSnapshot, "snapshot", "", "Export this snapshot instead of building")
	importCmd.Flags().StringVar(&importName, "name", "imported", "Snapshot name")
}

func runExport(cmd *cobra.Command, _ []string) error {
	rt, err := newApp(cmd, exportSnapshot != "")
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.prepare(cmd.Context(), exportSnapshot); err != nil {
		return err
	}
	data, err := rt.svc.Store().ExportSnapshot()
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}

	if exportOut == "" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(exportOut, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", exportOut, err)
	}
	stats := rt.svc.Stats()
	newPrinter(cmd.ErrOrStderr()).Success(fmt.Sprintf("Wrote %s: %d nodes, %d edges", exportOut, stats.Nodes, stats.Edges))
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	data, err := readInput(cmd, args[0])
	if err != nil {
		return err
	}

	rt, err := newApp(cmd, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	store := graph.NewStore(graph.WithLogger(rt.logger.Slog()))
	if err := store.ImportSnapshot(cmd.Context(), data); err != nil {
		return fmt.Errorf("import %s: %w", args[0], err)
	}

	meta, err := badger.NewSnapshotStore(rt.db, rt.logger.Slog()).Save(cmd.Context(), importName, store)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	newPrinter(cmd.OutOrStdout()).Success(fmt.Sprintf("Imported %q: %d nodes, %d edges, %d files",
		meta.Name, meta.Stats.Nodes, meta.Stats.Edges, meta.Stats.Files))
	return nil
}

// readInput reads path, or stdin when path is "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
