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

	"github.com/AleutianAI/codegraph/services/codegraph/query"
)

var (
	querySnapshot string
	impactDepth   int
	chainDepth    int
	subgraphDepth int
	queryMaxNodes int
	queryEnum     bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Run a structural query and print the result as JSON",
	Long: `Run one query against the graph. The graph is built from source unless
--snapshot names a saved snapshot to load instead.

Examples:
  codegraph query dependencies pkg/app.py::main
  codegraph query dependents users
  codegraph query callchain main save_user --depth 4
  codegraph query impact pkg/db.py pkg/models.py --depth 3
  codegraph query cycles --enumerate
  codegraph query unused main cli.py::run
  codegraph query subgraph handle_request --depth 2 --max-nodes 50`,
}

func init() {
	queryCmd.PersistentFlags().StringVar(&querySnapshot, "snapshot", "", "Load this snapshot instead of building")

	impactQueryCmd.Flags().IntVar(&impactDepth, "depth", 3, "Maximum import depth")
	callChainQueryCmd.Flags().IntVar(&chainDepth, "depth", 5, "Maximum call chain length")
	subgraphQueryCmd.Flags().IntVar(&subgraphDepth, "depth", 2, "Maximum BFS depth")
	subgraphQueryCmd.Flags().IntVar(&queryMaxNodes, "max-nodes", 200, "Maximum nodes returned")
	cyclesQueryCmd.Flags().BoolVar(&queryEnum, "enumerate", false, "List elementary cycles in each component")

	queryCmd.AddCommand(
		nodeQueryCmd,
		dependenciesQueryCmd,
		dependentsQueryCmd,
		callChainQueryCmd,
		impactQueryCmd,
		cyclesQueryCmd,
		unusedQueryCmd,
		subgraphQueryCmd,
	)
}

// queryRunner prepares the graph, runs fn, and prints its result.
func queryRunner(fn func(cmd *cobra.Command, rt *app, args []string) (any, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		rt, err := newApp(cmd, querySnapshot != "")
		if err != nil {
			return err
		}
		defer rt.Close()

		if err := rt.prepare(cmd.Context(), querySnapshot); err != nil {
			return err
		}
		result, err := fn(cmd, rt, args)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), result)
	}
}

var nodeQueryCmd = &cobra.Command{
	Use:   "node <name>",
	Short: "Resolve a name and print the node",
	Args:  cobra.ExactArgs(1),
	RunE: queryRunner(func(_ *cobra.Command, rt *app, args []string) (any, error) {
		return rt.svc.Node(args[0])
	}),
}

var dependenciesQueryCmd = &cobra.Command{
	Use:   "dependencies <entity>",
	Short: "One-hop outgoing imports, calls, and inheritance",
	Args:  cobra.ExactArgs(1),
	RunE: queryRunner(func(cmd *cobra.Command, rt *app, args []string) (any, error) {
		return rt.svc.Dependencies(cmd.Context(), args[0])
	}),
}

var dependentsQueryCmd = &cobra.Command{
	Use:   "dependents <entity>",
	Short: "One-hop incoming imports, calls, and inheritance",
	Args:  cobra.ExactArgs(1),
	RunE: queryRunner(func(cmd *cobra.Command, rt *app, args []string) (any, error) {
		return rt.svc.Dependents(cmd.Context(), args[0])
	}),
}

var callChainQueryCmd = &cobra.Command{
	Use:   "callchain <from> <to>",
	Short: "Call paths from one function to another",
	Args:  cobra.ExactArgs(2),
	RunE: queryRunner(func(cmd *cobra.Command, rt *app, args []string) (any, error) {
		return rt.svc.CallChain(cmd.Context(), args[0], args[1], chainDepth)
	}),
}

var impactQueryCmd = &cobra.Command{
	Use:   "impact <file>...",
	Short: "Files that transitively import the changed files",
	Args:  cobra.MinimumNArgs(1),
	RunE: queryRunner(func(cmd *cobra.Command, rt *app, args []string) (any, error) {
		return rt.svc.Impact(cmd.Context(), args, impactDepth)
	}),
}

var cyclesQueryCmd = &cobra.Command{
	Use:   "cycles",
	Short: "Import and call cycles",
	Args:  cobra.NoArgs,
	RunE: queryRunner(func(cmd *cobra.Command, rt *app, _ []string) (any, error) {
		return rt.svc.Cycles(cmd.Context(), query.CycleOptions{Enumerate: queryEnum})
	}),
}

var unusedQueryCmd = &cobra.Command{
	Use:   "unused <entry-point>...",
	Short: "Functions and classes unreachable from the entry points",
	Args:  cobra.MinimumNArgs(1),
	RunE: queryRunner(func(cmd *cobra.Command, rt *app, args []string) (any, error) {
		return rt.svc.Unused(cmd.Context(), args)
	}),
}

var subgraphQueryCmd = &cobra.Command{
	Use:   "subgraph <seed>...",
	Short: "Bounded neighborhood of the seed entities",
	Args:  cobra.MinimumNArgs(1),
	RunE: queryRunner(func(cmd *cobra.Command, rt *app, args []string) (any, error) {
		if queryMaxNodes <= 0 {
			return nil, fmt.Errorf("--max-nodes must be positive, got %d", queryMaxNodes)
		}
		return rt.svc.Subgraph(cmd.Context(), args, subgraphDepth, queryMaxNodes)
	}),
}
