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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/codegraph/pkg/logging"
	"github.com/AleutianAI/codegraph/pkg/ux"
	"github.com/AleutianAI/codegraph/services/codegraph"
	"github.com/AleutianAI/codegraph/services/codegraph/config"
	"github.com/AleutianAI/codegraph/services/codegraph/storage/badger"
)

// =============================================================================
// GLOBAL FLAGS
// =============================================================================

var (
	configPath string
	rootDir    string
	logLevel   string
	logFormat  string
	storePath  string
	inMemory   bool
	outputMode string
)

var rootCmd = &cobra.Command{
	Use:   "codegraph",
	Short: "Build and query a knowledge graph of a codebase",
	Long: `codegraph parses Python, Go, and SQL sources into a graph of files,
functions, classes, variables, and tables, and answers structural questions
about it: dependencies, call chains, change impact, cycles, and dead code.

Configuration is read from --config (default ~/.codegraph/codegraph.yaml).
Flags override values from the file.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "~/.codegraph/codegraph.yaml", "Path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", "", "Repository root (overrides ingest.root)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text or json (default: by terminal)")
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "", "BadgerDB directory (overrides storage.path)")
	rootCmd.PersistentFlags().BoolVar(&inMemory, "in-memory", false, "Keep snapshots in memory only")
	rootCmd.PersistentFlags().StringVar(&outputMode, "output", "", "Summary output: rich, plain, or machine (default: by terminal)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if flags.Changed("root") {
		cfg.Ingest.Root = rootDir
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format = logFormat
	}
	if flags.Changed("store") {
		cfg.Storage.Path = storePath
	}
	if flags.Changed("in-memory") {
		cfg.Storage.InMemory = inMemory
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// app holds what every subcommand needs, built from one config.
type app struct {
	cfg    config.Config
	logger *logging.Logger
	db     *badger.DB
	svc    *codegraph.Service
}

// newApp builds the logger, the optional snapshot store, and the service.
func newApp(cmd *cobra.Command, withStorage bool) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	rt := &app{cfg: cfg, logger: logging.New(cfg.LoggerConfig("codegraph"))}
	slog.SetDefault(rt.logger.Slog())

	opts := []codegraph.ServiceOption{codegraph.WithLogger(rt.logger.Slog())}
	if withStorage {
		storage := cfg.StorageConfig()
		storage.Logger = rt.logger.Slog()
		db, err := badger.OpenDB(storage)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("open snapshot store: %w", err)
		}
		rt.db = db
		opts = append(opts, codegraph.WithSnapshotStore(badger.NewSnapshotStore(db, rt.logger.Slog())))
	}

	svc, err := codegraph.NewService(cfg, opts...)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.svc = svc
	return rt, nil
}

// Close releases the service, the database, and the log file.
func (rt *app) Close() {
	if rt.svc != nil {
		rt.svc.Close()
	}
	if rt.db != nil {
		if err := rt.db.Close(); err != nil {
			rt.logger.Warn("close snapshot store", "error", err)
		}
	}
	_ = rt.logger.Close()
}

// prepare makes the graph queryable: it loads the named snapshot, or
// builds from source when name is empty.
func (rt *app) prepare(ctx context.Context, snapshot string) error {
	if snapshot != "" {
		_, err := rt.svc.LoadSnapshot(ctx, snapshot)
		return err
	}
	result, err := rt.svc.Build(ctx)
	if err != nil {
		return err
	}
	for _, fe := range result.FileErrors {
		rt.logger.Warn("file skipped", "path", fe.FilePath, "error", fe.Err)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newPrinter returns a summary printer for w honoring --output.
func newPrinter(w io.Writer) *ux.Printer {
	if outputMode != "" {
		return ux.NewPrinter(w, ux.ParseMode(outputMode))
	}
	return ux.NewPrinter(w, ux.DetectMode(w))
}
