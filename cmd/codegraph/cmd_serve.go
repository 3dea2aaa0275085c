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
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/codegraph/services/codegraph"
	"github.com/AleutianAI/codegraph/services/codegraph/telemetry"
)

var (
	servePort     int
	serveDebug    bool
	serveWatch    bool
	serveSnapshot string
	serveNoBuild  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the codegraph HTTP server",
	Long: `Run the HTTP API under /v1/codegraph.

On startup the server builds the graph from source in the background, or
restores --snapshot when given. With --watch, file changes under the root
are applied as they happen. Prometheus metrics are served at /metrics.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides server.port)")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable gin debug mode and request logging")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "Watch the root for changes (overrides watch.enabled)")
	serveCmd.Flags().StringVar(&serveSnapshot, "snapshot", "", "Restore this snapshot instead of building")
	serveCmd.Flags().BoolVar(&serveNoBuild, "no-build", false, "Start with an empty graph")
}

func runServe(cmd *cobra.Command, _ []string) error {
	rt, err := newApp(cmd, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	cfg := rt.cfg
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = servePort
	}
	if cmd.Flags().Changed("debug") {
		cfg.Server.Debug = serveDebug
	}
	if cmd.Flags().Changed("watch") {
		cfg.Watch.Enabled = serveWatch
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown", slog.String("error", err.Error()))
		}
	}()

	if cfg.Server.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.Telemetry.ServiceName))
	if cfg.Server.Debug {
		router.Use(gin.Logger())
	}

	metrics := telemetry.MetricsHandler()
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	router.GET("/metrics", gin.WrapH(metrics))

	v1 := router.Group("/v1")
	codegraph.RegisterRoutes(v1, codegraph.NewHandlers(rt.svc))

	if !serveNoBuild {
		go warmUp(ctx, rt, serveSnapshot)
	}
	if cfg.Watch.Enabled {
		if err := rt.svc.StartWatching(ctx); err != nil {
			return fmt.Errorf("start watcher: %w", err)
		}
		slog.Info("Watching for changes", slog.String("root", rt.svc.Root()))
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting codegraph server",
			slog.String("address", srv.Addr),
			slog.String("root", rt.svc.Root()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Shutting down codegraph server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// warmUp restores a snapshot or builds the graph so the server becomes ready.
func warmUp(ctx context.Context, rt *app, snapshot string) {
	start := time.Now()
	if err := rt.prepare(ctx, snapshot); err != nil {
		if ctx.Err() == nil {
			slog.Error("Initial graph load failed", slog.String("error", err.Error()))
		}
		return
	}
	stats := rt.svc.Stats()
	slog.Info("Graph ready",
		slog.Int("files", stats.Files),
		slog.Int("nodes", stats.Nodes),
		slog.Int("edges", stats.Edges),
		slog.Duration("took", time.Since(start)))
}
