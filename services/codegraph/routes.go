// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package codegraph

import (
	"path"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var registerValidators sync.Once

// RegisterRoutes registers all codegraph routes with the router.
//
// Description:
//
//	Registers all /v1/codegraph/* endpoints with the given Gin router
//	group. The group should already have any required middleware
//	applied.
//
// Endpoints:
//
//	GET  /v1/codegraph/health - Health check
//	GET  /v1/codegraph/ready - Readiness check
//	POST /v1/codegraph/build - Discover and ingest the repository
//	POST /v1/codegraph/files/update - Re-ingest one file
//	POST /v1/codegraph/files/remove - Retract one file
//	GET  /v1/codegraph/stats - Node, edge, and file counts
//	GET  /v1/codegraph/node - Resolve a name to a node
//	GET  /v1/codegraph/dependencies - One-hop outgoing neighbors
//	GET  /v1/codegraph/dependents - One-hop incoming neighbors
//	POST /v1/codegraph/callchain - Call paths between two functions
//	POST /v1/codegraph/impact - Files affected by a change
//	POST /v1/codegraph/cycles - Import and call cycles
//	POST /v1/codegraph/unused - Code unreachable from entry points
//	POST /v1/codegraph/subgraph - Bounded neighborhood of seeds
//	GET  /v1/codegraph/snapshots - List saved snapshots
//	POST /v1/codegraph/snapshot/save - Persist the graph
//	POST /v1/codegraph/snapshot/load - Restore the graph
//
// Example:
//
//	svc, err := codegraph.NewService(cfg)
//	handlers := codegraph.NewHandlers(svc)
//
//	v1 := router.Group("/v1")
//	codegraph.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	registerValidators.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			_ = v.RegisterValidation("relpath", validateRelPath)
		}
	})

	cg := rg.Group("/codegraph")
	{
		// Health checks
		cg.GET("/health", handlers.HandleHealth)
		cg.GET("/ready", handlers.HandleReady)

		// Ingestion
		cg.POST("/build", handlers.HandleBuild)
		cg.POST("/files/update", handlers.HandleUpdateFile)
		cg.POST("/files/remove", handlers.HandleRemoveFile)

		// Graph queries
		cg.GET("/stats", handlers.HandleStats)
		cg.GET("/node", handlers.HandleNode)
		cg.GET("/dependencies", handlers.HandleDependencies)
		cg.GET("/dependents", handlers.HandleDependents)
		cg.POST("/callchain", handlers.HandleCallChain)
		cg.POST("/impact", handlers.HandleImpact)
		cg.POST("/cycles", handlers.HandleCycles)
		cg.POST("/unused", handlers.HandleUnused)
		cg.POST("/subgraph", handlers.HandleSubgraph)

		// Persistence
		cg.GET("/snapshots", handlers.HandleListSnapshots)
		cg.POST("/snapshot/save", handlers.HandleSaveSnapshot)
		cg.POST("/snapshot/load", handlers.HandleLoadSnapshot)
	}
}

// validateRelPath accepts slash-separated paths that stay inside the
// repository root.
func validateRelPath(fl validator.FieldLevel) bool {
	p := strings.ReplaceAll(fl.Field().String(), "\\", "/")
	if p == "" || path.IsAbs(p) || (len(p) > 1 && p[1] == ':') {
		return false
	}
	clean := path.Clean(p)
	return clean != "." && clean != ".." && !strings.HasPrefix(clean, "../")
}
