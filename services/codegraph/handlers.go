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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/codegraph/services/codegraph/graph"
	"github.com/AleutianAI/codegraph/services/codegraph/ingest"
	"github.com/AleutianAI/codegraph/services/codegraph/query"
	"github.com/AleutianAI/codegraph/services/codegraph/telemetry"
)

// Handlers contains the HTTP handlers for the codegraph service.
type Handlers struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandlers creates handlers for the given service.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc, logger: svc.logger}
}

func (h *Handlers) requestLogger(c *gin.Context, handler string) *slog.Logger {
	return telemetry.LoggerWithTrace(c.Request.Context(), h.logger).
		With("request_id", getOrCreateRequestID(c), "handler", handler)
}

// HandleHealth handles GET /v1/codegraph/health.
//
// Response:
//
//	200 OK: HealthResponse
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: ServiceVersion,
	})
}

// HandleReady handles GET /v1/codegraph/ready.
//
// Description:
//
//	Reports whether a build or snapshot load has completed. Returns 503
//	Service Unavailable until then.
//
// Response:
//
//	200 OK: ReadyResponse (Ready=true)
//	503 Service Unavailable: ReadyResponse (Ready=false)
func (h *Handlers) HandleReady(c *gin.Context) {
	resp := ReadyResponse{Ready: h.svc.Ready(), Stats: h.svc.Stats()}
	if !resp.Ready {
		c.Header("Retry-After", "5")
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleBuild handles POST /v1/codegraph/build.
//
// Description:
//
//	Discovers every supported file under the configured root and
//	ingests it. Individual file failures are reported in the response
//	and do not fail the request.
//
// Response:
//
//	200 OK: BuildResponse
//	409 Conflict: another build is running
//	408 Request Timeout: the request was cancelled
func (h *Handlers) HandleBuild(c *gin.Context) {
	logger := h.requestLogger(c, "HandleBuild")

	result, err := h.svc.Build(c.Request.Context())
	if err != nil {
		writeError(c, logger, "Build failed", err)
		return
	}

	resp := BuildResponse{Root: h.svc.Root(), Result: result}
	for _, fe := range result.FileErrors {
		resp.FileErrors = append(resp.FileErrors, fe.Error())
	}
	logger.Info("Graph built",
		"files_processed", result.Stats.FilesProcessed,
		"files_failed", result.Stats.FilesFailed,
		"duration_ms", result.Stats.DurationMilli,
		"version", result.Version)
	c.JSON(http.StatusOK, resp)
}

// HandleUpdateFile handles POST /v1/codegraph/files/update.
//
// Request Body:
//
//	FileRequest
//
// Response:
//
//	200 OK: FileResponse, with Conflicts when ownership moved
//	400 Bad Request: invalid path
//	422 Unprocessable Entity: extraction failed, prior facts kept
func (h *Handlers) HandleUpdateFile(c *gin.Context) {
	logger := h.requestLogger(c, "HandleUpdateFile")

	var req FileRequest
	if !bindJSON(c, logger, &req) {
		return
	}

	delta, err := h.svc.UpdateFile(c.Request.Context(), req.Path)
	resp := FileResponse{Path: req.Path, Delta: delta}
	var conflictErr *graph.ConflictError
	if errors.As(err, &conflictErr) {
		logger.Warn("Ownership transferred", "path", req.Path, "conflicts", len(conflictErr.Conflicts))
		resp.Conflicts = conflictErr.Conflicts
		err = nil
	}
	if err != nil {
		writeError(c, logger, "Update failed", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleRemoveFile handles POST /v1/codegraph/files/remove.
//
// Response:
//
//	200 OK: FileResponse
//	404 Not Found: the file was never ingested
func (h *Handlers) HandleRemoveFile(c *gin.Context) {
	logger := h.requestLogger(c, "HandleRemoveFile")

	var req FileRequest
	if !bindJSON(c, logger, &req) {
		return
	}

	delta, err := h.svc.RemoveFile(c.Request.Context(), req.Path)
	if err != nil {
		writeError(c, logger, "Remove failed", err)
		return
	}
	c.JSON(http.StatusOK, FileResponse{Path: req.Path, Delta: delta})
}

// HandleStats handles GET /v1/codegraph/stats.
func (h *Handlers) HandleStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Stats())
}

// HandleNode handles GET /v1/codegraph/node?name=.
//
// Description:
//
//	Resolves name as an exact ID, a qualified name, or a unique short
//	name and returns the node.
//
// Response:
//
//	200 OK: graph.Node
//	400 Bad Request: missing or ambiguous name
//	404 Not Found: no such node
func (h *Handlers) HandleNode(c *gin.Context) {
	logger := h.requestLogger(c, "HandleNode")

	var req NodeRequest
	if !bindQuery(c, logger, &req) {
		return
	}

	node, err := h.svc.Node(req.Name)
	if err != nil {
		writeError(c, logger, "Node lookup failed", err)
		return
	}
	c.JSON(http.StatusOK, node)
}

// HandleDependencies handles GET /v1/codegraph/dependencies?entity=.
func (h *Handlers) HandleDependencies(c *gin.Context) {
	h.handleOneHop(c, "HandleDependencies", h.svc.Dependencies)
}

// HandleDependents handles GET /v1/codegraph/dependents?entity=.
func (h *Handlers) HandleDependents(c *gin.Context) {
	h.handleOneHop(c, "HandleDependents", h.svc.Dependents)
}

func (h *Handlers) handleOneHop(c *gin.Context, name string, fn func(context.Context, string) (*query.DependencyResult, error)) {
	logger := h.requestLogger(c, name)

	var req EntityRequest
	if !bindQuery(c, logger, &req) {
		return
	}

	result, err := fn(c.Request.Context(), req.Entity)
	if err != nil {
		writeError(c, logger, "Dependency query failed", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// HandleCallChain handles POST /v1/codegraph/callchain.
//
// Description:
//
//	Enumerates call paths from one function to another, shortest first.
//	An unreachable target yields an empty path list, not an error.
//
// Request Body:
//
//	CallChainRequest
//
// Response:
//
//	200 OK: query.CallChainResult
//	404 Not Found: from or to does not resolve
func (h *Handlers) HandleCallChain(c *gin.Context) {
	logger := h.requestLogger(c, "HandleCallChain")

	var req CallChainRequest
	if !bindJSON(c, logger, &req) {
		return
	}
	result, err := h.svc.CallChain(c.Request.Context(), req.From, req.To, intOr(req.MaxDepth, defaultMaxDepth))
	if err != nil {
		writeError(c, logger, "Call chain failed", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// HandleImpact handles POST /v1/codegraph/impact.
//
// Request Body:
//
//	ImpactRequest
//
// Response:
//
//	200 OK: query.ImpactResult
//	400 Bad Request: a path names a non-file node
//	404 Not Found: a file is not in the graph
func (h *Handlers) HandleImpact(c *gin.Context) {
	logger := h.requestLogger(c, "HandleImpact")

	var req ImpactRequest
	if !bindJSON(c, logger, &req) {
		return
	}
	result, err := h.svc.Impact(c.Request.Context(), req.Files, intOr(req.MaxDepth, defaultMaxDepth))
	if err != nil {
		writeError(c, logger, "Impact analysis failed", err)
		return
	}
	logger.Info("Impact calculated", "changed", len(req.Files), "affected", result.AffectedCount, "risk", result.Risk)
	c.JSON(http.StatusOK, result)
}

// HandleCycles handles POST /v1/codegraph/cycles. The body is optional.
//
// Response:
//
//	200 OK: query.CycleResult
func (h *Handlers) HandleCycles(c *gin.Context) {
	logger := h.requestLogger(c, "HandleCycles")

	var req CyclesRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, logger, &req) {
		return
	}

	result, err := h.svc.Cycles(c.Request.Context(), query.CycleOptions{
		Enumerate:             req.Enumerate,
		MaxCyclesPerComponent: req.MaxCyclesPerComponent,
		MaxCycleLength:        req.MaxCycleLength,
	})
	if err != nil {
		writeError(c, logger, "Cycle detection failed", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// HandleUnused handles POST /v1/codegraph/unused.
//
// Description:
//
//	Lists functions and classes unreachable from the entry points.
//	Entry points that do not resolve are returned as warnings.
//
// Response:
//
//	200 OK: query.UnusedResult
func (h *Handlers) HandleUnused(c *gin.Context) {
	logger := h.requestLogger(c, "HandleUnused")

	var req UnusedRequest
	if !bindJSON(c, logger, &req) {
		return
	}

	result, err := h.svc.Unused(c.Request.Context(), req.EntryPoints)
	if err != nil {
		writeError(c, logger, "Unused code query failed", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// HandleSubgraph handles POST /v1/codegraph/subgraph.
//
// Description:
//
//	Returns the bounded BFS neighborhood of the seeds. max_nodes is a
//	hard cap; omitted values use the defaults.
//
// Response:
//
//	200 OK: subgraph.Subgraph
func (h *Handlers) HandleSubgraph(c *gin.Context) {
	logger := h.requestLogger(c, "HandleSubgraph")

	var req SubgraphRequest
	if !bindJSON(c, logger, &req) {
		return
	}
	result, err := h.svc.Subgraph(c.Request.Context(), req.Seeds,
		intOr(req.MaxDepth, defaultSubgraphDepth), intOr(req.MaxNodes, defaultSubgraphNodes))
	if err != nil {
		writeError(c, logger, "Subgraph extraction failed", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// HandleSaveSnapshot handles POST /v1/codegraph/snapshot/save.
//
// Response:
//
//	200 OK: badger.SnapshotMeta
//	503 Service Unavailable: storage is not configured
func (h *Handlers) HandleSaveSnapshot(c *gin.Context) {
	logger := h.requestLogger(c, "HandleSaveSnapshot")

	var req SnapshotRequest
	if !bindJSON(c, logger, &req) {
		return
	}

	meta, err := h.svc.SaveSnapshot(c.Request.Context(), req.Name)
	if err != nil {
		writeError(c, logger, "Snapshot save failed", err)
		return
	}
	logger.Info("Snapshot saved", "name", meta.Name, "bytes", meta.Bytes, "version", meta.Version)
	c.JSON(http.StatusOK, meta)
}

// HandleLoadSnapshot handles POST /v1/codegraph/snapshot/load.
//
// Response:
//
//	200 OK: badger.SnapshotMeta
//	404 Not Found: no snapshot with that name
//	503 Service Unavailable: storage is not configured
func (h *Handlers) HandleLoadSnapshot(c *gin.Context) {
	logger := h.requestLogger(c, "HandleLoadSnapshot")

	var req SnapshotRequest
	if !bindJSON(c, logger, &req) {
		return
	}

	meta, err := h.svc.LoadSnapshot(c.Request.Context(), req.Name)
	if err != nil {
		writeError(c, logger, "Snapshot load failed", err)
		return
	}
	logger.Info("Snapshot loaded", "name", meta.Name, "version", meta.Version)
	c.JSON(http.StatusOK, meta)
}

// HandleListSnapshots handles GET /v1/codegraph/snapshots.
func (h *Handlers) HandleListSnapshots(c *gin.Context) {
	logger := h.requestLogger(c, "HandleListSnapshots")

	metas, err := h.svc.ListSnapshots(c.Request.Context())
	if err != nil {
		writeError(c, logger, "Snapshot list failed", err)
		return
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].Name < metas[j].Name })
	c.JSON(http.StatusOK, gin.H{"snapshots": metas})
}

// Request defaults applied when a depth or cap is omitted.
const (
	defaultMaxDepth      = 5
	defaultSubgraphDepth = 2
	defaultSubgraphNodes = 200
)

func intOr(v *int, fallback int) int {
	if v == nil {
		return fallback
	}
	return *v
}

func bindJSON(c *gin.Context, logger *slog.Logger, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: fmt.Sprintf("Invalid request body: %v", err),
			Code:  "INVALID_REQUEST",
		})
		return false
	}
	return true
}

func bindQuery(c *gin.Context, logger *slog.Logger, req any) bool {
	if err := c.ShouldBindQuery(req); err != nil {
		logger.Warn("Invalid query parameters", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: fmt.Sprintf("Invalid query parameters: %v", err),
			Code:  "INVALID_REQUEST",
		})
		return false
	}
	return true
}

// writeError maps err onto a status code and error code.
func writeError(c *gin.Context, logger *slog.Logger, msg string, err error) {
	status, code := classifyError(err)
	if errors.Is(err, ErrNotReady) {
		c.Header("Retry-After", "5")
	}
	if status >= http.StatusInternalServerError {
		logger.Error(msg, "error", err)
	} else {
		logger.Warn(msg, "error", err, "code", code)
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, graph.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, graph.ErrInvalidArgument):
		return http.StatusBadRequest, "INVALID_ARGUMENT"
	case errors.Is(err, graph.ErrExtractionFailed):
		return http.StatusUnprocessableEntity, "EXTRACTION_FAILED"
	case errors.Is(err, graph.ErrCancelled):
		return http.StatusRequestTimeout, "CANCELLED"
	case errors.Is(err, ErrBuildInProgress):
		return http.StatusConflict, "BUILD_IN_PROGRESS"
	case errors.Is(err, ErrNotReady):
		return http.StatusServiceUnavailable, "NOT_READY"
	case errors.Is(err, ErrStorageDisabled):
		return http.StatusServiceUnavailable, "STORAGE_DISABLED"
	case errors.Is(err, ErrServiceClosed), errors.Is(err, ingest.ErrClosed):
		return http.StatusServiceUnavailable, "SERVICE_CLOSED"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
