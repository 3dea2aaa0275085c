// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

func TestDefaultConfig(t *testing.T) {
	t.Setenv("OTEL_TRACES_EXPORTER", "")
	t.Setenv("OTEL_METRICS_EXPORTER", "")
	cfg := DefaultConfig()

	assert.Equal(t, "codegraph", cfg.ServiceName)
	assert.Equal(t, "none", cfg.TraceExporter)
	assert.Equal(t, "prometheus", cfg.MetricExporter)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
}

func TestDefaultConfig_EnvOverride(t *testing.T) {
	t.Setenv("OTEL_TRACES_EXPORTER", "stdout")
	assert.Equal(t, "stdout", DefaultConfig().TraceExporter)
}

func TestInit_NilContext(t *testing.T) {
	_, err := Init(nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestInit_NoopExporters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "none"
	cfg.MetricExporter = "none"

	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_StdoutTracer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "stdout"
	cfg.MetricExporter = "none"

	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	defer shutdown(context.Background())

	_, span := otel.Tracer("test").Start(context.Background(), "op")
	assert.True(t, span.SpanContext().IsValid())
	span.End()
}

func TestInit_UnknownExporter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "carrier-pigeon"

	_, err := Init(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownExporter))

	cfg.TraceExporter = "none"
	cfg.MetricExporter = "smoke-signals"
	_, err = Init(context.Background(), cfg)
	assert.True(t, errors.Is(err, ErrUnknownExporter))
}

func TestInit_PrometheusMetricsHandler(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "none"
	cfg.MetricExporter = "prometheus"

	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	defer shutdown(context.Background())

	counter, err := otel.Meter("test").Int64Counter("telemetry_test_requests_total")
	require.NoError(t, err)
	counter.Add(context.Background(), 42)

	handler := MetricsHandler()
	require.NotNil(t, handler)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	resp := rec.Result()
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "# TYPE")
}

func TestLoggerWithTrace(t *testing.T) {
	t.Run("no span", func(t *testing.T) {
		var buf bytes.Buffer
		LoggerWithTrace(context.Background(), slog.New(slog.NewJSONHandler(&buf, nil))).Info("msg")
		assert.NotContains(t, buf.String(), "trace_id")
	})

	t.Run("nil logger", func(t *testing.T) {
		assert.NotNil(t, LoggerWithTrace(context.Background(), nil))
	})

	t.Run("with span", func(t *testing.T) {
		traceID := trace.TraceID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10}
		spanID := trace.SpanID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
		ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
			TraceID:    traceID,
			SpanID:     spanID,
			TraceFlags: trace.FlagsSampled,
		}))

		var buf bytes.Buffer
		LoggerWithTrace(ctx, slog.New(slog.NewJSONHandler(&buf, nil))).Info("msg")
		assert.Contains(t, buf.String(), traceID.String())
		assert.Contains(t, buf.String(), spanID.String())
	})
}
