// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package snapshot

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var (
	snapshotDurationHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "geograph_snapshot_duration_seconds",
		Help:    "Time to save or load a graph snapshot",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"operation", "status"})

	snapshotOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geograph_snapshot_operations_total",
		Help: "Total snapshot operations by type and status",
	}, []string{"operation", "status"})

	snapshotSizeGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "geograph_snapshot_size_bytes",
		Help: "Size of the most recently saved snapshot in bytes",
	})
)

var snapshotTracer = otel.Tracer("geograph.snapshot")

// loggerWithTrace returns a logger with trace context attached.
func loggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return logger
	}
	return logger.With(
		slog.String("trace_id", spanCtx.TraceID().String()),
		slog.String("span_id", spanCtx.SpanID().String()),
	)
}
