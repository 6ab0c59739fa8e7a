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
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for ingestion.
var (
	tracer = otel.Tracer("geograph.ingest")
	meter  = otel.Meter("geograph.ingest")
)

// Metrics for ingestion runs.
var (
	ingestLatency   metric.Float64Histogram
	ingestTotal     metric.Int64Counter
	linesTotal      metric.Int64Counter
	skippedTotal    metric.Int64Counter
	droppedTotal    metric.Int64Counter
	segmentsTotal   metric.Int64Counter
	flushLatency    metric.Float64Histogram
	assembleLatency metric.Float64Histogram
	edgesAssembled  metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		ingestLatency, err = meter.Float64Histogram(
			"geograph_ingest_duration_seconds",
			metric.WithDescription("Duration of ingestion runs"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		ingestTotal, err = meter.Int64Counter(
			"geograph_ingest_total",
			metric.WithDescription("Total number of ingestion runs"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		linesTotal, err = meter.Int64Counter(
			"geograph_adjacency_lines_total",
			metric.WithDescription("Adjacency lines consumed"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		skippedTotal, err = meter.Int64Counter(
			"geograph_adjacency_lines_skipped_total",
			metric.WithDescription("Adjacency lines that contributed no edges"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		droppedTotal, err = meter.Int64Counter(
			"geograph_adjacency_tokens_dropped_total",
			metric.WithDescription("Destination tokens dropped by cause"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		segmentsTotal, err = meter.Int64Counter(
			"geograph_spill_segments_written_total",
			metric.WithDescription("Spill segments written"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		flushLatency, err = meter.Float64Histogram(
			"geograph_spill_flush_duration_seconds",
			metric.WithDescription("Duration of spill segment writes"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		assembleLatency, err = meter.Float64Histogram(
			"geograph_assemble_duration_seconds",
			metric.WithDescription("Duration of graph assembly"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		edgesAssembled, err = meter.Int64Histogram(
			"geograph_assemble_edges",
			metric.WithDescription("Number of edges per assembled graph"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordIngestMetrics records metrics for a finished run.
func recordIngestMetrics(ctx context.Context, duration time.Duration, stats *IngestStats, success bool) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(attribute.Bool("success", success))
	ingestLatency.Record(ctx, duration.Seconds(), attrs)
	ingestTotal.Add(ctx, 1, attrs)

	if stats == nil {
		return
	}
	linesTotal.Add(ctx, int64(stats.Lines))
	for reason, n := range map[SkipReason]int{
		SkipBlank:            stats.BlankLines,
		SkipSourceOutOfRange: stats.OutOfRangeSources,
		SkipNoValidTokens:    stats.EmptyRecords,
	} {
		if n > 0 {
			skippedTotal.Add(ctx, int64(n), metric.WithAttributes(attribute.String("reason", reason.String())))
		}
	}
	for cause, n := range map[string]int{
		"malformed":    stats.MalformedTokens,
		"out_of_range": stats.OutOfRangeTokens,
		"self_loop":    stats.SelfLoopTokens,
		"duplicate":    stats.DuplicateTokens,
	} {
		if n > 0 {
			droppedTotal.Add(ctx, int64(n), metric.WithAttributes(attribute.String("cause", cause)))
		}
	}
}

// recordFlushMetrics records one spill segment write.
func recordFlushMetrics(ctx context.Context, store string, duration time.Duration) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("store", store))
	segmentsTotal.Add(ctx, 1, attrs)
	flushLatency.Record(ctx, duration.Seconds(), attrs)
}

// recordAssembleMetrics records one assembly.
func recordAssembleMetrics(ctx context.Context, duration time.Duration, edgeCount int, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	assembleLatency.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.Bool("success", success)),
	)
	if success {
		edgesAssembled.Record(ctx, int64(edgeCount))
	}
}

// startIngestSpan creates a span for an ingestion run.
func startIngestSpan(ctx context.Context, source string, threshold int, store string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Ingester.Ingest",
		trace.WithAttributes(
			attribute.String("geograph.source", source),
			attribute.Int("geograph.spill_threshold", threshold),
			attribute.String("geograph.spill_store", store),
		),
	)
}

// setIngestSpanResult sets the result attributes on an ingestion span.
func setIngestSpanResult(span trace.Span, stats *IngestStats) {
	span.SetAttributes(
		attribute.Int("geograph.node_count", stats.Nodes),
		attribute.Int("geograph.edge_count", stats.Edges),
		attribute.Int("geograph.lines", stats.Lines),
		attribute.Int("geograph.segments", stats.Segments),
	)
}

// startAssembleSpan creates a span for graph assembly.
func startAssembleSpan(ctx context.Context, segments int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "ingest.Assemble",
		trace.WithAttributes(
			attribute.Int("geograph.segment_count", segments),
		),
	)
}

// loggerWithTrace returns a logger enriched with trace context.
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
