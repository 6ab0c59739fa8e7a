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
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/geograph/services/geograph/graph"
	"github.com/AleutianAI/geograph/services/geograph/spill"
)

// AssembleResult is the outcome of a successful assembly.
type AssembleResult struct {
	// Graph is the assembled graph.
	Graph *graph.Graph

	// Warnings lists segments that could not be removed afterwards.
	Warnings []CleanupWarning

	// Duration is the wall time of the assembly including cleanup.
	Duration time.Duration
}

// Assemble concatenates spill segments into a Graph.
//
// Description:
//
//	Reads segments strictly in index order into one preallocated edge
//	slice, checks every edge against the node count, builds the Graph
//	and then removes the segments. A missing or corrupt segment fails
//	the assembly with no partial graph. A segment that cannot be removed
//	afterwards becomes a CleanupWarning and is logged.
//
// Inputs:
//
//	ctx - Context for cancellation and tracing.
//	store - The store holding the segments.
//	segments - Segment handles, strictly increasing by index.
//	locations - Node locations. Ownership transfers to the Graph.
//	logger - May be nil.
//
// Outputs:
//
//	*AssembleResult - The graph and any cleanup warnings.
//	error - *GraphAssemblyError on failure. Segments are left in place
//	for the caller to discard.
func Assemble(
	ctx context.Context,
	store spill.Store,
	segments []spill.Segment,
	locations *graph.Locations,
	logger *slog.Logger,
) (*AssembleResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()

	ctx, span := startAssembleSpan(ctx, len(segments))
	defer span.End()
	logger = loggerWithTrace(ctx, logger)

	fail := func(segment int, err error) (*AssembleResult, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "assembly failed")
		recordAssembleMetrics(ctx, time.Since(start), 0, false)
		return nil, &GraphAssemblyError{Segment: segment, Err: err}
	}

	total := 0
	for i, seg := range segments {
		if i > 0 && seg.Index <= segments[i-1].Index {
			return fail(seg.Index, fmt.Errorf("%w: %d after %d", ErrSegmentOrder, seg.Index, segments[i-1].Index))
		}
		total += seg.Edges
	}

	numNodes := locations.Len()
	edges := make([]graph.Edge, 0, total)
	for _, seg := range segments {
		if err := ctx.Err(); err != nil {
			return fail(seg.Index, err)
		}
		before := len(edges)
		var err error
		edges, err = store.Read(ctx, seg, edges)
		if err != nil {
			return fail(seg.Index, err)
		}
		if err := graph.ValidateEdges(edges[before:], numNodes); err != nil {
			return fail(seg.Index, err)
		}
	}

	g, err := graph.New(locations, edges)
	if err != nil {
		return fail(-1, err)
	}

	var warnings []CleanupWarning
	for _, seg := range segments {
		if err := store.Remove(ctx, seg); err != nil {
			w := CleanupWarning{Segment: seg.Index, Ref: seg.Ref, Err: err}
			warnings = append(warnings, w)
			logger.Warn("spill segment cleanup failed",
				slog.Int("segment", seg.Index),
				slog.String("ref", seg.Ref),
				slog.String("error", err.Error()),
			)
		}
	}

	duration := time.Since(start)
	span.SetAttributes(
		attribute.Int("geograph.edge_count", g.EdgeCount()),
		attribute.Int("geograph.cleanup_warnings", len(warnings)),
	)
	recordAssembleMetrics(ctx, duration, g.EdgeCount(), true)

	logger.Debug("graph assembled",
		slog.Int("nodes", g.VertexCount()),
		slog.Int("edges", g.EdgeCount()),
		slog.Int("segments", len(segments)),
		slog.Duration("duration", duration),
	)

	return &AssembleResult{Graph: g, Warnings: warnings, Duration: duration}, nil
}
