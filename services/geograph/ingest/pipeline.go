// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ingest turns a location source and an adjacency source into a
// validated graph.
//
// # Pipeline
//
//	LoadLocations ─▶ producer (read + parse) ─▶ bounded queue ─▶ consumer
//	                                                              │
//	                      Assemble ◀── spill segments ◀── Accumulator
//
// Locations are loaded completely before adjacency processing starts,
// since the node count bounds every edge. The producer reads adjacency
// lines in order and sends parsed batches over a channel of QueueDepth
// batches. The consumer feeds the Accumulator, which flushes full buffers
// to spill segments on up to FlushWorkers goroutines. Assemble reads the
// segments back in index order.
//
// # Fault Tolerance
//
// A malformed location line is fatal. Adjacency problems are not: blank
// lines, lines without a matching node and bad tokens are counted and
// skipped without affecting other lines. Spill and assembly failures are
// fatal; the run removes the segments it wrote before returning.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/geograph/services/geograph/graph"
	"github.com/AleutianAI/geograph/services/geograph/spill"
)

// IngestStats contains statistics about an ingestion run.
type IngestStats struct {
	// Nodes is the number of nodes, one per location line.
	Nodes int

	// Lines is the number of adjacency lines read.
	Lines int

	// Edges is the number of edges in the graph.
	Edges int

	// Segments is the number of spill segments written.
	Segments int

	// BlankLines counts empty or whitespace-only adjacency lines.
	BlankLines int

	// OutOfRangeSources counts adjacency lines past the last node.
	OutOfRangeSources int

	// EmptyRecords counts lines with content but no accepted token.
	EmptyRecords int

	// Dropped token counts by cause.
	MalformedTokens  int
	OutOfRangeTokens int
	SelfLoopTokens   int
	DuplicateTokens  int

	// Phase durations.
	LocationDuration time.Duration
	ScanDuration     time.Duration
	AssembleDuration time.Duration
	TotalDuration    time.Duration
}

// SkippedLines returns the number of adjacency lines that produced no edges.
func (s IngestStats) SkippedLines() int {
	return s.BlankLines + s.OutOfRangeSources + s.EmptyRecords
}

// DroppedTokens returns the number of destination tokens dropped.
func (s IngestStats) DroppedTokens() int {
	return s.MalformedTokens + s.OutOfRangeTokens + s.SelfLoopTokens + s.DuplicateTokens
}

// IngestResult is the outcome of a successful ingestion.
type IngestResult struct {
	// RunID identifies the run in logs.
	RunID string

	// Graph is the assembled graph.
	Graph *graph.Graph

	// Stats holds counters and timings.
	Stats IngestStats

	// Skipped lists lines that produced no edges, up to MaxRecordedSkips.
	Skipped []SkippedRecord

	// Warnings lists spill segments that could not be removed.
	Warnings []CleanupWarning
}

// Ingester runs the ingestion pipeline.
//
// The ingester holds only configuration and can be reused. Each run
// opens its own spill store.
//
// Thread Safety:
//
//	Ingester is safe for concurrent use. Runs are independent.
type Ingester struct {
	options Options
}

// NewIngester creates an Ingester with the given options.
//
// Example:
//
//	in := NewIngester(
//	    WithSpillThreshold(1_000_000),
//	    WithSpillOptions(spill.Options{Backend: spill.BackendBadger}),
//	)
func NewIngester(opts ...Option) *Ingester {
	return &Ingester{options: resolve(opts)}
}

// Options returns the resolved options.
func (in *Ingester) Options() Options {
	return in.options
}

// Ingest builds a graph from a location file and an adjacency file.
//
// Description:
//
//	Loads every location, then streams the adjacency file through the
//	parser and accumulator, and assembles the graph from the spill
//	segments.
//
// Inputs:
//
//	ctx - Context for cancellation and tracing.
//	locationPath - The location source.
//	adjacencyPath - The adjacency source.
//
// Outputs:
//
//	*IngestResult - The graph with statistics and non-fatal findings.
//	error - *MalformedInputError, *spill.WriteError, *GraphAssemblyError,
//	an I/O error, or the context error.
func (in *Ingester) Ingest(ctx context.Context, locationPath, adjacencyPath string) (*IngestResult, error) {
	start := time.Now()
	locations, err := LoadLocations(ctx, locationPath, in.withOptions()...)
	if err != nil {
		recordIngestMetrics(ctx, time.Since(start), nil, false)
		return nil, err
	}
	locationDuration := time.Since(start)

	f, err := os.Open(adjacencyPath)
	if err != nil {
		recordIngestMetrics(ctx, time.Since(start), nil, false)
		return nil, fmt.Errorf("open adjacency source: %w", err)
	}
	defer f.Close()

	res, err := in.IngestReader(ctx, locations, f, adjacencyPath)
	if err != nil {
		return nil, err
	}
	res.Stats.LocationDuration = locationDuration
	res.Stats.TotalDuration = time.Since(start)
	return res, nil
}

// withOptions re-expresses the resolved options for LoadLocations.
func (in *Ingester) withOptions() []Option {
	return []Option{WithDelimiter(in.options.Delimiter), WithLogger(in.options.Logger)}
}

// IngestReader builds a graph from loaded locations and an adjacency stream.
//
// Inputs:
//
//	ctx - Context for cancellation and tracing.
//	locations - Node locations. Ownership transfers to the result Graph.
//	adjacency - The adjacency source.
//	name - Source name for logs and errors.
//
// Outputs:
//
//	*IngestResult - As for Ingest, without LocationDuration.
//	error - As for Ingest.
func (in *Ingester) IngestReader(ctx context.Context, locations *graph.Locations, adjacency io.Reader, name string) (*IngestResult, error) {
	start := time.Now()
	opts := in.options

	if err := locations.Validate(); err != nil {
		return nil, fmt.Errorf("locations: %w", err)
	}

	store, err := opts.StoreFactory()
	if err != nil {
		recordIngestMetrics(ctx, time.Since(start), nil, false)
		return nil, fmt.Errorf("open spill store: %w", err)
	}

	ctx, span := startIngestSpan(ctx, name, opts.SpillThreshold, store.Name())
	defer span.End()

	res := &IngestResult{
		RunID: uuid.NewString(),
		Stats: IngestStats{Nodes: locations.Len()},
	}
	logger := loggerWithTrace(ctx, opts.Logger).With(slog.String("run_id", res.RunID))

	logger.Info("ingestion started",
		slog.String("source", name),
		slog.Int("nodes", locations.Len()),
		slog.Int("spill_threshold", opts.SpillThreshold),
		slog.String("spill_store", store.Name()),
	)

	fail := func(err error) (*IngestResult, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ingestion failed")
		recordIngestMetrics(ctx, time.Since(start), &res.Stats, false)
		logger.Error("ingestion failed", slog.String("error", err.Error()))
		return nil, err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("spill store close failed", slog.String("error", err.Error()))
		}
	}()

	acc := NewAccumulator(ctx, store, opts.SpillThreshold, opts.FlushWorkers, logger)
	acc.onFlush = func(seg spill.Segment, d time.Duration) {
		recordFlushMetrics(ctx, store.Name(), d)
	}
	discard := func() {
		if err := acc.Discard(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("spill segments left behind", slog.String("error", err.Error()))
		}
	}

	scanStart := time.Now()
	if err := in.scan(ctx, adjacency, name, locations.Len(), acc, res); err != nil {
		discard()
		return fail(err)
	}
	segments, err := acc.Finish()
	if err != nil {
		discard()
		return fail(err)
	}
	res.Stats.ScanDuration = time.Since(scanStart)
	res.Stats.Segments = len(segments)

	assembled, err := Assemble(ctx, store, segments, locations, logger)
	if err != nil {
		discard()
		return fail(err)
	}
	res.Graph = assembled.Graph
	res.Warnings = assembled.Warnings
	res.Stats.Edges = assembled.Graph.EdgeCount()
	res.Stats.AssembleDuration = assembled.Duration
	res.Stats.TotalDuration = time.Since(start)

	setIngestSpanResult(span, &res.Stats)
	recordIngestMetrics(ctx, res.Stats.TotalDuration, &res.Stats, true)

	logger.Info("ingestion complete",
		slog.Int("nodes", res.Stats.Nodes),
		slog.Int("edges", res.Stats.Edges),
		slog.Int("lines", res.Stats.Lines),
		slog.Int("segments", res.Stats.Segments),
		slog.Int("skipped_lines", res.Stats.SkippedLines()),
		slog.Int("dropped_tokens", res.Stats.DroppedTokens()),
		slog.Int("cleanup_warnings", len(res.Warnings)),
		slog.Duration("scan_duration", res.Stats.ScanDuration),
		slog.Duration("assemble_duration", res.Stats.AssembleDuration),
	)
	return res, nil
}

// scan runs the producer and consumer stages until the adjacency source
// is exhausted or a stage fails.
func (in *Ingester) scan(
	ctx context.Context,
	r io.Reader,
	name string,
	numNodes int,
	acc *Accumulator,
	res *IngestResult,
) error {
	opts := in.options
	g, gctx := errgroup.WithContext(ctx)
	batches := make(chan []LineResult, opts.QueueDepth)

	// Producer: read and parse lines in order.
	g.Go(func() error {
		defer close(batches)

		parser := NewParser(numNodes, opts.Delimiter)
		lr := newLineReader(r)
		batch := make([]LineResult, 0, opts.BatchLines)

		send := func() error {
			select {
			case batches <- batch:
				batch = make([]LineResult, 0, opts.BatchLines)
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		}

		for {
			text, line, err := lr.next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return fmt.Errorf("read %s at line %d: %w", name, line+1, err)
			}
			// Skipped lines never reach the accumulator, so the
			// producer watches for cancellation itself.
			if line%ctxCheckInterval == 0 {
				if err := gctx.Err(); err != nil {
					return err
				}
			}
			batch = append(batch, parser.Parse(line, text))
			if len(batch) == opts.BatchLines {
				if err := send(); err != nil {
					return err
				}
			}
		}
		if len(batch) > 0 {
			return send()
		}
		return nil
	})

	// Consumer: feed records to the accumulator in line order.
	g.Go(func() error {
		for batch := range batches {
			for i := range batch {
				if err := in.consume(&batch[i], acc, res); err != nil {
					return err
				}
			}
		}
		in.reportProgress(acc, res)
		return nil
	})

	return g.Wait()
}

// consume applies one parsed line to the accumulator and the statistics.
func (in *Ingester) consume(rec *LineResult, acc *Accumulator, res *IngestResult) error {
	stats := &res.Stats
	stats.Lines++
	stats.MalformedTokens += rec.Malformed
	stats.OutOfRangeTokens += rec.OutOfRange
	stats.SelfLoopTokens += rec.SelfLoops
	stats.DuplicateTokens += rec.Duplicates

	switch rec.Skip {
	case SkipNone:
		if err := acc.Add(rec.Src, rec.Dsts); err != nil {
			return err
		}
	case SkipBlank:
		stats.BlankLines++
	case SkipSourceOutOfRange:
		stats.OutOfRangeSources++
	case SkipNoValidTokens:
		stats.EmptyRecords++
	}
	if rec.Skip != SkipNone {
		if limit := in.options.MaxRecordedSkips; limit < 0 || len(res.Skipped) < limit {
			res.Skipped = append(res.Skipped, SkippedRecord{Line: rec.Line, Reason: rec.Skip})
		}
	}

	if stats.Lines%in.options.ProgressEvery == 0 {
		in.reportProgress(acc, res)
	}
	return nil
}

func (in *Ingester) reportProgress(acc *Accumulator, res *IngestResult) {
	if in.options.ProgressCallback == nil {
		return
	}
	in.options.ProgressCallback(Progress{
		Lines:    res.Stats.Lines,
		Edges:    acc.Edges(),
		Segments: acc.Flushed(),
	})
}
