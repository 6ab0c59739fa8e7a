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
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/geograph/services/geograph/graph"
	"github.com/AleutianAI/geograph/services/geograph/spill"
)

// maxInitialBuffer caps the up-front buffer allocation in edges.
const maxInitialBuffer = 1 << 20

// Accumulator buffers edges and flushes them to spill segments.
//
// Description:
//
//	Edges are appended record by record. After each record, a buffer
//	holding at least threshold edges is handed to a flush goroutine and
//	a new buffer is started. The segment index is assigned at hand-off,
//	so indices follow input order even when flushes finish out of order.
//	At most workers flushes run at once; Add blocks while the limit is
//	reached, which bounds the number of full buffers in memory.
//
// Thread Safety:
//
//	Add, Finish and Discard must be called from one goroutine. Flushes
//	run concurrently with Add.
type Accumulator struct {
	store     spill.Store
	threshold int
	logger    *slog.Logger
	onFlush   func(seg spill.Segment, d time.Duration)

	// ctx is the caller's context. gctx is also cancelled once the group
	// has been waited on, so only ctx signals cancellation.
	ctx   context.Context
	group *errgroup.Group
	gctx  context.Context

	buf      []graph.Edge
	next     int
	edges    int
	finished bool

	mu       sync.Mutex
	segments []spill.Segment
	failed   error
}

// NewAccumulator creates an accumulator writing to store.
//
// Inputs:
//
//	ctx - Parent context for every flush. Cancelling it fails pending writes.
//	store - Destination of the segments. Not closed by the accumulator.
//	threshold - Buffered edge count that triggers a flush. Must be > 0.
//	workers - Maximum concurrent flushes. Values < 1 mean 1.
//	logger - May be nil.
func NewAccumulator(ctx context.Context, store spill.Store, threshold, workers int, logger *slog.Logger) *Accumulator {
	if threshold <= 0 {
		threshold = DefaultSpillThreshold
	}
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	return &Accumulator{
		store:     store,
		threshold: threshold,
		logger:    logger,
		ctx:       ctx,
		group:     g,
		gctx:      gctx,
	}
}

// Add appends the edges of one record and flushes if the buffer reached
// the threshold.
//
// Outputs:
//
//	error - The first flush failure (a *spill.WriteError) or the context
//	error. Once Add fails the accumulator must be discarded.
func (a *Accumulator) Add(src graph.NodeID, dsts []graph.NodeID) error {
	if err := a.failure(); err != nil {
		return err
	}
	if len(dsts) == 0 {
		return nil
	}
	if a.buf == nil {
		a.buf = make([]graph.Edge, 0, min(a.threshold, maxInitialBuffer))
	}
	for _, dst := range dsts {
		a.buf = append(a.buf, graph.Edge{Src: src, Dst: dst})
	}
	a.edges += len(dsts)

	if len(a.buf) >= a.threshold {
		a.flush()
	}
	return nil
}

// Edges returns the number of edges added so far.
func (a *Accumulator) Edges() int {
	return a.edges
}

// Flushed returns the number of segments handed to the store so far.
func (a *Accumulator) Flushed() int {
	return a.next
}

// failure returns the first flush error or the caller's context error.
func (a *Accumulator) failure() error {
	a.mu.Lock()
	err := a.failed
	a.mu.Unlock()
	if err != nil {
		return err
	}
	return a.ctx.Err()
}

// flush hands the current buffer to a worker. Blocks while every worker
// is busy.
func (a *Accumulator) flush() {
	edges := a.buf
	index := a.next
	a.next++
	a.buf = nil

	a.group.Go(func() error {
		start := time.Now()
		seg, err := a.store.Write(a.gctx, index, edges)
		if err != nil {
			a.mu.Lock()
			if a.failed == nil {
				a.failed = err
			}
			a.mu.Unlock()
			return err
		}

		a.mu.Lock()
		a.segments = append(a.segments, seg)
		a.mu.Unlock()

		elapsed := time.Since(start)
		a.logger.Debug("spill segment written",
			slog.Int("segment", index),
			slog.Int("edges", len(edges)),
			slog.String("store", a.store.Name()),
			slog.Duration("duration", elapsed),
		)
		if a.onFlush != nil {
			a.onFlush(seg, elapsed)
		}
		return nil
	})
}

// Finish flushes the remaining edges and waits for every flush.
//
// Outputs:
//
//	[]spill.Segment - All segments sorted by index. Empty when no edges
//	were added; an empty tail never produces a segment.
//	error - The first flush failure.
func (a *Accumulator) Finish() ([]spill.Segment, error) {
	if a.finished {
		return nil, errors.New("accumulator already finished")
	}
	a.finished = true

	if err := a.failure(); err == nil && len(a.buf) > 0 {
		a.flush()
	}
	if err := a.group.Wait(); err != nil {
		return nil, err
	}
	if err := a.failure(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	segments := slices.Clone(a.segments)
	a.mu.Unlock()
	slices.SortFunc(segments, func(x, y spill.Segment) int {
		return x.Index - y.Index
	})
	return segments, nil
}

// Discard waits for running flushes and removes every written segment.
//
// Removal is best effort. The returned error joins every removal failure;
// segments that could not be removed remain as orphans.
func (a *Accumulator) Discard(ctx context.Context) error {
	a.finished = true
	a.buf = nil
	_ = a.group.Wait()

	a.mu.Lock()
	segments := a.segments
	a.segments = nil
	a.mu.Unlock()

	var errs []error
	for _, seg := range segments {
		if err := a.store.Remove(ctx, seg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
