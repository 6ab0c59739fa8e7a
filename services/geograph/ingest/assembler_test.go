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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/geograph/services/geograph/graph"
	"github.com/AleutianAI/geograph/services/geograph/spill"
)

func scenarioLocationsValue() *graph.Locations {
	return graph.LocationsFrom([]graph.Location{{Lat: 0, Lon: 0}, {Lat: 1, Lon: 1}, {Lat: 2, Lon: 2}})
}

// writeSegments stores edges as consecutive segments of size per.
func writeSegments(t *testing.T, store spill.Store, edges []graph.Edge, per int) []spill.Segment {
	t.Helper()
	var segments []spill.Segment
	for i := 0; i*per < len(edges); i++ {
		end := min((i+1)*per, len(edges))
		seg, err := store.Write(context.Background(), i, edges[i*per:end])
		require.NoError(t, err)
		segments = append(segments, seg)
	}
	return segments
}

func TestAssemble_ConcatenatesInOrder(t *testing.T) {
	store := newFaultyStore(t)
	segments := writeSegments(t, store, scenarioEdges, 4)
	require.Len(t, segments, 2)

	res, err := Assemble(context.Background(), store, segments, scenarioLocationsValue(), nil)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Graph.VertexCount())
	assert.Equal(t, scenarioEdges, res.Graph.Edges())
	assert.Empty(t, res.Warnings)

	_, removed := store.counts()
	assert.Equal(t, 2, removed, "segments are removed after assembly")
}

func TestAssemble_NoSegments(t *testing.T) {
	res, err := Assemble(context.Background(), newFaultyStore(t), nil, scenarioLocationsValue(), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Graph.VertexCount())
	assert.Equal(t, 0, res.Graph.EdgeCount())
}

func TestAssemble_RejectsOutOfOrderSegments(t *testing.T) {
	store := newFaultyStore(t)
	segments := writeSegments(t, store, scenarioEdges, 2)
	segments[0], segments[1] = segments[1], segments[0]

	_, err := Assemble(context.Background(), store, segments, scenarioLocationsValue(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGraphAssembly)
	assert.ErrorIs(t, err, ErrSegmentOrder)
}

func TestAssemble_MissingSegment(t *testing.T) {
	store := newFaultyStore(t)
	segments := writeSegments(t, store, scenarioEdges, 2)
	require.NoError(t, store.Store.Remove(context.Background(), segments[1]))

	res, err := Assemble(context.Background(), store, segments, scenarioLocationsValue(), nil)
	require.Error(t, err)
	assert.Nil(t, res, "no partial graph")
	assert.ErrorIs(t, err, ErrGraphAssembly)
	assert.ErrorIs(t, err, spill.ErrSpillRead)
	assert.ErrorIs(t, err, spill.ErrSegmentNotFound)

	var asmErr *GraphAssemblyError
	require.True(t, errors.As(err, &asmErr))
	assert.Equal(t, 1, asmErr.Segment)
}

func TestAssemble_CorruptSegment(t *testing.T) {
	store := newFaultyStore(t)
	segments := writeSegments(t, store, scenarioEdges, 3)
	store.failRead = true

	_, err := Assemble(context.Background(), store, segments, scenarioLocationsValue(), nil)
	assert.ErrorIs(t, err, ErrGraphAssembly)
	assert.ErrorIs(t, err, spill.ErrSegmentCorrupt)
}

func TestAssemble_RejectsInvalidEdges(t *testing.T) {
	store := newFaultyStore(t)
	edges := []graph.Edge{{Src: 0, Dst: 1}, {Src: 1, Dst: 7}}
	segments := writeSegments(t, store, edges, 1)

	_, err := Assemble(context.Background(), store, segments, scenarioLocationsValue(), nil)
	assert.ErrorIs(t, err, ErrGraphAssembly)
	assert.ErrorIs(t, err, graph.ErrNodeOutOfRange)

	var asmErr *GraphAssemblyError
	require.True(t, errors.As(err, &asmErr))
	assert.Equal(t, 1, asmErr.Segment)
}

func TestAssemble_CleanupFailureIsWarning(t *testing.T) {
	store := newFaultyStore(t)
	segments := writeSegments(t, store, scenarioEdges, 2)
	store.failRemove = true
	logger, logs := captureLogger()

	res, err := Assemble(context.Background(), store, segments, scenarioLocationsValue(), logger)
	require.NoError(t, err, "cleanup failure never fails assembly")

	assert.Equal(t, 6, res.Graph.EdgeCount())
	require.Len(t, res.Warnings, 3)
	for i, w := range res.Warnings {
		assert.Equal(t, i, w.Segment)
		assert.Error(t, w.Err)
		assert.Contains(t, w.String(), "not removed")
	}
	assert.Contains(t, logs.String(), `"level":"WARN"`)
	assert.Contains(t, logs.String(), "spill segment cleanup failed")
}
