// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stats

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/geograph/services/geograph/graph"
)

// star has node 0 pointing at nodes 1-4 and an isolated node 5.
func star(t *testing.T) *graph.Graph {
	t.Helper()
	locs := graph.NewLocations(6)
	for i := 0; i < 6; i++ {
		locs.Append(float64(i), float64(-i))
	}
	g, err := graph.New(locs, []graph.Edge{
		{Src: 0, Dst: 1}, {Src: 0, Dst: 2}, {Src: 0, Dst: 3}, {Src: 0, Dst: 4},
	})
	require.NoError(t, err)
	return g
}

func TestSummarize_Star(t *testing.T) {
	s := Summarize(star(t))

	assert.Equal(t, 6, s.Nodes)
	assert.Equal(t, 4, s.Edges)
	assert.Equal(t, 1, s.Isolated)

	assert.Equal(t, 0, s.Out.Min)
	assert.Equal(t, 4, s.Out.Max)
	assert.InDelta(t, 4.0/6.0, s.Out.Mean, 1e-12)
	assert.InDelta(t, math.Sqrt(24.0/9.0), s.Out.StdDev, 1e-12)
	assert.Equal(t, 0.0, s.Out.Median)
	assert.Equal(t, 4.0, s.Out.P99)

	assert.Equal(t, 0, s.In.Min)
	assert.Equal(t, 1, s.In.Max)
	assert.Equal(t, 1.0, s.In.Median)

	assert.Equal(t, 0, s.Total.Min)
	assert.Equal(t, 4, s.Total.Max)
	assert.InDelta(t, 8.0/6.0, s.Total.Mean, 1e-12)
}

func TestSummarize_Regular(t *testing.T) {
	locs := graph.LocationsFrom([]graph.Location{{}, {Lat: 1}, {Lat: 2}})
	g, err := graph.New(locs, []graph.Edge{
		{Src: 0, Dst: 1}, {Src: 0, Dst: 2},
		{Src: 1, Dst: 0}, {Src: 1, Dst: 2},
		{Src: 2, Dst: 0}, {Src: 2, Dst: 1},
	})
	require.NoError(t, err)

	s := Summarize(g)
	want := DegreeSummary{Min: 2, Max: 2, Mean: 2, StdDev: 0, Median: 2, P99: 2}
	assert.Equal(t, want, s.Out)
	assert.Equal(t, want, s.In)
	assert.Equal(t, 0, s.Isolated)
}

func TestSummarize_Degenerate(t *testing.T) {
	empty, err := graph.New(graph.NewLocations(0), nil)
	require.NoError(t, err)
	assert.Equal(t, Summary{}, Summarize(empty))

	single, err := graph.New(graph.LocationsFrom([]graph.Location{{Lat: 1, Lon: 2}}), nil)
	require.NoError(t, err)
	s := Summarize(single)
	assert.Equal(t, 1, s.Isolated)
	assert.Equal(t, 0.0, s.Out.StdDev, "no NaN for a single node")
}

func TestSampleRandom(t *testing.T) {
	g := star(t)

	a := SampleRandom(g, 3, rand.New(rand.NewPCG(1, 2)))
	b := SampleRandom(g, 3, rand.New(rand.NewPCG(1, 2)))
	require.Len(t, a, 3)
	assert.Equal(t, a, b, "same seed, same sample")

	for i := 1; i < len(a); i++ {
		assert.Less(t, a[i-1].ID, a[i].ID)
	}
	for _, s := range a {
		assert.Equal(t, g.Location(s.ID), s.Location)
		assert.Equal(t, g.OutDegree(s.ID), s.OutDegree)
		assert.Equal(t, g.InDegree(s.ID), s.InDegree)
	}

	all := SampleRandom(g, 100, rand.New(rand.NewPCG(3, 4)))
	require.Len(t, all, 6)
	for i, s := range all {
		assert.Equal(t, graph.NodeID(i), s.ID)
	}

	assert.Nil(t, SampleRandom(g, 0, rand.New(rand.NewPCG(1, 1))))
}

func TestSampleEnds(t *testing.T) {
	g := star(t)

	ids := func(samples []NodeSample) []graph.NodeID {
		out := make([]graph.NodeID, len(samples))
		for i, s := range samples {
			out[i] = s.ID
		}
		return out
	}

	assert.Equal(t, []graph.NodeID{0, 1, 4, 5}, ids(SampleEnds(g, 2)))
	assert.Equal(t, []graph.NodeID{0, 1, 2, 3, 4, 5}, ids(SampleEnds(g, 4)))
	assert.Equal(t, []graph.NodeID{0, 1, 2, 3, 4, 5}, ids(SampleEnds(g, 50)))
	assert.Nil(t, SampleEnds(g, 0))

	first := SampleEnds(g, 1)[0]
	assert.Equal(t, []graph.NodeID{1, 2, 3, 4}, first.Successors)

	// Samples hold copies, not views into the graph.
	first.Successors[0] = 99
	assert.Equal(t, graph.NodeID(1), g.Successors(0)[0])
}
