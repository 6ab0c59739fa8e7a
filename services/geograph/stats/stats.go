// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stats summarizes a graph's degree distribution and samples nodes.
//
// Everything here is read-only over a *graph.Graph and safe to call from
// several goroutines. Results are plain data; presentation is left to the
// caller.
package stats

import (
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/AleutianAI/geograph/services/geograph/graph"
)

// DegreeSummary describes one degree distribution.
type DegreeSummary struct {
	Min    int
	Max    int
	Mean   float64
	StdDev float64
	Median float64
	P99    float64
}

// Summary describes a graph.
type Summary struct {
	Nodes int
	Edges int

	// Out, In and Total summarize out-degree, in-degree and their sum.
	Out   DegreeSummary
	In    DegreeSummary
	Total DegreeSummary

	// Isolated counts nodes with no incoming or outgoing edge.
	Isolated int
}

// Summarize computes vertex and edge counts and degree statistics.
//
// Description:
//
//	Builds the graph's degree index if needed, then summarizes the
//	out-, in- and total degree of every node. StdDev is the unbiased
//	sample standard deviation; Median and P99 use the empirical
//	quantile. An empty graph yields zero values.
//
// Complexity: O(V log V + E).
func Summarize(g *graph.Graph) Summary {
	n := g.VertexCount()
	s := Summary{Nodes: n, Edges: g.EdgeCount()}
	if n == 0 {
		return s
	}

	out := make([]float64, n)
	in := make([]float64, n)
	total := make([]float64, n)
	for i := 0; i < n; i++ {
		id := graph.NodeID(i)
		o, d := g.OutDegree(id), g.InDegree(id)
		out[i] = float64(o)
		in[i] = float64(d)
		total[i] = float64(o + d)
		if o+d == 0 {
			s.Isolated++
		}
	}

	s.Out = summarizeDegrees(out)
	s.In = summarizeDegrees(in)
	s.Total = summarizeDegrees(total)
	return s
}

// summarizeDegrees sorts x in place and summarizes it. x must not be empty.
func summarizeDegrees(x []float64) DegreeSummary {
	slices.Sort(x)
	mean, std := stat.MeanStdDev(x, nil)
	if len(x) < 2 {
		std = 0
	}
	return DegreeSummary{
		Min:    int(floats.Min(x)),
		Max:    int(floats.Max(x)),
		Mean:   mean,
		StdDev: std,
		Median: stat.Quantile(0.5, stat.Empirical, x, nil),
		P99:    stat.Quantile(0.99, stat.Empirical, x, nil),
	}
}

// NodeSample describes one node for inspection.
type NodeSample struct {
	ID         graph.NodeID
	Location   graph.Location
	OutDegree  int
	InDegree   int
	Successors []graph.NodeID
}

func sample(g *graph.Graph, id graph.NodeID) NodeSample {
	return NodeSample{
		ID:         id,
		Location:   g.Location(id),
		OutDegree:  g.OutDegree(id),
		InDegree:   g.InDegree(id),
		Successors: slices.Clone(g.Successors(id)),
	}
}

// SampleRandom returns up to n distinct nodes chosen uniformly at random,
// ordered by id. The same rng state yields the same sample.
func SampleRandom(g *graph.Graph, n int, rng *rand.Rand) []NodeSample {
	v := g.VertexCount()
	n = min(n, v)
	if n <= 0 {
		return nil
	}

	// Floyd's algorithm: n draws, no O(V) permutation.
	chosen := make(map[int]struct{}, n)
	for j := v - n; j < v; j++ {
		t := rng.IntN(j + 1)
		if _, ok := chosen[t]; ok {
			t = j
		}
		chosen[t] = struct{}{}
	}

	ids := make([]int, 0, n)
	for id := range chosen {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	out := make([]NodeSample, len(ids))
	for i, id := range ids {
		out[i] = sample(g, graph.NodeID(id))
	}
	return out
}

// SampleEnds returns the first n and the last n nodes by id. Nodes are
// not repeated when the two ranges overlap.
func SampleEnds(g *graph.Graph, n int) []NodeSample {
	v := g.VertexCount()
	if n <= 0 || v == 0 {
		return nil
	}

	head := min(n, v)
	tail := max(v-n, head)
	out := make([]NodeSample, 0, head+v-tail)
	for id := 0; id < head; id++ {
		out = append(out, sample(g, graph.NodeID(id)))
	}
	for id := tail; id < v; id++ {
		out = append(out, sample(g, graph.NodeID(id)))
	}
	return out
}
