// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"fmt"
	"sync"
)

// Graph is a directed graph over dense node ids with per-node locations.
//
// Edge order is the order in which edges were handed to New. Ingestion
// produces a reproducible order for identical input and spill threshold.
//
// Duplicate (src, dst) pairs are allowed when they come from different
// adjacency records; Graph never deduplicates.
type Graph struct {
	locations *Locations
	edges     []Edge

	indexOnce sync.Once
	offsets   []int    // len VertexCount()+1, CSR row starts by source
	targets   []NodeID // destinations grouped by source, edge order kept
	inDegree  []uint32
}

// New builds a Graph after validating every invariant.
//
// Description:
//
//	Checks that the location columns are consistent and finite, that the
//	node count fits NodeID, and that every edge has both endpoints in
//	[0, VertexCount()) and is not a self-loop.
//
// Inputs:
//
//	locations - Node coordinates. Ownership transfers to the Graph.
//	edges - Edge sequence. Ownership transfers to the Graph. May be nil.
//
// Outputs:
//
//	*Graph - The validated graph.
//	error - Non-nil if any invariant is violated. Wraps ErrNilLocations,
//	ErrLocationMismatch, ErrTooManyNodes, ErrNonFiniteLocation,
//	ErrNodeOutOfRange or ErrSelfLoop.
func New(locations *Locations, edges []Edge) (*Graph, error) {
	if err := locations.Validate(); err != nil {
		return nil, err
	}
	if err := ValidateEdges(edges, locations.Len()); err != nil {
		return nil, err
	}
	return &Graph{locations: locations, edges: edges}, nil
}

// ValidateEdges checks every edge against a node count.
//
// The error names the first offending edge by position.
func ValidateEdges(edges []Edge, numNodes int) error {
	n := uint64(numNodes)
	for i, e := range edges {
		if uint64(e.Src) >= n || uint64(e.Dst) >= n {
			return fmt.Errorf("edge %d (%s) with %d nodes: %w", i, e, numNodes, ErrNodeOutOfRange)
		}
		if e.Src == e.Dst {
			return fmt.Errorf("edge %d (%s): %w", i, e, ErrSelfLoop)
		}
	}
	return nil
}

// VertexCount returns the number of nodes.
func (g *Graph) VertexCount() int {
	return g.locations.Len()
}

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int {
	return len(g.edges)
}

// HasNode reports whether id is a valid node id.
func (g *Graph) HasNode(id NodeID) bool {
	return int(id) < g.VertexCount()
}

// Location returns the coordinate of node id. It panics if id is out of
// range.
func (g *Graph) Location(id NodeID) Location {
	return g.locations.At(id)
}

// Locations returns the location array. Read-only.
func (g *Graph) Locations() *Locations {
	return g.locations
}

// Edges returns the edge sequence. Read-only.
func (g *Graph) Edges() []Edge {
	return g.edges
}

// OutDegree returns the number of outgoing edges of id, or 0 if id is not
// a node.
//
// Complexity: O(1) after the first degree query, which builds the index
// in O(V + E).
func (g *Graph) OutDegree(id NodeID) int {
	if !g.HasNode(id) {
		return 0
	}
	g.buildIndex()
	return g.offsets[id+1] - g.offsets[id]
}

// InDegree returns the number of incoming edges of id, or 0 if id is not
// a node.
func (g *Graph) InDegree(id NodeID) int {
	if !g.HasNode(id) {
		return 0
	}
	g.buildIndex()
	return int(g.inDegree[id])
}

// Successors returns the destinations of id's outgoing edges in edge
// order, or nil if id is not a node. The slice is a read-only view.
func (g *Graph) Successors(id NodeID) []NodeID {
	if !g.HasNode(id) {
		return nil
	}
	g.buildIndex()
	start, end := g.offsets[id], g.offsets[id+1]
	return g.targets[start:end:end]
}

// buildIndex computes the CSR adjacency index and in-degree counts once.
//
// A stable counting sort by source keeps each node's destinations in the
// order the edges appear in the graph.
func (g *Graph) buildIndex() {
	g.indexOnce.Do(func() {
		n := g.VertexCount()
		offsets := make([]int, n+1)
		inDegree := make([]uint32, n)
		for _, e := range g.edges {
			offsets[e.Src+1]++
			inDegree[e.Dst]++
		}
		for i := 1; i <= n; i++ {
			offsets[i] += offsets[i-1]
		}

		targets := make([]NodeID, len(g.edges))
		cursor := make([]int, n)
		copy(cursor, offsets[:n])
		for _, e := range g.edges {
			targets[cursor[e.Src]] = e.Dst
			cursor[e.Src]++
		}

		g.offsets = offsets
		g.targets = targets
		g.inDegree = inDegree
	})
}
