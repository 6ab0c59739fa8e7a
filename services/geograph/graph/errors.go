// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph provides the directed, geolocated graph produced by ingestion.
//
// Nodes are dense zero-based integer ids assigned by position in the
// location source. Each node carries a latitude/longitude pair. Edges are
// ordered (src, dst) pairs with no self-loops.
//
// # Ownership Model
//
// A Graph takes ownership of the Locations and edge slice passed to New.
// Callers MUST NOT mutate either after construction. Accessors such as
// Edges() and Successors() return views into internal storage and are
// read-only by contract.
//
// # Thread Safety
//
// A Graph is immutable after New returns. The degree index is built
// lazily exactly once, so any number of goroutines may query a Graph
// concurrently.
package graph

import "errors"

// Sentinel errors for graph construction and validation.
var (
	// ErrNilLocations is returned when a graph is constructed without a
	// location array.
	ErrNilLocations = errors.New("locations must not be nil")

	// ErrLocationMismatch is returned when the latitude and longitude
	// columns of a Locations value have different lengths.
	ErrLocationMismatch = errors.New("latitude and longitude counts differ")

	// ErrTooManyNodes is returned when the node count exceeds what a
	// NodeID can address.
	ErrTooManyNodes = errors.New("node count exceeds NodeID range")

	// ErrNodeOutOfRange is returned when an edge endpoint is not a valid
	// node id for the graph.
	ErrNodeOutOfRange = errors.New("edge endpoint out of range")

	// ErrSelfLoop is returned when an edge connects a node to itself.
	ErrSelfLoop = errors.New("self-loop edge")

	// ErrNonFiniteLocation is returned when a coordinate is NaN or infinite.
	ErrNonFiniteLocation = errors.New("location is not finite")
)
