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
	"math"
)

// NodeID identifies a node by its zero-based position in the location source.
type NodeID uint32

// MaxNodes is the largest node count a Graph can hold.
const MaxNodes = math.MaxUint32

// Location is a geographic coordinate.
type Location struct {
	Lat float64
	Lon float64
}

// IsFinite reports whether both coordinates are finite numbers.
func (l Location) IsFinite() bool {
	return !math.IsNaN(l.Lat) && !math.IsInf(l.Lat, 0) &&
		!math.IsNaN(l.Lon) && !math.IsInf(l.Lon, 0)
}

// String returns "(lat, lon)".
func (l Location) String() string {
	return fmt.Sprintf("(%g, %g)", l.Lat, l.Lon)
}

// Edge is a directed edge from Src to Dst.
type Edge struct {
	Src NodeID
	Dst NodeID
}

// String returns "src->dst".
func (e Edge) String() string {
	return fmt.Sprintf("%d->%d", e.Src, e.Dst)
}

// Locations stores node coordinates as two parallel columns indexed by
// NodeID.
//
// The column layout avoids a heap object per node, which matters at tens
// of millions of nodes. Lat and Lon always have equal length once
// validated.
type Locations struct {
	Lat []float64
	Lon []float64
}

// NewLocations returns an empty Locations with room for capacity nodes.
func NewLocations(capacity int) *Locations {
	if capacity < 0 {
		capacity = 0
	}
	return &Locations{
		Lat: make([]float64, 0, capacity),
		Lon: make([]float64, 0, capacity),
	}
}

// LocationsFrom builds a Locations from a slice of coordinates.
func LocationsFrom(points []Location) *Locations {
	l := NewLocations(len(points))
	for _, p := range points {
		l.Append(p.Lat, p.Lon)
	}
	return l
}

// Append adds the coordinate of the next node.
func (l *Locations) Append(lat, lon float64) {
	l.Lat = append(l.Lat, lat)
	l.Lon = append(l.Lon, lon)
}

// Len returns the number of nodes.
func (l *Locations) Len() int {
	if l == nil {
		return 0
	}
	return len(l.Lat)
}

// At returns the coordinate of node id. It panics if id is out of range,
// like a slice index.
func (l *Locations) At(id NodeID) Location {
	return Location{Lat: l.Lat[id], Lon: l.Lon[id]}
}

// Equal reports whether both arrays hold the same coordinates bit for bit.
func (l *Locations) Equal(other *Locations) bool {
	if l.Len() != other.Len() {
		return false
	}
	for i := range l.Lat {
		if math.Float64bits(l.Lat[i]) != math.Float64bits(other.Lat[i]) ||
			math.Float64bits(l.Lon[i]) != math.Float64bits(other.Lon[i]) {
			return false
		}
	}
	return true
}

// Validate checks column lengths, the NodeID range and that every
// coordinate is finite.
func (l *Locations) Validate() error {
	if l == nil {
		return ErrNilLocations
	}
	if len(l.Lat) != len(l.Lon) {
		return fmt.Errorf("%w: %d latitudes, %d longitudes", ErrLocationMismatch, len(l.Lat), len(l.Lon))
	}
	if uint64(len(l.Lat)) > MaxNodes {
		return fmt.Errorf("%w: %d", ErrTooManyNodes, len(l.Lat))
	}
	for i := range l.Lat {
		if !(Location{Lat: l.Lat[i], Lon: l.Lon[i]}).IsFinite() {
			return fmt.Errorf("node %d: %w", i, ErrNonFiniteLocation)
		}
	}
	return nil
}
