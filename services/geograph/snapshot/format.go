// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package snapshot

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"

	"github.com/AleutianAI/geograph/services/geograph/graph"
)

// Snapshot layout, version 1 (little-endian):
//
//	magic      [8]byte "GEOGRAPH"
//	version    uint32  = 1
//	flags      uint32  = 0
//	num_nodes  uint64
//	num_edges  uint64
//	latitudes  num_nodes x float64
//	longitudes num_nodes x float64
//	edges      num_edges x (src uint32, dst uint32)
//	crc32c     uint32 over every preceding byte
const (
	// Magic identifies a snapshot file.
	Magic = "GEOGRAPH"

	// Version is the format version written by Save.
	Version = 1

	headerSize  = 32
	coordSize   = 8
	edgeSize    = 8
	trailerSize = 4

	// chunkItems is how many values are encoded per buffer pass.
	chunkItems = 8192
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

type header struct {
	magic    string
	version  uint32
	flags    uint32
	numNodes uint64
	numEdges uint64
}

func (h header) encode() []byte {
	buf := make([]byte, headerSize)
	copy(buf[0:8], h.magic)
	binary.LittleEndian.PutUint32(buf[8:12], h.version)
	binary.LittleEndian.PutUint32(buf[12:16], h.flags)
	binary.LittleEndian.PutUint64(buf[16:24], h.numNodes)
	binary.LittleEndian.PutUint64(buf[24:32], h.numEdges)
	return buf
}

func decodeHeader(buf []byte) header {
	return header{
		magic:    string(buf[0:8]),
		version:  binary.LittleEndian.Uint32(buf[8:12]),
		flags:    binary.LittleEndian.Uint32(buf[12:16]),
		numNodes: binary.LittleEndian.Uint64(buf[16:24]),
		numEdges: binary.LittleEndian.Uint64(buf[24:32]),
	}
}

// validate checks the header fields that do not depend on the file size.
func (h header) validate() error {
	if h.magic != Magic {
		return fmt.Errorf("%w: magic %q", ErrBadMagic, h.magic)
	}
	if h.version != Version {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.version)
	}
	if h.flags != 0 {
		return fmt.Errorf("%w: unknown flags %#x", ErrUnsupportedVersion, h.flags)
	}
	if h.numNodes > graph.MaxNodes {
		return fmt.Errorf("%d nodes: %w", h.numNodes, graph.ErrTooManyNodes)
	}
	return nil
}

// fileSize returns the exact file size the header implies, or false if it
// would overflow.
func (h header) fileSize() (int64, bool) {
	const limit = math.MaxInt64 - headerSize - trailerSize
	body := h.numNodes * 2 * coordSize
	if h.numEdges > (limit-body)/edgeSize {
		return 0, false
	}
	return int64(headerSize + body + h.numEdges*edgeSize + trailerSize), true
}

func putFloats(buf []byte, vals []float64) {
	for i, v := range vals {
		binary.LittleEndian.PutUint64(buf[i*coordSize:], math.Float64bits(v))
	}
}

func appendFloats(dst []float64, buf []byte) []float64 {
	for off := 0; off+coordSize <= len(buf); off += coordSize {
		dst = append(dst, math.Float64frombits(binary.LittleEndian.Uint64(buf[off:])))
	}
	return dst
}

func putEdges(buf []byte, edges []graph.Edge) {
	for i, e := range edges {
		off := i * edgeSize
		binary.LittleEndian.PutUint32(buf[off:], uint32(e.Src))
		binary.LittleEndian.PutUint32(buf[off+4:], uint32(e.Dst))
	}
}

func appendEdges(dst []graph.Edge, buf []byte) []graph.Edge {
	for off := 0; off+edgeSize <= len(buf); off += edgeSize {
		dst = append(dst, graph.Edge{
			Src: graph.NodeID(binary.LittleEndian.Uint32(buf[off:])),
			Dst: graph.NodeID(binary.LittleEndian.Uint32(buf[off+4:])),
		})
	}
	return dst
}
