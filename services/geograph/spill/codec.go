// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package spill

import (
	"encoding/binary"
	"hash/crc32"
	"slices"

	"github.com/AleutianAI/geograph/services/geograph/graph"
)

// Segment file layout (little-endian):
//
//	magic    [4]byte "GSEG"
//	version  uint16
//	reserved uint16
//	index    uint64
//	count    uint64
//	edges    count x (src uint32, dst uint32)
//	crc32c   uint32 over the edge bytes
const (
	segmentMagic   = "GSEG"
	segmentVersion = 1

	headerSize  = 24
	edgeSize    = 8
	trailerSize = 4

	// codecChunkEdges is how many edges are encoded per buffer pass.
	codecChunkEdges = 8192
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// segmentFileSize returns the exact on-disk size of a segment with count edges.
func segmentFileSize(count int) int64 {
	return headerSize + int64(count)*edgeSize + trailerSize
}

func putHeader(buf []byte, index int, count int) {
	copy(buf[0:4], segmentMagic)
	binary.LittleEndian.PutUint16(buf[4:6], segmentVersion)
	binary.LittleEndian.PutUint16(buf[6:8], 0)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(index))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(count))
}

// segmentHeader is the decoded fixed-size prefix of a segment file.
type segmentHeader struct {
	magic   string
	version uint16
	index   uint64
	count   uint64
}

func parseHeader(buf []byte) segmentHeader {
	return segmentHeader{
		magic:   string(buf[0:4]),
		version: binary.LittleEndian.Uint16(buf[4:6]),
		index:   binary.LittleEndian.Uint64(buf[8:16]),
		count:   binary.LittleEndian.Uint64(buf[16:24]),
	}
}

// putEdges encodes edges into buf, which must hold len(edges)*edgeSize bytes.
func putEdges(buf []byte, edges []graph.Edge) {
	for i, e := range edges {
		off := i * edgeSize
		binary.LittleEndian.PutUint32(buf[off:], uint32(e.Src))
		binary.LittleEndian.PutUint32(buf[off+4:], uint32(e.Dst))
	}
}

// appendEdges decodes every whole edge in buf and appends it to dst.
func appendEdges(dst []graph.Edge, buf []byte) []graph.Edge {
	n := len(buf) / edgeSize
	dst = slices.Grow(dst, n)
	for i := 0; i < n; i++ {
		off := i * edgeSize
		dst = append(dst, graph.Edge{
			Src: graph.NodeID(binary.LittleEndian.Uint32(buf[off:])),
			Dst: graph.NodeID(binary.LittleEndian.Uint32(buf[off+4:])),
		})
	}
	return dst
}

// encodeEdges returns a freshly allocated encoding of edges.
func encodeEdges(edges []graph.Edge) []byte {
	buf := make([]byte, len(edges)*edgeSize)
	putEdges(buf, edges)
	return buf
}
