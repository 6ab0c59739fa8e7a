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
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/AleutianAI/geograph/services/geograph/graph"
)

// runDirPrefix prefixes every per-run scratch directory.
const runDirPrefix = "geograph-spill-"

// ioBufferSize is the bufio size used for segment files.
const ioBufferSize = 1 << 20

// FileStore writes each segment to its own file in a per-run directory.
//
// File names are "segment-%06d.edges" so a directory listing sorts in
// creation order. Files are created exclusively and never rewritten.
//
// Thread Safety: safe for concurrent use.
type FileStore struct {
	dir    string
	closed atomic.Bool
}

// NewFileStore creates a store rooted at a new directory under baseDir.
//
// Inputs:
//
//	baseDir - Parent directory. Empty means os.TempDir(). Created if missing.
//
// Outputs:
//
//	*FileStore - The store. Caller must Close it.
//	error - Non-nil if the run directory cannot be created.
func NewFileStore(baseDir string) (*FileStore, error) {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	dir := filepath.Join(baseDir, runDirPrefix+uuid.NewString())
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create spill directory %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the per-run directory holding the segment files.
func (s *FileStore) Dir() string {
	return s.dir
}

// Name implements Store.
func (s *FileStore) Name() string {
	return BackendFile
}

func (s *FileStore) segmentPath(index int) string {
	return filepath.Join(s.dir, fmt.Sprintf("segment-%06d.edges", index))
}

// Write implements Store.
func (s *FileStore) Write(ctx context.Context, index int, edges []graph.Edge) (Segment, error) {
	path := s.segmentPath(index)
	fail := func(err error) (Segment, error) {
		return Segment{}, &WriteError{Index: index, Ref: path, Err: err}
	}

	if s.closed.Load() {
		return fail(ErrStoreClosed)
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0640)
	if err != nil {
		return fail(err)
	}

	if err := writeSegment(f, index, edges); err != nil {
		f.Close()
		os.Remove(path)
		return fail(err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return fail(err)
	}

	return Segment{Index: index, Edges: len(edges), Ref: path}, nil
}

// writeSegment encodes header, edges and checksum to w.
func writeSegment(w io.Writer, index int, edges []graph.Edge) error {
	bw := bufio.NewWriterSize(w, ioBufferSize)

	var header [headerSize]byte
	putHeader(header[:], index, len(edges))
	if _, err := bw.Write(header[:]); err != nil {
		return err
	}

	crc := crc32.New(castagnoli)
	buf := make([]byte, codecChunkEdges*edgeSize)
	for chunk := range slices.Chunk(edges, codecChunkEdges) {
		b := buf[:len(chunk)*edgeSize]
		putEdges(b, chunk)
		crc.Write(b)
		if _, err := bw.Write(b); err != nil {
			return err
		}
	}

	var trailer [trailerSize]byte
	binary.LittleEndian.PutUint32(trailer[:], crc.Sum32())
	if _, err := bw.Write(trailer[:]); err != nil {
		return err
	}
	return bw.Flush()
}

// Read implements Store.
func (s *FileStore) Read(ctx context.Context, seg Segment, dst []graph.Edge) ([]graph.Edge, error) {
	fail := func(err error) ([]graph.Edge, error) {
		return dst, &ReadError{Index: seg.Index, Ref: seg.Ref, Err: err}
	}

	if s.closed.Load() {
		return fail(ErrStoreClosed)
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	f, err := os.Open(seg.Ref)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fail(fmt.Errorf("%w: %v", ErrSegmentNotFound, err))
		}
		return fail(err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fail(err)
	}
	if want := segmentFileSize(seg.Edges); info.Size() != want {
		return fail(fmt.Errorf("%w: size %d, want %d", ErrSegmentCorrupt, info.Size(), want))
	}

	out, err := readSegment(f, seg, dst)
	if err != nil {
		return fail(err)
	}
	return out, nil
}

// readSegment decodes a segment whose size has already been checked.
func readSegment(r io.Reader, seg Segment, dst []graph.Edge) ([]graph.Edge, error) {
	br := bufio.NewReaderSize(r, ioBufferSize)

	var header [headerSize]byte
	if _, err := io.ReadFull(br, header[:]); err != nil {
		return dst, err
	}
	h := parseHeader(header[:])
	switch {
	case h.magic != segmentMagic:
		return dst, fmt.Errorf("%w: bad magic %q", ErrSegmentCorrupt, h.magic)
	case h.version != segmentVersion:
		return dst, fmt.Errorf("%w: unsupported version %d", ErrSegmentCorrupt, h.version)
	case h.index != uint64(seg.Index):
		return dst, fmt.Errorf("%w: header index %d, want %d", ErrSegmentCorrupt, h.index, seg.Index)
	case h.count != uint64(seg.Edges):
		return dst, fmt.Errorf("%w: header count %d, want %d", ErrSegmentCorrupt, h.count, seg.Edges)
	}

	dst = slices.Grow(dst, seg.Edges)
	crc := crc32.New(castagnoli)
	buf := make([]byte, codecChunkEdges*edgeSize)
	for remaining := seg.Edges; remaining > 0; {
		n := min(remaining, codecChunkEdges)
		b := buf[:n*edgeSize]
		if _, err := io.ReadFull(br, b); err != nil {
			return dst, err
		}
		crc.Write(b)
		dst = appendEdges(dst, b)
		remaining -= n
	}

	var trailer [trailerSize]byte
	if _, err := io.ReadFull(br, trailer[:]); err != nil {
		return dst, err
	}
	if got, want := crc.Sum32(), binary.LittleEndian.Uint32(trailer[:]); got != want {
		return dst, fmt.Errorf("%w: checksum %08x, want %08x", ErrSegmentCorrupt, got, want)
	}
	return dst, nil
}

// Remove implements Store.
func (s *FileStore) Remove(_ context.Context, seg Segment) error {
	if err := os.Remove(seg.Ref); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove spill segment %d: %w", seg.Index, err)
	}
	return nil
}

// Close removes the run directory.
//
// The directory is removed only if it is empty. Segments that could not
// be removed stay on disk as orphans and Close reports the failure.
// Safe to call multiple times.
func (s *FileStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if err := os.Remove(s.dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove spill directory %s: %w", s.dir, err)
	}
	return nil
}
