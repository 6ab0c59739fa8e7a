// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package snapshot saves and loads graphs in a versioned binary format.
//
// Saves are atomic: the snapshot is written to a temporary file in the
// destination directory, synced, and renamed over the destination. A
// failed save never leaves a partial file at the destination path.
//
// Loads validate everything before returning a graph: header, exact file
// size (checked before any large allocation), checksum, location
// finiteness and edge endpoints.
package snapshot

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/geograph/services/geograph/graph"
)

// ioBufferSize is the bufio size for snapshot files.
const ioBufferSize = 1 << 20

// Info describes a snapshot file.
type Info struct {
	// Path is the snapshot path.
	Path string

	// Version is the format version.
	Version uint32

	// Nodes is the number of nodes.
	Nodes int

	// Edges is the number of edges.
	Edges int

	// Size is the file size in bytes.
	Size int64

	// Checksum is the CRC-32C stored in the trailer.
	Checksum uint32
}

type options struct {
	logger *slog.Logger
}

// Option configures Save and Load.
type Option func(*options)

// WithLogger sets the logger. If unset, slog.Default() is used.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

func resolve(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// Save writes g to path atomically.
//
// Description:
//
//	Encodes the graph into a temporary file next to path, fsyncs and
//	closes it, renames it over path and syncs the directory. A directory
//	sync failure is logged; the snapshot is still valid.
//
// Inputs:
//
//	ctx - Checked between encoded chunks.
//	g - The graph to save. Must not be nil.
//	path - Destination. Its directory must exist.
//
// Outputs:
//
//	*Info - Describes the written file.
//	error - *PersistenceWriteError. The temporary file is removed and
//	any existing file at path is untouched.
func Save(ctx context.Context, g *graph.Graph, path string, opts ...Option) (*Info, error) {
	o := resolve(opts)
	start := time.Now()
	ctx, span := snapshotTracer.Start(ctx, "snapshot.Save",
		trace.WithAttributes(attribute.String("snapshot.path", path)),
	)
	defer span.End()

	logger := loggerWithTrace(ctx, o.logger).With(
		slog.String("path", path),
		slog.String("operation", "save"),
	)

	fail := func(op string, err error) (*Info, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, op+" failed")
		snapshotOperationsTotal.WithLabelValues("save", "error").Inc()
		snapshotDurationHistogram.WithLabelValues("save", "error").Observe(time.Since(start).Seconds())
		return nil, &PersistenceWriteError{Path: path, Op: op, Err: err}
	}

	if g == nil {
		return fail("validate", ErrNilGraph)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fail("create temp file", err)
	}
	tmpPath := tmpFile.Name()

	// Cleanup on any error
	cleanupTmp := true
	defer func() {
		if cleanupTmp {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	if err := tmpFile.Chmod(0640); err != nil {
		return fail("chmod", err)
	}

	hasher := crc32.New(castagnoli)
	countWriter := &countingWriter{w: tmpFile}
	bw := bufio.NewWriterSize(io.MultiWriter(countWriter, hasher), ioBufferSize)

	if err := encode(ctx, bw, g); err != nil {
		return fail("encode", err)
	}
	if err := bw.Flush(); err != nil {
		return fail("flush", err)
	}

	checksum := hasher.Sum32()
	var trailer [trailerSize]byte
	binary.LittleEndian.PutUint32(trailer[:], checksum)
	if _, err := countWriter.Write(trailer[:]); err != nil {
		return fail("write trailer", err)
	}

	// Sync to disk for durability
	if err := tmpFile.Sync(); err != nil {
		return fail("sync", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fail("close file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fail("atomic rename", err)
	}
	cleanupTmp = false

	if err := syncDir(filepath.Dir(path)); err != nil {
		logger.Warn("directory sync failed (snapshot still valid)",
			slog.String("error", err.Error()),
		)
	}

	info := &Info{
		Path:     path,
		Version:  Version,
		Nodes:    g.VertexCount(),
		Edges:    g.EdgeCount(),
		Size:     countWriter.count,
		Checksum: checksum,
	}

	duration := time.Since(start)
	span.SetAttributes(
		attribute.Int("snapshot.nodes", info.Nodes),
		attribute.Int("snapshot.edges", info.Edges),
		attribute.Int64("snapshot.size_bytes", info.Size),
	)
	snapshotOperationsTotal.WithLabelValues("save", "success").Inc()
	snapshotDurationHistogram.WithLabelValues("save", "success").Observe(duration.Seconds())
	snapshotSizeGauge.Set(float64(info.Size))

	logger.Info("snapshot saved",
		slog.Int("nodes", info.Nodes),
		slog.Int("edges", info.Edges),
		slog.Int64("size_bytes", info.Size),
		slog.Duration("duration", duration),
	)
	return info, nil
}

// encode writes header and body, without the trailer.
func encode(ctx context.Context, w io.Writer, g *graph.Graph) error {
	locs := g.Locations()
	edges := g.Edges()

	h := header{
		magic:    Magic,
		version:  Version,
		numNodes: uint64(locs.Len()),
		numEdges: uint64(len(edges)),
	}
	if _, err := w.Write(h.encode()); err != nil {
		return err
	}

	buf := make([]byte, chunkItems*coordSize)
	for _, column := range [][]float64{locs.Lat, locs.Lon} {
		for chunk := range slices.Chunk(column, chunkItems) {
			if err := ctx.Err(); err != nil {
				return err
			}
			b := buf[:len(chunk)*coordSize]
			putFloats(b, chunk)
			if _, err := w.Write(b); err != nil {
				return err
			}
		}
	}

	for chunk := range slices.Chunk(edges, chunkItems) {
		if err := ctx.Err(); err != nil {
			return err
		}
		b := buf[:len(chunk)*edgeSize]
		putEdges(b, chunk)
		if _, err := w.Write(b); err != nil {
			return err
		}
	}
	return nil
}

// Load reads and validates the snapshot at path.
//
// Description:
//
//	Checks the header and the exact file size before allocating, reads
//	the body while computing its checksum, compares it with the trailer
//	and then builds the graph, which validates locations and edges.
//
// Outputs:
//
//	*graph.Graph - The loaded graph.
//	error - *PersistenceReadError wrapping ErrBadMagic,
//	ErrUnsupportedVersion, ErrSizeMismatch, ErrChecksumMismatch, a graph
//	validation error, or an I/O error.
func Load(ctx context.Context, path string, opts ...Option) (*graph.Graph, error) {
	o := resolve(opts)
	start := time.Now()
	ctx, span := snapshotTracer.Start(ctx, "snapshot.Load",
		trace.WithAttributes(attribute.String("snapshot.path", path)),
	)
	defer span.End()

	fail := func(err error) (*graph.Graph, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		snapshotOperationsTotal.WithLabelValues("load", "error").Inc()
		snapshotDurationHistogram.WithLabelValues("load", "error").Observe(time.Since(start).Seconds())
		return nil, &PersistenceReadError{Path: path, Err: err}
	}

	f, err := os.Open(path)
	if err != nil {
		return fail(err)
	}
	defer f.Close()

	g, err := decode(ctx, f)
	if err != nil {
		return fail(err)
	}

	duration := time.Since(start)
	span.SetAttributes(
		attribute.Int("snapshot.nodes", g.VertexCount()),
		attribute.Int("snapshot.edges", g.EdgeCount()),
	)
	snapshotOperationsTotal.WithLabelValues("load", "success").Inc()
	snapshotDurationHistogram.WithLabelValues("load", "success").Observe(duration.Seconds())

	loggerWithTrace(ctx, o.logger).Info("snapshot loaded",
		slog.String("path", path),
		slog.Int("nodes", g.VertexCount()),
		slog.Int("edges", g.EdgeCount()),
		slog.Duration("duration", duration),
	)
	return g, nil
}

// readHeader reads and validates the header of f against its size.
func readHeader(f *os.File) (header, int64, error) {
	st, err := f.Stat()
	if err != nil {
		return header{}, 0, err
	}
	size := st.Size()
	if size < headerSize+trailerSize {
		return header{}, size, fmt.Errorf("%w: %d bytes is shorter than the header", ErrSizeMismatch, size)
	}

	buf := make([]byte, headerSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return header{}, size, err
	}
	h := decodeHeader(buf)
	if err := h.validate(); err != nil {
		return h, size, err
	}
	want, ok := h.fileSize()
	if !ok || want != size {
		return h, size, fmt.Errorf("%w: %d bytes for %d nodes and %d edges",
			ErrSizeMismatch, size, h.numNodes, h.numEdges)
	}
	return h, size, nil
}

func decode(ctx context.Context, f *os.File) (*graph.Graph, error) {
	h, _, err := readHeader(f)
	if err != nil {
		return nil, err
	}

	hasher := crc32.New(castagnoli)
	br := bufio.NewReaderSize(f, ioBufferSize)
	r := io.TeeReader(br, hasher)

	if _, err := io.CopyN(io.Discard, r, headerSize); err != nil {
		return nil, err
	}

	numNodes := int(h.numNodes)
	numEdges := int(h.numEdges)
	buf := make([]byte, chunkItems*coordSize)

	readFloats := func() ([]float64, error) {
		out := make([]float64, 0, numNodes)
		for remaining := numNodes; remaining > 0; {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			n := min(remaining, chunkItems)
			b := buf[:n*coordSize]
			if _, err := io.ReadFull(r, b); err != nil {
				return nil, err
			}
			out = appendFloats(out, b)
			remaining -= n
		}
		return out, nil
	}

	lat, err := readFloats()
	if err != nil {
		return nil, err
	}
	lon, err := readFloats()
	if err != nil {
		return nil, err
	}

	edges := make([]graph.Edge, 0, numEdges)
	for remaining := numEdges; remaining > 0; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n := min(remaining, chunkItems)
		b := buf[:n*edgeSize]
		if _, err := io.ReadFull(r, b); err != nil {
			return nil, err
		}
		edges = appendEdges(edges, b)
		remaining -= n
	}

	var trailer [trailerSize]byte
	if _, err := io.ReadFull(br, trailer[:]); err != nil {
		return nil, err
	}
	if got, want := hasher.Sum32(), binary.LittleEndian.Uint32(trailer[:]); got != want {
		return nil, fmt.Errorf("%w: computed %08x, stored %08x", ErrChecksumMismatch, got, want)
	}

	return graph.New(&graph.Locations{Lat: lat, Lon: lon}, edges)
}

// Stat reads and validates the header of the snapshot at path without
// loading its body. The checksum is reported, not verified.
func Stat(path string) (*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &PersistenceReadError{Path: path, Err: err}
	}
	defer f.Close()

	h, size, err := readHeader(f)
	if err != nil {
		return nil, &PersistenceReadError{Path: path, Err: err}
	}

	var trailer [trailerSize]byte
	if _, err := f.ReadAt(trailer[:], size-trailerSize); err != nil && !errors.Is(err, io.EOF) {
		return nil, &PersistenceReadError{Path: path, Err: err}
	}

	return &Info{
		Path:     path,
		Version:  h.version,
		Nodes:    int(h.numNodes),
		Edges:    int(h.numEdges),
		Size:     size,
		Checksum: binary.LittleEndian.Uint32(trailer[:]),
	}, nil
}

// countingWriter wraps a writer and counts bytes written.
type countingWriter struct {
	w     io.Writer
	count int64
}

func (cw *countingWriter) Write(p []byte) (n int, err error) {
	n, err = cw.w.Write(p)
	cw.count += int64(n)
	return n, err
}

// syncDir syncs a directory to ensure durability of file operations.
// This is needed after atomic rename on some filesystems.
func syncDir(dirPath string) error {
	dir, err := os.Open(dirPath)
	if err != nil {
		return fmt.Errorf("open dir for sync: %w", err)
	}
	defer dir.Close()

	if err := dir.Sync(); err != nil {
		return fmt.Errorf("sync dir: %w", err)
	}

	return nil
}
