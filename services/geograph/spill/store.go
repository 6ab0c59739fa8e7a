// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package spill stores ephemeral, numbered chunks of edges on disk.
//
// Ingestion flushes its in-memory edge buffer to a spill segment whenever
// the buffer reaches its threshold, which bounds peak memory regardless of
// input size. Assembly reads the segments back in index order and then
// removes them.
//
// Two stores are provided:
//
//	FileStore   - one binary file per segment under a per-run directory
//	BadgerStore - segments chunked into an embedded BadgerDB
//
// Segments are scratch data. They are written once, read once, and are
// not a supported interchange format.
package spill

import (
	"context"
	"fmt"
	"strings"

	"github.com/AleutianAI/geograph/services/geograph/graph"
)

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendBadger = "badger"
)

// Segment is a handle to one written spill segment.
type Segment struct {
	// Index is the strictly increasing sequence number assigned at flush.
	Index int

	// Edges is the number of edges stored in the segment.
	Edges int

	// Ref is the store-specific location of the segment.
	Ref string
}

// Store persists and retrieves spill segments.
//
// Thread Safety: implementations are safe for concurrent use. Distinct
// segments may be written in parallel; a single segment is written by
// exactly one caller.
type Store interface {
	// Write persists edges as segment index. The edges slice is not
	// retained. Failures are *WriteError.
	Write(ctx context.Context, index int, edges []graph.Edge) (Segment, error)

	// Read appends the edges of seg to dst in their written order and
	// returns the extended slice. Failures are *ReadError.
	Read(ctx context.Context, seg Segment, dst []graph.Edge) ([]graph.Edge, error)

	// Remove deletes seg. Removing an absent segment is not an error.
	Remove(ctx context.Context, seg Segment) error

	// Close releases the store and its per-run scratch location.
	Close() error

	// Name returns the backend name.
	Name() string
}

// Options configures Open.
type Options struct {
	// Backend selects the store: BackendFile or BackendBadger.
	Backend string

	// Dir is the base directory for the per-run scratch location.
	// Empty means os.TempDir().
	Dir string

	// InMemory keeps a badger store entirely in memory. Ignored by the
	// file backend.
	InMemory bool

	// Badger carries badger tuning. Path and InMemory are set by Open.
	Badger BadgerConfig
}

// Open creates the store selected by opts.Backend.
//
// Description:
//
//	Creates a fresh per-run scratch location so concurrent runs sharing
//	a base directory never see each other's segments.
//
// Outputs:
//
//	Store - The opened store. Caller must Close it.
//	error - Non-nil if the backend is unknown or cannot be opened.
func Open(opts Options) (Store, error) {
	switch strings.ToLower(opts.Backend) {
	case "", BackendFile:
		return NewFileStore(opts.Dir)
	case BackendBadger:
		cfg := opts.Badger
		cfg.BaseDir = opts.Dir
		cfg.InMemory = opts.InMemory
		return NewBadgerStore(cfg)
	default:
		return nil, &UnknownBackendError{Backend: opts.Backend}
	}
}

// UnknownBackendError is returned by Open for an unsupported backend name.
type UnknownBackendError struct {
	Backend string
}

// Error implements the error interface.
func (e *UnknownBackendError) Error() string {
	return fmt.Sprintf("unknown spill backend %q", e.Backend)
}
