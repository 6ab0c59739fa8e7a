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
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/geograph/services/geograph/graph"
)

// DefaultBadgerChunkEdges is the number of edges stored per badger value.
const DefaultBadgerChunkEdges = 64 * 1024

// BadgerConfig holds configuration for a BadgerStore.
type BadgerConfig struct {
	// BaseDir is the parent of the per-run database directory.
	// Empty means os.TempDir(). Ignored when InMemory is true.
	BaseDir string

	// InMemory keeps every segment in RAM. Useful for testing; it does
	// not bound memory.
	InMemory bool

	// SyncWrites fsyncs every write batch. Spill data is scratch, so the
	// default is false.
	SyncWrites bool

	// ChunkEdges is the number of edges per stored value.
	// Default: DefaultBadgerChunkEdges.
	ChunkEdges int

	// Logger receives BadgerDB's internal log output.
	// If nil, BadgerDB's internal logging is disabled.
	Logger *slog.Logger
}

// DefaultBadgerConfig returns defaults tuned for scratch data.
func DefaultBadgerConfig() BadgerConfig {
	return BadgerConfig{
		ChunkEdges: DefaultBadgerChunkEdges,
	}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerStore keeps spill segments in an embedded BadgerDB.
//
// Each segment is split into values of ChunkEdges edges under keys
//
//	[segment index uint64 BE][chunk number uint32 BE]
//
// so a prefix scan returns the chunks in write order. The database lives
// in its own per-run directory, which Close deletes.
//
// Thread Safety: safe for concurrent use.
type BadgerStore struct {
	db         *badger.DB
	path       string
	inMemory   bool
	chunkEdges int
	closed     atomic.Bool
}

// NewBadgerStore opens a fresh BadgerDB for one ingestion run.
//
// Description:
//
//	Opens a BadgerDB under a new directory below cfg.BaseDir, or in
//	memory if cfg.InMemory is true. Single-version retention is used
//	since segments are never overwritten.
//
// Inputs:
//
//	cfg - Store configuration.
//
// Outputs:
//
//	*BadgerStore - The opened store. Caller must call Close() when done.
//	error - Non-nil if the directory or database cannot be opened.
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	if cfg.ChunkEdges <= 0 {
		cfg.ChunkEdges = DefaultBadgerChunkEdges
	}

	var (
		opts badger.Options
		path string
	)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		base := cfg.BaseDir
		if base == "" {
			base = os.TempDir()
		}
		path = filepath.Join(base, runDirPrefix+uuid.NewString())
		if err := os.MkdirAll(path, 0750); err != nil {
			return nil, fmt.Errorf("create spill database directory %s: %w", path, err)
		}
		opts = badger.DefaultOptions(path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		if path != "" {
			os.RemoveAll(path)
		}
		return nil, fmt.Errorf("open spill database: %w", err)
	}

	return &BadgerStore{
		db:         db,
		path:       path,
		inMemory:   cfg.InMemory,
		chunkEdges: cfg.ChunkEdges,
	}, nil
}

// Path returns the database directory, or "" for in-memory stores.
func (s *BadgerStore) Path() string {
	return s.path
}

// Name implements Store.
func (s *BadgerStore) Name() string {
	return BackendBadger
}

func segmentPrefix(index int) []byte {
	prefix := make([]byte, 8)
	binary.BigEndian.PutUint64(prefix, uint64(index))
	return prefix
}

func chunkKey(prefix []byte, chunk int) []byte {
	key := make([]byte, len(prefix)+4)
	copy(key, prefix)
	binary.BigEndian.PutUint32(key[len(prefix):], uint32(chunk))
	return key
}

// Write implements Store.
func (s *BadgerStore) Write(ctx context.Context, index int, edges []graph.Edge) (Segment, error) {
	prefix := segmentPrefix(index)
	ref := hex.EncodeToString(prefix)
	fail := func(err error) (Segment, error) {
		return Segment{}, &WriteError{Index: index, Ref: ref, Err: err}
	}

	if s.closed.Load() {
		return fail(ErrStoreClosed)
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	chunk := 0
	for part := range slices.Chunk(edges, s.chunkEdges) {
		// Values must stay untouched until the batch flushes, so each
		// chunk gets its own buffer.
		if err := wb.Set(chunkKey(prefix, chunk), encodeEdges(part)); err != nil {
			return fail(err)
		}
		chunk++
	}
	if err := wb.Flush(); err != nil {
		return fail(err)
	}

	return Segment{Index: index, Edges: len(edges), Ref: ref}, nil
}

// Read implements Store.
func (s *BadgerStore) Read(ctx context.Context, seg Segment, dst []graph.Edge) ([]graph.Edge, error) {
	fail := func(err error) ([]graph.Edge, error) {
		return dst, &ReadError{Index: seg.Index, Ref: seg.Ref, Err: err}
	}

	if s.closed.Load() {
		return fail(ErrStoreClosed)
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	prefix := segmentPrefix(seg.Index)
	out := slices.Grow(dst, seg.Edges)
	start := len(out)
	chunks := 0

	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			if want := chunkKey(prefix, chunks); string(item.Key()) != string(want) {
				return fmt.Errorf("%w: unexpected key %x", ErrSegmentCorrupt, item.Key())
			}
			err := item.Value(func(val []byte) error {
				if len(val)%edgeSize != 0 {
					return fmt.Errorf("%w: chunk %d has %d bytes", ErrSegmentCorrupt, chunks, len(val))
				}
				out = appendEdges(out, val)
				return nil
			})
			if err != nil {
				return err
			}
			chunks++
		}
		return nil
	})
	if err != nil {
		return fail(err)
	}

	if got := len(out) - start; got != seg.Edges {
		if chunks == 0 {
			return fail(ErrSegmentNotFound)
		}
		return fail(fmt.Errorf("%w: %d edges, want %d", ErrSegmentCorrupt, got, seg.Edges))
	}
	return out, nil
}

// Remove implements Store.
func (s *BadgerStore) Remove(_ context.Context, seg Segment) error {
	if s.closed.Load() {
		return fmt.Errorf("remove spill segment %d: %w", seg.Index, ErrStoreClosed)
	}
	if err := s.db.DropPrefix(segmentPrefix(seg.Index)); err != nil {
		return fmt.Errorf("remove spill segment %d: %w", seg.Index, err)
	}
	return nil
}

// Close closes the database and deletes its directory.
// Safe to call multiple times.
func (s *BadgerStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close spill database: %w", err)
	}
	if !s.inMemory && s.path != "" {
		if err := os.RemoveAll(s.path); err != nil {
			return fmt.Errorf("remove spill database directory %s: %w", s.path, err)
		}
	}
	return nil
}
