// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ingest

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/geograph/services/geograph/graph"
	"github.com/AleutianAI/geograph/services/geograph/spill"
)

const (
	scenarioLocations = "0,0\n1,1\n2,2\n"
	scenarioAdjacency = "2,3\n1,3\n1,2\n"
)

var scenarioEdges = []graph.Edge{
	{Src: 0, Dst: 1}, {Src: 0, Dst: 2},
	{Src: 1, Dst: 0}, {Src: 1, Dst: 2},
	{Src: 2, Dst: 0}, {Src: 2, Dst: 1},
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0640))
	return path
}

// syncBuffer is a bytes.Buffer safe for concurrent log writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func captureLogger() (*slog.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

// faultyStore wraps a real store and injects failures.
type faultyStore struct {
	spill.Store

	failWriteAt int // segment index whose write fails, -1 for none
	failRead    bool
	failRemove  bool

	mu      sync.Mutex
	written []int
	removed []int
}

func newFaultyStore(t *testing.T) *faultyStore {
	t.Helper()
	fs, err := spill.NewFileStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { fs.Close() })
	return &faultyStore{Store: fs, failWriteAt: -1}
}

func (s *faultyStore) Write(ctx context.Context, index int, edges []graph.Edge) (spill.Segment, error) {
	if index == s.failWriteAt {
		return spill.Segment{}, &spill.WriteError{Index: index, Ref: "faulty", Err: errors.New("disk full")}
	}
	seg, err := s.Store.Write(ctx, index, edges)
	if err == nil {
		s.mu.Lock()
		s.written = append(s.written, index)
		s.mu.Unlock()
	}
	return seg, err
}

func (s *faultyStore) Read(ctx context.Context, seg spill.Segment, dst []graph.Edge) ([]graph.Edge, error) {
	if s.failRead {
		return dst, &spill.ReadError{Index: seg.Index, Ref: seg.Ref, Err: spill.ErrSegmentCorrupt}
	}
	return s.Store.Read(ctx, seg, dst)
}

func (s *faultyStore) Remove(ctx context.Context, seg spill.Segment) error {
	if s.failRemove {
		return errors.New("permission denied")
	}
	if err := s.Store.Remove(ctx, seg); err != nil {
		return err
	}
	s.mu.Lock()
	s.removed = append(s.removed, seg.Index)
	s.mu.Unlock()
	return nil
}

func (s *faultyStore) counts() (written, removed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.written), len(s.removed)
}

func (s *faultyStore) factory() StoreFactory {
	return func() (spill.Store, error) { return s, nil }
}
