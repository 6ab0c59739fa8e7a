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
	"log/slog"
	"runtime"

	"github.com/AleutianAI/geograph/services/geograph/spill"
)

const (
	// DefaultSpillThreshold is the edge count at which the accumulator
	// flushes its buffer to a spill segment.
	DefaultSpillThreshold = 4_000_000

	// DefaultQueueDepth is the number of parsed batches that may wait
	// between the reader and the accumulator.
	DefaultQueueDepth = 16

	// DefaultBatchLines is the number of parsed lines per queued batch.
	DefaultBatchLines = 1024

	// DefaultDelimiter separates fields in both sources.
	DefaultDelimiter = ","

	// DefaultMaxRecordedSkips bounds IngestResult.Skipped.
	DefaultMaxRecordedSkips = 1000

	// DefaultProgressEvery is the line interval between progress reports.
	DefaultProgressEvery = 1_000_000
)

// Progress is a snapshot of a running ingestion.
type Progress struct {
	// Lines is the number of adjacency lines consumed.
	Lines int

	// Edges is the number of edges accepted so far.
	Edges int

	// Segments is the number of spill segments handed to the store.
	Segments int
}

// ProgressFunc receives progress reports from the consumer goroutine.
// It must not block for long.
type ProgressFunc func(p Progress)

// StoreFactory opens the spill store for one run. The run closes it.
type StoreFactory func() (spill.Store, error)

// Options configures ingestion.
type Options struct {
	// Delimiter separates fields on every line.
	// Default: ","
	Delimiter string

	// SpillThreshold is the buffered edge count that triggers a flush.
	// Default: 4,000,000
	SpillThreshold int

	// FlushWorkers bounds concurrent segment writes, and so the number
	// of full buffers in memory.
	// Default: min(runtime.NumCPU(), 4)
	FlushWorkers int

	// QueueDepth is the capacity of the reader to accumulator channel,
	// in batches.
	// Default: 16
	QueueDepth int

	// BatchLines is the number of parsed lines sent per batch.
	// Default: 1024
	BatchLines int

	// MaxRecordedSkips bounds how many SkippedRecord values are kept.
	// Counters are always complete. Negative means unlimited.
	// Default: 1000
	MaxRecordedSkips int

	// Spill selects the spill store used by the default StoreFactory.
	Spill spill.Options

	// StoreFactory overrides store creation. May be nil.
	StoreFactory StoreFactory

	// ProgressCallback is called every ProgressEvery lines and once at
	// the end of the scan. May be nil.
	ProgressCallback ProgressFunc

	// ProgressEvery is the line interval between progress reports.
	// Default: 1,000,000
	ProgressEvery int

	// Logger receives run logs. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// DefaultOptions returns the defaults.
func DefaultOptions() Options {
	return Options{
		Delimiter:        DefaultDelimiter,
		SpillThreshold:   DefaultSpillThreshold,
		FlushWorkers:     min(runtime.NumCPU(), 4),
		QueueDepth:       DefaultQueueDepth,
		BatchLines:       DefaultBatchLines,
		MaxRecordedSkips: DefaultMaxRecordedSkips,
		Spill:            spill.Options{Backend: spill.BackendFile},
		ProgressEvery:    DefaultProgressEvery,
	}
}

// Option is a functional option for configuring ingestion.
type Option func(*Options)

// WithDelimiter sets the field delimiter.
func WithDelimiter(d string) Option {
	return func(o *Options) {
		o.Delimiter = d
	}
}

// WithSpillThreshold sets the flush threshold in edges.
func WithSpillThreshold(n int) Option {
	return func(o *Options) {
		o.SpillThreshold = n
	}
}

// WithFlushWorkers sets the number of concurrent segment writes.
func WithFlushWorkers(n int) Option {
	return func(o *Options) {
		o.FlushWorkers = n
	}
}

// WithQueueDepth sets the reader to accumulator channel capacity.
func WithQueueDepth(n int) Option {
	return func(o *Options) {
		o.QueueDepth = n
	}
}

// WithBatchLines sets the number of lines per queued batch.
func WithBatchLines(n int) Option {
	return func(o *Options) {
		o.BatchLines = n
	}
}

// WithMaxRecordedSkips bounds the recorded skipped lines.
func WithMaxRecordedSkips(n int) Option {
	return func(o *Options) {
		o.MaxRecordedSkips = n
	}
}

// WithSpillOptions selects the spill backend and directory.
func WithSpillOptions(s spill.Options) Option {
	return func(o *Options) {
		o.Spill = s
	}
}

// WithStoreFactory overrides how the spill store is opened.
func WithStoreFactory(fn StoreFactory) Option {
	return func(o *Options) {
		o.StoreFactory = fn
	}
}

// WithProgressCallback sets the progress callback and its interval.
func WithProgressCallback(every int, fn ProgressFunc) Option {
	return func(o *Options) {
		o.ProgressEvery = every
		o.ProgressCallback = fn
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// resolve applies opts over the defaults and repairs invalid values.
func resolve(opts []Option) Options {
	options := DefaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	if options.Delimiter == "" {
		options.Delimiter = DefaultDelimiter
	}
	if options.SpillThreshold <= 0 {
		options.SpillThreshold = DefaultSpillThreshold
	}
	if options.FlushWorkers <= 0 {
		options.FlushWorkers = 1
	}
	if options.QueueDepth <= 0 {
		options.QueueDepth = DefaultQueueDepth
	}
	if options.BatchLines <= 0 {
		options.BatchLines = DefaultBatchLines
	}
	if options.ProgressEvery <= 0 {
		options.ProgressEvery = DefaultProgressEvery
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if options.StoreFactory == nil {
		spillOpts := options.Spill
		options.StoreFactory = func() (spill.Store, error) {
			return spill.Open(spillOpts)
		}
	}
	return options
}
