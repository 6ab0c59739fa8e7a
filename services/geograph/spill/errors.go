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
	"errors"
	"fmt"
)

// Sentinel errors for spill segment operations.
var (
	// ErrSpillWrite classifies every failure to persist a segment.
	// Write failures are fatal for the ingestion run.
	ErrSpillWrite = errors.New("spill segment write failed")

	// ErrSpillRead classifies every failure to read a segment back.
	ErrSpillRead = errors.New("spill segment read failed")

	// ErrSegmentCorrupt is returned when a segment's header, size or
	// checksum does not match what was written.
	ErrSegmentCorrupt = errors.New("spill segment corrupt")

	// ErrSegmentNotFound is returned when a declared segment no longer
	// exists in the store.
	ErrSegmentNotFound = errors.New("spill segment not found")

	// ErrStoreClosed is returned when a closed store is used.
	ErrStoreClosed = errors.New("spill store is closed")
)

// WriteError reports a failed segment write.
type WriteError struct {
	// Index is the segment sequence number.
	Index int

	// Ref is the store-specific location (file path or key prefix).
	Ref string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *WriteError) Error() string {
	return fmt.Sprintf("write spill segment %d (%s): %v", e.Index, e.Ref, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *WriteError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrSpillWrite) true for every WriteError.
func (e *WriteError) Is(target error) bool {
	return target == ErrSpillWrite
}

// ReadError reports a failed segment read.
type ReadError struct {
	// Index is the segment sequence number.
	Index int

	// Ref is the store-specific location (file path or key prefix).
	Ref string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *ReadError) Error() string {
	return fmt.Sprintf("read spill segment %d (%s): %v", e.Index, e.Ref, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ReadError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrSpillRead) true for every ReadError.
func (e *ReadError) Is(target error) bool {
	return target == ErrSpillRead
}
