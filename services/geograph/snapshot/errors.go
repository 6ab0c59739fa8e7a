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
	"errors"
	"fmt"
)

var (
	// ErrPersistenceWrite classifies every failure to save a snapshot.
	ErrPersistenceWrite = errors.New("snapshot write failed")

	// ErrPersistenceRead classifies every failure to load a snapshot.
	ErrPersistenceRead = errors.New("snapshot read failed")

	// ErrBadMagic indicates the file is not a snapshot.
	ErrBadMagic = errors.New("not a geograph snapshot")

	// ErrUnsupportedVersion indicates a format version this build cannot read.
	ErrUnsupportedVersion = errors.New("unsupported snapshot version")

	// ErrSizeMismatch indicates the file size disagrees with its header,
	// usually because the file was truncated.
	ErrSizeMismatch = errors.New("snapshot size does not match header")

	// ErrChecksumMismatch indicates the content failed its integrity check.
	ErrChecksumMismatch = errors.New("snapshot checksum mismatch")

	// ErrNilGraph is returned when Save is given no graph.
	ErrNilGraph = errors.New("graph must not be nil")
)

// PersistenceWriteError reports a failed Save. The destination is left
// untouched.
type PersistenceWriteError struct {
	// Path is the destination path.
	Path string

	// Op names the failed step, e.g. "create temp file" or "rename".
	Op string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *PersistenceWriteError) Error() string {
	return fmt.Sprintf("save snapshot %s: %s: %v", e.Path, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *PersistenceWriteError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrPersistenceWrite) true for every PersistenceWriteError.
func (e *PersistenceWriteError) Is(target error) bool {
	return target == ErrPersistenceWrite
}

// PersistenceReadError reports a failed Load or Stat.
type PersistenceReadError struct {
	// Path is the snapshot path.
	Path string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *PersistenceReadError) Error() string {
	return fmt.Sprintf("load snapshot %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *PersistenceReadError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrPersistenceRead) true for every PersistenceReadError.
func (e *PersistenceReadError) Is(target error) bool {
	return target == ErrPersistenceRead
}
