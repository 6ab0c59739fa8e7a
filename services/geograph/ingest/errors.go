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
	"errors"
	"fmt"
)

// Sentinel errors for ingestion.
var (
	// ErrMalformedInput classifies every fatal parse failure of the
	// location source.
	ErrMalformedInput = errors.New("malformed input")

	// ErrGraphAssembly classifies every failure to assemble the graph
	// from spill segments.
	ErrGraphAssembly = errors.New("graph assembly failed")

	// ErrSegmentOrder is returned when segments are not strictly
	// increasing by index.
	ErrSegmentOrder = errors.New("spill segments not in strictly increasing order")
)

// maxQuotedText bounds how much of an offending line an error carries.
const maxQuotedText = 120

// MalformedInputError reports a location line that could not be parsed.
type MalformedInputError struct {
	// Path names the source. For readers it is the name given by the caller.
	Path string

	// Line is the 1-based line number.
	Line int

	// Text is the offending line, truncated to a readable length.
	Text string

	// Err is the underlying parse error.
	Err error
}

func newMalformedInputError(path string, line int, text string, err error) *MalformedInputError {
	if len(text) > maxQuotedText {
		text = text[:maxQuotedText] + "..."
	}
	return &MalformedInputError{Path: path, Line: line, Text: text, Err: err}
}

// Error implements the error interface.
func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("%s:%d: malformed location %q: %v", e.Path, e.Line, e.Text, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *MalformedInputError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrMalformedInput) true for every MalformedInputError.
func (e *MalformedInputError) Is(target error) bool {
	return target == ErrMalformedInput
}

// GraphAssemblyError reports a failure to build the graph from spill
// segments. No partial graph is produced.
type GraphAssemblyError struct {
	// Segment is the index of the segment being processed, or -1 when
	// the failure is not tied to one segment.
	Segment int

	// Err is the underlying error, often a *spill.ReadError.
	Err error
}

// Error implements the error interface.
func (e *GraphAssemblyError) Error() string {
	if e.Segment < 0 {
		return fmt.Sprintf("assemble graph: %v", e.Err)
	}
	return fmt.Sprintf("assemble graph at segment %d: %v", e.Segment, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *GraphAssemblyError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrGraphAssembly) true for every GraphAssemblyError.
func (e *GraphAssemblyError) Is(target error) bool {
	return target == ErrGraphAssembly
}

// CleanupWarning records a spill segment that could not be removed after
// a successful assembly. It never fails the run.
type CleanupWarning struct {
	// Segment is the segment index.
	Segment int

	// Ref is the store-specific segment location.
	Ref string

	// Err is the removal error.
	Err error
}

// String describes the warning.
func (w CleanupWarning) String() string {
	return fmt.Sprintf("segment %d (%s) not removed: %v", w.Segment, w.Ref, w.Err)
}

// SkipReason says why an adjacency line contributed no edges.
type SkipReason int

const (
	// SkipNone means the line was processed normally.
	SkipNone SkipReason = iota

	// SkipBlank means the line was empty or whitespace only.
	SkipBlank

	// SkipSourceOutOfRange means the line number has no matching node.
	SkipSourceOutOfRange

	// SkipNoValidTokens means the line had content but every token was
	// dropped.
	SkipNoValidTokens
)

// String returns the reason name.
func (r SkipReason) String() string {
	switch r {
	case SkipNone:
		return "none"
	case SkipBlank:
		return "blank"
	case SkipSourceOutOfRange:
		return "source_out_of_range"
	case SkipNoValidTokens:
		return "no_valid_tokens"
	default:
		return fmt.Sprintf("SkipReason(%d)", int(r))
	}
}

// SkippedRecord identifies an adjacency line that produced no edges.
type SkippedRecord struct {
	// Line is the 1-based line number.
	Line int

	// Reason is why the line was skipped.
	Reason SkipReason
}
