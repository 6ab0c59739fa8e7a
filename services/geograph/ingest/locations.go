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
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/geograph/services/geograph/graph"
)

const (
	// readBufferSize is the bufio size for both text sources.
	readBufferSize = 1 << 20

	// ctxCheckInterval is how many lines pass between context checks.
	ctxCheckInterval = 1 << 14
)

var (
	errFieldCount = errors.New("want exactly two fields")
	errNotFinite  = errors.New("coordinate is not finite")
	errBlankLine  = errors.New("blank line")
)

// lineReader yields lines without their terminator. Lines may be any
// length. A final line without a newline is returned; a trailing newline
// does not produce an extra empty line.
type lineReader struct {
	r    *bufio.Reader
	line int
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{r: bufio.NewReaderSize(r, readBufferSize)}
}

// next returns the next line and its 1-based number. It returns io.EOF
// once the input is exhausted.
func (lr *lineReader) next() (string, int, error) {
	s, err := lr.r.ReadString('\n')
	if err != nil {
		if !errors.Is(err, io.EOF) {
			return "", lr.line, err
		}
		if s == "" {
			return "", lr.line, io.EOF
		}
	}
	lr.line++
	s = strings.TrimSuffix(s, "\n")
	s = strings.TrimSuffix(s, "\r")
	return s, lr.line, nil
}

// LoadLocations reads the location source at path.
//
// Description:
//
//	Each line holds "lat<delim>lon". Line i becomes node i-1. Loading
//	is all or nothing: the first malformed line aborts with a
//	*MalformedInputError and no partial result.
//
// Inputs:
//
//	ctx - Checked periodically for cancellation.
//	path - The location file.
//	opts - Only Delimiter and Logger are used.
//
// Outputs:
//
//	*graph.Locations - One entry per line. An empty source yields an
//	empty array.
//	error - *MalformedInputError, graph.ErrTooManyNodes, or an I/O error.
func LoadLocations(ctx context.Context, path string, opts ...Option) (*graph.Locations, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open location source: %w", err)
	}
	defer f.Close()

	// Pre-size from the file length; a location line is rarely shorter
	// than 16 bytes.
	capacity := 0
	if info, err := f.Stat(); err == nil {
		capacity = int(min(info.Size()/16, 1<<24))
	}
	return readLocations(ctx, f, path, capacity, resolve(opts))
}

// ReadLocations reads a location source from r. name is used in errors.
func ReadLocations(ctx context.Context, r io.Reader, name string, opts ...Option) (*graph.Locations, error) {
	return readLocations(ctx, r, name, 0, resolve(opts))
}

func readLocations(ctx context.Context, r io.Reader, name string, capacity int, options Options) (*graph.Locations, error) {
	start := time.Now()
	lr := newLineReader(r)
	locs := graph.NewLocations(capacity)

	for {
		text, line, err := lr.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s at line %d: %w", name, line+1, err)
		}
		if line%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if line > graph.MaxNodes {
			return nil, fmt.Errorf("%s: %w", name, graph.ErrTooManyNodes)
		}

		lat, lon, err := parseLocation(text, options.Delimiter)
		if err != nil {
			return nil, newMalformedInputError(name, line, text, err)
		}
		locs.Append(lat, lon)
	}

	options.Logger.Debug("locations loaded",
		slog.String("source", name),
		slog.Int("nodes", locs.Len()),
		slog.Duration("duration", time.Since(start)),
	)
	return locs, nil
}

// parseLocation parses "lat<delim>lon" with surrounding whitespace allowed.
func parseLocation(text, delimiter string) (float64, float64, error) {
	if strings.TrimSpace(text) == "" {
		return 0, 0, errBlankLine
	}
	latText, lonText, ok := strings.Cut(text, delimiter)
	if !ok || strings.Contains(lonText, delimiter) {
		return 0, 0, errFieldCount
	}
	lat, err := parseCoordinate(latText)
	if err != nil {
		return 0, 0, fmt.Errorf("latitude: %w", err)
	}
	lon, err := parseCoordinate(lonText)
	if err != nil {
		return 0, 0, fmt.Errorf("longitude: %w", err)
	}
	return lat, lon, nil
}

func parseCoordinate(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errNotFinite
	}
	return v, nil
}
