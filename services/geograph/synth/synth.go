// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package synth generates synthetic location and adjacency sources.
//
// The output follows the input formats ingestion accepts and is fully
// determined by the seed. Destinations are drawn from [1, MaxDestination],
// so setting MaxDestination above Nodes produces out-of-range tokens that
// ingestion must drop.
package synth

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
)

// ctxCheckInterval is how many lines pass between context checks.
const ctxCheckInterval = 1 << 14

// Config controls generation.
type Config struct {
	// Nodes is the number of location lines.
	Nodes int `yaml:"nodes" json:"nodes" validate:"gte=1"`

	// Lines is the number of adjacency lines. Zero means Nodes.
	Lines int `yaml:"lines" json:"lines" validate:"gte=0"`

	// MinDegree and MaxDegree bound the tokens per adjacency line.
	MinDegree int `yaml:"min_degree" json:"min_degree" validate:"gte=1"`
	MaxDegree int `yaml:"max_degree" json:"max_degree" validate:"gtefield=MinDegree"`

	// MaxDestination is the largest 1-based destination drawn. Zero means Nodes.
	MaxDestination int `yaml:"max_destination" json:"max_destination" validate:"gte=0"`

	// Coordinate ranges, inclusive of the minimum.
	LatMin float64 `yaml:"lat_min" json:"lat_min" validate:"gte=-90,lte=90"`
	LatMax float64 `yaml:"lat_max" json:"lat_max" validate:"gte=-90,lte=90,gtefield=LatMin"`
	LonMin float64 `yaml:"lon_min" json:"lon_min" validate:"gte=-180,lte=180"`
	LonMax float64 `yaml:"lon_max" json:"lon_max" validate:"gte=-180,lte=180,gtefield=LonMin"`

	// LeadingIndex prefixes each adjacency line with its zero-based line
	// index, as older generators did. The prefix is read as an ordinary
	// destination token.
	LeadingIndex bool `yaml:"leading_index" json:"leading_index"`

	// Delimiter separates fields. Default: ","
	Delimiter string `yaml:"delimiter" json:"delimiter"`

	// Seed makes the output reproducible.
	Seed uint64 `yaml:"seed" json:"seed"`
}

// DefaultConfig returns a small dataset in the coordinate box the legacy
// generator used.
func DefaultConfig() Config {
	return Config{
		Nodes:     1000,
		MinDegree: 1,
		MaxDegree: 30,
		LatMin:    -84,
		LatMax:    -82,
		LonMin:    134,
		LonMax:    136,
		Delimiter: ",",
		Seed:      1,
	}
}

var validate = validator.New()

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid synth config: %w", err)
	}
	return nil
}

func (c Config) lines() int {
	if c.Lines == 0 {
		return c.Nodes
	}
	return c.Lines
}

func (c Config) maxDestination() int {
	if c.MaxDestination == 0 {
		return c.Nodes
	}
	return c.MaxDestination
}

func (c Config) delimiter() string {
	if c.Delimiter == "" {
		return ","
	}
	return c.Delimiter
}

// Result summarizes generated files.
type Result struct {
	LocationPath  string
	AdjacencyPath string
	Nodes         int
	Lines         int

	// Tokens is the number of destination tokens written, including
	// any leading index.
	Tokens int
}

// Generate writes a location file and an adjacency file.
//
// Inputs:
//
//	ctx - Checked periodically for cancellation.
//	cfg - Generation parameters. Validated first.
//	locationPath, adjacencyPath - Output files, created or truncated.
//
// Outputs:
//
//	*Result - What was written.
//	error - Non-nil on invalid configuration or I/O failure. Files may be
//	partially written.
func Generate(ctx context.Context, cfg Config, locationPath, adjacencyPath string) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))

	if err := writeFile(locationPath, func(w io.Writer) error {
		return WriteLocations(ctx, w, cfg, rng)
	}); err != nil {
		return nil, fmt.Errorf("write locations: %w", err)
	}

	var tokens int
	if err := writeFile(adjacencyPath, func(w io.Writer) error {
		var err error
		tokens, err = WriteAdjacency(ctx, w, cfg, rng)
		return err
	}); err != nil {
		return nil, fmt.Errorf("write adjacency: %w", err)
	}

	return &Result{
		LocationPath:  locationPath,
		AdjacencyPath: adjacencyPath,
		Nodes:         cfg.Nodes,
		Lines:         cfg.lines(),
		Tokens:        tokens,
	}, nil
}

func writeFile(path string, fill func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(f, 1<<20)
	if err := fill(bw); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteLocations writes cfg.Nodes "lat,lon" lines drawn uniformly from
// the configured box. Values use the shortest exact decimal form.
func WriteLocations(ctx context.Context, w io.Writer, cfg Config, rng *rand.Rand) error {
	delim := cfg.delimiter()
	buf := make([]byte, 0, 64)
	for i := 0; i < cfg.Nodes; i++ {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		lat := cfg.LatMin + rng.Float64()*(cfg.LatMax-cfg.LatMin)
		lon := cfg.LonMin + rng.Float64()*(cfg.LonMax-cfg.LonMin)

		buf = strconv.AppendFloat(buf[:0], lat, 'g', -1, 64)
		buf = append(buf, delim...)
		buf = strconv.AppendFloat(buf, lon, 'g', -1, 64)
		buf = append(buf, '\n')
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

// WriteAdjacency writes the adjacency lines and returns the token count.
func WriteAdjacency(ctx context.Context, w io.Writer, cfg Config, rng *rand.Rand) (int, error) {
	delim := cfg.delimiter()
	maxDst := cfg.maxDestination()
	tokens := 0
	buf := make([]byte, 0, 256)

	for i := 0; i < cfg.lines(); i++ {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return tokens, err
			}
		}
		buf = buf[:0]
		if cfg.LeadingIndex {
			buf = strconv.AppendInt(buf, int64(i), 10)
			tokens++
		}
		degree := cfg.MinDegree + rng.IntN(cfg.MaxDegree-cfg.MinDegree+1)
		for j := 0; j < degree; j++ {
			if len(buf) > 0 {
				buf = append(buf, delim...)
			}
			buf = strconv.AppendInt(buf, int64(1+rng.IntN(maxDst)), 10)
		}
		tokens += degree
		buf = append(buf, '\n')
		if _, err := w.Write(buf); err != nil {
			return tokens, err
		}
	}
	return tokens, nil
}
