// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads geograph run configuration.
//
// Priority is env > file > defaults. Files are YAML, or JSON as a
// fallback. Environment overrides use the GEOGRAPH_ prefix.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/geograph/pkg/logging"
	"github.com/AleutianAI/geograph/services/geograph/ingest"
	"github.com/AleutianAI/geograph/services/geograph/spill"
	"github.com/AleutianAI/geograph/services/geograph/telemetry"
)

// Config is the full run configuration.
type Config struct {
	// Sources names the input files.
	Sources SourcesConfig `json:"sources" yaml:"sources"`

	// Snapshot names the binary graph file.
	Snapshot SnapshotConfig `json:"snapshot" yaml:"snapshot"`

	// Spill controls the batch accumulator and its store.
	Spill SpillConfig `json:"spill" yaml:"spill"`

	// Pipeline controls the scan stages.
	Pipeline PipelineConfig `json:"pipeline" yaml:"pipeline"`

	// Logging controls pkg/logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Telemetry controls the OpenTelemetry exporters.
	Telemetry telemetry.Config `json:"telemetry" yaml:"telemetry"`
}

// SourcesConfig names the text inputs.
type SourcesConfig struct {
	LocationPath  string `json:"location_path" yaml:"location_path"`
	AdjacencyPath string `json:"adjacency_path" yaml:"adjacency_path"`
	Delimiter     string `json:"delimiter" yaml:"delimiter" validate:"required"`
}

// SnapshotConfig names the snapshot file.
type SnapshotConfig struct {
	Path string `json:"path" yaml:"path"`
}

// SpillConfig controls spilling.
type SpillConfig struct {
	// Threshold is the edge count that triggers a flush.
	Threshold int `json:"threshold" yaml:"threshold" validate:"gte=1"`

	// Backend is "file" or "badger".
	Backend string `json:"backend" yaml:"backend" validate:"oneof=file badger"`

	// Dir is the base directory for spill data. Empty means os.TempDir().
	Dir string `json:"dir" yaml:"dir"`

	// FlushWorkers bounds concurrent segment writes.
	FlushWorkers int `json:"flush_workers" yaml:"flush_workers" validate:"gte=1,lte=64"`

	// InMemory keeps a badger store in RAM.
	InMemory bool `json:"in_memory" yaml:"in_memory"`

	// ChunkEdges is the badger value size in edges. Zero means the default.
	ChunkEdges int `json:"chunk_edges" yaml:"chunk_edges" validate:"gte=0"`
}

// PipelineConfig controls the scan stages.
type PipelineConfig struct {
	QueueDepth int `json:"queue_depth" yaml:"queue_depth" validate:"gte=1"`
	BatchLines int `json:"batch_lines" yaml:"batch_lines" validate:"gte=1"`

	// MaxRecordedSkips caps IngestResult.Skipped. -1 means unlimited.
	MaxRecordedSkips int `json:"max_recorded_skips" yaml:"max_recorded_skips" validate:"gte=-1"`
}

// LoggingConfig controls the run logger.
type LoggingConfig struct {
	Level string `json:"level" yaml:"level" validate:"oneof=debug info warn warning error"`
	Dir   string `json:"dir" yaml:"dir"`
	JSON  bool   `json:"json" yaml:"json"`
	Quiet bool   `json:"quiet" yaml:"quiet"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Sources: SourcesConfig{
			Delimiter: ingest.DefaultDelimiter,
		},
		Spill: SpillConfig{
			Threshold:    ingest.DefaultSpillThreshold,
			Backend:      spill.BackendFile,
			FlushWorkers: min(runtime.NumCPU(), 4),
		},
		Pipeline: PipelineConfig{
			QueueDepth:       ingest.DefaultQueueDepth,
			BatchLines:       ingest.DefaultBatchLines,
			MaxRecordedSkips: ingest.DefaultMaxRecordedSkips,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// Load loads configuration with priority: env > file > defaults.
//
// Inputs:
//
//	path - YAML or JSON file. Empty or missing means defaults only.
//
// Outputs:
//
//	Config - Merged configuration.
//	error - Non-nil if the file or an environment value is invalid, or
//	the merged result fails Validate.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := loadEnv(&cfg); err != nil {
		return cfg, fmt.Errorf("load config env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	// Try YAML first, then JSON.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}
	return nil
}

// envReader applies GEOGRAPH_* variables and remembers the first bad one.
type envReader struct {
	err error
}

func (r *envReader) strVar(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func (r *envReader) intVar(key string, dst *int) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		r.fail(key, v, err)
		return
	}
	*dst = i
}

func (r *envReader) boolVar(key string, dst *bool) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		r.fail(key, v, err)
		return
	}
	*dst = b
}

func (r *envReader) floatVar(key string, dst *float64) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		r.fail(key, v, err)
		return
	}
	*dst = f
}

func (r *envReader) fail(key, value string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("%s=%q: %w", key, value, err)
	}
}

func loadEnv(cfg *Config) error {
	var r envReader

	r.strVar("GEOGRAPH_LOCATIONS", &cfg.Sources.LocationPath)
	r.strVar("GEOGRAPH_ADJACENCY", &cfg.Sources.AdjacencyPath)
	r.strVar("GEOGRAPH_DELIMITER", &cfg.Sources.Delimiter)
	r.strVar("GEOGRAPH_SNAPSHOT", &cfg.Snapshot.Path)

	r.intVar("GEOGRAPH_SPILL_THRESHOLD", &cfg.Spill.Threshold)
	r.strVar("GEOGRAPH_SPILL_BACKEND", &cfg.Spill.Backend)
	r.strVar("GEOGRAPH_SPILL_DIR", &cfg.Spill.Dir)
	r.intVar("GEOGRAPH_FLUSH_WORKERS", &cfg.Spill.FlushWorkers)
	r.boolVar("GEOGRAPH_SPILL_IN_MEMORY", &cfg.Spill.InMemory)

	r.intVar("GEOGRAPH_QUEUE_DEPTH", &cfg.Pipeline.QueueDepth)
	r.intVar("GEOGRAPH_BATCH_LINES", &cfg.Pipeline.BatchLines)
	r.intVar("GEOGRAPH_MAX_RECORDED_SKIPS", &cfg.Pipeline.MaxRecordedSkips)

	r.strVar("GEOGRAPH_LOG_LEVEL", &cfg.Logging.Level)
	r.strVar("GEOGRAPH_LOG_DIR", &cfg.Logging.Dir)
	r.boolVar("GEOGRAPH_LOG_JSON", &cfg.Logging.JSON)
	r.boolVar("GEOGRAPH_LOG_QUIET", &cfg.Logging.Quiet)

	r.strVar("GEOGRAPH_TRACE_EXPORTER", &cfg.Telemetry.TraceExporter)
	r.strVar("GEOGRAPH_METRIC_EXPORTER", &cfg.Telemetry.MetricExporter)
	r.floatVar("GEOGRAPH_TRACE_SAMPLE_RATIO", &cfg.Telemetry.SampleRatio)

	return r.err
}

var validate = validator.New()

// Validate checks every section.
//
// Outputs:
//
//	error - Non-nil if any field fails its constraint. The message names
//	each failing field.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ValidateBuild additionally requires both input paths and the snapshot
// path, which a build run needs and a load run does not.
func (c Config) ValidateBuild() error {
	if err := c.Validate(); err != nil {
		return err
	}
	var missing []string
	if c.Sources.LocationPath == "" {
		missing = append(missing, "sources.location_path")
	}
	if c.Sources.AdjacencyPath == "" {
		missing = append(missing, "sources.adjacency_path")
	}
	if c.Snapshot.Path == "" {
		missing = append(missing, "snapshot.path")
	}
	if len(missing) > 0 {
		return fmt.Errorf("invalid config: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// ToIngestOptions converts the spill and pipeline sections.
func (c Config) ToIngestOptions(logger *slog.Logger) []ingest.Option {
	return []ingest.Option{
		ingest.WithDelimiter(c.Sources.Delimiter),
		ingest.WithSpillThreshold(c.Spill.Threshold),
		ingest.WithFlushWorkers(c.Spill.FlushWorkers),
		ingest.WithQueueDepth(c.Pipeline.QueueDepth),
		ingest.WithBatchLines(c.Pipeline.BatchLines),
		ingest.WithMaxRecordedSkips(c.Pipeline.MaxRecordedSkips),
		ingest.WithSpillOptions(c.ToSpillOptions(logger)),
		ingest.WithLogger(logger),
	}
}

// ToSpillOptions converts the spill section.
func (c Config) ToSpillOptions(logger *slog.Logger) spill.Options {
	return spill.Options{
		Backend:  c.Spill.Backend,
		Dir:      c.Spill.Dir,
		InMemory: c.Spill.InMemory,
		Badger: spill.BadgerConfig{
			ChunkEdges: c.Spill.ChunkEdges,
			Logger:     logger,
		},
	}
}

// ToLoggingConfig converts the logging section. Level is assumed valid.
func (c Config) ToLoggingConfig() logging.Config {
	level, _ := logging.ParseLevel(c.Logging.Level)
	return logging.Config{
		Level:   level,
		LogDir:  c.Logging.Dir,
		Service: c.Telemetry.ServiceName,
		JSON:    c.Logging.JSON,
		Quiet:   c.Logging.Quiet,
	}
}
