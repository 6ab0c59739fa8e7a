// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/geograph/pkg/logging"
	"github.com/AleutianAI/geograph/services/geograph/ingest"
	"github.com/AleutianAI/geograph/services/geograph/spill"
)

// clearEnv blanks every variable Load reads so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"GEOGRAPH_LOCATIONS", "GEOGRAPH_ADJACENCY", "GEOGRAPH_DELIMITER", "GEOGRAPH_SNAPSHOT",
		"GEOGRAPH_SPILL_THRESHOLD", "GEOGRAPH_SPILL_BACKEND", "GEOGRAPH_SPILL_DIR",
		"GEOGRAPH_FLUSH_WORKERS", "GEOGRAPH_SPILL_IN_MEMORY",
		"GEOGRAPH_QUEUE_DEPTH", "GEOGRAPH_BATCH_LINES", "GEOGRAPH_MAX_RECORDED_SKIPS",
		"GEOGRAPH_LOG_LEVEL", "GEOGRAPH_LOG_DIR", "GEOGRAPH_LOG_JSON", "GEOGRAPH_LOG_QUIET",
		"GEOGRAPH_TRACE_EXPORTER", "GEOGRAPH_METRIC_EXPORTER", "GEOGRAPH_TRACE_SAMPLE_RATIO",
		"GEOGRAPH_ENV", "OTEL_TRACES_EXPORTER", "OTEL_METRICS_EXPORTER",
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefault(t *testing.T) {
	clearEnv(t)
	cfg := Default()

	assert.Equal(t, ",", cfg.Sources.Delimiter)
	assert.Equal(t, 4_000_000, cfg.Spill.Threshold)
	assert.Equal(t, spill.BackendFile, cfg.Spill.Backend)
	assert.GreaterOrEqual(t, cfg.Spill.FlushWorkers, 1)
	assert.Equal(t, 16, cfg.Pipeline.QueueDepth)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "geograph", cfg.Telemetry.ServiceName)
	require.NoError(t, cfg.Validate())

	err := cfg.ValidateBuild()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sources.location_path")
	assert.Contains(t, err.Error(), "sources.adjacency_path")
	assert.Contains(t, err.Error(), "snapshot.path")
}

func TestLoad_FromYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "geograph.yaml", `
sources:
  location_path: /data/locations.csv
  adjacency_path: /data/adjacency.csv
  delimiter: ";"
snapshot:
  path: /data/graph.geograph
spill:
  threshold: 1000
  backend: badger
  in_memory: true
  chunk_edges: 512
pipeline:
  batch_lines: 64
  max_recorded_skips: -1
logging:
  level: debug
  json: true
telemetry:
  service_name: geograph-batch
  trace_exporter: stdout
  metric_exporter: none
  sample_ratio: 0.25
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.ValidateBuild())

	assert.Equal(t, "/data/locations.csv", cfg.Sources.LocationPath)
	assert.Equal(t, ";", cfg.Sources.Delimiter)
	assert.Equal(t, "/data/graph.geograph", cfg.Snapshot.Path)
	assert.Equal(t, 1000, cfg.Spill.Threshold)
	assert.Equal(t, "badger", cfg.Spill.Backend)
	assert.True(t, cfg.Spill.InMemory)
	assert.Equal(t, 512, cfg.Spill.ChunkEdges)
	assert.Equal(t, 64, cfg.Pipeline.BatchLines)
	assert.Equal(t, 16, cfg.Pipeline.QueueDepth, "unset fields keep defaults")
	assert.Equal(t, -1, cfg.Pipeline.MaxRecordedSkips)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.JSON)
	assert.Equal(t, "geograph-batch", cfg.Telemetry.ServiceName)
	assert.Equal(t, "stdout", cfg.Telemetry.TraceExporter)
	assert.Equal(t, 0.25, cfg.Telemetry.SampleRatio)
}

func TestLoad_FromJSON(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "geograph.json", `{
  "spill": {"threshold": 77, "flush_workers": 2},
  "pipeline": {"queue_depth": 3}
}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 77, cfg.Spill.Threshold)
	assert.Equal(t, 2, cfg.Spill.FlushWorkers)
	assert.Equal(t, 3, cfg.Pipeline.QueueDepth)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "geograph.yaml", `
spill:
  threshold: 1000
  backend: file
logging:
  level: warn
`)
	t.Setenv("GEOGRAPH_SPILL_THRESHOLD", "250")
	t.Setenv("GEOGRAPH_SPILL_BACKEND", "badger")
	t.Setenv("GEOGRAPH_SPILL_IN_MEMORY", "true")
	t.Setenv("GEOGRAPH_LOG_LEVEL", "error")
	t.Setenv("GEOGRAPH_LOCATIONS", "/env/loc.csv")
	t.Setenv("GEOGRAPH_TRACE_SAMPLE_RATIO", "0.5")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 250, cfg.Spill.Threshold)
	assert.Equal(t, "badger", cfg.Spill.Backend)
	assert.True(t, cfg.Spill.InMemory)
	assert.Equal(t, "error", cfg.Logging.Level)
	assert.Equal(t, "/env/loc.csv", cfg.Sources.LocationPath)
	assert.Equal(t, 0.5, cfg.Telemetry.SampleRatio)
}

func TestLoad_BadEnvValue(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEOGRAPH_BATCH_LINES", "many")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GEOGRAPH_BATCH_LINES")
	assert.Contains(t, err.Error(), `"many"`)
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Spill, cfg.Spill)
}

func TestLoad_InvalidFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "broken.yaml", "spill: [threshold\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config file")
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name  string
		mut   func(*Config)
		field string
	}{
		{"unknown backend", func(c *Config) { c.Spill.Backend = "s3" }, "Backend"},
		{"zero threshold", func(c *Config) { c.Spill.Threshold = 0 }, "Threshold"},
		{"too many workers", func(c *Config) { c.Spill.FlushWorkers = 65 }, "FlushWorkers"},
		{"zero queue depth", func(c *Config) { c.Pipeline.QueueDepth = 0 }, "QueueDepth"},
		{"skip cap below -1", func(c *Config) { c.Pipeline.MaxRecordedSkips = -2 }, "MaxRecordedSkips"},
		{"empty delimiter", func(c *Config) { c.Sources.Delimiter = "" }, "Delimiter"},
		{"unknown log level", func(c *Config) { c.Logging.Level = "loud" }, "Level"},
		{"unknown metric exporter", func(c *Config) { c.Telemetry.MetricExporter = "otlp" }, "MetricExporter"},
		{"sample ratio above one", func(c *Config) { c.Telemetry.SampleRatio = 2 }, "SampleRatio"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mut(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid config")
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestToIngestOptions(t *testing.T) {
	clearEnv(t)
	cfg := Default()
	cfg.Sources.Delimiter = "|"
	cfg.Spill.Threshold = 99
	cfg.Spill.FlushWorkers = 3
	cfg.Spill.Backend = spill.BackendBadger
	cfg.Spill.InMemory = true
	cfg.Spill.ChunkEdges = 128
	cfg.Pipeline.QueueDepth = 5
	cfg.Pipeline.BatchLines = 7
	cfg.Pipeline.MaxRecordedSkips = 11

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	opts := ingest.NewIngester(cfg.ToIngestOptions(logger)...).Options()

	assert.Equal(t, "|", opts.Delimiter)
	assert.Equal(t, 99, opts.SpillThreshold)
	assert.Equal(t, 3, opts.FlushWorkers)
	assert.Equal(t, 5, opts.QueueDepth)
	assert.Equal(t, 7, opts.BatchLines)
	assert.Equal(t, 11, opts.MaxRecordedSkips)
	assert.Equal(t, spill.BackendBadger, opts.Spill.Backend)
	assert.True(t, opts.Spill.InMemory)
	assert.Equal(t, 128, opts.Spill.Badger.ChunkEdges)
	assert.Same(t, logger, opts.Logger)
}

func TestToLoggingConfig(t *testing.T) {
	clearEnv(t)
	cfg := Default()
	cfg.Logging = LoggingConfig{Level: "warning", Dir: "/tmp/logs", JSON: true, Quiet: true}

	lc := cfg.ToLoggingConfig()
	assert.Equal(t, logging.LevelWarn, lc.Level)
	assert.Equal(t, "/tmp/logs", lc.LogDir)
	assert.Equal(t, "geograph", lc.Service)
	assert.True(t, lc.JSON)
	assert.True(t, lc.Quiet)
}
