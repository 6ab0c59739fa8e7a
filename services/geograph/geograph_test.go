// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package geograph

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/geograph/pkg/logging"
	"github.com/AleutianAI/geograph/services/geograph/config"
	"github.com/AleutianAI/geograph/services/geograph/ingest"
	"github.com/AleutianAI/geograph/services/geograph/snapshot"
	"github.com/AleutianAI/geograph/services/geograph/spill"
	"github.com/AleutianAI/geograph/services/geograph/synth"
)

// buildConfig generates a dataset and returns a config pointing at it.
func buildConfig(t *testing.T, nodes int) config.Config {
	t.Helper()
	dir := t.TempDir()

	gen := synth.DefaultConfig()
	gen.Nodes = nodes
	gen.MaxDestination = nodes + nodes/10
	locPath := filepath.Join(dir, "locations.csv")
	adjPath := filepath.Join(dir, "adjacency.csv")
	_, err := synth.Generate(context.Background(), gen, locPath, adjPath)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Sources.LocationPath = locPath
	cfg.Sources.AdjacencyPath = adjPath
	cfg.Snapshot.Path = filepath.Join(dir, "graph.geograph")
	cfg.Spill.Threshold = 500
	cfg.Spill.Dir = filepath.Join(dir, "spill")
	require.NoError(t, os.MkdirAll(cfg.Spill.Dir, 0750))
	cfg.Logging.Quiet = true
	cfg.Telemetry.TraceExporter = "none"
	cfg.Telemetry.MetricExporter = "none"
	return cfg
}

func capture(t *testing.T) (*logging.Logger, *logging.BufferedExporter) {
	t.Helper()
	exporter := logging.NewBufferedExporter()
	logger, err := logging.New(logging.Config{Quiet: true, Level: logging.LevelDebug, Exporter: exporter})
	require.NoError(t, err)
	t.Cleanup(func() { logger.Close() })
	return logger, exporter
}

func TestBuildThenLoad(t *testing.T) {
	cfg := buildConfig(t, 400)
	logger, exporter := capture(t)

	report, err := Build(context.Background(), cfg, logger.Slog())
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 400, report.Stats.Nodes)
	assert.Equal(t, 400, report.Graph.VertexCount())
	assert.Equal(t, report.Stats.Edges, report.Graph.EdgeCount())
	assert.Greater(t, report.Stats.Segments, 1, "threshold forces several spill segments")
	assert.Positive(t, report.Stats.OutOfRangeTokens)
	assert.Empty(t, report.Warnings)
	assert.Equal(t, cfg.Snapshot.Path, report.Snapshot.Path)
	assert.Equal(t, report.Graph.EdgeCount(), report.Summary.Edges)

	var found bool
	for _, e := range exporter.Entries() {
		if e.Message == "build completed" {
			found = true
			assert.Equal(t, report.RunID, e.Attrs["run_id"])
		}
	}
	assert.True(t, found, "build completion logged through the run logger")

	loaded, err := Load(context.Background(), cfg.Snapshot.Path, logger.Slog())
	require.NoError(t, err)
	assert.Equal(t, report.Graph.Edges(), loaded.Graph.Edges())
	assert.True(t, report.Graph.Locations().Equal(loaded.Graph.Locations()))
	assert.Equal(t, report.Summary, loaded.Summary)
	assert.Equal(t, report.Snapshot.Checksum, loaded.Snapshot.Checksum)

	entries, err := os.ReadDir(cfg.Spill.Dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "spill data removed after the build")
}

func TestBuild_BadgerBackendMatchesFile(t *testing.T) {
	cfg := buildConfig(t, 250)

	fileReport, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)

	cfg.Spill.Backend = spill.BackendBadger
	cfg.Spill.InMemory = true
	cfg.Snapshot.Path = filepath.Join(t.TempDir(), "badger.geograph")
	badgerReport, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)

	assert.Equal(t, fileReport.Graph.Edges(), badgerReport.Graph.Edges())
	assert.Equal(t, fileReport.Snapshot.Checksum, badgerReport.Snapshot.Checksum)
}

func TestBuild_IncompleteConfig(t *testing.T) {
	cfg := config.Default()
	_, err := Build(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestBuild_MalformedLocationKeepsPreviousSnapshot(t *testing.T) {
	cfg := buildConfig(t, 50)
	_, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	before, err := os.ReadFile(cfg.Snapshot.Path)
	require.NoError(t, err)

	f, err := os.OpenFile(cfg.Sources.LocationPath, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteString("north,east\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = Build(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ingest.ErrMalformedInput)

	after, err := os.ReadFile(cfg.Snapshot.Path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestLoad_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.geograph")
	require.NoError(t, os.WriteFile(path, []byte("not a snapshot"), 0640))

	_, err := Load(context.Background(), path, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, snapshot.ErrPersistenceRead)

	_, err = Load(context.Background(), filepath.Join(t.TempDir(), "absent"), nil)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestStart(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.Quiet = true
	cfg.Logging.Dir = t.TempDir()
	cfg.Telemetry.TraceExporter = "none"
	cfg.Telemetry.MetricExporter = "none"

	rt, err := Start(context.Background(), cfg)
	require.NoError(t, err)
	assert.NotEmpty(t, rt.Logger.FilePath())
	rt.Logger.Info("runtime ready")
	require.NoError(t, rt.Close(context.Background()))

	data, err := os.ReadFile(rt.Logger.FilePath())
	require.NoError(t, err)
	assert.Contains(t, string(data), "runtime ready")
}

func TestStart_BadTelemetry(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.Quiet = true
	cfg.Telemetry.TraceExporter = "zipkin"

	_, err := Start(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "init telemetry")
}
