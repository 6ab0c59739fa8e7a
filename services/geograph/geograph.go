// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package geograph runs the end-to-end graph build and load paths.
//
// A build ingests the location and adjacency sources, saves the graph as
// a snapshot and summarizes its degree distribution:
//
//	rt, err := geograph.Start(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer rt.Close(context.Background())
//
//	report, err := geograph.Build(ctx, cfg, rt.Logger.Slog())
//
// A load reads a snapshot back and summarizes it. Neither path formats
// output; reports are plain data.
package geograph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/geograph/pkg/logging"
	"github.com/AleutianAI/geograph/services/geograph/config"
	"github.com/AleutianAI/geograph/services/geograph/graph"
	"github.com/AleutianAI/geograph/services/geograph/ingest"
	"github.com/AleutianAI/geograph/services/geograph/snapshot"
	"github.com/AleutianAI/geograph/services/geograph/stats"
	"github.com/AleutianAI/geograph/services/geograph/telemetry"
)

// Runtime holds the process-wide logger and telemetry providers.
type Runtime struct {
	Logger *logging.Logger

	shutdown func(context.Context) error
}

// Start builds the logger and installs telemetry from cfg.
//
// Outputs:
//
//	*Runtime - Close it on exit to flush logs and exporters.
//	error - Non-nil if the log file or an exporter cannot be set up.
func Start(ctx context.Context, cfg config.Config) (*Runtime, error) {
	logger, err := logging.New(cfg.ToLoggingConfig())
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("init telemetry: %w", err), logger.Close())
	}
	return &Runtime{Logger: logger, shutdown: shutdown}, nil
}

// Close shuts down telemetry, then closes the logger.
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error
	if r.shutdown != nil {
		if err := r.shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
		}
	}
	if err := r.Logger.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close logger: %w", err))
	}
	return errors.Join(errs...)
}

// BuildReport describes a completed build.
type BuildReport struct {
	RunID    string
	Graph    *graph.Graph
	Stats    ingest.IngestStats
	Skipped  []ingest.SkippedRecord
	Warnings []ingest.CleanupWarning
	Snapshot *snapshot.Info
	Summary  stats.Summary

	SaveDuration  time.Duration
	TotalDuration time.Duration
}

// Build ingests the configured sources and saves the graph.
//
// Description:
//
//	Runs the ingestion pipeline with the spill and pipeline settings of
//	cfg, saves the resulting graph to cfg.Snapshot.Path, summarizes it
//	and logs the duration of each phase.
//
// Inputs:
//
//	ctx - Cancels ingestion and the snapshot write.
//	cfg - Must pass ValidateBuild.
//	logger - Receives run logs. Nil means slog.Default().
//
// Outputs:
//
//	*BuildReport - The graph, ingestion statistics and snapshot info.
//	error - Non-nil if configuration is incomplete, ingestion fails
//	(malformed location, spill or assembly failure) or the snapshot cannot
//	be written. A failed save leaves any previous snapshot in place.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildReport, error) {
	if err := cfg.ValidateBuild(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()

	res, err := ingest.NewIngester(cfg.ToIngestOptions(logger)...).
		Ingest(ctx, cfg.Sources.LocationPath, cfg.Sources.AdjacencyPath)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	runLogger := logger.With(slog.String("run_id", res.RunID))

	saveStart := time.Now()
	info, err := snapshot.Save(ctx, res.Graph, cfg.Snapshot.Path, snapshot.WithLogger(runLogger))
	if err != nil {
		return nil, fmt.Errorf("save snapshot: %w", err)
	}
	saveDuration := time.Since(saveStart)

	report := &BuildReport{
		RunID:         res.RunID,
		Graph:         res.Graph,
		Stats:         res.Stats,
		Skipped:       res.Skipped,
		Warnings:      res.Warnings,
		Snapshot:      info,
		Summary:       stats.Summarize(res.Graph),
		SaveDuration:  saveDuration,
		TotalDuration: time.Since(start),
	}

	runLogger.Info("build completed",
		slog.Int("nodes", report.Stats.Nodes),
		slog.Int("edges", report.Stats.Edges),
		slog.Int("segments", report.Stats.Segments),
		slog.Int("skipped_lines", report.Stats.SkippedLines()),
		slog.Int("dropped_tokens", report.Stats.DroppedTokens()),
		slog.Int("isolated_nodes", report.Summary.Isolated),
		slog.Int("cleanup_warnings", len(report.Warnings)),
		slog.Duration("location_duration", report.Stats.LocationDuration),
		slog.Duration("scan_duration", report.Stats.ScanDuration),
		slog.Duration("assemble_duration", report.Stats.AssembleDuration),
		slog.Duration("save_duration", saveDuration),
		slog.Duration("total_duration", report.TotalDuration),
		slog.String("snapshot", info.Path),
	)
	return report, nil
}

// LoadReport describes a loaded snapshot.
type LoadReport struct {
	Graph    *graph.Graph
	Snapshot *snapshot.Info
	Summary  stats.Summary
	Duration time.Duration
}

// Load reads a snapshot and summarizes it.
//
// Outputs:
//
//	*LoadReport - The validated graph and its summary.
//	error - A snapshot.PersistenceReadError for unreadable or invalid
//	files.
func Load(ctx context.Context, path string, logger *slog.Logger) (*LoadReport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()

	info, err := snapshot.Stat(path)
	if err != nil {
		return nil, err
	}
	g, err := snapshot.Load(ctx, path, snapshot.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	report := &LoadReport{
		Graph:    g,
		Snapshot: info,
		Summary:  stats.Summarize(g),
		Duration: time.Since(start),
	}
	logger.Info("load completed",
		slog.String("snapshot", path),
		slog.Int("nodes", report.Summary.Nodes),
		slog.Int("edges", report.Summary.Edges),
		slog.Float64("mean_out_degree", report.Summary.Out.Mean),
		slog.Int("max_out_degree", report.Summary.Out.Max),
		slog.Duration("duration", report.Duration),
	)
	return report, nil
}
