// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for semantic graph operations.
var (
	tracer = otel.Tracer("patchkernel.graph")
	meter  = otel.Meter("patchkernel.graph")
)

var (
	buildLatency  metric.Float64Histogram
	buildTotal    metric.Int64Counter
	blocksIndexed metric.Int64Histogram
	linksIndexed  metric.Int64Histogram
	cycleChecks   metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		buildLatency, err = meter.Float64Histogram(
			"patch_graph_build_duration_seconds",
			metric.WithDescription("Duration of semantic graph rebuilds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		buildTotal, err = meter.Int64Counter(
			"patch_graph_build_total",
			metric.WithDescription("Total number of semantic graph rebuilds"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		blocksIndexed, err = meter.Int64Histogram(
			"patch_graph_blocks",
			metric.WithDescription("Number of blocks indexed per rebuild"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		linksIndexed, err = meter.Int64Histogram(
			"patch_graph_links",
			metric.WithDescription("Number of block adjacencies per rebuild"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cycleChecks, err = meter.Int64Counter(
			"patch_graph_cycle_checks_total",
			metric.WithDescription("Total number of single-link cycle checks"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordBuildMetrics records metrics for a rebuild.
func recordBuildMetrics(ctx context.Context, duration time.Duration, blockCount, linkCount int) {
	if err := initMetrics(); err != nil {
		return
	}

	buildLatency.Record(ctx, duration.Seconds())
	buildTotal.Add(ctx, 1)
	blocksIndexed.Record(ctx, int64(blockCount))
	linksIndexed.Record(ctx, int64(linkCount))
}

// recordCycleCheck counts one WouldCreateCycle call.
func recordCycleCheck() {
	if err := initMetrics(); err != nil {
		return
	}
	cycleChecks.Add(context.Background(), 1)
}

// startBuildSpan creates a span for a rebuild.
func startBuildSpan(ctx context.Context, blockCount int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "graph.Build",
		trace.WithAttributes(
			attribute.Int("graph.block_count", blockCount),
		),
	)
}

// setBuildSpanResult sets the result attributes on a build span.
func setBuildSpanResult(span trace.Span, blockCount, linkCount int) {
	span.SetAttributes(
		attribute.Int("graph.block_count", blockCount),
		attribute.Int("graph.link_count", linkCount),
	)
}
