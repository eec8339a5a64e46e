// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package kernel

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const kernelTracerName = "patchkernel.kernel"

// tracer wraps the OpenTelemetry tracer with kernel-specific spans.
type tracer struct {
	tracer trace.Tracer
	logger *slog.Logger
}

func newTracer(logger *slog.Logger) *tracer {
	return &tracer{
		tracer: otel.Tracer(kernelTracerName),
		logger: logger,
	}
}

// startTransaction opens the span covering one transaction, from build to
// commit or rejection.
func (t *tracer) startTransaction(ctx context.Context, meta TxMeta, head string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "kernel.transaction",
		trace.WithAttributes(
			attribute.String("tx.label", truncateForTrace(meta.Label, 100)),
			attribute.String("tx.source", string(meta.Source)),
			attribute.String("tx.parent", head),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	t.logger.DebugContext(ctx, "opening transaction",
		slog.String("label", meta.Label),
		slog.String("parent", head),
	)
	return ctx, span
}

// endTransaction completes a transaction span.
func (t *tracer) endTransaction(span trace.Span, tx *CommittedTx, err error) {
	defer span.End()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
	span.SetAttributes(
		attribute.String("tx.id", tx.ID),
		attribute.Int("tx.ops", len(tx.Ops)),
		attribute.Bool("tx.reversible", tx.Reversible),
		attribute.String("tx.category", string(tx.Diff.Category)),
	)
}

// startMove opens the span for an undo, redo or replayed commit.
func (t *tracer) startMove(ctx context.Context, kind EventKind, txID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "kernel."+string(kind),
		trace.WithAttributes(attribute.String("tx.id", txID)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (t *tracer) endMove(span trace.Span, err error) {
	defer span.End()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// truncateForTrace bounds string attributes on spans.
func truncateForTrace(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen < 4 {
		if maxLen <= 0 {
			return ""
		}
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
