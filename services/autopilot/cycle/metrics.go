// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cycle

import (
	"context"
	"sync"

	"github.com/AleutianAI/autopilot/services/autopilot/datatypes"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("autopilot.cycle")
	meter  = otel.Meter("autopilot.cycle")
)

var (
	cycleDuration  metric.Float64Histogram
	cyclesTotal    metric.Int64Counter
	changesApplied metric.Int64Counter
	changesBlocked metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		cycleDuration, err = meter.Float64Histogram(
			"autopilot_cycle_duration_seconds",
			metric.WithDescription("Duration of autopilot cycles"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cyclesTotal, err = meter.Int64Counter(
			"autopilot_cycles_total",
			metric.WithDescription("Autopilot cycles by status"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		changesApplied, err = meter.Int64Counter(
			"autopilot_cycle_changes_applied_total",
			metric.WithDescription("Changes applied by cycles, by kind"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		changesBlocked, err = meter.Int64Counter(
			"autopilot_cycle_changes_blocked_total",
			metric.WithDescription("Changes blocked by the rule engine, by kind"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func startCycleSpan(ctx context.Context, accountID string, opts RunOptions) (context.Context, trace.Span) {
	return tracer.Start(ctx, "cycle.Engine.RunCycle",
		trace.WithAttributes(
			attribute.String("autopilot.account_id", accountID),
			attribute.Bool("cycle.dry_run", opts.DryRun),
			attribute.String("cycle.triggered_by", string(opts.TriggeredBy)),
		),
	)
}

func setCycleSpanResult(span trace.Span, r *datatypes.CycleResult) {
	span.SetAttributes(
		attribute.Int64("cycle.number", r.CycleNumber),
		attribute.String("cycle.status", string(r.Status)),
		attribute.String("cycle.autonomy_level", string(r.AutonomyLevel)),
		attribute.Int("cycle.signals", r.SignalsDetected),
		attribute.Int("cycle.optimizations_applied", r.OptimizationsApplied),
		attribute.Int("cycle.approvals_requested", r.ApprovalsRequested),
	)
	if r.Status == datatypes.CycleFailed {
		span.SetStatus(codes.Error, r.ErrorMessage)
	}
}

func recordCycleMetrics(ctx context.Context, r *datatypes.CycleResult) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("status", string(r.Status)),
		attribute.Bool("dry_run", r.DryRun),
	)
	cyclesTotal.Add(ctx, 1, attrs)
	cycleDuration.Record(ctx, float64(r.DurationMs)/1000, attrs)
}

func recordChangeApplied(ctx context.Context, kind datatypes.ChangeKind) {
	if err := initMetrics(); err != nil {
		return
	}
	changesApplied.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))
}

func recordChangeBlocked(ctx context.Context, kind datatypes.ChangeKind) {
	if err := initMetrics(); err != nil {
		return
	}
	changesBlocked.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))
}
