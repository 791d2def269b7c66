// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package signals

import (
	"context"
	"sync"
	"time"

	"github.com/AleutianAI/autopilot/services/autopilot/datatypes"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for signal scans.
var (
	tracer = otel.Tracer("autopilot.signals")
	meter  = otel.Meter("autopilot.signals")
)

var (
	scanLatency     metric.Float64Histogram
	signalsDetected metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		scanLatency, err = meter.Float64Histogram(
			"autopilot_signal_scan_duration_seconds",
			metric.WithDescription("Duration of signal scans"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		signalsDetected, err = meter.Int64Counter(
			"autopilot_signals_detected_total",
			metric.WithDescription("Signals detected by type and severity"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func startScanSpan(ctx context.Context, accountID string, persist bool) (context.Context, trace.Span) {
	return tracer.Start(ctx, "signals.Monitor.Scan",
		trace.WithAttributes(
			attribute.String("autopilot.account_id", accountID),
			attribute.Bool("signals.persist", persist),
		),
	)
}

func setScanSpanResult(span trace.Span, signals []datatypes.Signal) {
	critical := 0
	for _, s := range signals {
		if s.Severity == datatypes.SeverityCritical {
			critical++
		}
	}
	span.SetAttributes(
		attribute.Int("signals.count", len(signals)),
		attribute.Int("signals.critical", critical),
	)
}

func recordScanMetrics(ctx context.Context, d time.Duration, signals []datatypes.Signal, persist bool) {
	if err := initMetrics(); err != nil {
		return
	}
	scanLatency.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.Bool("persist", persist)))
	for _, s := range signals {
		signalsDetected.Add(ctx, 1, metric.WithAttributes(
			attribute.String("type", string(s.Type)),
			attribute.String("severity", string(s.Severity)),
		))
	}
}
