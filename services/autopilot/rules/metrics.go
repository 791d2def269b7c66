// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rules

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

var (
	tracer = otel.Tracer("autopilot.rules")
	meter  = otel.Meter("autopilot.rules")
)

var (
	evaluateLatency metric.Float64Histogram
	ruleEvaluations metric.Int64Counter
	ruleErrors      metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		evaluateLatency, err = meter.Float64Histogram(
			"autopilot_rule_evaluate_duration_seconds",
			metric.WithDescription("Duration of rule catalogue evaluations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		ruleEvaluations, err = meter.Int64Counter(
			"autopilot_rule_evaluations_total",
			metric.WithDescription("Rule evaluations by rule and outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		ruleErrors, err = meter.Int64Counter(
			"autopilot_rule_errors_total",
			metric.WithDescription("Rule predicates that failed or panicked"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func startEvaluateSpan(ctx context.Context, rc *RuleContext) (context.Context, trace.Span) {
	return tracer.Start(ctx, "rules.Engine.Evaluate",
		trace.WithAttributes(
			attribute.String("autopilot.account_id", rc.AccountID),
			attribute.String("rules.change_kind", string(rc.Change.Kind)),
		),
	)
}

func setEvaluateSpanResult(span trace.Span, evals []datatypes.RuleEvaluation) {
	triggered := 0
	for _, ev := range evals {
		if ev.Triggered {
			triggered++
		}
	}
	span.SetAttributes(
		attribute.Int("rules.evaluated", len(evals)),
		attribute.Int("rules.triggered", triggered),
	)
}

func recordRuleMetrics(ctx context.Context, ev datatypes.RuleEvaluation) {
	if err := initMetrics(); err != nil {
		return
	}
	ruleEvaluations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("rule_id", ev.RuleID),
		attribute.Bool("triggered", ev.Triggered),
	))
	if ev.Error != "" {
		ruleErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("rule_id", ev.RuleID)))
	}
}

func recordEvaluateLatency(ctx context.Context, d time.Duration) {
	if err := initMetrics(); err != nil {
		return
	}
	evaluateLatency.Record(ctx, d.Seconds())
}
