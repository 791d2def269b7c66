// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the autopilot service.
//
// # Description
//
// This package implements the service-level Prometheus metrics:
//   - HTTP request counters and latency histograms (by route and status)
//   - Scheduler tick counters and cycle outcome counters
//   - Governance maintenance counters (expired approvals, resumed emergencies)
//   - Event stream subscriber gauge
//
// Component-level OpenTelemetry instruments (cycle, rules, signals) are
// exported through the telemetry package and share the same /metrics
// endpoint via the default Prometheus registry.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "autopilot"

const (
	httpSubsystem       = "http"
	schedulerSubsystem  = "scheduler"
	governanceSubsystem = "governance"
	eventsSubsystem     = "events"
)

// Metrics holds all Prometheus metrics for the autopilot service.
//
// # Description
//
// Provides counters, histograms, and gauges for the HTTP surface, the
// scheduler and governance maintenance. Initialize once at startup via
// InitMetrics(), or with NewMetrics() against a private registry in tests.
//
// # Thread Safety
//
// All operations are thread-safe.
type Metrics struct {
	// RequestsTotal counts HTTP requests.
	// Labels: method, route, status
	RequestsTotal *prometheus.CounterVec

	// RequestDurationSeconds measures HTTP handler latency.
	// Labels: method, route
	RequestDurationSeconds *prometheus.HistogramVec

	// SchedulerTicksTotal counts scheduler passes.
	// Labels: global (enabled, disabled)
	SchedulerTicksTotal *prometheus.CounterVec

	// SchedulerTickDurationSeconds measures the duration of one pass.
	SchedulerTickDurationSeconds prometheus.Histogram

	// ScheduledCyclesTotal counts cycles started by the scheduler.
	// Labels: outcome (succeeded, skipped, failed)
	ScheduledCyclesTotal *prometheus.CounterVec

	// ApprovalsExpiredTotal counts approvals expired by the maintenance sweep.
	ApprovalsExpiredTotal prometheus.Counter

	// EmergenciesResumedTotal counts emergency stops auto-resumed.
	EmergenciesResumedTotal prometheus.Counter

	// EventSubscribers tracks connected event stream clients.
	EventSubscribers prometheus.Gauge
}

// DefaultMetrics is the singleton instance registered on the default
// Prometheus registry. Initialized by InitMetrics().
var (
	DefaultMetrics *Metrics
	initOnce       sync.Once
)

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all metrics on prometheus.DefaultRegisterer.
// Subsequent calls return the same instance.
//
// # Outputs
//
//   - *Metrics: The initialized metrics instance.
func InitMetrics() *Metrics {
	initOnce.Do(func() {
		DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	})
	return DefaultMetrics
}

// NewMetrics creates and registers all metrics on reg.
//
// # Inputs
//
//   - reg: Registerer to use. Tests pass prometheus.NewRegistry().
//
// # Limitations
//
//   - Panics if the same registerer already holds these metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: httpSubsystem,
				Name:      "requests_total",
				Help:      "Total number of HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),

		RequestDurationSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: httpSubsystem,
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "route"},
		),

		SchedulerTicksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: schedulerSubsystem,
				Name:      "ticks_total",
				Help:      "Total scheduler passes by global switch state",
			},
			[]string{"global"},
		),

		SchedulerTickDurationSeconds: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: schedulerSubsystem,
				Name:      "tick_duration_seconds",
				Help:      "Duration of one scheduler pass in seconds",
				Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300},
			},
		),

		ScheduledCyclesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: schedulerSubsystem,
				Name:      "cycles_total",
				Help:      "Total cycles started by the scheduler by outcome",
			},
			[]string{"outcome"},
		),

		ApprovalsExpiredTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: governanceSubsystem,
				Name:      "approvals_expired_total",
				Help:      "Total approval requests expired by the maintenance sweep",
			},
		),

		EmergenciesResumedTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: governanceSubsystem,
				Name:      "emergencies_resumed_total",
				Help:      "Total emergency stops auto-resumed by the maintenance sweep",
			},
		),

		EventSubscribers: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: eventsSubsystem,
				Name:      "subscribers",
				Help:      "Number of connected event stream clients",
			},
		),
	}
}

// =============================================================================
// Helper Methods
// =============================================================================

// TickOutcome is the subset of a scheduler pass recorded as metrics.
type TickOutcome struct {
	GlobalEnabled      bool
	Duration           time.Duration
	Succeeded          int
	Skipped            int
	Failed             int
	ApprovalsExpired   int
	EmergenciesResumed int
}

// RecordTick records one scheduler pass.
func (m *Metrics) RecordTick(o TickOutcome) {
	global := "enabled"
	if !o.GlobalEnabled {
		global = "disabled"
	}
	m.SchedulerTicksTotal.WithLabelValues(global).Inc()
	m.SchedulerTickDurationSeconds.Observe(o.Duration.Seconds())
	m.ScheduledCyclesTotal.WithLabelValues("succeeded").Add(float64(o.Succeeded))
	m.ScheduledCyclesTotal.WithLabelValues("skipped").Add(float64(o.Skipped))
	m.ScheduledCyclesTotal.WithLabelValues("failed").Add(float64(o.Failed))
	m.ApprovalsExpiredTotal.Add(float64(o.ApprovalsExpired))
	m.EmergenciesResumedTotal.Add(float64(o.EmergenciesResumed))
}

// SetEventSubscribers sets the subscriber gauge.
func (m *Metrics) SetEventSubscribers(n int) {
	m.EventSubscribers.Set(float64(n))
}

// Middleware returns gin middleware that records request count and latency.
//
// # Description
//
// The route label is the registered path template (c.FullPath()), so
// /v1/accounts/:id/config is one series regardless of account. Unmatched
// requests are labelled "unmatched".
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		m.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.RequestDurationSeconds.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}

// Handler returns the /metrics handler for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor returns a /metrics handler for a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
