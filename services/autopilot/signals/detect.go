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
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/autopilot/services/autopilot/datatypes"
	"github.com/google/uuid"
)

// direction says which way a metric must move to be anomalous.
type direction int

const (
	rising direction = iota
	falling
)

// metricDetector compares one aggregate metric between periods.
type metricDetector struct {
	signal datatypes.SignalType
	metric string
	dir    direction
	value  func(datatypes.Metrics) float64
	tier   func(Thresholds) Tier
}

// metricDetectors is the table of period-over-period detectors.
var metricDetectors = []metricDetector{
	{datatypes.SignalCPASpike, "cpa", rising, datatypes.Metrics.CPA, func(t Thresholds) Tier { return t.CPASpike }},
	{datatypes.SignalCTRCollapse, "ctr", falling, datatypes.Metrics.CTR, func(t Thresholds) Tier { return t.CTRCollapse }},
	{datatypes.SignalConversionDrop, "conversions", falling, func(m datatypes.Metrics) float64 { return m.Conversions }, func(t Thresholds) Tier { return t.ConversionDrop }},
	{datatypes.SignalROASDecline, "roas", falling, datatypes.Metrics.ROAS, func(t Thresholds) Tier { return t.ROASDecline }},
}

// misalignmentRules maps a primary goal to the channel keywords that must
// appear in the active channel mix.
var misalignmentRules = map[string][]string{
	"ecommerce":       {"shopping", "pmax", "performance_max"},
	"online_sales":    {"shopping", "pmax", "performance_max"},
	"lead_generation": {"search", "lead"},
	"app_installs":    {"app"},
	"brand_awareness": {"video", "display", "social", "youtube", "ctv"},
	"local_visits":    {"local", "maps", "search"},
}

var monthNames = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
	"sep": time.September, "oct": time.October, "nov": time.November, "dec": time.December,
}

// Detect runs every detector over the inputs.
//
// # Description
//
// Metric detectors use (current - previous) / previous * 100 and emit at
// most one signal per metric, at the highest tier crossed. A previous value
// of zero produces no signal. Per-channel detectors emit one signal per
// offending channel. Knowledge detectors need no snapshot.
//
// # Inputs
//
//   - accountID: Stamped on every signal.
//   - graph: Account knowledge. May be nil.
//   - snap: Performance snapshot. May be nil.
//   - th: Threshold table.
//   - now: Detection time.
//
// # Outputs
//
//   - []datatypes.Signal: Detected signals, metric detectors first.
//
// # Thread Safety
//
// Pure function; safe for concurrent use.
func Detect(accountID string, graph *datatypes.KnowledgeGraph, snap *datatypes.PerformanceSnapshot, th Thresholds, now time.Time) []datatypes.Signal {
	now = now.UTC()
	var out []datatypes.Signal
	emit := func(s datatypes.Signal) {
		s.ID = uuid.New().String()
		s.AccountID = accountID
		s.Category = s.Type.Category()
		s.Status = datatypes.SignalActive
		s.DetectedAt = now
		out = append(out, s)
	}

	if snap != nil {
		for _, s := range detectMetrics(snap, th) {
			emit(s)
		}
		if s, ok := detectNegativeROI(snap, th.NegativeROI); ok {
			emit(s)
		}
		for _, s := range detectChannels(snap, th) {
			emit(s)
		}
	}
	if graph != nil {
		if s, ok := detectSeason(graph, now); ok {
			emit(s)
		}
		if s, ok := detectContextGaps(graph); ok {
			emit(s)
		}
		for _, s := range detectMisalignment(graph) {
			emit(s)
		}
	}
	return out
}

// percentChange returns (cur - prev) / prev * 100. ok is false when prev is
// zero.
func percentChange(cur, prev float64) (float64, bool) {
	if prev == 0 {
		return 0, false
	}
	return (cur - prev) / prev * 100, true
}

func severity(critical bool) datatypes.Severity {
	if critical {
		return datatypes.SeverityCritical
	}
	return datatypes.SeverityWarning
}

func detectMetrics(snap *datatypes.PerformanceSnapshot, th Thresholds) []datatypes.Signal {
	var out []datatypes.Signal
	for _, d := range metricDetectors {
		cur, prev := d.value(snap.Current), d.value(snap.Previous)
		change, ok := percentChange(cur, prev)
		if !ok {
			continue
		}
		magnitude := change
		if d.dir == falling {
			magnitude = -change
		}
		critical, threshold, crossed := d.tier(th).severityFor(magnitude)
		if !crossed || magnitude <= 0 {
			continue
		}
		out = append(out, datatypes.Signal{
			Type:             d.signal,
			Severity:         severity(critical),
			Metric:           d.metric,
			CurrentValue:     cur,
			PreviousValue:    prev,
			ChangePercent:    change,
			ThresholdCrossed: threshold,
			Message:          fmt.Sprintf("%s changed %+.1f%% (%.2f -> %.2f)", strings.ToUpper(d.metric), change, prev, cur),
		})
	}
	return out
}

func detectNegativeROI(snap *datatypes.PerformanceSnapshot, tier Tier) (datatypes.Signal, bool) {
	if snap.Current.Spend == 0 {
		return datatypes.Signal{}, false
	}
	roi := snap.Current.ROI()
	if roi >= 0 {
		return datatypes.Signal{}, false
	}
	critical, threshold, crossed := tier.severityFor(-roi)
	if !crossed {
		return datatypes.Signal{}, false
	}
	return datatypes.Signal{
		Type:             datatypes.SignalNegativeROI,
		Severity:         severity(critical),
		Metric:           "roi",
		CurrentValue:     roi,
		PreviousValue:    snap.Previous.ROI(),
		ChangePercent:    roi,
		ThresholdCrossed: -threshold,
		Message:          fmt.Sprintf("ROI is negative at %.1f%%", roi),
	}, true
}

func detectChannels(snap *datatypes.PerformanceSnapshot, th Thresholds) []datatypes.Signal {
	var out []datatypes.Signal
	for _, c := range snap.Channels {
		if c.BudgetUtilization > 0 {
			if critical, threshold, ok := th.BudgetExhaustion.severityFor(c.BudgetUtilization); ok {
				out = append(out, datatypes.Signal{
					Type:             datatypes.SignalBudgetExhaustion,
					Severity:         severity(critical),
					Metric:           "budget_utilization",
					Channel:          c.Channel,
					CurrentValue:     c.BudgetUtilization,
					PreviousValue:    100,
					ChangePercent:    c.BudgetUtilization - 100,
					ThresholdCrossed: threshold,
					Message:          fmt.Sprintf("%s has used %.0f%% of its budget", c.Channel, c.BudgetUtilization),
				})
			}
		}

		if change, ok := percentChange(c.TrackedConversions, c.PlatformConversions); ok {
			discrepancy := change
			if discrepancy < 0 {
				discrepancy = -discrepancy
			}
			if critical, threshold, ok := th.TrackingFailure.severityFor(discrepancy); ok {
				out = append(out, datatypes.Signal{
					Type:             datatypes.SignalTrackingFailure,
					Severity:         severity(critical),
					Metric:           "conversion_discrepancy",
					Channel:          c.Channel,
					CurrentValue:     c.TrackedConversions,
					PreviousValue:    c.PlatformConversions,
					ChangePercent:    change,
					ThresholdCrossed: threshold,
					Message: fmt.Sprintf("%s tracked %.0f conversions vs %.0f reported by the platform",
						c.Channel, c.TrackedConversions, c.PlatformConversions),
				})
			}
		}

		if change, ok := percentChange(c.QualityScore, c.PreviousQualityScore); ok && change < 0 {
			if critical, threshold, ok := th.QualityScoreDrop.severityFor(-change); ok {
				out = append(out, datatypes.Signal{
					Type:             datatypes.SignalQualityScoreDrop,
					Severity:         severity(critical),
					Metric:           "quality_score",
					Channel:          c.Channel,
					CurrentValue:     c.QualityScore,
					PreviousValue:    c.PreviousQualityScore,
					ChangePercent:    change,
					ThresholdCrossed: threshold,
					Message:          fmt.Sprintf("%s quality score fell %.1f%%", c.Channel, -change),
				})
			}
		}

		if change, ok := percentChange(c.ImpressionShare, c.PreviousImpressionShare); ok && change < 0 {
			if critical, threshold, ok := th.ImpressionShareLoss.severityFor(-change); ok {
				out = append(out, datatypes.Signal{
					Type:             datatypes.SignalCompetitiveThreat,
					Severity:         severity(critical),
					Metric:           "impression_share",
					Channel:          c.Channel,
					CurrentValue:     c.ImpressionShare,
					PreviousValue:    c.PreviousImpressionShare,
					ChangePercent:    change,
					ThresholdCrossed: threshold,
					Message:          fmt.Sprintf("%s impression share fell %.1f%%", c.Channel, -change),
				})
			}
		}
	}
	return out
}

// parseMonth accepts month names, three-letter abbreviations and numbers.
func parseMonth(s string) (time.Month, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil && n >= 1 && n <= 12 {
		return time.Month(n), true
	}
	if len(s) >= 3 {
		if m, ok := monthNames[s[:3]]; ok {
			return m, true
		}
	}
	return 0, false
}

func detectSeason(graph *datatypes.KnowledgeGraph, now time.Time) (datatypes.Signal, bool) {
	for _, raw := range graph.Strings(datatypes.DomainSeasonality, "peak_months") {
		if m, ok := parseMonth(raw); ok && m == now.Month() {
			return datatypes.Signal{
				Type:     datatypes.SignalSeasonalAnomaly,
				Severity: datatypes.SeverityInfo,
				Metric:   "peak_month",
				Message:  fmt.Sprintf("%s is a peak season month for this account", now.Month()),
			}, true
		}
	}
	return datatypes.Signal{}, false
}

// criticalGapCount is the number of missing critical fields at which the
// context gap signal turns critical.
const criticalGapCount = 3

func detectContextGaps(graph *datatypes.KnowledgeGraph) (datatypes.Signal, bool) {
	missing := datatypes.MissingCriticalFields(graph)
	if len(missing) == 0 {
		return datatypes.Signal{}, false
	}
	names := make([]string, len(missing))
	for i, ref := range missing {
		names[i] = ref.String()
	}
	threshold := 1.0
	if len(missing) >= criticalGapCount {
		threshold = criticalGapCount
	}
	return datatypes.Signal{
		Type:             datatypes.SignalContextGap,
		Severity:         severity(len(missing) >= criticalGapCount),
		Metric:           "missing_critical_fields",
		CurrentValue:     float64(len(missing)),
		ThresholdCrossed: threshold,
		Message:          "missing critical knowledge: " + strings.Join(names, ", "),
	}, true
}

func detectMisalignment(graph *datatypes.KnowledgeGraph) []datatypes.Signal {
	goal := strings.ToLower(strings.TrimSpace(graph.String(datatypes.DomainObjectives, "primary_goal")))
	required, ok := misalignmentRules[goal]
	if !ok {
		return nil
	}
	channels := graph.Strings(datatypes.DomainChannels, "active_channels")
	if len(channels) == 0 {
		return nil
	}
	for _, ch := range channels {
		lc := strings.ToLower(ch)
		for _, kw := range required {
			if strings.Contains(lc, kw) {
				return nil
			}
		}
	}
	return []datatypes.Signal{{
		Type:     datatypes.SignalStrategyMisalignment,
		Severity: datatypes.SeverityWarning,
		Metric:   "channel_mix",
		Message: fmt.Sprintf("goal %q but no %s channel among %s",
			goal, strings.Join(required, "/"), strings.Join(channels, ", ")),
	}}
}
