// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "time"

// SignalType identifies the detector that produced a signal.
type SignalType string

const (
	SignalCPASpike             SignalType = "cpa_spike"
	SignalCTRCollapse          SignalType = "ctr_collapse"
	SignalConversionDrop       SignalType = "conversion_drop"
	SignalROASDecline          SignalType = "roas_decline"
	SignalNegativeROI          SignalType = "negative_roi"
	SignalBudgetExhaustion     SignalType = "budget_exhaustion"
	SignalTrackingFailure      SignalType = "tracking_failure"
	SignalQualityScoreDrop     SignalType = "quality_score_drop"
	SignalCompetitiveThreat    SignalType = "competitive_threat"
	SignalSeasonalAnomaly      SignalType = "seasonal_anomaly"
	SignalContextGap           SignalType = "context_gap"
	SignalStrategyMisalignment SignalType = "strategy_misalignment"
)

// SignalCategory groups signal types for summaries and alert routing.
type SignalCategory string

const (
	CategoryPerformance SignalCategory = "performance"
	CategoryBudget      SignalCategory = "budget"
	CategoryTracking    SignalCategory = "tracking"
	CategoryQuality     SignalCategory = "quality"
	CategoryCompetitive SignalCategory = "competitive"
	CategorySeasonal    SignalCategory = "seasonal"
	CategoryKnowledge   SignalCategory = "knowledge"
	CategoryStrategy    SignalCategory = "strategy"
)

// signalCategories is the constant type→category table.
var signalCategories = map[SignalType]SignalCategory{
	SignalCPASpike:             CategoryPerformance,
	SignalCTRCollapse:          CategoryPerformance,
	SignalConversionDrop:       CategoryPerformance,
	SignalROASDecline:          CategoryPerformance,
	SignalNegativeROI:          CategoryPerformance,
	SignalBudgetExhaustion:     CategoryBudget,
	SignalTrackingFailure:      CategoryTracking,
	SignalQualityScoreDrop:     CategoryQuality,
	SignalCompetitiveThreat:    CategoryCompetitive,
	SignalSeasonalAnomaly:      CategorySeasonal,
	SignalContextGap:           CategoryKnowledge,
	SignalStrategyMisalignment: CategoryStrategy,
}

// Category returns the category of the signal type.
func (t SignalType) Category() SignalCategory {
	return signalCategories[t]
}

// Valid reports whether t is a known signal type.
func (t SignalType) Valid() bool {
	_, ok := signalCategories[t]
	return ok
}

// Severity is the tier a signal crossed.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityWarning:  1,
	SeverityCritical: 2,
}

// Rank orders severities from info (0) to critical (2). Unknown is -1.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// AtLeast reports whether s is at or above floor.
func (s Severity) AtLeast(floor Severity) bool {
	return s.Rank() >= floor.Rank()
}

// SignalStatus is the lifecycle state of a signal.
type SignalStatus string

const (
	SignalActive       SignalStatus = "active"
	SignalAcknowledged SignalStatus = "acknowledged"
	SignalResolved     SignalStatus = "resolved"
)

// Signal is a detected anomaly in performance data or account knowledge.
//
// Signals are immutable once detected except for the status fields, which
// are changed by acknowledge and resolve operations.
type Signal struct {
	ID               string         `json:"id"`
	AccountID        string         `json:"account_id"`
	Type             SignalType     `json:"type"`
	Category         SignalCategory `json:"category"`
	Severity         Severity       `json:"severity"`
	Metric           string         `json:"metric"`
	CurrentValue     float64        `json:"current_value"`
	PreviousValue    float64        `json:"previous_value"`
	ChangePercent    float64        `json:"change_percent"`
	ThresholdCrossed float64        `json:"threshold_crossed"`
	Channel          string         `json:"channel,omitempty"`
	Message          string         `json:"message"`
	Status           SignalStatus   `json:"status"`
	DetectedAt       time.Time      `json:"detected_at"`
	AcknowledgedAt   *time.Time     `json:"acknowledged_at,omitempty"`
	AcknowledgedBy   string         `json:"acknowledged_by,omitempty"`
	ResolvedAt       *time.Time     `json:"resolved_at,omitempty"`
	ResolvedBy       string         `json:"resolved_by,omitempty"`
}

// Deviation returns the absolute percent change of the signal.
func (s Signal) Deviation() float64 {
	if s.ChangePercent < 0 {
		return -s.ChangePercent
	}
	return s.ChangePercent
}

// CloneSignals returns a copy of the slice with copied timestamp pointers.
func CloneSignals(in []Signal) []Signal {
	if in == nil {
		return nil
	}
	out := make([]Signal, len(in))
	for i, s := range in {
		out[i] = s
		if s.AcknowledgedAt != nil {
			t := *s.AcknowledgedAt
			out[i].AcknowledgedAt = &t
		}
		if s.ResolvedAt != nil {
			t := *s.ResolvedAt
			out[i].ResolvedAt = &t
		}
	}
	return out
}

// SignalSummary aggregates the active signal set of an account.
type SignalSummary struct {
	AccountID    string                 `json:"account_id"`
	Total        int                    `json:"total"`
	BySeverity   map[Severity]int       `json:"by_severity"`
	ByCategory   map[SignalCategory]int `json:"by_category"`
	ByStatus     map[SignalStatus]int   `json:"by_status"`
	MostRecent   *Signal                `json:"most_recent,omitempty"`
	HistoryCount int                    `json:"history_count"`
}
