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

// Metrics are the aggregate numbers of one period.
type Metrics struct {
	Spend       float64 `json:"spend"`
	Revenue     float64 `json:"revenue"`
	Impressions float64 `json:"impressions"`
	Clicks      float64 `json:"clicks"`
	Conversions float64 `json:"conversions"`
}

// CPA is spend per conversion. Zero conversions yields zero.
func (m Metrics) CPA() float64 {
	if m.Conversions == 0 {
		return 0
	}
	return m.Spend / m.Conversions
}

// CTR is clicks per impression in percent.
func (m Metrics) CTR() float64 {
	if m.Impressions == 0 {
		return 0
	}
	return m.Clicks / m.Impressions * 100
}

// ROAS is revenue per unit of spend.
func (m Metrics) ROAS() float64 {
	if m.Spend == 0 {
		return 0
	}
	return m.Revenue / m.Spend
}

// ConversionRate is conversions per click in percent.
func (m Metrics) ConversionRate() float64 {
	if m.Clicks == 0 {
		return 0
	}
	return m.Conversions / m.Clicks * 100
}

// ROI is (revenue - spend) / spend in percent.
func (m Metrics) ROI() float64 {
	if m.Spend == 0 {
		return 0
	}
	return (m.Revenue - m.Spend) / m.Spend * 100
}

// Empty reports whether the period carries no activity.
func (m Metrics) Empty() bool {
	return m.Spend == 0 && m.Revenue == 0 && m.Impressions == 0 && m.Clicks == 0 && m.Conversions == 0
}

// ChannelPerformance is the per-channel view of the current period.
//
// Utilization and impression shares are percentages. QualityScore values are
// on the platform's 1-10 scale.
type ChannelPerformance struct {
	Channel                 string  `json:"channel"`
	DailyBudget             float64 `json:"daily_budget"`
	Spend                   float64 `json:"spend"`
	BudgetUtilization       float64 `json:"budget_utilization"`
	PlatformConversions     float64 `json:"platform_conversions"`
	TrackedConversions      float64 `json:"tracked_conversions"`
	QualityScore            float64 `json:"quality_score"`
	PreviousQualityScore    float64 `json:"previous_quality_score"`
	ImpressionShare         float64 `json:"impression_share"`
	PreviousImpressionShare float64 `json:"previous_impression_share"`
	CPA                     float64 `json:"cpa"`
	ROAS                    float64 `json:"roas"`
}

// PerformanceSnapshot compares the current period with the previous one.
type PerformanceSnapshot struct {
	AccountID   string               `json:"account_id"`
	PeriodStart time.Time            `json:"period_start"`
	PeriodEnd   time.Time            `json:"period_end"`
	Current     Metrics              `json:"current"`
	Previous    Metrics              `json:"previous"`
	Channels    []ChannelPerformance `json:"channels,omitempty"`
	CollectedAt time.Time            `json:"collected_at"`
}

// MonthlySpend estimates monthly spend from channel daily budgets, falling
// back to the current period spend scaled to 30 days.
func (s *PerformanceSnapshot) MonthlySpend() float64 {
	if s == nil {
		return 0
	}
	var daily float64
	for _, c := range s.Channels {
		daily += c.DailyBudget
	}
	if daily > 0 {
		return daily * 30
	}
	days := s.PeriodEnd.Sub(s.PeriodStart).Hours() / 24
	if days <= 0 {
		return s.Current.Spend
	}
	return s.Current.Spend / days * 30
}

// ChannelByName returns the channel entry with the given name.
func (s *PerformanceSnapshot) ChannelByName(name string) (ChannelPerformance, bool) {
	if s == nil {
		return ChannelPerformance{}, false
	}
	for _, c := range s.Channels {
		if c.Channel == name {
			return c, true
		}
	}
	return ChannelPerformance{}, false
}
