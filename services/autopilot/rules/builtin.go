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
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/AleutianAI/autopilot/services/autopilot/datatypes"
)

// builtinPredicates binds catalogue ids to their predicates.
var builtinPredicates = map[string]Predicate{
	"emergency_cpa_spike":    emergencyCPASpike,
	"negative_roi_stop":      negativeROIStop,
	"tracking_failure_stop":  trackingFailureStop,
	"max_increase":           maxIncrease,
	"max_decrease":           maxDecrease,
	"flexibility_exceeded":   flexibilityExceeded,
	"exhaustion_pause":       exhaustionPause,
	"channel_concentration":  channelConcentration,
	"cpa_threshold":          cpaThreshold,
	"roas_floor":             roasFloor,
	"required":               approvalRequired,
	"large_budget_change":    largeBudgetChange,
	"core_segment_exclusion": coreSegmentExclusion,
	"holiday_caution":        holidayCaution,
	"weekend_launch":         weekendLaunch,
}

// =============================================================================
// Safety
// =============================================================================

func emergencyCPASpike(rc *RuleContext, _ map[string]float64) (bool, string, error) {
	if !rc.increasesSpend() {
		return false, "", nil
	}
	s, ok := rc.activeSignal(datatypes.SignalCPASpike, datatypes.SeverityCritical, "")
	if !ok {
		return false, "", nil
	}
	return true, fmt.Sprintf("CPA is up %.1f%%; spend increases are blocked until it recovers.", s.ChangePercent), nil
}

func negativeROIStop(rc *RuleContext, _ map[string]float64) (bool, string, error) {
	if !rc.increasesSpend() {
		return false, "", nil
	}
	s, ok := rc.activeSignal(datatypes.SignalNegativeROI, datatypes.SeverityCritical, "")
	if !ok {
		return false, "", nil
	}
	return true, fmt.Sprintf("ROI is %.1f%%; spend increases are blocked.", s.CurrentValue), nil
}

func trackingFailureStop(rc *RuleContext, _ map[string]float64) (bool, string, error) {
	channel := rc.Change.ChannelName()
	s, ok := rc.activeSignal(datatypes.SignalTrackingFailure, datatypes.SeverityCritical, channel)
	if !ok {
		return false, "", nil
	}
	where := s.Channel
	if where == "" {
		where = "the account"
	}
	return true, fmt.Sprintf("Conversion tracking is failing on %s; results cannot be trusted.", where), nil
}

// =============================================================================
// Budget
// =============================================================================

func maxIncrease(rc *RuleContext, params map[string]float64) (bool, string, error) {
	b := rc.Change.Budget
	if b == nil {
		return false, "", nil
	}
	limit := param(params, "max_percent", 50)
	if pct := b.ChangePercent(); pct > limit {
		return true, fmt.Sprintf("Budget increase of %.1f%% on %s exceeds the %.0f%% cap.", pct, b.Channel, limit), nil
	}
	return false, "", nil
}

func maxDecrease(rc *RuleContext, params map[string]float64) (bool, string, error) {
	b := rc.Change.Budget
	if b == nil {
		return false, "", nil
	}
	limit := param(params, "max_percent", 50)
	if pct := b.ChangePercent(); pct < -limit {
		return true, fmt.Sprintf("Budget decrease of %.1f%% on %s exceeds the %.0f%% cap.", -pct, b.Channel, limit), nil
	}
	return false, "", nil
}

func flexibilityExceeded(rc *RuleContext, _ map[string]float64) (bool, string, error) {
	b := rc.Change.Budget
	if b == nil {
		return false, "", nil
	}
	flex := rc.Config.BudgetFlexibility
	if pct := math.Abs(b.ChangePercent()); pct > flex {
		return true, fmt.Sprintf("Budget change of %.1f%% exceeds the account's %.0f%% flexibility.", pct, flex), nil
	}
	return false, "", nil
}

func exhaustionPause(rc *RuleContext, _ map[string]float64) (bool, string, error) {
	b := rc.Change.Budget
	if b == nil || b.ProposedBudget <= b.CurrentBudget {
		return false, "", nil
	}
	for _, sev := range []datatypes.Severity{datatypes.SeverityCritical, datatypes.SeverityWarning} {
		if s, ok := rc.activeSignal(datatypes.SignalBudgetExhaustion, sev, b.Channel); ok && s.Channel == b.Channel {
			return true, fmt.Sprintf("%s is at %.0f%% budget utilization; check pacing before adding budget.", b.Channel, s.CurrentValue), nil
		}
	}
	return false, "", nil
}

func channelConcentration(rc *RuleContext, params map[string]float64) (bool, string, error) {
	b := rc.Change.Budget
	if b == nil || rc.Performance == nil || len(rc.Performance.Channels) == 0 {
		return false, "", nil
	}
	total := b.ProposedBudget
	for _, c := range rc.Performance.Channels {
		if c.Channel != b.Channel {
			total += c.DailyBudget
		}
	}
	if total <= 0 {
		return false, "", nil
	}
	limit := param(params, "max_share_percent", 60)
	if share := b.ProposedBudget / total * 100; share > limit {
		return true, fmt.Sprintf("%s would hold %.0f%% of the daily budget (limit %.0f%%).", b.Channel, share, limit), nil
	}
	return false, "", nil
}

// =============================================================================
// Performance
// =============================================================================

func cpaThreshold(rc *RuleContext, params map[string]float64) (bool, string, error) {
	b := rc.Change.Budget
	if b == nil || b.ProposedBudget <= b.CurrentBudget {
		return false, "", nil
	}
	target, ok := rc.Knowledge.Number(datatypes.DomainObjectives, "target_cpa")
	if !ok || target <= 0 {
		return false, "", nil
	}
	ch, ok := rc.Performance.ChannelByName(b.Channel)
	if !ok || ch.CPA <= 0 {
		return false, "", nil
	}
	limit := target * param(params, "tolerance", 1.2)
	if ch.CPA > limit {
		return true, fmt.Sprintf("%s CPA %.2f is above the %.2f target.", b.Channel, ch.CPA, target), nil
	}
	return false, "", nil
}

func roasFloor(rc *RuleContext, params map[string]float64) (bool, string, error) {
	b := rc.Change.Budget
	if b == nil || b.ProposedBudget <= b.CurrentBudget {
		return false, "", nil
	}
	floor := param(params, "min_roas", 1.0)
	if target, ok := rc.Knowledge.Number(datatypes.DomainObjectives, "target_roas"); ok && target > 0 {
		floor = target
	}
	ch, ok := rc.Performance.ChannelByName(b.Channel)
	if !ok || ch.Spend <= 0 {
		return false, "", nil
	}
	if ch.ROAS < floor {
		return true, fmt.Sprintf("%s ROAS %.2f is below the %.2f floor.", b.Channel, ch.ROAS, floor), nil
	}
	return false, "", nil
}

// =============================================================================
// Approval
// =============================================================================

func approvalRequired(rc *RuleContext, _ map[string]float64) (bool, string, error) {
	if rc.Change.Kind == datatypes.ChangeAutonomy {
		a := rc.Change.Autonomy
		if a != nil && a.To.AtLeast(datatypes.AutonomySemiAutonomous) && a.To.Rank() > a.From.Rank() {
			return true, fmt.Sprintf("Raising autonomy to %s requires approval.", a.To), nil
		}
		return false, "", nil
	}
	if rc.Config.RequiresApproval(rc.Change.Kind) {
		return true, fmt.Sprintf("The account requires approval for %s changes.", rc.Change.Kind), nil
	}
	return false, "", nil
}

func largeBudgetChange(rc *RuleContext, params map[string]float64) (bool, string, error) {
	limit := param(params, "threshold_percent", 30)
	if mag := rc.Change.Magnitude(); mag > limit {
		return true, fmt.Sprintf("Budget change of %.1f%% exceeds the %.0f%% escalation threshold.", mag, limit), nil
	}
	return false, "", nil
}

// =============================================================================
// Audience
// =============================================================================

func coreSegmentExclusion(rc *RuleContext, _ map[string]float64) (bool, string, error) {
	a := rc.Change.Audience
	if a == nil || a.Operation != datatypes.AudienceRemove {
		return false, "", nil
	}
	for _, key := range []string{"core_segments", "primary_segments"} {
		for _, seg := range rc.Knowledge.Strings(datatypes.DomainAudience, key) {
			if strings.EqualFold(strings.TrimSpace(seg), strings.TrimSpace(a.Segment)) {
				return true, fmt.Sprintf("%q is a core audience segment and cannot be removed.", a.Segment), nil
			}
		}
	}
	return false, "", nil
}

// =============================================================================
// Timing
// =============================================================================

func holidayCaution(rc *RuleContext, params map[string]float64) (bool, string, error) {
	start := monthDay(param(params, "start_month", 11), param(params, "start_day", 20))
	end := monthDay(param(params, "end_month", 12), param(params, "end_day", 31))
	if start < 0 || end < 0 {
		return false, "", fmt.Errorf("holiday window params out of range")
	}
	today := int(rc.Now.Month())*100 + rc.Now.Day()
	in := today >= start && today <= end
	if start > end {
		in = today >= start || today <= end
	}
	if in {
		return true, "Changes during the holiday period carry extra volatility.", nil
	}
	return false, "", nil
}

// monthDay encodes a month and day as month*100+day, or -1 when invalid.
func monthDay(month, day float64) int {
	m, d := int(month), int(day)
	if m < 1 || m > 12 || d < 1 || d > 31 {
		return -1
	}
	return m*100 + d
}

func weekendLaunch(rc *RuleContext, _ map[string]float64) (bool, string, error) {
	if rc.Change.Kind == datatypes.ChangeChannel && (rc.Change.Channel == nil || !rc.Change.Channel.Enable) {
		return false, "", nil
	}
	switch rc.Now.Weekday() {
	case time.Saturday, time.Sunday:
		return true, "Launching on a weekend leaves less time to react to early results.", nil
	}
	return false, "", nil
}
