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
	"fmt"
	"math"
	"strings"

	"github.com/AleutianAI/autopilot/services/autopilot/datatypes"
)

// summarize composes the narrative fields of the result from its counters.
// The output depends only on the result and run state, so identical runs
// produce identical text.
func summarize(r *run) {
	res := r.result
	res.Highlights = []string{}
	res.NextActions = []string{}

	switch res.Status {
	case datatypes.CycleFailed:
		res.Summary = fmt.Sprintf("Cycle #%d failed: %s", res.CycleNumber, res.ErrorMessage)
		res.NextActions = append(res.NextActions, "Investigate the failure and re-run the cycle")
		if strings.Contains(res.ErrorMessage, datatypes.ErrKnowledgeNotFound.Error()) {
			res.NextActions = append(res.NextActions, "Complete the account knowledge profile")
		}
		return
	case datatypes.CycleSkipped:
		res.Summary = fmt.Sprintf("Cycle #%d skipped: %s", res.CycleNumber, skipReason(r))
		if res.EmergencyTriggered {
			res.Highlights = append(res.Highlights, "Emergency stop triggered and account disabled")
			res.NextActions = append(res.NextActions, "Review critical signals and resolve the emergency stop")
		} else if r.emergencyReason != "" {
			res.Highlights = append(res.Highlights, "Dry run: would trigger emergency stop")
		}
		for _, reason := range res.ReadinessReasons {
			if next := nextActionFor(reason); next != "" {
				res.NextActions = append(res.NextActions, next)
			}
		}
		return
	}

	res.Summary = fmt.Sprintf(
		"Cycle #%d completed at %s autonomy: %d signals (%d critical), %d hypotheses selected, %d experiments, %d optimizations proposed, %d applied, %d blocked, %d sent for approval.",
		res.CycleNumber, res.AutonomyLevel, res.SignalsDetected, res.CriticalSignals,
		res.HypothesesSelected, res.ExperimentsCreated, res.OptimizationsProposed,
		res.OptimizationsApplied, len(res.BlockedChanges), res.ApprovalsRequested)
	if res.DryRun {
		res.Summary = "[dry run] " + res.Summary
	}

	if res.CriticalSignals > 0 {
		res.Highlights = append(res.Highlights, fmt.Sprintf("%d critical signals detected", res.CriticalSignals))
		res.NextActions = append(res.NextActions, "Review critical signals")
	}
	if len(res.Hypotheses) > 0 {
		top := res.Hypotheses[0]
		res.Highlights = append(res.Highlights, fmt.Sprintf("Top hypothesis: %s (score %.2f)", top.Title, top.Score()))
	}
	if res.OptimizationsApplied > 0 {
		res.Highlights = append(res.Highlights, fmt.Sprintf("%d optimizations applied automatically", res.OptimizationsApplied))
	}
	if res.UpdatesApplied > 0 {
		res.Highlights = append(res.Highlights, fmt.Sprintf("%d knowledge updates applied", res.UpdatesApplied))
	}
	if len(res.BlockedChanges) > 0 {
		res.Highlights = append(res.Highlights, fmt.Sprintf("%d changes blocked by rules", len(res.BlockedChanges)))
	}
	if res.DryRun && (r.wouldApply > 0 || r.wouldQueue > 0) {
		res.Highlights = append(res.Highlights,
			fmt.Sprintf("Dry run: %d changes would be applied, %d would need approval", r.wouldApply, r.wouldQueue))
	}
	if res.ApprovalsRequested > 0 {
		res.NextActions = append(res.NextActions, fmt.Sprintf("Review %d pending approvals", res.ApprovalsRequested))
	}
	if r.surfaced > 0 {
		res.NextActions = append(res.NextActions, fmt.Sprintf("Consider %d recommendations", r.surfaced))
	}
	if r.halted {
		res.Highlights = append(res.Highlights, "Change application halted by kill switch or emergency stop")
	}
	if r.applyFailures > 0 {
		res.NextActions = append(res.NextActions, fmt.Sprintf("Check %d changes that failed to apply", r.applyFailures))
	}
	if res.ExperimentsCreated > 0 {
		res.NextActions = append(res.NextActions, fmt.Sprintf("Launch %d planned experiments", res.ExperimentsCreated))
	}
	if res.HealthScore < 70 {
		res.NextActions = append(res.NextActions, "Improve knowledge coverage to raise the health score")
	}
}

func skipReason(r *run) string {
	if r.emergencyReason != "" {
		return r.emergencyReason
	}
	if len(r.result.ReadinessReasons) > 0 {
		return strings.Join(r.result.ReadinessReasons, "; ")
	}
	return "not ready"
}

func nextActionFor(reason string) string {
	switch {
	case reason == ReasonGlobalDisabled:
		return "Re-enable autopilot globally when safe"
	case reason == ReasonAccountDisabled:
		return "Enable autopilot for this account"
	case reason == ReasonEmergencyActive:
		return "Resolve the emergency stop"
	case strings.HasPrefix(reason, "knowledge health"):
		return "Fill missing knowledge fields"
	}
	return ""
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

func round2(v float64) float64 { return math.Round(v*100) / 100 }
