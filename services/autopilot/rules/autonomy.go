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

import "github.com/AleutianAI/autopilot/services/autopilot/datatypes"

// AutopilotAction is something the control loop may do on its own.
type AutopilotAction string

const (
	ActionSurfaceInsights      AutopilotAction = "surface_insights"
	ActionRequestApproval      AutopilotAction = "request_approval"
	ActionCreateExperiment     AutopilotAction = "create_experiment"
	ActionApplyCreative        AutopilotAction = "apply_creative"
	ActionApplyBudget          AutopilotAction = "apply_budget"
	ActionApplyAudience        AutopilotAction = "apply_audience"
	ActionToggleChannel        AutopilotAction = "toggle_channel"
	ActionApplyKnowledgeUpdate AutopilotAction = "apply_knowledge_update"
)

// allowedActions is the autonomy permission table.
var allowedActions = map[datatypes.AutonomyLevel]map[AutopilotAction]bool{
	datatypes.AutonomyManualOnly: {
		ActionSurfaceInsights: true,
	},
	datatypes.AutonomyAIAssisted: {
		ActionSurfaceInsights: true,
		ActionRequestApproval: true,
	},
	datatypes.AutonomySemiAutonomous: {
		ActionSurfaceInsights:  true,
		ActionRequestApproval:  true,
		ActionCreateExperiment: true,
		ActionApplyCreative:    true,
		ActionApplyBudget:      true,
	},
	datatypes.AutonomyFullAutonomous: {
		ActionSurfaceInsights:      true,
		ActionRequestApproval:      true,
		ActionCreateExperiment:     true,
		ActionApplyCreative:        true,
		ActionApplyBudget:          true,
		ActionApplyAudience:        true,
		ActionToggleChannel:        true,
		ActionApplyKnowledgeUpdate: true,
	},
}

// IsActionAllowedAtLevel reports whether the loop may take action without
// a human at the given autonomy level. Unknown levels allow nothing.
func IsActionAllowedAtLevel(action AutopilotAction, level datatypes.AutonomyLevel) bool {
	return allowedActions[level][action]
}

// ActionForChange maps a change kind to the action that applies it.
func ActionForChange(k datatypes.ChangeKind) AutopilotAction {
	switch k {
	case datatypes.ChangeBudget:
		return ActionApplyBudget
	case datatypes.ChangeCreative:
		return ActionApplyCreative
	case datatypes.ChangeAudience:
		return ActionApplyAudience
	case datatypes.ChangeExperiment:
		return ActionCreateExperiment
	case datatypes.ChangeChannel:
		return ActionToggleChannel
	case datatypes.ChangeAutonomy:
		return ActionRequestApproval
	}
	return ActionSurfaceInsights
}
