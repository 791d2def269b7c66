// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package governance

import (
	"context"
	"fmt"

	"github.com/AleutianAI/autopilot/services/autopilot/datatypes"
	"github.com/AleutianAI/autopilot/services/autopilot/store"
)

// AutonomyChangeResult reports what RequestAutonomyChange did.
type AutonomyChangeResult struct {
	From     datatypes.AutonomyLevel    `json:"from"`
	To       datatypes.AutonomyLevel    `json:"to"`
	Applied  bool                       `json:"applied"`
	Config   *datatypes.AccountConfig   `json:"config,omitempty"`
	Approval *datatypes.ApprovalRequest `json:"approval,omitempty"`
}

// RequestAutonomyChange moves an account to a new autonomy level.
//
// # Description
//
// Raising the level to semi_autonomous or above never applies directly: it
// queues an approval request, and the level changes only when the request is
// approved. Lowering the level, or raising it only as far as ai_assisted,
// applies immediately and is logged. Requesting the current level is a
// no-op.
//
// # Outputs
//
//   - *AutonomyChangeResult: Applied with the new Config, or the pending
//     Approval.
//   - error: Wraps datatypes.ErrInvalidConfig for an unknown level.
func (g *Governance) RequestAutonomyChange(ctx context.Context, accountID string, to datatypes.AutonomyLevel, actor, reason string) (*AutonomyChangeResult, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: unknown autonomy level %q", datatypes.ErrInvalidConfig, to)
	}
	cfg, err := g.GetAutopilotConfig(ctx, accountID)
	if err != nil {
		return nil, err
	}
	from := cfg.AutonomyLevel
	result := &AutonomyChangeResult{From: from, To: to}
	if from == to {
		result.Config = cfg
		return result, nil
	}

	if to.Rank() > from.Rank() && to.AtLeast(datatypes.AutonomySemiAutonomous) {
		req, err := g.CreateApprovalRequest(ctx, accountID, datatypes.ApprovalInput{
			Change:         datatypes.NewAutonomyChange(datatypes.AutonomyChange{From: from, To: to}),
			Reasoning:      reason,
			ExpectedImpact: fmt.Sprintf("the autopilot may act without review at %s", to),
			Risks:          []string{"changes are applied without per-change human review"},
			RequestedBy:    actor,
		})
		if err != nil {
			return nil, err
		}
		result.Approval = req
		return result, nil
	}

	applied, err := g.applyAutonomy(ctx, accountID, to, actor, reason)
	if err != nil {
		return nil, err
	}
	result.Applied = true
	result.Config = applied
	return result, nil
}

func (g *Governance) applyAutonomy(ctx context.Context, accountID string, to datatypes.AutonomyLevel, actor, reason string) (*datatypes.AccountConfig, error) {
	cfg, from, err := g.setAutonomyLevel(ctx, accountID, to)
	if err != nil {
		return nil, err
	}
	g.auditQuiet(ctx, accountID, datatypes.AuditAutonomyChanged,
		fmt.Sprintf("autonomy changed from %s to %s", from, to),
		map[string]any{"from": string(from), "to": string(to), "reason": reason},
		datatypes.AuditOptions{TriggeredBy: triggeredByFor(actor), Actor: actor, ImpactedFields: []string{"autonomy_level"}})
	return cfg, nil
}

// recentActionCount is how many audit entries the summary carries.
const recentActionCount = 10

// GetGovernanceSummary collects the account's governance state. cfg may be
// nil, in which case the stored configuration is read without creating one.
func (g *Governance) GetGovernanceSummary(ctx context.Context, accountID string, cfg *datatypes.AccountConfig) (*datatypes.GovernanceSummary, error) {
	if cfg == nil {
		var err error
		if cfg, err = g.PeekAutopilotConfig(ctx, accountID); err != nil {
			return nil, err
		}
	}
	global, err := g.IsGlobalEnabled(ctx)
	if err != nil {
		return nil, err
	}
	emergency, err := g.GetEmergencyState(ctx, accountID)
	if err != nil {
		return nil, err
	}
	pending, err := g.GetPendingApprovals(ctx, accountID)
	if err != nil {
		return nil, err
	}
	changes, _, err := store.GetJSON[[]datatypes.ChangeRecord](ctx, g.store, g.changesKey(accountID))
	if err != nil {
		return nil, fmt.Errorf("read change ledger: %w", err)
	}
	audit, err := g.GetAuditLog(ctx, accountID, datatypes.AuditFilter{})
	if err != nil {
		return nil, err
	}

	sum := &datatypes.GovernanceSummary{
		AccountID:        accountID,
		GlobalEnabled:    global,
		AccountEnabled:   cfg.Enabled,
		AutonomyLevel:    cfg.AutonomyLevel,
		PendingApprovals: len(pending),
		AuditEntries:     len(audit),
		RecentActions:    audit[:min(len(audit), recentActionCount)],
	}
	if emergency != nil {
		sum.Emergency = emergency
		sum.EmergencyActive = emergency.Active()
	}
	for _, r := range pending {
		if r.Priority == datatypes.PriorityUrgent {
			sum.UrgentApprovals++
		}
	}
	for _, c := range changes {
		if c.Reverted {
			sum.ChangesReverted++
		} else {
			sum.ChangesApplied++
		}
	}
	if len(audit) > 0 {
		last := audit[0]
		sum.LastAuditEntry = &last
	}
	return sum, nil
}
