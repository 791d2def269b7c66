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
	"log/slog"
	"slices"
	"time"

	"github.com/AleutianAI/autopilot/services/autopilot/datatypes"
	"github.com/AleutianAI/autopilot/services/autopilot/store"
)

func (g *Governance) emergencyKey(accountID string) string {
	return store.AccountKey(accountID, store.SuffixEmergency)
}

// TriggerEmergencyStop halts autonomous activity on an account.
//
// # Description
//
// While the stop is active every readiness check for the account fails.
// With opts.AutoResumeInHours > 0 the stop is scheduled to lift itself at
// that time; IsEmergencyActive performs the transition.
//
// # Inputs
//
//   - actor: Who triggered the stop. ActorAutopilot for signal-driven stops.
//   - reason: Why. Shown to operators.
//   - opts: Affected channels, optional auto-resume and the trigger class.
func (g *Governance) TriggerEmergencyStop(ctx context.Context, accountID, actor, reason string, opts datatypes.EmergencyOptions) (*datatypes.EmergencyState, error) {
	now := g.Now()
	state := datatypes.EmergencyState{
		AccountID:        accountID,
		Triggered:        true,
		Reason:           reason,
		TriggeredBy:      actor,
		TriggeredAt:      now,
		AffectedChannels: slices.Clone(opts.AffectedChannels),
		Status:           datatypes.EmergencyActive,
	}
	if opts.AutoResumeInHours > 0 {
		at := now.Add(time.Duration(opts.AutoResumeInHours * float64(time.Hour)))
		state.AutoResumeAt = &at
		state.Status = datatypes.EmergencyScheduledResume
	}
	if err := store.PutJSON(ctx, g.store, g.emergencyKey(accountID), state); err != nil {
		return nil, fmt.Errorf("store emergency state: %w", err)
	}

	triggeredBy := opts.TriggeredBy
	if triggeredBy == "" {
		triggeredBy = triggeredByFor(actor)
	}
	details := map[string]any{"reason": reason, "affected_channels": state.AffectedChannels}
	if state.AutoResumeAt != nil {
		details["auto_resume_at"] = state.AutoResumeAt.Format(time.RFC3339)
	}
	g.logger.Warn("emergency stop triggered",
		slog.String("account_id", accountID),
		slog.String("actor", actor),
		slog.String("reason", reason))
	g.auditQuiet(ctx, accountID, datatypes.AuditEmergencyTriggered, "emergency stop: "+reason, details,
		datatypes.AuditOptions{TriggeredBy: triggeredBy, Actor: actor})
	return &state, nil
}

// ResolveEmergencyStop lifts an active stop. It returns nil when no stop is
// active.
func (g *Governance) ResolveEmergencyStop(ctx context.Context, accountID, actor, notes string) (*datatypes.EmergencyState, error) {
	return g.resolve(ctx, accountID, actor, notes, false)
}

// IsEmergencyActive reports whether a stop is in force. A stop whose
// auto-resume time has passed is resolved by this call, and the resolution
// is logged exactly once.
func (g *Governance) IsEmergencyActive(ctx context.Context, accountID string) (bool, error) {
	state, err := g.GetEmergencyState(ctx, accountID)
	if err != nil {
		return false, err
	}
	return state != nil && state.Active(), nil
}

// PeekEmergencyActive reports whether a stop is in force without writing
// anything. A stop whose auto-resume time has passed counts as lifted, but
// the transition and its audit entry are left to IsEmergencyActive.
func (g *Governance) PeekEmergencyActive(ctx context.Context, accountID string) (bool, error) {
	state, ok, err := store.GetJSON[datatypes.EmergencyState](ctx, g.store, g.emergencyKey(accountID))
	if err != nil {
		return false, fmt.Errorf("read emergency state: %w", err)
	}
	if !ok || !state.Active() {
		return false, nil
	}
	return state.AutoResumeAt == nil || g.Now().Before(*state.AutoResumeAt), nil
}

// GetEmergencyState returns the account's emergency record after applying
// any due auto-resume, or nil when the account never had one.
func (g *Governance) GetEmergencyState(ctx context.Context, accountID string) (*datatypes.EmergencyState, error) {
	state, ok, err := store.GetJSON[datatypes.EmergencyState](ctx, g.store, g.emergencyKey(accountID))
	if err != nil {
		return nil, fmt.Errorf("read emergency state: %w", err)
	}
	if !ok {
		return nil, nil
	}
	if state.Active() && state.AutoResumeAt != nil && !g.Now().Before(*state.AutoResumeAt) {
		resolved, err := g.resolve(ctx, accountID, ActorAutopilot, "auto-resumed", true)
		if err != nil {
			return nil, err
		}
		if resolved != nil {
			return resolved, nil
		}
		// Another caller resolved it first.
		state, _, err = store.GetJSON[datatypes.EmergencyState](ctx, g.store, g.emergencyKey(accountID))
		if err != nil {
			return nil, fmt.Errorf("read emergency state: %w", err)
		}
	}
	return &state, nil
}

// resolve transitions an active stop to resolved. Only the caller that
// performs the transition gets a non-nil state back and writes the audit
// entry.
func (g *Governance) resolve(ctx context.Context, accountID, actor, notes string, auto bool) (*datatypes.EmergencyState, error) {
	now := g.Now()
	var resolved *datatypes.EmergencyState
	err := store.UpdateJSON(ctx, g.store, g.emergencyKey(accountID), func(s *datatypes.EmergencyState, exists bool) error {
		resolved = nil
		if !exists || !s.Active() {
			return store.ErrNoChange
		}
		if auto && (s.AutoResumeAt == nil || now.Before(*s.AutoResumeAt)) {
			return store.ErrNoChange
		}
		s.Status = datatypes.EmergencyResolved
		s.ResolvedAt = &now
		s.ResolvedBy = actor
		s.ResolutionNotes = notes
		c := *s
		resolved = &c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("resolve emergency: %w", err)
	}
	if resolved == nil {
		return nil, nil
	}

	triggeredBy := triggeredByFor(actor)
	if auto {
		triggeredBy = datatypes.TriggeredBySchedule
	}
	g.logger.Info("emergency stop resolved",
		slog.String("account_id", accountID),
		slog.String("actor", actor),
		slog.Bool("auto", auto))
	g.auditQuiet(ctx, accountID, datatypes.AuditEmergencyResolved, "emergency stop resolved: "+notes,
		map[string]any{"auto_resume": auto, "reason": resolved.Reason},
		datatypes.AuditOptions{TriggeredBy: triggeredBy, Actor: actor})
	return resolved, nil
}
