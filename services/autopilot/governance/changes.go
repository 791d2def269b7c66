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

	"github.com/AleutianAI/autopilot/services/autopilot/datatypes"
	"github.com/AleutianAI/autopilot/services/autopilot/store"
	"github.com/google/uuid"
)

func (g *Governance) changesKey(accountID string) string {
	return store.AccountKey(accountID, store.SuffixChanges)
}

// RecordChange appends an applied change to the account's ledger.
func (g *Governance) RecordChange(ctx context.Context, accountID string, in datatypes.ChangeInput) (*datatypes.ChangeRecord, error) {
	if !in.ChangeKind.Valid() {
		return nil, fmt.Errorf("%w: unknown change kind %q", datatypes.ErrInvalidChange, in.ChangeKind)
	}
	rec := datatypes.ChangeRecord{
		ID:          uuid.New().String(),
		AccountID:   accountID,
		ChangeKind:  in.ChangeKind,
		Description: in.Description,
		Before:      slices.Clone(in.Before),
		After:       slices.Clone(in.After),
		AppliedBy:   in.AppliedBy,
		AppliedAt:   g.Now(),
		ApprovalID:  in.ApprovalID,
		CycleID:     in.CycleID,
	}
	if err := store.AppendBounded(ctx, g.store, g.changesKey(accountID), g.ledgerLimit, rec); err != nil {
		return nil, fmt.Errorf("record change: %w", err)
	}
	g.auditQuiet(ctx, accountID, datatypes.AuditChangeApplied, "change applied: "+in.Description,
		map[string]any{
			"change_id":   rec.ID,
			"change_kind": string(rec.ChangeKind),
			"approval_id": rec.ApprovalID,
			"cycle_id":    rec.CycleID,
		},
		datatypes.AuditOptions{TriggeredBy: triggeredByFor(in.AppliedBy), Actor: in.AppliedBy})
	return &rec, nil
}

// RevertChange flags a recorded change as reverted.
//
// # Description
//
// The record is kept with its before/after payloads. The applier is asked
// to undo the change first; if it fails the record is still flagged and the
// failure is logged and audited.
//
// # Outputs
//
//   - *ChangeRecord: The reverted record, or nil if it does not exist.
//   - error: datatypes.ErrAlreadyReverted if it was reverted before.
func (g *Governance) RevertChange(ctx context.Context, accountID, changeID, actor, reason string) (*datatypes.ChangeRecord, error) {
	current, err := g.GetChange(ctx, accountID, changeID)
	if err != nil || current == nil {
		return nil, err
	}
	if current.Reverted {
		return nil, datatypes.ErrAlreadyReverted
	}

	applierErr := g.applier.Revert(ctx, *current)
	if applierErr != nil {
		g.logger.Error("applier revert failed",
			slog.String("account_id", accountID),
			slog.String("change_id", changeID),
			slog.String("error", applierErr.Error()))
	}

	now := g.Now()
	var reverted *datatypes.ChangeRecord
	err = store.UpdateJSON(ctx, g.store, g.changesKey(accountID), func(list *[]datatypes.ChangeRecord, _ bool) error {
		reverted = nil
		for i := range *list {
			r := &(*list)[i]
			if r.ID != changeID {
				continue
			}
			if r.Reverted {
				return datatypes.ErrAlreadyReverted
			}
			r.Reverted = true
			r.RevertedAt = &now
			r.RevertedBy = actor
			r.RevertReason = reason
			c := *r
			reverted = &c
			return nil
		}
		return store.ErrNoChange
	})
	if err != nil {
		return nil, err
	}
	if reverted == nil {
		return nil, nil
	}

	outcome := datatypes.OutcomeSuccess
	details := map[string]any{"change_id": changeID, "change_kind": string(reverted.ChangeKind), "reason": reason}
	if applierErr != nil {
		outcome = datatypes.OutcomeFailure
		details["applier_error"] = applierErr.Error()
	}
	g.auditQuiet(ctx, accountID, datatypes.AuditChangeReverted, "change reverted: "+reverted.Description, details,
		datatypes.AuditOptions{TriggeredBy: triggeredByFor(actor), Actor: actor, Outcome: outcome})
	return reverted, nil
}

// GetChange returns one ledger record, or nil when it does not exist.
func (g *Governance) GetChange(ctx context.Context, accountID, changeID string) (*datatypes.ChangeRecord, error) {
	list, _, err := store.GetJSON[[]datatypes.ChangeRecord](ctx, g.store, g.changesKey(accountID))
	if err != nil {
		return nil, fmt.Errorf("read change ledger: %w", err)
	}
	for _, r := range list {
		if r.ID == changeID {
			return &r, nil
		}
	}
	return nil, nil
}

// GetChangeHistory returns ledger records, most recent first. Reverted
// records are excluded unless includeReverted is set. A limit of zero or
// less returns every match.
func (g *Governance) GetChangeHistory(ctx context.Context, accountID string, includeReverted bool, limit int) ([]datatypes.ChangeRecord, error) {
	list, _, err := store.GetJSON[[]datatypes.ChangeRecord](ctx, g.store, g.changesKey(accountID))
	if err != nil {
		return nil, fmt.Errorf("read change ledger: %w", err)
	}
	out := make([]datatypes.ChangeRecord, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Reverted && !includeReverted {
			continue
		}
		out = append(out, list[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
