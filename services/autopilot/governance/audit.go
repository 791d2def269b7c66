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
	"maps"
	"slices"

	"github.com/AleutianAI/autopilot/services/autopilot/datatypes"
	"github.com/AleutianAI/autopilot/services/autopilot/store"
	"github.com/google/uuid"
)

// LogAction appends an entry to the account's audit log.
//
// # Description
//
// The category is derived from the action. Sequence numbers are assigned
// inside the same atomic update that appends the entry, so they are strictly
// increasing per account even under concurrent writers and survive
// eviction of old entries. Once persisted the entry is fanned out to every
// AuditSink.
//
// # Inputs
//
//   - accountID: Account partition. Use GlobalAccountID for fleet-wide events.
//   - action: What happened.
//   - description: Human-readable one-liner.
//   - details: Structured payload. Copied.
//   - opts: Actor class, actor and impact. Outcome defaults to success and
//     TriggeredBy to autopilot.
//
// # Outputs
//
//   - *AuditEntry: The persisted entry.
//   - error: Non-nil if the store write failed.
func (g *Governance) LogAction(ctx context.Context, accountID string, action datatypes.AuditAction, description string,
	details map[string]any, opts datatypes.AuditOptions) (*datatypes.AuditEntry, error) {
	entry := datatypes.AuditEntry{
		ID:              uuid.New().String(),
		AccountID:       accountID,
		Action:          action,
		Category:        action.Category(),
		Description:     description,
		Details:         maps.Clone(details),
		TriggeredBy:     opts.TriggeredBy,
		Actor:           opts.Actor,
		ImpactedDomains: slices.Clone(opts.ImpactedDomains),
		ImpactedFields:  slices.Clone(opts.ImpactedFields),
		Outcome:         opts.Outcome,
		Timestamp:       g.Now(),
	}
	if entry.TriggeredBy == "" {
		entry.TriggeredBy = datatypes.TriggeredByAutopilot
	}
	if entry.Outcome == "" {
		entry.Outcome = datatypes.OutcomeSuccess
	}

	err := store.UpdateJSON(ctx, g.store, store.AccountKey(accountID, store.SuffixAudit),
		func(log *[]datatypes.AuditEntry, _ bool) error {
			entry.Sequence = 1
			if n := len(*log); n > 0 {
				entry.Sequence = (*log)[n-1].Sequence + 1
			}
			*log = append(*log, entry)
			if over := len(*log) - g.auditLimit; over > 0 {
				*log = slices.Delete(*log, 0, over)
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("append audit entry: %w", err)
	}

	for _, sink := range g.sinks {
		if err := sink.OnAuditEntry(ctx, entry); err != nil {
			g.logger.Warn("audit sink failed",
				slog.String("account_id", accountID),
				slog.String("action", string(action)),
				slog.String("error", err.Error()))
		}
	}
	g.logger.Debug("audit entry recorded",
		slog.String("account_id", accountID),
		slog.String("action", string(action)),
		slog.Uint64("sequence", entry.Sequence))
	return &entry, nil
}

// GetAuditLog returns the account's audit entries matching filter, most
// recent first. A zero Limit returns every match.
func (g *Governance) GetAuditLog(ctx context.Context, accountID string, filter datatypes.AuditFilter) ([]datatypes.AuditEntry, error) {
	log, _, err := store.GetJSON[[]datatypes.AuditEntry](ctx, g.store, store.AccountKey(accountID, store.SuffixAudit))
	if err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	out := make([]datatypes.AuditEntry, 0, len(log))
	for i := len(log) - 1; i >= 0; i-- {
		if !filter.Matches(log[i]) {
			continue
		}
		out = append(out, log[i])
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}
