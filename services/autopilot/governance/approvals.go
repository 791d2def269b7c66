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
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/AleutianAI/autopilot/services/autopilot/datatypes"
	"github.com/AleutianAI/autopilot/services/autopilot/store"
	"github.com/google/uuid"
)

// ApprovalPriorityFor derives the review priority of a change from its kind
// and magnitude.
func ApprovalPriorityFor(c datatypes.ProposedChange) datatypes.ApprovalPriority {
	switch c.Kind {
	case datatypes.ChangeBudget:
		switch mag := c.Magnitude(); {
		case mag > 30:
			return datatypes.PriorityHigh
		case mag > 15:
			return datatypes.PriorityMedium
		}
		return datatypes.PriorityLow
	case datatypes.ChangeAudience:
		if c.Audience != nil && c.Audience.Operation == datatypes.AudienceRemove {
			return datatypes.PriorityHigh
		}
		return datatypes.PriorityMedium
	case datatypes.ChangeChannel:
		if c.Channel != nil && !c.Channel.Enable {
			return datatypes.PriorityHigh
		}
		return datatypes.PriorityMedium
	case datatypes.ChangeAutonomy:
		if c.Autonomy != nil && c.Autonomy.To == datatypes.AutonomyFullAutonomous {
			return datatypes.PriorityUrgent
		}
		return datatypes.PriorityHigh
	case datatypes.ChangeCreative:
		if c.Creative != nil && c.Creative.Priority == datatypes.CreativePriorityHigh {
			return datatypes.PriorityMedium
		}
		return datatypes.PriorityLow
	case datatypes.ChangeExperiment:
		return datatypes.PriorityLow
	}
	return datatypes.PriorityLow
}

// urgencyPriority maps an escalation urgency to the review priority it
// demands at minimum.
var urgencyPriority = map[string]datatypes.ApprovalPriority{
	"low":      datatypes.PriorityLow,
	"medium":   datatypes.PriorityMedium,
	"high":     datatypes.PriorityHigh,
	"urgent":   datatypes.PriorityUrgent,
	"critical": datatypes.PriorityUrgent,
}

// EscalatedPriority raises base to the most demanding urgency among escs.
// Unknown urgencies count as high.
func EscalatedPriority(base datatypes.ApprovalPriority, escs []datatypes.Escalation) datatypes.ApprovalPriority {
	out := base
	for _, e := range escs {
		p, ok := urgencyPriority[strings.ToLower(strings.TrimSpace(e.Urgency))]
		if !ok {
			p = datatypes.PriorityHigh
		}
		if p.Rank() > out.Rank() {
			out = p
		}
	}
	return out
}

func (g *Governance) approvalsKey(accountID string) string {
	return store.AccountKey(accountID, store.SuffixApprovals)
}

// CreateApprovalRequest queues a change for human review.
//
// # Outputs
//
//   - *ApprovalRequest: The pending request, expiring after ApprovalTTL.
//   - error: Wraps datatypes.ErrInvalidChange for a malformed change.
func (g *Governance) CreateApprovalRequest(ctx context.Context, accountID string, in datatypes.ApprovalInput) (*datatypes.ApprovalRequest, error) {
	if err := in.Change.Validate(); err != nil {
		return nil, err
	}
	now := g.Now()
	requestedBy := in.RequestedBy
	if requestedBy == "" {
		requestedBy = ActorAutopilot
	}
	req := datatypes.ApprovalRequest{
		ID:             uuid.New().String(),
		AccountID:      accountID,
		ChangeKind:     in.Change.Kind,
		Change:         in.Change,
		Reasoning:      in.Reasoning,
		ExpectedImpact: in.ExpectedImpact,
		Risks:          slices.Clone(in.Risks),
		TriggeredRules: slices.Clone(in.TriggeredRules),
		Escalations:    datatypes.CloneEscalations(in.Escalations),
		Status:         datatypes.ApprovalPending,
		Priority:       EscalatedPriority(ApprovalPriorityFor(in.Change), in.Escalations),
		CycleID:        in.CycleID,
		RequestedAt:    now,
		ExpiresAt:      now.Add(datatypes.ApprovalTTL),
		RequestedBy:    requestedBy,
	}

	err := store.UpdateJSON(ctx, g.store, g.approvalsKey(accountID), func(list *[]datatypes.ApprovalRequest, _ bool) error {
		*list = append(*list, req)
		*list = trimTerminal(*list, g.ledgerLimit)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store approval request: %w", err)
	}

	details := map[string]any{
		"approval_id":     req.ID,
		"change_kind":     string(req.ChangeKind),
		"priority":        string(req.Priority),
		"triggered_rules": req.TriggeredRules,
	}
	if len(req.Escalations) > 0 {
		details["escalations"] = datatypes.CloneEscalations(req.Escalations)
		details["escalation_roles"] = escalationRoles(req.Escalations)
	}
	g.auditQuiet(ctx, accountID, datatypes.AuditApprovalRequested, "approval requested: "+in.Change.Describe(),
		details,
		datatypes.AuditOptions{TriggeredBy: triggeredByFor(requestedBy), Actor: requestedBy, Outcome: datatypes.OutcomePending})
	return &req, nil
}

// escalationRoles lists every role named by escs once, in first-seen order.
func escalationRoles(escs []datatypes.Escalation) []string {
	var roles []string
	for _, e := range escs {
		for _, r := range e.Roles {
			if !slices.Contains(roles, r) {
				roles = append(roles, r)
			}
		}
	}
	return roles
}

// trimTerminal evicts the oldest decided requests until the queue fits in
// limit. Pending requests are never evicted.
func trimTerminal(list []datatypes.ApprovalRequest, limit int) []datatypes.ApprovalRequest {
	over := len(list) - limit
	if over <= 0 {
		return list
	}
	out := list[:0]
	for _, r := range list {
		if over > 0 && r.Status.Terminal() {
			over--
			continue
		}
		out = append(out, r)
	}
	return out
}

// ExpireApprovals marks every pending request past its expiry as expired
// and returns the requests that changed.
func (g *Governance) ExpireApprovals(ctx context.Context, accountID string) ([]datatypes.ApprovalRequest, error) {
	now := g.Now()
	var expired []datatypes.ApprovalRequest
	err := store.UpdateJSON(ctx, g.store, g.approvalsKey(accountID), func(list *[]datatypes.ApprovalRequest, _ bool) error {
		expired = expired[:0]
		for i := range *list {
			r := &(*list)[i]
			if r.Status == datatypes.ApprovalPending && r.ExpiredAt(now) {
				r.Status = datatypes.ApprovalExpired
				expired = append(expired, *r)
			}
		}
		if len(expired) == 0 {
			return store.ErrNoChange
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("expire approvals: %w", err)
	}
	for _, r := range expired {
		g.auditQuiet(ctx, accountID, datatypes.AuditApprovalExpired, "approval expired: "+r.Change.Describe(),
			map[string]any{"approval_id": r.ID, "change_kind": string(r.ChangeKind)},
			datatypes.AuditOptions{TriggeredBy: datatypes.TriggeredBySchedule, Actor: ActorAutopilot, Outcome: datatypes.OutcomeFailure})
	}
	return expired, nil
}

// GetPendingApprovals returns the account's pending requests, most urgent
// first. Requests past their expiry are marked expired by this read and
// excluded.
func (g *Governance) GetPendingApprovals(ctx context.Context, accountID string) ([]datatypes.ApprovalRequest, error) {
	if _, err := g.ExpireApprovals(ctx, accountID); err != nil {
		return nil, err
	}
	list, _, err := store.GetJSON[[]datatypes.ApprovalRequest](ctx, g.store, g.approvalsKey(accountID))
	if err != nil {
		return nil, fmt.Errorf("read approvals: %w", err)
	}
	pending := make([]datatypes.ApprovalRequest, 0, len(list))
	for _, r := range list {
		if r.Status == datatypes.ApprovalPending {
			pending = append(pending, r)
		}
	}
	slices.SortStableFunc(pending, func(a, b datatypes.ApprovalRequest) int {
		if c := cmp.Compare(b.Priority.Rank(), a.Priority.Rank()); c != 0 {
			return c
		}
		return a.RequestedAt.Compare(b.RequestedAt)
	})
	return pending, nil
}

// GetApprovalHistory returns every request for the account, most recent
// first. A limit of zero or less returns all of them.
func (g *Governance) GetApprovalHistory(ctx context.Context, accountID string, limit int) ([]datatypes.ApprovalRequest, error) {
	if _, err := g.ExpireApprovals(ctx, accountID); err != nil {
		return nil, err
	}
	list, _, err := store.GetJSON[[]datatypes.ApprovalRequest](ctx, g.store, g.approvalsKey(accountID))
	if err != nil {
		return nil, fmt.Errorf("read approvals: %w", err)
	}
	return store.Recent(list, limit), nil
}

// GetApproval returns one request, or nil when it does not exist.
func (g *Governance) GetApproval(ctx context.Context, accountID, approvalID string) (*datatypes.ApprovalRequest, error) {
	list, _, err := store.GetJSON[[]datatypes.ApprovalRequest](ctx, g.store, g.approvalsKey(accountID))
	if err != nil {
		return nil, fmt.Errorf("read approvals: %w", err)
	}
	for _, r := range list {
		if r.ID == approvalID {
			return &r, nil
		}
	}
	return nil, nil
}

// ProcessApproval records a reviewer's decision.
//
// # Description
//
// Rejecting closes the request. Approving closes it and then applies the
// change: an autonomy change sets the account's level, any other change
// goes through the ChangeApplier and is recorded in the ledger with the
// approval id. Approval is refused while an emergency stop is active.
//
// # Outputs
//
//   - *ApprovalRequest: The decided request, or nil if it does not exist.
//   - error: datatypes.ErrApprovalNotPending if already decided,
//     datatypes.ErrApprovalExpired if it expired (it is marked expired),
//     datatypes.ErrEmergencyActive when approving during an emergency, or
//     the applier's error. When the apply fails the request stays approved.
func (g *Governance) ProcessApproval(ctx context.Context, accountID string, d datatypes.ApprovalDecision) (*datatypes.ApprovalRequest, error) {
	if d.Approve {
		active, err := g.IsEmergencyActive(ctx, accountID)
		if err != nil {
			return nil, err
		}
		if active {
			return nil, datatypes.ErrEmergencyActive
		}
	}

	now := g.Now()
	var decided *datatypes.ApprovalRequest
	expired := false
	err := store.UpdateJSON(ctx, g.store, g.approvalsKey(accountID), func(list *[]datatypes.ApprovalRequest, _ bool) error {
		decided, expired = nil, false
		for i := range *list {
			r := &(*list)[i]
			if r.ID != d.ApprovalID {
				continue
			}
			if r.Status != datatypes.ApprovalPending {
				return datatypes.ErrApprovalNotPending
			}
			if r.ExpiredAt(now) {
				r.Status = datatypes.ApprovalExpired
				expired = true
				c := *r
				decided = &c
				return nil
			}
			r.Status = datatypes.ApprovalRejected
			if d.Approve {
				r.Status = datatypes.ApprovalApproved
			}
			r.ReviewedBy = d.Reviewer
			r.ReviewedAt = &now
			r.Notes = d.Notes
			c := *r
			decided = &c
			return nil
		}
		return store.ErrNoChange
	})
	if err != nil {
		if errors.Is(err, datatypes.ErrApprovalNotPending) {
			return nil, err
		}
		return nil, fmt.Errorf("decide approval: %w", err)
	}
	if decided == nil {
		return nil, nil
	}

	opts := datatypes.AuditOptions{TriggeredBy: datatypes.TriggeredByHuman, Actor: d.Reviewer}
	details := map[string]any{"approval_id": decided.ID, "change_kind": string(decided.ChangeKind), "notes": d.Notes}
	switch {
	case expired:
		opts.Outcome = datatypes.OutcomeFailure
		g.auditQuiet(ctx, accountID, datatypes.AuditApprovalExpired, "approval expired before review: "+decided.Change.Describe(), details, opts)
		return decided, datatypes.ErrApprovalExpired
	case !d.Approve:
		g.auditQuiet(ctx, accountID, datatypes.AuditApprovalRejected, "approval rejected: "+decided.Change.Describe(), details, opts)
		return decided, nil
	}

	g.auditQuiet(ctx, accountID, datatypes.AuditApprovalApproved, "approval granted: "+decided.Change.Describe(), details, opts)
	if err := g.applyApproved(ctx, accountID, decided); err != nil {
		g.logger.Error("approved change could not be applied",
			slog.String("account_id", accountID),
			slog.String("approval_id", decided.ID),
			slog.String("error", err.Error()))
		return decided, err
	}
	return decided, nil
}

func (g *Governance) applyApproved(ctx context.Context, accountID string, req *datatypes.ApprovalRequest) error {
	if req.Change.Kind == datatypes.ChangeAutonomy {
		_, err := g.applyAutonomy(ctx, accountID, req.Change.Autonomy.To, req.ReviewedBy, "approved request "+req.ID)
		return err
	}
	rec, err := g.ApplyChange(ctx, accountID, req.Change, req.ReviewedBy, req.ID, req.CycleID)
	if err != nil {
		return err
	}
	req.ChangeRecordID = rec.ID
	return store.UpdateJSON(ctx, g.store, g.approvalsKey(accountID), func(list *[]datatypes.ApprovalRequest, _ bool) error {
		for i := range *list {
			if (*list)[i].ID == req.ID {
				(*list)[i].ChangeRecordID = rec.ID
				return nil
			}
		}
		return store.ErrNoChange
	})
}
