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

// ApprovalTTL is how long an approval request stays pending.
const ApprovalTTL = 24 * time.Hour

// ApprovalStatus is the lifecycle state of an approval request.
type ApprovalStatus string

const (
	ApprovalPending      ApprovalStatus = "pending"
	ApprovalApproved     ApprovalStatus = "approved"
	ApprovalRejected     ApprovalStatus = "rejected"
	ApprovalExpired      ApprovalStatus = "expired"
	ApprovalAutoApproved ApprovalStatus = "auto_approved"
)

// Terminal reports whether no further transition is possible.
func (s ApprovalStatus) Terminal() bool {
	return s != ApprovalPending
}

// ApprovalPriority orders requests in the review queue.
type ApprovalPriority string

const (
	PriorityLow    ApprovalPriority = "low"
	PriorityMedium ApprovalPriority = "medium"
	PriorityHigh   ApprovalPriority = "high"
	PriorityUrgent ApprovalPriority = "urgent"
)

var approvalPriorityRank = map[ApprovalPriority]int{
	PriorityLow:    0,
	PriorityMedium: 1,
	PriorityHigh:   2,
	PriorityUrgent: 3,
}

// Rank orders priorities from low (0) to urgent (3).
func (p ApprovalPriority) Rank() int {
	return approvalPriorityRank[p]
}

// ApprovalRequest asks a human to sign off on a proposed change.
type ApprovalRequest struct {
	ID             string           `json:"id"`
	AccountID      string           `json:"account_id"`
	ChangeKind     ChangeKind       `json:"change_kind"`
	Change         ProposedChange   `json:"change"`
	Reasoning      string           `json:"reasoning"`
	ExpectedImpact string           `json:"expected_impact,omitempty"`
	Risks          []string         `json:"risks,omitempty"`
	TriggeredRules []string         `json:"triggered_rules,omitempty"`
	Escalations    []Escalation     `json:"escalations,omitempty"`
	Status         ApprovalStatus   `json:"status"`
	Priority       ApprovalPriority `json:"priority"`
	CycleID        string           `json:"cycle_id,omitempty"`
	RequestedAt    time.Time        `json:"requested_at"`
	ExpiresAt      time.Time        `json:"expires_at"`
	RequestedBy    string           `json:"requested_by"`
	ReviewedBy     string           `json:"reviewed_by,omitempty"`
	ReviewedAt     *time.Time       `json:"reviewed_at,omitempty"`
	Notes          string           `json:"notes,omitempty"`
	ChangeRecordID string           `json:"change_record_id,omitempty"`
}

// ExpiredAt reports whether the request is past its expiry at now.
func (r ApprovalRequest) ExpiredAt(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// ApprovalInput is what callers supply to create an approval request.
type ApprovalInput struct {
	Change         ProposedChange `json:"change"`
	Reasoning      string         `json:"reasoning"`
	ExpectedImpact string         `json:"expected_impact,omitempty"`
	Risks          []string       `json:"risks,omitempty"`
	TriggeredRules []string       `json:"triggered_rules,omitempty"`
	Escalations    []Escalation   `json:"escalations,omitempty"`
	RequestedBy    string         `json:"requested_by"`
	CycleID        string         `json:"cycle_id,omitempty"`
}

// ApprovalDecision is a reviewer's verdict.
type ApprovalDecision struct {
	ApprovalID string `json:"approval_id"`
	Approve    bool   `json:"approve"`
	Reviewer   string `json:"reviewer"`
	Notes      string `json:"notes,omitempty"`
}
