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

import (
	"encoding/json"
	"time"
)

// =============================================================================
// Emergency
// =============================================================================

// EmergencyStatus is the state of an account's emergency stop.
type EmergencyStatus string

const (
	EmergencyActive          EmergencyStatus = "active"
	EmergencyResolved        EmergencyStatus = "resolved"
	EmergencyScheduledResume EmergencyStatus = "scheduled_resume"
)

// EmergencyState is the per-account kill switch record.
type EmergencyState struct {
	AccountID        string          `json:"account_id"`
	Triggered        bool            `json:"triggered"`
	Reason           string          `json:"reason"`
	TriggeredBy      string          `json:"triggered_by"`
	TriggeredAt      time.Time       `json:"triggered_at"`
	AffectedChannels []string        `json:"affected_channels,omitempty"`
	AutoResumeAt     *time.Time      `json:"auto_resume_at,omitempty"`
	Status           EmergencyStatus `json:"status"`
	ResolvedAt       *time.Time      `json:"resolved_at,omitempty"`
	ResolvedBy       string          `json:"resolved_by,omitempty"`
	ResolutionNotes  string          `json:"resolution_notes,omitempty"`
}

// Active reports whether the stop is currently in force.
func (e EmergencyState) Active() bool {
	return e.Triggered && e.Status != EmergencyResolved
}

// EmergencyOptions tune a triggered stop.
type EmergencyOptions struct {
	AffectedChannels  []string    `json:"affected_channels,omitempty"`
	AutoResumeInHours float64     `json:"auto_resume_in_hours,omitempty"`
	TriggeredBy       TriggeredBy `json:"triggered_by,omitempty"`
}

// =============================================================================
// Change Ledger
// =============================================================================

// ChangeRecord is the ledger entry for an applied mutation. Records are
// append-only except for the revert fields.
type ChangeRecord struct {
	ID           string          `json:"id"`
	AccountID    string          `json:"account_id"`
	ChangeKind   ChangeKind      `json:"change_kind"`
	Description  string          `json:"description"`
	Before       json.RawMessage `json:"before,omitempty"`
	After        json.RawMessage `json:"after,omitempty"`
	AppliedBy    string          `json:"applied_by"`
	AppliedAt    time.Time       `json:"applied_at"`
	ApprovalID   string          `json:"approval_id,omitempty"`
	CycleID      string          `json:"cycle_id,omitempty"`
	Reverted     bool            `json:"reverted"`
	RevertedAt   *time.Time      `json:"reverted_at,omitempty"`
	RevertedBy   string          `json:"reverted_by,omitempty"`
	RevertReason string          `json:"revert_reason,omitempty"`
}

// ChangeInput is what callers supply to record a change.
type ChangeInput struct {
	ChangeKind  ChangeKind      `json:"change_kind"`
	Description string          `json:"description"`
	Before      json.RawMessage `json:"before,omitempty"`
	After       json.RawMessage `json:"after,omitempty"`
	AppliedBy   string          `json:"applied_by"`
	ApprovalID  string          `json:"approval_id,omitempty"`
	CycleID     string          `json:"cycle_id,omitempty"`
}

// =============================================================================
// Audit Log
// =============================================================================

// AuditAction enumerates everything the audit log records.
type AuditAction string

const (
	AuditConfigCreated         AuditAction = "config_created"
	AuditConfigUpdated         AuditAction = "config_updated"
	AuditGlobalSwitchChanged   AuditAction = "global_switch_changed"
	AuditAutonomyChanged       AuditAction = "autonomy_changed"
	AuditCycleStarted          AuditAction = "cycle_started"
	AuditKnowledgeLoaded       AuditAction = "knowledge_loaded"
	AuditReadinessChecked      AuditAction = "readiness_checked"
	AuditCycleCompleted        AuditAction = "cycle_completed"
	AuditSignalsScanned        AuditAction = "signals_scanned"
	AuditSignalAcknowledged    AuditAction = "signal_acknowledged"
	AuditSignalResolved        AuditAction = "signal_resolved"
	AuditAlertSent             AuditAction = "alert_sent"
	AuditHypothesesGenerated   AuditAction = "hypotheses_generated"
	AuditExperimentsCreated    AuditAction = "experiments_created"
	AuditOptimizationsProposed AuditAction = "optimizations_proposed"
	AuditChangeApplied         AuditAction = "change_applied"
	AuditChangeBlocked         AuditAction = "change_blocked"
	AuditChangeReverted        AuditAction = "change_reverted"
	AuditApprovalRequested     AuditAction = "approval_requested"
	AuditApprovalApproved      AuditAction = "approval_approved"
	AuditApprovalRejected      AuditAction = "approval_rejected"
	AuditApprovalExpired       AuditAction = "approval_expired"
	AuditEmergencyTriggered    AuditAction = "emergency_triggered"
	AuditEmergencyResolved     AuditAction = "emergency_resolved"
)

// AuditCategory groups audit actions.
type AuditCategory string

const (
	AuditCategoryConfiguration AuditCategory = "configuration"
	AuditCategoryCycle         AuditCategory = "cycle"
	AuditCategorySignal        AuditCategory = "signal"
	AuditCategoryOptimization  AuditCategory = "optimization"
	AuditCategoryChange        AuditCategory = "change"
	AuditCategoryApproval      AuditCategory = "approval"
	AuditCategoryEmergency     AuditCategory = "emergency"
	AuditCategoryOther         AuditCategory = "other"
)

// auditCategories is the constant action→category table.
var auditCategories = map[AuditAction]AuditCategory{
	AuditConfigCreated:         AuditCategoryConfiguration,
	AuditConfigUpdated:         AuditCategoryConfiguration,
	AuditGlobalSwitchChanged:   AuditCategoryConfiguration,
	AuditAutonomyChanged:       AuditCategoryConfiguration,
	AuditCycleStarted:          AuditCategoryCycle,
	AuditKnowledgeLoaded:       AuditCategoryCycle,
	AuditReadinessChecked:      AuditCategoryCycle,
	AuditCycleCompleted:        AuditCategoryCycle,
	AuditSignalsScanned:        AuditCategorySignal,
	AuditSignalAcknowledged:    AuditCategorySignal,
	AuditSignalResolved:        AuditCategorySignal,
	AuditAlertSent:             AuditCategorySignal,
	AuditHypothesesGenerated:   AuditCategoryOptimization,
	AuditExperimentsCreated:    AuditCategoryOptimization,
	AuditOptimizationsProposed: AuditCategoryOptimization,
	AuditChangeApplied:         AuditCategoryChange,
	AuditChangeBlocked:         AuditCategoryChange,
	AuditChangeReverted:        AuditCategoryChange,
	AuditApprovalRequested:     AuditCategoryApproval,
	AuditApprovalApproved:      AuditCategoryApproval,
	AuditApprovalRejected:      AuditCategoryApproval,
	AuditApprovalExpired:       AuditCategoryApproval,
	AuditEmergencyTriggered:    AuditCategoryEmergency,
	AuditEmergencyResolved:     AuditCategoryEmergency,
}

// Category returns the category for the action, or AuditCategoryOther.
func (a AuditAction) Category() AuditCategory {
	if c, ok := auditCategories[a]; ok {
		return c
	}
	return AuditCategoryOther
}

// TriggeredBy is the class of actor that caused an audit entry.
type TriggeredBy string

const (
	TriggeredByAutopilot TriggeredBy = "autopilot"
	TriggeredByHuman     TriggeredBy = "human"
	TriggeredBySignal    TriggeredBy = "signal"
	TriggeredBySchedule  TriggeredBy = "schedule"
)

// Outcome is the result recorded on an audit entry.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomePending Outcome = "pending"
)

// AuditEntry is one append-only audit record.
type AuditEntry struct {
	ID              string            `json:"id"`
	AccountID       string            `json:"account_id"`
	Sequence        uint64            `json:"sequence"`
	Action          AuditAction       `json:"action"`
	Category        AuditCategory     `json:"category"`
	Description     string            `json:"description"`
	Details         map[string]any    `json:"details,omitempty"`
	TriggeredBy     TriggeredBy       `json:"triggered_by"`
	Actor           string            `json:"actor,omitempty"`
	ImpactedDomains []KnowledgeDomain `json:"impacted_domains,omitempty"`
	ImpactedFields  []string          `json:"impacted_fields,omitempty"`
	Outcome         Outcome           `json:"outcome"`
	Timestamp       time.Time         `json:"timestamp"`
}

// AuditOptions carry the optional attributes of LogAction.
type AuditOptions struct {
	TriggeredBy     TriggeredBy
	Actor           string
	ImpactedDomains []KnowledgeDomain
	ImpactedFields  []string
	Outcome         Outcome
}

// AuditFilter narrows GetAuditLog. Zero values match everything. Limit <= 0
// means no limit.
type AuditFilter struct {
	Action   AuditAction   `form:"action" json:"action,omitempty"`
	Category AuditCategory `form:"category" json:"category,omitempty"`
	Since    time.Time     `form:"since" json:"since,omitempty"`
	Limit    int           `form:"limit" json:"limit,omitempty"`
}

// Matches reports whether e passes the filter.
func (f AuditFilter) Matches(e AuditEntry) bool {
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Category != "" && e.Category != f.Category {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

// =============================================================================
// Summary
// =============================================================================

// GovernanceSummary is a point-in-time view of an account's governance state.
type GovernanceSummary struct {
	AccountID        string          `json:"account_id"`
	GlobalEnabled    bool            `json:"global_enabled"`
	AccountEnabled   bool            `json:"account_enabled"`
	AutonomyLevel    AutonomyLevel   `json:"autonomy_level"`
	EmergencyActive  bool            `json:"emergency_active"`
	Emergency        *EmergencyState `json:"emergency,omitempty"`
	PendingApprovals int             `json:"pending_approvals"`
	UrgentApprovals  int             `json:"urgent_approvals"`
	ChangesApplied   int             `json:"changes_applied"`
	ChangesReverted  int             `json:"changes_reverted"`
	AuditEntries     int             `json:"audit_entries"`
	LastAuditEntry   *AuditEntry     `json:"last_audit_entry,omitempty"`
	RecentActions    []AuditEntry    `json:"recent_actions"`
}
