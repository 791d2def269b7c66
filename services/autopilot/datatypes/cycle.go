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

// CycleStatus is the terminal state of a cycle run.
type CycleStatus string

const (
	CycleSuccess CycleStatus = "success"
	CycleSkipped CycleStatus = "skipped"
	CycleFailed  CycleStatus = "failed"
)

// Readiness is the outcome of a readiness check.
type Readiness struct {
	Ready   bool     `json:"ready"`
	Reasons []string `json:"reasons"`
	Score   float64  `json:"score"`
}

// BlockedChange is a candidate the rule engine refused.
type BlockedChange struct {
	Change  ProposedChange `json:"change"`
	Reasons []string       `json:"reasons"`
}

// CycleResult is the record of one cycle run. It is immutable once stored.
type CycleResult struct {
	ID                    string           `json:"id"`
	AccountID             string           `json:"account_id"`
	CycleNumber           int64            `json:"cycle_number"`
	StartedAt             time.Time        `json:"started_at"`
	CompletedAt           time.Time        `json:"completed_at"`
	DurationMs            int64            `json:"duration_ms"`
	HealthScore           float64          `json:"health_score"`
	ReadinessScore        float64          `json:"readiness_score"`
	ReadinessReasons      []string         `json:"readiness_reasons,omitempty"`
	HypothesesGenerated   int              `json:"hypotheses_generated"`
	HypothesesSelected    int              `json:"hypotheses_selected"`
	Hypotheses            []Hypothesis     `json:"hypotheses,omitempty"`
	ExperimentsCreated    int              `json:"experiments_created"`
	Experiments           []ExperimentPlan `json:"experiments,omitempty"`
	OptimizationsProposed int              `json:"optimizations_proposed"`
	OptimizationsApplied  int              `json:"optimizations_applied"`
	UpdatesProposed       int              `json:"updates_proposed"`
	UpdatesApplied        int              `json:"updates_applied"`
	BudgetChanges         []BudgetChange   `json:"budget_changes,omitempty"`
	CreativeChanges       []CreativeChange `json:"creative_changes,omitempty"`
	AudienceChanges       []AudienceChange `json:"audience_changes,omitempty"`
	BlockedChanges        []BlockedChange  `json:"blocked_changes,omitempty"`
	ApprovalsRequested    int              `json:"approvals_requested"`
	ApprovalIDs           []string         `json:"approval_ids,omitempty"`
	ChangeRecordIDs       []string         `json:"change_record_ids,omitempty"`
	SignalsDetected       int              `json:"signals_detected"`
	CriticalSignals       int              `json:"critical_signals"`
	AlertsSent            int              `json:"alerts_sent"`
	EmergencyTriggered    bool             `json:"emergency_triggered"`
	Summary               string           `json:"summary"`
	Highlights            []string         `json:"highlights"`
	NextActions           []string         `json:"next_actions"`
	Status                CycleStatus      `json:"status"`
	ErrorMessage          string           `json:"error_message,omitempty"`
	AutonomyLevel         AutonomyLevel    `json:"autonomy_level"`
	DryRun                bool             `json:"dry_run"`
	TriggeredBy           TriggeredBy      `json:"triggered_by"`
}
