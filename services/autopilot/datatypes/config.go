// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the shared domain model of the autopilot service.
//
// # Description
//
// Every other autopilot package (signals, rules, governance, cycle) speaks in
// these types. They carry JSON tags because they are persisted in the
// key-value store and returned verbatim by the HTTP API.
//
// # Thread Safety
//
// Values are plain data. Callers that share a value across goroutines must
// copy it first; the Clone helpers on slice-bearing types exist for that.
package datatypes

import (
	"fmt"
	"slices"
	"time"
)

// =============================================================================
// Autonomy
// =============================================================================

// AutonomyLevel controls how much the loop may act without a human.
type AutonomyLevel string

const (
	AutonomyManualOnly     AutonomyLevel = "manual_only"
	AutonomyAIAssisted     AutonomyLevel = "ai_assisted"
	AutonomySemiAutonomous AutonomyLevel = "semi_autonomous"
	AutonomyFullAutonomous AutonomyLevel = "full_autonomous"
)

// autonomyRank orders the levels from least to most autonomous.
var autonomyRank = map[AutonomyLevel]int{
	AutonomyManualOnly:     0,
	AutonomyAIAssisted:     1,
	AutonomySemiAutonomous: 2,
	AutonomyFullAutonomous: 3,
}

// Rank returns the ordinal of the level, or -1 for an unknown level.
func (a AutonomyLevel) Rank() int {
	if r, ok := autonomyRank[a]; ok {
		return r
	}
	return -1
}

// Valid reports whether the level is one of the four known values.
func (a AutonomyLevel) Valid() bool {
	return a.Rank() >= 0
}

// AtLeast reports whether a is as autonomous as other.
func (a AutonomyLevel) AtLeast(other AutonomyLevel) bool {
	return a.Rank() >= other.Rank()
}

// RiskTolerance scales how many hypotheses a cycle keeps.
type RiskTolerance string

const (
	RiskConservative RiskTolerance = "conservative"
	RiskModerate     RiskTolerance = "moderate"
	RiskAggressive   RiskTolerance = "aggressive"
)

// hypothesisLimits maps risk tolerance to the number of hypotheses selected.
var hypothesisLimits = map[RiskTolerance]int{
	RiskAggressive:   5,
	RiskModerate:     3,
	RiskConservative: 2,
}

// HypothesisLimit returns how many hypotheses a cycle keeps. Unknown values
// fall back to the moderate limit.
func (r RiskTolerance) HypothesisLimit() int {
	if k, ok := hypothesisLimits[r]; ok {
		return k
	}
	return hypothesisLimits[RiskModerate]
}

// Valid reports whether r is a known tolerance.
func (r RiskTolerance) Valid() bool {
	_, ok := hypothesisLimits[r]
	return ok
}

// CycleFrequency is how often the scheduler runs an account's cycle.
type CycleFrequency string

const (
	FrequencyHourly CycleFrequency = "hourly"
	FrequencyDaily  CycleFrequency = "daily"
	FrequencyWeekly CycleFrequency = "weekly"
)

var frequencyIntervals = map[CycleFrequency]time.Duration{
	FrequencyHourly: time.Hour,
	FrequencyDaily:  24 * time.Hour,
	FrequencyWeekly: 7 * 24 * time.Hour,
}

// Interval returns the wall-clock spacing between scheduled cycles.
// Unknown values are treated as weekly.
func (f CycleFrequency) Interval() time.Duration {
	if d, ok := frequencyIntervals[f]; ok {
		return d
	}
	return frequencyIntervals[FrequencyWeekly]
}

// Valid reports whether f is a known frequency.
func (f CycleFrequency) Valid() bool {
	_, ok := frequencyIntervals[f]
	return ok
}

// =============================================================================
// Account Configuration
// =============================================================================

// AlertPreferences decide which signals produce outbound alerts.
//
// QuietHoursStart and QuietHoursEnd are hours of day (0-23, UTC). When start
// is greater than end the window wraps past midnight. Equal values disable
// quiet hours.
type AlertPreferences struct {
	MinSeverity        Severity     `json:"min_severity" yaml:"min_severity"`
	EnabledSignalTypes []SignalType `json:"enabled_signal_types,omitempty" yaml:"enabled_signal_types"`
	QuietHoursStart    int          `json:"quiet_hours_start" yaml:"quiet_hours_start"`
	QuietHoursEnd      int          `json:"quiet_hours_end" yaml:"quiet_hours_end"`
}

// AccountConfig is the per-account autopilot configuration.
//
// # Description
//
// Created with defaults on first use and mutated only by governance
// operations and cycle completion (LastCycleAt).
type AccountConfig struct {
	AccountID               string            `json:"account_id"`
	Enabled                 bool              `json:"enabled"`
	AutonomyLevel           AutonomyLevel     `json:"autonomy_level"`
	CycleFrequency          CycleFrequency    `json:"cycle_frequency"`
	AllowedDomains          []KnowledgeDomain `json:"allowed_domains"`
	BudgetFlexibility       float64           `json:"budget_flexibility"`
	ExperimentBudgetPercent float64           `json:"experiment_budget_percent"`
	RiskTolerance           RiskTolerance     `json:"risk_tolerance"`
	RequireApprovalFor      []ChangeKind      `json:"require_approval_for"`
	EmergencyStopThreshold  float64           `json:"emergency_stop_threshold"`
	RuleOverrides           []RuleOverride    `json:"rule_overrides,omitempty"`
	Alerts                  AlertPreferences  `json:"alerts"`
	LastCycleAt             *time.Time        `json:"last_cycle_at,omitempty"`
	CreatedAt               time.Time         `json:"created_at"`
	UpdatedAt               time.Time         `json:"updated_at"`
}

// DefaultAccountConfig returns the configuration an account receives on
// first use. The account starts disabled so nothing runs before an operator
// opts in.
func DefaultAccountConfig(accountID string, now time.Time) AccountConfig {
	return AccountConfig{
		AccountID:               accountID,
		Enabled:                 false,
		AutonomyLevel:           AutonomyAIAssisted,
		CycleFrequency:          FrequencyWeekly,
		AllowedDomains:          slices.Clone(AllKnowledgeDomains),
		BudgetFlexibility:       20,
		ExperimentBudgetPercent: 10,
		RiskTolerance:           RiskModerate,
		RequireApprovalFor:      []ChangeKind{ChangeBudget, ChangeAudience, ChangeChannel},
		EmergencyStopThreshold:  50,
		Alerts: AlertPreferences{
			MinSeverity: SeverityWarning,
		},
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
}

// RequiresApproval reports whether changes of kind k always need sign-off.
func (c AccountConfig) RequiresApproval(k ChangeKind) bool {
	return slices.Contains(c.RequireApprovalFor, k)
}

// AllowsDomain reports whether the loop may act on the given domain.
func (c AccountConfig) AllowsDomain(d KnowledgeDomain) bool {
	return slices.Contains(c.AllowedDomains, d)
}

// Clone returns a deep copy safe to mutate.
func (c AccountConfig) Clone() AccountConfig {
	out := c
	out.AllowedDomains = slices.Clone(c.AllowedDomains)
	out.RequireApprovalFor = slices.Clone(c.RequireApprovalFor)
	out.Alerts.EnabledSignalTypes = slices.Clone(c.Alerts.EnabledSignalTypes)
	if c.RuleOverrides != nil {
		out.RuleOverrides = make([]RuleOverride, len(c.RuleOverrides))
		for i, o := range c.RuleOverrides {
			out.RuleOverrides[i] = o.Clone()
		}
	}
	if c.LastCycleAt != nil {
		t := *c.LastCycleAt
		out.LastCycleAt = &t
	}
	return out
}

// Validate checks the invariants of a configuration.
func (c AccountConfig) Validate() error {
	if c.AccountID == "" {
		return fmt.Errorf("%w: account id is required", ErrInvalidConfig)
	}
	if !c.AutonomyLevel.Valid() {
		return fmt.Errorf("%w: unknown autonomy level %q", ErrInvalidConfig, c.AutonomyLevel)
	}
	if !c.CycleFrequency.Valid() {
		return fmt.Errorf("%w: unknown cycle frequency %q", ErrInvalidConfig, c.CycleFrequency)
	}
	if !c.RiskTolerance.Valid() {
		return fmt.Errorf("%w: unknown risk tolerance %q", ErrInvalidConfig, c.RiskTolerance)
	}
	if c.BudgetFlexibility < 0 || c.BudgetFlexibility > 100 {
		return fmt.Errorf("%w: budget flexibility must be within 0-100", ErrInvalidConfig)
	}
	if c.ExperimentBudgetPercent < 0 || c.ExperimentBudgetPercent > 100 {
		return fmt.Errorf("%w: experiment budget percent must be within 0-100", ErrInvalidConfig)
	}
	if c.EmergencyStopThreshold <= 0 {
		return fmt.Errorf("%w: emergency stop threshold must be positive", ErrInvalidConfig)
	}
	for _, d := range c.AllowedDomains {
		if !d.Valid() {
			return fmt.Errorf("%w: unknown knowledge domain %q", ErrInvalidConfig, d)
		}
	}
	for _, k := range c.RequireApprovalFor {
		if !k.Valid() {
			return fmt.Errorf("%w: unknown change kind %q", ErrInvalidConfig, k)
		}
	}
	if c.Alerts.QuietHoursStart < 0 || c.Alerts.QuietHoursStart > 23 ||
		c.Alerts.QuietHoursEnd < 0 || c.Alerts.QuietHoursEnd > 23 {
		return fmt.Errorf("%w: quiet hours must be within 0-23", ErrInvalidConfig)
	}
	return nil
}

// ConfigPatch is a partial update to an AccountConfig. Nil fields are left
// untouched. AutonomyLevel is routed through the autonomy guard and is not
// applied by Apply.
type ConfigPatch struct {
	Enabled                 *bool             `json:"enabled,omitempty"`
	AutonomyLevel           *AutonomyLevel    `json:"autonomy_level,omitempty"`
	CycleFrequency          *CycleFrequency   `json:"cycle_frequency,omitempty"`
	AllowedDomains          []KnowledgeDomain `json:"allowed_domains,omitempty"`
	BudgetFlexibility       *float64          `json:"budget_flexibility,omitempty"`
	ExperimentBudgetPercent *float64          `json:"experiment_budget_percent,omitempty"`
	RiskTolerance           *RiskTolerance    `json:"risk_tolerance,omitempty"`
	RequireApprovalFor      []ChangeKind      `json:"require_approval_for,omitempty"`
	EmergencyStopThreshold  *float64          `json:"emergency_stop_threshold,omitempty"`
	RuleOverrides           []RuleOverride    `json:"rule_overrides,omitempty"`
	Alerts                  *AlertPreferences `json:"alerts,omitempty"`
}

// Apply copies the non-nil fields of the patch onto cfg and returns the
// names of the fields that changed.
func (p ConfigPatch) Apply(cfg *AccountConfig) []string {
	var changed []string
	if p.Enabled != nil && *p.Enabled != cfg.Enabled {
		cfg.Enabled = *p.Enabled
		changed = append(changed, "enabled")
	}
	if p.CycleFrequency != nil && *p.CycleFrequency != cfg.CycleFrequency {
		cfg.CycleFrequency = *p.CycleFrequency
		changed = append(changed, "cycle_frequency")
	}
	if p.AllowedDomains != nil {
		cfg.AllowedDomains = slices.Clone(p.AllowedDomains)
		changed = append(changed, "allowed_domains")
	}
	if p.BudgetFlexibility != nil && *p.BudgetFlexibility != cfg.BudgetFlexibility {
		cfg.BudgetFlexibility = *p.BudgetFlexibility
		changed = append(changed, "budget_flexibility")
	}
	if p.ExperimentBudgetPercent != nil && *p.ExperimentBudgetPercent != cfg.ExperimentBudgetPercent {
		cfg.ExperimentBudgetPercent = *p.ExperimentBudgetPercent
		changed = append(changed, "experiment_budget_percent")
	}
	if p.RiskTolerance != nil && *p.RiskTolerance != cfg.RiskTolerance {
		cfg.RiskTolerance = *p.RiskTolerance
		changed = append(changed, "risk_tolerance")
	}
	if p.RequireApprovalFor != nil {
		cfg.RequireApprovalFor = slices.Clone(p.RequireApprovalFor)
		changed = append(changed, "require_approval_for")
	}
	if p.EmergencyStopThreshold != nil && *p.EmergencyStopThreshold != cfg.EmergencyStopThreshold {
		cfg.EmergencyStopThreshold = *p.EmergencyStopThreshold
		changed = append(changed, "emergency_stop_threshold")
	}
	if p.RuleOverrides != nil {
		cfg.RuleOverrides = make([]RuleOverride, len(p.RuleOverrides))
		for i, o := range p.RuleOverrides {
			cfg.RuleOverrides[i] = o.Clone()
		}
		changed = append(changed, "rule_overrides")
	}
	if p.Alerts != nil {
		cfg.Alerts = *p.Alerts
		cfg.Alerts.EnabledSignalTypes = slices.Clone(p.Alerts.EnabledSignalTypes)
		changed = append(changed, "alerts")
	}
	return changed
}
