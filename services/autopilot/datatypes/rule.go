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
	"fmt"
	"maps"
	"slices"
)

// RuleCategory groups rules by the concern they guard.
type RuleCategory string

const (
	RuleCategorySafety      RuleCategory = "safety"
	RuleCategoryBudget      RuleCategory = "budget"
	RuleCategoryPerformance RuleCategory = "performance"
	RuleCategoryCreative    RuleCategory = "creative"
	RuleCategoryAudience    RuleCategory = "audience"
	RuleCategoryTiming      RuleCategory = "timing"
	RuleCategoryApproval    RuleCategory = "approval"
)

// RuleAction is what a triggered rule does to a proposed change.
type RuleAction string

const (
	ActionBlock           RuleAction = "block"
	ActionWarn            RuleAction = "warn"
	ActionRequireApproval RuleAction = "require_approval"
	ActionEscalate        RuleAction = "escalate"
)

// Valid reports whether a is a known rule action.
func (a RuleAction) Valid() bool {
	switch a {
	case ActionBlock, ActionWarn, ActionRequireApproval, ActionEscalate:
		return true
	}
	return false
}

// UnmarshalYAML rejects unknown actions when the catalogue is decoded.
func (a *RuleAction) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v := RuleAction(s)
	if !v.Valid() {
		return fmt.Errorf("invalid value for RuleAction: %q", s)
	}
	*a = v
	return nil
}

// Rule priorities. Higher values are evaluated first.
const (
	RulePriorityCritical = 100
	RulePriorityHigh     = 75
	RulePriorityMedium   = 50
	RulePriorityLow      = 25
)

// Escalation names who should be told when a rule with the escalate action
// triggers.
type Escalation struct {
	Roles   []string `json:"roles" yaml:"roles"`
	Urgency string   `json:"urgency" yaml:"urgency"`
}

// Clone returns a deep copy of the escalation.
func (e Escalation) Clone() Escalation {
	e.Roles = slices.Clone(e.Roles)
	return e
}

// CloneEscalations deep-copies a list of escalations.
func CloneEscalations(in []Escalation) []Escalation {
	if in == nil {
		return nil
	}
	out := make([]Escalation, len(in))
	for i, e := range in {
		out[i] = e.Clone()
	}
	return out
}

// RuleOverride patches one catalogue rule for one account. Nil fields keep
// the catalogue value. Params are merged key by key.
type RuleOverride struct {
	RuleID   string             `json:"rule_id" yaml:"rule_id"`
	Enabled  *bool              `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Action   *RuleAction        `json:"action,omitempty" yaml:"action,omitempty"`
	Priority *int               `json:"priority,omitempty" yaml:"priority,omitempty"`
	Params   map[string]float64 `json:"params,omitempty" yaml:"params,omitempty"`
}

// Clone returns a deep copy of the override.
func (o RuleOverride) Clone() RuleOverride {
	out := RuleOverride{RuleID: o.RuleID, Params: maps.Clone(o.Params)}
	if o.Enabled != nil {
		v := *o.Enabled
		out.Enabled = &v
	}
	if o.Action != nil {
		v := *o.Action
		out.Action = &v
	}
	if o.Priority != nil {
		v := *o.Priority
		out.Priority = &v
	}
	return out
}

// RuleEvaluation is the outcome of one rule against one proposed change.
type RuleEvaluation struct {
	RuleID     string       `json:"rule_id"`
	RuleName   string       `json:"rule_name"`
	Category   RuleCategory `json:"category"`
	Priority   int          `json:"priority"`
	Triggered  bool         `json:"triggered"`
	Action     RuleAction   `json:"action"`
	Reason     string       `json:"reason,omitempty"`
	Escalation *Escalation  `json:"escalation,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// RuleDecision is the reduction of all evaluations for one proposed change.
type RuleDecision struct {
	Allowed          bool             `json:"allowed"`
	RequiresApproval bool             `json:"requires_approval"`
	Warnings         []string         `json:"warnings"`
	BlockReasons     []string         `json:"block_reasons"`
	Escalations      []Escalation     `json:"escalations"`
	TriggeredRules   []string         `json:"triggered_rules"`
	Evaluations      []RuleEvaluation `json:"evaluations"`
}

// Reduce folds evaluations into a decision. A single triggered block makes
// the decision disallowed regardless of any other outcome. An escalation is
// a routed approval: it sets RequiresApproval and records who to route the
// request to.
func Reduce(evals []RuleEvaluation) RuleDecision {
	d := RuleDecision{
		Allowed:      true,
		Warnings:     []string{},
		BlockReasons: []string{},
		Escalations:  []Escalation{},
		Evaluations:  slices.Clone(evals),
	}
	for _, e := range evals {
		if !e.Triggered {
			continue
		}
		d.TriggeredRules = append(d.TriggeredRules, e.RuleID)
		switch e.Action {
		case ActionBlock:
			d.Allowed = false
			d.BlockReasons = append(d.BlockReasons, e.Reason)
		case ActionRequireApproval:
			d.RequiresApproval = true
		case ActionWarn:
			d.Warnings = append(d.Warnings, e.Reason)
		case ActionEscalate:
			d.RequiresApproval = true
			esc := Escalation{Urgency: "high"}
			if e.Escalation != nil {
				esc = e.Escalation.Clone()
			}
			d.Escalations = append(d.Escalations, esc)
		}
	}
	return d
}
