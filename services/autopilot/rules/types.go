// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package rules gates every proposed change through a prioritized catalogue
// of declarative rules.
//
// Rule metadata is embedded YAML (see the catalog package); predicates are
// pure Go functions bound to rules by id. Predicates only ever see a
// RuleContext, an immutable snapshot built once per evaluation.
package rules

import (
	"maps"
	"slices"
	"time"

	"github.com/AleutianAI/autopilot/services/autopilot/datatypes"
)

// Predicate reports whether a rule is triggered for the change in rc.
//
// params holds the rule's effective parameters after overrides. reason is
// surfaced on the evaluation and should be a complete sentence. A predicate
// must not mutate rc.
type Predicate func(rc *RuleContext, params map[string]float64) (triggered bool, reason string, err error)

// Rule is one catalogue entry.
type Rule struct {
	ID          string                 `json:"id" yaml:"id"`
	Name        string                 `json:"name" yaml:"name"`
	Description string                 `json:"description" yaml:"description"`
	Category    datatypes.RuleCategory `json:"category" yaml:"category"`
	Priority    int                    `json:"priority" yaml:"priority"`
	Enabled     bool                   `json:"enabled" yaml:"enabled"`
	Action      datatypes.RuleAction   `json:"action" yaml:"action"`
	Escalation  *datatypes.Escalation  `json:"escalation,omitempty" yaml:"escalation,omitempty"`
	Params      map[string]float64     `json:"params,omitempty" yaml:"params,omitempty"`
	AppliesTo   []datatypes.ChangeKind `json:"applies_to,omitempty" yaml:"applies_to,omitempty"`
	Predicate   Predicate              `json:"-" yaml:"-"`
}

// CatalogFile is the top-level shape of a rule catalogue document.
type CatalogFile struct {
	Rules []Rule `yaml:"rules"`
}

// Clone returns a deep copy. The predicate is shared.
func (r Rule) Clone() Rule {
	out := r
	out.Params = maps.Clone(r.Params)
	out.AppliesTo = slices.Clone(r.AppliesTo)
	if r.Escalation != nil {
		esc := *r.Escalation
		esc.Roles = slices.Clone(r.Escalation.Roles)
		out.Escalation = &esc
	}
	return out
}

// AppliesToKind reports whether the rule is relevant to changes of kind k.
// An empty AppliesTo list matches every kind.
func (r Rule) AppliesToKind(k datatypes.ChangeKind) bool {
	return len(r.AppliesTo) == 0 || slices.Contains(r.AppliesTo, k)
}

// param returns params[key] or def when unset.
func param(params map[string]float64, key string, def float64) float64 {
	if v, ok := params[key]; ok {
		return v
	}
	return def
}

// =============================================================================
// Rule Context
// =============================================================================

// RuleContext is the immutable input to every predicate.
//
// # Description
//
// Holds a private copy of the account configuration, the knowledge graph,
// the proposed change, the active signals and the performance snapshot, as
// of the moment the context was built. Later changes to the caller's
// values are not visible to predicates.
//
// # Thread Safety
//
// Safe for concurrent reads. Never mutate after construction.
type RuleContext struct {
	AccountID   string
	Config      datatypes.AccountConfig
	Knowledge   *datatypes.KnowledgeGraph
	Change      datatypes.ProposedChange
	Signals     []datatypes.Signal
	Performance *datatypes.PerformanceSnapshot
	Now         time.Time
}

// NewRuleContext builds a RuleContext from deep copies of its inputs.
//
// # Inputs
//
//   - cfg: Account configuration. RuleOverrides are honored by the engine.
//   - graph: Account knowledge. May be nil.
//   - change: The change being gated.
//   - signals: Active signals for the account.
//   - snap: Latest performance snapshot. May be nil.
//   - now: Evaluation time, used by timing rules.
func NewRuleContext(cfg datatypes.AccountConfig, graph *datatypes.KnowledgeGraph, change datatypes.ProposedChange,
	signals []datatypes.Signal, snap *datatypes.PerformanceSnapshot, now time.Time) *RuleContext {
	return &RuleContext{
		AccountID:   cfg.AccountID,
		Config:      cfg.Clone(),
		Knowledge:   graph.Clone(),
		Change:      cloneChange(change),
		Signals:     datatypes.CloneSignals(signals),
		Performance: cloneSnapshot(snap),
		Now:         now.UTC(),
	}
}

// activeSignal returns the first signal of type t at severity sev that is
// not resolved and, when channel is non-empty, is account-wide or matches it.
func (rc *RuleContext) activeSignal(t datatypes.SignalType, sev datatypes.Severity, channel string) (datatypes.Signal, bool) {
	for _, s := range rc.Signals {
		if s.Type != t || s.Severity != sev || s.Status == datatypes.SignalResolved {
			continue
		}
		if channel == "" || s.Channel == "" || s.Channel == channel {
			return s, true
		}
	}
	return datatypes.Signal{}, false
}

// increasesSpend reports whether the change adds spend: a budget increase,
// a new experiment or enabling a channel.
func (rc *RuleContext) increasesSpend() bool {
	c := rc.Change
	switch c.Kind {
	case datatypes.ChangeBudget:
		return c.Budget != nil && c.Budget.ProposedBudget > c.Budget.CurrentBudget
	case datatypes.ChangeExperiment:
		return c.Experiment != nil && c.Experiment.Budget > 0
	case datatypes.ChangeChannel:
		return c.Channel != nil && c.Channel.Enable
	case datatypes.ChangeCreative, datatypes.ChangeAudience, datatypes.ChangeAutonomy:
	}
	return false
}

func cloneSnapshot(s *datatypes.PerformanceSnapshot) *datatypes.PerformanceSnapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.Channels = slices.Clone(s.Channels)
	return &out
}

func cloneChange(c datatypes.ProposedChange) datatypes.ProposedChange {
	out := c
	if c.Budget != nil {
		v := *c.Budget
		out.Budget = &v
	}
	if c.Creative != nil {
		v := *c.Creative
		out.Creative = &v
	}
	if c.Audience != nil {
		v := *c.Audience
		out.Audience = &v
	}
	if c.Experiment != nil {
		v := *c.Experiment
		out.Experiment = &v
	}
	if c.Channel != nil {
		v := *c.Channel
		out.Channel = &v
	}
	if c.Autonomy != nil {
		v := *c.Autonomy
		out.Autonomy = &v
	}
	return out
}
