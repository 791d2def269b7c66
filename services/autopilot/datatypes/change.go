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
	"math"
)

// ChangeKind tags the variant carried by a ProposedChange.
type ChangeKind string

const (
	ChangeBudget     ChangeKind = "budget"
	ChangeCreative   ChangeKind = "creative"
	ChangeAudience   ChangeKind = "audience"
	ChangeExperiment ChangeKind = "experiment"
	ChangeChannel    ChangeKind = "channel"
	ChangeAutonomy   ChangeKind = "autonomy"
)

// AllChangeKinds lists every kind in declaration order.
var AllChangeKinds = []ChangeKind{
	ChangeBudget, ChangeCreative, ChangeAudience, ChangeExperiment, ChangeChannel, ChangeAutonomy,
}

// Valid reports whether k is a known change kind.
func (k ChangeKind) Valid() bool {
	switch k {
	case ChangeBudget, ChangeCreative, ChangeAudience, ChangeExperiment, ChangeChannel, ChangeAutonomy:
		return true
	}
	return false
}

// CreativePriority ranks creative recommendations.
type CreativePriority string

const (
	CreativePriorityHigh   CreativePriority = "high"
	CreativePriorityMedium CreativePriority = "medium"
	CreativePriorityLow    CreativePriority = "low"
)

// AudienceOperation is the mutation applied to a segment.
type AudienceOperation string

const (
	AudienceAdd    AudienceOperation = "add"
	AudienceRemove AudienceOperation = "remove"
	AudienceModify AudienceOperation = "modify"
)

// BudgetChange moves a channel's daily budget.
type BudgetChange struct {
	Channel        string  `json:"channel"`
	CurrentBudget  float64 `json:"current_budget"`
	ProposedBudget float64 `json:"proposed_budget"`
	Reason         string  `json:"reason,omitempty"`
}

// ChangePercent returns the signed percent change. A zero current budget
// yields 100 for any increase.
func (b BudgetChange) ChangePercent() float64 {
	if b.CurrentBudget == 0 {
		if b.ProposedBudget > 0 {
			return 100
		}
		return 0
	}
	return (b.ProposedBudget - b.CurrentBudget) / b.CurrentBudget * 100
}

// CreativeChange is a creative recommendation to roll out.
type CreativeChange struct {
	CreativeID     string           `json:"creative_id"`
	Channel        string           `json:"channel,omitempty"`
	Priority       CreativePriority `json:"priority"`
	Recommendation string           `json:"recommendation"`
}

// AudienceChange adds, removes or modifies a targeting segment.
type AudienceChange struct {
	Segment   string            `json:"segment"`
	Channel   string            `json:"channel,omitempty"`
	Operation AudienceOperation `json:"operation"`
	Reason    string            `json:"reason,omitempty"`
}

// ExperimentChange launches an experiment derived from a hypothesis.
type ExperimentChange struct {
	HypothesisID string  `json:"hypothesis_id"`
	Name         string  `json:"name"`
	Channel      string  `json:"channel,omitempty"`
	Budget       float64 `json:"budget"`
	DurationDays int     `json:"duration_days"`
}

// ChannelChange enables or disables a channel.
type ChannelChange struct {
	Channel string `json:"channel"`
	Enable  bool   `json:"enable"`
	Reason  string `json:"reason,omitempty"`
}

// AutonomyChange moves the account between autonomy levels.
type AutonomyChange struct {
	From AutonomyLevel `json:"from"`
	To   AutonomyLevel `json:"to"`
}

// ProposedChange is a candidate mutation. Exactly one variant pointer is set
// and it must match Kind.
type ProposedChange struct {
	Kind       ChangeKind        `json:"kind"`
	Domain     KnowledgeDomain   `json:"domain,omitempty"`
	Budget     *BudgetChange     `json:"budget,omitempty"`
	Creative   *CreativeChange   `json:"creative,omitempty"`
	Audience   *AudienceChange   `json:"audience,omitempty"`
	Experiment *ExperimentChange `json:"experiment,omitempty"`
	Channel    *ChannelChange    `json:"channel,omitempty"`
	Autonomy   *AutonomyChange   `json:"autonomy,omitempty"`
}

// NewBudgetChange wraps b as a ProposedChange.
func NewBudgetChange(b BudgetChange) ProposedChange {
	return ProposedChange{Kind: ChangeBudget, Domain: DomainChannels, Budget: &b}
}

// NewCreativeChange wraps c as a ProposedChange.
func NewCreativeChange(c CreativeChange) ProposedChange {
	return ProposedChange{Kind: ChangeCreative, Domain: DomainCreative, Creative: &c}
}

// NewAudienceChange wraps a as a ProposedChange.
func NewAudienceChange(a AudienceChange) ProposedChange {
	return ProposedChange{Kind: ChangeAudience, Domain: DomainAudience, Audience: &a}
}

// NewExperimentChange wraps e as a ProposedChange.
func NewExperimentChange(e ExperimentChange) ProposedChange {
	return ProposedChange{Kind: ChangeExperiment, Experiment: &e}
}

// NewChannelChange wraps c as a ProposedChange.
func NewChannelChange(c ChannelChange) ProposedChange {
	return ProposedChange{Kind: ChangeChannel, Domain: DomainChannels, Channel: &c}
}

// NewAutonomyChange wraps a as a ProposedChange.
func NewAutonomyChange(a AutonomyChange) ProposedChange {
	return ProposedChange{Kind: ChangeAutonomy, Autonomy: &a}
}

// Validate enforces that the tag and the payload agree.
func (p ProposedChange) Validate() error {
	set := 0
	for _, present := range []bool{
		p.Budget != nil, p.Creative != nil, p.Audience != nil,
		p.Experiment != nil, p.Channel != nil, p.Autonomy != nil,
	} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: expected exactly one payload, got %d", ErrInvalidChange, set)
	}

	var ok bool
	switch p.Kind {
	case ChangeBudget:
		ok = p.Budget != nil
	case ChangeCreative:
		ok = p.Creative != nil
	case ChangeAudience:
		ok = p.Audience != nil
	case ChangeExperiment:
		ok = p.Experiment != nil
	case ChangeChannel:
		ok = p.Channel != nil
	case ChangeAutonomy:
		ok = p.Autonomy != nil && p.Autonomy.To.Valid()
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidChange, p.Kind)
	}
	if !ok {
		return fmt.Errorf("%w: payload does not match kind %q", ErrInvalidChange, p.Kind)
	}
	return p.validateAmounts()
}

// validateAmounts rejects money fields that are negative or not finite.
// Rule thresholds are percentages, so a bad amount would otherwise slip past
// every budget guard.
func (p ProposedChange) validateAmounts() error {
	switch p.Kind {
	case ChangeBudget:
		if err := checkAmount("current_budget", p.Budget.CurrentBudget); err != nil {
			return err
		}
		return checkAmount("proposed_budget", p.Budget.ProposedBudget)
	case ChangeExperiment:
		if p.Experiment.DurationDays < 0 {
			return fmt.Errorf("%w: duration_days %d is negative", ErrInvalidChange, p.Experiment.DurationDays)
		}
		return checkAmount("budget", p.Experiment.Budget)
	}
	return nil
}

func checkAmount(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %s is not a finite number", ErrInvalidChange, field)
	}
	if v < 0 {
		return fmt.Errorf("%w: %s %.2f is negative", ErrInvalidChange, field, v)
	}
	return nil
}

// ChannelName returns the channel the change touches, if any.
func (p ProposedChange) ChannelName() string {
	switch p.Kind {
	case ChangeBudget:
		if p.Budget != nil {
			return p.Budget.Channel
		}
	case ChangeCreative:
		if p.Creative != nil {
			return p.Creative.Channel
		}
	case ChangeAudience:
		if p.Audience != nil {
			return p.Audience.Channel
		}
	case ChangeExperiment:
		if p.Experiment != nil {
			return p.Experiment.Channel
		}
	case ChangeChannel:
		if p.Channel != nil {
			return p.Channel.Channel
		}
	case ChangeAutonomy:
	}
	return ""
}

// Magnitude returns the absolute size of the change in percent. Only budget
// changes have a magnitude; other kinds return zero.
func (p ProposedChange) Magnitude() float64 {
	if p.Kind == ChangeBudget && p.Budget != nil {
		return math.Abs(p.Budget.ChangePercent())
	}
	return 0
}

// Describe returns a short human-readable label.
func (p ProposedChange) Describe() string {
	switch p.Kind {
	case ChangeBudget:
		if p.Budget != nil {
			return fmt.Sprintf("budget %s %.2f -> %.2f", p.Budget.Channel, p.Budget.CurrentBudget, p.Budget.ProposedBudget)
		}
	case ChangeCreative:
		if p.Creative != nil {
			return fmt.Sprintf("creative %s (%s)", p.Creative.CreativeID, p.Creative.Priority)
		}
	case ChangeAudience:
		if p.Audience != nil {
			return fmt.Sprintf("audience %s %s", p.Audience.Operation, p.Audience.Segment)
		}
	case ChangeExperiment:
		if p.Experiment != nil {
			return fmt.Sprintf("experiment %s budget %.2f", p.Experiment.Name, p.Experiment.Budget)
		}
	case ChangeChannel:
		if p.Channel != nil {
			state := "disable"
			if p.Channel.Enable {
				state = "enable"
			}
			return fmt.Sprintf("channel %s %s", state, p.Channel.Channel)
		}
	case ChangeAutonomy:
		if p.Autonomy != nil {
			return fmt.Sprintf("autonomy %s -> %s", p.Autonomy.From, p.Autonomy.To)
		}
	}
	return string(p.Kind)
}
