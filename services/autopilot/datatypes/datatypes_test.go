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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// ProposedChange Tests
// =============================================================================

func TestProposedChange_Validate(t *testing.T) {
	tests := []struct {
		name    string
		change  ProposedChange
		wantErr bool
	}{
		{"budget ok", NewBudgetChange(BudgetChange{Channel: "search", CurrentBudget: 100, ProposedBudget: 120}), false},
		{"creative ok", NewCreativeChange(CreativeChange{CreativeID: "c1", Priority: CreativePriorityHigh}), false},
		{"audience ok", NewAudienceChange(AudienceChange{Segment: "s", Operation: AudienceAdd}), false},
		{"experiment ok", NewExperimentChange(ExperimentChange{Name: "e"}), false},
		{"channel ok", NewChannelChange(ChannelChange{Channel: "social"}), false},
		{"autonomy ok", NewAutonomyChange(AutonomyChange{From: AutonomyAIAssisted, To: AutonomyManualOnly}), false},
		{"no payload", ProposedChange{Kind: ChangeBudget}, true},
		{"mismatched tag", ProposedChange{Kind: ChangeCreative, Budget: &BudgetChange{}}, true},
		{"two payloads", ProposedChange{Kind: ChangeBudget, Budget: &BudgetChange{}, Creative: &CreativeChange{}}, true},
		{"unknown kind", ProposedChange{Kind: "pricing", Budget: &BudgetChange{}}, true},
		{"bad autonomy target", NewAutonomyChange(AutonomyChange{To: "rogue"}), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.change.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidChange))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestBudgetChange_ChangePercent(t *testing.T) {
	assert.InDelta(t, 25.0, BudgetChange{CurrentBudget: 100, ProposedBudget: 125}.ChangePercent(), 1e-9)
	assert.InDelta(t, -40.0, BudgetChange{CurrentBudget: 100, ProposedBudget: 60}.ChangePercent(), 1e-9)
	assert.Equal(t, 100.0, BudgetChange{CurrentBudget: 0, ProposedBudget: 10}.ChangePercent())
	assert.Equal(t, 0.0, BudgetChange{}.ChangePercent())

	p := NewBudgetChange(BudgetChange{Channel: "search", CurrentBudget: 100, ProposedBudget: 60})
	assert.InDelta(t, 40.0, p.Magnitude(), 1e-9)
	assert.Equal(t, "search", p.ChannelName())
}

// =============================================================================
// Rule Reduction Tests
// =============================================================================

func TestReduce_BlockDominates(t *testing.T) {
	evals := []RuleEvaluation{
		{RuleID: "a", Triggered: true, Action: ActionWarn, Reason: "heads up"},
		{RuleID: "b", Triggered: true, Action: ActionRequireApproval, Reason: "needs review"},
		{RuleID: "c", Triggered: true, Action: ActionBlock, Reason: "unsafe"},
		{RuleID: "d", Triggered: false, Action: ActionBlock, Reason: "ignored"},
	}

	d := Reduce(evals)

	assert.False(t, d.Allowed)
	assert.True(t, d.RequiresApproval)
	assert.Equal(t, []string{"heads up"}, d.Warnings)
	assert.Equal(t, []string{"unsafe"}, d.BlockReasons)
	assert.Equal(t, []string{"a", "b", "c"}, d.TriggeredRules)
}

func TestReduce_NothingTriggered(t *testing.T) {
	d := Reduce([]RuleEvaluation{{RuleID: "a", Action: ActionBlock}})
	assert.True(t, d.Allowed)
	assert.False(t, d.RequiresApproval)
	assert.Empty(t, d.BlockReasons)
	assert.Empty(t, d.Escalations)
}

func TestReduce_EscalationCollected(t *testing.T) {
	esc := &Escalation{Roles: []string{"account_owner"}, Urgency: "urgent"}
	d := Reduce([]RuleEvaluation{{RuleID: "x", Triggered: true, Action: ActionEscalate, Escalation: esc}})
	require.Len(t, d.Escalations, 1)
	assert.Equal(t, "urgent", d.Escalations[0].Urgency)
	assert.True(t, d.Allowed)
	assert.True(t, d.RequiresApproval)
}

// =============================================================================
// AccountConfig Tests
// =============================================================================

func TestDefaultAccountConfig(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	cfg := DefaultAccountConfig("acct-1", now)

	assert.False(t, cfg.Enabled)
	assert.Equal(t, AutonomyAIAssisted, cfg.AutonomyLevel)
	assert.Equal(t, FrequencyWeekly, cfg.CycleFrequency)
	assert.Len(t, cfg.AllowedDomains, len(AllKnowledgeDomains))
	assert.Equal(t, 20.0, cfg.BudgetFlexibility)
	assert.Equal(t, 10.0, cfg.ExperimentBudgetPercent)
	assert.Equal(t, RiskModerate, cfg.RiskTolerance)
	assert.True(t, cfg.RequiresApproval(ChangeBudget))
	assert.True(t, cfg.RequiresApproval(ChangeAudience))
	assert.True(t, cfg.RequiresApproval(ChangeChannel))
	assert.False(t, cfg.RequiresApproval(ChangeCreative))
	assert.Equal(t, 50.0, cfg.EmergencyStopThreshold)
	assert.Nil(t, cfg.LastCycleAt)
	assert.NoError(t, cfg.Validate())
}

func TestAccountConfig_Validate(t *testing.T) {
	base := DefaultAccountConfig("acct-1", time.Now())

	bad := base.Clone()
	bad.AutonomyLevel = "yolo"
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	bad = base.Clone()
	bad.BudgetFlexibility = 150
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	bad = base.Clone()
	bad.EmergencyStopThreshold = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	bad = base.Clone()
	bad.AllowedDomains = []KnowledgeDomain{"astrology"}
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)
}

func TestAccountConfig_CloneIsDeep(t *testing.T) {
	cfg := DefaultAccountConfig("acct-1", time.Now())
	now := time.Now()
	cfg.LastCycleAt = &now

	cp := cfg.Clone()
	cp.AllowedDomains[0] = DomainBrand
	cp.RequireApprovalFor = append(cp.RequireApprovalFor, ChangeCreative)
	*cp.LastCycleAt = now.Add(time.Hour)

	assert.Equal(t, DomainBusiness, cfg.AllowedDomains[0])
	assert.False(t, cfg.RequiresApproval(ChangeCreative))
	assert.Equal(t, now, *cfg.LastCycleAt)
}

func TestConfigPatch_Apply(t *testing.T) {
	cfg := DefaultAccountConfig("acct-1", time.Now())
	enabled := true
	flex := 35.0
	level := AutonomyFullAutonomous

	changed := ConfigPatch{Enabled: &enabled, BudgetFlexibility: &flex, AutonomyLevel: &level}.Apply(&cfg)

	assert.ElementsMatch(t, []string{"enabled", "budget_flexibility"}, changed)
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 35.0, cfg.BudgetFlexibility)
	assert.Equal(t, AutonomyAIAssisted, cfg.AutonomyLevel, "autonomy goes through the guard")
}

func TestRiskTolerance_HypothesisLimit(t *testing.T) {
	assert.Equal(t, 5, RiskAggressive.HypothesisLimit())
	assert.Equal(t, 3, RiskModerate.HypothesisLimit())
	assert.Equal(t, 2, RiskConservative.HypothesisLimit())
	assert.Equal(t, 3, RiskTolerance("unknown").HypothesisLimit())
}

func TestAutonomyLevel_Ordering(t *testing.T) {
	assert.True(t, AutonomyFullAutonomous.AtLeast(AutonomySemiAutonomous))
	assert.True(t, AutonomySemiAutonomous.AtLeast(AutonomySemiAutonomous))
	assert.False(t, AutonomyAIAssisted.AtLeast(AutonomySemiAutonomous))
	assert.Equal(t, -1, AutonomyLevel("x").Rank())
}

// =============================================================================
// Metrics / Knowledge Tests
// =============================================================================

func TestMetrics_Derived(t *testing.T) {
	m := Metrics{Spend: 1000, Revenue: 3000, Impressions: 100000, Clicks: 2000, Conversions: 50}
	assert.InDelta(t, 20.0, m.CPA(), 1e-9)
	assert.InDelta(t, 2.0, m.CTR(), 1e-9)
	assert.InDelta(t, 3.0, m.ROAS(), 1e-9)
	assert.InDelta(t, 2.5, m.ConversionRate(), 1e-9)
	assert.InDelta(t, 200.0, m.ROI(), 1e-9)
	assert.Zero(t, Metrics{}.CPA())
}

func TestKnowledgeGraph_Accessors(t *testing.T) {
	g := &KnowledgeGraph{AccountID: "a"}
	g.Set(DomainBusiness, "industry", KnowledgeField{Value: "retail", Confidence: 0.9})
	g.Set(DomainChannels, "active_channels", KnowledgeField{Value: []any{"search", "social"}})
	g.Set(DomainObjectives, "monthly_budget", KnowledgeField{Value: 5000.0})
	g.Set(DomainBrand, "voice", KnowledgeField{Value: "  "})

	assert.Equal(t, "retail", g.String(DomainBusiness, "industry"))
	assert.Equal(t, []string{"search", "social"}, g.Strings(DomainChannels, "active_channels"))
	v, ok := g.Number(DomainObjectives, "monthly_budget")
	assert.True(t, ok)
	assert.Equal(t, 5000.0, v)
	_, ok = g.Field(DomainBrand, "voice")
	assert.False(t, ok, "blank values count as missing")

	var nilGraph *KnowledgeGraph
	assert.Equal(t, "", nilGraph.String(DomainBusiness, "industry"))
}

func TestAuditAction_Category(t *testing.T) {
	assert.Equal(t, AuditCategoryCycle, AuditCycleCompleted.Category())
	assert.Equal(t, AuditCategoryEmergency, AuditEmergencyResolved.Category())
	assert.Equal(t, AuditCategoryOther, AuditAction("mystery").Category())
}
