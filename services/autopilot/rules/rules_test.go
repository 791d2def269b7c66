// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rules

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/AleutianAI/autopilot/services/autopilot/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A Wednesday outside the holiday window.
var weekday = time.Date(2025, time.June, 11, 10, 0, 0, 0, time.UTC)

func newEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e, err := NewEngine(opts...)
	require.NoError(t, err)
	return e
}

func testConfig() datatypes.AccountConfig {
	return datatypes.DefaultAccountConfig("acct-1", weekday)
}

func budget(current, proposed float64) datatypes.ProposedChange {
	return datatypes.NewBudgetChange(datatypes.BudgetChange{Channel: "search", CurrentBudget: current, ProposedBudget: proposed})
}

func triggered(evals []datatypes.RuleEvaluation) []string {
	var ids []string
	for _, ev := range evals {
		if ev.Triggered {
			ids = append(ids, ev.RuleID)
		}
	}
	return ids
}

func evalFor(evals []datatypes.RuleEvaluation, id string) (datatypes.RuleEvaluation, bool) {
	for _, ev := range evals {
		if ev.RuleID == id {
			return ev, true
		}
	}
	return datatypes.RuleEvaluation{}, false
}

// =============================================================================
// Catalogue Tests
// =============================================================================

func TestLoadCatalog_Default(t *testing.T) {
	e := newEngine(t)
	rules := e.Rules()

	require.Len(t, rules, len(builtinPredicates))
	for i, r := range rules {
		assert.NotNil(t, r.Predicate, r.ID)
		assert.True(t, r.Action.Valid(), r.ID)
		if i > 0 {
			assert.GreaterOrEqual(t, rules[i-1].Priority, r.Priority, "sorted by priority")
		}
	}
	assert.Equal(t, "emergency_cpa_spike", rules[0].ID)
}

func TestLoadCatalog_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown id", "rules:\n  - id: nope\n    action: warn\n"},
		{"duplicate id", "rules:\n  - id: max_increase\n    action: block\n  - id: max_increase\n    action: block\n"},
		{"bad action", "rules:\n  - id: max_increase\n    action: explode\n"},
		{"missing action", "rules:\n  - id: max_increase\n"},
		{"bad kind", "rules:\n  - id: max_increase\n    action: block\n    applies_to: [billboards]\n"},
		{"malformed", "rules: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadCatalog([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

// =============================================================================
// Evaluation Tests
// =============================================================================

func TestEvaluate_LargeBudgetIncrease(t *testing.T) {
	e := newEngine(t)
	rc := NewRuleContext(testConfig(), nil, budget(100, 160), nil, nil, weekday)

	evals := e.Evaluate(rc)
	assert.Len(t, evals, 13, "rules scoped to other kinds are skipped")
	assert.Equal(t, "emergency_cpa_spike", evals[0].RuleID)
	assert.ElementsMatch(t,
		[]string{"max_increase", "flexibility_exceeded", "required", "large_budget_change"},
		triggered(evals))

	d := datatypes.Reduce(evals)
	assert.False(t, d.Allowed)
	assert.True(t, d.RequiresApproval)
	require.Len(t, d.BlockReasons, 1)
	assert.Contains(t, d.BlockReasons[0], "50% cap")
	require.Len(t, d.Escalations, 1)
	assert.Equal(t, []string{"account_manager", "marketing_lead"}, d.Escalations[0].Roles)
}

func TestDecide_SmallUngatedChangeAllowed(t *testing.T) {
	e := newEngine(t)
	cfg := testConfig()
	cfg.RequireApprovalFor = nil
	d := e.Decide(NewRuleContext(cfg, nil, budget(100, 110), nil, nil, weekday))

	assert.True(t, d.Allowed)
	assert.False(t, d.RequiresApproval)
	assert.Empty(t, d.TriggeredRules)
	assert.Empty(t, d.Warnings)
}

func TestDecide_BlockDominates(t *testing.T) {
	e := newEngine(t)
	warn := Rule{ID: "always_warn", Enabled: true, Action: datatypes.ActionWarn, Priority: 10,
		Predicate: func(*RuleContext, map[string]float64) (bool, string, error) { return true, "careful", nil }}
	approve := Rule{ID: "always_approve", Enabled: true, Action: datatypes.ActionRequireApproval, Priority: 10,
		Predicate: func(*RuleContext, map[string]float64) (bool, string, error) { return true, "ask", nil }}

	rc := NewRuleContext(testConfig(), nil, budget(100, 200), nil, nil, weekday)
	d := datatypes.Reduce(e.Evaluate(rc, warn, approve))

	assert.False(t, d.Allowed)
	assert.True(t, d.RequiresApproval)
	assert.Contains(t, d.Warnings, "careful")
}

func TestEvaluate_PredicateFailuresIsolated(t *testing.T) {
	e := newEngine(t)
	boom := Rule{ID: "boom", Enabled: true, Action: datatypes.ActionBlock, Priority: 200,
		Predicate: func(*RuleContext, map[string]float64) (bool, string, error) { panic("kaboom") }}
	broken := Rule{ID: "broken", Enabled: true, Action: datatypes.ActionBlock, Priority: 200,
		Predicate: func(*RuleContext, map[string]float64) (bool, string, error) {
			return true, "should not count", errors.New("lookup failed")
		}}
	cfg := testConfig()
	cfg.RequireApprovalFor = nil

	evals := e.Evaluate(NewRuleContext(cfg, nil, budget(100, 110), nil, nil, weekday), boom, broken)

	ev, ok := evalFor(evals, "boom")
	require.True(t, ok)
	assert.False(t, ev.Triggered)
	assert.Contains(t, ev.Error, "kaboom")

	ev, ok = evalFor(evals, "broken")
	require.True(t, ok)
	assert.False(t, ev.Triggered)
	assert.Equal(t, "lookup failed", ev.Error)

	assert.Len(t, evals, 15, "the rest of the batch still ran")
	assert.True(t, datatypes.Reduce(evals).Allowed)
}

func TestEvaluate_SafetyRulesBlockSpendIncreases(t *testing.T) {
	e := newEngine(t)
	spike := datatypes.Signal{Type: datatypes.SignalCPASpike, Severity: datatypes.SeverityCritical,
		Status: datatypes.SignalActive, ChangePercent: 80}
	cfg := testConfig()
	cfg.RequireApprovalFor = nil

	up := e.Decide(NewRuleContext(cfg, nil, budget(100, 110), []datatypes.Signal{spike}, nil, weekday))
	assert.False(t, up.Allowed)
	assert.Contains(t, up.TriggeredRules, "emergency_cpa_spike")

	down := e.Decide(NewRuleContext(cfg, nil, budget(100, 90), []datatypes.Signal{spike}, nil, weekday))
	assert.True(t, down.Allowed, "cutting spend is always permitted")

	tracking := datatypes.Signal{Type: datatypes.SignalTrackingFailure, Severity: datatypes.SeverityCritical,
		Status: datatypes.SignalActive, Channel: "social"}
	other := e.Decide(NewRuleContext(cfg, nil, budget(100, 90), []datatypes.Signal{tracking}, nil, weekday))
	assert.True(t, other.Allowed, "tracking failure on another channel")

	tracking.Channel = "search"
	same := e.Decide(NewRuleContext(cfg, nil, budget(100, 90), []datatypes.Signal{tracking}, nil, weekday))
	assert.False(t, same.Allowed)
}

func TestEvaluate_PerformanceGuards(t *testing.T) {
	e := newEngine(t)
	cfg := testConfig()
	cfg.RequireApprovalFor = nil
	g := &datatypes.KnowledgeGraph{}
	g.Set(datatypes.DomainObjectives, "target_cpa", datatypes.KnowledgeField{Value: 50.0})
	snap := &datatypes.PerformanceSnapshot{Channels: []datatypes.ChannelPerformance{
		{Channel: "search", DailyBudget: 100, Spend: 700, CPA: 80, ROAS: 0.6},
		{Channel: "social", DailyBudget: 20},
	}}

	d := e.Decide(NewRuleContext(cfg, g, budget(100, 110), nil, snap, weekday))
	assert.True(t, d.Allowed)
	assert.ElementsMatch(t, []string{"cpa_threshold", "roas_floor", "channel_concentration"}, d.TriggeredRules)
	assert.Len(t, d.Warnings, 3)
}

func TestEvaluate_CoreSegmentExclusion(t *testing.T) {
	e := newEngine(t)
	g := &datatypes.KnowledgeGraph{}
	g.Set(datatypes.DomainAudience, "core_segments", datatypes.KnowledgeField{Value: []any{"Loyal Buyers", "VIP"}})

	remove := datatypes.NewAudienceChange(datatypes.AudienceChange{Segment: "loyal buyers", Operation: datatypes.AudienceRemove})
	d := e.Decide(NewRuleContext(testConfig(), g, remove, nil, nil, weekday))
	assert.False(t, d.Allowed)

	add := datatypes.NewAudienceChange(datatypes.AudienceChange{Segment: "loyal buyers", Operation: datatypes.AudienceAdd})
	d = e.Decide(NewRuleContext(testConfig(), g, add, nil, nil, weekday))
	assert.True(t, d.Allowed)
	assert.True(t, d.RequiresApproval, "audience changes are gated by default")
}

func TestEvaluate_TimingRules(t *testing.T) {
	e := newEngine(t)
	cfg := testConfig()
	exp := datatypes.NewExperimentChange(datatypes.ExperimentChange{Name: "test", Budget: 100, DurationDays: 14})

	saturday := time.Date(2025, time.June, 14, 9, 0, 0, 0, time.UTC)
	d := e.Decide(NewRuleContext(cfg, nil, exp, nil, nil, saturday))
	assert.Contains(t, d.TriggeredRules, "weekend_launch")
	assert.NotContains(t, d.TriggeredRules, "holiday_caution")

	holiday := time.Date(2025, time.December, 3, 9, 0, 0, 0, time.UTC)
	d = e.Decide(NewRuleContext(cfg, nil, exp, nil, nil, holiday))
	assert.Contains(t, d.TriggeredRules, "holiday_caution")
	assert.NotContains(t, d.TriggeredRules, "weekend_launch")
}

func TestEvaluate_AutonomyChange(t *testing.T) {
	e := newEngine(t)
	raise := datatypes.NewAutonomyChange(datatypes.AutonomyChange{From: datatypes.AutonomyAIAssisted, To: datatypes.AutonomySemiAutonomous})
	d := e.Decide(NewRuleContext(testConfig(), nil, raise, nil, nil, weekday))
	assert.True(t, d.RequiresApproval)

	lower := datatypes.NewAutonomyChange(datatypes.AutonomyChange{From: datatypes.AutonomySemiAutonomous, To: datatypes.AutonomyManualOnly})
	d = e.Decide(NewRuleContext(testConfig(), nil, lower, nil, nil, weekday))
	assert.False(t, d.RequiresApproval)
}

// =============================================================================
// Override Tests
// =============================================================================

type staticOverrides []datatypes.RuleOverride

func (s staticOverrides) Overrides() []datatypes.RuleOverride { return s }

func TestOverrides_AppliedToCopies(t *testing.T) {
	e := newEngine(t)
	off := false
	cfg := testConfig()
	cfg.RuleOverrides = []datatypes.RuleOverride{{RuleID: "max_increase", Enabled: &off}}

	d := e.Decide(NewRuleContext(cfg, nil, budget(100, 160), nil, nil, weekday))
	assert.True(t, d.Allowed)
	assert.NotContains(t, d.TriggeredRules, "max_increase")

	for _, r := range e.Rules() {
		if r.ID == "max_increase" {
			assert.True(t, r.Enabled, "base catalogue is unchanged")
		}
	}
	d = e.Decide(NewRuleContext(testConfig(), nil, budget(100, 160), nil, nil, weekday))
	assert.False(t, d.Allowed)
}

func TestOverrides_ParamsAndAction(t *testing.T) {
	e := newEngine(t)
	warn := datatypes.ActionWarn
	cfg := testConfig()
	cfg.RuleOverrides = []datatypes.RuleOverride{
		{RuleID: "max_increase", Params: map[string]float64{"max_percent": 70}},
		{RuleID: "large_budget_change", Action: &warn},
	}

	d := e.Decide(NewRuleContext(cfg, nil, budget(100, 160), nil, nil, weekday))
	assert.True(t, d.Allowed)
	assert.Empty(t, d.Escalations)
	assert.Len(t, d.Warnings, 1)

	base := e.Rules()
	for _, r := range base {
		if r.ID == "max_increase" {
			assert.Equal(t, 50.0, r.Params["max_percent"])
		}
	}
}

func TestOverrides_AccountWinsOverFleet(t *testing.T) {
	off, on := false, true
	fleet := staticOverrides{{RuleID: "weekend_launch", Enabled: &off}, {RuleID: "max_increase", Enabled: &off}}
	e := newEngine(t, WithOverrideSource(fleet))

	cfg := testConfig()
	cfg.RuleOverrides = []datatypes.RuleOverride{{RuleID: "max_increase", Enabled: &on}}

	rules := e.EffectiveRules(cfg)
	for _, r := range rules {
		switch r.ID {
		case "weekend_launch":
			assert.False(t, r.Enabled)
		case "max_increase":
			assert.True(t, r.Enabled)
		}
	}
}

func TestNewRuleContext_IsSnapshot(t *testing.T) {
	signals := []datatypes.Signal{{ID: "s1", Type: datatypes.SignalCPASpike, Severity: datatypes.SeverityCritical}}
	change := budget(100, 120)
	cfg := testConfig()
	rc := NewRuleContext(cfg, nil, change, signals, nil, weekday)

	signals[0].Severity = datatypes.SeverityInfo
	change.Budget.ProposedBudget = 999
	cfg.BudgetFlexibility = 99

	assert.Equal(t, datatypes.SeverityCritical, rc.Signals[0].Severity)
	assert.Equal(t, 120.0, rc.Change.Budget.ProposedBudget)
	assert.Equal(t, 20.0, rc.Config.BudgetFlexibility)
}

// =============================================================================
// Autonomy Table Tests
// =============================================================================

func TestIsActionAllowedAtLevel(t *testing.T) {
	tests := []struct {
		action AutopilotAction
		level  datatypes.AutonomyLevel
		want   bool
	}{
		{ActionSurfaceInsights, datatypes.AutonomyManualOnly, true},
		{ActionApplyBudget, datatypes.AutonomyManualOnly, false},
		{ActionRequestApproval, datatypes.AutonomyAIAssisted, true},
		{ActionApplyCreative, datatypes.AutonomyAIAssisted, false},
		{ActionApplyCreative, datatypes.AutonomySemiAutonomous, true},
		{ActionApplyBudget, datatypes.AutonomySemiAutonomous, true},
		{ActionApplyAudience, datatypes.AutonomySemiAutonomous, false},
		{ActionApplyAudience, datatypes.AutonomyFullAutonomous, true},
		{ActionApplyKnowledgeUpdate, datatypes.AutonomyFullAutonomous, true},
		{ActionApplyBudget, datatypes.AutonomyLevel("rogue"), false},
	}
	for _, tt := range tests {
		t.Run(string(tt.action)+"/"+string(tt.level), func(t *testing.T) {
			assert.Equal(t, tt.want, IsActionAllowedAtLevel(tt.action, tt.level))
		})
	}
}

// =============================================================================
// Override Watcher Tests
// =============================================================================

// writeAtomic replaces path in one rename so the watcher never observes a
// truncated file.
func writeAtomic(t *testing.T, path, content string) {
	t.Helper()
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte(content), 0o600))
	require.NoError(t, os.Rename(tmp, path))
}

func TestOverrideWatcher_LoadAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overrides.yaml")
	require.NoError(t, os.WriteFile(path, []byte("overrides:\n  - rule_id: weekend_launch\n    enabled: false\n"), 0o600))

	w, err := NewOverrideWatcher(path, nil)
	require.NoError(t, err)
	defer w.Stop()

	got := w.Overrides()
	require.Len(t, got, 1)
	assert.Equal(t, "weekend_launch", got[0].RuleID)
	require.NotNil(t, got[0].Enabled)
	assert.False(t, *got[0].Enabled)

	ctx := t.Context()
	require.NoError(t, w.Start(ctx))

	writeAtomic(t, path, "overrides:\n  - rule_id: max_increase\n    action: warn\n  - rule_id: roas_floor\n")
	assert.Eventually(t, func() bool { return len(w.Overrides()) == 2 }, 3*time.Second, 20*time.Millisecond)

	writeAtomic(t, path, "overrides:\n  - rule_id: max_increase\n    action: explode\n")
	time.Sleep(200 * time.Millisecond)
	assert.Len(t, w.Overrides(), 2, "invalid reload keeps previous overrides")
}

func TestOverrideWatcher_MissingAndInvalid(t *testing.T) {
	dir := t.TempDir()

	w, err := NewOverrideWatcher(filepath.Join(dir, "absent.yaml"), nil)
	require.NoError(t, err)
	assert.Empty(t, w.Overrides())
	w.Stop()

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("overrides:\n  - enabled: true\n"), 0o600))
	_, err = NewOverrideWatcher(bad, nil)
	assert.Error(t, err)
}
