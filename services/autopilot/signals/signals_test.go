// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package signals

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/AleutianAI/autopilot/services/autopilot/datatypes"
	"github.com/AleutianAI/autopilot/services/autopilot/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, time.June, 10, 14, 0, 0, 0, time.UTC)

// steadySnapshot returns a snapshot where nothing changed between periods.
func steadySnapshot() *datatypes.PerformanceSnapshot {
	m := datatypes.Metrics{Spend: 1000, Revenue: 4000, Impressions: 100000, Clicks: 2000, Conversions: 10}
	return &datatypes.PerformanceSnapshot{AccountID: "acct-1", Current: m, Previous: m}
}

// spikedSnapshot raises CPA by 50% while holding ROAS and ROI steady.
func spikedSnapshot() *datatypes.PerformanceSnapshot {
	snap := steadySnapshot()
	snap.Current.Spend = 1500
	snap.Current.Revenue = 6000
	return snap
}

func completeGraph() *datatypes.KnowledgeGraph {
	g := &datatypes.KnowledgeGraph{AccountID: "acct-1"}
	for _, ref := range datatypes.CriticalFields {
		g.Set(ref.Domain, ref.Field, datatypes.KnowledgeField{Value: "set", Confidence: 1})
	}
	g.Set(datatypes.DomainChannels, "active_channels", datatypes.KnowledgeField{Value: []any{"search"}})
	return g
}

func ofType(signals []datatypes.Signal, t datatypes.SignalType) []datatypes.Signal {
	var out []datatypes.Signal
	for _, s := range signals {
		if s.Type == t {
			out = append(out, s)
		}
	}
	return out
}

// =============================================================================
// Metric Detector Tests
// =============================================================================

func TestDetect_CPASpikeAtCriticalBoundary(t *testing.T) {
	snap := steadySnapshot()
	// CPA 100 -> 150: a 50% rise
	snap.Previous = datatypes.Metrics{Spend: 1000, Conversions: 10}
	snap.Current = datatypes.Metrics{Spend: 1500, Conversions: 10}

	signals := ofType(Detect("acct-1", nil, snap, DefaultThresholds(), testNow), datatypes.SignalCPASpike)

	require.Len(t, signals, 1, "exactly one signal per metric")
	s := signals[0]
	assert.Equal(t, datatypes.SeverityCritical, s.Severity)
	assert.InDelta(t, 50.0, s.ChangePercent, 1e-9)
	assert.Equal(t, 50.0, s.ThresholdCrossed)
	assert.Equal(t, 150.0, s.CurrentValue)
	assert.Equal(t, 100.0, s.PreviousValue)
	assert.Equal(t, datatypes.CategoryPerformance, s.Category)
	assert.Equal(t, datatypes.SignalActive, s.Status)
	assert.Equal(t, "acct-1", s.AccountID)
	assert.NotEmpty(t, s.ID)
}

func TestDetect_MetricTiers(t *testing.T) {
	tests := []struct {
		name     string
		prevCPA  float64
		curCPA   float64
		wantSev  datatypes.Severity
		wantNone bool
	}{
		{"below warning", 100, 119, "", true},
		{"at warning", 100, 120, datatypes.SeverityWarning, false},
		{"between tiers", 100, 140, datatypes.SeverityWarning, false},
		{"above critical", 100, 300, datatypes.SeverityCritical, false},
		{"improvement", 100, 50, "", true},
		{"no previous", 0, 100, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := &datatypes.PerformanceSnapshot{
				Previous: datatypes.Metrics{Spend: tt.prevCPA, Conversions: 1},
				Current:  datatypes.Metrics{Spend: tt.curCPA, Conversions: 1},
			}
			got := ofType(Detect("a", nil, snap, DefaultThresholds(), testNow), datatypes.SignalCPASpike)
			if tt.wantNone {
				assert.Empty(t, got)
				return
			}
			require.Len(t, got, 1)
			assert.Equal(t, tt.wantSev, got[0].Severity)
		})
	}
}

func TestDetect_FallingMetrics(t *testing.T) {
	snap := &datatypes.PerformanceSnapshot{
		Previous: datatypes.Metrics{Spend: 1000, Revenue: 5000, Impressions: 100000, Clicks: 4000, Conversions: 100},
		Current:  datatypes.Metrics{Spend: 1000, Revenue: 2000, Impressions: 100000, Clicks: 1000, Conversions: 70},
	}
	signals := Detect("a", nil, snap, DefaultThresholds(), testNow)

	ctr := ofType(signals, datatypes.SignalCTRCollapse)
	require.Len(t, ctr, 1)
	assert.Equal(t, datatypes.SeverityCritical, ctr[0].Severity, "CTR fell 75%")

	conv := ofType(signals, datatypes.SignalConversionDrop)
	require.Len(t, conv, 1)
	assert.Equal(t, datatypes.SeverityWarning, conv[0].Severity, "conversions fell 30%")

	roas := ofType(signals, datatypes.SignalROASDecline)
	require.Len(t, roas, 1)
	assert.Equal(t, datatypes.SeverityCritical, roas[0].Severity, "ROAS fell 60%")
}

func TestDetect_NegativeROI(t *testing.T) {
	snap := steadySnapshot()
	snap.Current = datatypes.Metrics{Spend: 1000, Revenue: 900}
	got := ofType(Detect("a", nil, snap, DefaultThresholds(), testNow), datatypes.SignalNegativeROI)
	require.Len(t, got, 1)
	assert.Equal(t, datatypes.SeverityWarning, got[0].Severity)

	snap.Current = datatypes.Metrics{Spend: 1000, Revenue: 500}
	got = ofType(Detect("a", nil, snap, DefaultThresholds(), testNow), datatypes.SignalNegativeROI)
	require.Len(t, got, 1)
	assert.Equal(t, datatypes.SeverityCritical, got[0].Severity)
	assert.InDelta(t, 50.0, got[0].Deviation(), 1e-9)

	snap.Current = datatypes.Metrics{Spend: 1000, Revenue: 1000}
	assert.Empty(t, ofType(Detect("a", nil, snap, DefaultThresholds(), testNow), datatypes.SignalNegativeROI))
}

// =============================================================================
// Channel Detector Tests
// =============================================================================

func TestDetect_PerChannel(t *testing.T) {
	snap := steadySnapshot()
	snap.Channels = []datatypes.ChannelPerformance{
		{Channel: "search", BudgetUtilization: 95, PlatformConversions: 100, TrackedConversions: 95,
			QualityScore: 5, PreviousQualityScore: 8, ImpressionShare: 50, PreviousImpressionShare: 52},
		{Channel: "social", BudgetUtilization: 120, PlatformConversions: 100, TrackedConversions: 40,
			QualityScore: 7, PreviousQualityScore: 7, ImpressionShare: 30, PreviousImpressionShare: 50},
		{Channel: "display", BudgetUtilization: 60},
	}
	signals := Detect("a", nil, snap, DefaultThresholds(), testNow)

	budget := ofType(signals, datatypes.SignalBudgetExhaustion)
	require.Len(t, budget, 2)
	assert.Equal(t, "search", budget[0].Channel)
	assert.Equal(t, datatypes.SeverityWarning, budget[0].Severity)
	assert.Equal(t, "social", budget[1].Channel)
	assert.Equal(t, datatypes.SeverityCritical, budget[1].Severity)
	assert.InDelta(t, 20.0, budget[1].Deviation(), 1e-9)

	tracking := ofType(signals, datatypes.SignalTrackingFailure)
	require.Len(t, tracking, 1)
	assert.Equal(t, "social", tracking[0].Channel)
	assert.Equal(t, datatypes.SeverityCritical, tracking[0].Severity)

	quality := ofType(signals, datatypes.SignalQualityScoreDrop)
	require.Len(t, quality, 1)
	assert.Equal(t, "search", quality[0].Channel)
	assert.Equal(t, datatypes.SeverityCritical, quality[0].Severity, "8 -> 5 is a 37.5% drop")

	share := ofType(signals, datatypes.SignalCompetitiveThreat)
	require.Len(t, share, 1)
	assert.Equal(t, "social", share[0].Channel)
	assert.Equal(t, datatypes.SeverityCritical, share[0].Severity)
}

// =============================================================================
// Knowledge Detector Tests
// =============================================================================

func TestDetect_Season(t *testing.T) {
	g := completeGraph()
	g.Set(datatypes.DomainSeasonality, "peak_months", datatypes.KnowledgeField{Value: "November, June"})
	got := ofType(Detect("a", g, nil, DefaultThresholds(), testNow), datatypes.SignalSeasonalAnomaly)
	require.Len(t, got, 1)
	assert.Equal(t, datatypes.SeverityInfo, got[0].Severity)

	g.Set(datatypes.DomainSeasonality, "peak_months", datatypes.KnowledgeField{Value: []any{"12", "jan"}})
	assert.Empty(t, ofType(Detect("a", g, nil, DefaultThresholds(), testNow), datatypes.SignalSeasonalAnomaly))
}

func TestDetect_ContextGaps(t *testing.T) {
	assert.Empty(t, ofType(Detect("a", completeGraph(), nil, DefaultThresholds(), testNow), datatypes.SignalContextGap))

	g := completeGraph()
	delete(g.Domains[datatypes.DomainBusiness], "industry")
	got := ofType(Detect("a", g, nil, DefaultThresholds(), testNow), datatypes.SignalContextGap)
	require.Len(t, got, 1)
	assert.Equal(t, datatypes.SeverityWarning, got[0].Severity)
	assert.Contains(t, got[0].Message, "business.industry")

	got = ofType(Detect("a", &datatypes.KnowledgeGraph{}, nil, DefaultThresholds(), testNow), datatypes.SignalContextGap)
	require.Len(t, got, 1)
	assert.Equal(t, datatypes.SeverityCritical, got[0].Severity)
	assert.Equal(t, float64(len(datatypes.CriticalFields)), got[0].CurrentValue)
	assert.Zero(t, got[0].Deviation(), "gaps never trip the emergency stop")
}

func TestDetect_Misalignment(t *testing.T) {
	g := completeGraph()
	g.Set(datatypes.DomainObjectives, "primary_goal", datatypes.KnowledgeField{Value: "ecommerce"})
	g.Set(datatypes.DomainChannels, "active_channels", datatypes.KnowledgeField{Value: []any{"search", "social"}})
	got := ofType(Detect("a", g, nil, DefaultThresholds(), testNow), datatypes.SignalStrategyMisalignment)
	require.Len(t, got, 1)
	assert.Equal(t, datatypes.SeverityWarning, got[0].Severity)

	g.Set(datatypes.DomainChannels, "active_channels", datatypes.KnowledgeField{Value: []any{"search", "Google Shopping"}})
	assert.Empty(t, ofType(Detect("a", g, nil, DefaultThresholds(), testNow), datatypes.SignalStrategyMisalignment))
}

func TestDetect_NilInputs(t *testing.T) {
	assert.Empty(t, Detect("a", nil, nil, DefaultThresholds(), testNow))
}

// =============================================================================
// Monitor Tests
// =============================================================================

func newTestMonitor(s store.Store) *Monitor {
	return NewMonitor(s, MonitorConfig{HistoryLimit: 5, Now: func() time.Time { return testNow }})
}

func TestMonitor_ScanStoresActiveAndHistory(t *testing.T) {
	ctx := context.Background()
	m := newTestMonitor(store.NewMemoryStore())

	g := completeGraph()
	g.Set(datatypes.DomainSeasonality, "peak_months", datatypes.KnowledgeField{Value: "june"})
	snap := spikedSnapshot()

	signals, err := m.Scan(ctx, "acct-1", g, snap)
	require.NoError(t, err)
	require.Len(t, signals, 2, "cpa spike plus seasonal info")

	active, err := m.GetActiveSignals(ctx, "acct-1")
	require.NoError(t, err)
	require.Len(t, active, 1, "info signals are not active")
	assert.Equal(t, datatypes.SignalCPASpike, active[0].Type)

	history, err := m.GetSignalHistory(ctx, "acct-1", 0)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestMonitor_DetectDoesNotPersist(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	m := newTestMonitor(s)

	snap := spikedSnapshot()
	assert.NotEmpty(t, m.Detect(ctx, "acct-1", nil, snap))

	keys, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestMonitor_HistoryBounded(t *testing.T) {
	ctx := context.Background()
	m := newTestMonitor(store.NewMemoryStore())
	snap := spikedSnapshot()

	for i := 0; i < 8; i++ {
		_, err := m.Scan(ctx, "acct-1", nil, snap)
		require.NoError(t, err)
	}
	history, err := m.GetSignalHistory(ctx, "acct-1", 100)
	require.NoError(t, err)
	assert.Len(t, history, 5)
}

func TestMonitor_AcknowledgeAndResolve(t *testing.T) {
	ctx := context.Background()
	m := newTestMonitor(store.NewMemoryStore())
	snap := spikedSnapshot()
	signals, err := m.Scan(ctx, "acct-1", nil, snap)
	require.NoError(t, err)
	id := signals[0].ID

	acked, err := m.AcknowledgeSignal(ctx, "acct-1", id, "alice")
	require.NoError(t, err)
	require.NotNil(t, acked)
	assert.Equal(t, datatypes.SignalAcknowledged, acked.Status)
	assert.Equal(t, "alice", acked.AcknowledgedBy)

	again, err := m.AcknowledgeSignal(ctx, "acct-1", id, "alice")
	require.NoError(t, err)
	assert.Nil(t, again)

	resolved, err := m.ResolveSignal(ctx, "acct-1", id, "bob")
	require.NoError(t, err)
	require.NotNil(t, resolved)
	assert.Equal(t, datatypes.SignalResolved, resolved.Status)

	active, err := m.GetActiveSignals(ctx, "acct-1")
	require.NoError(t, err)
	assert.Empty(t, active)

	history, err := m.GetSignalHistory(ctx, "acct-1", 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, datatypes.SignalResolved, history[0].Status)

	missing, err := m.ResolveSignal(ctx, "acct-1", "nope", "bob")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

// staleStore replays the first Update on a key against an earlier value and
// discards the result, the way a transaction retried after a conflict does.
type staleStore struct {
	store.Store
	key   string
	value []byte
}

func (s *staleStore) Update(ctx context.Context, key string, fn store.UpdateFunc) error {
	if key == s.key && s.value != nil {
		stale := s.value
		s.value = nil
		if _, err := fn(stale, true); err != nil && !errors.Is(err, store.ErrNoChange) {
			return err
		}
	}
	return s.Store.Update(ctx, key, fn)
}

func TestMonitor_RetriedTransitionUsesFreshState(t *testing.T) {
	ctx := context.Background()
	base := store.NewMemoryStore()
	m := newTestMonitor(base)
	signals, err := m.Scan(ctx, "acct-1", nil, spikedSnapshot())
	require.NoError(t, err)
	id := signals[0].ID

	key := store.AccountKey("acct-1", store.SuffixActiveSignals)
	before, found, err := base.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	_, err = m.ResolveSignal(ctx, "acct-1", id, "alice")
	require.NoError(t, err)

	retrying := newTestMonitor(&staleStore{Store: base, key: key, value: before})
	again, err := retrying.ResolveSignal(ctx, "acct-1", id, "bob")
	require.NoError(t, err)
	assert.Nil(t, again, "a signal resolved by another writer is not resolved twice")

	history, err := m.GetSignalHistory(ctx, "acct-1", 0)
	require.NoError(t, err)
	for _, s := range history {
		if s.ID == id {
			assert.Equal(t, "alice", s.ResolvedBy)
		}
	}
}

func TestMonitor_Summary(t *testing.T) {
	ctx := context.Background()
	m := newTestMonitor(store.NewMemoryStore())
	snap := spikedSnapshot()
	snap.Channels = []datatypes.ChannelPerformance{{Channel: "search", BudgetUtilization: 92}}
	_, err := m.Scan(ctx, "acct-1", nil, snap)
	require.NoError(t, err)

	sum, err := m.GetSignalSummary(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Total)
	assert.Equal(t, 1, sum.BySeverity[datatypes.SeverityCritical])
	assert.Equal(t, 1, sum.BySeverity[datatypes.SeverityWarning])
	assert.Equal(t, 1, sum.ByCategory[datatypes.CategoryBudget])
	assert.Equal(t, 2, sum.ByStatus[datatypes.SignalActive])
	assert.NotNil(t, sum.MostRecent)
	assert.Equal(t, 2, sum.HistoryCount)
}

// =============================================================================
// Alert Eligibility Tests
// =============================================================================

func TestShouldTriggerAlert(t *testing.T) {
	warn := datatypes.Signal{Type: datatypes.SignalCPASpike, Severity: datatypes.SeverityWarning}
	crit := datatypes.Signal{Type: datatypes.SignalTrackingFailure, Severity: datatypes.SeverityCritical}
	at := func(hour int) time.Time { return time.Date(2025, 1, 1, hour, 30, 0, 0, time.UTC) }

	tests := []struct {
		name   string
		signal datatypes.Signal
		prefs  datatypes.AlertPreferences
		now    time.Time
		want   bool
	}{
		{"no prefs", warn, datatypes.AlertPreferences{}, at(12), true},
		{"below floor", warn, datatypes.AlertPreferences{MinSeverity: datatypes.SeverityCritical}, at(12), false},
		{"at floor", crit, datatypes.AlertPreferences{MinSeverity: datatypes.SeverityCritical}, at(12), true},
		{"type not allowed", warn, datatypes.AlertPreferences{EnabledSignalTypes: []datatypes.SignalType{datatypes.SignalTrackingFailure}}, at(12), false},
		{"type allowed", crit, datatypes.AlertPreferences{EnabledSignalTypes: []datatypes.SignalType{datatypes.SignalTrackingFailure}}, at(12), true},
		{"inside daytime window", warn, datatypes.AlertPreferences{QuietHoursStart: 9, QuietHoursEnd: 17}, at(12), false},
		{"window end exclusive", warn, datatypes.AlertPreferences{QuietHoursStart: 9, QuietHoursEnd: 17}, at(17), true},
		{"wrap before midnight", warn, datatypes.AlertPreferences{QuietHoursStart: 22, QuietHoursEnd: 6}, at(23), false},
		{"wrap after midnight", warn, datatypes.AlertPreferences{QuietHoursStart: 22, QuietHoursEnd: 6}, at(3), false},
		{"wrap outside", warn, datatypes.AlertPreferences{QuietHoursStart: 22, QuietHoursEnd: 6}, at(12), true},
		{"equal bounds disable", warn, datatypes.AlertPreferences{QuietHoursStart: 5, QuietHoursEnd: 5}, at(5), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldTriggerAlert(tt.signal, tt.prefs, tt.now))
		})
	}
}
