// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package performance

import (
	"context"
	"testing"
	"time"

	"github.com/AleutianAI/autopilot/services/autopilot/datatypes"
	"github.com/AleutianAI/autopilot/services/autopilot/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepository_SnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(store.NewMemoryStore())

	snap, err := repo.Snapshot(ctx, "acct-1")
	require.NoError(t, err)
	assert.Nil(t, snap, "no data is not an error")

	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	in := &datatypes.PerformanceSnapshot{
		AccountID:   "acct-1",
		PeriodStart: start,
		PeriodEnd:   start.Add(10 * 24 * time.Hour),
		Current:     datatypes.Metrics{Spend: 1500, Conversions: 10},
		Previous:    datatypes.Metrics{Spend: 1000, Conversions: 10},
		Channels: []datatypes.ChannelPerformance{
			{Channel: "search", DailyBudget: 100, Spend: 950},
		},
	}
	require.NoError(t, repo.Save(ctx, in))

	got, err := repo.Snapshot(ctx, "acct-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.InDelta(t, 150.0, got.Current.CPA(), 1e-9)
	require.Len(t, got.Channels, 1)
	assert.InDelta(t, 95.0, got.Channels[0].BudgetUtilization, 1e-9)
	assert.Equal(t, 0.0, in.Channels[0].BudgetUtilization, "caller slice untouched")
	assert.False(t, got.CollectedAt.IsZero())
}

func TestRepository_SaveRequiresAccount(t *testing.T) {
	repo := NewRepository(store.NewMemoryStore())
	assert.Error(t, repo.Save(context.Background(), &datatypes.PerformanceSnapshot{}))
	assert.Error(t, repo.Save(context.Background(), nil))
}

func TestBuildSnapshot(t *testing.T) {
	end := time.Date(2025, 3, 8, 0, 0, 0, 0, time.UTC)
	start := end.Add(-7 * 24 * time.Hour)

	current := []row{
		{channel: "search", fields: map[string]float64{"spend": 300, "conversions": 3, "daily_budget": 50, "quality_score": 6, "impression_share": 40}},
		{channel: "search", fields: map[string]float64{"spend": 400, "conversions": 4, "quality_score": 5}},
		{channel: "social", fields: map[string]float64{"spend": 100, "revenue": 500, "platform_conversions": 10, "tracked_conversions": 6}},
	}
	previous := []row{
		{channel: "search", fields: map[string]float64{"spend": 500, "conversions": 10, "quality_score": 8, "impression_share": 60}},
	}

	snap := buildSnapshot("acct-1", start, end, current, previous)

	assert.Equal(t, 800.0, snap.Current.Spend)
	assert.Equal(t, 7.0, snap.Current.Conversions)
	assert.Equal(t, 500.0, snap.Previous.Spend)
	require.Len(t, snap.Channels, 2)

	search := snap.Channels[0]
	assert.Equal(t, "search", search.Channel)
	assert.Equal(t, 700.0, search.Spend)
	assert.Equal(t, 5.0, search.QualityScore, "gauges keep the latest value")
	assert.Equal(t, 8.0, search.PreviousQualityScore)
	assert.Equal(t, 60.0, search.PreviousImpressionShare)
	assert.InDelta(t, 100.0, search.CPA, 1e-9)
	assert.InDelta(t, 200.0, search.BudgetUtilization, 1e-9)

	social, ok := snap.ChannelByName("social")
	require.True(t, ok)
	assert.Equal(t, 10.0, social.PlatformConversions)
	assert.Equal(t, 6.0, social.TrackedConversions)
	assert.InDelta(t, 5.0, social.ROAS, 1e-9)
}

func TestNewInfluxSource_RequiresConfig(t *testing.T) {
	_, err := NewInfluxSource(InfluxConfig{URL: "http://localhost:8086"}, nil)
	assert.Error(t, err)
}
