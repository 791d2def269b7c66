// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/autopilot/services/autopilot/cycle"
	"github.com/AleutianAI/autopilot/services/autopilot/datatypes"
	"github.com/AleutianAI/autopilot/services/autopilot/governance"
	"github.com/AleutianAI/autopilot/services/autopilot/knowledge"
	"github.com/AleutianAI/autopilot/services/autopilot/rules"
	"github.com/AleutianAI/autopilot/services/autopilot/signals"
	"github.com/AleutianAI/autopilot/services/autopilot/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeRunner struct {
	mu       sync.Mutex
	calls    []string
	statuses map[string]datatypes.CycleStatus
	errs     map[string]error
	called   chan string
}

func (f *fakeRunner) RunCycle(_ context.Context, accountID string, opts cycle.RunOptions) (*datatypes.CycleResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, accountID)
	status, ok := f.statuses[accountID]
	err := f.errs[accountID]
	f.mu.Unlock()
	if f.called != nil {
		select {
		case f.called <- accountID:
		default:
		}
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		status = datatypes.CycleSuccess
	}
	return &datatypes.CycleResult{AccountID: accountID, Status: status, TriggeredBy: opts.TriggeredBy, ErrorMessage: "boom"}, nil
}

func (f *fakeRunner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func setup(t *testing.T) (*store.MemoryStore, *governance.Governance, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, time.June, 11, 10, 0, 0, 0, time.UTC)}
	s := store.NewMemoryStore()
	return s, governance.New(s, governance.WithClock(clock.Now)), clock
}

func enable(t *testing.T, gov *governance.Governance, id string, freq datatypes.CycleFrequency) {
	t.Helper()
	on := true
	_, err := gov.SetAutopilotConfig(context.Background(), id,
		datatypes.ConfigPatch{Enabled: &on, CycleFrequency: &freq}, "ops@example.com")
	require.NoError(t, err)
}

// =============================================================================
// Due Account Tests
// =============================================================================

func TestDueAccounts(t *testing.T) {
	ctx := context.Background()
	s, gov, clock := setup(t)
	now := clock.Now()

	enable(t, gov, "fresh", datatypes.FrequencyWeekly)
	_, err := gov.GetAutopilotConfig(ctx, "disabled")
	require.NoError(t, err)
	enable(t, gov, "recent", datatypes.FrequencyWeekly)
	require.NoError(t, gov.UpdateLastCycleAt(ctx, "recent", now.Add(-time.Hour)))
	enable(t, gov, "daily", datatypes.FrequencyDaily)
	require.NoError(t, gov.UpdateLastCycleAt(ctx, "daily", now.Add(-25*time.Hour)))
	enable(t, gov, "boundary", datatypes.FrequencyHourly)
	require.NoError(t, gov.UpdateLastCycleAt(ctx, "boundary", now.Add(-time.Hour)))

	sched := New(s, gov, &fakeRunner{}, Config{}, WithClock(clock.Now))
	due, err := sched.DueAccounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"boundary", "daily", "fresh"}, due)
}

func TestRunNow_CountsOutcomes(t *testing.T) {
	ctx := context.Background()
	s, gov, clock := setup(t)
	for _, id := range []string{"a", "b", "c", "d"} {
		enable(t, gov, id, datatypes.FrequencyDaily)
	}
	runner := &fakeRunner{
		statuses: map[string]datatypes.CycleStatus{"b": datatypes.CycleSkipped, "c": datatypes.CycleFailed},
		errs:     map[string]error{"d": errors.New("store unavailable")},
	}

	sched := New(s, gov, runner, Config{MaxConcurrent: 2}, WithClock(clock.Now))
	res, err := sched.RunNow(ctx)
	require.NoError(t, err)

	assert.True(t, res.GlobalEnabled)
	assert.Equal(t, []string{"a", "b", "c", "d"}, res.Due)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 2, res.Failed)
	assert.Len(t, res.Errors, 2)
	assert.ElementsMatch(t, []string{"a", "b", "c", "d"}, runner.Calls())
}

func TestRunNow_GlobalSwitchOffRunsNothing(t *testing.T) {
	ctx := context.Background()
	s, gov, clock := setup(t)
	enable(t, gov, "a", datatypes.FrequencyDaily)
	require.NoError(t, gov.SetGlobalEnabled(ctx, false, "ops@example.com"))
	runner := &fakeRunner{}

	res, err := New(s, gov, runner, Config{}, WithClock(clock.Now)).RunNow(ctx)
	require.NoError(t, err)

	assert.False(t, res.GlobalEnabled)
	assert.Empty(t, res.Due)
	assert.Empty(t, runner.Calls())
}

func TestRunNow_NotifiesObserver(t *testing.T) {
	ctx := context.Background()
	s, gov, clock := setup(t)
	enable(t, gov, "a", datatypes.FrequencyDaily)

	var seen []TickResult
	sched := New(s, gov, &fakeRunner{}, Config{}, WithClock(clock.Now),
		WithObserver(func(r TickResult) { seen = append(seen, r) }))
	res, err := sched.RunNow(ctx)
	require.NoError(t, err)

	require.Len(t, seen, 1)
	assert.Equal(t, res.Succeeded, seen[0].Succeeded)
	assert.Equal(t, []string{"a"}, seen[0].Due)
}

// =============================================================================
// Maintenance Tests
// =============================================================================

func TestRunNow_ExpiresApprovalsAndResumesEmergencies(t *testing.T) {
	ctx := context.Background()
	s, gov, clock := setup(t)

	_, err := gov.CreateApprovalRequest(ctx, "acct-1", datatypes.ApprovalInput{
		Change:      datatypes.NewBudgetChange(datatypes.BudgetChange{Channel: "search", CurrentBudget: 100, ProposedBudget: 120}),
		Reasoning:   "scale search",
		RequestedBy: governance.ActorAutopilot,
	})
	require.NoError(t, err)
	_, err = gov.TriggerEmergencyStop(ctx, "acct-2", "ops@example.com", "cpa spike",
		datatypes.EmergencyOptions{AutoResumeInHours: 1})
	require.NoError(t, err)

	sched := New(s, gov, &fakeRunner{}, Config{}, WithClock(clock.Now))
	res, err := sched.RunNow(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.ApprovalsExpired)
	assert.Zero(t, res.EmergenciesResumed)

	clock.Advance(datatypes.ApprovalTTL + time.Minute)
	res, err = sched.RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ApprovalsExpired)
	assert.Equal(t, 1, res.EmergenciesResumed)

	res, err = sched.RunNow(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.ApprovalsExpired)
	assert.Zero(t, res.EmergenciesResumed)
}

// =============================================================================
// Lifecycle Tests
// =============================================================================

func TestStartStop(t *testing.T) {
	ctx := t.Context()
	s, gov, clock := setup(t)
	enable(t, gov, "a", datatypes.FrequencyDaily)
	runner := &fakeRunner{called: make(chan string, 1)}

	sched := New(s, gov, runner, Config{Interval: time.Hour}, WithClock(clock.Now))
	require.NoError(t, sched.Start(ctx))
	assert.ErrorIs(t, sched.Start(ctx), ErrAlreadyRunning)
	assert.True(t, sched.Running())

	select {
	case id := <-runner.called:
		assert.Equal(t, "a", id)
	case <-time.After(5 * time.Second):
		t.Fatal("initial pass did not run")
	}

	sched.Stop()
	assert.False(t, sched.Running())
	sched.Stop()

	require.NoError(t, sched.Start(ctx))
	sched.Stop()
}

// =============================================================================
// Integration
// =============================================================================

func TestRunNow_WithCycleEngine(t *testing.T) {
	ctx := context.Background()
	s, gov, clock := setup(t)

	repo := knowledge.NewRepository(s)
	graph := &datatypes.KnowledgeGraph{AccountID: "acct-1"}
	for domain, fields := range datatypes.ExpectedFields {
		for _, name := range fields {
			graph.Set(domain, name, datatypes.KnowledgeField{Value: "set", Confidence: 1})
		}
	}
	require.NoError(t, repo.Save(ctx, graph))
	enable(t, gov, "acct-1", datatypes.FrequencyDaily)

	ruleEngine, err := rules.NewEngine()
	require.NoError(t, err)
	engine := cycle.NewEngine(s, gov, signals.NewMonitor(s, signals.MonitorConfig{Now: clock.Now}), ruleEngine, repo,
		cycle.WithClock(clock.Now))

	sched := New(s, gov, engine, Config{}, WithClock(clock.Now))
	res, err := sched.RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)

	history, err := engine.GetCycleHistory(ctx, "acct-1", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, datatypes.TriggeredBySchedule, history[0].TriggeredBy)

	res, err = sched.RunNow(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Due)

	clock.Advance(24 * time.Hour)
	res, err = sched.RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"acct-1"}, res.Due)
}
