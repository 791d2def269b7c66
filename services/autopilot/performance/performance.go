// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package performance supplies the current-vs-previous performance snapshot
// the signal monitor compares.
package performance

import (
	"context"
	"fmt"
	"time"

	"github.com/AleutianAI/autopilot/services/autopilot/datatypes"
	"github.com/AleutianAI/autopilot/services/autopilot/store"
)

// Source returns the latest performance snapshot of an account. A nil
// snapshot with a nil error means no data is available; the loop then runs
// knowledge detectors only.
type Source interface {
	Snapshot(ctx context.Context, accountID string) (*datatypes.PerformanceSnapshot, error)
}

// Repository is a Source backed by the autopilot store. Snapshots are pushed
// into it through the HTTP ingestion endpoint.
type Repository struct {
	store store.Store
	now   func() time.Time
}

// NewRepository returns a Repository on s.
func NewRepository(s store.Store) *Repository {
	return &Repository{store: s, now: time.Now}
}

// Snapshot implements Source.
func (r *Repository) Snapshot(ctx context.Context, accountID string) (*datatypes.PerformanceSnapshot, error) {
	snap, found, err := store.GetJSON[datatypes.PerformanceSnapshot](ctx, r.store, store.AccountKey(accountID, store.SuffixPerformance))
	if err != nil {
		return nil, fmt.Errorf("load performance for %s: %w", accountID, err)
	}
	if !found {
		return nil, nil
	}
	return &snap, nil
}

// Save stores snap as the account's latest snapshot. Channel utilization is
// derived from spend and daily budget when the caller left it empty.
func (r *Repository) Save(ctx context.Context, snap *datatypes.PerformanceSnapshot) error {
	if snap == nil || snap.AccountID == "" {
		return fmt.Errorf("save performance: account id is required")
	}
	s := *snap
	s.Channels = append([]datatypes.ChannelPerformance(nil), snap.Channels...)
	if s.CollectedAt.IsZero() {
		s.CollectedAt = r.now().UTC()
	}
	days := periodDays(s.PeriodStart, s.PeriodEnd)
	for i := range s.Channels {
		fillDerived(&s.Channels[i], days)
	}
	return store.PutJSON(ctx, r.store, store.AccountKey(s.AccountID, store.SuffixPerformance), s)
}

var _ Source = (*Repository)(nil)

// periodDays returns the period length in days, at least one.
func periodDays(start, end time.Time) float64 {
	d := end.Sub(start).Hours() / 24
	if d < 1 {
		return 1
	}
	return d
}

// fillDerived computes utilization from average daily spend when missing.
func fillDerived(c *datatypes.ChannelPerformance, days float64) {
	if c.BudgetUtilization == 0 && c.DailyBudget > 0 && c.Spend > 0 {
		c.BudgetUtilization = c.Spend / days / c.DailyBudget * 100
	}
}
