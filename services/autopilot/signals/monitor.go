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
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/autopilot/services/autopilot/datatypes"
	"github.com/AleutianAI/autopilot/services/autopilot/store"
)

// DefaultHistoryLimit is the number of signals retained per account.
const DefaultHistoryLimit = 500

// MonitorConfig configures a Monitor.
type MonitorConfig struct {
	Thresholds   Thresholds
	HistoryLimit int
	Logger       *slog.Logger
	Now          func() time.Time
}

// Monitor persists scan results and manages the signal lifecycle.
//
// # Thread Safety
//
// Safe for concurrent use. All state lives in the store and every mutation
// is a single atomic Update.
type Monitor struct {
	store        store.Store
	thresholds   Thresholds
	historyLimit int
	logger       *slog.Logger
	now          func() time.Time
}

// NewMonitor returns a Monitor on s. Zero config fields take defaults.
func NewMonitor(s store.Store, cfg MonitorConfig) *Monitor {
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = DefaultThresholds()
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Monitor{
		store:        s,
		thresholds:   cfg.Thresholds,
		historyLimit: cfg.HistoryLimit,
		logger:       cfg.Logger.With(slog.String("component", "signal_monitor")),
		now:          cfg.Now,
	}
}

// Thresholds returns the monitor's threshold table.
func (m *Monitor) Thresholds() Thresholds {
	return m.thresholds
}

// Detect runs detection without persisting anything.
func (m *Monitor) Detect(ctx context.Context, accountID string, graph *datatypes.KnowledgeGraph, snap *datatypes.PerformanceSnapshot) []datatypes.Signal {
	ctx, span := startScanSpan(ctx, accountID, false)
	defer span.End()
	start := time.Now()

	signals := Detect(accountID, graph, snap, m.thresholds, m.now())

	setScanSpanResult(span, signals)
	recordScanMetrics(ctx, time.Since(start), signals, false)
	return signals
}

// Scan detects signals and persists them.
//
// # Description
//
// The non-info signals replace the account's active set; all signals are
// appended to the bounded history.
//
// # Outputs
//
//   - []datatypes.Signal: All detected signals, including info.
//   - error: Non-nil if persistence failed. Detection itself cannot fail.
func (m *Monitor) Scan(ctx context.Context, accountID string, graph *datatypes.KnowledgeGraph, snap *datatypes.PerformanceSnapshot) ([]datatypes.Signal, error) {
	ctx, span := startScanSpan(ctx, accountID, true)
	defer span.End()
	start := time.Now()

	signals := Detect(accountID, graph, snap, m.thresholds, m.now())

	active := make([]datatypes.Signal, 0, len(signals))
	for _, s := range signals {
		if s.Severity != datatypes.SeverityInfo {
			active = append(active, s)
		}
	}
	if err := store.PutJSON(ctx, m.store, store.AccountKey(accountID, store.SuffixActiveSignals), active); err != nil {
		recordScanMetrics(ctx, time.Since(start), signals, true)
		return signals, fmt.Errorf("store active signals: %w", err)
	}
	if err := store.AppendBounded(ctx, m.store, store.AccountKey(accountID, store.SuffixSignalHistory), m.historyLimit, signals...); err != nil {
		recordScanMetrics(ctx, time.Since(start), signals, true)
		return signals, fmt.Errorf("append signal history: %w", err)
	}

	setScanSpanResult(span, signals)
	recordScanMetrics(ctx, time.Since(start), signals, true)
	m.logger.Info("signal scan complete",
		slog.String("account_id", accountID),
		slog.Int("detected", len(signals)),
		slog.Int("active", len(active)))
	return signals, nil
}

// GetActiveSignals returns the account's active set.
func (m *Monitor) GetActiveSignals(ctx context.Context, accountID string) ([]datatypes.Signal, error) {
	list, _, err := store.GetJSON[[]datatypes.Signal](ctx, m.store, store.AccountKey(accountID, store.SuffixActiveSignals))
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []datatypes.Signal{}
	}
	return list, nil
}

// GetSignalHistory returns up to limit signals, most recent first.
func (m *Monitor) GetSignalHistory(ctx context.Context, accountID string, limit int) ([]datatypes.Signal, error) {
	list, _, err := store.GetJSON[[]datatypes.Signal](ctx, m.store, store.AccountKey(accountID, store.SuffixSignalHistory))
	if err != nil {
		return nil, err
	}
	return store.Recent(list, limit), nil
}

// AcknowledgeSignal marks an active signal acknowledged. It returns nil
// when the signal is not in the active set.
func (m *Monitor) AcknowledgeSignal(ctx context.Context, accountID, signalID, actor string) (*datatypes.Signal, error) {
	now := m.now().UTC()
	return m.transition(ctx, accountID, signalID, func(s *datatypes.Signal) bool {
		if s.Status != datatypes.SignalActive {
			return false
		}
		s.Status = datatypes.SignalAcknowledged
		s.AcknowledgedAt = &now
		s.AcknowledgedBy = actor
		return true
	}, false)
}

// ResolveSignal marks a signal resolved and removes it from the active set.
// It returns nil when the signal is not in the active set.
func (m *Monitor) ResolveSignal(ctx context.Context, accountID, signalID, actor string) (*datatypes.Signal, error) {
	now := m.now().UTC()
	return m.transition(ctx, accountID, signalID, func(s *datatypes.Signal) bool {
		s.Status = datatypes.SignalResolved
		s.ResolvedAt = &now
		s.ResolvedBy = actor
		return true
	}, true)
}

// transition applies fn to the active signal and mirrors the new state into
// the history entry with the same id.
func (m *Monitor) transition(ctx context.Context, accountID, signalID string, fn func(*datatypes.Signal) bool, remove bool) (*datatypes.Signal, error) {
	var updated *datatypes.Signal
	err := store.UpdateJSON(ctx, m.store, store.AccountKey(accountID, store.SuffixActiveSignals),
		func(list *[]datatypes.Signal, _ bool) error {
			// The callback may be retried on a write conflict.
			updated = nil
			for i := range *list {
				if (*list)[i].ID != signalID {
					continue
				}
				if !fn(&(*list)[i]) {
					return store.ErrNoChange
				}
				s := (*list)[i]
				updated = &s
				if remove {
					*list = append((*list)[:i], (*list)[i+1:]...)
				}
				return nil
			}
			return store.ErrNoChange
		})
	if err != nil || updated == nil {
		return nil, err
	}

	err = store.UpdateJSON(ctx, m.store, store.AccountKey(accountID, store.SuffixSignalHistory),
		func(list *[]datatypes.Signal, _ bool) error {
			for i := range *list {
				if (*list)[i].ID == signalID {
					(*list)[i] = *updated
					return nil
				}
			}
			return store.ErrNoChange
		})
	if err != nil {
		return nil, fmt.Errorf("update signal history: %w", err)
	}
	return updated, nil
}

// GetSignalSummary aggregates the active set.
func (m *Monitor) GetSignalSummary(ctx context.Context, accountID string) (*datatypes.SignalSummary, error) {
	active, err := m.GetActiveSignals(ctx, accountID)
	if err != nil {
		return nil, err
	}
	history, _, err := store.GetJSON[[]datatypes.Signal](ctx, m.store, store.AccountKey(accountID, store.SuffixSignalHistory))
	if err != nil {
		return nil, err
	}
	return Summarize(accountID, active, len(history)), nil
}

// Summarize builds a summary from a signal list.
func Summarize(accountID string, active []datatypes.Signal, historyCount int) *datatypes.SignalSummary {
	sum := &datatypes.SignalSummary{
		AccountID:    accountID,
		Total:        len(active),
		BySeverity:   make(map[datatypes.Severity]int),
		ByCategory:   make(map[datatypes.SignalCategory]int),
		ByStatus:     make(map[datatypes.SignalStatus]int),
		HistoryCount: historyCount,
	}
	for i := range active {
		s := active[i]
		sum.BySeverity[s.Severity]++
		sum.ByCategory[s.Category]++
		sum.ByStatus[s.Status]++
		if sum.MostRecent == nil || s.DetectedAt.After(sum.MostRecent.DetectedAt) {
			sum.MostRecent = &active[i]
		}
	}
	return sum
}
