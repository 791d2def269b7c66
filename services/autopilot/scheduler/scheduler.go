// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scheduler runs autopilot cycles for enabled accounts on their
// configured cadence and performs periodic governance maintenance.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/AleutianAI/autopilot/services/autopilot/cycle"
	"github.com/AleutianAI/autopilot/services/autopilot/datatypes"
	"github.com/AleutianAI/autopilot/services/autopilot/governance"
	"github.com/AleutianAI/autopilot/services/autopilot/store"
	"golang.org/x/sync/errgroup"
)

// ErrAlreadyRunning is returned by Start when the loop is active.
var ErrAlreadyRunning = errors.New("scheduler is already running")

// =============================================================================
// Configuration
// =============================================================================

// Config holds configuration for the cycle scheduler.
//
// # Fields
//
//   - Interval: How often due accounts are looked up. Default: 5 minutes.
//   - MaxConcurrent: Upper bound on cycles running at once. Default: 4.
//   - CycleTimeout: Deadline for a single scheduled cycle. Default: 10 minutes.
type Config struct {
	Interval      time.Duration `yaml:"interval" validate:"gte=0"`
	MaxConcurrent int           `yaml:"max_concurrent" validate:"gte=0"`
	CycleTimeout  time.Duration `yaml:"cycle_timeout" validate:"gte=0"`
}

// DefaultConfig returns the production scheduler settings.
func DefaultConfig() Config {
	return Config{
		Interval:      5 * time.Minute,
		MaxConcurrent: 4,
		CycleTimeout:  10 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = def.Interval
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = def.MaxConcurrent
	}
	if c.CycleTimeout <= 0 {
		c.CycleTimeout = def.CycleTimeout
	}
	return c
}

// =============================================================================
// Types
// =============================================================================

// CycleRunner runs one cycle. *cycle.Engine satisfies it.
type CycleRunner interface {
	RunCycle(ctx context.Context, accountID string, opts cycle.RunOptions) (*datatypes.CycleResult, error)
}

// TickResult summarizes one scheduler pass.
type TickResult struct {
	StartedAt          time.Time `json:"started_at"`
	CompletedAt        time.Time `json:"completed_at"`
	GlobalEnabled      bool      `json:"global_enabled"`
	Due                []string  `json:"due"`
	Succeeded          int       `json:"succeeded"`
	Skipped            int       `json:"skipped"`
	Failed             int       `json:"failed"`
	Errors             []string  `json:"errors,omitempty"`
	ApprovalsExpired   int       `json:"approvals_expired"`
	EmergenciesResumed int       `json:"emergencies_resumed"`
}

// DurationMs returns the pass duration in milliseconds.
func (r TickResult) DurationMs() int64 {
	return r.CompletedAt.Sub(r.StartedAt).Milliseconds()
}

// Scheduler runs due cycles in the background.
//
// # Description
//
// Manages the lifecycle of a background goroutine that wakes at the
// configured interval, runs a cycle for every enabled account whose
// LastCycleAt plus its cycle frequency has passed, and then sweeps expired
// approvals and due emergency auto-resumes. Uses the ticker + done channel
// pattern for graceful shutdown.
//
// # Thread Safety
//
// All public methods are thread-safe. Overlapping passes are serialized.
type Scheduler struct {
	store  store.Store
	gov    *governance.Governance
	runner CycleRunner
	config Config
	logger   *slog.Logger
	now      func() time.Time
	observer func(TickResult)

	passMu  sync.Mutex
	mu      sync.Mutex
	done    chan struct{}
	stopped chan struct{}
	running bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source used for due checks.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithObserver registers a callback invoked after every completed pass,
// including passes started through RunNow. It runs on the pass goroutine.
func WithObserver(fn func(TickResult)) Option {
	return func(s *Scheduler) {
		s.observer = fn
	}
}

// New creates a scheduler.
//
// # Inputs
//
//   - s: Store holding the account partitions, used to enumerate accounts.
//   - gov: Governance layer for config reads and maintenance.
//   - runner: Runs the cycles, normally the cycle engine.
//   - cfg: Scheduler configuration. Zero fields take defaults.
//
// # Examples
//
//	sched := scheduler.New(st, gov, engine, scheduler.DefaultConfig())
//	if err := sched.Start(ctx); err != nil {
//	    return err
//	}
//	defer sched.Stop()
func New(s store.Store, gov *governance.Governance, runner CycleRunner, cfg Config, opts ...Option) *Scheduler {
	sch := &Scheduler{
		store:  s,
		gov:    gov,
		runner: runner,
		config: cfg.withDefaults(),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(sch)
	}
	sch.logger = sch.logger.With(slog.String("component", "scheduler"))
	return sch
}

// =============================================================================
// Lifecycle
// =============================================================================

// Start begins the background loop.
//
// # Description
//
// Starts a goroutine that runs a pass immediately and then at every
// interval until Stop is called or ctx is cancelled.
//
// # Outputs
//
//   - error: ErrAlreadyRunning if Start was already called without Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	s.running = true
	s.done = make(chan struct{})
	s.stopped = make(chan struct{})

	s.logger.Info("scheduler starting",
		slog.String("interval", s.config.Interval.String()),
		slog.Int("max_concurrent", s.config.MaxConcurrent))

	go s.runLoop(ctx, s.done, s.stopped)
	return nil
}

// Stop signals the loop to exit and waits for the current pass to finish.
// Safe to call multiple times.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.done)
	stopped := s.stopped
	s.mu.Unlock()

	<-stopped
	s.logger.Info("scheduler stopped")
}

// Running reports whether the background loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunNow performs one pass immediately. It does not affect the timing of
// scheduled passes.
func (s *Scheduler) RunNow(ctx context.Context) (TickResult, error) {
	return s.runPass(ctx)
}

func (s *Scheduler) runLoop(ctx context.Context, done <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.executePass(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler loop exiting (context cancelled)")
			return
		case <-done:
			return
		case <-ticker.C:
			s.executePass(ctx)
		}
	}
}

// executePass wraps runPass so a failed pass never stops the loop.
func (s *Scheduler) executePass(ctx context.Context) {
	res, err := s.runPass(ctx)
	if err != nil {
		s.logger.Error("scheduler pass failed", slog.String("error", err.Error()))
		return
	}
	if len(res.Due) == 0 && res.ApprovalsExpired == 0 && res.EmergenciesResumed == 0 {
		s.logger.Debug("scheduler pass completed (nothing due)")
		return
	}
	s.logger.Info("scheduler pass completed",
		slog.Int("due", len(res.Due)),
		slog.Int("succeeded", res.Succeeded),
		slog.Int("skipped", res.Skipped),
		slog.Int("failed", res.Failed),
		slog.Int("approvals_expired", res.ApprovalsExpired),
		slog.Int("emergencies_resumed", res.EmergenciesResumed),
		slog.Int64("duration_ms", res.DurationMs()))
}

// =============================================================================
// Pass
// =============================================================================

func (s *Scheduler) runPass(ctx context.Context) (TickResult, error) {
	s.passMu.Lock()
	defer s.passMu.Unlock()

	res := TickResult{StartedAt: s.now().UTC(), Due: []string{}}
	global, err := s.gov.IsGlobalEnabled(ctx)
	if err != nil {
		return res, err
	}
	res.GlobalEnabled = global
	if global {
		due, err := s.DueAccounts(ctx)
		if err != nil {
			return res, err
		}
		res.Due = due
		s.runDue(ctx, due, &res)
	}
	if err := s.maintain(ctx, &res); err != nil {
		return res, err
	}
	res.CompletedAt = s.now().UTC()
	if s.observer != nil {
		s.observer(res)
	}
	return res, nil
}

// DueAccounts returns, in lexical order, the enabled accounts whose next
// cycle is due. An account that has never run is due immediately.
func (s *Scheduler) DueAccounts(ctx context.Context) ([]string, error) {
	ids, err := s.accountsWith(ctx, store.SuffixConfig)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	due := []string{}
	for _, id := range ids {
		cfg, err := s.gov.PeekAutopilotConfig(ctx, id)
		if err != nil {
			return nil, err
		}
		if !cfg.Enabled {
			continue
		}
		if cfg.LastCycleAt == nil || !cfg.LastCycleAt.Add(cfg.CycleFrequency.Interval()).After(now) {
			due = append(due, id)
		}
	}
	return due, nil
}

// runDue runs the due cycles with bounded concurrency. Cycle errors are
// counted, never propagated.
func (s *Scheduler) runDue(ctx context.Context, due []string, res *TickResult) {
	if len(due) == 0 {
		return
	}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.MaxConcurrent)
	for _, id := range due {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, s.config.CycleTimeout)
			defer cancel()
			result, err := s.runner.RunCycle(cctx, id, cycle.RunOptions{TriggeredBy: datatypes.TriggeredBySchedule})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				res.Failed++
				res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", id, err))
				s.logger.Error("scheduled cycle error", slog.String("account_id", id), slog.String("error", err.Error()))
			case result.Status == datatypes.CycleFailed:
				res.Failed++
				res.Errors = append(res.Errors, fmt.Sprintf("%s: %s", id, result.ErrorMessage))
			case result.Status == datatypes.CycleSkipped:
				res.Skipped++
			default:
				res.Succeeded++
			}
			return nil
		})
	}
	_ = g.Wait()
}

// maintain expires stale approvals and lets due emergency stops resume.
func (s *Scheduler) maintain(ctx context.Context, res *TickResult) error {
	withApprovals, err := s.accountsWith(ctx, store.SuffixApprovals)
	if err != nil {
		return err
	}
	for _, id := range withApprovals {
		expired, err := s.gov.ExpireApprovals(ctx, id)
		if err != nil {
			s.logger.Warn("approval sweep failed", slog.String("account_id", id), slog.String("error", err.Error()))
			continue
		}
		res.ApprovalsExpired += len(expired)
	}

	withEmergency, err := s.accountsWith(ctx, store.SuffixEmergency)
	if err != nil {
		return err
	}
	for _, id := range withEmergency {
		before, found, err := store.GetJSON[datatypes.EmergencyState](ctx, s.store, store.AccountKey(id, store.SuffixEmergency))
		if err != nil || !found || !before.Active() {
			continue
		}
		active, err := s.gov.IsEmergencyActive(ctx, id)
		if err != nil {
			s.logger.Warn("emergency check failed", slog.String("account_id", id), slog.String("error", err.Error()))
			continue
		}
		if !active {
			res.EmergenciesResumed++
		}
	}
	return nil
}

func (s *Scheduler) accountsWith(ctx context.Context, suffix string) ([]string, error) {
	keys, err := s.store.List(ctx, store.AllAccountsPrefix())
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	ids := store.AccountsWith(keys, suffix)
	slices.Sort(ids)
	return ids, nil
}
