// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cycle runs the autopilot control loop for one account at a time.
//
// A cycle loads the account's knowledge, checks readiness, scans for
// signals, asks the generators for hypotheses and optimizations, gates every
// candidate through the rule engine and, depending on the autonomy level,
// surfaces, queues or applies it. Every run ends in exactly one stored
// CycleResult and one cycle_completed audit entry.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/AleutianAI/autopilot/services/autopilot/alerts"
	"github.com/AleutianAI/autopilot/services/autopilot/archive"
	"github.com/AleutianAI/autopilot/services/autopilot/datatypes"
	"github.com/AleutianAI/autopilot/services/autopilot/generators"
	"github.com/AleutianAI/autopilot/services/autopilot/governance"
	"github.com/AleutianAI/autopilot/services/autopilot/knowledge"
	"github.com/AleutianAI/autopilot/services/autopilot/performance"
	"github.com/AleutianAI/autopilot/services/autopilot/rules"
	"github.com/AleutianAI/autopilot/services/autopilot/signals"
	"github.com/AleutianAI/autopilot/services/autopilot/store"
	"github.com/google/uuid"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// DefaultHistoryLimit is the number of cycle results kept per account.
	DefaultHistoryLimit = 50

	// DefaultGeneratorTimeout bounds each generator call.
	DefaultGeneratorTimeout = 30 * time.Second

	// HealthFloor is the knowledge health score below which an account is
	// not ready.
	HealthFloor = 40.0

	// maxExperiments caps the experiments created per cycle.
	maxExperiments = 3

	// experimentDurationDays is the default experiment length.
	experimentDurationDays = 14
)

// Readiness reasons.
const (
	ReasonGlobalDisabled  = "autopilot is globally disabled"
	ReasonAccountDisabled = "autopilot is disabled for this account"
	ReasonEmergencyActive = "emergency stop is active"
)

// =============================================================================
// Types
// =============================================================================

// RunOptions control a single cycle run.
type RunOptions struct {
	// DryRun computes the would-be result without persisting account state.
	// The result is still appended to history and the run is audited.
	DryRun bool

	// ForcedAutonomyLevel overrides the configured level for this run.
	ForcedAutonomyLevel datatypes.AutonomyLevel

	// TriggeredBy records who started the run. Defaults to autopilot.
	TriggeredBy datatypes.TriggeredBy
}

// Engine orchestrates cycles.
//
// # Description
//
// The engine composes the signal monitor, rule engine and governance layer
// with the external knowledge, performance and generator collaborators.
//
// # Thread Safety
//
// Safe for concurrent use. Runs for the same account are serialized; runs
// for different accounts proceed concurrently.
type Engine struct {
	store       store.Store
	gov         *governance.Governance
	monitor     *signals.Monitor
	rules       *rules.Engine
	knowledge   knowledge.Loader
	saver       knowledge.Saver
	performance performance.Source
	generator   generators.Generator
	alerts      *alerts.Dispatcher
	archiver    archive.Archiver

	logger           *slog.Logger
	now              func() time.Time
	generatorTimeout time.Duration
	historyLimit     int

	locks keyedMutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithPerformance sets the performance source. Without one, only knowledge
// detectors run.
func WithPerformance(p performance.Source) Option {
	return func(e *Engine) { e.performance = p }
}

// WithGenerator sets the candidate generator.
func WithGenerator(g generators.Generator) Option {
	return func(e *Engine) { e.generator = g }
}

// WithKnowledgeSaver lets full-autonomy cycles persist proposed knowledge
// updates.
func WithKnowledgeSaver(s knowledge.Saver) Option {
	return func(e *Engine) { e.saver = s }
}

// WithAlerts sets the alert dispatcher.
func WithAlerts(d *alerts.Dispatcher) Option {
	return func(e *Engine) { e.alerts = d }
}

// WithArchiver sets where finished non-dry-run cycles are copied.
func WithArchiver(a archive.Archiver) Option {
	return func(e *Engine) { e.archiver = a }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithGeneratorTimeout bounds each generator call.
func WithGeneratorTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.generatorTimeout = d
		}
	}
}

// WithHistoryLimit sets the number of cycle results kept per account.
func WithHistoryLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.historyLimit = n
		}
	}
}

// NewEngine wires an engine. The store, governance layer, monitor, rule
// engine and knowledge loader are required.
func NewEngine(s store.Store, gov *governance.Governance, monitor *signals.Monitor,
	ruleEngine *rules.Engine, loader knowledge.Loader, opts ...Option) *Engine {
	e := &Engine{
		store:            s,
		gov:              gov,
		monitor:          monitor,
		rules:            ruleEngine,
		knowledge:        loader,
		generator:        &generators.Static{},
		archiver:         archive.NopArchiver{},
		logger:           slog.Default(),
		now:              time.Now,
		generatorTimeout: DefaultGeneratorTimeout,
		historyLimit:     DefaultHistoryLimit,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(slog.String("component", "cycle_engine"))
	return e
}

func (e *Engine) historyKey(accountID string) string {
	return store.AccountKey(accountID, store.SuffixCycles)
}

// =============================================================================
// Public API
// =============================================================================

// RunCycle runs one cycle for accountID.
//
// # Description
//
// The run always ends in a finalized CycleResult with status success,
// skipped or failed. Errors and panics inside the steps are recorded on the
// result rather than returned.
//
// # Outputs
//
//   - *CycleResult: The finalized result.
//   - error: Non-nil only when the options are invalid or the result could
//     not be numbered or stored.
func (e *Engine) RunCycle(ctx context.Context, accountID string, opts RunOptions) (*datatypes.CycleResult, error) {
	if accountID == "" {
		return nil, fmt.Errorf("%w: account id is required", datatypes.ErrInvalidConfig)
	}
	if opts.ForcedAutonomyLevel != "" && !opts.ForcedAutonomyLevel.Valid() {
		return nil, fmt.Errorf("%w: unknown autonomy level %q", datatypes.ErrInvalidConfig, opts.ForcedAutonomyLevel)
	}
	if opts.TriggeredBy == "" {
		opts.TriggeredBy = datatypes.TriggeredByAutopilot
	}

	unlock := e.locks.Lock(accountID)
	defer unlock()

	ctx, span := startCycleSpan(ctx, accountID, opts)
	defer span.End()

	number, err := store.Increment(ctx, e.store, store.AccountKey(accountID, store.SuffixCycleSeq))
	if err != nil {
		return nil, fmt.Errorf("number cycle for %s: %w", accountID, err)
	}

	r := &run{
		engine:    e,
		accountID: accountID,
		opts:      opts,
		logger:    e.logger.With(slog.String("account_id", accountID), slog.Int64("cycle", number)),
		result: &datatypes.CycleResult{
			ID:          uuid.New().String(),
			AccountID:   accountID,
			CycleNumber: number,
			StartedAt:   e.now().UTC(),
			DryRun:      opts.DryRun,
			TriggeredBy: opts.TriggeredBy,
			Status:      datatypes.CycleSuccess,
		},
	}
	r.execute(ctx)
	err = e.finalize(ctx, r)
	setCycleSpanResult(span, r.result)
	return r.result, err
}

// GetCycleHistory returns up to limit cycle results, most recent first.
// limit <= 0 returns the whole retained history.
func (e *Engine) GetCycleHistory(ctx context.Context, accountID string, limit int) ([]datatypes.CycleResult, error) {
	list, _, err := store.GetJSON[[]datatypes.CycleResult](ctx, e.store, e.historyKey(accountID))
	if err != nil {
		return nil, fmt.Errorf("read cycle history for %s: %w", accountID, err)
	}
	return store.Recent(list, limit), nil
}

// CheckReadiness reports whether the account may run a cycle.
//
// # Description
//
// Fails closed: the global kill switch, a disabled account, an active
// emergency stop and a knowledge health score below HealthFloor each add a
// reason. The check does not persist anything beyond a due emergency
// auto-resume, so two calls with no state change in between return the same
// result.
//
// # Outputs
//
//   - Readiness: Ready is true only with no reasons. Score is the knowledge
//     health score (0-100).
//   - error: Non-nil if state could not be read.
func (e *Engine) CheckReadiness(ctx context.Context, accountID string, graph *datatypes.KnowledgeGraph) (datatypes.Readiness, error) {
	cfg, err := e.gov.PeekAutopilotConfig(ctx, accountID)
	if err != nil {
		return datatypes.Readiness{}, err
	}
	return e.checkReadiness(ctx, cfg, graph, false)
}

// checkReadiness evaluates the readiness reasons. With peek set nothing is
// written: a due emergency auto-resume counts as lifted without being
// recorded.
func (e *Engine) checkReadiness(ctx context.Context, cfg *datatypes.AccountConfig, graph *datatypes.KnowledgeGraph, peek bool) (datatypes.Readiness, error) {
	reasons := []string{}

	global, err := e.gov.IsGlobalEnabled(ctx)
	if err != nil {
		return datatypes.Readiness{}, err
	}
	if !global {
		reasons = append(reasons, ReasonGlobalDisabled)
	}
	if !cfg.Enabled {
		reasons = append(reasons, ReasonAccountDisabled)
	}
	emergencyActive := e.gov.IsEmergencyActive
	if peek {
		emergencyActive = e.gov.PeekEmergencyActive
	}
	emergency, err := emergencyActive(ctx, cfg.AccountID)
	if err != nil {
		return datatypes.Readiness{}, err
	}
	if emergency {
		reasons = append(reasons, ReasonEmergencyActive)
	}
	score := knowledge.HealthScore(graph)
	if score < HealthFloor {
		reasons = append(reasons, fmt.Sprintf("knowledge health %.0f%% is below the %.0f%% floor", score, HealthFloor))
	}
	return datatypes.Readiness{Ready: len(reasons) == 0, Reasons: reasons, Score: score}, nil
}

// =============================================================================
// Finalize
// =============================================================================

// finalize stamps, stores and audits the result. It runs even when the
// steps failed.
func (e *Engine) finalize(ctx context.Context, r *run) error {
	res := r.result
	res.CompletedAt = e.now().UTC()
	res.DurationMs = res.CompletedAt.Sub(res.StartedAt).Milliseconds()
	if res.AutonomyLevel == "" && r.cfg != nil {
		res.AutonomyLevel = r.cfg.AutonomyLevel
	}
	summarize(r)

	// Finalization must not be cut short by a cancelled caller.
	ctx = context.WithoutCancel(ctx)

	var errs []error
	if err := store.AppendBounded(ctx, e.store, e.historyKey(r.accountID), e.historyLimit, *res); err != nil {
		errs = append(errs, fmt.Errorf("store cycle result: %w", err))
	}
	if !r.opts.DryRun {
		if err := e.gov.UpdateLastCycleAt(ctx, r.accountID, res.CompletedAt); err != nil {
			errs = append(errs, err)
		}
	}

	outcome := datatypes.OutcomeSuccess
	if res.Status == datatypes.CycleFailed {
		outcome = datatypes.OutcomeFailure
	}
	r.audit(ctx, datatypes.AuditCycleCompleted, res.Summary, map[string]any{
		"status":                string(res.Status),
		"duration_ms":           res.DurationMs,
		"signals_detected":      res.SignalsDetected,
		"optimizations_applied": res.OptimizationsApplied,
		"approvals_requested":   res.ApprovalsRequested,
		"error":                 res.ErrorMessage,
	}, outcome)

	recordCycleMetrics(ctx, res)
	if !r.opts.DryRun && e.archiver != nil {
		if err := e.archiver.ArchiveCycle(ctx, *res); err != nil {
			r.logger.Warn("cycle archive failed", slog.String("error", err.Error()))
		}
	}

	r.logger.Info("cycle finished",
		slog.String("status", string(res.Status)),
		slog.Int64("duration_ms", res.DurationMs),
		slog.Bool("dry_run", res.DryRun))
	return errors.Join(errs...)
}

// =============================================================================
// Per-account lock
// =============================================================================

// keyedMutex hands out one mutex per key and forgets it once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

// Lock blocks until key is free and returns its unlock func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// recoverStep turns a panic inside the steps into a failed result.
func (r *run) recoverStep() {
	if p := recover(); p != nil {
		r.logger.Error("cycle panicked",
			slog.Any("panic", p),
			slog.String("stack", string(debug.Stack())))
		r.fail(fmt.Errorf("internal error: %v", p))
	}
}
