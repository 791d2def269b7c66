// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/AleutianAI/autopilot/services/autopilot/datatypes"
	"github.com/AleutianAI/autopilot/services/autopilot/governance"
	"github.com/AleutianAI/autopilot/services/autopilot/knowledge"
	"github.com/AleutianAI/autopilot/services/autopilot/rules"
	"github.com/google/uuid"
)

// disposition is what a cycle does with an allowed candidate.
type disposition int

const (
	surface disposition = iota
	queue
	apply
)

// run carries the state of one cycle between steps.
type run struct {
	engine    *Engine
	accountID string
	opts      RunOptions
	logger    *slog.Logger
	result    *datatypes.CycleResult

	cfg      *datatypes.AccountConfig
	level    datatypes.AutonomyLevel
	graph    *datatypes.KnowledgeGraph
	snapshot *datatypes.PerformanceSnapshot
	signals  []datatypes.Signal

	emergencyReason string
	halted          bool
	surfaced        int
	wouldQueue      int
	wouldApply      int
	applyFailures   int
}

// execute runs steps 1-7. Any failure marks the result failed and returns;
// finalize runs afterwards regardless.
func (r *run) execute(ctx context.Context) {
	defer r.recoverStep()

	if err := r.loadConfig(ctx); err != nil {
		r.fail(err)
		return
	}
	r.audit(ctx, datatypes.AuditCycleStarted, fmt.Sprintf("cycle #%d started", r.result.CycleNumber),
		map[string]any{"autonomy_level": string(r.level)}, datatypes.OutcomeSuccess)

	if err := r.loadKnowledge(ctx); err != nil {
		r.fail(err)
		return
	}
	ready, err := r.checkReadiness(ctx)
	if err != nil {
		r.fail(err)
		return
	}
	if !ready && !r.opts.DryRun {
		r.result.Status = datatypes.CycleSkipped
		return
	}

	if err := r.scanSignals(ctx); err != nil {
		r.fail(err)
		return
	}
	if r.emergencyReason != "" {
		r.result.Status = datatypes.CycleSkipped
		return
	}

	selected := r.generateHypotheses(ctx)
	experiments := r.createExperiments(ctx, selected)
	plan := r.generateOptimizations(ctx)
	r.gate(ctx, experiments, plan)
	r.applyKnowledgeUpdates(ctx, plan.KnowledgeUpdates)
}

func (r *run) fail(err error) {
	r.result.Status = datatypes.CycleFailed
	r.result.ErrorMessage = err.Error()
	r.logger.Error("cycle failed", slog.String("error", err.Error()))
}

// audit writes a cycle-scoped audit entry. Failures are logged only.
func (r *run) audit(ctx context.Context, action datatypes.AuditAction, description string, details map[string]any, outcome datatypes.Outcome) {
	if details == nil {
		details = map[string]any{}
	}
	details["cycle_id"] = r.result.ID
	details["cycle_number"] = r.result.CycleNumber
	details["dry_run"] = r.opts.DryRun
	_, err := r.engine.gov.LogAction(ctx, r.accountID, action, description, details, datatypes.AuditOptions{
		TriggeredBy: r.opts.TriggeredBy,
		Actor:       governance.ActorAutopilot,
		Outcome:     outcome,
	})
	if err != nil {
		r.logger.Error("failed to write cycle audit entry",
			slog.String("action", string(action)),
			slog.String("error", err.Error()))
	}
}

// =============================================================================
// Steps 1-2: state and readiness
// =============================================================================

func (r *run) loadConfig(ctx context.Context) error {
	var cfg *datatypes.AccountConfig
	var err error
	if r.opts.DryRun {
		cfg, err = r.engine.gov.PeekAutopilotConfig(ctx, r.accountID)
	} else {
		cfg, err = r.engine.gov.GetAutopilotConfig(ctx, r.accountID)
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	r.cfg = cfg
	r.level = cfg.AutonomyLevel
	if r.opts.ForcedAutonomyLevel != "" {
		r.level = r.opts.ForcedAutonomyLevel
	}
	r.result.AutonomyLevel = r.level
	return nil
}

func (r *run) loadKnowledge(ctx context.Context) error {
	graph, err := r.engine.knowledge.Load(ctx, r.accountID)
	if err == nil && graph == nil {
		err = fmt.Errorf("account %s: %w", r.accountID, datatypes.ErrKnowledgeNotFound)
	}
	if err != nil {
		r.audit(ctx, datatypes.AuditKnowledgeLoaded, "knowledge unavailable",
			map[string]any{"error": err.Error()}, datatypes.OutcomeFailure)
		if errors.Is(err, datatypes.ErrKnowledgeNotFound) {
			return fmt.Errorf("knowledge unavailable: %w", err)
		}
		return fmt.Errorf("load knowledge: %w", err)
	}
	r.graph = graph
	r.result.HealthScore = round1(knowledge.HealthScore(graph))
	r.audit(ctx, datatypes.AuditKnowledgeLoaded, "knowledge loaded",
		map[string]any{"health_score": r.result.HealthScore}, datatypes.OutcomeSuccess)

	if src := r.engine.performance; src != nil {
		snap, err := src.Snapshot(ctx, r.accountID)
		if err != nil {
			r.logger.Warn("performance data unavailable", slog.String("error", err.Error()))
		}
		r.snapshot = snap
	}
	return nil
}

func (r *run) checkReadiness(ctx context.Context) (bool, error) {
	rd, err := r.engine.checkReadiness(ctx, r.cfg, r.graph, r.opts.DryRun)
	if err != nil {
		return false, fmt.Errorf("check readiness: %w", err)
	}
	r.result.ReadinessScore = round1(rd.Score)
	r.result.ReadinessReasons = rd.Reasons
	outcome := datatypes.OutcomeSuccess
	if !rd.Ready {
		outcome = datatypes.OutcomeFailure
	}
	r.audit(ctx, datatypes.AuditReadinessChecked, readinessDescription(rd),
		map[string]any{"ready": rd.Ready, "reasons": rd.Reasons, "score": r.result.ReadinessScore}, outcome)
	return rd.Ready, nil
}

func readinessDescription(rd datatypes.Readiness) string {
	if rd.Ready {
		return "account ready"
	}
	return "account not ready: " + strings.Join(rd.Reasons, "; ")
}

// =============================================================================
// Step 3: signals
// =============================================================================

func (r *run) scanSignals(ctx context.Context) error {
	var sigs []datatypes.Signal
	if r.opts.DryRun {
		sigs = r.engine.monitor.Detect(ctx, r.accountID, r.graph, r.snapshot)
	} else {
		var err error
		sigs, err = r.engine.monitor.Scan(ctx, r.accountID, r.graph, r.snapshot)
		if err != nil {
			return fmt.Errorf("scan signals: %w", err)
		}
	}
	r.signals = sigs
	r.result.SignalsDetected = len(sigs)

	var trigger []datatypes.Signal
	for _, s := range sigs {
		if s.Severity != datatypes.SeverityCritical {
			continue
		}
		r.result.CriticalSignals++
		if s.Deviation() > r.cfg.EmergencyStopThreshold {
			trigger = append(trigger, s)
		}
	}
	r.audit(ctx, datatypes.AuditSignalsScanned,
		fmt.Sprintf("%d signals detected, %d critical", len(sigs), r.result.CriticalSignals),
		map[string]any{"detected": len(sigs), "critical": r.result.CriticalSignals}, datatypes.OutcomeSuccess)

	if !r.opts.DryRun && r.engine.alerts != nil {
		r.result.AlertsSent = len(r.engine.alerts.Dispatch(ctx, r.accountID, sigs, r.cfg.Alerts))
	}
	if len(trigger) == 0 {
		return nil
	}
	return r.emergencyStop(ctx, trigger)
}

// emergencyStop halts the account when critical signals exceed the
// configured deviation threshold.
func (r *run) emergencyStop(ctx context.Context, trigger []datatypes.Signal) error {
	parts := make([]string, 0, len(trigger))
	var channels []string
	for _, s := range trigger {
		parts = append(parts, fmt.Sprintf("%s %.0f%%", s.Type, s.ChangePercent))
		if s.Channel != "" {
			channels = append(channels, s.Channel)
		}
	}
	r.emergencyReason = fmt.Sprintf("critical signals beyond %.0f%% threshold: %s",
		r.cfg.EmergencyStopThreshold, strings.Join(parts, ", "))

	if r.opts.DryRun {
		r.logger.Warn("dry run would trigger emergency stop", slog.String("reason", r.emergencyReason))
		return nil
	}
	_, err := r.engine.gov.TriggerEmergencyStop(ctx, r.accountID, governance.ActorAutopilot, r.emergencyReason,
		datatypes.EmergencyOptions{AffectedChannels: channels, TriggeredBy: datatypes.TriggeredBySignal})
	if err != nil {
		return fmt.Errorf("trigger emergency stop: %w", err)
	}
	if err := r.engine.gov.DisableAccount(ctx, r.accountID, governance.ActorAutopilot, r.emergencyReason); err != nil {
		return fmt.Errorf("disable account: %w", err)
	}
	r.result.EmergencyTriggered = true
	return nil
}

// =============================================================================
// Steps 4-6: candidates
// =============================================================================

func (r *run) generationRequest() datatypes.GenerationRequest {
	return datatypes.GenerationRequest{
		AccountID: r.accountID,
		Config:    r.cfg.Clone(),
		Knowledge: r.graph,
		Snapshot:  r.snapshot,
		Signals:   r.signals,
	}
}

// generateHypotheses asks the generator for hypotheses, keeps those in
// allowed domains and selects the best by confidence times impact.
func (r *run) generateHypotheses(ctx context.Context) []datatypes.Hypothesis {
	gctx, cancel := context.WithTimeout(ctx, r.engine.generatorTimeout)
	raw, err := r.engine.generator.Hypotheses(gctx, r.generationRequest())
	cancel()
	if err != nil {
		r.logger.Warn("hypothesis generation failed, continuing without candidates",
			slog.String("error", err.Error()))
		raw = nil
	}

	allowed := make([]datatypes.Hypothesis, 0, len(raw))
	for _, h := range raw {
		if !r.cfg.AllowsDomain(h.Domain) {
			continue
		}
		if h.ID == "" {
			h.ID = uuid.New().String()
		}
		allowed = append(allowed, h)
	}
	sort.SliceStable(allowed, func(i, j int) bool {
		return allowed[i].Score() > allowed[j].Score()
	})
	selected := allowed[:min(len(allowed), r.cfg.RiskTolerance.HypothesisLimit())]

	r.result.HypothesesGenerated = len(raw)
	r.result.HypothesesSelected = len(selected)
	r.result.Hypotheses = selected
	r.audit(ctx, datatypes.AuditHypothesesGenerated,
		fmt.Sprintf("%d hypotheses generated, %d selected", len(raw), len(selected)),
		map[string]any{"generated": len(raw), "in_allowed_domains": len(allowed), "selected": len(selected)},
		datatypes.OutcomeSuccess)
	return selected
}

// createExperiments plans experiments for the top selected hypotheses. The
// experiment budget is split evenly between them.
func (r *run) createExperiments(ctx context.Context, selected []datatypes.Hypothesis) []datatypes.ExperimentPlan {
	n := min(len(selected), maxExperiments)
	if n == 0 {
		return nil
	}
	monthly, _ := r.graph.Number(datatypes.DomainObjectives, "monthly_budget")
	each := round2(monthly * r.cfg.ExperimentBudgetPercent / 100 / float64(n))
	metric := r.graph.String(datatypes.DomainMeasurement, "primary_kpi")
	if metric == "" {
		metric = "conversions"
	}

	plans := make([]datatypes.ExperimentPlan, 0, n)
	for _, h := range selected[:n] {
		plans = append(plans, datatypes.ExperimentPlan{
			ID:            uuid.New().String(),
			HypothesisID:  h.ID,
			Name:          "Test: " + h.Title,
			Channel:       h.Channel,
			Budget:        each,
			DurationDays:  experimentDurationDays,
			SuccessMetric: metric,
		})
	}
	r.result.Experiments = plans
	r.result.ExperimentsCreated = len(plans)
	r.audit(ctx, datatypes.AuditExperimentsCreated,
		fmt.Sprintf("%d experiments planned at %.2f each", len(plans), each),
		map[string]any{"count": len(plans), "budget_each": each, "monthly_budget": monthly}, datatypes.OutcomeSuccess)
	return plans
}

// generateOptimizations requests optimization candidates unless the
// account is manual only. Candidates outside allowed domains are dropped.
func (r *run) generateOptimizations(ctx context.Context) datatypes.OptimizationPlan {
	if r.level == datatypes.AutonomyManualOnly {
		return datatypes.OptimizationPlan{}
	}
	gctx, cancel := context.WithTimeout(ctx, r.engine.generatorTimeout)
	raw, err := r.engine.generator.Optimizations(gctx, r.generationRequest())
	cancel()
	if err != nil {
		r.logger.Warn("optimization generation failed, continuing without candidates",
			slog.String("error", err.Error()))
		raw = datatypes.OptimizationPlan{}
	}

	var plan datatypes.OptimizationPlan
	if r.cfg.AllowsDomain(datatypes.DomainChannels) {
		plan.Budget = raw.Budget
	}
	if r.cfg.AllowsDomain(datatypes.DomainCreative) {
		plan.Creative = raw.Creative
	}
	if r.cfg.AllowsDomain(datatypes.DomainAudience) {
		plan.Audience = raw.Audience
	}
	for _, u := range raw.KnowledgeUpdates {
		if r.cfg.AllowsDomain(u.Domain) {
			plan.KnowledgeUpdates = append(plan.KnowledgeUpdates, u)
		}
	}

	r.result.BudgetChanges = plan.Budget
	r.result.CreativeChanges = plan.Creative
	r.result.AudienceChanges = plan.Audience
	r.result.OptimizationsProposed = plan.Count()
	r.result.UpdatesProposed = len(plan.KnowledgeUpdates)
	r.audit(ctx, datatypes.AuditOptimizationsProposed,
		fmt.Sprintf("%d optimizations and %d knowledge updates proposed", plan.Count(), len(plan.KnowledgeUpdates)),
		map[string]any{
			"budget":            len(plan.Budget),
			"creative":          len(plan.Creative),
			"audience":          len(plan.Audience),
			"knowledge_updates": len(plan.KnowledgeUpdates),
		}, datatypes.OutcomeSuccess)
	return plan
}

// =============================================================================
// Step 7: gating and application
// =============================================================================

func candidates(experiments []datatypes.ExperimentPlan, plan datatypes.OptimizationPlan) []datatypes.ProposedChange {
	out := make([]datatypes.ProposedChange, 0, len(experiments)+plan.Count())
	for _, x := range experiments {
		out = append(out, datatypes.NewExperimentChange(datatypes.ExperimentChange{
			HypothesisID: x.HypothesisID,
			Name:         x.Name,
			Channel:      x.Channel,
			Budget:       x.Budget,
			DurationDays: x.DurationDays,
		}))
	}
	for _, b := range plan.Budget {
		out = append(out, datatypes.NewBudgetChange(b))
	}
	for _, c := range plan.Creative {
		out = append(out, datatypes.NewCreativeChange(c))
	}
	for _, a := range plan.Audience {
		out = append(out, datatypes.NewAudienceChange(a))
	}
	return out
}

// gate passes every candidate through the rule engine and acts on the
// decision according to the autonomy level. No candidate is applied or
// queued without an allowing decision.
func (r *run) gate(ctx context.Context, experiments []datatypes.ExperimentPlan, plan datatypes.OptimizationPlan) {
	now := r.engine.now().UTC()
	for _, change := range candidates(experiments, plan) {
		if err := change.Validate(); err != nil {
			r.block(ctx, change, []string{err.Error()})
			continue
		}
		rc := rules.NewRuleContext(*r.cfg, r.graph, change, r.signals, r.snapshot, now)
		decision := r.engine.rules.Decide(rc)
		if !decision.Allowed {
			r.block(ctx, change, decision.BlockReasons)
			continue
		}
		switch dispositionFor(r.level, change, decision) {
		case surface:
			r.surfaced++
		case queue:
			r.requestApproval(ctx, change, decision)
		case apply:
			r.apply(ctx, change)
		}
	}
}

// dispositionFor maps an allowed candidate to surface, queue or apply.
//
//   - manual_only surfaces everything.
//   - ai_assisted queues everything for approval.
//   - semi_autonomous and full_autonomous queue changes the rules gate or
//     the level does not permit, and apply the rest. At semi_autonomous a
//     creative change is applied only when it is high priority; others stay
//     recommendations.
func dispositionFor(level datatypes.AutonomyLevel, change datatypes.ProposedChange, d datatypes.RuleDecision) disposition {
	switch level {
	case datatypes.AutonomyManualOnly:
		return surface
	case datatypes.AutonomyAIAssisted:
		if rules.IsActionAllowedAtLevel(rules.ActionRequestApproval, level) {
			return queue
		}
		return surface
	}
	if d.RequiresApproval {
		return queue
	}
	if level == datatypes.AutonomySemiAutonomous && change.Kind == datatypes.ChangeCreative &&
		change.Creative.Priority != datatypes.CreativePriorityHigh {
		return surface
	}
	if !rules.IsActionAllowedAtLevel(rules.ActionForChange(change.Kind), level) {
		return queue
	}
	return apply
}

func (r *run) block(ctx context.Context, change datatypes.ProposedChange, reasons []string) {
	r.result.BlockedChanges = append(r.result.BlockedChanges, datatypes.BlockedChange{Change: change, Reasons: reasons})
	recordChangeBlocked(ctx, change.Kind)
	r.audit(ctx, datatypes.AuditChangeBlocked, "change blocked: "+change.Describe(),
		map[string]any{"change_kind": string(change.Kind), "reasons": reasons}, datatypes.OutcomeFailure)
}

func (r *run) requestApproval(ctx context.Context, change datatypes.ProposedChange, d datatypes.RuleDecision) {
	if r.opts.DryRun {
		r.wouldQueue++
		return
	}
	req, err := r.engine.gov.CreateApprovalRequest(ctx, r.accountID, datatypes.ApprovalInput{
		Change:         change,
		Reasoning:      approvalReasoning(r.level, change, d),
		Risks:          d.Warnings,
		TriggeredRules: d.TriggeredRules,
		Escalations:    d.Escalations,
		RequestedBy:    governance.ActorAutopilot,
		CycleID:        r.result.ID,
	})
	if err != nil {
		r.logger.Warn("approval request failed",
			slog.String("change", change.Describe()),
			slog.String("error", err.Error()))
		return
	}
	r.result.ApprovalsRequested++
	r.result.ApprovalIDs = append(r.result.ApprovalIDs, req.ID)
	if len(req.Escalations) > 0 {
		r.logger.Info("approval escalated",
			slog.String("approval_id", req.ID),
			slog.String("priority", string(req.Priority)),
			slog.Int("escalations", len(req.Escalations)))
	}
}

func approvalReasoning(level datatypes.AutonomyLevel, change datatypes.ProposedChange, d datatypes.RuleDecision) string {
	var b strings.Builder
	b.WriteString(change.Describe())
	if d.RequiresApproval {
		b.WriteString("; approval required by rules")
		if len(d.TriggeredRules) > 0 {
			b.WriteString(" (" + strings.Join(d.TriggeredRules, ", ") + ")")
		}
	} else {
		b.WriteString("; autonomy level " + string(level) + " does not allow applying it directly")
	}
	return b.String()
}

// apply applies an allowed change unless the kill switch or an emergency
// stop turned on since the cycle started. Once halted, no later change in
// the run is applied.
func (r *run) apply(ctx context.Context, change datatypes.ProposedChange) {
	if r.opts.DryRun {
		r.wouldApply++
		return
	}
	if r.halted || !r.mayApply(ctx) {
		r.halted = true
		return
	}
	rec, err := r.engine.gov.ApplyChange(ctx, r.accountID, change, governance.ActorAutopilot, "", r.result.ID)
	if err != nil {
		r.applyFailures++
		r.logger.Warn("change could not be applied",
			slog.String("change", change.Describe()),
			slog.String("error", err.Error()))
		return
	}
	r.result.ChangeRecordIDs = append(r.result.ChangeRecordIDs, rec.ID)
	if change.Kind != datatypes.ChangeExperiment {
		r.result.OptimizationsApplied++
	}
	recordChangeApplied(ctx, change.Kind)
}

// mayApply re-reads the global switch and the emergency state.
func (r *run) mayApply(ctx context.Context) bool {
	global, err := r.engine.gov.IsGlobalEnabled(ctx)
	if err != nil || !global {
		r.logger.Warn("global kill switch engaged mid-cycle, halting application")
		return false
	}
	active, err := r.engine.gov.IsEmergencyActive(ctx, r.accountID)
	if err != nil || active {
		r.logger.Warn("emergency stop engaged mid-cycle, halting application")
		return false
	}
	return true
}

// applyKnowledgeUpdates treats proposed knowledge updates as applied at
// full autonomy. With a saver configured they are written back to the
// knowledge store.
func (r *run) applyKnowledgeUpdates(ctx context.Context, updates []datatypes.KnowledgeUpdate) {
	if len(updates) == 0 || r.opts.DryRun || r.halted {
		return
	}
	if !rules.IsActionAllowedAtLevel(rules.ActionApplyKnowledgeUpdate, r.level) {
		return
	}
	if r.engine.saver != nil {
		next := r.graph.Clone()
		now := r.engine.now().UTC()
		for _, u := range updates {
			next.Set(u.Domain, u.Field, datatypes.KnowledgeField{
				Value:      u.Value,
				Confidence: u.Confidence,
				Source:     governance.ActorAutopilot,
				UpdatedAt:  now,
			})
		}
		next.UpdatedAt = now
		if err := r.engine.saver.Save(ctx, next); err != nil {
			r.logger.Warn("knowledge updates could not be saved", slog.String("error", err.Error()))
			return
		}
	}
	r.result.UpdatesApplied = len(updates)
}
