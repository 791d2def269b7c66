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
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/AleutianAI/autopilot/services/autopilot/datatypes"
	"github.com/AleutianAI/autopilot/services/autopilot/rules/catalog"
	"gopkg.in/yaml.v3"
)

// OverrideSource supplies fleet-wide rule overrides. Account overrides are
// applied after, and win over, fleet overrides.
type OverrideSource interface {
	Overrides() []datatypes.RuleOverride
}

// Engine evaluates proposed changes against the rule catalogue.
//
// # Description
//
// The base catalogue is loaded once and never mutated. Each evaluation
// works on copies with fleet and account overrides applied.
//
// # Thread Safety
//
// Safe for concurrent use.
type Engine struct {
	base   []Rule
	fleet  OverrideSource
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithOverrideSource installs a fleet-wide override source, usually an
// OverrideWatcher.
func WithOverrideSource(src OverrideSource) Option {
	return func(e *Engine) {
		e.fleet = src
	}
}

// NewEngine creates an engine over the embedded default catalogue.
func NewEngine(opts ...Option) (*Engine, error) {
	return NewEngineFromCatalog(catalog.DefaultRules, opts...)
}

// NewEngineFromCatalog creates an engine over a YAML catalogue document.
//
// # Outputs
//
//   - *Engine: Ready to evaluate.
//   - error: Non-nil if the document is malformed or names a rule id with
//     no registered predicate.
func NewEngineFromCatalog(data []byte, opts ...Option) (*Engine, error) {
	base, err := LoadCatalog(data)
	if err != nil {
		return nil, err
	}
	e := &Engine{base: base, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(slog.String("component", "rule_engine"))
	return e, nil
}

// LoadCatalog parses a catalogue document and binds predicates by id. The
// result is sorted by priority, highest first.
func LoadCatalog(data []byte) ([]Rule, error) {
	var file CatalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the rule catalogue: %w", err)
	}
	seen := make(map[string]bool, len(file.Rules))
	for i := range file.Rules {
		r := &file.Rules[i]
		if r.ID == "" {
			return nil, fmt.Errorf("rule %d has no id", i)
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("duplicate rule id %q", r.ID)
		}
		seen[r.ID] = true
		if !r.Action.Valid() {
			return nil, fmt.Errorf("rule %q: invalid action %q", r.ID, r.Action)
		}
		for _, k := range r.AppliesTo {
			if !k.Valid() {
				return nil, fmt.Errorf("rule %q: invalid change kind %q", r.ID, k)
			}
		}
		pred, ok := builtinPredicates[r.ID]
		if !ok {
			return nil, fmt.Errorf("rule %q has no registered predicate", r.ID)
		}
		r.Predicate = pred
	}
	sortRules(file.Rules)
	return file.Rules, nil
}

func sortRules(rules []Rule) {
	slices.SortStableFunc(rules, func(a, b Rule) int {
		if a.Priority != b.Priority {
			return b.Priority - a.Priority
		}
		return 0
	})
}

// Rules returns a copy of the base catalogue.
func (e *Engine) Rules() []Rule {
	out := make([]Rule, len(e.base))
	for i, r := range e.base {
		out[i] = r.Clone()
	}
	return out
}

// EffectiveRules returns the catalogue as seen by one account: copies of
// the base rules with fleet overrides and then cfg.RuleOverrides applied.
func (e *Engine) EffectiveRules(cfg datatypes.AccountConfig) []Rule {
	rules := e.Rules()
	if e.fleet != nil {
		applyOverrides(rules, e.fleet.Overrides())
	}
	applyOverrides(rules, cfg.RuleOverrides)
	sortRules(rules)
	return rules
}

func applyOverrides(rules []Rule, overrides []datatypes.RuleOverride) {
	for _, o := range overrides {
		for i := range rules {
			if rules[i].ID != o.RuleID {
				continue
			}
			if o.Enabled != nil {
				rules[i].Enabled = *o.Enabled
			}
			if o.Action != nil && o.Action.Valid() {
				rules[i].Action = *o.Action
			}
			if o.Priority != nil {
				rules[i].Priority = *o.Priority
			}
			if len(o.Params) > 0 {
				if rules[i].Params == nil {
					rules[i].Params = make(map[string]float64, len(o.Params))
				}
				maps.Copy(rules[i].Params, o.Params)
			}
		}
	}
}

// Evaluate runs every enabled rule that applies to rc.Change.
//
// # Description
//
// custom rules are evaluated alongside the effective catalogue. Each
// predicate runs in isolation: an error or panic is logged, counted and
// reported on that rule's evaluation as not triggered, and the remaining
// rules still run.
//
// # Outputs
//
//   - []RuleEvaluation: One entry per evaluated rule, highest priority first.
func (e *Engine) Evaluate(rc *RuleContext, custom ...Rule) []datatypes.RuleEvaluation {
	ctx, span := startEvaluateSpan(context.Background(), rc)
	defer span.End()
	start := time.Now()

	rules := e.EffectiveRules(rc.Config)
	for _, r := range custom {
		rules = append(rules, r.Clone())
	}
	sortRules(rules)

	evals := make([]datatypes.RuleEvaluation, 0, len(rules))
	for _, r := range rules {
		if !r.Enabled || !r.AppliesToKind(rc.Change.Kind) {
			continue
		}
		ev := e.evaluateOne(rc, r)
		recordRuleMetrics(ctx, ev)
		evals = append(evals, ev)
	}

	setEvaluateSpanResult(span, evals)
	recordEvaluateLatency(ctx, time.Since(start))
	return evals
}

// Decide evaluates rc and reduces the result to a decision.
func (e *Engine) Decide(rc *RuleContext) datatypes.RuleDecision {
	return datatypes.Reduce(e.Evaluate(rc))
}

func (e *Engine) evaluateOne(rc *RuleContext, r Rule) (ev datatypes.RuleEvaluation) {
	ev = datatypes.RuleEvaluation{
		RuleID:   r.ID,
		RuleName: r.Name,
		Category: r.Category,
		Priority: r.Priority,
		Action:   r.Action,
	}
	if r.Escalation != nil {
		esc := *r.Escalation
		ev.Escalation = &esc
	}
	defer func() {
		if p := recover(); p != nil {
			ev.Triggered = false
			ev.Reason = ""
			ev.Error = fmt.Sprintf("panic: %v", p)
			e.logger.Error("rule predicate panicked",
				slog.String("rule_id", r.ID),
				slog.String("account_id", rc.AccountID),
				slog.Any("panic", p))
		}
	}()

	if r.Predicate == nil {
		ev.Error = "rule has no predicate"
		e.logger.Warn("rule has no predicate", slog.String("rule_id", r.ID))
		return ev
	}
	triggered, reason, err := r.Predicate(rc, r.Params)
	if err != nil {
		ev.Error = err.Error()
		e.logger.Warn("rule predicate failed",
			slog.String("rule_id", r.ID),
			slog.String("account_id", rc.AccountID),
			slog.String("error", err.Error()))
		return ev
	}
	ev.Triggered = triggered
	if triggered {
		ev.Reason = reason
		if ev.Reason == "" {
			ev.Reason = r.Name
		}
	}
	return ev
}
