// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package generators defines the candidate generators the optimization loop
// consumes and provides HTTP, OpenAI-backed and static implementations.
//
// Generators are long-latency and fallible. Callers wrap every call with a
// timeout and treat errors as "no candidates".
package generators

import (
	"context"

	"github.com/AleutianAI/autopilot/services/autopilot/datatypes"
)

// Generator produces candidate hypotheses and optimizations for an account.
type Generator interface {
	// Hypotheses returns ranked or unranked hypotheses. An empty slice is a
	// valid answer.
	Hypotheses(ctx context.Context, req datatypes.GenerationRequest) ([]datatypes.Hypothesis, error)

	// Optimizations returns budget, creative and audience candidates plus
	// proposed knowledge updates.
	Optimizations(ctx context.Context, req datatypes.GenerationRequest) (datatypes.OptimizationPlan, error)
}

// Static returns fixed candidates. It is used in tests and as the fallback
// when no generator backend is configured.
type Static struct {
	HypothesisList []datatypes.Hypothesis
	Plan           datatypes.OptimizationPlan
	Err            error
}

// Hypotheses implements Generator.
func (s *Static) Hypotheses(ctx context.Context, _ datatypes.GenerationRequest) ([]datatypes.Hypothesis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}
	return append([]datatypes.Hypothesis(nil), s.HypothesisList...), nil
}

// Optimizations implements Generator.
func (s *Static) Optimizations(ctx context.Context, _ datatypes.GenerationRequest) (datatypes.OptimizationPlan, error) {
	if err := ctx.Err(); err != nil {
		return datatypes.OptimizationPlan{}, err
	}
	if s.Err != nil {
		return datatypes.OptimizationPlan{}, s.Err
	}
	return datatypes.OptimizationPlan{
		Budget:           append([]datatypes.BudgetChange(nil), s.Plan.Budget...),
		Creative:         append([]datatypes.CreativeChange(nil), s.Plan.Creative...),
		Audience:         append([]datatypes.AudienceChange(nil), s.Plan.Audience...),
		KnowledgeUpdates: append([]datatypes.KnowledgeUpdate(nil), s.Plan.KnowledgeUpdates...),
	}, nil
}

var _ Generator = (*Static)(nil)
