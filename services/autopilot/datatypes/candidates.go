// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

// Hypothesis is a testable idea returned by a generator.
type Hypothesis struct {
	ID             string          `json:"id"`
	Domain         KnowledgeDomain `json:"domain"`
	Title          string          `json:"title"`
	Description    string          `json:"description,omitempty"`
	Channel        string          `json:"channel,omitempty"`
	Confidence     float64         `json:"confidence"`
	ExpectedImpact float64         `json:"expected_impact"`
}

// Score ranks hypotheses: confidence times expected impact.
func (h Hypothesis) Score() float64 {
	return h.Confidence * h.ExpectedImpact
}

// ExperimentPlan is an experiment built from a selected hypothesis.
type ExperimentPlan struct {
	ID            string  `json:"id"`
	HypothesisID  string  `json:"hypothesis_id"`
	Name          string  `json:"name"`
	Channel       string  `json:"channel,omitempty"`
	Budget        float64 `json:"budget"`
	DurationDays  int     `json:"duration_days"`
	SuccessMetric string  `json:"success_metric"`
}

// OptimizationPlan bundles the candidate changes returned by a generator.
type OptimizationPlan struct {
	Budget           []BudgetChange    `json:"budget,omitempty"`
	Creative         []CreativeChange  `json:"creative,omitempty"`
	Audience         []AudienceChange  `json:"audience,omitempty"`
	KnowledgeUpdates []KnowledgeUpdate `json:"knowledge_updates,omitempty"`
}

// Count returns the number of candidate changes in the plan, excluding
// knowledge updates.
func (p OptimizationPlan) Count() int {
	return len(p.Budget) + len(p.Creative) + len(p.Audience)
}

// GenerationRequest is the input handed to candidate generators.
type GenerationRequest struct {
	AccountID string               `json:"account_id"`
	Config    AccountConfig        `json:"config"`
	Knowledge *KnowledgeGraph      `json:"knowledge"`
	Snapshot  *PerformanceSnapshot `json:"snapshot,omitempty"`
	Signals   []Signal             `json:"signals,omitempty"`
}
