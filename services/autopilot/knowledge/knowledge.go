// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package knowledge loads the account knowledge graph consumed by the
// optimization loop and scores its health.
//
// The graph itself is owned by an external knowledge service. This package
// only reads it (Loader) and, for ingestion through the HTTP API, writes a
// local copy (Repository).
package knowledge

import (
	"context"
	"fmt"
	"time"

	"github.com/AleutianAI/autopilot/services/autopilot/datatypes"
	"github.com/AleutianAI/autopilot/services/autopilot/store"
)

// Loader returns the knowledge graph of an account.
//
// # Description
//
// Implementations return an error wrapping datatypes.ErrKnowledgeNotFound
// when the account has no knowledge record.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Loader interface {
	Load(ctx context.Context, accountID string) (*datatypes.KnowledgeGraph, error)
}

// Saver persists a knowledge graph.
type Saver interface {
	Save(ctx context.Context, graph *datatypes.KnowledgeGraph) error
}

// Repository is a Loader backed by the autopilot store.
type Repository struct {
	store store.Store
	now   func() time.Time
}

// NewRepository returns a Repository on s.
func NewRepository(s store.Store) *Repository {
	return &Repository{store: s, now: time.Now}
}

// Load implements Loader.
func (r *Repository) Load(ctx context.Context, accountID string) (*datatypes.KnowledgeGraph, error) {
	g, found, err := store.GetJSON[datatypes.KnowledgeGraph](ctx, r.store, store.AccountKey(accountID, store.SuffixKnowledge))
	if err != nil {
		return nil, fmt.Errorf("load knowledge for %s: %w", accountID, err)
	}
	if !found {
		return nil, fmt.Errorf("account %s: %w", accountID, datatypes.ErrKnowledgeNotFound)
	}
	return &g, nil
}

// Save implements Saver. The graph replaces any previous copy.
func (r *Repository) Save(ctx context.Context, graph *datatypes.KnowledgeGraph) error {
	if graph == nil || graph.AccountID == "" {
		return fmt.Errorf("save knowledge: account id is required")
	}
	g := *graph
	if g.UpdatedAt.IsZero() {
		g.UpdatedAt = r.now().UTC()
	}
	return store.PutJSON(ctx, r.store, store.AccountKey(g.AccountID, store.SuffixKnowledge), g)
}

var (
	_ Loader = (*Repository)(nil)
	_ Saver  = (*Repository)(nil)
)

// =============================================================================
// Health
// =============================================================================

// unscoredConfidence is credited to fields whose source gave no confidence.
const unscoredConfidence = 0.5

// HealthScore rates graph completeness on a 0-100 scale.
//
// # Description
//
// Every field in datatypes.ExpectedFields contributes its confidence when
// present and zero when missing; the score is the mean times 100. A nil
// graph scores zero.
//
// # Examples
//
//	score := knowledge.HealthScore(graph)
//	if score < 40 { /* not ready */ }
func HealthScore(g *datatypes.KnowledgeGraph) float64 {
	if g == nil {
		return 0
	}
	var total float64
	var count int
	for _, domain := range datatypes.AllKnowledgeDomains {
		for _, name := range datatypes.ExpectedFields[domain] {
			count++
			f, ok := g.Field(domain, name)
			if !ok {
				continue
			}
			c := f.Confidence
			switch {
			case c <= 0:
				c = unscoredConfidence
			case c > 1:
				c = 1
			}
			total += c
		}
	}
	if count == 0 {
		return 0
	}
	return total / float64(count) * 100
}

// DomainCoverage returns, per domain, the share (0-1) of expected fields
// that are present.
func DomainCoverage(g *datatypes.KnowledgeGraph) map[datatypes.KnowledgeDomain]float64 {
	out := make(map[datatypes.KnowledgeDomain]float64, len(datatypes.AllKnowledgeDomains))
	for _, domain := range datatypes.AllKnowledgeDomains {
		fields := datatypes.ExpectedFields[domain]
		if len(fields) == 0 {
			continue
		}
		present := 0
		for _, name := range fields {
			if _, ok := g.Field(domain, name); ok {
				present++
			}
		}
		out[domain] = float64(present) / float64(len(fields))
	}
	return out
}
