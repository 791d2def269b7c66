// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package knowledge

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AleutianAI/autopilot/services/autopilot/datatypes"
	"github.com/AleutianAI/autopilot/services/autopilot/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"
)

// fullGraph returns a graph with every expected field at the given confidence.
func fullGraph(accountID string, confidence float64) *datatypes.KnowledgeGraph {
	g := &datatypes.KnowledgeGraph{AccountID: accountID}
	for domain, fields := range datatypes.ExpectedFields {
		for _, name := range fields {
			g.Set(domain, name, datatypes.KnowledgeField{Value: "x", Confidence: confidence})
		}
	}
	return g
}

func TestHealthScore(t *testing.T) {
	assert.Equal(t, 0.0, HealthScore(nil))
	assert.Equal(t, 0.0, HealthScore(&datatypes.KnowledgeGraph{}))
	assert.InDelta(t, 100.0, HealthScore(fullGraph("a", 1)), 1e-9)
	assert.InDelta(t, 80.0, HealthScore(fullGraph("a", 0.8)), 1e-9)
	assert.InDelta(t, 50.0, HealthScore(fullGraph("a", 0)), 1e-9, "unscored fields count half")
}

func TestDomainCoverage(t *testing.T) {
	g := &datatypes.KnowledgeGraph{}
	g.Set(datatypes.DomainBusiness, "industry", datatypes.KnowledgeField{Value: "retail"})
	cov := DomainCoverage(g)
	assert.InDelta(t, 1.0/3.0, cov[datatypes.DomainBusiness], 1e-9)
	assert.Equal(t, 0.0, cov[datatypes.DomainBrand])
}

func TestRepository_LoadSave(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(store.NewMemoryStore())

	_, err := repo.Load(ctx, "acct-1")
	assert.True(t, errors.Is(err, datatypes.ErrKnowledgeNotFound))

	require.NoError(t, repo.Save(ctx, fullGraph("acct-1", 0.9)))
	g, err := repo.Load(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "x", g.String(datatypes.DomainBusiness, "industry"))
	assert.False(t, g.UpdatedAt.IsZero())

	assert.Error(t, repo.Save(ctx, &datatypes.KnowledgeGraph{}))
}

type countingLoader struct {
	calls atomic.Int32
	delay time.Duration
	err   error
}

func (c *countingLoader) Load(_ context.Context, accountID string) (*datatypes.KnowledgeGraph, error) {
	c.calls.Add(1)
	time.Sleep(c.delay)
	if c.err != nil {
		return nil, c.err
	}
	return fullGraph(accountID, 1), nil
}

func TestCachedLoader_TTL(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	inner := &countingLoader{}
	c := NewCachedLoader(inner, time.Minute, WithCacheClock(func() time.Time { return now }))

	_, err := c.Load(context.Background(), "a")
	require.NoError(t, err)
	_, err = c.Load(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, int32(1), inner.calls.Load())

	now = now.Add(2 * time.Minute)
	_, err = c.Load(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, int32(2), inner.calls.Load())

	c.Invalidate("a")
	_, err = c.Load(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, int32(3), inner.calls.Load())

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(3), misses)
}

func TestCachedLoader_DeduplicatesConcurrentLoads(t *testing.T) {
	inner := &countingLoader{delay: 50 * time.Millisecond}
	c := NewCachedLoader(inner, 0)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Load(context.Background(), "a")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Less(t, inner.calls.Load(), int32(10))
}

func TestCachedLoader_ErrorsNotCached(t *testing.T) {
	inner := &countingLoader{err: datatypes.ErrKnowledgeNotFound}
	c := NewCachedLoader(inner, time.Hour)

	_, err := c.Load(context.Background(), "a")
	assert.ErrorIs(t, err, datatypes.ErrKnowledgeNotFound)
	_, err = c.Load(context.Background(), "a")
	assert.ErrorIs(t, err, datatypes.ErrKnowledgeNotFound)
	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestParseKnowledge(t *testing.T) {
	result := &models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Get": map[string]interface{}{
				KnowledgeClassName: []interface{}{
					map[string]interface{}{
						"domain": "business", "field": "industry", "value": `"retail"`,
						"confidence": 0.9, "source": "onboarding", "updatedAt": "2025-01-01T00:00:00Z",
					},
					map[string]interface{}{
						"domain": "business", "field": "industry", "value": `"fashion"`,
						"confidence": 0.7, "updatedAt": "2024-06-01T00:00:00Z",
					},
					map[string]interface{}{
						"domain": "channels", "field": "active_channels", "value": `["search","shopping"]`,
					},
					map[string]interface{}{"domain": "astrology", "field": "sign", "value": `"leo"`},
					map[string]interface{}{"domain": "brand", "field": "voice", "value": `{broken`},
				},
			},
		},
	}

	g := parseKnowledge("acct-1", result, slog.Default())

	assert.Equal(t, "retail", g.String(datatypes.DomainBusiness, "industry"), "newest object wins")
	assert.Equal(t, []string{"search", "shopping"}, g.Strings(datatypes.DomainChannels, "active_channels"))
	_, ok := g.Field(datatypes.DomainBrand, "voice")
	assert.False(t, ok)
	assert.Len(t, g.Domains, 2)
	assert.Equal(t, 2025, g.UpdatedAt.Year())
}

func TestParseKnowledge_EmptyResponse(t *testing.T) {
	g := parseKnowledge("acct-1", &models.GraphQLResponse{}, slog.Default())
	assert.Empty(t, g.Domains)
}
