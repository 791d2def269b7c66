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
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/autopilot/services/autopilot/datatypes"
	"golang.org/x/sync/singleflight"
)

// CachedLoader wraps a Loader with a TTL cache and collapses concurrent
// loads of the same account into one upstream call.
//
// Cached graphs are shared between callers and must be treated as
// read-only.
type CachedLoader struct {
	inner   Loader
	ttl     time.Duration
	now     func() time.Time
	flight  singleflight.Group
	mu      sync.RWMutex
	entries map[string]cacheEntry

	hits   int64
	misses int64
}

type cacheEntry struct {
	graph    *datatypes.KnowledgeGraph
	loadedAt time.Time
}

// CacheOption configures a CachedLoader.
type CacheOption func(*CachedLoader)

// WithCacheClock overrides the clock used for TTL checks.
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *CachedLoader) { c.now = now }
}

// NewCachedLoader returns a CachedLoader. A ttl <= 0 disables caching but
// keeps load deduplication.
func NewCachedLoader(inner Loader, ttl time.Duration, opts ...CacheOption) *CachedLoader {
	c := &CachedLoader{
		inner:   inner,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load implements Loader. Errors are never cached.
func (c *CachedLoader) Load(ctx context.Context, accountID string) (*datatypes.KnowledgeGraph, error) {
	if c.ttl > 0 {
		c.mu.RLock()
		e, ok := c.entries[accountID]
		c.mu.RUnlock()
		if ok && c.now().Sub(e.loadedAt) < c.ttl {
			atomic.AddInt64(&c.hits, 1)
			return e.graph, nil
		}
	}
	atomic.AddInt64(&c.misses, 1)

	v, err, _ := c.flight.Do(accountID, func() (interface{}, error) {
		g, err := c.inner.Load(ctx, accountID)
		if err != nil {
			return nil, err
		}
		if c.ttl > 0 {
			c.mu.Lock()
			c.entries[accountID] = cacheEntry{graph: g, loadedAt: c.now()}
			c.mu.Unlock()
		}
		return g, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*datatypes.KnowledgeGraph), nil
}

// Invalidate drops the cached graph of an account.
func (c *CachedLoader) Invalidate(accountID string) {
	c.mu.Lock()
	delete(c.entries, accountID)
	c.mu.Unlock()
}

// Stats returns cache hit and miss counts.
func (c *CachedLoader) Stats() (hits, misses int64) {
	return atomic.LoadInt64(&c.hits), atomic.LoadInt64(&c.misses)
}

var _ Loader = (*CachedLoader)(nil)
