// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package autopilot

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/autopilot/services/autopilot/config"
	"github.com/AleutianAI/autopilot/services/autopilot/datatypes"
	"github.com/AleutianAI/autopilot/services/autopilot/knowledge"
	"github.com/AleutianAI/autopilot/services/autopilot/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.Mode = gin.TestMode
	cfg.Server.Port = 0
	cfg.Server.ShutdownTimeout = 2 * time.Second
	cfg.Telemetry.TraceExporter = "none"
	cfg.Telemetry.MetricExporter = "none"
	cfg.Store.Backend = "memory"
	cfg.Scheduler.Enabled = false
	cfg.Alerts.Backend = "none"
	return &cfg
}

func TestNew_NilConfig(t *testing.T) {
	_, err := New(context.Background(), nil, nil)
	require.Error(t, err)
}

func TestNew_ServesHealthAndGlobal(t *testing.T) {
	svc, err := newService(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	t.Cleanup(svc.cleanup)

	for _, path := range []string{"/health", "/v1/global", "/metrics"} {
		w := httptest.NewRecorder()
		svc.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	// The store backend accepts snapshots; no Influx means no points route.
	var hasPoints, hasPerfPut bool
	for _, r := range svc.Router().Routes() {
		switch {
		case r.Method == http.MethodPost && r.Path == "/v1/accounts/:accountId/performance/points":
			hasPoints = true
		case r.Method == http.MethodPut && r.Path == "/v1/accounts/:accountId/performance":
			hasPerfPut = true
		}
	}
	assert.False(t, hasPoints)
	assert.True(t, hasPerfPut)
}

func TestNew_AuditChainAndAlerts(t *testing.T) {
	cfg := testConfig(t)
	cfg.Governance.AuditChainPath = filepath.Join(t.TempDir(), "audit.jsonl")
	cfg.Alerts.Backend = "log"

	svc, err := newService(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(svc.cleanup)
	require.NotNil(t, svc.chain)

	require.NoError(t, svc.gov.SetGlobalEnabled(context.Background(), true, "ops"))
	require.NoError(t, svc.chain.Close())
	assert.FileExists(t, cfg.Governance.AuditChainPath)
}

func TestNew_BadgerStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Backend = "badger"
	cfg.Store.Badger.Path = t.TempDir()

	svc, err := newService(context.Background(), cfg, nil)
	require.NoError(t, err)
	_, ok := svc.store.(*store.BadgerStore)
	assert.True(t, ok)
	svc.cleanup()
	assert.Empty(t, svc.closers)
}

func TestNew_WeaviateUnreachableFallsBack(t *testing.T) {
	cfg := testConfig(t)
	cfg.Knowledge.Backend = "weaviate"
	cfg.Knowledge.WeaviateURL = "http://127.0.0.1:1"
	cfg.Knowledge.CacheTTL = 0

	svc, err := newService(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(svc.cleanup)
	_, ok := svc.knowledge.(*knowledge.Repository)
	assert.True(t, ok)
}

func TestNew_OpenAIRequiresKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.Generator.Backend = "openai"

	_, err := newService(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "generator")
}

func TestInvalidatingSaver_DropsCachedGraph(t *testing.T) {
	ctx := context.Background()
	repo := knowledge.NewRepository(store.NewMemoryStore())
	cache := knowledge.NewCachedLoader(repo, time.Hour)
	saver := invalidatingSaver{Saver: repo, cache: cache}

	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)

	require.NoError(t, saver.Save(ctx, &datatypes.KnowledgeGraph{AccountID: "acct", UpdatedAt: first}))
	g, err := cache.Load(ctx, "acct")
	require.NoError(t, err)
	assert.True(t, first.Equal(g.UpdatedAt))

	require.NoError(t, saver.Save(ctx, &datatypes.KnowledgeGraph{AccountID: "acct", UpdatedAt: second}))
	g, err = cache.Load(ctx, "acct")
	require.NoError(t, err)
	assert.True(t, second.Equal(g.UpdatedAt))
}

func TestRun_StopsOnCancel(t *testing.T) {
	svc, err := New(context.Background(), testConfig(t), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
