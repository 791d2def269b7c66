// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/autopilot/services/autopilot/cycle"
	"github.com/AleutianAI/autopilot/services/autopilot/datatypes"
	"github.com/AleutianAI/autopilot/services/autopilot/events"
	"github.com/AleutianAI/autopilot/services/autopilot/generators"
	"github.com/AleutianAI/autopilot/services/autopilot/governance"
	"github.com/AleutianAI/autopilot/services/autopilot/knowledge"
	"github.com/AleutianAI/autopilot/services/autopilot/performance"
	"github.com/AleutianAI/autopilot/services/autopilot/rules"
	"github.com/AleutianAI/autopilot/services/autopilot/scheduler"
	"github.com/AleutianAI/autopilot/services/autopilot/signals"
	"github.com/AleutianAI/autopilot/services/autopilot/store"
)

// ============================================================================
// Test Setup
// ============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

const acct = "acct-routes"

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	s := store.NewMemoryStore()
	hub := events.NewHub(nil)
	t.Cleanup(hub.Close)
	gov := governance.New(s, governance.WithAuditSinks(hub))
	ruleEngine, err := rules.NewEngine()
	require.NoError(t, err)
	monitor := signals.NewMonitor(s, signals.MonitorConfig{})
	repo := knowledge.NewRepository(s)
	perf := performance.NewRepository(s)
	engine := cycle.NewEngine(s, gov, monitor, ruleEngine, repo,
		cycle.WithPerformance(perf), cycle.WithGenerator(&generators.Static{}))

	router := gin.New()
	SetupRoutes(router, Deps{
		Governance:     gov,
		Engine:         engine,
		Monitor:        monitor,
		Rules:          ruleEngine,
		Knowledge:      repo,
		Performance:    perf,
		KnowledgeSaver: repo,
		SnapshotSaver:  perf,
		Hub:            hub,
		Scheduler:      scheduler.New(s, gov, engine, scheduler.Config{}),
	})
	return router
}

func do(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func healthyGraph() datatypes.KnowledgeGraph {
	g := datatypes.KnowledgeGraph{AccountID: acct}
	for domain, fields := range datatypes.ExpectedFields {
		for _, name := range fields {
			g.Set(domain, name, datatypes.KnowledgeField{Value: "set", Confidence: 0.9})
		}
	}
	return g
}

func budgetChange() datatypes.ProposedChange {
	return datatypes.NewBudgetChange(datatypes.BudgetChange{
		Channel: "search", CurrentBudget: 100, ProposedBudget: 110, Reason: "strong ROAS",
	})
}

// ============================================================================
// Registration
// ============================================================================

func TestSetupRoutes_RegistersAPI(t *testing.T) {
	router := newRouter(t)

	expected := []struct {
		method string
		path   string
	}{
		{"GET", "/health"},
		{"GET", "/metrics"},
		{"GET", "/v1/global"},
		{"PUT", "/v1/global"},
		{"GET", "/v1/rules"},
		{"POST", "/v1/scheduler/run"},
		{"GET", "/v1/events"},
		{"GET", "/v1/accounts/:accountId/config"},
		{"PATCH", "/v1/accounts/:accountId/config"},
		{"GET", "/v1/accounts/:accountId/readiness"},
		{"POST", "/v1/accounts/:accountId/cycles"},
		{"GET", "/v1/accounts/:accountId/cycles"},
		{"POST", "/v1/accounts/:accountId/signals/scan"},
		{"POST", "/v1/accounts/:accountId/signals/:signalId/ack"},
		{"POST", "/v1/accounts/:accountId/rules/evaluate"},
		{"POST", "/v1/accounts/:accountId/approvals/:approvalId/decision"},
		{"POST", "/v1/accounts/:accountId/emergency/stop"},
		{"GET", "/v1/accounts/:accountId/audit"},
		{"POST", "/v1/accounts/:accountId/changes/:changeId/revert"},
		{"PUT", "/v1/accounts/:accountId/knowledge"},
		{"PUT", "/v1/accounts/:accountId/performance"},
		{"GET", "/v1/accounts/:accountId/events"},
	}

	registered := make(map[string]bool)
	for _, r := range router.Routes() {
		registered[r.Method+" "+r.Path] = true
	}
	for _, e := range expected {
		assert.True(t, registered[e.method+" "+e.path], "missing route %s %s", e.method, e.path)
	}
	assert.False(t, registered["POST /v1/accounts/:accountId/performance/points"],
		"point ingestion needs a recorder")
}

// ============================================================================
// Flows
// ============================================================================

func TestGlobalSwitch(t *testing.T) {
	router := newRouter(t)

	w := do(t, router, "GET", "/v1/global", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode[map[string]any](t, w)["enabled"])

	w = do(t, router, "PUT", "/v1/global", map[string]any{"enabled": false})
	assert.Equal(t, http.StatusBadRequest, w.Code, "actor is required")

	w = do(t, router, "PUT", "/v1/global", map[string]any{"enabled": false, "actor": "ops@example.com"})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, "GET", "/v1/accounts/"+acct+"/readiness", nil)
	require.Equal(t, http.StatusOK, w.Code)
	readiness := decode[datatypes.Readiness](t, w)
	assert.False(t, readiness.Ready)
	assert.Contains(t, readiness.Reasons, cycle.ReasonGlobalDisabled)

	w = do(t, router, "POST", "/v1/accounts/"+acct+"/cycles", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, datatypes.CycleSkipped, decode[datatypes.CycleResult](t, w).Status)
}

func TestAccountRoutes_RejectReservedPartition(t *testing.T) {
	router := newRouter(t)

	w := do(t, router, "PUT", "/v1/global", map[string]any{"enabled": false, "actor": "ops@example.com"})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, "GET", "/v1/accounts/_global/audit", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "reserved")

	w = do(t, router, "PATCH", "/v1/accounts/_global/config", map[string]any{
		"actor": "ops@example.com",
		"patch": map[string]any{"enabled": true},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, "GET", "/v1/accounts/"+acct+"/config", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestConfigAndReadiness(t *testing.T) {
	router := newRouter(t)
	base := "/v1/accounts/" + acct

	w := do(t, router, "PUT", base+"/knowledge", healthyGraph())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, router, "PATCH", base+"/config", map[string]any{
		"actor": "ops@example.com",
		"patch": map[string]any{"enabled": true},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	update := decode[governance.ConfigUpdate](t, w)
	assert.True(t, update.Config.Enabled)
	assert.Contains(t, update.Changed, "enabled")

	w = do(t, router, "PATCH", base+"/config", map[string]any{
		"actor": "ops@example.com",
		"patch": map[string]any{"budget_flexibility": 250},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, "GET", base+"/readiness", nil)
	require.Equal(t, http.StatusOK, w.Code)
	readiness := decode[datatypes.Readiness](t, w)
	assert.True(t, readiness.Ready, readiness.Reasons)

	w = do(t, router, "POST", base+"/cycles", map[string]any{"dry_run": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decode[datatypes.CycleResult](t, w).DryRun)

	w = do(t, router, "GET", base+"/cycles?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode[map[string]any](t, w)["count"])

	w = do(t, router, "GET", base+"/cycles?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestKnowledge_MissingIs404(t *testing.T) {
	router := newRouter(t)
	w := do(t, router, "GET", "/v1/accounts/nobody/knowledge", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, decode[map[string]string](t, w)["error"], "knowledge not found")
}

func TestApprovalLifecycle(t *testing.T) {
	router := newRouter(t)
	base := "/v1/accounts/" + acct

	w := do(t, router, "POST", base+"/approvals", map[string]any{
		"change":       datatypes.ProposedChange{Kind: datatypes.ChangeBudget},
		"reasoning":    "scale search",
		"requested_by": "ops@example.com",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code, "payload missing")

	w = do(t, router, "POST", base+"/approvals", map[string]any{
		"change":       budgetChange(),
		"reasoning":    "scale search",
		"requested_by": "ops@example.com",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	approval := decode[datatypes.ApprovalRequest](t, w)
	assert.Equal(t, datatypes.ApprovalPending, approval.Status)

	w = do(t, router, "GET", base+"/approvals", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode[map[string]any](t, w)["count"])

	w = do(t, router, "POST", base+"/approvals/missing/decision", map[string]any{"approve": true, "reviewer": "lead"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, router, "POST", base+"/approvals/"+approval.ID+"/decision", map[string]any{"reviewer": "lead"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "approve is required")

	w = do(t, router, "POST", base+"/approvals/"+approval.ID+"/decision", map[string]any{"approve": true, "reviewer": "lead"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decided := decode[datatypes.ApprovalRequest](t, w)
	assert.Equal(t, datatypes.ApprovalApproved, decided.Status)
	require.NotEmpty(t, decided.ChangeRecordID)

	w = do(t, router, "POST", base+"/approvals/"+approval.ID+"/decision", map[string]any{"approve": false, "reviewer": "lead"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, router, "GET", base+"/changes", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode[map[string]any](t, w)["count"])

	revert := map[string]any{"actor": "lead", "reason": "rolled back after review"}
	w = do(t, router, "POST", base+"/changes/"+decided.ChangeRecordID+"/revert", revert)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = do(t, router, "POST", base+"/changes/"+decided.ChangeRecordID+"/revert", revert)
	assert.Equal(t, http.StatusConflict, w.Code)
	w = do(t, router, "POST", base+"/changes/unknown/revert", revert)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, router, "GET", base+"/changes", nil)
	assert.EqualValues(t, 0, decode[map[string]any](t, w)["count"])
	w = do(t, router, "GET", base+"/changes?include_reverted=true", nil)
	assert.EqualValues(t, 1, decode[map[string]any](t, w)["count"])
}

func TestEmergencyStop(t *testing.T) {
	router := newRouter(t)
	base := "/v1/accounts/" + acct

	w := do(t, router, "GET", base+"/emergency", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode[map[string]any](t, w)["active"])

	w = do(t, router, "POST", base+"/emergency/resolve", map[string]any{"actor": "lead"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, router, "POST", base+"/emergency/stop", map[string]any{"actor": "lead", "reason": "tracking broken"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, router, "POST", base+"/approvals", map[string]any{
		"change":       budgetChange(),
		"reasoning":    "scale search",
		"requested_by": "ops@example.com",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	approval := decode[datatypes.ApprovalRequest](t, w)
	w = do(t, router, "POST", base+"/approvals/"+approval.ID+"/decision", map[string]any{"approve": true, "reviewer": "lead"})
	assert.Equal(t, http.StatusConflict, w.Code, "approvals cannot apply during an emergency stop")

	w = do(t, router, "GET", base+"/emergency", nil)
	assert.Equal(t, true, decode[map[string]any](t, w)["active"])

	w = do(t, router, "POST", base+"/emergency/resolve", map[string]any{"actor": "lead", "notes": "fixed"})
	require.Equal(t, http.StatusOK, w.Code)
	w = do(t, router, "GET", base+"/emergency", nil)
	assert.Equal(t, false, decode[map[string]any](t, w)["active"])

	w = do(t, router, "GET", base+"/audit?action=emergency_triggered", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode[map[string]any](t, w)["count"])

	w = do(t, router, "GET", base+"/governance", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestSignalsAndRules(t *testing.T) {
	router := newRouter(t)
	base := "/v1/accounts/" + acct

	sparse := datatypes.KnowledgeGraph{AccountID: acct}
	sparse.Set(datatypes.DomainBusiness, "industry", datatypes.KnowledgeField{Value: "retail", Confidence: 0.9})
	w := do(t, router, "PUT", base+"/knowledge", sparse)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, router, "POST", base+"/signals/scan", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	detected := decode[struct {
		Signals []datatypes.Signal `json:"signals"`
	}](t, w).Signals
	require.NotEmpty(t, detected, "a sparse knowledge graph raises a context gap")
	var gap datatypes.Signal
	for _, sig := range detected {
		if sig.Type == datatypes.SignalContextGap {
			gap = sig
		}
	}
	require.NotEmpty(t, gap.ID)

	w = do(t, router, "GET", base+"/signals/summary", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, "POST", base+"/signals/unknown/ack", map[string]any{"actor": "lead"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, router, "POST", base+"/signals/"+gap.ID+"/ack", map[string]any{"actor": "lead"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, datatypes.SignalAcknowledged, decode[datatypes.Signal](t, w).Status)

	w = do(t, router, "POST", base+"/signals/"+gap.ID+"/resolve", map[string]any{"actor": "lead"})
	require.Equal(t, http.StatusOK, w.Code)
	w = do(t, router, "POST", base+"/signals/"+gap.ID+"/resolve", map[string]any{"actor": "lead"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, router, "GET", "/v1/rules", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotZero(t, decode[map[string]any](t, w)["count"])

	w = do(t, router, "POST", base+"/rules/evaluate", map[string]any{"change": budgetChange()})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode[map[string]json.RawMessage](t, w)
	assert.Contains(t, body, "decision")
	assert.Contains(t, body, "evaluations")

	w = do(t, router, "POST", base+"/rules/evaluate", map[string]any{"change": map[string]any{"kind": "teleport"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSchedulerRun(t *testing.T) {
	router := newRouter(t)
	w := do(t, router, "POST", "/v1/scheduler/run", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode[scheduler.TickResult](t, w).GlobalEnabled)
}
