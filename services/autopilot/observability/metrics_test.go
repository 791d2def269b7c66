// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewMetrics(reg), reg
}

func TestInitMetrics_Idempotent(t *testing.T) {
	first := InitMetrics()
	second := InitMetrics()
	require.NotNil(t, first)
	assert.Same(t, first, second)
	assert.Same(t, first, DefaultMetrics)
}

func TestRecordTick(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordTick(TickOutcome{
		GlobalEnabled:      true,
		Duration:           150 * time.Millisecond,
		Succeeded:          3,
		Skipped:            1,
		Failed:             2,
		ApprovalsExpired:   4,
		EmergenciesResumed: 1,
	})
	m.RecordTick(TickOutcome{GlobalEnabled: false})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SchedulerTicksTotal.WithLabelValues("enabled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SchedulerTicksTotal.WithLabelValues("disabled")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ScheduledCyclesTotal.WithLabelValues("succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScheduledCyclesTotal.WithLabelValues("skipped")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ScheduledCyclesTotal.WithLabelValues("failed")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.ApprovalsExpiredTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EmergenciesResumedTotal))
	assert.Equal(t, 2, testutil.CollectAndCount(m.SchedulerTickDurationSeconds))
}

func TestSetEventSubscribers(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.SetEventSubscribers(5)
	assert.Equal(t, 5.0, testutil.ToFloat64(m.EventSubscribers))
	m.SetEventSubscribers(2)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventSubscribers))
}

func TestMiddleware_LabelsByRouteTemplate(t *testing.T) {
	m, _ := newTestMetrics(t)

	router := gin.New()
	router.Use(m.Middleware())
	router.GET("/v1/accounts/:id/config", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": c.Param("id")})
	})

	for _, id := range []string{"a", "b", "c"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/accounts/"+id+"/config", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	require.Equal(t, http.StatusNotFound, w.Code)

	assert.Equal(t, 3.0, testutil.ToFloat64(
		m.RequestsTotal.WithLabelValues(http.MethodGet, "/v1/accounts/:id/config", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		m.RequestsTotal.WithLabelValues(http.MethodGet, "unmatched", "404")))
}

func TestHandlerFor_ExposesMetrics(t *testing.T) {
	m, reg := newTestMetrics(t)
	m.RecordTick(TickOutcome{GlobalEnabled: true, Succeeded: 1})

	w := httptest.NewRecorder()
	HandlerFor(reg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.True(t, strings.Contains(body, "autopilot_scheduler_cycles_total"))
	assert.True(t, strings.Contains(body, `outcome="succeeded"`))
}
