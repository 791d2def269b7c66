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
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/autopilot/services/autopilot/cycle"
	"github.com/AleutianAI/autopilot/services/autopilot/events"
	"github.com/AleutianAI/autopilot/services/autopilot/governance"
	"github.com/AleutianAI/autopilot/services/autopilot/handlers"
	"github.com/AleutianAI/autopilot/services/autopilot/knowledge"
	"github.com/AleutianAI/autopilot/services/autopilot/observability"
	"github.com/AleutianAI/autopilot/services/autopilot/performance"
	"github.com/AleutianAI/autopilot/services/autopilot/rules"
	"github.com/AleutianAI/autopilot/services/autopilot/scheduler"
	"github.com/AleutianAI/autopilot/services/autopilot/signals"
)

// Deps carries the components the API serves. Governance, Engine, Monitor,
// Rules, Knowledge and Performance are required; routes for a nil optional
// dependency are not registered.
type Deps struct {
	Governance  *governance.Governance
	Engine      *cycle.Engine
	Monitor     *signals.Monitor
	Rules       *rules.Engine
	Knowledge   knowledge.Loader
	Performance performance.Source

	// Optional.
	KnowledgeSaver knowledge.Saver
	SnapshotSaver  handlers.SnapshotSaver
	PointRecorder  handlers.PointRecorder
	Hub            *events.Hub
	Scheduler      *scheduler.Scheduler

	// MetricsHandler serves /metrics. Nil uses the default Prometheus
	// registry.
	MetricsHandler http.Handler
}

func SetupRoutes(router *gin.Engine, d Deps) {
	router.GET("/health", handlers.HealthCheck)
	metrics := d.MetricsHandler
	if metrics == nil {
		metrics = observability.Handler()
	}
	router.GET("/metrics", gin.WrapH(metrics))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.GET("/global", handlers.GetGlobalSwitch(d.Governance))
		v1.PUT("/global", handlers.SetGlobalSwitch(d.Governance))
		v1.GET("/rules", handlers.ListRules(d.Rules))
		if d.Scheduler != nil {
			v1.POST("/scheduler/run", handlers.RunScheduler(d.Scheduler))
		}
		if d.Hub != nil {
			v1.GET("/events", handlers.StreamEvents(d.Hub))
		}

		accounts := v1.Group("/accounts/:accountId", handlers.ValidateAccountID())
		{
			accounts.GET("/config", handlers.GetConfig(d.Governance))
			accounts.PATCH("/config", handlers.UpdateConfig(d.Governance))
			accounts.POST("/config/reset", handlers.ResetConfig(d.Governance))
			accounts.GET("/readiness", handlers.GetReadiness(d.Engine, d.Knowledge))
			accounts.GET("/governance", handlers.GetGovernanceSummary(d.Governance))

			accounts.POST("/cycles", handlers.RunCycle(d.Engine))
			accounts.GET("/cycles", handlers.GetCycleHistory(d.Engine))

			accounts.POST("/signals/scan", handlers.ScanSignals(d.Monitor, d.Knowledge, d.Performance))
			accounts.GET("/signals", handlers.ListSignals(d.Monitor))
			accounts.GET("/signals/summary", handlers.GetSignalSummary(d.Monitor))
			accounts.POST("/signals/:signalId/ack", handlers.AcknowledgeSignal(d.Monitor))
			accounts.POST("/signals/:signalId/resolve", handlers.ResolveSignal(d.Monitor))

			accounts.GET("/rules", handlers.ListAccountRules(d.Rules, d.Governance))
			accounts.POST("/rules/evaluate", handlers.EvaluateChange(d.Rules, d.Governance, d.Monitor, d.Knowledge, d.Performance))

			accounts.POST("/approvals", handlers.CreateApproval(d.Governance))
			accounts.GET("/approvals", handlers.ListPendingApprovals(d.Governance))
			accounts.GET("/approvals/history", handlers.GetApprovalHistory(d.Governance))
			accounts.GET("/approvals/:approvalId", handlers.GetApproval(d.Governance))
			accounts.POST("/approvals/:approvalId/decision", handlers.DecideApproval(d.Governance))

			accounts.GET("/emergency", handlers.GetEmergency(d.Governance))
			accounts.POST("/emergency/stop", handlers.TriggerEmergencyStop(d.Governance))
			accounts.POST("/emergency/resolve", handlers.ResolveEmergencyStop(d.Governance))

			accounts.GET("/audit", handlers.GetAuditLog(d.Governance))
			accounts.GET("/changes", handlers.ListChanges(d.Governance))
			accounts.POST("/changes/:changeId/revert", handlers.RevertChange(d.Governance))

			accounts.GET("/knowledge", handlers.GetKnowledge(d.Knowledge))
			if d.KnowledgeSaver != nil {
				accounts.PUT("/knowledge", handlers.PutKnowledge(d.KnowledgeSaver))
			}
			accounts.GET("/performance", handlers.GetPerformance(d.Performance))
			if d.SnapshotSaver != nil {
				accounts.PUT("/performance", handlers.PutPerformance(d.SnapshotSaver))
			}
			if d.PointRecorder != nil {
				accounts.POST("/performance/points", handlers.RecordPerformance(d.PointRecorder))
			}
			if d.Hub != nil {
				accounts.GET("/events", handlers.StreamEvents(d.Hub))
			}
		}
	}
}
