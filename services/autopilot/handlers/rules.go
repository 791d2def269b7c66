// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/autopilot/services/autopilot/datatypes"
	"github.com/AleutianAI/autopilot/services/autopilot/governance"
	"github.com/AleutianAI/autopilot/services/autopilot/knowledge"
	"github.com/AleutianAI/autopilot/services/autopilot/performance"
	"github.com/AleutianAI/autopilot/services/autopilot/rules"
	"github.com/AleutianAI/autopilot/services/autopilot/signals"
)

// EvaluateRequest asks how the rules would treat a proposed change.
type EvaluateRequest struct {
	Change datatypes.ProposedChange `json:"change"`
}

// ListRules returns the built-in rule catalogue.
func ListRules(engine *rules.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		list := engine.Rules()
		c.JSON(http.StatusOK, gin.H{"rules": list, "count": len(list)})
	}
}

// ListAccountRules returns the rules in effect for the account after its
// overrides are applied.
func ListAccountRules(engine *rules.Engine, gov *governance.Governance) gin.HandlerFunc {
	return func(c *gin.Context) {
		cfg, err := gov.PeekAutopilotConfig(c.Request.Context(), c.Param(accountParam))
		if err != nil {
			respondError(c, "failed to load config", err)
			return
		}
		list := engine.EffectiveRules(*cfg)
		c.JSON(http.StatusOK, gin.H{"rules": list, "count": len(list)})
	}
}

// EvaluateChange runs the rules against a proposed change without
// applying anything.
func EvaluateChange(engine *rules.Engine, gov *governance.Governance, monitor *signals.Monitor,
	loader knowledge.Loader, perf performance.Source) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req EvaluateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		if err := req.Change.Validate(); err != nil {
			respondError(c, "invalid change", err)
			return
		}

		ctx := c.Request.Context()
		accountID := c.Param(accountParam)
		cfg, err := gov.PeekAutopilotConfig(ctx, accountID)
		if err != nil {
			respondError(c, "failed to load config", err)
			return
		}
		graph, err := loadGraph(c, loader, accountID)
		if err != nil {
			respondError(c, "failed to load knowledge", err)
			return
		}
		active, err := monitor.GetActiveSignals(ctx, accountID)
		if err != nil {
			respondError(c, "failed to load signals", err)
			return
		}
		snap, err := perf.Snapshot(ctx, accountID)
		if err != nil {
			respondError(c, "failed to load performance", err)
			return
		}

		rc := rules.NewRuleContext(*cfg, graph, req.Change, active, snap, gov.Now())
		c.JSON(http.StatusOK, gin.H{
			"evaluations": engine.Evaluate(rc),
			"decision":    engine.Decide(rc),
		})
	}
}
