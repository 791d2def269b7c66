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

	"github.com/AleutianAI/autopilot/services/autopilot/cycle"
	"github.com/AleutianAI/autopilot/services/autopilot/datatypes"
	"github.com/AleutianAI/autopilot/services/autopilot/scheduler"
)

// RunCycleRequest starts a cycle on demand. The body is optional.
type RunCycleRequest struct {
	DryRun        bool                    `json:"dry_run"`
	AutonomyLevel datatypes.AutonomyLevel `json:"autonomy_level,omitempty" binding:"omitempty,oneof=manual_only ai_assisted semi_autonomous full_autonomous"`
	TriggeredBy   datatypes.TriggeredBy   `json:"triggered_by,omitempty" binding:"omitempty,oneof=autopilot human signal schedule"`
}

// RunCycle runs one cycle for the account and returns its result.
//
// # Description
//
// A cycle that was skipped (kill switch, disabled account, emergency stop,
// low knowledge health) or failed is still a 200: the outcome is in the
// result's status. Only malformed requests and store failures are errors.
func RunCycle(engine *cycle.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := RunCycleRequest{TriggeredBy: datatypes.TriggeredByHuman}
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err)
				return
			}
		}
		if req.TriggeredBy == "" {
			req.TriggeredBy = datatypes.TriggeredByHuman
		}
		res, err := engine.RunCycle(c.Request.Context(), c.Param(accountParam), cycle.RunOptions{
			DryRun:              req.DryRun,
			ForcedAutonomyLevel: req.AutonomyLevel,
			TriggeredBy:         req.TriggeredBy,
		})
		if err != nil {
			respondError(c, "failed to run cycle", err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// GetCycleHistory lists recent cycle results, newest first.
func GetCycleHistory(engine *cycle.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, ok := queryLimit(c, cycle.DefaultHistoryLimit)
		if !ok {
			return
		}
		history, err := engine.GetCycleHistory(c.Request.Context(), c.Param(accountParam), limit)
		if err != nil {
			respondError(c, "failed to load cycle history", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"cycles": history, "count": len(history)})
	}
}

// RunScheduler runs one scheduler pass immediately.
func RunScheduler(sched *scheduler.Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := sched.RunNow(c.Request.Context())
		if err != nil {
			respondError(c, "scheduler pass failed", err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}
