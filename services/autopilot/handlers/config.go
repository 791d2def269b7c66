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
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/autopilot/services/autopilot/cycle"
	"github.com/AleutianAI/autopilot/services/autopilot/datatypes"
	"github.com/AleutianAI/autopilot/services/autopilot/governance"
	"github.com/AleutianAI/autopilot/services/autopilot/knowledge"
)

// GlobalSwitchRequest flips the fleet-wide kill switch.
type GlobalSwitchRequest struct {
	Enabled *bool  `json:"enabled" binding:"required"`
	Actor   string `json:"actor" binding:"required"`
}

// ConfigUpdateRequest patches an account configuration.
type ConfigUpdateRequest struct {
	Actor string                `json:"actor" binding:"required"`
	Patch datatypes.ConfigPatch `json:"patch"`
}

// ConfigResetRequest restores the default configuration.
type ConfigResetRequest struct {
	Actor string `json:"actor" binding:"required"`
}

// GetGlobalSwitch reports whether autopilot is enabled fleet-wide.
func GetGlobalSwitch(gov *governance.Governance) gin.HandlerFunc {
	return func(c *gin.Context) {
		enabled, err := gov.IsGlobalEnabled(c.Request.Context())
		if err != nil {
			respondError(c, "failed to read global switch", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"enabled": enabled})
	}
}

// SetGlobalSwitch turns autopilot on or off for every account.
func SetGlobalSwitch(gov *governance.Governance) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req GlobalSwitchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		if err := gov.SetGlobalEnabled(c.Request.Context(), *req.Enabled, req.Actor); err != nil {
			respondError(c, "failed to write global switch", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"enabled": *req.Enabled})
	}
}

// GetConfig returns the account configuration, creating the defaults on
// first access.
func GetConfig(gov *governance.Governance) gin.HandlerFunc {
	return func(c *gin.Context) {
		cfg, err := gov.GetAutopilotConfig(c.Request.Context(), c.Param(accountParam))
		if err != nil {
			respondError(c, "failed to load config", err)
			return
		}
		c.JSON(http.StatusOK, cfg)
	}
}

// UpdateConfig applies a partial update. An autonomy level change may be
// queued for approval instead of applied; the response carries the
// outcome under "autonomy".
func UpdateConfig(gov *governance.Governance) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ConfigUpdateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		res, err := gov.SetAutopilotConfig(c.Request.Context(), c.Param(accountParam), req.Patch, req.Actor)
		if err != nil {
			respondError(c, "failed to update config", err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// ResetConfig restores the account to the default configuration.
func ResetConfig(gov *governance.Governance) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ConfigResetRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		cfg, err := gov.CreateDefaultConfig(c.Request.Context(), c.Param(accountParam), req.Actor)
		if err != nil {
			respondError(c, "failed to reset config", err)
			return
		}
		c.JSON(http.StatusOK, cfg)
	}
}

// GetReadiness reports whether a cycle would run now and why not.
func GetReadiness(engine *cycle.Engine, loader knowledge.Loader) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		accountID := c.Param(accountParam)
		graph, err := loadGraph(c, loader, accountID)
		if err != nil {
			respondError(c, "failed to load knowledge", err)
			return
		}
		readiness, err := engine.CheckReadiness(ctx, accountID, graph)
		if err != nil {
			respondError(c, "failed to check readiness", err)
			return
		}
		c.JSON(http.StatusOK, readiness)
	}
}

// GetGovernanceSummary returns the account's governance state in one
// response.
func GetGovernanceSummary(gov *governance.Governance) gin.HandlerFunc {
	return func(c *gin.Context) {
		summary, err := gov.GetGovernanceSummary(c.Request.Context(), c.Param(accountParam), nil)
		if err != nil {
			respondError(c, "failed to build governance summary", err)
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

// loadGraph loads the account's knowledge graph. A missing graph is not an
// error here; callers score it as empty.
func loadGraph(c *gin.Context, loader knowledge.Loader, accountID string) (*datatypes.KnowledgeGraph, error) {
	graph, err := loader.Load(c.Request.Context(), accountID)
	if errors.Is(err, datatypes.ErrKnowledgeNotFound) {
		return nil, nil
	}
	return graph, err
}
