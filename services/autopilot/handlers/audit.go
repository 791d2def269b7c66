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
)

// RevertRequest undoes an applied change.
type RevertRequest struct {
	Actor  string `json:"actor" binding:"required"`
	Reason string `json:"reason" binding:"required"`
}

// changeQuery filters the change history.
type changeQuery struct {
	IncludeReverted bool `form:"include_reverted"`
	Limit           int  `form:"limit" binding:"gte=0,lte=1000"`
}

// GetAuditLog returns audit entries, newest first. Supports ?action=,
// ?category=, ?since= (RFC 3339) and ?limit=.
func GetAuditLog(gov *governance.Governance) gin.HandlerFunc {
	return func(c *gin.Context) {
		var filter datatypes.AuditFilter
		if err := c.ShouldBindQuery(&filter); err != nil {
			badRequest(c, err)
			return
		}
		if filter.Limit < 0 || filter.Limit > maxListLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be within 0-1000"})
			return
		}
		entries, err := gov.GetAuditLog(c.Request.Context(), c.Param(accountParam), filter)
		if err != nil {
			respondError(c, "failed to load audit log", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
	}
}

// ListChanges returns the change ledger, newest first. Reverted changes are
// hidden unless ?include_reverted=true.
func ListChanges(gov *governance.Governance) gin.HandlerFunc {
	return func(c *gin.Context) {
		var q changeQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			badRequest(c, err)
			return
		}
		changes, err := gov.GetChangeHistory(c.Request.Context(), c.Param(accountParam), q.IncludeReverted, q.Limit)
		if err != nil {
			respondError(c, "failed to load changes", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"changes": changes, "count": len(changes)})
	}
}

// RevertChange undoes a previously applied change.
func RevertChange(gov *governance.Governance) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RevertRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		record, err := gov.RevertChange(c.Request.Context(), c.Param(accountParam), c.Param("changeId"), req.Actor, req.Reason)
		if err != nil {
			respondError(c, "failed to revert change", err)
			return
		}
		if record == nil {
			notFound(c, "change")
			return
		}
		c.JSON(http.StatusOK, record)
	}
}
