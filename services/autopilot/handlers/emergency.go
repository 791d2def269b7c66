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

// EmergencyStopRequest halts autopilot for one account.
type EmergencyStopRequest struct {
	Actor             string   `json:"actor" binding:"required"`
	Reason            string   `json:"reason" binding:"required"`
	AffectedChannels  []string `json:"affected_channels"`
	AutoResumeInHours float64  `json:"auto_resume_in_hours" binding:"gte=0,lte=720"`
}

// EmergencyResolveRequest lifts an emergency stop.
type EmergencyResolveRequest struct {
	Actor string `json:"actor" binding:"required"`
	Notes string `json:"notes"`
}

// GetEmergency returns the account's emergency state. An account that has
// never been stopped reports {"active": false}.
func GetEmergency(gov *governance.Governance) gin.HandlerFunc {
	return func(c *gin.Context) {
		state, err := gov.GetEmergencyState(c.Request.Context(), c.Param(accountParam))
		if err != nil {
			respondError(c, "failed to read emergency state", err)
			return
		}
		if state == nil {
			c.JSON(http.StatusOK, gin.H{"active": false})
			return
		}
		c.JSON(http.StatusOK, gin.H{"active": state.Active(), "state": state})
	}
}

// TriggerEmergencyStop stops the account immediately.
func TriggerEmergencyStop(gov *governance.Governance) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req EmergencyStopRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		state, err := gov.TriggerEmergencyStop(c.Request.Context(), c.Param(accountParam), req.Actor, req.Reason,
			datatypes.EmergencyOptions{
				AffectedChannels:  req.AffectedChannels,
				AutoResumeInHours: req.AutoResumeInHours,
				TriggeredBy:       datatypes.TriggeredByHuman,
			})
		if err != nil {
			respondError(c, "failed to trigger emergency stop", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"active": true, "state": state})
	}
}

// ResolveEmergencyStop lifts the account's emergency stop.
func ResolveEmergencyStop(gov *governance.Governance) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req EmergencyResolveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		state, err := gov.ResolveEmergencyStop(c.Request.Context(), c.Param(accountParam), req.Actor, req.Notes)
		if err != nil {
			respondError(c, "failed to resolve emergency stop", err)
			return
		}
		if state == nil {
			notFound(c, "active emergency stop")
			return
		}
		c.JSON(http.StatusOK, gin.H{"active": false, "state": state})
	}
}
