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
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/autopilot/services/autopilot/datatypes"
	"github.com/AleutianAI/autopilot/services/autopilot/knowledge"
	"github.com/AleutianAI/autopilot/services/autopilot/performance"
	"github.com/AleutianAI/autopilot/services/autopilot/signals"
)

// SignalActionRequest names who acknowledged or resolved a signal.
type SignalActionRequest struct {
	Actor string `json:"actor" binding:"required"`
}

// ScanSignals runs detection against the account's current knowledge and
// performance and replaces its active signal set.
func ScanSignals(monitor *signals.Monitor, loader knowledge.Loader, perf performance.Source) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		accountID := c.Param(accountParam)
		graph, err := loadGraph(c, loader, accountID)
		if err != nil {
			respondError(c, "failed to load knowledge", err)
			return
		}
		snap, err := perf.Snapshot(ctx, accountID)
		if err != nil {
			respondError(c, "failed to load performance", err)
			return
		}
		detected, err := monitor.Scan(ctx, accountID, graph, snap)
		if err != nil {
			respondError(c, "failed to store signals", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"signals": detected, "count": len(detected)})
	}
}

// ListSignals returns the active set, or the history with ?history=true.
func ListSignals(monitor *signals.Monitor) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		accountID := c.Param(accountParam)

		var list []datatypes.Signal
		var err error
		if c.Query("history") == "true" {
			limit, ok := queryLimit(c, signals.DefaultHistoryLimit)
			if !ok {
				return
			}
			list, err = monitor.GetSignalHistory(ctx, accountID, limit)
		} else {
			list, err = monitor.GetActiveSignals(ctx, accountID)
		}
		if err != nil {
			respondError(c, "failed to load signals", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"signals": list, "count": len(list)})
	}
}

// GetSignalSummary aggregates the active set.
func GetSignalSummary(monitor *signals.Monitor) gin.HandlerFunc {
	return func(c *gin.Context) {
		summary, err := monitor.GetSignalSummary(c.Request.Context(), c.Param(accountParam))
		if err != nil {
			respondError(c, "failed to summarize signals", err)
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

// AcknowledgeSignal marks an active signal acknowledged.
func AcknowledgeSignal(monitor *signals.Monitor) gin.HandlerFunc {
	return signalTransition(monitor.AcknowledgeSignal, "failed to acknowledge signal")
}

// ResolveSignal resolves a signal and drops it from the active set.
func ResolveSignal(monitor *signals.Monitor) gin.HandlerFunc {
	return signalTransition(monitor.ResolveSignal, "failed to resolve signal")
}

type signalTransitionFunc func(ctx context.Context, accountID, signalID, actor string) (*datatypes.Signal, error)

func signalTransition(fn signalTransitionFunc, failure string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SignalActionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		sig, err := fn(c.Request.Context(), c.Param(accountParam), c.Param("signalId"), req.Actor)
		if err != nil {
			respondError(c, failure, err)
			return
		}
		if sig == nil {
			notFound(c, "active signal")
			return
		}
		c.JSON(http.StatusOK, sig)
	}
}
