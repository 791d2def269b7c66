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
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/autopilot/services/autopilot/datatypes"
	"github.com/AleutianAI/autopilot/services/autopilot/knowledge"
	"github.com/AleutianAI/autopilot/services/autopilot/performance"
)

// SnapshotSaver stores a complete performance snapshot.
// *performance.Repository satisfies it.
type SnapshotSaver interface {
	Save(ctx context.Context, snap *datatypes.PerformanceSnapshot) error
}

// PointRecorder stores one per-channel performance row.
// *performance.InfluxSource satisfies it.
type PointRecorder interface {
	Record(ctx context.Context, accountID string, ts time.Time, c datatypes.ChannelPerformance, m datatypes.Metrics) error
}

// PerformancePointRequest is one channel row for a time-series backend.
type PerformancePointRequest struct {
	Timestamp time.Time                    `json:"timestamp"`
	Channel   datatypes.ChannelPerformance `json:"channel"`
	Metrics   datatypes.Metrics            `json:"metrics"`
}

// GetKnowledge returns the account's knowledge graph with its health score.
func GetKnowledge(loader knowledge.Loader) gin.HandlerFunc {
	return func(c *gin.Context) {
		graph, err := loader.Load(c.Request.Context(), c.Param(accountParam))
		if err != nil {
			respondError(c, "failed to load knowledge", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"knowledge": graph, "health_score": knowledge.HealthScore(graph)})
	}
}

// PutKnowledge replaces the account's knowledge graph. The account id in
// the path wins over the body.
func PutKnowledge(saver knowledge.Saver) gin.HandlerFunc {
	return func(c *gin.Context) {
		var graph datatypes.KnowledgeGraph
		if err := c.ShouldBindJSON(&graph); err != nil {
			badRequest(c, err)
			return
		}
		graph.AccountID = c.Param(accountParam)
		if err := saver.Save(c.Request.Context(), &graph); err != nil {
			respondError(c, "failed to save knowledge", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"account_id":   graph.AccountID,
			"health_score": knowledge.HealthScore(&graph),
		})
	}
}

// GetPerformance returns the account's latest performance snapshot.
func GetPerformance(source performance.Source) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap, err := source.Snapshot(c.Request.Context(), c.Param(accountParam))
		if err != nil {
			respondError(c, "failed to load performance", err)
			return
		}
		if snap == nil {
			notFound(c, "performance snapshot")
			return
		}
		c.JSON(http.StatusOK, snap)
	}
}

// PutPerformance stores a complete snapshot.
func PutPerformance(saver SnapshotSaver) gin.HandlerFunc {
	return func(c *gin.Context) {
		var snap datatypes.PerformanceSnapshot
		if err := c.ShouldBindJSON(&snap); err != nil {
			badRequest(c, err)
			return
		}
		if snap.PeriodEnd.Before(snap.PeriodStart) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "period_end is before period_start"})
			return
		}
		snap.AccountID = c.Param(accountParam)
		if err := saver.Save(c.Request.Context(), &snap); err != nil {
			respondError(c, "failed to save performance", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"account_id": snap.AccountID, "channels": len(snap.Channels)})
	}
}

// RecordPerformance writes an array of channel rows to a time-series
// backend. Rows without a timestamp are stamped with the receive time.
func RecordPerformance(rec PointRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		var points []PerformancePointRequest
		if err := c.ShouldBindJSON(&points); err != nil {
			badRequest(c, err)
			return
		}
		ctx := c.Request.Context()
		accountID := c.Param(accountParam)
		now := time.Now().UTC()
		for i, p := range points {
			if p.Channel.Channel == "" {
				c.JSON(http.StatusBadRequest, gin.H{"error": "channel name is required", "index": i})
				return
			}
			ts := p.Timestamp
			if ts.IsZero() {
				ts = now
			}
			if err := rec.Record(ctx, accountID, ts, p.Channel, p.Metrics); err != nil {
				respondError(c, "failed to record performance", err)
				return
			}
		}
		c.JSON(http.StatusAccepted, gin.H{"account_id": accountID, "recorded": len(points)})
	}
}
