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

// CreateApprovalRequest queues a change for human review.
type CreateApprovalRequest struct {
	Change         datatypes.ProposedChange `json:"change"`
	Reasoning      string                   `json:"reasoning" binding:"required"`
	ExpectedImpact string                   `json:"expected_impact"`
	Risks          []string                 `json:"risks"`
	TriggeredRules []string                 `json:"triggered_rules"`
	RequestedBy    string                   `json:"requested_by" binding:"required"`
}

// DecisionRequest is a reviewer's verdict on a pending approval.
type DecisionRequest struct {
	Approve  *bool  `json:"approve" binding:"required"`
	Reviewer string `json:"reviewer" binding:"required"`
	Notes    string `json:"notes"`
}

// CreateApproval queues a change for review.
func CreateApproval(gov *governance.Governance) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateApprovalRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		approval, err := gov.CreateApprovalRequest(c.Request.Context(), c.Param(accountParam), datatypes.ApprovalInput{
			Change:         req.Change,
			Reasoning:      req.Reasoning,
			ExpectedImpact: req.ExpectedImpact,
			Risks:          req.Risks,
			TriggeredRules: req.TriggeredRules,
			RequestedBy:    req.RequestedBy,
		})
		if err != nil {
			respondError(c, "failed to create approval", err)
			return
		}
		c.JSON(http.StatusCreated, approval)
	}
}

// ListPendingApprovals returns pending approvals. Expired requests are
// swept first, so everything returned can still be decided.
func ListPendingApprovals(gov *governance.Governance) gin.HandlerFunc {
	return func(c *gin.Context) {
		pending, err := gov.GetPendingApprovals(c.Request.Context(), c.Param(accountParam))
		if err != nil {
			respondError(c, "failed to load approvals", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"approvals": pending, "count": len(pending)})
	}
}

// GetApprovalHistory returns every approval for the account, newest first.
func GetApprovalHistory(gov *governance.Governance) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, ok := queryLimit(c, 50)
		if !ok {
			return
		}
		history, err := gov.GetApprovalHistory(c.Request.Context(), c.Param(accountParam), limit)
		if err != nil {
			respondError(c, "failed to load approval history", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"approvals": history, "count": len(history)})
	}
}

// GetApproval returns one approval by id.
func GetApproval(gov *governance.Governance) gin.HandlerFunc {
	return func(c *gin.Context) {
		approval, err := gov.GetApproval(c.Request.Context(), c.Param(accountParam), c.Param("approvalId"))
		if err != nil {
			respondError(c, "failed to load approval", err)
			return
		}
		if approval == nil {
			notFound(c, "approval")
			return
		}
		c.JSON(http.StatusOK, approval)
	}
}

// DecideApproval approves or rejects a pending approval. Approving applies
// the change through governance.
func DecideApproval(gov *governance.Governance) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req DecisionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		approval, err := gov.ProcessApproval(c.Request.Context(), c.Param(accountParam), datatypes.ApprovalDecision{
			ApprovalID: c.Param("approvalId"),
			Approve:    *req.Approve,
			Reviewer:   req.Reviewer,
			Notes:      req.Notes,
		})
		if err != nil {
			respondError(c, "failed to process approval", err)
			return
		}
		if approval == nil {
			notFound(c, "approval")
			return
		}
		c.JSON(http.StatusOK, approval)
	}
}
