// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the autopilot HTTP API.
//
// Every handler is a constructor that closes over the components it needs
// and returns a gin.HandlerFunc. Errors are rendered as {"error": "..."}
// with the status chosen by StatusFor.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/autopilot/services/autopilot/datatypes"
	"github.com/AleutianAI/autopilot/services/autopilot/governance"
)

// accountParam is the path parameter carrying the account id.
const accountParam = "accountId"

// maxListLimit caps the limit query parameter on list endpoints.
const maxListLimit = 1000

// StatusFor maps a domain error to an HTTP status.
//
// # Description
//
// Validation failures map to 400, missing knowledge to 404, state
// conflicts (approval no longer pending, already reverted, emergency stop
// active) to 409 and everything else to 500.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, datatypes.ErrInvalidConfig),
		errors.Is(err, datatypes.ErrInvalidChange):
		return http.StatusBadRequest
	case errors.Is(err, datatypes.ErrKnowledgeNotFound):
		return http.StatusNotFound
	case errors.Is(err, datatypes.ErrApprovalNotPending),
		errors.Is(err, datatypes.ErrApprovalExpired),
		errors.Is(err, datatypes.ErrAlreadyReverted),
		errors.Is(err, datatypes.ErrEmergencyActive):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err with its mapped status. Internal errors are
// logged and their detail is not echoed to the client.
func respondError(c *gin.Context, msg string, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error(msg,
			slog.String("path", c.FullPath()),
			slog.String("account_id", c.Param(accountParam)),
			slog.String("error", err.Error()))
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// badRequest rejects a malformed body or query.
func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
}

func notFound(c *gin.Context, what string) {
	c.JSON(http.StatusNotFound, gin.H{"error": what + " not found"})
}

// queryLimit parses ?limit=, falling back to def. Values are clamped to
// [1, maxListLimit].
func queryLimit(c *gin.Context, def int) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return 0, false
	}
	return min(n, maxListLimit), true
}

// ValidateAccountID rejects requests whose account path parameter is blank
// or names a reserved system partition. Install it on the account group.
func ValidateAccountID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param(accountParam)
		switch {
		case strings.TrimSpace(id) == "":
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "account id is required"})
			return
		case governance.IsReservedAccountID(id):
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": "account id " + strconv.Quote(id) + " is reserved",
			})
			return
		}
		c.Next()
	}
}

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
