// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "errors"

// Sentinel errors shared by the autopilot packages. Callers compare with
// errors.Is; producers wrap with fmt.Errorf("...: %w", err).
var (
	// ErrKnowledgeNotFound is returned when an account has no knowledge record.
	ErrKnowledgeNotFound = errors.New("knowledge not found")

	// ErrInvalidConfig is returned when a configuration fails validation.
	ErrInvalidConfig = errors.New("invalid autopilot config")

	// ErrInvalidChange is returned when a ProposedChange tag and payload disagree.
	ErrInvalidChange = errors.New("invalid proposed change")

	// ErrApprovalNotPending is returned when deciding an approval that already
	// reached a terminal state.
	ErrApprovalNotPending = errors.New("approval is not pending")

	// ErrApprovalExpired is returned when deciding an approval past its TTL.
	ErrApprovalExpired = errors.New("approval has expired")

	// ErrAlreadyReverted is returned when reverting a change twice.
	ErrAlreadyReverted = errors.New("change already reverted")

	// ErrEmergencyActive is returned when an operation is refused because the
	// account is under an emergency stop.
	ErrEmergencyActive = errors.New("emergency stop active")
)
