// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package signals

import (
	"slices"
	"time"

	"github.com/AleutianAI/autopilot/services/autopilot/datatypes"
)

// ShouldTriggerAlert reports whether a signal should produce an outbound
// alert under prefs at time now.
//
// # Description
//
// Three checks must all pass: the severity is at or above MinSeverity (an
// empty floor admits everything), the type is in EnabledSignalTypes (an
// empty list admits every type), and now is outside the quiet-hours window.
// The window is [start, end) in UTC hours and wraps past midnight when start
// is greater than end. Equal start and end disable quiet hours.
func ShouldTriggerAlert(s datatypes.Signal, prefs datatypes.AlertPreferences, now time.Time) bool {
	if prefs.MinSeverity != "" && !s.Severity.AtLeast(prefs.MinSeverity) {
		return false
	}
	if len(prefs.EnabledSignalTypes) > 0 && !slices.Contains(prefs.EnabledSignalTypes, s.Type) {
		return false
	}
	return !inQuietHours(now.UTC().Hour(), prefs.QuietHoursStart, prefs.QuietHoursEnd)
}

func inQuietHours(hour, start, end int) bool {
	switch {
	case start == end:
		return false
	case start < end:
		return hour >= start && hour < end
	default:
		return hour >= start || hour < end
	}
}
