// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"fmt"
	"strings"
)

const accountPrefix = "acct/"

// Key suffixes inside an account partition.
const (
	SuffixConfig        = "config"
	SuffixCycles        = "cycles"
	SuffixCycleSeq      = "cycle_seq"
	SuffixAudit         = "audit"
	SuffixActiveSignals = "signals/active"
	SuffixSignalHistory = "signals/history"
	SuffixApprovals     = "approvals"
	SuffixChanges       = "changes"
	SuffixEmergency     = "emergency"
	SuffixKnowledge     = "knowledge"
	SuffixPerformance   = "performance"
)

// GlobalEnabledKey holds the fleet-wide kill switch.
const GlobalEnabledKey = "global/enabled"

// AccountKey returns the key for suffix inside the account partition.
func AccountKey(accountID, suffix string) string {
	return fmt.Sprintf("%s%s/%s", accountPrefix, accountID, suffix)
}

// AccountPrefix returns the prefix shared by every key of an account.
func AccountPrefix(accountID string) string {
	return accountPrefix + accountID + "/"
}

// AccountsWith returns the ids of accounts that have a key with suffix.
func AccountsWith(keys []string, suffix string) []string {
	var ids []string
	tail := "/" + suffix
	for _, k := range keys {
		if !strings.HasPrefix(k, accountPrefix) || !strings.HasSuffix(k, tail) {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(k, accountPrefix), tail)
		if id != "" && !strings.Contains(id, "/") {
			ids = append(ids, id)
		}
	}
	return ids
}

// AllAccountsPrefix is the prefix under which every account partition lives.
func AllAccountsPrefix() string {
	return accountPrefix
}
