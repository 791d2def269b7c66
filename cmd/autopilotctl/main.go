// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command autopilotctl operates a running autopilot server.
//
// It covers the operator surface of the HTTP API: running cycles,
// account configuration, the global kill switch, signals, approvals,
// emergency stops, the audit log and change reverts.
//
// # Environment Variables
//
//   - AUTOPILOT_URL: Server base URL (default: http://localhost:12220)
//   - AUTOPILOT_ACCOUNT: Default account for account-scoped commands
//   - AUTOPILOT_ACTOR: Name recorded in the audit log (default: $USER)
//
// # Usage
//
//	autopilotctl global status
//	autopilotctl -a acct_123 cycle run --dry-run
//	autopilotctl -a acct_123 emergency stop --reason "CPA spike"
package main

import (
	"errors"
	"fmt"
	"os"
)

func main() {
	err := newRootCmd(os.Stdout, os.Stderr).Execute()
	if err == nil {
		return
	}
	var printed printedError
	if !errors.As(err, &printed) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(1)
}
