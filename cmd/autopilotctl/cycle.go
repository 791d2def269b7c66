// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/autopilot/services/autopilot/datatypes"
)

func newCycleCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Run optimization cycles and inspect their history",
	}

	var dryRun bool
	var autonomy string
	run := &cobra.Command{
		Use:   "run",
		Short: "Run one optimization cycle for the account now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			account, err := c.requireAccount()
			if err != nil {
				return err
			}
			body := map[string]any{"dry_run": dryRun, "triggered_by": string(datatypes.TriggeredByHuman)}
			if autonomy != "" {
				body["autonomy_level"] = autonomy
			}

			var res datatypes.CycleResult
			err = c.printer.WithSpinner("Running cycle", func() error {
				return c.api.post(c.ctx(cmd), accountPath(account, "/cycles"), body, &res)
			})
			if err != nil {
				return err
			}
			if c.json() {
				return c.printer.JSON(res)
			}
			printCycle(c, res)
			return nil
		},
	}
	run.Flags().BoolVar(&dryRun, "dry-run", false, "compute the cycle without applying or recording changes")
	run.Flags().StringVar(&autonomy, "autonomy", "", "override the autonomy level for this cycle")

	var limit int
	history := &cobra.Command{
		Use:   "history",
		Short: "List recent cycles, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			account, err := c.requireAccount()
			if err != nil {
				return err
			}
			var resp struct {
				Cycles []datatypes.CycleResult `json:"cycles"`
				Count  int                     `json:"count"`
			}
			q := url.Values{"limit": {strconv.Itoa(limit)}}
			if err := c.api.get(c.ctx(cmd), accountPath(account, "/cycles"), q, &resp); err != nil {
				return err
			}
			if c.json() {
				return c.printer.JSON(resp)
			}
			rows := make([][]string, 0, len(resp.Cycles))
			for _, r := range resp.Cycles {
				rows = append(rows, []string{
					strconv.FormatInt(r.CycleNumber, 10),
					shortTime(r.StartedAt),
					string(r.Status),
					strconv.Itoa(r.OptimizationsApplied),
					strconv.Itoa(r.ApprovalsRequested),
					strconv.Itoa(r.SignalsDetected),
					truncate(r.Summary, 60),
				})
			}
			c.printer.Title(fmt.Sprintf("Cycles for %s", account))
			c.printer.Table([]string{"#", "STARTED", "STATUS", "APPLIED", "APPROVALS", "SIGNALS", "SUMMARY"}, rows)
			return nil
		},
	}
	history.Flags().IntVar(&limit, "limit", 20, "maximum cycles to list")

	cmd.AddCommand(run, history)
	return cmd
}

func printCycle(c *cli, r datatypes.CycleResult) {
	title := fmt.Sprintf("Cycle %d: %s", r.CycleNumber, r.Status)
	if r.DryRun {
		title += " (dry run)"
	}
	c.printer.Title(title)
	pairs := [][2]string{
		{"id", r.ID},
		{"autonomy", string(r.AutonomyLevel)},
		{"duration", fmt.Sprintf("%dms", r.DurationMs)},
		{"health", fmt.Sprintf("%.0f", r.HealthScore)},
		{"readiness", fmt.Sprintf("%.0f", r.ReadinessScore)},
		{"hypotheses", fmt.Sprintf("%d generated, %d selected", r.HypothesesGenerated, r.HypothesesSelected)},
		{"experiments", strconv.Itoa(r.ExperimentsCreated)},
		{"optimizations", fmt.Sprintf("%d proposed, %d applied", r.OptimizationsProposed, r.OptimizationsApplied)},
		{"approvals", strconv.Itoa(r.ApprovalsRequested)},
		{"blocked", strconv.Itoa(len(r.BlockedChanges))},
		{"signals", fmt.Sprintf("%d (%d critical)", r.SignalsDetected, r.CriticalSignals)},
	}
	if r.EmergencyTriggered {
		pairs = append(pairs, [2]string{"emergency", "triggered"})
	}
	c.printer.KeyValues(pairs)

	if len(r.ReadinessReasons) > 0 {
		c.printer.WarningBox("Not ready", strings.Join(r.ReadinessReasons, "\n"))
	}
	if r.ErrorMessage != "" {
		c.printer.Error(r.ErrorMessage)
	}
	if r.Summary != "" {
		c.printer.Box("Summary", r.Summary)
	}
	for _, h := range r.Highlights {
		c.printer.Info(h)
	}
	for _, n := range r.NextActions {
		c.printer.Info("next: " + n)
	}
}
