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
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/autopilot/services/autopilot/datatypes"
)

// emergencyResponse is the body of every emergency endpoint.
type emergencyResponse struct {
	Active bool                      `json:"active"`
	State  *datatypes.EmergencyState `json:"state,omitempty"`
}

func newEmergencyCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "emergency",
		Short: "Trigger, inspect and resolve emergency stops",
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the emergency state of the account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			account, err := c.requireAccount()
			if err != nil {
				return err
			}
			var resp emergencyResponse
			if err := c.api.get(c.ctx(cmd), accountPath(account, "/emergency"), nil, &resp); err != nil {
				return err
			}
			if c.json() {
				return c.printer.JSON(resp)
			}
			printEmergency(c, resp)
			return nil
		},
	}

	var reason string
	var channels []string
	var autoResume float64
	stop := &cobra.Command{
		Use:   "stop",
		Short: "Halt all autonomous changes for the account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			account, err := c.requireAccount()
			if err != nil {
				return err
			}
			actor, err := c.requireActor()
			if err != nil {
				return err
			}
			if strings.TrimSpace(reason) == "" {
				return fmt.Errorf("--reason is required")
			}
			if err := c.confirmOrAbort("Emergency stop "+account+"?",
				"Cycles and approvals are blocked until the stop is resolved."); err != nil {
				return err
			}
			body := map[string]any{
				"actor":                actor,
				"reason":               reason,
				"affected_channels":    channels,
				"auto_resume_in_hours": autoResume,
			}
			var resp emergencyResponse
			if err := c.api.post(c.ctx(cmd), accountPath(account, "/emergency/stop"), body, &resp); err != nil {
				return err
			}
			if c.json() {
				return c.printer.JSON(resp)
			}
			printEmergency(c, resp)
			return nil
		},
	}
	stop.Flags().StringVar(&reason, "reason", "", "why the stop is needed (required)")
	stop.Flags().StringSliceVar(&channels, "channels", nil, "affected channels")
	stop.Flags().Float64Var(&autoResume, "auto-resume-hours", 0, "resume automatically after this many hours (0 = never)")

	var notes string
	resolve := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve the active emergency stop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			account, err := c.requireAccount()
			if err != nil {
				return err
			}
			actor, err := c.requireActor()
			if err != nil {
				return err
			}
			if err := c.confirmOrAbort("Resolve the emergency stop on "+account+"?",
				"Autonomous changes resume on the next cycle."); err != nil {
				return err
			}
			var resp emergencyResponse
			body := map[string]string{"actor": actor, "notes": notes}
			if err := c.api.post(c.ctx(cmd), accountPath(account, "/emergency/resolve"), body, &resp); err != nil {
				if IsNotFound(err) {
					return fmt.Errorf("no active emergency stop on %s", account)
				}
				return err
			}
			if c.json() {
				return c.printer.JSON(resp)
			}
			c.printer.Success("emergency stop resolved")
			return nil
		},
	}
	resolve.Flags().StringVar(&notes, "notes", "", "resolution notes")

	cmd.AddCommand(status, stop, resolve)
	return cmd
}

func printEmergency(c *cli, resp emergencyResponse) {
	if !resp.Active || resp.State == nil {
		c.printer.Success("no active emergency stop")
		return
	}
	s := resp.State
	lines := []string{
		"reason: " + s.Reason,
		"by: " + s.TriggeredBy,
		"at: " + shortTime(s.TriggeredAt),
	}
	if len(s.AffectedChannels) > 0 {
		lines = append(lines, "channels: "+strings.Join(s.AffectedChannels, ", "))
	}
	if s.AutoResumeAt != nil {
		lines = append(lines, "auto resume: "+shortTime(*s.AutoResumeAt))
	}
	c.printer.WarningBox("Emergency stop active", strings.Join(lines, "\n"))
}
