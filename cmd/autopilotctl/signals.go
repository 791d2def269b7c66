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

	"github.com/spf13/cobra"

	"github.com/AleutianAI/autopilot/services/autopilot/datatypes"
)

func newSignalsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signals",
		Short: "Inspect and triage performance signals",
	}

	var history bool
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List active signals, or the history with --history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			account, err := c.requireAccount()
			if err != nil {
				return err
			}
			q := url.Values{}
			if history {
				q.Set("history", "true")
				q.Set("limit", strconv.Itoa(limit))
			}
			var resp struct {
				Signals []datatypes.Signal `json:"signals"`
				Count   int                `json:"count"`
			}
			if err := c.api.get(c.ctx(cmd), accountPath(account, "/signals"), q, &resp); err != nil {
				return err
			}
			if c.json() {
				return c.printer.JSON(resp)
			}
			printSignals(c, resp.Signals)
			return nil
		},
	}
	list.Flags().BoolVar(&history, "history", false, "list the signal history instead of the active set")
	list.Flags().IntVar(&limit, "limit", 50, "maximum history entries")

	scan := &cobra.Command{
		Use:   "scan",
		Short: "Scan performance and knowledge for new signals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			account, err := c.requireAccount()
			if err != nil {
				return err
			}
			var resp struct {
				Signals []datatypes.Signal `json:"signals"`
				Count   int                `json:"count"`
			}
			if err := c.api.post(c.ctx(cmd), accountPath(account, "/signals/scan"), nil, &resp); err != nil {
				return err
			}
			if c.json() {
				return c.printer.JSON(resp)
			}
			c.printer.Success(fmt.Sprintf("%d signals detected", resp.Count))
			printSignals(c, resp.Signals)
			return nil
		},
	}

	cmd.AddCommand(list, scan,
		signalActionCmd(c, "ack", "acknowledge", "Acknowledge an active signal", "/ack"),
		signalActionCmd(c, "resolve", "resolve", "Resolve an active signal", "/resolve"),
	)
	return cmd
}

func signalActionCmd(c *cli, use, verb, short, suffix string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " SIGNAL_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := c.requireAccount()
			if err != nil {
				return err
			}
			actor, err := c.requireActor()
			if err != nil {
				return err
			}
			var sig datatypes.Signal
			path := accountPath(account, "/signals/"+url.PathEscape(args[0])+suffix)
			if err := c.api.post(c.ctx(cmd), path, map[string]string{"actor": actor}, &sig); err != nil {
				if IsNotFound(err) {
					return fmt.Errorf("no active signal %s", args[0])
				}
				return err
			}
			if c.json() {
				return c.printer.JSON(sig)
			}
			c.printer.Success(fmt.Sprintf("%sd %s (%s)", verb, sig.ID, sig.Status))
			return nil
		},
	}
}

func printSignals(c *cli, list []datatypes.Signal) {
	rows := make([][]string, 0, len(list))
	for _, s := range list {
		rows = append(rows, []string{
			s.ID,
			string(s.Severity),
			string(s.Type),
			s.Channel,
			fmt.Sprintf("%+.1f%%", s.ChangePercent),
			string(s.Status),
			shortTime(s.DetectedAt),
			truncate(s.Message, 50),
		})
	}
	c.printer.Table([]string{"ID", "SEVERITY", "TYPE", "CHANNEL", "CHANGE", "STATUS", "DETECTED", "MESSAGE"}, rows)
}
