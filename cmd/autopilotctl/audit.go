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
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/autopilot/services/autopilot/datatypes"
)

func newAuditCmd(c *cli) *cobra.Command {
	var action, category, since string
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the account audit log, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			account, err := c.requireAccount()
			if err != nil {
				return err
			}
			q := url.Values{"limit": {strconv.Itoa(limit)}}
			if action != "" {
				q.Set("action", action)
			}
			if category != "" {
				q.Set("category", category)
			}
			if since != "" {
				ts, err := parseSince(since, time.Now())
				if err != nil {
					return err
				}
				q.Set("since", ts.UTC().Format(time.RFC3339))
			}
			var resp struct {
				Entries []datatypes.AuditEntry `json:"entries"`
				Count   int                    `json:"count"`
			}
			if err := c.api.get(c.ctx(cmd), accountPath(account, "/audit"), q, &resp); err != nil {
				return err
			}
			if c.json() {
				return c.printer.JSON(resp)
			}
			rows := make([][]string, 0, len(resp.Entries))
			for _, e := range resp.Entries {
				who := string(e.TriggeredBy)
				if e.Actor != "" {
					who += ":" + e.Actor
				}
				rows = append(rows, []string{
					strconv.FormatUint(e.Sequence, 10),
					shortTime(e.Timestamp),
					string(e.Action),
					string(e.Outcome),
					who,
					truncate(e.Description, 60),
				})
			}
			c.printer.Table([]string{"SEQ", "TIME", "ACTION", "OUTCOME", "BY", "DESCRIPTION"}, rows)
			return nil
		},
	}
	cmd.Flags().StringVar(&action, "action", "", "filter by action")
	cmd.Flags().StringVar(&category, "category", "", "filter by category")
	cmd.Flags().StringVar(&since, "since", "", "only entries after this RFC 3339 time or duration ago (e.g. 24h)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum entries")
	return cmd
}

// parseSince accepts an RFC 3339 timestamp or a duration before now.
func parseSince(s string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(s); err == nil {
		if d < 0 {
			d = -d
		}
		return now.Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("--since must be an RFC 3339 time or a duration, got %q", s)
	}
	return t, nil
}

func newChangesCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "changes",
		Short: "List applied changes and revert them",
	}

	var includeReverted bool
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List applied changes, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			account, err := c.requireAccount()
			if err != nil {
				return err
			}
			q := url.Values{"limit": {strconv.Itoa(limit)}}
			if includeReverted {
				q.Set("include_reverted", "true")
			}
			var resp struct {
				Changes []datatypes.ChangeRecord `json:"changes"`
				Count   int                      `json:"count"`
			}
			if err := c.api.get(c.ctx(cmd), accountPath(account, "/changes"), q, &resp); err != nil {
				return err
			}
			if c.json() {
				return c.printer.JSON(resp)
			}
			rows := make([][]string, 0, len(resp.Changes))
			for _, ch := range resp.Changes {
				state := "applied"
				if ch.Reverted {
					state = "reverted"
				}
				rows = append(rows, []string{
					ch.ID,
					string(ch.ChangeKind),
					state,
					ch.AppliedBy,
					shortTime(ch.AppliedAt),
					truncate(ch.Description, 50),
				})
			}
			c.printer.Table([]string{"ID", "KIND", "STATE", "APPLIED BY", "APPLIED", "DESCRIPTION"}, rows)
			return nil
		},
	}
	list.Flags().BoolVar(&includeReverted, "include-reverted", false, "include reverted changes")
	list.Flags().IntVar(&limit, "limit", 50, "maximum changes")

	var reason string
	revert := &cobra.Command{
		Use:   "revert CHANGE_ID",
		Short: "Revert an applied change",
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
			if strings.TrimSpace(reason) == "" {
				return fmt.Errorf("--reason is required")
			}
			if err := c.confirmOrAbort("Revert "+args[0]+"?", "The previous value is restored on the account."); err != nil {
				return err
			}
			var rec datatypes.ChangeRecord
			path := accountPath(account, "/changes/"+url.PathEscape(args[0])+"/revert")
			if err := c.api.post(c.ctx(cmd), path, map[string]string{"actor": actor, "reason": reason}, &rec); err != nil {
				return err
			}
			if c.json() {
				return c.printer.JSON(rec)
			}
			c.printer.Success("reverted " + rec.ID)
			return nil
		},
	}
	revert.Flags().StringVar(&reason, "reason", "", "why the change is reverted (required)")

	cmd.AddCommand(list, revert)
	return cmd
}
