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

func newApprovalsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "approvals",
		Aliases: []string{"approval"},
		Short:   "Review changes waiting for human approval",
	}

	var history bool
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List pending approvals, or decided ones with --history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			account, err := c.requireAccount()
			if err != nil {
				return err
			}
			path, q := accountPath(account, "/approvals"), url.Values(nil)
			if history {
				path = accountPath(account, "/approvals/history")
				q = url.Values{"limit": {strconv.Itoa(limit)}}
			}
			var resp struct {
				Approvals []datatypes.ApprovalRequest `json:"approvals"`
				Count     int                         `json:"count"`
			}
			if err := c.api.get(c.ctx(cmd), path, q, &resp); err != nil {
				return err
			}
			if c.json() {
				return c.printer.JSON(resp)
			}
			rows := make([][]string, 0, len(resp.Approvals))
			for _, a := range resp.Approvals {
				rows = append(rows, []string{
					a.ID,
					string(a.ChangeKind),
					string(a.Priority),
					string(a.Status),
					a.RequestedBy,
					shortTime(a.ExpiresAt),
					truncate(a.Reasoning, 50),
				})
			}
			c.printer.Table([]string{"ID", "KIND", "PRIORITY", "STATUS", "REQUESTED BY", "EXPIRES", "REASONING"}, rows)
			return nil
		},
	}
	list.Flags().BoolVar(&history, "history", false, "list decided approvals")
	list.Flags().IntVar(&limit, "limit", 50, "maximum history entries")

	show := &cobra.Command{
		Use:   "show APPROVAL_ID",
		Short: "Show one approval request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := c.requireAccount()
			if err != nil {
				return err
			}
			var a datatypes.ApprovalRequest
			if err := c.api.get(c.ctx(cmd), accountPath(account, "/approvals/"+url.PathEscape(args[0])), nil, &a); err != nil {
				return err
			}
			if c.json() {
				return c.printer.JSON(a)
			}
			printApproval(c, a)
			return nil
		},
	}

	cmd.AddCommand(list, show, decisionCmd(c, true), decisionCmd(c, false))
	return cmd
}

func decisionCmd(c *cli, approve bool) *cobra.Command {
	use, short := "reject", "Reject a pending change"
	if approve {
		use, short = "approve", "Approve and apply a pending change"
	}
	var notes string
	cmd := &cobra.Command{
		Use:   use + " APPROVAL_ID",
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
			if approve {
				if err := c.confirmOrAbort("Approve "+args[0]+"?", "The change is applied to the account immediately."); err != nil {
					return err
				}
			}
			body := map[string]any{"approve": approve, "reviewer": actor, "notes": notes}
			var a datatypes.ApprovalRequest
			path := accountPath(account, "/approvals/"+url.PathEscape(args[0])+"/decision")
			if err := c.api.post(c.ctx(cmd), path, body, &a); err != nil {
				return err
			}
			if c.json() {
				return c.printer.JSON(a)
			}
			msg := fmt.Sprintf("%s is %s", a.ID, a.Status)
			if a.ChangeRecordID != "" {
				msg += ", change " + a.ChangeRecordID
			}
			c.printer.Success(msg)
			return nil
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "reviewer notes")
	return cmd
}

func printApproval(c *cli, a datatypes.ApprovalRequest) {
	c.printer.Title(fmt.Sprintf("Approval %s (%s)", a.ID, a.Status))
	pairs := [][2]string{
		{"kind", string(a.ChangeKind)},
		{"priority", string(a.Priority)},
		{"requested by", a.RequestedBy},
		{"requested", shortTime(a.RequestedAt)},
		{"expires", shortTime(a.ExpiresAt)},
	}
	if a.ReviewedBy != "" {
		pairs = append(pairs, [2]string{"reviewed by", a.ReviewedBy})
	}
	if len(a.TriggeredRules) > 0 {
		pairs = append(pairs, [2]string{"rules", strings.Join(a.TriggeredRules, ", ")})
	}
	c.printer.KeyValues(pairs)
	c.printer.Box("Reasoning", a.Reasoning)
	if a.ExpectedImpact != "" {
		c.printer.Info("impact: " + a.ExpectedImpact)
	}
	for _, r := range a.Risks {
		c.printer.Info("risk: " + r)
	}
}
