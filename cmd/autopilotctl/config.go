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
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/autopilot/services/autopilot/datatypes"
	"github.com/AleutianAI/autopilot/services/autopilot/governance"
)

// patchSetters maps config set keys onto ConfigPatch fields.
var patchSetters = map[string]func(*datatypes.ConfigPatch, string) error{
	"enabled": func(p *datatypes.ConfigPatch, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		p.Enabled = &b
		return nil
	},
	"autonomy_level": func(p *datatypes.ConfigPatch, v string) error {
		l := datatypes.AutonomyLevel(v)
		p.AutonomyLevel = &l
		return nil
	},
	"cycle_frequency": func(p *datatypes.ConfigPatch, v string) error {
		f := datatypes.CycleFrequency(v)
		p.CycleFrequency = &f
		return nil
	},
	"risk_tolerance": func(p *datatypes.ConfigPatch, v string) error {
		r := datatypes.RiskTolerance(v)
		p.RiskTolerance = &r
		return nil
	},
	"budget_flexibility":        floatSetter(func(p *datatypes.ConfigPatch, f *float64) { p.BudgetFlexibility = f }),
	"experiment_budget_percent": floatSetter(func(p *datatypes.ConfigPatch, f *float64) { p.ExperimentBudgetPercent = f }),
	"emergency_stop_threshold":  floatSetter(func(p *datatypes.ConfigPatch, f *float64) { p.EmergencyStopThreshold = f }),
	"allowed_domains": func(p *datatypes.ConfigPatch, v string) error {
		for _, d := range splitList(v) {
			p.AllowedDomains = append(p.AllowedDomains, datatypes.KnowledgeDomain(d))
		}
		return nil
	},
	"require_approval_for": func(p *datatypes.ConfigPatch, v string) error {
		for _, k := range splitList(v) {
			p.RequireApprovalFor = append(p.RequireApprovalFor, datatypes.ChangeKind(k))
		}
		return nil
	},
}

func floatSetter(set func(*datatypes.ConfigPatch, *float64)) func(*datatypes.ConfigPatch, string) error {
	return func(p *datatypes.ConfigPatch, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		set(p, &f)
		return nil
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// parsePatch builds a ConfigPatch from key=value arguments.
func parsePatch(args []string) (datatypes.ConfigPatch, error) {
	var patch datatypes.ConfigPatch
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return patch, fmt.Errorf("expected key=value, got %q", arg)
		}
		key = strings.ReplaceAll(strings.TrimSpace(key), "-", "_")
		set, known := patchSetters[key]
		if !known {
			return patch, fmt.Errorf("unknown config key %q (known: %s)", key, strings.Join(patchKeys(), ", "))
		}
		if err := set(&patch, strings.TrimSpace(value)); err != nil {
			return patch, fmt.Errorf("invalid value for %s: %w", key, err)
		}
	}
	return patch, nil
}

func patchKeys() []string {
	keys := make([]string, 0, len(patchSetters))
	for k := range patchSetters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func newConfigCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show and change account autopilot configuration",
	}

	get := &cobra.Command{
		Use:   "get",
		Short: "Show the account configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			account, err := c.requireAccount()
			if err != nil {
				return err
			}
			var cfg datatypes.AccountConfig
			if err := c.api.get(c.ctx(cmd), accountPath(account, "/config"), nil, &cfg); err != nil {
				return err
			}
			if c.json() {
				return c.printer.JSON(cfg)
			}
			printAccountConfig(c, cfg)
			return nil
		},
	}

	set := &cobra.Command{
		Use:   "set key=value...",
		Short: "Update configuration fields",
		Long: "Update configuration fields. Lists are comma separated.\n\nKeys: " +
			strings.Join(patchKeys(), ", "),
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := c.requireAccount()
			if err != nil {
				return err
			}
			actor, err := c.requireActor()
			if err != nil {
				return err
			}
			patch, err := parsePatch(args)
			if err != nil {
				return err
			}
			var res governance.ConfigUpdate
			body := map[string]any{"actor": actor, "patch": patch}
			if err := c.api.do(c.ctx(cmd), http.MethodPatch, accountPath(account, "/config"), nil, body, &res); err != nil {
				return err
			}
			if c.json() {
				return c.printer.JSON(res)
			}
			if len(res.Changed) == 0 {
				c.printer.Info("no changes")
			} else {
				c.printer.Success("updated " + strings.Join(res.Changed, ", "))
			}
			if a := res.Autonomy; a != nil && !a.Applied && a.Approval != nil {
				c.printer.Warning(fmt.Sprintf("autonomy change %s -> %s awaits approval %s", a.From, a.To, a.Approval.ID))
			}
			return nil
		},
	}

	reset := &cobra.Command{
		Use:   "reset",
		Short: "Replace the account configuration with defaults",
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
			if err := c.confirmOrAbort("Reset configuration for "+account+"?",
				"The account is disabled and every setting returns to its default."); err != nil {
				return err
			}
			var cfg datatypes.AccountConfig
			if err := c.api.post(c.ctx(cmd), accountPath(account, "/config/reset"), map[string]string{"actor": actor}, &cfg); err != nil {
				return err
			}
			if c.json() {
				return c.printer.JSON(cfg)
			}
			c.printer.Success("configuration reset")
			return nil
		},
	}

	cmd.AddCommand(get, set, reset)
	return cmd
}

func printAccountConfig(c *cli, cfg datatypes.AccountConfig) {
	c.printer.Title("Autopilot config for " + cfg.AccountID)
	last := "never"
	if cfg.LastCycleAt != nil {
		last = shortTime(*cfg.LastCycleAt)
	}
	domains := make([]string, len(cfg.AllowedDomains))
	for i, d := range cfg.AllowedDomains {
		domains[i] = string(d)
	}
	kinds := make([]string, len(cfg.RequireApprovalFor))
	for i, k := range cfg.RequireApprovalFor {
		kinds[i] = string(k)
	}
	c.printer.KeyValues([][2]string{
		{"enabled", strconv.FormatBool(cfg.Enabled)},
		{"autonomy_level", string(cfg.AutonomyLevel)},
		{"cycle_frequency", string(cfg.CycleFrequency)},
		{"risk_tolerance", string(cfg.RiskTolerance)},
		{"budget_flexibility", strconv.FormatFloat(cfg.BudgetFlexibility, 'f', -1, 64)},
		{"experiment_budget_percent", strconv.FormatFloat(cfg.ExperimentBudgetPercent, 'f', -1, 64)},
		{"emergency_stop_threshold", strconv.FormatFloat(cfg.EmergencyStopThreshold, 'f', -1, 64)},
		{"allowed_domains", strings.Join(domains, ",")},
		{"require_approval_for", strings.Join(kinds, ",")},
		{"rule_overrides", strconv.Itoa(len(cfg.RuleOverrides))},
		{"last_cycle", last},
	})
}

func newGlobalCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "global",
		Short: "Inspect or flip the global autopilot switch",
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show whether autopilot is enabled globally",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp struct {
				Enabled bool `json:"enabled"`
			}
			if err := c.api.get(c.ctx(cmd), "/v1/global", nil, &resp); err != nil {
				return err
			}
			if c.json() {
				return c.printer.JSON(resp)
			}
			if resp.Enabled {
				c.printer.Success("autopilot is enabled globally")
			} else {
				c.printer.Warning("autopilot is disabled globally")
			}
			return nil
		},
	}

	setSwitch := func(enabled bool) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			actor, err := c.requireActor()
			if err != nil {
				return err
			}
			if enabled {
				if err := c.confirmOrAbort("Enable autopilot for every account?",
					"Scheduled cycles start running for enabled accounts."); err != nil {
					return err
				}
			}
			var resp struct {
				Enabled bool `json:"enabled"`
			}
			body := map[string]any{"enabled": enabled, "actor": actor}
			if err := c.api.do(c.ctx(cmd), http.MethodPut, "/v1/global", nil, body, &resp); err != nil {
				return err
			}
			if c.json() {
				return c.printer.JSON(resp)
			}
			if resp.Enabled {
				c.printer.Success("autopilot enabled globally")
			} else {
				c.printer.Success("autopilot disabled globally")
			}
			return nil
		}
	}

	on := &cobra.Command{Use: "on", Short: "Enable autopilot globally", Args: cobra.NoArgs, RunE: setSwitch(true)}
	off := &cobra.Command{Use: "off", Short: "Disable autopilot globally (kill switch)", Args: cobra.NoArgs, RunE: setSwitch(false)}

	cmd.AddCommand(status, on, off)
	return cmd
}

// newStatusCmd shows the governance summary and readiness of an account.
func newStatusCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show governance state and readiness for the account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			account, err := c.requireAccount()
			if err != nil {
				return err
			}
			ctx := c.ctx(cmd)
			var summary datatypes.GovernanceSummary
			if err := c.api.get(ctx, accountPath(account, "/governance"), nil, &summary); err != nil {
				return err
			}
			var readiness datatypes.Readiness
			if err := c.api.get(ctx, accountPath(account, "/readiness"), nil, &readiness); err != nil {
				return err
			}
			if c.json() {
				return c.printer.JSON(map[string]any{"governance": summary, "readiness": readiness})
			}

			c.printer.Title("Autopilot status for " + account)
			c.printer.KeyValues([][2]string{
				{"global", strconv.FormatBool(summary.GlobalEnabled)},
				{"account", strconv.FormatBool(summary.AccountEnabled)},
				{"autonomy", string(summary.AutonomyLevel)},
				{"emergency", strconv.FormatBool(summary.EmergencyActive)},
				{"pending approvals", fmt.Sprintf("%d (%d urgent)", summary.PendingApprovals, summary.UrgentApprovals)},
				{"changes", fmt.Sprintf("%d applied, %d reverted", summary.ChangesApplied, summary.ChangesReverted)},
				{"audit entries", strconv.Itoa(summary.AuditEntries)},
				{"ready", fmt.Sprintf("%t (score %.0f)", readiness.Ready, readiness.Score)},
			})
			if summary.EmergencyActive && summary.Emergency != nil {
				c.printer.WarningBox("Emergency stop", summary.Emergency.Reason)
			}
			if len(readiness.Reasons) > 0 {
				c.printer.WarningBox("Not ready", strings.Join(readiness.Reasons, "\n"))
			}
			return nil
		},
	}
}
