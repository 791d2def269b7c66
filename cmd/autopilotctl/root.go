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
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/autopilot/pkg/ux"
)

const defaultServerURL = "http://localhost:12220"

// cli holds state shared by every command.
type cli struct {
	server  string
	account string
	actor   string
	output  string
	yes     bool
	timeout time.Duration

	stdout io.Writer
	stderr io.Writer

	printer *ux.Printer
	api     *apiClient

	// confirm is swapped in tests.
	confirm func(title, description string, assumeYes bool) (bool, error)
}

// errAborted is returned when the user declines a confirmation.
var errAborted = errors.New("aborted")

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	return buildRootCmd(&cli{stdout: stdout, stderr: stderr, confirm: ux.Confirm})
}

func buildRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "autopilotctl",
		Short:         "Operate the autopilot optimization service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.init()
		},
	}
	root.SetOut(c.stdout)
	root.SetErr(c.stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&c.server, "server", envOr("AUTOPILOT_URL", defaultServerURL), "autopilot server URL")
	flags.StringVarP(&c.account, "account", "a", os.Getenv("AUTOPILOT_ACCOUNT"), "account ID")
	flags.StringVar(&c.actor, "actor", envOr("AUTOPILOT_ACTOR", os.Getenv("USER")), "name recorded in the audit log")
	flags.StringVarP(&c.output, "output", "o", "auto", "output mode: auto, styled, plain or json")
	flags.BoolVarP(&c.yes, "yes", "y", false, "skip confirmation prompts")
	flags.DurationVar(&c.timeout, "timeout", 2*time.Minute, "request timeout")

	root.AddCommand(
		newCycleCmd(c),
		newConfigCmd(c),
		newGlobalCmd(c),
		newStatusCmd(c),
		newSignalsCmd(c),
		newApprovalsCmd(c),
		newEmergencyCmd(c),
		newAuditCmd(c),
		newChangesCmd(c),
	)

	wrapErrors(root, c)
	return root
}

// init resolves the output mode and builds the API client.
func (c *cli) init() error {
	mode, ok, err := ux.ParseMode(c.output)
	if err != nil {
		return err
	}
	if !ok {
		mode = ux.ModePlain
		if f, isFile := c.stdout.(*os.File); isFile {
			mode = ux.DetectMode(f)
		}
	}
	c.printer = ux.NewPrinter(c.stdout, c.stderr, mode)
	c.api = newAPIClient(c.server, c.timeout)
	return nil
}

// printedError marks an error already reported through the printer.
type printedError struct{ err error }

func (e printedError) Error() string { return e.err.Error() }
func (e printedError) Unwrap() error { return e.err }

// wrapErrors prints RunE failures through the printer on every leaf
// command so scripts see one ERROR line and a non-zero exit.
func wrapErrors(cmd *cobra.Command, c *cli) {
	for _, sub := range cmd.Commands() {
		wrapErrors(sub, c)
	}
	if cmd.RunE == nil {
		return
	}
	run := cmd.RunE
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		err := run(cmd, args)
		if err == nil || c.printer == nil {
			return err
		}
		if !errors.Is(err, errAborted) {
			c.printer.Error(err.Error())
		}
		return printedError{err: err}
	}
}

func (c *cli) requireAccount() (string, error) {
	if c.account == "" {
		return "", errors.New("an account is required: pass --account or set AUTOPILOT_ACCOUNT")
	}
	return c.account, nil
}

func (c *cli) requireActor() (string, error) {
	if c.actor == "" {
		return "", errors.New("an actor is required: pass --actor or set AUTOPILOT_ACTOR")
	}
	return c.actor, nil
}

// confirmOrAbort asks before a destructive action. A declined prompt
// returns errAborted.
func (c *cli) confirmOrAbort(title, description string) error {
	ok, err := c.confirm(title, description, c.yes)
	if err != nil {
		return err
	}
	if !ok {
		c.printer.Warning("aborted")
		return errAborted
	}
	return nil
}

// json reports whether raw JSON output was requested.
func (c *cli) json() bool {
	return c.printer.Mode() == ux.ModeJSON
}

func (c *cli) ctx(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// shortTime formats t for tables.
func shortTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
