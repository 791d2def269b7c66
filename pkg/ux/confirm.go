// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"errors"
	"os"

	"github.com/charmbracelet/huh"
)

// ErrNotInteractive is returned by Confirm when no terminal is available
// to ask on.
var ErrNotInteractive = errors.New("confirmation required: rerun with --yes or from a terminal")

// Confirm asks a yes/no question on the terminal.
//
// # Description
//
// assumeYes short-circuits the prompt, for --yes flags. Without a terminal
// on stdin the question cannot be asked, so ErrNotInteractive is returned
// rather than guessing.
//
// # Outputs
//
//   - bool: True if the user confirmed.
//   - error: ErrNotInteractive, or a prompt failure such as huh.ErrUserAborted.
func Confirm(title, description string, assumeYes bool) (bool, error) {
	if assumeYes {
		return true, nil
	}
	if !IsTerminal(os.Stdin) {
		return false, ErrNotInteractive
	}

	var ok bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(title).
				Description(description).
				Affirmative("Yes").
				Negative("No").
				Value(&ok),
		),
	)
	if err := form.Run(); err != nil {
		return false, err
	}
	return ok, nil
}
