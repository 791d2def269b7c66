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
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Mode selects how a Printer renders output.
type Mode string

const (
	// ModeStyled renders colors, icons and boxes for a terminal.
	ModeStyled Mode = "styled"

	// ModePlain outputs plain text suitable for scripting and parsing.
	ModePlain Mode = "plain"

	// ModeJSON outputs raw JSON results.
	ModeJSON Mode = "json"
)

// ParseMode converts a flag value to a Mode. The empty string and "auto"
// return ok=false so the caller can detect the mode instead.
func ParseMode(s string) (mode Mode, ok bool, err error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return "", false, nil
	case "styled", "rich", "pretty":
		return ModeStyled, true, nil
	case "plain", "text", "machine":
		return ModePlain, true, nil
	case "json":
		return ModeJSON, true, nil
	default:
		return "", false, fmt.Errorf("unknown output mode %q (want auto, styled, plain or json)", s)
	}
}

// DetectMode returns ModeStyled when f is a terminal and NO_COLOR is
// unset, and ModePlain otherwise.
func DetectMode(f *os.File) Mode {
	if os.Getenv("NO_COLOR") != "" || !IsTerminal(f) {
		return ModePlain
	}
	return ModeStyled
}

// IsTerminal reports whether f is attached to a terminal, including
// Cygwin and MSYS pseudo terminals.
func IsTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
