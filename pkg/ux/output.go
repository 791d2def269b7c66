// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides terminal output styling for the autopilot CLI.
//
// Output goes through a Printer, which renders with lipgloss when its
// destination is a terminal and falls back to plain, line-oriented text
// (or JSON) when piped.
package ux

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Palette
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles.
var Styles = struct {
	Title     lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
	Key       lipgloss.Style

	Box        lipgloss.Style
	WarningBox lipgloss.Style
	Header     lipgloss.Style
	Cell       lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),
	Key:       lipgloss.NewStyle().Foreground(ColorTealPrimary),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
	WarningBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorWarning).
		Padding(0, 1),
	Header: lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright).Padding(0, 1),
	Cell:   lipgloss.NewStyle().Padding(0, 1),
}

// Icon is a status glyph.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
)

// Render returns the icon with its status color.
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending:
		return Styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

// =============================================================================
// Printer
// =============================================================================

// Printer writes CLI output in one Mode.
//
// # Description
//
// ModeStyled renders colors, icons, boxes and bordered tables. ModePlain
// prints prefixed lines and tab-separated tables for scripts. ModeJSON
// prints only what JSON is given; status messages go to the error writer.
//
// # Thread Safety
//
// Not safe for concurrent use.
type Printer struct {
	out  io.Writer
	err  io.Writer
	mode Mode
}

// NewPrinter returns a Printer writing results to out and diagnostics to
// errOut.
func NewPrinter(out, errOut io.Writer, mode Mode) *Printer {
	return &Printer{out: out, err: errOut, mode: mode}
}

// Mode returns the output mode.
func (p *Printer) Mode() Mode { return p.mode }

// Out returns the result writer.
func (p *Printer) Out() io.Writer { return p.out }

// Title prints a heading. Nothing is printed outside ModeStyled.
func (p *Printer) Title(text string) {
	if p.mode != ModeStyled {
		return
	}
	fmt.Fprintln(p.out, Styles.Title.Render(text))
}

// Success prints a success message.
func (p *Printer) Success(text string) {
	switch p.mode {
	case ModeStyled:
		fmt.Fprintf(p.out, "%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
	case ModeJSON:
		fmt.Fprintf(p.err, "OK: %s\n", text)
	default:
		fmt.Fprintf(p.out, "OK: %s\n", text)
	}
}

// Warning prints a warning to the error writer.
func (p *Printer) Warning(text string) {
	if p.mode == ModeStyled {
		fmt.Fprintf(p.err, "%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
		return
	}
	fmt.Fprintf(p.err, "WARN: %s\n", text)
}

// Error prints an error to the error writer.
func (p *Printer) Error(text string) {
	if p.mode == ModeStyled {
		fmt.Fprintf(p.err, "%s %s\n", IconError.Render(), Styles.Error.Render(text))
		return
	}
	fmt.Fprintf(p.err, "ERROR: %s\n", text)
}

// Info prints an informational line.
func (p *Printer) Info(text string) {
	switch p.mode {
	case ModeStyled:
		fmt.Fprintf(p.out, "%s %s\n", Styles.Muted.Render("│"), text)
	case ModeJSON:
		fmt.Fprintln(p.err, text)
	default:
		fmt.Fprintln(p.out, text)
	}
}

// Box prints content under a title, boxed in ModeStyled.
func (p *Printer) Box(title, content string) {
	p.box(Styles.Box, Styles.Title, title, content)
}

// WarningBox is Box with warning colors.
func (p *Printer) WarningBox(title, content string) {
	p.box(Styles.WarningBox, Styles.Warning.Bold(true), title, content)
}

func (p *Printer) box(frame, head lipgloss.Style, title, content string) {
	switch p.mode {
	case ModeStyled:
		fmt.Fprintln(p.out, frame.Width(72).Render(head.Render(title)+"\n"+content))
	case ModeJSON:
		fmt.Fprintf(p.err, "%s: %s\n", title, content)
	default:
		fmt.Fprintf(p.out, "%s: %s\n", title, content)
	}
}

// KeyValues prints aligned "key value" pairs in order.
func (p *Printer) KeyValues(pairs [][2]string) {
	width := 0
	for _, kv := range pairs {
		width = max(width, len(kv[0]))
	}
	for _, kv := range pairs {
		key := kv[0] + ":" + strings.Repeat(" ", width-len(kv[0]))
		if p.mode == ModeStyled {
			key = Styles.Key.Render(key)
		}
		fmt.Fprintf(p.out, "%s  %s\n", key, kv[1])
	}
}

// Table prints rows under headers. An empty table prints a muted note in
// ModeStyled and nothing otherwise.
func (p *Printer) Table(headers []string, rows [][]string) {
	if p.mode != ModeStyled {
		fmt.Fprintln(p.out, strings.Join(headers, "\t"))
		for _, r := range rows {
			fmt.Fprintln(p.out, strings.Join(r, "\t"))
		}
		return
	}
	if len(rows) == 0 {
		fmt.Fprintln(p.out, Styles.Muted.Render("(none)"))
		return
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(ColorTealDeep)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return Styles.Header
			}
			return Styles.Cell
		})
	fmt.Fprintln(p.out, t.String())
}

// JSON prints v as indented JSON regardless of mode.
func (p *Printer) JSON(v any) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
