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
	"bytes"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPrinter(mode Mode) (*Printer, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	return NewPrinter(&out, &errOut, mode), &out, &errOut
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in     string
		want   Mode
		wantOK bool
		err    bool
	}{
		{"", "", false, false},
		{"auto", "", false, false},
		{"styled", ModeStyled, true, false},
		{"PLAIN", ModePlain, true, false},
		{" json ", ModeJSON, true, false},
		{"fancy", "", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok, err := ParseMode(tt.in)
			if tt.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestDetectMode_NonTerminal(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "out")
	require.NoError(t, err)
	defer f.Close()

	assert.False(t, IsTerminal(f))
	assert.False(t, IsTerminal(nil))
	assert.Equal(t, ModePlain, DetectMode(f))
}

func TestPrinter_PlainMessages(t *testing.T) {
	p, out, errOut := newTestPrinter(ModePlain)
	p.Title("ignored")
	p.Success("saved")
	p.Info("note")
	p.Warning("careful")
	p.Error("broken")
	p.Box("Emergency", "stopped")

	assert.Equal(t, "OK: saved\nnote\nEmergency: stopped\n", out.String())
	assert.Equal(t, "WARN: careful\nERROR: broken\n", errOut.String())
}

func TestPrinter_JSONModeKeepsStdoutClean(t *testing.T) {
	p, out, errOut := newTestPrinter(ModeJSON)
	p.Success("saved")
	p.Info("note")
	require.NoError(t, p.JSON(map[string]int{"count": 2}))

	assert.JSONEq(t, `{"count":2}`, out.String())
	assert.Contains(t, errOut.String(), "OK: saved")
}

func TestPrinter_PlainTable(t *testing.T) {
	p, out, _ := newTestPrinter(ModePlain)
	p.Table([]string{"ID", "STATUS"}, [][]string{{"a1", "pending"}, {"b2", "approved"}})
	assert.Equal(t, "ID\tSTATUS\na1\tpending\nb2\tapproved\n", out.String())
}

func TestPrinter_StyledTable(t *testing.T) {
	p, out, _ := newTestPrinter(ModeStyled)
	p.Table([]string{"ID"}, nil)
	assert.Contains(t, out.String(), "(none)")

	out.Reset()
	p.Table([]string{"ID", "STATUS"}, [][]string{{"a1", "pending"}})
	assert.Contains(t, out.String(), "a1")
	assert.Contains(t, out.String(), "pending")
	assert.Contains(t, out.String(), "╭")
}

func TestPrinter_KeyValuesAligned(t *testing.T) {
	p, out, _ := newTestPrinter(ModePlain)
	p.KeyValues([][2]string{{"enabled", "true"}, {"autonomy", "ai_assisted"}})
	assert.Equal(t, "enabled:   true\nautonomy:  ai_assisted\n", out.String())
}

func TestIcon_Render(t *testing.T) {
	for _, i := range []Icon{IconSuccess, IconWarning, IconError, IconPending, IconArrow} {
		assert.Contains(t, i.Render(), string(i))
	}
}

func TestWithSpinner(t *testing.T) {
	p, out, errOut := newTestPrinter(ModeStyled)
	require.NoError(t, p.WithSpinner("working", func() error { return nil }))

	boom := errors.New("boom")
	err := p.WithSpinner("working", func() error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, errOut.String(), "working: boom")
	assert.Empty(t, out.String())
}

func TestSpinner_SilentOutsideStyled(t *testing.T) {
	p, _, errOut := newTestPrinter(ModePlain)
	s := p.NewSpinner("x")
	s.Start()
	s.UpdateMessage("y")
	s.Stop()
	assert.Empty(t, errOut.String())
}

func TestConfirm_AssumeYes(t *testing.T) {
	ok, err := Confirm("Stop everything?", "", true)
	require.NoError(t, err)
	assert.True(t, ok)
}
