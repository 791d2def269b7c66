// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package auditchain

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/autopilot/services/autopilot/datatypes"
	"github.com/AleutianAI/autopilot/services/autopilot/governance"
	"github.com/AleutianAI/autopilot/services/autopilot/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(i int) datatypes.AuditEntry {
	return datatypes.AuditEntry{
		ID:          fmt.Sprintf("entry-%d", i),
		AccountID:   "acct-1",
		Sequence:    uint64(i),
		Action:      datatypes.AuditChangeApplied,
		Category:    datatypes.AuditCategoryChange,
		Description: "change applied",
		TriggeredBy: datatypes.TriggeredByAutopilot,
		Outcome:     datatypes.OutcomeSuccess,
		Timestamp:   time.Date(2025, 3, 3, 12, i, 0, 0, time.UTC),
	}
}

func newLogger(t *testing.T) (*Logger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.chain")
	l, err := NewLogger(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l, path
}

func TestNewLogger_RestrictedPermissions(t *testing.T) {
	_, path := newLogger(t)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestLogger_AppendLinksRecords(t *testing.T) {
	l, _ := newLogger(t)

	first, err := l.Append(entry(1))
	require.NoError(t, err)
	second, err := l.Append(entry(2))
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.Sequence)
	assert.Equal(t, GenesisHash, first.PrevHash)
	assert.Equal(t, first.EntryHash, second.PrevHash)
	assert.Len(t, second.EntryHash, 64)

	v, err := l.Verify()
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.Equal(t, int64(2), v.Records)
	assert.Equal(t, int64(-1), v.BreakIndex)
	assert.Equal(t, second.EntryHash, v.LastHash)
}

func TestLogger_ContinuesExistingChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.chain")
	l, err := NewLogger(path, nil)
	require.NoError(t, err)
	last, err := l.Append(entry(1))
	require.NoError(t, err)
	require.NoError(t, l.Close())

	_, err = l.Append(entry(2))
	assert.ErrorIs(t, err, ErrClosed)

	reopened, err := NewLogger(path, nil)
	require.NoError(t, err)
	defer reopened.Close()
	next, err := reopened.Append(entry(2))
	require.NoError(t, err)
	assert.Equal(t, int64(2), next.Sequence)
	assert.Equal(t, last.EntryHash, next.PrevHash)

	v, err := VerifyFile(path)
	require.NoError(t, err)
	assert.True(t, v.Valid)
}

func TestVerifyFile_DetectsTampering(t *testing.T) {
	l, path := newLogger(t)
	for i := 1; i <= 3; i++ {
		_, err := l.Append(entry(i))
		require.NoError(t, err)
	}
	require.NoError(t, l.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.SplitN(string(raw), "\n", 3)
	lines[1] = strings.Replace(lines[1], `"outcome":"success"`, `"outcome":"failure"`, 1)
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0600))

	v, err := VerifyFile(path)
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, int64(1), v.BreakIndex)
	assert.Equal(t, "entry hash mismatch", v.Reason)
}

func TestVerifyFile_DetectsRemovedRecord(t *testing.T) {
	l, path := newLogger(t)
	for i := 1; i <= 3; i++ {
		_, err := l.Append(entry(i))
		require.NoError(t, err)
	}
	require.NoError(t, l.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 3)
	cut := lines[0] + "\n" + lines[2] + "\n"
	require.NoError(t, os.WriteFile(path, []byte(cut), 0600))

	v, err := VerifyFile(path)
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, int64(1), v.BreakIndex)
}

func TestVerifyFile_Missing(t *testing.T) {
	v, err := VerifyFile(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.Zero(t, v.Records)
}

func TestLogger_Prove(t *testing.T) {
	l, _ := newLogger(t)
	_, err := l.Append(entry(1))
	require.NoError(t, err)
	rec, err := l.Append(entry(2))
	require.NoError(t, err)

	proof, ok, err := l.Prove("entry-2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec, proof.Record)
	assert.True(t, proof.ChainValid)

	_, ok, err = l.Prove("entry-9")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLogger_AsGovernanceSink(t *testing.T) {
	ctx := context.Background()
	l, path := newLogger(t)
	g := governance.New(store.NewMemoryStore(), governance.WithAuditSinks(l))

	_, err := g.GetAutopilotConfig(ctx, "acct-1")
	require.NoError(t, err)
	_, err = g.TriggerEmergencyStop(ctx, "acct-1", "ops", "incident", datatypes.EmergencyOptions{})
	require.NoError(t, err)

	v, err := VerifyFile(path)
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.Equal(t, int64(2), v.Records)
}
