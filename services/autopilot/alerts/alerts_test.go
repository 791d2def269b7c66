// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package alerts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/autopilot/services/autopilot/datatypes"
	"github.com/AleutianAI/autopilot/services/autopilot/governance"
	"github.com/AleutianAI/autopilot/services/autopilot/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	fail     map[string]bool
}

func (p *recordingPublisher) Publish(_ context.Context, subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail[subject] {
		return errors.New("bus unavailable")
	}
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, data)
	return nil
}

func signal(id string, typ datatypes.SignalType, sev datatypes.Severity) datatypes.Signal {
	return datatypes.Signal{
		ID:         id,
		AccountID:  "acct-1",
		Type:       typ,
		Severity:   sev,
		Message:    string(typ) + " detected",
		Status:     datatypes.SignalActive,
		DetectedAt: time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC),
	}
}

func noon() time.Time { return time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC) }

func TestAlertSubject(t *testing.T) {
	assert.Equal(t, "autopilot.alerts.acct-1.critical", AlertSubject("acct-1", datatypes.SeverityCritical))
	assert.Equal(t, "autopilot.alerts.a_b_c.warning", AlertSubject("a.b*c", datatypes.SeverityWarning))
	assert.Equal(t, "autopilot.audit._", AuditSubject(""))
}

func TestDispatch_FiltersAndAudits(t *testing.T) {
	ctx := context.Background()
	gov := governance.New(store.NewMemoryStore())
	pub := &recordingPublisher{}
	d := NewDispatcher(pub, gov, WithClock(noon))

	sigs := []datatypes.Signal{
		signal("s1", datatypes.SignalCPASpike, datatypes.SeverityCritical),
		signal("s2", datatypes.SignalSeasonalAnomaly, datatypes.SeverityInfo),
		signal("s3", datatypes.SignalROASDecline, datatypes.SeverityWarning),
	}
	sent := d.Dispatch(ctx, "acct-1", sigs, datatypes.AlertPreferences{MinSeverity: datatypes.SeverityWarning})

	require.Len(t, sent, 2)
	assert.Equal(t, "s1", sent[0].SignalID)
	assert.Equal(t, []string{"autopilot.alerts.acct-1.critical", "autopilot.alerts.acct-1.warning"}, pub.subjects)
	assert.Contains(t, string(pub.payloads[0]), `"signal_id":"s1"`)

	entries, err := gov.GetAuditLog(ctx, "acct-1", datatypes.AuditFilter{Action: datatypes.AuditAlertSent})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, datatypes.TriggeredBySignal, entries[0].TriggeredBy)
}

func TestDispatch_PublishFailureAuditedAsFailure(t *testing.T) {
	ctx := context.Background()
	gov := governance.New(store.NewMemoryStore())
	pub := &recordingPublisher{fail: map[string]bool{"autopilot.alerts.acct-1.critical": true}}
	d := NewDispatcher(pub, gov, WithClock(noon))

	sent := d.Dispatch(ctx, "acct-1", []datatypes.Signal{
		signal("s1", datatypes.SignalCPASpike, datatypes.SeverityCritical),
		signal("s2", datatypes.SignalROASDecline, datatypes.SeverityWarning),
	}, datatypes.AlertPreferences{MinSeverity: datatypes.SeverityWarning})
	require.Len(t, sent, 1)
	assert.Equal(t, "s2", sent[0].SignalID)

	entries, err := gov.GetAuditLog(ctx, "acct-1", datatypes.AuditFilter{Action: datatypes.AuditAlertSent})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, datatypes.OutcomeSuccess, entries[0].Outcome)
	assert.Equal(t, datatypes.OutcomeFailure, entries[1].Outcome)
}

func TestDispatch_QuietHoursSuppress(t *testing.T) {
	pub := &recordingPublisher{}
	d := NewDispatcher(pub, nil, WithClock(func() time.Time { return time.Date(2025, 3, 3, 23, 0, 0, 0, time.UTC) }))
	sent := d.Dispatch(context.Background(), "acct-1",
		[]datatypes.Signal{signal("s1", datatypes.SignalCPASpike, datatypes.SeverityCritical)},
		datatypes.AlertPreferences{MinSeverity: datatypes.SeverityInfo, QuietHoursStart: 22, QuietHoursEnd: 6})
	assert.Empty(t, sent)
	assert.Empty(t, pub.subjects)
}

func TestDispatch_NilPublisherLogs(t *testing.T) {
	d := NewDispatcher(nil, nil, WithClock(noon))
	sent := d.Dispatch(context.Background(), "acct-1",
		[]datatypes.Signal{signal("s1", datatypes.SignalCPASpike, datatypes.SeverityCritical)},
		datatypes.AlertPreferences{})
	assert.Len(t, sent, 1)
}

func TestNATSPublisher_NotConnected(t *testing.T) {
	p := NewNATSPublisherFromConn(nil, 0, nil)
	err := p.Publish(context.Background(), "x", []byte("y"))
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, p.OnAuditEntry(context.Background(), datatypes.AuditEntry{AccountID: "a"}), ErrNotConnected)
	assert.NoError(t, p.Close())
}
