// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package alerts delivers signal alerts and audit events to subscribers.
package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/autopilot/services/autopilot/datatypes"
	"github.com/AleutianAI/autopilot/services/autopilot/signals"
)

// =============================================================================
// Interfaces
// =============================================================================

// Publisher sends a payload on a subject.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// AuditLogger records alert deliveries. *governance.Governance satisfies it.
type AuditLogger interface {
	LogAction(ctx context.Context, accountID string, action datatypes.AuditAction, description string,
		details map[string]any, opts datatypes.AuditOptions) (*datatypes.AuditEntry, error)
}

// =============================================================================
// Alert
// =============================================================================

// Alert is the payload published for an eligible signal.
type Alert struct {
	AccountID  string               `json:"account_id"`
	SignalID   string               `json:"signal_id"`
	Type       datatypes.SignalType `json:"type"`
	Severity   datatypes.Severity   `json:"severity"`
	Channel    string               `json:"channel,omitempty"`
	Message    string               `json:"message"`
	Metric     string               `json:"metric"`
	Change     float64              `json:"change_percent"`
	DetectedAt time.Time            `json:"detected_at"`
	SentAt     time.Time            `json:"sent_at"`
}

// Subject prefixes.
const (
	AlertSubjectPrefix = "autopilot.alerts"
	AuditSubjectPrefix = "autopilot.audit"
)

// AlertSubject is the subject alerts for the account and severity are
// published on, e.g. "autopilot.alerts.acct-1.critical".
func AlertSubject(accountID string, sev datatypes.Severity) string {
	return AlertSubjectPrefix + "." + subjectToken(accountID) + "." + string(sev)
}

// AuditSubject is the subject audit entries for the account are published
// on.
func AuditSubject(accountID string) string {
	return AuditSubjectPrefix + "." + subjectToken(accountID)
}

// subjectToken makes an account ID safe to use as one subject token.
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}

// =============================================================================
// Dispatcher
// =============================================================================

// Dispatcher filters signals through the account's alert preferences and
// publishes the ones that pass.
type Dispatcher struct {
	publisher Publisher
	audit     AuditLogger
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithClock overrides the time source used for quiet hours.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// NewDispatcher creates a dispatcher. A nil publisher logs alerts instead
// of sending them.
func NewDispatcher(p Publisher, audit AuditLogger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		publisher: p,
		audit:     audit,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With(slog.String("component", "alert_dispatcher"))
	if d.publisher == nil {
		d.publisher = NewLogPublisher(d.logger)
	}
	return d
}

// Dispatch publishes every signal that passes ShouldTriggerAlert.
//
// # Description
//
// Each delivery is logged as an alert_sent audit entry. A failed publish is
// recorded with outcome failure and does not stop the remaining alerts.
//
// # Outputs
//
//   - []Alert: The alerts that were published successfully.
func (d *Dispatcher) Dispatch(ctx context.Context, accountID string, sigs []datatypes.Signal, prefs datatypes.AlertPreferences) []Alert {
	now := d.now().UTC()
	var sent []Alert
	for _, s := range sigs {
		if !signals.ShouldTriggerAlert(s, prefs, now) {
			continue
		}
		alert := Alert{
			AccountID:  accountID,
			SignalID:   s.ID,
			Type:       s.Type,
			Severity:   s.Severity,
			Channel:    s.Channel,
			Message:    s.Message,
			Metric:     s.Metric,
			Change:     s.ChangePercent,
			DetectedAt: s.DetectedAt,
			SentAt:     now,
		}
		outcome := datatypes.OutcomeSuccess
		err := d.publish(ctx, AlertSubject(accountID, s.Severity), alert)
		if err != nil {
			outcome = datatypes.OutcomeFailure
			d.logger.Warn("alert publish failed",
				slog.String("account_id", accountID),
				slog.String("signal_id", s.ID),
				slog.String("error", err.Error()))
		} else {
			sent = append(sent, alert)
		}
		d.recordAlert(ctx, alert, outcome)
	}
	return sent
}

func (d *Dispatcher) publish(ctx context.Context, subject string, alert Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	return d.publisher.Publish(ctx, subject, data)
}

func (d *Dispatcher) recordAlert(ctx context.Context, a Alert, outcome datatypes.Outcome) {
	if d.audit == nil {
		return
	}
	_, err := d.audit.LogAction(ctx, a.AccountID, datatypes.AuditAlertSent,
		fmt.Sprintf("%s alert: %s", a.Severity, a.Message),
		map[string]any{"signal_id": a.SignalID, "signal_type": string(a.Type), "channel": a.Channel},
		datatypes.AuditOptions{TriggeredBy: datatypes.TriggeredBySignal, Outcome: outcome})
	if err != nil {
		d.logger.Error("failed to audit alert",
			slog.String("account_id", a.AccountID),
			slog.String("error", err.Error()))
	}
}

// =============================================================================
// Log Publisher
// =============================================================================

// LogPublisher writes payloads to the structured log. Used when no message
// bus is configured.
type LogPublisher struct {
	logger *slog.Logger
}

var _ Publisher = (*LogPublisher)(nil)

// NewLogPublisher returns a publisher that logs at info level.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

// Publish logs the subject and payload.
func (p *LogPublisher) Publish(_ context.Context, subject string, data []byte) error {
	p.logger.Info("alert",
		slog.String("subject", subject),
		slog.String("payload", string(data)))
	return nil
}
