// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package governance owns the human-control surface of the autopilot: account
// configuration and the global kill switch, the approval queue, the
// emergency stop, the append-only audit log and the change/revert ledger.
//
// All state lives in a store.Store partitioned by account id, and every
// read-modify-write goes through Store.Update so concurrent callers never
// lose writes.
package governance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/autopilot/services/autopilot/datatypes"
	"github.com/AleutianAI/autopilot/services/autopilot/store"
)

const (
	// DefaultAuditLimit is the per-account audit retention cap.
	DefaultAuditLimit = 1000

	// DefaultLedgerLimit caps the change ledger and the approval queue.
	DefaultLedgerLimit = 1000

	// GlobalAccountID is the partition that receives fleet-wide audit
	// entries such as kill switch changes.
	GlobalAccountID = "_global"

	// ActorAutopilot is the actor name used for actions the loop takes itself.
	ActorAutopilot = "autopilot"

	// ReservedAccountPrefix marks system partitions such as GlobalAccountID.
	// No customer account may use an id with this prefix.
	ReservedAccountPrefix = "_"
)

// IsReservedAccountID reports whether id names a system partition rather
// than a customer account.
func IsReservedAccountID(id string) bool {
	return strings.HasPrefix(id, ReservedAccountPrefix)
}

// =============================================================================
// Collaborators
// =============================================================================

// ChangeApplier pushes a change to the ad platform.
//
// # Description
//
// Apply returns the platform state before and after the change so it can be
// recorded in the ledger. Revert is best-effort: the ledger flags a change
// as reverted even when the platform rejects the revert.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type ChangeApplier interface {
	Apply(ctx context.Context, accountID string, change datatypes.ProposedChange) (before, after json.RawMessage, err error)
	Revert(ctx context.Context, record datatypes.ChangeRecord) error
}

// AuditSink receives every audit entry after it is persisted.
//
// # Description
//
// Sink errors never fail the audited operation; they are logged and
// dropped. Sinks handle their own retries.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type AuditSink interface {
	OnAuditEntry(ctx context.Context, entry datatypes.AuditEntry) error
}

// LedgerApplier is a ChangeApplier that only records intent. It is the
// default when no platform integration is configured.
type LedgerApplier struct{}

var _ ChangeApplier = LedgerApplier{}

// Apply returns the change itself as the after payload.
func (LedgerApplier) Apply(_ context.Context, _ string, change datatypes.ProposedChange) (json.RawMessage, json.RawMessage, error) {
	after, err := json.Marshal(change)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal change: %w", err)
	}
	return nil, after, nil
}

// Revert is a no-op.
func (LedgerApplier) Revert(context.Context, datatypes.ChangeRecord) error {
	return nil
}

// =============================================================================
// Governance
// =============================================================================

// Governance implements the governance layer over a store.Store.
//
// # Thread Safety
//
// Safe for concurrent use. Operations on one account are atomic per key;
// there is no cross-account locking.
type Governance struct {
	store       store.Store
	applier     ChangeApplier
	sinks       []AuditSink
	logger      *slog.Logger
	now         func() time.Time
	auditLimit  int
	ledgerLimit int
}

// Option configures a Governance.
type Option func(*Governance)

// WithApplier sets the change applier. Default: LedgerApplier.
func WithApplier(a ChangeApplier) Option {
	return func(g *Governance) {
		if a != nil {
			g.applier = a
		}
	}
}

// WithAuditSinks adds audit sinks.
func WithAuditSinks(sinks ...AuditSink) Option {
	return func(g *Governance) {
		for _, s := range sinks {
			if s != nil {
				g.sinks = append(g.sinks, s)
			}
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Governance) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithClock overrides time.Now. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(g *Governance) {
		if now != nil {
			g.now = now
		}
	}
}

// WithAuditLimit overrides DefaultAuditLimit.
func WithAuditLimit(n int) Option {
	return func(g *Governance) {
		if n > 0 {
			g.auditLimit = n
		}
	}
}

// New creates a Governance over s.
func New(s store.Store, opts ...Option) *Governance {
	g := &Governance{
		store:       s,
		applier:     LedgerApplier{},
		logger:      slog.Default(),
		now:         time.Now,
		auditLimit:  DefaultAuditLimit,
		ledgerLimit: DefaultLedgerLimit,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With(slog.String("component", "governance"))
	return g
}

// Applier returns the configured change applier.
func (g *Governance) Applier() ChangeApplier {
	return g.applier
}

// Now returns the governance clock's current time in UTC.
func (g *Governance) Now() time.Time {
	return g.now().UTC()
}

// ApplyChange pushes change through the applier and records it in the
// ledger. Callers are responsible for having gated the change.
func (g *Governance) ApplyChange(ctx context.Context, accountID string, change datatypes.ProposedChange, appliedBy, approvalID, cycleID string) (*datatypes.ChangeRecord, error) {
	if err := change.Validate(); err != nil {
		return nil, err
	}
	before, after, err := g.applier.Apply(ctx, accountID, change)
	if err != nil {
		g.auditQuiet(ctx, accountID, datatypes.AuditChangeApplied, "failed to apply "+change.Describe(),
			map[string]any{"error": err.Error(), "change_kind": string(change.Kind)},
			datatypes.AuditOptions{Actor: appliedBy, Outcome: datatypes.OutcomeFailure})
		return nil, fmt.Errorf("apply %s change: %w", change.Kind, err)
	}
	return g.RecordChange(ctx, accountID, datatypes.ChangeInput{
		ChangeKind:  change.Kind,
		Description: change.Describe(),
		Before:      before,
		After:       after,
		AppliedBy:   appliedBy,
		ApprovalID:  approvalID,
		CycleID:     cycleID,
	})
}

// auditQuiet writes an audit entry whose failure must not change the result
// of the calling operation.
func (g *Governance) auditQuiet(ctx context.Context, accountID string, action datatypes.AuditAction, description string,
	details map[string]any, opts datatypes.AuditOptions) {
	if _, err := g.LogAction(ctx, accountID, action, description, details, opts); err != nil {
		g.logger.Error("audit write failed",
			slog.String("account_id", accountID),
			slog.String("action", string(action)),
			slog.String("error", err.Error()))
	}
}

func triggeredByFor(actor string) datatypes.TriggeredBy {
	if actor == "" || actor == ActorAutopilot {
		return datatypes.TriggeredByAutopilot
	}
	return datatypes.TriggeredByHuman
}
