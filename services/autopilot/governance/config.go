// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package governance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/autopilot/services/autopilot/datatypes"
	"github.com/AleutianAI/autopilot/services/autopilot/store"
)

// ConfigUpdate is the result of SetAutopilotConfig.
type ConfigUpdate struct {
	Config   *datatypes.AccountConfig `json:"config"`
	Changed  []string                 `json:"changed"`
	Autonomy *AutonomyChangeResult    `json:"autonomy,omitempty"`
}

func (g *Governance) configKey(accountID string) string {
	return store.AccountKey(accountID, store.SuffixConfig)
}

// GetAutopilotConfig returns the account configuration, creating and
// persisting the defaults on first use.
func (g *Governance) GetAutopilotConfig(ctx context.Context, accountID string) (*datatypes.AccountConfig, error) {
	var cfg datatypes.AccountConfig
	created := false
	err := store.UpdateJSON(ctx, g.store, g.configKey(accountID), func(v *datatypes.AccountConfig, exists bool) error {
		created = false
		if exists {
			cfg = v.Clone()
			return store.ErrNoChange
		}
		*v = datatypes.DefaultAccountConfig(accountID, g.Now())
		cfg = v.Clone()
		created = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load config for %s: %w", accountID, err)
	}
	if created {
		g.auditQuiet(ctx, accountID, datatypes.AuditConfigCreated, "default configuration created", nil,
			datatypes.AuditOptions{TriggeredBy: datatypes.TriggeredByAutopilot, Actor: ActorAutopilot})
	}
	return &cfg, nil
}

// PeekAutopilotConfig returns the account configuration, or the defaults
// when none exists, without persisting anything.
func (g *Governance) PeekAutopilotConfig(ctx context.Context, accountID string) (*datatypes.AccountConfig, error) {
	cfg, ok, err := store.GetJSON[datatypes.AccountConfig](ctx, g.store, g.configKey(accountID))
	if err != nil {
		return nil, fmt.Errorf("load config for %s: %w", accountID, err)
	}
	if !ok {
		cfg = datatypes.DefaultAccountConfig(accountID, g.Now())
	}
	return &cfg, nil
}

// CreateDefaultConfig resets the account to the default configuration.
func (g *Governance) CreateDefaultConfig(ctx context.Context, accountID, actor string) (*datatypes.AccountConfig, error) {
	cfg := datatypes.DefaultAccountConfig(accountID, g.Now())
	if err := store.PutJSON(ctx, g.store, g.configKey(accountID), cfg); err != nil {
		return nil, fmt.Errorf("store config for %s: %w", accountID, err)
	}
	g.auditQuiet(ctx, accountID, datatypes.AuditConfigCreated, "configuration reset to defaults", nil,
		datatypes.AuditOptions{TriggeredBy: triggeredByFor(actor), Actor: actor})
	return &cfg, nil
}

// SetAutopilotConfig applies patch to the account configuration.
//
// # Description
//
// Every field except AutonomyLevel is applied atomically and validated; an
// invalid result leaves the stored configuration untouched and returns an
// error wrapping datatypes.ErrInvalidConfig. A requested autonomy level is
// then routed through RequestAutonomyChange, which may queue an approval
// instead of applying it.
func (g *Governance) SetAutopilotConfig(ctx context.Context, accountID string, patch datatypes.ConfigPatch, actor string) (*ConfigUpdate, error) {
	if _, err := g.GetAutopilotConfig(ctx, accountID); err != nil {
		return nil, err
	}

	var updated datatypes.AccountConfig
	var changed []string
	err := store.UpdateJSON(ctx, g.store, g.configKey(accountID), func(v *datatypes.AccountConfig, _ bool) error {
		next := v.Clone()
		changed = patch.Apply(&next)
		if len(changed) == 0 {
			updated = next
			return store.ErrNoChange
		}
		if err := next.Validate(); err != nil {
			return err
		}
		next.UpdatedAt = g.Now()
		*v = next
		updated = next.Clone()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update config for %s: %w", accountID, err)
	}
	if len(changed) > 0 {
		g.auditQuiet(ctx, accountID, datatypes.AuditConfigUpdated, "configuration updated",
			map[string]any{"fields": changed},
			datatypes.AuditOptions{TriggeredBy: triggeredByFor(actor), Actor: actor, ImpactedFields: changed})
	}

	result := &ConfigUpdate{Config: &updated, Changed: changed}
	if patch.AutonomyLevel != nil && *patch.AutonomyLevel != updated.AutonomyLevel {
		ac, err := g.RequestAutonomyChange(ctx, accountID, *patch.AutonomyLevel, actor, "configuration update")
		if err != nil {
			return nil, err
		}
		result.Autonomy = ac
		if ac.Config != nil {
			result.Config = ac.Config
		}
	}
	return result, nil
}

// UpdateLastCycleAt stamps the time of the account's last completed cycle.
func (g *Governance) UpdateLastCycleAt(ctx context.Context, accountID string, at time.Time) error {
	at = at.UTC()
	err := store.UpdateJSON(ctx, g.store, g.configKey(accountID), func(v *datatypes.AccountConfig, exists bool) error {
		if !exists {
			*v = datatypes.DefaultAccountConfig(accountID, g.Now())
		}
		v.LastCycleAt = &at
		return nil
	})
	if err != nil {
		return fmt.Errorf("update last cycle for %s: %w", accountID, err)
	}
	return nil
}

// DisableAccount turns the account off. Used by the emergency stop.
func (g *Governance) DisableAccount(ctx context.Context, accountID, actor, reason string) error {
	changed := false
	err := store.UpdateJSON(ctx, g.store, g.configKey(accountID), func(v *datatypes.AccountConfig, exists bool) error {
		changed = false
		if !exists {
			*v = datatypes.DefaultAccountConfig(accountID, g.Now())
		}
		if exists && !v.Enabled {
			return store.ErrNoChange
		}
		v.Enabled = false
		v.UpdatedAt = g.Now()
		changed = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("disable account %s: %w", accountID, err)
	}
	if changed {
		g.auditQuiet(ctx, accountID, datatypes.AuditConfigUpdated, "account disabled: "+reason,
			map[string]any{"fields": []string{"enabled"}, "reason": reason},
			datatypes.AuditOptions{TriggeredBy: triggeredByFor(actor), Actor: actor, ImpactedFields: []string{"enabled"}})
	}
	return nil
}

// setAutonomyLevel writes the autonomy level without any guard.
func (g *Governance) setAutonomyLevel(ctx context.Context, accountID string, to datatypes.AutonomyLevel) (*datatypes.AccountConfig, datatypes.AutonomyLevel, error) {
	var cfg datatypes.AccountConfig
	var from datatypes.AutonomyLevel
	err := store.UpdateJSON(ctx, g.store, g.configKey(accountID), func(v *datatypes.AccountConfig, exists bool) error {
		if !exists {
			*v = datatypes.DefaultAccountConfig(accountID, g.Now())
		}
		from = v.AutonomyLevel
		v.AutonomyLevel = to
		v.UpdatedAt = g.Now()
		cfg = v.Clone()
		return nil
	})
	if err != nil {
		return nil, "", fmt.Errorf("set autonomy for %s: %w", accountID, err)
	}
	return &cfg, from, nil
}

// =============================================================================
// Global Kill Switch
// =============================================================================

// IsGlobalEnabled reports the fleet-wide kill switch. It defaults to on.
func (g *Governance) IsGlobalEnabled(ctx context.Context) (bool, error) {
	enabled, ok, err := store.GetJSON[bool](ctx, g.store, store.GlobalEnabledKey)
	if err != nil {
		return false, fmt.Errorf("read global switch: %w", err)
	}
	if !ok {
		return true, nil
	}
	return enabled, nil
}

// SetGlobalEnabled flips the fleet-wide kill switch.
func (g *Governance) SetGlobalEnabled(ctx context.Context, enabled bool, actor string) error {
	if err := store.PutJSON(ctx, g.store, store.GlobalEnabledKey, enabled); err != nil {
		return fmt.Errorf("write global switch: %w", err)
	}
	g.logger.Warn("global autopilot switch changed",
		slog.Bool("enabled", enabled),
		slog.String("actor", actor))
	g.auditQuiet(ctx, GlobalAccountID, datatypes.AuditGlobalSwitchChanged,
		fmt.Sprintf("global autopilot switch set to %t", enabled),
		map[string]any{"enabled": enabled},
		datatypes.AuditOptions{TriggeredBy: triggeredByFor(actor), Actor: actor})
	return nil
}
