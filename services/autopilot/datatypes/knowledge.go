// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"fmt"
	"maps"
	"strings"
	"time"
)

// KnowledgeDomain is one area of the account knowledge graph.
type KnowledgeDomain string

const (
	DomainBusiness    KnowledgeDomain = "business"
	DomainObjectives  KnowledgeDomain = "objectives"
	DomainAudience    KnowledgeDomain = "audience"
	DomainBrand       KnowledgeDomain = "brand"
	DomainProduct     KnowledgeDomain = "product"
	DomainCompetitive KnowledgeDomain = "competitive"
	DomainChannels    KnowledgeDomain = "channels"
	DomainCreative    KnowledgeDomain = "creative"
	DomainSeasonality KnowledgeDomain = "seasonality"
	DomainMeasurement KnowledgeDomain = "measurement"
)

// AllKnowledgeDomains lists every domain in declaration order.
var AllKnowledgeDomains = []KnowledgeDomain{
	DomainBusiness, DomainObjectives, DomainAudience, DomainBrand, DomainProduct,
	DomainCompetitive, DomainChannels, DomainCreative, DomainSeasonality, DomainMeasurement,
}

// Valid reports whether d is a known domain.
func (d KnowledgeDomain) Valid() bool {
	for _, k := range AllKnowledgeDomains {
		if k == d {
			return true
		}
	}
	return false
}

// KnowledgeField is one value in the knowledge graph with its confidence.
//
// Value holds strings, numbers, booleans or string lists as decoded from
// JSON. Confidence is within [0, 1].
type KnowledgeField struct {
	Value      any       `json:"value"`
	Confidence float64   `json:"confidence"`
	Source     string    `json:"source,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Empty reports whether the field carries no usable value.
func (f KnowledgeField) Empty() bool {
	switch v := f.Value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []any:
		return len(v) == 0
	case []string:
		return len(v) == 0
	}
	return false
}

// KnowledgeGraph is the account knowledge consumed by the loop.
type KnowledgeGraph struct {
	AccountID string                                        `json:"account_id"`
	Domains   map[KnowledgeDomain]map[string]KnowledgeField `json:"domains"`
	UpdatedAt time.Time                                     `json:"updated_at"`
}

// Clone returns a copy whose domain maps can be mutated independently.
// Field values are shared.
func (g *KnowledgeGraph) Clone() *KnowledgeGraph {
	if g == nil {
		return nil
	}
	out := &KnowledgeGraph{AccountID: g.AccountID, UpdatedAt: g.UpdatedAt}
	if g.Domains != nil {
		out.Domains = make(map[KnowledgeDomain]map[string]KnowledgeField, len(g.Domains))
		for d, fields := range g.Domains {
			out.Domains[d] = maps.Clone(fields)
		}
	}
	return out
}

// Field returns the field at domain.key.
func (g *KnowledgeGraph) Field(domain KnowledgeDomain, key string) (KnowledgeField, bool) {
	if g == nil || g.Domains == nil {
		return KnowledgeField{}, false
	}
	fields, ok := g.Domains[domain]
	if !ok {
		return KnowledgeField{}, false
	}
	f, ok := fields[key]
	if !ok || f.Empty() {
		return KnowledgeField{}, false
	}
	return f, true
}

// String returns the field value formatted as a string, or "" when absent.
func (g *KnowledgeGraph) String(domain KnowledgeDomain, key string) string {
	f, ok := g.Field(domain, key)
	if !ok {
		return ""
	}
	if s, ok := f.Value.(string); ok {
		return s
	}
	return fmt.Sprint(f.Value)
}

// Number returns a numeric field value.
func (g *KnowledgeGraph) Number(domain KnowledgeDomain, key string) (float64, bool) {
	f, ok := g.Field(domain, key)
	if !ok {
		return 0, false
	}
	switch v := f.Value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// Strings returns a list-valued field as strings. A scalar string value is
// split on commas.
func (g *KnowledgeGraph) Strings(domain KnowledgeDomain, key string) []string {
	f, ok := g.Field(domain, key)
	if !ok {
		return nil
	}
	switch v := f.Value.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case string:
		var out []string
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return nil
}

// Set stores a field, creating the domain map as needed.
func (g *KnowledgeGraph) Set(domain KnowledgeDomain, key string, f KnowledgeField) {
	if g.Domains == nil {
		g.Domains = make(map[KnowledgeDomain]map[string]KnowledgeField)
	}
	if g.Domains[domain] == nil {
		g.Domains[domain] = make(map[string]KnowledgeField)
	}
	g.Domains[domain][key] = f
}

// KnowledgeUpdate proposes a new value for one knowledge field.
type KnowledgeUpdate struct {
	Domain     KnowledgeDomain `json:"domain"`
	Field      string          `json:"field"`
	Value      any             `json:"value"`
	Confidence float64         `json:"confidence"`
	Reason     string          `json:"reason,omitempty"`
}

// FieldRef names one field of the knowledge graph.
type FieldRef struct {
	Domain KnowledgeDomain `json:"domain"`
	Field  string          `json:"field"`
}

// String returns "domain.field".
func (r FieldRef) String() string {
	return string(r.Domain) + "." + r.Field
}

// ExpectedFields lists, per domain, the fields a complete graph carries.
var ExpectedFields = map[KnowledgeDomain][]string{
	DomainBusiness:    {"industry", "business_model", "company_size"},
	DomainObjectives:  {"primary_goal", "monthly_budget", "target_cpa", "target_roas"},
	DomainAudience:    {"primary_segments", "core_segments", "geography"},
	DomainBrand:       {"voice", "value_proposition"},
	DomainProduct:     {"primary_offering", "price_range"},
	DomainCompetitive: {"main_competitors"},
	DomainChannels:    {"active_channels"},
	DomainCreative:    {"top_formats"},
	DomainSeasonality: {"peak_months"},
	DomainMeasurement: {"primary_kpi", "tracking_setup"},
}

// CriticalFields are the fields without which the loop cannot reason about
// an account.
var CriticalFields = []FieldRef{
	{DomainBusiness, "industry"},
	{DomainObjectives, "primary_goal"},
	{DomainObjectives, "monthly_budget"},
	{DomainAudience, "primary_segments"},
	{DomainChannels, "active_channels"},
	{DomainMeasurement, "primary_kpi"},
}

// MissingCriticalFields returns the critical fields absent from g, in
// CriticalFields order.
func MissingCriticalFields(g *KnowledgeGraph) []FieldRef {
	var missing []FieldRef
	for _, ref := range CriticalFields {
		if _, ok := g.Field(ref.Domain, ref.Field); !ok {
			missing = append(missing, ref)
		}
	}
	return missing
}
