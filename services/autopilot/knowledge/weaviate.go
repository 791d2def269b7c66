// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/autopilot/services/autopilot/datatypes"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// KnowledgeClassName is the Weaviate class holding one object per field.
const KnowledgeClassName = "AccountKnowledge"

// maxFieldsPerAccount bounds a single graph query.
const maxFieldsPerAccount = 1000

// WeaviateLoader reads the knowledge graph from Weaviate.
//
// # Description
//
// Each knowledge field is stored as one AccountKnowledge object with the
// value JSON-encoded in a text property. When several objects exist for the
// same domain and field, the most recently updated one wins.
//
// # Thread Safety
//
// Safe for concurrent use; the underlying client is.
type WeaviateLoader struct {
	client *weaviate.Client
	logger *slog.Logger
}

// NewWeaviateLoader returns a loader on client.
func NewWeaviateLoader(client *weaviate.Client, logger *slog.Logger) *WeaviateLoader {
	if logger == nil {
		logger = slog.Default()
	}
	return &WeaviateLoader{client: client, logger: logger.With(slog.String("component", "knowledge_weaviate"))}
}

// KnowledgeSchema returns the class definition for knowledge fields.
func KnowledgeSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       KnowledgeClassName,
		Description: "One field of an account's marketing knowledge graph.",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{Name: "accountId", DataType: []string{"text"}, Tokenization: "field", IndexFilterable: indexFilterable},
			{Name: "domain", DataType: []string{"text"}, Tokenization: "field", IndexFilterable: indexFilterable},
			{Name: "field", DataType: []string{"text"}, Tokenization: "field"},
			{Name: "value", DataType: []string{"text"}, Description: "JSON-encoded field value."},
			{Name: "confidence", DataType: []string{"number"}},
			{Name: "source", DataType: []string{"text"}},
			{Name: "updatedAt", DataType: []string{"date"}},
		},
	}
}

// EnsureSchema creates the knowledge class if it does not exist.
func (w *WeaviateLoader) EnsureSchema(ctx context.Context) error {
	class := KnowledgeSchema()
	if _, err := w.client.Schema().ClassGetter().WithClassName(class.Class).Do(ctx); err == nil {
		w.logger.Debug("schema already exists", slog.String("class", class.Class))
		return nil
	}
	w.logger.Info("schema not found, creating it", slog.String("class", class.Class))
	if err := w.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("create schema for class %s: %w", class.Class, err)
	}
	return nil
}

// Load implements Loader.
func (w *WeaviateLoader) Load(ctx context.Context, accountID string) (*datatypes.KnowledgeGraph, error) {
	where := filters.Where().
		WithPath([]string{"accountId"}).
		WithOperator(filters.Equal).
		WithValueString(accountID)

	fields := []graphql.Field{
		{Name: "domain"},
		{Name: "field"},
		{Name: "value"},
		{Name: "confidence"},
		{Name: "source"},
		{Name: "updatedAt"},
	}

	result, err := w.client.GraphQL().Get().
		WithClassName(KnowledgeClassName).
		WithFields(fields...).
		WithWhere(where).
		WithLimit(maxFieldsPerAccount).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("querying knowledge for %s: %w", accountID, err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("query error: %s", result.Errors[0].Message)
	}

	g := parseKnowledge(accountID, result, w.logger)
	if len(g.Domains) == 0 {
		return nil, fmt.Errorf("account %s: %w", accountID, datatypes.ErrKnowledgeNotFound)
	}
	return g, nil
}

// Save implements Saver by writing one object per field.
func (w *WeaviateLoader) Save(ctx context.Context, graph *datatypes.KnowledgeGraph) error {
	for domain, fields := range graph.Domains {
		for name, f := range fields {
			raw, err := json.Marshal(f.Value)
			if err != nil {
				return fmt.Errorf("encode %s.%s: %w", domain, name, err)
			}
			updated := f.UpdatedAt
			if updated.IsZero() {
				updated = time.Now()
			}
			props := map[string]interface{}{
				"accountId":  graph.AccountID,
				"domain":     string(domain),
				"field":      name,
				"value":      string(raw),
				"confidence": f.Confidence,
				"source":     f.Source,
				"updatedAt":  updated.UTC().Format(time.RFC3339),
			}
			if _, err := w.client.Data().Creator().
				WithClassName(KnowledgeClassName).
				WithProperties(props).
				Do(ctx); err != nil {
				return fmt.Errorf("save %s.%s: %w", domain, name, err)
			}
		}
	}
	return nil
}

// parseKnowledge converts a GraphQL response into a graph.
func parseKnowledge(accountID string, result *models.GraphQLResponse, logger *slog.Logger) *datatypes.KnowledgeGraph {
	g := &datatypes.KnowledgeGraph{AccountID: accountID}

	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return g
	}
	objects, ok := data[KnowledgeClassName].([]interface{})
	if !ok {
		return g
	}

	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		domain := datatypes.KnowledgeDomain(getString(m, "domain"))
		name := getString(m, "field")
		if !domain.Valid() || name == "" {
			continue
		}

		var value any
		if raw := getString(m, "value"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &value); err != nil {
				logger.Warn("skipping malformed knowledge value",
					slog.String("account_id", accountID),
					slog.String("field", string(domain)+"."+name),
					slog.String("error", err.Error()))
				continue
			}
		}
		f := datatypes.KnowledgeField{
			Value:      value,
			Confidence: getFloat64(m, "confidence"),
			Source:     getString(m, "source"),
		}
		if ts := getString(m, "updatedAt"); ts != "" {
			if t, err := time.Parse(time.RFC3339, ts); err == nil {
				f.UpdatedAt = t
			}
		}

		if prev, exists := g.Domains[domain][name]; exists && prev.UpdatedAt.After(f.UpdatedAt) {
			continue
		}
		g.Set(domain, name, f)
		if f.UpdatedAt.After(g.UpdatedAt) {
			g.UpdatedAt = f.UpdatedAt
		}
	}
	return g
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func getFloat64(m map[string]interface{}, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case json.Number:
		f, _ := v.Float64()
		return f
	}
	return 0
}

var (
	_ Loader = (*WeaviateLoader)(nil)
	_ Saver  = (*WeaviateLoader)(nil)
)
