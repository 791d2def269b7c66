// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package generators

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/autopilot/services/autopilot/datatypes"
	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = "gpt-4o-mini"

const systemPrompt = `You are a performance marketing strategist. You receive a JSON description
of an advertising account and answer ONLY with a JSON object matching the
requested schema. Never include prose outside the JSON object.`

const hypothesesInstruction = `Propose testable hypotheses. Respond as
{"hypotheses":[{"domain":"<knowledge domain>","title":"...","description":"...","channel":"...","confidence":0.0-1.0,"expected_impact":0.0-1.0}]}`

const optimizationsInstruction = `Propose concrete optimizations. Respond as
{"budget":[{"channel":"...","current_budget":0,"proposed_budget":0,"reason":"..."}],
 "creative":[{"creative_id":"...","channel":"...","priority":"high|medium|low","recommendation":"..."}],
 "audience":[{"segment":"...","channel":"...","operation":"add|remove|modify","reason":"..."}],
 "knowledge_updates":[{"domain":"...","field":"...","value":"...","confidence":0.0-1.0,"reason":"..."}]}`

// chatCompleter is the subset of the OpenAI client used here.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIGenerator asks a chat model for candidates in JSON mode.
//
// # Description
//
// The generator is the only place model text is produced; the loop itself
// consumes the decoded structs. Malformed output is an error, which the
// loop degrades to zero candidates.
type OpenAIGenerator struct {
	client chatCompleter
	model  string
	logger *slog.Logger
}

// NewOpenAIGenerator returns a generator using apiKey and model. An empty
// model selects gpt-4o-mini.
func NewOpenAIGenerator(apiKey, model string, logger *slog.Logger) (*OpenAIGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if model == "" {
		model = defaultOpenAIModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIGenerator{
		client: openai.NewClient(apiKey),
		model:  model,
		logger: logger.With(slog.String("component", "generator_openai"), slog.String("model", model)),
	}, nil
}

// Hypotheses implements Generator.
func (g *OpenAIGenerator) Hypotheses(ctx context.Context, req datatypes.GenerationRequest) ([]datatypes.Hypothesis, error) {
	var out struct {
		Hypotheses []datatypes.Hypothesis `json:"hypotheses"`
	}
	if err := g.complete(ctx, hypothesesInstruction, req, &out); err != nil {
		return nil, err
	}
	for i := range out.Hypotheses {
		if out.Hypotheses[i].ID == "" {
			out.Hypotheses[i].ID = uuid.New().String()
		}
	}
	return out.Hypotheses, nil
}

// Optimizations implements Generator.
func (g *OpenAIGenerator) Optimizations(ctx context.Context, req datatypes.GenerationRequest) (datatypes.OptimizationPlan, error) {
	var plan datatypes.OptimizationPlan
	if err := g.complete(ctx, optimizationsInstruction, req, &plan); err != nil {
		return datatypes.OptimizationPlan{}, err
	}
	return plan, nil
}

func (g *OpenAIGenerator) complete(ctx context.Context, instruction string, req datatypes.GenerationRequest, out any) error {
	account, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode account context: %w", err)
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: instruction + "\n\nAccount:\n" + string(account)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return fmt.Errorf("openai api call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("openai returned no choices")
	}
	g.logger.Debug("received generator response", slog.String("finish_reason", string(resp.Choices[0].FinishReason)))

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return fmt.Errorf("decode model output: %w", err)
	}
	return nil
}

var _ Generator = (*OpenAIGenerator)(nil)
