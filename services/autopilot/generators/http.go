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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/autopilot/services/autopilot/datatypes"
	"github.com/AleutianAI/autopilot/services/autopilot/telemetry"
	"golang.org/x/time/rate"
)

// HTTPConfig configures an HTTPGenerator.
type HTTPConfig struct {
	// BaseURL of the generator service. Requests go to
	// {BaseURL}/v1/hypotheses and {BaseURL}/v1/optimizations.
	BaseURL string

	// RequestsPerSecond caps the outbound request rate. Zero means 2.
	RequestsPerSecond float64

	// Burst is the limiter burst. Zero means 1.
	Burst int

	// Timeout bounds each HTTP request. Zero means 30s.
	Timeout time.Duration
}

// HTTPGenerator calls a remote generator service over JSON/HTTP.
//
// # Description
//
// Outbound calls share one token-bucket limiter so a fleet-wide scheduler
// tick cannot flood the generator service.
//
// # Thread Safety
//
// Safe for concurrent use.
type HTTPGenerator struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewHTTPGenerator returns a generator for cfg.
func NewHTTPGenerator(cfg HTTPConfig, logger *slog.Logger) (*HTTPGenerator, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("generator base url is required")
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPGenerator{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:  logger.With(slog.String("component", "generator_http")),
	}, nil
}

// Hypotheses implements Generator.
func (g *HTTPGenerator) Hypotheses(ctx context.Context, req datatypes.GenerationRequest) ([]datatypes.Hypothesis, error) {
	var resp struct {
		Hypotheses []datatypes.Hypothesis `json:"hypotheses"`
	}
	if err := g.post(ctx, "/v1/hypotheses", req, &resp); err != nil {
		return nil, err
	}
	return resp.Hypotheses, nil
}

// Optimizations implements Generator.
func (g *HTTPGenerator) Optimizations(ctx context.Context, req datatypes.GenerationRequest) (datatypes.OptimizationPlan, error) {
	var plan datatypes.OptimizationPlan
	if err := g.post(ctx, "/v1/optimizations", req, &plan); err != nil {
		return datatypes.OptimizationPlan{}, err
	}
	return plan, nil
}

func (g *HTTPGenerator) post(ctx context.Context, path string, body, out any) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("generator rate limit: %w", err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode generator request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build generator request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	telemetry.InjectContext(ctx, httpReq.Header)

	start := time.Now()
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("generator request %s: %w", path, err)
	}
	defer resp.Body.Close()

	g.logger.Debug("generator call",
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("latency", time.Since(start)))

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("generator %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode generator response: %w", err)
	}
	return nil
}

var _ Generator = (*HTTPGenerator)(nil)
