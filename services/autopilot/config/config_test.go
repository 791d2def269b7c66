// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/autopilot/pkg/logging"
)

func lookupFrom(env map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

// =============================================================================
// Defaults and Loading
// =============================================================================

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "badger", cfg.Store.Backend)
	assert.Equal(t, "static", cfg.Generator.Backend)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.Interval)
}

func TestLoad_YAMLOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autopilot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
store:
  backend: memory
scheduler:
  enabled: false
  interval: 1m
alerts:
  backend: none
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.False(t, cfg.Scheduler.Enabled)
	assert.Equal(t, time.Minute, cfg.Scheduler.Interval)
	assert.Equal(t, 4, cfg.Scheduler.MaxConcurrent)
	assert.Equal(t, "none", cfg.Alerts.Backend)
	assert.Equal(t, "release", cfg.Server.Mode)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestParse_Malformed(t *testing.T) {
	cfg := DefaultConfig()
	require.Error(t, Parse([]byte("server: [1, 2"), &cfg))
}

// =============================================================================
// Environment Overrides
// =============================================================================

func TestApplyEnv(t *testing.T) {
	cfg := DefaultConfig()
	err := ApplyEnv(&cfg, lookupFrom(map[string]string{
		"AUTOPILOT_PORT":               "8088",
		"AUTOPILOT_LOG_LEVEL":          "debug",
		"AUTOPILOT_STORE_BACKEND":      "memory",
		"AUTOPILOT_SCHEDULER_INTERVAL": "30s",
		"AUTOPILOT_OPENAI_API_KEY":     " sk-test ",
		"AUTOPILOT_GENERATOR_BACKEND":  "openai",
		"AUTOPILOT_ARCHIVE_BUCKET":     "cycles-archive",
		"OTEL_TRACES_EXPORTER":         "none",
	}))
	require.NoError(t, err)

	assert.Equal(t, 8088, cfg.Server.Port)
	assert.Equal(t, logging.LevelDebug, cfg.Logging.Level)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.Interval)
	assert.Equal(t, "none", cfg.Telemetry.TraceExporter)
	assert.True(t, cfg.Archive.Enabled)
	assert.Equal(t, "cycles-archive", cfg.Archive.Bucket)

	key, err := cfg.Generator.OpenAIKey.Reveal()
	require.NoError(t, err)
	assert.Equal(t, "sk-test", key)
	require.NoError(t, cfg.Validate())
}

func TestApplyEnv_ReportsEveryMalformedValue(t *testing.T) {
	cfg := DefaultConfig()
	err := ApplyEnv(&cfg, lookupFrom(map[string]string{
		"AUTOPILOT_PORT":               "eighty",
		"AUTOPILOT_SCHEDULER_INTERVAL": "soon",
		"AUTOPILOT_STORE_BACKEND":      "memory",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTOPILOT_PORT")
	assert.Contains(t, err.Error(), "AUTOPILOT_SCHEDULER_INTERVAL")
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, 12220, cfg.Server.Port)
}

// =============================================================================
// Validation
// =============================================================================

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }, "Port"},
		{"unknown store", func(c *Config) { c.Store.Backend = "sqlite" }, "Backend"},
		{"badger without path", func(c *Config) { c.Store.Badger.Path = "" }, "store.badger.path"},
		{"openai without key", func(c *Config) { c.Generator.Backend = "openai" }, "openai_api_key"},
		{"http generator without url", func(c *Config) { c.Generator.Backend = "http" }, "URL"},
		{"influx without token", func(c *Config) {
			c.Performance.Backend = "influx"
			c.Performance.InfluxURL = "http://influx:8086"
			c.Performance.Org = "acme"
			c.Performance.Bucket = "perf"
		}, "influx_token"},
		{"nats without url", func(c *Config) { c.Alerts.Backend = "nats" }, "NATSURL"},
		{"archive without bucket", func(c *Config) { c.Archive.Enabled = true }, "Bucket"},
		{"otlp without endpoint", func(c *Config) {
			c.Telemetry.TraceExporter = "otlp"
			c.Telemetry.OTLPEndpoint = ""
		}, "OTLPEndpoint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_InMemoryBadgerNeedsNoPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.Badger.Path = ""
	cfg.Store.Badger.InMemory = true
	assert.NoError(t, cfg.Validate())
}

// =============================================================================
// Secrets
// =============================================================================

func TestSecret_RedactsAndReveals(t *testing.T) {
	s := NewSecret("hunter2")
	require.True(t, s.IsSet())
	assert.Equal(t, "[redacted]", s.String())

	v, err := s.Reveal()
	require.NoError(t, err)
	assert.Equal(t, "hunter2", v)

	again, err := s.Reveal()
	require.NoError(t, err)
	assert.Equal(t, "hunter2", again)
}

func TestSecret_Empty(t *testing.T) {
	s := NewSecret("")
	assert.False(t, s.IsSet())
	v, err := s.Reveal()
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestSecret_YAML(t *testing.T) {
	var cfg struct {
		Token Secret `yaml:"token"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("token: abc123\n"), &cfg))
	v, err := cfg.Token.Reveal()
	require.NoError(t, err)
	assert.Equal(t, "abc123", v)

	out, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "abc123")
	assert.Contains(t, string(out), "[redacted]")

	require.Error(t, yaml.Unmarshal(out, &cfg))
}
