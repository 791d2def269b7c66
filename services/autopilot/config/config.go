// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the autopilot service configuration.
//
// # Description
//
// Configuration is resolved in three layers, later layers winning:
//
//  1. DefaultConfig()
//  2. A YAML file (optional)
//  3. Environment variables (AUTOPILOT_* and the standard OTEL_* names)
//
// The result is validated with go-playground/validator struct tags plus
// cross-field checks. Credentials are sealed in memguard enclaves (see
// Secret) as soon as they are read.
//
// # Example
//
//	cfg, err := config.Load(os.Getenv("AUTOPILOT_CONFIG"))
//	if err != nil {
//	    return fmt.Errorf("load config: %w", err)
//	}
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/autopilot/pkg/logging"
	"github.com/AleutianAI/autopilot/services/autopilot/cycle"
	"github.com/AleutianAI/autopilot/services/autopilot/governance"
	"github.com/AleutianAI/autopilot/services/autopilot/scheduler"
	"github.com/AleutianAI/autopilot/services/autopilot/store"
	"github.com/AleutianAI/autopilot/services/autopilot/telemetry"
)

// ErrInvalid is wrapped by every validation failure returned from Load
// and Validate.
var ErrInvalid = errors.New("invalid configuration")

// =============================================================================
// Types
// =============================================================================

// Config is the complete service configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logging     logging.Config    `yaml:"logging"`
	Telemetry   telemetry.Config  `yaml:"telemetry"`
	Store       StoreConfig       `yaml:"store"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Cycle       CycleConfig       `yaml:"cycle"`
	Governance  GovernanceConfig  `yaml:"governance"`
	Rules       RulesConfig       `yaml:"rules"`
	Knowledge   KnowledgeConfig   `yaml:"knowledge"`
	Performance PerformanceConfig `yaml:"performance"`
	Generator   GeneratorConfig   `yaml:"generator"`
	Alerts      AlertsConfig      `yaml:"alerts"`
	Archive     ArchiveConfig     `yaml:"archive"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port              int           `yaml:"port" validate:"gte=1,lte=65535"`
	Mode              string        `yaml:"mode" validate:"oneof=debug release test"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" validate:"gte=0"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

// StoreConfig selects the key/value store.
type StoreConfig struct {
	// Backend is "badger" or "memory".
	Backend string             `yaml:"backend" validate:"oneof=badger memory"`
	Badger  store.BadgerConfig `yaml:"badger"`
}

// SchedulerConfig enables the background cycle scheduler.
type SchedulerConfig struct {
	Enabled          bool `yaml:"enabled"`
	scheduler.Config `yaml:",inline"`
}

// CycleConfig tunes the cycle engine.
type CycleConfig struct {
	GeneratorTimeout time.Duration `yaml:"generator_timeout" validate:"gte=0"`
	HistoryLimit     int           `yaml:"history_limit" validate:"gte=0"`
}

// GovernanceConfig tunes the governance layer.
type GovernanceConfig struct {
	AuditLimit int `yaml:"audit_limit" validate:"gte=0"`

	// AuditChainPath enables the hash-chained JSONL audit export.
	AuditChainPath string `yaml:"audit_chain_path"`
}

// RulesConfig locates rule catalogue and fleet overrides.
type RulesConfig struct {
	// CatalogPath replaces the embedded catalogue when set.
	CatalogPath string `yaml:"catalog_path"`

	// OverridesPath is watched for fleet-wide rule overrides.
	OverridesPath string `yaml:"overrides_path"`
}

// KnowledgeConfig selects the knowledge loader.
type KnowledgeConfig struct {
	// Backend is "store" (ingested through the API) or "weaviate".
	Backend     string        `yaml:"backend" validate:"oneof=store weaviate"`
	WeaviateURL string        `yaml:"weaviate_url" validate:"required_if=Backend weaviate,omitempty,url"`
	CacheTTL    time.Duration `yaml:"cache_ttl" validate:"gte=0"`
}

// PerformanceConfig selects the performance source.
type PerformanceConfig struct {
	// Backend is "store" (ingested through the API) or "influx".
	Backend     string        `yaml:"backend" validate:"oneof=store influx"`
	InfluxURL   string        `yaml:"influx_url" validate:"required_if=Backend influx,omitempty,url"`
	InfluxToken Secret        `yaml:"influx_token"`
	Org         string        `yaml:"org" validate:"required_if=Backend influx"`
	Bucket      string        `yaml:"bucket" validate:"required_if=Backend influx"`
	Measurement string        `yaml:"measurement"`
	Period      time.Duration `yaml:"period" validate:"gte=0"`
}

// GeneratorConfig selects the hypothesis and optimization generator.
type GeneratorConfig struct {
	// Backend is "static", "http" or "openai".
	Backend           string        `yaml:"backend" validate:"oneof=static http openai"`
	URL               string        `yaml:"url" validate:"required_if=Backend http,omitempty,url"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gte=0"`
	Burst             int           `yaml:"burst" validate:"gte=0"`
	Timeout           time.Duration `yaml:"timeout" validate:"gte=0"`
	OpenAIModel       string        `yaml:"openai_model"`
	OpenAIKey         Secret        `yaml:"openai_api_key"`
}

// AlertsConfig selects the alert publisher.
type AlertsConfig struct {
	// Backend is "log", "nats" or "none".
	Backend       string        `yaml:"backend" validate:"oneof=log nats none"`
	NATSURL       string        `yaml:"nats_url" validate:"required_if=Backend nats"`
	NATSName      string        `yaml:"nats_name"`
	NATSToken     Secret        `yaml:"nats_token"`
	ReconnectWait time.Duration `yaml:"reconnect_wait" validate:"gte=0"`
	FlushTimeout  time.Duration `yaml:"flush_timeout" validate:"gte=0"`

	// MirrorAudit also publishes every audit entry on the bus.
	MirrorAudit bool `yaml:"mirror_audit"`
}

// ArchiveConfig enables cycle archival to Cloud Storage.
type ArchiveConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket" validate:"required_if=Enabled true"`
	Prefix          string `yaml:"prefix"`
	CredentialsFile string `yaml:"credentials_file"`
}

// =============================================================================
// Defaults
// =============================================================================

// DefaultConfig returns a configuration that runs entirely in-process:
// Badger under ./data/autopilot, knowledge and performance ingested through
// the API, the static generator and log-only alerts.
func DefaultConfig() Config {
	badger := store.DefaultBadgerConfig()
	badger.Path = "./data/autopilot"

	return Config{
		Server: ServerConfig{
			Port:              12220,
			Mode:              "release",
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   15 * time.Second,
		},
		Logging: logging.Config{
			Level:   logging.LevelInfo,
			Service: "autopilot",
			JSON:    true,
		},
		Telemetry: telemetry.DefaultConfig(),
		Store: StoreConfig{
			Backend: "badger",
			Badger:  badger,
		},
		Scheduler: SchedulerConfig{
			Enabled: true,
			Config:  scheduler.DefaultConfig(),
		},
		Cycle: CycleConfig{
			GeneratorTimeout: cycle.DefaultGeneratorTimeout,
			HistoryLimit:     cycle.DefaultHistoryLimit,
		},
		Governance: GovernanceConfig{
			AuditLimit: governance.DefaultAuditLimit,
		},
		Knowledge: KnowledgeConfig{
			Backend:  "store",
			CacheTTL: time.Minute,
		},
		Performance: PerformanceConfig{
			Backend:     "store",
			Measurement: "channel_performance",
			Period:      7 * 24 * time.Hour,
		},
		Generator: GeneratorConfig{
			Backend:           "static",
			RequestsPerSecond: 2,
			Burst:             1,
			Timeout:           30 * time.Second,
			OpenAIModel:       "gpt-4o-mini",
		},
		Alerts: AlertsConfig{
			Backend:       "log",
			NATSName:      "autopilot",
			ReconnectWait: 2 * time.Second,
			FlushTimeout:  2 * time.Second,
		},
		Archive: ArchiveConfig{
			Prefix: "cycles",
		},
	}
}

// =============================================================================
// Loading
// =============================================================================

// Load resolves the configuration from defaults, the YAML file at path
// (skipped when path is empty) and the environment.
//
// # Outputs
//
//   - *Config: The validated configuration.
//   - error: Non-nil if the file cannot be read or parsed, an environment
//     value is malformed, or validation fails (wraps ErrInvalid).
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := Parse(data, &cfg); err != nil {
			return nil, err
		}
	}
	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Parse decodes YAML onto cfg. Keys absent from data keep their current
// values, so callers usually start from DefaultConfig().
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// envBinding maps one environment variable onto a field.
type envBinding struct {
	key   string
	apply func(cfg *Config, v string) error
}

func str(set func(*Config, string)) func(*Config, string) error {
	return func(c *Config, v string) error { set(c, v); return nil }
}

func integer(set func(*Config, int)) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		set(c, n)
		return nil
	}
}

func boolean(set func(*Config, bool)) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		set(c, b)
		return nil
	}
}

func duration(set func(*Config, time.Duration)) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		set(c, d)
		return nil
	}
}

var envBindings = []envBinding{
	{"AUTOPILOT_PORT", integer(func(c *Config, n int) { c.Server.Port = n })},
	{"AUTOPILOT_GIN_MODE", str(func(c *Config, v string) { c.Server.Mode = v })},
	{"AUTOPILOT_LOG_LEVEL", func(c *Config, v string) error {
		l, err := logging.ParseLevel(v)
		c.Logging.Level = l
		return err
	}},
	{"AUTOPILOT_LOG_DIR", str(func(c *Config, v string) { c.Logging.LogDir = v })},
	{"AUTOPILOT_LOG_JSON", boolean(func(c *Config, b bool) { c.Logging.JSON = b })},
	{"AUTOPILOT_ENV", str(func(c *Config, v string) { c.Telemetry.Environment = v })},
	{"OTEL_SERVICE_NAME", str(func(c *Config, v string) { c.Telemetry.ServiceName = v })},
	{"OTEL_TRACES_EXPORTER", str(func(c *Config, v string) { c.Telemetry.TraceExporter = v })},
	{"OTEL_METRICS_EXPORTER", str(func(c *Config, v string) { c.Telemetry.MetricExporter = v })},
	{"OTEL_EXPORTER_OTLP_ENDPOINT", str(func(c *Config, v string) { c.Telemetry.OTLPEndpoint = v })},
	{"AUTOPILOT_STORE_BACKEND", str(func(c *Config, v string) { c.Store.Backend = v })},
	{"AUTOPILOT_STORE_PATH", str(func(c *Config, v string) { c.Store.Badger.Path = v })},
	{"AUTOPILOT_SCHEDULER_ENABLED", boolean(func(c *Config, b bool) { c.Scheduler.Enabled = b })},
	{"AUTOPILOT_SCHEDULER_INTERVAL", duration(func(c *Config, d time.Duration) { c.Scheduler.Interval = d })},
	{"AUTOPILOT_SCHEDULER_MAX_CONCURRENT", integer(func(c *Config, n int) { c.Scheduler.MaxConcurrent = n })},
	{"AUTOPILOT_AUDIT_CHAIN_PATH", str(func(c *Config, v string) { c.Governance.AuditChainPath = v })},
	{"AUTOPILOT_RULES_CATALOG", str(func(c *Config, v string) { c.Rules.CatalogPath = v })},
	{"AUTOPILOT_RULES_OVERRIDES", str(func(c *Config, v string) { c.Rules.OverridesPath = v })},
	{"AUTOPILOT_KNOWLEDGE_BACKEND", str(func(c *Config, v string) { c.Knowledge.Backend = v })},
	{"AUTOPILOT_WEAVIATE_URL", str(func(c *Config, v string) { c.Knowledge.WeaviateURL = v })},
	{"AUTOPILOT_PERFORMANCE_BACKEND", str(func(c *Config, v string) { c.Performance.Backend = v })},
	{"AUTOPILOT_INFLUX_URL", str(func(c *Config, v string) { c.Performance.InfluxURL = v })},
	{"AUTOPILOT_INFLUX_TOKEN", str(func(c *Config, v string) { c.Performance.InfluxToken = NewSecret(v) })},
	{"AUTOPILOT_INFLUX_ORG", str(func(c *Config, v string) { c.Performance.Org = v })},
	{"AUTOPILOT_INFLUX_BUCKET", str(func(c *Config, v string) { c.Performance.Bucket = v })},
	{"AUTOPILOT_GENERATOR_BACKEND", str(func(c *Config, v string) { c.Generator.Backend = v })},
	{"AUTOPILOT_GENERATOR_URL", str(func(c *Config, v string) { c.Generator.URL = v })},
	{"AUTOPILOT_OPENAI_MODEL", str(func(c *Config, v string) { c.Generator.OpenAIModel = v })},
	{"AUTOPILOT_OPENAI_API_KEY", str(func(c *Config, v string) { c.Generator.OpenAIKey = NewSecret(v) })},
	{"AUTOPILOT_ALERTS_BACKEND", str(func(c *Config, v string) { c.Alerts.Backend = v })},
	{"AUTOPILOT_NATS_URL", str(func(c *Config, v string) { c.Alerts.NATSURL = v })},
	{"AUTOPILOT_NATS_TOKEN", str(func(c *Config, v string) { c.Alerts.NATSToken = NewSecret(v) })},
	{"AUTOPILOT_ARCHIVE_BUCKET", str(func(c *Config, v string) {
		c.Archive.Bucket = v
		c.Archive.Enabled = v != ""
	})},
	{"AUTOPILOT_ARCHIVE_CREDENTIALS", str(func(c *Config, v string) { c.Archive.CredentialsFile = v })},
}

// ApplyEnv overlays environment variables onto cfg.
//
// # Outputs
//
//   - error: Joined errors naming every malformed variable; cfg keeps
//     the values that did parse.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	var errs []error
	for _, b := range envBindings {
		v, ok := lookup(b.key)
		if !ok {
			continue
		}
		if err := b.apply(cfg, strings.TrimSpace(v)); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("environment overrides: %w", errors.Join(errs...))
	}
	return nil
}

// =============================================================================
// Validation
// =============================================================================

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags and cross-field constraints.
//
// # Outputs
//
//   - error: Wraps ErrInvalid and lists every failing field.
func (c *Config) Validate() error {
	var problems []string

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		for _, fe := range verrs {
			problems = append(problems, fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag()))
		}
	}

	if c.Store.Backend == "badger" && !c.Store.Badger.InMemory && c.Store.Badger.Path == "" {
		problems = append(problems, "store.badger.path is required for the badger backend")
	}
	if c.Generator.Backend == "openai" && !c.Generator.OpenAIKey.IsSet() {
		problems = append(problems, "generator.openai_api_key is required for the openai backend")
	}
	if c.Performance.Backend == "influx" && !c.Performance.InfluxToken.IsSet() {
		problems = append(problems, "performance.influx_token is required for the influx backend")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}
