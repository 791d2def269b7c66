// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command autopilot starts the autopilot HTTP server and scheduler.
//
// Configuration is layered: built-in defaults, then the YAML file given by
// -config (or AUTOPILOT_CONFIG), then AUTOPILOT_* environment variables.
//
// # Environment Variables
//
//   - AUTOPILOT_CONFIG: Path to the YAML config file (optional)
//   - AUTOPILOT_PORT: HTTP server port (default: 12220)
//   - AUTOPILOT_STORE_PATH: Badger data directory (default: ./data/autopilot)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: localhost:4317)
//
// # Usage
//
//	# Build
//	go build -o autopilot ./cmd/autopilot
//
//	# Run
//	./autopilot -config autopilot.yaml
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/awnumar/memguard"

	"github.com/AleutianAI/autopilot/pkg/logging"
	"github.com/AleutianAI/autopilot/services/autopilot"
	"github.com/AleutianAI/autopilot/services/autopilot/config"
)

func main() {
	configPath := flag.String("config", os.Getenv("AUTOPILOT_CONFIG"), "path to the YAML config file")
	flag.Parse()

	// Signals go to the graceful shutdown path, so secrets are wiped here
	// rather than through memguard.CatchInterrupt.
	err := run(*configPath)
	memguard.Purge()
	if err != nil {
		log.Fatalf("autopilot: %v", err)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := logging.New(cfg.Logging)
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	slog.Info("Starting autopilot",
		"port", cfg.Server.Port,
		"store", cfg.Store.Backend,
		"knowledge", cfg.Knowledge.Backend,
		"performance", cfg.Performance.Backend,
		"generator", cfg.Generator.Backend,
		"alerts", cfg.Alerts.Backend,
		"scheduler", cfg.Scheduler.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := autopilot.New(ctx, cfg, logger.Slog())
	if err != nil {
		return err
	}
	return svc.Run(ctx)
}
