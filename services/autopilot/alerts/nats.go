// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/autopilot/services/autopilot/datatypes"
	"github.com/AleutianAI/autopilot/services/autopilot/governance"
	"github.com/nats-io/nats.go"
)

// ErrNotConnected is returned when publishing without a live connection.
var ErrNotConnected = errors.New("nats publisher not connected")

// NATSConfig configures the NATS connection.
type NATSConfig struct {
	URL           string
	Token         string
	Name          string
	ReconnectWait time.Duration
	FlushTimeout  time.Duration
}

// NATSPublisher publishes alerts and audit entries to NATS core subjects.
//
// # Description
//
// Alerts go to AlertSubject(account, severity). As a governance.AuditSink
// every audit entry is also mirrored to AuditSubject(account), so external
// consumers can follow decisions without polling the HTTP API.
//
// # Thread Safety
//
// Safe for concurrent use; *nats.Conn is.
type NATSPublisher struct {
	conn         *nats.Conn
	flushTimeout time.Duration
	logger       *slog.Logger
}

var (
	_ Publisher            = (*NATSPublisher)(nil)
	_ governance.AuditSink = (*NATSPublisher)(nil)
)

// NewNATSPublisher connects to the server at cfg.URL.
//
// # Outputs
//
//   - *NATSPublisher: Connected publisher. Call Close when done.
//   - error: Non-nil if the initial connection fails.
func NewNATSPublisher(cfg NATSConfig, logger *slog.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "nats_publisher"))
	if cfg.Name == "" {
		cfg.Name = "autopilot"
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	logger.Info("connected to NATS", slog.String("url", conn.ConnectedUrl()))
	return NewNATSPublisherFromConn(conn, cfg.FlushTimeout, logger), nil
}

// NewNATSPublisherFromConn wraps an existing connection.
func NewNATSPublisherFromConn(conn *nats.Conn, flushTimeout time.Duration, logger *slog.Logger) *NATSPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSPublisher{conn: conn, flushTimeout: flushTimeout, logger: logger}
}

// Publish sends data on subject. With a flush timeout set it waits for the
// server to acknowledge the write.
func (p *NATSPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	if p.conn == nil || p.conn.IsClosed() {
		return ErrNotConnected
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	if p.flushTimeout <= 0 {
		return nil
	}
	fctx, cancel := context.WithTimeout(ctx, p.flushTimeout)
	defer cancel()
	if err := p.conn.FlushWithContext(fctx); err != nil {
		return fmt.Errorf("flush %s: %w", subject, err)
	}
	return nil
}

// OnAuditEntry mirrors an audit entry to the account's audit subject.
func (p *NATSPublisher) OnAuditEntry(ctx context.Context, e datatypes.AuditEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	return p.Publish(ctx, AuditSubject(e.AccountID), data)
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	if p.conn == nil || p.conn.IsClosed() {
		return nil
	}
	return p.conn.Drain()
}
