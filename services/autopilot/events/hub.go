// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package events streams audit activity to websocket subscribers.
package events

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/autopilot/services/autopilot/datatypes"
	"github.com/AleutianAI/autopilot/services/autopilot/governance"
	"github.com/gorilla/websocket"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// subscriberBuffer is the per-subscriber queue length. A subscriber
	// that falls this far behind loses events.
	subscriberBuffer = 64

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// EventAudit is the type of events produced from audit entries.
const EventAudit = "audit"

// =============================================================================
// Types
// =============================================================================

// Event is one message on the stream.
type Event struct {
	Type      string    `json:"type"`
	AccountID string    `json:"account_id"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

type subscriber struct {
	accountID string
	ch        chan Event
}

// Hub fans events out to subscribers.
//
// # Description
//
// Hub is a governance.AuditSink: every audit entry becomes an EventAudit
// event. Publishing never blocks; events for a full subscriber queue are
// dropped and counted.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Hub struct {
	mu       sync.RWMutex
	subs     map[*subscriber]struct{}
	closed   bool
	dropped  atomic.Int64
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

var _ governance.AuditSink = (*Hub)(nil)

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs: make(map[*subscriber]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger.With(slog.String("component", "event_hub")),
	}
}

// Subscribe registers a subscriber. An empty accountID receives events for
// every account. The returned cancel func must be called to release it.
func (h *Hub) Subscribe(accountID string) (<-chan Event, func()) {
	sub := &subscriber{accountID: accountID, ch: make(chan Event, subscriberBuffer)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if _, ok := h.subs[sub]; ok {
				delete(h.subs, sub)
				close(sub.ch)
			}
			h.mu.Unlock()
		})
	}
}

// Publish delivers e to every matching subscriber without blocking.
func (h *Hub) Publish(e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if sub.accountID != "" && sub.accountID != e.AccountID {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			h.dropped.Add(1)
		}
	}
}

// OnAuditEntry publishes an audit entry as an event.
func (h *Hub) OnAuditEntry(_ context.Context, entry datatypes.AuditEntry) error {
	h.Publish(Event{
		Type:      EventAudit,
		AccountID: entry.AccountID,
		Timestamp: entry.Timestamp,
		Data:      entry,
	})
	return nil
}

// Subscribers returns the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns how many events were discarded for slow subscribers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Close disconnects every subscriber. Later subscriptions are closed
// immediately.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		close(sub.ch)
		delete(h.subs, sub)
	}
}

// =============================================================================
// Websocket
// =============================================================================

// ServeWS upgrades the request and streams events for accountID until the
// client goes away or the hub closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, accountID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	events, cancel := h.Subscribe(accountID)
	defer cancel()
	h.logger.Info("websocket subscriber connected",
		slog.String("account_id", accountID),
		slog.String("remote", r.RemoteAddr))

	// The read side only exists to process control frames and notice the
	// client leaving.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case e, ok := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := conn.WriteJSON(e); err != nil {
				h.logger.Debug("websocket write failed", slog.String("error", err.Error()))
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
