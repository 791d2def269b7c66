// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package events

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/autopilot/services/autopilot/datatypes"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func auditEntry(account string) datatypes.AuditEntry {
	return datatypes.AuditEntry{
		ID:        "e-" + account,
		AccountID: account,
		Action:    datatypes.AuditCycleCompleted,
		Timestamp: time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC),
	}
}

func TestHub_SubscribeFiltersByAccount(t *testing.T) {
	h := NewHub(nil)
	one, cancelOne := h.Subscribe("acct-1")
	defer cancelOne()
	all, cancelAll := h.Subscribe("")
	defer cancelAll()

	require.NoError(t, h.OnAuditEntry(context.Background(), auditEntry("acct-2")))
	require.NoError(t, h.OnAuditEntry(context.Background(), auditEntry("acct-1")))

	got := <-one
	assert.Equal(t, "acct-1", got.AccountID)
	assert.Equal(t, EventAudit, got.Type)
	assert.Empty(t, one)
	assert.Len(t, all, 2)
}

func TestHub_DropsForSlowSubscriber(t *testing.T) {
	h := NewHub(nil)
	_, cancel := h.Subscribe("acct-1")
	defer cancel()
	for i := 0; i < subscriberBuffer+5; i++ {
		h.Publish(Event{AccountID: "acct-1"})
	}
	assert.Equal(t, int64(5), h.Dropped())
}

func TestHub_CancelAndClose(t *testing.T) {
	h := NewHub(nil)
	ch, cancel := h.Subscribe("")
	assert.Equal(t, 1, h.Subscribers())
	cancel()
	cancel()
	assert.Zero(t, h.Subscribers())
	_, ok := <-ch
	assert.False(t, ok)

	ch2, cancel2 := h.Subscribe("")
	defer cancel2()
	h.Close()
	_, ok = <-ch2
	assert.False(t, ok)

	ch3, _ := h.Subscribe("")
	_, ok = <-ch3
	assert.False(t, ok, "subscriptions after close are closed")
}

func TestHub_ServeWS(t *testing.T) {
	h := NewHub(nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeWS(w, r, r.URL.Query().Get("account"))
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?account=acct-1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return h.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, h.OnAuditEntry(context.Background(), auditEntry("acct-1")))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "acct-1", got.AccountID)
	assert.Equal(t, EventAudit, got.Type)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return h.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}
