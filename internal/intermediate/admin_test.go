// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package intermediate

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestAdminFeedSendsSubscribedAck(t *testing.T) {
	admin := NewAdmin(zerolog.Nop())
	server := httptest.NewServer(admin)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "subscribed", msg["type"])
}

func TestAdminFeedBroadcastsConnectionEvents(t *testing.T) {
	admin := NewAdmin(zerolog.Nop())
	server := httptest.NewServer(admin)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var ack map[string]any
	require.NoError(t, conn.ReadJSON(&ack))

	admin.NotifyConnection("conn-1", "established")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev map[string]any
	require.NoError(t, conn.ReadJSON(&ev))
	require.Equal(t, "connection", ev["type"])
	payload, ok := ev["payload"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "conn-1", payload["conn_id"])
	require.Equal(t, "established", payload["state"])
}

func TestAdminFeedDropsListenerOnDisconnect(t *testing.T) {
	admin := NewAdmin(zerolog.Nop())
	server := httptest.NewServer(admin)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	var ack map[string]any
	require.NoError(t, conn.ReadJSON(&ack))
	conn.Close()

	require.Eventually(t, func() bool {
		admin.mu.Lock()
		defer admin.mu.Unlock()
		return len(admin.listeners) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
