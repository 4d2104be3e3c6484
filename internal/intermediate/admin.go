// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package intermediate

import (
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Admin serves the observability WebSocket feed operators attach to watch
// registry and session events live, the server-side half of the teacher's
// subscribe/ack/ping-pong WebSocket protocol (repurposed here for ops
// visibility instead of tunnel-lifecycle watching).
type Admin struct {
	log zerolog.Logger

	upgrader websocket.Upgrader

	mu        sync.Mutex
	listeners map[*websocket.Conn]chan event
}

// event is one admin-feed record: {"type": kind, "payload": data}.
type event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Admin feed WebSocket timing, mirroring the teacher's own ping-to-pong
// ratio so a laggy operator connection is dropped before the registry's
// own idle timeout would have reaped it anyway.
const (
	adminWriteWait  = 10 * time.Second
	adminPongWait   = 60 * time.Second
	adminPingPeriod = (adminPongWait * 9) / 10
)

// NewAdmin builds an admin feed server.
func NewAdmin(log zerolog.Logger) *Admin {
	return &Admin{
		log:       log,
		upgrader:  websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		listeners: make(map[*websocket.Conn]chan event),
	}
}

// ServeHTTP upgrades the request to a WebSocket and streams events until
// the client disconnects.
func (a *Admin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Warn().Err(err).Msg("admin feed upgrade failed")
		return
	}
	defer conn.Close()

	ch := make(chan event, 64)
	a.mu.Lock()
	a.listeners[conn] = ch
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.listeners, conn)
		a.mu.Unlock()
	}()

	_ = conn.SetReadDeadline(time.Now().Add(adminPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(adminPongWait))
	})

	if err := conn.WriteJSON(event{Type: "subscribed"}); err != nil {
		return
	}

	done := make(chan struct{})
	go a.readLoop(conn, done)
	a.writeLoop(conn, ch, done)
}

// readLoop drains (and discards) client frames purely to notice the
// connection closing and keep the gorilla read-deadline/pong machinery
// alive; operators don't send commands through this feed.
func (a *Admin) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (a *Admin) writeLoop(conn *websocket.Conn, ch chan event, done chan struct{}) {
	ticker := time.NewTicker(adminPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case ev := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(adminWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(adminWriteWait))
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(adminWriteWait)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// publish fans ev out to every connected listener, dropping it for any
// listener whose channel is currently full rather than blocking the
// registry/session event source.
func (a *Admin) publish(ev event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, ch := range a.listeners {
		select {
		case ch <- ev:
		default:
		}
	}
}

// NotifyConnection reports a connection state change; the server reports
// Established and Closed.
func (a *Admin) NotifyConnection(connID, state string) {
	a.publish(event{Type: "connection", Payload: map[string]string{"conn_id": connID, "state": state}})
}

// NotifyRegistration reports a service registration or overwrite.
func (a *Admin) NotifyRegistration(serviceID, connID, role string, overwroteConnID string) {
	payload := map[string]string{"service_id": serviceID, "conn_id": connID, "role": role}
	if overwroteConnID != "" {
		payload["overwrote_conn_id"] = overwroteConnID
	}
	a.publish(event{Type: "registration", Payload: payload})
}

// NotifySession reports a signaling session reaching a new state.
func (a *Admin) NotifySession(sessionID [16]byte, serviceID, state string) {
	a.publish(event{Type: "session", Payload: map[string]string{
		"session_id": hex.EncodeToString(sessionID[:]),
		"service_id": serviceID,
		"state":      state,
	}})
}
