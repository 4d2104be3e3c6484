// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package connector

import (
	"sync"
	"time"
)

// flowKey identifies one backend-side conversation per §3's Glossary
// definition of Flow: "keyed by agent and protocol tuple". agentConnID is
// "relay" for every packet arriving over the single Intermediate relay
// connection (the Intermediate's "first matching flow" limitation means
// the Connector cannot distinguish individual Agents on that path either —
// see DESIGN.md) or the accepted P2P connection's id on a direct path.
type flowKey struct {
	proto          string
	agentConnID    string
	agentSrcPort   uint16
	backendDstPort uint16
}

// udpFlow and tcpFlow are the two backend-session kinds a flowEntry can
// hold; only one is populated per entry.
type flowEntry struct {
	key      flowKey
	lastUsed time.Time
	udp      *udpFlow
	tcp      *tcpFlow
}

// flowTable tracks every live backend-side session, created on first
// tunneled packet and destroyed on FIN/RST, idle timeout, or Agent
// disconnect (§3).
type flowTable struct {
	mu    sync.Mutex
	flows map[flowKey]*flowEntry
}

func newFlowTable() *flowTable {
	return &flowTable{flows: make(map[flowKey]*flowEntry)}
}

func (t *flowTable) get(key flowKey) (*flowEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.flows[key]
	return e, ok
}

func (t *flowTable) put(e *flowEntry) {
	t.mu.Lock()
	t.flows[e.key] = e
	t.mu.Unlock()
}

func (t *flowTable) touch(key flowKey, now time.Time) {
	t.mu.Lock()
	if e, ok := t.flows[key]; ok {
		e.lastUsed = now
	}
	t.mu.Unlock()
}

func (t *flowTable) remove(key flowKey) {
	t.mu.Lock()
	delete(t.flows, key)
	t.mu.Unlock()
}

// removeByConn drops every flow that belongs to agentConnID, used when an
// Agent disconnects or a direct P2P connection is torn down.
func (t *flowTable) removeByConn(agentConnID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, e := range t.flows {
		if k.agentConnID == agentConnID {
			e.closeBackend()
			delete(t.flows, k)
		}
	}
}

// reapIdle closes and drops every flow untouched for longer than idleTimeout,
// returning the removed keys for logging.
func (t *flowTable) reapIdle(now time.Time, idleTimeout time.Duration) []flowKey {
	t.mu.Lock()
	defer t.mu.Unlock()
	var expired []flowKey
	for k, e := range t.flows {
		if now.Sub(e.lastUsed) > idleTimeout {
			e.closeBackend()
			delete(t.flows, k)
			expired = append(expired, k)
		}
	}
	return expired
}

func (e *flowEntry) closeBackend() {
	if e.udp != nil {
		_ = e.udp.conn.Close()
	}
	if e.tcp != nil {
		_ = e.tcp.conn.Close()
	}
}

// count reports the number of live flows, for tests and observability.
func (t *flowTable) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.flows)
}
