// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

// Package intermediate implements the relay/rendezvous server (§4.2): the
// per-connection registry, the signaling session manager, QAD, and the
// service-routed relay between Agent and Connector connections.
package intermediate

import (
	"net/netip"
	"sync"
	"time"
)

// Role is a registered connection's function within the registry.
type Role int

const (
	RoleUnknown Role = iota
	RoleAgent
	RoleConnector
)

func (r Role) String() string {
	switch r {
	case RoleAgent:
		return "agent"
	case RoleConnector:
		return "connector"
	default:
		return "unknown"
	}
}

// ConnMeta is the {peer_addr, role, last_activity, authorized_sans} tuple
// the registry keeps per connection id.
type ConnMeta struct {
	PeerAddr        netip.AddrPort
	Role            Role
	LastActivity    time.Time
	AuthorizedSANs  []string
	ServiceIDs      map[string]struct{}
}

// Registry is the Intermediate's AgentTargets/Connectors/ConnectionMeta
// state described in §3. A service id has at most one active Connector
// entry; every Agent target must exist in Connectors before a datagram can
// be relayed; entries are removed on connection close or idle timeout.
type Registry struct {
	mu sync.RWMutex

	agentTargets map[string]map[string]struct{} // agent conn id -> service ids
	connectors   map[string]string               // service id -> connector conn id
	meta         map[string]*ConnMeta            // conn id -> meta

	onConnectorOverwrite func(serviceID, oldConnID, newConnID string)
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		agentTargets: make(map[string]map[string]struct{}),
		connectors:   make(map[string]string),
		meta:         make(map[string]*ConnMeta),
	}
}

// OnConnectorOverwrite installs a callback fired when a new Connector
// registration replaces an existing authoritative holder for a service id,
// so the caller can log the §4.2 warning.
func (r *Registry) OnConnectorOverwrite(f func(serviceID, oldConnID, newConnID string)) {
	r.onConnectorOverwrite = f
}

// Touch records that connID is live, creating its meta entry on first
// sight, keyed by its observed peer address and role.
func (r *Registry) Touch(connID string, peerAddr netip.AddrPort, role Role, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.meta[connID]
	if !ok {
		m = &ConnMeta{Role: role, ServiceIDs: make(map[string]struct{})}
		r.meta[connID] = m
	}
	m.PeerAddr = peerAddr
	m.LastActivity = now
}

// Meta returns the registry entry for connID, if any.
func (r *Registry) Meta(connID string) (ConnMeta, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.meta[connID]
	if !ok {
		return ConnMeta{}, false
	}
	return *m, true
}

// SetAuthorizedSANs records the mTLS SANs authorized for connID, used to
// restrict which service ids it may register for (§7).
func (r *Registry) SetAuthorizedSANs(connID string, sans []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.meta[connID]; ok {
		m.AuthorizedSANs = sans
	}
}

// RegisterAgent adds serviceID to the set of services agentConnID may
// consume.
func (r *Registry) RegisterAgent(agentConnID, serviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.agentTargets[agentConnID]
	if !ok {
		set = make(map[string]struct{})
		r.agentTargets[agentConnID] = set
	}
	set[serviceID] = struct{}{}
	if m, ok := r.meta[agentConnID]; ok {
		m.Role = RoleAgent
		m.ServiceIDs[serviceID] = struct{}{}
	}
}

// RegisterConnector makes connID the authoritative Connector for
// serviceID, overwriting any previous holder. It reports the previous
// holder's connection id, if there was one, so the caller can log it.
func (r *Registry) RegisterConnector(connID, serviceID string) (previous string, overwritten bool) {
	r.mu.Lock()
	prev, existed := r.connectors[serviceID]
	r.connectors[serviceID] = connID
	if m, ok := r.meta[connID]; ok {
		m.Role = RoleConnector
		m.ServiceIDs[serviceID] = struct{}{}
	}
	cb := r.onConnectorOverwrite
	r.mu.Unlock()

	if existed && prev != connID {
		if cb != nil {
			cb(serviceID, prev, connID)
		}
		return prev, true
	}
	return "", false
}

// ConnectorFor reports the connection id authoritative for serviceID.
func (r *Registry) ConnectorFor(serviceID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.connectors[serviceID]
	return id, ok
}

// AgentMayConsume reports whether agentConnID registered for serviceID.
func (r *Registry) AgentMayConsume(agentConnID, serviceID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.agentTargets[agentConnID]
	if !ok {
		return false
	}
	_, ok = set[serviceID]
	return ok
}

// ConnectorCount reports how many distinct services currently have an
// authoritative Connector, for the registered-services gauge.
func (r *Registry) ConnectorCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connectors)
}

// Remove deletes connID's registry entries entirely: its agent targets,
// any Connector slots it held, and its connection meta. Called on
// connection close or idle-timeout reap.
func (r *Registry) Remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agentTargets, connID)
	delete(r.meta, connID)
	for svc, holder := range r.connectors {
		if holder == connID {
			delete(r.connectors, svc)
		}
	}
}

// ReapIdle removes every connection whose last activity predates the
// cutoff, returning their ids so the caller can close the underlying QUIC
// connections.
func (r *Registry) ReapIdle(now time.Time, idleTimeout time.Duration) []string {
	r.mu.Lock()
	var expired []string
	for id, m := range r.meta {
		if now.Sub(m.LastActivity) > idleTimeout {
			expired = append(expired, id)
		}
	}
	r.mu.Unlock()

	for _, id := range expired {
		r.Remove(id)
	}
	return expired
}
