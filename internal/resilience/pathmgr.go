// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

// Package resilience implements the keepalive protocol and per-path state
// machine (§4.6): RTT tracking, missed-keepalive accounting, and the
// active-path switch between a direct P2P path and the relay. It is
// timer-driven like the rest of the core, not a goroutine of its own;
// the host calls Due/Tick from its own OnTimeout handler.
package resilience

import (
	"time"

	"github.com/openztna/dataplane/internal/wire"
)

// PathTag names one of the at-most-two transport routes a service's
// traffic can ride.
type PathTag int

const (
	PathNone PathTag = iota
	PathDirect
	PathRelay
)

func (t PathTag) String() string {
	switch t {
	case PathDirect:
		return "direct"
	case PathRelay:
		return "relay"
	default:
		return "none"
	}
}

// State is a path's position in the §4.6 state machine:
// Active -> Degraded (1 miss) -> Failed (3 misses) -> Recovering (after
// cooldown) -> Active (next successful keepalive).
type State int

const (
	StateActive State = iota
	StateDegraded
	StateFailed
	StateRecovering
)

func (s State) String() string {
	switch s {
	case StateDegraded:
		return "degraded"
	case StateFailed:
		return "failed"
	case StateRecovering:
		return "recovering"
	default:
		return "active"
	}
}

// ewmaAlpha weights the most recent RTT sample; matches the smoothing the
// teacher's own session ping loop leaves implicit in a single round trip,
// made explicit here since resilience needs a running estimate.
const ewmaAlpha = 0.2

type path struct {
	tag      PathTag
	interval time.Duration
	state    State

	seq           uint32
	pendingSeq    uint32
	pendingSince  time.Time
	hasPending    bool
	missed        int
	lastRTT       time.Duration
	lastSentAt    time.Time
	lastRecvAt    time.Time
	failedAt      time.Time
}

// OutboundKeepalive is a due ping the host must send.
type OutboundKeepalive struct {
	Tag  PathTag
	Data []byte
}

// Manager tracks every path's health for one remote endpoint relationship
// (one Agent-to-service pair, or the Connector's view of one Agent).
type Manager struct {
	paths  map[PathTag]*path
	active PathTag

	onActiveChange  func(PathTag)
	onLossOfService func()
}

// NewManager builds an empty manager; call AddPath for each route this
// endpoint maintains (typically Relay always, Direct once nominated).
func NewManager() *Manager {
	return &Manager{paths: make(map[PathTag]*path)}
}

// OnActiveChange installs a callback fired whenever the active path
// switches, e.g. so the Agent can redirect a service's datagrams.
func (m *Manager) OnActiveChange(f func(PathTag)) { m.onActiveChange = f }

// OnLossOfService installs a callback fired when the last remaining path
// also fails, per §4.6: "the higher layer is notified with a loss-of-
// service signal."
func (m *Manager) OnLossOfService(f func()) { m.onLossOfService = f }

// AddPath begins tracking a path at the given keepalive interval. Adding
// a path while no path is active makes it active; adding a path while
// another is active (typically Direct after Relay) does not switch
// traffic onto it (ActivatePath does).
func (m *Manager) AddPath(tag PathTag, interval time.Duration) {
	m.paths[tag] = &path{tag: tag, interval: interval, state: StateActive}
	if m.active == PathNone {
		m.setActive(tag)
	}
}

// RemovePath drops a path entirely, e.g. when a direct connection is torn
// down after falling back to relay.
func (m *Manager) RemovePath(tag PathTag) {
	delete(m.paths, tag)
	if m.active == tag {
		m.active = PathNone
	}
}

// ActivePath reports which path currently carries traffic.
func (m *Manager) ActivePath() PathTag { return m.active }

// State reports a tracked path's current health, or StateFailed with ok
// false if the path isn't tracked.
func (m *Manager) State(tag PathTag) (State, bool) {
	p, ok := m.paths[tag]
	if !ok {
		return StateFailed, false
	}
	return p.state, true
}

// Stats exposes the observables §4.6 calls for: RTT, last activity,
// missed count, and whether the manager has fallen back to relay.
type Stats struct {
	RTT              time.Duration
	LastActivity     time.Time
	MissedKeepalives int
	Active           PathTag
	InFallback       bool
}

// PathStats reports the observables for one tracked path.
func (m *Manager) PathStats(tag PathTag) (Stats, bool) {
	p, ok := m.paths[tag]
	if !ok {
		return Stats{}, false
	}
	return Stats{
		RTT:              p.lastRTT,
		LastActivity:     p.lastRecvAt,
		MissedKeepalives: p.missed,
		Active:           m.active,
		InFallback:       m.active == PathRelay,
	}, true
}

// InFallback reports whether the manager has fallen back to the relay
// because the direct path failed (or was never established).
func (m *Manager) InFallback() bool { return m.active == PathRelay }

// Due returns the keepalive pings that must be sent now, across every
// tracked path. The host sends each one on the matching transport and
// then calls MarkSent.
func (m *Manager) Due(now time.Time) []OutboundKeepalive {
	var out []OutboundKeepalive
	for _, p := range m.paths {
		if p.state == StateFailed && now.Sub(p.failedAt) < wire.PathFailedCooldown {
			continue
		}
		if !p.lastSentAt.IsZero() && now.Sub(p.lastSentAt) < p.interval {
			continue
		}
		if p.hasPending {
			m.recordMiss(p, now)
		}
		seq := p.seq
		p.seq++
		p.hasPending = true
		p.pendingSeq = seq
		p.pendingSince = now
		p.lastSentAt = now
		out = append(out, OutboundKeepalive{Tag: p.tag, Data: wire.EncodeKeepalive(wire.KeepaliveTagPing, seq)})
	}
	return out
}

// OnPong records a keepalive response, updating RTT and clearing the
// path's missed-keepalive count; a path that has heard back within
// interval+tolerance is never marked Failed (§8 invariant 5).
func (m *Manager) OnPong(tag PathTag, seq uint32, now time.Time) {
	p, ok := m.paths[tag]
	if !ok {
		return
	}
	if p.hasPending && p.pendingSeq == seq {
		rtt := now.Sub(p.pendingSince)
		if p.lastRTT == 0 {
			p.lastRTT = rtt
		} else {
			p.lastRTT = time.Duration(ewmaAlpha*float64(rtt) + (1-ewmaAlpha)*float64(p.lastRTT))
		}
		p.hasPending = false
	}
	p.lastRecvAt = now
	p.missed = 0
	if p.state != StateActive {
		p.state = StateActive
	}
}

// Tick advances every path's timeout bookkeeping without necessarily
// sending a new ping; call it from the same timer source as Due.
func (m *Manager) Tick(now time.Time) {
	for _, p := range m.paths {
		if p.hasPending && now.Sub(p.pendingSince) > p.interval {
			m.recordMiss(p, now)
		}
		if p.state == StateFailed && now.Sub(p.failedAt) >= wire.PathFailedCooldown {
			p.state = StateRecovering
			p.hasPending = false
			p.lastSentAt = time.Time{}
		}
	}
}

func (m *Manager) recordMiss(p *path, now time.Time) {
	p.hasPending = false
	p.missed++
	switch {
	case p.missed >= wire.MissedKeepaliveThreshold:
		if p.state != StateFailed {
			p.state = StateFailed
			p.failedAt = now
			m.handleFailure(p.tag)
		}
	case p.missed >= 1:
		if p.state == StateActive {
			p.state = StateDegraded
		}
	}
}

func (m *Manager) handleFailure(failed PathTag) {
	if m.active != failed {
		return
	}
	if failed == PathDirect {
		if relay, ok := m.paths[PathRelay]; ok && relay.state != StateFailed {
			m.setActive(PathRelay)
			return
		}
	}
	m.active = PathNone
	if m.onLossOfService != nil {
		m.onLossOfService()
	}
}

func (m *Manager) setActive(tag PathTag) {
	if m.active == tag {
		return
	}
	m.active = tag
	if m.onActiveChange != nil {
		m.onActiveChange(tag)
	}
}

// ActivatePath switches traffic onto tag, e.g. once a direct path has been
// validated (§4.5 phase 6). It is a no-op if tag isn't tracked.
func (m *Manager) ActivatePath(tag PathTag) {
	if _, ok := m.paths[tag]; !ok {
		return
	}
	m.setActive(tag)
}

// PreferDirect reports whether the direct path's RTT beats the relay's by
// at least wire.DirectPathPreferenceMargin, the §4.5 phase-6 migration
// threshold. The direct path must be Active with at least one RTT sample;
// if the relay path is untracked or has no RTT sample yet, direct is
// preferred.
func (m *Manager) PreferDirect() bool {
	direct, ok := m.paths[PathDirect]
	if !ok || direct.lastRTT == 0 || direct.state != StateActive {
		return false
	}
	relay, ok := m.paths[PathRelay]
	if !ok || relay.lastRTT == 0 {
		return true
	}
	threshold := float64(relay.lastRTT) * (1 - wire.DirectPathPreferenceMargin)
	return float64(direct.lastRTT) <= threshold
}
