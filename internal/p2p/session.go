// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package p2p

import (
	"net/netip"
	"time"

	"github.com/openztna/dataplane/internal/wire"
)

// SessionState is the coarse lifecycle of one hole-punch attempt.
type SessionState int

const (
	SessionGathering SessionState = iota
	SessionAwaitingAnswer
	SessionPunching
	SessionCompleted
	SessionFailed
)

// Outcome is the terminal result of a hole-punch attempt delivered to the
// host through PollOutcomes.
type Outcome struct {
	SessionID [16]byte
	ServiceID string
	Success   bool
	Direct    netip.AddrPort
}

// Role distinguishes the side that sends the initial offer (the Agent)
// from the side that answers it (the Connector).
type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

type session struct {
	id          [16]byte
	serviceID   string
	role        Role
	controlling bool

	state SessionState

	localCandidates  []wire.Candidate
	remoteCandidates []wire.Candidate

	pairs       []*pair
	nominated   *pair
	startAt     time.Time
	lastCheckAt time.Time
	createdAt   time.Time

	outcomeDelivered bool
}

func (s *session) expired(now time.Time) bool {
	return now.Sub(s.createdAt) > wire.HolePunchTotalTimeout
}
