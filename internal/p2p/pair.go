// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package p2p

import (
	"net/netip"
	"time"

	"github.com/openztna/dataplane/internal/wire"
)

// PairState is a candidate pair's position in the connectivity-check
// lifecycle.
type PairState int

const (
	PairFrozen PairState = iota
	PairWaiting
	PairInProgress
	PairSucceeded
	PairFailed
)

func (s PairState) String() string {
	switch s {
	case PairWaiting:
		return "waiting"
	case PairInProgress:
		return "in_progress"
	case PairSucceeded:
		return "succeeded"
	case PairFailed:
		return "failed"
	default:
		return "frozen"
	}
}

// pair is one candidate pair undergoing connectivity checks.
type pair struct {
	local, remote wire.Candidate
	state         PairState
	priority      uint64

	transactionID wire.TransactionID
	retries       int
	lastSent      time.Time
	nextBackoff   time.Duration

	useCandidate bool
}

func remoteAddr(c wire.Candidate) (netip.AddrPort, bool) {
	addr, err := netip.ParseAddr(c.IP)
	if err != nil {
		return netip.AddrPort{}, false
	}
	return netip.AddrPortFrom(addr, c.Port), true
}

// buildPairs forms every same-family {local, remote} combination, sorted
// by descending pair priority so the scheduler processes the most
// promising pairs first.
func buildPairs(local, remote []wire.Candidate, controlling bool) []*pair {
	var pairs []*pair
	for _, l := range local {
		for _, r := range remote {
			la, lerr := netip.ParseAddr(l.IP)
			ra, rerr := netip.ParseAddr(r.IP)
			if lerr == nil && rerr == nil && la.Is4() != ra.Is4() {
				continue
			}
			g, d := l.Priority, r.Priority
			if !controlling {
				g, d = d, g
			}
			pairs = append(pairs, &pair{
				local:       l,
				remote:      r,
				state:       PairFrozen,
				priority:    wire.PairPriority(g, d),
				nextBackoff: wire.HolePunchInitialBackoff,
			})
		}
	}
	for i := 1; i < len(pairs); i++ {
		for j := i; j > 0 && pairs[j-1].priority < pairs[j].priority; j-- {
			pairs[j-1], pairs[j] = pairs[j], pairs[j-1]
		}
	}
	return pairs
}

// unfreezeSiblings moves every Frozen pair sharing succeeded's remote
// foundation into Waiting, per RFC 8445 foundation-based unfreezing.
func unfreezeSiblings(pairs []*pair, succeeded *pair) {
	for _, p := range pairs {
		if p == succeeded {
			continue
		}
		if p.state == PairFrozen && p.remote.Foundation == succeeded.remote.Foundation {
			p.state = PairWaiting
		}
	}
}
