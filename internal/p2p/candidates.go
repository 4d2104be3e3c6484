// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package p2p

import (
	"fmt"
	"hash/fnv"
	"net/netip"

	"github.com/openztna/dataplane/internal/wire"
)

// localPreference is the tie-breaker among same-type candidates; this
// engine only ever gathers one candidate per type, so a fixed value
// satisfies RFC 8445's formula without needing real interface ranking.
const localPreference = 65535

// GatherCandidates builds the Host, ServerReflexive, and Relay candidates
// available to one endpoint. PeerReflexive candidates are learned later,
// mid-check, and are not produced here.
func GatherCandidates(t Transport, relay netip.AddrPort) ([]wire.Candidate, error) {
	var out []wire.Candidate

	hostAddrs, err := t.LocalHostAddrs()
	if err != nil {
		return nil, fmt.Errorf("gather host candidates: %w", err)
	}
	for _, addr := range hostAddrs {
		out = append(out, newCandidate(wire.CandidateHost, addr, 0))
	}

	if observed := t.ObservedAddress(); observed.IsValid() {
		out = append(out, newCandidate(wire.CandidateServerReflexive, observed.Addr(), observed.Port()))
	}

	if relay.IsValid() {
		out = append(out, newCandidate(wire.CandidateRelay, relay.Addr(), relay.Port()))
	}

	return out, nil
}

func newCandidate(t wire.CandidateType, addr netip.Addr, port uint16) wire.Candidate {
	return wire.Candidate{
		Type:       t,
		IP:         addr.String(),
		Port:       port,
		Priority:   wire.ComputePriority(t, localPreference),
		Foundation: foundation(t, addr),
	}
}

// foundation groups candidates that share a type and base address, per
// RFC 8445 §5.1.1.3; pairs on the same foundation unfreeze together when
// one of them succeeds.
func foundation(t wire.CandidateType, base netip.Addr) string {
	h := fnv.New32a()
	fmt.Fprintf(h, "%d|%s|udp", t, base.String())
	return fmt.Sprintf("%x", h.Sum32())
}
