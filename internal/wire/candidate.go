// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package wire

// CandidateType classifies a transport address considered as one endpoint
// of a possible direct path.
type CandidateType uint8

const (
	CandidateHost CandidateType = iota
	CandidateServerReflexive
	CandidatePeerReflexive
	CandidateRelay
)

// typePreference implements the RFC 8445 type preferences.
func (t CandidateType) typePreference() uint32 {
	switch t {
	case CandidateHost:
		return 126
	case CandidatePeerReflexive:
		return 110
	case CandidateServerReflexive:
		return 100
	case CandidateRelay:
		return 0
	default:
		return 0
	}
}

func (t CandidateType) String() string {
	switch t {
	case CandidateHost:
		return "host"
	case CandidateServerReflexive:
		return "srflx"
	case CandidatePeerReflexive:
		return "prflx"
	case CandidateRelay:
		return "relay"
	default:
		return "unknown"
	}
}

// Candidate is the {type, transport address, priority, foundation, related
// address} tuple exchanged during candidate gathering.
type Candidate struct {
	Type        CandidateType `cbor:"1,keyasint"`
	IP          string        `cbor:"2,keyasint"`
	Port        uint16        `cbor:"3,keyasint"`
	Priority    uint32        `cbor:"4,keyasint"`
	Foundation  string        `cbor:"5,keyasint"`
	RelatedIP   string        `cbor:"6,keyasint"`
	RelatedPort uint16        `cbor:"7,keyasint"`
}

// ComputePriority implements the RFC 8445 priority formula:
// (type_pref << 24) | (local_pref << 8) | (256 - component). This
// system only ever deals with a single component (component = 1).
func ComputePriority(t CandidateType, localPref uint16) uint32 {
	const component = 1
	return (t.typePreference() << 24) | (uint32(localPref) << 8) | (256 - component)
}

// PairPriority implements the RFC 8445 candidate-pair priority formula:
// 2^32 * min(G,D) + 2*max(G,D) + (G>D?1:0), where g is the controlling
// side's candidate priority and d the controlled side's.
func PairPriority(g, d uint32) uint64 {
	lo, hi := uint64(g), uint64(d)
	if hi < lo {
		lo, hi = hi, lo
	}
	var tieBreak uint64
	if g > d {
		tieBreak = 1
	}
	return (uint64(1)<<32)*lo + 2*hi + tieBreak
}
