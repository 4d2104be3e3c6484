// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

// Package p2p implements the ICE-style NAT traversal engine shared by the
// Agent and the Connector: candidate gathering, signaling exchange over
// the Intermediate, paced connectivity checks, and nomination of a
// direct path.
package p2p

import (
	"context"
	"io"
	"net/netip"
)

// Transport is the thin socket/QUIC surface the engine needs from its
// host (agentcore.Core on the Agent, the Connector's dual-mode conn on
// the Connector side). The engine never touches a file descriptor
// itself.
type Transport interface {
	// SendBindingProbe writes a raw connectivity-check frame directly to
	// the shared socket, bypassing QUIC since no connection exists yet.
	SendBindingProbe(to netip.AddrPort, data []byte) error
	// ObservedAddress is the last QAD-reported reflexive address.
	ObservedAddress() netip.AddrPort
	// LocalHostAddrs enumerates local, non-loopback interface addresses.
	LocalHostAddrs() ([]netip.Addr, error)
	// OpenSignalingStream opens a bidirectional stream to the
	// Intermediate for one session's CBOR-framed signaling records.
	OpenSignalingStream(ctx context.Context) (io.ReadWriteCloser, error)
}
