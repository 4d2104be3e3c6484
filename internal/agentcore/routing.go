// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package agentcore

import (
	"fmt"
	"net/netip"
)

// ipv4HeaderMinLen is the fixed portion of an IPv4 header; the
// destination address always sits at the same offset regardless of IHL.
const ipv4HeaderMinLen = 20

// ipv4Dest extracts the destination address from a captured IPv4 packet.
func ipv4Dest(packet []byte) (netip.Addr, error) {
	if len(packet) < ipv4HeaderMinLen {
		return netip.Addr{}, fmt.Errorf("agentcore: ip packet too short (%d bytes)", len(packet))
	}
	if packet[0]>>4 != 4 {
		return netip.Addr{}, fmt.Errorf("agentcore: not an ipv4 packet (version %d)", packet[0]>>4)
	}
	return netip.AddrFrom4([4]byte(packet[16:20])), nil
}
