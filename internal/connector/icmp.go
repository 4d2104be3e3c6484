// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package connector

import "github.com/google/gopacket/layers"

// handleICMP answers an Echo Request entirely at the Connector: it never
// forwards to a backend (§4.3). Anything other than an Echo Request is
// dropped with a log, matching the Failure semantics' "unknown IP protocol"
// handling for traffic this Connector has no synthesis rule for.
func (c *Connector) handleICMP(target replyTarget, d *decodedPacket) {
	if layers.ICMPv4TypeCode(d.icp.TypeCode).Type() != layers.ICMPv4TypeEchoRequest {
		c.log.Debug().Uint8("icmp_type", layers.ICMPv4TypeCode(d.icp.TypeCode).Type()).Msg("dropping non-echo-request ICMP packet")
		return
	}
	reply, err := encodeICMPEchoReply(&d.ip4, &d.icp, d.icp.Payload)
	if err != nil {
		c.log.Warn().Err(err).Msg("encode icmp echo reply failed")
		return
	}
	if err := target.SendDatagram(reply); err != nil {
		c.log.Debug().Err(err).Msg("send icmp echo reply datagram failed")
	}
}
