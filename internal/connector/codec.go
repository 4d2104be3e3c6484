// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

// Package connector implements the App Connector: it maintains an outbound
// QUIC connection to the Intermediate, registers for its configured
// services, accepts direct P2P QUIC connections from Agents on the same
// socket, and bridges decapsulated IPv4 packets to local UDP, TCP, and
// ICMP backends per §4.3.
package connector

import (
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// decodedPacket is the parsed form of one tunneled IPv4 packet, carrying
// only the layers the three protocol handlers need.
type decodedPacket struct {
	ip4 layers.IPv4
	tcp layers.TCP
	udp layers.UDP
	icp layers.ICMPv4

	hasTCP  bool
	hasUDP  bool
	hasICMP bool
}

// decodeIPv4 parses a raw tunneled packet down through its transport layer.
// Non-IPv4 input and anything shorter than a bare IPv4 header is rejected;
// the spec scopes the Connector's protocol handling to IPv4 only.
func decodeIPv4(raw []byte) (*decodedPacket, error) {
	if len(raw) < 20 {
		return nil, fmt.Errorf("connector: packet too short for IPv4 header (%d bytes)", len(raw))
	}
	if raw[0]>>4 != 4 {
		return nil, fmt.Errorf("connector: not an IPv4 packet (version %d)", raw[0]>>4)
	}

	var d decodedPacket
	parser := gopacket.NewDecodingLayerParser(layers.LayerTypeIPv4, &d.ip4, &d.tcp, &d.udp, &d.icp)
	parser.IgnoreUnsupported = true

	var decoded []gopacket.LayerType
	if err := parser.DecodeLayers(raw, &decoded); err != nil {
		return nil, fmt.Errorf("connector: decode ipv4 packet: %w", err)
	}
	for _, lt := range decoded {
		switch lt {
		case layers.LayerTypeTCP:
			d.hasTCP = true
		case layers.LayerTypeUDP:
			d.hasUDP = true
		case layers.LayerTypeICMPv4:
			d.hasICMP = true
		}
	}
	return &d, nil
}

// serializeOpts matches the teacher pack's packet encoder: fix lengths and
// recompute every checksum rather than tracking them by hand.
var serializeOpts = gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}

// encodeUDPReply builds src->dst swapped IPv4+UDP packet carrying payload,
// recomputing the IPv4 header checksum and the UDP checksum per RFC 1071,
// both handled by gopacket's ComputeChecksums option.
func encodeUDPReply(original *layers.IPv4, srcPort, dstPort uint16, payload []byte) ([]byte, error) {
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    original.DstIP,
		DstIP:    original.SrcIP,
	}
	udp := &layers.UDP{SrcPort: layers.UDPPort(srcPort), DstPort: layers.UDPPort(dstPort)}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, fmt.Errorf("connector: set udp checksum network layer: %w", err)
	}
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, serializeOpts, ip, udp, gopacket.Payload(payload)); err != nil {
		return nil, fmt.Errorf("connector: serialize udp reply: %w", err)
	}
	return buf.Bytes(), nil
}

// encodeTCPSegment builds a src<->dst swapped IPv4+TCP segment for the
// synthesized SYN+ACK, PSH+ACK, FIN, and RST frames the userspace proxy
// sends back through the tunnel.
func encodeTCPSegment(original *layers.IPv4, srcPort, dstPort layers.TCPPort, seq, ack uint32, flags tcpFlags, payload []byte) ([]byte, error) {
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    original.DstIP,
		DstIP:    original.SrcIP,
	}
	tcp := &layers.TCP{
		SrcPort: srcPort,
		DstPort: dstPort,
		Seq:     seq,
		Ack:     ack,
		Window:  tcpWindowSize,
		SYN:     flags.syn,
		ACK:     flags.ack,
		FIN:     flags.fin,
		RST:     flags.rst,
		PSH:     flags.psh,
	}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, fmt.Errorf("connector: set tcp checksum network layer: %w", err)
	}
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, serializeOpts, ip, tcp, gopacket.Payload(payload)); err != nil {
		return nil, fmt.Errorf("connector: serialize tcp segment: %w", err)
	}
	return buf.Bytes(), nil
}

// encodeICMPEchoReply swaps source/destination and sets the ICMP type to
// Echo Reply (0), recomputing the ICMPv4 and IPv4 checksums.
func encodeICMPEchoReply(original *layers.IPv4, req *layers.ICMPv4, payload []byte) ([]byte, error) {
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolICMPv4,
		SrcIP:    original.DstIP,
		DstIP:    original.SrcIP,
	}
	icmp := &layers.ICMPv4{
		TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoReply, 0),
		Id:       req.Id,
		Seq:      req.Seq,
	}
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, serializeOpts, ip, icmp, gopacket.Payload(payload)); err != nil {
		return nil, fmt.Errorf("connector: serialize icmp echo reply: %w", err)
	}
	return buf.Bytes(), nil
}

// encodeICMPDestUnreachable builds a src<->dst swapped Destination
// Unreachable (type 3, port unreachable) packet quoting the original IPv4
// header and first 8 bytes of its UDP header per RFC 792, sent back through
// the tunnel when a backend dial fails.
func encodeICMPDestUnreachable(original *layers.IPv4, originalUDP *layers.UDP) ([]byte, error) {
	quoteBuf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(quoteBuf, serializeOpts, original, originalUDP); err != nil {
		return nil, fmt.Errorf("connector: serialize original datagram for icmp quote: %w", err)
	}
	quoted := quoteBuf.Bytes()
	const quoteLen = 28 // 20-byte IPv4 header + 8-byte UDP header
	if len(quoted) > quoteLen {
		quoted = quoted[:quoteLen]
	}

	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolICMPv4,
		SrcIP:    original.DstIP,
		DstIP:    original.SrcIP,
	}
	icmp := &layers.ICMPv4{
		TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeDestinationUnreachable, layers.ICMPv4CodePort),
	}
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, serializeOpts, ip, icmp, gopacket.Payload(quoted)); err != nil {
		return nil, fmt.Errorf("connector: serialize icmp destination unreachable: %w", err)
	}
	return buf.Bytes(), nil
}

type tcpFlags struct {
	syn, ack, fin, rst, psh bool
}

// tcpWindowSize is the advertised receive window on every synthesized
// segment; the proxy does no real flow control (§4.3: "one ACK per
// received segment; no retransmission or reordering").
const tcpWindowSize = 65535
