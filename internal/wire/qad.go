// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package wire

import (
	"encoding/binary"
	"net/netip"
)

// qadFrameLen is [type(1)][ipv4(4)][port(2)] == 7 bytes exactly.
const qadFrameLen = 7

// EncodeQAD builds the server-observed-address DATAGRAM the Intermediate
// sends a peer immediately after Established and on rebinding.
func EncodeQAD(addr netip.AddrPort) ([]byte, error) {
	if !addr.Addr().Is4() {
		return nil, ErrMalformedQAD
	}
	buf := make([]byte, qadFrameLen)
	buf[0] = FrameQAD
	ip4 := addr.Addr().As4()
	copy(buf[1:5], ip4[:])
	binary.BigEndian.PutUint16(buf[5:7], addr.Port())
	return buf, nil
}

// DecodeQAD parses a QAD DATAGRAM. Non-7-byte input is rejected.
func DecodeQAD(buf []byte) (netip.AddrPort, error) {
	if len(buf) != qadFrameLen {
		return netip.AddrPort{}, ErrMalformedQAD
	}
	if buf[0] != FrameQAD {
		return netip.AddrPort{}, ErrUnknownFrameType
	}
	addr := netip.AddrFrom4([4]byte(buf[1:5]))
	port := binary.BigEndian.Uint16(buf[5:7])
	return netip.AddrPortFrom(addr, port), nil
}
