// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package wire

import (
	"encoding/binary"
	"net/netip"
)

// Binding checks run as raw UDP probes on a candidate pair's socket, ahead
// of any QUIC handshake, so they carry their own tiny framing rather than
// QUIC DATAGRAM or stream framing. BindingMagic distinguishes them from a
// QUIC long/short header arriving on the same socket.
var BindingMagic = [4]byte{'Z', 'B', 'C', '1'}

const (
	bindingKindRequest  byte = 0x01
	bindingKindResponse byte = 0x02

	// 4 magic + 1 kind + 12 transaction id + 4 priority + 1 use_candidate
	bindingRequestLen = 4 + 1 + 12 + 4 + 1
	// 4 magic + 1 kind + 12 transaction id + 1 success + 4 ip + 2 port
	bindingResponseLen = 4 + 1 + 12 + 1 + 4 + 2
)

// TransactionID is a 12-byte random identifier binding a request to its
// response on a candidate pair.
type TransactionID [12]byte

// BindingRequest is the connectivity-check probe sent on a candidate pair.
type BindingRequest struct {
	TransactionID TransactionID
	Priority      uint32
	UseCandidate  bool
}

// BindingResponse answers a BindingRequest, echoing its transaction id.
type BindingResponse struct {
	TransactionID TransactionID
	Success       bool
	MappedAddress netip.AddrPort
}

// IsBindingCheck reports whether buf opens with the binding-check magic,
// so the caller can demultiplex it away from QUIC packets on one socket.
func IsBindingCheck(buf []byte) bool {
	return len(buf) >= 4 && [4]byte(buf[0:4]) == BindingMagic
}

// EncodeBindingRequest serializes a connectivity-check probe.
func EncodeBindingRequest(req BindingRequest) []byte {
	buf := make([]byte, bindingRequestLen)
	copy(buf[0:4], BindingMagic[:])
	buf[4] = bindingKindRequest
	copy(buf[5:17], req.TransactionID[:])
	binary.BigEndian.PutUint32(buf[17:21], req.Priority)
	if req.UseCandidate {
		buf[21] = 1
	}
	return buf
}

// DecodeBindingRequest parses a connectivity-check probe.
func DecodeBindingRequest(buf []byte) (BindingRequest, error) {
	if len(buf) != bindingRequestLen {
		return BindingRequest{}, ErrShortFrame
	}
	if [4]byte(buf[0:4]) != BindingMagic || buf[4] != bindingKindRequest {
		return BindingRequest{}, ErrUnknownFrameType
	}
	var req BindingRequest
	copy(req.TransactionID[:], buf[5:17])
	req.Priority = binary.BigEndian.Uint32(buf[17:21])
	req.UseCandidate = buf[21] != 0
	return req, nil
}

// EncodeBindingResponse serializes a connectivity-check response.
func EncodeBindingResponse(resp BindingResponse) ([]byte, error) {
	if !resp.MappedAddress.Addr().Is4() && resp.Success {
		return nil, ErrUnknownFrameType
	}
	buf := make([]byte, bindingResponseLen)
	copy(buf[0:4], BindingMagic[:])
	buf[4] = bindingKindResponse
	copy(buf[5:17], resp.TransactionID[:])
	if resp.Success {
		buf[17] = 1
	}
	ip4 := resp.MappedAddress.Addr().As4()
	copy(buf[18:22], ip4[:])
	binary.BigEndian.PutUint16(buf[22:24], resp.MappedAddress.Port())
	return buf, nil
}

// DecodeBindingResponse parses a connectivity-check response.
func DecodeBindingResponse(buf []byte) (BindingResponse, error) {
	if len(buf) != bindingResponseLen {
		return BindingResponse{}, ErrShortFrame
	}
	if [4]byte(buf[0:4]) != BindingMagic || buf[4] != bindingKindResponse {
		return BindingResponse{}, ErrUnknownFrameType
	}
	var resp BindingResponse
	copy(resp.TransactionID[:], buf[5:17])
	resp.Success = buf[17] != 0
	ip := netip.AddrFrom4([4]byte(buf[18:22]))
	port := binary.BigEndian.Uint16(buf[22:24])
	resp.MappedAddress = netip.AddrPortFrom(ip, port)
	return resp, nil
}
