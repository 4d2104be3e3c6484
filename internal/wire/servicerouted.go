// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package wire

// EncodeServiceRouted builds a 0x2F frame: [0x2F][id_len][service_id][ip_packet].
// It enforces the effective DATAGRAM size ceiling; oversized payloads fail
// with ErrBufferTooShort and no bytes are returned.
func EncodeServiceRouted(serviceID string, ipPacket []byte) ([]byte, error) {
	if err := validateServiceID(serviceID); err != nil {
		return nil, err
	}
	total := 2 + len(serviceID) + len(ipPacket)
	if total > EffectiveMaxDatagramPayload {
		return nil, ErrBufferTooShort
	}
	buf := make([]byte, total)
	buf[0] = FrameServiceRouted
	buf[1] = byte(len(serviceID))
	n := copy(buf[2:], serviceID)
	copy(buf[2+n:], ipPacket)
	return buf, nil
}

// DecodeServiceRouted splits a 0x2F frame into its service id and the raw
// IP packet it carries.
func DecodeServiceRouted(buf []byte) (serviceID string, ipPacket []byte, err error) {
	if len(buf) < 2 || buf[0] != FrameServiceRouted {
		return "", nil, ErrShortFrame
	}
	n := int(buf[1])
	if n == 0 || len(buf) < 2+n {
		return "", nil, ErrInvalidServiceID
	}
	return string(buf[2 : 2+n]), buf[2+n:], nil
}
