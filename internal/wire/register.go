// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package wire

// EncodeRegister builds a one-shot registration DATAGRAM: [type][len][service_id].
func EncodeRegister(frameType byte, serviceID string) ([]byte, error) {
	if err := validateServiceID(serviceID); err != nil {
		return nil, err
	}
	buf := make([]byte, 2+len(serviceID))
	buf[0] = frameType
	buf[1] = byte(len(serviceID))
	copy(buf[2:], serviceID)
	return buf, nil
}

// DecodeRegister parses a registration DATAGRAM, returning the service id.
// Callers already know (and should check) the frame type from buf[0].
func DecodeRegister(buf []byte) (serviceID string, err error) {
	if len(buf) < 2 {
		return "", ErrShortFrame
	}
	n := int(buf[1])
	if n == 0 || len(buf) != 2+n {
		return "", ErrInvalidServiceID
	}
	return string(buf[2 : 2+n]), nil
}

func validateServiceID(serviceID string) error {
	if len(serviceID) == 0 || len(serviceID) > MaxServiceIDLen {
		return ErrInvalidServiceID
	}
	return nil
}
