// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package wire

import "errors"

// Sentinel errors surfaced across the frame codecs. Callers wrap these
// with context via fmt.Errorf("...: %w", err) so errors.Is still matches.
var (
	ErrBufferTooShort   = errors.New("wire: payload exceeds effective DATAGRAM limit")
	ErrInvalidServiceID = errors.New("wire: service id must be 1-255 bytes")
	ErrShortFrame       = errors.New("wire: frame too short to decode")
	ErrUnknownFrameType = errors.New("wire: unrecognized frame type")
	ErrMalformedQAD     = errors.New("wire: QAD datagram must be exactly 7 bytes")
)
