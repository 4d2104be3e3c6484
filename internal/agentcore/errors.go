// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package agentcore

import "errors"

// Sentinel errors surfaced to the host extension driving the core.
var (
	ErrInvalidAddress   = errors.New("agentcore: malformed host/port")
	ErrConnectionFailed = errors.New("agentcore: quic handshake refused")
	ErrNotConnected     = errors.New("agentcore: datagram from unknown source")
	ErrNoData           = errors.New("agentcore: no outbound data pending")
	ErrDisconnected     = errors.New("agentcore: intermediate connection is closed")
	ErrNoRouteForVIP    = errors.New("agentcore: no service registered for virtual ip")
)

// QuicError wraps a transport-level failure from the QUIC library so
// callers can distinguish it from configuration or routing failures.
type QuicError struct {
	Op  string
	Err error
}

func (e *QuicError) Error() string { return "agentcore: quic " + e.Op + ": " + e.Err.Error() }
func (e *QuicError) Unwrap() error { return e.Err }
