// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

// Package wire defines the on-the-wire frame formats shared by the Agent,
// Intermediate, and Connector: DATAGRAM frame types, QUIC ALPN, and the
// length-prefixed signaling stream records.
package wire

import "time"

// ALPN is the QUIC Application-Layer Protocol Negotiation token every
// component must present. A mismatch aborts the handshake.
const ALPN = "ztna-v1"

const (
	// MaxDatagramPayload is the nominal DATAGRAM payload ceiling.
	MaxDatagramPayload = 1350
	// EffectiveMaxDatagramPayload is what's left after QUIC's own DATAGRAM
	// framing overhead; senders must enforce this, not the nominal value.
	EffectiveMaxDatagramPayload = 1307
)

// DATAGRAM frame type tags (first byte of every QUIC DATAGRAM payload).
const (
	FrameRegisterAgent     byte = 0x10
	FrameRegisterConnector byte = 0x11
	FrameQAD               byte = 0x01
	FrameServiceRouted     byte = 0x2F
)

// MaxServiceIDLen is the largest a service id may be; 0 and >255 are
// invalid lengths.
const MaxServiceIDLen = 255

// Keepalive cadence and path-failure tuning shared by every keepalive
// sender and the resilience state machine that consumes missed beats.
const (
	KeepaliveIntervalIntermediate = 10 * time.Second
	KeepaliveIntervalDirect       = 15 * time.Second
	MissedKeepaliveThreshold      = 3
	PathFailedCooldown            = 30 * time.Second
)

// Signaling and hole-punch timing shared by the P2P session client and
// the paced connectivity-check scheduler.
const (
	SignalingSessionTimeout = 5 * time.Second
	HolePunchCheckInterval  = 20 * time.Millisecond
	HolePunchInitialBackoff = 100 * time.Millisecond
	HolePunchMaxBackoff     = 1600 * time.Millisecond
	HolePunchMaxRetries     = 5
	HolePunchTotalTimeout   = 5 * time.Second
)

// DirectPathPreferenceMargin is the fractional RTT improvement a direct
// path must show over the relay path before traffic migrates onto it.
const DirectPathPreferenceMargin = 0.30
