// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package support

import (
	"errors"
	"net"
	"os"
	"strings"
	"syscall"
)

// Sentinel errors for the routing, authorization, and flow-tracking
// failure kinds surfaced by the registry and signaling relay.
var (
	ErrNoRoute       = errors.New("no connector registered for service")
	ErrSessionHijack = errors.New("candidate answer from unrecognized connector")
	ErrNotConnected  = errors.New("datagram from unknown source")
	ErrUnauthorized  = errors.New("registration not authorized by client SAN")
)

// IsConnRefused returns true if err indicates connection refused.
func IsConnRefused(err error) bool {
	var op *net.OpError
	if errors.As(err, &op) {
		if se, ok := op.Err.(*os.SyscallError); ok {
			return se.Err == syscall.ECONNREFUSED
		}
	}
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "connection refused")
}

// IsDialTimeout returns true if err indicates a dial timeout.
func IsDialTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "timeout")
}

// IsNoRoute reports whether err is (or wraps) ErrNoRoute.
func IsNoRoute(err error) bool { return errors.Is(err, ErrNoRoute) }

// IsSessionHijack reports whether err is (or wraps) ErrSessionHijack.
func IsSessionHijack(err error) bool { return errors.Is(err, ErrSessionHijack) }

// IsTLSLoadError reports whether err looks like a certificate or private
// key load failure, used by the daemon CLIs to pick the §6 TLS-load exit
// code (2) over the generic config-error code (1).
func IsTLSLoadError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "certificate") || strings.Contains(msg, "x509") ||
		strings.Contains(msg, "tls") || strings.Contains(msg, "private key") ||
		strings.Contains(msg, "certutil:")
}

// IsSocketBindError reports whether err looks like a UDP/TCP bind
// failure, used by the daemon CLIs to pick the §6 socket-bind exit code
// (3) over the generic fatal-runtime code (4).
func IsSocketBindError(err error) bool {
	if err == nil {
		return false
	}
	var se *os.SyscallError
	if errors.As(err, &se) && se.Err == syscall.EADDRINUSE {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "bind:") || strings.Contains(msg, "address already in use") ||
		strings.Contains(msg, "listen ")
}
