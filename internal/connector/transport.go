// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package connector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
)

// ErrDisconnected is returned by OpenSignalingStream when no relay
// connection to the Intermediate currently exists.
var ErrDisconnected = errors.New("connector: no intermediate connection")

// The methods below satisfy p2p.Transport, mirroring agentcore.Core's own
// implementation for the Agent side of the same interface. The Connector
// only ever plays the Responder role (p2p.Engine.RespondToOffer), so
// OpenSignalingStream is exercised only for interface conformance, not by
// this package's own call sites.

// SendBindingProbe writes a raw connectivity-check frame directly to the
// shared socket, bypassing QUIC entirely.
func (c *Connector) SendBindingProbe(to netip.AddrPort, data []byte) error {
	_, err := c.transport.WriteTo(data, net.UDPAddrFromAddrPort(to))
	return err
}

// ObservedAddress is the last QAD-reported reflexive address for the
// relay connection.
func (c *Connector) ObservedAddress() netip.AddrPort {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.observedAddr
}

// LocalHostAddrs enumerates non-loopback local interface addresses as
// Host candidates.
func (c *Connector) LocalHostAddrs() ([]netip.Addr, error) {
	ifaceAddrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("enumerate interfaces: %w", err)
	}
	var out []netip.Addr
	for _, a := range ifaceAddrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		ip4 := ipNet.IP.To4()
		if ip4 == nil {
			continue
		}
		addr, ok := netip.AddrFromSlice(ip4)
		if !ok {
			continue
		}
		out = append(out, addr)
	}
	return out, nil
}

// OpenSignalingStream opens a bidirectional stream on the relay
// connection. Satisfies p2p.Transport; unused by the Connector's own
// Responder-only role.
func (c *Connector) OpenSignalingStream(ctx context.Context) (io.ReadWriteCloser, error) {
	c.mu.Lock()
	conn := c.intermediateConn
	c.mu.Unlock()
	if conn == nil {
		return nil, ErrDisconnected
	}
	return conn.OpenStreamSync(ctx)
}
