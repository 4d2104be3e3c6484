// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package agentcore

import (
	"net"
	"net/netip"
	"sync"
	"time"
)

// outboundQueueDepth bounds how much send-side backpressure the core will
// absorb before poll() must be called again to drain it.
const outboundQueueDepth = 256

// inboundQueueDepth is an arbitrary bound on queued inbound packets;
// beyond this, recv() drops rather than blocks, same as a lossy UDP socket.
const inboundQueueDepth = 256

type pkt struct {
	data []byte
	addr net.Addr
}

// pipeConn is a net.PacketConn with no socket behind it. The quic-go
// transport reads and writes through it as if it owned a UDP socket; the
// actual bytes cross the host boundary through Feed (inbound) and Drain
// (outbound), driven by the core's recv/poll methods.
type pipeConn struct {
	local netip.AddrPort

	mu     sync.Mutex
	closed bool
	done   chan struct{}

	inbound  chan pkt
	outbound chan pkt
}

func newPipeConn(local netip.AddrPort) *pipeConn {
	return &pipeConn{
		local:    local,
		done:     make(chan struct{}),
		inbound:  make(chan pkt, inboundQueueDepth),
		outbound: make(chan pkt, outboundQueueDepth),
	}
}

// Feed injects an inbound datagram, as if it had just arrived on the
// socket. It never blocks; if the inbound queue is saturated the packet
// is dropped, matching ordinary UDP loss behavior.
func (c *pipeConn) Feed(data []byte, from net.Addr) bool {
	cp := make([]byte, len(data))
	copy(cp, data)
	select {
	case c.inbound <- pkt{data: cp, addr: from}:
		return true
	default:
		return false
	}
}

// Drain removes one pending outbound datagram, if any.
func (c *pipeConn) Drain() ([]byte, net.Addr, bool) {
	select {
	case p := <-c.outbound:
		return p.data, p.addr, true
	default:
		return nil, nil, false
	}
}

func (c *pipeConn) ReadFrom(b []byte) (int, net.Addr, error) {
	select {
	case p := <-c.inbound:
		n := copy(b, p.data)
		return n, p.addr, nil
	case <-c.done:
		return 0, nil, net.ErrClosed
	}
}

func (c *pipeConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	cp := make([]byte, len(b))
	copy(cp, b)
	select {
	case c.outbound <- pkt{data: cp, addr: addr}:
		return len(b), nil
	case <-c.done:
		return 0, net.ErrClosed
	}
}

func (c *pipeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	return nil
}

func (c *pipeConn) LocalAddr() net.Addr { return net.UDPAddrFromAddrPort(c.local) }

func (c *pipeConn) SetDeadline(time.Time) error      { return nil }
func (c *pipeConn) SetReadDeadline(time.Time) error  { return nil }
func (c *pipeConn) SetWriteDeadline(time.Time) error { return nil }
