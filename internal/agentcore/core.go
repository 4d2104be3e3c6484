// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

// Package agentcore implements the Agent's sans-IO QUIC core: it drives a
// client connection to the Intermediate and zero or more direct peer
// connections to Connectors, all multiplexed on one logical socket owned
// by the host. The core never touches a real file descriptor; bytes cross
// the boundary exclusively through Recv and Poll.
package agentcore

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/rs/zerolog"

	"github.com/openztna/dataplane/internal/wire"
)

// ConnState is the lifecycle of the core's connection to the Intermediate.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateEstablished
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateEstablished:
		return "established"
	default:
		return "disconnected"
	}
}

// Callbacks lets the host observe events the core decodes off the wire
// without polling for each one individually.
type Callbacks struct {
	OnObservedAddress func(netip.AddrPort)
	OnKeepalive       func(peer netip.AddrPort, tag byte, seq uint32)
	OnPacket          func(peer netip.AddrPort, ipPacket []byte)
	OnIntermediateUp  func()
	OnIntermediateErr func(error)
}

// Core owns every QUIC connection state for one Agent instance. All
// methods are safe to call from a single serial caller; the only
// asynchronous activity is internal datagram delivery, which is
// synchronized back through mu before calling into a Callbacks field.
type Core struct {
	log zerolog.Logger

	local     netip.AddrPort
	pc        *pipeConn
	transport *quic.Transport

	mu sync.Mutex

	intermediateAddr netip.AddrPort
	intermediateConn *quic.Conn
	state            ConnState
	lastConnectErr   error

	p2pPeers map[netip.AddrPort]*quic.Conn

	routes map[netip.Addr]string

	observedAddr netip.AddrPort

	pending [][]byte

	callbacks Callbacks

	timerSources     []func() (time.Time, bool)
	timeoutCallbacks []func()

	bindingHandler BindingHandler
}

// BindingHandler receives raw connectivity-check probes and responses
// that arrive on the shared socket ahead of any QUIC connection to the
// sender. The p2p engine implements this to drive its own state machine
// without agentcore importing it.
type BindingHandler interface {
	HandleInbound(from netip.AddrPort, data []byte)
}

// New allocates a core bound to the given local address. The local
// address is never actually bound to a socket here; it only labels
// outbound frames and lets tests construct deterministic addresses.
func New(local netip.AddrPort, log zerolog.Logger) *Core {
	pc := newPipeConn(local)
	return &Core{
		log:       log,
		local:     local,
		pc:        pc,
		transport: &quic.Transport{Conn: pc},
		p2pPeers:  make(map[netip.AddrPort]*quic.Conn),
		routes:    make(map[netip.Addr]string),
	}
}

// Destroy tears down every connection and releases the transport. It is
// the only method safe to call after the core is no longer in use.
func (c *Core) Destroy() error {
	c.mu.Lock()
	conn := c.intermediateConn
	peers := c.p2pPeers
	c.p2pPeers = make(map[netip.AddrPort]*quic.Conn)
	c.mu.Unlock()

	if conn != nil {
		_ = conn.CloseWithError(0, "")
	}
	for _, pc := range peers {
		_ = pc.CloseWithError(0, "")
	}
	return c.transport.Close()
}

// SetCallbacks installs the host's event sink. Safe to call once, before
// any I/O begins.
func (c *Core) SetCallbacks(cb Callbacks) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = cb
}

// AddRoute binds a virtual IP configured for a service to that service's
// id, so SendDatagram can frame captured packets correctly.
func (c *Core) AddRoute(vip netip.Addr, serviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.routes[vip] = serviceID
}

// State reports the current lifecycle of the Intermediate connection.
func (c *Core) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastConnectError returns the most recent handshake failure, if any.
func (c *Core) LastConnectError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastConnectErr
}

// ObservedAddress is the last QAD-reported reflexive address.
func (c *Core) ObservedAddress() netip.AddrPort {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.observedAddr
}

// Connect begins a QUIC client handshake to the Intermediate. It
// validates the address synchronously but performs the handshake itself
// in the background, since the handshake can only complete as bytes flow
// through Recv/Poll driven by the host's own event loop.
func (c *Core) Connect(host string, port uint16, tlsConf *tls.Config) error {
	addr, err := resolveHostPort(host, port)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidAddress, err)
	}

	c.mu.Lock()
	c.intermediateAddr = addr
	c.state = StateConnecting
	c.mu.Unlock()

	qconf := &quic.Config{EnableDatagrams: true}
	go c.dialIntermediate(addr, tlsConf, qconf)
	return nil
}

func (c *Core) dialIntermediate(addr netip.AddrPort, tlsConf *tls.Config, qconf *quic.Config) {
	conn, err := c.transport.Dial(context.Background(), net.UDPAddrFromAddrPort(addr), tlsConf, qconf)
	if err != nil {
		wrapped := &QuicError{Op: "dial", Err: err}
		c.mu.Lock()
		c.state = StateDisconnected
		c.lastConnectErr = wrapped
		cb := c.callbacks.OnIntermediateErr
		c.mu.Unlock()
		if cb != nil {
			cb(wrapped)
		}
		return
	}

	c.mu.Lock()
	c.intermediateConn = conn
	c.state = StateEstablished
	c.lastConnectErr = nil
	pending := c.pending
	c.pending = nil
	cb := c.callbacks.OnIntermediateUp
	c.mu.Unlock()

	for _, frame := range pending {
		if sendErr := conn.SendDatagram(frame); sendErr != nil {
			c.log.Warn().Err(sendErr).Msg("flush pending datagram after handshake failed")
		}
	}
	if cb != nil {
		cb()
	}
	go c.readLoop(conn, addr)
}

// ConnectP2P opens a second QUIC client connection over the same socket
// to a peer Connector's reflexive address, once a direct path has been
// nominated.
func (c *Core) ConnectP2P(peer netip.AddrPort, tlsConf *tls.Config) error {
	qconf := &quic.Config{EnableDatagrams: true}
	conn, err := c.transport.Dial(context.Background(), net.UDPAddrFromAddrPort(peer), tlsConf, qconf)
	if err != nil {
		return &QuicError{Op: "dial_p2p", Err: err}
	}
	c.mu.Lock()
	c.p2pPeers[peer] = conn
	c.mu.Unlock()
	go c.readLoop(conn, peer)
	return nil
}

// Register sends a DATAGRAM announcing the agent intends to consume
// serviceID. If the Intermediate connection isn't established yet, the
// frame is buffered and flushed once it is.
func (c *Core) Register(serviceID string) error {
	frame, err := wire.EncodeRegister(wire.FrameRegisterAgent, serviceID)
	if err != nil {
		return err
	}
	return c.sendOnIntermediate(frame)
}

func (c *Core) sendOnIntermediate(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateEstablished {
		c.pending = append(c.pending, frame)
		return nil
	}
	return c.intermediateConn.SendDatagram(frame)
}

// AttachBindingHandler wires the p2p engine so Recv can hand it raw
// connectivity-check traffic.
func (c *Core) AttachBindingHandler(h BindingHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bindingHandler = h
}

// Recv injects an inbound UDP datagram arriving on the host socket.
func (c *Core) Recv(data []byte, from netip.AddrPort) error {
	if wire.IsBindingCheck(data) {
		c.mu.Lock()
		h := c.bindingHandler
		c.mu.Unlock()
		if h != nil {
			h.HandleInbound(from, data)
		}
		return nil
	}

	c.mu.Lock()
	known := from == c.intermediateAddr
	if !known {
		_, known = c.p2pPeers[from]
	}
	c.mu.Unlock()
	if !known {
		return ErrNotConnected
	}

	c.pc.Feed(data, net.UDPAddrFromAddrPort(from))
	return nil
}

// Poll produces the next outbound UDP datagram to send, if any.
func (c *Core) Poll() (data []byte, dest netip.AddrPort, err error) {
	buf, addr, ok := c.pc.Drain()
	if !ok {
		return nil, netip.AddrPort{}, ErrNoData
	}
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return nil, netip.AddrPort{}, fmt.Errorf("agentcore: unexpected outbound addr type %T", addr)
	}
	return buf, udpAddr.AddrPort(), nil
}

// SendDatagram frames a captured IPv4 packet as a service-routed datagram
// and sends it to the Intermediate, using the packet's destination
// address to look up the configured service id.
func (c *Core) SendDatagram(ipPacket []byte) error {
	dst, err := ipv4Dest(ipPacket)
	if err != nil {
		return err
	}
	c.mu.Lock()
	serviceID, ok := c.routes[dst]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoRouteForVIP, dst)
	}
	frame, err := wire.EncodeServiceRouted(serviceID, ipPacket)
	if err != nil {
		return err
	}
	return c.sendOnIntermediate(frame)
}

// SendDatagramP2P sends a captured IPv4 packet directly to a peer
// Connector, unwrapped, since a direct path carries exactly one service.
func (c *Core) SendDatagramP2P(ipPacket []byte, peer netip.AddrPort) error {
	c.mu.Lock()
	conn, ok := c.p2pPeers[peer]
	c.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}
	return conn.SendDatagram(ipPacket)
}

// RegisterTimerSource adds a deadline provider consulted by TimeoutMS.
func (c *Core) RegisterTimerSource(f func() (time.Time, bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timerSources = append(c.timerSources, f)
}

// RegisterTimeoutCallback adds a function invoked on every OnTimeout call.
func (c *Core) RegisterTimeoutCallback(f func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeoutCallbacks = append(c.timeoutCallbacks, f)
}

// TimeoutMS returns the minimum timeout across the registered timer
// sources (RegisterTimerSource), or -1 if none has a pending deadline.
// quic-go's own per-connection timers run inside quic-go and are not
// consulted here.
func (c *Core) TimeoutMS() int64 {
	c.mu.Lock()
	sources := append([]func() (time.Time, bool){}, c.timerSources...)
	c.mu.Unlock()

	var next time.Time
	for _, f := range sources {
		if t, ok := f(); ok {
			if next.IsZero() || t.Before(next) {
				next = t
			}
		}
	}
	if next.IsZero() {
		return -1
	}
	if d := time.Until(next); d > 0 {
		return d.Milliseconds()
	}
	return 0
}

// OnTimeout re-enters the core from the host's timer wheel.
func (c *Core) OnTimeout() {
	c.mu.Lock()
	cbs := append([]func(){}, c.timeoutCallbacks...)
	c.mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
}

// SendBindingProbe writes a raw connectivity-check probe directly to the
// socket, bypassing QUIC entirely; used by the p2p engine before any
// QUIC connection to the peer exists. It satisfies p2p.Transport.
func (c *Core) SendBindingProbe(to netip.AddrPort, data []byte) error {
	_, err := c.pc.WriteTo(data, net.UDPAddrFromAddrPort(to))
	return err
}

// LocalHostAddrs enumerates non-loopback local interface addresses as
// Host candidates. It satisfies p2p.Transport.
func (c *Core) LocalHostAddrs() ([]netip.Addr, error) {
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

// OpenSignalingStream opens a bidirectional stream on the Intermediate
// connection for one P2P session's CBOR-framed records. It satisfies
// p2p.Transport.
func (c *Core) OpenSignalingStream(ctx context.Context) (io.ReadWriteCloser, error) {
	c.mu.Lock()
	conn := c.intermediateConn
	c.mu.Unlock()
	if conn == nil {
		return nil, ErrDisconnected
	}
	return conn.OpenStreamSync(ctx)
}

func (c *Core) readLoop(conn *quic.Conn, peer netip.AddrPort) {
	for {
		buf, err := conn.ReceiveDatagram(context.Background())
		if err != nil {
			return
		}
		c.dispatchDatagram(peer, buf)
	}
}

func (c *Core) dispatchDatagram(peer netip.AddrPort, buf []byte) {
	if len(buf) == 0 {
		return
	}
	switch buf[0] {
	case wire.FrameQAD:
		addr, err := wire.DecodeQAD(buf)
		if err != nil {
			c.log.Warn().Err(err).Msg("malformed QAD datagram")
			return
		}
		c.mu.Lock()
		c.observedAddr = addr
		cb := c.callbacks.OnObservedAddress
		c.mu.Unlock()
		if cb != nil {
			cb(addr)
		}
	case wire.KeepaliveTagPing, wire.KeepaliveTagPong:
		tag, seq, err := wire.DecodeKeepalive(buf)
		if err != nil {
			return
		}
		c.mu.Lock()
		cb := c.callbacks.OnKeepalive
		c.mu.Unlock()
		if cb != nil {
			cb(peer, tag, seq)
		}
	default:
		c.mu.Lock()
		cb := c.callbacks.OnPacket
		c.mu.Unlock()
		if cb != nil {
			cb(peer, buf)
		}
	}
}

func resolveHostPort(host string, port uint16) (netip.AddrPort, error) {
	if host == "" {
		return netip.AddrPort{}, fmt.Errorf("empty host")
	}
	ips, err := net.LookupIP(host)
	if err != nil || len(ips) == 0 {
		addr, parseErr := netip.ParseAddr(host)
		if parseErr != nil {
			return netip.AddrPort{}, fmt.Errorf("resolve %q: %w", host, err)
		}
		return netip.AddrPortFrom(addr, port), nil
	}
	for _, ip := range ips {
		if ip4 := ip.To4(); ip4 != nil {
			addr, _ := netip.AddrFromSlice(ip4)
			return netip.AddrPortFrom(addr, port), nil
		}
	}
	return netip.AddrPort{}, fmt.Errorf("resolve %q: no ipv4 address", host)
}
