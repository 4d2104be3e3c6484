// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

// Package connector implements the Connector daemon (§4.3): a dual-mode
// QUIC endpoint that dials out to the Intermediate as a client while
// simultaneously accepting direct P2P QUIC connections from Agents on the
// same UDP socket, decapsulating tunneled IP packets and bridging them to
// local backends.
package connector

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go"
	"github.com/rs/zerolog"

	"github.com/openztna/dataplane/internal/config"
	"github.com/openztna/dataplane/internal/p2p"
	"github.com/openztna/dataplane/internal/resilience"
	"github.com/openztna/dataplane/internal/wire"
	"github.com/openztna/dataplane/shared/certutil"
)

// Reconnection backoff, grounded in the teacher's session Manager/
// nextBackoff pattern (ForTunnels-client/internal/dataplane/session.go),
// per §4.3's "initial 1 s, cap 60 s".
const (
	initialReconnectBackoff = 1 * time.Second
	maxReconnectBackoff     = 60 * time.Second
)

const (
	idleFlowTimeout  = 2 * time.Minute
	flowReapInterval = 15 * time.Second

	holePunchPollInterval  = 50 * time.Millisecond
	directPeerTickInterval = 1 * time.Second
)

// Connector owns the shared UDP socket, the outbound client connection to
// the Intermediate, and every accepted direct P2P connection from Agents.
type Connector struct {
	log    zerolog.Logger
	cfg    *config.ConnectorConfig
	routes *RoutingTable
	flows  *flowTable

	transport *quic.Transport
	listener  *quic.Listener
	clientTLS *tls.Config

	engine *p2p.Engine

	mu               sync.Mutex
	intermediateConn *quic.Conn
	observedAddr     netip.AddrPort
	directPeers      map[string]*directPeer

	closeOnce sync.Once
	closed    chan struct{}
}

// directPeer is one accepted P2P connection from an Agent, with its own
// keepalive/path-health tracking per §4.4's 15 s direct-path interval.
type directPeer struct {
	id    string
	conn  *quic.Conn
	paths *resilience.Manager
}

// New builds a Connector from cfg: it loads the TLS material, binds the
// shared UDP socket on the P2P listen port, and starts the P2P QUIC
// listener on it. Run then dials the Intermediate and accepts P2P
// connections.
func New(cfg *config.ConnectorConfig, log zerolog.Logger) (*Connector, error) {
	routes, err := NewRoutingTable(cfg.Services)
	if err != nil {
		return nil, err
	}

	p2pTLS, err := loadP2PServerTLS(cfg)
	if err != nil {
		return nil, err
	}

	clientTLS, err := certutil.ClientConfig(cfg.Intermediate.Host, cfg.TLS.CAPath, "", "")
	if err != nil {
		return nil, fmt.Errorf("connector: build intermediate tls config: %w", err)
	}
	if cfg.TLS.RequireClientCert {
		// The Connector proves the same identity to the Intermediate that
		// it proves to Agents dialing it directly, since both exist to
		// authorize against the same mTLS SAN restriction (§7).
		clientTLS.Certificates = p2pTLS.Certificates
	}

	udpConn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: cfg.P2P.ListenPort})
	if err != nil {
		return nil, fmt.Errorf("connector: bind p2p socket on port %d: %w", cfg.P2P.ListenPort, err)
	}
	transport := &quic.Transport{Conn: udpConn}

	listener, err := transport.Listen(p2pTLS, &quic.Config{
		EnableDatagrams: true,
		KeepAlivePeriod: wire.KeepaliveIntervalDirect,
	})
	if err != nil {
		return nil, fmt.Errorf("connector: listen p2p: %w", err)
	}

	c := &Connector{
		log:         log,
		cfg:         cfg,
		routes:      routes,
		flows:       newFlowTable(),
		transport:   transport,
		listener:    listener,
		clientTLS:   clientTLS,
		directPeers: make(map[string]*directPeer),
		closed:      make(chan struct{}),
	}
	c.engine = p2p.NewEngine(c, relayCandidateAddr(cfg), log)
	return c, nil
}

// loadP2PServerTLS builds the TLS identity the Connector presents to
// Agents dialing it directly, unsealing the private key first when the
// config marks it sealed.
func loadP2PServerTLS(cfg *config.ConnectorConfig) (*tls.Config, error) {
	if cfg.P2P.KeySealed {
		tlsConf, err := certutil.LoadServerConfigSealed(cfg.P2P.CertPath, cfg.P2P.KeyPath, cfg.P2P.KeyPSK, cfg.TLS.CAPath, cfg.TLS.RequireClientCert)
		if err != nil {
			return nil, fmt.Errorf("connector: load sealed p2p tls identity: %w", err)
		}
		return tlsConf, nil
	}
	tlsConf, err := certutil.LoadServerConfig(cfg.P2P.CertPath, cfg.P2P.KeyPath, cfg.TLS.CAPath, cfg.TLS.RequireClientCert)
	if err != nil {
		return nil, fmt.Errorf("connector: load p2p tls identity: %w", err)
	}
	return tlsConf, nil
}

// relayCandidateAddr resolves the Intermediate's address once, used by the
// p2p engine as the always-available Relay candidate.
func relayCandidateAddr(cfg *config.ConnectorConfig) netip.AddrPort {
	ips, err := net.LookupIP(cfg.Intermediate.Host)
	if err != nil || len(ips) == 0 {
		addr, parseErr := netip.ParseAddr(cfg.Intermediate.Host)
		if parseErr != nil {
			return netip.AddrPort{}
		}
		return netip.AddrPortFrom(addr, uint16(cfg.Intermediate.Port))
	}
	for _, ip := range ips {
		if ip4 := ip.To4(); ip4 != nil {
			addr, _ := netip.AddrFromSlice(ip4)
			return netip.AddrPortFrom(addr, uint16(cfg.Intermediate.Port))
		}
	}
	return netip.AddrPort{}
}

// Run drives the Connector until ctx is cancelled: the relay client
// connection (with reconnect-on-failure), the P2P accept loop, the
// hole-punch poller, and the idle-flow reaper.
func (c *Connector) Run(ctx context.Context) error {
	go c.acceptDirectLoop(ctx)
	go c.reapLoop(ctx)
	go c.punchPollLoop(ctx)

	c.relayLoop(ctx)
	return nil
}

// Close tears down the listener, transport, and every live flow's backend
// connection. It does not wait for in-flight goroutines to exit.
func (c *Connector) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })

	c.mu.Lock()
	conn := c.intermediateConn
	peers := c.directPeers
	c.directPeers = make(map[string]*directPeer)
	c.mu.Unlock()

	if conn != nil {
		_ = conn.CloseWithError(0, "")
	}
	for _, p := range peers {
		_ = p.conn.CloseWithError(0, "")
	}
	c.flows.mu.Lock()
	for k, e := range c.flows.flows {
		e.closeBackend()
		delete(c.flows.flows, k)
	}
	c.flows.mu.Unlock()
	_ = c.listener.Close()
	return c.transport.Close()
}

// relayLoop maintains the outbound connection to the Intermediate,
// reconnecting with exponential backoff on failure per §4.3. It returns
// once ctx is cancelled.
func (c *Connector) relayLoop(ctx context.Context) {
	backoff := initialReconnectBackoff
	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := c.dialIntermediate(ctx)
		if err != nil {
			c.log.Warn().Err(err).Dur("retry_in", backoff).Msg("dial intermediate failed")
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = initialReconnectBackoff

		c.mu.Lock()
		c.intermediateConn = conn
		c.mu.Unlock()

		c.log.Info().Str("remote", conn.RemoteAddr().String()).Msg("connected to intermediate")
		c.registerServices(conn)

		c.runIntermediateConn(ctx, conn)

		c.mu.Lock()
		c.intermediateConn = nil
		c.mu.Unlock()
		c.log.Warn().Msg("intermediate connection lost, reconnecting")
	}
}

func (c *Connector) dialIntermediate(ctx context.Context) (*quic.Conn, error) {
	addr := net.JoinHostPort(c.cfg.Intermediate.Host, fmt.Sprintf("%d", c.cfg.Intermediate.Port))
	udpAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve intermediate address: %w", err)
	}
	qconf := &quic.Config{
		EnableDatagrams: true,
		KeepAlivePeriod: wire.KeepaliveIntervalIntermediate,
	}
	return c.transport.Dial(ctx, udpAddr, c.clientTLS, qconf)
}

// registerServices issues one 0x11 DATAGRAM per configured service, run on
// initial connect and on every reconnect per §4.3.
func (c *Connector) registerServices(conn *quic.Conn) {
	for _, id := range c.routes.ServiceIDs() {
		frame, err := wire.EncodeRegister(wire.FrameRegisterConnector, id)
		if err != nil {
			c.log.Warn().Err(err).Str("service_id", id).Msg("encode registration failed")
			continue
		}
		if err := conn.SendDatagram(frame); err != nil {
			c.log.Warn().Err(err).Str("service_id", id).Msg("send registration failed")
			continue
		}
		c.log.Info().Str("service_id", id).Msg("registered with intermediate")
	}
}

// runIntermediateConn drives one relay connection's datagram loop and its
// signaling-stream accept loop until the connection closes.
func (c *Connector) runIntermediateConn(ctx context.Context, conn *quic.Conn) {
	streamDone := make(chan struct{})
	go func() {
		c.acceptSignalingStreams(ctx, conn)
		close(streamDone)
	}()

	for {
		buf, err := conn.ReceiveDatagram(ctx)
		if err != nil {
			break
		}
		c.dispatchRelayDatagram(conn, buf)
	}
	<-streamDone
}

// dispatchRelayDatagram handles one DATAGRAM arriving on the relay
// connection. QAD updates the observed reflexive address; anything else
// is already-decapsulated tunneled traffic, per §4.2's wrapper-stripping
// relay contract. On the relay path every packet shares one flow identity
// ("relay"): the Intermediate's own return-routing already collapses
// per-Agent identity (see DESIGN.md).
func (c *Connector) dispatchRelayDatagram(conn *quic.Conn, buf []byte) {
	if len(buf) == 0 {
		return
	}
	if buf[0] == wire.FrameQAD {
		addr, err := wire.DecodeQAD(buf)
		if err != nil {
			c.log.Warn().Err(err).Msg("malformed QAD datagram")
			return
		}
		c.mu.Lock()
		c.observedAddr = addr
		c.mu.Unlock()
		c.engine.NoteObservedAddress(addr)
		return
	}
	c.handleTunneledPacket(conn, "relay", buf)
}

// handleTunneledPacket decodes and routes one already-decapsulated IPv4
// packet arriving from target, whether the relay connection or a direct
// P2P connection.
func (c *Connector) handleTunneledPacket(target replyTarget, agentConnID string, buf []byte) {
	d, err := decodeIPv4(buf)
	if err != nil {
		c.log.Debug().Err(err).Msg("malformed tunneled ip packet, dropping")
		return
	}
	now := time.Now()

	switch {
	case d.hasTCP:
		svc, ok := c.routes.Lookup(config.ProtoTCP, uint16(d.tcp.DstPort))
		if !ok {
			return
		}
		c.handleTCP(target, agentConnID, d, svc, now)
	case d.hasUDP:
		svc, ok := c.routes.Lookup(config.ProtoUDP, uint16(d.udp.DstPort))
		if !ok {
			return
		}
		c.handleUDP(target, agentConnID, d, svc, now)
	case d.hasICMP:
		if _, ok := c.routes.ICMPService(); !ok {
			return
		}
		c.handleICMP(target, d)
	default:
		c.log.Debug().Msg("tunneled packet has no parseable transport layer, dropping")
	}
}

func (c *Connector) acceptSignalingStreams(ctx context.Context, conn *quic.Conn) {
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		go c.handleSignalingStream(ctx, stream)
	}
}

// handleSignalingStream expects exactly one CandidateOffer as the first
// frame of a newly accepted stream, per §4.2, and hands it to the p2p
// engine's Responder entry point. RespondToOffer takes over the stream's
// lifetime on success.
func (c *Connector) handleSignalingStream(ctx context.Context, stream io.ReadWriteCloser) {
	env, err := wire.ReadFrame(stream)
	if err != nil {
		_ = stream.Close()
		return
	}
	if env.Kind != wire.SignalCandidateOffer {
		_ = stream.Close()
		return
	}
	var offer wire.CandidateOffer
	if err := env.Decode(&offer); err != nil {
		_ = stream.Close()
		return
	}
	if err := c.engine.RespondToOffer(ctx, stream, offer); err != nil {
		c.log.Warn().Err(err).Str("service_id", offer.ServiceID).Msg("respond to candidate offer failed")
		_ = stream.Close()
	}
}

// acceptDirectLoop accepts direct P2P QUIC connections from Agents on the
// shared socket, per §4.3's dual-mode demultiplexing (quic-go itself
// distinguishes the two roles by QUIC connection id and Initial-packet
// detection on the shared PacketConn).
func (c *Connector) acceptDirectLoop(ctx context.Context) {
	for {
		conn, err := c.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn().Err(err).Msg("accept direct p2p connection failed")
			continue
		}
		go c.handleDirectConn(ctx, conn)
	}
}

func (c *Connector) handleDirectConn(ctx context.Context, conn *quic.Conn) {
	peer := &directPeer{id: uuid.NewString(), conn: conn, paths: resilience.NewManager()}
	peer.paths.AddPath(resilience.PathDirect, wire.KeepaliveIntervalDirect)

	c.mu.Lock()
	c.directPeers[peer.id] = peer
	c.mu.Unlock()

	c.log.Info().Str("peer", conn.RemoteAddr().String()).Str("conn_id", peer.id).Msg("direct p2p connection accepted")

	done := make(chan struct{})
	go func() {
		c.directKeepaliveLoop(ctx, peer)
		close(done)
	}()

	for {
		buf, err := conn.ReceiveDatagram(ctx)
		if err != nil {
			break
		}
		c.dispatchDirectDatagram(peer, buf)
	}

	c.mu.Lock()
	delete(c.directPeers, peer.id)
	c.mu.Unlock()
	c.flows.removeByConn(peer.id)
	<-done
	c.log.Info().Str("conn_id", peer.id).Msg("direct p2p connection closed")
}

func (c *Connector) dispatchDirectDatagram(peer *directPeer, buf []byte) {
	if len(buf) == 0 {
		return
	}
	switch buf[0] {
	case wire.KeepaliveTagPing:
		_, seq, err := wire.DecodeKeepalive(buf)
		if err != nil {
			return
		}
		_ = peer.conn.SendDatagram(wire.EncodeKeepalive(wire.KeepaliveTagPong, seq))
	case wire.KeepaliveTagPong:
		_, seq, err := wire.DecodeKeepalive(buf)
		if err != nil {
			return
		}
		peer.paths.OnPong(resilience.PathDirect, seq, time.Now())
	default:
		c.handleTunneledPacket(peer.conn, peer.id, buf)
	}
}

// directKeepaliveLoop sends due Pings on one direct connection and ages
// its path-health state, until ctx is cancelled or the connection closes.
func (c *Connector) directKeepaliveLoop(ctx context.Context, peer *directPeer) {
	ticker := time.NewTicker(directPeerTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		case now := <-ticker.C:
			for _, ka := range peer.paths.Due(now) {
				_ = peer.conn.SendDatagram(ka.Data)
			}
			peer.paths.Tick(now)
			if peer.paths.ActivePath() == resilience.PathNone {
				return
			}
		}
	}
}

func (c *Connector) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(flowReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, key := range c.flows.reapIdle(now, idleFlowTimeout) {
				c.log.Debug().Str("proto", key.proto).Uint16("backend_port", key.backendDstPort).Msg("reaped idle flow")
			}
		}
	}
}

func (c *Connector) punchPollLoop(ctx context.Context) {
	ticker := time.NewTicker(holePunchPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.engine.PollHolePunch()
		}
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > maxReconnectBackoff {
		return maxReconnectBackoff
	}
	return next
}

// sleepCtx sleeps for d or returns early (reporting false) if ctx is
// cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
