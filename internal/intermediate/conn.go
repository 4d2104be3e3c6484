// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package intermediate

import (
	"context"
	"net"
	"net/netip"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go"
)

// ConnState is the §4.2 per-connection lifecycle:
// New -> Handshaking -> Established -> {Registered, Unregistered} -> Closing -> Closed.
type ConnState int

const (
	StateNew ConnState = iota
	StateHandshaking
	StateEstablished
	StateRegistered
	StateUnregistered
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateEstablished:
		return "established"
	case StateRegistered:
		return "registered"
	case StateUnregistered:
		return "unregistered"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "new"
	}
}

// connEntry is the server's live view of one accepted QUIC connection: its
// internally generated connection id (§3's "opaque byte string ... generated
// cryptographically at random for each QUIC connection endpoint"), the
// underlying *quic.Conn, and the rebinding-detection state QAD needs.
type connEntry struct {
	id    string
	conn  *quic.Conn
	state ConnState

	lastQADAddr netip.AddrPort
}

// newConnID generates the per-connection random identifier.
func newConnID() string {
	return uuid.NewString()
}

// handleConnection drives one accepted QUIC connection for its entire
// lifetime: QAD on Established, the datagram dispatch loop, and the
// signaling-stream accept loop. It returns once the connection closes.
func (s *Server) handleConnection(ctx context.Context, conn *quic.Conn) {
	id := newConnID()
	peerAddr, ok := addrPortFromNetAddr(conn.RemoteAddr())
	if !ok {
		s.log.Warn().Str("remote", conn.RemoteAddr().String()).Msg("connection from non-IP remote, rejecting")
		conn.CloseWithError(0, "unsupported remote address")
		return
	}

	entry := &connEntry{id: id, conn: conn, state: StateEstablished}
	s.addConn(entry)
	s.registry.Touch(id, peerAddr, RoleUnknown, s.now())
	if sans := peerCertSANs(conn); len(sans) > 0 {
		s.registry.SetAuthorizedSANs(id, sans)
	}
	s.admin.NotifyConnection(id, StateEstablished.String())
	s.log.Info().Str("conn_id", id).Str("peer", peerAddr.String()).Msg("connection established")

	s.sendQAD(entry, peerAddr)

	streamDone := make(chan struct{})
	go func() {
		s.acceptStreams(ctx, entry)
		close(streamDone)
	}()

	s.datagramLoop(ctx, entry)

	<-streamDone
	s.closeConn(entry)
}

func (s *Server) closeConn(entry *connEntry) {
	s.removeConn(entry.id)
	s.sessions.RemoveByConnector(entry.id)
	s.registry.Remove(entry.id)
	s.admin.NotifyConnection(entry.id, StateClosed.String())
	s.log.Info().Str("conn_id", entry.id).Msg("connection closed")
}

func (s *Server) datagramLoop(ctx context.Context, entry *connEntry) {
	for {
		buf, err := entry.conn.ReceiveDatagram(ctx)
		if err != nil {
			return
		}
		s.dispatchDatagram(entry, buf)
	}
}

func (s *Server) acceptStreams(ctx context.Context, entry *connEntry) {
	for {
		stream, err := entry.conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		go s.handleSignalingStream(ctx, entry, stream)
	}
}

func addrPortFromNetAddr(addr net.Addr) (netip.AddrPort, bool) {
	ap, err := netip.ParseAddrPort(addr.String())
	if err != nil {
		return netip.AddrPort{}, false
	}
	return ap, true
}

// peerCertSANs extracts the DNS and URI SANs from the leaf client
// certificate presented on conn's handshake, used to restrict service
// registration to the names the operator's CA vouched for (§7). It returns
// nil when the client presented no certificate, which callers must treat as
// "no restriction" rather than "restricted to nothing".
func peerCertSANs(conn *quic.Conn) []string {
	state := conn.ConnectionState().TLS
	if len(state.PeerCertificates) == 0 {
		return nil
	}
	leaf := state.PeerCertificates[0]
	sans := make([]string, 0, len(leaf.DNSNames)+len(leaf.URIs))
	sans = append(sans, leaf.DNSNames...)
	for _, u := range leaf.URIs {
		sans = append(sans, u.String())
	}
	return sans
}
