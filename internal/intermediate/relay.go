// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package intermediate

import (
	"context"
	"io"
	"net/netip"

	"github.com/openztna/dataplane/internal/metrics"
	"github.com/openztna/dataplane/internal/support"
	"github.com/openztna/dataplane/internal/wire"
)

// sendQAD emits the server-observed-address DATAGRAM a connection receives
// immediately after Established, and again whenever its observed source
// changes (NAT rebinding).
func (s *Server) sendQAD(entry *connEntry, observed netip.AddrPort) {
	if entry.lastQADAddr == observed {
		return
	}
	frame, err := wire.EncodeQAD(observed)
	if err != nil {
		s.log.Warn().Err(err).Str("conn_id", entry.id).Msg("cannot encode QAD for non-IPv4 peer")
		return
	}
	if err := entry.conn.SendDatagram(frame); err != nil {
		s.log.Warn().Err(err).Str("conn_id", entry.id).Msg("send QAD failed")
		return
	}
	entry.lastQADAddr = observed
}

// dispatchDatagram handles one DATAGRAM received on entry's connection.
// Frames are dispatched by tag regardless of the connection's current
// role: 0x10, 0x11 and 0x2F are matched (0x01 QAD only flows from the
// server to peers), and none of them collides with a raw IPv4 packet's
// leading version/IHL byte in practice, so any other leading byte is
// treated as already-decapsulated Connector return traffic (see
// DESIGN.md's resolution of this Open Question).
func (s *Server) dispatchDatagram(entry *connEntry, buf []byte) {
	if len(buf) == 0 {
		return
	}
	observed, ok := addrPortFromNetAddr(entry.conn.RemoteAddr())
	if ok {
		s.registry.Touch(entry.id, observed, s.roleOf(entry.id), s.now())
		s.sendQAD(entry, observed)
	}

	switch buf[0] {
	case wire.FrameRegisterAgent:
		s.handleRegister(entry, buf, RoleAgent)
	case wire.FrameRegisterConnector:
		s.handleRegister(entry, buf, RoleConnector)
	case wire.FrameServiceRouted:
		s.handleServiceRouted(entry, buf)
	default:
		s.handleConnectorReturn(entry, buf)
	}
}

func (s *Server) roleOf(connID string) Role {
	if m, ok := s.registry.Meta(connID); ok {
		return m.Role
	}
	return RoleUnknown
}

func (s *Server) handleRegister(entry *connEntry, buf []byte, role Role) {
	serviceID, err := wire.DecodeRegister(buf)
	if err != nil {
		s.log.Warn().Err(err).Str("conn_id", entry.id).Msg("malformed registration frame")
		return
	}
	if !s.authorizeRegistration(entry.id, serviceID) {
		s.log.Warn().Str("conn_id", entry.id).Str("service_id", serviceID).Msg("registration rejected: not authorized by client SAN")
		return
	}

	switch role {
	case RoleAgent:
		s.registry.RegisterAgent(entry.id, serviceID)
		s.admin.NotifyRegistration(serviceID, entry.id, "agent", "")
		s.log.Info().Str("conn_id", entry.id).Str("service_id", serviceID).Msg("agent registered")
	case RoleConnector:
		prev, overwritten := s.registry.RegisterConnector(entry.id, serviceID)
		if overwritten {
			s.log.Warn().Str("service_id", serviceID).Str("previous_conn_id", prev).Str("new_conn_id", entry.id).
				Msg("connector registration overwrote previous authoritative holder")
		}
		s.admin.NotifyRegistration(serviceID, entry.id, "connector", prev)
		s.log.Info().Str("conn_id", entry.id).Str("service_id", serviceID).Msg("connector registered")
	}
	entry.state = StateRegistered
	metrics.SetRegisteredServices(s.registry.ConnectorCount())
}

// authorizeRegistration enforces the §7 mTLS SAN restriction: a
// connection with recorded authorized SANs may only register for a
// service id present in that set; a connection with no restriction
// recorded (mutual TLS not configured, or SAN matching not in use) is
// unrestricted.
func (s *Server) authorizeRegistration(connID, serviceID string) bool {
	m, ok := s.registry.Meta(connID)
	if !ok || len(m.AuthorizedSANs) == 0 {
		return true
	}
	for _, san := range m.AuthorizedSANs {
		if san == serviceID {
			return true
		}
	}
	return false
}

// handleServiceRouted relays an Agent's 0x2F-framed datagram to the
// Connector authoritative for its service id, stripping the wrapper so
// the Connector receives the raw tunneled IP packet as a plain DATAGRAM.
func (s *Server) handleServiceRouted(entry *connEntry, buf []byte) {
	serviceID, ipPacket, err := wire.DecodeServiceRouted(buf)
	if err != nil {
		metrics.RecordRelayError("malformed_frame")
		s.log.Warn().Err(err).Str("conn_id", entry.id).Msg("malformed service-routed datagram")
		return
	}
	if !s.registry.AgentMayConsume(entry.id, serviceID) {
		metrics.RecordRelayError("unauthorized")
		s.log.Warn().Str("conn_id", entry.id).Str("service_id", serviceID).Msg("service-routed datagram for unregistered service")
		return
	}
	connectorID, ok := s.registry.ConnectorFor(serviceID)
	if !ok {
		metrics.RecordRelayError("no_route")
		return
	}
	connector := s.lookupConn(connectorID)
	if connector == nil {
		metrics.RecordRelayError("no_route")
		s.sessions.RemoveByConnector(connectorID)
		return
	}

	s.recordLastFlow(connectorID, entry.id)
	if err := connector.conn.SendDatagram(ipPacket); err != nil {
		metrics.RecordRelayError("send_failed")
		return
	}
	metrics.RecordRelayDatagram(metrics.DirectionAgentToConnector)
}

// handleConnectorReturn relays a Connector's already-decapsulated return
// datagram back to the Agent whose flow most recently routed traffic
// through it. Per §4.2 this is "first matching flow" routing and a
// documented limitation, not a bug to be fixed: a Connector fanning one
// service's return traffic across concurrently-active agents can mis-route.
func (s *Server) handleConnectorReturn(entry *connEntry, buf []byte) {
	agentID := s.lastFlowAgent(entry.id)
	if agentID == "" {
		metrics.RecordRelayError("no_route")
		return
	}
	agent := s.lookupConn(agentID)
	if agent == nil {
		metrics.RecordRelayError("no_route")
		return
	}
	if err := agent.conn.SendDatagram(buf); err != nil {
		metrics.RecordRelayError("send_failed")
		return
	}
	metrics.RecordRelayDatagram(metrics.DirectionConnectorToAgent)
}

func (s *Server) recordLastFlow(connectorID, agentID string) {
	s.mu.Lock()
	s.connectorLastAgent[connectorID] = agentID
	s.mu.Unlock()
}

func (s *Server) lastFlowAgent(connectorID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectorLastAgent[connectorID]
}

// handleSignalingStream dispatches the first and subsequent frames read
// from one accepted bidirectional stream. Per §4.2 the first message a
// newly accepted stream ever carries is a CandidateOffer; everything
// after belongs to the session it created (PunchingResult, chiefly).
func (s *Server) handleSignalingStream(ctx context.Context, entry *connEntry, stream io.ReadWriteCloser) {
	defer stream.Close()

	env, err := wire.ReadFrame(stream)
	if err != nil {
		return
	}
	if env.Kind != wire.SignalCandidateOffer {
		s.writeError(stream, [16]byte{}, wire.ErrCodeUnknownSession, "first signaling frame must be a candidate offer")
		return
	}
	var offer wire.CandidateOffer
	if err := env.Decode(&offer); err != nil {
		return
	}

	s.handleCandidateOffer(ctx, entry, stream, offer)
}

func (s *Server) handleCandidateOffer(ctx context.Context, agentEntry *connEntry, agentStream io.ReadWriteCloser, offer wire.CandidateOffer) {
	connectorID, ok := s.registry.ConnectorFor(offer.ServiceID)
	if !ok {
		s.writeError(agentStream, offer.SessionID, wire.ErrCodeNoRoute, "no connector registered for service")
		return
	}
	connectorEntry := s.lookupConn(connectorID)
	if connectorEntry == nil {
		s.writeError(agentStream, offer.SessionID, wire.ErrCodeNoRoute, "connector connection unavailable")
		return
	}

	session := s.sessions.Open(offer.SessionID, offer.ServiceID, agentEntry.id, connectorID, offer.Candidates, s.now())
	metrics.SetActiveSessions(s.sessions.Count())
	s.admin.NotifySession(session.ID, session.ServiceID, "awaiting_answer")

	connectorStream, err := connectorEntry.conn.OpenStreamSync(ctx)
	if err != nil {
		s.writeError(agentStream, offer.SessionID, wire.ErrCodeNoRoute, "could not reach connector")
		s.sessions.Fail(offer.SessionID)
		metrics.SetActiveSessions(s.sessions.Count())
		return
	}
	defer connectorStream.Close()

	forwardEnv, err := wire.EncodeEnvelope(wire.SignalCandidateOffer, offer)
	if err != nil {
		return
	}
	if err := wire.WriteFrame(connectorStream, forwardEnv); err != nil {
		return
	}

	s.pumpConnectorSide(agentStream, connectorStream, session)
}

// pumpConnectorSide reads the connector's answer, validates it against the
// session's recorded chosen-Connector id, relays the CandidateAnswer back
// to the Agent, sends StartPunching to both sides, and then drains
// best-effort PunchingResult reports from the Agent's stream and then from
// the connector's stream.
func (s *Server) pumpConnectorSide(agentStream, connectorStream io.ReadWriteCloser, session *Session) {
	env, err := wire.ReadFrame(connectorStream)
	if err != nil {
		s.sessions.Fail(session.ID)
		return
	}
	if env.Kind != wire.SignalCandidateAnswer {
		return
	}
	var answer wire.CandidateAnswer
	if err := env.Decode(&answer); err != nil {
		return
	}

	// §9 target invariant: CandidateAnswer is only accepted from the
	// connection recorded as chosen_connector_conn_id at offer time.
	updated, err := s.sessions.RecordAnswer(session.ID, session.ChosenConnectorConnID, answer.Candidates)
	if err != nil {
		code := wire.ErrCodeSessionHijack
		if support.IsNoRoute(err) {
			code = wire.ErrCodeNoRoute
		}
		s.writeError(agentStream, session.ID, code, err.Error())
		metrics.RecordRelayError("session_hijack")
		return
	}
	s.admin.NotifySession(updated.ID, updated.ServiceID, "punching")

	answerEnv, err := wire.EncodeEnvelope(wire.SignalCandidateAnswer, answer)
	if err == nil {
		_ = wire.WriteFrame(agentStream, answerEnv)
	}

	s.startPunching(agentStream, connectorStream, updated)
	s.drainPunchingResults(agentStream, updated.ID)
	s.drainPunchingResults(connectorStream, updated.ID)
}

// startPunching sends each side the other's candidates with a shared
// relative start delay so both begin connectivity checks at approximately
// the same instant.
func (s *Server) startPunching(agentStream, connectorStream io.ReadWriteCloser, session *Session) {
	const startDelayMS = 200

	toAgent := wire.StartPunching{SessionID: session.ID, StartDelayMS: startDelayMS, PeerCandidates: session.AnsweredCandidates}
	toConnector := wire.StartPunching{SessionID: session.ID, StartDelayMS: startDelayMS, PeerCandidates: session.OfferedCandidates}

	if env, err := wire.EncodeEnvelope(wire.SignalStartPunching, toAgent); err == nil {
		_ = wire.WriteFrame(agentStream, env)
	}
	if env, err := wire.EncodeEnvelope(wire.SignalStartPunching, toConnector); err == nil {
		_ = wire.WriteFrame(connectorStream, env)
	}
}

// drainPunchingResults reads PunchingResult reports off one side's stream
// until it closes, recording the outcome for metrics; this is best-effort
// and never surfaces an error.
func (s *Server) drainPunchingResults(stream io.ReadWriteCloser, sessionID [16]byte) {
	for {
		env, err := wire.ReadFrame(stream)
		if err != nil {
			return
		}
		if env.Kind != wire.SignalPunchingResult {
			continue
		}
		var result wire.PunchingResult
		if err := env.Decode(&result); err != nil {
			continue
		}
		s.sessions.MarkOutcome(sessionID, result.Success)
		metrics.RecordPunchOutcome(result.Success)
		s.admin.NotifySession(sessionID, "", stateLabel(result.Success))
	}
}

func stateLabel(success bool) string {
	if success {
		return "completed"
	}
	return "failed"
}

func (s *Server) writeError(stream io.ReadWriteCloser, sessionID [16]byte, code, message string) {
	rec := wire.SignalError{SessionID: sessionID, Code: code, Message: message}
	env, err := wire.EncodeEnvelope(wire.SignalError, rec)
	if err != nil {
		return
	}
	_ = wire.WriteFrame(stream, env)
}
