// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package p2p

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"net/netip"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openztna/dataplane/internal/wire"
)

// Engine runs the connectivity-check state machine for every in-flight
// hole-punch session on one endpoint. The same type serves the Agent
// (as Initiator) and the Connector (as Responder); only the signaling
// entry point differs.
type Engine struct {
	transport Transport
	relayAddr netip.AddrPort
	log       zerolog.Logger

	mu       sync.Mutex
	sessions map[[16]byte]*session
	outcomes []Outcome
	nat      *natTracker
}

// NewEngine builds an engine bound to one endpoint's transport and the
// Intermediate's address, used as the Relay candidate.
func NewEngine(t Transport, relay netip.AddrPort, log zerolog.Logger) *Engine {
	return &Engine{
		transport: t,
		relayAddr: relay,
		log:       log,
		sessions:  make(map[[16]byte]*session),
		nat:       newNATTracker(),
	}
}

// NoteObservedAddress feeds every QAD report to the symmetric-NAT
// detector; the Agent calls this from its OnObservedAddress callback.
func (e *Engine) NoteObservedAddress(addr netip.AddrPort) {
	e.nat.observe(addr)
}

// SymmetricNAT reports whether enough distinct reflexive ports have been
// seen that server-reflexive candidates should be disabled for this run.
func (e *Engine) SymmetricNAT() bool {
	return e.nat.symmetric()
}

// StartHolePunch begins a new session as Initiator: it gathers local
// candidates, opens a session stream to the Intermediate, and sends the
// CandidateOffer. The caller advances the session with PollHolePunch and
// drains the terminal outcome through PollOutcomes.
func (e *Engine) StartHolePunch(ctx context.Context, serviceID string) ([16]byte, error) {
	var sessionID [16]byte
	if _, err := rand.Read(sessionID[:]); err != nil {
		return sessionID, fmt.Errorf("generate session id: %w", err)
	}

	candidates, err := GatherCandidates(e.transport, e.relayAddr)
	if err != nil {
		return sessionID, err
	}
	if e.nat.symmetric() {
		candidates = dropServerReflexive(candidates)
	}

	s := &session{
		id:              sessionID,
		serviceID:       serviceID,
		role:            RoleInitiator,
		controlling:     true,
		state:           SessionAwaitingAnswer,
		localCandidates: candidates,
		createdAt:       time.Now(),
	}
	e.mu.Lock()
	e.sessions[sessionID] = s
	e.mu.Unlock()

	stream, err := e.transport.OpenSignalingStream(ctx)
	if err != nil {
		e.fail(s, err)
		return sessionID, nil
	}

	offer := wire.CandidateOffer{SessionID: sessionID, ServiceID: serviceID, Candidates: candidates}
	env, err := wire.EncodeEnvelope(wire.SignalCandidateOffer, offer)
	if err != nil {
		e.fail(s, err)
		return sessionID, nil
	}
	if err := wire.WriteFrame(stream, env); err != nil {
		e.fail(s, err)
		return sessionID, nil
	}

	go e.initiatorSignalLoop(s, stream)
	return sessionID, nil
}

func (e *Engine) initiatorSignalLoop(s *session, stream io.ReadWriteCloser) {
	defer stream.Close()
	for {
		env, err := wire.ReadFrame(stream)
		if err != nil {
			e.fail(s, err)
			return
		}
		switch env.Kind {
		case wire.SignalStartPunching:
			var sp wire.StartPunching
			if err := env.Decode(&sp); err != nil {
				e.fail(s, err)
				return
			}
			e.beginPunching(s, sp.PeerCandidates, sp.StartDelayMS)
			return
		case wire.SignalError:
			var se wire.SignalError
			_ = env.Decode(&se)
			e.fail(s, fmt.Errorf("signaling: %s: %s", se.Code, se.Message))
			return
		}
	}
}

// RespondToOffer implements the Responder side: the Connector receives
// an accepted stream carrying a CandidateOffer, answers it with its own
// candidates, and waits on the same stream for StartPunching.
func (e *Engine) RespondToOffer(ctx context.Context, stream io.ReadWriteCloser, offer wire.CandidateOffer) error {
	candidates, err := GatherCandidates(e.transport, e.relayAddr)
	if err != nil {
		return err
	}
	if e.nat.symmetric() {
		candidates = dropServerReflexive(candidates)
	}

	s := &session{
		id:              offer.SessionID,
		serviceID:       offer.ServiceID,
		role:            RoleResponder,
		controlling:     false,
		state:           SessionAwaitingAnswer,
		localCandidates: candidates,
		createdAt:       time.Now(),
	}
	e.mu.Lock()
	e.sessions[offer.SessionID] = s
	e.mu.Unlock()

	answer := wire.CandidateAnswer{SessionID: offer.SessionID, Candidates: candidates}
	env, err := wire.EncodeEnvelope(wire.SignalCandidateAnswer, answer)
	if err != nil {
		e.fail(s, err)
		return err
	}
	if err := wire.WriteFrame(stream, env); err != nil {
		e.fail(s, err)
		return err
	}

	go e.responderSignalLoop(s, stream, offer.Candidates)
	return nil
}

func (e *Engine) responderSignalLoop(s *session, stream io.ReadWriteCloser, peerCandidates []wire.Candidate) {
	defer stream.Close()
	env, err := wire.ReadFrame(stream)
	if err != nil {
		e.fail(s, err)
		return
	}
	switch env.Kind {
	case wire.SignalStartPunching:
		var sp wire.StartPunching
		if err := env.Decode(&sp); err != nil {
			e.fail(s, err)
			return
		}
		remote := sp.PeerCandidates
		if len(remote) == 0 {
			remote = peerCandidates
		}
		e.beginPunching(s, remote, sp.StartDelayMS)
	case wire.SignalError:
		var se wire.SignalError
		_ = env.Decode(&se)
		e.fail(s, fmt.Errorf("signaling: %s: %s", se.Code, se.Message))
	}
}

func (e *Engine) beginPunching(s *session, remoteCandidates []wire.Candidate, startDelayMS uint32) {
	time.Sleep(time.Duration(startDelayMS) * time.Millisecond)

	e.mu.Lock()
	s.remoteCandidates = remoteCandidates
	s.pairs = buildPairs(s.localCandidates, remoteCandidates, s.controlling)
	for _, p := range s.pairs {
		if p.priority == s.pairs[0].priority {
			p.state = PairWaiting
		}
	}
	s.state = SessionPunching
	s.startAt = time.Now()
	e.mu.Unlock()
}

// PollHolePunch advances every in-flight session's connectivity-check
// schedule, sending due binding requests and retiring sessions that have
// succeeded, failed, or timed out. It must be called periodically by the
// host, typically from OnTimeout.
func (e *Engine) PollHolePunch() {
	e.mu.Lock()
	sessions := make([]*session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.Unlock()

	now := time.Now()
	for _, s := range sessions {
		e.advanceSession(s, now)
	}
}

func (e *Engine) advanceSession(s *session, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if s.state == SessionCompleted || s.state == SessionFailed {
		return
	}
	if s.state != SessionPunching {
		if s.expired(now) {
			e.recordOutcomeLocked(s, false, netip.AddrPort{})
		}
		return
	}
	if s.expired(now) {
		e.recordOutcomeLocked(s, false, netip.AddrPort{})
		return
	}
	if s.nominated != nil {
		e.recordOutcomeLocked(s, true, mustRemoteAddr(s.nominated.remote))
		return
	}
	if now.Sub(s.lastCheckAt) < wire.HolePunchCheckInterval {
		return
	}
	s.lastCheckAt = now

	allFailed := true
	for _, p := range s.pairs {
		if p.state == PairFailed {
			continue
		}
		allFailed = false
		if p.state != PairWaiting && p.state != PairInProgress {
			continue
		}
		if !p.lastSent.IsZero() && now.Sub(p.lastSent) < p.nextBackoff {
			continue
		}
		e.sendCheck(s, p, now)
	}
	if allFailed {
		e.recordOutcomeLocked(s, false, netip.AddrPort{})
	}
}

func (e *Engine) sendCheck(s *session, p *pair, now time.Time) {
	if p.retries >= wire.HolePunchMaxRetries {
		p.state = PairFailed
		return
	}
	addr, ok := remoteAddr(p.remote)
	if !ok {
		p.state = PairFailed
		return
	}
	if _, err := rand.Read(p.transactionID[:]); err != nil {
		p.state = PairFailed
		return
	}
	p.useCandidate = s.controlling && p.priority == highestPriority(s.pairs)
	req := wire.BindingRequest{TransactionID: p.transactionID, Priority: uint32(p.priority >> 32), UseCandidate: p.useCandidate}
	if err := e.transport.SendBindingProbe(addr, wire.EncodeBindingRequest(req)); err != nil {
		e.log.Debug().Err(err).Msg("binding probe send failed")
	}
	p.state = PairInProgress
	p.lastSent = now
	p.retries++
	p.nextBackoff = nextBackoff(p.nextBackoff)
}

func highestPriority(pairs []*pair) uint64 {
	var max uint64
	for _, p := range pairs {
		if p.priority > max {
			max = p.priority
		}
	}
	return max
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > wire.HolePunchMaxBackoff {
		return wire.HolePunchMaxBackoff
	}
	return next
}

// HandleInbound dispatches a raw connectivity-check probe or response
// arriving on the shared socket, ahead of any QUIC connection to its
// sender. It satisfies agentcore.BindingHandler.
func (e *Engine) HandleInbound(from netip.AddrPort, data []byte) {
	if req, err := wire.DecodeBindingRequest(data); err == nil {
		e.handleBindingRequest(from, req)
		return
	}
	if resp, err := wire.DecodeBindingResponse(data); err == nil {
		e.handleBindingResponse(from, resp)
		return
	}
}

func (e *Engine) handleBindingRequest(from netip.AddrPort, req wire.BindingRequest) {
	resp, err := wire.EncodeBindingResponse(wire.BindingResponse{
		TransactionID: req.TransactionID,
		Success:       true,
		MappedAddress: from,
	})
	if err != nil {
		return
	}
	_ = e.transport.SendBindingProbe(from, resp)
}

func (e *Engine) handleBindingResponse(from netip.AddrPort, resp wire.BindingResponse) {
	if !resp.Success {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.sessions {
		if s.state != SessionPunching {
			continue
		}
		for _, p := range s.pairs {
			if p.transactionID != resp.TransactionID {
				continue
			}
			p.state = PairSucceeded
			unfreezeSiblings(s.pairs, p)
			if p.useCandidate || s.nominated == nil {
				s.nominated = p
			}
			return
		}
	}
}

// PollOutcomes drains terminal results (success or relay fallback) since
// the last call.
func (e *Engine) PollOutcomes() []Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.outcomes
	e.outcomes = nil
	return out
}

func (e *Engine) fail(s *session, err error) {
	e.log.Debug().Err(err).Str("session", fmt.Sprintf("%x", s.id)).Msg("hole punch failed")
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recordOutcomeLocked(s, false, netip.AddrPort{})
}

func (e *Engine) recordOutcomeLocked(s *session, success bool, addr netip.AddrPort) {
	if s.outcomeDelivered {
		return
	}
	s.outcomeDelivered = true
	if success {
		s.state = SessionCompleted
	} else {
		s.state = SessionFailed
	}
	e.outcomes = append(e.outcomes, Outcome{SessionID: s.id, ServiceID: s.serviceID, Success: success, Direct: addr})
}

func mustRemoteAddr(c wire.Candidate) netip.AddrPort {
	addr, _ := remoteAddr(c)
	return addr
}

func dropServerReflexive(in []wire.Candidate) []wire.Candidate {
	out := make([]wire.Candidate, 0, len(in))
	for _, c := range in {
		if c.Type == wire.CandidateServerReflexive {
			continue
		}
		out = append(out, c)
	}
	return out
}
