// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package intermediate

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/openztna/dataplane/internal/support"
	"github.com/openztna/dataplane/internal/wire"
)

// SessionState mirrors the §3 signaling session lifecycle.
type SessionState int

const (
	SessionAwaitingAnswer SessionState = iota
	SessionPunching
	SessionCompleted
	SessionFailed
)

// Session is the §3 "Signaling session" record: it binds both endpoints
// at offer time so later messages referencing it can be validated against
// the recorded peers.
type Session struct {
	ID        [16]byte
	ServiceID string

	AgentConnID string

	OfferedCandidates []wire.Candidate

	ChosenConnectorConnID string
	AnsweredCandidates    []wire.Candidate

	State     SessionState
	CreatedAt time.Time
}

// SessionManager owns every in-flight Session keyed by its 128-bit id, per
// §3's ownership rule: "sessions are owned by a SessionManager keyed by
// session id."
type SessionManager struct {
	mu       sync.Mutex
	sessions map[[16]byte]*Session
}

// NewSessionManager builds an empty session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{sessions: make(map[[16]byte]*Session)}
}

// NewSessionID generates a cryptographically random 128-bit session id.
func NewSessionID() ([16]byte, error) {
	var id [16]byte
	if _, err := rand.Read(id[:]); err != nil {
		return id, err
	}
	return id, nil
}

// Open records a new session from a CandidateOffer, binding agentConnID
// and the Connector chosen as authoritative for serviceID at this instant.
func (sm *SessionManager) Open(id [16]byte, serviceID, agentConnID, chosenConnectorConnID string, offered []wire.Candidate, now time.Time) *Session {
	s := &Session{
		ID:                    id,
		ServiceID:             serviceID,
		AgentConnID:           agentConnID,
		OfferedCandidates:     offered,
		ChosenConnectorConnID: chosenConnectorConnID,
		State:                 SessionAwaitingAnswer,
		CreatedAt:             now,
	}
	sm.mu.Lock()
	sm.sessions[id] = s
	sm.mu.Unlock()
	return s
}

// Get returns the session for id, or ok=false if unknown or already
// removed.
func (sm *SessionManager) Get(id [16]byte) (*Session, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	s, ok := sm.sessions[id]
	return s, ok
}

// RecordAnswer validates that answeringConnID matches the session's
// recorded chosen-Connector connection id (the §9 target invariant) before
// accepting a CandidateAnswer; mismatches are rejected with
// support.ErrSessionHijack without mutating the session.
func (sm *SessionManager) RecordAnswer(id [16]byte, answeringConnID string, candidates []wire.Candidate) (*Session, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	s, ok := sm.sessions[id]
	if !ok {
		return nil, support.ErrNotConnected
	}
	if s.ChosenConnectorConnID != answeringConnID {
		return nil, support.ErrSessionHijack
	}
	s.AnsweredCandidates = candidates
	s.State = SessionPunching
	return s, nil
}

// MarkOutcome transitions a session to its terminal state after a
// PunchingResult, best-effort (an unknown session is a no-op: the result
// is purely informational).
func (sm *SessionManager) MarkOutcome(id [16]byte, success bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	s, ok := sm.sessions[id]
	if !ok {
		return
	}
	if success {
		s.State = SessionCompleted
	} else {
		s.State = SessionFailed
	}
}

// Fail marks id as Failed, used when a relay attempt hits support.ErrNoRoute
// because the chosen Connector has since disconnected.
func (sm *SessionManager) Fail(id [16]byte) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if s, ok := sm.sessions[id]; ok {
		s.State = SessionFailed
	}
}

// Close removes a session entirely, e.g. once it has expired or reached a
// terminal state and been drained.
func (sm *SessionManager) Close(id [16]byte) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.sessions, id)
}

// Count reports the number of tracked sessions, for the active-sessions
// gauge.
func (sm *SessionManager) Count() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}

// ReapExpired removes sessions older than wire.SignalingSessionTimeout that
// never reached Completed, returning their ids.
func (sm *SessionManager) ReapExpired(now time.Time) [][16]byte {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	var expired [][16]byte
	for id, s := range sm.sessions {
		if s.State == SessionCompleted {
			continue
		}
		if now.Sub(s.CreatedAt) > wire.SignalingSessionTimeout {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(sm.sessions, id)
	}
	return expired
}

// RemoveByConnector drops every session whose chosen Connector is connID,
// e.g. when that connection closes; a relay to it would now fail with
// support.ErrNoRoute, so the Agent side is notified instead via its own
// error channel and the session is dropped.
func (sm *SessionManager) RemoveByConnector(connID string) [][16]byte {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	var dropped [][16]byte
	for id, s := range sm.sessions {
		if s.ChosenConnectorConnID == connID {
			dropped = append(dropped, id)
			delete(sm.sessions, id)
		}
	}
	return dropped
}
