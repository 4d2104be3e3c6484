// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package intermediate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openztna/dataplane/internal/support"
	"github.com/openztna/dataplane/internal/wire"
)

func TestSessionOpenAndGet(t *testing.T) {
	sm := NewSessionManager()
	id, err := NewSessionID()
	require.NoError(t, err)

	offered := []wire.Candidate{{Type: wire.CandidateHost, IP: "10.0.0.1", Port: 4000}}
	s := sm.Open(id, "web-app", "agent-1", "connector-1", offered, time.Now())
	require.Equal(t, SessionAwaitingAnswer, s.State)

	got, ok := sm.Get(id)
	require.True(t, ok)
	require.Equal(t, "web-app", got.ServiceID)
	require.Equal(t, "connector-1", got.ChosenConnectorConnID)
}

func TestRecordAnswerAcceptsChosenConnector(t *testing.T) {
	sm := NewSessionManager()
	id, _ := NewSessionID()
	sm.Open(id, "web-app", "agent-1", "connector-1", nil, time.Now())

	answered := []wire.Candidate{{Type: wire.CandidateServerReflexive, IP: "203.0.113.1", Port: 9000}}
	s, err := sm.RecordAnswer(id, "connector-1", answered)
	require.NoError(t, err)
	require.Equal(t, SessionPunching, s.State)
	require.Equal(t, answered, s.AnsweredCandidates)
}

func TestRecordAnswerRejectsImposterConnector(t *testing.T) {
	sm := NewSessionManager()
	id, _ := NewSessionID()
	sm.Open(id, "web-app", "agent-1", "connector-1", nil, time.Now())

	_, err := sm.RecordAnswer(id, "connector-evil", nil)
	require.ErrorIs(t, err, support.ErrSessionHijack)

	// the session's state must not have advanced past AwaitingAnswer
	s, ok := sm.Get(id)
	require.True(t, ok)
	require.Equal(t, SessionAwaitingAnswer, s.State)
}

func TestRecordAnswerUnknownSession(t *testing.T) {
	sm := NewSessionManager()
	var bogus [16]byte
	_, err := sm.RecordAnswer(bogus, "connector-1", nil)
	require.Error(t, err)
}

func TestMarkOutcomeTerminalStates(t *testing.T) {
	sm := NewSessionManager()
	id, _ := NewSessionID()
	sm.Open(id, "svc", "agent-1", "connector-1", nil, time.Now())

	sm.MarkOutcome(id, true)
	s, _ := sm.Get(id)
	require.Equal(t, SessionCompleted, s.State)

	sm.MarkOutcome(id, false)
	s, _ = sm.Get(id)
	require.Equal(t, SessionFailed, s.State)
}

func TestReapExpiredSkipsCompletedSessions(t *testing.T) {
	sm := NewSessionManager()
	now := time.Now()

	staleID, _ := NewSessionID()
	sm.Open(staleID, "svc", "agent-1", "connector-1", nil, now.Add(-time.Hour))

	completedID, _ := NewSessionID()
	sm.Open(completedID, "svc", "agent-2", "connector-1", nil, now.Add(-time.Hour))
	sm.MarkOutcome(completedID, true)

	expired := sm.ReapExpired(now)
	require.Len(t, expired, 1)
	require.Equal(t, staleID, expired[0])

	_, ok := sm.Get(staleID)
	require.False(t, ok)
	_, ok = sm.Get(completedID)
	require.True(t, ok)
}

func TestRemoveByConnectorDropsAllItsSessions(t *testing.T) {
	sm := NewSessionManager()
	id1, _ := NewSessionID()
	id2, _ := NewSessionID()
	id3, _ := NewSessionID()
	sm.Open(id1, "svc", "agent-1", "connector-1", nil, time.Now())
	sm.Open(id2, "svc", "agent-2", "connector-1", nil, time.Now())
	sm.Open(id3, "svc", "agent-3", "connector-2", nil, time.Now())

	dropped := sm.RemoveByConnector("connector-1")
	require.ElementsMatch(t, [][16]byte{id1, id2}, dropped)
	require.Equal(t, 1, sm.Count())
}
