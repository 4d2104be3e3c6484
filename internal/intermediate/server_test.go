// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package intermediate

import (
	"net/netip"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestServer() *Server {
	return &Server{
		log:                zerolog.Nop(),
		registry:           NewRegistry(),
		sessions:           NewSessionManager(),
		admin:              NewAdmin(zerolog.Nop()),
		conns:              make(map[string]*connEntry),
		connectorLastAgent: make(map[string]string),
		nowFn:              time.Now,
	}
}

func TestAuthorizeRegistrationUnrestrictedByDefault(t *testing.T) {
	s := newTestServer()
	require.True(t, s.authorizeRegistration("conn-1", "anything"))
}

func TestAuthorizeRegistrationRestrictsToSANSet(t *testing.T) {
	s := newTestServer()
	s.registry.Touch("conn-1", netip.MustParseAddrPort("10.0.0.1:1"), RoleUnknown, time.Now())
	s.registry.SetAuthorizedSANs("conn-1", []string{"web-app"})

	require.True(t, s.authorizeRegistration("conn-1", "web-app"))
	require.False(t, s.authorizeRegistration("conn-1", "other-service"))
}

func TestRecordAndLookupLastFlow(t *testing.T) {
	s := newTestServer()
	s.recordLastFlow("connector-1", "agent-1")
	require.Equal(t, "agent-1", s.lastFlowAgent("connector-1"))
	require.Empty(t, s.lastFlowAgent("connector-unknown"))
}

func TestRemoveConnClearsLastFlowEntriesReferencingIt(t *testing.T) {
	s := newTestServer()
	s.recordLastFlow("connector-1", "agent-1")
	s.removeConn("agent-1")
	require.Empty(t, s.lastFlowAgent("connector-1"))
}
