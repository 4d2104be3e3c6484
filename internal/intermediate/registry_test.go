// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package intermediate

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegisterAgentTracksServiceSet(t *testing.T) {
	r := NewRegistry()
	r.Touch("agent-1", netip.MustParseAddrPort("10.0.0.1:4000"), RoleUnknown, time.Now())
	r.RegisterAgent("agent-1", "web-app")
	r.RegisterAgent("agent-1", "echo-service")

	require.True(t, r.AgentMayConsume("agent-1", "web-app"))
	require.True(t, r.AgentMayConsume("agent-1", "echo-service"))
	require.False(t, r.AgentMayConsume("agent-1", "other"))
}

func TestRegisterConnectorOverwritesAndReportsPrevious(t *testing.T) {
	r := NewRegistry()
	r.Touch("conn-a", netip.MustParseAddrPort("10.0.0.2:4000"), RoleUnknown, time.Now())
	r.Touch("conn-b", netip.MustParseAddrPort("10.0.0.3:4000"), RoleUnknown, time.Now())

	prev, overwritten := r.RegisterConnector("conn-a", "web-app")
	require.False(t, overwritten)
	require.Empty(t, prev)

	prev, overwritten = r.RegisterConnector("conn-b", "web-app")
	require.True(t, overwritten)
	require.Equal(t, "conn-a", prev)

	holder, ok := r.ConnectorFor("web-app")
	require.True(t, ok)
	require.Equal(t, "conn-b", holder)
}

func TestRegisterConnectorOverwriteCallback(t *testing.T) {
	r := NewRegistry()
	var gotService, gotOld, gotNew string
	r.OnConnectorOverwrite(func(serviceID, oldConnID, newConnID string) {
		gotService, gotOld, gotNew = serviceID, oldConnID, newConnID
	})
	r.RegisterConnector("conn-a", "svc")
	r.RegisterConnector("conn-b", "svc")

	require.Equal(t, "svc", gotService)
	require.Equal(t, "conn-a", gotOld)
	require.Equal(t, "conn-b", gotNew)
}

func TestConnectorCountReflectsDistinctServices(t *testing.T) {
	r := NewRegistry()
	r.RegisterConnector("conn-a", "svc-1")
	r.RegisterConnector("conn-b", "svc-2")
	require.Equal(t, 2, r.ConnectorCount())

	r.RegisterConnector("conn-c", "svc-1")
	require.Equal(t, 2, r.ConnectorCount())
}

func TestRemoveDropsConnectorSlotsAndAgentTargets(t *testing.T) {
	r := NewRegistry()
	r.Touch("agent-1", netip.MustParseAddrPort("10.0.0.1:1"), RoleAgent, time.Now())
	r.RegisterAgent("agent-1", "svc")
	r.RegisterConnector("conn-1", "svc")

	r.Remove("conn-1")
	_, ok := r.ConnectorFor("svc")
	require.False(t, ok)

	r.Remove("agent-1")
	require.False(t, r.AgentMayConsume("agent-1", "svc"))
	_, ok = r.Meta("agent-1")
	require.False(t, ok)
}

func TestReapIdleRemovesStaleConnectionsOnly(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	r.Touch("fresh", netip.MustParseAddrPort("10.0.0.1:1"), RoleAgent, now)
	r.Touch("stale", netip.MustParseAddrPort("10.0.0.2:1"), RoleAgent, now.Add(-time.Hour))

	expired := r.ReapIdle(now, time.Minute)
	require.ElementsMatch(t, []string{"stale"}, expired)

	_, ok := r.Meta("stale")
	require.False(t, ok)
	_, ok = r.Meta("fresh")
	require.True(t, ok)
}

func TestSetAuthorizedSANsRecordsSANsInMeta(t *testing.T) {
	r := NewRegistry()
	r.Touch("conn-1", netip.MustParseAddrPort("10.0.0.1:1"), RoleUnknown, time.Now())
	r.SetAuthorizedSANs("conn-1", []string{"web-app"})

	m, ok := r.Meta("conn-1")
	require.True(t, ok)
	require.Equal(t, []string{"web-app"}, m.AuthorizedSANs)
}
