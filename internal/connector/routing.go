// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package connector

import (
	"fmt"

	"github.com/openztna/dataplane/internal/config"
)

// routeKey demultiplexes a decapsulated packet to a configured service. The
// relay path strips the 0x2F wrapper's service id before the Connector ever
// sees the packet (§4.2), and a direct P2P connection carries exactly one
// session's traffic without any such wrapper either; in both cases the
// Connector recovers the service purely from the tunneled packet's own
// protocol and destination port, which is why the demo scenarios always
// line up a service's virtual-IP port with its backend port.
type routeKey struct {
	proto string
	port  uint16
}

// RoutingTable maps {protocol, destination port} to the service configured
// to handle it. icmp-local services key on protocol alone (port 0) since
// ICMP carries no port.
type RoutingTable struct {
	byKey map[routeKey]config.ServiceConfig
}

// NewRoutingTable builds a table from the Connector's validated service
// list; ValidateConnectorConfig must have already run.
func NewRoutingTable(services []config.ServiceConfig) (*RoutingTable, error) {
	t := &RoutingTable{byKey: make(map[routeKey]config.ServiceConfig, len(services))}
	for _, svc := range services {
		key, err := keyFor(svc)
		if err != nil {
			return nil, err
		}
		if existing, ok := t.byKey[key]; ok {
			return nil, fmt.Errorf("connector: services %q and %q both claim protocol=%s port=%d", existing.ID, svc.ID, key.proto, key.port)
		}
		t.byKey[key] = svc
	}
	return t, nil
}

func keyFor(svc config.ServiceConfig) (routeKey, error) {
	switch svc.Proto {
	case config.ProtoICMPLocal:
		return routeKey{proto: config.ProtoICMPLocal}, nil
	case config.ProtoUDP, config.ProtoTCP:
		port, err := config.ResolveBackendPort(svc.Backend)
		if err != nil {
			return routeKey{}, fmt.Errorf("connector: service %q: %w", svc.ID, err)
		}
		return routeKey{proto: svc.Proto, port: port}, nil
	default:
		return routeKey{}, fmt.Errorf("connector: service %q: unsupported protocol %q", svc.ID, svc.Proto)
	}
}

// Lookup resolves the service configured for proto/port, if any.
func (t *RoutingTable) Lookup(proto string, port uint16) (config.ServiceConfig, bool) {
	svc, ok := t.byKey[routeKey{proto: proto, port: port}]
	return svc, ok
}

// ICMPService reports the icmp-local service, if one is configured.
func (t *RoutingTable) ICMPService() (config.ServiceConfig, bool) {
	svc, ok := t.byKey[routeKey{proto: config.ProtoICMPLocal}]
	return svc, ok
}

// ServiceIDs lists every service id the table knows, used to issue
// Connector registrations at startup and on reconnect. ValidateConnectorConfig
// already rejects duplicate ids, so each appears at most once here.
func (t *RoutingTable) ServiceIDs() []string {
	ids := make([]string, 0, len(t.byKey))
	for _, svc := range t.byKey {
		ids = append(ids, svc.ID)
	}
	return ids
}
