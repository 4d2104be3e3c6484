// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

// Package metrics exposes the Prometheus counters/gauges backing scenario
// 5/6's "relay traffic counter stops increasing" and the P2P engine's
// best-effort PunchingResult reporting, grounded in cloudflared's own
// per-subsystem metrics packages (e.g. datagramsession/metrics.go).
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "ztna"

var (
	relayDatagramsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "relay",
		Name:      "datagrams_total",
		Help:      "Service-routed datagrams relayed by the Intermediate, by direction.",
	}, []string{"direction"})

	relayErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "relay",
		Name:      "errors_total",
		Help:      "Relay failures by kind (no_route, session_hijack, buffer_too_short).",
	}, []string{"kind"})

	directPathActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "path",
		Name:      "direct_active",
		Help:      "1 if a service's traffic is currently on the direct P2P path, 0 if on relay.",
	}, []string{"service_id"})

	punchOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "punch",
		Name:      "outcomes_total",
		Help:      "Hole-punch attempts by terminal outcome (direct, relay).",
	}, []string{"outcome"})

	registeredServices = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "registry",
		Name:      "connectors",
		Help:      "Services with a currently registered, authoritative Connector.",
	})

	sessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "signaling",
		Name:      "sessions_active",
		Help:      "Signaling sessions currently in AwaitingAnswer or Punching.",
	})
)

func init() {
	prometheus.MustRegister(
		relayDatagramsTotal,
		relayErrorsTotal,
		directPathActive,
		punchOutcomesTotal,
		registeredServices,
		sessionsActive,
	)
}

// Direction labels for RelayDatagram.
const (
	DirectionAgentToConnector = "agent_to_connector"
	DirectionConnectorToAgent = "connector_to_agent"
)

// RecordRelayDatagram increments the relay counter for one direction.
func RecordRelayDatagram(direction string) {
	relayDatagramsTotal.WithLabelValues(direction).Inc()
}

// RecordRelayError increments the relay-failure counter for one kind
// (support.ErrNoRoute, support.ErrSessionHijack, wire.ErrBufferTooShort).
func RecordRelayError(kind string) {
	relayErrorsTotal.WithLabelValues(kind).Inc()
}

// SetDirectPathActive reports whether serviceID's traffic currently rides
// the direct path (1) or the relay (0).
func SetDirectPathActive(serviceID string, active bool) {
	v := 0.0
	if active {
		v = 1.0
	}
	directPathActive.WithLabelValues(serviceID).Set(v)
}

// RecordPunchOutcome consumes a p2p.Outcome's terminal result.
func RecordPunchOutcome(success bool) {
	outcome := "relay"
	if success {
		outcome = "direct"
	}
	punchOutcomesTotal.WithLabelValues(outcome).Inc()
}

// SetRegisteredServices reports the registry's current Connector count.
func SetRegisteredServices(n int) { registeredServices.Set(float64(n)) }

// SetActiveSessions reports the session manager's in-flight session count.
func SetActiveSessions(n int) { sessionsActive.Set(float64(n)) }
