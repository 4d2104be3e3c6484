// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package connector

import (
	"net"
	"time"

	"github.com/google/gopacket/layers"

	"github.com/openztna/dataplane/internal/config"
	"github.com/openztna/dataplane/internal/support"
)

// udpReadBufferSize bounds one backend UDP datagram; Connector traffic
// rides inside QUIC DATAGRAMs already bounded by wire.EffectiveMaxDatagramPayload.
const udpReadBufferSize = 2048

// replyTarget is the QUIC connection a flow's return traffic is written
// back to: the single Intermediate relay connection, or one accepted
// direct P2P connection. *quic.Conn satisfies it directly.
type replyTarget interface {
	SendDatagram([]byte) error
}

type udpFlow struct {
	conn   *net.UDPConn
	target replyTarget
}

// handleUDP decapsulates one tunneled UDP packet, forwarding its payload to
// the configured backend over a per-flow UDP socket reused for the life of
// the flow, and starts that flow's backend-to-tunnel return loop on first
// use.
func (c *Connector) handleUDP(target replyTarget, agentConnID string, d *decodedPacket, svc config.ServiceConfig, now time.Time) {
	key := flowKey{
		proto:          config.ProtoUDP,
		agentConnID:    agentConnID,
		agentSrcPort:   uint16(d.udp.SrcPort),
		backendDstPort: uint16(d.udp.DstPort),
	}

	entry, ok := c.flows.get(key)
	if !ok {
		backendConn, err := net.Dial("udp", svc.Backend)
		if err != nil {
			c.log.Warn().Err(err).Str("service_id", svc.ID).Bool("dial_timeout", support.IsDialTimeout(err)).Msg("udp backend dial failed")
			if unreach, encErr := encodeICMPDestUnreachable(&d.ip4, &d.udp); encErr == nil {
				_ = target.SendDatagram(unreach)
			}
			return
		}
		uc, ok := backendConn.(*net.UDPConn)
		if !ok {
			_ = backendConn.Close()
			c.log.Warn().Str("service_id", svc.ID).Msg("udp backend dial returned non-UDP connection")
			return
		}
		entry = &flowEntry{key: key, lastUsed: now, udp: &udpFlow{conn: uc, target: target}}
		c.flows.put(entry)
		go c.pumpUDPBackend(key, entry.udp, d.ip4)
	} else {
		entry.udp.target = target
		c.flows.touch(key, now)
	}

	if _, err := entry.udp.conn.Write(d.udp.Payload); err != nil && !support.IsBenignCopyError(err) {
		c.log.Warn().Err(err).Str("service_id", svc.ID).Msg("udp backend write failed")
	}
}

// pumpUDPBackend reads the backend's responses for the life of one flow,
// re-encapsulating each as a source/destination-swapped IPv4+UDP packet and
// sending it back through the flow's current reply target.
func (c *Connector) pumpUDPBackend(key flowKey, flow *udpFlow, originalIP layers.IPv4) {
	buf := make([]byte, udpReadBufferSize)
	for {
		n, err := flow.conn.Read(buf)
		if err != nil {
			c.flows.remove(key)
			return
		}
		reply, err := encodeUDPReply(&originalIP, key.backendDstPort, key.agentSrcPort, buf[:n])
		if err != nil {
			c.log.Warn().Err(err).Msg("encode udp reply failed")
			continue
		}
		if err := flow.target.SendDatagram(reply); err != nil {
			c.log.Debug().Err(err).Msg("send udp reply datagram failed")
			return
		}
	}
}
