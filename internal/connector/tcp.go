// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package connector

import (
	"crypto/rand"
	"encoding/binary"
	"net"
	"sync"
	"time"

	"github.com/google/gopacket/layers"

	"github.com/openztna/dataplane/internal/config"
	"github.com/openztna/dataplane/internal/support"
)

// tcpReadBufferSize bounds one backend TCP read; each read becomes one
// synthesized PSH+ACK segment, per §4.3's "no reordering" simplification.
const tcpReadBufferSize = 2048

// tcpFlow is the userspace proxy state for one tunneled TCP conversation.
// The Connector plays the server role of the synthesized TCP connection:
// clientISN is the Agent's initial sequence number (from its SYN) and
// serverISN is generated locally when the backend connect completes. ip,
// srcPort, dstPort are fixed for the flow's lifetime and used to address
// every reply segment without re-parsing a packet.
type tcpFlow struct {
	conn   net.Conn
	target replyTarget

	ip      layers.IPv4
	srcPort layers.TCPPort // Connector's port: the tunneled packet's destination port
	dstPort layers.TCPPort // Agent's port: the tunneled packet's source port

	mu             sync.Mutex
	clientISN      uint32
	serverISN      uint32
	bytesToAgent   uint32
	bytesFromAgent uint32
}

// seqAckLocked returns the sequence number for the Connector's next
// outbound byte and the ack it should carry. Caller holds f.mu.
func (f *tcpFlow) seqAckLocked() (seq, ack uint32) {
	return f.serverISN + 1 + f.bytesToAgent, f.clientISN + 1 + f.bytesFromAgent
}

// handleTCP dispatches one tunneled TCP segment to its flow, creating the
// flow on an unaccompanied SYN and tearing it down on RST.
func (c *Connector) handleTCP(target replyTarget, agentConnID string, d *decodedPacket, svc config.ServiceConfig, now time.Time) {
	key := flowKey{
		proto:          config.ProtoTCP,
		agentConnID:    agentConnID,
		agentSrcPort:   uint16(d.tcp.SrcPort),
		backendDstPort: uint16(d.tcp.DstPort),
	}

	entry, ok := c.flows.get(key)
	switch {
	case d.tcp.RST:
		if ok {
			entry.closeBackend()
			c.flows.remove(key)
		}
		return
	case d.tcp.SYN && !ok:
		c.startTCPFlow(target, key, d, svc, now)
		return
	case !ok:
		// ACK/FIN/data with no known flow: the flow already timed out or
		// was never opened. Nothing to forward to.
		return
	}

	c.flows.touch(key, now)
	entry.tcp.target = target

	if len(d.tcp.Payload) > 0 {
		c.forwardTCPPayload(entry.tcp, key, d.tcp.Payload)
	}
	if d.tcp.FIN {
		c.handleTCPFin(entry.tcp)
	}
}

func (c *Connector) startTCPFlow(target replyTarget, key flowKey, d *decodedPacket, svc config.ServiceConfig, now time.Time) {
	conn, err := net.DialTimeout("tcp", svc.Backend, 5*time.Second)
	if err != nil {
		rst, encErr := encodeTCPSegment(&d.ip4, d.tcp.DstPort, d.tcp.SrcPort, 0, d.tcp.Seq+1, tcpFlags{rst: true, ack: true}, nil)
		if encErr == nil {
			_ = target.SendDatagram(rst)
		}
		c.log.Warn().Err(err).Str("service_id", svc.ID).
			Bool("conn_refused", support.IsConnRefused(err)).
			Bool("dial_timeout", support.IsDialTimeout(err)).
			Msg("tcp backend dial failed")
		return
	}

	flow := &tcpFlow{
		conn:      conn,
		target:    target,
		ip:        d.ip4,
		srcPort:   d.tcp.DstPort,
		dstPort:   d.tcp.SrcPort,
		clientISN: d.tcp.Seq,
		serverISN: randomISN(),
	}
	entry := &flowEntry{key: key, lastUsed: now, tcp: flow}
	c.flows.put(entry)

	flow.mu.Lock()
	_, ack := flow.seqAckLocked()
	flow.mu.Unlock()

	// The SYN+ACK carries the ISN itself; the first data byte follows at ISN+1.
	synAck, err := encodeTCPSegment(&flow.ip, flow.srcPort, flow.dstPort, flow.serverISN, ack, tcpFlags{syn: true, ack: true}, nil)
	if err == nil {
		_ = target.SendDatagram(synAck)
	}

	go c.pumpTCPBackend(key, flow)
}

func (c *Connector) forwardTCPPayload(flow *tcpFlow, key flowKey, payload []byte) {
	if _, err := flow.conn.Write(payload); err != nil {
		c.flows.remove(key)
		return
	}

	flow.mu.Lock()
	flow.bytesFromAgent += uint32(len(payload))
	seq, ack := flow.seqAckLocked()
	flow.mu.Unlock()

	ackFrame, err := encodeTCPSegment(&flow.ip, flow.srcPort, flow.dstPort, seq, ack, tcpFlags{ack: true}, nil)
	if err != nil {
		return
	}
	_ = flow.target.SendDatagram(ackFrame)
}

func (c *Connector) handleTCPFin(flow *tcpFlow) {
	if tc, ok := flow.conn.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
	}

	flow.mu.Lock()
	flow.bytesFromAgent++ // FIN consumes one sequence number
	seq, ack := flow.seqAckLocked()
	flow.mu.Unlock()

	finAck, err := encodeTCPSegment(&flow.ip, flow.srcPort, flow.dstPort, seq, ack, tcpFlags{ack: true}, nil)
	if err == nil {
		_ = flow.target.SendDatagram(finAck)
	}
}

// pumpTCPBackend reads the backend's response stream, synthesizing one
// PSH+ACK segment per read, until the backend closes or the flow is
// reaped.
func (c *Connector) pumpTCPBackend(key flowKey, flow *tcpFlow) {
	buf := make([]byte, tcpReadBufferSize)
	for {
		n, err := flow.conn.Read(buf)
		if n > 0 {
			flow.mu.Lock()
			seq, ack := flow.seqAckLocked()
			flow.bytesToAgent += uint32(n)
			flow.mu.Unlock()

			seg, encErr := encodeTCPSegment(&flow.ip, flow.srcPort, flow.dstPort, seq, ack, tcpFlags{ack: true, psh: true}, buf[:n])
			if encErr == nil {
				if sendErr := flow.target.SendDatagram(seg); sendErr != nil {
					c.flows.remove(key)
					return
				}
			}
		}
		if err != nil {
			flow.mu.Lock()
			seq, ack := flow.seqAckLocked()
			flow.bytesToAgent++ // FIN consumes one sequence number
			flow.mu.Unlock()
			finAck, encErr := encodeTCPSegment(&flow.ip, flow.srcPort, flow.dstPort, seq, ack, tcpFlags{ack: true, fin: true}, nil)
			if encErr == nil {
				_ = flow.target.SendDatagram(finAck)
			}
			c.flows.remove(key)
			return
		}
	}
}

func randomISN() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 1
	}
	return binary.BigEndian.Uint32(b[:])
}
