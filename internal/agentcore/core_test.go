// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package agentcore

import (
	"net/netip"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCore() *Core {
	local := netip.MustParseAddrPort("127.0.0.1:0")
	return New(local, zerolog.Nop())
}

func TestConnectRejectsEmptyHost(t *testing.T) {
	c := newTestCore()
	err := c.Connect("", 4433, nil)
	assert.ErrorIs(t, err, ErrInvalidAddress)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestRecvUnknownSourceReturnsNotConnected(t *testing.T) {
	c := newTestCore()
	from := netip.MustParseAddrPort("203.0.113.9:4433")
	err := c.Recv([]byte{0x01, 1, 2, 3, 4, 5, 6}, from)
	assert.ErrorIs(t, err, ErrNotConnected)
}

type recordingBindingHandler struct {
	from netip.AddrPort
	data []byte
}

func (h *recordingBindingHandler) HandleInbound(from netip.AddrPort, data []byte) {
	h.from = from
	h.data = data
}

func TestRecvRoutesBindingChecksToHandler(t *testing.T) {
	c := newTestCore()
	h := &recordingBindingHandler{}
	c.AttachBindingHandler(h)

	from := netip.MustParseAddrPort("203.0.113.9:4433")
	buf := []byte{'Z', 'B', 'C', '1', 0x01}
	require.NoError(t, c.Recv(buf, from))
	assert.Equal(t, from, h.from)
	assert.Equal(t, buf, h.data)
}

func TestRecvDropsBindingChecksWithoutHandler(t *testing.T) {
	c := newTestCore()
	from := netip.MustParseAddrPort("203.0.113.9:4433")
	buf := []byte{'Z', 'B', 'C', '1', 0x01}
	assert.NoError(t, c.Recv(buf, from))
}

func TestPollReturnsNoDataWhenIdle(t *testing.T) {
	c := newTestCore()
	_, _, err := c.Poll()
	assert.ErrorIs(t, err, ErrNoData)
}

func TestSendDatagramBuffersBeforeHandshake(t *testing.T) {
	c := newTestCore()
	c.AddRoute(netip.MustParseAddr("10.100.0.1"), "echo-service")

	packet := buildIPv4UDPPacket(t, "10.0.0.5", "10.100.0.1", []byte("ZTNA-DEMO"))
	require.NoError(t, c.SendDatagram(packet))

	c.mu.Lock()
	pendingLen := len(c.pending)
	c.mu.Unlock()
	assert.Equal(t, 1, pendingLen)
}

func TestSendDatagramNoRouteForUnknownVIP(t *testing.T) {
	c := newTestCore()
	packet := buildIPv4UDPPacket(t, "10.0.0.5", "10.100.0.9", []byte("x"))
	err := c.SendDatagram(packet)
	assert.ErrorIs(t, err, ErrNoRouteForVIP)
}

func TestSendDatagramP2PUnknownPeer(t *testing.T) {
	c := newTestCore()
	peer := netip.MustParseAddrPort("198.51.100.2:4434")
	err := c.SendDatagramP2P([]byte("payload"), peer)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestTimeoutMSReturnsMinusOneWithNoSources(t *testing.T) {
	c := newTestCore()
	assert.Equal(t, int64(-1), c.TimeoutMS())
}

func TestRegisterBuffersBeforeHandshake(t *testing.T) {
	c := newTestCore()
	require.NoError(t, c.Register("echo-service"))
	c.mu.Lock()
	pendingLen := len(c.pending)
	c.mu.Unlock()
	assert.Equal(t, 1, pendingLen)
}

// buildIPv4UDPPacket constructs a minimal, checksum-agnostic IPv4 header
// with the given source/destination for routing-table lookup tests.
func buildIPv4UDPPacket(t *testing.T, src, dst string, payload []byte) []byte {
	t.Helper()
	srcIP := netip.MustParseAddr(src).As4()
	dstIP := netip.MustParseAddr(dst).As4()
	header := make([]byte, 20)
	header[0] = 0x45
	header[9] = 17 // UDP
	copy(header[12:16], srcIP[:])
	copy(header[16:20], dstIP[:])
	return append(header, payload...)
}
