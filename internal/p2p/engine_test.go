// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package p2p

import (
	"context"
	"io"
	"net/netip"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openztna/dataplane/internal/wire"
)

type fakeTransport struct {
	mu       sync.Mutex
	observed netip.AddrPort
	hosts    []netip.Addr
	sent     []sentProbe
}

type sentProbe struct {
	to   netip.AddrPort
	data []byte
}

func (f *fakeTransport) SendBindingProbe(to netip.AddrPort, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentProbe{to: to, data: data})
	return nil
}

func (f *fakeTransport) ObservedAddress() netip.AddrPort { return f.observed }

func (f *fakeTransport) LocalHostAddrs() ([]netip.Addr, error) { return f.hosts, nil }

func (f *fakeTransport) OpenSignalingStream(ctx context.Context) (io.ReadWriteCloser, error) {
	return nil, io.ErrClosedPipe
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		observed: netip.MustParseAddrPort("203.0.113.5:50000"),
		hosts:    []netip.Addr{netip.MustParseAddr("10.0.0.5")},
	}
}

func TestGatherCandidatesIncludesHostReflexiveAndRelay(t *testing.T) {
	ft := newFakeTransport()
	relay := netip.MustParseAddrPort("198.51.100.1:4433")
	candidates, err := GatherCandidates(ft, relay)
	require.NoError(t, err)

	var types []wire.CandidateType
	for _, c := range candidates {
		types = append(types, c.Type)
	}
	assert.Contains(t, types, wire.CandidateHost)
	assert.Contains(t, types, wire.CandidateServerReflexive)
	assert.Contains(t, types, wire.CandidateRelay)
}

func TestHandleInboundAnswersBindingRequest(t *testing.T) {
	ft := newFakeTransport()
	e := NewEngine(ft, netip.MustParseAddrPort("198.51.100.1:4433"), zerolog.Nop())

	from := netip.MustParseAddrPort("10.0.0.9:6000")
	req := wire.BindingRequest{TransactionID: wire.TransactionID{1, 2, 3}, Priority: 100}
	e.HandleInbound(from, wire.EncodeBindingRequest(req))

	ft.mu.Lock()
	defer ft.mu.Unlock()
	require.Len(t, ft.sent, 1)
	resp, err := wire.DecodeBindingResponse(ft.sent[0].data)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, req.TransactionID, resp.TransactionID)
}

func TestHandleInboundResolvesPendingPair(t *testing.T) {
	ft := newFakeTransport()
	e := NewEngine(ft, netip.MustParseAddrPort("198.51.100.1:4433"), zerolog.Nop())

	txID := wire.TransactionID{9, 9, 9}
	p := &pair{
		remote: wire.Candidate{IP: "10.0.0.9", Port: 6000, Foundation: "f1"},
		state:  PairInProgress,
	}
	p.transactionID = txID
	s := &session{
		id:    [16]byte{1},
		state: SessionPunching,
		pairs: []*pair{p},
	}
	e.mu.Lock()
	e.sessions[s.id] = s
	e.mu.Unlock()

	resp := wire.BindingResponse{TransactionID: txID, Success: true, MappedAddress: netip.MustParseAddrPort("10.0.0.9:6000")}
	buf, err := wire.EncodeBindingResponse(resp)
	require.NoError(t, err)
	e.HandleInbound(netip.MustParseAddrPort("10.0.0.9:6000"), buf)

	assert.Equal(t, PairSucceeded, p.state)
	assert.Same(t, p, s.nominated)
}

func TestSymmetricNATDropsServerReflexiveCandidates(t *testing.T) {
	candidates := []wire.Candidate{
		{Type: wire.CandidateHost},
		{Type: wire.CandidateServerReflexive},
		{Type: wire.CandidateRelay},
	}
	out := dropServerReflexive(candidates)
	for _, c := range out {
		assert.NotEqual(t, wire.CandidateServerReflexive, c.Type)
	}
	assert.Len(t, out, 2)
}
