// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package p2p

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNATTrackerDetectsSymmetricNAT(t *testing.T) {
	tr := newNATTracker()
	assert.False(t, tr.symmetric())

	tr.observe(netip.MustParseAddrPort("203.0.113.1:40000"))
	tr.observe(netip.MustParseAddrPort("203.0.113.1:40001"))
	assert.False(t, tr.symmetric(), "window not full yet")

	tr.observe(netip.MustParseAddrPort("203.0.113.1:40002"))
	assert.True(t, tr.symmetric())
}

func TestNATTrackerStableNAT(t *testing.T) {
	tr := newNATTracker()
	for i := 0; i < 5; i++ {
		tr.observe(netip.MustParseAddrPort("203.0.113.1:40000"))
	}
	assert.False(t, tr.symmetric())
}
