// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package wire

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQADRoundTrip(t *testing.T) {
	addr := netip.MustParseAddrPort("203.0.113.7:51820")
	encoded, err := EncodeQAD(addr)
	require.NoError(t, err)
	require.Len(t, encoded, qadFrameLen)

	decoded, err := DecodeQAD(encoded)
	require.NoError(t, err)
	assert.Equal(t, addr, decoded)

	reEncoded, err := EncodeQAD(decoded)
	require.NoError(t, err)
	assert.Equal(t, encoded, reEncoded)
}

func TestQADRejectsWrongLength(t *testing.T) {
	for _, n := range []int{0, 1, 6, 8, 20} {
		_, err := DecodeQAD(make([]byte, n))
		assert.ErrorIs(t, err, ErrMalformedQAD)
	}
}

func TestQADRejectsIPv6(t *testing.T) {
	addr := netip.MustParseAddrPort("[::1]:443")
	_, err := EncodeQAD(addr)
	assert.Error(t, err)
}
